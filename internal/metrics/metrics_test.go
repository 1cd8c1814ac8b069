package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sigcap/internal/packet"
)

func TestObservePacket(t *testing.T) {
	r := New()
	r.ObservePacket(packet.NewHeader(time.Unix(0, 0)))
	r.ObservePacket(packet.NewLogic(2, make([]byte, 10)))
	r.ObservePacket(packet.NewLogic(1, make([]byte, 3)))
	r.ObservePacket(packet.NewAnalog(0, []float32{1, 2}, "", ""))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.packets.WithLabelValues("logic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.packets.WithLabelValues("header")))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.samples.WithLabelValues("logic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.samples.WithLabelValues("analog")))
}

func TestNilRun(t *testing.T) {
	var r *Run
	r.ObservePacket(packet.NewEnd())
	r.AddBytes(10)
	r.AddChunk()
	r.ObserveScan("demo", 1)
	assert.NoError(t, r.WriteText(&strings.Builder{}))
}

func TestWriteFile(t *testing.T) {
	r := New()
	r.AddBytes(4096)
	r.AddBytes(-1)
	r.AddChunk()
	r.AddChunk()
	r.ObserveScan("demo", 1)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, r.WriteFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, "# TYPE sigcap_output_bytes_written_total counter")
	assert.Contains(t, text, "sigcap_output_bytes_written_total 4096")
	assert.Contains(t, text, "sigcap_input_chunks_total 2")
	assert.Contains(t, text, `sigcap_driver_devices_found_total{driver="demo"} 1`)
}
