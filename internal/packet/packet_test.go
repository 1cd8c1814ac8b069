package packet

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sigcap/internal/config"
)

func TestLogic_SampleAndBit(t *testing.T) {
	l := &Logic{UnitSize: 2, Data: []byte{0x01, 0x80, 0xff, 0x00}}
	assert.Equal(t, 2, l.Samples())
	assert.Equal(t, uint64(0x8001), l.Sample(0))
	assert.Equal(t, uint64(0x00ff), l.Sample(1))
	assert.True(t, l.Bit(0, 0))
	assert.False(t, l.Bit(0, 1))
	assert.True(t, l.Bit(0, 15))
	assert.False(t, l.Bit(1, 8))
	assert.False(t, l.Bit(0, 16), "channel past the unit is low")
}

func TestUnitSizeFor(t *testing.T) {
	tests := map[int]int{0: 1, 1: 1, 8: 1, 9: 2, 16: 2, 17: 3}
	for n, want := range tests {
		if got := UnitSizeFor(n); got != want {
			t.Errorf("UnitSizeFor(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestMeta_SampleRate(t *testing.T) {
	rate, ok := NewSampleRate(1000).Meta.SampleRate()
	assert.True(t, ok)
	assert.Equal(t, int64(1000), rate)

	_, ok = NewMeta(nil).Meta.SampleRate()
	assert.False(t, ok)
}

// TestRecord_Packets tests that every packet kind survives the CBOR record
// encoding used by the cbor format.
func TestRecord_Packets(t *testing.T) {
	start := time.Unix(1700000000, 123)
	packets := []*Packet{
		NewHeader(start),
		NewSampleRate(250000),
		NewFrameBegin(),
		NewLogic(1, []byte{1, 2, 3}),
		NewTrigger(),
		NewAnalog(3, []float32{0.5, -1.25}, "voltage", "V"),
		NewFrameEnd(),
		NewEnd(),
	}
	var stream []byte
	for _, p := range packets {
		b, err := MarshalRecord(ToRecord(p))
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	var got []*Packet
	for len(stream) > 0 {
		r, rest, err := UnmarshalFirst(stream)
		require.NoError(t, err)
		p, err := r.Packet()
		require.NoError(t, err)
		got = append(got, p)
		stream = rest
	}

	opts := cmp.Options{
		cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) }),
		cmp.AllowUnexported(config.Value{}),
	}
	if diff := cmp.Diff(packets, got, opts); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalFirst_Partial(t *testing.T) {
	b, err := MarshalRecord(ToRecord(NewLogic(1, []byte{1, 2, 3, 4})))
	require.NoError(t, err)
	_, rest, err := UnmarshalFirst(b[:len(b)-2])
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
	assert.Len(t, rest, len(b)-2)
}

func TestRecord_Bad(t *testing.T) {
	_, err := Record{Kind: KindLogic}.Packet()
	assert.ErrorIs(t, err, ErrBadRecord)
	_, err = Record{Kind: RecordDevice}.Packet()
	assert.ErrorIs(t, err, ErrBadRecord)
	_, err = Record{Kind: KindMeta, Config: [][2]string{{"nope", "1"}}}.Packet()
	assert.ErrorIs(t, err, ErrBadRecord)
}
