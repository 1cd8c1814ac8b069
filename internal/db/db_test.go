package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sigcap/internal/packet"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db, _ := openTestDB(t)
	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, latest, version)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
}

func TestIsDatabaseFile(t *testing.T) {
	_, path := openTestDB(t)
	ok, err := IsDatabaseFile(path)
	require.NoError(t, err)
	assert.True(t, ok)

	other := filepath.Join(t.TempDir(), "raw.bin")
	require.NoError(t, os.WriteFile(other, []byte("PK\x03\x04junk"), 0o644))
	ok, err = IsDatabaseFile(other)
	require.NoError(t, err)
	assert.False(t, ok)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	ok, err = IsDatabaseFile(empty)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCaptureRoundTrip tests that stored packets come back in order with
// header and end packets left out.
func TestCaptureRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)

	w, err := db.NewCapture(Capture{
		ID:     "c1",
		Driver: "demo",
		Vendor: "sigcap",
		Model:  "Demo device",
		Channels: []Channel{
			{Index: 0, Name: "D0", Type: "logic", Enabled: true},
			{Index: 1, Name: "D1", Type: "logic", Enabled: false},
			{Index: 2, Name: "A0", Type: "analog", Enabled: true},
		},
	})
	require.NoError(t, err)

	feed := []*packet.Packet{
		packet.NewHeader(time.Unix(100, 0)),
		packet.NewSampleRate(1000),
		packet.NewLogic(1, []byte{0x01, 0x02, 0x03}),
		packet.NewTrigger(),
		packet.NewAnalog(2, []float32{0.5, -0.5}, "voltage", "V"),
		packet.NewEnd(),
	}
	for _, p := range feed {
		require.NoError(t, w.Write(p))
	}
	require.NoError(t, w.Close())

	c, err := db.LatestCapture()
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, int64(1000), c.SampleRate)
	assert.Equal(t, 1, c.UnitSize)
	assert.Equal(t, int64(4), c.PacketCount)
	assert.Equal(t, int64(3), c.SampleCount)
	assert.False(t, c.EndedAt.IsZero())
	require.Len(t, c.Channels, 3)
	assert.Equal(t, Channel{Index: 1, Name: "D1", Type: "logic"}, c.Channels[1])

	var got []*packet.Packet
	require.NoError(t, db.Packets(context.Background(), "c1", func(p *packet.Packet) error {
		got = append(got, p)
		return nil
	}))
	if diff := cmp.Diff(feed[1:5], got, cmp.Comparer(func(a, b *packet.Packet) bool {
		return a.String() == b.String()
	})); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float32{0.5, -0.5}, got[3].Analog.Data)
}

func TestCaptures_Order(t *testing.T) {
	db, _ := openTestDB(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"b", "a"} {
		w, err := db.NewCapture(Capture{ID: id, Driver: "demo", CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	list, err := db.Captures()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	latest, err := db.LatestCapture()
	require.NoError(t, err)
	assert.Equal(t, "a", latest.ID)
}

func TestAbort(t *testing.T) {
	db, _ := openTestDB(t)
	w, err := db.NewCapture(Capture{ID: "gone", Driver: "demo"})
	require.NoError(t, err)
	require.NoError(t, w.Write(packet.NewTrigger()))
	require.NoError(t, w.Abort())

	_, err = db.LatestCapture()
	assert.True(t, errors.Is(err, ErrNoCapture))
	_, err = db.Capture("gone")
	assert.True(t, errors.Is(err, ErrNoCapture))
}
