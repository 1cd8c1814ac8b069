package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/db"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/metrics"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
	"github.com/banshee-data/sigcap/internal/srzip"
)

// ErrFormatMismatch is returned by Load for files that are not saved
// sessions. Callers fall back to decoding the file as a raw capture.
var ErrFormatMismatch = errors.New("not a session file")

// headLen covers the longest magic Load recognises.
const headLen = 16

var sessionDriver = device.VirtualDriver{ID: "session", Description: "Saved session file"}

// Load opens a saved session: an srzip container or a sigcap capture
// database. The session holds one open device that replays the stored
// packets when the session starts.
func Load(path string, m *metrics.Run) (*Session, error) {
	head, err := readHead(path)
	if err != nil {
		return nil, err
	}
	var d *device.Device
	switch {
	case srzip.IsContainer(head):
		d, err = loadContainer(path)
	case db.IsDatabase(head):
		d, err = loadDatabase(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormatMismatch, path)
	}
	if err != nil {
		return nil, err
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	s := New(m)
	if err := s.AddDevice(d); err != nil {
		d.Close()
		return nil, err
	}
	monitoring.Infof("loaded session %s: %s", path, d)
	return s, nil
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, headLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head[:n], nil
}

// loadedDevice builds the device of a saved session. Analog channels keep
// the index they were captured with so stored analog packets still match.
func loadedDevice(info device.Info, rate int64, ops device.Operations) *device.Device {
	d := device.New(sessionDriver, info, ops)
	d.Config().Define(config.KeySampleRate, device.Entry{Caps: config.CapGet, Value: config.IntValue(rate)})
	return d
}

func addChannel(d *device.Device, typ, name string, enabled bool) {
	t := device.ChannelLogic
	if typ == device.ChannelAnalog.String() {
		t = device.ChannelAnalog
	}
	d.AddChannel(t, name).Enabled = enabled
}

// archiveOps replays an srzip container.
type archiveOps struct {
	archive *srzip.Archive
}

func loadContainer(path string) (*device.Device, error) {
	a, err := srzip.Open(path)
	if err != nil {
		if errors.Is(err, srzip.ErrNotContainer) {
			return nil, fmt.Errorf("%w: %v", ErrFormatMismatch, err)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", path, err)
	}
	meta := a.Meta
	d := loadedDevice(device.Info{
		Vendor:  meta.Vendor,
		Model:   meta.Model,
		Version: meta.Version,
		Conn:    meta.Conn,
	}, meta.SampleRate, &archiveOps{archive: a})
	for _, ch := range meta.Channels {
		addChannel(d, ch.Type, ch.Name, ch.Enabled)
	}
	return d, nil
}

func (o *archiveOps) Open(*device.Device) error { return nil }

func (o *archiveOps) Close(*device.Device) error { return o.archive.Close() }

func (o *archiveOps) Acquire(ctx context.Context, d *device.Device, emit packet.Emit) error {
	return o.archive.Packets(func(p *packet.Packet) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(p)
	})
}

// captureOps replays the latest capture of a sigcap database.
type captureOps struct {
	db *db.DB
	id string
}

func loadDatabase(path string) (*device.Device, error) {
	store, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	c, err := latestCapture(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load session %s: %w", path, err)
	}
	d := loadedDevice(device.Info{
		Vendor:  c.Vendor,
		Model:   c.Model,
		Version: c.Version,
		Conn:    c.Conn,
	}, c.SampleRate, &captureOps{db: store, id: c.ID})
	for _, ch := range c.Channels {
		addChannel(d, ch.Type, ch.Name, ch.Enabled)
	}
	monitoring.Debugf("capture %s: %d packets, %d samples", c.ID, c.PacketCount, c.SampleCount)
	return d, nil
}

// latestCapture refuses databases that were not written by sigcap rather
// than migrating someone else's file.
func latestCapture(store *db.DB) (db.Capture, error) {
	var n int
	err := store.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'captures'`).Scan(&n)
	if err != nil {
		return db.Capture{}, err
	}
	if n == 0 {
		return db.Capture{}, fmt.Errorf("%w: no capture table", ErrFormatMismatch)
	}
	return store.LatestCapture()
}

func (o *captureOps) Open(*device.Device) error { return nil }

func (o *captureOps) Close(*device.Device) error { return o.db.Close() }

func (o *captureOps) Acquire(ctx context.Context, d *device.Device, emit packet.Emit) error {
	return o.db.Packets(ctx, o.id, func(p *packet.Packet) error {
		switch p.Kind {
		case packet.KindHeader, packet.KindEnd:
			// The session frames the feed.
			return nil
		}
		return emit(p)
	})
}
