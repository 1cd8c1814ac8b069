package output

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/db"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/packet"
	"github.com/banshee-data/sigcap/internal/srzip"
)

var cborFormat = &Format{
	Name:        "cbor",
	Description: "CBOR packet stream, readable by the cbor input format",
	New: func(p Params) (Output, error) {
		return &cborOutput{view: newView(p.Device)}, nil
	},
}

// cborOutput writes the stream magic and a device record before the first
// packet, then one record per packet.
type cborOutput struct {
	*view
	started bool
}

// DeviceRecord describes d for the head of a CBOR stream.
func DeviceRecord(d *device.Device) packet.Record {
	info := d.Info()
	r := packet.Record{Kind: packet.RecordDevice, Vendor: info.Vendor, Model: info.Model}
	if rate := d.SampleRate(); rate > 0 {
		r.Config = [][2]string{{config.KeySampleRate.Identifier(), strconv.FormatInt(rate, 10)}}
	}
	for _, ch := range d.Channels() {
		r.Channels = append(r.Channels, packet.ChannelRecord{
			Name:    ch.Name,
			Analog:  ch.Type == device.ChannelAnalog,
			Enabled: ch.Enabled,
		})
	}
	return r
}

func (c *cborOutput) Receive(p *packet.Packet) ([]byte, error) {
	c.observe(p)
	if p.Kind == packet.KindAnalog && c.analogIndex(p.Analog.Channel) < 0 {
		return nil, nil
	}
	var out bytes.Buffer
	if !c.started {
		head, err := packet.MarshalRecord(DeviceRecord(c.dev))
		if err != nil {
			return nil, err
		}
		out.Write(packet.StreamMagic)
		out.Write(head)
		c.started = true
	}
	rec, err := packet.MarshalRecord(packet.ToRecord(p))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s packet: %w", p.Kind, err)
	}
	out.Write(rec)
	return out.Bytes(), nil
}

func (c *cborOutput) Finish() ([]byte, error) { return nil, nil }

var srzipFormat = &Format{
	Name:        "srzip",
	Description: "Zip session container, loadable with -i",
	WritesFile:  true,
	New:         newSrzip,
}

// srzipOutput stores logic and enabled analog channels in a container. The
// file is created on the first packet so a failed run leaves nothing behind.
type srzipOutput struct {
	*view
	path string
	meta srzip.Metadata
	w    *srzip.Writer
}

func newSrzip(p Params) (Output, error) {
	info := p.Device.Info()
	meta := srzip.Metadata{
		Session:    p.Session,
		Created:    time.Now().UTC(),
		Driver:     p.Device.Driver().Name(),
		Vendor:     info.Vendor,
		Model:      info.Model,
		Version:    info.Version,
		Conn:       info.Conn,
		SampleRate: p.Device.SampleRate(),
	}
	for _, ch := range p.Device.Channels() {
		meta.Channels = append(meta.Channels, srzip.Channel{
			Index: ch.Index, Name: ch.Name, Type: ch.Type.String(), Enabled: ch.Enabled,
		})
	}
	return &srzipOutput{view: newView(p.Device), path: p.Path, meta: meta}, nil
}

func (s *srzipOutput) Receive(p *packet.Packet) ([]byte, error) {
	s.observe(p)
	if s.w == nil {
		w, err := srzip.Create(s.path, s.meta)
		if err != nil {
			return nil, err
		}
		s.w = w
	}
	switch p.Kind {
	case packet.KindMeta:
		if rate, ok := p.Meta.SampleRate(); ok {
			s.w.SetSampleRate(rate)
		}
	case packet.KindLogic:
		if len(s.logic) > 0 {
			return nil, s.w.WriteLogic(p.Logic.UnitSize, p.Logic.Data)
		}
	case packet.KindAnalog:
		if s.analogIndex(p.Analog.Channel) >= 0 {
			return nil, s.w.WriteAnalog(p.Analog.Channel, p.Analog.Data)
		}
	}
	return nil, nil
}

func (s *srzipOutput) Finish() ([]byte, error) {
	if s.w == nil {
		return nil, nil
	}
	return nil, s.w.Close()
}

var sqliteFormat = &Format{
	Name:        "sqlite",
	Description: "SQLite capture database, loadable with -i",
	WritesFile:  true,
	New:         newSQLite,
}

// sqliteOutput appends the run as one capture of the database at Path,
// creating it when missing.
type sqliteOutput struct {
	*view
	db *db.DB
	w  *db.Writer
}

func newSQLite(p Params) (Output, error) {
	store, err := db.Open(p.Path)
	if err != nil {
		return nil, err
	}
	info := p.Device.Info()
	c := db.Capture{
		ID:         p.Session,
		Driver:     p.Device.Driver().Name(),
		Vendor:     info.Vendor,
		Model:      info.Model,
		Version:    info.Version,
		Conn:       info.Conn,
		SampleRate: p.Device.SampleRate(),
	}
	if c.ID == "" {
		c.ID = time.Now().UTC().Format(time.RFC3339Nano)
	}
	for _, ch := range p.Device.Channels() {
		c.Channels = append(c.Channels, db.Channel{
			Index: ch.Index, Name: ch.Name, Type: ch.Type.String(), Enabled: ch.Enabled,
		})
	}
	w, err := store.NewCapture(c)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &sqliteOutput{view: newView(p.Device), db: store, w: w}, nil
}

func (s *sqliteOutput) Receive(p *packet.Packet) ([]byte, error) {
	if p.Kind == packet.KindAnalog && s.analogIndex(p.Analog.Channel) < 0 {
		return nil, nil
	}
	return nil, s.w.Write(p)
}

func (s *sqliteOutput) Finish() ([]byte, error) {
	err := s.w.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return nil, err
}
