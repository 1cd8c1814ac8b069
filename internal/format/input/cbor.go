package input

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/packet"
)

var cborFormat = &Format{
	Name:        "cbor",
	Description: "CBOR packet stream written by the cbor output format",
	Detect:      func(head []byte) bool { return bytes.HasPrefix(head, packet.StreamMagic) },
	New:         func(config.Options) (Input, error) { return &cborInput{}, nil },
}

// cborInput decodes a record stream. The device is known once the leading
// device record has been decoded.
type cborInput struct {
	queue
	buf     []byte
	magic   bool
	records int
}

func (c *cborInput) Send(chunk []byte) error {
	c.buf = append(c.buf, chunk...)
	if !c.magic {
		if len(c.buf) < len(packet.StreamMagic) {
			return nil
		}
		if !bytes.HasPrefix(c.buf, packet.StreamMagic) {
			return fmt.Errorf("cbor: missing stream magic")
		}
		c.buf = c.buf[len(packet.StreamMagic):]
		c.magic = true
	}
	for len(c.buf) > 0 {
		rec, rest, err := packet.UnmarshalFirst(c.buf)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("cbor: record %d: %w", c.records, err)
		}
		c.records++
		c.buf = rest
		if err := c.record(rec); err != nil {
			return err
		}
	}
	c.buf = append([]byte(nil), c.buf...)
	return nil
}

func (c *cborInput) record(rec packet.Record) error {
	if c.dev == nil {
		if rec.Kind != packet.RecordDevice {
			return fmt.Errorf("cbor: stream does not start with a device record")
		}
		c.dev = newDevice("cbor", device.Info{Vendor: rec.Vendor, Model: rec.Model}, 0)
		for _, ch := range rec.Channels {
			typ := device.ChannelLogic
			if ch.Analog {
				typ = device.ChannelAnalog
			}
			c.dev.AddChannel(typ, ch.Name).Enabled = ch.Enabled
		}
		for _, kv := range rec.Config {
			opt, err := config.Pair{Identifier: kv[0], Raw: kv[1]}.Resolve()
			if err == nil && opt.Key == config.KeySampleRate {
				c.dev.Config().Update(config.KeySampleRate, opt.Value)
			}
		}
		return nil
	}
	switch rec.Kind {
	case packet.KindHeader, packet.KindEnd:
		// The replaying session frames the feed itself.
		return nil
	}
	p, err := rec.Packet()
	if err != nil {
		return fmt.Errorf("cbor: record %d: %w", c.records, err)
	}
	if p.Kind == packet.KindMeta {
		if rate, ok := p.Meta.SampleRate(); ok {
			c.dev.Config().Update(config.KeySampleRate, config.IntValue(rate))
		}
	}
	c.push(p)
	return nil
}

func (c *cborInput) End() error {
	if len(c.buf) > 0 {
		return fmt.Errorf("cbor: %d bytes of truncated record at end of stream: %w", len(c.buf), io.ErrUnexpectedEOF)
	}
	return nil
}
