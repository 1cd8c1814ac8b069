package input

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

const (
	pcapHeaderLen = 24
	pcapRecordLen = 16
)

var pcapFormat = &Format{
	Name:        "pcap",
	Description: "UDP payloads of a pcap capture as logic samples",
	Options:     []config.Key{config.KeyNumChannels, config.KeySampleRate, config.KeyUDPPort},
	Detect:      func(head []byte) bool { _, ok := pcapByteOrder(head); return ok },
	New:         newPcap,
}

// pcapByteOrder recognises the microsecond and nanosecond pcap magics in
// either byte order.
func pcapByteOrder(head []byte) (binary.ByteOrder, bool) {
	if len(head) < 4 {
		return nil, false
	}
	switch binary.LittleEndian.Uint32(head) {
	case 0xa1b2c3d4, 0xa1b23c4d:
		return binary.LittleEndian, true
	}
	switch binary.BigEndian.Uint32(head) {
	case 0xa1b2c3d4, 0xa1b23c4d:
		return binary.BigEndian, true
	}
	return nil, false
}

// pcapInput splits the stream into whole records before handing each to a
// pcapgo reader, so chunk boundaries never tear a record. The device is
// known once the global header has been read.
type pcapInput struct {
	queue
	channels int
	unitSize int
	rate     int64
	port     int

	pending []byte
	order   binary.ByteOrder
	feed    bytes.Buffer
	reader  *pcapgo.Reader

	records, payloads int
}

func newPcap(opts config.Options) (Input, error) {
	n := int(opts.Int(config.KeyNumChannels, defaultBinaryChannels))
	if n < 1 || n > 64 {
		return nil, fmt.Errorf("%w: numchannels must be between 1 and 64, got %d", config.ErrInvalidValue, n)
	}
	port := int(opts.Int(config.KeyUDPPort, 0))
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: udp_port out of range: %d", config.ErrInvalidValue, port)
	}
	return &pcapInput{
		channels: n,
		unitSize: packet.UnitSizeFor(n),
		rate:     opts.Int(config.KeySampleRate, 0),
		port:     port,
	}, nil
}

func (p *pcapInput) Send(chunk []byte) error {
	p.pending = append(p.pending, chunk...)
	if p.reader == nil {
		if len(p.pending) < pcapHeaderLen {
			return nil
		}
		order, ok := pcapByteOrder(p.pending)
		if !ok {
			return fmt.Errorf("pcap: bad magic % x", p.pending[:4])
		}
		p.order = order
		p.feed.Write(p.pending[:pcapHeaderLen])
		r, err := pcapgo.NewReader(&p.feed)
		if err != nil {
			return fmt.Errorf("pcap: %w", err)
		}
		p.reader = r
		p.pending = p.pending[pcapHeaderLen:]
		monitoring.Debugf("pcap: link type %s, snaplen %d", r.LinkType(), r.Snaplen())

		p.dev = newDevice("pcap", device.Info{Model: "pcap capture"}, 0)
		for i := 0; i < p.channels; i++ {
			p.dev.AddChannel(device.ChannelLogic, fmt.Sprintf("D%d", i))
		}
		p.setRate(p.rate)
	}
	for len(p.pending) >= pcapRecordLen {
		size := pcapRecordLen + int(p.order.Uint32(p.pending[8:12]))
		if len(p.pending) < size {
			break
		}
		p.feed.Write(p.pending[:size])
		p.pending = p.pending[size:]
		if err := p.next(); err != nil {
			return err
		}
	}
	p.pending = append([]byte(nil), p.pending...)
	return nil
}

// next decodes the record just written to the feed.
func (p *pcapInput) next() error {
	data, _, err := p.reader.ReadPacketData()
	if err != nil {
		return fmt.Errorf("pcap: record %d: %w", p.records+1, err)
	}
	p.records++
	pkt := gopacket.NewPacket(data, p.reader.LinkType(), gopacket.Default)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil
	}
	if p.port != 0 && int(udp.DstPort) != p.port {
		return nil
	}
	payload := udp.Payload
	whole := len(payload) - len(payload)%p.unitSize
	if whole == 0 {
		return nil
	}
	p.payloads++
	p.push(packet.NewLogic(p.unitSize, append([]byte(nil), payload[:whole]...)))
	return nil
}

func (p *pcapInput) End() error {
	if len(p.pending) > 0 {
		monitoring.Warnf("pcap: dropping %d bytes of truncated record", len(p.pending))
	}
	monitoring.Debugf("pcap: %d records, %d UDP payloads decoded", p.records, p.payloads)
	return nil
}
