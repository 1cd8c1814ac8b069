package input

import (
	"fmt"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

const defaultBinaryChannels = 8

var binaryFormat = &Format{
	Name:        "binary",
	Description: "Raw little-endian logic samples",
	Options:     []config.Key{config.KeyNumChannels, config.KeySampleRate},
	New:         newBinary,
}

// binaryInput treats the file as packed logic samples. The device is known
// after the first non-empty chunk.
type binaryInput struct {
	queue
	channels int
	unitSize int
	rate     int64
	partial  []byte
	seen     int64
}

func newBinary(opts config.Options) (Input, error) {
	n := int(opts.Int(config.KeyNumChannels, defaultBinaryChannels))
	if n < 1 || n > 64 {
		return nil, fmt.Errorf("%w: numchannels must be between 1 and 64, got %d", config.ErrInvalidValue, n)
	}
	rate := opts.Int(config.KeySampleRate, 0)
	if rate < 0 {
		return nil, fmt.Errorf("%w: negative samplerate %d", config.ErrInvalidValue, rate)
	}
	return &binaryInput{channels: n, unitSize: packet.UnitSizeFor(n), rate: rate}, nil
}

func (b *binaryInput) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if b.dev == nil {
		b.dev = newDevice("binary", device.Info{}, 0)
		for i := 0; i < b.channels; i++ {
			b.dev.AddChannel(device.ChannelLogic, fmt.Sprintf("D%d", i))
		}
		b.setRate(b.rate)
	}
	data := append(b.partial, chunk...)
	whole := len(data) - len(data)%b.unitSize
	b.partial = append([]byte(nil), data[whole:]...)
	if whole > 0 {
		b.push(packet.NewLogic(b.unitSize, data[:whole]))
		b.seen += int64(whole / b.unitSize)
	}
	return nil
}

func (b *binaryInput) End() error {
	if len(b.partial) > 0 {
		monitoring.Warnf("binary input: dropping %d trailing bytes after %d samples", len(b.partial), b.seen)
		b.partial = nil
	}
	return nil
}
