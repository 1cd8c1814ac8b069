package demo

import (
	"context"
	"math"
	"math/rand/v2"

	"golang.org/x/time/rate"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/packet"
)

// sigrokPattern spells "sigrok" across eight logic channels when viewed as
// a bit dump.
var sigrokPattern = []byte{
	0x4c, 0x92, 0x92, 0x92, 0x64, 0x00, 0x00, 0x00,
	0x82, 0xfe, 0xfe, 0x82, 0x00, 0x00, 0x00, 0x00,
	0x7c, 0x82, 0x82, 0x92, 0x74, 0x00, 0x00, 0x00,
	0xfe, 0x12, 0x12, 0x32, 0xcc, 0x00, 0x00, 0x00,
	0x7c, 0x82, 0x82, 0x82, 0x7c, 0x00, 0x00, 0x00,
	0xfe, 0x10, 0x28, 0x44, 0x82, 0x00, 0x00, 0x00,
	0xbe, 0xbe, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

type acquisition struct{}

func (a *acquisition) Open(*device.Device) error  { return nil }
func (a *acquisition) Close(*device.Device) error { return nil }

// run holds the generator state of one acquisition.
type run struct {
	dev       *device.Device
	logic     []*device.Channel
	analog    []*device.Channel
	unitSize  int
	logicPos  uint64
	analogPos uint64
	rng       *rand.Rand
}

// Acquire generates samples paced at the configured rate until a limit is
// reached or ctx is done.
func (a *acquisition) Acquire(ctx context.Context, dev *device.Device, emit packet.Emit) error {
	cfg := dev.Config()
	sampleRate := cfg.Current(config.KeySampleRate).Int()
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	limitSamples := cfg.Current(config.KeyLimitSamples).Int()
	if msec := cfg.Current(config.KeyLimitMsec).Int(); msec > 0 {
		byTime := sampleRate * msec / 1000
		if limitSamples == 0 || byTime < limitSamples {
			limitSamples = byTime
		}
	}
	limitFrames := cfg.Current(config.KeyLimitFrames).Int()
	if cfg.Current(config.KeyContinuous).Bool() {
		limitSamples, limitFrames = 0, 0
	}

	r := &run{
		dev:      dev,
		logic:    dev.ChannelsOf(device.ChannelLogic),
		analog:   dev.EnabledChannels(device.ChannelAnalog),
		rng:      rand.New(rand.NewPCG(uint64(sampleRate), 0x5167)),
		unitSize: packet.UnitSizeFor(len(dev.ChannelsOf(device.ChannelLogic))),
	}
	limiter := rate.NewLimiter(rate.Limit(sampleRate), chunkSamples)

	if err := emit(packet.NewSampleRate(sampleRate)); err != nil {
		return err
	}

	if limitFrames > 0 {
		perFrame := limitSamples
		if perFrame == 0 {
			perFrame = max(sampleRate/10, 1)
		}
		for f := int64(0); f < limitFrames; f++ {
			if err := emit(packet.NewFrameBegin()); err != nil {
				return err
			}
			if err := r.generate(ctx, limiter, perFrame, emit); err != nil {
				return err
			}
			if err := emit(packet.NewFrameEnd()); err != nil {
				return err
			}
		}
		return nil
	}
	return r.generate(ctx, limiter, limitSamples, emit)
}

// generate sends total samples, or runs until ctx is done when total is 0.
func (r *run) generate(ctx context.Context, limiter *rate.Limiter, total int64, emit packet.Emit) error {
	var sent int64
	for total == 0 || sent < total {
		n := int64(chunkSamples)
		if total > 0 && total-sent < n {
			n = total - sent
		}
		if err := limiter.WaitN(ctx, int(n)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.emitChunk(int(n), emit); err != nil {
			return err
		}
		sent += n
	}
	return nil
}

func (r *run) emitChunk(n int, emit packet.Emit) error {
	if hasEnabled(r.logic) {
		data := make([]byte, n*r.unitSize)
		pattern := r.groupPattern("Logic", LogicPatterns[0])
		for i := 0; i < n; i++ {
			r.fillLogic(pattern, data[i*r.unitSize:(i+1)*r.unitSize])
			r.logicPos++
		}
		if err := emit(packet.NewLogic(r.unitSize, data)); err != nil {
			return err
		}
	}
	if len(r.analog) == 0 {
		return nil
	}
	cfg := r.dev.Config()
	avg := int(cfg.Current(config.KeyAvgSamples).Int())
	if !cfg.Current(config.KeyAveraging).Bool() || avg <= 1 {
		avg = 1
	}
	for _, ch := range r.analog {
		pattern, amplitude, offset := r.analogParams(ch)
		raw := make([]float32, n)
		for i := range raw {
			raw[i] = float32(offset + amplitude*waveform(pattern, r.analogPos+uint64(i)))
		}
		if err := emit(packet.NewAnalog(ch.Index, average(raw, avg), "voltage", "V")); err != nil {
			return err
		}
	}
	r.analogPos += uint64(n)
	return nil
}

func (r *run) groupPattern(group, fallback string) string {
	if cg := r.dev.ChannelGroup(group); cg != nil {
		if v := cg.Current(config.KeyPattern); !v.IsZero() {
			return v.Str()
		}
	}
	return fallback
}

func (r *run) analogParams(ch *device.Channel) (string, float64, float64) {
	for _, cg := range r.dev.ChannelGroups() {
		for _, member := range cg.Channels {
			if member == ch {
				return cg.Current(config.KeyPattern).Str(),
					cg.Current(config.KeyAmplitude).Float(),
					cg.Current(config.KeyOffset).Float()
			}
		}
	}
	return AnalogPatterns[0], defaultAmplitude, 0
}

func (r *run) fillLogic(pattern string, unit []byte) {
	n := len(r.logic)
	switch pattern {
	case "sigrok":
		for b := range unit {
			unit[b] = sigrokPattern[r.logicPos%uint64(len(sigrokPattern))]
		}
	case "random":
		for b := range unit {
			unit[b] = byte(r.rng.Uint32())
		}
	case "incremental":
		for b := range unit {
			unit[b] = byte(r.logicPos >> (8 * b))
		}
	case "walking-one":
		bit := int(r.logicPos % uint64(n))
		for b := range unit {
			unit[b] = 0
		}
		unit[bit/8] = 1 << (bit % 8)
	case "all-high":
		for b := range unit {
			unit[b] = 0xff
		}
	case "square":
		v := byte(0)
		if r.logicPos%2 == 1 {
			v = 0xff
		}
		for b := range unit {
			unit[b] = v
		}
	default:
		for b := range unit {
			unit[b] = 0
		}
	}
	if rem := n % 8; rem != 0 {
		unit[len(unit)-1] &= byte(1<<rem) - 1
	}
}

// waveform returns the normalized [-1, 1] value of pattern at sample pos.
func waveform(pattern string, pos uint64) float64 {
	phase := float64(pos%analogPeriod) / analogPeriod
	switch pattern {
	case "sine":
		return math.Sin(2 * math.Pi * phase)
	case "triangle":
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case "sawtooth":
		return 2*phase - 1
	default:
		if phase < 0.5 {
			return 1
		}
		return -1
	}
}

// average folds every n samples into their mean. A trailing partial block
// is averaged on its own.
func average(in []float32, n int) []float32 {
	if n <= 1 {
		return in
	}
	out := make([]float32, 0, (len(in)+n-1)/n)
	for i := 0; i < len(in); i += n {
		end := min(i+n, len(in))
		var sum float64
		for _, v := range in[i:end] {
			sum += float64(v)
		}
		out = append(out, float32(sum/float64(end-i)))
	}
	return out
}

func hasEnabled(chs []*device.Channel) bool {
	for _, ch := range chs {
		if ch.Enabled {
			return true
		}
	}
	return false
}
