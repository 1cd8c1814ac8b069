package scpi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
)

// meter is the hardware side of a SCPI multimeter.
type meter struct {
	driver *Driver
	addr   string
	client *client
}

func (m *meter) Open(*device.Device) error {
	c, err := m.driver.connect(context.Background(), m.addr)
	if err != nil {
		return err
	}
	if err := c.send("*CLS"); err != nil {
		c.close()
		return err
	}
	m.client = c
	return nil
}

func (m *meter) Close(*device.Device) error {
	if m.client == nil {
		return nil
	}
	err := m.client.close()
	m.client = nil
	return err
}

// ParseReading parses a measurement reply such as "+1.23456E+00".
func ParseReading(line string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(line), 64)
}

// Acquire configures the selected function and polls READ? at samplerate.
func (m *meter) Acquire(ctx context.Context, dev *device.Device, emit packet.Emit) error {
	cfg := dev.Config()
	q, ok := lookupQuantity(cfg.Current(config.KeyMeasuredQuantity).Str())
	if !ok {
		return fmt.Errorf("%w: measured_quantity %q", config.ErrInvalidValue, cfg.Current(config.KeyMeasuredQuantity).Str())
	}
	sampleRate := cfg.Current(config.KeySampleRate).Int()
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	limitSamples := cfg.Current(config.KeyLimitSamples).Int()
	limitMsec := cfg.Current(config.KeyLimitMsec).Int()
	if cfg.Current(config.KeyContinuous).Bool() {
		limitSamples, limitMsec = 0, 0
	}
	if limitMsec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(limitMsec)*time.Millisecond)
		defer cancel()
	}

	probe := dev.ChannelsOf(device.ChannelAnalog)[0]
	if !probe.Enabled {
		return nil
	}
	if err := m.client.send("CONF:" + q.function); err != nil {
		return fmt.Errorf("failed to select %s: %w", q.name, err)
	}
	if err := emit(packet.NewSampleRate(sampleRate)); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(sampleRate), 1)
	for n := int64(0); limitSamples == 0 || n < limitSamples; {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		line, err := m.client.query("READ?")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		v, err := ParseReading(line)
		if err != nil {
			monitoring.Warnf("scpi-dmm: bad reading %q: %v", line, err)
			continue
		}
		if err := emit(packet.NewAnalog(probe.Index, []float32{float32(v)}, q.name, q.unit)); err != nil {
			return err
		}
		n++
	}
	return nil
}
