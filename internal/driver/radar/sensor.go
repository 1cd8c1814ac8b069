package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/packet"
	"github.com/banshee-data/sigcap/internal/serialmux"
	"github.com/banshee-data/sigcap/internal/units"
)

// startCommands put the sensor into a reporting mode Reading can parse.
var startCommands = []string{
	"OJ", // JSON output
	"OS", // speed reporting
	"OM", // magnitude reporting
	"OU", // report the sensor uptime with each event
}

type sensor struct {
	factory  serialmux.SerialPortFactory
	path     string
	portOpts serialmux.PortOptions

	mux    *serialmux.SerialMux[serialmux.SerialPorter]
	cancel context.CancelFunc
}

func (s *sensor) Open(*device.Device) error {
	port, err := s.factory.Open(s.path, s.portOpts)
	if err != nil {
		return err
	}
	s.mux = serialmux.NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		if err := s.mux.Monitor(ctx); err != nil && ctx.Err() == nil {
			monitoring.Errorf("ops243: monitor %s: %v", s.path, err)
		}
	}()
	for _, command := range startCommands {
		if err := s.mux.SendCommand(command); err != nil {
			s.Close(nil)
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

func (s *sensor) Close(*device.Device) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.mux == nil {
		return nil
	}
	err := s.mux.Close()
	s.mux = nil
	return err
}

// Acquire turns every report line into one sample per enabled channel.
func (s *sensor) Acquire(ctx context.Context, dev *device.Device, emit packet.Emit) error {
	cfg := dev.Config()
	limitSamples := cfg.Current(config.KeyLimitSamples).Int()
	limitMsec := cfg.Current(config.KeyLimitMsec).Int()
	if cfg.Current(config.KeyContinuous).Bool() {
		limitSamples, limitMsec = 0, 0
	}
	unit := cfg.Current(config.KeySpeedUnits).Str()
	if limitMsec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(limitMsec)*time.Millisecond)
		defer cancel()
	}

	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	// Channels may have been renamed; speed and magnitude are the first
	// and second analog channels.
	analog := dev.ChannelsOf(device.ChannelAnalog)
	speed, magnitude := analog[0], analog[1]

	var samples int64
	for limitSamples == 0 || samples < limitSamples {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			r, err := ParseReading(line)
			if err != nil {
				monitoring.Debugf("ops243: skipping %q: %v", line, err)
				continue
			}
			if speed.Enabled {
				if err := emit(packet.NewAnalog(speed.Index, []float32{float32(units.ConvertSpeed(r.Speed, unit))}, "speed", units.Symbol(unit))); err != nil {
					return err
				}
			}
			if magnitude.Enabled {
				if err := emit(packet.NewAnalog(magnitude.Index, []float32{float32(r.Magnitude)}, "magnitude", "")); err != nil {
					return err
				}
			}
			samples++
		}
	}
	return nil
}

// Reading is one speed report.
type Reading struct {
	Uptime    float64
	Magnitude float64
	Speed     float64
}

// ParseReading accepts a JSON report, with numbers or quoted numbers, or a
// plain "uptime,magnitude,speed" line.
func ParseReading(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		var raw struct {
			Uptime    json.Number `json:"uptime"`
			Magnitude json.Number `json:"magnitude"`
			Speed     json.Number `json:"speed"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return Reading{}, err
		}
		if raw.Speed == "" {
			return Reading{}, fmt.Errorf("no speed in report")
		}
		var r Reading
		var err error
		if r.Speed, err = raw.Speed.Float64(); err != nil {
			return Reading{}, err
		}
		if raw.Magnitude != "" {
			if r.Magnitude, err = raw.Magnitude.Float64(); err != nil {
				return Reading{}, err
			}
		}
		if raw.Uptime != "" {
			if r.Uptime, err = raw.Uptime.Float64(); err != nil {
				return Reading{}, err
			}
		}
		return r, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Reading{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(f), `"`), 64)
		if err != nil {
			return Reading{}, err
		}
		vals[i] = v
	}
	return Reading{Uptime: vals[0], Magnitude: vals[1], Speed: vals[2]}, nil
}
