package bitscope

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/driver"
	"github.com/banshee-data/sigcap/internal/packet"
	"github.com/banshee-data/sigcap/internal/serialmux"
)

func newTestDriver(ports map[string]serialmux.SerialPorter) (*Driver, *serialmux.MockSerialPortFactory) {
	f := serialmux.NewMockSerialPortFactory(nil)
	f.Ports = ports
	d := New()
	d.Factory = f
	d.ReplyTimeout = 50 * time.Millisecond
	d.Enumerate = func() ([]serialmux.PortInfo, error) {
		return []serialmux.PortInfo{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
		}, nil
	}
	return d, f
}

func scopePort(id string) *serialmux.TestableSerialPort {
	p := serialmux.NewTestableSerialPort()
	p.Reply("?", []byte("?"+id+"\r"))
	return p
}

func TestParseID(t *testing.T) {
	tests := []struct {
		reply   string
		id      string
		model   Model
		wantErr bool
	}{
		{reply: "?BS001001\r", id: "BS001001", model: ModelBS10},
		{reply: "?BS000501\r\n", id: "BS000501", model: ModelBS05},
		{reply: "BS001002", id: "BS001002", model: ModelBS10},
		{reply: "?BS003100\r", wantErr: true},
		{reply: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			id, model, err := ParseID([]byte(tt.reply))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.model, model)
		})
	}
}

func TestReg(t *testing.T) {
	assert.Equal(t, "07@21s", reg(0x07, 0x21, 1))
	assert.Equal(t, "26@34z12s", reg(0x26, 0x1234, 2))
	assert.Equal(t, "08@cczbbzaas", reg(0x08, 0xaabbcc, 3))
	assert.Equal(t, "22@04z03z02z01s", reg(0x22, 0x01020304, 4))
}

func TestVolts(t *testing.T) {
	assert.Equal(t, float32(0), Volts(128, 11))
	assert.Equal(t, float32(-5.5), Volts(0, 11))
	assert.InDelta(t, 0.546, Volts(255, 1.1), 0.001)
}

func TestConvert_ACCoupling(t *testing.T) {
	r := vrange{name: "11V", volts: 11}
	got := convert([]byte{128, 192, 128, 192}, r, true)
	assert.InDelta(t, -1.375, got[0], 1e-6)
	assert.InDelta(t, 1.375, got[1], 1e-6)
}

func TestScan_Conn(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB7": scopePort("BS001001")})
	opts, err := config.ParseOptions("conn=/dev/ttyUSB7")
	require.NoError(t, err)

	devices, err := driver.Scan(context.Background(), d, opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "bitscope:conn=/dev/ttyUSB7 - BitScope BS10 1001 with 2 channels: CHA CHB", devices[0].String())
	assert.Equal(t, defaultBaudRate, f.LastCall().Options.BaudRate)

	cg := devices[0].ChannelGroup("CHB")
	require.NotNil(t, cg)
	list, err := cg.ConfigList(config.KeyRange)
	require.NoError(t, err)
	assert.Len(t, list, len(bs10Ranges))
}

func TestScan_Enumerates(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB0": scopePort("BS000501")})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "BS05", devices[0].Info().Model)
	require.Len(t, f.OpenCalls, 1)
	assert.Equal(t, "/dev/ttyUSB0", f.OpenCalls[0].Path)

	list, err := devices[0].ChannelGroup("CHA").ConfigList(config.KeyRange)
	require.NoError(t, err)
	assert.Len(t, list, len(bs05Ranges))
}

func TestScan_UnsupportedModel(t *testing.T) {
	d, _ := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB0": scopePort("BS003100")})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestOpen_ModelChanged(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB0": scopePort("BS001001")})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	f.Ports["/dev/ttyUSB0"] = scopePort("BS000501")
	err = devices[0].Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a bs10")
	assert.False(t, devices[0].IsOpen())
}

func TestConfigSet_Validation(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB0": scopePort("BS001001")})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	dev := devices[0]

	f.Ports["/dev/ttyUSB0"] = scopePort("BS001001")
	require.NoError(t, dev.Open())
	defer dev.Close()

	err = device.ApplyOptions(dev, "limit_samples=20000")
	assert.True(t, errors.Is(err, config.ErrInvalidValue), "got %v", err)
	err = device.ApplyOptions(dev, "triggersource=CHC")
	assert.True(t, errors.Is(err, config.ErrInvalidValue), "got %v", err)
	err = device.ApplyOptions(dev.ChannelGroup("CHA"), "range=2V")
	assert.True(t, errors.Is(err, config.ErrInvalidValue), "got %v", err)
	require.NoError(t, device.ApplyOptions(dev.ChannelGroup("CHA"), "range=1.1V:coupling=AC"))
}

// TestAcquire tests one triggered frame on CHA with half the samples before
// the trigger.
func TestAcquire(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB0": scopePort("BS001001")})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	dev := devices[0]

	live := scopePort("BS001001")
	live.Reply("D", []byte("D\r\r\r\r\r"))
	live.Reply("A", append([]byte("A"), 128, 0, 255, 128))
	f.Ports["/dev/ttyUSB0"] = live

	require.NoError(t, dev.Open())
	defer dev.Close()
	require.NoError(t, device.ApplyOptions(dev, "samplerate=10000000:limit_samples=4:captureratio=50:triggerslope=f"))
	device.SelectChannels(dev, device.ParseChannelList("CHA"))

	var kinds []packet.Kind
	var samples []float32
	err = dev.Acquire(context.Background(), func(p *packet.Packet) error {
		kinds = append(kinds, p.Kind)
		switch p.Kind {
		case packet.KindMeta:
			rate, ok := p.Meta.SampleRate()
			assert.True(t, ok)
			assert.Equal(t, int64(10_000_000), rate)
		case packet.KindAnalog:
			assert.Equal(t, 0, p.Analog.Channel)
			assert.Equal(t, "V", p.Analog.Unit)
			samples = append(samples, p.Analog.Data...)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []packet.Kind{
		packet.KindMeta,
		packet.KindFrameBegin,
		packet.KindAnalog,
		packet.KindTrigger,
		packet.KindAnalog,
		packet.KindFrameEnd,
	}, kinds)
	require.Len(t, samples, 4)
	assert.InDelta(t, 0, samples[0], 1e-6)
	assert.InDelta(t, -5.5, samples[1], 1e-6)
	assert.InDelta(t, 5.457, samples[2], 1e-3)

	written := strings.Join(live.Writes, "")
	assert.Contains(t, written, "14@04z00s", "40 MHz / 10 MHz")
	assert.Contains(t, written, "37@01s", "only CHA enabled")
	assert.Contains(t, written, "07@31s", "falling edge on CHA")
	assert.Contains(t, written, "26@02z00s")
	assert.Contains(t, written, "2a@02z00s")
	assert.Contains(t, written, "30@00s")
	assert.Contains(t, written, bs10Ranges[len(bs10Ranges)-1].regs)
}

func TestAcquire_TraceTimeout(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB0": scopePort("BS001001")})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	dev := devices[0]

	f.Ports["/dev/ttyUSB0"] = scopePort("BS001001")
	require.NoError(t, dev.Open())
	defer dev.Close()

	err = dev.Acquire(context.Background(), func(*packet.Packet) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, serialmux.ErrNoReply), "got %v", err)
}
