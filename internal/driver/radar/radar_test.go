package radar

import (
	"context"
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
	"github.com/banshee-data/sigcap/internal/units"
)

const productReply = "{\"Product\":\"OPS243-A\",\"Version\":\"1.3.2\"}\r\n"

func newTestDriver(ports map[string]serialmux.SerialPorter) (*Driver, *serialmux.MockSerialPortFactory) {
	f := serialmux.NewMockSerialPortFactory(nil)
	f.Ports = ports
	d := New()
	d.Factory = f
	d.ProbeTimeout = 100 * time.Millisecond
	d.Enumerate = func() ([]serialmux.PortInfo, error) {
		return []serialmux.PortInfo{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "0483", PID: "5740"},
		}, nil
	}
	return d, f
}

func sensorPort() *serialmux.TestableSerialPort {
	p := serialmux.NewTestableSerialPort()
	p.Reply("??", []byte(productReply))
	return p
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		line    string
		want    Reading
		wantErr bool
	}{
		{line: `{"uptime": 1.23, "magnitude": 5.6, "speed": 7.8}`, want: Reading{Uptime: 1.23, Magnitude: 5.6, Speed: 7.8}},
		{line: `{"magnitude":"12","speed":"-3.5"}`, want: Reading{Magnitude: 12, Speed: -3.5}},
		{line: `1.5,20,4.25`, want: Reading{Uptime: 1.5, Magnitude: 20, Speed: 4.25}},
		{line: `"1.5","20","4.25"`, want: Reading{Uptime: 1.5, Magnitude: 20, Speed: 4.25}},
		{line: `{"Product":"OPS243"}`, wantErr: true},
		{line: `OJ`, wantErr: true},
		{line: `1,2`, wantErr: true},
		{line: `{"speed":"fast"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseReading(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScan_Enumerates(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyACM0": sensorPort()})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	dev := devices[0]
	assert.Equal(t, "ops243:conn=/dev/ttyACM0 - OmniPreSense OPS243-A 1.3.2 with 2 channels: speed magnitude", dev.String())
	assert.False(t, dev.IsOpen())
	require.Len(t, f.OpenCalls, 1)
	assert.Equal(t, 19200, f.OpenCalls[0].Options.BaudRate)
}

func TestScan_ConnAndSerialComm(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyUSB3": sensorPort()})
	opts, err := config.ParseOptions("conn=/dev/ttyUSB3:serialcomm=115200/8n1")
	require.NoError(t, err)

	devices, err := driver.Scan(context.Background(), d, opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyUSB3", f.LastCall().Path)
	assert.Equal(t, 115200, f.LastCall().Options.BaudRate)

	v, err := devices[0].ConfigGet(config.KeySerialComm)
	require.NoError(t, err)
	assert.Equal(t, "115200/8n1", v.Str())
}

func TestScan_SilentPort(t *testing.T) {
	d, _ := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyACM0": serialmux.NewTestableSerialPort()})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

// TestAcquire tests that report lines become analog samples and the sample
// limit ends the acquisition.
func TestAcquire(t *testing.T) {
	port := sensorPort()
	d, _ := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyACM0": port})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	dev := devices[0]

	// The probe closed the port; reopen it for acquisition.
	live := serialmux.NewTestableSerialPort()
	d.Factory.(*serialmux.MockSerialPortFactory).Ports["/dev/ttyACM0"] = live

	require.NoError(t, dev.Open())
	defer dev.Close()
	require.NoError(t, device.ApplyOptions(dev, "limit_samples=2"))
	device.SelectChannels(dev, device.ParseChannelList("speed=v"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		live.AddReadData([]byte("garbage\r\n{\"magnitude\":9,\"speed\":1.5}\r\n2.0,8,2.5\r\n{\"speed\":9}\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []float32
	err = dev.Acquire(ctx, func(p *packet.Packet) error {
		require.Equal(t, packet.KindAnalog, p.Kind)
		assert.Equal(t, 0, p.Analog.Channel)
		got = append(got, p.Analog.Data...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2.5}, got)

	written := strings.Join(live.Writes, "")
	for _, c := range startCommands {
		assert.Contains(t, written, c+"\n")
	}
}

func TestAcquire_SpeedUnits(t *testing.T) {
	d, f := newTestDriver(map[string]serialmux.SerialPorter{"/dev/ttyACM0": sensorPort()})
	devices, err := driver.Scan(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	dev := devices[0]

	live := serialmux.NewTestableSerialPort()
	f.Ports["/dev/ttyACM0"] = live
	require.NoError(t, dev.Open())
	defer dev.Close()

	assert.ErrorIs(t, device.ApplyOptions(dev, "speed_units=knots"), units.ErrInvalidUnit)
	assert.Equal(t, units.MPS, dev.Config().Current(config.KeySpeedUnits).Str())
	require.NoError(t, device.ApplyOptions(dev, "speed_units=kph:limit_samples=1"))
	device.SelectChannels(dev, device.ParseChannelList("speed"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		live.AddReadData([]byte("{\"speed\":10}\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []*packet.Analog
	require.NoError(t, dev.Acquire(ctx, func(p *packet.Packet) error {
		got = append(got, p.Analog)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "km/h", got[0].Unit)
	assert.InDelta(t, 36.0, got[0].Data[0], 0.001)
}
