package device

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/packet"
)

type testDriver struct{}

func (testDriver) Name() string     { return "test" }
func (testDriver) LongName() string { return "Test driver" }
func (testDriver) ConfigKeys() []config.Key {
	return []config.Key{config.KeyLogicAnalyzer}
}
func (testDriver) ScanOptions() []config.Key {
	return []config.Key{config.KeyConn}
}

type testOps struct {
	opens, closes int
	acquired      bool
}

func (o *testOps) Open(*Device) error  { o.opens++; return nil }
func (o *testOps) Close(*Device) error { o.closes++; return nil }
func (o *testOps) Acquire(ctx context.Context, d *Device, emit packet.Emit) error {
	o.acquired = true
	return emit(packet.NewLogic(1, []byte{1}))
}

func newTestDevice(t *testing.T) (*Device, *testOps) {
	t.Helper()
	ops := &testOps{}
	d := New(testDriver{}, Info{Vendor: "Acme", Model: "LA-2"}, ops)
	d.AddChannel(ChannelLogic, "D0")
	d.AddChannel(ChannelLogic, "D1")
	d.AddChannel(ChannelLogic, "D2")
	return d, ops
}

func TestStore_Capabilities(t *testing.T) {
	s := NewStore()
	s.Define(config.KeySampleRate, Entry{
		Caps:  config.CapGet | config.CapSet | config.CapList,
		Value: config.IntValue(1000),
		List:  []config.Value{config.IntValue(1000), config.IntValue(2000)},
	})
	s.Define(config.KeyLimitSamples, Entry{Caps: config.CapSet})

	v, err := s.ConfigGet(config.KeySampleRate)
	require.NoError(t, err)
	assert.Equal(t, config.IntValue(1000), v)

	require.NoError(t, s.ConfigSet(config.KeySampleRate, config.IntValue(2000)))
	assert.Equal(t, config.IntValue(2000), s.Current(config.KeySampleRate))

	assert.ErrorIs(t, s.ConfigSet(config.KeySampleRate, config.IntValue(3000)), config.ErrInvalidValue)
	assert.ErrorIs(t, s.ConfigSet(config.KeySampleRate, config.StringValue("fast")), config.ErrInvalidValue)

	_, err = s.ConfigGet(config.KeyLimitSamples)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
	_, err = s.ConfigList(config.KeyLimitSamples)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
	assert.ErrorIs(t, s.ConfigSet(config.KeyPattern, config.StringValue("x")), ErrUnsupportedCapability)

	assert.Equal(t, []config.Key{config.KeySampleRate, config.KeyLimitSamples}, s.ConfigKeys())
}

func TestStore_Hooks(t *testing.T) {
	s := NewStore()
	var seen config.Value
	s.Define(config.KeyPattern, Entry{
		Caps: config.CapGet | config.CapSet,
		OnSet: func(v config.Value) error {
			if v.Str() == "bad" {
				return errors.New("rejected")
			}
			seen = v
			return nil
		},
	})
	s.Define(config.KeyAmplitude, Entry{
		Caps:  config.CapGet,
		OnGet: func() (config.Value, error) { return config.FloatValue(4.5), nil },
	})

	require.NoError(t, s.ConfigSet(config.KeyPattern, config.StringValue("ok")))
	assert.Equal(t, "ok", seen.Str())
	assert.Error(t, s.ConfigSet(config.KeyPattern, config.StringValue("bad")))
	assert.Equal(t, "ok", s.Current(config.KeyPattern).Str(), "rejected value must not be stored")

	v, err := s.ConfigGet(config.KeyAmplitude)
	require.NoError(t, err)
	assert.Equal(t, 4.5, v.Float())
}

func TestDevice_OpenClose(t *testing.T) {
	d, ops := newTestDevice(t)
	d.Config().Define(config.KeySampleRate, Entry{Caps: config.CapGet | config.CapSet})

	assert.ErrorIs(t, d.ConfigSet(config.KeySampleRate, config.IntValue(1)), ErrNotOpen)
	assert.ErrorIs(t, d.Acquire(context.Background(), func(*packet.Packet) error { return nil }), ErrNotOpen)

	require.NoError(t, d.Open())
	require.NoError(t, d.Open())
	assert.Equal(t, 1, ops.opens)
	require.NoError(t, d.ConfigSet(config.KeySampleRate, config.IntValue(1)))

	var n int
	require.NoError(t, d.Acquire(context.Background(), func(*packet.Packet) error { n++; return nil }))
	assert.Equal(t, 1, n)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, ops.closes)
}

func TestNewVirtual(t *testing.T) {
	d := NewVirtual(VirtualDriver{ID: "binary", Description: "Raw binary"}, Info{}, nil)
	assert.True(t, d.IsOpen())
	assert.False(t, d.CanAcquire())
	cg := d.AddGroup("all")
	cg.Define(config.KeyPattern, Entry{Caps: config.CapSet})
	assert.NoError(t, cg.ConfigSet(config.KeyPattern, config.StringValue("x")))
	assert.NoError(t, d.Close())
	assert.True(t, d.IsOpen())
}

// TestSelectChannels_FullReplace tests that selection enables exactly the
// named channels regardless of their previous state.
func TestSelectChannels_FullReplace(t *testing.T) {
	d, _ := newTestDevice(t)
	SelectChannels(d, ParseChannelList("D0,D1"))
	SelectChannels(d, ParseChannelList("D2=clk"))

	got := map[string]bool{}
	for _, ch := range d.Channels() {
		got[ch.Name] = ch.Enabled
	}
	want := map[string]bool{"D0": false, "D1": false, "clk": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("channel state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, d.Channel("clk").Index)
}

func TestSelectChannels_NilSpec(t *testing.T) {
	d, _ := newTestDevice(t)
	d.Channels()[1].Enabled = false
	SelectChannels(d, ParseChannelList(""))
	assert.True(t, d.Channels()[0].Enabled)
	assert.False(t, d.Channels()[1].Enabled)
	assert.True(t, d.Channels()[2].Enabled)
}

func TestSelectChannels_UnknownNameIgnored(t *testing.T) {
	d, _ := newTestDevice(t)
	SelectChannels(d, ParseChannelList("D1,missing"))
	assert.Len(t, d.EnabledChannels(ChannelLogic), 1)
	assert.Equal(t, "D1", d.EnabledChannels(ChannelLogic)[0].Name)
}

func TestSelectChannelGroup(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.Nil(t, SelectChannelGroup(d, "logic"))
	cg := d.AddGroup("logic", d.Channels()...)
	assert.Same(t, cg, SelectChannelGroup(d, "logic"))
	assert.Nil(t, SelectChannelGroup(d, "analog"))
	assert.Nil(t, SelectChannelGroup(d, ""))
}

// TestApplyOptions_AbortsOnFailure tests that a failing pair stops the
// sequence and earlier pairs stay applied.
func TestApplyOptions_AbortsOnFailure(t *testing.T) {
	d, _ := newTestDevice(t)
	d.Config().Define(config.KeySampleRate, Entry{Caps: config.CapSet})
	d.Config().Define(config.KeyLimitSamples, Entry{Caps: config.CapSet})
	require.NoError(t, d.Open())

	err := ApplyOptions(d, "samplerate=1000000:triggersource=CH1:limit_samples=5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrUnknownKey) || errors.Is(err, ErrUnsupportedCapability), "got %v", err)
	assert.Equal(t, int64(1000000), d.Config().Current(config.KeySampleRate).Int())
	assert.True(t, d.Config().Current(config.KeyLimitSamples).IsZero())

	assert.ErrorIs(t, ApplyOptions(d, "bogus=1"), config.ErrUnknownKey)
	assert.ErrorIs(t, ApplyOptions(d, "samplerate=fast"), config.ErrInvalidValue)
}

func TestGetAll(t *testing.T) {
	d, _ := newTestDevice(t)
	d.Config().Define(config.KeySampleRate, Entry{Caps: config.CapGet, Value: config.IntValue(10)})
	d.Config().Define(config.KeyLimitSamples, Entry{Caps: config.CapSet})

	results := GetAll(d, []string{"samplerate", "limit_samples", "pattern"})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, config.IntValue(10), results[0].Value)
	assert.Equal(t, config.KeySampleRate, results[0].Key)
	assert.ErrorIs(t, results[1].Err, ErrUnsupportedCapability)
	assert.ErrorIs(t, results[2].Err, config.ErrUnknownKey)
}

func TestSummary_String(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.Equal(t, "test - Acme LA-2 with 3 channels: D0 D1 D2", d.String())

	d.Config().Define(config.KeyConn, Entry{Caps: config.CapGet, Value: config.StringValue("/dev/ttyUSB0")})
	assert.Equal(t, "test:conn=/dev/ttyUSB0 - Acme LA-2 with 3 channels: D0 D1 D2", Summarize(d).String())
}

// TestInspect_GroupScope tests that the device-wide and group-scoped
// listings differ when a key exists only on the group.
func TestInspect_GroupScope(t *testing.T) {
	ops := &testOps{}
	d := New(testDriver{}, Info{Vendor: "Acme", Model: "LA-2", Version: "1.0"}, ops)
	d0 := d.AddChannel(ChannelLogic, "D0")
	d1 := d.AddChannel(ChannelLogic, "D1")
	d.Config().Define(config.KeySampleRate, Entry{
		Caps:  config.CapGet | config.CapSet | config.CapList,
		Value: config.IntValue(1000000),
		List:  []config.Value{config.IntValue(1000), config.IntValue(1000000)},
	})
	d.Config().Define(config.KeyLimitSamples, Entry{Caps: config.CapSet})
	cg := d.AddGroup("logic", d0, d1)
	cg.Define(config.KeyPattern, Entry{
		Caps:  config.CapGet | config.CapList,
		Value: config.StringValue("sigrok"),
		List:  []config.Value{config.StringValue("sigrok"), config.StringValue("random")},
	})

	whole := Inspect(d, nil)
	group := Inspect(d, cg)

	want := Report{
		DriverFunctions: []string{"Logic analyzer"},
		ScanOptions:     []KeyDescription{{Identifier: "conn", Description: "Connection"}},
		Summary: Summary{
			Driver: "test", Vendor: "Acme", Model: "LA-2", Version: "1.0",
			Channels: []string{"D0", "D1"},
		},
		ChannelGroups: []GroupSummary{{Name: "logic", Channels: []string{"D0", "D1"}}},
		Options: []OptionReport{
			{
				Key: config.KeySampleRate, Value: config.IntValue(1000000), HasValue: true,
				List: []config.Value{config.IntValue(1000), config.IntValue(1000000)}, HasList: true,
			},
			{Key: config.KeyLimitSamples},
		},
	}
	if diff := cmp.Diff(want, whole, cmp.AllowUnexported(config.Value{})); diff != "" {
		t.Errorf("device report mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "logic", group.Scope)
	require.Len(t, group.Options, 1)
	assert.Equal(t, config.KeyPattern, group.Options[0].Key)
	assert.NotEqual(t, whole.Options, group.Options)

	var buf bytes.Buffer
	_, err := group.WriteTo(&buf)
	require.NoError(t, err)
	wantText := "Driver functions:\n" +
		"    Logic analyzer\n" +
		"Scan options:\n" +
		"    conn: Connection\n" +
		"test - Acme LA-2 1.0 with 2 channels: D0 D1\n" +
		"Channel groups:\n" +
		"    logic: channels D0 D1\n" +
		"Supported configuration options on channel group logic:\n" +
		"    pattern: sigrok (sigrok, random)\n"
	assert.Equal(t, wantText, buf.String())

	buf.Reset()
	_, err = whole.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Supported configuration options across all channel groups:\n")
	assert.Contains(t, buf.String(), "    samplerate: 1 MHz (1 kHz, 1 MHz)\n")
	assert.Contains(t, buf.String(), "    limit_samples: \n")
	assert.Equal(t, 0, ops.opens, "inspection must not touch hardware")
}
