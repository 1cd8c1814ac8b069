package input

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/packet"
)

// replay feeds data to in chunk bytes at a time and collects everything it
// decodes.
func replay(t *testing.T, in Input, data []byte, chunk int) []*packet.Packet {
	t.Helper()
	var got []*packet.Packet
	for len(data) > 0 {
		n := min(chunk, len(data))
		require.NoError(t, in.Send(data[:n]))
		data = data[n:]
		got = append(got, in.Packets()...)
	}
	require.NoError(t, in.End())
	return append(got, in.Packets()...)
}

func kinds(pkts []*packet.Packet) []string {
	out := make([]string, len(pkts))
	for i, p := range pkts {
		out[i] = p.String()
	}
	return out
}

// logicBits concatenates the logic samples of pkts as "0"/"1" for channel ch.
func logicBits(pkts []*packet.Packet, ch int) string {
	var b strings.Builder
	for _, p := range pkts {
		if p.Kind != packet.KindLogic {
			continue
		}
		for s := 0; s < p.Logic.Samples(); s++ {
			if p.Logic.Bit(s, ch) {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}

func channelNames(d *device.Device) []string {
	var names []string
	for _, ch := range d.Channels() {
		names = append(names, ch.Name)
	}
	return names
}

func TestDetect(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"cbor", "pcap", "vcd", "binary"}, r.Names())

	tests := []struct {
		name string
		head []byte
		want string
	}{
		{"cbor", append(append([]byte{}, packet.StreamMagic...), 0xa1), "cbor"},
		{"pcap little endian", []byte{0xd4, 0xc3, 0xb2, 0xa1, 2, 0}, "pcap"},
		{"pcap big endian nanos", []byte{0xa1, 0xb2, 0x3c, 0x4d}, "pcap"},
		{"vcd", []byte("\n$timescale 1 us $end\n"), "vcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := r.Detect(tt.head)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Name)
		})
	}

	_, err := r.Detect([]byte{0x00, 0x01, 0x02, 0x03})
	assert.True(t, errors.Is(err, ErrUndetected))
}

func TestCreate(t *testing.T) {
	r := Default()
	_, err := r.Create("nope")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
	_, err = r.Create("binary:udp_port=5")
	assert.True(t, errors.Is(err, config.ErrUnknownKey), "got %v", err)
	_, err = r.Create("binary:numchannels=0")
	assert.True(t, errors.Is(err, config.ErrInvalidValue), "got %v", err)
	_, err = r.Create("binary:numchannels=4:samplerate=1k")
	assert.NoError(t, err)
}

func TestBinary(t *testing.T) {
	in, err := Default().Create("binary:numchannels=4:samplerate=1k")
	require.NoError(t, err)

	require.NoError(t, in.Send(nil))
	_, ok := in.Device()
	assert.False(t, ok, "device is unknown before any data")

	require.NoError(t, in.Send([]byte{0x01, 0x02, 0x03}))
	dev, ok := in.Device()
	require.True(t, ok)
	assert.Equal(t, []string{"D0", "D1", "D2", "D3"}, channelNames(dev))
	assert.Equal(t, int64(1000), dev.SampleRate())
	assert.Equal(t, []string{"meta samplerate=1000", "logic unitsize=1 samples=3"}, kinds(in.Packets()))
	assert.Empty(t, in.Packets())
	require.NoError(t, in.End())
}

func TestBinary_WideUnits(t *testing.T) {
	in, err := Default().Create("binary:numchannels=12")
	require.NoError(t, err)
	got := replay(t, in, []byte{0x01, 0x08, 0x00, 0x08, 0xff}, 3)
	assert.Equal(t, []string{"logic unitsize=2 samples=1", "logic unitsize=2 samples=1"}, kinds(got))
	assert.Equal(t, "10", logicBits(got, 0))
	assert.Equal(t, "11", logicBits(got, 11))
}

const testVCD = `$version sigcap dev $end
$timescale 1 us $end
$scope module sigcap $end
$var wire 1 ! D0 $end
$var wire 1 " clk $end
$var wire 8 # bus $end
$upscope $end
$enddefinitions $end
#0
1!
0"
b10101010 #
#10
1"
#15
0!
0"
#20
`

func TestVCD(t *testing.T) {
	for _, chunk := range []int{1, 7, 4096} {
		in, err := Default().Create("vcd")
		require.NoError(t, err)
		got := replay(t, in, []byte(testVCD), chunk)

		dev, ok := in.Device()
		require.True(t, ok)
		assert.Equal(t, []string{"D0", "clk"}, channelNames(dev), "chunk %d", chunk)
		assert.Equal(t, int64(1_000_000), dev.SampleRate())
		assert.Equal(t, "meta samplerate=1000000", got[0].String())
		assert.Equal(t, strings.Repeat("1", 15)+strings.Repeat("0", 5), logicBits(got, 0), "chunk %d", chunk)
		assert.Equal(t, strings.Repeat("0", 10)+strings.Repeat("1", 5)+strings.Repeat("0", 5), logicBits(got, 1), "chunk %d", chunk)
	}
}

func TestVCD_ChannelLimitAndErrors(t *testing.T) {
	in, err := Default().Create("vcd:numchannels=1")
	require.NoError(t, err)
	replay(t, in, []byte(testVCD), 4096)
	dev, _ := in.Device()
	assert.Equal(t, []string{"D0"}, channelNames(dev))

	in, err = Default().Create("vcd")
	require.NoError(t, err)
	require.NoError(t, in.Send([]byte("$timescale 1 us $end\n")))
	assert.Error(t, in.End())

	in, err = Default().Create("vcd")
	require.NoError(t, err)
	assert.Error(t, in.Send([]byte("$timescale 3 parsecs $end\n$enddefinitions $end\n")))
}

func record(t *testing.T, r packet.Record) []byte {
	t.Helper()
	b, err := packet.MarshalRecord(r)
	require.NoError(t, err)
	return b
}

func TestCBOR(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(packet.StreamMagic)
	stream.Write(record(t, packet.Record{
		Kind:   packet.RecordDevice,
		Vendor: "Acme",
		Model:  "Probe",
		Config: [][2]string{{"samplerate", "2000"}},
		Channels: []packet.ChannelRecord{
			{Name: "D0", Enabled: true},
			{Name: "D1"},
			{Name: "A0", Analog: true, Enabled: true},
		},
	}))
	for _, p := range []*packet.Packet{
		packet.NewHeader(time.Unix(1, 0)),
		packet.NewSampleRate(4000),
		packet.NewLogic(1, []byte{1, 2, 3}),
		packet.NewAnalog(2, []float32{0.5}, "voltage", "V"),
		packet.NewEnd(),
	} {
		stream.Write(record(t, packet.ToRecord(p)))
	}

	in, err := Default().Create("cbor")
	require.NoError(t, err)
	got := replay(t, in, stream.Bytes(), 5)
	dev, ok := in.Device()
	require.True(t, ok)
	assert.Equal(t, "Probe", dev.Info().Model)
	assert.Equal(t, []string{"D0", "D1", "A0"}, channelNames(dev))
	assert.False(t, dev.Channels()[1].Enabled)
	assert.Equal(t, device.ChannelAnalog, dev.Channels()[2].Type)
	assert.Equal(t, int64(4000), dev.SampleRate())
	assert.Equal(t, []string{"meta samplerate=4000", "logic unitsize=1 samples=3", "analog ch=2 samples=1"}, kinds(got))
}

func TestCBOR_Truncated(t *testing.T) {
	in, err := Default().Create("cbor")
	require.NoError(t, err)
	data := append(append([]byte{}, packet.StreamMagic...), record(t, packet.Record{Kind: packet.RecordDevice, Model: "x"})...)
	require.NoError(t, in.Send(data[:len(data)-1]))
	_, ok := in.Device()
	assert.False(t, ok)
	assert.Error(t, in.End())
}

// testPcap writes an Ethernet capture holding one UDP datagram per
// payload, sent to the matching port.
func testPcap(t *testing.T, ports []uint16, payloads [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, payload := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 10),
			DstIP:    net.IPv4(192, 168, 1, 20),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(ports[i])}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(payload)))
		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(int64(i), 0), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return buf.Bytes()
}

func TestPcap(t *testing.T) {
	data := testPcap(t, []uint16{2368, 9999, 2368}, [][]byte{{0x01, 0x02}, {0xff}, {0x03}})

	in, err := Default().Create("pcap:udp_port=2368:samplerate=10k")
	require.NoError(t, err)
	require.NoError(t, in.Send(data[:10]))
	_, ok := in.Device()
	assert.False(t, ok, "device is unknown before the global header")

	got := replay(t, in, data[10:], 33)
	dev, ok := in.Device()
	require.True(t, ok)
	assert.Len(t, dev.Channels(), 8)
	assert.Equal(t, []string{"meta samplerate=10000", "logic unitsize=1 samples=2", "logic unitsize=1 samples=1"}, kinds(got))
	assert.Equal(t, "101", logicBits(got, 0))
	assert.Equal(t, "011", logicBits(got, 1))

	in, err = Default().Create("pcap")
	require.NoError(t, err)
	got = replay(t, in, data, 4096)
	assert.Len(t, got, 3)
}
