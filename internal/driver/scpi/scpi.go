// Package scpi drives SCPI bench multimeters over raw TCP sockets. Without
// an explicit conn the driver browses mDNS for _scpi-raw._tcp instruments.
package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/driver"
	"github.com/banshee-data/sigcap/internal/monitoring"
)

const (
	// ServiceType is the mDNS service raw-socket SCPI instruments announce.
	ServiceType = "_scpi-raw._tcp"
	domain      = "local."

	connPrefix = "tcp-raw"

	defaultBrowseTimeout = 2 * time.Second
	defaultReplyTimeout  = time.Second
	defaultSampleRate    = 10
)

// ErrBadConn is returned for a conn string that is not tcp-raw/host/port.
var ErrBadConn = errors.New("conn must be tcp-raw/<host>/<port>")

// ParseConn splits "tcp-raw/host/port" into a dialable address.
func ParseConn(conn string) (string, error) {
	parts := strings.Split(conn, "/")
	if len(parts) != 3 || parts[0] != connPrefix || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrBadConn, conn)
	}
	if _, err := strconv.ParseUint(parts[2], 10, 16); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadConn, conn)
	}
	return net.JoinHostPort(parts[1], parts[2]), nil
}

// FormatConn is the inverse of ParseConn.
func FormatConn(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return connPrefix + "/" + addr
	}
	return connPrefix + "/" + host + "/" + port
}

// Identity is the parsed reply to *IDN?.
type Identity struct {
	Vendor  string
	Model   string
	Serial  string
	Version string
}

// ParseIdentity parses "vendor,model,serial,version".
func ParseIdentity(line string) (Identity, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 4 {
		return Identity{}, fmt.Errorf("unexpected *IDN? reply %q", line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return Identity{Vendor: fields[0], Model: fields[1], Serial: fields[2], Version: fields[3]}, nil
}

// Dialer opens the instrument socket.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Browser returns the addresses of instruments found before ctx is done.
type Browser func(ctx context.Context) ([]string, error)

// Driver is the SCPI multimeter driver.
type Driver struct {
	driver.Base
	Dial          Dialer
	Browse        Browser
	BrowseTimeout time.Duration
	ReplyTimeout  time.Duration
}

// New returns a driver that dials real sockets and browses mDNS for at
// most browseTimeout.
func New(browseTimeout time.Duration) *Driver {
	var d net.Dialer
	return &Driver{
		Base: driver.Base{
			ID:        "scpi-dmm",
			Long:      "SCPI multimeter over raw TCP",
			Functions: []config.Key{config.KeyMultimeter},
			Scanopts:  []config.Key{config.KeyConn},
		},
		Dial:          d.DialContext,
		Browse:        BrowseMDNS,
		BrowseTimeout: browseTimeout,
		ReplyTimeout:  defaultReplyTimeout,
	}
}

// BrowseMDNS collects _scpi-raw._tcp announcements until ctx is done.
func BrowseMDNS(ctx context.Context) ([]string, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		errc <- zeroconf.Browse(ctx, ServiceType, domain, entries, removed)
	}()

	seen := map[string]bool{}
	var addrs []string
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return addrs, nil
			}
			for _, addr := range entryAddrs(entry) {
				if !seen[addr] {
					seen[addr] = true
					addrs = append(addrs, addr)
				}
			}
		case <-removed:
		case err := <-errc:
			if err != nil && ctx.Err() == nil {
				return addrs, fmt.Errorf("mdns browse: %w", err)
			}
			return addrs, nil
		case <-ctx.Done():
			return addrs, nil
		}
	}
}

func entryAddrs(entry *zeroconf.ServiceEntry) []string {
	port := strconv.Itoa(entry.Port)
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs
}

func (d *Driver) replyTimeout() time.Duration {
	if d.ReplyTimeout <= 0 {
		return defaultReplyTimeout
	}
	return d.ReplyTimeout
}

// Scan probes conn, or every instrument announced over mDNS.
func (d *Driver) Scan(ctx context.Context, opts config.Options) ([]*device.Device, error) {
	var addrs []string
	if conn := opts.Str(config.KeyConn, ""); conn != "" {
		addr, err := ParseConn(conn)
		if err != nil {
			return nil, err
		}
		addrs = []string{addr}
	} else if d.Browse != nil {
		timeout := d.BrowseTimeout
		if timeout <= 0 {
			timeout = defaultBrowseTimeout
		}
		bctx, cancel := context.WithTimeout(ctx, timeout)
		found, err := d.Browse(bctx)
		cancel()
		if err != nil {
			monitoring.Warnf("scpi-dmm: %v", err)
		}
		addrs = found
	}

	var devices []*device.Device
	for _, addr := range addrs {
		id, err := d.probe(ctx, addr)
		if err != nil {
			monitoring.Infof("scpi-dmm: no instrument at %s: %v", addr, err)
			continue
		}
		devices = append(devices, d.newDevice(addr, id))
	}
	return devices, nil
}

func (d *Driver) probe(ctx context.Context, addr string) (Identity, error) {
	c, err := d.connect(ctx, addr)
	if err != nil {
		return Identity{}, err
	}
	defer c.close()
	line, err := c.query("*IDN?")
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(line)
}

func (d *Driver) connect(ctx context.Context, addr string) (*client, error) {
	dctx, cancel := context.WithTimeout(ctx, d.replyTimeout())
	defer cancel()
	conn, err := d.Dial(dctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, r: bufio.NewReader(conn), timeout: d.replyTimeout()}, nil
}

func (d *Driver) newDevice(addr string, id Identity) *device.Device {
	dev := device.New(d, device.Info{
		Vendor:       id.Vendor,
		Model:        id.Model,
		Version:      id.Version,
		SerialNumber: id.Serial,
		Conn:         FormatConn(addr),
	}, &meter{driver: d, addr: addr})

	getSet := config.CapGet | config.CapSet
	cfg := dev.Config()
	cfg.Define(config.KeyConn, device.Entry{Caps: config.CapGet, Value: config.StringValue(FormatConn(addr))})
	mqs := make([]config.Value, len(quantities))
	for i, q := range quantities {
		mqs[i] = config.StringValue(q.name)
	}
	cfg.Define(config.KeyMeasuredQuantity, device.Entry{Caps: getSet | config.CapList, Value: mqs[0], List: mqs})
	cfg.Define(config.KeySampleRate, device.Entry{Caps: getSet, Value: config.IntValue(defaultSampleRate), OnSet: checkRate})
	cfg.Define(config.KeyLimitSamples, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	cfg.Define(config.KeyLimitMsec, device.Entry{Caps: getSet, Value: config.IntValue(0)})
	cfg.Define(config.KeyContinuous, device.Entry{Caps: getSet, Value: config.BoolValue(false)})

	dev.AddChannel(device.ChannelAnalog, "P1")
	return dev
}

func checkRate(v config.Value) error {
	if n := v.Int(); n < 1 || n > 1000 {
		return fmt.Errorf("%w: samplerate must be between 1 and 1000 readings per second", config.ErrInvalidValue)
	}
	return nil
}

// quantity maps a measured_quantity value to its SCPI function.
type quantity struct {
	name     string
	function string
	unit     string
}

var quantities = []quantity{
	{"voltage_dc", "VOLT:DC", "V"},
	{"voltage_ac", "VOLT:AC", "V"},
	{"current_dc", "CURR:DC", "A"},
	{"current_ac", "CURR:AC", "A"},
	{"resistance", "RES", "ohm"},
	{"frequency", "FREQ", "Hz"},
}

func lookupQuantity(name string) (quantity, bool) {
	for _, q := range quantities {
		if q.name == name {
			return q, true
		}
	}
	return quantity{}, false
}

// client is one newline-terminated SCPI session.
type client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func (c *client) send(command string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(command + "\n"))
	return err
}

func (c *client) query(command string) (string, error) {
	if err := c.send(command); err != nil {
		return "", err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("no reply to %s: %w", command, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *client) close() error { return c.conn.Close() }
