package serialmux

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when no baud rate is given.
const DefaultBaudRate = 19200

var standardBaudRates = map[int]bool{
	110: true, 300: true, 600: true, 1200: true, 2400: true, 4800: true,
	9600: true, 14400: true, 19200: true, 28800: true, 38400: true,
	57600: true, 115200: true, 128000: true, 230400: true, 256000: true,
	460800: true, 921600: true,
}

// PortOptions describes the serial connection parameters used when opening a
// real serial port.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// ParseSerialComm parses a serialcomm string such as "115200/8n1". The
// data bits, parity and stop bits part may be omitted: "9600" means
// "9600/8n1".
func ParseSerialComm(s string) (PortOptions, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortOptions{}.Normalise()
	}
	baudPart, framePart, hasFrame := strings.Cut(s, "/")
	baud, err := strconv.Atoi(baudPart)
	if err != nil {
		return PortOptions{}, fmt.Errorf("invalid baud rate %q in serialcomm %q", baudPart, s)
	}
	opts := PortOptions{BaudRate: baud}
	if hasFrame {
		if len(framePart) != 3 {
			return PortOptions{}, fmt.Errorf("invalid frame %q in serialcomm %q: expected e.g. 8n1", framePart, s)
		}
		if opts.DataBits, err = strconv.Atoi(framePart[:1]); err != nil {
			return PortOptions{}, fmt.Errorf("invalid data bits in serialcomm %q", s)
		}
		opts.Parity = framePart[1:2]
		if opts.StopBits, err = strconv.Atoi(framePart[2:]); err != nil {
			return PortOptions{}, fmt.Errorf("invalid stop bits in serialcomm %q", s)
		}
	}
	return opts.Normalise()
}

// String renders the options in serialcomm form.
func (o PortOptions) String() string {
	n, err := o.Normalise()
	if err != nil {
		n = o
	}
	return fmt.Sprintf("%d/%d%s%d", n.BaudRate, n.DataBits, strings.ToLower(n.Parity), n.StopBits)
}

// Normalise validates the options and applies defaults for any unset values.
func (o PortOptions) Normalise() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if !standardBaudRates[opts.BaudRate] {
		return opts, fmt.Errorf("invalid baud rate %d: not a standard rate", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// WithDefaultBaud returns o with its baud rate set to baud when unset.
func (o PortOptions) WithDefaultBaud(baud int) PortOptions {
	if o.BaudRate <= 0 {
		o.BaudRate = baud
	}
	return o
}

// Equal reports whether two PortOptions describe the same serial configuration.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalise()
	b, errB := other.Normalise()
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// SerialMode converts the port options into the serial.Mode structure
// required by go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}
