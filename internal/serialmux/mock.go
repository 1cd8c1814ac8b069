package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort once closed.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with scripted replies
// for tests. Reads block until data arrives, the port closes or the read
// timeout elapses, matching go.bug.st/serial semantics.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	notify   chan struct{}
	replies  map[string][]byte

	// ReadTimeout is the current read timeout; zero blocks forever.
	ReadTimeout time.Duration
	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error
	// Closed indicates whether Close was called.
	Closed bool
	// Writes records every Write payload.
	Writes []string
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		notify:  make(chan struct{}),
		replies: map[string][]byte{},
	}
}

// Reply makes the port answer command with reply. A command matches when
// a write, with trailing whitespace trimmed, equals it.
func (t *TestableSerialPort) Reply(command string, reply []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[command] = reply
}

// wake must be called with mu held.
func (t *TestableSerialPort) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	var deadline <-chan time.Time
	for {
		t.mu.Lock()
		if t.Closed {
			t.mu.Unlock()
			return 0, ErrPortClosed
		}
		if t.readBuf.Len() > 0 {
			n, _ := t.readBuf.Read(p)
			t.mu.Unlock()
			return n, nil
		}
		notify := t.notify
		if deadline == nil && t.ReadTimeout > 0 {
			deadline = time.After(t.ReadTimeout)
		}
		t.mu.Unlock()

		select {
		case <-notify:
		case <-deadline:
			return 0, nil
		}
	}
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	t.Writes = append(t.Writes, string(p))
	t.writeBuf.Write(p)
	if reply, ok := t.replies[strings.TrimRight(string(p), "\r\n ")]; ok {
		t.readBuf.Write(reply)
		t.wake()
	}
	return len(p), nil
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Closed {
		t.Closed = true
		t.wake()
	}
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.Write(data)
	t.wake()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.writeBuf.Bytes()...)
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Ports maps a path to the port returned for it. Port is used for
	// paths not in the map.
	Ports map[string]SerialPorter
	Port  SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port, Ports: map[string]SerialPorter{}}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	if p, ok := f.Ports[path]; ok {
		return p, nil
	}
	if f.Port == nil {
		return nil, io.ErrClosedPipe
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
