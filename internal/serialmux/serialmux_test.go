package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestSerialMux_Monitor tests that lines read from the port reach every
// subscriber.
func TestSerialMux_Monitor(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("first\r\nsecond\n"))

	for _, ch := range []chan string{ch1, ch2} {
		for _, want := range []string{"first", "second"} {
			select {
			case got := <-ch:
				if got != want {
					t.Errorf("got %q, want %q", got, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	mux.Close()
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("??"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("OJ\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "??\nOJ\n" {
		t.Errorf("written = %q", got)
	}

	port.WriteError = errors.New("boom")
	if err := mux.SendCommand("x"); err == nil {
		t.Error("expected write error")
	}
}

func TestSerialMux_Query(t *testing.T) {
	port := NewTestableSerialPort()
	port.Reply("??", []byte("noise\r\n{\"Product\":\"OPS243\"}\r\n"))
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	line, err := mux.Query(ctx, "??", func(l string) bool { return strings.Contains(l, "Product") }, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if line != `{"Product":"OPS243"}` {
		t.Errorf("line = %q", line)
	}

	_, err = mux.Query(ctx, "silent", nil, 20*time.Millisecond)
	if !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply, got %v", err)
	}
	mux.Close()
}

func TestSerialMux_CloseOnce(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mux.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor after Close returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
}

func TestTestableSerialPort_ReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()
	if err := port.SetReadTimeout(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	start := time.Now()
	n, err := port.Read(buf)
	if n != 0 || err != nil {
		t.Errorf("Read = %d, %v; want 0, nil", n, err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Read returned before the timeout")
	}
}

func TestMockSerialPortFactory(t *testing.T) {
	port := NewTestableSerialPort()
	f := NewMockSerialPortFactory(port)
	other := NewTestableSerialPort()
	f.Ports["/dev/ttyACM1"] = other

	got, err := f.Open("/dev/ttyUSB0", PortOptions{BaudRate: 9600})
	if err != nil || got != port {
		t.Fatalf("Open = %v, %v", got, err)
	}
	got, err = f.Open("/dev/ttyACM1", PortOptions{})
	if err != nil || got != other {
		t.Fatalf("Open mapped path = %v, %v", got, err)
	}
	if last := f.LastCall(); last == nil || last.Path != "/dev/ttyACM1" {
		t.Errorf("LastCall = %+v", last)
	}

	f.Error = errors.New("busy")
	if _, err := f.Open("/dev/ttyUSB0", PortOptions{}); err == nil {
		t.Error("expected factory error")
	}
}

func TestRealSerialPortFactory_Open_InvalidPath(t *testing.T) {
	_, err := NewRealSerialPortFactory().Open("/dev/nonexistent-serial-port-12345", PortOptions{})
	if err == nil {
		t.Error("Expected error when opening non-existent serial port")
	}
	if _, err := NewRealSerialMux("/dev/nonexistent-serial-port-12345", PortOptions{}); err == nil {
		t.Error("Expected error from NewRealSerialMux")
	}
}
