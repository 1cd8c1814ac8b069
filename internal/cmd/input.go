package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/format/input"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/session"
)

// detectLen is how much of a file format detection looks at.
const detectLen = 128

// replay runs the -i flow. Without -I the file is first tried as a saved
// session, then handed to the input format detected from its head.
func (a *App) replay(ctx context.Context) error {
	o := &a.opts
	if o.inputFormat != "" {
		f, err := os.Open(o.inputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		in, err := a.Inputs.Create(o.inputFormat)
		if err != nil {
			return err
		}
		return a.replayInput(ctx, in, f)
	}

	s, err := session.Load(o.inputFile, a.metrics)
	switch {
	case err == nil:
		defer func() {
			if err := s.Close(); err != nil {
				monitoring.Errorf("%v", err)
			}
		}()
		for _, d := range s.Devices() {
			a.selectChannels(d)
		}
		return a.runSession(ctx, s)
	case !errors.Is(err, session.ErrFormatMismatch):
		return err
	}

	f, err := os.Open(o.inputFile)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	head := make([]byte, detectLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	head = head[:n]
	format, err := a.Inputs.Detect(head)
	if err != nil {
		return fmt.Errorf("%s: %w", o.inputFile, err)
	}
	monitoring.Infof("detected %s input", format.Name)
	in, err := format.Create(nil)
	if err != nil {
		return err
	}
	return a.replayInput(ctx, in, io.MultiReader(bytes.NewReader(head), f))
}

// replayInput feeds r through in and writes the resulting datafeed. in is
// ended exactly once whatever happens.
func (a *App) replayInput(ctx context.Context, in input.Input, r io.Reader) (err error) {
	s := session.New(a.metrics)
	sink := a.newSink(s)
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := s.AddDatafeedCallback(sink.Observe); err != nil {
		return errors.Join(err, in.End())
	}
	release := a.stopOnSignal(s)
	defer release()

	var channels []device.ChannelSpec
	if a.opts.channels != "" {
		channels = device.ParseChannelList(a.opts.channels)
	}
	return session.Replay(ctx, s, in, r, session.ReplayConfig{
		BlockSize: a.defaults.GetBlockSize(),
		Channels:  channels,
		Metrics:   a.metrics,
	})
}
