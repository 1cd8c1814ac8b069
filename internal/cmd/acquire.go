package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/device"
	"github.com/banshee-data/sigcap/internal/driver"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/session"
	"github.com/banshee-data/sigcap/internal/version"
)

func (a *App) printVersion() error {
	w := a.Stdout
	fmt.Fprintln(w, version.String())
	fmt.Fprintln(w, "\nSupported hardware drivers:")
	for _, d := range a.Drivers.All() {
		fmt.Fprintf(w, "  %-12s %s\n", d.Name(), d.LongName())
	}
	fmt.Fprintln(w, "\nSupported input formats:")
	for _, f := range a.Inputs.All() {
		fmt.Fprintf(w, "  %-12s %s\n", f.Name, f.Description)
	}
	fmt.Fprintln(w, "\nSupported output formats:")
	for _, f := range a.Outputs.All() {
		fmt.Fprintf(w, "  %-12s %s\n", f.Name, f.Description)
	}
	return nil
}

// scanAll probes every driver with its default options.
func (a *App) scanAll(ctx context.Context) error {
	for _, d := range a.Drivers.All() {
		devices, err := driver.Scan(ctx, d, nil)
		if err != nil {
			monitoring.Warnf("%v", err)
			continue
		}
		a.metrics.ObserveScan(d.Name(), len(devices))
		for _, dev := range devices {
			fmt.Fprintln(a.Stdout, dev)
		}
	}
	return nil
}

// acquire runs the -d flow: scan, then show, get/set or acquisition on the
// first device found.
func (a *App) acquire(ctx context.Context) error {
	o := &a.opts
	devices, err := a.Drivers.ScanSpec(ctx, o.driver)
	if err != nil {
		return err
	}
	name, _ := config.SplitSpec(o.driver)
	a.metrics.ObserveScan(name, len(devices))
	if len(devices) == 0 {
		return fmt.Errorf("%w with driver %s", driver.ErrDeviceNotFound, name)
	}
	if o.scan {
		for _, dev := range devices {
			fmt.Fprintln(a.Stdout, dev)
		}
		return nil
	}

	dev := devices[0]
	if err := dev.Open(); err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			monitoring.Errorf("%v", err)
		}
	}()

	a.selectChannels(dev)
	cg := device.SelectChannelGroup(dev, o.channelGroup)
	if o.channelGroup != "" && cg == nil {
		monitoring.Warnf("channel group %q not found, using the whole device", o.channelGroup)
	}
	var target device.Configurable = dev
	if cg != nil {
		target = cg
	}

	if o.show {
		_, err := device.Inspect(dev, cg).WriteTo(a.Stdout)
		return err
	}
	if err := a.applyLimits(dev); err != nil {
		return err
	}
	if o.config != "" {
		if err := device.ApplyOptions(target, o.config); err != nil {
			return err
		}
	}
	if o.get != "" {
		return a.printOptions(target)
	}
	if o.set {
		return nil
	}

	s := session.New(a.metrics)
	if err := s.AddDevice(dev); err != nil {
		return err
	}
	return a.runSession(ctx, s)
}

func (a *App) selectChannels(d *device.Device) {
	if a.opts.channels != "" {
		device.SelectChannels(d, device.ParseChannelList(a.opts.channels))
	}
}

// applyLimits sets the acquisition limits given on the command line.
func (a *App) applyLimits(d *device.Device) error {
	o := &a.opts
	for _, l := range []struct {
		key config.Key
		raw string
	}{
		{config.KeyLimitMsec, o.time},
		{config.KeyLimitSamples, o.samples},
		{config.KeyLimitFrames, o.frames},
	} {
		if l.raw == "" {
			continue
		}
		v, err := l.key.Parse(l.raw)
		if err != nil {
			return err
		}
		if err := d.ConfigSet(l.key, v); err != nil {
			return fmt.Errorf("failed to configure %s: %w", l.key.Description(), err)
		}
	}
	if o.continuous {
		if !d.ConfigCheck(config.KeyContinuous, config.CapSet) {
			monitoring.Infof("%s has no continuous mode, sampling until interrupted", d.Driver().Name())
			return nil
		}
		if err := d.ConfigSet(config.KeyContinuous, config.BoolValue(true)); err != nil {
			return fmt.Errorf("failed to enable continuous sampling: %w", err)
		}
	}
	return nil
}

// printOptions prints each --get option on its own line. Failures are
// reported individually; the others are still read.
func (a *App) printOptions(c device.Configurable) error {
	var failed []string
	for _, r := range device.GetAll(c, strings.Split(a.opts.get, ",")) {
		if r.Err != nil {
			switch {
			case errors.Is(r.Err, config.ErrUnknownKey):
				fmt.Fprintf(a.Stderr, "Unknown option %s\n", r.Identifier)
			default:
				fmt.Fprintf(a.Stderr, "Failed to get %s: %v\n", r.Identifier, r.Err)
			}
			failed = append(failed, r.Identifier)
			continue
		}
		fmt.Fprintln(a.Stdout, r.Value.Format(r.Key))
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not get %s", strings.Join(failed, ", "))
	}
	return nil
}

// runSession attaches the output sink to s, runs it to completion and
// finishes the output.
func (a *App) runSession(ctx context.Context, s *session.Session) (err error) {
	sink := a.newSink(s)
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := s.AddDatafeedCallback(sink.Observe); err != nil {
		return err
	}
	release := a.stopOnSignal(s)
	defer release()
	if err := s.Start(ctx); err != nil {
		if errors.Is(err, session.ErrStopped) {
			return nil
		}
		return err
	}
	return s.Run()
}

func (a *App) newSink(s *session.Session) *session.Sink {
	return session.NewSink(session.SinkConfig{
		Formats:  a.Outputs,
		Format:   a.opts.outputFormat,
		Path:     a.opts.outputFile,
		Stdout:   a.Stdout,
		Defaults: a.defaults,
		Metrics:  a.metrics,
		Session:  s.ID(),
	})
}
