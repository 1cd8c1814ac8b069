// Package cmd is the sigcap command line: flag parsing, config layering and
// dispatch to scan, show, get/set, acquisition or file replay.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/sigcap/internal/config"
	"github.com/banshee-data/sigcap/internal/driver"
	"github.com/banshee-data/sigcap/internal/driver/bitscope"
	"github.com/banshee-data/sigcap/internal/driver/demo"
	"github.com/banshee-data/sigcap/internal/driver/radar"
	"github.com/banshee-data/sigcap/internal/driver/scpi"
	"github.com/banshee-data/sigcap/internal/format/input"
	"github.com/banshee-data/sigcap/internal/format/output"
	"github.com/banshee-data/sigcap/internal/metrics"
	"github.com/banshee-data/sigcap/internal/monitoring"
	"github.com/banshee-data/sigcap/internal/session"
)

// errUsage asks for the usage text and exit code 1.
var errUsage = errors.New("no action requested")

// options holds the parsed flags.
type options struct {
	version      bool
	logLevel     int
	driver       string
	config       string
	inputFile    string
	inputFormat  string
	outputFile   string
	outputFormat string
	channels     string
	channelGroup string
	scan         bool
	show         bool
	time         string
	samples      string
	frames       string
	continuous   bool
	get          string
	set          bool
	configFile   string
	metricsFile  string
}

// hasAction reports whether the flags ask for anything to be done.
func (o *options) hasAction() bool {
	if o.version || o.scan || o.inputFile != "" {
		return true
	}
	return o.driver != "" && (o.show || o.get != "" || o.set ||
		o.time != "" || o.samples != "" || o.frames != "" || o.continuous)
}

// App wires the registries to the command line. Tests swap the registries
// and streams.
type App struct {
	Drivers *driver.Registry
	Inputs  *input.Registry
	Outputs *output.Registry
	Stdout  io.Writer
	Stderr  io.Writer

	opts     options
	defaults *config.Defaults
	metrics  *metrics.Run
	signals  chan os.Signal
}

// NewApp returns an App using the built-in formats. The built-in drivers
// are registered once the defaults file has been read, unless Drivers is
// set first.
func NewApp() *App {
	return &App{
		Inputs:  input.Default(),
		Outputs: output.Default(),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// builtinDrivers registers every driver. scan_timeout bounds network
// discovery.
func builtinDrivers(defaults *config.Defaults) *driver.Registry {
	r := driver.NewRegistry()
	r.Register(demo.New())
	r.Register(radar.New())
	r.Register(bitscope.New())
	r.Register(scpi.New(defaults.GetScanTimeout()))
	return r
}

func (a *App) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sigcap [flags]",
		Short:         "Acquire, convert and replay instrument captures",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.configure(cmd.Flags()); err != nil {
				return err
			}
			return a.dispatch(cmd.Context())
		},
	}
	cmd.SetOut(a.Stdout)
	cmd.SetErr(a.Stderr)

	f := cmd.Flags()
	f.SortFlags = false
	o := &a.opts
	f.BoolVarP(&o.version, "version", "V", false, "show version, drivers and formats")
	f.IntVarP(&o.logLevel, "loglevel", "l", config.DefaultLogLevel, "log level: 0 none, 1 error, 2 warning, 3 info, 4 debug, 5 spew")
	f.StringVarP(&o.driver, "driver", "d", "", "driver to use, with scan options: demo:num_logic_channels=4")
	f.StringVarP(&o.config, "config", "c", "", "device configuration options: samplerate=1M:pattern=random")
	f.StringVarP(&o.inputFile, "input-file", "i", "", "load input from file")
	f.StringVarP(&o.inputFormat, "input-format", "I", "", "input format, with options: binary:numchannels=4")
	f.StringVarP(&o.outputFile, "output-file", "o", "", "save output to file")
	f.StringVarP(&o.outputFormat, "output-format", "O", "", "output format, with options: bits:width=32")
	f.StringVarP(&o.channels, "channels", "C", "", "channels to use: D0,D1=clk")
	f.StringVarP(&o.channelGroup, "channel-group", "g", "", "channel group to configure")
	f.BoolVar(&o.scan, "scan", false, "scan for devices")
	f.BoolVar(&o.show, "show", false, "show device details")
	f.StringVar(&o.time, "time", "", "how long to sample, in ms or as a duration (250ms, 2s)")
	f.StringVar(&o.samples, "samples", "", "number of samples to acquire")
	f.StringVar(&o.frames, "frames", "", "number of frames to acquire")
	f.BoolVar(&o.continuous, "continuous", false, "sample continuously until interrupted")
	f.StringVar(&o.get, "get", "", "get device options only, comma separated; exits 1 if any cannot be read")
	f.BoolVar(&o.set, "set", false, "set device options only")
	f.StringVar(&o.configFile, "config-file", "", "tool defaults file (default $HOME/.config/sigcap/config.yaml)")
	f.StringVar(&o.metricsFile, "metrics-file", "", "write run counters to this file on exit")
	return cmd
}

// configure layers the defaults file and environment under the flags.
func (a *App) configure(flags *pflag.FlagSet) error {
	v, err := config.NewViper(a.opts.configFile)
	if err != nil {
		return err
	}
	if err := v.BindPFlag("log_level", flags.Lookup("loglevel")); err != nil {
		return err
	}
	defaults, err := config.Load(v)
	if err != nil {
		return err
	}
	a.defaults = defaults
	if a.Drivers == nil {
		a.Drivers = builtinDrivers(defaults)
	}
	monitoring.SetLevel(defaults.GetLogLevel())
	return nil
}

// Run parses args, runs the requested action and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	cmd := a.command()
	cmd.SetArgs(args)
	a.metrics = metrics.New()
	err := cmd.ExecuteContext(ctx)
	if a.opts.metricsFile != "" {
		if merr := a.metrics.WriteFile(a.opts.metricsFile); merr != nil {
			fmt.Fprintf(a.Stderr, "sigcap: %v\n", merr)
		}
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprint(a.Stderr, cmd.UsageString())
	default:
		fmt.Fprintf(a.Stderr, "sigcap: %v\n", err)
	}
	return 1
}

func (a *App) dispatch(ctx context.Context) error {
	o := &a.opts
	switch {
	case o.version:
		return a.printVersion()
	case !o.hasAction():
		return errUsage
	case o.scan && o.driver == "":
		return a.scanAll(ctx)
	case o.inputFile != "":
		return a.replay(ctx)
	default:
		return a.acquire(ctx)
	}
}

// stopOnSignal stops s on SIGINT or SIGTERM until the returned function is
// called.
func (a *App) stopOnSignal(s *session.Session) func() {
	ch := a.signals
	if ch == nil {
		ch = make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	}
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			monitoring.Infof("%s received, stopping", sig)
			s.Stop()
		case <-done:
		}
	}()
	return func() {
		if a.signals == nil {
			signal.Stop(ch)
		}
		close(done)
	}
}

// Execute runs sigcap with the process arguments and returns the exit code.
func Execute() int {
	return NewApp().Run(context.Background(), os.Args[1:])
}
