package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SIGCAP_BLOCK_SIZE.
const EnvPrefix = "SIGCAP"

// Built-in defaults used when neither the config file nor the environment
// provide a value.
const (
	DefaultFileOutputFormat   = "srzip"
	DefaultStdoutOutputFormat = "bits"
	DefaultBlockSize          = 4096
	DefaultScanTimeout        = "2s"
	DefaultLogLevel           = 2
)

// Defaults holds the tool-level settings read from the optional config file.
// Fields left unset fall back to the built-in defaults through the Get
// methods, so partial files are safe.
type Defaults struct {
	FileOutputFormat   *string `mapstructure:"file_output_format" json:"file_output_format,omitempty"`
	StdoutOutputFormat *string `mapstructure:"stdout_output_format" json:"stdout_output_format,omitempty"`
	BlockSize          *int    `mapstructure:"block_size" json:"block_size,omitempty"`
	ScanTimeout        *string `mapstructure:"scan_timeout" json:"scan_timeout,omitempty"` // duration string like "2s"
	LogLevel           *int    `mapstructure:"log_level" json:"log_level,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// BuiltinDefaults returns a Defaults with every field set.
func BuiltinDefaults() *Defaults {
	return &Defaults{
		FileOutputFormat:   ptrString(DefaultFileOutputFormat),
		StdoutOutputFormat: ptrString(DefaultStdoutOutputFormat),
		BlockSize:          ptrInt(DefaultBlockSize),
		ScanTimeout:        ptrString(DefaultScanTimeout),
		LogLevel:           ptrInt(DefaultLogLevel),
	}
}

// GetFileOutputFormat returns the output format used when writing to a file
// and no -O is given.
func (d *Defaults) GetFileOutputFormat() string {
	if d == nil || d.FileOutputFormat == nil || *d.FileOutputFormat == "" {
		return DefaultFileOutputFormat
	}
	return *d.FileOutputFormat
}

// GetStdoutOutputFormat returns the output format used for stdout.
func (d *Defaults) GetStdoutOutputFormat() string {
	if d == nil || d.StdoutOutputFormat == nil || *d.StdoutOutputFormat == "" {
		return DefaultStdoutOutputFormat
	}
	return *d.StdoutOutputFormat
}

// GetBlockSize returns the raw-file replay chunk size in bytes.
func (d *Defaults) GetBlockSize() int {
	if d == nil || d.BlockSize == nil || *d.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return *d.BlockSize
}

// GetScanTimeout returns how long network discovery may run during a scan.
func (d *Defaults) GetScanTimeout() time.Duration {
	fallback, _ := time.ParseDuration(DefaultScanTimeout)
	if d == nil || d.ScanTimeout == nil {
		return fallback
	}
	v, err := time.ParseDuration(*d.ScanTimeout)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// GetLogLevel returns the diagnostic log level (0 none .. 5 spew).
func (d *Defaults) GetLogLevel() int {
	if d == nil || d.LogLevel == nil {
		return DefaultLogLevel
	}
	return *d.LogLevel
}

// Validate checks that the set fields hold usable values.
func (d *Defaults) Validate() error {
	var errs []error
	if d.BlockSize != nil && *d.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block_size must be positive, got %d", *d.BlockSize))
	}
	if d.ScanTimeout != nil {
		if v, err := time.ParseDuration(*d.ScanTimeout); err != nil {
			errs = append(errs, fmt.Errorf("invalid scan_timeout %q: %w", *d.ScanTimeout, err))
		} else if v <= 0 {
			errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %s", v))
		}
	}
	if d.LogLevel != nil && (*d.LogLevel < 0 || *d.LogLevel > 5) {
		errs = append(errs, fmt.Errorf("log_level must be between 0 and 5, got %d", *d.LogLevel))
	}
	if d.FileOutputFormat != nil && strings.TrimSpace(*d.FileOutputFormat) == "" {
		errs = append(errs, errors.New("file_output_format must not be empty"))
	}
	if d.StdoutOutputFormat != nil && strings.TrimSpace(*d.StdoutOutputFormat) == "" {
		errs = append(errs, errors.New("stdout_output_format must not be empty"))
	}
	return errors.Join(errs...)
}

// SetDefaults registers the built-in defaults with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("file_output_format", DefaultFileOutputFormat)
	v.SetDefault("stdout_output_format", DefaultStdoutOutputFormat)
	v.SetDefault("block_size", DefaultBlockSize)
	v.SetDefault("scan_timeout", DefaultScanTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
}

// NewViper returns a viper instance with the built-in defaults and
// SIGCAP_* environment overrides configured. When path is empty the first
// existing file of ConfigDir()/config.yaml and ./sigcap.yaml is read; having
// neither is not an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		for _, candidate := range []string{filepath.Join(ConfigDir(), "config.yaml"), "sigcap.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return v, nil
}

// Load unmarshals v into a Defaults and validates it.
func Load(v *viper.Viper) (*Defaults, error) {
	var d Defaults
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &d, nil
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sigcap")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sigcap"
	}
	return filepath.Join(home, ".config", "sigcap")
}
