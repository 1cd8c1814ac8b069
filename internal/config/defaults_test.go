package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Getters_NilFallback(t *testing.T) {
	var d *Defaults
	assert.Equal(t, "srzip", d.GetFileOutputFormat())
	assert.Equal(t, "bits", d.GetStdoutOutputFormat())
	assert.Equal(t, 4096, d.GetBlockSize())
	assert.Equal(t, 2*time.Second, d.GetScanTimeout())
	assert.Equal(t, 2, d.GetLogLevel())

	empty := &Defaults{}
	assert.Equal(t, 4096, empty.GetBlockSize())
	assert.NoError(t, empty.Validate())
}

func TestDefaults_Validate(t *testing.T) {
	tests := []struct {
		name    string
		d       Defaults
		wantErr bool
	}{
		{"builtin", *BuiltinDefaults(), false},
		{"zero block", Defaults{BlockSize: ptrInt(0)}, true},
		{"bad timeout", Defaults{ScanTimeout: ptrString("soon")}, true},
		{"negative timeout", Defaults{ScanTimeout: ptrString("-1s")}, true},
		{"log level too high", Defaults{LogLevel: ptrInt(9)}, true},
		{"blank format", Defaults{FileOutputFormat: ptrString(" ")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sigcap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_size: 512\nstdout_output_format: hex\n"), 0o644))

	v, err := NewViper(path)
	require.NoError(t, err)
	d, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 512, d.GetBlockSize())
	assert.Equal(t, "hex", d.GetStdoutOutputFormat())
	assert.Equal(t, "srzip", d.GetFileOutputFormat())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SIGCAP_LOG_LEVEL", "4")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	v, err := NewViper("")
	require.NoError(t, err)
	d, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 4, d.GetLogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_size: -1\n"), 0o644))
	v, err := NewViper(path)
	require.NoError(t, err)
	_, err = Load(v)
	assert.Error(t, err)
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
