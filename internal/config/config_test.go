package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `logging:
  level: debug
worker:
  queue_size: 8
daemon:
  port: 6000
  rate_limit:
    enabled: false
transport:
  codec: cbor
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	t.Setenv("LGWORKER_WORKER_MAX_CONCURRENT_PARSES", "2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level=warn"}))

	cfg, err := Load(path, map[string]*pflag.Flag{"logging.level": flags.Lookup("log-level")})
	require.NoError(t, err)

	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 8, cfg.Worker.QueueSize)
	require.Equal(t, 2, cfg.Worker.MaxConcurrentParses)
	require.Equal(t, ".lg", cfg.Worker.ImportExtension)
	require.Equal(t, 6000, cfg.Daemon.Port)
	require.False(t, cfg.Daemon.RateLimit.Enabled)
	require.Equal(t, "cbor", cfg.Transport.Codec)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Worker, cfg.Worker)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Worker.QueueSize = 0
	cfg.Worker.ImportExtension = "lg"
	cfg.Transport.Codec = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue_size")
	require.Contains(t, err.Error(), "xml")
}
