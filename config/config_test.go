package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojopool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, 10*time.Second, cfg.BufferPool.MaxWait)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
  format: json
telemetry:
  enabled: true
  prometheus_port: 9464
buffer_pool:
  num_frames: 3
  block_size: 512
  max_wait: 250ms
  data_dir: /var/lib/gojopool/data
wal:
  dir: /var/lib/gojopool/wal
  flush_interval: 1s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, 9464, cfg.Telemetry.PrometheusPort)
	require.Equal(t, "gojopool", cfg.Telemetry.ServiceName, "unset keys keep their defaults")
	require.Equal(t, 3, cfg.BufferPool.NumFrames)
	require.Equal(t, 512, cfg.BufferPool.BlockSize)
	require.Equal(t, 250*time.Millisecond, cfg.BufferPool.MaxWait)
	require.Equal(t, "/var/lib/gojopool/wal", cfg.WAL.Dir)
	require.Equal(t, time.Second, cfg.WAL.FlushInterval)
	require.Equal(t, Default().WAL.BufferSize, cfg.WAL.BufferSize)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "buffer_pool:\n  frames: 3\n"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "buffer_pool:\n  num_frames: 0\n  max_wait: -1s\n"))
	require.ErrorContains(t, err, "num_frames")
	require.ErrorContains(t, err, "max_wait")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("gojopool.example.yaml")
	require.NoError(t, err)
	require.Equal(t, Default().BufferPool, cfg.BufferPool)
	require.Equal(t, 200*time.Millisecond, cfg.WAL.FlushInterval)
	require.Equal(t, 9464, cfg.Telemetry.PrometheusPort)
	require.False(t, cfg.Telemetry.Enabled)
}
