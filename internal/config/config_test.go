package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.EqualValues(t, 50, cfg.Speaking.LevelThreshold)
	assert.Equal(t, 400*time.Millisecond, cfg.Speaking.Hold)
	assert.Equal(t, "webrtc", cfg.Client.Transport)
	assert.Equal(t, 30, cfg.Client.FrameRate)
	assert.Equal(t, 15*time.Second, cfg.Client.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.Engine.DetectTimeout)
	assert.True(t, cfg.Client.Audio.Enabled)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
mode: debug
port: 9000
log_level: debug
client:
  display_name: Ana
  transport: mqtt
  engine:
    command: ./models/run_landmarker.sh
    args: ["--delegate", "cpu"]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("MIMIC_PORT", "9100")
	t.Setenv("MIMIC_CLIENT_SESSION", "room-42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "Ana", cfg.Client.DisplayName)
	assert.Equal(t, "mqtt", cfg.Client.Transport)
	assert.Equal(t, "room-42", cfg.Client.Session)
	assert.Equal(t, []string{"--delegate", "cpu"}, cfg.Client.Engine.Args)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLevel_Invalid(t *testing.T) {
	cfg := &Config{LogLevel: "loud"}
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}
