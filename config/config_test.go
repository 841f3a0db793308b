package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9090"
  mode: release
classifier:
  epochs: 200
  threshold: 0.7
  seed: 42
compositor:
  parallel_channels: false
render:
  mask_color: "#FF0000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 200, cfg.Classifier.Epochs)
	assert.Equal(t, 0.7, cfg.Classifier.Threshold)
	assert.Equal(t, uint64(42), cfg.Classifier.Seed)
	assert.False(t, cfg.Compositor.ParallelChannels)
	assert.Equal(t, "#FF0000", cfg.Render.MaskColor)

	// 未配置的字段取默认值
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 0.01, cfg.Classifier.LearningRate)
	assert.Equal(t, 16, cfg.Classifier.Hidden1)
	assert.Equal(t, 32, cfg.Classifier.Hidden2)
	assert.Equal(t, 3, cfg.Compositor.DilationKernel)
	assert.Equal(t, 1e-8, cfg.Compositor.Tolerance)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/jpg"}, cfg.Upload.AllowedTypes)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CLONEKIT_CLASSIFIER_EPOCHS", "50")
	path := writeConfig(t, "server:\n  mode: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Classifier.Epochs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultMatchesLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
