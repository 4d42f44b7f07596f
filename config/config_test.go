package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/inference"
	"github.com/nvr-ai/traywatch/tracking"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesStore())

	if diff := cmp.Diff(controller.DefaultConfig(), cfg.Tracking.Controller()); diff != "" {
		t.Errorf("tracking defaults differ from the controller (-want +got):\n%s", diff)
	}
	assert.Equal(t, 8400, cfg.Detector.Inference().Anchors)
	assert.Equal(t, inference.ProviderCPU, cfg.Detector.Inference().Provider)
	assert.Equal(t, 250, cfg.Video.Preprocessor().CropLeft)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traywatch.yaml")
	doc := `
tracking:
  max_lost: 4
  match_policy: best
alarm:
  webhook_url: http://pos.local/alarm
  webhook_timeout: 2s
  journal: sqlite
queue:
  backend: sqlite
worker:
  concurrency: 3
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Tracking.MaxLost)
	assert.Equal(t, tracking.MatchBest, cfg.Tracking.Controller().MatchPolicy)
	assert.Equal(t, 2, cfg.Tracking.StableConfirmFrames, "unset keys keep their default")
	assert.Equal(t, "http://pos.local/alarm", cfg.Alarm.WebhookURL)
	assert.Equal(t, 2*time.Second, cfg.Alarm.WebhookTimeout)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.UsesStore())
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("tracking:\n  max_lose: 3\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap zero", func(c *Config) { c.Tracking.OverlapThreshold = 0 }},
		{"overlap one", func(c *Config) { c.Tracking.OverlapThreshold = 1 }},
		{"confirm frames", func(c *Config) { c.Tracking.StableConfirmFrames = 0 }},
		{"negative max lost", func(c *Config) { c.Tracking.MaxLost = -1 }},
		{"policy", func(c *Config) { c.Tracking.MatchPolicy = "closest" }},
		{"confidence", func(c *Config) { c.Detector.ConfidenceThreshold = 1.5 }},
		{"nms", func(c *Config) { c.Detector.NMSThreshold = 0 }},
		{"input size", func(c *Config) { c.Detector.InputSize = 100 }},
		{"class range", func(c *Config) { c.Detector.ItemClass = 2 }},
		{"same classes", func(c *Config) { c.Detector.ItemClass = 0 }},
		{"provider", func(c *Config) { c.Detector.Provider = "tpu" }},
		{"crop order", func(c *Config) { c.Video.CropRight = 200 }},
		{"brightness", func(c *Config) { c.Video.BrightnessLimit = 300 }},
		{"image format", func(c *Config) { c.Alarm.ImageFormat = "gif" }},
		{"webhook timeout", func(c *Config) { c.Alarm.WebhookTimeout = 0 }},
		{"journal backend", func(c *Config) { c.Alarm.Journal = "redis" }},
		{"queue backend", func(c *Config) { c.Queue.Backend = "redis" }},
		{"poll interval", func(c *Config) { c.Queue.PollInterval = 0 }},
		{"capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidateAllowsUncroppedVideo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Video.CropLeft = 0
	cfg.Video.CropRight = 0
	assert.NoError(t, cfg.Validate())
}
