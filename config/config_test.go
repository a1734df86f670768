package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "cuda", cfg.Model.Device)
	assert.Equal(t, "ViT-L-14-336", cfg.Model.VisionModelName)
	assert.Equal(t, 1, cfg.Model.Workers)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, int64(40_000_000), cfg.Fetch.MaxPixels)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 336, cfg.ImageSize())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigEnv(t *testing.T) {
	t.Run("prefixed", func(t *testing.T) {
		t.Setenv("CLIP_MODEL_DEVICE", "cpu")
		t.Setenv("CLIP_SERVER_PORT", "9001")
		t.Setenv("CLIP_FETCH_TIMEOUT", "3s")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "cpu", cfg.Model.Device)
		assert.Equal(t, 9001, cfg.Server.Port)
		assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	})

	t.Run("legacy names", func(t *testing.T) {
		t.Setenv("DEVICE", "cpu")
		t.Setenv("MODEL_BASE_DIR", "/opt/models")
		t.Setenv("CN_CLIP_MODEL_PATH", "clip_cn_vit-b-16.pt")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "cpu", cfg.Model.Device)
		assert.Equal(t, "/opt/models/clip_cn_vit-b-16.pt", cfg.ModelPath())
	})

	t.Run("prefixed wins over legacy", func(t *testing.T) {
		t.Setenv("DEVICE", "cuda")
		t.Setenv("CLIP_MODEL_DEVICE", "cpu")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "cpu", cfg.Model.Device)
	})
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
model:
  vision_model_name: ViT-B-16
  workers: 4
server:
  port: 8080
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ViT-B-16", cfg.Model.VisionModelName)
	assert.Equal(t, 224, cfg.ImageSize())
	assert.Equal(t, 4, cfg.Model.Workers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, "RoBERTa-wwm-ext-base-chinese", cfg.Model.TextModelName)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad device", func(c *Config) { c.Model.Device = "tpu" }},
		{"zero workers", func(c *Config) { c.Model.Workers = 0 }},
		{"unknown vision model", func(c *Config) { c.Model.VisionModelName = "ViT-X" }},
		{"bad inference url", func(c *Config) { c.Model.InferenceURL = "not a url" }},
		{"zero fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }},
		{"zero pixel budget", func(c *Config) { c.Fetch.MaxPixels = 0 }},
		{"auth without secret", func(c *Config) { c.Auth.Required = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModelPath(t *testing.T) {
	cfg := &Config{Model: ModelConfig{BaseDir: "models", Path: "/abs/clip.pt"}}
	assert.Equal(t, "/abs/clip.pt", cfg.ModelPath())

	cfg.Model.Path = "clip.pt"
	assert.Equal(t, filepath.Join("models", "clip.pt"), cfg.ModelPath())
}

func TestJSONSchema(t *testing.T) {
	schemaJSON, err := JSONSchema()

	assert.NoError(t, err)
	assert.NotNil(t, schemaJSON)
	unmarshalledSchema := &jsonschema.Schema{}
	err = unmarshalledSchema.UnmarshalJSON(schemaJSON)
	assert.NoError(t, err)
	assert.Contains(t, string(schemaJSON), "inference_url")
}
