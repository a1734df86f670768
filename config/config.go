package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/getzep/clipserve/internal"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// We're bootstrapping so avoid any imports from other packages
var log = logrus.New()

var validate = validator.New()

var defaults = map[string]any{
	"model.base_dir":          "models",
	"model.path":              "/models/clip_cn_vit-l-14-336.pt",
	"model.device":            "cuda",
	"model.vision_model_name": "ViT-L-14-336",
	"model.text_model_name":   "RoBERTa-wwm-ext-base-chinese",
	"model.inference_url":     "http://localhost:8001",
	"model.workers":           1,
	"model.timeout":           "60s",
	"model.retry_max":         0,
	"fetch.timeout":           "10s",
	"fetch.max_bytes":         20 << 20,
	"fetch.max_pixels":        40_000_000,
	"server.host":             "0.0.0.0",
	"server.port":             8000,
	"server.max_request_size": 32 << 20,
	"log.level":               "info",
	"auth.required":           false,
	"auth.secret":             "",
	"tracing.enabled":         false,
	"tracing.service_name":    "clipserve",
	"metrics.enabled":         true,
}

// legacyEnv maps config keys to the bare environment variable names used by
// earlier deployments. The prefixed CLIP_* names take precedence.
var legacyEnv = map[string]string{
	"model.base_dir": "MODEL_BASE_DIR",
	"model.path":     "CN_CLIP_MODEL_PATH",
	"model.device":   "DEVICE",
}

// LoadConfig loads the config file and ENV variables into a Config struct.
// A missing config file is not an error when no explicit path was given.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// .env values are exported before viper reads the environment
	loadDotEnv()

	v.SetEnvPrefix("CLIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range legacyEnv {
		prefixed := "CLIP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, err
		}
		log.Debug("no config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := InputResolution(c.Model.VisionModelName); err != nil {
		return err
	}
	if c.Auth.Required && c.Auth.Secret == "" {
		return errors.New("auth.secret must be set when auth.required is true")
	}
	return nil
}

// ModelPath resolves the checkpoint path against the model base directory.
// Absolute paths are returned unchanged.
func (c *Config) ModelPath() string {
	if filepath.IsAbs(c.Model.Path) || c.Model.BaseDir == "" {
		return c.Model.Path
	}
	return filepath.Join(c.Model.BaseDir, c.Model.Path)
}

// loadDotEnv loads environment variables from .env file
func loadDotEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Debug(".env file not found or unable to load")
	}
}

// SetLogLevel sets the log level based on the config file. Defaults to INFO if not set or invalid
func SetLogLevel(cfg *Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	internal.SetLogLevel(level)
	log.Info("Log level set to: ", level)
}
