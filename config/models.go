package config

import "time"

// Config holds the configuration of the application
// Use config.LoadConfig to create a new instance
type Config struct {
	Model   ModelConfig   `mapstructure:"model" json:"model" yaml:"model"`
	Fetch   FetchConfig   `mapstructure:"fetch" json:"fetch" yaml:"fetch"`
	Server  ServerConfig  `mapstructure:"server" json:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" json:"log" yaml:"log"`
	Auth    AuthConfig    `mapstructure:"auth" json:"auth" yaml:"auth"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
}

// ModelConfig describes the CLIP checkpoint and the inference runtime that serves it.
type ModelConfig struct {
	BaseDir         string `mapstructure:"base_dir" json:"base_dir" yaml:"base_dir"`
	Path            string `mapstructure:"path" json:"path" yaml:"path" validate:"required"`
	Device          string `mapstructure:"device" json:"device" yaml:"device" validate:"oneof=cuda cpu"`
	VisionModelName string `mapstructure:"vision_model_name" json:"vision_model_name" yaml:"vision_model_name" validate:"required"`
	TextModelName   string `mapstructure:"text_model_name" json:"text_model_name" yaml:"text_model_name" validate:"required"`
	InferenceURL    string `mapstructure:"inference_url" json:"inference_url" yaml:"inference_url" validate:"required,url"`
	// Workers is the number of concurrent inference calls. 1 serializes access to the model.
	Workers  int           `mapstructure:"workers" json:"workers" yaml:"workers" validate:"gte=1"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	RetryMax int           `mapstructure:"retry_max" json:"retry_max" yaml:"retry_max" validate:"gte=0"`
}

type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxBytes int64         `mapstructure:"max_bytes" json:"max_bytes" yaml:"max_bytes" validate:"gt=0"`
	// MaxPixels caps width*height of any decoded image, whatever its source.
	MaxPixels int64 `mapstructure:"max_pixels" json:"max_pixels" yaml:"max_pixels" validate:"gt=0"`
}

type ServerConfig struct {
	Host           string `mapstructure:"host" json:"host" yaml:"host"`
	Port           int    `mapstructure:"port" json:"port" yaml:"port" validate:"gt=0,lte=65535"`
	MaxRequestSize int64  `mapstructure:"max_request_size" json:"max_request_size" yaml:"max_request_size" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" json:"level" yaml:"level"`
}

type AuthConfig struct {
	Secret   string `mapstructure:"secret" json:"secret" yaml:"secret"`
	Required bool   `mapstructure:"required" json:"required" yaml:"required"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}
