package testutils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/getzep/clipserve/config"
)

// NewTestConfig returns a valid config that does not depend on files or the environment.
func NewTestConfig() *config.Config {
	return &config.Config{
		Model: config.ModelConfig{
			BaseDir:         "models",
			Path:            "clip_cn_vit-l-14-336.pt",
			Device:          "cpu",
			VisionModelName: "ViT-L-14-336",
			TextModelName:   "RoBERTa-wwm-ext-base-chinese",
			InferenceURL:    "http://localhost:8001",
			Workers:         2,
			Timeout:         5 * time.Second,
		},
		Fetch: config.FetchConfig{
			Timeout:   5 * time.Second,
			MaxBytes:  1 << 20,
			MaxPixels: 4_000_000,
		},
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			MaxRequestSize: 4 << 20,
		},
		Log:     config.LogConfig{Level: "debug"},
		Tracing: config.TracingConfig{ServiceName: "clipserve-test"},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

// SolidImage returns a w x h image filled with c.
func SolidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// PNGBytes encodes img as PNG, panicking on failure.
func PNGBytes(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNGBase64 encodes img as a standard base64 PNG payload.
func PNGBase64(img image.Image) string {
	return base64.StdEncoding.EncodeToString(PNGBytes(img))
}

// FindProjectRoot returns the absolute path to the project root directory.
func FindProjectRoot() (string, error) {
	_, currentFilePath, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("could not get current file path")
	}

	dir := filepath.Dir(currentFilePath)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		// If we've reached the top-level directory, the project root is not found.
		if dir == filepath.Dir(dir) {
			return "", fmt.Errorf("project root not found")
		}

		dir = filepath.Dir(dir)
	}
}
