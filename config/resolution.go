package config

import "fmt"

// inputResolutions is the square input size each vision tower was trained at.
var inputResolutions = map[string]int{
	"RN50":         224,
	"ViT-B-16":     224,
	"ViT-L-14":     224,
	"ViT-L-14-336": 336,
	"ViT-H-14":     224,
}

// InputResolution returns the image side length the given vision model expects.
func InputResolution(visionModelName string) (int, error) {
	size, ok := inputResolutions[visionModelName]
	if !ok {
		return 0, fmt.Errorf("unsupported vision model: %s", visionModelName)
	}
	return size, nil
}

// ImageSize is the input resolution of the configured vision model.
func (c *Config) ImageSize() int {
	size, _ := InputResolution(c.Model.VisionModelName)
	return size
}
