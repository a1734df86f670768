package models

import "strings"

// ImageInput is one way of supplying an image: ImageURL, ImageBase64 or ImageUpload.
// Values are built with NewImageInput, which guarantees exactly one source.
type ImageInput interface {
	imageInput()
	// Source names the variant for logs and metrics.
	Source() string
}

// ImageURL is a remote http(s) image location.
type ImageURL string

// ImageBase64 is an inline base64 payload, optionally carrying a data URI prefix.
type ImageBase64 string

// ImageUpload holds the raw bytes of a multipart file upload.
type ImageUpload []byte

func (ImageURL) imageInput()    {}
func (ImageBase64) imageInput() {}
func (ImageUpload) imageInput() {}

func (ImageURL) Source() string    { return "url" }
func (ImageBase64) Source() string { return "base64" }
func (ImageUpload) Source() string { return "upload" }

// NewImageInput picks the single populated source. Blank strings and empty uploads count as
// absent. Zero or several populated sources is a ValidationError.
func NewImageInput(url, base64 string, upload []byte) (ImageInput, error) {
	var inputs []ImageInput
	if u := strings.TrimSpace(url); u != "" {
		inputs = append(inputs, ImageURL(u))
	}
	if b := strings.TrimSpace(base64); b != "" {
		inputs = append(inputs, ImageBase64(b))
	}
	if len(upload) > 0 {
		inputs = append(inputs, ImageUpload(upload))
	}

	if len(inputs) != 1 {
		if upload != nil {
			return nil, NewValidationError("must supply exactly one of image_url, image_base64 or file")
		}
		return nil, NewValidationError("must supply exactly one of image_url or image_base64")
	}
	return inputs[0], nil
}
