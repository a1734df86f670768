package imageresolver

import (
	"encoding/base64"
	"errors"
	"strings"

	// registered image formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/getzep/clipserve/pkg/models"
)

var errInvalidBase64 = errors.New("image_base64 is not valid base64")

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not, with an optional
// data URI prefix and embedded line breaks.
func decodeBase64(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		i := strings.Index(payload, ";base64,")
		if i < 0 {
			return nil, models.NewDecodeError(errors.New("data URI is not base64 encoded"))
		}
		payload = payload[i+len(";base64,"):]
	}

	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	for _, enc := range encodings {
		if data, err := enc.DecodeString(payload); err == nil {
			return data, nil
		}
	}

	return nil, models.NewDecodeError(errInvalidBase64)
}
