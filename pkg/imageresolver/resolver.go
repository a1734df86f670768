package imageresolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/getzep/clipserve/config"
	"github.com/getzep/clipserve/internal"
	"github.com/getzep/clipserve/pkg/models"
)

var log = internal.GetLogger()

var _ models.ImageResolver = &Resolver{}

// Resolver fetches or decodes images supplied by API requests.
type Resolver struct {
	client    *http.Client
	maxBytes  int64
	maxPixels int64
}

// NewResolver creates a Resolver whose remote fetches are bounded by timeout and maxBytes.
// Images of any source larger than maxPixels are rejected before they are decoded.
// Fetches are never retried.
func NewResolver(timeout time.Duration, maxBytes, maxPixels int64) *Resolver {
	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
					return otelhttptrace.NewClientTrace(ctx)
				}),
			),
		},
		maxBytes:  maxBytes,
		maxPixels: maxPixels,
	}
}

// NewResolverFromConfig creates a Resolver using the fetch section of the config.
func NewResolverFromConfig(cfg *config.Config) *Resolver {
	return NewResolver(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes, cfg.Fetch.MaxPixels)
}

// Resolve returns the decoded image for input.
func (r *Resolver) Resolve(ctx context.Context, input models.ImageInput) (image.Image, error) {
	var (
		data []byte
		err  error
	)

	switch in := input.(type) {
	case models.ImageURL:
		data, err = r.fetch(ctx, string(in))
	case models.ImageBase64:
		data, err = decodeBase64(string(in))
	case models.ImageUpload:
		data = in
	default:
		return nil, models.NewValidationError("unsupported image input %T", input)
	}
	if err != nil {
		return nil, err
	}

	return r.decodeImage(data)
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, models.NewValidationError("image_url must be an absolute http(s) URL: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debugf("image fetch %s returned %s", rawURL, resp.Status)
		return nil, &models.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > r.maxBytes {
		return nil, &models.FetchError{
			URL: rawURL,
			Err: fmt.Errorf("image exceeds %s limit", humanize.IBytes(uint64(r.maxBytes))),
		}
	}

	return body, nil
}

// decodeImage reads the header first so that oversized rasters are never allocated.
func (r *Resolver) decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, models.NewDecodeError(errors.New("image is empty"))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewDecodeError(err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > r.maxPixels {
		return nil, models.NewDecodeError(fmt.Errorf(
			"image is %dx%d, %s pixels exceeds the %s pixel limit",
			cfg.Width,
			cfg.Height,
			humanize.Comma(pixels),
			humanize.Comma(r.maxPixels),
		))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewDecodeError(err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, models.NewDecodeError(errors.New("image has no pixels"))
	}
	log.Debugf("decoded %s image %dx%d", format, b.Dx(), b.Dy())

	return img, nil
}
