package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/getzep/clipserve/config"
	"github.com/getzep/clipserve/internal"
	"github.com/getzep/clipserve/pkg/models"
)

const (
	loadPath        = "/load"
	encodeImagePath = "/encode/image"
	encodeTextPath  = "/encode/text"

	breakerFailureThreshold = 5
	breakerDelay            = 10 * time.Second
	maxErrorBodyBytes       = 512
)

var _ models.ClipModel = &RemoteModel{}

// errCallerGone marks a backend call abandoned because the caller's context ended.
// Such calls say nothing about backend health and are not breaker failures.
var errCallerGone = errors.New("request canceled by caller")

type loadRequest struct {
	ModelPath       string `json:"model_path"`
	VisionModelName string `json:"vision_model_name"`
	TextModelName   string `json:"text_model_name"`
	InputResolution int    `json:"input_resolution"`
	Device          string `json:"device"`
}

type loadResponse struct {
	Dimensions int `json:"dimensions"`
}

type encodeImageRequest struct {
	ModelPath string   `json:"model_path"`
	Images    []string `json:"images"`
}

type encodeTextRequest struct {
	ModelPath string   `json:"model_path"`
	Texts     []string `json:"texts"`
}

type encodeResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// RemoteModel is a ClipModel served by an inference runtime over HTTP. The runtime holds
// the weights and tokenizer; RemoteModel resizes images to the model's input resolution
// before sending them.
type RemoteModel struct {
	baseURL    string
	load       loadRequest
	dimensions int
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker[[]byte]
}

// NewRemoteModel creates a client for the runtime at cfg.Model.InferenceURL. Load must be
// called before encoding.
func NewRemoteModel(cfg *config.Config) *RemoteModel {
	return &RemoteModel{
		baseURL: strings.TrimRight(cfg.Model.InferenceURL, "/"),
		load: loadRequest{
			ModelPath:       cfg.ModelPath(),
			VisionModelName: cfg.Model.VisionModelName,
			TextModelName:   cfg.Model.TextModelName,
			InputResolution: cfg.ImageSize(),
			Device:          cfg.Model.Device,
		},
		httpClient: newRetryableHTTPClient(cfg.Model.RetryMax, cfg.Model.Timeout),
		breaker: circuitbreaker.Builder[[]byte]().
			HandleIf(func(_ []byte, err error) bool {
				return err != nil && !errors.Is(err, errCallerGone)
			}).
			WithFailureThreshold(breakerFailureThreshold).
			WithDelay(breakerDelay).
			Build(),
	}
}

// newRetryableHTTPClient returns a retryable HTTP client with the given retryMax and timeout.
// The retryable HTTP transport is wrapped in an OpenTelemetry transport.
func newRetryableHTTPClient(retryMax int, timeout time.Duration) *http.Client {
	retryableHTTPClient := retryablehttp.NewClient()
	retryableHTTPClient.RetryMax = retryMax
	retryableHTTPClient.HTTPClient.Timeout = timeout
	retryableHTTPClient.Logger = internal.NewLeveledLogrus(internal.GetLogger())
	retryableHTTPClient.Backoff = retryablehttp.DefaultBackoff
	retryableHTTPClient.CheckRetry = retryablehttp.DefaultRetryPolicy

	return &http.Client{
		Transport: otelhttp.NewTransport(
			retryableHTTPClient.StandardClient().Transport,
			otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
				return otelhttptrace.NewClientTrace(ctx)
			}),
		),
	}
}

// Load asks the runtime to load the configured checkpoint and records the embedding
// dimensionality it reports.
func (m *RemoteModel) Load(ctx context.Context) error {
	var resp loadResponse
	if err := m.postJSON(ctx, loadPath, m.load, &resp); err != nil {
		return fmt.Errorf("failed to load model %s: %w", m.load.ModelPath, err)
	}
	if resp.Dimensions <= 0 {
		return fmt.Errorf("model %s reported invalid dimensions %d", m.load.ModelPath, resp.Dimensions)
	}
	m.dimensions = resp.Dimensions
	log.Infof(
		"Loaded model %s (%s / %s, %dpx, %s), %d dimensions",
		m.load.ModelPath,
		m.load.VisionModelName,
		m.load.TextModelName,
		m.load.InputResolution,
		m.load.Device,
		m.dimensions,
	)
	return nil
}

func (m *RemoteModel) Dimensions() int {
	return m.dimensions
}

func (m *RemoteModel) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	payload, err := encodePNGBase64(preprocess(img, m.load.InputResolution))
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for inference: %w", err)
	}

	var resp encodeResponse
	err = m.postJSON(ctx, encodeImagePath, encodeImageRequest{
		ModelPath: m.load.ModelPath,
		Images:    []string{payload},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 image embedding, got %d", len(resp.Embeddings))
	}
	return resp.Embeddings[0], nil
}

func (m *RemoteModel) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var resp encodeResponse
	err := m.postJSON(ctx, encodeTextPath, encodeTextRequest{
		ModelPath: m.load.ModelPath,
		Texts:     texts,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf(
			"expected %d text embeddings, got %d",
			len(texts),
			len(resp.Embeddings),
		)
	}
	return resp.Embeddings, nil
}

func (m *RemoteModel) postJSON(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := m.baseURL + path
	bodyBytes, err := failsafe.Get(func() ([]byte, error) {
		body, err := m.doPost(ctx, url, jsonBody)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerGone, err)
		}
		return body, err
	}, m.breaker)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("error unmarshaling response from %s: %w", url, err)
	}
	return nil
}

func (m *RemoteModel) doPost(ctx context.Context, url string, jsonBody []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf(
			"inference backend %s returned %s: %s",
			url,
			resp.Status,
			strings.TrimSpace(string(detail)),
		)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	if len(bodyBytes) == 0 {
		return nil, errors.New("inference backend returned an empty body")
	}
	return bodyBytes, nil
}
