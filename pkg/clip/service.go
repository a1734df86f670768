package clip

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/getzep/clipserve/internal"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/observability"
)

var log = internal.GetLogger()

const tracerName = "github.com/getzep/clipserve/pkg/clip"

var _ models.EmbeddingService = &Service{}

// Service implements models.EmbeddingService on top of a ClipModel. All model calls run on
// the Service's worker pool.
type Service struct {
	model   models.ClipModel
	pool    *Pool
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewService wraps model. metrics may be nil.
func NewService(model models.ClipModel, pool *Pool, metrics *observability.Metrics) *Service {
	return &Service{
		model:   model,
		pool:    pool,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// EmbedImage returns the raw, unnormalized image encoder output.
func (s *Service) EmbedImage(ctx context.Context, img image.Image) (models.EmbeddingVector, error) {
	ctx, span := s.tracer.Start(ctx, "clip.EmbedImage")
	defer span.End()

	vec, err := s.encodeImage(ctx, img)
	if err != nil {
		return nil, spanError(span, err)
	}
	return vec, nil
}

// EmbedText returns the raw text encoder output for a single non-blank text.
func (s *Service) EmbedText(ctx context.Context, text string) (models.EmbeddingVector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewValidationError("text must not be empty")
	}

	ctx, span := s.tracer.Start(ctx, "clip.EmbedText")
	defer span.End()

	vecs, err := s.encodeTexts(ctx, []string{text})
	if err != nil {
		return nil, spanError(span, err)
	}
	return vecs[0], nil
}

// Match scores img against each distinct text. Scores are softmax-normalized over the texts
// so that they sum to 1.
func (s *Service) Match(
	ctx context.Context,
	img image.Image,
	texts []string,
) (models.MatchResult, error) {
	labels, err := distinctTexts(texts)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "clip.Match", trace.WithAttributes(
		attribute.Int("clip.texts", len(labels)),
	))
	defer span.End()

	var (
		imageVec models.EmbeddingVector
		textVecs [][]float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		imageVec, err = s.encodeImage(gctx, img)
		return err
	})
	g.Go(func() error {
		var err error
		textVecs, err = s.encodeTexts(gctx, labels)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, spanError(span, err)
	}

	scores, err := matchScores(imageVec, textVecs)
	if err != nil {
		return nil, spanError(span, models.NewInternalError("score match", err))
	}

	result := make(models.MatchResult, len(labels))
	for i, label := range labels {
		result[label] = scores[i]
	}
	return result, nil
}

func (s *Service) encodeImage(ctx context.Context, img image.Image) (models.EmbeddingVector, error) {
	if img == nil {
		return nil, models.NewValidationError("image is required")
	}

	start := time.Now()
	vec, err := run(ctx, s.pool, func(ctx context.Context) ([]float32, error) {
		return s.model.EncodeImage(ctx, img)
	})
	s.metrics.ObserveInference("encode_image", time.Since(start))
	if err != nil {
		return nil, models.NewInternalError("encode image", err)
	}
	if err := s.checkDimensions(vec); err != nil {
		return nil, models.NewInternalError("encode image", err)
	}
	return vec, nil
}

func (s *Service) encodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := run(ctx, s.pool, func(ctx context.Context) ([][]float32, error) {
		return s.model.EncodeTexts(ctx, texts)
	})
	s.metrics.ObserveInference("encode_text", time.Since(start))
	if err != nil {
		return nil, models.NewInternalError("encode text", err)
	}
	if len(vecs) != len(texts) {
		return nil, models.NewInternalError(
			"encode text",
			fmt.Errorf("model returned %d vectors for %d texts", len(vecs), len(texts)),
		)
	}
	for _, v := range vecs {
		if err := s.checkDimensions(v); err != nil {
			return nil, models.NewInternalError("encode text", err)
		}
	}
	return vecs, nil
}

func (s *Service) checkDimensions(v []float32) error {
	if dims := s.model.Dimensions(); len(v) != dims {
		return fmt.Errorf("model returned a %d-dimensional vector, expected %d", len(v), dims)
	}
	return nil
}

// distinctTexts validates texts and drops repeats, keeping first occurrences in order.
func distinctTexts(texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, models.NewValidationError("texts must not be empty")
	}

	seen := make(map[string]struct{}, len(texts))
	labels := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, models.NewValidationError("texts[%d] must not be empty", i)
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		labels = append(labels, text)
	}
	return labels, nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	if !errors.Is(err, models.ErrValidation) {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
