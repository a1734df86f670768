package testutils

import (
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"github.com/getzep/clipserve/pkg/models"
)

var _ models.ClipModel = &StubModel{}

// StubModel is a deterministic in-process ClipModel.
// Texts found in TextVectors use those vectors; other texts get a hash-derived vector.
// Images are looked up by the color of their top-left pixel in ImageVectors, falling back
// to a vector derived from that color.
type StubModel struct {
	Dims         int
	TextVectors  map[string][]float32
	ImageVectors map[color.RGBA][]float32
	// Err, when set, is returned by every encode call.
	Err error

	ImageCalls atomic.Int64
	TextCalls  atomic.Int64

	mu       sync.Mutex
	inFlight int
	// MaxInFlight is the highest number of concurrent encode calls observed.
	MaxInFlight int
	// Block, when non-nil, is received from before each encode call returns.
	Block chan struct{}
}

// NewStubModel returns a StubModel with the given dimensionality.
func NewStubModel(dims int) *StubModel {
	return &StubModel{Dims: dims}
}

// NewAnimalModel returns a 4-dimensional model where CatColor, DogColor and BirdColor images
// align with the "cat", "dog" and "bird" label vectors.
func NewAnimalModel() *StubModel {
	return &StubModel{
		Dims:        4,
		TextVectors: LabelVectors,
		ImageVectors: map[color.RGBA][]float32{
			CatColor:  {0.9, 0.2, 0.1, 0.1},
			DogColor:  {0.2, 0.9, 0.1, 0.1},
			BirdColor: {0.1, 0.2, 0.9, 0.1},
		},
	}
}

func (m *StubModel) Dimensions() int {
	return m.Dims
}

func (m *StubModel) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	m.ImageCalls.Add(1)
	defer m.enter()()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	b := img.Bounds()
	c := color.RGBAModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.RGBA)
	if v, ok := m.ImageVectors[c]; ok {
		return clone(v), nil
	}
	return m.hashVector([]byte{c.R, c.G, c.B, c.A}), nil
}

func (m *StubModel) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.TextCalls.Add(1)
	defer m.enter()()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := m.TextVectors[text]; ok {
			out[i] = clone(v)
			continue
		}
		out[i] = m.hashVector([]byte(text))
	}
	return out, nil
}

func (m *StubModel) enter() func() {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.MaxInFlight {
		m.MaxInFlight = m.inFlight
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}
}

func (m *StubModel) wait(ctx context.Context) error {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Err
}

func (m *StubModel) hashVector(seed []byte) []float32 {
	v := make([]float32, m.Dims)
	for i := range v {
		h := fnv.New32a()
		h.Write(seed)
		h.Write([]byte{byte(i)})
		v[i] = float32(h.Sum32())/math.MaxUint32*2 - 1
	}
	return v
}

// Observed returns MaxInFlight under lock.
func (m *StubModel) Observed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxInFlight
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
