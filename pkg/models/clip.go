package models

import (
	"context"
	"image"
)

// ClipModel is the pretrained encoder pair. Implementations must be safe for concurrent use
// or be wrapped so that they are.
type ClipModel interface {
	// Dimensions is the length of every vector the model returns.
	Dimensions() int
	// EncodeImage runs the image encoder on a single decoded image.
	EncodeImage(ctx context.Context, img image.Image) ([]float32, error)
	// EncodeTexts runs the text encoder, returning one vector per text in order.
	EncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingService owns the contract around the model: validation, scoring, dispatch.
type EmbeddingService interface {
	EmbedImage(ctx context.Context, img image.Image) (EmbeddingVector, error)
	EmbedText(ctx context.Context, text string) (EmbeddingVector, error)
	Match(ctx context.Context, img image.Image, texts []string) (MatchResult, error)
}

// ImageResolver turns an ImageInput into a decoded image.
type ImageResolver interface {
	Resolve(ctx context.Context, input ImageInput) (image.Image, error)
}
