package testutils

import "image/color"

// Fixture colors. StubModel maps each to the text vector of the matching label so that
// match results are predictable.
var (
	CatColor  = color.RGBA{R: 200, G: 120, B: 40, A: 255}
	DogColor  = color.RGBA{R: 90, G: 60, B: 30, A: 255}
	BirdColor = color.RGBA{R: 30, G: 140, B: 220, A: 255}
)

// LabelVectors are orthogonal text embeddings used by NewAnimalModel.
var LabelVectors = map[string][]float32{
	"cat":  {1, 0, 0, 0},
	"dog":  {0, 1, 0, 0},
	"bird": {0, 0, 1, 0},
}
