package clip

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

// normalize scales v to unit length. A zero vector is returned as zeros.
func normalize(v []float32) []float32 {
	n := vek32.Norm(v)
	if n == 0 || math.IsNaN(float64(n)) {
		return make([]float32, len(v))
	}
	return vek32.DivNumber(v, n)
}

// cosineSimilarities returns the cosine between image and each text vector, clamped to [-1,1].
func cosineSimilarities(image []float32, texts [][]float32) ([]float64, error) {
	img := normalize(image)
	sims := make([]float64, len(texts))
	for i, t := range texts {
		if len(t) != len(img) {
			return nil, fmt.Errorf(
				"text embedding %d has %d dimensions, image embedding has %d",
				i,
				len(t),
				len(img),
			)
		}
		c := float64(vek32.Dot(img, normalize(t)))
		sims[i] = math.Max(-1, math.Min(1, c))
	}
	return sims, nil
}

// softmax turns xs into a probability distribution. The max is subtracted first so that
// large inputs cannot overflow.
func softmax(xs []float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	peak := xs[0]
	for _, x := range xs[1:] {
		peak = math.Max(peak, x)
	}

	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(x - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// matchScores computes cosine similarity per text, remaps it from [-1,1] to [0,1] and
// applies softmax over the remapped values.
func matchScores(image []float32, texts [][]float32) ([]float64, error) {
	sims, err := cosineSimilarities(image, texts)
	if err != nil {
		return nil, err
	}
	for i, s := range sims {
		sims[i] = (s + 1) / 2
	}
	return softmax(sims), nil
}
