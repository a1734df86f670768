package models

// EmbeddingVector is an encoder output. Its length is the model's fixed dimensionality.
type EmbeddingVector []float32

// MatchResult maps each distinct input text to a score in [0,1]. Scores sum to 1.
type MatchResult map[string]float64

type ImageEmbeddingRequest struct {
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type TextEmbeddingRequest struct {
	Text string `json:"text" validate:"notblank"`
}

type MatchRequest struct {
	Texts       []string `json:"texts" validate:"required,min=1,dive,notblank"`
	ImageURL    string   `json:"image_url,omitempty"`
	ImageBase64 string   `json:"image_base64,omitempty"`
}

type EmbeddingResponse struct {
	Success   bool            `json:"success"`
	Embedding EmbeddingVector `json:"embedding"`
}

type MatchResponse struct {
	Success bool        `json:"success"`
	Scores  MatchResult `json:"scores"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}
