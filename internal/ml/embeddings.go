package ml

import "context"

// Contracts for the embedding pipeline. Inference runs in a separate service;
// the engine only consumes vectors, so these stay interfaces with no model
// loading or caching behind them.

// TextEmbeddingResult carries a generated text vector and the token count the
// model consumed producing it.
type TextEmbeddingResult struct {
	Vector     []float64 `json:"vector"`
	TokenCount int       `json:"token_count"`
}

// TextEmbeddingService turns text into an embedding vector.
type TextEmbeddingService interface {
	Generate(ctx context.Context, text string) (*TextEmbeddingResult, error)
}

// VisualEmbeddingResult carries a generated visual vector and how many frames
// contributed to it.
type VisualEmbeddingResult struct {
	Vector          []float64 `json:"vector"`
	FramesProcessed int       `json:"frames_processed"`
}

// VisualEmbeddingService turns sampled video frames into an embedding vector.
type VisualEmbeddingService interface {
	Generate(ctx context.Context, frames [][]byte) (*VisualEmbeddingResult, error)
}

// TranscriptionResult is the recognized speech for an audio track. Language
// is a BCP-47 tag and may be empty when detection failed; Confidence is 0
// when the backend does not report one.
type TranscriptionResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptionService extracts text from audio for downstream text
// embedding.
type TranscriptionService interface {
	Transcribe(ctx context.Context, audio []byte) (*TranscriptionResult, error)
}
