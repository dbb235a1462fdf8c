package models

import "time"

// ContentEmbeddingEvent is the Kafka payload emitted by the embedding
// pipeline when a moment's vector is created or refreshed. Vector elements
// arrive as JSON numbers; ids as strings. Validated against the content
// schema before parsing.
type ContentEmbeddingEvent struct {
	ContentID string    `json:"content_id"`
	Vector    []float64 `json:"vector"`
	Topics    []string  `json:"topics,omitempty"`
	AuthorID  string    `json:"author_id,omitempty"`
	Language  string    `json:"language,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
