package models

import (
	"time"

	"github.com/google/uuid"
)

// Demographics carries the slow-changing user attributes the matcher's
// contextual boost reads.
type Demographics struct {
	Language string `json:"language,omitempty"`
	Location string `json:"location,omitempty"`
	AgeBand  string `json:"age_band,omitempty"`
}

// UserProfile is the behavioral summary built per request from recent
// interactions: interest topics by frequency plus demographics pulled from
// the embedding record. It is never persisted; the embedding and the
// interaction log are the durable state.
type UserProfile struct {
	UserID           uuid.UUID      `json:"user_id"`
	Interests        []string       `json:"interests,omitempty"`
	TopicWeights     map[string]int `json:"topic_weights,omitempty"`
	Demographics     Demographics   `json:"demographics"`
	InteractionCount int            `json:"interaction_count"`
	LastInteraction  *time.Time     `json:"last_interaction,omitempty"`
}

// HasInterests reports whether the profile carries any interest signal the
// matcher can use.
func (p *UserProfile) HasInterests() bool {
	return p != nil && len(p.Interests) > 0
}
