package models

import (
	"time"

	"github.com/google/uuid"
)

// Interaction types form a closed set. The wire values are camelCase to match
// the client event schema.
const (
	InteractionView          = "view"
	InteractionCompleteView  = "completeView"
	InteractionPartialView   = "partialView"
	InteractionLike          = "like"
	InteractionLikeComment   = "likeComment"
	InteractionComment       = "comment"
	InteractionShare         = "share"
	InteractionSave          = "save"
	InteractionDislike       = "dislike"
	InteractionSkip          = "skip"
	InteractionReport        = "report"
	InteractionShowLessOften = "showLessOften"
)

// ValidInteractionType reports whether t belongs to the closed interaction set.
func ValidInteractionType(t string) bool {
	switch t {
	case InteractionView, InteractionCompleteView, InteractionPartialView,
		InteractionLike, InteractionLikeComment, InteractionComment,
		InteractionShare, InteractionSave, InteractionDislike,
		InteractionSkip, InteractionReport, InteractionShowLessOften:
		return true
	}
	return false
}

// UserInteraction is one recorded user action on a moment.
type UserInteraction struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id" validate:"required"`
	ContentID    uuid.UUID `json:"content_id" db:"content_id" validate:"required"`
	Type         string    `json:"type" db:"type" validate:"required"`
	Duration     *int      `json:"duration,omitempty" db:"duration"` // seconds
	WatchPercent *float64  `json:"watch_percent,omitempty" db:"watch_percent"`
	Topics       []string  `json:"topics,omitempty" db:"topics"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// InteractionRequest is the HTTP body for recording a single interaction.
type InteractionRequest struct {
	UserID       uuid.UUID `json:"user_id" binding:"required"`
	ContentID    uuid.UUID `json:"content_id" binding:"required"`
	Type         string    `json:"type" binding:"required,interaction_type"`
	Duration     *int      `json:"duration,omitempty" binding:"omitempty,min=0"`
	WatchPercent *float64  `json:"watch_percent,omitempty" binding:"omitempty,min=0,max=1"`
	Topics       []string  `json:"topics,omitempty" binding:"omitempty,max=20"`
}

// InteractionBatchRequest is the HTTP body for recording several interactions
// at once, typically a client-side buffer flushed on app background.
type InteractionBatchRequest struct {
	Interactions []InteractionRequest `json:"interactions" binding:"required,min=1,max=100,dive"`
}

// InteractionEvent is the Kafka payload shape for interaction ingestion. It
// mirrors InteractionRequest with string ids so producers in any language can
// emit it; the consumer validates it against the JSON Schema before parsing.
type InteractionEvent struct {
	UserID       string    `json:"user_id"`
	ContentID    string    `json:"content_id"`
	Type         string    `json:"type"`
	Duration     *int      `json:"duration,omitempty"`
	WatchPercent *float64  `json:"watch_percent,omitempty"`
	Topics       []string  `json:"topics,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
