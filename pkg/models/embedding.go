package models

import (
	"time"

	"github.com/google/uuid"
)

// UserEmbedding is a user's position in the shared content feature space,
// refreshed by the embedding pipeline as the user interacts.
type UserEmbedding struct {
	UserID            uuid.UUID  `json:"user_id" db:"user_id"`
	Vector            []float64  `json:"-" db:"embedding"`
	Interests         []string   `json:"interests,omitempty" db:"interests"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty" db:"last_interaction_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ContentEmbedding is the stored vector for one moment plus the metadata the
// ranking pipeline reads (topics for novelty/diversity, author for provenance).
type ContentEmbedding struct {
	ContentID uuid.UUID  `json:"content_id" db:"content_id"`
	Vector    []float64  `json:"-" db:"embedding"`
	Topics    []string   `json:"topics,omitempty" db:"topics"`
	AuthorID  *uuid.UUID `json:"author_id,omitempty" db:"author_id"`
	Language  string     `json:"language,omitempty" db:"language"`
	Location  string     `json:"location,omitempty" db:"location"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// EngagementMetrics are the raw counters a moment accumulates. All counters
// are non-negative; CompletionRate is already a fraction in [0,1].
type EngagementMetrics struct {
	Views          int64   `json:"views"`
	UniqueViews    int64   `json:"unique_views"`
	Likes          int64   `json:"likes"`
	Comments       int64   `json:"comments"`
	Shares         int64   `json:"shares"`
	Saves          int64   `json:"saves"`
	Reports        int64   `json:"reports"`
	AvgWatchTime   float64 `json:"avg_watch_time"`
	CompletionRate float64 `json:"completion_rate"`
}

// EngagementVector is the 9-dimensional normalized engagement representation
// derived from EngagementMetrics. Every feature lies in [0,1]; Vector is the
// L2-normalized feature sequence in declaration order.
type EngagementVector struct {
	LikeRate          float64 `json:"like_rate"`
	CommentRate       float64 `json:"comment_rate"`
	ShareRate         float64 `json:"share_rate"`
	SaveRate          float64 `json:"save_rate"`
	RetentionRate     float64 `json:"retention_rate"`
	AvgCompletionRate float64 `json:"avg_completion_rate"`
	ReportRate        float64 `json:"report_rate"`
	ViralityScore     float64 `json:"virality_score"`
	QualityScore      float64 `json:"quality_score"`

	Vector []float64 `json:"vector"`
}

// Features returns the raw (pre-normalization) feature sequence in the fixed
// order used everywhere an engagement vector is consumed.
func (e *EngagementVector) Features() []float64 {
	return []float64{
		e.LikeRate,
		e.CommentRate,
		e.ShareRate,
		e.SaveRate,
		e.RetentionRate,
		e.AvgCompletionRate,
		e.ReportRate,
		e.ViralityScore,
		e.QualityScore,
	}
}
