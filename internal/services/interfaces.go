package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/pkg/models"
)

// Handler-facing slices of the service graph. Handlers depend on these so
// tests can swap in doubles without standing up the full graph.

// RecommendationProvider serves feed pages.
type RecommendationProvider interface {
	GetRecommendations(ctx context.Context, request models.RecommendationRequest) models.RecommendationResponse
}

// InteractionRecorder ingests interactions and exposes per-user history.
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, req *models.InteractionRequest) (*models.UserInteraction, error)
	RecordBatch(ctx context.Context, reqs []models.InteractionRequest) ([]models.UserInteraction, error)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserInteraction, error)
}

// EngagementScorer computes engagement vectors from raw counters.
type EngagementScorer interface {
	Score(params ml.EngagementParams) (*models.EngagementVector, error)
	RecordEngagement(ctx context.Context, contentID uuid.UUID, params ml.EngagementParams) (*models.EngagementVector, error)
}

// SimilarContentFinder serves "more like this" lookups.
type SimilarContentFinder interface {
	FindSimilar(ctx context.Context, contentID uuid.UUID, limit int) ([]models.RankedItem, error)
}

// MaintenanceRunner is the admin surface over the background jobs.
type MaintenanceRunner interface {
	TriggerRecluster() bool
	ReclusterActive() bool
	LastRun(ctx context.Context, name string) (*JobRun, error)
	PurgeInteractions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ServedPublisher emits served pages to the outbound event stream.
type ServedPublisher interface {
	PublishServed(response *models.RecommendationResponse) error
}
