package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/pkg/models"
)

// EngagementService turns raw engagement counters into the normalized
// engagement vector and keeps the latest snapshot per moment in warm redis.
// The counters themselves live upstream in the analytics pipeline; this
// service only scores what it is handed.
type EngagementService struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// engagementSnapshot is the redis payload: the counters that produced the
// vector travel with it so a snapshot can be re-scored after a formula change.
type engagementSnapshot struct {
	Metrics   models.EngagementMetrics `json:"metrics"`
	Vector    models.EngagementVector  `json:"vector"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewEngagementService builds the scorer. cache may be nil, which disables
// persistence; Score and RecordEngagement still work.
func NewEngagementService(cache *redis.Client, cfg config.EngineConfig, logger *logrus.Logger) *EngagementService {
	ttl := cfg.EngagementTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EngagementService{
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Score derives the engagement vector without persisting anything.
func (s *EngagementService) Score(params ml.EngagementParams) (*models.EngagementVector, error) {
	return ml.CalculateEngagement(params)
}

// RecordEngagement scores the counters and stores the snapshot for the
// moment. A failed store is logged and tolerated; the caller still gets the
// vector.
func (s *EngagementService) RecordEngagement(ctx context.Context, contentID uuid.UUID, params ml.EngagementParams) (*models.EngagementVector, error) {
	vector, err := ml.CalculateEngagement(params)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		return vector, nil
	}

	snapshot := engagementSnapshot{
		Metrics:   params.Metrics,
		Vector:    *vector,
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.WithError(err).WithField("content_id", contentID).Warn("Failed to encode engagement snapshot")
		return vector, nil
	}
	if err := s.cache.Set(ctx, engagementKey(contentID), data, s.ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("content_id", contentID).Warn("Failed to store engagement snapshot")
	}

	return vector, nil
}

// EngagementFor returns the stored vectors for the given moments. Moments
// without a snapshot, and anything unreadable, are simply absent from the
// result; a redis outage yields an empty map.
func (s *EngagementService) EngagementFor(ctx context.Context, contentIDs []uuid.UUID) map[uuid.UUID]*models.EngagementVector {
	result := make(map[uuid.UUID]*models.EngagementVector, len(contentIDs))
	if s.cache == nil || len(contentIDs) == 0 {
		return result
	}

	keys := make([]string, len(contentIDs))
	for i, id := range contentIDs {
		keys[i] = engagementKey(id)
	}

	values, err := s.cache.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.WithError(err).Warn("Engagement batch read failed")
		return result
	}

	for i, raw := range values {
		data, ok := raw.(string)
		if !ok {
			continue
		}
		var snapshot engagementSnapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			s.logger.WithError(err).WithField("content_id", contentIDs[i]).Debug("Dropping undecodable engagement snapshot")
			continue
		}
		vector := snapshot.Vector
		result[contentIDs[i]] = &vector
	}

	return result
}

func engagementKey(contentID uuid.UUID) string {
	return fmt.Sprintf("engagement:%s", contentID)
}
