package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// SimilarContentService serves "more like this" lookups: nearest neighbours
// from the vector store re-ranked by the hybrid blend of similarity,
// engagement and recency.
type SimilarContentService struct {
	content       repository.ContentEmbeddingRepo
	engagement    *EngagementService
	ranker        *HybridRanker
	minSimilarity float64
	logger        *logrus.Logger
}

func NewSimilarContentService(
	content repository.ContentEmbeddingRepo,
	engagement *EngagementService,
	ranker *HybridRanker,
	cfg config.HybridConfig,
	logger *logrus.Logger,
) *SimilarContentService {
	return &SimilarContentService{
		content:       content,
		engagement:    engagement,
		ranker:        ranker,
		minSimilarity: cfg.MinSimilarity,
		logger:        logger,
	}
}

// FindSimilar returns up to limit moments similar to the reference moment,
// ordered by the hybrid score. Returns models.ErrNotFound when the reference
// has no stored embedding.
func (s *SimilarContentService) FindSimilar(ctx context.Context, contentID uuid.UUID, limit int) ([]models.RankedItem, error) {
	if limit <= 0 {
		limit = 10
	}

	reference, err := s.content.FindByContentID(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("load reference embedding: %w", err)
	}
	if reference == nil || len(reference.Vector) == 0 {
		return nil, fmt.Errorf("content %s: %w", contentID, models.ErrNotFound)
	}

	// Over-fetch: the reference comes back as its own nearest neighbour and
	// the ranker's similarity floor trims more.
	candidates, err := s.content.FindSimilar(ctx, reference.Vector, limit*2+1, s.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("find similar content: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for i := range candidates {
		if candidates[i].ContentID != contentID {
			ids = append(ids, candidates[i].ContentID)
		}
	}
	engagement := s.engagement.EngagementFor(ctx, ids)

	items := make([]models.RankableItem, 0, len(ids))
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.ContentID == contentID {
			continue
		}
		createdAt := candidate.CreatedAt
		items = append(items, models.RankableItem{
			ID:               candidate.ContentID,
			ContentVector:    candidate.Vector,
			EngagementVector: engagement[candidate.ContentID],
			CreatedAt:        &createdAt,
		})
	}

	ranked := s.ranker.Rank(reference.Vector, items, time.Now())
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	s.logger.WithFields(logrus.Fields{
		"content_id": contentID,
		"candidates": len(items),
		"returned":   len(ranked),
	}).Debug("Served similar content")

	return ranked, nil
}
