package services

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/pkg/models"
)

// HybridRanker blends content similarity, engagement quality and recency
// into a single score. Rank is pure: the reference instant is an argument,
// so identical inputs always produce identical outputs.
type HybridRanker struct {
	mu               sync.RWMutex
	contentWeight    float64
	engagementWeight float64
	recencyWeight    float64
	minSimilarity    float64
	recencyDecayDays float64
	logger           *logrus.Logger
}

func NewHybridRanker(cfg config.HybridConfig, logger *logrus.Logger) (*HybridRanker, error) {
	ranker := &HybridRanker{logger: logger}
	if err := ranker.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return ranker, nil
}

// UpdateConfig swaps the ranker's tuning. The three weights are renormalized
// to sum to 1.
func (h *HybridRanker) UpdateConfig(cfg config.HybridConfig) error {
	sum := cfg.ContentWeight + cfg.EngagementWeight + cfg.RecencyWeight
	if sum <= 0 {
		return fmt.Errorf("hybrid ranker weights must sum to a positive value: %w", models.ErrInvalidConfig)
	}
	if cfg.RecencyDecayDays <= 0 {
		return fmt.Errorf("recency_decay_days must be positive: %w", models.ErrInvalidConfig)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.contentWeight = cfg.ContentWeight / sum
	h.engagementWeight = cfg.EngagementWeight / sum
	h.recencyWeight = cfg.RecencyWeight / sum
	h.minSimilarity = cfg.MinSimilarity
	h.recencyDecayDays = cfg.RecencyDecayDays
	return nil
}

// Weights returns the normalized blend weights.
func (h *HybridRanker) Weights() (content, engagement, recency float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.contentWeight, h.engagementWeight, h.recencyWeight
}

// Rank scores the items against the query vector, drops everything below
// the similarity floor and returns the rest ordered by blended score
// descending. now anchors the recency decay.
func (h *HybridRanker) Rank(queryVector []float64, items []models.RankableItem, now time.Time) []models.RankedItem {
	h.mu.RLock()
	contentWeight := h.contentWeight
	engagementWeight := h.engagementWeight
	recencyWeight := h.recencyWeight
	minSimilarity := h.minSimilarity
	decayDays := h.recencyDecayDays
	h.mu.RUnlock()

	ranked := make([]models.RankedItem, 0, len(items))
	for _, item := range items {
		similarity, err := ml.CosineSimilarity(queryVector, item.ContentVector)
		if err != nil {
			h.logger.WithError(err).WithField("item_id", item.ID).Debug("Skipping item with incompatible vector")
			continue
		}
		if similarity < minSimilarity {
			continue
		}

		engagement := engagementScoreFromVector(item.EngagementVector)
		recency := recencyScore(item.CreatedAt, now, decayDays)

		ranked = append(ranked, models.RankedItem{
			RankableItem:    item,
			SimilarityScore: similarity,
			EngagementScore: engagement,
			RecencyScore:    recency,
			Score:           contentWeight*similarity + engagementWeight*engagement + recencyWeight*recency,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked
}

// engagementScoreFromVector condenses the engagement features into one
// number dominated by quality and virality. Items without engagement data
// score 0 so organic signals cannot be faked by absence.
func engagementScoreFromVector(vector *models.EngagementVector) float64 {
	if vector == nil {
		return 0
	}
	score := 0.4*vector.QualityScore +
		0.3*vector.ViralityScore +
		0.15*vector.LikeRate +
		0.15*vector.CommentRate
	return clamp01(score)
}

// recencyScore decays exponentially with age in days. Items without a
// creation instant sit at the neutral midpoint.
func recencyScore(createdAt *time.Time, now time.Time, decayDays float64) float64 {
	if createdAt == nil {
		return 0.5
	}
	ageDays := math.Max(0, now.Sub(*createdAt).Hours()/24)
	return clamp01(math.Exp(-ageDays / decayDays))
}
