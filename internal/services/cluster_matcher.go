package services

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/pkg/models"
)

// ClusterMatcher scores candidate clusters against a user representation.
// Three strategies apply depending on what is known about the user: vector
// similarity when an embedding exists, interest overlap when only a profile
// exists, and a size-diversified default for cold-start users.
type ClusterMatcher struct {
	embeddingWeight   float64
	interestWeight    float64
	contextWeight     float64
	maxClusters       int
	minMatchThreshold float64
	logger            *logrus.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewClusterMatcher(cfg config.MatcherConfig, logger *logrus.Logger) (*ClusterMatcher, error) {
	sum := cfg.EmbeddingWeight + cfg.InterestWeight + cfg.ContextWeight
	if sum <= 0 {
		return nil, fmt.Errorf("cluster matcher weights must sum to a positive value: %w", models.ErrInvalidConfig)
	}
	if cfg.MaxClusters < 1 {
		return nil, fmt.Errorf("max_clusters must be at least 1, got %d: %w", cfg.MaxClusters, models.ErrInvalidConfig)
	}

	embeddingWeight := cfg.EmbeddingWeight
	interestWeight := cfg.InterestWeight
	contextWeight := cfg.ContextWeight
	if math.Abs(sum-1.0) > 1e-9 {
		embeddingWeight /= sum
		interestWeight /= sum
		contextWeight /= sum
		logger.WithFields(logrus.Fields{
			"embedding_weight": embeddingWeight,
			"interest_weight":  interestWeight,
			"context_weight":   contextWeight,
		}).Warn("Cluster match weights did not sum to 1, renormalized")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &ClusterMatcher{
		embeddingWeight:   embeddingWeight,
		interestWeight:    interestWeight,
		contextWeight:     contextWeight,
		maxClusters:       cfg.MaxClusters,
		minMatchThreshold: cfg.MinMatchThreshold,
		logger:            logger,
		rng:               rand.New(rand.NewSource(seed)),
	}, nil
}

// FindRelevantClusters returns the best-matching clusters for the user,
// sorted by similarity descending and truncated to the configured maximum.
// Both user and profile may be nil.
func (m *ClusterMatcher) FindRelevantClusters(
	user *models.UserEmbedding,
	profile *models.UserProfile,
	clusters []models.Cluster,
	recCtx *models.RecommendationContext,
) []models.MatchResult {

	if len(clusters) == 0 {
		return nil
	}

	var matches []models.MatchResult
	switch {
	case user != nil && len(user.Vector) > 0:
		matches = m.matchByVector(user.Vector, profile, clusters, recCtx)
	case profile != nil:
		matches = m.matchByProfile(profile, clusters, recCtx)
	default:
		matches = m.defaultClusters(clusters)
	}

	filtered := matches[:0]
	for _, match := range matches {
		if match.Similarity >= m.minMatchThreshold {
			filtered = append(filtered, match)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Similarity > filtered[j].Similarity
	})
	if len(filtered) > m.maxClusters {
		filtered = filtered[:m.maxClusters]
	}

	return filtered
}

// matchByVector compares the user vector against each centroid. When both a
// profile and request context are known, the contextual boost is blended in
// at the configured context weight.
func (m *ClusterMatcher) matchByVector(
	userVector []float64,
	profile *models.UserProfile,
	clusters []models.Cluster,
	recCtx *models.RecommendationContext,
) []models.MatchResult {

	normalized := ml.NormalizeL2(userVector)
	matches := make([]models.MatchResult, 0, len(clusters))

	for _, cluster := range clusters {
		if len(cluster.Centroid) == 0 {
			continue
		}

		base, err := ml.CosineSimilarity(normalized, ml.NormalizeL2(cluster.Centroid))
		if err != nil {
			m.logger.WithError(err).WithField("cluster_id", cluster.ID).Debug("Skipping cluster with incompatible centroid")
			continue
		}

		similarity := base
		if profile != nil && recCtx != nil {
			boost := m.contextualBoost(profile, recCtx, &cluster)
			similarity = (1-m.contextWeight)*base + m.contextWeight*boost
		}

		matches = append(matches, models.MatchResult{
			ClusterID:  cluster.ID,
			Similarity: similarity,
			Score:      similarity,
		})
	}

	return matches
}

// matchByProfile scores clusters by interest overlap alone: a neutral 0.5
// base plus up to 0.3 for shared topics, plus the contextual boost when a
// request context is present.
func (m *ClusterMatcher) matchByProfile(
	profile *models.UserProfile,
	clusters []models.Cluster,
	recCtx *models.RecommendationContext,
) []models.MatchResult {

	matches := make([]models.MatchResult, 0, len(clusters))
	for _, cluster := range clusters {
		similarity := 0.5

		shared := sharedTopicCount(profile.Interests, cluster.Topics)
		similarity += math.Min(0.3, 0.1*float64(shared))

		if recCtx != nil {
			similarity += m.contextWeight * m.contextualBoost(profile, recCtx, &cluster)
		}

		similarity = clamp01(similarity)
		matches = append(matches, models.MatchResult{
			ClusterID:  cluster.ID,
			Similarity: similarity,
			Score:      similarity,
		})
	}

	return matches
}

// defaultClusters handles cold start: nothing is known about the user, so
// diversify by cluster size. Large clusters get 60% of the slots, medium 30%
// and small 10%, ranked by density then size within each bucket. A small
// random term is added to the score only, so similarity stays deterministic.
func (m *ClusterMatcher) defaultClusters(clusters []models.Cluster) []models.MatchResult {
	var meanSize float64
	maxSize, maxDensity := 0, 0.0
	for _, c := range clusters {
		meanSize += float64(c.Size)
		if c.Size > maxSize {
			maxSize = c.Size
		}
		if c.Density > maxDensity {
			maxDensity = c.Density
		}
	}
	meanSize /= float64(len(clusters))

	var large, medium, small []models.Cluster
	for _, c := range clusters {
		switch {
		case float64(c.Size) >= 1.25*meanSize:
			large = append(large, c)
		case float64(c.Size) <= 0.75*meanSize:
			small = append(small, c)
		default:
			medium = append(medium, c)
		}
	}

	byDensityThenSize := func(bucket []models.Cluster) {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Density != bucket[j].Density {
				return bucket[i].Density > bucket[j].Density
			}
			return bucket[i].Size > bucket[j].Size
		})
	}
	byDensityThenSize(large)
	byDensityThenSize(medium)
	byDensityThenSize(small)

	largeQuota := m.maxClusters * 60 / 100
	mediumQuota := m.maxClusters * 30 / 100
	smallQuota := m.maxClusters - largeQuota - mediumQuota

	picked := make([]models.Cluster, 0, m.maxClusters)
	picked = append(picked, takeClusters(large, largeQuota)...)
	picked = append(picked, takeClusters(medium, mediumQuota)...)
	picked = append(picked, takeClusters(small, smallQuota)...)

	matches := make([]models.MatchResult, 0, len(picked))
	for _, c := range picked {
		sizeScore := 0.0
		if maxSize > 0 {
			sizeScore = float64(c.Size) / float64(maxSize)
		}
		densityScore := 0.0
		if maxDensity > 0 {
			densityScore = c.Density / maxDensity
		}
		similarity := 0.6*sizeScore + 0.4*densityScore

		m.rngMu.Lock()
		jitter := m.rng.Float64() * 0.05
		m.rngMu.Unlock()

		matches = append(matches, models.MatchResult{
			ClusterID:  c.ID,
			Similarity: similarity,
			Score:      clamp01(similarity + jitter),
		})
	}

	return matches
}

// contextualBoost scores how well a cluster fits the request context,
// in [0, 1]: up to 0.20 for the active-hours window, 0.30 for shared
// interests, 0.15 for matching geography and 0.15 for matching language.
func (m *ClusterMatcher) contextualBoost(
	profile *models.UserProfile,
	recCtx *models.RecommendationContext,
	cluster *models.Cluster,
) float64 {

	boost := 0.0

	if recCtx.TimeOfDay != nil && cluster.ActiveHourStart != nil && cluster.ActiveHourEnd != nil {
		if hourInWindow(*recCtx.TimeOfDay, *cluster.ActiveHourStart, *cluster.ActiveHourEnd) {
			boost += 0.20
		}
	}

	if profile != nil {
		shared := sharedTopicCount(profile.Interests, cluster.Topics)
		boost += math.Min(0.30, 0.10*float64(shared))

		if languageMatches(profile.Demographics.Language, cluster.Languages) {
			boost += 0.15
		}
	}

	if recCtx.Location != "" && cluster.GeoFocus != "" && strings.EqualFold(recCtx.Location, cluster.GeoFocus) {
		boost += 0.15
	}

	return clamp01(boost)
}

// hourInWindow reports whether hour falls inside [start, end], where the
// window may wrap past midnight (e.g. 22 to 3).
func hourInWindow(hour, start, end float64) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func sharedTopicCount(interests, topics []string) int {
	if len(interests) == 0 || len(topics) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(interests))
	for _, interest := range interests {
		set[strings.ToLower(interest)] = struct{}{}
	}
	shared := 0
	for _, topic := range topics {
		if _, ok := set[strings.ToLower(topic)]; ok {
			shared++
		}
	}
	return shared
}

// languageMatches resolves BCP 47 tags so that regional variants still
// match (e.g. "pt-BR" against a cluster dominated by "pt").
func languageMatches(userLang string, clusterLangs []string) bool {
	if userLang == "" || len(clusterLangs) == 0 {
		return false
	}
	userTag, err := language.Parse(userLang)
	if err != nil {
		return false
	}
	tags := make([]language.Tag, 0, len(clusterLangs))
	for _, lang := range clusterLangs {
		if tag, err := language.Parse(lang); err == nil {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return false
	}
	_, _, confidence := language.NewMatcher(tags).Match(userTag)
	return confidence >= language.High
}

func takeClusters(bucket []models.Cluster, n int) []models.Cluster {
	if n > len(bucket) {
		n = len(bucket)
	}
	return bucket[:n]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
