package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

const (
	reasonHighlyRelevant = "Highly relevant"
	reasonFreshContent   = "Fresh content"
	reasonPopular        = "Popular with others"
	reasonDefault        = "Recommended for you"
)

// RecommendationEngine runs the full pipeline for one request: user
// representation, cluster matching, candidate selection, ranking, exclusion
// and trimming. Failures degrade to an empty page; the request itself never
// errors.
type RecommendationEngine struct {
	userEmbeddings    repository.UserEmbeddingRepo
	contentEmbeddings repository.ContentEmbeddingRepo
	clusters          repository.ClusterRepo

	profileBuilder *ProfileBuilder
	matcher        *ClusterMatcher
	selector       *CandidateSelector
	ranker         *Ranker
	clusterer      *ml.DBSCANClusterer

	cache   *redis.Client
	metrics *MetricsCollector
	cfg     config.RecommendationConfig

	logger *logrus.Logger

	// Recluster runs are serialized; triggers while one is running coalesce
	// into a single follow-up pass.
	jobMu      sync.Mutex
	jobRunning bool
	jobPending bool
}

// NewRecommendationEngine wires the pipeline stages. cache and metrics may
// be nil; the engine then serves uncached and unmeasured.
func NewRecommendationEngine(
	repos *repository.Repositories,
	profileBuilder *ProfileBuilder,
	matcher *ClusterMatcher,
	selector *CandidateSelector,
	ranker *Ranker,
	clusterer *ml.DBSCANClusterer,
	cache *redis.Client,
	metrics *MetricsCollector,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *RecommendationEngine {
	return &RecommendationEngine{
		userEmbeddings:    repos.UserEmbeddings,
		contentEmbeddings: repos.ContentEmbeddings,
		clusters:          repos.Clusters,
		profileBuilder:    profileBuilder,
		matcher:           matcher,
		selector:          selector,
		ranker:            ranker,
		clusterer:         clusterer,
		cache:             cache,
		metrics:           metrics,
		cfg:               cfg,
		logger:            logger,
	}
}

// GetRecommendations returns an ordered feed page. Unrecoverable failures
// and observed cancellation both produce an empty page rather than an error
// or a partially-ranked list.
func (e *RecommendationEngine) GetRecommendations(ctx context.Context, request models.RecommendationRequest) models.RecommendationResponse {
	limit := request.Limit
	if limit <= 0 {
		limit = e.cfg.Engine.DefaultLimit
	}

	cacheable := len(request.ExcludeIDs) == 0 && request.Context == nil &&
		request.NoveltyLevel == nil && request.DiversityLevel == nil
	if cacheable {
		if cached, ok := e.cachedResponse(ctx, request.UserID, limit); ok {
			e.recordServed(&cached)
			return cached
		}
	}

	user, err := e.userEmbeddings.FindByUserID(ctx, request.UserID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", request.UserID).Warn("Failed to load user embedding, continuing without it")
		user = nil
	}
	if ctx.Err() != nil {
		return e.emptyResponse(request.UserID)
	}

	profile, err := e.profileBuilder.BuildProfile(ctx, request.UserID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", request.UserID).Warn("Failed to build user profile, continuing without it")
		profile = nil
	}
	if ctx.Err() != nil {
		return e.emptyResponse(request.UserID)
	}
	if profile != nil && request.Context != nil {
		if profile.Demographics.Language == "" {
			profile.Demographics.Language = request.Context.Language
		}
		if profile.Demographics.Location == "" {
			profile.Demographics.Location = request.Context.Location
		}
	}

	clusters, err := e.loadClusters(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to load clusters")
		return e.emptyResponse(request.UserID)
	}
	if ctx.Err() != nil {
		return e.emptyResponse(request.UserID)
	}

	if user == nil && profile == nil && len(clusters) == 0 {
		e.logger.WithFields(logrus.Fields{
			"user_id": request.UserID,
			"reason":  models.ErrMissingRequirement,
		}).Warn("Nothing to recommend from: no embedding, no profile and no clusters")
		return e.emptyResponse(request.UserID)
	}

	matches := e.matcher.FindRelevantClusters(user, profile, clusters, request.Context)
	if len(matches) == 0 {
		e.logger.WithField("user_id", request.UserID).Info("No clusters matched the user")
		return e.emptyResponse(request.UserID)
	}

	// Over-select so exclusions and diversification still fill the page.
	candidates := e.selector.SelectCandidates(ctx, matches, request.UserID, limit*e.cfg.Engine.CandidateMultiplier)
	if ctx.Err() != nil {
		return e.emptyResponse(request.UserID)
	}

	var userVector []float64
	if user != nil {
		userVector = user.Vector
	}
	var interests []string
	if profile != nil {
		interests = profile.Interests
	}

	ranked := e.ranker.RankCandidates(ctx, candidates, userVector, RankingOptions{
		NoveltyLevel:   levelOrDefault(request.NoveltyLevel, e.cfg.Ranker.DefaultNoveltyLevel),
		DiversityLevel: levelOrDefault(request.DiversityLevel, e.cfg.Ranker.DefaultDiversityLevel),
		Context:        request.Context,
		UserInterests:  interests,
	})
	if ctx.Err() != nil {
		return e.emptyResponse(request.UserID)
	}

	recommendations := e.assemble(ranked, request.ExcludeIDs, limit)

	response := models.RecommendationResponse{
		UserID:          request.UserID,
		Recommendations: recommendations,
		GeneratedAt:     time.Now(),
	}

	if cacheable {
		e.storeResponse(ctx, limit, response)
	}
	e.recordServed(&response)

	return response
}

func (e *RecommendationEngine) recordServed(response *models.RecommendationResponse) {
	if e.metrics != nil && len(response.Recommendations) > 0 {
		e.metrics.RecordServed(response)
	}
}

// ReclusterMoments rebuilds the cluster set from the stored content
// embeddings. At most one run is active; concurrent triggers coalesce into
// one pending follow-up pass and return immediately.
func (e *RecommendationEngine) ReclusterMoments(ctx context.Context) error {
	e.jobMu.Lock()
	if e.jobRunning {
		e.jobPending = true
		e.jobMu.Unlock()
		e.logger.Debug("Recluster already running, coalescing trigger")
		return nil
	}
	e.jobRunning = true
	e.jobMu.Unlock()

	var err error
	for {
		err = e.reclusterOnce(ctx)

		e.jobMu.Lock()
		if !e.jobPending {
			e.jobRunning = false
			e.jobMu.Unlock()
			return err
		}
		e.jobPending = false
		e.jobMu.Unlock()
	}
}

func (e *RecommendationEngine) reclusterOnce(ctx context.Context) error {
	started := time.Now()

	embeddings, err := e.contentEmbeddings.FindAll(ctx, e.cfg.Clustering.MaxPoints, 0)
	if err != nil {
		return fmt.Errorf("load content embeddings: %w", err)
	}

	points := make([]ml.Point, 0, len(embeddings))
	for _, embedding := range embeddings {
		if len(embedding.Vector) == 0 {
			continue
		}
		points = append(points, ml.Point{ID: embedding.ContentID, Vector: embedding.Vector})
	}
	if len(points) == 0 {
		e.logger.Info("No content embeddings to cluster")
		return nil
	}

	result, err := e.clusterer.Cluster(ctx, points)
	if err != nil {
		return fmt.Errorf("cluster content embeddings: %w", err)
	}

	if err := e.clusters.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear previous clusters: %w", err)
	}
	if len(result.Clusters) > 0 {
		if err := e.clusters.SaveMany(ctx, result.Clusters); err != nil {
			return fmt.Errorf("persist clusters: %w", err)
		}
	}
	if len(result.Assignments) > 0 {
		if err := e.clusters.SaveAssignments(ctx, result.Assignments); err != nil {
			return fmt.Errorf("persist cluster assignments: %w", err)
		}
	}

	if e.metrics != nil {
		e.metrics.RecordClusteringRun(len(result.Clusters), result.NoisePoints, result.Quality, time.Since(started))
	}

	e.logger.WithFields(logrus.Fields{
		"points":   result.TotalPoints,
		"clusters": len(result.Clusters),
		"noise":    result.NoisePoints,
		"quality":  result.Quality,
		"elapsed":  time.Since(started),
	}).Info("Recluster finished")

	return nil
}

// ReclusterInProgress reports whether a recluster run is active. The admin
// trigger uses it to answer 202 for coalesced requests.
func (e *RecommendationEngine) ReclusterInProgress() bool {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()
	return e.jobRunning
}

// loadClusters fetches the cluster set, triggering a recluster once when the
// store is empty (first boot or after a purge).
func (e *RecommendationEngine) loadClusters(ctx context.Context) ([]models.Cluster, error) {
	clusters, err := e.clusters.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(clusters) > 0 {
		return clusters, nil
	}

	e.logger.Info("No clusters found, triggering recluster")
	if err := e.ReclusterMoments(ctx); err != nil {
		return nil, err
	}
	return e.clusters.FindAll(ctx)
}

func (e *RecommendationEngine) assemble(ranked []models.RankedCandidate, excludeIDs []uuid.UUID, limit int) []models.Recommendation {
	excluded := make(map[uuid.UUID]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	recommendations := make([]models.Recommendation, 0, limit)
	for _, candidate := range ranked {
		if _, skip := excluded[candidate.ContentID]; skip {
			continue
		}
		recommendations = append(recommendations, models.Recommendation{
			ContentID: candidate.ContentID,
			Score:     candidate.FinalScore,
			Reason:    recommendationReason(candidate.Scores),
			ClusterID: candidate.ClusterID,
			Scores:    candidate.Scores,
			Metadata:  candidate.Metadata,
		})
		if len(recommendations) == limit {
			break
		}
	}

	return recommendations
}

func recommendationReason(scores models.SubScores) string {
	switch {
	case scores.Relevance > 0.7:
		return reasonHighlyRelevant
	case scores.Novelty > 0.7:
		return reasonFreshContent
	case scores.Engagement > 0.7:
		return reasonPopular
	default:
		return reasonDefault
	}
}

func (e *RecommendationEngine) emptyResponse(userID uuid.UUID) models.RecommendationResponse {
	return models.RecommendationResponse{
		UserID:          userID,
		Recommendations: []models.Recommendation{},
		GeneratedAt:     time.Now(),
	}
}

func (e *RecommendationEngine) cachedResponse(ctx context.Context, userID uuid.UUID, limit int) (models.RecommendationResponse, bool) {
	if e.cache == nil {
		return models.RecommendationResponse{}, false
	}

	data, err := e.cache.Get(ctx, recommendationsCacheKey(userID, limit)).Result()
	if err != nil {
		if err != redis.Nil {
			e.logger.WithError(err).Debug("Recommendation cache read failed")
		}
		return models.RecommendationResponse{}, false
	}

	var response models.RecommendationResponse
	if err := json.Unmarshal([]byte(data), &response); err != nil {
		e.logger.WithError(err).Warn("Dropping undecodable cached recommendations")
		return models.RecommendationResponse{}, false
	}
	response.CacheHit = true
	return response, true
}

func (e *RecommendationEngine) storeResponse(ctx context.Context, limit int, response models.RecommendationResponse) {
	if e.cache == nil || len(response.Recommendations) == 0 {
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to encode recommendations for cache")
		return
	}
	if err := e.cache.Set(ctx, recommendationsCacheKey(response.UserID, limit), data, e.cfg.Engine.ResponseCacheTTL).Err(); err != nil {
		e.logger.WithError(err).Debug("Recommendation cache write failed")
	}
}

func recommendationsCacheKey(userID uuid.UUID, limit int) string {
	return fmt.Sprintf("recommendations:%s:%d", userID, limit)
}

func levelOrDefault(level *float64, fallback float64) *float64 {
	if level != nil {
		return level
	}
	if fallback <= 0 {
		return nil
	}
	value := fallback
	return &value
}
