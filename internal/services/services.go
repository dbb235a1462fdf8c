package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/database"
	"github.com/novafeed/riptide/internal/messaging"
	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/internal/validation"
)

// Services is the wired service graph the handlers talk to.
type Services struct {
	Repos *repository.Repositories

	Auth      *AuthService
	RateLimit *RateLimitService
	Health    *HealthService
	Metrics   *MetricsCollector

	Engine         *RecommendationEngine
	Ingest         *InteractionIngestService
	Engagement     *EngagementService
	SimilarContent *SimilarContentService
	Scheduler      *JobScheduler
	EventBus       *messaging.EventBus

	logger *logrus.Logger
}

// New builds the full service graph on top of the shared connections.
// Background workers (ingest, scheduler, Kafka consumers) start immediately;
// Stop tears them down in reverse order.
func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	repos := repository.New(db.PG, db.Redis.Warm, db.Neo4j, logger)

	authService := NewAuthService(cfg, logger, db.Redis.Hot)
	rateLimitService := NewRateLimitService(cfg, logger, db.Redis.Hot)
	healthService := NewHealthService(cfg, logger, db)
	metrics := NewMetricsCollector(db.PG, logger)

	clusterer, err := ml.NewDBSCANClusterer(ml.DBSCANConfig{
		Epsilon:   cfg.Recommendation.Clustering.Epsilon,
		MinPoints: cfg.Recommendation.Clustering.MinPoints,
		Distance:  ml.DistanceFunc(cfg.Recommendation.Clustering.Distance),
	})
	if err != nil {
		return nil, fmt.Errorf("build clusterer: %w", err)
	}
	matcher, err := NewClusterMatcher(cfg.Recommendation.Matcher, logger)
	if err != nil {
		return nil, fmt.Errorf("build cluster matcher: %w", err)
	}
	ranker, err := NewRanker(repos.ContentEmbeddings, cfg.Recommendation.Ranker, logger)
	if err != nil {
		return nil, fmt.Errorf("build ranker: %w", err)
	}
	hybridRanker, err := NewHybridRanker(cfg.Recommendation.Hybrid, logger)
	if err != nil {
		return nil, fmt.Errorf("build hybrid ranker: %w", err)
	}

	profileBuilder := NewProfileBuilder(repos.Interactions, repos.InterestGraph, db.Redis.Warm, cfg.Recommendation.Engine, logger)
	selector := NewCandidateSelector(repos.Clusters, repos.Interactions, cfg.Recommendation.Selector, logger)

	engine := NewRecommendationEngine(
		repos, profileBuilder, matcher, selector, ranker, clusterer,
		db.Redis.Hot, metrics, cfg.Recommendation, logger,
	)

	engagement := NewEngagementService(db.Redis.Warm, cfg.Recommendation.Engine, logger)
	similarContent := NewSimilarContentService(repos.ContentEmbeddings, engagement, hybridRanker, cfg.Recommendation.Hybrid, logger)

	ingest := NewInteractionIngestService(repos, profileBuilder, metrics, logger)
	scheduler := NewJobScheduler(engine, repos, db.Redis.Warm, cfg.Recommendation.Clustering, logger)

	var eventBus *messaging.EventBus
	if len(cfg.Kafka.Brokers) > 0 {
		validator, err := validation.NewEventValidator()
		if err != nil {
			return nil, fmt.Errorf("compile event schemas: %w", err)
		}
		eventBus = messaging.NewEventBus(cfg, validator, logger)
		eventBus.Start(ingest, repos.ContentEmbeddings)
	} else {
		logger.Info("No Kafka brokers configured, event consumers disabled")
	}

	return &Services{
		Repos:          repos,
		Auth:           authService,
		RateLimit:      rateLimitService,
		Health:         healthService,
		Metrics:        metrics,
		Engine:         engine,
		Ingest:         ingest,
		Engagement:     engagement,
		SimilarContent: similarContent,
		Scheduler:      scheduler,
		EventBus:       eventBus,
		logger:         logger,
	}, nil
}

// Stop shuts the background work down: intake first so nothing new arrives,
// then the workers that drain what is queued.
func (s *Services) Stop() {
	if s.EventBus != nil {
		if err := s.EventBus.Stop(); err != nil {
			s.logger.WithError(err).Warn("Event bus shutdown reported errors")
		}
	}
	s.Scheduler.Stop()
	s.Ingest.Stop()
	s.Metrics.Close()
}
