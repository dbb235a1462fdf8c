package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// InteractionIngestService records user interactions and keeps the derived
// state fresh in the background: the user's embedding is rebuilt from recent
// interactions and the interest graph receives topic edges. Both updates run
// on worker goroutines so the write path stays a single insert.
type InteractionIngestService struct {
	interactions  repository.InteractionRepo
	content       repository.ContentEmbeddingRepo
	users         repository.UserEmbeddingRepo
	interestGraph repository.InterestGraphRepo
	profiles      *ProfileBuilder
	metrics       *MetricsCollector
	logger        *logrus.Logger

	embeddingUpdateChan chan uuid.UUID
	graphUpdateChan     chan models.UserInteraction
	stopChan            chan struct{}
	wg                  sync.WaitGroup
}

// NewInteractionIngestService starts the background workers immediately.
// profiles and metrics may be nil; the corresponding hooks are skipped.
func NewInteractionIngestService(
	repos *repository.Repositories,
	profiles *ProfileBuilder,
	metrics *MetricsCollector,
	logger *logrus.Logger,
) *InteractionIngestService {
	service := &InteractionIngestService{
		interactions:        repos.Interactions,
		content:             repos.ContentEmbeddings,
		users:               repos.UserEmbeddings,
		interestGraph:       repos.InterestGraph,
		profiles:            profiles,
		metrics:             metrics,
		logger:              logger,
		embeddingUpdateChan: make(chan uuid.UUID, 1000),
		graphUpdateChan:     make(chan models.UserInteraction, 1000),
		stopChan:            make(chan struct{}),
	}

	service.startBackgroundWorkers()

	return service
}

func (s *InteractionIngestService) startBackgroundWorkers() {
	s.wg.Add(1)
	go s.embeddingUpdateWorker()

	s.wg.Add(1)
	go s.graphBatchWorker()
}

// Stop drains the pending graph batch and waits for the workers to exit.
func (s *InteractionIngestService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// RecordInteraction validates and stores one interaction, then queues the
// background updates it implies.
func (s *InteractionIngestService) RecordInteraction(ctx context.Context, req *models.InteractionRequest) (*models.UserInteraction, error) {
	if !models.ValidInteractionType(req.Type) {
		return nil, fmt.Errorf("unknown interaction type %q", req.Type)
	}

	interaction := &models.UserInteraction{
		ID:           uuid.New(),
		UserID:       req.UserID,
		ContentID:    req.ContentID,
		Type:         req.Type,
		Duration:     req.Duration,
		WatchPercent: req.WatchPercent,
		Topics:       req.Topics,
		Timestamp:    time.Now(),
	}

	if err := s.interactions.Save(ctx, interaction); err != nil {
		return nil, fmt.Errorf("failed to store interaction: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordInteraction(interaction.Type)
	}

	s.triggerEmbeddingUpdate(interaction.UserID)
	s.queueGraphUpdate(interaction)

	fields := logrus.Fields{
		"user_id":    interaction.UserID,
		"content_id": interaction.ContentID,
		"type":       interaction.Type,
	}
	// View events dominate volume; keep them out of the info log.
	switch interaction.Type {
	case models.InteractionView, models.InteractionPartialView, models.InteractionCompleteView:
		s.logger.WithFields(fields).Debug("Recorded interaction")
	default:
		s.logger.WithFields(fields).Info("Recorded interaction")
	}

	return interaction, nil
}

// RecordBatch stores a batch of interactions, skipping individual failures so
// one malformed event does not reject the rest of the batch.
func (s *InteractionIngestService) RecordBatch(ctx context.Context, reqs []models.InteractionRequest) ([]models.UserInteraction, error) {
	recorded := make([]models.UserInteraction, 0, len(reqs))
	affectedUsers := make(map[uuid.UUID]struct{})

	for i := range reqs {
		interaction, err := s.RecordInteraction(ctx, &reqs[i])
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"user_id":    reqs[i].UserID,
				"content_id": reqs[i].ContentID,
			}).Error("Failed to record interaction in batch")
			continue
		}
		recorded = append(recorded, *interaction)
		affectedUsers[interaction.UserID] = struct{}{}
	}

	s.logger.WithFields(logrus.Fields{
		"total_interactions": len(recorded),
		"affected_users":     len(affectedUsers),
	}).Info("Processed interaction batch")

	return recorded, nil
}

// History returns the user's interaction log, newest first.
func (s *InteractionIngestService) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserInteraction, error) {
	return s.interactions.FindByUserID(ctx, userID, limit, offset)
}

func (s *InteractionIngestService) triggerEmbeddingUpdate(userID uuid.UUID) {
	select {
	case s.embeddingUpdateChan <- userID:
	default:
		s.logger.WithField("user_id", userID).Warn("Embedding update queue full")
	}
}

func (s *InteractionIngestService) queueGraphUpdate(interaction *models.UserInteraction) {
	if s.interestGraph == nil || len(interaction.Topics) == 0 {
		return
	}

	select {
	case s.graphUpdateChan <- *interaction:
	default:
		s.logger.WithField("user_id", interaction.UserID).Warn("Interest graph queue full")
	}
}

// embeddingUpdateWorker coalesces per-user update triggers: a user's
// embedding is rebuilt after 10 queued interactions, or on the periodic tick
// for anyone with pending triggers.
func (s *InteractionIngestService) embeddingUpdateWorker() {
	defer s.wg.Done()

	updateCounts := make(map[uuid.UUID]int)
	lastUpdate := make(map[uuid.UUID]time.Time)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case userID := <-s.embeddingUpdateChan:
			updateCounts[userID]++

			if updateCounts[userID] >= 10 || lastUpdate[userID].IsZero() {
				if err := s.rebuildUserEmbedding(context.Background(), userID); err != nil {
					s.logger.WithError(err).WithField("user_id", userID).Error("Failed to rebuild user embedding")
				} else {
					updateCounts[userID] = 0
					lastUpdate[userID] = time.Now()
				}
			}

		case <-ticker.C:
			for userID, count := range updateCounts {
				if count > 0 && time.Since(lastUpdate[userID]) > 5*time.Minute {
					if err := s.rebuildUserEmbedding(context.Background(), userID); err != nil {
						s.logger.WithError(err).WithField("user_id", userID).Error("Failed to rebuild user embedding")
					} else {
						updateCounts[userID] = 0
						lastUpdate[userID] = time.Now()
					}
				}
			}

		case <-s.stopChan:
			return
		}
	}
}

// graphBatchWorker forwards interactions to the interest graph in batches so
// a slow neo4j round trip never sits on the request path.
func (s *InteractionIngestService) graphBatchWorker() {
	defer s.wg.Done()

	var batch []models.UserInteraction
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case interaction := <-s.graphUpdateChan:
			batch = append(batch, interaction)
			if len(batch) >= 100 {
				s.flushGraphBatch(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flushGraphBatch(batch)
				batch = nil
			}

		case <-s.stopChan:
			// Drain whatever was queued before the stop, then flush once.
			for {
				select {
				case interaction := <-s.graphUpdateChan:
					batch = append(batch, interaction)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				s.flushGraphBatch(batch)
			}
			return
		}
	}
}

func (s *InteractionIngestService) flushGraphBatch(batch []models.UserInteraction) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for i := range batch {
		if err := s.interestGraph.RecordInteraction(ctx, &batch[i]); err != nil {
			failed++
		}
	}

	if failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"batch_size": len(batch),
			"failed":     failed,
		}).Warn("Interest graph batch partially failed")
	} else {
		s.logger.WithField("batch_size", len(batch)).Debug("Flushed interest graph batch")
	}
}

// rebuildUserEmbedding recomputes the user's vector as the weighted average
// of the content they recently interacted with. Weights combine interaction
// strength with a 30-day half-life decay; negative signals (dislike, skip,
// report) subtract their content's direction.
func (s *InteractionIngestService) rebuildUserEmbedding(ctx context.Context, userID uuid.UUID) error {
	interactions, err := s.interactions.FindRecentByUserID(ctx, userID, 90, 500)
	if err != nil {
		return fmt.Errorf("failed to load recent interactions: %w", err)
	}
	if len(interactions) == 0 {
		return nil
	}

	contentIDs := make([]uuid.UUID, 0, len(interactions))
	seen := make(map[uuid.UUID]struct{}, len(interactions))
	for _, interaction := range interactions {
		if _, ok := seen[interaction.ContentID]; ok {
			continue
		}
		seen[interaction.ContentID] = struct{}{}
		contentIDs = append(contentIDs, interaction.ContentID)
	}

	embeddings, err := s.content.FindByIDs(ctx, contentIDs)
	if err != nil {
		return fmt.Errorf("failed to load content embeddings: %w", err)
	}
	vectors := make(map[uuid.UUID][]float64, len(embeddings))
	for i := range embeddings {
		if len(embeddings[i].Vector) > 0 {
			vectors[embeddings[i].ContentID] = embeddings[i].Vector
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	var accumulated []float64
	topicWeights := make(map[string]int)
	var lastInteraction time.Time

	for _, interaction := range interactions {
		if interaction.Timestamp.After(lastInteraction) {
			lastInteraction = interaction.Timestamp
		}
		for _, topic := range interaction.Topics {
			topicWeights[topic]++
		}

		vector, ok := vectors[interaction.ContentID]
		if !ok {
			continue
		}

		daysSince := time.Since(interaction.Timestamp).Hours() / 24
		decay := math.Exp(-daysSince * math.Ln2 / 30)
		weight := interactionWeight(&interaction) * decay
		if math.Abs(weight) < 0.01 {
			continue
		}

		if accumulated == nil {
			accumulated = make([]float64, len(vector))
		}
		if len(vector) != len(accumulated) {
			s.logger.WithFields(logrus.Fields{
				"content_id": interaction.ContentID,
				"dimension":  len(vector),
			}).Debug("Skipping embedding with mismatched dimension")
			continue
		}
		for i, v := range vector {
			accumulated[i] += v * weight
		}
	}

	if accumulated == nil {
		return nil
	}
	normalized := ml.NormalizeL2(accumulated)
	if vectorNorm(normalized) == 0 {
		// Signals cancelled out; keep the previous embedding.
		return nil
	}

	now := time.Now()
	embedding := &models.UserEmbedding{
		UserID:            userID,
		Vector:            normalized,
		Interests:         topInterests(topicWeights, 10),
		LastInteractionAt: &lastInteraction,
		UpdatedAt:         now,
	}
	if err := s.users.Save(ctx, embedding); err != nil {
		return fmt.Errorf("failed to save user embedding: %w", err)
	}
	if s.profiles != nil {
		s.profiles.Invalidate(ctx, userID)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"interactions": len(interactions),
	}).Debug("Rebuilt user embedding")

	return nil
}

// interactionWeight maps an interaction to its signal strength in [-1, 1].
func interactionWeight(interaction *models.UserInteraction) float64 {
	switch interaction.Type {
	case models.InteractionLike:
		return 0.8
	case models.InteractionLikeComment:
		return 0.6
	case models.InteractionComment:
		return 0.7
	case models.InteractionShare:
		return 0.9
	case models.InteractionSave:
		return 0.85
	case models.InteractionCompleteView:
		return 0.7
	case models.InteractionPartialView:
		if interaction.WatchPercent != nil {
			return 0.5 * *interaction.WatchPercent
		}
		return 0.2
	case models.InteractionView:
		if interaction.Duration != nil {
			return 0.6 * math.Min(float64(*interaction.Duration)/300.0, 1.0)
		}
		return 0.3
	case models.InteractionDislike:
		return -0.8
	case models.InteractionSkip:
		return -0.3
	case models.InteractionReport:
		return -1.0
	case models.InteractionShowLessOften:
		return -0.5
	default:
		return 0.1
	}
}

func vectorNorm(vector []float64) float64 {
	var sum float64
	for _, v := range vector {
		sum += v * v
	}
	return math.Sqrt(sum)
}
