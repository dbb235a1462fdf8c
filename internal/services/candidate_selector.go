package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// CandidateSelector pulls content ids out of matched clusters, drops
// everything the user has already interacted with and keeps cluster
// provenance on each candidate for the ranker.
type CandidateSelector struct {
	clusterRepo     repository.ClusterRepo
	interactionRepo repository.InteractionRepo
	minClusterScore float64
	timeWindow      time.Duration
	logger          *logrus.Logger
}

func NewCandidateSelector(
	clusterRepo repository.ClusterRepo,
	interactionRepo repository.InteractionRepo,
	cfg config.SelectorConfig,
	logger *logrus.Logger,
) *CandidateSelector {
	return &CandidateSelector{
		clusterRepo:     clusterRepo,
		interactionRepo: interactionRepo,
		minClusterScore: cfg.MinClusterScore,
		timeWindow:      time.Duration(cfg.TimeWindowHours) * time.Hour,
		logger:          logger,
	}
}

// SelectCandidates never fails: on any repository error it logs and returns
// an empty list so the engine can still answer the request.
func (s *CandidateSelector) SelectCandidates(
	ctx context.Context,
	matches []models.MatchResult,
	userID uuid.UUID,
	limit int,
) []models.Candidate {

	if limit <= 0 || len(matches) == 0 {
		return nil
	}

	retained := make([]models.MatchResult, 0, len(matches))
	for _, match := range matches {
		if match.Score >= s.minClusterScore {
			retained = append(retained, match)
		}
	}
	if len(retained) == 0 {
		return nil
	}

	excluded, err := s.interactionRepo.FindInteractedContentIDs(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to load interacted content ids, returning no candidates")
		return nil
	}
	excludedSet := make(map[uuid.UUID]struct{}, len(excluded))
	for _, id := range excluded {
		excludedSet[id] = struct{}{}
	}

	clusterIDs := make([]uuid.UUID, len(retained))
	for i, match := range retained {
		clusterIDs[i] = match.ClusterID
	}
	clusters, err := s.clusterRepo.FindByIDs(ctx, clusterIDs)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load matched clusters, returning no candidates")
		return nil
	}
	clustersByID := make(map[uuid.UUID]*models.Cluster, len(clusters))
	for i := range clusters {
		clustersByID[clusters[i].ID] = &clusters[i]
	}

	// Over-fetch per cluster so exclusions and duplicates still leave
	// enough candidates to fill the limit.
	perCluster := ((limit + len(retained) - 1) / len(retained)) * 2
	assignmentCutoff := time.Now().Add(-s.timeWindow)

	best := make(map[uuid.UUID]models.Candidate)
	order := make([]uuid.UUID, 0, limit*2)

	for _, match := range retained {
		contentIDs, err := s.clusterRepo.FindContentIDsByClusterID(ctx, match.ClusterID, perCluster)
		if err != nil {
			s.logger.WithError(err).WithField("cluster_id", match.ClusterID).Error("Failed to load cluster members, returning no candidates")
			return nil
		}

		for _, contentID := range contentIDs {
			if _, seen := excludedSet[contentID]; seen {
				continue
			}

			candidate, ok := s.buildCandidate(ctx, contentID, match, clustersByID[match.ClusterID], assignmentCutoff)
			if !ok {
				continue
			}

			existing, dup := best[contentID]
			if !dup {
				best[contentID] = candidate
				order = append(order, contentID)
				continue
			}
			if candidate.ClusterScore > existing.ClusterScore {
				best[contentID] = candidate
			}
		}
	}

	candidates := make([]models.Candidate, 0, len(best))
	for _, contentID := range order {
		candidates = append(candidates, best[contentID])
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ClusterScore > candidates[j].ClusterScore
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates
}

// buildCandidate recovers the assignment similarity for the content id and
// attaches cluster provenance. Assignments older than the selector's time
// window are treated as stale and skipped.
func (s *CandidateSelector) buildCandidate(
	ctx context.Context,
	contentID uuid.UUID,
	match models.MatchResult,
	cluster *models.Cluster,
	assignmentCutoff time.Time,
) (models.Candidate, bool) {

	candidate := models.Candidate{
		ContentID:    contentID,
		ClusterID:    match.ClusterID,
		ClusterScore: match.Score,
	}

	assignments, err := s.clusterRepo.FindAssignmentsByContentID(ctx, contentID)
	if err != nil {
		s.logger.WithError(err).WithField("content_id", contentID).Warn("Failed to load cluster assignment, skipping candidate")
		return models.Candidate{}, false
	}
	for _, assignment := range assignments {
		if assignment.ClusterID != match.ClusterID {
			continue
		}
		if s.timeWindow > 0 && assignment.AssignedAt.Before(assignmentCutoff) {
			return models.Candidate{}, false
		}
		candidate.Metadata.Similarity = assignment.Similarity
		break
	}

	if cluster != nil {
		candidate.Metadata.ClusterSize = cluster.Size
		candidate.Metadata.ClusterDensity = cluster.Density
	}

	return candidate, true
}
