package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// ProfileBuilder derives an ephemeral user profile from the most recent
// interactions: topics are counted across the interaction log and the most
// frequent ones become the user's interests. Profiles are never persisted;
// a short-TTL redis cache absorbs repeated builds for active users.
type ProfileBuilder struct {
	interactionRepo  repository.InteractionRepo
	interestGraph    repository.InterestGraphRepo
	cache            *redis.Client
	cacheTTL         time.Duration
	interactionCount int
	interestCount    int
	logger           *logrus.Logger
}

// NewProfileBuilder builds profiles from the interaction log. interestGraph
// may be nil; it is only consulted when the log carries no topic metadata.
// cache may be nil, in which case every call rebuilds from the repository.
func NewProfileBuilder(
	interactionRepo repository.InteractionRepo,
	interestGraph repository.InterestGraphRepo,
	cache *redis.Client,
	cfg config.EngineConfig,
	logger *logrus.Logger,
) *ProfileBuilder {
	interactionCount := cfg.ProfileInteractionCount
	if interactionCount <= 0 {
		interactionCount = 100
	}
	interestCount := cfg.ProfileInterestCount
	if interestCount <= 0 {
		interestCount = 10
	}
	cacheTTL := cfg.ProfileCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ProfileBuilder{
		interactionRepo:  interactionRepo,
		interestGraph:    interestGraph,
		cache:            cache,
		cacheTTL:         cacheTTL,
		interactionCount: interactionCount,
		interestCount:    interestCount,
		logger:           logger,
	}
}

// BuildProfile returns (nil, nil) for users with no interaction history at
// all, which sends the engine down the cold-start path. Empty profiles are
// never cached so a user's first interactions take effect immediately.
func (b *ProfileBuilder) BuildProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if cached := b.cachedProfile(ctx, userID); cached != nil {
		return cached, nil
	}

	interactions, err := b.interactionRepo.FindByUserID(ctx, userID, b.interactionCount, 0)
	if err != nil {
		return nil, fmt.Errorf("load interactions for profile: %w", err)
	}
	if len(interactions) == 0 {
		return nil, nil
	}

	profile := &models.UserProfile{
		UserID:           userID,
		TopicWeights:     make(map[string]int),
		InteractionCount: len(interactions),
	}

	for i := range interactions {
		interaction := &interactions[i]
		if profile.LastInteraction == nil || interaction.Timestamp.After(*profile.LastInteraction) {
			timestamp := interaction.Timestamp
			profile.LastInteraction = &timestamp
		}
		for _, topic := range interaction.Topics {
			profile.TopicWeights[topic]++
		}
	}

	profile.Interests = topInterests(profile.TopicWeights, b.interestCount)

	// Interaction logs ingested without topic metadata leave the profile
	// interest-less; the interest graph is the fallback signal.
	if len(profile.Interests) == 0 && b.interestGraph != nil {
		topics, err := b.interestGraph.TopTopicsForUser(ctx, userID, b.interestCount)
		if err != nil {
			b.logger.WithError(err).WithField("user_id", userID).Warn("Interest graph lookup failed, continuing without interests")
		} else {
			profile.Interests = topics
		}
	}

	b.storeProfile(ctx, userID, profile)
	return profile, nil
}

// Invalidate drops the cached profile so the next build reflects fresh
// interactions. Called by the ingest path after embedding rebuilds.
func (b *ProfileBuilder) Invalidate(ctx context.Context, userID uuid.UUID) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Del(ctx, profileCacheKey(userID)).Err(); err != nil {
		b.logger.WithError(err).WithField("user_id", userID).Debug("Failed to invalidate cached profile")
	}
}

func (b *ProfileBuilder) cachedProfile(ctx context.Context, userID uuid.UUID) *models.UserProfile {
	if b.cache == nil {
		return nil
	}

	data, err := b.cache.Get(ctx, profileCacheKey(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			b.logger.WithError(err).Debug("Profile cache read failed")
		}
		return nil
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		b.logger.WithError(err).Warn("Corrupt cached profile, rebuilding")
		return nil
	}
	return &profile
}

func (b *ProfileBuilder) storeProfile(ctx context.Context, userID uuid.UUID, profile *models.UserProfile) {
	if b.cache == nil {
		return
	}

	data, err := json.Marshal(profile)
	if err != nil {
		b.logger.WithError(err).Warn("Failed to marshal profile for cache")
		return
	}
	if err := b.cache.Set(ctx, profileCacheKey(userID), data, b.cacheTTL).Err(); err != nil {
		b.logger.WithError(err).Debug("Profile cache write failed")
	}
}

func profileCacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("profile:%s", userID)
}

// topInterests orders topics by frequency, breaking ties alphabetically so
// repeated builds of the same history agree.
func topInterests(weights map[string]int, limit int) []string {
	if len(weights) == 0 {
		return nil
	}

	topics := make([]string, 0, len(weights))
	for topic := range weights {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		if weights[topics[i]] != weights[topics[j]] {
			return weights[topics[i]] > weights[topics[j]]
		}
		return topics[i] < topics[j]
	})

	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}
