package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/pkg/models"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		DefaultLimit:            20,
		CandidateMultiplier:     3,
		ProfileInteractionCount: 100,
		ProfileInterestCount:    10,
		ResponseCacheTTL:        time.Minute,
	}
}

func interactionWithTopics(userID uuid.UUID, timestamp time.Time, topics ...string) models.UserInteraction {
	return models.UserInteraction{
		ID:        uuid.New(),
		UserID:    userID,
		ContentID: uuid.New(),
		Type:      models.InteractionView,
		Topics:    topics,
		Timestamp: timestamp,
	}
}

func TestBuildProfile(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	t.Run("aggregates topics by frequency", func(t *testing.T) {
		interactionRepo := new(MockInteractionRepo)
		interactionRepo.On("FindByUserID", mock.Anything, userID, 100, 0).Return([]models.UserInteraction{
			interactionWithTopics(userID, now, "music", "jazz"),
			interactionWithTopics(userID, now.Add(-time.Hour), "music", "vinyl"),
			interactionWithTopics(userID, now.Add(-2*time.Hour), "music"),
			interactionWithTopics(userID, now.Add(-3*time.Hour), "cooking"),
		}, nil)

		builder := NewProfileBuilder(interactionRepo, nil, nil, testEngineConfig(), testLogger())
		profile, err := builder.BuildProfile(ctx, userID)

		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, userID, profile.UserID)
		assert.Equal(t, 4, profile.InteractionCount)
		assert.Equal(t, []string{"music", "cooking", "jazz", "vinyl"}, profile.Interests)
		assert.Equal(t, 3, profile.TopicWeights["music"])
		require.NotNil(t, profile.LastInteraction)
		assert.WithinDuration(t, now, *profile.LastInteraction, time.Second)
	})

	t.Run("caps interests at the configured count", func(t *testing.T) {
		interactions := make([]models.UserInteraction, 0, 12)
		for _, topic := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
			interactions = append(interactions, interactionWithTopics(userID, now, topic))
		}
		interactionRepo := new(MockInteractionRepo)
		interactionRepo.On("FindByUserID", mock.Anything, userID, 100, 0).Return(interactions, nil)

		builder := NewProfileBuilder(interactionRepo, nil, nil, testEngineConfig(), testLogger())
		profile, err := builder.BuildProfile(ctx, userID)

		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Len(t, profile.Interests, 10)
	})

	t.Run("no interactions yields no profile", func(t *testing.T) {
		interactionRepo := new(MockInteractionRepo)
		interactionRepo.On("FindByUserID", mock.Anything, userID, 100, 0).Return([]models.UserInteraction{}, nil)

		builder := NewProfileBuilder(interactionRepo, nil, nil, testEngineConfig(), testLogger())
		profile, err := builder.BuildProfile(ctx, userID)

		require.NoError(t, err)
		assert.Nil(t, profile)
	})

	t.Run("repository error propagates", func(t *testing.T) {
		interactionRepo := new(MockInteractionRepo)
		interactionRepo.On("FindByUserID", mock.Anything, userID, 100, 0).Return(nil, errors.New("timeout"))

		builder := NewProfileBuilder(interactionRepo, nil, nil, testEngineConfig(), testLogger())
		profile, err := builder.BuildProfile(ctx, userID)

		assert.Error(t, err)
		assert.Nil(t, profile)
	})

	t.Run("interest graph fills topicless histories", func(t *testing.T) {
		interactionRepo := new(MockInteractionRepo)
		interactionRepo.On("FindByUserID", mock.Anything, userID, 100, 0).Return([]models.UserInteraction{
			interactionWithTopics(userID, now), // no topics recorded
		}, nil)
		graph := new(MockInterestGraphRepo)
		graph.On("TopTopicsForUser", mock.Anything, userID, 10).Return([]string{"music", "jazz"}, nil)

		builder := NewProfileBuilder(interactionRepo, graph, nil, testEngineConfig(), testLogger())
		profile, err := builder.BuildProfile(ctx, userID)

		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, []string{"music", "jazz"}, profile.Interests)
	})

	t.Run("interest graph failure degrades to an interest-less profile", func(t *testing.T) {
		interactionRepo := new(MockInteractionRepo)
		interactionRepo.On("FindByUserID", mock.Anything, userID, 100, 0).Return([]models.UserInteraction{
			interactionWithTopics(userID, now),
		}, nil)
		graph := new(MockInterestGraphRepo)
		graph.On("TopTopicsForUser", mock.Anything, userID, 10).Return(nil, errors.New("neo4j down"))

		builder := NewProfileBuilder(interactionRepo, graph, nil, testEngineConfig(), testLogger())
		profile, err := builder.BuildProfile(ctx, userID)

		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.False(t, profile.HasInterests())
	})
}
