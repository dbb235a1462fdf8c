package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

type ingestMocks struct {
	interactions *MockInteractionRepo
	content      *MockContentEmbeddingRepo
	users        *MockUserEmbeddingRepo
	graph        *MockInterestGraphRepo
}

func newIngestService(m ingestMocks) *InteractionIngestService {
	repos := &repository.Repositories{
		Interactions:      m.interactions,
		ContentEmbeddings: m.content,
		UserEmbeddings:    m.users,
	}
	if m.graph != nil {
		repos.InterestGraph = m.graph
	}
	return NewInteractionIngestService(repos, nil, nil, testLogger())
}

func TestRecordInteraction(t *testing.T) {
	t.Run("stores the interaction and fills in identity", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
		}
		userID := uuid.New()
		contentID := uuid.New()

		var saved *models.UserInteraction
		m.interactions.On("Save", mock.Anything, mock.AnythingOfType("*models.UserInteraction")).
			Run(func(args mock.Arguments) {
				saved = args.Get(1).(*models.UserInteraction)
			}).
			Return(nil).Once()
		// The background worker may rebuild the embedding before Stop.
		m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
			Return([]models.UserInteraction{}, nil).Maybe()

		service := newIngestService(m)
		defer service.Stop()

		duration := 120
		interaction, err := service.RecordInteraction(context.Background(), &models.InteractionRequest{
			UserID:    userID,
			ContentID: contentID,
			Type:      models.InteractionLike,
			Duration:  &duration,
			Topics:    []string{"go"},
		})

		require.NoError(t, err)
		require.NotNil(t, interaction)
		assert.NotEqual(t, uuid.Nil, interaction.ID)
		assert.Equal(t, userID, interaction.UserID)
		assert.Equal(t, contentID, interaction.ContentID)
		assert.Equal(t, models.InteractionLike, interaction.Type)
		assert.WithinDuration(t, time.Now(), interaction.Timestamp, time.Second)

		require.NotNil(t, saved)
		assert.Equal(t, interaction.ID, saved.ID)
	})

	t.Run("rejects unknown interaction types without touching storage", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
		}
		service := newIngestService(m)
		defer service.Stop()

		_, err := service.RecordInteraction(context.Background(), &models.InteractionRequest{
			UserID:    uuid.New(),
			ContentID: uuid.New(),
			Type:      "superlike",
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "superlike")
		m.interactions.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("wraps storage failures", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
		}
		m.interactions.On("Save", mock.Anything, mock.Anything).
			Return(errors.New("connection reset")).Once()

		service := newIngestService(m)
		defer service.Stop()

		_, err := service.RecordInteraction(context.Background(), &models.InteractionRequest{
			UserID:    uuid.New(),
			ContentID: uuid.New(),
			Type:      models.InteractionView,
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to store interaction")
	})
}

func TestRecordBatch_SkipsFailedItems(t *testing.T) {
	m := ingestMocks{
		interactions: new(MockInteractionRepo),
		content:      new(MockContentEmbeddingRepo),
		users:        new(MockUserEmbeddingRepo),
	}
	userID := uuid.New()

	m.interactions.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	m.interactions.On("Save", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()
	m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
		Return([]models.UserInteraction{}, nil).Maybe()

	service := newIngestService(m)
	defer service.Stop()

	recorded, err := service.RecordBatch(context.Background(), []models.InteractionRequest{
		{UserID: userID, ContentID: uuid.New(), Type: models.InteractionLike},
		{UserID: userID, ContentID: uuid.New(), Type: models.InteractionShare},
	})

	require.NoError(t, err)
	assert.Len(t, recorded, 1)
	assert.Equal(t, models.InteractionLike, recorded[0].Type)
}

func TestRebuildUserEmbedding(t *testing.T) {
	userID := uuid.New()
	contentA := uuid.New()
	contentB := uuid.New()
	now := time.Now()

	t.Run("positive and negative signals pull in opposite directions", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
		}
		m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
			Return([]models.UserInteraction{
				{UserID: userID, ContentID: contentA, Type: models.InteractionLike, Topics: []string{"go"}, Timestamp: now},
				{UserID: userID, ContentID: contentB, Type: models.InteractionDislike, Topics: []string{"rust"}, Timestamp: now.Add(-time.Minute)},
			}, nil).Once()
		m.content.On("FindByIDs", mock.Anything, mock.Anything).
			Return([]models.ContentEmbedding{
				{ContentID: contentA, Vector: []float64{1, 0}},
				{ContentID: contentB, Vector: []float64{0, 1}},
			}, nil).Once()

		var saved *models.UserEmbedding
		m.users.On("Save", mock.Anything, mock.AnythingOfType("*models.UserEmbedding")).
			Run(func(args mock.Arguments) {
				saved = args.Get(1).(*models.UserEmbedding)
			}).
			Return(nil).Once()

		service := newIngestService(m)
		defer service.Stop()

		require.NoError(t, service.rebuildUserEmbedding(context.Background(), userID))

		require.NotNil(t, saved)
		assert.Equal(t, userID, saved.UserID)
		require.Len(t, saved.Vector, 2)
		// like contributes +[1,0], dislike -[0,1]; normalized to unit length.
		assert.InDelta(t, math.Sqrt2/2, saved.Vector[0], 1e-6)
		assert.InDelta(t, -math.Sqrt2/2, saved.Vector[1], 1e-6)
		assert.Equal(t, []string{"go", "rust"}, saved.Interests)
		require.NotNil(t, saved.LastInteractionAt)
		assert.WithinDuration(t, now, *saved.LastInteractionAt, time.Second)
	})

	t.Run("keeps the previous embedding when signals cancel out", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
		}
		m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
			Return([]models.UserInteraction{
				{UserID: userID, ContentID: contentA, Type: models.InteractionLike, Timestamp: now},
				{UserID: userID, ContentID: contentB, Type: models.InteractionDislike, Timestamp: now},
			}, nil).Once()
		m.content.On("FindByIDs", mock.Anything, mock.Anything).
			Return([]models.ContentEmbedding{
				{ContentID: contentA, Vector: []float64{1, 0}},
				{ContentID: contentB, Vector: []float64{1, 0}},
			}, nil).Once()

		service := newIngestService(m)
		defer service.Stop()

		require.NoError(t, service.rebuildUserEmbedding(context.Background(), userID))
		m.users.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("no recent interactions is a no-op", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
		}
		m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
			Return([]models.UserInteraction{}, nil).Once()

		service := newIngestService(m)
		defer service.Stop()

		require.NoError(t, service.rebuildUserEmbedding(context.Background(), userID))
		m.content.AssertNotCalled(t, "FindByIDs", mock.Anything, mock.Anything)
		m.users.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})
}

func TestGraphBatch(t *testing.T) {
	t.Run("queued topic interactions reach the graph on shutdown", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
			graph:        new(MockInterestGraphRepo),
		}
		userID := uuid.New()

		m.interactions.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
			Return([]models.UserInteraction{}, nil).Maybe()
		m.graph.On("RecordInteraction", mock.Anything, mock.MatchedBy(func(i *models.UserInteraction) bool {
			return i.UserID == userID && len(i.Topics) == 1
		})).Return(nil).Once()

		service := newIngestService(m)

		_, err := service.RecordInteraction(context.Background(), &models.InteractionRequest{
			UserID:    userID,
			ContentID: uuid.New(),
			Type:      models.InteractionComment,
			Topics:    []string{"surfing"},
		})
		require.NoError(t, err)

		service.Stop()
		m.graph.AssertExpectations(t)
	})

	t.Run("interactions without topics never touch the graph", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
			graph:        new(MockInterestGraphRepo),
		}
		userID := uuid.New()

		m.interactions.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		m.interactions.On("FindRecentByUserID", mock.Anything, userID, 90, 500).
			Return([]models.UserInteraction{}, nil).Maybe()

		service := newIngestService(m)

		_, err := service.RecordInteraction(context.Background(), &models.InteractionRequest{
			UserID:    userID,
			ContentID: uuid.New(),
			Type:      models.InteractionView,
		})
		require.NoError(t, err)

		service.Stop()
		m.graph.AssertNotCalled(t, "RecordInteraction", mock.Anything, mock.Anything)
	})

	t.Run("partial graph failures do not abort the flush", func(t *testing.T) {
		m := ingestMocks{
			interactions: new(MockInteractionRepo),
			content:      new(MockContentEmbeddingRepo),
			users:        new(MockUserEmbeddingRepo),
			graph:        new(MockInterestGraphRepo),
		}
		m.graph.On("RecordInteraction", mock.Anything, mock.Anything).Return(errors.New("neo4j down")).Once()
		m.graph.On("RecordInteraction", mock.Anything, mock.Anything).Return(nil).Once()

		service := newIngestService(m)
		defer service.Stop()

		service.flushGraphBatch([]models.UserInteraction{
			{UserID: uuid.New(), ContentID: uuid.New(), Type: models.InteractionLike, Topics: []string{"a"}},
			{UserID: uuid.New(), ContentID: uuid.New(), Type: models.InteractionLike, Topics: []string{"b"}},
		})

		m.graph.AssertExpectations(t)
	})
}

func TestInteractionWeight(t *testing.T) {
	duration := 300
	fullWatch := 1.0
	halfWatch := 0.5

	cases := []struct {
		name        string
		interaction models.UserInteraction
		expected    float64
	}{
		{"like", models.UserInteraction{Type: models.InteractionLike}, 0.8},
		{"share outweighs like", models.UserInteraction{Type: models.InteractionShare}, 0.9},
		{"view scales with duration", models.UserInteraction{Type: models.InteractionView, Duration: &duration}, 0.6},
		{"view without duration", models.UserInteraction{Type: models.InteractionView}, 0.3},
		{"partial view scales with watch percent", models.UserInteraction{Type: models.InteractionPartialView, WatchPercent: &halfWatch}, 0.25},
		{"full partial view", models.UserInteraction{Type: models.InteractionPartialView, WatchPercent: &fullWatch}, 0.5},
		{"report is the strongest negative", models.UserInteraction{Type: models.InteractionReport}, -1.0},
		{"skip is a mild negative", models.UserInteraction{Type: models.InteractionSkip}, -0.3},
		{"unknown types count a little", models.UserInteraction{Type: "poke"}, 0.1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, interactionWeight(&tc.interaction), 1e-9)
		})
	}
}
