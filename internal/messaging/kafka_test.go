package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/pkg/models"
)

func TestInteractionRequestFromEvent(t *testing.T) {
	userID := uuid.New()
	contentID := uuid.New()
	duration := 42

	testCases := []struct {
		name    string
		event   models.InteractionEvent
		wantErr bool
	}{
		{
			name: "valid event",
			event: models.InteractionEvent{
				UserID:    userID.String(),
				ContentID: contentID.String(),
				Type:      models.InteractionLike,
				Duration:  &duration,
				Topics:    []string{"surf", "travel"},
				Timestamp: time.Now(),
			},
		},
		{
			name: "malformed user id",
			event: models.InteractionEvent{
				UserID:    "not-a-uuid",
				ContentID: contentID.String(),
				Type:      models.InteractionView,
			},
			wantErr: true,
		},
		{
			name: "unknown interaction type",
			event: models.InteractionEvent{
				UserID:    userID.String(),
				ContentID: contentID.String(),
				Type:      "superlike",
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			request, err := interactionRequestFromEvent(&tc.event)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, userID, request.UserID)
			assert.Equal(t, contentID, request.ContentID)
			assert.Equal(t, tc.event.Type, request.Type)
			assert.Equal(t, tc.event.Duration, request.Duration)
			assert.Equal(t, tc.event.Topics, request.Topics)
		})
	}
}

func TestContentEmbeddingFromEvent(t *testing.T) {
	contentID := uuid.New()
	authorID := uuid.New()

	t.Run("full event", func(t *testing.T) {
		event := models.ContentEmbeddingEvent{
			ContentID: contentID.String(),
			Vector:    []float64{0.1, 0.2, 0.3},
			Topics:    []string{"food"},
			AuthorID:  authorID.String(),
			Language:  "pt-BR",
			Location:  "BR-SP",
			CreatedAt: time.Now(),
		}

		embedding, err := contentEmbeddingFromEvent(&event)
		require.NoError(t, err)
		assert.Equal(t, contentID, embedding.ContentID)
		assert.Equal(t, event.Vector, embedding.Vector)
		require.NotNil(t, embedding.AuthorID)
		assert.Equal(t, authorID, *embedding.AuthorID)
	})

	t.Run("author is optional", func(t *testing.T) {
		event := models.ContentEmbeddingEvent{
			ContentID: contentID.String(),
			Vector:    []float64{1, 0},
		}

		embedding, err := contentEmbeddingFromEvent(&event)
		require.NoError(t, err)
		assert.Nil(t, embedding.AuthorID)
	})

	t.Run("malformed author id fails", func(t *testing.T) {
		event := models.ContentEmbeddingEvent{
			ContentID: contentID.String(),
			Vector:    []float64{1, 0},
			AuthorID:  "bogus",
		}

		_, err := contentEmbeddingFromEvent(&event)
		assert.Error(t, err)
	})
}

func TestWithRetry(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := &EventBus{logger: logger}

	t.Run("first success returns immediately", func(t *testing.T) {
		calls := 0
		err := bus.withRetry(context.Background(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation stops the backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := bus.withRetry(ctx, func() error {
			calls++
			return errors.New("still failing")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		// The first attempt runs before any backoff wait.
		assert.Equal(t, 1, calls)
	})
}

func TestReaderStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, readerStopped(ctx, errors.New("read aborted")))
	assert.True(t, readerStopped(context.Background(), context.Canceled))
	assert.False(t, readerStopped(context.Background(), errors.New("broker unreachable")))
}
