package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/pkg/models"
)

type MockEngagementScorer struct {
	mock.Mock
}

func (m *MockEngagementScorer) Score(params ml.EngagementParams) (*models.EngagementVector, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EngagementVector), args.Error(1)
}

func (m *MockEngagementScorer) RecordEngagement(ctx context.Context, contentID uuid.UUID, params ml.EngagementParams) (*models.EngagementVector, error) {
	args := m.Called(ctx, contentID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EngagementVector), args.Error(1)
}

func TestEngagementHandler_Score(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("scores without persisting when no content id", func(t *testing.T) {
		scorer := new(MockEngagementScorer)
		scorer.On("Score", mock.MatchedBy(func(params ml.EngagementParams) bool {
			return params.Metrics.Views == 1000 && params.Duration == 30
		})).Return(&models.EngagementVector{LikeRate: 0.15, CommentRate: 0.05}, nil)

		handler := NewEngagementHandler(scorer, testLogger())
		router := gin.New()
		router.POST("/engagement/score", handler.Score)

		body, _ := json.Marshal(gin.H{
			"metrics":  gin.H{"views": 1000, "likes": 150, "comments": 50},
			"duration": 30,
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/engagement/score", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		scorer.AssertExpectations(t)
		scorer.AssertNotCalled(t, "RecordEngagement")
	})

	t.Run("persists when content id is present", func(t *testing.T) {
		contentID := uuid.New()

		scorer := new(MockEngagementScorer)
		scorer.On("RecordEngagement", mock.Anything, contentID, mock.Anything).
			Return(&models.EngagementVector{QualityScore: 0.8}, nil)

		handler := NewEngagementHandler(scorer, testLogger())
		router := gin.New()
		router.POST("/engagement/score", handler.Score)

		body, _ := json.Marshal(gin.H{
			"content_id": contentID,
			"metrics":    gin.H{"views": 10, "likes": 4},
			"duration":   15,
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/engagement/score", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		scorer.AssertExpectations(t)
	})

	t.Run("invalid metrics map to 400", func(t *testing.T) {
		scorer := new(MockEngagementScorer)
		scorer.On("Score", mock.Anything).
			Return(nil, models.ErrInvalidConfig)

		handler := NewEngagementHandler(scorer, testLogger())
		router := gin.New()
		router.POST("/engagement/score", handler.Score)

		body, _ := json.Marshal(gin.H{
			"metrics": gin.H{"views": -5},
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/engagement/score", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
