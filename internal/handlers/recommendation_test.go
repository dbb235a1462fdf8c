package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/pkg/models"
)

type MockRecommendationProvider struct {
	mock.Mock
}

func (m *MockRecommendationProvider) GetRecommendations(ctx context.Context, request models.RecommendationRequest) models.RecommendationResponse {
	args := m.Called(ctx, request)
	return args.Get(0).(models.RecommendationResponse)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func feedPage(userID uuid.UUID, count int) models.RecommendationResponse {
	recommendations := make([]models.Recommendation, count)
	for i := range recommendations {
		recommendations[i] = models.Recommendation{
			ContentID: uuid.New(),
			Score:     0.9 - 0.1*float64(i),
			Reason:    "Recommended for you",
			ClusterID: uuid.New(),
		}
	}
	return models.RecommendationResponse{
		UserID:          userID,
		Recommendations: recommendations,
		GeneratedAt:     time.Now(),
	}
}

func TestRecommendationHandler_Create(t *testing.T) {
	gin.SetMode(gin.TestMode)

	userID := uuid.New()

	t.Run("valid request", func(t *testing.T) {
		engine := new(MockRecommendationProvider)
		engine.On("GetRecommendations", mock.Anything, mock.MatchedBy(func(req models.RecommendationRequest) bool {
			return req.UserID == userID && req.Limit == 5
		})).Return(feedPage(userID, 5))

		handler := NewRecommendationHandler(engine, nil, nil, testLogger())

		router := gin.New()
		router.POST("/recommendations", handler.Create)

		body, _ := json.Marshal(gin.H{"user_id": userID, "limit": 5})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/recommendations", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response models.RecommendationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, userID, response.UserID)
		assert.Len(t, response.Recommendations, 5)
		engine.AssertExpectations(t)
	})

	t.Run("missing user id", func(t *testing.T) {
		engine := new(MockRecommendationProvider)
		handler := NewRecommendationHandler(engine, nil, nil, testLogger())

		router := gin.New()
		router.POST("/recommendations", handler.Create)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/recommendations", bytes.NewBufferString(`{"limit": 5}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		engine.AssertNotCalled(t, "GetRecommendations")
	})

	t.Run("limit above maximum rejected", func(t *testing.T) {
		engine := new(MockRecommendationProvider)
		handler := NewRecommendationHandler(engine, nil, nil, testLogger())

		router := gin.New()
		router.POST("/recommendations", handler.Create)

		body, _ := json.Marshal(gin.H{"user_id": userID, "limit": 500})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/recommendations", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRecommendationHandler_Get(t *testing.T) {
	gin.SetMode(gin.TestMode)

	userID := uuid.New()
	excludeID := uuid.New()

	t.Run("query parameters populate the request", func(t *testing.T) {
		engine := new(MockRecommendationProvider)
		engine.On("GetRecommendations", mock.Anything, mock.MatchedBy(func(req models.RecommendationRequest) bool {
			if req.UserID != userID || req.Limit != 10 {
				return false
			}
			if len(req.ExcludeIDs) != 1 || req.ExcludeIDs[0] != excludeID {
				return false
			}
			return req.Context != nil &&
				req.Context.TimeOfDay != nil && *req.Context.TimeOfDay == 19 &&
				req.Context.Location == "US-CA"
		})).Return(feedPage(userID, 10))

		handler := NewRecommendationHandler(engine, nil, nil, testLogger())

		router := gin.New()
		router.GET("/recommendations/:userId", handler.Get)

		w := httptest.NewRecorder()
		url := "/recommendations/" + userID.String() +
			"?limit=10&exclude=" + excludeID.String() + "&time_of_day=19&location=US-CA"
		req := httptest.NewRequest(http.MethodGet, url, nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		engine.AssertExpectations(t)
	})

	t.Run("no query parameters means no context", func(t *testing.T) {
		engine := new(MockRecommendationProvider)
		engine.On("GetRecommendations", mock.Anything, mock.MatchedBy(func(req models.RecommendationRequest) bool {
			return req.UserID == userID && req.Context == nil
		})).Return(feedPage(userID, 3))

		handler := NewRecommendationHandler(engine, nil, nil, testLogger())

		router := gin.New()
		router.GET("/recommendations/:userId", handler.Get)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/recommendations/"+userID.String(), nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		engine.AssertExpectations(t)
	})

	t.Run("malformed user id", func(t *testing.T) {
		engine := new(MockRecommendationProvider)
		handler := NewRecommendationHandler(engine, nil, nil, testLogger())

		router := gin.New()
		router.GET("/recommendations/:userId", handler.Get)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/recommendations/not-a-uuid", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		engine.AssertNotCalled(t, "GetRecommendations")
	})
}
