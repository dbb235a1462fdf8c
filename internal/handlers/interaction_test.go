package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/internal/middleware"
	"github.com/novafeed/riptide/pkg/models"
)

type MockInteractionRecorder struct {
	mock.Mock
}

func (m *MockInteractionRecorder) RecordInteraction(ctx context.Context, req *models.InteractionRequest) (*models.UserInteraction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserInteraction), args.Error(1)
}

func (m *MockInteractionRecorder) RecordBatch(ctx context.Context, reqs []models.InteractionRequest) ([]models.UserInteraction, error) {
	args := m.Called(ctx, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserInteraction), args.Error(1)
}

func (m *MockInteractionRecorder) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserInteraction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserInteraction), args.Error(1)
}

func TestInteractionHandler_Record(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidators())

	userID := uuid.New()
	contentID := uuid.New()

	t.Run("records a valid interaction", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		recorder.On("RecordInteraction", mock.Anything, mock.MatchedBy(func(req *models.InteractionRequest) bool {
			return req.UserID == userID && req.ContentID == contentID && req.Type == models.InteractionLike
		})).Return(&models.UserInteraction{
			ID:        uuid.New(),
			UserID:    userID,
			ContentID: contentID,
			Type:      models.InteractionLike,
			Timestamp: time.Now(),
		}, nil)

		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.POST("/interactions", handler.Record)

		body, _ := json.Marshal(gin.H{
			"user_id":    userID,
			"content_id": contentID,
			"type":       "like",
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		recorder.AssertExpectations(t)
	})

	t.Run("rejects an unknown interaction type", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.POST("/interactions", handler.Record)

		body, _ := json.Marshal(gin.H{
			"user_id":    userID,
			"content_id": contentID,
			"type":       "superlike",
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		recorder.AssertNotCalled(t, "RecordInteraction")
	})

	t.Run("service failure becomes a 500", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		recorder.On("RecordInteraction", mock.Anything, mock.Anything).
			Return(nil, errors.New("db down"))

		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.POST("/interactions", handler.Record)

		body, _ := json.Marshal(gin.H{
			"user_id":    userID,
			"content_id": contentID,
			"type":       "view",
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestInteractionHandler_RecordBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidators())

	userID := uuid.New()

	t.Run("reports received versus processed", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		recorder.On("RecordBatch", mock.Anything, mock.Anything).Return([]models.UserInteraction{
			{ID: uuid.New(), UserID: userID, Type: models.InteractionView},
		}, nil)

		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.POST("/interactions/batch", handler.RecordBatch)

		body, _ := json.Marshal(gin.H{
			"interactions": []gin.H{
				{"user_id": userID, "content_id": uuid.New(), "type": "view"},
				{"user_id": userID, "content_id": uuid.New(), "type": "skip"},
			},
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/interactions/batch", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)

		var response struct {
			Data struct {
				TotalReceived  int `json:"total_received"`
				TotalProcessed int `json:"total_processed"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 2, response.Data.TotalReceived)
		assert.Equal(t, 1, response.Data.TotalProcessed)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.POST("/interactions/batch", handler.RecordBatch)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/interactions/batch", bytes.NewBufferString(`{"interactions": []}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInteractionHandler_History(t *testing.T) {
	gin.SetMode(gin.TestMode)

	userID := uuid.New()

	t.Run("defaults limit and offset", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		recorder.On("History", mock.Anything, userID, 50, 0).Return([]models.UserInteraction{
			{ID: uuid.New(), UserID: userID, Type: models.InteractionLike},
		}, nil)

		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.GET("/users/:userId/interactions", handler.History)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/interactions", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		recorder.AssertExpectations(t)
	})

	t.Run("honors explicit paging", func(t *testing.T) {
		recorder := new(MockInteractionRecorder)
		recorder.On("History", mock.Anything, userID, 10, 20).Return([]models.UserInteraction{}, nil)

		handler := NewInteractionHandler(recorder, testLogger())
		router := gin.New()
		router.GET("/users/:userId/interactions", handler.History)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/interactions?limit=10&offset=20", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		recorder.AssertExpectations(t)
	})
}
