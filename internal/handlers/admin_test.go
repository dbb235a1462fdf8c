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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/internal/services"
	"github.com/novafeed/riptide/pkg/models"
)

type MockMaintenanceRunner struct {
	mock.Mock
}

func (m *MockMaintenanceRunner) TriggerRecluster() bool {
	return m.Called().Bool(0)
}

func (m *MockMaintenanceRunner) ReclusterActive() bool {
	return m.Called().Bool(0)
}

func (m *MockMaintenanceRunner) LastRun(ctx context.Context, name string) (*services.JobRun, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.JobRun), args.Error(1)
}

func (m *MockMaintenanceRunner) PurgeInteractions(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type MockClusterRepo struct {
	mock.Mock
}

func (m *MockClusterRepo) Save(ctx context.Context, cluster *models.Cluster) error {
	return m.Called(ctx, cluster).Error(0)
}

func (m *MockClusterRepo) SaveMany(ctx context.Context, clusters []models.Cluster) error {
	return m.Called(ctx, clusters).Error(0)
}

func (m *MockClusterRepo) FindAll(ctx context.Context) ([]models.Cluster, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Cluster), args.Error(1)
}

func (m *MockClusterRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Cluster, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Cluster), args.Error(1)
}

func (m *MockClusterRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockClusterRepo) DeleteAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClusterRepo) UpdateClusterStats(ctx context.Context, id uuid.UUID, size int, density, coherence float64) error {
	return m.Called(ctx, id, size, density, coherence).Error(0)
}

func (m *MockClusterRepo) SaveAssignment(ctx context.Context, assignment *models.ClusterAssignment) error {
	return m.Called(ctx, assignment).Error(0)
}

func (m *MockClusterRepo) SaveAssignments(ctx context.Context, assignments []models.ClusterAssignment) error {
	return m.Called(ctx, assignments).Error(0)
}

func (m *MockClusterRepo) FindAssignmentsByContentID(ctx context.Context, contentID uuid.UUID) ([]models.ClusterAssignment, error) {
	args := m.Called(ctx, contentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ClusterAssignment), args.Error(1)
}

func (m *MockClusterRepo) FindContentIDsByClusterID(ctx context.Context, clusterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, clusterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockClusterRepo) DeleteAssignmentsByContentID(ctx context.Context, contentID uuid.UUID) error {
	return m.Called(ctx, contentID).Error(0)
}

func TestAdminHandler_Recluster(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("fresh trigger answers started", func(t *testing.T) {
		maintenance := new(MockMaintenanceRunner)
		maintenance.On("TriggerRecluster").Return(true)
		maintenance.On("ReclusterActive").Return(true)

		handler := NewAdminHandler(maintenance, new(MockClusterRepo), testLogger())
		router := gin.New()
		router.POST("/admin/recluster", handler.Recluster)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/recluster", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)

		var response struct {
			Status string `json:"status"`
			Active bool   `json:"active"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "started", response.Status)
		assert.True(t, response.Active)
	})

	t.Run("trigger during a run answers coalesced", func(t *testing.T) {
		maintenance := new(MockMaintenanceRunner)
		maintenance.On("TriggerRecluster").Return(false)
		maintenance.On("ReclusterActive").Return(true)

		handler := NewAdminHandler(maintenance, new(MockClusterRepo), testLogger())
		router := gin.New()
		router.POST("/admin/recluster", handler.Recluster)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/recluster", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)

		var response struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "coalesced", response.Status)
	})
}

func TestAdminHandler_Clusters(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clusters := new(MockClusterRepo)
	clusters.On("FindAll", mock.Anything).Return([]models.Cluster{
		{ID: uuid.New(), Size: 10, Density: 1.2},
		{ID: uuid.New(), Size: 40, Density: 2.8},
	}, nil)

	handler := NewAdminHandler(new(MockMaintenanceRunner), clusters, testLogger())
	router := gin.New()
	router.GET("/admin/clusters", handler.Clusters)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/clusters", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data struct {
			Clusters     []models.Cluster `json:"clusters"`
			Count        int              `json:"count"`
			TotalMoments int              `json:"total_moments"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Data.Count)
	assert.Equal(t, 50, response.Data.TotalMoments)
	// Largest first.
	assert.Equal(t, 40, response.Data.Clusters[0].Size)
}

func TestAdminHandler_JobStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("returns the recorded run", func(t *testing.T) {
		finished := time.Now()
		maintenance := new(MockMaintenanceRunner)
		maintenance.On("LastRun", mock.Anything, "recluster").Return(&services.JobRun{
			Name:       "recluster",
			Trigger:    "manual",
			Status:     services.JobStatusCompleted,
			StartedAt:  finished.Add(-2 * time.Second),
			FinishedAt: &finished,
			DurationMS: 2000,
		}, nil)

		handler := NewAdminHandler(maintenance, new(MockClusterRepo), testLogger())
		router := gin.New()
		router.GET("/admin/jobs/:name", handler.JobStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/jobs/recluster", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown job answers 404", func(t *testing.T) {
		maintenance := new(MockMaintenanceRunner)
		maintenance.On("LastRun", mock.Anything, "compaction").Return(nil, nil)

		handler := NewAdminHandler(maintenance, new(MockClusterRepo), testLogger())
		router := gin.New()
		router.GET("/admin/jobs/:name", handler.JobStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/jobs/compaction", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminHandler_Purge(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("purges by age", func(t *testing.T) {
		maintenance := new(MockMaintenanceRunner)
		maintenance.On("PurgeInteractions", mock.Anything, 90*24*time.Hour).Return(int64(1234), nil)

		handler := NewAdminHandler(maintenance, new(MockClusterRepo), testLogger())
		router := gin.New()
		router.POST("/admin/retention/purge", handler.Purge)

		body, _ := json.Marshal(gin.H{"older_than_days": 90})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/retention/purge", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		maintenance.AssertExpectations(t)
	})

	t.Run("zero days rejected", func(t *testing.T) {
		maintenance := new(MockMaintenanceRunner)
		handler := NewAdminHandler(maintenance, new(MockClusterRepo), testLogger())
		router := gin.New()
		router.POST("/admin/retention/purge", handler.Purge)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/retention/purge", bytes.NewBufferString(`{"older_than_days": 0}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		maintenance.AssertNotCalled(t, "PurgeInteractions")
	})
}
