package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// fakeReclusterer stands in for the engine: every call blocks on release
// (when set) so the tests can hold a run open.
type fakeReclusterer struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{}
}

func (f *fakeReclusterer) ReclusterMoments(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.err
}

func (f *fakeReclusterer) ReclusterInProgress() bool { return false }

func (f *fakeReclusterer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(engine ReclusterRunner, interactions *MockInteractionRepo, clusters *MockClusterRepo, interval time.Duration) *JobScheduler {
	repos := &repository.Repositories{
		Interactions: interactions,
		Clusters:     clusters,
	}
	cfg := config.ClusteringConfig{
		Epsilon:   0.5,
		MinPoints: 2,
		Distance:  "euclidean",
		MaxPoints: 1000,
		Interval:  interval,
	}
	return NewJobScheduler(engine, repos, nil, cfg, testLogger())
}

func TestTriggerRecluster(t *testing.T) {
	t.Run("manual trigger runs one pass", func(t *testing.T) {
		engine := &fakeReclusterer{}
		scheduler := newTestScheduler(engine, new(MockInteractionRepo), new(MockClusterRepo), 0)
		defer scheduler.Stop()

		started := scheduler.TriggerRecluster()

		assert.True(t, started)
		require.Eventually(t, func() bool {
			return engine.Calls() == 1 && !scheduler.ReclusterActive()
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("trigger during an active run coalesces", func(t *testing.T) {
		release := make(chan struct{})
		engine := &fakeReclusterer{release: release}
		scheduler := newTestScheduler(engine, new(MockInteractionRepo), new(MockClusterRepo), 0)
		defer scheduler.Stop()

		started := scheduler.TriggerRecluster()
		require.True(t, started)
		require.Eventually(t, func() bool { return engine.Calls() == 1 }, time.Second, 5*time.Millisecond)
		require.True(t, scheduler.ReclusterActive())

		coalesced := scheduler.TriggerRecluster()
		assert.False(t, coalesced)

		close(release)
		require.Eventually(t, func() bool {
			return !scheduler.ReclusterActive()
		}, time.Second, 5*time.Millisecond)
		// The coalesced trigger was passed through to the engine.
		require.Eventually(t, func() bool { return engine.Calls() == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("a failing run releases the gate", func(t *testing.T) {
		engine := &fakeReclusterer{err: errors.New("postgres on fire")}
		scheduler := newTestScheduler(engine, new(MockInteractionRepo), new(MockClusterRepo), 0)
		defer scheduler.Stop()

		require.True(t, scheduler.TriggerRecluster())
		require.Eventually(t, func() bool {
			return engine.Calls() == 1 && !scheduler.ReclusterActive()
		}, time.Second, 5*time.Millisecond)

		// The gate is open again for the next attempt.
		assert.True(t, scheduler.TriggerRecluster())
	})
}

func TestScheduledReclustering(t *testing.T) {
	engine := &fakeReclusterer{}
	scheduler := newTestScheduler(engine, new(MockInteractionRepo), new(MockClusterRepo), 10*time.Millisecond)

	require.Eventually(t, func() bool { return engine.Calls() >= 2 }, time.Second, 5*time.Millisecond)

	scheduler.Stop()
	settled := engine.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, engine.Calls())
}

func TestPurgeInteractions(t *testing.T) {
	interactions := new(MockInteractionRepo)
	interactions.On("DeleteOlderThan", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		expected := time.Now().Add(-30 * 24 * time.Hour)
		return cutoff.Sub(expected).Abs() < 5*time.Second
	})).Return(int64(42), nil).Once()

	engine := &fakeReclusterer{}
	scheduler := newTestScheduler(engine, interactions, new(MockClusterRepo), 0)
	defer scheduler.Stop()

	deleted, err := scheduler.PurgeInteractions(context.Background(), 30*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	interactions.AssertExpectations(t)
}

func TestRefreshClusterStats(t *testing.T) {
	drifted := models.Cluster{ID: uuid.New(), Size: 3, Density: 3.8, Coherence: 0.7}
	stable := models.Cluster{ID: uuid.New(), Size: 2, Density: 2.5, Coherence: 0.9}

	clusters := new(MockClusterRepo)
	clusters.On("FindAll", mock.Anything).
		Return([]models.Cluster{drifted, stable}, nil).Once()
	clusters.On("FindContentIDsByClusterID", mock.Anything, drifted.ID, 1000).
		Return([]uuid.UUID{uuid.New(), uuid.New()}, nil).Once()
	clusters.On("FindContentIDsByClusterID", mock.Anything, stable.ID, 1000).
		Return([]uuid.UUID{uuid.New(), uuid.New()}, nil).Once()

	expectedDensity := 2 / (math.Pi * 0.5 * 0.5)
	clusters.On("UpdateClusterStats", mock.Anything, drifted.ID, 2, expectedDensity, drifted.Coherence).
		Return(nil).Once()

	engine := &fakeReclusterer{}
	scheduler := newTestScheduler(engine, new(MockInteractionRepo), clusters, 0)
	defer scheduler.Stop()

	scheduler.refreshClusterStats(context.Background())

	clusters.AssertExpectations(t)
	clusters.AssertNotCalled(t, "UpdateClusterStats", mock.Anything, stable.ID, mock.Anything, mock.Anything, mock.Anything)
}

func TestLastRunWithoutCache(t *testing.T) {
	engine := &fakeReclusterer{}
	scheduler := newTestScheduler(engine, new(MockInteractionRepo), new(MockClusterRepo), 0)
	defer scheduler.Stop()

	run, err := scheduler.LastRun(context.Background(), jobRecluster)

	require.NoError(t, err)
	assert.Nil(t, run)
}
