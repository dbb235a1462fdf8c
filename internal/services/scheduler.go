package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/repository"
)

const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"

	jobRecluster = "recluster"

	triggerScheduled = "scheduled"
	triggerManual    = "manual"

	reclusterRunTimeout  = 10 * time.Minute
	statsRefreshInterval = 1 * time.Hour
	jobRunTTL            = 7 * 24 * time.Hour
)

// JobRun is the persisted record of one maintenance run, kept in warm redis
// for the admin surface.
type JobRun struct {
	Name       string     `json:"name"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Error      *string    `json:"error,omitempty"`
}

// ReclusterRunner is the slice of the engine the scheduler drives.
type ReclusterRunner interface {
	ReclusterMoments(ctx context.Context) error
	ReclusterInProgress() bool
}

// JobScheduler owns the maintenance cadence: periodic reclustering, hourly
// cluster stat refreshes, and the manual triggers behind the admin surface.
// Run records land in warm redis so operators can see what last happened.
type JobScheduler struct {
	engine       ReclusterRunner
	interactions repository.InteractionRepo
	clusters     repository.ClusterRepo
	cache        *redis.Client
	logger       *logrus.Logger

	reclusterInterval time.Duration
	epsilon           float64
	maxPoints         int

	runMu           sync.Mutex
	reclusterActive bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewJobScheduler starts the background loops immediately. A non-positive
// clustering interval disables the periodic recluster; manual triggers keep
// working either way. cache may be nil, which drops run records.
func NewJobScheduler(
	engine ReclusterRunner,
	repos *repository.Repositories,
	cache *redis.Client,
	cfg config.ClusteringConfig,
	logger *logrus.Logger,
) *JobScheduler {
	scheduler := &JobScheduler{
		engine:            engine,
		interactions:      repos.Interactions,
		clusters:          repos.Clusters,
		cache:             cache,
		logger:            logger,
		reclusterInterval: cfg.Interval,
		epsilon:           cfg.Epsilon,
		maxPoints:         cfg.MaxPoints,
		stopChan:          make(chan struct{}),
	}

	if scheduler.reclusterInterval > 0 {
		scheduler.wg.Add(1)
		go scheduler.reclusterLoop()
	} else {
		logger.Info("Periodic reclustering disabled, manual triggers only")
	}

	scheduler.wg.Add(1)
	go scheduler.statsLoop()

	return scheduler
}

// Stop halts the loops. A run already in flight finishes on its own.
func (s *JobScheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// TriggerRecluster starts a recluster run in the background and reports
// whether a fresh run began. When one is already active the trigger coalesces
// into a follow-up pass over the latest embeddings and false is returned.
func (s *JobScheduler) TriggerRecluster() bool {
	if !s.acquireRecluster() {
		go func() {
			// The active run picks this up as a pending pass; the call
			// returns as soon as the flag is set.
			if err := s.engine.ReclusterMoments(context.Background()); err != nil {
				s.logger.WithError(err).Error("Coalesced recluster pass failed")
			}
		}()
		return false
	}

	go func() {
		defer s.releaseRecluster()
		s.runRecluster(triggerManual)
	}()
	return true
}

// ReclusterActive reports whether a run is in flight, either scheduler-owned
// or anywhere inside the engine.
func (s *JobScheduler) ReclusterActive() bool {
	s.runMu.Lock()
	active := s.reclusterActive
	s.runMu.Unlock()
	return active || s.engine.ReclusterInProgress()
}

// LastRun returns the most recent run record for the named job, or nil when
// none has been recorded.
func (s *JobScheduler) LastRun(ctx context.Context, name string) (*JobRun, error) {
	if s.cache == nil {
		return nil, nil
	}

	data, err := s.cache.Get(ctx, jobRunKey(name)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job run: %w", err)
	}

	var run JobRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("decode job run: %w", err)
	}
	return &run, nil
}

// PurgeInteractions deletes interactions older than the retention window and
// returns how many rows went. Exposed for the admin surface; nothing calls it
// on a schedule.
func (s *JobScheduler) PurgeInteractions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted, err := s.interactions.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge interactions: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"deleted": deleted,
		"cutoff":  cutoff,
	}).Info("Purged old interactions")

	return deleted, nil
}

func (s *JobScheduler) reclusterLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reclusterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.acquireRecluster() {
				s.logger.Debug("Recluster already running, skipping scheduled run")
				continue
			}
			s.runRecluster(triggerScheduled)
			s.releaseRecluster()

		case <-s.stopChan:
			return
		}
	}
}

func (s *JobScheduler) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			s.refreshClusterStats(ctx)
			cancel()

		case <-s.stopChan:
			return
		}
	}
}

func (s *JobScheduler) acquireRecluster() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.reclusterActive {
		return false
	}
	s.reclusterActive = true
	return true
}

func (s *JobScheduler) releaseRecluster() {
	s.runMu.Lock()
	s.reclusterActive = false
	s.runMu.Unlock()
}

func (s *JobScheduler) runRecluster(trigger string) {
	run := JobRun{
		Name:      jobRecluster,
		Trigger:   trigger,
		Status:    JobStatusProcessing,
		StartedAt: time.Now(),
	}
	s.storeRun(&run)

	ctx, cancel := context.WithTimeout(context.Background(), reclusterRunTimeout)
	defer cancel()

	err := s.engine.ReclusterMoments(ctx)

	finished := time.Now()
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(run.StartedAt).Milliseconds()
	if err != nil {
		run.Status = JobStatusFailed
		message := err.Error()
		run.Error = &message
		s.logger.WithError(err).WithField("trigger", trigger).Error("Recluster run failed")
	} else {
		run.Status = JobStatusCompleted
		s.logger.WithFields(logrus.Fields{
			"trigger":     trigger,
			"duration_ms": run.DurationMS,
		}).Info("Recluster run finished")
	}
	s.storeRun(&run)
}

// refreshClusterStats recounts each cluster's membership and refreshes the
// derived density. Coherence is left as computed at clustering time; it
// cannot be recomputed without the member vectors.
func (s *JobScheduler) refreshClusterStats(ctx context.Context) {
	clusters, err := s.clusters.FindAll(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Cluster stats refresh: failed to load clusters")
		return
	}

	updated := 0
	for i := range clusters {
		cluster := &clusters[i]

		ids, err := s.clusters.FindContentIDsByClusterID(ctx, cluster.ID, s.maxPoints)
		if err != nil {
			s.logger.WithError(err).WithField("cluster_id", cluster.ID).Warn("Cluster stats refresh: failed to count members")
			continue
		}

		size := len(ids)
		if size == cluster.Size {
			continue
		}

		density := 0.0
		if s.epsilon > 0 {
			density = float64(size) / (math.Pi * s.epsilon * s.epsilon)
		}
		if err := s.clusters.UpdateClusterStats(ctx, cluster.ID, size, density, cluster.Coherence); err != nil {
			s.logger.WithError(err).WithField("cluster_id", cluster.ID).Warn("Cluster stats refresh: failed to update")
			continue
		}
		updated++
	}

	if updated > 0 {
		s.logger.WithFields(logrus.Fields{
			"clusters": len(clusters),
			"updated":  updated,
		}).Info("Refreshed cluster stats")
	}
}

func (s *JobScheduler) storeRun(run *JobRun) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(run)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode job run")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, jobRunKey(run.Name), data, jobRunTTL).Err(); err != nil {
		s.logger.WithError(err).WithField("job", run.Name).Warn("Failed to store job run")
	}
}

func jobRunKey(name string) string {
	return fmt.Sprintf("jobs:%s:last", name)
}
