package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// ServedImpression is one recommendation position shown to a user, kept for
// offline evaluation of the pipeline.
type ServedImpression struct {
	UserID    uuid.UUID `json:"user_id"`
	ContentID uuid.UUID `json:"content_id"`
	ClusterID uuid.UUID `json:"cluster_id"`
	Position  int       `json:"position"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	CacheHit  bool      `json:"cache_hit"`
	ServedAt  time.Time `json:"served_at"`
}

// MetricsCollector exposes the Prometheus instruments for the serving path
// and persists served impressions to postgres in batches. Impressions that
// arrive faster than the batch writer drains are dropped, never blocked on.
type MetricsCollector struct {
	db           repository.Querier
	logger       *logrus.Logger
	buffer       chan ServedImpression
	batchSize    int
	flushTimeout time.Duration
	stopChan     chan struct{}
	wg           sync.WaitGroup

	requestsTotal      *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	servedTotal        prometheus.Counter
	emptyResponses     prometheus.Counter
	interactionsTotal  *prometheus.CounterVec
	clusterCount       prometheus.Gauge
	clusteringQuality  prometheus.Gauge
	clusteringNoise    prometheus.Gauge
	clusteringDuration prometheus.Histogram
}

func NewMetricsCollector(db repository.Querier, logger *logrus.Logger) *MetricsCollector {
	mc := &MetricsCollector{
		db:           db,
		logger:       logger,
		buffer:       make(chan ServedImpression, 10000),
		batchSize:    100,
		flushTimeout: 5 * time.Second,
		stopChan:     make(chan struct{}),

		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "riptide_recommendation_requests_total",
			Help: "Recommendation requests served, by cache outcome",
		}, []string{"cache"}),

		requestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "riptide_recommendation_latency_seconds",
			Help:    "Recommendation request latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		servedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "riptide_recommendations_served_total",
			Help: "Individual recommendations returned to users",
		}),

		emptyResponses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "riptide_empty_responses_total",
			Help: "Requests answered with an empty recommendation list",
		}),

		interactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "riptide_interactions_ingested_total",
			Help: "User interactions ingested, by type",
		}, []string{"type"}),

		clusterCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "riptide_cluster_count",
			Help: "Clusters produced by the latest clustering run",
		}),

		clusteringQuality: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "riptide_clustering_quality",
			Help: "Quality score of the latest clustering run",
		}),

		clusteringNoise: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "riptide_clustering_noise_points",
			Help: "Noise points left by the latest clustering run",
		}),

		clusteringDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "riptide_clustering_duration_seconds",
			Help:    "Wall time of clustering runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	mc.wg.Add(1)
	go mc.processBatch()

	return mc
}

// RecordRequest counts one recommendation request and its latency.
func (mc *MetricsCollector) RecordRequest(duration time.Duration, cacheHit bool, resultCount int) {
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	mc.requestsTotal.WithLabelValues(label).Inc()
	mc.requestLatency.Observe(duration.Seconds())
	mc.servedTotal.Add(float64(resultCount))
	if resultCount == 0 {
		mc.emptyResponses.Inc()
	}
}

// RecordInteraction counts one ingested interaction by type.
func (mc *MetricsCollector) RecordInteraction(interactionType string) {
	mc.interactionsTotal.WithLabelValues(interactionType).Inc()
}

// RecordClusteringRun publishes the outcome of a clustering pass.
func (mc *MetricsCollector) RecordClusteringRun(clusters, noise int, quality float64, elapsed time.Duration) {
	mc.clusterCount.Set(float64(clusters))
	mc.clusteringQuality.Set(quality)
	mc.clusteringNoise.Set(float64(noise))
	mc.clusteringDuration.Observe(elapsed.Seconds())
}

// RecordServed buffers the impressions of one response for the audit table.
func (mc *MetricsCollector) RecordServed(response *models.RecommendationResponse) {
	for i, rec := range response.Recommendations {
		impression := ServedImpression{
			UserID:    response.UserID,
			ContentID: rec.ContentID,
			ClusterID: rec.ClusterID,
			Position:  i + 1,
			Score:     rec.Score,
			Reason:    rec.Reason,
			CacheHit:  response.CacheHit,
			ServedAt:  response.GeneratedAt,
		}

		select {
		case mc.buffer <- impression:
		default:
			mc.logger.WithField("user_id", response.UserID).Warn("Impression buffer full, dropping event")
			return
		}
	}
}

func (mc *MetricsCollector) processBatch() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.flushTimeout)
	defer ticker.Stop()

	events := make([]ServedImpression, 0, mc.batchSize)

	for {
		select {
		case event := <-mc.buffer:
			events = append(events, event)
			if len(events) >= mc.batchSize {
				mc.insertBatch(events)
				events = events[:0]
			}

		case <-ticker.C:
			if len(events) > 0 {
				mc.insertBatch(events)
				events = events[:0]
			}

		case <-mc.stopChan:
			// Drain whatever is buffered before shutting down.
			for {
				select {
				case event := <-mc.buffer:
					events = append(events, event)
				default:
					if len(events) > 0 {
						mc.insertBatch(events)
					}
					return
				}
			}
		}
	}
}

func (mc *MetricsCollector) insertBatch(events []ServedImpression) {
	if len(events) == 0 || mc.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	inserted := 0
	for _, event := range events {
		_, err := mc.db.Exec(ctx, `
			INSERT INTO served_recommendations (
				user_id, content_id, cluster_id, position, score, reason, cache_hit, served_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			event.UserID,
			event.ContentID,
			event.ClusterID,
			event.Position,
			event.Score,
			event.Reason,
			event.CacheHit,
			event.ServedAt,
		)
		if err != nil {
			mc.logger.WithError(err).Warn("Failed to insert served impression")
			continue
		}
		inserted++
	}

	mc.logger.WithFields(logrus.Fields{
		"batch_size": len(events),
		"inserted":   inserted,
	}).Debug("Flushed served impression batch")
}

// Close flushes pending impressions and stops the batch writer.
func (mc *MetricsCollector) Close() error {
	close(mc.stopChan)
	mc.wg.Wait()
	return nil
}
