package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/novafeed/riptide/pkg/models"
)

// DistanceFunc selects the metric used for neighborhood queries.
type DistanceFunc string

const (
	DistanceEuclidean DistanceFunc = "euclidean"
	DistanceCosine    DistanceFunc = "cosine"
	DistanceManhattan DistanceFunc = "manhattan"
)

// DBSCANConfig configures the clusterer. Epsilon is the neighborhood radius
// in the chosen metric; MinPoints is the core-point density threshold.
type DBSCANConfig struct {
	Epsilon   float64      `json:"epsilon"`
	MinPoints int          `json:"min_points"`
	Distance  DistanceFunc `json:"distance"`
}

// Point is one clustering input: a content id and its embedding vector.
type Point struct {
	ID     uuid.UUID
	Vector []float64
}

// ClusteringResult is the output of one clustering run.
type ClusteringResult struct {
	Clusters    []models.Cluster
	Assignments []models.ClusterAssignment
	Quality     float64
	TotalPoints int
	NoisePoints int
	Converged   bool
	Elapsed     time.Duration
}

// DBSCANClusterer partitions embedding points into dense clusters and noise.
// It keeps a full pairwise distance matrix in memory, so callers cap the
// input size (the engine uses clustering.max_points).
type DBSCANClusterer struct {
	epsilon   float64
	minPoints int
	distance  DistanceFunc
}

// NewDBSCANClusterer validates the configuration and returns a clusterer.
func NewDBSCANClusterer(cfg DBSCANConfig) (*DBSCANClusterer, error) {
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("dbscan: %w: epsilon must be positive, got %f", models.ErrInvalidConfig, cfg.Epsilon)
	}
	if cfg.MinPoints < 2 {
		return nil, fmt.Errorf("dbscan: %w: min points must be at least 2, got %d", models.ErrInvalidConfig, cfg.MinPoints)
	}
	switch cfg.Distance {
	case DistanceEuclidean, DistanceCosine, DistanceManhattan:
	default:
		return nil, fmt.Errorf("dbscan: %w: unknown distance function %q", models.ErrInvalidConfig, cfg.Distance)
	}

	return &DBSCANClusterer{
		epsilon:   cfg.Epsilon,
		minPoints: cfg.MinPoints,
		distance:  cfg.Distance,
	}, nil
}

// Labels used during expansion. Cluster members get labels >= 0.
const (
	labelUnclassified = -2
	labelNoise        = -1
)

// Cluster runs DBSCAN over points. Every point ends up either in exactly one
// cluster or labelled noise; noise points encountered during expansion are
// promoted to border members of the expanding cluster.
func (c *DBSCANClusterer) Cluster(ctx context.Context, points []Point) (*ClusteringResult, error) {
	started := time.Now()

	if len(points) == 0 {
		return &ClusteringResult{Converged: true, Elapsed: time.Since(started)}, nil
	}

	dim := len(points[0].Vector)
	for _, p := range points {
		if len(p.Vector) != dim {
			return nil, fmt.Errorf("dbscan: %w: point %s has dimension %d, expected %d",
				models.ErrInvalidDimension, p.ID, len(p.Vector), dim)
		}
	}

	distances, err := c.distanceMatrix(ctx, points)
	if err != nil {
		return nil, err
	}

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUnclassified
	}

	nextCluster := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dbscan: %w", err)
		}
		if labels[i] != labelUnclassified {
			continue
		}

		neighbors := c.regionQuery(distances, n, i)
		if len(neighbors) < c.minPoints {
			labels[i] = labelNoise
			continue
		}

		c.expandCluster(distances, labels, n, i, neighbors, nextCluster)
		nextCluster++
	}

	return c.buildResult(points, labels, nextCluster, started)
}

// expandCluster grows cluster clusterID from core point seed by BFS over
// density-reachable points. A point already in a cluster is never reassigned.
func (c *DBSCANClusterer) expandCluster(distances *mat.SymDense, labels []int, n, seed int, neighbors []int, clusterID int) {
	labels[seed] = clusterID

	queue := make([]int, 0, len(neighbors))
	queue = append(queue, neighbors...)

	for head := 0; head < len(queue); head++ {
		idx := queue[head]

		if labels[idx] == labelNoise {
			// Border point: density-reachable but not itself a core point.
			labels[idx] = clusterID
			continue
		}
		if labels[idx] != labelUnclassified {
			continue
		}

		labels[idx] = clusterID

		idxNeighbors := c.regionQuery(distances, n, idx)
		if len(idxNeighbors) >= c.minPoints {
			queue = append(queue, idxNeighbors...)
		}
	}
}

// regionQuery returns the indices within epsilon of point i, including i.
func (c *DBSCANClusterer) regionQuery(distances *mat.SymDense, n, i int) []int {
	neighbors := make([]int, 0, c.minPoints)
	for j := 0; j < n; j++ {
		if distances.At(i, j) <= c.epsilon {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// distanceMatrix precomputes pairwise distances for the configured metric.
func (c *DBSCANClusterer) distanceMatrix(ctx context.Context, points []Point) (*mat.SymDense, error) {
	n := len(points)
	distances := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dbscan: %w", err)
		}
		for j := i + 1; j < n; j++ {
			d, err := c.pairDistance(points[i].Vector, points[j].Vector)
			if err != nil {
				return nil, err
			}
			distances.SetSym(i, j, d)
		}
	}
	return distances, nil
}

func (c *DBSCANClusterer) pairDistance(a, b []float64) (float64, error) {
	switch c.distance {
	case DistanceCosine:
		sim, err := CosineSimilarity(a, b)
		if err != nil {
			return 0, err
		}
		return 1 - sim, nil
	case DistanceManhattan:
		return ManhattanDistance(a, b)
	default:
		return EuclideanDistance(a, b)
	}
}

// buildResult turns point labels into persisted cluster shapes: normalized
// centroids, density, coherence, per-member assignments, and run quality.
func (c *DBSCANClusterer) buildResult(points []Point, labels []int, clusterCount int, started time.Time) (*ClusteringResult, error) {
	now := time.Now()
	result := &ClusteringResult{
		TotalPoints: len(points),
		Converged:   true,
	}

	members := make([][]int, clusterCount)
	for i, label := range labels {
		if label == labelNoise {
			result.NoisePoints++
			continue
		}
		members[label] = append(members[label], i)
	}

	var coherenceSum float64
	clustered := 0

	for _, idxs := range members {
		if len(idxs) == 0 {
			continue
		}

		vectors := make([][]float64, len(idxs))
		for i, idx := range idxs {
			vectors[i] = points[idx].Vector
		}
		mean, err := AverageVectors(vectors)
		if err != nil {
			return nil, err
		}
		centroid := NormalizeL2(mean)

		var distSum float64
		for _, v := range vectors {
			d, err := EuclideanDistance(v, centroid)
			if err != nil {
				return nil, err
			}
			distSum += d
		}
		coherence := math.Max(0, 1-distSum/float64(len(idxs)))

		cluster := models.Cluster{
			ID:        uuid.New(),
			Centroid:  centroid,
			Size:      len(idxs),
			Density:   float64(len(idxs)) / (math.Pi * c.epsilon * c.epsilon),
			Coherence: coherence,
			CreatedAt: now,
			UpdatedAt: now,
		}
		result.Clusters = append(result.Clusters, cluster)

		for _, idx := range idxs {
			sim, err := CosineSimilarity(points[idx].Vector, centroid)
			if err != nil {
				return nil, err
			}
			result.Assignments = append(result.Assignments, models.ClusterAssignment{
				ContentID:  points[idx].ID,
				ClusterID:  cluster.ID,
				Similarity: clamp01(sim),
				AssignedAt: now,
			})
		}

		coherenceSum += coherence
		clustered += len(idxs)
	}

	if len(result.Clusters) > 0 {
		meanCoherence := coherenceSum / float64(len(result.Clusters))
		result.Quality = (float64(clustered) / float64(result.TotalPoints)) * meanCoherence
	}

	result.Elapsed = time.Since(started)
	return result, nil
}
