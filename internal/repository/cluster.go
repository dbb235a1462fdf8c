package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/pkg/models"
)

const (
	clusterListCacheKey = "clusters:all"
	clusterListCacheTTL = 5 * time.Minute
)

// ClusterRepository is the postgres implementation of ClusterRepo. The full
// cluster list is what every request reads, so it is cached as one warm-cache
// entry invalidated on any write.
type ClusterRepository struct {
	db     Querier
	redis  *redis.Client
	logger *logrus.Logger
}

func NewClusterRepository(db Querier, redis *redis.Client, logger *logrus.Logger) *ClusterRepository {
	return &ClusterRepository{db: db, redis: redis, logger: logger}
}

const clusterColumns = `id, centroid::text, size, density, coherence, topics,
	active_hour_start, active_hour_end, geo_focus, languages, created_at, updated_at`

const saveClusterQuery = `
	INSERT INTO clusters (id, centroid, size, density, coherence, topics,
		active_hour_start, active_hour_end, geo_focus, languages, created_at, updated_at)
	VALUES ($1, $2::vector, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (id) DO UPDATE SET
		centroid = EXCLUDED.centroid,
		size = EXCLUDED.size,
		density = EXCLUDED.density,
		coherence = EXCLUDED.coherence,
		topics = EXCLUDED.topics,
		active_hour_start = EXCLUDED.active_hour_start,
		active_hour_end = EXCLUDED.active_hour_end,
		geo_focus = EXCLUDED.geo_focus,
		languages = EXCLUDED.languages,
		updated_at = NOW()`

func (r *ClusterRepository) Save(ctx context.Context, cluster *models.Cluster) error {
	if err := r.saveOne(ctx, cluster); err != nil {
		return err
	}
	r.invalidateList(ctx)
	return nil
}

func (r *ClusterRepository) SaveMany(ctx context.Context, clusters []models.Cluster) error {
	for i := range clusters {
		if err := r.saveOne(ctx, &clusters[i]); err != nil {
			return err
		}
	}
	r.invalidateList(ctx)
	return nil
}

func (r *ClusterRepository) saveOne(ctx context.Context, cluster *models.Cluster) error {
	createdAt := cluster.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Exec(ctx, saveClusterQuery,
		cluster.ID,
		vectorLiteral(cluster.Centroid),
		cluster.Size,
		cluster.Density,
		cluster.Coherence,
		cluster.Topics,
		cluster.ActiveHourStart,
		cluster.ActiveHourEnd,
		cluster.GeoFocus,
		cluster.Languages,
		createdAt,
	)
	if err != nil {
		return models.NewRepositoryError("clusters.save", err)
	}
	return nil
}

func (r *ClusterRepository) FindAll(ctx context.Context) ([]models.Cluster, error) {
	if cached := r.getCachedList(ctx); cached != nil {
		return cached, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+clusterColumns+` FROM clusters ORDER BY size DESC`)
	if err != nil {
		return nil, models.NewRepositoryError("clusters.find_all", err)
	}
	defer rows.Close()

	clusters, err := r.collectClusters(rows, "find_all")
	if err != nil {
		return nil, err
	}

	r.putCachedList(ctx, clusters)
	return clusters, nil
}

func (r *ClusterRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Cluster, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, models.NewRepositoryError("clusters.find_by_ids", err)
	}
	defer rows.Close()

	return r.collectClusters(rows, "find_by_ids")
}

func (r *ClusterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM clusters WHERE id = $1`, id); err != nil {
		return models.NewRepositoryError("clusters.delete", err)
	}
	r.invalidateList(ctx)
	return nil
}

// DeleteAll clears the cluster set and, via the foreign key cascade, every
// assignment. The recluster job calls it before persisting a fresh run.
func (r *ClusterRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM clusters`); err != nil {
		return models.NewRepositoryError("clusters.delete_all", err)
	}
	r.invalidateList(ctx)
	return nil
}

func (r *ClusterRepository) UpdateClusterStats(ctx context.Context, id uuid.UUID, size int, density, coherence float64) error {
	query := `
		UPDATE clusters
		SET size = $2, density = $3, coherence = $4, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, size, density, coherence); err != nil {
		return models.NewRepositoryError("clusters.update_stats", err)
	}
	r.invalidateList(ctx)
	return nil
}

func (r *ClusterRepository) SaveAssignment(ctx context.Context, assignment *models.ClusterAssignment) error {
	query := `
		INSERT INTO cluster_assignments (content_id, cluster_id, similarity, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_id, cluster_id) DO UPDATE SET
			similarity = EXCLUDED.similarity,
			assigned_at = EXCLUDED.assigned_at`

	assignedAt := assignment.AssignedAt
	if assignedAt.IsZero() {
		assignedAt = time.Now()
	}

	_, err := r.db.Exec(ctx, query, assignment.ContentID, assignment.ClusterID, assignment.Similarity, assignedAt)
	if err != nil {
		return models.NewRepositoryError("cluster_assignments.save", err)
	}
	return nil
}

func (r *ClusterRepository) SaveAssignments(ctx context.Context, assignments []models.ClusterAssignment) error {
	for i := range assignments {
		if err := r.SaveAssignment(ctx, &assignments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ClusterRepository) FindAssignmentsByContentID(ctx context.Context, contentID uuid.UUID) ([]models.ClusterAssignment, error) {
	query := `
		SELECT content_id, cluster_id, similarity, assigned_at
		FROM cluster_assignments
		WHERE content_id = $1
		ORDER BY similarity DESC`

	rows, err := r.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, models.NewRepositoryError("cluster_assignments.find_by_content_id", err)
	}
	defer rows.Close()

	var assignments []models.ClusterAssignment
	for rows.Next() {
		var a models.ClusterAssignment
		if err := rows.Scan(&a.ContentID, &a.ClusterID, &a.Similarity, &a.AssignedAt); err != nil {
			r.logger.WithError(err).Error("Failed to scan cluster assignment")
			continue
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewRepositoryError("cluster_assignments.find_by_content_id", err)
	}
	return assignments, nil
}

func (r *ClusterRepository) FindContentIDsByClusterID(ctx context.Context, clusterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT content_id
		FROM cluster_assignments
		WHERE cluster_id = $1
		ORDER BY similarity DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, clusterID, limit)
	if err != nil {
		return nil, models.NewRepositoryError("cluster_assignments.find_content_ids", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			r.logger.WithError(err).Error("Failed to scan assignment content id")
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewRepositoryError("cluster_assignments.find_content_ids", err)
	}
	return ids, nil
}

func (r *ClusterRepository) DeleteAssignmentsByContentID(ctx context.Context, contentID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cluster_assignments WHERE content_id = $1`, contentID); err != nil {
		return models.NewRepositoryError("cluster_assignments.delete_by_content_id", err)
	}
	return nil
}

func (r *ClusterRepository) collectClusters(rows pgx.Rows, op string) ([]models.Cluster, error) {
	var clusters []models.Cluster
	for rows.Next() {
		var (
			cluster     models.Cluster
			rawCentroid string
		)
		if err := rows.Scan(
			&cluster.ID,
			&rawCentroid,
			&cluster.Size,
			&cluster.Density,
			&cluster.Coherence,
			&cluster.Topics,
			&cluster.ActiveHourStart,
			&cluster.ActiveHourEnd,
			&cluster.GeoFocus,
			&cluster.Languages,
			&cluster.CreatedAt,
			&cluster.UpdatedAt,
		); err != nil {
			r.logger.WithError(err).WithField("op", op).Error("Failed to scan cluster")
			continue
		}

		centroid, err := parseVector(rawCentroid)
		if err != nil {
			r.logger.WithError(err).WithField("cluster_id", cluster.ID).Error("Failed to parse cluster centroid")
			continue
		}
		cluster.Centroid = centroid
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewRepositoryError("clusters."+op, err)
	}
	return clusters, nil
}

type cachedCluster struct {
	ID              uuid.UUID `json:"id"`
	Centroid        []float64 `json:"centroid"`
	Size            int       `json:"size"`
	Density         float64   `json:"density"`
	Coherence       float64   `json:"coherence"`
	Topics          []string  `json:"topics,omitempty"`
	ActiveHourStart *float64  `json:"active_hour_start,omitempty"`
	ActiveHourEnd   *float64  `json:"active_hour_end,omitempty"`
	GeoFocus        string    `json:"geo_focus,omitempty"`
	Languages       []string  `json:"languages,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (r *ClusterRepository) getCachedList(ctx context.Context) []models.Cluster {
	cached := r.redis.Get(ctx, clusterListCacheKey).Val()
	if cached == "" {
		return nil
	}
	var entries []cachedCluster
	if err := json.Unmarshal([]byte(cached), &entries); err != nil {
		return nil
	}

	clusters := make([]models.Cluster, len(entries))
	for i, e := range entries {
		clusters[i] = models.Cluster{
			ID:              e.ID,
			Centroid:        e.Centroid,
			Size:            e.Size,
			Density:         e.Density,
			Coherence:       e.Coherence,
			Topics:          e.Topics,
			ActiveHourStart: e.ActiveHourStart,
			ActiveHourEnd:   e.ActiveHourEnd,
			GeoFocus:        e.GeoFocus,
			Languages:       e.Languages,
			CreatedAt:       e.CreatedAt,
			UpdatedAt:       e.UpdatedAt,
		}
	}
	return clusters
}

func (r *ClusterRepository) putCachedList(ctx context.Context, clusters []models.Cluster) {
	if len(clusters) == 0 {
		return
	}

	entries := make([]cachedCluster, len(clusters))
	for i, c := range clusters {
		entries[i] = cachedCluster{
			ID:              c.ID,
			Centroid:        c.Centroid,
			Size:            c.Size,
			Density:         c.Density,
			Coherence:       c.Coherence,
			Topics:          c.Topics,
			ActiveHourStart: c.ActiveHourStart,
			ActiveHourEnd:   c.ActiveHourEnd,
			GeoFocus:        c.GeoFocus,
			Languages:       c.Languages,
			CreatedAt:       c.CreatedAt,
			UpdatedAt:       c.UpdatedAt,
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, clusterListCacheKey, data, clusterListCacheTTL).Err(); err != nil {
		r.logger.WithError(err).Debug("Failed to cache cluster list")
	}
}

func (r *ClusterRepository) invalidateList(ctx context.Context) {
	r.redis.Del(ctx, clusterListCacheKey)
}
