package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/pkg/models"
)

// InteractionRepository is the postgres implementation of InteractionRepo.
// The per-user interacted-id set backs the selector's exclusion filter on
// every request, so it is cached and invalidated on write.
type InteractionRepository struct {
	db     Querier
	redis  *redis.Client
	logger *logrus.Logger
}

func NewInteractionRepository(db Querier, redis *redis.Client, logger *logrus.Logger) *InteractionRepository {
	return &InteractionRepository{db: db, redis: redis, logger: logger}
}

const interactionColumns = `id, user_id, content_id, type, duration, watch_percent, topics, timestamp`

func (r *InteractionRepository) Save(ctx context.Context, interaction *models.UserInteraction) error {
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = time.Now()
	}

	query := `
		INSERT INTO user_interactions (id, user_id, content_id, type, duration, watch_percent, topics, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		interaction.ID,
		interaction.UserID,
		interaction.ContentID,
		interaction.Type,
		interaction.Duration,
		interaction.WatchPercent,
		interaction.Topics,
		interaction.Timestamp,
	)
	if err != nil {
		return models.NewRepositoryError("user_interactions.save", err)
	}

	r.redis.Del(ctx, interactedIDsCacheKey(interaction.UserID))
	return nil
}

func (r *InteractionRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM user_interactions
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, models.NewRepositoryError("user_interactions.find_by_user_id", err)
	}
	defer rows.Close()

	return r.collectInteractions(rows, "find_by_user_id")
}

func (r *InteractionRepository) FindRecentByUserID(ctx context.Context, userID uuid.UUID, days, limit int) ([]models.UserInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM user_interactions
		WHERE user_id = $1
			AND timestamp >= NOW() - ($2 * INTERVAL '1 day')
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, userID, days, limit)
	if err != nil {
		return nil, models.NewRepositoryError("user_interactions.find_recent_by_user_id", err)
	}
	defer rows.Close()

	return r.collectInteractions(rows, "find_recent_by_user_id")
}

func (r *InteractionRepository) FindByUserIDAndType(ctx context.Context, userID uuid.UUID, interactionType string, limit int) ([]models.UserInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM user_interactions
		WHERE user_id = $1 AND type = $2
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, userID, interactionType, limit)
	if err != nil {
		return nil, models.NewRepositoryError("user_interactions.find_by_user_id_and_type", err)
	}
	defer rows.Close()

	return r.collectInteractions(rows, "find_by_user_id_and_type")
}

func (r *InteractionRepository) FindByContentID(ctx context.Context, contentID uuid.UUID, limit int) ([]models.UserInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM user_interactions
		WHERE content_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, contentID, limit)
	if err != nil {
		return nil, models.NewRepositoryError("user_interactions.find_by_content_id", err)
	}
	defer rows.Close()

	return r.collectInteractions(rows, "find_by_content_id")
}

func (r *InteractionRepository) HasInteracted(ctx context.Context, userID, contentID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM user_interactions WHERE user_id = $1 AND content_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, contentID).Scan(&exists); err != nil {
		return false, models.NewRepositoryError("user_interactions.has_interacted", err)
	}
	return exists, nil
}

func (r *InteractionRepository) FindInteractedContentIDs(ctx context.Context, userID uuid.UUID, types ...string) ([]uuid.UUID, error) {
	// The all-types variant is the per-request exclusion set; cache it.
	cacheable := len(types) == 0
	if cacheable {
		if ids, ok := r.getCachedIDs(ctx, interactedIDsCacheKey(userID)); ok {
			return ids, nil
		}
	}

	query := `SELECT DISTINCT content_id FROM user_interactions WHERE user_id = $1`
	args := []interface{}{userID}
	if len(types) > 0 {
		query += ` AND type = ANY($2)`
		args = append(args, types)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, models.NewRepositoryError("user_interactions.find_interacted_content_ids", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			r.logger.WithError(err).Error("Failed to scan interacted content id")
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewRepositoryError("user_interactions.find_interacted_content_ids", err)
	}

	if cacheable {
		r.putCachedIDs(ctx, interactedIDsCacheKey(userID), ids)
	}
	return ids, nil
}

func (r *InteractionRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_interactions WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, models.NewRepositoryError("user_interactions.count_by_user_id", err)
	}
	return count, nil
}

// DeleteOlderThan ages out interactions before cutoff. Administrative hook;
// the engine never calls it.
func (r *InteractionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_interactions WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, models.NewRepositoryError("user_interactions.delete_older_than", err)
	}
	return tag.RowsAffected(), nil
}

func (r *InteractionRepository) collectInteractions(rows pgx.Rows, op string) ([]models.UserInteraction, error) {
	var interactions []models.UserInteraction
	for rows.Next() {
		var in models.UserInteraction
		if err := rows.Scan(
			&in.ID,
			&in.UserID,
			&in.ContentID,
			&in.Type,
			&in.Duration,
			&in.WatchPercent,
			&in.Topics,
			&in.Timestamp,
		); err != nil {
			r.logger.WithError(err).WithField("op", op).Error("Failed to scan interaction")
			continue
		}
		interactions = append(interactions, in)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewRepositoryError("user_interactions."+op, err)
	}
	return interactions, nil
}

const interactedIDsCacheTTL = 2 * time.Minute

func interactedIDsCacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_interacted:%s", userID)
}

func (r *InteractionRepository) getCachedIDs(ctx context.Context, key string) ([]uuid.UUID, bool) {
	members, err := r.redis.SMembers(ctx, key).Result()
	if err != nil || len(members) == 0 {
		return nil, false
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m == sentinelEmptySet {
			continue
		}
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, true
}

// sentinelEmptySet keeps "user has no interactions" representable in a redis
// set, which cannot be empty.
const sentinelEmptySet = "-"

func (r *InteractionRepository) putCachedIDs(ctx context.Context, key string, ids []uuid.UUID) {
	members := make([]interface{}, 0, len(ids)+1)
	members = append(members, sentinelEmptySet)
	for _, id := range ids {
		members = append(members, id.String())
	}

	pipe := r.redis.Pipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, interactedIDsCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).Debug("Failed to cache interacted content ids")
	}
}
