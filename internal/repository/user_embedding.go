package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/pkg/models"
)

const userEmbeddingCacheTTL = 10 * time.Minute

// UserEmbeddingRepository is the postgres implementation of UserEmbeddingRepo
// with a warm-cache read path for the per-request embedding fetch.
type UserEmbeddingRepository struct {
	db     Querier
	redis  *redis.Client
	logger *logrus.Logger
}

func NewUserEmbeddingRepository(db Querier, redis *redis.Client, logger *logrus.Logger) *UserEmbeddingRepository {
	return &UserEmbeddingRepository{db: db, redis: redis, logger: logger}
}

func (r *UserEmbeddingRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.UserEmbedding, error) {
	cacheKey := fmt.Sprintf("user_embedding:%s", userID)
	if cached := r.getCached(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	query := `
		SELECT user_id, embedding::text, interests, last_interaction_at, updated_at
		FROM user_embeddings
		WHERE user_id = $1`

	var (
		embedding models.UserEmbedding
		rawVector string
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&embedding.UserID,
		&rawVector,
		&embedding.Interests,
		&embedding.LastInteractionAt,
		&embedding.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewRepositoryError("user_embeddings.find_by_user_id", err)
	}

	if embedding.Vector, err = parseVector(rawVector); err != nil {
		return nil, models.NewRepositoryError("user_embeddings.find_by_user_id", err)
	}

	r.putCached(ctx, cacheKey, &embedding)
	return &embedding, nil
}

func (r *UserEmbeddingRepository) Save(ctx context.Context, embedding *models.UserEmbedding) error {
	query := `
		INSERT INTO user_embeddings (user_id, embedding, interests, last_interaction_at, updated_at)
		VALUES ($1, $2::vector, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			interests = EXCLUDED.interests,
			last_interaction_at = EXCLUDED.last_interaction_at,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		embedding.UserID,
		vectorLiteral(embedding.Vector),
		embedding.Interests,
		embedding.LastInteractionAt,
	)
	if err != nil {
		return models.NewRepositoryError("user_embeddings.save", err)
	}

	r.redis.Del(ctx, fmt.Sprintf("user_embedding:%s", embedding.UserID))
	return nil
}

func (r *UserEmbeddingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_embeddings`).Scan(&count); err != nil {
		return 0, models.NewRepositoryError("user_embeddings.count", err)
	}
	return count, nil
}

// cachedUserEmbedding mirrors models.UserEmbedding with the vector included;
// the model keeps its vector out of JSON responses.
type cachedUserEmbedding struct {
	UserID            uuid.UUID  `json:"user_id"`
	Vector            []float64  `json:"vector"`
	Interests         []string   `json:"interests,omitempty"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (r *UserEmbeddingRepository) getCached(ctx context.Context, key string) *models.UserEmbedding {
	cached := r.redis.Get(ctx, key).Val()
	if cached == "" {
		return nil
	}
	var entry cachedUserEmbedding
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return nil
	}
	return &models.UserEmbedding{
		UserID:            entry.UserID,
		Vector:            entry.Vector,
		Interests:         entry.Interests,
		LastInteractionAt: entry.LastInteractionAt,
		UpdatedAt:         entry.UpdatedAt,
	}
}

func (r *UserEmbeddingRepository) putCached(ctx context.Context, key string, embedding *models.UserEmbedding) {
	data, err := json.Marshal(cachedUserEmbedding{
		UserID:            embedding.UserID,
		Vector:            embedding.Vector,
		Interests:         embedding.Interests,
		LastInteractionAt: embedding.LastInteractionAt,
		UpdatedAt:         embedding.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, key, data, userEmbeddingCacheTTL).Err(); err != nil {
		r.logger.WithError(err).Debug("Failed to cache user embedding")
	}
}
