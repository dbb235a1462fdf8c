package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/pkg/models"
)

const contentEmbeddingCacheTTL = 15 * time.Minute

// ContentEmbeddingRepository is the postgres implementation of
// ContentEmbeddingRepo. Single-id lookups go through the warm cache; bulk
// reads used by the ranker and the recluster job hit postgres directly.
type ContentEmbeddingRepository struct {
	db     Querier
	redis  *redis.Client
	logger *logrus.Logger
}

func NewContentEmbeddingRepository(db Querier, redis *redis.Client, logger *logrus.Logger) *ContentEmbeddingRepository {
	return &ContentEmbeddingRepository{db: db, redis: redis, logger: logger}
}

const contentEmbeddingColumns = `content_id, embedding::text, topics, author_id, language, location, created_at, updated_at`

func (r *ContentEmbeddingRepository) FindByContentID(ctx context.Context, contentID uuid.UUID) (*models.ContentEmbedding, error) {
	cacheKey := fmt.Sprintf("content_embedding:%s", contentID)
	if cached := r.getCached(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	query := `SELECT ` + contentEmbeddingColumns + ` FROM content_embeddings WHERE content_id = $1`

	rows, err := r.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, models.NewRepositoryError("content_embeddings.find_by_content_id", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, models.NewRepositoryError("content_embeddings.find_by_content_id", err)
		}
		return nil, nil
	}

	embedding, err := scanContentEmbedding(rows)
	if err != nil {
		return nil, models.NewRepositoryError("content_embeddings.find_by_content_id", err)
	}

	r.putCached(ctx, cacheKey, embedding)
	return embedding, nil
}

func (r *ContentEmbeddingRepository) FindByIDs(ctx context.Context, contentIDs []uuid.UUID) ([]models.ContentEmbedding, error) {
	if len(contentIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contentEmbeddingColumns + ` FROM content_embeddings WHERE content_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, contentIDs)
	if err != nil {
		return nil, models.NewRepositoryError("content_embeddings.find_by_ids", err)
	}
	defer rows.Close()

	return r.collectEmbeddings(rows, "find_by_ids")
}

func (r *ContentEmbeddingRepository) FindAll(ctx context.Context, limit, offset int) ([]models.ContentEmbedding, error) {
	query := `SELECT ` + contentEmbeddingColumns + `
		FROM content_embeddings
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, models.NewRepositoryError("content_embeddings.find_all", err)
	}
	defer rows.Close()

	return r.collectEmbeddings(rows, "find_all")
}

func (r *ContentEmbeddingRepository) FindSimilar(ctx context.Context, vector []float64, limit int, minSimilarity float64) ([]models.ContentEmbedding, error) {
	query := `SELECT ` + contentEmbeddingColumns + `
		FROM content_embeddings
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, vectorLiteral(vector), minSimilarity, limit)
	if err != nil {
		return nil, models.NewRepositoryError("content_embeddings.find_similar", err)
	}
	defer rows.Close()

	return r.collectEmbeddings(rows, "find_similar")
}

func (r *ContentEmbeddingRepository) Save(ctx context.Context, embedding *models.ContentEmbedding) error {
	query := `
		INSERT INTO content_embeddings (content_id, embedding, topics, author_id, language, location, created_at, updated_at)
		VALUES ($1, $2::vector, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (content_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			topics = EXCLUDED.topics,
			author_id = EXCLUDED.author_id,
			language = EXCLUDED.language,
			location = EXCLUDED.location,
			updated_at = NOW()`

	createdAt := embedding.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Exec(ctx, query,
		embedding.ContentID,
		vectorLiteral(embedding.Vector),
		embedding.Topics,
		embedding.AuthorID,
		embedding.Language,
		embedding.Location,
		createdAt,
	)
	if err != nil {
		return models.NewRepositoryError("content_embeddings.save", err)
	}

	r.redis.Del(ctx, fmt.Sprintf("content_embedding:%s", embedding.ContentID))
	return nil
}

func (r *ContentEmbeddingRepository) Delete(ctx context.Context, contentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM content_embeddings WHERE content_id = $1`, contentID)
	if err != nil {
		return models.NewRepositoryError("content_embeddings.delete", err)
	}

	r.redis.Del(ctx, fmt.Sprintf("content_embedding:%s", contentID))
	return nil
}

// collectEmbeddings drains rows, logging and skipping rows that fail to scan
// so one bad record does not drop the batch.
func (r *ContentEmbeddingRepository) collectEmbeddings(rows pgx.Rows, op string) ([]models.ContentEmbedding, error) {
	var embeddings []models.ContentEmbedding
	for rows.Next() {
		embedding, err := scanContentEmbedding(rows)
		if err != nil {
			r.logger.WithError(err).WithField("op", op).Error("Failed to scan content embedding")
			continue
		}
		embeddings = append(embeddings, *embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewRepositoryError("content_embeddings."+op, err)
	}
	return embeddings, nil
}

func scanContentEmbedding(rows pgx.Rows) (*models.ContentEmbedding, error) {
	var (
		embedding models.ContentEmbedding
		rawVector string
	)
	if err := rows.Scan(
		&embedding.ContentID,
		&rawVector,
		&embedding.Topics,
		&embedding.AuthorID,
		&embedding.Language,
		&embedding.Location,
		&embedding.CreatedAt,
		&embedding.UpdatedAt,
	); err != nil {
		return nil, err
	}

	vector, err := parseVector(rawVector)
	if err != nil {
		return nil, err
	}
	embedding.Vector = vector
	return &embedding, nil
}

type cachedContentEmbedding struct {
	ContentID uuid.UUID  `json:"content_id"`
	Vector    []float64  `json:"vector"`
	Topics    []string   `json:"topics,omitempty"`
	AuthorID  *uuid.UUID `json:"author_id,omitempty"`
	Language  string     `json:"language,omitempty"`
	Location  string     `json:"location,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *ContentEmbeddingRepository) getCached(ctx context.Context, key string) *models.ContentEmbedding {
	cached := r.redis.Get(ctx, key).Val()
	if cached == "" {
		return nil
	}
	var entry cachedContentEmbedding
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return nil
	}
	return &models.ContentEmbedding{
		ContentID: entry.ContentID,
		Vector:    entry.Vector,
		Topics:    entry.Topics,
		AuthorID:  entry.AuthorID,
		Language:  entry.Language,
		Location:  entry.Location,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}

func (r *ContentEmbeddingRepository) putCached(ctx context.Context, key string, embedding *models.ContentEmbedding) {
	data, err := json.Marshal(cachedContentEmbedding{
		ContentID: embedding.ContentID,
		Vector:    embedding.Vector,
		Topics:    embedding.Topics,
		AuthorID:  embedding.AuthorID,
		Language:  embedding.Language,
		Location:  embedding.Location,
		CreatedAt: embedding.CreatedAt,
		UpdatedAt: embedding.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, key, data, contentEmbeddingCacheTTL).Err(); err != nil {
		r.logger.WithError(err).Debug("Failed to cache content embedding")
	}
}
