package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/pkg/models"
)

// Querier is the subset of pgxpool.Pool the repositories use. pgxmock
// satisfies it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// UserEmbeddingRepo stores user vectors. Find methods return (nil, nil) when
// no row exists.
type UserEmbeddingRepo interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.UserEmbedding, error)
	Save(ctx context.Context, embedding *models.UserEmbedding) error
	Count(ctx context.Context) (int64, error)
}

// ContentEmbeddingRepo stores moment vectors and their ranking metadata.
type ContentEmbeddingRepo interface {
	FindByContentID(ctx context.Context, contentID uuid.UUID) (*models.ContentEmbedding, error)
	FindByIDs(ctx context.Context, contentIDs []uuid.UUID) ([]models.ContentEmbedding, error)
	FindAll(ctx context.Context, limit, offset int) ([]models.ContentEmbedding, error)
	FindSimilar(ctx context.Context, vector []float64, limit int, minSimilarity float64) ([]models.ContentEmbedding, error)
	Save(ctx context.Context, embedding *models.ContentEmbedding) error
	Delete(ctx context.Context, contentID uuid.UUID) error
}

// ClusterRepo stores clusters and their content assignments.
type ClusterRepo interface {
	Save(ctx context.Context, cluster *models.Cluster) error
	SaveMany(ctx context.Context, clusters []models.Cluster) error
	FindAll(ctx context.Context) ([]models.Cluster, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Cluster, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) error
	UpdateClusterStats(ctx context.Context, id uuid.UUID, size int, density, coherence float64) error

	SaveAssignment(ctx context.Context, assignment *models.ClusterAssignment) error
	SaveAssignments(ctx context.Context, assignments []models.ClusterAssignment) error
	FindAssignmentsByContentID(ctx context.Context, contentID uuid.UUID) ([]models.ClusterAssignment, error)
	FindContentIDsByClusterID(ctx context.Context, clusterID uuid.UUID, limit int) ([]uuid.UUID, error)
	DeleteAssignmentsByContentID(ctx context.Context, contentID uuid.UUID) error
}

// InteractionRepo stores the user interaction log.
type InteractionRepo interface {
	Save(ctx context.Context, interaction *models.UserInteraction) error
	FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserInteraction, error)
	FindRecentByUserID(ctx context.Context, userID uuid.UUID, days, limit int) ([]models.UserInteraction, error)
	FindByUserIDAndType(ctx context.Context, userID uuid.UUID, interactionType string, limit int) ([]models.UserInteraction, error)
	FindByContentID(ctx context.Context, contentID uuid.UUID, limit int) ([]models.UserInteraction, error)
	HasInteracted(ctx context.Context, userID, contentID uuid.UUID) (bool, error)
	FindInteractedContentIDs(ctx context.Context, userID uuid.UUID, types ...string) ([]uuid.UUID, error)
	CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InterestGraphRepo maintains the user→topic interest graph used to enrich
// profiles whose interaction log carries no topic metadata.
type InterestGraphRepo interface {
	RecordInteraction(ctx context.Context, interaction *models.UserInteraction) error
	TopTopicsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)
}

// Repositories aggregates the storage layer handed to the service wiring.
type Repositories struct {
	UserEmbeddings    UserEmbeddingRepo
	ContentEmbeddings ContentEmbeddingRepo
	Clusters          ClusterRepo
	Interactions      InteractionRepo
	InterestGraph     InterestGraphRepo
}

// New wires the postgres-, redis- and neo4j-backed repositories. neo4jDriver
// may be nil; the interest graph is then disabled and profile enrichment
// skipped.
func New(db Querier, redisWarm *redis.Client, neo4jDriver neo4j.DriverWithContext, logger *logrus.Logger) *Repositories {
	repos := &Repositories{
		UserEmbeddings:    NewUserEmbeddingRepository(db, redisWarm, logger),
		ContentEmbeddings: NewContentEmbeddingRepository(db, redisWarm, logger),
		Clusters:          NewClusterRepository(db, redisWarm, logger),
		Interactions:      NewInteractionRepository(db, redisWarm, logger),
	}
	if neo4jDriver != nil {
		repos.InterestGraph = NewInterestGraphRepository(neo4jDriver, logger)
	}
	return repos
}

// parseVector normalizes a stored vector into []float64 at the repository
// boundary. Stores return either the pgvector/JSON text form "[1,2,3]" or the
// array text form "{1,2,3}"; both are accepted. NULL and empty text parse to
// nil.
func parseVector(raw string) ([]float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		s = "[" + s[1:len(s)-1] + "]"
	}

	var vector []float64
	if err := json.Unmarshal([]byte(s), &vector); err != nil {
		return nil, fmt.Errorf("parse vector %q: %w", truncateForLog(raw), err)
	}
	return vector, nil
}

// vectorLiteral renders a vector in pgvector text form for ::vector casts.
func vectorLiteral(vector []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

func truncateForLog(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
