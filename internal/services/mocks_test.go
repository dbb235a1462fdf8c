package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/novafeed/riptide/pkg/models"
)

// Mock repositories implementing the contracts in internal/repository.

type MockUserEmbeddingRepo struct {
	mock.Mock
}

func (m *MockUserEmbeddingRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.UserEmbedding, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserEmbedding), args.Error(1)
}

func (m *MockUserEmbeddingRepo) Save(ctx context.Context, embedding *models.UserEmbedding) error {
	return m.Called(ctx, embedding).Error(0)
}

func (m *MockUserEmbeddingRepo) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockContentEmbeddingRepo struct {
	mock.Mock
}

func (m *MockContentEmbeddingRepo) FindByContentID(ctx context.Context, contentID uuid.UUID) (*models.ContentEmbedding, error) {
	args := m.Called(ctx, contentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContentEmbedding), args.Error(1)
}

func (m *MockContentEmbeddingRepo) FindByIDs(ctx context.Context, contentIDs []uuid.UUID) ([]models.ContentEmbedding, error) {
	args := m.Called(ctx, contentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ContentEmbedding), args.Error(1)
}

func (m *MockContentEmbeddingRepo) FindAll(ctx context.Context, limit, offset int) ([]models.ContentEmbedding, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ContentEmbedding), args.Error(1)
}

func (m *MockContentEmbeddingRepo) FindSimilar(ctx context.Context, vector []float64, limit int, minSimilarity float64) ([]models.ContentEmbedding, error) {
	args := m.Called(ctx, vector, limit, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ContentEmbedding), args.Error(1)
}

func (m *MockContentEmbeddingRepo) Save(ctx context.Context, embedding *models.ContentEmbedding) error {
	return m.Called(ctx, embedding).Error(0)
}

func (m *MockContentEmbeddingRepo) Delete(ctx context.Context, contentID uuid.UUID) error {
	return m.Called(ctx, contentID).Error(0)
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

type MockInteractionRepo struct {
	mock.Mock
}

func (m *MockInteractionRepo) Save(ctx context.Context, interaction *models.UserInteraction) error {
	return m.Called(ctx, interaction).Error(0)
}

func (m *MockInteractionRepo) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserInteraction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserInteraction), args.Error(1)
}

func (m *MockInteractionRepo) FindRecentByUserID(ctx context.Context, userID uuid.UUID, days, limit int) ([]models.UserInteraction, error) {
	args := m.Called(ctx, userID, days, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserInteraction), args.Error(1)
}

func (m *MockInteractionRepo) FindByUserIDAndType(ctx context.Context, userID uuid.UUID, interactionType string, limit int) ([]models.UserInteraction, error) {
	args := m.Called(ctx, userID, interactionType, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserInteraction), args.Error(1)
}

func (m *MockInteractionRepo) FindByContentID(ctx context.Context, contentID uuid.UUID, limit int) ([]models.UserInteraction, error) {
	args := m.Called(ctx, contentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.UserInteraction), args.Error(1)
}

func (m *MockInteractionRepo) HasInteracted(ctx context.Context, userID, contentID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, contentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInteractionRepo) FindInteractedContentIDs(ctx context.Context, userID uuid.UUID, types ...string) ([]uuid.UUID, error) {
	callArgs := make([]interface{}, 0, len(types)+2)
	callArgs = append(callArgs, ctx, userID)
	for _, t := range types {
		callArgs = append(callArgs, t)
	}
	args := m.Called(callArgs...)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockInteractionRepo) CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInteractionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockInterestGraphRepo struct {
	mock.Mock
}

func (m *MockInterestGraphRepo) RecordInteraction(ctx context.Context, interaction *models.UserInteraction) error {
	return m.Called(ctx, interaction).Error(0)
}

func (m *MockInterestGraphRepo) TopTopicsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]string, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
