package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/pkg/models"
)

// InterestGraphRepository maintains (User)-[:INTERESTED_IN]->(Topic) edges in
// neo4j. Edge weights accumulate per interaction, signed by interaction type,
// so the top-topic query reflects sustained interest rather than raw counts.
type InterestGraphRepository struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

func NewInterestGraphRepository(driver neo4j.DriverWithContext, logger *logrus.Logger) *InterestGraphRepository {
	return &InterestGraphRepository{driver: driver, logger: logger}
}

// RecordInteraction merges the interaction's topics into the user's interest
// edges. Interactions without topics are a no-op.
func (r *InterestGraphRepository) RecordInteraction(ctx context.Context, interaction *models.UserInteraction) error {
	if len(interaction.Topics) == 0 {
		return nil
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (u:User {user_id: $userId})
		WITH u
		UNWIND $topics AS topic
		MERGE (t:Topic {name: topic})
		MERGE (u)-[r:INTERESTED_IN]->(t)
		ON CREATE SET r.weight = $weight, r.updated_at = timestamp()
		ON MATCH SET r.weight = r.weight + $weight, r.updated_at = timestamp()`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userId": interaction.UserID.String(),
		"topics": interaction.Topics,
		"weight": interactionSignalWeight(interaction.Type),
	})
	if err != nil {
		return models.NewRepositoryError("interest_graph.record_interaction", err)
	}
	return nil
}

// TopTopicsForUser returns the user's strongest positive interest topics.
func (r *InterestGraphRepository) TopTopicsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {user_id: $userId})-[r:INTERESTED_IN]->(t:Topic)
		WHERE r.weight > 0
		RETURN t.name AS topic
		ORDER BY r.weight DESC
		LIMIT $limit`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userId": userID.String(),
		"limit":  limit,
	})
	if err != nil {
		return nil, models.NewRepositoryError("interest_graph.top_topics", err)
	}

	var topics []string
	for result.Next(ctx) {
		record := result.Record()
		topic, ok := record.Values[0].(string)
		if !ok {
			continue
		}
		topics = append(topics, topic)
	}
	if err := result.Err(); err != nil {
		return nil, models.NewRepositoryError("interest_graph.top_topics", err)
	}
	return topics, nil
}

// interactionSignalWeight maps interaction types onto signed interest signal.
// Negative feedback actively decays the edge.
func interactionSignalWeight(interactionType string) float64 {
	switch interactionType {
	case models.InteractionLike:
		return 1.0
	case models.InteractionSave:
		return 1.1
	case models.InteractionShare:
		return 1.2
	case models.InteractionComment:
		return 0.8
	case models.InteractionLikeComment:
		return 0.6
	case models.InteractionCompleteView:
		return 0.7
	case models.InteractionPartialView:
		return 0.3
	case models.InteractionView:
		return 0.2
	case models.InteractionSkip:
		return -0.2
	case models.InteractionShowLessOften:
		return -0.8
	case models.InteractionDislike:
		return -1.0
	case models.InteractionReport:
		return -1.5
	default:
		return 0.1
	}
}
