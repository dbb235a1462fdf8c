package models

import (
	"time"

	"github.com/google/uuid"
)

// RecommendationContext is the optional per-request situational signal.
// TimeOfDay is the local hour in [0,24); DayOfWeek uses 0=Sunday..6=Saturday.
type RecommendationContext struct {
	TimeOfDay *float64 `json:"time_of_day,omitempty" binding:"omitempty,gte=0,lt=24"`
	DayOfWeek *int     `json:"day_of_week,omitempty" binding:"omitempty,gte=0,lte=6"`
	Location  string   `json:"location,omitempty"`
	Language  string   `json:"language,omitempty"`
}

// RecommendationRequest asks for an ordered feed page for one user.
type RecommendationRequest struct {
	UserID     uuid.UUID              `json:"user_id" binding:"required"`
	Limit      int                    `json:"limit" binding:"omitempty,min=1,max=100"`
	ExcludeIDs []uuid.UUID            `json:"exclude_ids,omitempty" binding:"omitempty,max=500"`
	Context    *RecommendationContext `json:"context,omitempty"`

	// NoveltyLevel and DiversityLevel tune the ranker's weight adjustment
	// and MMR strength. Nil leaves the configured defaults in place.
	NoveltyLevel   *float64 `json:"novelty_level,omitempty" binding:"omitempty,gte=0,lte=1"`
	DiversityLevel *float64 `json:"diversity_level,omitempty" binding:"omitempty,gte=0,lte=1"`
}

// CandidateMetadata is the closed metadata a candidate carries through the
// pipeline, recovered from the cluster assignment and the content record.
type CandidateMetadata struct {
	Similarity     float64            `json:"similarity"`
	ClusterSize    int                `json:"cluster_size"`
	ClusterDensity float64            `json:"cluster_density"`
	Topics         []string           `json:"topics,omitempty"`
	CreatedAt      *time.Time         `json:"created_at,omitempty"`
	Engagement     *EngagementMetrics `json:"engagement,omitempty"`

	// Extra holds any open-ended attributes the store returned that the
	// pipeline does not interpret.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Candidate is a moment proposed by the selector for ranking. Ephemeral,
// owned by the request.
type Candidate struct {
	ContentID    uuid.UUID         `json:"content_id"`
	ClusterID    uuid.UUID         `json:"cluster_id"`
	ClusterScore float64           `json:"cluster_score"`
	Metadata     CandidateMetadata `json:"metadata"`
}

// SubScores are the per-factor ranking scores, each in [0,1].
type SubScores struct {
	Relevance  float64 `json:"relevance"`
	Engagement float64 `json:"engagement"`
	Novelty    float64 `json:"novelty"`
	Diversity  float64 `json:"diversity"`
	Context    float64 `json:"context"`
}

// RankedCandidate is a candidate with its sub-scores and combined final score.
type RankedCandidate struct {
	Candidate
	Scores     SubScores `json:"scores"`
	FinalScore float64   `json:"final_score"`
}

// Recommendation is one entry of the served feed page.
type Recommendation struct {
	ContentID uuid.UUID         `json:"content_id"`
	Score     float64           `json:"score"`
	Reason    string            `json:"reason"`
	ClusterID uuid.UUID         `json:"cluster_id"`
	Scores    SubScores         `json:"scores"`
	Metadata  CandidateMetadata `json:"metadata"`
}

// RecommendationResponse is the HTTP envelope for a served page.
type RecommendationResponse struct {
	UserID          uuid.UUID        `json:"user_id"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
	CacheHit        bool             `json:"cache_hit"`
}

// RankableItem is the HybridRanker input: a content vector plus optional
// engagement representation and creation instant.
type RankableItem struct {
	ID               uuid.UUID         `json:"id"`
	ContentVector    []float64         `json:"content_vector"`
	EngagementVector *EngagementVector `json:"engagement_vector,omitempty"`
	CreatedAt        *time.Time        `json:"created_at,omitempty"`
}

// RankedItem is the HybridRanker output with the blended score and its parts.
type RankedItem struct {
	RankableItem
	SimilarityScore float64 `json:"similarity_score"`
	EngagementScore float64 `json:"engagement_score"`
	RecencyScore    float64 `json:"recency_score"`
	Score           float64 `json:"score"`
}
