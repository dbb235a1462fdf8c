package models

import (
	"time"

	"github.com/google/uuid"
)

// Cluster is a dense group of content embeddings discovered by the clusterer.
// The centroid is the L2-normalized arithmetic mean of member vectors and has
// the same dimension as every member.
type Cluster struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Centroid  []float64 `json:"-" db:"centroid"`
	Size      int       `json:"size" db:"size"`
	Density   float64   `json:"density" db:"density"`
	Coherence float64   `json:"coherence" db:"coherence"`
	Topics    []string  `json:"topics,omitempty" db:"topics"`

	// Contextual aggregates used by the matcher. ActiveHourStart/End is the
	// daily activity window in hours [0,24); the range may wrap midnight.
	ActiveHourStart *float64 `json:"active_hour_start,omitempty" db:"active_hour_start"`
	ActiveHourEnd   *float64 `json:"active_hour_end,omitempty" db:"active_hour_end"`
	GeoFocus        string   `json:"geo_focus,omitempty" db:"geo_focus"`
	Languages       []string `json:"languages,omitempty" db:"languages"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ClusterAssignment relates one moment to one cluster with the cosine
// similarity between the moment's vector and the cluster centroid. Re-runs of
// the clusterer replace the full assignment set.
type ClusterAssignment struct {
	ContentID  uuid.UUID `json:"content_id" db:"content_id"`
	ClusterID  uuid.UUID `json:"cluster_id" db:"cluster_id"`
	Similarity float64   `json:"similarity" db:"similarity"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

// MatchResult is one cluster scored against a user by the matcher.
// Similarity is the match strength in [0,1] used for threshold filtering;
// Score is the selection score (similarity plus any fallback randomization).
type MatchResult struct {
	ClusterID  uuid.UUID `json:"cluster_id"`
	Similarity float64   `json:"similarity"`
	Score      float64   `json:"score"`
}
