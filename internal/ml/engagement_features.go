package ml

import (
	"fmt"

	"github.com/novafeed/riptide/pkg/models"
)

// EngagementParams is the input to CalculateEngagement: the raw counters a
// moment accumulated plus its duration in seconds.
type EngagementParams struct {
	Metrics  models.EngagementMetrics
	Duration float64
}

// CalculateEngagement derives the 9-dimensional engagement representation
// from raw counters. Rates divide by views and are 0 exactly when views is 0;
// every feature is clamped into [0,1]; the resulting feature sequence is
// L2-normalized. Deterministic and stateless.
func CalculateEngagement(params EngagementParams) (*models.EngagementVector, error) {
	m := params.Metrics
	if m.Views < 0 || m.UniqueViews < 0 || m.Likes < 0 || m.Comments < 0 ||
		m.Shares < 0 || m.Saves < 0 || m.Reports < 0 || m.AvgWatchTime < 0 {
		return nil, fmt.Errorf("calculate engagement: %w: negative counter", models.ErrInvalidConfig)
	}
	if m.CompletionRate < 0 || m.CompletionRate > 1 {
		return nil, fmt.Errorf("calculate engagement: %w: completion rate %f outside [0,1]", models.ErrInvalidConfig, m.CompletionRate)
	}

	ev := &models.EngagementVector{
		LikeRate:          viewRate(m.Likes, m.Views),
		CommentRate:       viewRate(m.Comments, m.Views),
		ShareRate:         viewRate(m.Shares, m.Views),
		SaveRate:          viewRate(m.Saves, m.Views),
		ReportRate:        viewRate(m.Reports, m.Views),
		AvgCompletionRate: m.CompletionRate,
	}

	if m.Views > 0 && params.Duration > 0 {
		ev.RetentionRate = clamp01(m.AvgWatchTime / (float64(m.Views) * params.Duration))
	}

	ev.ViralityScore = (ev.ShareRate + ev.SaveRate) / 2
	ev.QualityScore = clamp01(ev.RetentionRate + ev.AvgCompletionRate - 2*ev.ReportRate)

	ev.Vector = NormalizeL2(ev.Features())
	return ev, nil
}

// viewRate is count/views clamped into [0,1], 0 when there are no views.
func viewRate(count, views int64) float64 {
	if views <= 0 {
		return 0
	}
	return clamp01(float64(count) / float64(views))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
