package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/pkg/models"
)

// diversityLookback is how many already-ranked candidates the diversity
// sub-score compares against.
const diversityLookback = 5

// RankingOptions tunes a single ranking pass. Nil levels keep the base
// weights; Now defaults to the wall clock and exists so scoring can be
// pinned in tests.
type RankingOptions struct {
	NoveltyLevel   *float64
	DiversityLevel *float64
	Context        *models.RecommendationContext
	UserInterests  []string
	Now            time.Time
}

// Ranker turns candidates into an ordered recommendation list. Every
// sub-score lives in [0, 1] and defaults to a neutral 0.5 when its inputs
// are missing, so one bad candidate never fails the request.
type Ranker struct {
	contentRepo repository.ContentEmbeddingRepo
	cfg         config.RankerConfig
	baseWeights subScoreWeights
	logger      *logrus.Logger
}

type subScoreWeights struct {
	relevance  float64
	engagement float64
	novelty    float64
	diversity  float64
	context    float64
}

func (w subScoreWeights) sum() float64 {
	return w.relevance + w.engagement + w.novelty + w.diversity + w.context
}

// candidateSignals carries per-candidate enrichment that has no home on the
// public metadata struct.
type candidateSignals struct {
	vector   []float64
	location string
}

func NewRanker(contentRepo repository.ContentEmbeddingRepo, cfg config.RankerConfig, logger *logrus.Logger) (*Ranker, error) {
	weights := subScoreWeights{
		relevance:  cfg.RelevanceWeight,
		engagement: cfg.EngagementWeight,
		novelty:    cfg.NoveltyWeight,
		diversity:  cfg.DiversityWeight,
		context:    cfg.ContextWeight,
	}
	sum := weights.sum()
	if sum <= 0 {
		return nil, fmt.Errorf("ranker weights must sum to a positive value: %w", models.ErrInvalidConfig)
	}
	weights.relevance /= sum
	weights.engagement /= sum
	weights.novelty /= sum
	weights.diversity /= sum
	weights.context /= sum

	if cfg.EngagementCalibration <= 0 {
		return nil, fmt.Errorf("engagement_calibration must be positive: %w", models.ErrInvalidConfig)
	}
	if cfg.RecencyDecayHours <= 0 {
		return nil, fmt.Errorf("recency_decay_hours must be positive: %w", models.ErrInvalidConfig)
	}

	return &Ranker{
		contentRepo: contentRepo,
		cfg:         cfg,
		baseWeights: weights,
		logger:      logger,
	}, nil
}

// RankCandidates scores, sorts and optionally diversifies the candidate
// list. The user vector may be nil. Output order is deterministic for
// identical inputs.
func (r *Ranker) RankCandidates(
	ctx context.Context,
	candidates []models.Candidate,
	userVector []float64,
	opts RankingOptions,
) []models.RankedCandidate {

	if len(candidates) == 0 {
		return nil
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	signals := r.enrich(ctx, candidates)
	weights := r.adjustWeights(opts)

	ranked := make([]models.RankedCandidate, len(candidates))
	for i, candidate := range candidates {
		scores, err := r.scoreCandidate(candidate, signals[i], ranked[:i], userVector, opts, now)
		if err != nil {
			r.logger.WithError(err).WithField("content_id", candidate.ContentID).Warn("Candidate scoring failed, using neutral scores")
			scores = models.SubScores{Relevance: 0.5, Engagement: 0.5, Novelty: 0.5, Diversity: 0.5, Context: 0.5}
		}

		final := weights.relevance*scores.Relevance +
			weights.engagement*scores.Engagement +
			weights.novelty*scores.Novelty +
			weights.diversity*scores.Diversity +
			weights.context*scores.Context

		ranked[i] = models.RankedCandidate{
			Candidate:  candidate,
			Scores:     scores,
			FinalScore: clamp01(final),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	if opts.DiversityLevel != nil && *opts.DiversityLevel > 0 {
		ranked = r.diversify(ranked, *opts.DiversityLevel)
	}

	return ranked
}

// enrich looks up content embeddings to fill in topics, creation time and
// the scoring signals. A repository failure degrades to neutral sub-scores
// instead of failing the request.
func (r *Ranker) enrich(ctx context.Context, candidates []models.Candidate) []candidateSignals {
	signals := make([]candidateSignals, len(candidates))

	ids := make([]uuid.UUID, len(candidates))
	for i, candidate := range candidates {
		ids[i] = candidate.ContentID
	}

	embeddings, err := r.contentRepo.FindByIDs(ctx, ids)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to enrich candidates with content embeddings")
		return signals
	}

	byID := make(map[uuid.UUID]*models.ContentEmbedding, len(embeddings))
	for i := range embeddings {
		byID[embeddings[i].ContentID] = &embeddings[i]
	}

	for i := range candidates {
		embedding := byID[candidates[i].ContentID]
		if embedding == nil {
			continue
		}
		if len(candidates[i].Metadata.Topics) == 0 {
			candidates[i].Metadata.Topics = embedding.Topics
		}
		if candidates[i].Metadata.CreatedAt == nil {
			createdAt := embedding.CreatedAt
			candidates[i].Metadata.CreatedAt = &createdAt
		}
		signals[i] = candidateSignals{
			vector:   embedding.Vector,
			location: embedding.Location,
		}
	}

	return signals
}

// adjustWeights applies the novelty and diversity level shifts to the base
// weights and renormalizes. Levels at their neutral points (0.3 and 0.4)
// leave the weights unchanged.
func (r *Ranker) adjustWeights(opts RankingOptions) subScoreWeights {
	weights := r.baseWeights

	if opts.NoveltyLevel != nil {
		delta := *opts.NoveltyLevel - 0.3
		weights.novelty += delta
		weights.relevance -= delta / 2
		weights.engagement -= delta / 2
	}
	if opts.DiversityLevel != nil {
		delta := *opts.DiversityLevel - 0.4
		weights.diversity += delta
		weights.relevance -= delta
	}

	weights.relevance = math.Max(0, weights.relevance)
	weights.engagement = math.Max(0, weights.engagement)
	weights.novelty = math.Max(0, weights.novelty)
	weights.diversity = math.Max(0, weights.diversity)
	weights.context = math.Max(0, weights.context)

	sum := weights.sum()
	if sum <= 0 {
		return r.baseWeights
	}
	weights.relevance /= sum
	weights.engagement /= sum
	weights.novelty /= sum
	weights.diversity /= sum
	weights.context /= sum

	return weights
}

func (r *Ranker) scoreCandidate(
	candidate models.Candidate,
	signals candidateSignals,
	previous []models.RankedCandidate,
	userVector []float64,
	opts RankingOptions,
	now time.Time,
) (models.SubScores, error) {

	relevance, err := r.relevanceScore(candidate, signals.vector, userVector)
	if err != nil {
		return models.SubScores{}, err
	}

	return models.SubScores{
		Relevance:  relevance,
		Engagement: r.engagementScore(candidate),
		Novelty:    r.noveltyScore(candidate, opts.UserInterests, now),
		Diversity:  r.diversityScore(candidate, previous),
		Context:    r.contextScore(signals.location, opts.Context),
	}, nil
}

// relevanceScore is half cluster affinity, half user-to-content similarity.
// Without a user vector there is nothing to personalize against, so it
// stays at the neutral default.
func (r *Ranker) relevanceScore(candidate models.Candidate, contentVector, userVector []float64) (float64, error) {
	if len(userVector) == 0 {
		return 0.5, nil
	}

	score := candidate.ClusterScore * 0.5
	if len(contentVector) > 0 {
		similarity, err := ml.CosineSimilarity(userVector, contentVector)
		if err != nil {
			return 0, err
		}
		score += (similarity + 1) / 2 * 0.5
	}

	return clamp01(score), nil
}

func (r *Ranker) engagementScore(candidate models.Candidate) float64 {
	metrics := candidate.Metadata.Engagement
	if metrics == nil {
		return 0.5
	}

	weightedTotal := float64(metrics.Likes) +
		1.5*float64(metrics.Comments) +
		2.0*float64(metrics.Shares) +
		0.2*float64(metrics.Views)

	return math.Min(1, weightedTotal/r.cfg.EngagementCalibration)
}

// noveltyScore favors fresh content the user has not circled before:
// exponential recency decay blended with how few of the item's topics the
// user already follows.
func (r *Ranker) noveltyScore(candidate models.Candidate, userInterests []string, now time.Time) float64 {
	createdAt := candidate.Metadata.CreatedAt
	if createdAt == nil {
		return 0.5
	}

	ageHours := math.Max(0, now.Sub(*createdAt).Hours())
	recency := math.Exp(-ageHours / r.cfg.RecencyDecayHours)

	topics := candidate.Metadata.Topics
	if len(topics) == 0 {
		return clamp01(recency)
	}

	shared := sharedTopicCount(userInterests, topics)
	topicNovelty := 1 - float64(shared)/math.Max(1, float64(len(topics)))

	return clamp01(recency*0.6 + topicNovelty*0.4)
}

// diversityScore compares against the most recent already-ranked candidates.
// Items without topics fall back to engagement-shape entropy, and to the
// neutral default when that is missing too.
func (r *Ranker) diversityScore(candidate models.Candidate, previous []models.RankedCandidate) float64 {
	if len(previous) == 0 {
		return 1.0
	}
	if len(previous) > diversityLookback {
		previous = previous[len(previous)-diversityLookback:]
	}

	topics := candidate.Metadata.Topics
	if len(topics) == 0 {
		if candidate.Metadata.Engagement != nil {
			return engagementEntropy(candidate.Metadata.Engagement)
		}
		return 0.5
	}

	totalOverlap, compared := 0.0, 0
	for _, prev := range previous {
		prevTopics := prev.Metadata.Topics
		if len(prevTopics) == 0 {
			continue
		}
		shared := sharedTopicCount(prevTopics, topics)
		totalOverlap += float64(shared) / math.Max(1, float64(len(topics)))
		compared++
	}
	if compared == 0 {
		return 1.0
	}

	return clamp01(1 - totalOverlap/float64(compared))
}

// engagementEntropy measures how evenly engagement spreads across likes,
// comments and shares, normalized to [0, 1] by log2(3).
func engagementEntropy(metrics *models.EngagementMetrics) float64 {
	counts := []float64{float64(metrics.Likes), float64(metrics.Comments), float64(metrics.Shares)}
	total := counts[0] + counts[1] + counts[2]
	if total <= 0 {
		return 0.5
	}

	entropy := 0.0
	for _, count := range counts {
		if count <= 0 {
			continue
		}
		p := count / total
		entropy -= p * math.Log2(p)
	}

	return clamp01(entropy / math.Log2(3))
}

// contextScore averages the available context signals; with no context at
// all it stays neutral.
func (r *Ranker) contextScore(contentLocation string, recCtx *models.RecommendationContext) float64 {
	if recCtx == nil {
		return 0.5
	}

	total, count := 0.0, 0
	if recCtx.TimeOfDay != nil {
		total += r.timeOfDaySignal(*recCtx.TimeOfDay)
		count++
	}
	if recCtx.DayOfWeek != nil {
		total += r.dayOfWeekSignal(*recCtx.DayOfWeek)
		count++
	}
	if recCtx.Location != "" && contentLocation != "" {
		total += r.locationSignal(recCtx.Location, contentLocation)
		count++
	}
	if count == 0 {
		return 0.5
	}

	return clamp01(total / float64(count))
}

// timeOfDaySignal peaks in the morning and evening engagement windows,
// bottoms out in the small hours and decays smoothly in between.
func (r *Ranker) timeOfDaySignal(hour float64) float64 {
	inPeak := (hour >= 7 && hour <= 9) || (hour >= 18 && hour <= 21)
	if inPeak {
		return clamp01(0.5 + r.cfg.PeakHoursWeight)
	}
	if hour >= 0 && hour <= 5 {
		return clamp01(0.5 - r.cfg.LowEngagementWeight)
	}

	distance := math.Min(hoursToWindow(hour, 7, 9), hoursToWindow(hour, 18, 21))
	return clamp01(0.5 + r.cfg.PeakHoursWeight*math.Exp(-distance/3))
}

// hoursToWindow is the circular distance in hours from hour to the window
// [start, end] on a 24h clock.
func hoursToWindow(hour, start, end float64) float64 {
	if hour >= start && hour <= end {
		return 0
	}
	toStart := math.Abs(hour - start)
	toEnd := math.Abs(hour - end)
	return math.Min(math.Min(toStart, 24-toStart), math.Min(toEnd, 24-toEnd))
}

func (r *Ranker) dayOfWeekSignal(day int) float64 {
	switch time.Weekday(day) {
	case time.Sunday, time.Saturday:
		return clamp01(0.5 + r.cfg.WeekendWeight)
	case time.Tuesday, time.Wednesday, time.Thursday:
		return clamp01(0.5 + r.cfg.MidWeekWeight)
	default:
		return clamp01(0.5 + r.cfg.WeekStartEndWeight)
	}
}

// locationSignal rewards an exact region match, gives partial credit when
// only the country part agrees and penalizes a full mismatch.
func (r *Ranker) locationSignal(requestLocation, contentLocation string) float64 {
	if strings.EqualFold(requestLocation, contentLocation) {
		return clamp01(0.5 + r.cfg.SameLocationWeight)
	}
	if strings.EqualFold(countryPart(requestLocation), countryPart(contentLocation)) {
		return clamp01(0.5 + (r.cfg.SameLocationWeight-r.cfg.DiffLocationWeight)/2)
	}
	return clamp01(0.5 - r.cfg.DiffLocationWeight)
}

func countryPart(location string) string {
	if idx := strings.IndexByte(location, '-'); idx > 0 {
		return location[:idx]
	}
	return location
}

// diversify reorders with maximal marginal relevance: the top candidate is
// kept, then each slot greedily balances final score against the minimum
// topic diversity to everything already picked.
func (r *Ranker) diversify(ranked []models.RankedCandidate, lambda float64) []models.RankedCandidate {
	if len(ranked) <= 2 {
		return ranked
	}

	selected := make([]models.RankedCandidate, 0, len(ranked))
	selected = append(selected, ranked[0])
	remaining := make([]models.RankedCandidate, len(ranked)-1)
	copy(remaining, ranked[1:])

	for len(remaining) > 0 {
		bestIdx, bestMMR := 0, math.Inf(-1)
		for i, candidate := range remaining {
			minDiversity := minDiversityAgainst(candidate, selected)
			mmr := (1-lambda)*candidate.FinalScore + lambda*minDiversity
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func minDiversityAgainst(candidate models.RankedCandidate, selected []models.RankedCandidate) float64 {
	topics := candidate.Metadata.Topics
	if len(topics) == 0 {
		return 0.5
	}

	minDiversity := 1.0
	for _, prev := range selected {
		shared := sharedTopicCount(prev.Metadata.Topics, topics)
		diversity := 1 - float64(shared)/math.Max(1, float64(len(topics)))
		if diversity < minDiversity {
			minDiversity = diversity
		}
	}
	return minDiversity
}
