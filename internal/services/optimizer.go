package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/match"
	"github.com/voxhome/voxhome-backend/internal/observability"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
)

const (
	paramMin          = 0.05
	paramMax          = 0.95
	initialStep       = 0.10
	minStep           = 0.01
	minMovement       = 0.001
	defaultMaxResults = 3

	foundScore   = 3.0
	countOKScore = 1.0
	caseMaxScore = foundScore + countOKScore
)

// SkillOptimizerService calibrates the hybrid matcher's three tunable
// parameters against labeled test cases using coordinate descent.
type SkillOptimizerService interface {
	Optimize(
		ctx context.Context,
		testCases []domain.OptimizationTestCase,
		candidates []domain.MatchableEntity,
		embedder Embedder,
		initial *domain.HybridMatchOptions,
		onProgress func(domain.OptimizationProgress),
	) (*domain.OptimizationResult, error)
}

type skillOptimizerService struct {
	log     *logger.Logger
	metrics *observability.Metrics
}

func NewSkillOptimizerService(log *logger.Logger, metrics *observability.Metrics) SkillOptimizerService {
	return &skillOptimizerService{
		log:     log.With("service", "SkillOptimizerService"),
		metrics: metrics,
	}
}

// evaluator memoizes one score per rounded parameter point; the same
// point is revisited from multiple walk directions within a run.
type evaluator struct {
	log        *logger.Logger
	cases      []domain.OptimizationTestCase
	candidates []domain.MatchableEntity
	embedder   Embedder
	cache      map[string]float64
}

func (e *evaluator) score(ctx context.Context, p domain.HybridMatchOptions) (float64, error) {
	key := pointKey(p)
	if s, ok := e.cache[key]; ok {
		return s, nil
	}
	var total float64
	for _, tc := range e.cases {
		r, err := e.scoreCase(ctx, tc, p)
		if err != nil {
			return 0, err
		}
		total += r.CaseScore
	}
	e.cache[key] = total
	return total, nil
}

func (e *evaluator) scoreCase(ctx context.Context, tc domain.OptimizationTestCase, p domain.HybridMatchOptions) (domain.OptimizationCaseResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OptimizationCaseResult{}, err
	}
	results, err := match.FindMatches(ctx, e.log, tc.SearchTerm, e.candidates, e.embedder, p)
	if err != nil {
		return domain.OptimizationCaseResult{}, err
	}

	found := false
	for _, r := range results {
		if r.Entity.EntityID() == tc.ExpectedEntityID ||
			strings.EqualFold(r.Entity.MatchableName(), tc.ExpectedEntityID) {
			found = true
			break
		}
	}
	maxResults := tc.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	countOK := len(results) <= maxResults

	out := domain.OptimizationCaseResult{
		Case:             tc,
		Found:            found,
		MatchCount:       len(results),
		CountWithinLimit: countOK,
	}
	if found {
		out.CaseScore += foundScore
	}
	if countOK {
		out.CaseScore += countOKScore
	}
	return out, nil
}

func (s *skillOptimizerService) Optimize(
	ctx context.Context,
	testCases []domain.OptimizationTestCase,
	candidates []domain.MatchableEntity,
	embedder Embedder,
	initial *domain.HybridMatchOptions,
	onProgress func(domain.OptimizationProgress),
) (*domain.OptimizationResult, error) {
	if len(testCases) == 0 {
		return nil, fmt.Errorf("no test cases supplied")
	}
	s.metrics.ObserveOptimizerRun()

	eval := &evaluator{
		log:        s.log,
		cases:      testCases,
		candidates: candidates,
		embedder:   embedder,
		cache:      map[string]float64{},
	}
	maxScore := caseMaxScore * float64(len(testCases))

	params := domain.DefaultHybridMatchOptions()
	if initial != nil {
		params = *initial
	}
	params = clampPoint(params)

	bestScore, err := eval.score(ctx, params)
	if err != nil {
		return nil, err
	}

	step := initialStep
	iterations := 0

	emit := func(completed bool, status string) {
		if onProgress == nil {
			return
		}
		onProgress(domain.OptimizationProgress{
			Iteration:       iterations,
			Score:           bestScore,
			BestParams:      params,
			StepSize:        step,
			EvaluatedPoints: len(eval.cache),
			Completed:       completed,
			Status:          status,
		})
	}
	emit(false, fmt.Sprintf("starting at score %.1f of %.1f", bestScore, maxScore))

	for step >= minStep && bestScore < maxScore {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations++
		improvedAny := false

		// Fixed walk order: threshold, embedding weight, dropoff ratio.
		for axis := 0; axis < 3; axis++ {
			improved, err := s.walkAxis(ctx, eval, &params, &bestScore, axis, step)
			if err != nil {
				return nil, err
			}
			improvedAny = improvedAny || improved
		}

		if !improvedAny {
			step /= 2
		}
		emit(false, "")
	}

	caseResults := make([]domain.OptimizationCaseResult, 0, len(testCases))
	for _, tc := range testCases {
		r, err := eval.scoreCase(ctx, tc, params)
		if err != nil {
			return nil, err
		}
		caseResults = append(caseResults, r)
	}

	result := &domain.OptimizationResult{
		BestParams:      params,
		Score:           bestScore,
		MaxScore:        maxScore,
		CaseResults:     caseResults,
		EvaluatedPoints: len(eval.cache),
		Iterations:      iterations,
	}
	emit(true, fmt.Sprintf("converged at score %.1f of %.1f", bestScore, maxScore))
	s.log.Info("optimization finished",
		"score", bestScore,
		"max_score", maxScore,
		"iterations", iterations,
		"evaluated_points", len(eval.cache),
		"threshold", params.Threshold,
		"embedding_weight", params.EmbeddingWeight,
		"dropoff_ratio", params.ScoreDropoffRatio,
	)
	return result, nil
}

// walkAxis improves one parameter while holding the other two fixed: try
// +step, then -step, then keep stepping in the improving direction until
// movement becomes negligible or the score stops improving.
func (s *skillOptimizerService) walkAxis(
	ctx context.Context,
	eval *evaluator,
	params *domain.HybridMatchOptions,
	bestScore *float64,
	axis int,
	step float64,
) (bool, error) {
	improved := false
	for _, dir := range []float64{step, -step} {
		cand := shiftAxis(*params, axis, dir)
		if math.Abs(axisValue(cand, axis)-axisValue(*params, axis)) < minMovement {
			continue
		}
		score, err := eval.score(ctx, cand)
		if err != nil {
			return improved, err
		}
		if score <= *bestScore {
			continue
		}

		*params = cand
		*bestScore = score
		improved = true

		// Keep going the same way while it keeps paying off.
		for {
			next := shiftAxis(*params, axis, dir)
			if math.Abs(axisValue(next, axis)-axisValue(*params, axis)) < minMovement {
				break
			}
			nextScore, err := eval.score(ctx, next)
			if err != nil {
				return improved, err
			}
			if nextScore <= *bestScore {
				break
			}
			*params = next
			*bestScore = nextScore
		}
		break
	}
	return improved, nil
}

func pointKey(p domain.HybridMatchOptions) string {
	return fmt.Sprintf("%.4f|%.4f|%.4f", p.Threshold, p.EmbeddingWeight, p.ScoreDropoffRatio)
}

func clamp(v float64) float64 {
	return round4(math.Min(paramMax, math.Max(paramMin, v)))
}

func clampPoint(p domain.HybridMatchOptions) domain.HybridMatchOptions {
	p.Threshold = clamp(p.Threshold)
	p.EmbeddingWeight = clamp(p.EmbeddingWeight)
	p.ScoreDropoffRatio = clamp(p.ScoreDropoffRatio)
	return p
}

// round4 keeps cache keys stable across float drift.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func axisValue(p domain.HybridMatchOptions, axis int) float64 {
	switch axis {
	case 0:
		return p.Threshold
	case 1:
		return p.EmbeddingWeight
	default:
		return p.ScoreDropoffRatio
	}
}

func shiftAxis(p domain.HybridMatchOptions, axis int, delta float64) domain.HybridMatchOptions {
	switch axis {
	case 0:
		p.Threshold = clamp(p.Threshold + delta)
	case 1:
		p.EmbeddingWeight = clamp(p.EmbeddingWeight + delta)
	default:
		p.ScoreDropoffRatio = clamp(p.ScoreDropoffRatio + delta)
	}
	return p
}
