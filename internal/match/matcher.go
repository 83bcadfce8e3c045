package match

import (
	"context"
	"errors"
	"sort"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
)

// EmbeddingGenerator produces one embedding vector for a search term.
// A nil generator disables the embedding term of the hybrid score.
type EmbeddingGenerator interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// FindMatches runs the hybrid matcher over candidates: one query
// embedding and one query phonetic-key set are computed up front and
// reused for every candidate, each candidate is scored with HybridScore
// against its pre-built keys, results below opts.Threshold are dropped,
// survivors are sorted by descending score (stable, input order breaks
// ties), and when opts.ScoreDropoffRatio > 0 everything below
// topScore*ratio is discarded.
//
// "No match" is an empty result, not an error; the only error returned is
// context cancellation.
func FindMatches[T domain.MatchableEntity](
	ctx context.Context,
	log *logger.Logger,
	searchTerm string,
	candidates []T,
	embedder EmbeddingGenerator,
	opts domain.HybridMatchOptions,
) ([]domain.EntityMatchResult[T], error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var queryEmbedding []float32
	if embedder != nil {
		emb, err := embedder.GenerateEmbedding(ctx, searchTerm)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case err != nil:
			if log != nil {
				log.Warn("search term embedding failed, string matching only",
					"search_term", searchTerm,
					"error", err,
				)
			}
		default:
			queryEmbedding = emb
		}
	}
	queryKeys := BuildPhoneticKeys(searchTerm)

	results := make([]domain.EntityMatchResult[T], 0, len(candidates))
	for _, cand := range candidates {
		embeddingSim := CosineSimilarity(queryEmbedding, cand.NameEmbedding())
		score := HybridScore(embeddingSim, searchTerm, cand.MatchableName(),
			opts.EmbeddingWeight, queryKeys, cand.PhoneticKeys())
		if score < opts.Threshold {
			continue
		}
		results = append(results, domain.EntityMatchResult[T]{
			Entity:              cand,
			HybridScore:         score,
			EmbeddingSimilarity: embeddingSim,
		})
	}
	if len(results) == 0 {
		if log != nil {
			log.Debug("no candidates above threshold",
				"search_term", searchTerm,
				"candidates", len(candidates),
				"threshold", opts.Threshold,
			)
		}
		return nil, nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].HybridScore > results[j].HybridScore
	})

	if len(results) > 1 && opts.ScoreDropoffRatio > 0 {
		cutoff := results[0].HybridScore * opts.ScoreDropoffRatio
		kept := results[:1]
		for _, r := range results[1:] {
			if r.HybridScore >= cutoff {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return results, nil
}
