package domain

// MatchableEntity is the capability the hybrid matcher is generic over.
// Concrete wrappers (lights, fans, climate, players) live with their
// integrations; the matcher never names them.
type MatchableEntity interface {
	// EntityID is the stable identifier reported in match results.
	EntityID() string
	// MatchableName is the display name string-similarity runs against.
	MatchableName() string
	// NameEmbedding is the pre-computed embedding for MatchableName.
	// Nil when no embedding provider was configured at cache-build time.
	NameEmbedding() []float32
	// PhoneticKeys are the pre-built phonetic codes for MatchableName,
	// computed once at cache-build time and reused across searches.
	PhoneticKeys() []string
}

// HybridMatchOptions tunes the hybrid matcher. The three fields are the
// parameters the optimizer walks.
type HybridMatchOptions struct {
	// Threshold is the minimum accepted hybrid score.
	Threshold float64 `json:"threshold"`
	// EmbeddingWeight is the weight on the embedding-similarity term;
	// string similarity gets 1 - EmbeddingWeight.
	EmbeddingWeight float64 `json:"embedding_weight"`
	// ScoreDropoffRatio keeps only results within this fraction of the
	// top score. Zero disables the filter.
	ScoreDropoffRatio float64 `json:"score_dropoff_ratio"`
}

// DefaultHybridMatchOptions returns the production-tuned defaults.
func DefaultHybridMatchOptions() HybridMatchOptions {
	return HybridMatchOptions{
		Threshold:         0.55,
		EmbeddingWeight:   0.4,
		ScoreDropoffRatio: 0.80,
	}
}

// EntityMatchResult is one scored candidate, ordered by descending
// HybridScore. EmbeddingSimilarity is diagnostic only.
type EntityMatchResult[T MatchableEntity] struct {
	Entity              T       `json:"entity"`
	HybridScore         float64 `json:"hybrid_score"`
	EmbeddingSimilarity float64 `json:"embedding_similarity"`
}
