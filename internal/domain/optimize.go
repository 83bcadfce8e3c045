package domain

// OptimizationTestCase is one labeled example for matcher calibration.
type OptimizationTestCase struct {
	SearchTerm       string `json:"search_term"`
	ExpectedEntityID string `json:"expected_entity_id"`
	// MaxResults is the acceptable result-count ceiling; 0 means the
	// default of 3.
	MaxResults int `json:"max_results,omitempty"`
	// Variant labels transcription variants of the same target, e.g.
	// "typo" or "phonetic".
	Variant string `json:"variant,omitempty"`
}

// OptimizationCaseResult records how one test case fared at the best
// parameter point.
type OptimizationCaseResult struct {
	Case             OptimizationTestCase `json:"case"`
	Found            bool                 `json:"found"`
	MatchCount       int                  `json:"match_count"`
	CountWithinLimit bool                 `json:"count_within_limit"`
	CaseScore        float64              `json:"case_score"`
}

// OptimizationResult is the outcome of one coordinate-descent run.
type OptimizationResult struct {
	BestParams      HybridMatchOptions       `json:"best_params"`
	Score           float64                  `json:"score"`
	MaxScore        float64                  `json:"max_score"`
	CaseResults     []OptimizationCaseResult `json:"case_results"`
	EvaluatedPoints int                      `json:"evaluated_points"`
	Iterations      int                      `json:"iterations"`
}

// IsPerfect reports whether every case was found with an acceptable
// result count.
func (r OptimizationResult) IsPerfect() bool {
	return r.MaxScore > 0 && r.Score >= r.MaxScore
}

// OptimizationProgress is a transient snapshot emitted during a run.
type OptimizationProgress struct {
	Iteration       int                `json:"iteration"`
	Score           float64            `json:"score"`
	BestParams      HybridMatchOptions `json:"best_params"`
	StepSize        float64            `json:"step_size"`
	EvaluatedPoints int                `json:"evaluated_points"`
	Completed       bool               `json:"completed"`
	Status          string             `json:"status,omitempty"`
}
