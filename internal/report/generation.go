package report

import (
	"math"
	"time"
)

// IterationMetrics records one pass of the generation loop.
type IterationMetrics struct {
	Iteration       int     `json:"iteration"`
	DurationSeconds float64 `json:"duration_seconds"`
	InitialCoverage float64 `json:"initial_coverage"`
	FinalCoverage   float64 `json:"final_coverage"`
	CoverageGain    float64 `json:"coverage_gain"`
	TestsGenerated  int     `json:"tests_generated"`
	GapsAnalyzed    int     `json:"gaps_analyzed"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
}

// GenerationConfig captures the settings a generation run started with.
type GenerationConfig struct {
	ProjectRoot    string  `json:"project_root"`
	TestsDir       string  `json:"tests_dir"`
	MaxIterations  int     `json:"max_iterations"`
	TargetCoverage float64 `json:"target_coverage"`
}

type GenerationSummary struct {
	TotalIterations   int     `json:"total_iterations"`
	InitialCoverage   float64 `json:"initial_coverage"`
	FinalCoverage     float64 `json:"final_coverage"`
	TotalCoverageGain float64 `json:"total_coverage_gain"`
	TargetAchieved    bool    `json:"target_achieved"`
}

// GenerationReport is the gap loop's counterpart to IterationReport.
type GenerationReport struct {
	GeneratedAt string             `json:"generated_at"`
	Config      GenerationConfig   `json:"configuration"`
	Summary     GenerationSummary  `json:"summary"`
	Iterations  []IterationMetrics `json:"iterations"`
}

func NewGenerationReport(cfg GenerationConfig) *GenerationReport {
	return &GenerationReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Config:      cfg,
		Iterations:  []IterationMetrics{},
	}
}

func (r *GenerationReport) Add(m IterationMetrics) {
	r.Iterations = append(r.Iterations, m)
}

// Finalize derives the summary. Initial coverage comes from the first
// iteration; final coverage is the last successfully measured value.
func (r *GenerationReport) Finalize() {
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	s := GenerationSummary{TotalIterations: len(r.Iterations)}
	if len(r.Iterations) > 0 {
		s.InitialCoverage = round2(r.Iterations[0].InitialCoverage)
		final := r.Iterations[0].InitialCoverage
		for _, m := range r.Iterations {
			if m.FinalCoverage > 0 {
				final = m.FinalCoverage
			}
		}
		s.FinalCoverage = round2(final)
		s.TotalCoverageGain = round2(s.FinalCoverage - s.InitialCoverage)
		s.TargetAchieved = s.FinalCoverage >= r.Config.TargetCoverage
	}
	r.Summary = s
}

func (r *GenerationReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	return writeJSON(path, r)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
