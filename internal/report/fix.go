package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"testmend/internal/runner"
)

// FixEntry is one classify-and-fix attempt. Retries of the same test in
// later iterations append new entries rather than rewriting old ones.
type FixEntry struct {
	TestFile       string `json:"test_file"`
	TestName       string `json:"test_name"`
	Classification string `json:"classification"`
	FixAttempted   bool   `json:"fix_attempted"`
	FixSuccessful  bool   `json:"fix_successful"`
	Reason         string `json:"reason"`
	Iteration      int    `json:"iteration"`
}

// IterationReport accumulates the repair loop's outcomes and is written
// once at the end of the run. The counters summarize unique tests; the
// history keeps every attempt in processing order.
type IterationReport struct {
	Iterations      int        `json:"iterations"`
	TotalFailures   int        `json:"total_failures"`
	TestMistakes    int        `json:"test_mistakes"`
	CodeDefects     int        `json:"code_defects"`
	SuccessfulFixes int        `json:"successful_fixes"`
	FailedFixes     int        `json:"failed_fixes"`
	FixHistory      []FixEntry `json:"fix_history"`

	// Failures classified as code defects, kept verbatim for human review.
	CodeDefectFailures []runner.TestFailure `json:"code_defect_failures,omitempty"`

	// Set when a run could not be processed at all (collection error,
	// runner crash, nothing collected).
	Aborted string `json:"aborted,omitempty"`
}

func NewIterationReport() *IterationReport {
	return &IterationReport{FixHistory: []FixEntry{}}
}

func (r *IterationReport) Record(e FixEntry) {
	r.FixHistory = append(r.FixHistory, e)
}

func (r *IterationReport) RecordCodeDefect(f runner.TestFailure) {
	r.CodeDefectFailures = append(r.CodeDefectFailures, f)
}

// Finalize recomputes the counters from the history. A test retried across
// iterations counts once, by its latest entry.
func (r *IterationReport) Finalize() {
	type key struct{ file, name string }
	latest := make(map[key]FixEntry)
	for _, e := range r.FixHistory {
		latest[key{e.TestFile, e.TestName}] = e
	}

	mistakes, defects, fixed := 0, 0, 0
	for _, e := range latest {
		switch e.Classification {
		case "test_mistake":
			mistakes++
			if e.FixSuccessful {
				fixed++
			}
		case "code_defect":
			defects++
		}
	}

	r.TotalFailures = len(latest)
	r.TestMistakes = mistakes
	r.CodeDefects = defects
	r.SuccessfulFixes = fixed
	r.FailedFixes = mistakes - fixed
}

func (r *IterationReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	return writeJSON(path, r)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
