package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testmend/internal/report"
	"testmend/internal/runner"
)

func newStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveFixRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rep := report.NewIterationReport()
	rep.Record(report.FixEntry{
		TestFile: "tests/test_cart.py", TestName: "test_total",
		Classification: "test_mistake", FixAttempted: true, FixSuccessful: false,
		Reason: "first try", Iteration: 1,
	})
	rep.Record(report.FixEntry{
		TestFile: "tests/test_cart.py", TestName: "test_total",
		Classification: "test_mistake", FixAttempted: true, FixSuccessful: true,
		Reason: "second try", Iteration: 2,
	})
	rep.Finalize()

	started := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	run := Run{
		ID:          NewRunID(),
		ProjectRoot: "/srv/app",
		StartedAt:   started,
		FinishedAt:  started.Add(90 * time.Second),
		Iterations:  2,
		Headline:    "1 failure: 1 fixed",
	}
	failures := []FailureRow{{
		Failure: runner.TestFailure{
			TestFile:      "tests/test_cart.py",
			TestName:      "test_total",
			ExceptionKind: "NameError",
			Message:       "name 'total' is not defined",
			LineNumber:    12,
		},
		Classification: "test_mistake",
	}}

	require.NoError(t, s.SaveFixRun(ctx, run, rep, failures))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, RunKindFix, runs[0].Kind)
	assert.Equal(t, "/srv/app", runs[0].ProjectRoot)
	assert.Equal(t, 2, runs[0].Iterations)
	assert.Equal(t, "1 failure: 1 fixed", runs[0].Headline)
	assert.True(t, runs[0].StartedAt.Equal(started))

	fixes, err := s.FixesForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.Equal(t, "first try", fixes[0].Reason)
	assert.Equal(t, 1, fixes[0].Iteration)
	assert.True(t, fixes[1].FixSuccessful)

	doc, err := s.Report(ctx, run.ID)
	require.NoError(t, err)
	var loaded report.IterationReport
	require.NoError(t, json.Unmarshal(doc, &loaded))
	assert.Equal(t, 1, loaded.TotalFailures)
	assert.Equal(t, 1, loaded.SuccessfulFixes)
}

func TestSaveFixRunIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rep := report.NewIterationReport()
	rep.Record(report.FixEntry{
		TestFile: "tests/test_a.py", TestName: "test_x",
		Classification: "test_mistake", FixAttempted: true, FixSuccessful: false,
		Reason: "stale", Iteration: 1,
	})

	run := Run{ID: "run-1", StartedAt: time.Now(), FinishedAt: time.Now()}
	require.NoError(t, s.SaveFixRun(ctx, run, rep, nil))

	rep.FixHistory[0].Reason = "refreshed"
	rep.FixHistory[0].FixSuccessful = true
	run.Headline = "1 failure: 1 fixed"
	require.NoError(t, s.SaveFixRun(ctx, run, rep, nil))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "same run id should upsert, not duplicate")
	assert.Equal(t, "1 failure: 1 fixed", runs[0].Headline)

	fixes, err := s.FixesForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "refreshed", fixes[0].Reason)
	assert.True(t, fixes[0].FixSuccessful)
}

func TestSaveGenerationRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rep := report.NewGenerationReport(report.GenerationConfig{TargetCoverage: 90})
	rep.Add(report.IterationMetrics{Iteration: 1, InitialCoverage: 60, FinalCoverage: 74, TestsGenerated: 9, Success: true})

	run := Run{
		ID:         NewRunID(),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Iterations: 1,
		Headline:   "coverage 60.00% -> 74.00%",
	}
	gaps := []GapRow{
		{Iteration: 1, File: "app/billing.py", Symbol: "apply_discount", StartLine: 10, EndLine: 24, UncoveredLines: 3},
		{Iteration: 1, File: "app/billing.py", Symbol: "Invoice", StartLine: 30, EndLine: 61, UncoveredLines: 11},
	}

	require.NoError(t, s.SaveGenerationRun(ctx, run, rep, gaps))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunKindGen, runs[0].Kind)

	stored, err := s.GapsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "apply_discount", stored[0].Symbol)
	assert.Equal(t, 11, stored[1].UncoveredLines)
}

func TestRunsOrderAndLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := Run{
			ID:        NewRunID(),
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Headline:  []string{"oldest", "middle", "newest"}[i],
		}
		require.NoError(t, s.SaveFixRun(ctx, run, report.NewIterationReport(), nil))
	}

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newest", runs[0].Headline)
	assert.Equal(t, "middle", runs[1].Headline)
}
