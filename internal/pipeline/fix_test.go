package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testmend/internal/config"
	"testmend/internal/runner"
	"testmend/internal/storage"
)

type cannedClient struct {
	response   string
	err        error
	calls      int
	lastUser   string
	onGenerate func()
}

func (c *cannedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.calls++
	c.lastUser = userPrompt
	if c.onGenerate != nil {
		c.onGenerate()
	}
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

// stubRunner replays scripted reports, then keeps answering with the last
// one.
type stubRunner struct {
	reports []*runner.RunReport
	calls   int
}

func (s *stubRunner) Run(ctx context.Context) (*runner.RunReport, error) {
	i := s.calls
	if i >= len(s.reports) {
		i = len(s.reports) - 1
	}
	s.calls++
	return s.reports[i], nil
}

const appSource = `def scale(x):
    if x < 0:
        return 0
    return x * 2


def describe(x):
    return f"value {x}"
`

const brokenTest = `from app import scale


def test_scale():
    assert scale(2) == 5
`

func writeRepairProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte(appSource), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tests"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tests", "test_app.py"), []byte(brokenTest), 0o644))
	return root
}

func newRepair(t *testing.T, root string, stub *stubRunner, client *cannedClient) *Repair {
	t.Helper()
	cfg := config.Default()
	cfg.Project.Root = root
	p := NewRepair(stub, client, cfg)
	p.ReportPath = filepath.Join(root, "fix_report.json")
	return p
}

func failingReport(failure runner.TestFailure) *runner.RunReport {
	return &runner.RunReport{
		ExitCode:  1,
		Collected: 2,
		Passed:    1,
		Failures:  []runner.TestFailure{failure},
	}
}

func cleanReport() *runner.RunReport {
	return &runner.RunReport{Collected: 2, Passed: 2}
}

func nameErrorFailure() runner.TestFailure {
	return runner.TestFailure{
		NodeID:        "tests/test_app.py::test_scale",
		TestFile:      "tests/test_app.py",
		TestName:      "test_scale",
		ExceptionKind: "NameError",
		Message:       "name 'helperx' is not defined",
		RawTrace:      "tests/test_app.py:5: NameError: name 'helperx' is not defined",
		LineNumber:    5,
	}
}

func runtimeFailure() runner.TestFailure {
	return runner.TestFailure{
		NodeID:        "tests/test_app.py::test_scale",
		TestFile:      "tests/test_app.py",
		TestName:      "test_scale",
		ExceptionKind: "RuntimeError",
		Message:       "boom",
		RawTrace:      "app.py:3: RuntimeError: boom",
	}
}

func TestRepairRun(t *testing.T) {
	ctx := context.Background()

	t.Run("rule-classified mistake is patched and the loop stops clean", func(t *testing.T) {
		root := writeRepairProject(t)
		stub := &stubRunner{reports: []*runner.RunReport{
			failingReport(nameErrorFailure()),
			cleanReport(),
		}}
		client := &cannedClient{response: "```python\ndef test_scale():\n    assert scale(2) == 4\n```"}

		p := newRepair(t, root, stub, client)
		store, err := storage.NewHistoryStore(filepath.Join(root, ".testmend", "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		p.WithHistory(store)

		rep, err := p.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, rep.Iterations)
		assert.Equal(t, 1, rep.TotalFailures)
		assert.Equal(t, 1, rep.TestMistakes)
		assert.Equal(t, 1, rep.SuccessfulFixes)
		assert.Equal(t, 0, rep.FailedFixes)
		assert.Empty(t, rep.Aborted)

		// only the fix conversation hit the model; the rules classified
		assert.Equal(t, 1, client.calls)
		assert.Equal(t, 2, stub.calls)

		patched, err := os.ReadFile(filepath.Join(root, "tests", "test_app.py"))
		require.NoError(t, err)
		assert.Contains(t, string(patched), "assert scale(2) == 4")
		assert.FileExists(t, p.ReportPath)

		runs, err := store.Runs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, storage.RunKindFix, runs[0].Kind)
		assert.Equal(t, 2, runs[0].Iterations)
		assert.Equal(t, "1 failures: 1 fixed, 0 defects", runs[0].Headline)

		fixes, err := store.FixesForRun(ctx, runs[0].ID)
		require.NoError(t, err)
		require.Len(t, fixes, 1)
		assert.True(t, fixes[0].FixSuccessful)
	})

	t.Run("model suggested fix is applied without a second call", func(t *testing.T) {
		root := writeRepairProject(t)
		stub := &stubRunner{reports: []*runner.RunReport{
			failingReport(runtimeFailure()),
			cleanReport(),
		}}
		client := &cannedClient{response: `{"classification": "test_mistake", "reason": "assertion drift", "fixed_code": "def test_scale():\n    assert scale(2) == 4", "confidence": 0.9}`}

		rep, err := newRepair(t, root, stub, client).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, client.calls)
		assert.Equal(t, 1, rep.SuccessfulFixes)

		patched, err := os.ReadFile(filepath.Join(root, "tests", "test_app.py"))
		require.NoError(t, err)
		assert.Contains(t, string(patched), "assert scale(2) == 4")
	})

	t.Run("code defects are recorded verbatim and never patched", func(t *testing.T) {
		root := writeRepairProject(t)
		stub := &stubRunner{reports: []*runner.RunReport{
			failingReport(runtimeFailure()),
			cleanReport(),
		}}
		client := &cannedClient{response: `{"classification": "code_defect", "reason": "scale drops negatives", "confidence": 0.8}`}

		rep, err := newRepair(t, root, stub, client).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, rep.CodeDefects)
		assert.Equal(t, 0, rep.SuccessfulFixes)
		require.Len(t, rep.CodeDefectFailures, 1)
		assert.Equal(t, "RuntimeError", rep.CodeDefectFailures[0].ExceptionKind)
		require.NotEmpty(t, rep.FixHistory)
		assert.False(t, rep.FixHistory[0].FixAttempted)

		unchanged, err := os.ReadFile(filepath.Join(root, "tests", "test_app.py"))
		require.NoError(t, err)
		assert.Equal(t, brokenTest, string(unchanged))
	})

	t.Run("non-fixable run aborts verbatim without classification", func(t *testing.T) {
		root := writeRepairProject(t)
		stub := &stubRunner{reports: []*runner.RunReport{{
			ExitCode:       1,
			CollectorError: "ModuleNotFoundError: No module named 'flask'",
		}}}
		client := &cannedClient{response: "should never be called"}

		rep, err := newRepair(t, root, stub, client).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, "ModuleNotFoundError: No module named 'flask'", rep.Aborted)
		assert.Equal(t, 0, rep.Iterations)
		assert.Equal(t, 0, client.calls)
		assert.Equal(t, 1, stub.calls)

		saved, err := os.ReadFile(filepath.Join(root, "fix_report.json"))
		require.NoError(t, err)
		assert.Contains(t, string(saved), `"aborted"`)
	})

	t.Run("no progress after the first round stops the loop", func(t *testing.T) {
		root := writeRepairProject(t)
		failing := failingReport(runtimeFailure())
		stub := &stubRunner{reports: []*runner.RunReport{failing, failing, failing}}
		client := &cannedClient{response: "no idea, sorry"}

		rep, err := newRepair(t, root, stub, client).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, rep.Iterations)
		assert.Equal(t, 2, stub.calls)
		assert.Equal(t, 1, rep.TotalFailures)
		assert.Equal(t, 0, rep.TestMistakes)
		assert.Equal(t, 0, rep.SuccessfulFixes)
	})

	t.Run("loop never exceeds the iteration cap even with progress", func(t *testing.T) {
		root := writeRepairProject(t)
		stub := &stubRunner{reports: []*runner.RunReport{failingReport(runtimeFailure())}}
		client := &cannedClient{response: `{"classification": "test_mistake", "reason": "assertion drift", "fixed_code": "def test_scale():\n    assert scale(2) == 4", "confidence": 0.9}`}

		p := newRepair(t, root, stub, client)
		p.MaxIterations = 2

		rep, err := p.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, rep.Iterations)
		assert.Equal(t, 2, stub.calls)
		assert.Equal(t, 1, rep.SuccessfulFixes, "the same test dedups to one fixed entry")
	})
}
