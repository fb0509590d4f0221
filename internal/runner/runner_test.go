package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestReport(t *testing.T) *RunReport {
	t.Helper()

	report, err := ParseReport(filepath.Join("testdata", "pytest_report.json"))
	require.NoError(t, err)
	return report
}

func TestParseReport(t *testing.T) {
	report := loadTestReport(t)

	t.Run("counts", func(t *testing.T) {
		assert.Equal(t, 1, report.ExitCode)
		assert.Equal(t, 5, report.Collected)
		assert.Equal(t, 3, report.Passed)
		require.Len(t, report.Failures, 2)
	})

	t.Run("failed call", func(t *testing.T) {
		f := report.Failures[0]
		assert.Equal(t, "tests/test_accounts.py::test_overdraft", f.NodeID)
		assert.Equal(t, "tests/test_accounts.py", f.TestFile)
		assert.Equal(t, "test_overdraft", f.TestName)
		assert.Equal(t, "ValueError", f.ExceptionKind)
		assert.Equal(t, "balance may not go negative", f.Message)
		assert.Contains(t, f.RawTrace, "tests/test_accounts.py:12:")
		assert.Equal(t, 12, f.LineNumber)
	})

	t.Run("setup error keeps parametrize suffix", func(t *testing.T) {
		f := report.Failures[1]
		assert.Equal(t, "tests/test_accounts.py", f.TestFile)
		assert.Equal(t, "test_fee[premium]", f.TestName)
		assert.Equal(t, "Error", f.ExceptionKind)
		assert.Equal(t, "fixture 'premium_account' not found", f.Message)
		assert.Contains(t, f.RawTrace, "available fixtures")
		// No frame in the trace: falls back to the recorded definition line.
		assert.Equal(t, 18, f.LineNumber)
	})

	t.Run("fixable", func(t *testing.T) {
		reason, bad := report.NonFixable()
		assert.False(t, bad)
		assert.Empty(t, reason)
	})
}

func TestParseReportBytes(t *testing.T) {
	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseReportBytes([]byte("<html>not a report</html>"))
		require.Error(t, err)
	})

	t.Run("bare file node id", func(t *testing.T) {
		report, err := ParseReportBytes([]byte(`{
			"exitcode": 1,
			"summary": {"collected": 1, "total": 1},
			"tests": [{
				"nodeid": "tests/test_smoke.py",
				"outcome": "failed",
				"call": {"outcome": "failed", "longrepr": "SystemError: boom"}
			}]
		}`))
		require.NoError(t, err)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, "tests/test_smoke.py", report.Failures[0].TestFile)
		assert.Empty(t, report.Failures[0].TestName)
		assert.Equal(t, "SystemError", report.Failures[0].ExceptionKind)
	})

	t.Run("line number from prose", func(t *testing.T) {
		report, err := ParseReportBytes([]byte(`{
			"exitcode": 1,
			"summary": {"collected": 1, "total": 1},
			"tests": [{
				"nodeid": "tests/test_syntax.py::test_parse",
				"outcome": "failed",
				"call": {
					"outcome": "failed",
					"longrepr": "E   SyntaxError: invalid syntax (helper.py, line 7)"
				}
			}]
		}`))
		require.NoError(t, err)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, 7, report.Failures[0].LineNumber)
	})
}

func TestNonFixable(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		reason string
	}{
		{
			name:   "usage error exit code",
			doc:    `{"exitcode": 4, "summary": {"collected": 3, "total": 3}, "tests": []}`,
			reason: "runner usage error (exit code 4)",
		},
		{
			name:   "internal error exit code",
			doc:    `{"exitcode": 3, "summary": {"collected": 3, "total": 3}, "tests": []}`,
			reason: "runner internal error (exit code 3)",
		},
		{
			name: "collector error",
			doc: `{
				"exitcode": 1,
				"summary": {"collected": 2, "total": 2},
				"collectors": [
					{"nodeid": "", "outcome": "passed"},
					{
						"nodeid": "tests/test_broken.py",
						"outcome": "error",
						"longrepr": "ModuleNotFoundError: No module named 'ghost'\nfull traceback here"
					}
				],
				"tests": []
			}`,
			reason: "collecting tests/test_broken.py: ModuleNotFoundError: No module named 'ghost'",
		},
		{
			name:   "nothing collected",
			doc:    `{"exitcode": 5, "summary": {}, "tests": []}`,
			reason: "no tests collected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ParseReportBytes([]byte(tt.doc))
			require.NoError(t, err)

			reason, bad := report.NonFixable()
			assert.True(t, bad)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestFileRunner(t *testing.T) {
	t.Run("reads report from disk", func(t *testing.T) {
		r := &FileRunner{Path: filepath.Join("testdata", "pytest_report.json")}
		report, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, report.Collected)
	})

	t.Run("missing file", func(t *testing.T) {
		r := &FileRunner{Path: filepath.Join(t.TempDir(), "absent.json")}
		_, err := r.Run(context.Background())
		require.Error(t, err)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := &FileRunner{Path: filepath.Join("testdata", "pytest_report.json")}
		_, err := r.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}
