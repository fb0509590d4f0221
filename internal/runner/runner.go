package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// TestFailure is one failed or errored test lifted out of a run report.
// TestName keeps any parametrize suffix ("test_x[case]"); consumers that
// need the bare definition name strip it themselves.
type TestFailure struct {
	NodeID        string `json:"node_id"`
	TestFile      string `json:"test_file"`
	TestName      string `json:"test_name"`
	ExceptionKind string `json:"exception_kind"`
	Message       string `json:"message"`
	RawTrace      string `json:"raw_trace"`
	LineNumber    int    `json:"line_number,omitempty"`
}

// RunReport summarizes one suite run: exit code, counts, the first
// collection error if any, and the failures in document order.
type RunReport struct {
	ExitCode       int           `json:"exit_code"`
	Collected      int           `json:"collected"`
	Passed         int           `json:"passed"`
	CollectorError string        `json:"collector_error,omitempty"`
	Failures       []TestFailure `json:"failures"`
}

// Runner produces a RunReport for the project's suite. Implementations
// wrap whatever actually executes the tests; this package only ships the
// report parser and a file-backed reader.
type Runner interface {
	Run(ctx context.Context) (*RunReport, error)
}

// FileRunner reads a report document written by an external harness.
type FileRunner struct {
	Path string
}

func (f *FileRunner) Run(ctx context.Context) (*RunReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseReport(f.Path)
}

// Document shape of the pytest JSON report plugin. Failure text nests in
// the phase that produced it (setup errors carry it under "setup").
type reportDocument struct {
	ExitCode   int               `json:"exitcode"`
	Summary    reportSummary     `json:"summary"`
	Collectors []reportCollector `json:"collectors"`
	Tests      []reportTest      `json:"tests"`
}

type reportSummary struct {
	Collected int `json:"collected"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Error     int `json:"error"`
	Total     int `json:"total"`
}

type reportCollector struct {
	NodeID   string `json:"nodeid"`
	Outcome  string `json:"outcome"`
	Longrepr string `json:"longrepr"`
}

type reportTest struct {
	NodeID   string       `json:"nodeid"`
	Outcome  string       `json:"outcome"`
	Lineno   int          `json:"lineno"`
	Setup    *reportPhase `json:"setup"`
	Call     *reportPhase `json:"call"`
	Teardown *reportPhase `json:"teardown"`
}

type reportPhase struct {
	Outcome  string `json:"outcome"`
	Longrepr string `json:"longrepr"`
}

// ParseReport reads and decodes a run report file.
func ParseReport(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run report %s: %w", path, err)
	}
	report, err := ParseReportBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing run report %s: %w", path, err)
	}
	return report, nil
}

// ParseReportBytes decodes a run report document from memory.
func ParseReportBytes(data []byte) (*RunReport, error) {
	var doc reportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding run report: %w", err)
	}

	report := &RunReport{
		ExitCode:  doc.ExitCode,
		Collected: doc.Summary.Collected,
		Passed:    doc.Summary.Passed,
	}
	for _, c := range doc.Collectors {
		if c.Outcome == "error" && report.CollectorError == "" {
			report.CollectorError = collectorReason(c)
		}
	}
	for _, t := range doc.Tests {
		if t.Outcome != "failed" && t.Outcome != "error" {
			continue
		}
		report.Failures = append(report.Failures, newFailure(t))
	}
	return report, nil
}

// NonFixable reports whether the run broke before or instead of running
// tests, with a short reason. Such runs are surfaced verbatim and never
// classified.
func (r *RunReport) NonFixable() (string, bool) {
	switch r.ExitCode {
	case 2:
		return "run interrupted (exit code 2)", true
	case 3:
		return "runner internal error (exit code 3)", true
	case 4:
		return "runner usage error (exit code 4)", true
	}
	if r.CollectorError != "" {
		return r.CollectorError, true
	}
	if r.Collected == 0 {
		return "no tests collected", true
	}
	return "", false
}

func collectorReason(c reportCollector) string {
	line := firstLine(c.Longrepr)
	if line == "" {
		line = "collection error"
	}
	if c.NodeID == "" {
		return line
	}
	return fmt.Sprintf("collecting %s: %s", c.NodeID, line)
}

func newFailure(t reportTest) TestFailure {
	file, name := splitNodeID(t.NodeID)
	trace := phaseLongrepr(t)
	kind, message := splitException(trace)
	f := TestFailure{
		NodeID:        t.NodeID,
		TestFile:      file,
		TestName:      name,
		ExceptionKind: kind,
		Message:       message,
		RawTrace:      trace,
		LineNumber:    extractLineNumber(trace, file),
	}
	if f.LineNumber == 0 && t.Lineno > 0 {
		// The document records the definition line zero-based.
		f.LineNumber = t.Lineno + 1
	}
	return f
}

// splitNodeID turns "tests/test_x.py::TestA::test_b" into the test file
// and the final test name. A bare file node id yields an empty name.
func splitNodeID(nodeID string) (string, string) {
	parts := strings.Split(nodeID, "::")
	if len(parts) < 2 {
		return nodeID, ""
	}
	return parts[0], parts[len(parts)-1]
}

func phaseLongrepr(t reportTest) string {
	for _, p := range []*reportPhase{t.Call, t.Setup, t.Teardown} {
		if p != nil && p.Longrepr != "" {
			return p.Longrepr
		}
	}
	return ""
}

// splitException takes the first line of the failure text apart at the
// first colon. Lines without one keep the whole line as the message under
// the generic kind "Error".
func splitException(trace string) (string, string) {
	line := firstLine(trace)
	if i := strings.Index(line, ":"); i >= 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		return "Error", ""
	}
	return "Error", line
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

var genericLinePattern = regexp.MustCompile(`(?i)line (\d+)`)

// extractLineNumber pulls the failing line out of the trace text, trying
// the "<file>:<line>:" frame form before the generic "line N" wording.
func extractLineNumber(trace, testFile string) int {
	if trace == "" {
		return 0
	}
	if testFile != "" {
		framePattern, err := regexp.Compile(regexp.QuoteMeta(testFile) + `:(\d+):`)
		if err == nil {
			if m := framePattern.FindStringSubmatch(trace); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return n
				}
			}
		}
	}
	if m := genericLinePattern.FindStringSubmatch(trace); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}
