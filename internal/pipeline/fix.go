package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"testmend/internal/classifier"
	"testmend/internal/config"
	"testmend/internal/crawler"
	"testmend/internal/extractor"
	"testmend/internal/fixer"
	"testmend/internal/graph"
	"testmend/internal/index"
	"testmend/internal/llm"
	"testmend/internal/patch"
	"testmend/internal/report"
	"testmend/internal/resolver"
	"testmend/internal/retrieval"
	"testmend/internal/runner"
	"testmend/internal/storage"
)

// Repair drives the classify-and-fix loop: read the latest run report,
// triage every failure, patch the test mistakes, repeat until the suite
// is clean or the iteration budget runs out.
type Repair struct {
	Runner  runner.Runner
	Client  llm.Client
	History *storage.HistoryStore

	Root           string
	ReportPath     string
	MaxIterations  int
	MaxFixAttempts int
}

func NewRepair(r runner.Runner, client llm.Client, cfg *config.Config) *Repair {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Repair{
		Runner:         r,
		Client:         client,
		Root:           cfg.Project.Root,
		ReportPath:     "fix_report.json",
		MaxIterations:  cfg.Fix.MaxIterations,
		MaxFixAttempts: cfg.Fix.MaxFixAttempts,
	}
}

// WithHistory attaches a run history store. Without one, runs are still
// reported to disk but not recorded.
func (p *Repair) WithHistory(store *storage.HistoryStore) *Repair {
	p.History = store
	return p
}

// repairTools bundles the per-run machinery built once before the loop.
// Source files do not change during repair, so the index is stable.
type repairTools struct {
	retr   *retrieval.Extractor
	triage *classifier.Classifier
	fix    *fixer.Fixer
	engine *patch.Engine
}

type roundResult struct {
	processed int
	fixed     int
}

// Run executes the repair loop and returns the finalized report. Abort
// conditions (collection errors, runner crashes, empty collections) land
// in the report verbatim rather than failing the run.
func (p *Repair) Run(ctx context.Context) (*report.IterationReport, error) {
	rep := report.NewIterationReport()
	runID := storage.NewRunID()
	startedAt := time.Now().UTC()
	ledger := newFailureLedger()

	tools, err := p.buildToolsStage(ctx)
	if err != nil {
		return nil, err
	}

	iterations := 0
	for iteration := 1; iteration <= p.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		fmt.Printf("🔍 Iteration %d/%d: reading the latest run report...\n", iteration, p.MaxIterations)
		runReport, err := p.Runner.Run(ctx)
		if err != nil {
			rep.Aborted = err.Error()
			fmt.Printf("⚠️  Run not fixable: %v\n", err)
			break
		}
		if reason, ok := runReport.NonFixable(); ok {
			rep.Aborted = reason
			fmt.Printf("⚠️  Run not fixable: %s\n", firstLine(reason))
			break
		}

		iterations = iteration
		if len(runReport.Failures) == 0 {
			fmt.Println("✅ No failing tests.")
			break
		}

		fmt.Printf("📊 %d failures to triage.\n", len(runReport.Failures))
		round := p.repairRoundStage(ctx, tools, iteration, runReport.Failures, rep, ledger)
		fmt.Printf("🔧 Iteration %d: %d/%d fixes applied.\n", iteration, round.fixed, round.processed)

		if round.fixed == 0 && iteration > 1 {
			fmt.Println("⚠️  No progress this round, stopping.")
			break
		}
	}

	rep.Iterations = iterations
	if err := rep.Save(p.ReportPath); err != nil {
		return rep, fmt.Errorf("failed to save fix report: %w", err)
	}
	fmt.Printf("💾 Report written to %s\n", p.ReportPath)

	p.persistStage(ctx, runID, startedAt, rep, ledger.list())
	return rep, nil
}

func (p *Repair) buildToolsStage(ctx context.Context) (*repairTools, error) {
	ext, err := extractor.NewExtractor("python")
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	fmt.Printf("🔍 Indexing %s...\n", p.Root)
	idx, err := index.NewIndexer(crawler.NewCrawler(ext)).Build(ctx, p.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to index project: %w", err)
	}

	g := graph.NewBuilder(idx, p.Root).Build()
	resolver.NewDefaultChain(idx, p.Root).Run(g)
	fmt.Printf("📊 Indexed %d symbols, %d edges.\n", idx.Len(), len(g.Edges))

	return &repairTools{
		retr:   retrieval.NewExtractor(idx, g, ext, p.Root, retrieval.DefaultConfig()),
		triage: classifier.New(p.Client),
		fix:    fixer.New(p.Client),
		engine: patch.NewEngine(ext),
	}, nil
}

func (p *Repair) repairRoundStage(ctx context.Context, tools *repairTools, iteration int, failures []runner.TestFailure, rep *report.IterationReport, ledger *failureLedger) roundResult {
	var round roundResult
	for _, failure := range failures {
		round.processed++
		fmt.Printf("🔧 %s::%s (%s)\n", failure.TestFile, failure.TestName, failure.ExceptionKind)

		testCode := tools.retr.TestBody(ctx, failure.TestFile, failure.TestName)
		sourceCode := ""
		if bundle, err := tools.retr.ForFailure(ctx, failure.TestFile, failure.TestName, failure.RawTrace); err == nil && bundle != nil {
			sourceCode = bundle.Render()
		}

		verdict := tools.triage.Classify(ctx, failure, testCode, sourceCode)
		ledger.note(failure, string(verdict.Kind))

		entry := report.FixEntry{
			TestFile:       failure.TestFile,
			TestName:       failure.TestName,
			Classification: string(verdict.Kind),
			Reason:         verdict.Reason,
			Iteration:      iteration,
		}

		switch verdict.Kind {
		case classifier.CodeDefect:
			rep.RecordCodeDefect(failure)
			fmt.Printf("  ⚠️  code defect, left for human review: %s\n", firstLine(verdict.Reason))
		case classifier.TestMistake:
			entry.FixAttempted = true
			outcome := p.applyFixStage(ctx, tools, failure, testCode, sourceCode, verdict.SuggestedFix)
			entry.FixSuccessful = outcome.ok
			if outcome.reason != "" {
				entry.Reason = outcome.reason
			}
			if outcome.ok {
				round.fixed++
				fmt.Printf("  ✅ Patched %s::%s\n", failure.TestFile, failure.TestName)
			} else {
				fmt.Printf("  ⚠️  Fix failed: %s\n", firstLine(outcome.reason))
			}
		default:
			fmt.Println("  ⚠️  Unclassified, skipping.")
		}

		rep.Record(entry)
	}
	return round
}

type fixOutcome struct {
	ok     bool
	reason string
}

// applyFixStage patches one test mistake: the classifier's suggested fix
// first when it offered one, then a fix conversation where each retry
// carries the previous replacement and the reason it was rejected.
func (p *Repair) applyFixStage(ctx context.Context, tools *repairTools, failure runner.TestFailure, testCode, sourceCode, suggested string) fixOutcome {
	path := p.testPath(failure.TestFile)

	previousFix, previousOutput := "", ""
	if suggested != "" {
		out, err := tools.engine.Apply(ctx, path, failure.TestName, suggested)
		switch {
		case err != nil:
			return fixOutcome{reason: err.Error()}
		case out.Validated:
			return fixOutcome{ok: true}
		default:
			previousFix, previousOutput = suggested, out.Reason
		}
	}

	for attempt := 1; attempt <= p.MaxFixAttempts; attempt++ {
		code, err := tools.fix.Fix(ctx, fixer.Request{
			Failure:        failure,
			TestCode:       testCode,
			SourceCode:     sourceCode,
			PreviousFix:    previousFix,
			PreviousOutput: previousOutput,
		})
		if err != nil {
			return fixOutcome{reason: err.Error()}
		}

		out, err := tools.engine.Apply(ctx, path, failure.TestName, code)
		if err != nil {
			return fixOutcome{reason: err.Error()}
		}
		if out.Validated {
			return fixOutcome{ok: true}
		}

		log.Printf("⚠️ attempt %d for %s::%s rejected: %s", attempt, failure.TestFile, failure.TestName, out.Reason)
		previousFix, previousOutput = code, out.Reason
	}

	return fixOutcome{reason: fmt.Sprintf("no valid patch after %d attempts: %s", p.MaxFixAttempts, previousOutput)}
}

func (p *Repair) persistStage(ctx context.Context, runID string, startedAt time.Time, rep *report.IterationReport, failures []storage.FailureRow) {
	if p.History == nil {
		return
	}
	run := storage.Run{
		ID:          runID,
		Kind:        storage.RunKindFix,
		ProjectRoot: p.Root,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Iterations:  rep.Iterations,
		Headline:    fixHeadline(rep),
	}
	if err := p.History.SaveFixRun(ctx, run, rep, failures); err != nil {
		log.Printf("Warning: failed to record run history: %v", err)
		return
	}
	fmt.Printf("💾 Run %s recorded.\n", runID)
}

func (p *Repair) testPath(testFile string) string {
	if filepath.IsAbs(testFile) {
		return testFile
	}
	return filepath.Join(p.Root, filepath.FromSlash(testFile))
}

func fixHeadline(rep *report.IterationReport) string {
	if rep.Aborted != "" {
		return "aborted: " + firstLine(rep.Aborted)
	}
	return fmt.Sprintf("%d failures: %d fixed, %d defects", rep.TotalFailures, rep.SuccessfulFixes, rep.CodeDefects)
}

// failureLedger keeps the latest classification per test for the history
// store, in first-seen order.
type failureLedger struct {
	order []string
	rows  map[string]storage.FailureRow
}

func newFailureLedger() *failureLedger {
	return &failureLedger{rows: make(map[string]storage.FailureRow)}
}

func (l *failureLedger) note(f runner.TestFailure, classification string) {
	key := f.TestFile + "::" + f.TestName
	if _, seen := l.rows[key]; !seen {
		l.order = append(l.order, key)
	}
	l.rows[key] = storage.FailureRow{Failure: f, Classification: classification}
}

func (l *failureLedger) list() []storage.FailureRow {
	out := make([]storage.FailureRow, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.rows[key])
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
