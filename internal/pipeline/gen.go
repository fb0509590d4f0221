package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"testmend/internal/config"
	"testmend/internal/coverage"
	"testmend/internal/crawler"
	"testmend/internal/extractor"
	"testmend/internal/gen"
	"testmend/internal/graph"
	"testmend/internal/index"
	"testmend/internal/llm"
	"testmend/internal/report"
	"testmend/internal/resolver"
	"testmend/internal/retrieval"
	"testmend/internal/shard"
	"testmend/internal/storage"
)

const defaultGenIterations = 3

// Generation drives the coverage-gap loop: index the project, map
// uncovered lines to symbols, shard the gapped targets, and request a
// test file per shard. Coverage comes from the configured Cobertura
// file; the loop stops when the file is not refreshed between
// iterations, since regenerating against a stale measurement only
// produces duplicates.
type Generation struct {
	Client  llm.Client
	History *storage.HistoryStore

	Root         string
	TestsDir     string
	CoverageFile string
	ReportPath   string

	Kind            string
	MaxIterations   int
	TargetCoverage  float64
	BatchSize       int
	MaxContextBytes int
}

func NewGeneration(client llm.Client, cfg *config.Config, kind string) *Generation {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Generation{
		Client:          client,
		Root:            cfg.Project.Root,
		TestsDir:        cfg.Project.TestsDir,
		CoverageFile:    cfg.Project.CoverageFile,
		ReportPath:      "generation_report.json",
		Kind:            kind,
		MaxIterations:   defaultGenIterations,
		TargetCoverage:  cfg.Gen.TargetCoverage,
		BatchSize:       batchSizeFor(kind, cfg),
		MaxContextBytes: cfg.Gen.MaxContextBytes,
	}
}

func (p *Generation) WithHistory(store *storage.HistoryStore) *Generation {
	p.History = store
	return p
}

func batchSizeFor(kind string, cfg *config.Config) int {
	switch kind {
	case gen.KindEndToEnd:
		return cfg.Gen.E2EBatchSize
	case gen.KindIntegration:
		return shard.DefaultIntegrationBatchSize
	default:
		return cfg.Gen.UnitBatchSize
	}
}

// genTools is rebuilt each iteration so a refreshed coverage file meets a
// fresh index.
type genTools struct {
	idx       *index.SymbolIndex
	retr      *retrieval.Extractor
	generator *gen.Generator
}

// Run executes the generation loop and returns the finalized report. At
// least one iteration row is recorded, even when the loop stops
// immediately.
func (p *Generation) Run(ctx context.Context) (*report.GenerationReport, error) {
	genRep := report.NewGenerationReport(report.GenerationConfig{
		ProjectRoot:    p.Root,
		TestsDir:       p.TestsDir,
		MaxIterations:  p.MaxIterations,
		TargetCoverage: p.TargetCoverage,
	})
	runID := storage.NewRunID()
	startedAt := time.Now().UTC()

	var gapRows []storage.GapRow
	var lastErr error
	totalWritten := 0
	iterations := 0

	for iteration := 1; iteration <= p.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return genRep, err
		}

		iterations = iteration
		start := time.Now()
		metrics := report.IterationMetrics{Iteration: iteration}
		coverageStamp := p.coverageModTime()

		fmt.Printf("🔍 Iteration %d/%d: indexing %s...\n", iteration, p.MaxIterations, p.Root)
		tools, err := p.buildToolsStage(ctx)
		if err != nil {
			metrics.Error = err.Error()
			genRep.Add(metrics)
			lastErr = err
			break
		}

		cov, err := coverage.ParseCobertura(p.coveragePath())
		if err != nil {
			err = fmt.Errorf("failed to read coverage: %w", err)
			metrics.Error = err.Error()
			genRep.Add(metrics)
			lastErr = err
			break
		}

		pct := cov.Percent()
		metrics.InitialCoverage = pct
		fmt.Printf("📊 Coverage %.2f%% (target %.2f%%).\n", pct, p.TargetCoverage)
		if pct >= p.TargetCoverage {
			fmt.Println("✅ Target coverage reached.")
			metrics.FinalCoverage = pct
			metrics.Success = true
			metrics.DurationSeconds = time.Since(start).Seconds()
			genRep.Add(metrics)
			break
		}

		gaps := coverage.NewMapper(tools.idx).Gaps(cov)
		metrics.GapsAnalyzed = len(gaps)
		if len(gaps) == 0 {
			fmt.Println("✅ No coverage gaps map to known symbols.")
			metrics.FinalCoverage = pct
			metrics.Success = true
			metrics.DurationSeconds = time.Since(start).Seconds()
			genRep.Add(metrics)
			break
		}
		gapRows = append(gapRows, snapshotGaps(iteration, gaps)...)

		shards := shard.Plan(coverage.Targets(gaps), p.BatchSize)
		fmt.Printf("🧩 %d gapped targets across %d shards.\n", len(gaps), len(shards))

		written, dropped := p.generateStage(ctx, tools, shards, gaps, pct)
		totalWritten += written
		metrics.TestsGenerated = written
		metrics.DurationSeconds = time.Since(start).Seconds()
		if dropped > 0 {
			fmt.Printf("⚠️  %d shard completions dropped as invalid.\n", dropped)
		}

		refreshed := p.coverageModTime() != coverageStamp
		if refreshed {
			if cov, err := coverage.ParseCobertura(p.coveragePath()); err == nil {
				metrics.FinalCoverage = cov.Percent()
				metrics.CoverageGain = metrics.FinalCoverage - metrics.InitialCoverage
			}
		}
		metrics.Success = true
		genRep.Add(metrics)

		if written == 0 {
			fmt.Println("⚠️  No new tests this iteration, stopping.")
			break
		}
		if !refreshed {
			fmt.Println("⚠️  Coverage file unchanged. Re-run the suite with coverage, then run gen again.")
			break
		}
	}

	if err := genRep.Save(p.ReportPath); err != nil {
		return genRep, fmt.Errorf("failed to save generation report: %w", err)
	}
	fmt.Printf("💾 Report written to %s\n", p.ReportPath)

	p.persistStage(ctx, runID, startedAt, iterations, genRep, gapRows)

	if totalWritten == 0 && lastErr != nil {
		return genRep, lastErr
	}
	return genRep, nil
}

func (p *Generation) buildToolsStage(ctx context.Context) (*genTools, error) {
	ext, err := extractor.NewExtractor("python")
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	idx, err := index.NewIndexer(crawler.NewCrawler(ext)).Build(ctx, p.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to index project: %w", err)
	}

	g := graph.NewBuilder(idx, p.Root).Build()
	resolver.NewDefaultChain(idx, p.Root).Run(g)

	retr := retrieval.NewExtractor(idx, g, ext, p.Root, retrieval.Config{MaxBytes: p.MaxContextBytes})
	return &genTools{
		idx:       idx,
		retr:      retr,
		generator: gen.New(p.Client, ext),
	}, nil
}

// generateStage requests one test file per shard. Invalid completions
// are dropped and counted; transport errors skip the shard.
func (p *Generation) generateStage(ctx context.Context, tools *genTools, shards []shard.Shard, gaps []coverage.GapRecord, pct float64) (written, dropped int) {
	gapsByID := make(map[string]coverage.GapRecord, len(gaps))
	for _, g := range gaps {
		gapsByID[g.Symbol.ID] = g
	}

	testsDir := p.testsPath()
	for _, sh := range shards {
		req := gen.Request{
			Kind:           p.Kind,
			ShardIndex:     sh.Index,
			ShardCount:     len(shards),
			TargetNames:    sh.TargetNames(),
			Gaps:           shardGaps(sh, gapsByID),
			Coverage:       pct,
			TargetCoverage: p.TargetCoverage,
		}
		if bundle, err := tools.retr.ForTargets(ctx, req.TargetNames); err == nil && bundle != nil {
			req.Context = bundle.Render()
		}

		res, err := tools.generator.Generate(ctx, req)
		if err != nil {
			if errors.Is(err, gen.ErrRejected) {
				dropped++
			}
			log.Printf("⚠️ shard %d/%d skipped: %v", sh.Index+1, len(shards), err)
			continue
		}

		path, err := gen.Place(testsDir, gen.Stem(sh), res.Code)
		if err != nil {
			log.Printf("⚠️ failed to place tests for shard %d: %v", sh.Index+1, err)
			continue
		}

		fmt.Printf("🧪 Wrote %s (%d tests).\n", path, res.TestCount)
		written += res.TestCount
	}
	return written, dropped
}

func (p *Generation) persistStage(ctx context.Context, runID string, startedAt time.Time, iterations int, genRep *report.GenerationReport, gapRows []storage.GapRow) {
	if p.History == nil {
		return
	}
	run := storage.Run{
		ID:          runID,
		Kind:        storage.RunKindGen,
		ProjectRoot: p.Root,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Iterations:  iterations,
		Headline:    genHeadline(genRep),
	}
	if err := p.History.SaveGenerationRun(ctx, run, genRep, gapRows); err != nil {
		log.Printf("Warning: failed to record run history: %v", err)
		return
	}
	fmt.Printf("💾 Run %s recorded.\n", runID)
}

func (p *Generation) coveragePath() string {
	if filepath.IsAbs(p.CoverageFile) {
		return p.CoverageFile
	}
	return filepath.Join(p.Root, p.CoverageFile)
}

func (p *Generation) testsPath() string {
	if filepath.IsAbs(p.TestsDir) {
		return p.TestsDir
	}
	return filepath.Join(p.Root, p.TestsDir)
}

func (p *Generation) coverageModTime() time.Time {
	info, err := os.Stat(p.coveragePath())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func snapshotGaps(iteration int, gaps []coverage.GapRecord) []storage.GapRow {
	rows := make([]storage.GapRow, 0, len(gaps))
	for _, g := range gaps {
		name := g.Symbol.Name
		if g.Symbol.Parent != "" {
			name = g.Symbol.Parent + "." + name
		}
		rows = append(rows, storage.GapRow{
			Iteration:      iteration,
			File:           g.Symbol.File,
			Symbol:         name,
			StartLine:      g.Symbol.StartLine,
			EndLine:        g.Symbol.EndLine,
			UncoveredLines: len(g.UncoveredLines),
		})
	}
	return rows
}

func shardGaps(sh shard.Shard, gapsByID map[string]coverage.GapRecord) []coverage.GapRecord {
	var out []coverage.GapRecord
	for _, sym := range sh.Targets {
		if g, ok := gapsByID[sym.ID]; ok {
			out = append(out, g)
		}
	}
	return out
}

func genHeadline(genRep *report.GenerationReport) string {
	s := genRep.Summary
	total := 0
	for _, m := range genRep.Iterations {
		total += m.TestsGenerated
	}
	return fmt.Sprintf("coverage %.2f%% -> %.2f%%, %d tests generated", s.InitialCoverage, s.FinalCoverage, total)
}
