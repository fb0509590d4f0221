package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"testmend/internal/config"
	"testmend/internal/coverage"
	"testmend/internal/crawler"
	"testmend/internal/extractor"
	"testmend/internal/gen"
	"testmend/internal/index"
	"testmend/internal/llm"
	"testmend/internal/pipeline"
	"testmend/internal/report"
	"testmend/internal/runner"
	"testmend/internal/shard"
	"testmend/internal/storage"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "testmend",
		Short: "Automated test suite repair and coverage gap generation",
	}
	cfgPath string

	indexOut      string
	shardKind     string
	shardBatch    int
	fixReportOut  string
	fixIterations int
	fixAttempts   int
	genKind       string
	genReportOut  string
	genIterations int
	historyLimit  int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to the configuration file")

	indexCmd.Flags().StringVarP(&indexOut, "out", "o", ".testmend/index.json", "Where to write the symbol index")
	shardCmd.Flags().StringVarP(&shardKind, "kind", "k", gen.KindUnit, "Target kind: unit, integration or e2e")
	shardCmd.Flags().IntVarP(&shardBatch, "batch", "b", 0, "Targets per shard (0 uses the configured size)")
	fixCmd.Flags().StringVar(&fixReportOut, "report", "fix_report.json", "Where to write the fix report")
	fixCmd.Flags().IntVar(&fixIterations, "iterations", 0, "Repair iterations (0 uses the configured count)")
	fixCmd.Flags().IntVar(&fixAttempts, "attempts", 0, "Fix attempts per failure (0 uses the configured count)")
	genCmd.Flags().StringVarP(&genKind, "kind", "k", gen.KindUnit, "Test kind: unit, integration or e2e")
	genCmd.Flags().StringVar(&genReportOut, "report", "generation_report.json", "Where to write the generation report")
	genCmd.Flags().IntVar(&genIterations, "iterations", 0, "Generation iterations (0 uses the default)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "How many runs to list")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(shardCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(historyCmd)
}

func mustConfig() *config.Config {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func newClient(ctx context.Context, cfg *config.Config) llm.Client {
	client, err := llm.NewClient(ctx, llm.Options{
		Provider:  cfg.AI.Provider,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		BaseURL:   cfg.AI.BaseURL,
		MaxTokens: cfg.AI.MaxTokens,
	})
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}
	return client
}

// openHistory returns nil when the store cannot be opened; runs proceed
// without history rather than failing.
func openHistory(cfg *config.Config) *storage.HistoryStore {
	store, err := storage.NewHistoryStore(cfg.History.DBPath)
	if err != nil {
		log.Printf("Warning: history disabled: %v", err)
		return nil
	}
	return store
}

func buildIndex(ctx context.Context, root string) (*index.SymbolIndex, error) {
	ext, err := extractor.NewExtractor("python")
	if err != nil {
		return nil, err
	}
	return index.NewIndexer(crawler.NewCrawler(ext)).Build(ctx, root)
}

func projectPath(cfg *config.Config, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(cfg.Project.Root, rel)
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	return table
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build the symbol index and save it to disk",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		root := cfg.Project.Root
		if len(args) > 0 {
			root = args[0]
		}

		fmt.Printf("🔍 Indexing %s...\n", root)
		start := time.Now()
		idx, err := buildIndex(context.Background(), root)
		if err != nil {
			log.Fatalf("Indexing failed: %v", err)
		}
		fmt.Printf("✅ Indexed %d symbols in %v.\n", idx.Len(), time.Since(start))

		if err := index.SaveIndex(idx, indexOut); err != nil {
			log.Fatalf("Failed to save index: %v", err)
		}
		fmt.Printf("💾 Index written to %s\n", indexOut)
	},
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Show symbols with uncovered lines",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		ctx := context.Background()

		idx, err := buildIndex(ctx, cfg.Project.Root)
		if err != nil {
			log.Fatalf("Indexing failed: %v", err)
		}

		cov, err := coverage.ParseCobertura(projectPath(cfg, cfg.Project.CoverageFile))
		if err != nil {
			log.Fatalf("Failed to read coverage: %v", err)
		}

		gaps := coverage.NewMapper(idx).Gaps(cov)
		fmt.Printf("📊 Coverage %.2f%% (target %.2f%%), %d gapped symbols.\n\n", cov.Percent(), cfg.Gen.TargetCoverage, len(gaps))
		if len(gaps) == 0 {
			return
		}

		totalUncovered := 0
		table := newTable([]string{"File", "Symbol", "Lines", "Uncovered"})
		for _, g := range gaps {
			name := g.Symbol.Name
			if g.Symbol.Parent != "" {
				name = g.Symbol.Parent + "." + name
			}
			table.Append([]string{
				g.Symbol.File,
				name,
				fmt.Sprintf("%d-%d", g.Symbol.StartLine, g.Symbol.EndLine),
				fmt.Sprintf("%d", len(g.UncoveredLines)),
			})
			totalUncovered += len(g.UncoveredLines)
		}
		table.SetFooter([]string{
			"Total",
			fmt.Sprintf("%d symbols", len(gaps)),
			"",
			fmt.Sprintf("%d lines", totalUncovered),
		})
		table.Render()
	},
}

var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Print the shard plan for the indexed targets",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		ctx := context.Background()

		switch shardKind {
		case gen.KindUnit, gen.KindIntegration, gen.KindEndToEnd:
		default:
			log.Fatalf("Unknown kind %q: want unit, integration or e2e", shardKind)
		}

		idx, err := buildIndex(ctx, cfg.Project.Root)
		if err != nil {
			log.Fatalf("Indexing failed: %v", err)
		}

		targets := idx.UnitTargets()
		if shardKind == gen.KindEndToEnd {
			targets = idx.RouteTargets()
		}

		batch := shardBatch
		if batch <= 0 {
			switch shardKind {
			case gen.KindEndToEnd:
				batch = cfg.Gen.E2EBatchSize
			case gen.KindIntegration:
				batch = shard.DefaultIntegrationBatchSize
			default:
				batch = cfg.Gen.UnitBatchSize
			}
		}

		shards := shard.Plan(targets, batch)
		fmt.Printf("🧩 %d %s targets across %d shards (batch %d).\n\n", len(targets), shardKind, len(shards), batch)
		if len(shards) == 0 {
			return
		}

		table := newTable([]string{"Shard", "Targets", "Files"})
		for _, s := range shards {
			table.Append([]string{
				fmt.Sprintf("%d", s.Index+1),
				fmt.Sprintf("%d", len(s.Targets)),
				strings.Join(s.Files, ", "),
			})
		}
		table.SetFooter([]string{
			"Total",
			fmt.Sprintf("%d", len(targets)),
			fmt.Sprintf("%d shards", len(shards)),
		})
		table.Render()
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Classify failing tests and patch the test mistakes",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		ctx := context.Background()

		run := &runner.FileRunner{Path: projectPath(cfg, cfg.Project.ReportFile)}
		p := pipeline.NewRepair(run, newClient(ctx, cfg), cfg)
		p.ReportPath = fixReportOut
		if fixIterations > 0 {
			p.MaxIterations = fixIterations
		}
		if fixAttempts > 0 {
			p.MaxFixAttempts = fixAttempts
		}
		if store := openHistory(cfg); store != nil {
			defer store.Close()
			p.WithHistory(store)
		}

		rep, err := p.Run(ctx)
		if err != nil {
			log.Fatalf("Fix run failed: %v", err)
		}
		printFixSummary(rep)
	},
}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate tests for coverage gaps",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		ctx := context.Background()

		switch genKind {
		case gen.KindUnit, gen.KindIntegration, gen.KindEndToEnd:
		default:
			log.Fatalf("Unknown kind %q: want unit, integration or e2e", genKind)
		}

		p := pipeline.NewGeneration(newClient(ctx, cfg), cfg, genKind)
		p.ReportPath = genReportOut
		if genIterations > 0 {
			p.MaxIterations = genIterations
		}
		if store := openHistory(cfg); store != nil {
			defer store.Close()
			p.WithHistory(store)
		}

		rep, err := p.Run(ctx)
		if err != nil {
			log.Fatalf("Generation run failed: %v", err)
		}
		printGenSummary(rep)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or show one run in detail",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		ctx := context.Background()

		store, err := storage.NewHistoryStore(cfg.History.DBPath)
		if err != nil {
			log.Fatalf("Failed to open history: %v", err)
		}
		defer store.Close()

		if len(args) == 1 {
			showRun(ctx, store, args[0])
			return
		}

		runs, err := store.Runs(ctx, historyLimit)
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return
		}

		table := newTable([]string{"ID", "Kind", "Started", "Iter", "Headline"})
		for _, r := range runs {
			table.Append([]string{
				r.ID,
				r.Kind,
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				fmt.Sprintf("%d", r.Iterations),
				r.Headline,
			})
		}
		table.SetFooter([]string{"Total", fmt.Sprintf("%d runs", len(runs)), "", "", ""})
		table.Render()
	},
}

func showRun(ctx context.Context, store *storage.HistoryStore, runID string) {
	fixes, err := store.FixesForRun(ctx, runID)
	if err != nil {
		log.Fatalf("Failed to load fixes: %v", err)
	}
	if len(fixes) > 0 {
		table := newTable([]string{"Iter", "Test", "Classification", "Fixed"})
		fixed := 0
		for _, f := range fixes {
			if f.FixSuccessful {
				fixed++
			}
			table.Append([]string{
				fmt.Sprintf("%d", f.Iteration),
				f.TestFile + "::" + f.TestName,
				f.Classification,
				fmt.Sprintf("%t", f.FixSuccessful),
			})
		}
		table.SetFooter([]string{"Total", fmt.Sprintf("%d entries", len(fixes)), "", fmt.Sprintf("%d", fixed)})
		table.Render()
		return
	}

	gaps, err := store.GapsForRun(ctx, runID)
	if err != nil {
		log.Fatalf("Failed to load gap snapshots: %v", err)
	}
	if len(gaps) == 0 {
		fmt.Println("No details recorded for this run.")
		return
	}

	table := newTable([]string{"Iter", "File", "Symbol", "Uncovered"})
	total := 0
	for _, g := range gaps {
		total += g.UncoveredLines
		table.Append([]string{
			fmt.Sprintf("%d", g.Iteration),
			g.File,
			g.Symbol,
			fmt.Sprintf("%d", g.UncoveredLines),
		})
	}
	table.SetFooter([]string{"Total", fmt.Sprintf("%d gaps", len(gaps)), "", fmt.Sprintf("%d lines", total)})
	table.Render()
}

func printFixSummary(rep *report.IterationReport) {
	if rep.Aborted != "" {
		fmt.Printf("⚠️  Aborted: %s\n", rep.Aborted)
		return
	}

	fmt.Println()
	table := newTable([]string{"Metric", "Count"})
	table.Append([]string{"Iterations", fmt.Sprintf("%d", rep.Iterations)})
	table.Append([]string{"Failures", fmt.Sprintf("%d", rep.TotalFailures)})
	table.Append([]string{"Test mistakes", fmt.Sprintf("%d", rep.TestMistakes)})
	table.Append([]string{"Code defects", fmt.Sprintf("%d", rep.CodeDefects)})
	table.Append([]string{"Failed fixes", fmt.Sprintf("%d", rep.FailedFixes)})
	table.SetFooter([]string{"Fixed", fmt.Sprintf("%d", rep.SuccessfulFixes)})
	table.Render()

	if len(rep.CodeDefectFailures) > 0 {
		fmt.Printf("\n⚠️  %d failures look like defects in the code under test. Review them in the report.\n", len(rep.CodeDefectFailures))
	}
}

func printGenSummary(rep *report.GenerationReport) {
	fmt.Println()
	table := newTable([]string{"Iter", "Coverage", "Gain", "Tests", "Gaps"})
	totalTests := 0
	for _, m := range rep.Iterations {
		totalTests += m.TestsGenerated
		covered := fmt.Sprintf("%.2f%%", m.InitialCoverage)
		if m.FinalCoverage > 0 {
			covered = fmt.Sprintf("%.2f%%", m.FinalCoverage)
		}
		table.Append([]string{
			fmt.Sprintf("%d", m.Iteration),
			covered,
			fmt.Sprintf("%.2f", m.CoverageGain),
			fmt.Sprintf("%d", m.TestsGenerated),
			fmt.Sprintf("%d", m.GapsAnalyzed),
		})
	}
	table.SetFooter([]string{
		"Final",
		fmt.Sprintf("%.2f%%", rep.Summary.FinalCoverage),
		fmt.Sprintf("%.2f", rep.Summary.TotalCoverageGain),
		fmt.Sprintf("%d", totalTests),
		fmt.Sprintf("achieved=%t", rep.Summary.TargetAchieved),
	})
	table.Render()
}
