package crawler

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"testmend/internal/extractor"
)

// defaultIgnored are directory names that never contain indexable source.
var defaultIgnored = []string{
	".git", "__pycache__", ".pytest_cache", ".tox", ".mypy_cache",
	"venv", ".venv", "node_modules", "build", "dist", ".eggs",
}

// Crawler scans a directory tree for source files and streams the symbols
// and routes it finds.
type Crawler struct {
	extractor *extractor.Extractor
	ignored   []string
	skipTests bool
}

// NewCrawler creates a crawler over the given extractor. Test files are
// skipped by default; use WithTests when indexing a test suite itself.
func NewCrawler(ext *extractor.Extractor) *Crawler {
	return &Crawler{
		extractor: ext,
		ignored:   defaultIgnored,
		skipTests: true,
	}
}

// WithTests includes test files in the scan.
func (c *Crawler) WithTests() *Crawler {
	c.skipTests = false
	return c
}

// ScanProject walks the root directory and processes every source file with
// a matching extension. Results stream through the callback so large trees
// never accumulate in memory. Files that fail to parse are logged and
// skipped; they never abort the scan.
func (c *Crawler) ScanProject(ctx context.Context, root string, onFile func(path string, ext *extractor.Extraction)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			for _, ign := range c.ignored {
				if d.Name() == ign {
					return filepath.SkipDir
				}
			}
			if c.skipTests && path != root && isTestDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !c.wantFile(d.Name()) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		source, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Printf("⚠️ skipping %s: %v", rel, readErr)
			return nil
		}

		// Symbols are stamped with project-relative paths so they line
		// up with coverage reports and traceback frames.
		extraction, err := c.extractor.ExtractSource(ctx, source, rel)
		if err != nil {
			log.Printf("⚠️ skipping %s: %v", rel, err)
			return nil
		}

		onFile(rel, extraction)
		return nil
	})
}

func (c *Crawler) wantFile(name string) bool {
	matched := false
	for _, suffix := range c.extractor.Extensions() {
		if strings.HasSuffix(name, suffix) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if c.skipTests && isTestFile(name) {
		return false
	}
	return true
}

func isTestFile(name string) bool {
	return strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py")
}

func isTestDir(name string) bool {
	return name == "tests" || name == "test"
}
