package retrieval

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"testmend/internal/extractor"
	"testmend/internal/graph"
	"testmend/internal/index"
	"testmend/internal/resolver"
)

// Config bounds context extraction.
type Config struct {
	MaxHops  int
	MaxBytes int
}

func DefaultConfig() Config {
	return Config{
		MaxHops:  3,
		MaxBytes: 120_000,
	}
}

var (
	endpointPattern = regexp.MustCompile(`(?i)client\.(get|post|put|delete|patch|head|options)\s*\(\s*['"]([^'"]+)['"]`)
	framePattern    = regexp.MustCompile(`File\s+"([^"]+)",\s+line\s+(\d+),\s+in\s+(\w+)`)
)

// Extractor assembles context bundles for failure repair and test
// generation.
type Extractor struct {
	idx     *index.SymbolIndex
	g       *graph.Graph
	ext     *extractor.Extractor
	modules *resolver.ModuleResolver
	root    string
	cfg     Config
}

func NewExtractor(idx *index.SymbolIndex, g *graph.Graph, ext *extractor.Extractor, root string, cfg Config) *Extractor {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultConfig().MaxHops
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	return &Extractor{
		idx:     idx,
		g:       g,
		ext:     ext,
		modules: resolver.NewModuleResolver(root),
		root:    root,
		cfg:     cfg,
	}
}

// ForFailure resolves the source files a failing test depends on: imports
// actually used in the test's body, handlers of endpoints the test calls,
// and project files named by traceback frames. Unresolvable pieces shrink
// the bundle; they never fail it.
func (e *Extractor) ForFailure(ctx context.Context, testFile, testName, trace string) (*ContextBundle, error) {
	bundle := &ContextBundle{TargetNames: []string{testName}}

	source, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(testFile)))
	if err != nil {
		return bundle, nil
	}

	bindings, err := resolver.ParseImports(ctx, source)
	if err != nil {
		return bundle, nil
	}

	body := e.testBody(ctx, source, testFile, testName)
	if body == "" {
		return bundle, nil
	}

	var files []string
	seen := make(map[string]bool)
	addFile := func(path string) {
		path = filepath.ToSlash(path)
		if path == "" || path == filepath.ToSlash(testFile) || seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	// Imports whose bound name never appears in the test body carry no
	// context worth bundling.
	moduleSeen := make(map[string]bool)
	for _, b := range bindings {
		if !strings.Contains(body, b.Local) || moduleSeen[b.Module] {
			continue
		}
		moduleSeen[b.Module] = true
		if e.modules.IsSkippable(b.Module) {
			continue
		}
		if path, ok := e.modules.Resolve(b.Module); ok {
			addFile(path)
		}
	}

	for _, m := range endpointPattern.FindAllStringSubmatch(body, -1) {
		method, path := strings.ToUpper(m[1]), m[2]
		for _, route := range e.idx.Routes {
			if route.Method == method && route.Path == path {
				addFile(route.File)
			}
		}
	}

	for _, frame := range e.traceFiles(trace) {
		addFile(frame)
	}

	e.fill(bundle, files)
	return bundle, nil
}

// ForTargets gathers the files defining the named symbols, their graph
// neighborhood within the hop bound, and the files importing them. When
// nothing matches it falls back to every indexed file.
func (e *Extractor) ForTargets(ctx context.Context, targetNames []string) (*ContextBundle, error) {
	bundle := &ContextBundle{TargetNames: targetNames}

	var files []string
	seen := make(map[string]bool)
	addFile := func(path string) {
		path = filepath.ToSlash(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	for _, f := range e.idx.FilesContaining(targetNames) {
		addFile(f)
	}

	for _, f := range e.closureFiles(targetNames) {
		addFile(f)
	}

	for _, f := range append([]string(nil), files...) {
		for _, importer := range e.g.ImportersOf(f) {
			addFile(importer)
		}
	}

	if len(files) == 0 {
		for _, f := range e.idx.Files {
			addFile(f)
		}
	}

	e.fill(bundle, files)
	return bundle, nil
}

// TestBody returns the source lines of one test definition, with any
// parametrize suffix stripped from the name first.
func (e *Extractor) TestBody(ctx context.Context, testFile, testName string) string {
	source, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(testFile)))
	if err != nil {
		return ""
	}
	return e.testBody(ctx, source, testFile, testName)
}

func (e *Extractor) testBody(ctx context.Context, source []byte, testFile, testName string) string {
	base := testName
	if i := strings.Index(base, "["); i >= 0 {
		base = base[:i]
	}

	extraction, err := e.ext.ExtractSource(ctx, source, testFile)
	if err != nil {
		return ""
	}

	for _, sym := range extraction.Symbols {
		if sym.Name != base {
			continue
		}
		lines := strings.Split(string(source), "\n")
		if sym.StartLine < 1 || sym.StartLine > len(lines) {
			return ""
		}
		end := sym.EndLine
		if end > len(lines) {
			end = len(lines)
		}
		return strings.Join(lines[sym.StartLine-1:end], "\n")
	}
	return ""
}

// closureFiles walks the reference graph outward from the targets,
// bounded by MaxHops and cycle-safe through the depth map.
func (e *Extractor) closureFiles(targetNames []string) []string {
	if e.g == nil {
		return nil
	}

	adj := make(map[string][]string)
	for _, edge := range e.g.Edges {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}

	type queueItem struct {
		id    string
		depth int
	}

	visitedDepth := make(map[string]int)
	var queue []queueItem
	for _, name := range targetNames {
		for _, id := range e.g.NodesNamed(name) {
			if _, ok := visitedDepth[id]; !ok {
				visitedDepth[id] = 0
				queue = append(queue, queueItem{id: id})
			}
		}
	}

	var files []string
	seen := make(map[string]bool)
	appendNodeFile := func(id string) {
		node, ok := e.g.Nodes[id]
		if !ok {
			return
		}
		path := filepath.ToSlash(node.Sym.File)
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, item := range queue {
		appendNodeFile(item.id)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= e.cfg.MaxHops {
			continue
		}

		for _, next := range adj[cur.id] {
			nextDepth := cur.depth + 1
			if prev, ok := visitedDepth[next]; ok && prev <= nextDepth {
				continue
			}
			visitedDepth[next] = nextDepth
			appendNodeFile(next)
			queue = append(queue, queueItem{id: next, depth: nextDepth})
		}
	}

	return files
}

// traceFiles extracts project-relative source paths from traceback frames,
// ignoring interpreter and dependency frames.
func (e *Extractor) traceFiles(trace string) []string {
	var files []string
	for _, m := range framePattern.FindAllStringSubmatch(trace, -1) {
		path := m[1]
		if strings.Contains(path, "site-packages") || strings.Contains(path, "dist-packages") {
			continue
		}
		if filepath.IsAbs(path) {
			rel, err := filepath.Rel(e.root, path)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			path = rel
		}
		if !strings.HasSuffix(path, ".py") {
			continue
		}
		if _, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(path))); err != nil {
			continue
		}
		files = append(files, filepath.ToSlash(path))
	}
	return files
}

// fill reads whole files into the bundle until the byte budget runs out.
// Only a first file too large on its own is cut mid-file.
func (e *Extractor) fill(bundle *ContextBundle, paths []string) {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(path)))
		if err != nil {
			log.Printf("⚠️ skipping context file %s: %v", path, err)
			continue
		}

		if total+len(data) > e.cfg.MaxBytes {
			if len(bundle.Files) == 0 {
				bundle.Files = append(bundle.Files, BundleFile{
					Path: path,
					Text: string(data[:e.cfg.MaxBytes]),
				})
				total = e.cfg.MaxBytes
			}
			bundle.Truncated = true
			continue
		}

		bundle.Files = append(bundle.Files, BundleFile{Path: path, Text: string(data)})
		total += len(data)
	}
}
