package resolver

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"testmend/internal/graph"
	"testmend/internal/index"
)

// ImportResolver parses every indexed file's imports and records resolved
// project-internal imports as file-level edges.
type ImportResolver struct {
	idx     *index.SymbolIndex
	modules *ModuleResolver
	root    string
}

func NewImportResolver(idx *index.SymbolIndex, root string) *ImportResolver {
	return &ImportResolver{
		idx:     idx,
		modules: NewModuleResolver(root),
		root:    root,
	}
}

func (r *ImportResolver) Name() string {
	return "imports"
}

func (r *ImportResolver) Resolve(g *graph.Graph) (ResolveStats, error) {
	var stats ResolveStats

	for _, file := range r.idx.Files {
		source, err := os.ReadFile(filepath.Join(r.root, file))
		if err != nil {
			log.Printf("⚠️ skipping imports of %s: %v", file, err)
			continue
		}

		bindings, err := ParseImports(context.Background(), source)
		if err != nil {
			log.Printf("⚠️ skipping imports of %s: %v", file, err)
			continue
		}

		seen := make(map[string]bool)
		for _, b := range bindings {
			if seen[b.Module] {
				continue
			}
			seen[b.Module] = true
			stats.Attempted++

			if r.modules.IsSkippable(b.Module) {
				stats.Skipped++
				continue
			}
			resolved, ok := r.modules.Resolve(b.Module)
			if !ok {
				stats.Skipped++
				continue
			}

			from := filepath.ToSlash(file)
			if resolved == from {
				continue
			}
			g.AddFileImport(from, resolved)
			stats.Resolved++
		}
	}

	return stats, nil
}
