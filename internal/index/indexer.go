package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"testmend/internal/crawler"
	"testmend/internal/extractor"
)

// Indexer walks a project and assembles a fresh SymbolIndex.
type Indexer struct {
	crawler *crawler.Crawler
}

func NewIndexer(c *crawler.Crawler) *Indexer {
	return &Indexer{crawler: c}
}

// Build scans the project root and indexes every definition it finds.
func (ix *Indexer) Build(ctx context.Context, root string) (*SymbolIndex, error) {
	idx := NewSymbolIndex(root)

	err := ix.crawler.ScanProject(ctx, root, func(path string, ext *extractor.Extraction) {
		idx.Add(path, ext)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	return idx, nil
}

// SaveIndex writes the index to disk as indented JSON.
func SaveIndex(idx *SymbolIndex, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return nil
}

// LoadIndex reads a previously saved index and rebuilds its lookup maps.
func LoadIndex(path string) (*SymbolIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index file: %w", err)
	}
	defer f.Close()

	var idx SymbolIndex
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	idx.RebuildIndices()
	return &idx, nil
}
