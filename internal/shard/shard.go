package shard

import (
	"testmend/internal/extractor"
)

// Batch size defaults per generation flavor.
const (
	DefaultUnitBatchSize        = 50
	DefaultEndToEndBatchSize    = 20
	DefaultIntegrationBatchSize = 30
)

// Shard is one bounded batch of generation targets plus the source files
// that define them, in first-appearance order.
type Shard struct {
	Index   int                `json:"index"`
	Targets []extractor.Symbol `json:"targets"`
	Files   []string           `json:"files"`
}

// Plan splits targets into ⌈N/B⌉ contiguous shards, preserving discovery
// order. No clustering: the slices are taken straight off the input, so
// every target lands in exactly one shard and the last one may be short.
func Plan(targets []extractor.Symbol, batchSize int) []Shard {
	if len(targets) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultUnitBatchSize
	}

	numShards := (len(targets) + batchSize - 1) / batchSize
	shards := make([]Shard, 0, numShards)

	for i := 0; i < numShards; i++ {
		lo := i * batchSize
		hi := lo + batchSize
		if hi > len(targets) {
			hi = len(targets)
		}
		members := targets[lo:hi]
		shards = append(shards, Shard{
			Index:   i,
			Targets: members,
			Files:   shardFiles(members),
		})
	}

	return shards
}

func shardFiles(targets []extractor.Symbol) []string {
	seen := make(map[string]bool)
	var files []string
	for _, sym := range targets {
		if !seen[sym.File] {
			seen[sym.File] = true
			files = append(files, sym.File)
		}
	}
	return files
}

// TargetNames lists the shard's symbol names, methods qualified by their
// class.
func (s Shard) TargetNames() []string {
	names := make([]string, 0, len(s.Targets))
	for _, sym := range s.Targets {
		if sym.Parent != "" {
			names = append(names, sym.Parent+"."+sym.Name)
			continue
		}
		names = append(names, sym.Name)
	}
	return names
}
