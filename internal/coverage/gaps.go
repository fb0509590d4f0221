package coverage

import (
	"testmend/internal/extractor"
	"testmend/internal/index"
)

// GapRecord names a symbol with at least one uncovered line inside its
// range.
type GapRecord struct {
	Symbol         extractor.Symbol `json:"symbol"`
	UncoveredLines []int            `json:"uncovered_lines"`
}

// Mapper intersects indexed symbol ranges with uncovered line sets.
type Mapper struct {
	idx *index.SymbolIndex
}

func NewMapper(idx *index.SymbolIndex) *Mapper {
	return &Mapper{idx: idx}
}

// Gaps emits one record per symbol whose range intersects its file's
// uncovered set, in discovery order. Nested symbols are evaluated
// independently of their parents, so an uncovered line inside a method
// gaps both the method and its class.
func (m *Mapper) Gaps(cov *CoverageMap) []GapRecord {
	var gaps []GapRecord
	for _, sym := range m.idx.Symbols {
		fc := cov.File(sym.File)
		if fc == nil {
			continue
		}
		uncovered := sym.Span().Intersect(fc.Uncovered)
		if len(uncovered) == 0 {
			continue
		}
		gaps = append(gaps, GapRecord{Symbol: sym, UncoveredLines: uncovered})
	}
	return gaps
}

// Targets lists the gapped symbols in order, ready for sharding.
func Targets(gaps []GapRecord) []extractor.Symbol {
	out := make([]extractor.Symbol, 0, len(gaps))
	for _, g := range gaps {
		out = append(out, g.Symbol)
	}
	return out
}
