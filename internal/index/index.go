package index

import (
	"testmend/internal/extractor"
)

// SymbolIndex is the per-pass table of indexed definitions. It is rebuilt
// from scratch on every pass and passed explicitly between components, so
// repeated runs inside one process never see stale entries. Symbols and
// Routes hold discovery order: file walk order, then in-file definition
// order.
type SymbolIndex struct {
	Root    string             `json:"root"`
	Symbols []extractor.Symbol `json:"symbols"`
	Routes  []extractor.Route  `json:"routes"`
	Files   []string           `json:"files"`

	byKey       map[extractor.Key]int
	byName      map[string][]int
	byQualified map[string][]int
	byFile      map[string][]int
	fileSeen    map[string]bool
}

func NewSymbolIndex(root string) *SymbolIndex {
	idx := &SymbolIndex{Root: root}
	idx.RebuildIndices()
	return idx
}

// Add appends one file's extraction results.
func (idx *SymbolIndex) Add(path string, ext *extractor.Extraction) {
	if !idx.fileSeen[path] && len(ext.Symbols) > 0 {
		idx.fileSeen[path] = true
		idx.Files = append(idx.Files, path)
	}
	for _, sym := range ext.Symbols {
		pos := len(idx.Symbols)
		idx.Symbols = append(idx.Symbols, sym)
		idx.indexSymbol(pos, sym)
	}
	idx.Routes = append(idx.Routes, ext.Routes...)
}

// RebuildIndices recreates the lookup maps that are not serialized.
func (idx *SymbolIndex) RebuildIndices() {
	idx.byKey = make(map[extractor.Key]int)
	idx.byName = make(map[string][]int)
	idx.byQualified = make(map[string][]int)
	idx.byFile = make(map[string][]int)
	idx.fileSeen = make(map[string]bool)
	for _, f := range idx.Files {
		idx.fileSeen[f] = true
	}
	for pos, sym := range idx.Symbols {
		idx.indexSymbol(pos, sym)
	}
}

func (idx *SymbolIndex) indexSymbol(pos int, sym extractor.Symbol) {
	key := sym.Key()
	if _, taken := idx.byKey[key]; !taken {
		// First definition wins; later same-name definitions in one
		// file remain reachable through SymbolsNamed.
		idx.byKey[key] = pos
	}
	idx.byName[sym.Name] = append(idx.byName[sym.Name], pos)
	if sym.Parent != "" {
		idx.byQualified[sym.Parent+"."+sym.Name] = append(idx.byQualified[sym.Parent+"."+sym.Name], pos)
	}
	idx.byFile[sym.File] = append(idx.byFile[sym.File], pos)
}

// Lookup resolves a symbol by its (file, name) identity.
func (idx *SymbolIndex) Lookup(key extractor.Key) (extractor.Symbol, bool) {
	pos, ok := idx.byKey[key]
	if !ok {
		return extractor.Symbol{}, false
	}
	return idx.Symbols[pos], true
}

// SymbolsNamed returns every symbol with the given bare or Class.method
// qualified name, in discovery order. Bare names are ambiguous across
// files; callers that need one definition must disambiguate by file.
func (idx *SymbolIndex) SymbolsNamed(name string) []extractor.Symbol {
	positions := idx.byName[name]
	if len(positions) == 0 {
		positions = idx.byQualified[name]
	}
	out := make([]extractor.Symbol, 0, len(positions))
	for _, pos := range positions {
		out = append(out, idx.Symbols[pos])
	}
	return out
}

// SymbolsInFile returns the file's symbols in definition order.
func (idx *SymbolIndex) SymbolsInFile(path string) []extractor.Symbol {
	positions := idx.byFile[path]
	out := make([]extractor.Symbol, 0, len(positions))
	for _, pos := range positions {
		out = append(out, idx.Symbols[pos])
	}
	return out
}

// FilesContaining returns the files that define any of the given names, in
// discovery order without duplicates. Names may be bare, qualified, or
// route handler names.
func (idx *SymbolIndex) FilesContaining(names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	seen := make(map[string]bool)
	var out []string
	appendFile := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	for _, sym := range idx.Symbols {
		if want[sym.Name] || (sym.Parent != "" && want[sym.Parent+"."+sym.Name]) {
			appendFile(sym.File)
		}
	}
	for _, r := range idx.Routes {
		if want[r.HandlerName] {
			appendFile(r.File)
		}
	}
	return out
}

// UnitTargets returns the symbols targeted by unit-test generation:
// functions, methods and classes in discovery order.
func (idx *SymbolIndex) UnitTargets() []extractor.Symbol {
	var out []extractor.Symbol
	for _, sym := range idx.Symbols {
		switch sym.Kind {
		case extractor.KindFunction, extractor.KindMethod, extractor.KindClass:
			out = append(out, sym)
		}
	}
	return out
}

// RouteTargets returns the route handler symbols targeted by end-to-end
// test generation, in discovery order.
func (idx *SymbolIndex) RouteTargets() []extractor.Symbol {
	var out []extractor.Symbol
	for _, sym := range idx.Symbols {
		if sym.Kind == extractor.KindRoute {
			out = append(out, sym)
		}
	}
	return out
}

// Len returns the number of indexed symbols.
func (idx *SymbolIndex) Len() int {
	return len(idx.Symbols)
}
