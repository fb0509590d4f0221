package graph

import (
	"sort"

	"testmend/internal/extractor"
)

// RelationKind labels a resolved edge.
type RelationKind string

const (
	KindReferences RelationKind = "references"
	KindImports    RelationKind = "imports"
)

// UnresolvedReason explains why a reference never became an edge.
type UnresolvedReason string

const (
	ReasonNoCandidate UnresolvedReason = "no_candidate"
	ReasonSelf        UnresolvedReason = "self_reference"
)

// Node represents one indexed symbol in the reference graph.
type Node struct {
	Sym extractor.Symbol
}

// Edge is a directed relation between two symbol IDs.
type Edge struct {
	From string
	To   string
	Kind RelationKind
}

// Reference is a name-based relation awaiting resolution.
type Reference struct {
	FromID string
	Target string
	Reason UnresolvedReason
}

// Graph holds symbol nodes, resolved edges and the file-level import map.
// Like the index it is rebuilt from scratch on every pass.
type Graph struct {
	Nodes       map[string]*Node
	Edges       []Edge
	Unresolved  []Reference
	FileImports map[string][]string

	nameIndex  map[string][]string
	edgeSeen   map[string]bool
	importSeen map[string]bool
}

func New() *Graph {
	return &Graph{
		Nodes:       make(map[string]*Node),
		Edges:       []Edge{},
		FileImports: make(map[string][]string),
		nameIndex:   make(map[string][]string),
		edgeSeen:    make(map[string]bool),
		importSeen:  make(map[string]bool),
	}
}

// AddSymbol registers a symbol as a node and indexes its bare and
// class-qualified names.
func (g *Graph) AddSymbol(sym extractor.Symbol) {
	if sym.ID == "" {
		return
	}
	g.Nodes[sym.ID] = &Node{Sym: sym}
	g.nameIndex[sym.Name] = append(g.nameIndex[sym.Name], sym.ID)
	if sym.Parent != "" {
		key := sym.Parent + "." + sym.Name
		g.nameIndex[key] = append(g.nameIndex[key], sym.ID)
	}
}

// AddReference records a name-based relation for the resolver chain.
func (g *Graph) AddReference(ref Reference) {
	g.Unresolved = append(g.Unresolved, ref)
}

// AddEdge appends a resolved edge, ignoring duplicates.
func (g *Graph) AddEdge(from, to string, kind RelationKind) {
	sig := from + "->" + to + ":" + string(kind)
	if g.edgeSeen[sig] {
		return
	}
	g.edgeSeen[sig] = true
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind})
}

// AddFileImport records that one source file imports another.
func (g *Graph) AddFileImport(from, to string) {
	if from == to {
		return
	}
	sig := from + "->" + to
	if g.importSeen[sig] {
		return
	}
	g.importSeen[sig] = true
	g.FileImports[from] = append(g.FileImports[from], to)
}

// NodesNamed returns the IDs indexed under a bare or qualified name.
func (g *Graph) NodesNamed(name string) []string {
	return g.nameIndex[name]
}

// Dependencies returns the nodes the given node points at.
func (g *Graph) Dependencies(id string) []*Node {
	var deps []*Node
	for _, edge := range g.Edges {
		if edge.From == id {
			if node, ok := g.Nodes[edge.To]; ok {
				deps = append(deps, node)
			}
		}
	}
	return deps
}

// Dependents returns the nodes pointing at the given node.
func (g *Graph) Dependents(id string) []*Node {
	var deps []*Node
	for _, edge := range g.Edges {
		if edge.To == id {
			if node, ok := g.Nodes[edge.From]; ok {
				deps = append(deps, node)
			}
		}
	}
	return deps
}

// ImportersOf returns the files that import the given file, sorted.
func (g *Graph) ImportersOf(path string) []string {
	var importers []string
	for from, targets := range g.FileImports {
		for _, to := range targets {
			if to == path {
				importers = append(importers, from)
				break
			}
		}
	}
	sort.Strings(importers)
	return importers
}

// UnresolvedReasonCounts tallies why references stayed unresolved.
func (g *Graph) UnresolvedReasonCounts() map[UnresolvedReason]int {
	counts := make(map[UnresolvedReason]int)
	if g == nil {
		return counts
	}
	for _, u := range g.Unresolved {
		reason := u.Reason
		if reason == "" {
			reason = ReasonNoCandidate
		}
		counts[reason]++
	}
	return counts
}
