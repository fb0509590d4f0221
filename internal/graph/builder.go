package graph

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"testmend/internal/index"
)

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// pythonNoise are keywords and ubiquitous builtins that never name a
// project symbol worth an edge.
var pythonNoise = map[string]bool{
	"def": true, "class": true, "return": true, "if": true, "else": true,
	"elif": true, "for": true, "while": true, "import": true, "from": true,
	"as": true, "pass": true, "break": true, "continue": true, "try": true,
	"except": true, "finally": true, "raise": true, "with": true,
	"lambda": true, "yield": true, "global": true, "nonlocal": true,
	"assert": true, "del": true, "not": true, "and": true, "or": true,
	"in": true, "is": true, "None": true, "True": true, "False": true,
	"self": true, "cls": true, "async": true, "await": true,
	"print": true, "len": true, "range": true, "str": true, "int": true,
	"float": true, "bool": true, "dict": true, "list": true, "set": true,
	"tuple": true, "type": true, "object": true, "isinstance": true,
	"super": true, "property": true, "staticmethod": true,
	"classmethod": true, "Exception": true, "ValueError": true,
	"TypeError": true, "KeyError": true, "enumerate": true, "zip": true,
	"map": true, "filter": true, "sorted": true, "sum": true, "min": true,
	"max": true, "abs": true, "open": true, "getattr": true,
	"setattr": true, "hasattr": true,
}

// Builder assembles the reference graph for an indexed project.
type Builder struct {
	idx  *index.SymbolIndex
	root string
}

func NewBuilder(idx *index.SymbolIndex, root string) *Builder {
	return &Builder{idx: idx, root: root}
}

// Build adds every indexed symbol as a node and records, per symbol, the
// identifiers its body mentions that name other indexed symbols. The
// references stay unresolved until a resolver chain runs.
func (b *Builder) Build() *Graph {
	g := New()

	for _, sym := range b.idx.Symbols {
		g.AddSymbol(sym)
	}

	for _, file := range b.idx.Files {
		source, err := os.ReadFile(filepath.Join(b.root, file))
		if err != nil {
			log.Printf("⚠️ skipping %s while building graph: %v", file, err)
			continue
		}
		lines := strings.Split(string(source), "\n")

		for _, sym := range b.idx.SymbolsInFile(file) {
			body := symbolBody(lines, sym.StartLine, sym.EndLine)
			for _, ident := range referencedIdents(body) {
				if ident == sym.Name {
					continue
				}
				if len(b.idx.SymbolsNamed(ident)) == 0 {
					continue
				}
				g.AddReference(Reference{FromID: sym.ID, Target: ident})
			}
		}
	}

	return g
}

func symbolBody(lines []string, startLine, endLine int) string {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine {
		return ""
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}

// referencedIdents returns the unique identifiers in a body, in first-
// occurrence order, with keyword noise removed.
func referencedIdents(body string) []string {
	seen := make(map[string]bool)
	var idents []string
	for _, ident := range identPattern.FindAllString(body, -1) {
		if pythonNoise[ident] || seen[ident] {
			continue
		}
		seen[ident] = true
		idents = append(idents, ident)
	}
	return idents
}
