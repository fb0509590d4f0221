package extractor

import (
	sitter "github.com/smacker/go-tree-sitter"

	"testmend/internal/interval"
)

// Kind classifies an indexed definition.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindRoute    Kind = "route"
)

// Symbol is one indexed definition with a known location. Line numbers are
// 1-based and inclusive; Span converts to the shared half-open form.
// For decorated definitions StartLine is the first decorator's line, so a
// splice over the span carries the decorators with the body.
type Symbol struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	File      string `json:"file"`
	Kind      Kind   `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	ArgCount  int    `json:"arg_count"`
	IsAsync   bool   `json:"is_async"`

	// Depth is the nesting level: 0 for top-level definitions, parent+1
	// for definitions inside another definition. Parent holds the
	// enclosing definition's name, empty at top level.
	Depth  int    `json:"depth"`
	Parent string `json:"parent,omitempty"`
}

// Key is the symbol's identity across component boundaries. Names alone are
// ambiguous when two files define the same name.
type Key struct {
	File string
	Name string
}

func (s *Symbol) Key() Key {
	return Key{File: s.File, Name: s.Name}
}

func (s *Symbol) Span() interval.Interval {
	return interval.FromLines(s.StartLine, s.EndLine)
}

// Route records an HTTP handler registration found on a decorated
// definition. Method is upper-cased; Path is the decorator call's first
// string-literal argument.
type Route struct {
	HandlerName string `json:"handler_name"`
	File        string `json:"file"`
	Method      string `json:"method"`
	Path        string `json:"path"`
}

// LanguageExtractor is one language front end. Implementations walk an
// already-parsed tree; the shared Extractor owns file IO and parsing.
type LanguageExtractor interface {
	Language() *sitter.Language
	Extensions() []string
	ExtractSymbols(root *sitter.Node, source []byte, path string) []Symbol
	ExtractRoutes(root *sitter.Node, source []byte, path string) []Route
}
