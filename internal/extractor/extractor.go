package extractor

import (
	"context"
	"fmt"
	"os"

	sitter "github.com/smacker/go-tree-sitter"
)

// Extraction is the result of indexing one source file.
type Extraction struct {
	Symbols []Symbol
	Routes  []Route
}

// Extractor parses source files and delegates symbol and route extraction
// to a language front end. A fresh tree-sitter parser is created per parse
// so Extractor values are safe to share.
type Extractor struct {
	lang     LanguageExtractor
	langName string
}

// NewExtractor creates an extractor for the given language.
func NewExtractor(language string) (*Extractor, error) {
	switch language {
	case "python":
		return &Extractor{lang: NewPythonExtractor(), langName: language}, nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
}

func (e *Extractor) LanguageName() string {
	return e.langName
}

func (e *Extractor) Extensions() []string {
	return e.lang.Extensions()
}

// ExtractFromFile parses the file at path and extracts its symbols and
// routes. A file whose tree contains syntax errors is reported as an error
// so callers can skip it without aborting a whole index pass.
func (e *Extractor) ExtractFromFile(ctx context.Context, path string) (*Extraction, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return e.ExtractSource(ctx, source, path)
}

// ExtractSource extracts from in-memory source recorded under path.
func (e *Extractor) ExtractSource(ctx context.Context, source []byte, path string) (*Extraction, error) {
	tree, err := e.parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("no syntax tree produced for %s", path)
	}
	if root.HasError() {
		if errNode := FirstErrorNode(root); errNode != nil {
			return nil, fmt.Errorf("syntax error in %s at line %d", path, errNode.StartPoint().Row+1)
		}
		return nil, fmt.Errorf("syntax error in %s", path)
	}

	return &Extraction{
		Symbols: e.lang.ExtractSymbols(root, source, path),
		Routes:  e.lang.ExtractRoutes(root, source, path),
	}, nil
}

// Validate parses source and reports the first syntax error, if any. The
// patch engine uses this to decide whether a spliced file may be kept.
func (e *Extractor) Validate(ctx context.Context, source []byte) error {
	tree, err := e.parse(ctx, source)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("no syntax tree produced")
	}
	if root.HasError() {
		if errNode := FirstErrorNode(root); errNode != nil {
			return fmt.Errorf("syntax error at line %d", errNode.StartPoint().Row+1)
		}
		return fmt.Errorf("syntax error")
	}
	return nil
}

func (e *Extractor) parse(ctx context.Context, source []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(e.lang.Language())
	return parser.ParseCtx(ctx, nil, source)
}

// FirstErrorNode finds the first ERROR or MISSING node in the tree.
func FirstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if errNode := FirstErrorNode(node.Child(i)); errNode != nil {
			return errNode
		}
	}
	return nil
}
