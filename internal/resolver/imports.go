package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ImportBinding maps a name usable in a file's body to the dotted module
// path that brought it in.
type ImportBinding struct {
	Local  string
	Module string
}

// Module paths also arrive through strings: mock patch targets,
// monkeypatch.setattr targets and dynamic import helpers.
var (
	patchPattern        = regexp.MustCompile(`\bpatch\s*\(\s*['"]([^'"]+)['"]`)
	setattrPattern      = regexp.MustCompile(`\.setattr\s*\(\s*['"]([^'"]+)['"]`)
	importorskipPattern = regexp.MustCompile(`\bimportorskip\s*\(\s*['"]([^'"]+)['"]`)
	importHelperPattern = regexp.MustCompile(`\b(?:safe_import|try_import)\s*\(\s*['"]([^'"]+)['"]`)
)

// ParseImports extracts every name binding a Python file's imports create.
// `import a.b as c` binds c to a.b plus each dotted prefix; `from m import
// n` binds n to m.n and m to itself. String-based bindings from patch and
// setattr targets contribute the target's enclosing module.
func ParseImports(ctx context.Context, source []byte) ([]ImportBinding, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing imports: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("no syntax tree produced")
	}

	c := &bindingCollector{source: source, seen: make(map[string]bool)}
	c.walk(root)
	c.collectStringBindings()
	return c.bindings, nil
}

type bindingCollector struct {
	source   []byte
	bindings []ImportBinding
	seen     map[string]bool
}

func (c *bindingCollector) add(local, module string) {
	if local == "" || module == "" {
		return
	}
	key := local + "\x00" + module
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.bindings = append(c.bindings, ImportBinding{Local: local, Module: module})
}

func (c *bindingCollector) text(node *sitter.Node) string {
	return string(c.source[node.StartByte():node.EndByte()])
}

// walk recurses because imports also appear inside functions and try
// blocks.
func (c *bindingCollector) walk(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			c.importStatement(child)
		case "import_from_statement":
			c.importFromStatement(child)
		default:
			c.walk(child)
		}
	}
}

func (c *bindingCollector) importStatement(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			path := c.text(child)
			c.add(path, path)
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					path = c.text(grandchild)
				case "identifier":
					alias = c.text(grandchild)
				}
			}
			if path == "" {
				continue
			}
			c.add(alias, path)
			// An alias hides the dotted path from the body, so keep
			// every prefix reachable as well.
			if alias != "" && strings.Contains(path, ".") {
				parts := strings.Split(path, ".")
				for k := range parts {
					partial := strings.Join(parts[:k+1], ".")
					c.add(partial, partial)
				}
			}
		}
	}
}

func (c *bindingCollector) importFromStatement(node *sitter.Node) {
	var module string
	sawImport := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				if grandchild := child.Child(j); grandchild.Type() == "dotted_name" {
					module = c.text(grandchild)
				}
			}
		case "dotted_name":
			name := c.text(child)
			if !sawImport {
				module = name
			} else {
				c.add(name, joinModule(module, name))
			}
		case "aliased_import":
			var name, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name", "identifier":
					if name == "" {
						name = c.text(grandchild)
					} else {
						alias = c.text(grandchild)
					}
				}
			}
			if alias != "" {
				c.add(alias, joinModule(module, name))
			} else {
				c.add(name, joinModule(module, name))
			}
		}
	}

	if module != "" {
		c.add(module, module)
	}
}

func joinModule(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

func (c *bindingCollector) collectStringBindings() {
	text := string(c.source)

	for _, pattern := range []*regexp.Regexp{patchPattern, setattrPattern} {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			target := m[1]
			if !strings.Contains(target, ".") {
				continue
			}
			parts := strings.Split(target, ".")
			module := strings.Join(parts[:len(parts)-1], ".")
			c.add(module, module)
		}
	}

	for _, pattern := range []*regexp.Regexp{importorskipPattern, importHelperPattern} {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			c.add(m[1], m[1])
		}
	}
}
