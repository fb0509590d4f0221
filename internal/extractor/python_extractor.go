package extractor

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// httpVerbs maps decorator attribute names to the HTTP method they register.
var httpVerbs = map[string]string{
	"get":     "GET",
	"post":    "POST",
	"put":     "PUT",
	"delete":  "DELETE",
	"patch":   "PATCH",
	"head":    "HEAD",
	"options": "OPTIONS",
}

// PythonExtractor extracts symbols and routes from Python source trees.
type PythonExtractor struct{}

func NewPythonExtractor() *PythonExtractor {
	return &PythonExtractor{}
}

func (p *PythonExtractor) Language() *sitter.Language {
	return python.GetLanguage()
}

func (p *PythonExtractor) Extensions() []string {
	return []string{".py"}
}

// ExtractSymbols walks the tree recursively so nested definitions are found
// with their nesting depth: methods inside classes, functions inside
// functions, definitions inside conditional blocks.
func (p *PythonExtractor) ExtractSymbols(root *sitter.Node, source []byte, path string) []Symbol {
	var symbols []Symbol
	p.walk(root, source, path, 0, "", false, &symbols)
	return symbols
}

// ExtractRoutes collects handler registrations from definitions decorated
// with an HTTP-verb marker such as @app.get("/users").
func (p *PythonExtractor) ExtractRoutes(root *sitter.Node, source []byte, path string) []Route {
	var routes []Route
	p.walkRoutes(root, source, path, &routes)
	return routes
}

func (p *PythonExtractor) walk(node *sitter.Node, source []byte, path string, depth int, parent string, inClass bool, out *[]Symbol) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function_definition":
			p.addFunction(child, child, false, source, path, depth, parent, inClass, out)
		case "class_definition":
			p.addClass(child, child, source, path, depth, parent, inClass, out)
		case "decorated_definition":
			p.addDecorated(child, source, path, depth, parent, inClass, out)
		default:
			// Definitions also hide inside if/try/with blocks.
			p.walk(child, source, path, depth, parent, inClass, out)
		}
	}
}

// addFunction records one function, method or route handler. spanNode is
// the decorated_definition when decorators are present so the recorded
// range includes them; defNode is always the function_definition itself.
func (p *PythonExtractor) addFunction(spanNode, defNode *sitter.Node, routed bool, source []byte, path string, depth int, parent string, inClass bool, out *[]Symbol) {
	nameNode := defNode.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, source)

	kind := KindFunction
	if inClass {
		kind = KindMethod
	}
	if routed {
		kind = KindRoute
	}

	sym := Symbol{
		Name:      name,
		File:      path,
		Kind:      kind,
		StartLine: int(spanNode.StartPoint().Row) + 1,
		EndLine:   int(spanNode.EndPoint().Row) + 1,
		ArgCount:  countParams(defNode.ChildByFieldName("parameters"), source, inClass),
		IsAsync:   isAsyncDef(defNode),
		Depth:     depth,
		Parent:    parent,
	}
	sym.ID = BuildSymbolID("python", &sym)
	*out = append(*out, sym)

	if body := defNode.ChildByFieldName("body"); body != nil {
		p.walk(body, source, path, depth+1, name, false, out)
	}
}

func (p *PythonExtractor) addClass(spanNode, defNode *sitter.Node, source []byte, path string, depth int, parent string, inClass bool, out *[]Symbol) {
	nameNode := defNode.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, source)

	sym := Symbol{
		Name:      name,
		File:      path,
		Kind:      KindClass,
		StartLine: int(spanNode.StartPoint().Row) + 1,
		EndLine:   int(spanNode.EndPoint().Row) + 1,
		Depth:     depth,
		Parent:    parent,
	}
	sym.ID = BuildSymbolID("python", &sym)
	*out = append(*out, sym)

	if body := defNode.ChildByFieldName("body"); body != nil {
		p.walk(body, source, path, depth+1, name, true, out)
	}
}

func (p *PythonExtractor) addDecorated(node *sitter.Node, source []byte, path string, depth int, parent string, inClass bool, out *[]Symbol) {
	def := definitionChild(node)
	if def == nil {
		return
	}
	switch def.Type() {
	case "class_definition":
		p.addClass(node, def, source, path, depth, parent, inClass, out)
	case "function_definition":
		_, _, routed := routeFromDecorators(node, source)
		p.addFunction(node, def, routed, source, path, depth, parent, inClass, out)
	}
}

func (p *PythonExtractor) walkRoutes(node *sitter.Node, source []byte, path string, out *[]Route) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "decorated_definition" {
			if def := definitionChild(child); def != nil && def.Type() == "function_definition" {
				if method, routePath, ok := routeFromDecorators(child, source); ok {
					if nameNode := def.ChildByFieldName("name"); nameNode != nil {
						*out = append(*out, Route{
							HandlerName: nodeText(nameNode, source),
							File:        path,
							Method:      method,
							Path:        routePath,
						})
					}
				}
			}
		}
		p.walkRoutes(child, source, path, out)
	}
}

// definitionChild returns the wrapped definition of a decorated_definition.
func definitionChild(node *sitter.Node) *sitter.Node {
	if def := node.ChildByFieldName("definition"); def != nil {
		return def
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if t := child.Type(); t == "function_definition" || t == "class_definition" {
			return child
		}
	}
	return nil
}

// routeFromDecorators inspects the decorators of a decorated_definition for
// an HTTP-verb marker of the shape @obj.verb("/path", ...). The path is the
// call's first string-literal argument; decorators without one don't count.
func routeFromDecorators(node *sitter.Node, source []byte) (method, path string, ok bool) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			expr := child.Child(j)
			if expr == nil || expr.Type() != "call" {
				continue
			}
			fn := expr.ChildByFieldName("function")
			if fn == nil || fn.Type() != "attribute" {
				continue
			}
			attr := fn.ChildByFieldName("attribute")
			if attr == nil {
				continue
			}
			verb, known := httpVerbs[strings.ToLower(nodeText(attr, source))]
			if !known {
				continue
			}
			if lit := firstStringArg(expr.ChildByFieldName("arguments"), source); lit != "" {
				return verb, lit, true
			}
		}
	}
	return "", "", false
}

func firstStringArg(args *sitter.Node, source []byte) string {
	if args == nil {
		return ""
	}
	for i := 0; i < int(args.ChildCount()); i++ {
		child := args.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "string" {
			return strings.Trim(nodeText(child, source), `"'`)
		}
	}
	return ""
}

// countParams counts declared parameters. The first parameter of a method
// is skipped when it is the instance or class receiver.
func countParams(params *sitter.Node, source []byte, isMethod bool) int {
	if params == nil {
		return 0
	}
	count := 0
	first := true
	for i := 0; i < int(params.ChildCount()); i++ {
		child := params.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "identifier", "typed_parameter", "default_parameter",
			"typed_default_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		default:
			continue
		}
		if first {
			first = false
			if isMethod {
				name := paramName(child, source)
				if name == "self" || name == "cls" {
					continue
				}
			}
		}
		count++
	}
	return count
}

func paramName(param *sitter.Node, source []byte) string {
	if param.Type() == "identifier" {
		return nodeText(param, source)
	}
	if nameNode := param.ChildByFieldName("name"); nameNode != nil {
		return nodeText(nameNode, source)
	}
	return firstIdentifier(param, source)
}

func firstIdentifier(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	if node.Type() == "identifier" {
		return nodeText(node, source)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if name := firstIdentifier(node.Child(i), source); name != "" {
			return name
		}
	}
	return ""
}

// isAsyncDef reports whether the function carries the async keyword, which
// tree-sitter exposes as an anonymous child token.
func isAsyncDef(defNode *sitter.Node) bool {
	for i := 0; i < int(defNode.ChildCount()); i++ {
		child := defNode.Child(i)
		if child != nil && child.Type() == "async" {
			return true
		}
	}
	return false
}

func nodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}
