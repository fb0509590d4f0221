package extractor

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParametrizeConflicts reports functions that stack two
// @pytest.mark.parametrize decorators over the same parameter set, a
// recurring failure mode of generated test code.
func (e *Extractor) ParametrizeConflicts(ctx context.Context, source []byte) ([]string, error) {
	tree, err := e.parse(ctx, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var conflicts []string
	collectParametrizeConflicts(tree.RootNode(), source, &conflicts)
	return conflicts, nil
}

func collectParametrizeConflicts(node *sitter.Node, source []byte, out *[]string) {
	if node == nil {
		return
	}
	if node.Type() == "decorated_definition" {
		if def := definitionChild(node); def != nil && def.Type() == "function_definition" {
			checkParametrize(node, def, source, out)
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectParametrizeConflicts(node.Child(i), source, out)
	}
}

func checkParametrize(decorated, def *sitter.Node, source []byte, out *[]string) {
	seen := map[string]bool{}
	for i := 0; i < int(decorated.ChildCount()); i++ {
		child := decorated.Child(i)
		if child == nil || child.Type() != "decorator" {
			continue
		}
		param := parametrizeParam(child, source)
		if param == "" {
			continue
		}
		if seen[param] {
			name := ""
			if nameNode := def.ChildByFieldName("name"); nameNode != nil {
				name = nodeText(nameNode, source)
			}
			*out = append(*out, fmt.Sprintf("%s duplicates parametrize %q", name, param))
			continue
		}
		seen[param] = true
	}
}

// parametrizeParam returns the parameter-set name of a
// @*.mark.parametrize("name", ...) decorator, or empty for anything else.
func parametrizeParam(decorator *sitter.Node, source []byte) string {
	for j := 0; j < int(decorator.ChildCount()); j++ {
		call := decorator.Child(j)
		if call == nil || call.Type() != "call" {
			continue
		}
		fn := call.ChildByFieldName("function")
		if fn == nil || fn.Type() != "attribute" {
			continue
		}
		attr := fn.ChildByFieldName("attribute")
		if attr == nil || nodeText(attr, source) != "parametrize" {
			continue
		}
		obj := fn.ChildByFieldName("object")
		if obj == nil || obj.Type() != "attribute" {
			continue
		}
		objAttr := obj.ChildByFieldName("attribute")
		if objAttr == nil || nodeText(objAttr, source) != "mark" {
			continue
		}
		return firstStringArg(call.ChildByFieldName("arguments"), source)
	}
	return ""
}
