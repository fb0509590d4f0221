package patch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"testmend/internal/extractor"
	"testmend/internal/llm"
)

// Outcome records one patch attempt. Applied means a splice was written to
// disk; Validated means the rewritten file parsed cleanly and was kept.
// When Applied is true and Validated is false the original bytes were
// restored, so the file on disk is never left broken.
type Outcome struct {
	Target    string `json:"target"`
	File      string `json:"file"`
	Applied   bool   `json:"applied"`
	Validated bool   `json:"validated"`
	Reason    string `json:"reason,omitempty"`
}

// Engine splices replacement definitions into source files. Replacement
// code is located by definition name, re-indented to the original position
// and validated by a full re-parse before the write is kept.
type Engine struct {
	ext *extractor.Extractor
}

func NewEngine(ext *extractor.Extractor) *Engine {
	return &Engine{ext: ext}
}

// Apply replaces the named definition in the file with the replacement
// code. Parametrize suffixes on the target name ("test_x[case]") are
// stripped before lookup. A missing target or an empty replacement is an
// error; a replacement that leaves the file unparsable or with duplicated
// parametrize decorators is rolled back and reported in the outcome.
func (e *Engine) Apply(ctx context.Context, path, target, replacement string) (*Outcome, error) {
	if i := strings.Index(target, "["); i >= 0 {
		target = target[:i]
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	extraction, err := e.ext.ExtractSource(ctx, original, path)
	if err != nil {
		return nil, err
	}

	sym := findDefinition(extraction.Symbols, target)
	if sym == nil {
		return nil, fmt.Errorf("definition %q not found in %s (%s)", target, path, availableDefinitions(extraction.Symbols))
	}

	lines := strings.Split(string(original), "\n")
	if sym.StartLine < 1 || sym.EndLine > len(lines) {
		return nil, fmt.Errorf("definition %q spans lines %d-%d but %s has %d lines", target, sym.StartLine, sym.EndLine, path, len(lines))
	}

	prepared := prepareReplacement(replacement, leadingWhitespace(lines[sym.StartLine-1]))
	if len(prepared) == 0 {
		return nil, fmt.Errorf("replacement for %q is empty", target)
	}

	patched := make([]string, 0, len(lines)-(sym.EndLine-sym.StartLine+1)+len(prepared))
	patched = append(patched, lines[:sym.StartLine-1]...)
	patched = append(patched, prepared...)
	patched = append(patched, lines[sym.EndLine:]...)

	if err := os.WriteFile(path, []byte(strings.Join(patched, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file %s: %w", path, err)
	}

	outcome := &Outcome{Target: target, File: path, Applied: true}

	written, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", path, err)
	}

	if verr := e.ext.Validate(ctx, written); verr != nil {
		if err := os.WriteFile(path, original, 0o644); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", path, err)
		}
		outcome.Reason = fmt.Sprintf("patched file failed to parse: %v", verr)
		return outcome, nil
	}

	conflicts, cerr := e.ext.ParametrizeConflicts(ctx, written)
	if cerr != nil || len(conflicts) > 0 {
		if err := os.WriteFile(path, original, 0o644); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", path, err)
		}
		if cerr != nil {
			outcome.Reason = fmt.Sprintf("decorator check failed: %v", cerr)
		} else {
			outcome.Reason = "duplicate decorators: " + strings.Join(conflicts, "; ")
		}
		return outcome, nil
	}

	outcome.Validated = true
	return outcome, nil
}

// findDefinition returns the first function, method or route definition
// with the given name. Classes are not patch targets.
func findDefinition(symbols []extractor.Symbol, name string) *extractor.Symbol {
	for i := range symbols {
		if symbols[i].Kind == extractor.KindClass {
			continue
		}
		if symbols[i].Name == name {
			return &symbols[i]
		}
	}
	return nil
}

func availableDefinitions(symbols []extractor.Symbol) string {
	var names []string
	for i := range symbols {
		if symbols[i].Kind == extractor.KindClass {
			continue
		}
		names = append(names, symbols[i].Name)
	}
	if len(names) == 0 {
		return "no definitions found"
	}
	const limit = 10
	if len(names) > limit {
		return fmt.Sprintf("defines: %s ... and %d more", strings.Join(names[:limit], ", "), len(names)-limit)
	}
	return "defines: " + strings.Join(names, ", ")
}

// prepareReplacement normalizes model output for splicing: code fences are
// stripped, surrounding blank lines dropped, the block dedented to its own
// minimum indent and re-indented to the target position. Blank lines stay
// empty instead of carrying trailing whitespace.
func prepareReplacement(replacement, indent string) []string {
	code := llm.ExtractCode(replacement)
	if code == "" {
		return nil
	}

	lines := strings.Split(code, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if w := len(leadingWhitespace(line)); minIndent < 0 || w < minIndent {
			minIndent = w
		}
	}
	if minIndent < 0 {
		minIndent = 0
	}

	prepared := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			prepared = append(prepared, "")
			continue
		}
		if len(line) > minIndent {
			prepared = append(prepared, indent+line[minIndent:])
		} else {
			prepared = append(prepared, indent+strings.TrimLeft(line, " \t"))
		}
	}
	return prepared
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
