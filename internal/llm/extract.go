package llm

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// cleanOutput strips a code fence wrapping the whole completion.
func cleanOutput(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"```json", "```python", "```markdown"} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			text = strings.TrimSuffix(text, "```")
			return strings.TrimSpace(text)
		}
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

var objectPattern = regexp.MustCompile(`\{(?:[^{}]|(?:\{[^{}]*\}))*\}`)

// ExtractJSON digs a JSON object out of a completion that may wrap it in
// fences, prose, or reasoning text. When nothing validates, the trimmed
// input comes back so the caller's decoder reports the real problem.
func ExtractJSON(content string) string {
	if strings.Contains(content, "```json") {
		part := strings.SplitN(content, "```json", 2)[1]
		return strings.TrimSpace(strings.SplitN(part, "```", 2)[0])
	}

	if strings.Contains(content, "```") {
		parts := strings.Split(content, "```")
		for i := 1; i < len(parts); i += 2 {
			part := strings.TrimSpace(parts[i])
			if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
				return part
			}
		}
	}

	matches := objectPattern.FindAllString(content, -1)
	sort.Slice(matches, func(i, j int) bool { return len(matches[i]) > len(matches[j]) })
	for _, m := range matches {
		if json.Valid([]byte(m)) {
			return m
		}
	}

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first != -1 && last > first {
		candidate := content[first : last+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}

	// Reasoning models tend to emit thinking text, then the object on its
	// own lines.
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "{") {
			continue
		}
		rest := strings.Join(lines[i:], "\n")
		first := strings.Index(rest, "{")
		last := strings.LastIndex(rest, "}")
		if first == -1 || last <= first {
			continue
		}
		candidate := rest[first : last+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}

	return strings.TrimSpace(content)
}

// ExtractCode pulls the first fenced code block out of a completion,
// preferring python-tagged fences. Unfenced completions come back whole.
func ExtractCode(content string) string {
	if strings.Contains(content, "```python") {
		part := strings.SplitN(content, "```python", 2)[1]
		return strings.TrimSpace(strings.SplitN(part, "```", 2)[0])
	}

	if strings.Contains(content, "```") {
		parts := strings.Split(content, "```")
		if len(parts) >= 3 {
			return strings.TrimSpace(parts[1])
		}
	}

	return strings.TrimSpace(content)
}
