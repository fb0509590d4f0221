package retrieval

import (
	"strings"
)

// EmptyMarker is rendered when no source context could be resolved.
const EmptyMarker = "# No relevant source code found"

// BundleFile is one whole source file included in a bundle.
type BundleFile struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// ContextBundle carries the full text of every file a fix or generation
// prompt needs. Files are whole; when the byte budget runs out, later
// files are dropped rather than cut mid-file.
type ContextBundle struct {
	TargetNames []string     `json:"target_names,omitempty"`
	Files       []BundleFile `json:"files"`
	Truncated   bool         `json:"truncated,omitempty"`
}

func (b *ContextBundle) Empty() bool {
	return b == nil || len(b.Files) == 0
}

// TotalBytes sums the included file sizes.
func (b *ContextBundle) TotalBytes() int {
	if b == nil {
		return 0
	}
	total := 0
	for _, f := range b.Files {
		total += len(f.Text)
	}
	return total
}

// Paths lists the included files in bundle order.
func (b *ContextBundle) Paths() []string {
	if b == nil {
		return nil
	}
	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Render formats the bundle for a prompt: a header line naming each file
// followed by its body in a fenced block.
func (b *ContextBundle) Render() string {
	if b.Empty() {
		return EmptyMarker
	}

	var sb strings.Builder
	for _, f := range b.Files {
		sb.WriteString("# ")
		sb.WriteString(f.Path)
		sb.WriteString("\n```python\n")
		sb.WriteString(f.Text)
		if !strings.HasSuffix(f.Text, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
