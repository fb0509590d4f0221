package gen

import (
	"fmt"
	"strings"

	"testmend/internal/coverage"
)

// Generation flavors. Unknown kinds fall back to unit instructions.
const (
	KindUnit        = "unit"
	KindIntegration = "integration"
	KindEndToEnd    = "e2e"
)

// How much rendered source context one prompt may carry.
const maxContextChars = 60000

// Caps on the gap listing so huge projects do not flood the prompt.
const (
	maxGapTargets = 15
	maxGapLines   = 10
)

// Request describes one shard's generation call.
type Request struct {
	Kind           string
	ShardIndex     int
	ShardCount     int
	TargetNames    []string
	Gaps           []coverage.GapRecord
	Coverage       float64
	TargetCoverage float64
	Context        string
}

const unitInstructions = `Generate comprehensive unit tests:
- Test every function, method and class named in the focus targets
- Test constructors and initialization with various parameters
- Test validation paths with valid AND invalid inputs
- Test exception handling and error conditions
- Use parametrized tests for multiple input scenarios
- Use real imports; mock only external services`

const integrationInstructions = `Generate comprehensive integration tests:
- Test component interactions with real implementations
- Test complete workflows between modules
- Test both happy paths and error scenarios
- Avoid mocking internal project components`

const endToEndInstructions = `Generate comprehensive end-to-end tests:
- Test complete user workflows
- Test API endpoints with real request and response cycles
- Test file operations with temporary files
- Include both success and failure scenarios
- Check response formats and status codes`

func kindInstructions(kind string) (string, string) {
	switch kind {
	case KindIntegration:
		return "Integration", integrationInstructions
	case KindEndToEnd:
		return "End-to-End", endToEndInstructions
	default:
		return "Unit", unitInstructions
	}
}

func buildGenPrompt(req Request) string {
	label, instructions := kindInstructions(req.Kind)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s Test Generation - File %d/%d\n\n", label, req.ShardIndex+1, req.ShardCount)
	sb.WriteString(instructions)
	sb.WriteString("\n\n")

	sb.WriteString("## Rules\n")
	sb.WriteString("- Every name in @pytest.mark.parametrize MUST appear in the test function signature.\n")
	sb.WriteString("- Never stack two @pytest.mark.parametrize decorators with the same parameter names on one function.\n")
	sb.WriteString("- Never repeat the same keyword argument in a single call.\n")
	sb.WriteString("- Use pytest.skip when a required dependency is unavailable, never fake imports.\n")
	sb.WriteString("- Output runnable Python only.\n\n")

	writeGapSection(&sb, req)

	sb.WriteString("## Focus Targets\n")
	if len(req.TargetNames) > 0 {
		sb.WriteString(strings.Join(req.TargetNames, ", "))
	} else {
		sb.WriteString("(none)")
	}
	sb.WriteString("\n\n")

	if req.Context != "" {
		// The bundle rendering fences each file itself.
		sb.WriteString("## Source Context\n")
		sb.WriteString(clipContext(req.Context))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Task\n")
	fmt.Fprintf(&sb, "Write one complete pytest test file covering the focus targets (file %d of %d).\n", req.ShardIndex+1, req.ShardCount)
	sb.WriteString("Include every import the tests need. Return ONLY Python code.\n")
	return sb.String()
}

func writeGapSection(sb *strings.Builder, req Request) {
	if len(req.Gaps) == 0 {
		return
	}

	sb.WriteString("## Coverage Gaps\n")
	fmt.Fprintf(sb, "Current coverage: %.2f%% (target %.2f%%).\n", req.Coverage, req.TargetCoverage)
	sb.WriteString("Generate tests ONLY for the uncovered code below; do not test already-covered paths.\n\n")

	shown := req.Gaps
	if len(shown) > maxGapTargets {
		shown = shown[:maxGapTargets]
	}
	for _, gap := range shown {
		sym := gap.Symbol
		fmt.Fprintf(sb, "- %s::%s (lines %d-%d), uncovered: %s\n", sym.File, sym.Name, sym.StartLine, sym.EndLine, formatLines(gap.UncoveredLines))
	}
	if rest := len(req.Gaps) - len(shown); rest > 0 {
		fmt.Fprintf(sb, "... and %d more targets with gaps\n", rest)
	}
	sb.WriteString("\n")
}

func formatLines(lines []int) string {
	shown := lines
	if len(shown) > maxGapLines {
		shown = shown[:maxGapLines]
	}
	parts := make([]string, len(shown))
	for i, n := range shown {
		parts[i] = fmt.Sprintf("%d", n)
	}
	joined := strings.Join(parts, ", ")
	if len(lines) > maxGapLines {
		return fmt.Sprintf("%s... (%d total)", joined, len(lines))
	}
	return joined
}

func clipContext(context string) string {
	if len(context) <= maxContextChars {
		return context
	}
	return context[:maxContextChars]
}
