package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"testmend/internal/llm"
	"testmend/internal/runner"
)

const classifySystemPrompt = `You are an expert test debugging assistant. Failing tests land in one of two buckets:

1. **test_mistake**: the test code itself is wrong (bad imports, bad fixtures, wrong assertions, broken setup).
2. **code_defect**: the source code under test has a bug (logic error, wrong implementation).

When you answer test_mistake, also provide the fixed version of the test function.

CRITICAL: respond with ONLY a valid JSON object. No explanations, no reasoning text, no markdown.

Use exactly this structure:
{
  "classification": "test_mistake" or "code_defect",
  "reason": "Brief explanation of the verdict",
  "fixed_code": "Fixed version of the failing test function (test_mistake only, null otherwise)",
  "confidence": 0.8
}

Example valid response:
{"classification": "test_mistake", "reason": "Import points at the wrong module path", "fixed_code": "def test_foo():\n    ...", "confidence": 0.9}

Be conservative: when unsure, answer code_defect so tests are not rewritten to hide real bugs.`

// ModelClassifier asks the model for a verdict when the rules cannot
// decide. Transport failures and unparsable output both come back as
// unknown, never as code_defect.
type ModelClassifier struct {
	client llm.Client
}

func NewModelClassifier(client llm.Client) *ModelClassifier {
	return &ModelClassifier{client: client}
}

type modelVerdict struct {
	Classification string  `json:"classification"`
	Reason         string  `json:"reason"`
	FixedCode      string  `json:"fixed_code"`
	Confidence     float64 `json:"confidence"`
}

func (m *ModelClassifier) Classify(ctx context.Context, failure runner.TestFailure, testCode, sourceCode string) Result {
	if m.client == nil {
		return Result{Kind: Unknown, Reason: "no model configured"}
	}

	prompt := buildClassifyPrompt(failure, testCode, sourceCode)
	content, err := llm.GenerateWithRetry(ctx, m.client, classifySystemPrompt, prompt)
	if err != nil {
		log.Printf("⚠️ model classification failed for %s::%s: %v", failure.TestFile, failure.TestName, err)
		return Result{Kind: Unknown, Reason: fmt.Sprintf("model call failed: %v", err)}
	}

	var v modelVerdict
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &v); err != nil {
		log.Printf("⚠️ unparsable verdict for %s::%s: %v", failure.TestFile, failure.TestName, err)
		return Result{Kind: Unknown, Reason: "unparsable model response"}
	}

	result := Result{Reason: v.Reason, Confidence: v.Confidence}
	if result.Reason == "" {
		result.Reason = "No reason provided"
	}
	if result.Confidence == 0 {
		result.Confidence = 0.5
	}

	switch v.Classification {
	case string(TestMistake):
		result.Kind = TestMistake
		result.SuggestedFix = strings.TrimSpace(v.FixedCode)
	case string(CodeDefect):
		result.Kind = CodeDefect
	default:
		return Result{Kind: Unknown, Reason: fmt.Sprintf("unexpected classification %q", v.Classification)}
	}
	return result
}

func buildClassifyPrompt(failure runner.TestFailure, testCode, sourceCode string) string {
	line := "Unknown"
	if failure.LineNumber > 0 {
		line = strconv.Itoa(failure.LineNumber)
	}

	var sb strings.Builder
	sb.WriteString("# Test Failure Analysis\n\n")
	sb.WriteString("## Failing Test\n")
	fmt.Fprintf(&sb, "**File:** %s\n", failure.TestFile)
	fmt.Fprintf(&sb, "**Test Name:** %s\n", failure.TestName)
	fmt.Fprintf(&sb, "**Line:** %s\n\n", line)

	sb.WriteString("## Error Information\n")
	fmt.Fprintf(&sb, "**Exception Type:** %s\n", failure.ExceptionKind)
	fmt.Fprintf(&sb, "**Error Message:** %s\n\n", failure.Message)

	sb.WriteString("## Traceback\n```\n")
	sb.WriteString(failure.RawTrace)
	sb.WriteString("\n```\n\n")

	sb.WriteString("## Test Code\n```python\n")
	sb.WriteString(testCode)
	sb.WriteString("\n```\n\n")

	// The bundle rendering fences each file itself.
	sb.WriteString("## Source Code Being Tested\n")
	sb.WriteString(sourceCode)
	sb.WriteString("\n\n")

	sb.WriteString("## Task\n")
	sb.WriteString("Decide:\n")
	sb.WriteString("1. Is this a **test_mistake** (error in the test code) or a **code_defect** (error in the source code)?\n")
	sb.WriteString("2. Why?\n")
	sb.WriteString("3. If it is a test_mistake, provide the fixed test code.\n\n")
	sb.WriteString("IMPORTANT: Respond with ONLY a valid JSON object. No explanatory text, no reasoning, no markdown fences.")
	return sb.String()
}
