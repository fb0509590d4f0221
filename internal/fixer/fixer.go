package fixer

import (
	"context"
	"fmt"
	"strings"

	"testmend/internal/llm"
	"testmend/internal/runner"
)

const fixSystemPrompt = `You are an expert Python test fixing assistant. Your job is to fix failing test code.

Given:
1. A failing test function
2. The error/traceback
3. Relevant source code being tested

Generate a fixed version of the test function that will pass.

Rules:
- Fix ONLY the test code, never modify source code
- Preserve the test's original intent and coverage goals
- Fix common issues: imports, fixtures, assertions, mocks, setup/teardown
- Ensure the fixed test is syntactically correct
- Return ONLY the complete fixed test function, no explanations
- Include all necessary imports if they're missing
- Use proper pytest conventions

Return the complete fixed test function code.`

// How much of a failed attempt's runner output gets replayed to the model.
const previousOutputLimit = 2000

// Request carries everything one fix call needs. PreviousFix and
// PreviousOutput are empty on the first attempt and describe the latest
// miss on retries.
type Request struct {
	Failure        runner.TestFailure
	TestCode       string
	SourceCode     string
	PreviousFix    string
	PreviousOutput string
}

// Fixer turns a classified test mistake into replacement test code.
type Fixer struct {
	client llm.Client
}

func New(client llm.Client) *Fixer {
	return &Fixer{client: client}
}

// Fix asks for a corrected version of the failing test and returns the
// extracted code block.
func (f *Fixer) Fix(ctx context.Context, req Request) (string, error) {
	if f.client == nil {
		return "", fmt.Errorf("no model configured")
	}

	content, err := llm.GenerateWithRetry(ctx, f.client, fixSystemPrompt, buildFixPrompt(req))
	if err != nil {
		return "", fmt.Errorf("requesting fix for %s::%s: %w", req.Failure.TestFile, req.Failure.TestName, err)
	}

	code := llm.ExtractCode(content)
	if code == "" {
		return "", fmt.Errorf("model returned no code for %s::%s", req.Failure.TestFile, req.Failure.TestName)
	}
	return code, nil
}

func buildFixPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("# Fix This Failing Test\n\n")

	sb.WriteString("## Original Test Code\n```python\n")
	sb.WriteString(req.TestCode)
	sb.WriteString("\n```\n\n")

	sb.WriteString("## Error Information\n")
	fmt.Fprintf(&sb, "**Exception:** %s\n", req.Failure.ExceptionKind)
	fmt.Fprintf(&sb, "**Message:** %s\n\n", req.Failure.Message)

	sb.WriteString("## Traceback\n```\n")
	sb.WriteString(req.Failure.RawTrace)
	sb.WriteString("\n```\n\n")

	// The bundle rendering fences each file itself.
	sb.WriteString("## Source Code Being Tested\n")
	sb.WriteString(req.SourceCode)
	sb.WriteString("\n")

	if req.PreviousFix != "" && req.PreviousOutput != "" {
		sb.WriteString("\n## Previous Fix Attempt (Failed)\n```python\n")
		sb.WriteString(req.PreviousFix)
		sb.WriteString("\n```\n\n")
		sb.WriteString("## Why the Previous Fix Failed\n")
		sb.WriteString("Running the tests with the fix above still failed with this output:\n\n```\n")
		sb.WriteString(clip(req.PreviousOutput, previousOutputLimit))
		sb.WriteString("\n```\n\n")
		sb.WriteString("**IMPORTANT:** Analyze WHY this fix failed:\n")
		sb.WriteString("- Are there other dependencies or fixtures that need to be mocked?\n")
		sb.WriteString("- Is the mock setup incorrect?\n")
		sb.WriteString("- Are there missing imports?\n")
		sb.WriteString("- Does the test need different assertions?\n\n")
		sb.WriteString("Generate a NEW fix that addresses these specific failure reasons. Don't repeat the same approach!\n")
	} else if req.PreviousFix != "" {
		sb.WriteString("\n## Previous Fix Attempt (Failed)\n```python\n")
		sb.WriteString(req.PreviousFix)
		sb.WriteString("\n```\n\n")
		sb.WriteString("The previous fix attempt failed. Try a different approach.\n")
	}

	sb.WriteString("\n## Task\n")
	sb.WriteString("Generate a fixed version of the test function that will pass.\n\n")
	sb.WriteString("**Common patterns to fix:**\n")
	sb.WriteString("1. **Missing mocking:** use `monkeypatch.setattr()` or `@patch()` for external dependencies (databases, APIs, environment).\n")
	sb.WriteString("2. **Incorrect imports:** ensure all required imports are present and module paths are correct.\n")
	sb.WriteString("3. **Wrong test setup:** initialize fixtures properly and set up test data correctly.\n")
	sb.WriteString("4. **Bad assertions:** assert on the values the source code actually produces.\n\n")
	sb.WriteString("Return ONLY the complete fixed test function code (include decorators, docstring, everything).\n")
	return sb.String()
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
