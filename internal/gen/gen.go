package gen

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"testmend/internal/extractor"
	"testmend/internal/llm"
)

// ErrRejected marks completions that failed validation, as opposed to
// transport errors. Callers drop and count these.
var ErrRejected = errors.New("generated code rejected")

const genSystemPrompt = `You are an expert Python test engineer. Generate pytest test code that raises line coverage.

Requirements:
- Use real imports and real code execution whenever possible
- Test success paths AND error conditions
- Include edge cases: empty inputs, None values, invalid data
- Generate multiple test functions per target
- Return ONLY Python code, no explanations`

// Result is one accepted model completion: extracted code plus how many
// test functions it defines.
type Result struct {
	Code      string
	TestCount int
}

// Generator turns one shard of gap targets into a pytest file. Output is
// parsed before it is accepted, so callers never place broken files.
type Generator struct {
	client llm.Client
	ext    *extractor.Extractor
}

func New(client llm.Client, ext *extractor.Extractor) *Generator {
	return &Generator{client: client, ext: ext}
}

// Generate requests tests for the shard described by req and returns the
// extracted code once it passes validation. Invalid completions are an
// error so the caller can count the dropped shard and move on.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if g.client == nil {
		return nil, fmt.Errorf("no model configured")
	}

	content, err := llm.GenerateWithRetry(ctx, g.client, genSystemPrompt, buildGenPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("requesting tests for shard %d: %w", req.ShardIndex+1, err)
	}

	code := llm.ExtractCode(content)
	if err := g.ValidateTests(ctx, code); err != nil {
		return nil, fmt.Errorf("shard %d: %w: %v", req.ShardIndex+1, ErrRejected, err)
	}

	return &Result{Code: code, TestCount: CountTests(code)}, nil
}

// ValidateTests accepts code only when it parses and defines at least one
// test function.
func (g *Generator) ValidateTests(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("empty completion")
	}
	if !testDefPattern.MatchString(code) {
		return fmt.Errorf("no test functions")
	}
	return g.ext.Validate(ctx, []byte(code))
}

var testDefPattern = regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+test_\w+`)

// CountTests counts the test functions defined in code.
func CountTests(code string) int {
	return len(testDefPattern.FindAllString(code, -1))
}
