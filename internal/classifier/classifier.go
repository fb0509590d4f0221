package classifier

import (
	"context"

	"testmend/internal/llm"
	"testmend/internal/runner"
)

// Kind is the classification verdict for one failure.
type Kind string

const (
	TestMistake Kind = "test_mistake"
	CodeDefect  Kind = "code_defect"
	Unknown     Kind = "unknown"
)

// Result is produced once per failure. SuggestedFix carries the model's
// replacement test body when it proposed one alongside the verdict.
type Result struct {
	Kind         Kind    `json:"kind"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	SuggestedFix string  `json:"suggested_fix,omitempty"`
}

// Classifier runs the deterministic rule stage first and consults the
// model only when the rules come back unknown.
type Classifier struct {
	rules *RuleClassifier
	model *ModelClassifier
}

func New(client llm.Client) *Classifier {
	return &Classifier{
		rules: NewRuleClassifier(),
		model: NewModelClassifier(client),
	}
}

func (c *Classifier) Classify(ctx context.Context, failure runner.TestFailure, testCode, sourceCode string) Result {
	if result := c.rules.Classify(failure); result.Kind == TestMistake {
		return result
	}
	return c.model.Classify(ctx, failure, testCode, sourceCode)
}
