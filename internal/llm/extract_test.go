package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "bare object",
			content:  `{"classification": "test_mistake", "confidence": 0.9}`,
			expected: `{"classification": "test_mistake", "confidence": 0.9}`,
		},
		{
			name:     "json fence",
			content:  "Here you go:\n```json\n{\"classification\": \"code_defect\"}\n```\nHope that helps.",
			expected: `{"classification": "code_defect"}`,
		},
		{
			name:     "anonymous fence",
			content:  "```\n{\"reason\": \"bad fixture\"}\n```",
			expected: `{"reason": "bad fixture"}`,
		},
		{
			name:     "object buried in prose",
			content:  `The verdict is {"classification": "unknown", "confidence": 0.2} based on the trace.`,
			expected: `{"classification": "unknown", "confidence": 0.2}`,
		},
		{
			name:     "nested object",
			content:  `Result: {"outer": {"inner": 1}, "ok": true}`,
			expected: `{"outer": {"inner": 1}, "ok": true}`,
		},
		{
			name:     "reasoning text then object",
			content:  "Let me think about this.\nThe fixture is missing.\n{\"classification\": \"test_mistake\",\n \"confidence\": 0.8}",
			expected: "{\"classification\": \"test_mistake\",\n \"confidence\": 0.8}",
		},
		{
			name:     "nothing valid returns trimmed input",
			content:  "  no json here at all  ",
			expected: "no json here at all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSON(tt.content))
		})
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "python fence",
			content:  "Here is the fix:\n```python\ndef test_ok():\n    assert True\n```\nDone.",
			expected: "def test_ok():\n    assert True",
		},
		{
			name:     "anonymous fence",
			content:  "```\ndef test_ok():\n    pass\n```",
			expected: "def test_ok():\n    pass",
		},
		{
			name:     "first python fence wins",
			content:  "```python\nfirst = 1\n```\ntext\n```python\nsecond = 2\n```",
			expected: "first = 1",
		},
		{
			name:     "no fences",
			content:  "  def test_plain():\n    assert 1  ",
			expected: "def test_plain():\n    assert 1",
		},
		{
			name:     "unterminated fence falls back to whole text",
			content:  "```oops nothing closes this",
			expected: "```oops nothing closes this",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractCode(tt.content))
		})
	}
}

func TestCleanOutput(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, cleanOutput("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, "x = 1", cleanOutput("```python\nx = 1\n```"))
	assert.Equal(t, "plain", cleanOutput("  plain  "))
}
