package classifier

import (
	"regexp"
	"strings"

	"testmend/internal/runner"
)

type signature struct {
	pattern *regexp.Regexp
	reason  string
}

func sig(expr, reason string) signature {
	return signature{pattern: regexp.MustCompile("(?i)" + expr), reason: reason}
}

// Signatures of common test-authoring mistakes, checked in order against
// the failure text. First match wins.
var testMistakeSignatures = []signature{
	sig(`ImportError|ModuleNotFoundError`, "Missing import in test"),
	sig(`cannot import name`, "Wrong import in test"),

	sig(`fixture .* not found`, "Missing or misspelled fixture"),
	sig(`fixture .* doesn't exist`, "Missing or misspelled fixture"),

	sig(`AttributeError.*Mock|MagicMock`, "Incorrect mock usage"),
	sig(`AttributeError.*has no attribute`, "Wrong attribute access in test"),

	sig(`TypeError.*takes \d+ positional argument`, "Wrong number of arguments in test"),
	sig(`TypeError.*missing \d+ required positional argument`, "Missing arguments in test"),
	sig(`TypeError.*got an unexpected keyword argument`, "Wrong keyword argument in test"),

	sig(`NameError.*name .* is not defined`, "Undefined variable in test"),

	sig(`assert None`, "Asserting on None (likely test setup issue)"),
	sig(`AssertionError.*is not True`, "Incorrect assertion pattern"),

	sig(`IndentationError`, "Indentation error in test"),
	sig(`SyntaxError`, "Syntax error in test"),

	sig(`pytest.*error|pytest.*failed`, "Test runner configuration error"),

	sig(`DatabaseError.*no such table`, "Database not set up in test"),
	sig(`OperationalError.*no such table`, "Database not set up in test"),

	sig(`FileNotFoundError`, "File not found (test setup issue)"),
	sig(`JSONDecodeError`, "Invalid JSON in test data"),
	sig(`KeyError.*in test`, "Missing key in test data"),

	sig(`No route matches`, "Incorrect route in test"),
	sig(`404.*Not Found`, "Wrong URL in test request"),

	sig(`RuntimeError.*cannot be called from a running event loop`, "Async setup issue in test"),
	sig(`asyncio.*was never awaited`, "Missing await in test"),
}

// Signatures that point at the code under test. They short-circuit the
// rule stage to unknown so the model makes the call.
var codeDefectSignatures = []signature{
	sig(`ZeroDivisionError`, "Possible code defect: division by zero"),
	sig(`ValueError.*invalid literal`, "Possible code defect: invalid value"),
	sig(`IndexError.*out of range`, "Possible code defect: index out of range"),
	sig(`RecursionError`, "Possible code defect: infinite recursion"),
}

// Exception kinds that read as test mistakes when the trace bottoms out
// inside the test file itself.
var testLocalKinds = map[string]bool{
	"AttributeError": true,
	"TypeError":      true,
	"NameError":      true,
	"ImportError":    true,
}

// RuleClassifier is the zero-cost deterministic stage. It only ever
// answers test_mistake or unknown; the defect call is left to the model.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (r *RuleClassifier) Classify(failure runner.TestFailure) Result {
	haystack := failure.ExceptionKind + ": " + failure.Message + "\n" + failure.RawTrace

	for _, s := range testMistakeSignatures {
		if s.pattern.MatchString(haystack) {
			return Result{Kind: TestMistake, Reason: s.reason, Confidence: 1}
		}
	}
	for _, s := range codeDefectSignatures {
		if s.pattern.MatchString(haystack) {
			return Result{Kind: Unknown, Reason: s.reason}
		}
	}
	if failureInTestFile(failure) && testLocalKinds[failure.ExceptionKind] {
		return Result{Kind: TestMistake, Reason: "Failure originates in the test file", Confidence: 1}
	}
	return Result{Kind: Unknown, Reason: "No signature matched"}
}

// failureInTestFile checks whether the test file shows up in the deepest
// frames of the trace.
func failureInTestFile(failure runner.TestFailure) bool {
	if failure.TestFile == "" || failure.RawTrace == "" {
		return false
	}
	lines := strings.Split(failure.RawTrace, "\n")
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	for _, line := range lines {
		if strings.Contains(line, failure.TestFile) {
			return true
		}
	}
	return false
}
