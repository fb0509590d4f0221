package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"testmend/internal/runner"
)

func TestRuleClassify(t *testing.T) {
	rules := NewRuleClassifier()

	tests := []struct {
		name    string
		failure runner.TestFailure
		kind    Kind
		reason  string
	}{
		{
			name: "missing import",
			failure: runner.TestFailure{
				TestFile:      "tests/test_api.py",
				TestName:      "test_fetch",
				ExceptionKind: "ModuleNotFoundError",
				Message:       "No module named 'app.ghost'",
				RawTrace:      "tests/test_api.py:3: in <module>\n    from app.ghost import fetch",
			},
			kind:   TestMistake,
			reason: "Missing import in test",
		},
		{
			name: "undefined name",
			failure: runner.TestFailure{
				TestFile:      "tests/test_users.py",
				TestName:      "test_user_creation",
				ExceptionKind: "NameError",
				Message:       "name 'User' is not defined",
				RawTrace:      "tests/test_users.py:14: in test_user_creation\n    u = User(\"ada\")",
			},
			kind:   TestMistake,
			reason: "Undefined variable in test",
		},
		{
			name: "missing fixture with generic kind",
			failure: runner.TestFailure{
				TestFile:      "tests/test_db.py",
				TestName:      "test_query",
				ExceptionKind: "Error",
				Message:       "fixture 'db_session' not found",
				RawTrace:      "fixture 'db_session' not found\navailable fixtures: cache, capsys",
			},
			kind:   TestMistake,
			reason: "Missing or misspelled fixture",
		},
		{
			name: "mock misuse wins over plain attribute error",
			failure: runner.TestFailure{
				TestFile:      "tests/test_client.py",
				TestName:      "test_send",
				ExceptionKind: "AttributeError",
				Message:       "Mock object has no attribute 'send_payload'",
				RawTrace:      "AttributeError: Mock object has no attribute 'send_payload'",
			},
			kind:   TestMistake,
			reason: "Incorrect mock usage",
		},
		{
			name: "signature drift",
			failure: runner.TestFailure{
				TestFile:      "tests/test_calc.py",
				TestName:      "test_add",
				ExceptionKind: "TypeError",
				Message:       "add() takes 2 positional arguments but 3 were given",
				RawTrace:      "TypeError: add() takes 2 positional arguments but 3 were given",
			},
			kind:   TestMistake,
			reason: "Wrong number of arguments in test",
		},
		{
			name: "case insensitive matching",
			failure: runner.TestFailure{
				TestFile:      "tests/test_api.py",
				TestName:      "test_fetch",
				ExceptionKind: "importerror",
				Message:       "cannot load module",
				RawTrace:      "",
			},
			kind:   TestMistake,
			reason: "Missing import in test",
		},
		{
			name: "wrong url",
			failure: runner.TestFailure{
				TestFile:      "tests/test_routes.py",
				TestName:      "test_health",
				ExceptionKind: "AssertionError",
				Message:       "assert '404 Not Found' not in response.text",
				RawTrace:      "E   assert '404 Not Found' not in response.text",
			},
			kind:   TestMistake,
			reason: "Wrong URL in test request",
		},
		{
			name: "division by zero stays open for the model",
			failure: runner.TestFailure{
				TestFile:      "tests/test_math.py",
				TestName:      "test_ratio",
				ExceptionKind: "ZeroDivisionError",
				Message:       "division by zero",
				RawTrace:      "app/calc.py:22: in ratio\n    return a / b",
			},
			kind:   Unknown,
			reason: "Possible code defect: division by zero",
		},
		{
			name: "deep frame in test file",
			failure: runner.TestFailure{
				TestFile:      "tests/test_math.py",
				TestName:      "test_add",
				ExceptionKind: "TypeError",
				Message:       "unsupported operand type(s) for +: 'int' and 'str'",
				RawTrace:      "def test_add():\n>       total = add(1, '2')\n\ntests/test_math.py:12: TypeError",
			},
			kind:   TestMistake,
			reason: "Failure originates in the test file",
		},
		{
			name: "deep frame outside test file",
			failure: runner.TestFailure{
				TestFile:      "tests/test_math.py",
				TestName:      "test_add",
				ExceptionKind: "TypeError",
				Message:       "unsupported operand type(s) for +: 'int' and 'str'",
				RawTrace:      "app/calc.py:8: TypeError",
			},
			kind:   Unknown,
			reason: "No signature matched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rules.Classify(tt.failure)
			assert.Equal(t, tt.kind, result.Kind)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestRuleClassifyIsDeterministic(t *testing.T) {
	rules := NewRuleClassifier()
	failure := runner.TestFailure{
		TestFile:      "tests/test_users.py",
		TestName:      "test_user_creation",
		ExceptionKind: "NameError",
		Message:       "name 'User' is not defined",
		RawTrace:      "tests/test_users.py:14: in test_user_creation",
	}

	first := rules.Classify(failure)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, rules.Classify(failure))
	}
}
