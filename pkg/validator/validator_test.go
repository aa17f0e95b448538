package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDiff = `--- main.go
+++ main.go
@@ -1,1 +1,2 @@
 package main
+// comment
`

type fakeChecker struct {
	typ    CheckType
	result CheckResult
}

func (f fakeChecker) Type() CheckType { return f.typ }
func (f fakeChecker) Run(ctx context.Context, target Target) CheckResult { return f.result }

func TestRun_InvalidDiffIsTerminal(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	verdict := r.Run(context.Background(), Target{Diff: ""})

	assert.True(t, verdict.Terminal)
	assert.Equal(t, "invalid_diff_format", verdict.TerminalReason)
	assert.Equal(t, "failed", verdict.Status)
	require.Len(t, verdict.Checks, 1)
	assert.Equal(t, CheckDiffFormat, verdict.Checks[0].Type)
}

func TestRun_AllChecksPass(t *testing.T) {
	r := NewRunner(
		fakeChecker{typ: CheckTypeScript, result: CheckResult{Status: StatusPassed}},
		fakeChecker{typ: CheckLint, result: CheckResult{Status: StatusPassed}},
		fakeChecker{typ: CheckUnitTest, result: CheckResult{Status: StatusPassed}},
		fakeChecker{typ: CheckBuild, result: CheckResult{Status: StatusPassed}},
	)
	verdict := r.Run(context.Background(), Target{
		Diff:            validDiff,
		HasRelatedTests: true,
		HasBuildTarget:  true,
	})

	assert.Equal(t, "passed", verdict.Status)
	assert.Equal(t, 1.0, verdict.Confidence)
	assert.False(t, verdict.Terminal)
	require.Len(t, verdict.Checks, 5)
	assert.Equal(t, []CheckType{CheckDiffFormat, CheckTypeScript, CheckLint, CheckUnitTest, CheckBuild}, checkTypes(verdict.Checks))
}

func TestRun_TooManyTypeErrorsIsTerminal(t *testing.T) {
	r := NewRunner(
		fakeChecker{typ: CheckTypeScript, result: CheckResult{Status: StatusFailed, ErrorCount: 51}},
		nil, nil, nil,
	)
	verdict := r.Run(context.Background(), Target{Diff: validDiff})

	assert.True(t, verdict.Terminal)
	assert.Equal(t, "too_many_type_errors", verdict.TerminalReason)
	// lint/unit_test/build never ran.
	require.Len(t, verdict.Checks, 2)
}

func TestRun_CriticalTypeErrorSkipsRemainingChecks(t *testing.T) {
	ranLint := false
	r := NewRunner(
		fakeChecker{typ: CheckTypeScript, result: CheckResult{
			Status:     StatusFailed,
			ErrorCount: 1,
			Errors:     []CheckDetail{{Code: "TS2304", Message: "cannot find name 'fmt'"}},
		}},
		lintSpy{&ranLint},
		nil, nil,
	)
	verdict := r.Run(context.Background(), Target{Diff: validDiff})

	assert.False(t, ranLint)
	assert.Equal(t, "failed", verdict.Status)
	assert.False(t, verdict.Terminal)
	require.Len(t, verdict.Checks, 2)
}

type lintSpy struct{ ran *bool }

func (l lintSpy) Type() CheckType { return CheckLint }
func (l lintSpy) Run(ctx context.Context, target Target) CheckResult {
	*l.ran = true
	return CheckResult{Status: StatusPassed}
}

func TestRun_NonCriticalFailuresYieldNeedsReview(t *testing.T) {
	r := NewRunner(
		fakeChecker{typ: CheckTypeScript, result: CheckResult{Status: StatusPassed}},
		fakeChecker{typ: CheckLint, result: CheckResult{
			Status:     StatusFailed,
			ErrorCount: 1,
			Errors:     []CheckDetail{{Message: "unused variable x"}},
		}},
		nil, nil,
	)
	verdict := r.Run(context.Background(), Target{Diff: validDiff})

	assert.Equal(t, "needs_review", verdict.Status)
	require.Len(t, verdict.Issues, 1)
	assert.Equal(t, SeverityError, verdict.Issues[0].Severity)
}

func TestRun_IssuesSortedCriticalFirst(t *testing.T) {
	r := NewRunner(
		fakeChecker{typ: CheckTypeScript, result: CheckResult{Status: StatusPassed}},
		fakeChecker{typ: CheckLint, result: CheckResult{
			Status:     StatusFailed,
			ErrorCount: 1,
			Warnings:   []CheckDetail{{Message: "style nit"}},
			Errors:     []CheckDetail{{Code: "TS2304", Message: "cannot find name 'Foo'"}},
		}},
		nil, nil,
	)
	verdict := r.Run(context.Background(), Target{Diff: validDiff})

	require.Len(t, verdict.Issues, 2)
	assert.Equal(t, SeverityCritical, verdict.Issues[0].Severity)
	assert.Equal(t, SeverityWarning, verdict.Issues[1].Severity)
	assert.Contains(t, verdict.FixStrategy, "add an import or declaration for \"Foo\"")
}

func checkTypes(results []CheckResult) []CheckType {
	out := make([]CheckType, len(results))
	for i, r := range results {
		out[i] = r.Type
	}
	return out
}
