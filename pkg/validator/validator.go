// Package validator runs the fail-fast check pipeline (spec §4.5):
// diff_format, typescript/type-check, lint, unit_test, build. It never
// shells out itself — each non-builtin check is injected as a Checker,
// normally backed by the Foreman's CommandExecutor.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oakforge/devpipe/pkg/patch"
)

// CheckType is one of the fixed check kinds in the fail-fast sequence.
type CheckType string

const (
	CheckDiffFormat CheckType = "diff_format"
	CheckTypeScript CheckType = "typescript"
	CheckLint       CheckType = "lint"
	CheckUnitTest   CheckType = "unit_test"
	CheckBuild      CheckType = "build"
)

// Status is a single check's outcome.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Severity classifies a CategorizedIssue for fix-loop prioritization.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// CheckDetail is one diagnostic line a check produced (a compile error,
// a lint violation, a failing test name).
type CheckDetail struct {
	Code     string
	Message  string
	Location string
}

// CheckResult is the structured outcome of a single check.
type CheckResult struct {
	Type         CheckType
	Status       Status
	DurationMS   int64
	ErrorCount   int
	WarningCount int
	Errors       []CheckDetail
	Warnings     []CheckDetail
}

// CategorizedIssue is one piece of prioritized feedback for the fix loop.
type CategorizedIssue struct {
	ID            string
	Category      CheckType
	Severity      Severity
	Description   string
	Location      string
	SuggestedFix  string
	RelatedIssues []string
}

// Verdict is the Validator's final output for one diff.
type Verdict struct {
	Status         string // passed | failed | needs_review
	Confidence     float64
	Terminal       bool
	TerminalReason string
	Checks         []CheckResult
	Issues         []CategorizedIssue
	FixStrategy    string
}

// Target is the unit of work the Validator checks.
type Target struct {
	Diff            string
	TargetFiles     []string
	RepoDir         string
	HasBuildTarget  bool
	HasRelatedTests bool
}

// Checker runs one named check against a Target.
type Checker interface {
	Type() CheckType
	Run(ctx context.Context, target Target) CheckResult
}

// criticalTypeScriptCodes are type-check error codes considered grammar
// or symbol-resolution failures severe enough to make continuing with
// lint/test/build pointless.
var criticalTypeScriptCodes = map[string]bool{
	"TS1005": true, // expected token
	"TS1128": true, // declaration or statement expected
	"TS2304": true, // cannot find name
	"TS2307": true, // cannot find module
	"TS2305": true, // module has no exported member
}

// maxTypeErrorsBeforeTerminal caps how many type errors are tolerated
// before the Validator declares the diff unsalvageable without a replan.
const maxTypeErrorsBeforeTerminal = 50

// Runner executes the fail-fast check pipeline.
type Runner struct {
	typeCheck Checker
	lint      Checker
	unitTest  Checker
	build     Checker
}

// NewRunner constructs a Runner. Any Checker may be nil, in which case
// its check is reported Skipped.
func NewRunner(typeCheck, lint, unitTest, build Checker) *Runner {
	return &Runner{typeCheck: typeCheck, lint: lint, unitTest: unitTest, build: build}
}

// Run executes the pipeline against target and returns a Verdict.
func (r *Runner) Run(ctx context.Context, target Target) *Verdict {
	diffResult := runDiffFormatCheck(target.Diff)
	if diffResult.Status != StatusPassed {
		return &Verdict{
			Status:         "failed",
			Confidence:     0,
			Terminal:       true,
			TerminalReason: "invalid_diff_format",
			Checks:         []CheckResult{diffResult},
			Issues:         issuesFromCheck(diffResult),
			FixStrategy:    "Diff could not be parsed; regenerate the patch before retrying.",
		}
	}

	checks := []CheckResult{diffResult}

	if r.typeCheck != nil {
		tsResult := runChecked(ctx, r.typeCheck, target)
		checks = append(checks, tsResult)

		if tsResult.ErrorCount > maxTypeErrorsBeforeTerminal {
			return finalize(checks, true, "too_many_type_errors")
		}
		if hasCriticalTypeError(tsResult) {
			return finalize(checks, false, "")
		}
	} else {
		checks = append(checks, CheckResult{Type: CheckTypeScript, Status: StatusSkipped})
	}

	remaining := r.runRemainingChecks(ctx, target)
	checks = append(checks, remaining...)

	return finalize(checks, false, "")
}

// runRemainingChecks runs lint, unit_test (if related tests exist), and
// build (if a build target exists) concurrently via errgroup, but
// writes each into a fixed slot so the returned order is always
// [lint, unit_test, build] regardless of completion order.
func (r *Runner) runRemainingChecks(ctx context.Context, target Target) []CheckResult {
	slots := make([]CheckResult, 3)
	slots[0] = CheckResult{Type: CheckLint, Status: StatusSkipped}
	slots[1] = CheckResult{Type: CheckUnitTest, Status: StatusSkipped}
	slots[2] = CheckResult{Type: CheckBuild, Status: StatusSkipped}

	g, gctx := errgroup.WithContext(ctx)

	if r.lint != nil {
		g.Go(func() error {
			slots[0] = runChecked(gctx, r.lint, target)
			return nil
		})
	}
	if r.unitTest != nil && target.HasRelatedTests {
		g.Go(func() error {
			slots[1] = runChecked(gctx, r.unitTest, target)
			return nil
		})
	}
	if r.build != nil && target.HasBuildTarget {
		g.Go(func() error {
			slots[2] = runChecked(gctx, r.build, target)
			return nil
		})
	}

	_ = g.Wait() // individual checkers report failure via CheckResult, not error
	return slots
}

func runChecked(ctx context.Context, c Checker, target Target) CheckResult {
	start := time.Now()
	result := c.Run(ctx, target)
	result.Type = c.Type()
	if result.DurationMS == 0 {
		result.DurationMS = time.Since(start).Milliseconds()
	}
	return result
}

func runDiffFormatCheck(diff string) CheckResult {
	start := time.Now()
	if _, err := patch.ParseFiles(diff); err != nil {
		return CheckResult{
			Type:       CheckDiffFormat,
			Status:     StatusFailed,
			DurationMS: time.Since(start).Milliseconds(),
			ErrorCount: 1,
			Errors:     []CheckDetail{{Message: err.Error()}},
		}
	}
	return CheckResult{Type: CheckDiffFormat, Status: StatusPassed, DurationMS: time.Since(start).Milliseconds()}
}

func hasCriticalTypeError(result CheckResult) bool {
	for _, e := range result.Errors {
		if criticalTypeScriptCodes[e.Code] {
			return true
		}
	}
	return false
}

func finalize(checks []CheckResult, terminal bool, terminalReason string) *Verdict {
	passed, failed := 0, 0
	var issues []CategorizedIssue
	for _, c := range checks {
		switch c.Status {
		case StatusPassed:
			passed++
		case StatusFailed, StatusError:
			failed++
		}
		issues = append(issues, issuesFromCheck(c)...)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
	})

	confidence := 1.0
	if passed+failed > 0 {
		confidence = float64(passed) / float64(passed+failed)
	}

	status := "passed"
	switch {
	case terminal:
		status = "failed"
	case failed == 0:
		status = "passed"
	case hasCriticalIssue(issues):
		status = "failed"
	default:
		status = "needs_review"
	}

	return &Verdict{
		Status:         status,
		Confidence:     confidence,
		Terminal:       terminal,
		TerminalReason: terminalReason,
		Checks:         checks,
		Issues:         issues,
		FixStrategy:    buildFixStrategy(issues),
	}
}

func hasCriticalIssue(issues []CategorizedIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityError:
		return 1
	default:
		return 2
	}
}

func issuesFromCheck(c CheckResult) []CategorizedIssue {
	var issues []CategorizedIssue
	for i, e := range c.Errors {
		sev := SeverityError
		if criticalTypeScriptCodes[e.Code] {
			sev = SeverityCritical
		}
		issues = append(issues, CategorizedIssue{
			ID:           fmt.Sprintf("%s-error-%d", c.Type, i),
			Category:     c.Type,
			Severity:     sev,
			Description:  e.Message,
			Location:     e.Location,
			SuggestedFix: suggestFix(e),
		})
	}
	for i, w := range c.Warnings {
		issues = append(issues, CategorizedIssue{
			ID:          fmt.Sprintf("%s-warning-%d", c.Type, i),
			Category:    c.Type,
			Severity:    SeverityWarning,
			Description: w.Message,
			Location:    w.Location,
		})
	}
	return issues
}

// suggestFix offers a canned remedy for well-known error messages.
func suggestFix(e CheckDetail) string {
	msg := e.Message
	if idx := strings.Index(msg, "cannot find name '"); idx >= 0 {
		rest := msg[idx+len("cannot find name '"):]
		if end := strings.IndexByte(rest, '\''); end > 0 {
			name := rest[:end]
			return fmt.Sprintf("add an import or declaration for %q", name)
		}
	}
	if idx := strings.Index(msg, "cannot find module '"); idx >= 0 {
		rest := msg[idx+len("cannot find module '"):]
		if end := strings.IndexByte(rest, '\''); end > 0 {
			mod := rest[:end]
			return fmt.Sprintf("install or correct the import path for module %q", mod)
		}
	}
	return ""
}

// buildFixStrategy renders a step-by-step remediation plan from the
// sorted issue list.
func buildFixStrategy(issues []CategorizedIssue) string {
	if len(issues) == 0 {
		return ""
	}
	var steps []string
	for i, issue := range issues {
		step := fmt.Sprintf("%d. [%s/%s] %s", i+1, issue.Category, issue.Severity, issue.Description)
		if issue.SuggestedFix != "" {
			step += " — " + issue.SuggestedFix
		}
		steps = append(steps, step)
	}
	return strings.Join(steps, "\n")
}
