// Package judge orchestrates compile and per-testcase judge cycles across
// standard, special-judge, and interactive modes.
package judge

import (
	"github.com/tuis-oj/judgenode/internal/langprovider"
	"github.com/tuis-oj/judgenode/internal/sandbox"
)

// Program is a source or executable path paired with its language triple.
type Program struct {
	Path   string
	Triple langprovider.LanguageTriple
}

// ProgramKind distinguishes what role a compiled program will play.
type ProgramKind int

const (
	Judgee ProgramKind = iota
	Checker
	Interactor
)

// CompilationTask asks the engine to compile one program.
type CompilationTask struct {
	Program  Program
	Kind     ProgramKind
	OutDir   string // optional; empty means engine picks a scratch dir
}

// CompilationResult is the outcome of a CompilationTask.
// Invariant: Succeeded implies OutputPath != "", !Succeeded implies
// CompilerStderr != "".
type CompilationResult struct {
	Succeeded      bool
	CompilerStderr string
	OutputPath     string
}

// Verdict is the closed set of final classifications.
type Verdict int

const (
	Accepted Verdict = iota
	WrongAnswer
	RuntimeError
	TimeLimitExceeded
	MemoryLimitExceeded
	IdlenessLimitExceeded
	BannedSystemCall
	CheckerFailed
	InteractorFailed
	JudgeFailed
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "Accepted"
	case WrongAnswer:
		return "WrongAnswer"
	case RuntimeError:
		return "RuntimeError"
	case TimeLimitExceeded:
		return "TimeLimitExceeded"
	case MemoryLimitExceeded:
		return "MemoryLimitExceeded"
	case IdlenessLimitExceeded:
		return "IdlenessLimitExceeded"
	case BannedSystemCall:
		return "BannedSystemCall"
	case CheckerFailed:
		return "CheckerFailed"
	case InteractorFailed:
		return "InteractorFailed"
	case JudgeFailed:
		return "JudgeFailed"
	default:
		return "Unknown"
	}
}

// And implements the fold rule: Accepted is the identity, any other verdict
// dominates (the first non-Accepted verdict encountered wins since the
// engine already stops iterating there, but this operator lets callers
// fold a result list directly).
func (v Verdict) And(o Verdict) Verdict {
	if v == Accepted {
		return o
	}
	return v
}

// JudgeModeKind tags the JudgeMode variant.
type JudgeModeKind int

const (
	ModeStandard JudgeModeKind = iota
	ModeSpecialJudge
	ModeInteractive
)

// CheckerKind selects which built-in checker Standard mode uses.
type CheckerKind int

const (
	CheckerDefault CheckerKind = iota
	CheckerFloatingPointAware
	CheckerCaseInsensitive
)

// JudgeMode is a closed 3-variant tagged union: Standard carries a
// built-in checker kind; SpecialJudge and Interactive carry a jury
// Program.
type JudgeMode struct {
	Kind            JudgeModeKind
	BuiltinChecker  CheckerKind
	Jury            Program
}

// ResourceLimits bounds judgee execution for one task.
type ResourceLimits struct {
	CPUTimeMS  uint64
	WallTimeMS uint64
	MemoryKB   uint64
}

func (r ResourceLimits) toSandbox() sandbox.ResourceLimits {
	return sandbox.ResourceLimits{CPUTimeMS: r.CPUTimeMS, WallTimeMS: r.WallTimeMS, MemoryKB: r.MemoryKB}
}

// TestCase names the input/answer file pair for one test.
type TestCase struct {
	InputPath  string
	AnswerPath string
}

// JudgeTask asks the engine to run a judgee against a test suite under one
// mode and resource limits.
type JudgeTask struct {
	Judgee     Program
	Mode       JudgeMode
	Limits     ResourceLimits
	TestSuite  []TestCase
}

// view truncates s to at most 200 bytes, UTF-8-lossy.
func view(s []byte) string {
	const maxView = 200
	if len(s) > maxView {
		s = s[:maxView]
	}
	return string(s)
}

// TestCaseResult is the per-test-case outcome.
type TestCaseResult struct {
	Verdict        Verdict
	JudgeeStatus   sandbox.ProcessExitStatus
	JuryStatus     *sandbox.ProcessExitStatus
	Usage          sandbox.ProcessResourceUsage
	CheckerComment string
	InputView      string
	AnswerView     string
	OutputView     string
	ErrorView      string
}

// JudgeResult is the overall outcome, maintained by folding: overall
// verdict starts at Accepted and is And-ed with each TestCaseResult's
// verdict; the list is truncated at the first non-Accepted case.
type JudgeResult struct {
	Verdict        Verdict
	Usage          sandbox.ProcessResourceUsage
	TestCaseResults []TestCaseResult
	CompileMessage *string
}

func (r *JudgeResult) append(tc TestCaseResult) {
	r.Verdict = r.Verdict.And(tc.Verdict)
	r.Usage = sandbox.Update(r.Usage, tc.Usage)
	r.TestCaseResults = append(r.TestCaseResults, tc)
}
