package judge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tuis-oj/judgenode/internal/ids"
	"github.com/tuis-oj/judgenode/internal/judge/checker"
	"github.com/tuis-oj/judgenode/internal/langprovider"
	"github.com/tuis-oj/judgenode/internal/sandbox"
)

// ErrInteractiveNotImplemented's message is the checker comment of the
// InteractorFailed test-case result Judge produces for JudgeMode.Interactive;
// Judge itself does not return it as an error. The pipe-wiring shape exists
// (runInteractiveTestCase) but Judge does not call it; submissions for
// interactive problems are never silently accepted.
var ErrInteractiveNotImplemented = errors.New("judge: interactive mode is not implemented")

// EnginePolicy is the engine-wide sandbox policy applied to every judgee and
// jury invocation, configured once at worker startup.
type EnginePolicy struct {
	JudgeRoot              string
	HaveJudgeUID           bool
	JudgeUID               uint32
	JudgeeSyscallWhitelist []string
	JurySyscallWhitelist   []string
	JuryCPUTimeLimitMS     uint64
	JuryRealTimeLimitMS    uint64
	JuryMemoryLimitKB      uint64
}

// Engine executes CompilationTasks and JudgeTasks against the sandbox.
type Engine struct {
	Registry *langprovider.Registry
	Policy   EnginePolicy
}

// NewEngine builds an Engine bound to a language registry and policy.
func NewEngine(registry *langprovider.Registry, policy EnginePolicy) *Engine {
	return &Engine{Registry: registry, Policy: policy}
}

// Compile resolves the task's language provider, short-circuits interpreted
// languages, and otherwise runs the provider's declared compiler invocation
// under the (unlimited) blocking monitor.
func (e *Engine) Compile(task CompilationTask) (CompilationResult, error) {
	provider, err := e.Registry.Resolve(task.Program.Triple)
	if err != nil {
		return CompilationResult{}, err
	}
	if provider.Interpreted() {
		return CompilationResult{Succeeded: true, OutputPath: task.Program.Path}, nil
	}

	outDir := task.OutDir
	if outDir == "" {
		root := e.Policy.JudgeRoot
		if root == "" {
			root = os.TempDir()
		}
		dir, err := os.MkdirTemp(root, "compile-")
		if err != nil {
			return CompilationResult{}, fmt.Errorf("judge: create compile output dir: %w", err)
		}
		outDir = dir
	}

	info, err := provider.CompilationInfo(task.Program.Path, outDir)
	if err != nil {
		return CompilationResult{}, fmt.Errorf("judge: compilation info: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return CompilationResult{}, fmt.Errorf("judge: create compiler stderr pipe: %w", err)
	}

	b := sandbox.NewProcessBuilder(info.CompilerPath)
	for _, a := range argvTail(info.Argv) {
		if err := b.AddArgv(a); err != nil {
			stderrR.Close()
			stderrW.Close()
			return CompilationResult{}, err
		}
	}
	b.WithInheritedEnv()
	for _, kv := range info.Env {
		if name, value, ok := splitEnv(kv); ok {
			if err := b.AddEnv(name, value); err != nil {
				stderrR.Close()
				stderrW.Close()
				return CompilationResult{}, err
			}
		}
	}
	b.WithStderr(stderrW)

	proc, err := b.Start()
	stderrW.Close()
	if err != nil {
		stderrR.Close()
		return CompilationResult{}, fmt.Errorf("judge: start compiler: %w", err)
	}

	stderrCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(stderrR)
		stderrCh <- data
	}()

	proc.WaitForExit()
	stderrData := <-stderrCh
	stderrR.Close()

	status := proc.ExitStatus()
	if status.Kind == sandbox.Normal && status.ExitCode == 0 {
		return CompilationResult{Succeeded: true, OutputPath: info.OutputPath}, nil
	}
	return CompilationResult{Succeeded: false, CompilerStderr: string(stderrData)}, nil
}

// Judge runs the judgee against every test case of the task in order,
// stopping at the first non-Accepted result.
func (e *Engine) Judge(task JudgeTask) (JudgeResult, error) {
	provider, err := e.Registry.Resolve(task.Judgee.Triple)
	if err != nil {
		return JudgeResult{}, err
	}
	execInfo, err := provider.ExecutionInfo(task.Judgee.Path)
	if err != nil {
		return JudgeResult{}, fmt.Errorf("judge: judgee execution info: %w", err)
	}

	scratchRoot := e.Policy.JudgeRoot
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return JudgeResult{}, fmt.Errorf("judge: create judge root: %w", err)
	}
	scratchDir := filepath.Join(scratchRoot, "task-"+ids.NewObjectID().String())
	if err := os.Mkdir(scratchDir, 0o755); err != nil {
		return JudgeResult{}, fmt.Errorf("judge: create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	judgeeTemplate := e.buildJudgeeTemplate(execInfo, task.Limits, scratchDir)

	var juryTemplate *sandbox.ProcessBuilder
	if task.Mode.Kind == ModeSpecialJudge || task.Mode.Kind == ModeInteractive {
		juryProvider, err := e.Registry.Resolve(task.Mode.Jury.Triple)
		if err != nil {
			return JudgeResult{}, err
		}
		juryExecInfo, err := juryProvider.ExecutionInfo(task.Mode.Jury.Path)
		if err != nil {
			return JudgeResult{}, fmt.Errorf("judge: jury execution info: %w", err)
		}
		juryTemplate = e.buildJuryTemplate(juryExecInfo, scratchDir)
	}

	result := JudgeResult{Verdict: Accepted}
	for _, tc := range task.TestSuite {
		var tcResult TestCaseResult
		switch task.Mode.Kind {
		case ModeStandard:
			tcResult, err = e.runStandardTestCase(judgeeTemplate, task.Mode.BuiltinChecker, tc, scratchDir)
		case ModeSpecialJudge:
			tcResult, err = e.runSpecialJudgeTestCase(judgeeTemplate, juryTemplate, tc, scratchDir)
		case ModeInteractive:
			tcResult = e.interactiveNotImplementedResult(tc)
		default:
			return JudgeResult{}, fmt.Errorf("judge: unknown judge mode %d", task.Mode.Kind)
		}
		if err != nil {
			return JudgeResult{}, err
		}
		result.append(tcResult)
		if tcResult.Verdict != Accepted {
			break
		}
	}
	return result, nil
}

func (e *Engine) buildJudgeeTemplate(info langprovider.ExecutionInfo, limits ResourceLimits, scratchDir string) *sandbox.ProcessBuilder {
	b := sandbox.NewProcessBuilder(info.ExecutablePath)
	for _, a := range argvTail(info.Argv) {
		_ = b.AddArgv(a)
	}
	for _, kv := range info.Env {
		if name, value, ok := splitEnv(kv); ok {
			_ = b.AddEnv(name, value)
		}
	}
	_ = b.AddEnv("ONLINE_JUDGE", "YES")
	if e.Policy.HaveJudgeUID {
		b.WithUID(e.Policy.JudgeUID)
	}
	b.WithWhitelist(e.Policy.JudgeeSyscallWhitelist)
	b.WithNativeRlimit(true)
	b.WithLimits(limits.toSandbox())
	b.WithChroot(scratchDir).WithWorkDir(scratchDir)
	return b
}

func (e *Engine) buildJuryTemplate(info langprovider.ExecutionInfo, scratchDir string) *sandbox.ProcessBuilder {
	b := sandbox.NewProcessBuilder(info.ExecutablePath)
	for _, a := range argvTail(info.Argv) {
		_ = b.AddArgv(a)
	}
	for _, kv := range info.Env {
		if name, value, ok := splitEnv(kv); ok {
			_ = b.AddEnv(name, value)
		}
	}
	if e.Policy.HaveJudgeUID {
		b.WithUID(e.Policy.JudgeUID)
	}
	b.WithWhitelist(e.Policy.JurySyscallWhitelist)
	b.WithNativeRlimit(true)
	b.WithLimits(sandbox.ResourceLimits{
		CPUTimeMS:  e.Policy.JuryCPUTimeLimitMS,
		WallTimeMS: e.Policy.JuryRealTimeLimitMS,
		MemoryKB:   e.Policy.JuryMemoryLimitKB,
	})
	b.WithChroot(scratchDir).WithWorkDir(scratchDir)
	return b
}

// runStandardTestCase runs the judgee, then (if it passed)
// rewind its output and run the selected built-in checker against it.
func (e *Engine) runStandardTestCase(judgeeTemplate *sandbox.ProcessBuilder, checkerKind CheckerKind, tc TestCase, scratchDir string) (TestCaseResult, error) {
	inputView, _ := readViewFile(tc.InputPath)
	answerView, _ := readViewFile(tc.AnswerPath)

	inF, err := os.Open(tc.InputPath)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open input: %w", err)
	}
	defer inF.Close()

	outF, err := os.Create(filepath.Join(scratchDir, "out-"+ids.NewObjectID().String()))
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: create output file: %w", err)
	}
	defer outF.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open devnull: %w", err)
	}
	defer devNull.Close()

	b := judgeeTemplate.Clone()
	b.WithStdin(inF).WithStdout(outF).WithStderr(devNull)

	proc, err := b.Start()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: start judgee: %w", err)
	}
	proc.WaitForExit()

	status := proc.ExitStatus()
	verdict := mapJudgeeExitStatus(status)
	result := TestCaseResult{
		Verdict:      verdict,
		JudgeeStatus: status,
		Usage:        proc.Rusage(),
		InputView:    inputView,
		AnswerView:   answerView,
	}

	if _, err := outF.Seek(0, io.SeekStart); err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: rewind output: %w", err)
	}
	outputView, err := readViewReader(outF)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: read output view: %w", err)
	}
	result.OutputView = outputView

	if verdict != Accepted {
		return result, nil
	}

	if _, err := outF.Seek(0, io.SeekStart); err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: rewind output for checker: %w", err)
	}
	ansF, err := os.Open(tc.AnswerPath)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open answer: %w", err)
	}
	defer ansF.Close()

	chk := checkerFuncFor(checkerKind)
	chkResult, err := chk(ansF, outF)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: checker: %w", err)
	}

	result.CheckerComment = chkResult.Comment
	if chkResult.Accepted {
		result.Verdict = Accepted
	} else {
		result.Verdict = WrongAnswer
	}
	return result, nil
}

// runSpecialJudgeTestCase runs the judgee, then (if it
// passed) hand the jury program the input/answer/output file descriptors by
// number and interpret its exit status.
func (e *Engine) runSpecialJudgeTestCase(judgeeTemplate, juryTemplate *sandbox.ProcessBuilder, tc TestCase, scratchDir string) (TestCaseResult, error) {
	inputView, _ := readViewFile(tc.InputPath)
	answerView, _ := readViewFile(tc.AnswerPath)

	inF, err := os.Open(tc.InputPath)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open input: %w", err)
	}
	defer inF.Close()

	ansF, err := os.Open(tc.AnswerPath)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open answer: %w", err)
	}
	defer ansF.Close()

	outF, err := os.Create(filepath.Join(scratchDir, "out-"+ids.NewObjectID().String()))
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: create output file: %w", err)
	}
	defer outF.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open devnull: %w", err)
	}
	defer devNull.Close()

	jb := judgeeTemplate.Clone()
	jb.WithStdin(inF).WithStdout(outF).WithStderr(devNull)

	proc, err := jb.Start()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: start judgee: %w", err)
	}
	proc.WaitForExit()

	status := proc.ExitStatus()
	verdict := mapJudgeeExitStatus(status)
	result := TestCaseResult{
		Verdict:      verdict,
		JudgeeStatus: status,
		Usage:        proc.Rusage(),
		InputView:    inputView,
		AnswerView:   answerView,
	}

	if _, err := outF.Seek(0, io.SeekStart); err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: rewind output: %w", err)
	}
	outputView, err := readViewReader(outF)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: read output view: %w", err)
	}
	result.OutputView = outputView

	if verdict != Accepted {
		return result, nil
	}

	for _, f := range []*os.File{inF, ansF, outF} {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return TestCaseResult{}, fmt.Errorf("judge: rewind for checker: %w", err)
		}
	}

	fds := sandbox.ExtraFileFDs(3)
	cb := juryTemplate.Clone()
	cb.WithExtraFiles(inF, ansF, outF)
	for _, fd := range fds {
		if err := cb.AddArgv(strconv.Itoa(fd)); err != nil {
			return TestCaseResult{}, err
		}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: create checker stdout pipe: %w", err)
	}
	cb.WithStdout(stdoutW)
	checkerDevNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return TestCaseResult{}, fmt.Errorf("judge: open devnull: %w", err)
	}
	cb.WithStderr(checkerDevNull)
	defer checkerDevNull.Close()

	jproc, err := cb.Start()
	stdoutW.Close()
	if err != nil {
		stdoutR.Close()
		return TestCaseResult{}, fmt.Errorf("judge: start checker: %w", err)
	}

	outCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(stdoutR)
		outCh <- data
	}()
	jproc.WaitForExit()
	juryOut := <-outCh
	stdoutR.Close()

	jStatus := jproc.ExitStatus()
	result.JuryStatus = &jStatus
	result.Usage = sandbox.Update(result.Usage, jproc.Rusage())

	switch jStatus.Kind {
	case sandbox.Normal:
		result.CheckerComment = string(juryOut)
		if jStatus.ExitCode == 0 {
			result.Verdict = Accepted
		} else {
			result.Verdict = WrongAnswer
		}
	case sandbox.KilledBySignal:
		result.Verdict = CheckerFailed
		result.CheckerComment = fmt.Sprintf("checker killed by signal: %d", jStatus.Signal)
	case sandbox.CPUTimeLimitExceeded:
		result.Verdict = CheckerFailed
		result.CheckerComment = "checker CPU time limit exceeded"
	case sandbox.RealTimeLimitExceeded:
		result.Verdict = CheckerFailed
		result.CheckerComment = "checker real time limit exceeded"
	case sandbox.MemoryLimitExceeded:
		result.Verdict = CheckerFailed
		result.CheckerComment = "checker memory limit exceeded"
	case sandbox.BannedSyscall:
		result.Verdict = CheckerFailed
		result.CheckerComment = "checker invokes banned system call"
	default:
		result.Verdict = CheckerFailed
		result.CheckerComment = fmt.Sprintf("checker %s", jStatus.String())
	}
	return result, nil
}

func (e *Engine) interactiveNotImplementedResult(tc TestCase) TestCaseResult {
	inputView, _ := readViewFile(tc.InputPath)
	answerView, _ := readViewFile(tc.AnswerPath)
	return TestCaseResult{
		Verdict:        InteractorFailed,
		CheckerComment: ErrInteractiveNotImplemented.Error(),
		InputView:      inputView,
		AnswerView:     answerView,
	}
}

// runInteractiveTestCase is the intended shape for interactive mode once it
// is finished: two pipes cross-wire judgee.stdin<->jury.stdout and
// judgee.stdout<->jury.stdin, the jury gets one extra argv token for the
// answer file's fd, both processes run under their own daemons, and the
// verdict is resolved from the judgee's exit status first, the interactor's
// second. Not yet called from Judge: see ErrInteractiveNotImplemented.
func (e *Engine) runInteractiveTestCase(judgeeTemplate, juryTemplate *sandbox.ProcessBuilder, tc TestCase) (TestCaseResult, error) {
	ansF, err := os.Open(tc.AnswerPath)
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: open answer: %w", err)
	}
	defer ansF.Close()

	judgeeInR, judgeeInW, err := os.Pipe()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: create interactive pipe: %w", err)
	}
	defer judgeeInR.Close()
	defer judgeeInW.Close()

	judgeeOutR, judgeeOutW, err := os.Pipe()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: create interactive pipe: %w", err)
	}
	defer judgeeOutR.Close()
	defer judgeeOutW.Close()

	jb := judgeeTemplate.Clone()
	jb.WithStdin(judgeeInR).WithStdout(judgeeOutW)

	ib := juryTemplate.Clone()
	ib.WithStdin(judgeeOutR).WithStdout(judgeeInW)
	ib.WithExtraFiles(ansF)
	fds := sandbox.ExtraFileFDs(1)
	if err := ib.AddArgv(strconv.Itoa(fds[0])); err != nil {
		return TestCaseResult{}, err
	}

	judgeeProc, err := jb.Start()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: start judgee: %w", err)
	}
	juryProc, err := ib.Start()
	if err != nil {
		return TestCaseResult{}, fmt.Errorf("judge: start interactor: %w", err)
	}

	judgeeProc.WaitForExit()
	juryProc.WaitForExit()

	judgeeStatus := judgeeProc.ExitStatus()
	juryStatus := juryProc.ExitStatus()

	verdict := mapJudgeeExitStatus(judgeeStatus)
	if verdict == Accepted {
		switch juryStatus.Kind {
		case sandbox.Normal:
			if juryStatus.ExitCode != 0 {
				verdict = WrongAnswer
			}
		default:
			verdict = InteractorFailed
		}
	}

	return TestCaseResult{
		Verdict:      verdict,
		JudgeeStatus: judgeeStatus,
		JuryStatus:   &juryStatus,
		Usage:        sandbox.Update(judgeeProc.Rusage(), juryProc.Rusage()),
	}, nil
}

// mapJudgeeExitStatus is the judgee exit-status-to-verdict table.
func mapJudgeeExitStatus(s sandbox.ProcessExitStatus) Verdict {
	switch s.Kind {
	case sandbox.Normal:
		return Accepted
	case sandbox.CPUTimeLimitExceeded:
		return TimeLimitExceeded
	case sandbox.RealTimeLimitExceeded:
		return IdlenessLimitExceeded
	case sandbox.MemoryLimitExceeded:
		return MemoryLimitExceeded
	case sandbox.BannedSyscall:
		return BannedSystemCall
	default:
		// KilledBySignal and ChildStartupFailed both surface as a runtime
		// fault on the judgee's side.
		return RuntimeError
	}
}

func checkerFuncFor(kind CheckerKind) checker.Func {
	switch kind {
	case CheckerFloatingPointAware:
		return checker.FloatingPointAware
	case CheckerCaseInsensitive:
		return checker.CaseInsensitive
	default:
		return checker.Default
	}
}

func argvTail(argv []string) []string {
	if len(argv) <= 1 {
		return nil
	}
	return argv[1:]
}

func splitEnv(kv string) (name, value string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}

func readViewFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return readViewReader(f)
}

func readViewReader(r io.Reader) (string, error) {
	const maxViewBytes = 200
	buf := make([]byte, maxViewBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return view(buf[:n]), nil
}
