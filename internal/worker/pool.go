// Package worker runs the judge poll loop: claim a submission, resolve its
// problem and test archive, compile and judge it through the fork-server,
// and report the result back to the dispatcher.
package worker

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/tuis-oj/judgenode/internal/cache"
	"github.com/tuis-oj/judgenode/internal/dispatcher"
	"github.com/tuis-oj/judgenode/internal/judge"
	"github.com/tuis-oj/judgenode/internal/langprovider"
)

// DispatcherClient is the subset of *dispatcher.Client the pool depends on.
type DispatcherClient interface {
	GetSubmission(ctx context.Context) (dispatcher.SubmissionInfo, bool, error)
	PatchResult(ctx context.Context, result dispatcher.SubmissionJudgeResult) error
	PatchHeartbeat(ctx context.Context, hb dispatcher.Heartbeat) error
}

// ProblemCache is the subset of *cache.ProblemCache the pool depends on.
type ProblemCache interface {
	Get(ctx context.Context, id string) (cache.ProblemRecord, error)
}

// ArchiveCache is the subset of *cache.ArchiveCache the pool depends on.
type ArchiveCache interface {
	Get(ctx context.Context, id string) (cache.TestArchive, error)
}

// ForkServer is the subset of *forkserver.Client the pool depends on.
type ForkServer interface {
	Compile(task judge.CompilationTask) (judge.CompilationResult, error)
	Judge(task judge.JudgeTask) (judge.JudgeResult, error)
}

// Pool runs a fixed number of judge goroutines plus a heartbeat loop.
type Pool struct {
	WorkerID          string
	Dispatcher        DispatcherClient
	Problems          ProblemCache
	Archives          ArchiveCache
	ForkServer        ForkServer
	Concurrency       int
	HeartbeatInterval time.Duration
	LanguageTriples   map[string]langprovider.LanguageTriple
	ScratchDir        string
}

// Run blocks until ctx is canceled, running the configured number of worker
// goroutines plus a heartbeat loop.
func (p *Pool) Run(ctx context.Context) {
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 10 {
		concurrency = 10
	}

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(num int) {
			defer wg.Done()
			p.runWorker(ctx, num)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.heartbeatLoop(ctx)
	}()

	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, num int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jitter := time.Duration(rand.Int63n(int64(time.Second))) - 500*time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(3*time.Second + jitter):
		}

		sub, ok, err := p.Dispatcher.GetSubmission(ctx)
		if err != nil {
			log.Printf("worker[%d]: poll: %v", num, err)
			continue
		}
		if !ok {
			continue
		}

		result := p.judge(ctx, sub)
		p.patchResultWithRetry(ctx, result, num)
	}
}

func (p *Pool) patchResultWithRetry(ctx context.Context, result dispatcher.SubmissionJudgeResult, num int) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := p.Dispatcher.PatchResult(ctx, result); err != nil {
			lastErr = err
			continue
		}
		return
	}
	log.Printf("worker[%d]: patch result for %s failed after %d attempts: %v", num, result.SubmissionID, maxAttempts, lastErr)
}

func (p *Pool) judge(ctx context.Context, sub dispatcher.SubmissionInfo) dispatcher.SubmissionJudgeResult {
	fail := func(msg string) dispatcher.SubmissionJudgeResult {
		return dispatcher.SubmissionJudgeResult{
			SubmissionID: sub.ID,
			Verdict:      judge.JudgeFailed.String(),
			Message:      msg,
		}
	}

	problem, err := p.Problems.Get(ctx, sub.ProblemID)
	if err != nil {
		return fail(fmt.Sprintf("resolve problem: %v", err))
	}

	archive, err := p.Archives.Get(ctx, problem.ArchiveID)
	if err != nil {
		return fail(fmt.Sprintf("resolve archive: %v", err))
	}

	triple, ok := p.LanguageTriples[sub.Language]
	if !ok {
		return fail(fmt.Sprintf("unknown language: %s", sub.Language))
	}

	srcPath, err := writeTempSource(p.ScratchDir, sub.ID, sub.SourceCode)
	if err != nil {
		return fail(fmt.Sprintf("write source: %v", err))
	}
	defer os.Remove(srcPath)

	compileResult, err := p.ForkServer.Compile(judge.CompilationTask{
		Program: judge.Program{Path: srcPath, Triple: triple},
		Kind:    judge.Judgee,
	})
	if err != nil {
		return fail(fmt.Sprintf("compile: %v", err))
	}
	if !compileResult.Succeeded {
		msg := compileResult.CompilerStderr
		return dispatcher.SubmissionJudgeResult{
			SubmissionID: sub.ID,
			Verdict:      judge.JudgeFailed.String(),
			Message:      msg,
		}
	}

	mode, shortCircuit, err := buildJudgeMode(problem, p.LanguageTriples)
	if err != nil {
		return fail(err.Error())
	}
	if shortCircuit != nil {
		return dispatcher.SubmissionJudgeResult{SubmissionID: sub.ID, Verdict: shortCircuit.String()}
	}

	task := judge.JudgeTask{
		Judgee: judge.Program{Path: compileResult.OutputPath, Triple: triple},
		Mode:   mode,
		Limits: judge.ResourceLimits{
			CPUTimeMS:  problem.TimeLimitMS,
			WallTimeMS: 3 * problem.TimeLimitMS,
			MemoryKB:   problem.MemoryLimitKB,
		},
		TestSuite: testSuiteFrom(archive),
	}

	result, err := p.ForkServer.Judge(task)
	if err != nil {
		return fail(fmt.Sprintf("judge: %v", err))
	}

	return dispatcher.SubmissionJudgeResult{
		SubmissionID: sub.ID,
		Verdict:      result.Verdict.String(),
		TimeMS:       result.Usage.CPUTimeMS(),
		MemoryKB:     result.Usage.ResidentMemPeakKB,
	}
}

// buildJudgeMode maps a cached problem record to a judge.JudgeMode. For
// special/interactive modes with no compiled jury binary, it returns a
// short-circuit verdict instead: callers must observe this and skip judging
// entirely rather than run with a missing jury program.
func buildJudgeMode(problem cache.ProblemRecord, triples map[string]langprovider.LanguageTriple) (judge.JudgeMode, *judge.Verdict, error) {
	switch problem.JudgeMode {
	case "standard":
		return judge.JudgeMode{Kind: judge.ModeStandard, BuiltinChecker: judge.CheckerDefault}, nil, nil
	case "special", "interactive":
		if problem.JuryExecPath == nil {
			v := judge.CheckerFailed
			if problem.JudgeMode == "interactive" {
				v = judge.InteractorFailed
			}
			return judge.JudgeMode{}, &v, nil
		}
		juryTriple, ok := triples[problem.JuryLanguage]
		if !ok {
			return judge.JudgeMode{}, nil, fmt.Errorf("unknown jury language: %s", problem.JuryLanguage)
		}
		kind := judge.ModeSpecialJudge
		if problem.JudgeMode == "interactive" {
			kind = judge.ModeInteractive
		}
		return judge.JudgeMode{
			Kind: kind,
			Jury: judge.Program{Path: *problem.JuryExecPath, Triple: juryTriple},
		}, nil, nil
	default:
		return judge.JudgeMode{}, nil, fmt.Errorf("unknown judge mode: %s", problem.JudgeMode)
	}
}

func testSuiteFrom(archive cache.TestArchive) []judge.TestCase {
	out := make([]judge.TestCase, 0, len(archive.TestCases))
	for _, tc := range archive.TestCases {
		out = append(out, judge.TestCase{InputPath: tc.InputFile, AnswerPath: tc.AnswerFile})
	}
	return out
}

func writeTempSource(scratchDir, submissionID, source string) (string, error) {
	dir := scratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "submission-"+submissionID+"-*.src")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(source); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// minHeartbeatInterval is the floor on how often heartbeat packets go out,
// regardless of configuration.
const minHeartbeatInterval = 3 * time.Second

func (p *Pool) heartbeatLoop(ctx context.Context) {
	interval := p.HeartbeatInterval
	if interval < minHeartbeatInterval {
		interval = minHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb, err := newHeartbeat()
			if err != nil {
				log.Printf("worker: build heartbeat packet: %v", err)
				continue
			}
			if err := p.Dispatcher.PatchHeartbeat(ctx, hb); err != nil {
				log.Printf("worker: heartbeat: %v", err)
			}
		}
	}
}
