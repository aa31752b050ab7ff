package judge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuis-oj/judgenode/internal/judge/checker"
	"github.com/tuis-oj/judgenode/internal/sandbox"
)

func TestMapJudgeeExitStatusTable(t *testing.T) {
	cases := []struct {
		status sandbox.ProcessExitStatus
		want   Verdict
	}{
		{sandbox.ProcessExitStatus{Kind: sandbox.Normal}, Accepted},
		{sandbox.ProcessExitStatus{Kind: sandbox.KilledBySignal}, RuntimeError},
		{sandbox.ProcessExitStatus{Kind: sandbox.ChildStartupFailed}, RuntimeError},
		{sandbox.ProcessExitStatus{Kind: sandbox.CPUTimeLimitExceeded}, TimeLimitExceeded},
		{sandbox.ProcessExitStatus{Kind: sandbox.RealTimeLimitExceeded}, IdlenessLimitExceeded},
		{sandbox.ProcessExitStatus{Kind: sandbox.MemoryLimitExceeded}, MemoryLimitExceeded},
		{sandbox.ProcessExitStatus{Kind: sandbox.BannedSyscall}, BannedSystemCall},
	}
	for _, c := range cases {
		require.Equal(t, c.want, mapJudgeeExitStatus(c.status), "status %v", c.status)
	}
}

func TestArgvTailDropsExecutable(t *testing.T) {
	require.Nil(t, argvTail([]string{"/bin/gcc"}))
	require.Equal(t, []string{"-O2", "a.c"}, argvTail([]string{"/bin/gcc", "-O2", "a.c"}))
}

func TestSplitEnv(t *testing.T) {
	name, value, ok := splitEnv("PATH=/usr/bin")
	require.True(t, ok)
	require.Equal(t, "PATH", name)
	require.Equal(t, "/usr/bin", value)

	_, _, ok = splitEnv("no-equals-sign")
	require.False(t, ok)
}

func TestCheckerFuncForSelectsByKind(t *testing.T) {
	r, err := checkerFuncFor(CheckerCaseInsensitive)(strings.NewReader("AbC"), strings.NewReader("abc"))
	require.NoError(t, err)
	require.True(t, r.Accepted)

	r, err = checkerFuncFor(CheckerDefault)(strings.NewReader("AbC"), strings.NewReader("abc"))
	require.NoError(t, err)
	require.False(t, r.Accepted)

	_, err = checkerFuncFor(CheckerFloatingPointAware)(strings.NewReader("1.0"), strings.NewReader("1.0000001"))
	require.NoError(t, err)
}

func TestReadViewReaderTruncates(t *testing.T) {
	big := strings.Repeat("x", 500)
	v, err := readViewReader(strings.NewReader(big))
	require.NoError(t, err)
	require.Len(t, v, 200)
}

func TestReadViewReaderShortInput(t *testing.T) {
	v, err := readViewReader(strings.NewReader("short"))
	require.NoError(t, err)
	require.Equal(t, "short", v)
}

func TestInteractiveNotImplementedResult(t *testing.T) {
	e := &Engine{}
	tc := TestCase{InputPath: "/dev/null", AnswerPath: "/dev/null"}
	result := e.interactiveNotImplementedResult(tc)
	require.Equal(t, InteractorFailed, result.Verdict)
	require.Equal(t, ErrInteractiveNotImplemented.Error(), result.CheckerComment)
}

var _ checker.Func = checkerFuncFor(CheckerDefault)
