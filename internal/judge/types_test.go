package judge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuis-oj/judgenode/internal/sandbox"
)

func TestVerdictAndIsAcceptedIdentity(t *testing.T) {
	require.Equal(t, WrongAnswer, Accepted.And(WrongAnswer))
	require.Equal(t, Accepted, Accepted.And(Accepted))
}

func TestVerdictAndKeepsFirstNonAccepted(t *testing.T) {
	require.Equal(t, TimeLimitExceeded, TimeLimitExceeded.And(WrongAnswer))
}

func TestVerdictStringKnownValues(t *testing.T) {
	require.Equal(t, "Accepted", Accepted.String())
	require.Equal(t, "BannedSystemCall", BannedSystemCall.String())
	require.Equal(t, "JudgeFailed", JudgeFailed.String())
}

func TestJudgeResultAppendFoldsVerdictAndUsage(t *testing.T) {
	var r JudgeResult
	r.Verdict = Accepted
	r.append(TestCaseResult{Verdict: Accepted, Usage: sandbox.ProcessResourceUsage{UserCPUTimeMS: 10, VirtualMemPeakKB: 20}})
	r.append(TestCaseResult{Verdict: WrongAnswer, Usage: sandbox.ProcessResourceUsage{UserCPUTimeMS: 30, VirtualMemPeakKB: 5}})
	require.Equal(t, WrongAnswer, r.Verdict)
	require.Len(t, r.TestCaseResults, 2)
	require.Equal(t, uint64(30), r.Usage.UserCPUTimeMS)
	require.Equal(t, uint64(20), r.Usage.VirtualMemPeakKB)
}

func TestViewTruncatesTo200Bytes(t *testing.T) {
	big := make([]byte, 500)
	for i := range big {
		big[i] = 'a'
	}
	require.Len(t, view(big), 200)
}

func TestViewPassesThroughShortInput(t *testing.T) {
	require.Equal(t, "hi", view([]byte("hi")))
}
