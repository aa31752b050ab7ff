package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateIsElementWiseMax(t *testing.T) {
	a := ProcessResourceUsage{UserCPUTimeMS: 10, KernelCPUTimeMS: 5, VirtualMemPeakKB: 100, ResidentMemPeakKB: 50}
	b := ProcessResourceUsage{UserCPUTimeMS: 3, KernelCPUTimeMS: 20, VirtualMemPeakKB: 40, ResidentMemPeakKB: 80}
	got := Update(a, b)
	require.Equal(t, ProcessResourceUsage{UserCPUTimeMS: 10, KernelCPUTimeMS: 20, VirtualMemPeakKB: 100, ResidentMemPeakKB: 80}, got)
}

func TestUpdateIsCommutative(t *testing.T) {
	a := ProcessResourceUsage{UserCPUTimeMS: 10, VirtualMemPeakKB: 5}
	b := ProcessResourceUsage{UserCPUTimeMS: 7, VirtualMemPeakKB: 9}
	require.Equal(t, Update(a, b), Update(b, a))
}

func TestUpdateIsIdempotent(t *testing.T) {
	a := ProcessResourceUsage{UserCPUTimeMS: 10, VirtualMemPeakKB: 5}
	require.Equal(t, Update(a, a), a)
}

func TestProcessExitStatusString(t *testing.T) {
	require.Equal(t, "Normal(0)", ProcessExitStatus{Kind: Normal}.String())
	require.Equal(t, "BannedSyscall", ProcessExitStatus{Kind: BannedSyscall}.String())
}

func TestResourceLimitsIsZero(t *testing.T) {
	require.True(t, ResourceLimits{}.IsZero())
	require.False(t, ResourceLimits{CPUTimeMS: 1}.IsZero())
}

func TestAddArgvRejectsEmbeddedNUL(t *testing.T) {
	b := NewProcessBuilder("/bin/true")
	err := b.AddArgv("bad\x00arg")
	require.Error(t, err)
}

func TestAddEnvRejectsEmbeddedNUL(t *testing.T) {
	b := NewProcessBuilder("/bin/true")
	err := b.AddEnv("BAD\x00NAME", "value")
	require.Error(t, err)
}

func TestCloneCopiesConfigNotFDs(t *testing.T) {
	b := NewProcessBuilder("/bin/true")
	require.NoError(t, b.AddArgv("x"))
	b.WithWhitelist([]string{"read", "write"})
	clone := b.Clone()
	require.Equal(t, b.argv, clone.argv)
	require.Equal(t, b.whitelist, clone.whitelist)
	require.Nil(t, clone.stdin)
	require.Nil(t, clone.stdout)
	require.Nil(t, clone.stderr)
}
