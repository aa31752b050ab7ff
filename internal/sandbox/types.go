// Package sandbox turns an ExecutionInfo plus a sandbox policy into a
// running, monitored child process: fork/exec with rlimits, chroot, uid
// switching, syscall whitelisting, and a monitor daemon that enforces
// wall-clock/memory limits the kernel itself won't.
package sandbox

import (
	"fmt"
	"syscall"
)

// ExitKind tags the variant held by a ProcessExitStatus.
type ExitKind int

const (
	NotExited ExitKind = iota
	Normal
	KilledBySignal
	ChildStartupFailed
	CPUTimeLimitExceeded
	RealTimeLimitExceeded
	MemoryLimitExceeded
	BannedSyscall
)

// ProcessExitStatus is the closed set of ways a monitored process can end.
// A value returned from a completed Process is never NotExited.
type ProcessExitStatus struct {
	Kind       ExitKind
	ExitCode   int         // valid when Kind == Normal
	Signal     syscall.Signal // valid when Kind == KilledBySignal
}

func (s ProcessExitStatus) String() string {
	switch s.Kind {
	case NotExited:
		return "NotExited"
	case Normal:
		return fmt.Sprintf("Normal(%d)", s.ExitCode)
	case KilledBySignal:
		return fmt.Sprintf("KilledBySignal(%d)", s.Signal)
	case ChildStartupFailed:
		return "ChildStartupFailed"
	case CPUTimeLimitExceeded:
		return "CPUTimeLimitExceeded"
	case RealTimeLimitExceeded:
		return "RealTimeLimitExceeded"
	case MemoryLimitExceeded:
		return "MemoryLimitExceeded"
	case BannedSyscall:
		return "BannedSyscall"
	default:
		return "Unknown"
	}
}

// ProcessResourceUsage holds monotonically-updated resource peaks.
type ProcessResourceUsage struct {
	UserCPUTimeMS    uint64
	KernelCPUTimeMS  uint64
	VirtualMemPeakKB uint64
	ResidentMemPeakKB uint64
}

// Update returns the element-wise maximum of a and b. It is commutative and
// idempotent.
func Update(a, b ProcessResourceUsage) ProcessResourceUsage {
	return ProcessResourceUsage{
		UserCPUTimeMS:     maxU64(a.UserCPUTimeMS, b.UserCPUTimeMS),
		KernelCPUTimeMS:   maxU64(a.KernelCPUTimeMS, b.KernelCPUTimeMS),
		VirtualMemPeakKB:  maxU64(a.VirtualMemPeakKB, b.VirtualMemPeakKB),
		ResidentMemPeakKB: maxU64(a.ResidentMemPeakKB, b.ResidentMemPeakKB),
	}
}

func (u ProcessResourceUsage) CPUTimeMS() uint64 {
	return u.UserCPUTimeMS + u.KernelCPUTimeMS
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// SystemCall names a syscall resolved by the filter library; equality is by
// kernel id, not name.
type SystemCall struct {
	Name string
	ID   int16
}

func (s SystemCall) Equal(o SystemCall) bool { return s.ID == o.ID }

// ResourceLimits bounds a monitored process. A zero value means "no daemon
// limits" (blocking mode).
type ResourceLimits struct {
	CPUTimeMS  uint64
	WallTimeMS uint64
	MemoryKB   uint64
}

// IsZero reports whether l carries no limits at all.
func (l ResourceLimits) IsZero() bool {
	return l.CPUTimeMS == 0 && l.WallTimeMS == 0 && l.MemoryKB == 0
}
