package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const pollInterval = 10 * time.Millisecond

// clockTicksPerSec is USER_HZ, the unit /proc/<pid>/stat's utime/stime
// fields are expressed in. It is effectively always 100 on Linux
// regardless of kernel HZ.
const clockTicksPerSec = 100

// Process is a handle to a forked, monitored child. The monitor daemon
// runs on a dedicated goroutine per Process; WaitForExit joins it.
// ExitStatus/Rusage are safe to call at any time and read NotExited/zero
// before the daemon completes.
type Process struct {
	cmd    *exec.Cmd
	limits ResourceLimits

	mu         sync.Mutex
	exitStatus ProcessExitStatus
	usage      ProcessResourceUsage
	exited     bool

	done chan struct{}
}

func newProcess(cmd *exec.Cmd, limits ResourceLimits) *Process {
	return &Process{
		cmd:    cmd,
		limits: limits,
		done:   make(chan struct{}),
	}
}

// PID returns the child's process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// WaitForExit blocks until the monitor daemon has produced a final status.
func (p *Process) WaitForExit() {
	<-p.done
}

// ExitStatus returns the current exit status: NotExited before the daemon
// completes, the final status after.
func (p *Process) ExitStatus() ProcessExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

// Rusage returns the current best-known resource usage.
func (p *Process) Rusage() ProcessResourceUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

func (p *Process) setFinal(status ProcessExitStatus) {
	p.mu.Lock()
	p.exitStatus = status
	p.exited = true
	p.mu.Unlock()
	close(p.done)
}

func (p *Process) updateUsage(u ProcessResourceUsage) {
	p.mu.Lock()
	p.usage = Update(p.usage, u)
	p.mu.Unlock()
}

// startDaemon launches the monitor daemon goroutine. Blocking mode when
// limits are zero, polling mode otherwise.
func (p *Process) startDaemon() {
	if p.limits.IsZero() {
		go p.runBlocking()
		return
	}
	go p.runPolling()
}

func (p *Process) killChild() {
	if p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (p *Process) runBlocking() {
	var status ProcessExitStatus
	err := p.cmd.Wait()
	if err == nil {
		status = ProcessExitStatus{Kind: Normal, ExitCode: 0}
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		status = translateWaitStatus(exitErr.Sys().(syscall.WaitStatus))
	} else {
		// The wait-guard invariant: never leak a running child on an error
		// path we can't interpret.
		p.killChild()
		status = ProcessExitStatus{Kind: ChildStartupFailed}
	}
	p.setFinal(status)
}

func translateWaitStatus(ws syscall.WaitStatus) ProcessExitStatus {
	switch {
	case ws.Exited():
		return ProcessExitStatus{Kind: Normal, ExitCode: ws.ExitStatus()}
	case ws.Signaled():
		sig := ws.Signal()
		switch sig {
		case syscall.SIGSYS:
			return ProcessExitStatus{Kind: BannedSyscall}
		case syscall.SIGUSR1:
			return ProcessExitStatus{Kind: ChildStartupFailed}
		default:
			return ProcessExitStatus{Kind: KilledBySignal, Signal: sig}
		}
	default:
		return ProcessExitStatus{Kind: KilledBySignal, Signal: syscall.SIGKILL}
	}
}

func (p *Process) runPolling() {
	pid := p.cmd.Process.Pid
	start := time.Now()
	var finalStatus *ProcessExitStatus

	for finalStatus == nil {
		var ws syscall.WaitStatus
		wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if err != nil {
			// Wait-guard: interpret as a fault we cannot recover from.
			p.killChild()
			s := ProcessExitStatus{Kind: ChildStartupFailed}
			finalStatus = &s
			break
		}
		if wpid == pid {
			s := translateWaitStatus(ws)
			finalStatus = &s
			break
		}

		if usage, err := readProcStat(pid); err == nil {
			p.updateUsage(usage)
		}

		current := p.Rusage()
		if p.limits.CPUTimeMS > 0 && current.CPUTimeMS() > p.limits.CPUTimeMS {
			p.killChild()
			reapChild(pid)
			s := ProcessExitStatus{Kind: CPUTimeLimitExceeded}
			finalStatus = &s
			break
		}
		if p.limits.WallTimeMS > 0 && uint64(time.Since(start).Milliseconds()) > p.limits.WallTimeMS {
			p.killChild()
			reapChild(pid)
			s := ProcessExitStatus{Kind: RealTimeLimitExceeded}
			finalStatus = &s
			break
		}
		if p.limits.MemoryKB > 0 && current.VirtualMemPeakKB > p.limits.MemoryKB {
			p.killChild()
			reapChild(pid)
			s := ProcessExitStatus{Kind: MemoryLimitExceeded}
			finalStatus = &s
			break
		}

		time.Sleep(pollInterval)
	}

	p.setFinal(*finalStatus)
}

// reapChild blocks briefly for the kernel to finish delivering the kill so
// we never leave a zombie behind after a limit trip.
func reapChild(pid int) {
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, 0, nil)
}

// readProcStat samples /proc/<pid>/stat for cpu time and virtual/resident
// memory.
func readProcStat(pid int) (ProcessResourceUsage, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ProcessResourceUsage{}, err
	}
	line := string(data)
	// Fields after the ")" that closes the process name are space
	// separated and positionally fixed per proc(5).
	idx := strings.LastIndexByte(line, ')')
	if idx < 0 || idx+2 >= len(line) {
		return ProcessResourceUsage{}, fmt.Errorf("sandbox: malformed /proc/%d/stat", pid)
	}
	rest := strings.Fields(line[idx+2:])
	// rest[0] is field 3 (state); utime is field 14 -> rest[11]; stime is
	// field 15 -> rest[12]; vsize is field 23 -> rest[20]; rss is field 24
	// (pages) -> rest[21].
	utime := parseInt64Field(rest, 11)
	stime := parseInt64Field(rest, 12)
	vsize := parseInt64Field(rest, 20)
	rssPages := parseInt64Field(rest, 21)

	pageSize := int64(unix.Getpagesize())

	return ProcessResourceUsage{
		UserCPUTimeMS:     uint64(utime * 1000 / clockTicksPerSec),
		KernelCPUTimeMS:   uint64(stime * 1000 / clockTicksPerSec),
		VirtualMemPeakKB:  uint64(vsize / 1024),
		ResidentMemPeakKB: uint64(rssPages * pageSize / 1024),
	}, nil
}
