package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// reexecEnvVar marks a process as the reexec'd sandbox init helper. The
// worker binary must call MaybeRunInit at the very top of main, before
// anything else touches the filesystem or spawns goroutines: the init
// helper never returns on the success path (it execve's the real target).
const reexecEnvVar = "JUDGENODE_SANDBOX_INIT"

const initRequestFD = 3

// initRequest is what the parent ProcessBuilder hands the reexec'd helper
// over an anonymous pipe passed as fd 3.
type initRequest struct {
	Executable   string
	Argv         []string
	Env          []string
	WorkDir      string
	ChrootDir    string
	UID          uint32
	HaveUID      bool
	NativeRlimit bool
	Limits       ResourceLimits
	Whitelist    []string
}

// MaybeRunInit checks whether the current process was reexec'd as a sandbox
// init helper and, if so, applies the sandbox policy it was handed and never
// returns: it either execve's the target program or kills itself with
// SIGUSR1 to signal ChildStartupFailed to the parent's monitor.
func MaybeRunInit() {
	if os.Getenv(reexecEnvVar) == "" {
		return
	}
	runInit()
}

func runInit() {
	f := os.NewFile(uintptr(initRequestFD), "sandbox-init-request")
	var req initRequest
	dec := json.NewDecoder(f)
	if err := dec.Decode(&req); err != nil {
		failStartup()
	}
	f.Close()

	exe, err := resolveExecutable(req.Executable)
	if err != nil {
		failStartup()
	}

	if req.HaveUID {
		if err := syscall.Setuid(int(req.UID)); err != nil {
			failStartup()
		}
	}

	if req.WorkDir != "" {
		if err := os.Chdir(req.WorkDir); err != nil {
			failStartup()
		}
	}
	if req.ChrootDir != "" {
		if err := unix.Chroot(req.ChrootDir); err != nil {
			failStartup()
		}
		if err := os.Chdir("/"); err != nil {
			failStartup()
		}
	}

	if req.NativeRlimit {
		if req.Limits.CPUTimeMS > 0 {
			secs := (req.Limits.CPUTimeMS + 999) / 1000
			rl := unix.Rlimit{Cur: secs, Max: secs}
			if err := unix.Setrlimit(unix.RLIMIT_CPU, &rl); err != nil {
				failStartup()
			}
		}
		if req.Limits.MemoryKB > 0 {
			bytes := req.Limits.MemoryKB * 1024
			rl := unix.Rlimit{Cur: bytes, Max: bytes}
			if err := unix.Setrlimit(unix.RLIMIT_AS, &rl); err != nil {
				failStartup()
			}
		}
	}

	if len(req.Whitelist) > 0 {
		if err := installSeccompFilter(req.Whitelist); err != nil {
			failStartup()
		}
	}

	argv := req.Argv
	if len(argv) == 0 {
		argv = []string{exe}
	}
	if err := syscall.Exec(exe, argv, req.Env); err != nil {
		failStartup()
	}
	// unreachable
}

// failStartup delivers SIGUSR1 to self, the documented internal signal for
// "startup failed before execve", and never returns.
func failStartup() {
	signal := syscall.SIGUSR1
	_ = syscall.Kill(os.Getpid(), signal)
	// Belt and braces in case the signal is somehow not delivered.
	os.Exit(127)
}

func resolveExecutable(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sandbox: empty executable path")
	}
	if strings.Contains(path, "/") {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("sandbox: file not found: %s", path)
	}
	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, path)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("sandbox: file not found: %s", path)
}

func parseInt64Field(fields []string, idx int) int64 {
	if idx >= len(fields) {
		return 0
	}
	v, _ := strconv.ParseInt(fields[idx], 10, 64)
	return v
}
