package sandbox

import (
	"fmt"

	seccomp "github.com/seccomp/libseccomp-golang"
)

// installSeccompFilter installs a default-kill-process filter that allows
// exactly the named syscalls. Any syscall not on the list terminates the
// process as if by SIGSYS.
func installSeccompFilter(names []string) error {
	filter, err := seccomp.NewFilter(seccomp.ActKillProcess)
	if err != nil {
		return fmt.Errorf("sandbox: create seccomp filter: %w", err)
	}
	defer filter.Release()

	for _, name := range names {
		sc, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			return fmt.Errorf("sandbox: unknown syscall %q: %w", name, err)
		}
		if err := filter.AddRule(sc, seccomp.ActAllow); err != nil {
			return fmt.Errorf("sandbox: allow %q: %w", name, err)
		}
	}

	if err := filter.Load(); err != nil {
		return fmt.Errorf("sandbox: load seccomp filter: %w", err)
	}
	return nil
}

// ResolveSyscall resolves a syscall by name via the filter library, for
// use outside of filter installation (e.g. config validation at startup).
func ResolveSyscall(name string) (SystemCall, error) {
	sc, err := seccomp.GetSyscallFromName(name)
	if err != nil {
		return SystemCall{}, fmt.Errorf("sandbox: unknown syscall %q: %w", name, err)
	}
	return SystemCall{Name: name, ID: int16(sc)}, nil
}
