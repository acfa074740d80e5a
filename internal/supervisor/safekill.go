package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// safeKill signals pid only after confirming it is both a pid the
// child table still knows about and one whose OS-reported parent is
// this process. A pid that has already been reaped and reused by an
// unrelated process must never receive a signal meant for the child
// that used to hold it.
func (s *Supervisor) safeKill(pid int, sig syscall.Signal) error {
	rec, ok := s.Table.Lookup(pid)
	if !ok {
		return fmt.Errorf("supervisor: safeKill: pid %d not in child table", pid)
	}
	if !isOwnChild(pid) {
		return fmt.Errorf("supervisor: safeKill: pid %d is no longer our child (ppid mismatch)", pid)
	}
	if rec.Process == nil {
		return fmt.Errorf("supervisor: safeKill: no process handle for pid %d", pid)
	}
	return rec.Process.Signal(sig)
}

// isOwnChild reads /proc/<pid>/status to confirm the OS still
// considers this process pid's parent. Returns false (refuse to
// signal) on any read/parse failure, including the pid having already
// exited.
func isOwnChild(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "PPid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return false
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			return false
		}
		return ppid == os.Getpid()
	}
	return false
}
