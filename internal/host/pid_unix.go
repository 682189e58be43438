//go:build !windows
// +build !windows

package host

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"
)

// pidAlive reports whether the process with the given pid still exists.
// Signal 0 performs the existence check without delivering anything.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}

// WaitForPID blocks until the process with the given pid exits or ctx is
// done. The pid is not necessarily a child of this process, so the wait
// polls for existence at a short fixed interval.
func WaitForPID(ctx context.Context, pid int, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !pidAlive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// KillPID terminates an arbitrary process by pid. A pid that already
// exited is not an error.
func KillPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !isAlreadyFinished(err) {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}
