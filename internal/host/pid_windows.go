//go:build windows
// +build windows

package host

import (
	"context"
	"os"
	"time"
)

// pidAlive reports whether the process with the given pid still exists.
// On Windows os.FindProcess opens a real handle and fails for a dead pid.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// WaitForPID blocks until the process with the given pid exits or ctx is
// done, polling for existence at a short fixed interval.
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

// KillPID terminates an arbitrary process by pid, tolerating a process
// that already exited.
func KillPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	defer proc.Release()
	if err := proc.Kill(); err != nil && !isAlreadyFinished(err) {
		return err
	}
	return nil
}
