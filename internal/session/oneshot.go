package session

import (
	"context"
	"sync"
)

// ExitFuture is a single-resolution completion signal. The first Resolve
// wins and later resolutions are no-ops; any number of observers may wait
// before or after resolution and all see the same code.
type ExitFuture struct {
	mu       sync.Mutex
	done     chan struct{}
	code     int
	resolved bool
}

func newExitFuture() *ExitFuture {
	return &ExitFuture{done: make(chan struct{})}
}

// Resolve sets the exit code. It returns true on the winning call.
func (f *ExitFuture) Resolve(code int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.code = code
	close(f.done)
	return true
}

// Resolved reports whether a code has been set.
func (f *ExitFuture) Resolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Code returns the exit code and whether it has been set.
func (f *ExitFuture) Code() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.resolved
}

// Done returns a channel closed on resolution.
func (f *ExitFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until resolution or until ctx is done.
func (f *ExitFuture) Wait(ctx context.Context) (int, error) {
	select {
	case <-f.done:
		code, _ := f.Code()
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
