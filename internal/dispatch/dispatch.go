// Package dispatch provides the single home loop that owns all session
// state mutation and event delivery.
//
// Background work (the exit resolver, transport calls, the ANSI pump's
// poll timer) marshals every state change onto the loop with Post before
// touching shared fields. Blocking waits made on the loop goroutine itself
// must go through PumpUntil so the queue keeps being serviced, preventing
// reentrancy deadlock.
package dispatch

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Loop is a task queue serviced by one dedicated goroutine.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	gid       atomic.Uint64
}

// NewLoop starts a loop and returns once its goroutine is running.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *Loop) run(started chan<- struct{}) {
	l.gid.Store(goroutineID())
	close(started)
	defer close(l.done)

	for {
		l.drain()
		select {
		case <-l.wake:
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// drain runs queued tasks until the queue is empty. Tasks posted by a
// running task are picked up in the same pass, preserving post order.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
	}
}

// Post queues a task for execution on the loop. It never blocks. Tasks
// posted after Close may be dropped.
func (l *Loop) Post(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs a task on the loop and waits for it to finish. When invoked
// from the loop goroutine itself, the task runs inline.
func (l *Loop) Call(task func()) {
	if l.OnLoop() {
		task()
		return
	}
	ran := make(chan struct{})
	l.Post(func() {
		task()
		close(ran)
	})
	select {
	case <-ran:
	case <-l.done:
	}
}

// PumpUntil keeps servicing the queue until done fires. It must be called
// from the loop goroutine; calling it elsewhere simply blocks on done.
// This is what lets a synchronous wait on the home loop survive reentrant
// posts without deadlocking.
func (l *Loop) PumpUntil(done <-chan struct{}) {
	if !l.OnLoop() {
		select {
		case <-done:
		case <-l.done:
		}
		return
	}
	for {
		l.drain()
		select {
		case <-done:
			return
		case <-l.wake:
		case <-l.quit:
			return
		}
	}
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	return goroutineID() == l.gid.Load()
}

// Close stops the loop after draining already-queued tasks. It is
// idempotent. When called off-loop it waits for the loop goroutine to
// finish; a self-close from a loop task only signals shutdown.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	if !l.OnLoop() {
		<-l.done
	}
}

// Done returns a channel closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// goroutineID extracts the current goroutine's id from the runtime stack
// header ("goroutine N [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
