// Package ansilog drains the host's append-only ANSI output log into
// ordered byte chunks.
package ansilog

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the poll period while the pump is active.
const DefaultInterval = 25 * time.Millisecond

// readBufferSize is the chunk granularity for a single read.
const readBufferSize = 4096

// Pump polls an append-only log file at a fixed short interval and
// delivers newly appended bytes as ordered chunks: total order preserved,
// no loss, no duplication.
//
// The log file may not exist yet when the pump starts; the host creates
// it shortly after launch and the pump keeps retrying the open.
type Pump struct {
	path     string
	interval time.Duration
	deliver  func([]byte)

	mu     sync.Mutex
	file   *os.File
	closed bool

	started atomic.Bool
	stop    sync.Once
	quit    chan struct{}
	done    chan struct{}
}

// NewPump creates a pump for the log at path. Chunks are handed to
// deliver in order, from a single goroutine at a time. Call Start to
// begin polling.
func NewPump(path string, interval time.Duration, deliver func([]byte)) *Pump {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pump{
		path:     path,
		interval: interval,
		deliver:  deliver,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Path returns the log file path the pump watches.
func (p *Pump) Path() string {
	return p.path
}

// Start begins the poll loop. Starting an already-started pump is a no-op.
func (p *Pump) Start() {
	if p.started.Swap(true) {
		return
	}
	go p.loop()
}

func (p *Pump) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// drain reads everything appended since the last drain and delivers it.
// The mutex serializes poll-loop drains against the final drain in Close,
// which is what rules out duplicated or reordered chunks.
func (p *Pump) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
}

func (p *Pump) drainLocked() {
	if p.closed && p.file == nil {
		return
	}
	if p.file == nil {
		f, err := os.Open(p.path)
		if err != nil {
			// Not created by the host yet; retry on the next tick.
			return
		}
		p.file = f
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.deliver(chunk)
		}
		if err != nil {
			// EOF means the pump caught up; any other error retries on
			// the next drain.
			return
		}
	}
}

// Close stops polling, performs one final synchronous drain so no tail
// bytes are lost, and marks the pump closed. It is safe to call
// repeatedly and concurrently; subsequent calls are no-ops.
func (p *Pump) Close() error {
	p.stop.Do(func() { close(p.quit) })

	// Wait for the poll loop to finish its current drain.
	if p.started.Load() {
		<-p.done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.drainLocked()
	p.closed = true
	if p.file != nil {
		err := p.file.Close()
		p.file = nil
		return err
	}
	return nil
}
