package session

import (
	"sync"

	"github.com/console-host-control/engine/internal/buffer"
)

// Events is the ordered subscriber list for a session's observable
// transitions. All callbacks run on the session's home loop, in
// subscription order. Subscriptions registered before the session starts
// receive every event, including ones fired very early; a subscription
// added later only sees subsequent events (use the chunk history to catch
// up on output).
type Events struct {
	mu      sync.Mutex
	ansi    []func(buffer.Chunk)
	payload []func(code int)
	host    []func(code int)
}

// NewEvents creates an empty subscriber list, ready to be handed to a
// session config ahead of start.
func NewEvents() *Events {
	return &Events{}
}

// OnAnsiChunk subscribes to ANSI output chunks.
func (e *Events) OnAnsiChunk(fn func(buffer.Chunk)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.ansi = append(e.ansi, fn)
	e.mu.Unlock()
}

// OnPayloadExited subscribes to the payload-exited event. It fires at
// most once, after the session's last ANSI chunk.
func (e *Events) OnPayloadExited(fn func(code int)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.payload = append(e.payload, fn)
	e.mu.Unlock()
}

// OnHostExited subscribes to the host-exited event. It fires at most
// once, after teardown has run, and never before payload-exited when both
// occur.
func (e *Events) OnHostExited(fn func(code int)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.host = append(e.host, fn)
	e.mu.Unlock()
}

func (e *Events) emitAnsi(c buffer.Chunk) {
	e.mu.Lock()
	subs := append(([]func(buffer.Chunk))(nil), e.ansi...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (e *Events) emitPayloadExited(code int) {
	e.mu.Lock()
	subs := append(([]func(int))(nil), e.payload...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(code)
	}
}

func (e *Events) emitHostExited(code int) {
	e.mu.Lock()
	subs := append(([]func(int))(nil), e.host...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(code)
	}
}
