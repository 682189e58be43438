// Package ledger provides the ordered teardown registry for a session.
//
// Every resource a session owns (temp files, the macro client, the ANSI
// pump, the event journal) registers a release action here. Actions run
// exactly once, in reverse registration order, when the ledger is drained.
package ledger

import "sync"

// Action is a zero-argument teardown callback.
type Action func()

// Ledger is a LIFO sequence of teardown actions, released exactly once.
type Ledger struct {
	mu      sync.Mutex
	actions []Action
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append registers a teardown action. Registration is O(1).
func (l *Ledger) Append(a Action) {
	if a == nil {
		return
	}
	l.mu.Lock()
	l.actions = append(l.actions, a)
	l.mu.Unlock()
}

// Len returns the number of actions currently registered.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actions)
}

// RunAll atomically clears the ledger, then executes every previously
// registered action exactly once in reverse registration order. A panicking
// action does not block the remaining actions. Re-entrant calls made from
// inside a running action observe an empty ledger and do nothing.
func (l *Ledger) RunAll() {
	l.mu.Lock()
	actions := l.actions
	l.actions = nil
	l.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		runAction(actions[i])
	}
}

func runAction(a Action) {
	defer func() {
		// A failing action must not block the rest of the teardown.
		_ = recover()
	}()
	a()
}
