// Package exitwatch determines the payload's exit code by repeatedly
// querying the host and waiting on the payload's OS process.
//
// One resolver runs per session, started immediately after launch. It
// tolerates two races: the host reporting a pid before the payload truly
// starts, and the host folding the payload's exit code into its own when
// both terminate near-simultaneously. Session state is rechecked every
// iteration, and host termination is the authoritative fallback path.
package exitwatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/console-host-control/engine/internal/macro"
)

// DefaultInterval is the fixed delay between retries.
const DefaultInterval = 250 * time.Millisecond

// Config wires one resolver to its session.
type Config struct {
	// Interval is the fixed delay applied when the host has nothing to
	// report yet and after transient failures.
	Interval time.Duration

	// Query asks the host for the payload's {pid, exitCode}.
	Query func(ctx context.Context) (macro.PayloadStatus, error)

	// WaitPID blocks until the given OS process exits.
	WaitPID func(ctx context.Context, pid int) error

	// PayloadResolved reports whether the session already holds a payload
	// exit code, resolved by the competing host-exit path.
	PayloadResolved func() bool

	// HostExited reports whether the host process has already terminated;
	// if so the host-exit handler supplies the code and the loop stops.
	HostExited func() bool

	// Resolve delivers the payload exit code exactly once.
	Resolve func(code int)

	Log zerolog.Logger
}

// Resolver is the background retry loop.
type Resolver struct {
	cfg Config

	stop sync.Once
	quit chan struct{}
	done chan struct{}
}

// Start launches the resolver loop.
func Start(cfg Config) *Resolver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	r := &Resolver{
		cfg:  cfg,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Resolver) run() {
	defer close(r.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.quit
		cancel()
	}()

	// Pid whose exit has already been observed; a host that keeps
	// reporting it without an exit code is polled at the fixed interval
	// instead of being re-queried hot.
	waited := 0

	for {
		select {
		case <-r.quit:
			return
		default:
		}

		if r.cfg.PayloadResolved() {
			return
		}
		if r.cfg.HostExited() {
			// The host-exit handler supplies the code.
			return
		}

		st, err := r.cfg.Query(ctx)
		if err != nil {
			// Transient; retry forever at the fixed interval.
			r.cfg.Log.Debug().Err(err).Msg("payload status query failed")
			if !r.sleep() {
				return
			}
			continue
		}

		switch {
		case st.HasExitCode:
			r.cfg.Log.Debug().Int("exitCode", st.ExitCode).Msg("payload exit code resolved by query")
			r.cfg.Resolve(st.ExitCode)
			return

		case st.HasPID:
			if st.PID == waited {
				if !r.sleep() {
					return
				}
				continue
			}
			if err := r.cfg.WaitPID(ctx, st.PID); err != nil {
				if !r.sleep() {
					return
				}
				continue
			}
			waited = st.PID
			// The payload's process is gone; re-query immediately for
			// its exit code, no delay.

		default:
			// The host knows nothing yet; the payload may not have
			// started.
			if !r.sleep() {
				return
			}
		}
	}
}

// sleep waits out the fixed interval, returning false when the resolver
// was stopped meanwhile.
func (r *Resolver) sleep() bool {
	select {
	case <-r.quit:
		return false
	case <-time.After(r.cfg.Interval):
		return true
	}
}

// Stop terminates the loop and waits for it to finish. It is idempotent;
// the loop also self-terminates once either resolution path completes.
func (r *Resolver) Stop() {
	r.stop.Do(func() { close(r.quit) })
	<-r.done
}

// Done returns a channel closed when the loop has finished.
func (r *Resolver) Done() <-chan struct{} {
	return r.done
}
