package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/console-host-control/engine/internal/model"
)

// Registry tracks live sessions and enforces the concurrent-session
// limit. Limits count running sessions only; an exited session still in
// the registry does not block a new launch.
type Registry struct {
	base        Config
	maxSessions int
	log         zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryConfig holds registry-level settings.
type RegistryConfig struct {
	// Session is the base per-session config; each Create clones it.
	Session Config

	// MaxSessions caps concurrently running sessions. Zero means the
	// default of 10.
	MaxSessions int

	Log zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 10
	}
	return &Registry{
		base:        cfg.Session,
		maxSessions: cfg.MaxSessions,
		log:         cfg.Log,
		sessions:    make(map[string]*Session),
	}
}

// Create launches a new session from info. events may be nil; when set,
// its subscribers are registered ahead of launch and see every event.
func (r *Registry) Create(info *model.StartInfo, events *Events) (*Session, error) {
	if r.runningCount() >= r.maxSessions {
		return nil, fmt.Errorf("%w: %d sessions running", model.ErrSessionLimit, r.maxSessions)
	}

	cfg := r.base
	cfg.Events = events
	cfg.Log = r.log

	s, err := New(info, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	return s, nil
}

// Get retrieves a session by ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns snapshots of every tracked session.
func (r *Registry) List() []model.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Delete shuts a session down and drops it from the registry.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	return s.Shutdown(ctx)
}

// CloseAll shuts down every session, returning the first error.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range all {
		if err := s.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) runningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if !s.HostExited().Resolved() {
			n++
		}
	}
	return n
}
