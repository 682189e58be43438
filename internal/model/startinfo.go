package model

import (
	"fmt"
	"sync"

	"github.com/console-host-control/engine/internal/cmdline"
)

// ExitBehavior controls what the host terminal does when the payload exits.
type ExitBehavior string

const (
	// ExitBehaviorClose closes the host terminal when the payload exits.
	ExitBehaviorClose ExitBehavior = "close"

	// ExitBehaviorKeep keeps the host terminal open after the payload exits.
	ExitBehaviorKeep ExitBehavior = "keep"

	// ExitBehaviorKeepMessage keeps the host terminal open and shows an
	// exit message.
	ExitBehaviorKeepMessage ExitBehavior = "keep-message"
)

// EnvVar is a single environment variable applied to the payload shell.
// Variables are an ordered list, not a map: the host replays them in
// registration order through the startup-config init lines.
type EnvVar struct {
	Name  string
	Value string
}

// StartInfo is the immutable startup snapshot for a session.
//
// A StartInfo is captured at session creation and marked used-up on first
// use; reusing the same instance for a second session is a configuration
// error. Mutate it only before handing it to a session.
type StartInfo struct {
	// CommandLine is the payload command line run inside the host.
	CommandLine string

	// StartupDir is the working directory for the host and payload.
	StartupDir string

	// Elevated requests an elevated host process.
	Elevated bool

	// ExitBehavior selects the host's conduct when the payload exits.
	ExitBehavior ExitBehavior

	// Env are environment variables applied to the payload shell, in order.
	Env []EnvVar

	// GreetingText, when non-empty, is echoed by the payload shell on startup.
	GreetingText string

	// CaptureAnsi enables the append-only ANSI output log and its pump.
	CaptureAnsi bool

	mu   sync.Mutex
	used bool
}

// Consume validates the StartInfo and marks it used. The second call fails
// with ErrStartInfoConsumed; an empty command line fails with
// ErrCommandRequired. Both wrap ErrConfiguration.
func (si *StartInfo) Consume() error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if si.CommandLine == "" {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrCommandRequired)
	}
	if si.used {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrStartInfoConsumed)
	}
	si.used = true
	return nil
}

// Used reports whether the StartInfo has already been consumed by a session.
func (si *StartInfo) Used() bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.used
}

// SetEnv appends an environment variable, preserving registration order.
func (si *StartInfo) SetEnv(name, value string) {
	si.Env = append(si.Env, EnvVar{Name: name, Value: value})
}

// SetCommandArgs builds CommandLine from individual argv tokens, quoting
// each one per the host's rules. A token that cannot be quoted losslessly
// is a configuration error.
func (si *StartInfo) SetCommandArgs(args ...string) error {
	joined, err := cmdline.Join(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	si.CommandLine = joined
	return nil
}
