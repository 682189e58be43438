package model

import "errors"

var (
	// ErrConfiguration is the category for invalid or missing startup
	// parameters. Configuration errors are fatal and synchronous: they
	// abort session construction before any process is launched.
	ErrConfiguration = errors.New("invalid startup parameters")

	// ErrLaunch is the category for host launch failures: missing or
	// invalid executable, or OS process creation failure. Launch errors
	// are fatal and trigger immediate ledger teardown.
	ErrLaunch = errors.New("host launch failed")

	// ErrCommandRequired is returned when the startup parameters carry no
	// payload command line.
	ErrCommandRequired = errors.New("command line is required")

	// ErrStartInfoConsumed is returned when a StartInfo instance is reused
	// for a second session.
	ErrStartInfoConsumed = errors.New("start info already used by another session")

	// ErrNoHostProcess is returned when an operation requires a host
	// process reference and none exists.
	ErrNoHostProcess = errors.New("no host process")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimit is returned when the maximum number of concurrent
	// sessions is reached.
	ErrSessionLimit = errors.New("concurrent session limit exceeded")
)
