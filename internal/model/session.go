package model

import "time"

// SessionStatus represents the lifecycle state of a supervised session.
type SessionStatus string

const (
	SessionStatusRunning       SessionStatus = "running"
	SessionStatusPayloadExited SessionStatus = "payload-exited"
	SessionStatusHostExited    SessionStatus = "host-exited"
)

// Snapshot is a point-in-time view of a session, safe to serialize.
type Snapshot struct {
	ID              string        `json:"id"`
	CommandLine     string        `json:"commandLine"`
	Status          SessionStatus `json:"status"`
	HostPID         int           `json:"hostPid"`
	PayloadExitCode *int          `json:"payloadExitCode,omitempty"`
	HostExitCode    *int          `json:"hostExitCode,omitempty"`
	AnsiLogPath     string        `json:"ansiLogPath,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}
