package macro

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Mode selects the transport used to reach the host.
type Mode string

const (
	// ModeInProcess invokes the entry point of a loaded client component.
	ModeInProcess Mode = "inproc"

	// ModeOutOfProcess spawns a short-lived helper process per call.
	ModeOutOfProcess Mode = "helper"
)

// Config carries explicit transport configuration into the client; there
// is no process-global transport switch.
type Config struct {
	Mode Mode

	// Entry is the loaded component for ModeInProcess.
	Entry Entry

	// HelperPath and ExtenderPath configure ModeOutOfProcess.
	HelperPath   string
	ExtenderPath string

	// CallTimeout bounds a single macro call. Zero means no bound beyond
	// the caller's context.
	CallTimeout time.Duration

	Log zerolog.Logger
}

// Client sends macro commands to a running host process and returns a
// uniform Result regardless of transport. Transport failures never escape
// as errors from Exec; they map to an error result with CodeTransport.
type Client struct {
	transport Transport
	timeout   time.Duration
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient builds a client for the configured transport.
func NewClient(cfg Config) (*Client, error) {
	var transport Transport
	switch cfg.Mode {
	case ModeInProcess:
		if cfg.Entry == nil {
			return nil, fmt.Errorf("in-process transport requires a client entry point")
		}
		transport = newInprocTransport(cfg.Entry)
	case ModeOutOfProcess:
		if cfg.HelperPath == "" {
			return nil, fmt.Errorf("out-of-process transport requires a helper path")
		}
		transport = newHelperTransport(cfg.HelperPath, cfg.ExtenderPath)
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Mode)
	}

	return &Client{
		transport: transport,
		timeout:   cfg.CallTimeout,
		log:       cfg.Log,
	}, nil
}

// Exec sends one macro to the host and returns the parsed result.
func (c *Client) Exec(ctx context.Context, hostPID int, macroText string) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.transport.Exec(ctx, Request{HostPID: hostPID, Text: macroText})
	if err != nil {
		c.log.Debug().Err(err).Str("macro", macroText).Msg("macro transport failed")
		return Fail(CodeTransport, err.Error())
	}

	res := ParseResult(raw)
	if !res.OK {
		c.log.Debug().Int("code", res.Code).Str("macro", macroText).Msg("host reported macro failure")
	}
	return res
}

// Close releases transport resources. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.transport.Close()
}

// PayloadStatus is the host's answer to the Status macro. Either field may
// be absent: the host reports a pid once the payload starts and an exit
// code once it finishes.
type PayloadStatus struct {
	PID         int
	HasPID      bool
	ExitCode    int
	HasExitCode bool
}

// QueryPayloadStatus runs the Status macro and decodes {pid, exitCode}.
// Failures are returned as errors so the exit resolver can treat them as
// transient and retry.
func (c *Client) QueryPayloadStatus(ctx context.Context, hostPID int) (PayloadStatus, error) {
	res := c.Exec(ctx, hostPID, Status())
	if !res.OK {
		return PayloadStatus{}, fmt.Errorf("status query failed: code %d: %s", res.Code, res.Err)
	}

	data := strings.TrimSpace(res.Data)
	if !gjson.Valid(data) {
		return PayloadStatus{}, fmt.Errorf("status query returned malformed data: %s", truncate(data, 120))
	}

	var st PayloadStatus
	if pid := gjson.Get(data, "pid"); pid.Exists() {
		st.PID = int(pid.Int())
		st.HasPID = true
	}
	if code := gjson.Get(data, "exitCode"); code.Exists() {
		st.ExitCode = int(code.Int())
		st.HasExitCode = true
	}
	return st, nil
}

// EncodeStatusData builds the Status macro's data payload. Host-side
// components and tests use it to produce what QueryPayloadStatus parses.
func EncodeStatusData(pid, exitCode *int) string {
	out := "{}"
	if pid != nil {
		out, _ = sjson.Set(out, "pid", *pid)
	}
	if exitCode != nil {
		out, _ = sjson.Set(out, "exitCode", *exitCode)
	}
	return out
}
