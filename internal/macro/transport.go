package macro

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
)

// Transport delivers a macro to a running host process and returns the
// serialized result. Calls are independent; implementations impose no
// serialization because the host serializes its own command handling.
type Transport interface {
	Exec(ctx context.Context, req Request) (string, error)
	Close() error
}

// Entry is the entry point of a loaded in-process client component.
// Implementations that also satisfy io.Closer are closed with the transport.
type Entry interface {
	Invoke(hostPID int, macroText string) (string, error)
}

// inprocTransport calls a loaded client component directly.
type inprocTransport struct {
	mu     sync.Mutex
	entry  Entry
	closed bool
}

func newInprocTransport(entry Entry) *inprocTransport {
	return &inprocTransport{entry: entry}
}

func (t *inprocTransport) Exec(ctx context.Context, req Request) (string, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", fmt.Errorf("in-process transport is closed")
	}
	entry := t.entry
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	// The entry call runs outside the lock so concurrent macros do not
	// serialize on the transport.
	return entry.Invoke(req.HostPID, req.Text)
}

// Close releases the loaded component. It is idempotent.
func (t *inprocTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if closer, ok := t.entry.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// helperTransport spawns a short-lived helper process per call and parses
// its captured stdout as the serialized result.
type helperTransport struct {
	helperPath   string
	extenderPath string
}

func newHelperTransport(helperPath, extenderPath string) *helperTransport {
	return &helperTransport{helperPath: helperPath, extenderPath: extenderPath}
}

func (t *helperTransport) Exec(ctx context.Context, req Request) (string, error) {
	args := []string{"-macro", req.Text, "-pid", strconv.Itoa(req.HostPID)}
	if t.extenderPath != "" {
		args = append(args, "-extender", t.extenderPath)
	}

	cmd := exec.CommandContext(ctx, t.helperPath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard

	err := cmd.Run()
	out := stdout.String()

	// A helper may exit non-zero while still reporting a well-formed
	// host failure on stdout; the grammar wins over the exit status.
	if gjson.Valid(out) && gjson.Get(out, "ok").Exists() {
		return out, nil
	}
	if err != nil {
		return "", fmt.Errorf("helper %s: %w", t.helperPath, err)
	}
	return out, nil
}

func (t *helperTransport) Close() error {
	return nil
}
