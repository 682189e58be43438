package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/console-host-control/engine/internal/buffer"
	"github.com/console-host-control/engine/internal/host"
	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/model"
)

// scriptedEntry is a fake in-process client component. Status queries
// return whatever the test last staged; Close kills the host process.
type scriptedEntry struct {
	mu     sync.Mutex
	status string
	macros []string
}

func newScriptedEntry(status string) *scriptedEntry {
	return &scriptedEntry{status: status}
}

func (e *scriptedEntry) setStatus(data string) {
	e.mu.Lock()
	e.status = data
	e.mu.Unlock()
}

func (e *scriptedEntry) seenMacros() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.macros...)
}

func (e *scriptedEntry) Invoke(hostPID int, macroText string) (string, error) {
	e.mu.Lock()
	e.macros = append(e.macros, macroText)
	status := e.status
	e.mu.Unlock()

	switch macroText {
	case macro.Status():
		return macro.EncodeSuccess(status), nil
	case macro.CloseHost():
		host.KillPID(hostPID)
		return macro.EncodeSuccess(""), nil
	}
	return macro.EncodeSuccess(""), nil
}

// writeHostScript materializes a fake host executable.
func writeHostScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakehost.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write host script: %v", err)
	}
	return path
}

// deadPID returns a pid whose process has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to run probe process: %v", err)
	}
	return cmd.Process.Pid
}

func testConfig(t *testing.T, entry macro.Entry, tempRoot string) Config {
	t.Helper()
	return Config{
		Host: host.Config{
			ExecutablePath: writeHostScript(t, "sleep 30"),
			Window:         0x10,
			TransportMode:  macro.ModeInProcess,
		},
		Macro: macro.Config{
			Mode:  macro.ModeInProcess,
			Entry: entry,
		},
		TempRoot:         tempRoot,
		AnsiPollInterval: 5 * time.Millisecond,
		QueryInterval:    10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func shutdown(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestNew_RejectsEmptyCommand(t *testing.T) {
	_, err := New(&model.StartInfo{}, testConfig(t, newScriptedEntry("{}"), t.TempDir()))
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, model.ErrCommandRequired) {
		t.Fatalf("expected command-required cause, got %v", err)
	}
}

func TestNew_RejectsNilStartInfo(t *testing.T) {
	_, err := New(nil, testConfig(t, newScriptedEntry("{}"), t.TempDir()))
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNew_RejectsReusedStartInfo(t *testing.T) {
	entry := newScriptedEntry("{}")
	info := &model.StartInfo{CommandLine: "payload.exe"}

	s, err := New(info, testConfig(t, entry, t.TempDir()))
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer shutdown(t, s)

	_, err = New(info, testConfig(t, entry, t.TempDir()))
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error on reuse, got %v", err)
	}
	if !errors.Is(err, model.ErrStartInfoConsumed) {
		t.Fatalf("expected consumed cause, got %v", err)
	}
}

func TestNew_LaunchFailureReleasesResources(t *testing.T) {
	tempRoot := t.TempDir()
	cfg := testConfig(t, newScriptedEntry("{}"), tempRoot)
	cfg.Host.ExecutablePath = filepath.Join(t.TempDir(), "missing-host")

	_, err := New(&model.StartInfo{CommandLine: "payload.exe"}, cfg)
	if !errors.Is(err, model.ErrLaunch) {
		t.Fatalf("expected launch error, got %v", err)
	}

	entries, readErr := os.ReadDir(tempRoot)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("temp artifacts survived a failed launch: %v", entries)
	}
}

func TestSession_PayloadExitResolvedByQuery(t *testing.T) {
	pid := deadPID(t)
	code := 0
	entry := newScriptedEntry(macro.EncodeStatusData(&pid, &code))
	tempRoot := t.TempDir()

	s, err := New(&model.StartInfo{CommandLine: "payload.exe"}, testConfig(t, entry, tempRoot))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := s.PayloadExited().Wait(ctx)
	if err != nil {
		t.Fatalf("payload never resolved: %v", err)
	}
	if got != 0 {
		t.Errorf("payload exit code = %d, want 0", got)
	}

	snap := s.Snapshot()
	if snap.Status != model.SessionStatusPayloadExited {
		t.Errorf("status = %q, want %q", snap.Status, model.SessionStatusPayloadExited)
	}
	if snap.PayloadExitCode == nil || *snap.PayloadExitCode != 0 {
		t.Errorf("snapshot payload exit code = %v, want 0", snap.PayloadExitCode)
	}
	if snap.HostExitCode != nil {
		t.Errorf("host exit code set while host still running")
	}

	shutdown(t, s)

	if _, ok := s.HostExited().Code(); !ok {
		t.Fatal("host exit future unresolved after shutdown")
	}

	// The ledger removed the session's temp directory.
	entries, readErr := os.ReadDir(tempRoot)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("temp artifacts survived teardown: %v", entries)
	}
}

func TestSession_HostExitResolvesPayloadAsFallback(t *testing.T) {
	// The host exits on its own before any status query reports an exit
	// code. The payload code falls back to the host's and both futures
	// resolve, payload first.
	entry := newScriptedEntry("{}")
	cfg := testConfig(t, entry, t.TempDir())
	cfg.Host.ExecutablePath = writeHostScript(t, "exit 7")

	events := NewEvents()
	var mu sync.Mutex
	var order []string
	events.OnPayloadExited(func(code int) {
		mu.Lock()
		order = append(order, fmt.Sprintf("payload:%d", code))
		mu.Unlock()
	})
	events.OnHostExited(func(code int) {
		mu.Lock()
		order = append(order, fmt.Sprintf("host:%d", code))
		mu.Unlock()
	})
	cfg.Events = events

	s, err := New(&model.StartInfo{CommandLine: "payload.exe"}, cfg)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hostCode, err := s.HostExited().Wait(ctx)
	if err != nil {
		t.Fatalf("host never resolved: %v", err)
	}
	if hostCode != 7 {
		t.Errorf("host exit code = %d, want 7", hostCode)
	}
	payloadCode, ok := s.PayloadExited().Code()
	if !ok || payloadCode != 7 {
		t.Errorf("payload exit code = %d (%v), want 7", payloadCode, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"payload:7", "host:7"}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("event order = %v, want %v", order, want)
	}
}

func TestSession_AnsiChunksPrecedePayloadExited(t *testing.T) {
	entry := newScriptedEntry("{}")
	cfg := testConfig(t, entry, t.TempDir())

	events := NewEvents()
	var mu sync.Mutex
	var order []string
	events.OnAnsiChunk(func(c buffer.Chunk) {
		mu.Lock()
		order = append(order, "ansi:"+string(c.Data))
		mu.Unlock()
	})
	events.OnPayloadExited(func(code int) {
		mu.Lock()
		order = append(order, fmt.Sprintf("payload:%d", code))
		mu.Unlock()
	})
	cfg.Events = events

	s, err := New(&model.StartInfo{CommandLine: "payload.exe", CaptureAnsi: true}, cfg)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer shutdown(t, s)

	if s.AnsiLogPath() == "" {
		t.Fatal("capture enabled but no ANSI log path")
	}

	// Simulate host output, including bytes written right before the
	// payload exit becomes observable.
	appendFile(t, s.AnsiLogPath(), "first ")
	waitFor(t, 5*time.Second, "first chunk", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 1
	})
	appendFile(t, s.AnsiLogPath(), "last")

	pid := deadPID(t)
	code := 3
	entry.setStatus(macro.EncodeStatusData(&pid, &code))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.PayloadExited().Wait(ctx); err != nil {
		t.Fatalf("payload never resolved: %v", err)
	}

	waitFor(t, 5*time.Second, "payload event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) > 0 && strings.HasPrefix(order[len(order)-1], "payload:")
	})

	mu.Lock()
	defer mu.Unlock()
	if order[len(order)-1] != "payload:3" {
		t.Fatalf("final event = %q, want payload:3 (order %v)", order[len(order)-1], order)
	}
	var output strings.Builder
	for _, e := range order[:len(order)-1] {
		if !strings.HasPrefix(e, "ansi:") {
			t.Fatalf("non-chunk event before payload-exited: %v", order)
		}
		output.WriteString(strings.TrimPrefix(e, "ansi:"))
	}
	if output.String() != "first last" {
		t.Errorf("reassembled output = %q, want %q", output.String(), "first last")
	}
	if s.History().Len() == 0 {
		t.Error("chunk history is empty")
	}
}

func TestSession_KillPayloadAfterExitIsNoop(t *testing.T) {
	pid := deadPID(t)
	code := 0
	entry := newScriptedEntry(macro.EncodeStatusData(&pid, &code))

	s, err := New(&model.StartInfo{CommandLine: "payload.exe"}, testConfig(t, entry, t.TempDir()))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer shutdown(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.PayloadExited().Wait(ctx); err != nil {
		t.Fatalf("payload never resolved: %v", err)
	}

	queriesBefore := len(entry.seenMacros())
	if err := s.KillPayload(ctx); err != nil {
		t.Errorf("kill after exit should be a silent no-op, got %v", err)
	}
	if got := len(entry.seenMacros()); got != queriesBefore {
		t.Errorf("kill after exit still queried the host (%d new macros)", got-queriesBefore)
	}
}

func TestSession_KillPayloadWithoutPIDIsNoop(t *testing.T) {
	entry := newScriptedEntry("{}")
	s, err := New(&model.StartInfo{CommandLine: "payload.exe"}, testConfig(t, entry, t.TempDir()))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer shutdown(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.KillPayload(ctx); err != nil {
		t.Errorf("kill without a payload pid should succeed, got %v", err)
	}
}

func TestSession_ExecuteMacroSyncReturnsResult(t *testing.T) {
	entry := newScriptedEntry("{}")
	s, err := New(&model.StartInfo{CommandLine: "payload.exe"}, testConfig(t, entry, t.TempDir()))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer shutdown(t, s)

	res := s.ExecuteMacroSync("Ping()")
	if !res.OK {
		t.Fatalf("macro failed: code %d: %s", res.Code, res.Err)
	}

	found := false
	for _, m := range entry.seenMacros() {
		if m == "Ping()" {
			found = true
		}
	}
	if !found {
		t.Error("macro never reached the entry point")
	}
}

func TestSession_InputAndSignalMacros(t *testing.T) {
	entry := newScriptedEntry("{}")
	s, err := New(&model.StartInfo{CommandLine: "payload.exe"}, testConfig(t, entry, t.TempDir()))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer shutdown(t, s)

	s.WriteInputText("ls\n")
	s.WriteOutputText("banner")
	s.WriteInputText("") // dropped
	s.SendControlC()

	waitFor(t, 5*time.Second, "macros to arrive", func() bool {
		seen := entry.seenMacros()
		return contains(seen, macro.Paste("ls\n")) &&
			contains(seen, macro.Write("banner")) &&
			contains(seen, macro.Signal(macro.SignalCtrlC))
	})
	for _, m := range entry.seenMacros() {
		if m == macro.Paste("") {
			t.Error("empty input text was not dropped")
		}
	}
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
