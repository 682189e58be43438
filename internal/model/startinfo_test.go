package model

import (
	"errors"
	"testing"
)

func TestStartInfo_ConsumeOnce(t *testing.T) {
	si := &StartInfo{CommandLine: "payload.exe"}

	if err := si.Consume(); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if !si.Used() {
		t.Error("consumed info not marked used")
	}

	err := si.Consume()
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, ErrStartInfoConsumed) {
		t.Fatalf("reuse error = %v", err)
	}
}

func TestStartInfo_ConsumeRequiresCommand(t *testing.T) {
	si := &StartInfo{}
	err := si.Consume()
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, ErrCommandRequired) {
		t.Fatalf("empty-command error = %v", err)
	}
	if si.Used() {
		t.Error("rejected info marked used")
	}
}

func TestStartInfo_SetEnvPreservesOrder(t *testing.T) {
	si := &StartInfo{}
	si.SetEnv("PATH", "/bin")
	si.SetEnv("HOME", "/root")
	si.SetEnv("PATH", "/usr/bin")

	names := make([]string, len(si.Env))
	for i, v := range si.Env {
		names[i] = v.Name
	}
	want := []string{"PATH", "HOME", "PATH"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("env order = %v, want %v", names, want)
		}
	}
}

func TestStartInfo_SetCommandArgs(t *testing.T) {
	si := &StartInfo{}
	if err := si.SetCommandArgs("tool", "-v", "a b"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if si.CommandLine != `tool ".\-v" "a b"` {
		t.Errorf("command line = %q", si.CommandLine)
	}
}

func TestStartInfo_SetCommandArgsRejectsUnbalancedQuotes(t *testing.T) {
	si := &StartInfo{}
	err := si.SetCommandArgs(`tool`, `odd"quote`)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if si.CommandLine != "" {
		t.Errorf("command line set despite rejection: %q", si.CommandLine)
	}
}
