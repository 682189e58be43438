package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/console-host-control/engine/internal/model"
)

func testRegistry(t *testing.T, maxSessions int) (*Registry, *scriptedEntry) {
	t.Helper()
	entry := newScriptedEntry("{}")
	return NewRegistry(RegistryConfig{
		Session:     testConfig(t, entry, t.TempDir()),
		MaxSessions: maxSessions,
	}), entry
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r, _ := testRegistry(t, 2)

	s, err := r.Create(&model.StartInfo{CommandLine: "payload.exe"}, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer shutdown(t, s)

	got, err := r.Get(s.ID())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != s {
		t.Error("get returned a different session")
	}

	snaps := r.List()
	if len(snaps) != 1 || snaps[0].ID != s.ID() {
		t.Errorf("list = %v, want the one created session", snaps)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r, _ := testRegistry(t, 2)
	if _, err := r.Get("nope"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRegistry_EnforcesRunningLimit(t *testing.T) {
	r, _ := testRegistry(t, 1)

	s, err := r.Create(&model.StartInfo{CommandLine: "payload.exe"}, nil)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	defer shutdown(t, s)

	_, err = r.Create(&model.StartInfo{CommandLine: "other.exe"}, nil)
	if !errors.Is(err, model.ErrSessionLimit) {
		t.Fatalf("expected session-limit error, got %v", err)
	}
}

func TestRegistry_ExitedSessionDoesNotCountAgainstLimit(t *testing.T) {
	r, _ := testRegistry(t, 1)
	r.base.Host.ExecutablePath = writeHostScript(t, "exit 0")

	s, err := r.Create(&model.StartInfo{CommandLine: "payload.exe"}, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.HostExited().Wait(ctx); err != nil {
		t.Fatalf("host never exited: %v", err)
	}

	s2, err := r.Create(&model.StartInfo{CommandLine: "other.exe"}, nil)
	if err != nil {
		t.Fatalf("exited session blocked a new launch: %v", err)
	}
	defer shutdown(t, s2)
}

func TestRegistry_DeleteShutsDown(t *testing.T) {
	r, _ := testRegistry(t, 2)

	s, err := r.Create(&model.StartInfo{CommandLine: "payload.exe"}, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Delete(ctx, s.ID()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := s.HostExited().Code(); !ok {
		t.Error("session still running after delete")
	}
	if _, err := r.Get(s.ID()); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("deleted session still listed: %v", err)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r, _ := testRegistry(t, 4)

	var all []*Session
	for i := 0; i < 3; i++ {
		s, err := r.Create(&model.StartInfo{CommandLine: "payload.exe"}, nil)
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		all = append(all, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.CloseAll(ctx); err != nil {
		t.Fatalf("close all failed: %v", err)
	}
	for i, s := range all {
		if _, ok := s.HostExited().Code(); !ok {
			t.Errorf("session %d still running after CloseAll", i)
		}
	}
	if got := len(r.List()); got != 0 {
		t.Errorf("registry still tracks %d sessions", got)
	}
}
