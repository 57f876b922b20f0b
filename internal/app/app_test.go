package app

import (
	"context"
	"testing"

	"github.com/volleylive/client-go/internal/config"
	"github.com/volleylive/client-go/internal/log"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = ":memory:"

	a, err := New(cfg, log.Nop())
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestAccessorsReturnSameInstances(t *testing.T) {
	a := newTestApp(t)

	if a.Sessions() == nil || a.Realtime() == nil {
		t.Fatal("expected non-nil session provider and realtime manager")
	}
	if a.Sessions() != a.Sessions() {
		t.Error("Sessions returned different instances across calls")
	}
	if a.Realtime() != a.Realtime() {
		t.Error("Realtime returned different instances across calls")
	}
}

func TestSessionRestoreWithEmptyStore(t *testing.T) {
	a := newTestApp(t)

	if err := a.Sessions().Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if a.Sessions().IsAuthenticated() {
		t.Error("expected unauthenticated state with an empty store")
	}
}
