package sqlite

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get(context.Background(), "auth_token")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "auth_token", "tok-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := s.Get(ctx, "auth_token")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || value != "tok-1" {
		t.Fatalf("unexpected value: %q ok=%v", value, ok)
	}

	// Overwrite replaces the value.
	if err := s.Set(ctx, "auth_token", "tok-2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, _, err = s.Get(ctx, "auth_token")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "tok-2" {
		t.Fatalf("expected tok-2, got %q", value)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "user_data", `{"id":1}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete(ctx, "user_data"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "user_data"); ok {
		t.Fatalf("expected key removed")
	}

	// Deleting again is a no-op.
	if err := s.Delete(ctx, "user_data"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}
