package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// newRedisStore connects to REDIS_ADDR or skips.
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"), 1, zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := NewRedisStore(client, Options{Window: time.Minute, Threshold: 2})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_Lock(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := s.LockSession(ctx, id, "IDENTITY_MISMATCH", time.Minute); err != nil {
		t.Fatalf("LockSession: %v", err)
	}
	locked, err := s.IsSessionLocked(ctx, id)
	if err != nil || !locked {
		t.Fatalf("expected lock, got %v, %v", locked, err)
	}
}

func TestRedisStore_Enumeration(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	a := Attempt{Mode: "firewall", Signal: "JSON_DUMP"}

	res, err := s.CheckEnumerationAttempt(ctx, id, a)
	if err != nil || res.Count != 1 || res.Locked {
		t.Fatalf("first attempt: %+v, %v", res, err)
	}
	res, err = s.CheckEnumerationAttempt(ctx, id, a)
	if err != nil || res.Count != 2 || !res.Locked {
		t.Fatalf("second attempt should lock: %+v, %v", res, err)
	}
	if locked, _ := s.IsSessionLocked(ctx, id); !locked {
		t.Error("expected session to be locked")
	}
}

func TestRedisStore_Memory(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	m, err := s.Recall(ctx, id)
	if err != nil || len(m.AskedFields) != 0 || !m.LastNotFoundAt.IsZero() {
		t.Fatalf("expected empty memory, got %+v, %v", m, err)
	}

	at := time.Now().Truncate(time.Millisecond)
	_ = s.MarkAsked(ctx, id, "order_number")
	_ = s.MarkNotFound(ctx, id, at)

	m, err = s.Recall(ctx, id)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(m.AskedFields) != 1 || m.AskedFields[0] != "order_number" {
		t.Errorf("unexpected asked fields %v", m.AskedFields)
	}
	if !m.LastNotFoundAt.Equal(at) {
		t.Errorf("LastNotFoundAt = %v, want %v", m.LastNotFoundAt, at)
	}
}
