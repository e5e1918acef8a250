package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gzhole/replyshield/internal/guardrail"
)

func TestAuditLogger_Log(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test_audit.jsonl")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Close()
	}()

	event := SecurityEvent{
		Timestamp: "2026-02-02T12:00:00Z",
		EventID:   "e1",
		TurnID:    "t1",
		SessionID: "s1",
		Action:    "BLOCK",
		Reason:    "FIREWALL_BLOCK",
		Stages:    []string{"response_firewall"},
	}
	if err := logger.Log(event); err != nil {
		t.Fatalf("failed to log event: %v", err)
	}
	_ = logger.Close()

	events, err := ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Reason != "FIREWALL_BLOCK" || events[0].SessionID != "s1" {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestAuditLogger_RedactsEvidence(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	event := SecurityEvent{
		Action: "BLOCK",
		Violations: []guardrail.Violation{
			{Type: "UNREDACTED_PII", Evidence: "Telefonunuz 05321112233, e-posta ali@example.com"},
		},
		Error: "dial postgres://admin:hunter2secret@db:5432/app failed",
	}
	if err := logger.Log(event); err != nil {
		t.Fatalf("failed to log event: %v", err)
	}
	_ = logger.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	for _, leak := range []string{"05321112233", "ali@example.com", "hunter2secret"} {
		if strings.Contains(string(data), leak) {
			t.Errorf("audit log contains %q: %s", leak, data)
		}
	}
}

func TestAuditLogger_Rotation(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "audit.jsonl")

	// Pre-create the log file already at the rotation limit.
	big := make([]byte, defaultMaxLogBytes)
	if err := os.WriteFile(logPath, big, 0600); err != nil {
		t.Fatalf("failed to seed large log file: %v", err)
	}

	lg, err := New(logPath)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = lg.Close() }()

	event := SecurityEvent{Timestamp: "2026-03-01T00:00:00Z", Action: "BLOCK"}
	if err := lg.Log(event); err != nil {
		t.Fatalf("Log after rotation failed: %v", err)
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected rotated file %s.1 to exist: %v", logPath, err)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("fresh log file missing: %v", err)
	}
	if info.Size() >= defaultMaxLogBytes {
		t.Errorf("fresh log file is still %d bytes; expected < %d", info.Size(), defaultMaxLogBytes)
	}
}

func TestAuditLogger_FilePermissions(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "secure_audit.jsonl")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	_ = logger.Close()

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("failed to stat log file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected file permissions 0600, got %04o", perm)
	}
}

func TestReadEvents_SkipsMalformed(t *testing.T) {
	in := strings.NewReader(`{"action":"BLOCK","reason":"PII_RISK"}
not json

{"action":"PASS"}
`)
	events, err := ReadEvents(in)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 || events[0].Reason != "PII_RISK" || events[1].Action != "PASS" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestReadFile_Missing(t *testing.T) {
	events, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil || events != nil {
		t.Errorf("expected no events and no error, got %v, %v", events, err)
	}
}

type recordingSink struct {
	events []SecurityEvent
	err    error
	closed bool
}

func (r *recordingSink) Write(_ context.Context, e SecurityEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestMultiSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("postgres down")}
	ok := &recordingSink{}
	m := MultiSink{failing, ok}

	err := m.Write(context.Background(), SecurityEvent{Action: "BLOCK"})
	if err == nil || !strings.Contains(err.Error(), "postgres down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.events) != 1 {
		t.Error("a failing sink must not stop the others")
	}
	_ = m.Close()
	if !failing.closed || !ok.closed {
		t.Error("expected every sink to be closed")
	}
}

func TestNewApp(t *testing.T) {
	var buf bytes.Buffer
	log := NewApp("warn", false, &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("stage", "response_firewall").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"stage":"response_firewall"`) {
		t.Errorf("unexpected output %q", out)
	}

	buf.Reset()
	fallback := NewApp("nonsense", false, &buf)
	fallback.Info().Msg("info default")
	if !strings.Contains(buf.String(), "info default") {
		t.Error("invalid level should fall back to info")
	}
}
