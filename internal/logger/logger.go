package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/redact"
)

// defaultMaxLogBytes is the size at which the audit file is rotated to
// <path>.1.
const defaultMaxLogBytes = 10 << 20

// SecurityEvent is one line of the security audit trail. It is written for
// every terminal decision and every escalation.
type SecurityEvent struct {
	Timestamp string `json:"timestamp"`
	EventID   string `json:"event_id"`
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Language  string `json:"language,omitempty"`

	Action     string                `json:"action"`
	Reason     string                `json:"reason,omitempty"`
	SubReason  string                `json:"sub_reason,omitempty"`
	Stages     []string              `json:"stages,omitempty"`
	Violations []guardrail.Violation `json:"violations,omitempty"`

	SessionLocked bool   `json:"session_locked,omitempty"`
	LockReason    string `json:"lock_reason,omitempty"`
	Enumeration   int    `json:"enumeration_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Sink receives security events.
type Sink interface {
	Write(ctx context.Context, event SecurityEvent) error
	Close() error
}

// AuditLogger appends security events to a JSONL file.
type AuditLogger struct {
	path     string
	maxBytes int64
	file     *os.File
	size     int64
	mu       sync.Mutex
}

// New opens (or creates) the audit file with owner-only permissions.
func New(path string) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file, l.size = file, info.Size()
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	return l.open()
}

// Write implements Sink. Evidence and errors are redacted again before they
// reach disk.
func (l *AuditLogger) Write(_ context.Context, event SecurityEvent) error {
	return l.Log(event)
}

// Log appends one event.
func (l *AuditLogger) Log(event SecurityEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event = scrub(event)
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if l.size > 0 && l.size+int64(len(data)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func scrub(event SecurityEvent) SecurityEvent {
	if len(event.Violations) > 0 {
		vs := make([]guardrail.Violation, len(event.Violations))
		for i, v := range event.Violations {
			v.Evidence = redact.Evidence(v.Evidence)
			v.Expected = redact.Evidence(v.Expected)
			v.Claimed = redact.Evidence(v.Claimed)
			vs[i] = v
		}
		event.Violations = vs
	}
	if event.Error != "" {
		event.Error = redact.Redact(event.Error)
	}
	return event
}

// ReadEvents parses a JSONL audit trail. Malformed lines are skipped.
func ReadEvents(r io.Reader) ([]SecurityEvent, error) {
	var events []SecurityEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event SecurityEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// ReadFile reads the audit trail at path. A missing file is no error.
func ReadFile(path string) ([]SecurityEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	return ReadEvents(file)
}

// MultiSink fans an event out to several sinks. Every sink is tried; the
// errors are joined.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
