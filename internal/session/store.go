// Package session keeps the little per-conversation state the gateway is
// allowed to carry across turns: session locks, enumeration counters, the
// fields already asked for, and the time of the last NOT_FOUND answer.
//
// Two stores are provided:
//
//	MemoryStore: bounded LRU, single process
//	RedisStore:  shared across gateway replicas
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned for an empty session id.
var ErrNoSession = errors.New("session: empty session id")

// Attempt is one suspected enumeration attempt.
type Attempt struct {
	// Mode names the detector, e.g. "firewall".
	Mode string `json:"mode"`
	// Signal is the violation that triggered it, e.g. "JSON_DUMP".
	Signal string `json:"signal"`
}

// EnumerationResult reports the attempt count inside the window.
type EnumerationResult struct {
	Count int `json:"count"`
	// Locked is true when this attempt crossed the threshold and locked the
	// session.
	Locked bool `json:"locked"`
}

// Memory is the state the pipeline reads at the start of a turn.
type Memory struct {
	LastNotFoundAt time.Time
	AskedFields    []string
}

// Store is the session store the gateway talks to. Implementations must be
// safe for concurrent use.
type Store interface {
	LockSession(ctx context.Context, id, reason string, d time.Duration) error
	IsSessionLocked(ctx context.Context, id string) (bool, error)
	CheckEnumerationAttempt(ctx context.Context, id string, a Attempt) (EnumerationResult, error)

	Recall(ctx context.Context, id string) (Memory, error)
	MarkAsked(ctx context.Context, id, field string) error
	MarkNotFound(ctx context.Context, id string, at time.Time) error

	Close() error
}

// Options tunes enumeration detection and state retention.
type Options struct {
	// Window is the sliding window attempts are counted in.
	Window time.Duration `yaml:"window"`
	// Threshold is the attempt count that locks the session.
	Threshold int `yaml:"threshold"`
	// LockDuration is how long an enumeration lock lasts.
	LockDuration time.Duration `yaml:"lock_duration"`
	// StateTTL bounds how long asked fields and NOT_FOUND times are kept.
	StateTTL time.Duration `yaml:"state_ttl"`
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Window:       10 * time.Minute,
		Threshold:    3,
		LockDuration: time.Hour,
		StateTTL:     24 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.LockDuration <= 0 {
		o.LockDuration = d.LockDuration
	}
	if o.StateTTL <= 0 {
		o.StateTTL = d.StateTTL
	}
	return o
}

// EnumerationReason is the lock reason recorded for an enumeration lock.
func EnumerationReason(a Attempt) string {
	return "ENUMERATION:" + a.Mode
}
