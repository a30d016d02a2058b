// Package audit records authorization decisions.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Decision is the terminal outcome of a command invocation.
type Decision string

const (
	DecisionDispatched Decision = "dispatched"
	DecisionDenied     Decision = "denied"
)

// Entry is an immutable record of one authorization decision.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Command   string    `json:"command"`
	Decision  Decision  `json:"decision"`
	// Reason qualifies a denial ("rate_limited", "forbidden") or is empty
	// for a dispatch.
	Reason string `json:"reason,omitempty"`
	// RequestID ties the entry to the originating request, when known.
	RequestID string `json:"request_id,omitempty"`
}

// Sink accepts audit entries. Implementations must not block indefinitely.
// A returned error marks a transient fault; the caller decides whether to
// retry.
type Sink interface {
	Append(entry Entry) error
}

// Log is an in-memory, append-only audit sink.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	logger  zerolog.Logger
}

// NewLog creates an in-memory audit log.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{
		entries: make([]Entry, 0, 1024),
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// Append records an entry, assigning ID and timestamp if unset. Never fails.
func (l *Log) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Info().
		Str("user_id", entry.UserID).
		Str("command", entry.Command).
		Str("decision", string(entry.Decision)).
		Str("reason", entry.Reason).
		Msg("audit event")
	return nil
}

// Entries returns the most recent entries, newest first, optionally filtered
// by user. limit <= 0 returns everything.
func (l *Log) Entries(userID string, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = len(l.entries)
	}
	result := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if userID == "" || l.entries[i].UserID == userID {
			result = append(result, l.entries[i])
		}
	}
	return result
}

// Count returns the total number of entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
