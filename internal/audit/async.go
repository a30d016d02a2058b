package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/permbot/internal/metrics"
	"github.com/p-blackswan/permbot/internal/retry"
)

// AsyncSink decouples audit emission from the caller's response path.
// Entries are queued and flushed by a background worker; when the queue is
// full the entry is written synchronously instead, so no entry is ever
// dropped silently. A fault in the downstream sink is retried and logged,
// never surfaced to the caller.
type AsyncSink struct {
	downstream Sink
	queue      chan Entry
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewAsyncSink wraps a sink with a bounded asynchronous queue and starts the
// flush worker. Call Close during shutdown to drain remaining entries.
func NewAsyncSink(downstream Sink, queueSize int, m *metrics.Metrics, logger zerolog.Logger) *AsyncSink {
	if queueSize < 1 {
		queueSize = 256
	}
	s := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Entry, queueSize),
		logger:     logger.With().Str("component", "audit.async").Logger(),
		metrics:    m,
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Append queues the entry; on a full queue it writes through synchronously.
// Always returns nil: a downstream fault is the worker's problem, never the
// caller's.
func (s *AsyncSink) Append(entry Entry) error {
	// The read lock is held across the send so Close cannot close the
	// queue between the stopped check and the enqueue.
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		// Shutdown in progress: write directly rather than lose the entry.
		s.write(entry)
		return nil
	}

	select {
	case s.queue <- entry:
		s.metrics.SetAuditQueueDepth(float64(len(s.queue)))
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		s.logger.Warn().Msg("audit queue full, writing synchronously")
		s.write(entry)
	}
	return nil
}

// Close stops accepting queued writes and drains the queue. Safe to call
// more than once.
func (s *AsyncSink) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
	})
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for entry := range s.queue {
		s.write(entry)
		s.metrics.SetAuditQueueDepth(float64(len(s.queue)))
	}
}

// write delivers one entry, retrying transient faults. A write that still
// fails is logged as a system fault; audit is observability, not a gate.
func (s *AsyncSink) write(entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("entry_id", entry.ID).Msg("audit sink panicked")
		}
	}()

	err := retry.Do(context.Background(), retry.DefaultConfig(), func(context.Context) error {
		return s.downstream.Append(entry)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("audit write failed")
	}
}
