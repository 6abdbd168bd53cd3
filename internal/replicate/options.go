package replicate

import (
	"log/slog"
	"time"
)

// Defaults for Options.
const (
	DefaultBatchSize      = 100
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultPollInterval   = 5 * time.Second
)

// Option configures a Replicator.
type Option func(*Replicator)

// WithBatchSize bounds the number of change entries read per batch.
func WithBatchSize(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAttempts bounds the attempts for one operation that keeps failing
// with transient errors before the session fails.
func WithMaxAttempts(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial and maximum retry delay.
func WithBackoff(initial, max time.Duration) Option {
	return func(r *Replicator) {
		if initial > 0 {
			r.initialBackoff = initial
		}
		if max > 0 {
			r.maxBackoff = max
		}
	}
}

// WithPollInterval sets how long Run waits between sessions.
func WithPollInterval(d time.Duration) Option {
	return func(r *Replicator) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithDocIDs restricts replication to the listed documents. Changes to other
// documents are read and passed over; the checkpoint still advances past them.
func WithDocIDs(ids ...string) Option {
	return func(r *Replicator) {
		if len(ids) == 0 {
			r.docIDs = nil
			return
		}
		r.docIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			r.docIDs[id] = true
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Replicator) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithListener registers a callback for state changes and commits.
func WithListener(l Listener) Option {
	return func(r *Replicator) {
		if l != nil {
			r.listeners = append(r.listeners, l)
		}
	}
}
