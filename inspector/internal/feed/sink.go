package feed

import (
	"context"
	"log/slog"
)

// Sink is an output backend for batches.
type Sink interface {
	Send(ctx context.Context, batch Batch) error
	Close() error
}

// Router fans out batches to all sinks. One sink error does not block the
// others: errors are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. Not safe while batches are being sent.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

// Len reports how many sinks are configured.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, batch Batch) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, batch); err != nil {
			r.logger.Warn("feed: send batch failed", "batch", batch.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BatchFunc is called for each batch, in-process.
type BatchFunc func(ctx context.Context, batch Batch) error

// Callback delivers batches to a Go function.
type Callback struct {
	fn BatchFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn BatchFunc) *Callback { return &Callback{fn: fn} }

func (c *Callback) Send(ctx context.Context, batch Batch) error {
	if c.fn != nil {
		return c.fn(ctx, batch)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
