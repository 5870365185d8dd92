// Package service runs mirror operations for request/response callers.
//
// The agent answers through callbacks on its own goroutine. A Service
// schedules each operation with Loop.Do, then blocks the caller until the
// callback fires, the remote side fails the call, or the deadline passes.
// The HTTP API and the MCP tools are thin adapters over it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dommirror/inspector/internal/export"
	"github.com/hazyhaar/dommirror/mirror"
)

// ErrTimeout is returned when the remote side did not answer in time.
var ErrTimeout = errors.New("service: timed out waiting for the remote")

// ErrUnavailable is returned by transports while no remote is connected.
var ErrUnavailable = errors.New("service: remote not connected")

// Calls routes call errors to the operations waiting on them. Several
// operations may wait on one call when they share a fetch. Its Fail method
// is the agent's call-error hook.
type Calls struct {
	mu      sync.Mutex
	waiters map[mirror.CallID][]chan<- error
	next    func(mirror.Method, mirror.CallID, error)
}

// NewCalls creates a router. next, if set, also receives every error.
func NewCalls(next func(mirror.Method, mirror.CallID, error)) *Calls {
	return &Calls{waiters: make(map[mirror.CallID][]chan<- error), next: next}
}

// Fail implements the mirror.WithCallErrorHook signature.
func (c *Calls) Fail(method mirror.Method, id mirror.CallID, err error) {
	c.mu.Lock()
	chs := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()
	for _, ch := range chs {
		select {
		case ch <- err:
		default:
		}
	}
	if c.next != nil {
		c.next(method, id, err)
	}
}

func (c *Calls) watch(id mirror.CallID, ch chan<- error) {
	c.mu.Lock()
	c.waiters[id] = append(c.waiters[id], ch)
	c.mu.Unlock()
}

func (c *Calls) forget(id mirror.CallID, ch chan<- error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chs := c.waiters[id]
	for i, w := range chs {
		if w == ch {
			chs = append(chs[:i], chs[i+1:]...)
			break
		}
	}
	if len(chs) == 0 {
		delete(c.waiters, id)
	} else {
		c.waiters[id] = chs
	}
}

// Len reports how many operations are waiting.
func (c *Calls) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, chs := range c.waiters {
		n += len(chs)
	}
	return n
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds how long an operation waits when the caller's context
// has no deadline. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithExporter replaces the default exporter.
func WithExporter(e *export.Exporter) Option {
	return func(s *Service) { s.exporter = e }
}

// Service executes mirror operations on a loop.
type Service struct {
	loop     *mirror.Loop
	calls    *Calls
	exporter *export.Exporter
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Service. calls must be the router installed as the agent's
// call-error hook; without it rejections surface as timeouts.
func New(loop *mirror.Loop, calls *Calls, opts ...Option) *Service {
	s := &Service{
		loop:    loop,
		calls:   calls,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.calls == nil {
		s.calls = NewCalls(nil)
	}
	if s.exporter == nil {
		s.exporter = export.New()
	}
	return s
}

// result carries an operation's outcome from the agent goroutine.
type result[T any] struct {
	val T
	err error
}

// await runs start on the loop and waits for it to call finish. If start
// issued a call, a failure of that call ends the wait with its error.
func await[T any](ctx context.Context, s *Service, start func(a *mirror.Agent, finish func(T, error))) (T, error) {
	return awaitJoin(ctx, s, func(a *mirror.Agent, finish func(T, error), _ func(mirror.CallID)) {
		start(a, finish)
	})
}

// awaitJoin is await for operations that may ride on a call issued
// earlier by someone else: start passes that call to join, and its failure
// ends the wait too.
func awaitJoin[T any](ctx context.Context, s *Service, start func(a *mirror.Agent, finish func(T, error), join func(mirror.CallID))) (T, error) {
	var zero T
	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out := make(chan result[T], 1)
	failed := make(chan error, 1)
	finish := func(v T, err error) {
		select {
		case out <- result[T]{val: v, err: err}:
		default:
		}
	}

	var watched []mirror.CallID
	err := s.loop.Do(ctx, func(a *mirror.Agent) {
		// Ids are sequential, so the next call gets before+1. Watching it
		// up front also catches a send error raised inside start.
		next := a.LastCallID() + 1
		s.calls.watch(next, failed)
		var joined mirror.CallID
		start(a, finish, func(id mirror.CallID) { joined = id })
		if a.LastCallID() < next {
			s.calls.forget(next, failed)
		} else {
			watched = append(watched, next)
		}
		if joined != 0 && joined != next {
			s.calls.watch(joined, failed)
			watched = append(watched, joined)
		}
	})
	if err != nil {
		return zero, waitErr(err)
	}
	defer func() {
		for _, id := range watched {
			s.calls.forget(id, failed)
		}
	}()

	select {
	case r := <-out:
		return r.val, r.err
	case err := <-failed:
		// Prefer a result that raced the failure.
		select {
		case r := <-out:
			return r.val, r.err
		default:
		}
		return zero, err
	case <-ctx.Done():
		return zero, waitErr(ctx.Err())
	}
}

// run executes fn on the loop and returns its result.
func run[T any](ctx context.Context, s *Service, fn func(a *mirror.Agent) (T, error)) (T, error) {
	var (
		val  T
		ferr error
	)
	if err := s.loop.Do(ctx, func(a *mirror.Agent) { val, ferr = fn(a) }); err != nil {
		var zero T
		return zero, waitErr(err)
	}
	return val, ferr
}

func waitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func lookup(a *mirror.Agent, id mirror.NodeID) (*mirror.Node, error) {
	n := a.GetNodeForID(id)
	if n == nil {
		return nil, &mirror.ErrUnknownNode{ID: id}
	}
	return n, nil
}
