package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithInbox bounds how many queued items Deliver and Do wait for. Post is
// never bounded. Default 1024; zero or less means unbounded.
func WithInbox(n int) LoopOption {
	return func(l *Loop) { l.capacity = n }
}

// WithExpiryInterval sets how often Run expires timed-out calls when the
// agent has a call timeout. Default: a quarter of the timeout.
func WithExpiryInterval(d time.Duration) LoopOption {
	return func(l *Loop) { l.interval = d }
}

// WithDispatchErrorHook receives every error returned by Dispatch for a
// delivered message, in addition to the error log.
func WithDispatchErrorHook(fn func(Message, error)) LoopOption {
	return func(l *Loop) { l.onDispatchError = fn }
}

// Loop serialises all access to an Agent on the goroutine running Run.
// Transports call Deliver from any goroutine; everything else goes
// through Do or Post.
type Loop struct {
	agent           *Agent
	logger          *slog.Logger
	capacity        int
	interval        time.Duration
	onDispatchError func(Message, error)

	mu     sync.Mutex
	queue  []func(*Agent)
	closed bool
	wake   chan struct{}
	space  chan struct{}
	done   chan struct{}
}

// NewLoop creates a loop for a. Nothing runs until Run is called.
func NewLoop(a *Agent, opts ...LoopOption) *Loop {
	l := &Loop{
		agent:    a,
		logger:   a.Logger(),
		capacity: 1024,
		wake:     make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.interval <= 0 && a.CallTimeout() > 0 {
		l.interval = a.CallTimeout() / 4
	}
	return l
}

// Agent returns the agent. Only touch it from inside Do or Post.
func (l *Loop) Agent() *Agent { return l.agent }

// Run processes queued work until ctx is done. Items still queued when Run
// returns are discarded and later calls fail with ErrLoopClosed.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()
	var tick <-chan time.Time
	if l.interval > 0 && l.agent.CallTimeout() > 0 {
		t := time.NewTicker(l.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		l.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case now := <-tick:
			if n := l.agent.ExpireCalls(now); n > 0 {
				l.logger.Info("mirror: expired calls", "count", n)
			}
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Deliver queues an inbound message for dispatch, in FIFO order with
// every other queued item. It waits while the inbox is full.
func (l *Loop) Deliver(ctx context.Context, m Message) error {
	return l.enqueue(ctx, func(a *Agent) {
		if err := a.Dispatch(m); err != nil {
			l.logger.Error("mirror: dispatch", "method", string(m.Method), "error", err)
			if l.onDispatchError != nil {
				l.onDispatchError(m, err)
			}
		}
	}, true)
}

// Do runs fn on the loop and waits for it to return. Calling Do from the
// loop goroutine deadlocks; use Post there.
func (l *Loop) Do(ctx context.Context, fn func(*Agent)) error {
	finished := make(chan struct{})
	err := l.enqueue(ctx, func(a *Agent) {
		defer close(finished)
		fn(a)
	}, true)
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Post queues fn without waiting, regardless of the inbox bound. It is the
// safe way to schedule work from inside the loop.
func (l *Loop) Post(fn func(*Agent)) error {
	return l.enqueue(context.Background(), fn, false)
}

func (l *Loop) enqueue(ctx context.Context, fn func(*Agent), bounded bool) error {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrLoopClosed
		}
		if !bounded || l.capacity <= 0 || len(l.queue) < l.capacity {
			l.queue = append(l.queue, fn)
			l.mu.Unlock()
			signal(l.wake)
			return nil
		}
		l.mu.Unlock()
		select {
		case <-l.space:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrLoopClosed
		}
	}
}

func (l *Loop) drain(ctx context.Context) {
	for ctx.Err() == nil {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		signal(l.space)
		for _, fn := range batch {
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func(*Agent)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("mirror: panic in loop task", "error", fmt.Sprint(r))
		}
	}()
	fn(l.agent)
}

func (l *Loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
