// Package wsremote carries mirror messages as JSON text frames over a
// single WebSocket.
package wsremote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/dommirror/mirror"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("wsremote: connection closed")

// Deliverer receives inbound messages, normally a *mirror.Loop.
type Deliverer interface {
	Deliver(ctx context.Context, m mirror.Message) error
}

// Option configures Dial.
type Option func(*dialConfig)

type dialConfig struct {
	header       http.Header
	logger       *slog.Logger
	writeTimeout time.Duration
}

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(c *dialConfig) { c.header = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *dialConfig) { c.logger = l }
}

// WithWriteTimeout bounds each frame write when the caller's context has
// no deadline. Default 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *dialConfig) { c.writeTimeout = d }
}

// Conn is a mirror.Transport over a WebSocket. Writes are serialised;
// Serve runs the read side.
type Conn struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a mirror remote at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	cfg := dialConfig{logger: slog.Default(), writeTimeout: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	dialer := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("wsremote: dial %s: %w", url, err)
	}
	c := NewConn(ws, cfg.logger)
	c.writeTimeout = cfg.writeTimeout
	cfg.logger.Info("wsremote: connected", "url", url)
	return c, nil
}

// NewConn wraps an established connection, for example one accepted with
// websocket.Upgrader on the remote side.
func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: 10 * time.Second,
		closed:       make(chan struct{}),
	}
}

// Send writes the request in its wire form. It returns once the frame is
// written.
func (c *Conn) Send(ctx context.Context, req mirror.Request) error {
	return c.Write(ctx, req.Message())
}

// Write sends one message frame.
func (c *Conn) Write(ctx context.Context, m mirror.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("wsremote: set deadline: %w", err)
	}
	if err := c.ws.WriteJSON(m); err != nil {
		return fmt.Errorf("wsremote: write %s: %w", m.Method, err)
	}
	return nil
}

// Serve reads frames and hands each message to d until the connection
// closes or ctx is done. A clean close returns nil.
func (c *Conn) Serve(ctx context.Context, d Deliverer) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		var m mirror.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-c.closed:
				return nil
			default:
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.logger.Warn("wsremote: closed by peer", "code", ce.Code, "text", ce.Text)
			}
			return fmt.Errorf("wsremote: read: %w", err)
		}
		if m.Method == "" {
			c.logger.Warn("wsremote: frame without method")
			continue
		}
		if err := d.Deliver(ctx, m); err != nil {
			return fmt.Errorf("wsremote: deliver %s: %w", m.Method, err)
		}
	}
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// DeliverFunc adapts a function to Deliverer.
type DeliverFunc func(ctx context.Context, m mirror.Message) error

func (f DeliverFunc) Deliver(ctx context.Context, m mirror.Message) error { return f(ctx, m) }
