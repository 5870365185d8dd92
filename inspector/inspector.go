// Package inspector mirrors one remote DOM and serves it. It picks the
// transport named in the configuration (Chrome over CDP, a WebSocket peer
// or an in-process HTML document), drives a mirror.Agent on its loop, and
// exposes the mirror through a change feed, a JSON API and MCP tools.
// Every message can be kept in a SQLite journal for later replay.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/dommirror/inspector/internal/browser"
	"github.com/hazyhaar/dommirror/inspector/internal/cdp"
	"github.com/hazyhaar/dommirror/inspector/internal/config"
	"github.com/hazyhaar/dommirror/inspector/internal/export"
	"github.com/hazyhaar/dommirror/inspector/internal/feed"
	"github.com/hazyhaar/dommirror/inspector/internal/htmlremote"
	"github.com/hazyhaar/dommirror/inspector/internal/httpapi"
	"github.com/hazyhaar/dommirror/inspector/internal/journal"
	"github.com/hazyhaar/dommirror/inspector/internal/service"
	"github.com/hazyhaar/dommirror/inspector/internal/wsremote"
	"github.com/hazyhaar/dommirror/mirror"
)

// ErrNoJournal is returned by journal queries when no journal is configured.
var ErrNoJournal = errors.New("inspector: journal disabled")

// Inspector is the top-level orchestrator. Create one per mirrored page.
type Inspector struct {
	cfg     *config.Config
	logger  *slog.Logger
	relay   *relay
	calls   *service.Calls
	agent   *mirror.Agent
	loop    *mirror.Loop
	feed    *feed.Feed
	journal *journal.Journal
	svc     *service.Service
	eps     service.Endpoints
	api     *httpapi.API

	live  atomic.Bool
	group errgroup.Group

	mu        sync.Mutex
	cancel    context.CancelFunc
	mgr       *browser.Manager
	tab       *browser.Tab
	tabCancel context.CancelFunc
	bridge    *cdp.Bridge
	ws        *wsremote.Conn
	remote    *htmlremote.Remote
	srv       *http.Server
	ln        net.Listener
}

// New builds an inspector from cfg. Nothing connects until Start. Sinks
// listed in cfg are added after the ones passed in.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Inspector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i := &Inspector{
		cfg:    cfg,
		logger: logger,
		relay:  &relay{},
		calls:  service.NewCalls(nil),
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("inspector: %w", err)
		}
		i.journal = j
	}

	sinks = append(sinks, configSinks(cfg.Sinks, logger)...)
	i.feed = feed.New(feed.Config{
		Sink:      feed.NewRouter(logger, sinks...),
		Window:    cfg.Feed.Window,
		MaxBuffer: cfg.Feed.MaxBuffer,
		Render:    export.Render,
		Logger:    logger,
	})

	opts := []mirror.Option{
		mirror.WithLogger(logger),
		mirror.WithCallErrorHook(i.calls.Fail),
		mirror.WithSessionHook(i.onSession),
		mirror.WithCallTimeout(cfg.Agent.CallTimeout),
	}
	if i.journal != nil {
		opts = append(opts, mirror.WithRecorder(i.journal))
	}
	i.agent = mirror.NewAgent(i.relay, opts...)
	i.loop = mirror.NewLoop(i.agent, mirror.WithInbox(cfg.Agent.Inbox))

	i.svc = service.New(i.loop, i.calls, service.WithLogger(logger))
	i.eps = service.MakeEndpoints(i.svc)
	i.api = httpapi.New(i.eps, httpapi.WithLogger(logger))
	return i, nil
}

// onSession runs for every new mirror session, on the agent goroutine
// except for the first one, which starts inside NewAgent.
func (i *Inspector) onSession(session string, doc *mirror.Document) {
	i.feed.Attach(session, doc)
	if i.loop != nil && i.live.Load() {
		i.loop.Post(func(a *mirror.Agent) { a.GetDocumentElement(nil) })
	}
}

// Start runs the loop and the feed, connects the transport, requests the
// document element and, when configured, starts the HTTP server. After an
// error, Stop releases whatever did start.
func (i *Inspector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()

	i.spawn("loop", func() error { return i.loop.Run(ctx) })
	i.spawn("feed", func() error { return i.feed.Run(ctx) })

	if err := i.connect(ctx); err != nil {
		cancel()
		_ = i.group.Wait()
		return fmt.Errorf("inspector: connect %s: %w", i.cfg.Transport, err)
	}
	i.online()

	if i.cfg.HTTP.Addr != "" {
		if err := i.listen(i.cfg.HTTP.Addr); err != nil {
			return err
		}
	}
	i.logger.Info("inspector: started",
		"transport", i.cfg.Transport, "session", i.Session(), "http", i.cfg.HTTP.Addr)
	return nil
}

// spawn runs fn in the group until Stop. Cancellation is not an error.
func (i *Inspector) spawn(name string, fn func() error) {
	i.group.Go(func() error {
		err := fn()
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		i.logger.Error("inspector: "+name+" stopped", "error", err)
		return fmt.Errorf("inspector: %s: %w", name, err)
	})
}

func (i *Inspector) online() {
	i.live.Store(true)
	i.loop.Post(func(a *mirror.Agent) { a.GetDocumentElement(nil) })
}

// offline drops the transport and resets the mirror: node ids do not
// survive a new remote document.
func (i *Inspector) offline() {
	i.live.Store(false)
	i.relay.set(nil)
	i.loop.Post(func(a *mirror.Agent) { a.Reset() })
}

func (i *Inspector) connect(ctx context.Context) error {
	switch i.cfg.Transport {
	case config.TransportHTML:
		f, err := os.Open(i.cfg.HTML.File)
		if err != nil {
			return err
		}
		defer f.Close()
		r, err := htmlremote.New(f, htmlremote.WithLogger(i.logger))
		if err != nil {
			return err
		}
		i.mu.Lock()
		i.remote = r
		i.mu.Unlock()
		i.relay.set(r)
		i.spawn("htmlremote", func() error { return r.Run(ctx, i.loop) })
		if i.cfg.HTML.Watch {
			i.spawn("watch", func() error { return r.Watch(ctx, i.cfg.HTML.File, 0) })
		}
		return nil

	case config.TransportWebSocket:
		c, err := wsremote.Dial(ctx, i.cfg.WebSocket.URL, wsremote.WithLogger(i.logger))
		if err != nil {
			return err
		}
		i.mu.Lock()
		i.ws = c
		i.mu.Unlock()
		i.relay.set(c)
		i.spawn("wsremote", func() error {
			err := c.Serve(ctx, i.loop)
			if ctx.Err() == nil {
				i.logger.Warn("inspector: remote disconnected", "url", i.cfg.WebSocket.URL)
				i.offline()
			}
			return err
		})
		return nil

	case config.TransportCDP:
		i.mgr = browser.NewManager(browser.Config{
			RemoteURL:       i.cfg.Browser.Remote,
			Headless:        *i.cfg.Browser.Headless,
			Stealth:         i.cfg.Browser.Stealth,
			NavigateTimeout: i.cfg.Browser.NavigateTimeout,
			Logger:          i.logger,
		})
		if _, err := i.mgr.Start(ctx); err != nil {
			return err
		}
		i.mgr.SetRecycleCallback(&browser.RecycleCallback{
			BeforeRecycle: func() {
				i.detachTab()
				i.offline()
			},
			AfterRecycle: func(b *rod.Browser) {
				if err := i.attachTab(ctx, b); err != nil {
					i.logger.Error("inspector: reopen tab after recycle", "url", i.cfg.Page.URL, "error", err)
					return
				}
				i.online()
			},
		})
		return i.attachTab(ctx, i.mgr.Browser())
	}
	return fmt.Errorf("unknown transport %q", i.cfg.Transport)
}

func (i *Inspector) attachTab(ctx context.Context, b *rod.Browser) error {
	tab, err := i.mgr.OpenTabOn(ctx, b, i.cfg.Page.URL)
	if err != nil {
		return err
	}
	bridge := cdp.New(tab.Page, i.loop, i.logger)
	if err := bridge.Enable(); err != nil {
		tab.Close()
		return err
	}
	tabCtx, cancel := context.WithCancel(ctx)
	bridge.Attach(tabCtx, tab.Page)

	i.mu.Lock()
	i.tab, i.tabCancel, i.bridge = tab, cancel, bridge
	i.mu.Unlock()
	i.relay.set(bridge)
	i.logger.Info("inspector: tab attached", "url", tab.PageURL)
	return nil
}

func (i *Inspector) detachTab() {
	i.mu.Lock()
	tab, cancel, b := i.tab, i.tabCancel, i.bridge
	i.tab, i.tabCancel, i.bridge = nil, nil, nil
	i.mu.Unlock()
	if tab == nil {
		return
	}
	cancel()
	tab.Close()
	b.Wait()
}

func (i *Inspector) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("inspector: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           i.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	i.mu.Lock()
	i.srv, i.ln = srv, ln
	i.mu.Unlock()
	i.spawn("http", func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	i.logger.Info("inspector: http listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the address the HTTP server listens on, empty when it is off.
func (i *Inspector) Addr() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ln == nil {
		return ""
	}
	return i.ln.Addr().String()
}

// Recycle restarts Chrome. The mirror starts a new session on the
// reopened tab. Only the cdp transport has a browser.
func (i *Inspector) Recycle(ctx context.Context) error {
	if i.mgr == nil {
		return fmt.Errorf("inspector: transport %s has no browser", i.cfg.Transport)
	}
	return i.mgr.Recycle(ctx)
}

// Stop shuts down the HTTP server, the transport, the loop and the feed,
// then closes the journal.
func (i *Inspector) Stop() {
	i.mu.Lock()
	cancel, srv, ws := i.cancel, i.srv, i.ws
	i.mu.Unlock()

	if srv != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			i.logger.Warn("inspector: http shutdown", "error", err)
		}
		done()
	}
	i.live.Store(false)
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	if i.mgr != nil {
		i.detachTab()
		i.mgr.Close()
	}
	if err := i.group.Wait(); err != nil {
		i.logger.Warn("inspector: stopped with error", "error", err)
	}

	if err := i.feed.Close(); err != nil {
		i.logger.Warn("inspector: close sinks", "error", err)
	}
	if i.journal != nil {
		if err := i.journal.Close(); err != nil {
			i.logger.Warn("inspector: close journal", "error", err)
		}
	}
	i.logger.Info("inspector: stopped")
}

// Loop returns the loop owning the agent.
func (i *Inspector) Loop() *mirror.Loop { return i.loop }

// Service returns the request/response front of the mirror.
func (i *Inspector) Service() *service.Service { return i.svc }

// Session returns the current mirror session id.
func (i *Inspector) Session() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var s string
	if err := i.loop.Do(ctx, func(a *mirror.Agent) { s = a.SessionID() }); err != nil {
		return ""
	}
	return s
}

// Handler serves the JSON API and, when MCP is enabled, the streamable
// MCP endpoint at /mcp.
func (i *Inspector) Handler() http.Handler {
	r := chi.NewRouter()
	i.api.Routes(r)
	if i.cfg.MCP.Enabled {
		srv := i.MCPServer()
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}
	return r
}

// JournalSession summarises one journaled session.
type JournalSession = journal.Session

// Sessions lists the journaled sessions.
func (i *Inspector) Sessions(ctx context.Context) ([]JournalSession, error) {
	if i.journal == nil {
		return nil, ErrNoJournal
	}
	if err := i.journal.Flush(ctx); err != nil {
		return nil, err
	}
	return i.journal.Sessions(ctx)
}

// DeleteSession drops a session from the journal.
func (i *Inspector) DeleteSession(ctx context.Context, session string) (int64, error) {
	if i.journal == nil {
		return 0, ErrNoJournal
	}
	return i.journal.Delete(ctx, session)
}

// Replay rebuilds a journaled session into a fresh, disconnected agent.
// It returns the agent and how many messages were applied.
func (i *Inspector) Replay(ctx context.Context, session string) (*mirror.Agent, int, error) {
	if i.journal == nil {
		return nil, 0, ErrNoJournal
	}
	if err := i.journal.Flush(ctx); err != nil {
		return nil, 0, err
	}
	inert := mirror.TransportFunc(func(context.Context, mirror.Request) error { return nil })
	a := mirror.NewAgent(inert, mirror.WithLogger(i.logger))
	n, err := i.journal.Replay(ctx, session, a)
	return a, n, err
}

// relay is the agent's transport. The real one is plugged in once
// connected and swapped when the remote changes.
type relay struct {
	mu sync.RWMutex
	t  mirror.Transport
}

func (r *relay) set(t mirror.Transport) {
	r.mu.Lock()
	r.t = t
	r.mu.Unlock()
}

func (r *relay) Send(ctx context.Context, req mirror.Request) error {
	r.mu.RLock()
	t := r.t
	r.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("inspector: %s: %w", req.Method, service.ErrUnavailable)
	}
	return t.Send(ctx, req)
}
