// Package mirror keeps a local, lazily populated copy of a DOM tree that
// lives on the other side of an asynchronous message channel.
//
// The Agent issues requests through a Transport and correlates replies by
// call id; push notifications from the remote side are applied in arrival
// order. Nothing in this package is safe for concurrent use: drive the
// agent from one goroutine, normally through a Loop.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/dommirror/idgen"
)

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithRefreshHook is called with a node after a confirmed attribute change,
// so a UI can redraw whatever represents it.
func WithRefreshHook(fn func(*Node)) Option {
	return func(a *Agent) { a.refresh = fn }
}

// WithCallErrorHook receives every call that ends without success:
// rejections, remote failures, send errors, timeouts and session resets.
func WithCallErrorHook(fn func(Method, CallID, error)) Option {
	return func(a *Agent) { a.onCallError = fn }
}

// WithSessionHook is called after every session start, the first one
// included, with the new session id and document.
func WithSessionHook(fn func(session string, doc *Document)) Option {
	return func(a *Agent) { a.onSession = fn }
}

// WithRecorder taps every outbound and inbound message.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithCallTimeout makes ExpireCalls drop calls older than d. Zero, the
// default, keeps calls pending until answered or reset.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Agent) { a.callTimeout = d }
}

// WithSessionIDs sets the session id generator.
func WithSessionIDs(gen idgen.Generator) Option {
	return func(a *Agent) { a.newSessionID = gen }
}

// WithClock replaces time.Now for call bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithContext sets the context handed to Transport.Send and the Recorder.
func WithContext(ctx context.Context) Option {
	return func(a *Agent) { a.ctx = ctx }
}

// Agent is the client half of the mirror protocol.
type Agent struct {
	transport    Transport
	logger       *slog.Logger
	refresh      func(*Node)
	onCallError  func(Method, CallID, error)
	onSession    func(string, *Document)
	recorder     Recorder
	callTimeout  time.Duration
	newSessionID idgen.Generator
	now          func() time.Time
	ctx          context.Context

	handlers map[Method]handlerFunc
	pending  *pendingTable

	session          string
	doc              *Document
	store            *Store
	elementRequested bool
	elementWaiters   []func(*Node)
	searchResults    []NodeID
}

// NewAgent creates an agent and starts its first session.
func NewAgent(t Transport, opts ...Option) *Agent {
	a := &Agent{
		transport:    t,
		logger:       slog.Default(),
		newSessionID: idgen.Prefixed("ses_", idgen.UUIDv7()),
		now:          time.Now,
		ctx:          context.Background(),
		pending:      newPendingTable(),
	}
	for _, o := range opts {
		o(a)
	}
	a.handlers = a.routes()
	a.Reset()
	return a
}

// Reset discards the whole mirror and starts a new session. Calls still
// pending are reported with ErrSessionReset; their late replies are
// rejected as unknown calls.
func (a *Agent) Reset() {
	for _, c := range a.pending.drain() {
		c.fail()
		a.callFailed(c.method, c.id, ErrSessionReset)
	}
	prev := a.session
	a.session = a.newSessionID()
	a.doc = newDocument(a)
	a.store = newStore()
	a.store.put(a.doc.node)
	a.elementRequested = false
	a.elementWaiters = nil
	a.searchResults = nil
	if prev != "" {
		a.logger.Info("mirror: session reset", "previous", prev, "session", a.session)
	}
	if a.onSession != nil {
		a.onSession(a.session, a.doc)
	}
}

func (a *Agent) SessionID() string { return a.session }
func (a *Agent) Document() *Document { return a.doc }
func (a *Agent) Store() *Store { return a.store }

// LastCallID returns the id of the most recent call, zero before the
// first. Read it right after an operation, on the agent goroutine, to learn
// whether the operation issued a call.
func (a *Agent) LastCallID() CallID { return a.pending.last }

// Pending returns the number of outstanding calls.
func (a *Agent) Pending() int { return a.pending.len() }

func (a *Agent) Logger() *slog.Logger { return a.logger }

// GetNodeForID returns the mirror of id, or nil.
func (a *Agent) GetNodeForID(id NodeID) *Node {
	n, _ := a.store.Get(id)
	return n
}

// GetDocumentElement calls cb with the root element, at once if known.
// Otherwise the element is requested (once per session) and cb runs when
// the remote side pushes it.
func (a *Agent) GetDocumentElement(cb func(*Node)) {
	if el := a.doc.element; el != nil {
		if cb != nil {
			cb(el)
		}
		return
	}
	if cb != nil {
		a.elementWaiters = append(a.elementWaiters, cb)
	}
	if a.elementRequested {
		return
	}
	a.elementRequested = true
	if err := a.send(Request{Method: MethodGetDocumentElement}); err != nil {
		a.elementRequested = false
		a.logger.Warn("mirror: request document element", "error", err)
	}
}

// PerformSearch asks the remote side for nodes matching query. On reply the
// result list is replaced and visit runs for every result that is
// mirrored.
func (a *Agent) PerformSearch(query string, visit func(*Node)) {
	a.search(query, visit, nil)
}

// Search is PerformSearch with a completion callback: done receives the
// mirrored results once the reply has been applied. It does not run if the
// call fails.
func (a *Agent) Search(query string, done func([]*Node)) {
	a.search(query, nil, done)
}

func (a *Agent) search(query string, visit func(*Node), done func([]*Node)) {
	a.call(Request{Method: MethodPerformSearch, Query: query}, func(c *pendingCall, r reply) error {
		a.searchResults = append([]NodeID(nil), r.ids...)
		var (
			found   = make([]*Node, 0, len(r.ids))
			missing []error
		)
		for _, id := range r.ids {
			n, ok := a.store.Get(id)
			if !ok {
				missing = append(missing, &ErrUnknownNode{ID: id})
				continue
			}
			found = append(found, n)
			if visit != nil {
				visit(n)
			}
		}
		if done != nil {
			done(found)
		}
		return errors.Join(missing...)
	}, nil)
}

// SearchResults returns the ids of the last successful search.
func (a *Agent) SearchResults() []NodeID {
	return append([]NodeID(nil), a.searchResults...)
}

// SearchCanceled clears the local results and tells the remote side.
func (a *Agent) SearchCanceled() {
	a.searchResults = nil
	if err := a.send(Request{Method: MethodSearchCanceled}); err != nil {
		a.logger.Warn("mirror: cancel search", "error", err)
	}
}

// ExpireCalls drops calls issued more than the call timeout before now and
// returns how many were dropped.
func (a *Agent) ExpireCalls(now time.Time) int {
	if a.callTimeout <= 0 {
		return 0
	}
	expired := a.pending.expire(now.Add(-a.callTimeout))
	for _, c := range expired {
		c.fail()
		a.callFailed(c.method, c.id, ErrCallTimeout)
	}
	return len(expired)
}

// CallTimeout returns the configured call timeout.
func (a *Agent) CallTimeout() time.Duration { return a.callTimeout }

// --- node operations ---

func (a *Agent) getChildNodes(n *Node, cb func([]*Node)) {
	if n.populated {
		if cb != nil {
			cb(n.children)
		}
		return
	}
	if cb == nil {
		cb = func([]*Node) {}
	}
	n.childWaiters = append(n.childWaiters, cb)
	if n.fetchCall != 0 {
		return
	}
	// A transport may resolve the call inside Send, so the id is only
	// kept while the fetch is still open.
	n.fetchCall = -1
	id := a.call(Request{Method: MethodGetChildNodes, NodeID: n.id}, func(c *pendingCall, r reply) error {
		n.fetchCall = 0
		if !a.owns(n) {
			n.childWaiters = nil
			return nil
		}
		if r.children != nil && !n.populated {
			if err := a.populate(n, r.children); err != nil {
				n.childWaiters = nil
				a.callFailed(c.method, c.id, err)
				return err
			}
			return nil
		}
		if n.populated {
			n.releaseChildWaiters()
		}
		// Otherwise the children follow as a SetChildNodes push.
		return nil
	}, func() {
		n.fetchCall = 0
		n.childWaiters = nil
	})
	if n.fetchCall == -1 {
		n.fetchCall = id
	}
}

func (a *Agent) getNodeStyles(n *Node, authorOnly bool, cb func(*Styles)) {
	req := Request{Method: MethodGetNodeStyles, NodeID: n.id, AuthorOnly: authorOnly}
	a.call(req, func(c *pendingCall, r reply) error {
		if !a.owns(n) {
			return nil
		}
		p := r.styles
		if p == nil {
			p = &StylesPayload{}
		}
		s := buildStyles(p)
		n.attachStyles(s)
		defer n.clearStyles()
		if cb != nil {
			cb(s)
		}
		return nil
	}, nil)
}

func (a *Agent) setAttribute(n *Node, name, value string, done func()) {
	req := Request{Method: MethodSetAttribute, NodeID: n.id, Name: name, Value: value}
	a.call(req, a.confirmed(n, done, func() {
		n.putAttr(name, value)
		a.doc.FireEvent(&Event{Type: EventAttrModified, Target: n, AttrName: name})
	}), nil)
}

func (a *Agent) removeAttribute(n *Node, name string, done func()) {
	req := Request{Method: MethodRemoveAttribute, NodeID: n.id, Name: name}
	a.call(req, a.confirmed(n, done, func() {
		n.deleteAttr(name)
		a.doc.FireEvent(&Event{Type: EventAttrModified, Target: n, AttrName: name})
	}), nil)
}

func (a *Agent) setTextNodeValue(n *Node, value string, done func()) {
	req := Request{Method: MethodSetTextNodeValue, NodeID: n.id, Value: value}
	a.call(req, func(c *pendingCall, r reply) error {
		if !r.ok {
			a.callFailed(c.method, c.id, &ErrRejected{Method: c.method, CallID: c.id})
			return nil
		}
		if !a.owns(n) {
			return nil
		}
		n.value = value
		a.doc.FireEvent(&Event{Type: EventCharacterDataModified, Target: n})
		if done != nil {
			done()
		}
		return nil
	}, nil)
}

// confirmed builds the resolver shared by attribute writes: apply the
// change, refresh, then done. A rejection changes nothing.
func (a *Agent) confirmed(n *Node, done, apply func()) func(*pendingCall, reply) error {
	return func(c *pendingCall, r reply) error {
		if !r.ok {
			a.callFailed(c.method, c.id, &ErrRejected{Method: c.method, CallID: c.id})
			return nil
		}
		if !a.owns(n) {
			return nil
		}
		apply()
		if a.refresh != nil {
			a.refresh(n)
		}
		if done != nil {
			done()
		}
		return nil
	}
}

// --- plumbing ---

// call registers a pending entry, then sends. The entry exists before Send
// runs, so a transport may deliver the reply synchronously.
func (a *Agent) call(req Request, resolve func(*pendingCall, reply) error, onFail func()) CallID {
	c := &pendingCall{method: req.Method, issued: a.now(), resolve: resolve, onFail: onFail}
	req.CallID = a.pending.add(c)
	if err := a.send(req); err != nil {
		a.pending.drop(c.id)
		c.fail()
		a.callFailed(c.method, c.id, fmt.Errorf("mirror: send %s: %w", req.Method, err))
	}
	return c.id
}

func (a *Agent) send(req Request) error {
	if a.recorder != nil {
		a.recorder.Record(a.ctx, a.session, Outbound, req.Message())
	}
	return a.transport.Send(a.ctx, req)
}

func (a *Agent) callFailed(method Method, id CallID, err error) {
	a.logger.Warn("mirror: call failed", "method", string(method), "call_id", int64(id), "error", err)
	if a.onCallError != nil {
		a.onCallError(method, id, err)
	}
}

// owns reports whether n is still the live mirror of its id.
func (a *Agent) owns(n *Node) bool {
	cur, ok := a.store.Get(n.id)
	return ok && cur == n
}

// fresh checks that no node in payloads, at any depth, is already
// mirrored or named twice. Nothing is built when it fails.
func (a *Agent) fresh(payloads ...Payload) error {
	seen := make(map[NodeID]struct{})
	var walk func(ps []Payload) error
	walk = func(ps []Payload) error {
		for i := range ps {
			id := ps[i].ID
			if _, dup := a.store.Get(id); dup {
				return &ErrDuplicateNode{ID: id}
			}
			if _, dup := seen[id]; dup {
				return &ErrDuplicateNode{ID: id}
			}
			seen[id] = struct{}{}
			if err := walk(ps[i].Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(payloads)
}

// build creates the mirror of p and, recursively, of any children it
// carries, registering every node in the store. Callers check fresh first.
func (a *Agent) build(p *Payload) *Node {
	n := newNode(a.doc, p)
	a.store.put(n)
	if p.Children != nil {
		kids := make([]*Node, len(p.Children))
		for i := range p.Children {
			kids[i] = a.build(&p.Children[i])
		}
		n.setChildren(kids)
	}
	return n
}

func (a *Agent) populate(parent *Node, payloads []Payload) error {
	if err := a.fresh(payloads...); err != nil {
		return err
	}
	kids := make([]*Node, len(payloads))
	for i := range payloads {
		kids[i] = a.build(&payloads[i])
	}
	parent.setChildren(kids)
	parent.releaseChildWaiters()
	return nil
}
