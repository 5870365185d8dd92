// Package htmlremote is an in-process remote side of the mirror protocol,
// backed by a parsed HTML document.
//
// Requests are answered synchronously into an ordered outbox; Run (or
// Flush) delivers the outbox to the agent's loop. Remote-side edits
// (Insert, Remove, SetAttr, SetText, Reload) change the document and push
// the notifications a browser would send.
package htmlremote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommirror/mirror"
)

// Deliverer receives outbound messages, normally a *mirror.Loop.
type Deliverer interface {
	Deliver(ctx context.Context, m mirror.Message) error
}

// Option configures a Remote.
type Option func(*Remote)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Remote) { r.logger = l }
}

// Remote serves one HTML document.
type Remote struct {
	logger *slog.Logger

	mu    sync.Mutex
	doc   *html.Node
	ids   map[*html.Node]mirror.NodeID
	nodes map[mirror.NodeID]*html.Node
	last  mirror.NodeID

	// known holds nodes described to the agent; expanded those whose
	// children were described too.
	known    map[mirror.NodeID]bool
	expanded map[mirror.NodeID]bool

	out outbox
}

// New parses an HTML document from rd.
func New(rd io.Reader, opts ...Option) (*Remote, error) {
	doc, err := html.Parse(rd)
	if err != nil {
		return nil, fmt.Errorf("htmlremote: parse: %w", err)
	}
	r := &Remote{
		logger: slog.Default(),
		out:    outbox{wake: make(chan struct{}, 1)},
	}
	for _, o := range opts {
		o(r)
	}
	r.load(doc)
	return r, nil
}

// Parse is New over a string.
func Parse(s string, opts ...Option) (*Remote, error) {
	return New(strings.NewReader(s), opts...)
}

func (r *Remote) load(doc *html.Node) {
	r.doc = doc
	r.ids = map[*html.Node]mirror.NodeID{doc: 0}
	r.nodes = map[mirror.NodeID]*html.Node{0: doc}
	r.known = map[mirror.NodeID]bool{0: true}
	r.expanded = make(map[mirror.NodeID]bool)
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		r.assign(c)
	}
}

// assign numbers n and its subtree. Whitespace-only text is left out, as
// browsers do in their DOM inspection protocols.
func (r *Remote) assign(n *html.Node) {
	if n.Type == html.TextNode && strings.TrimSpace(n.Data) == "" {
		return
	}
	r.last++
	r.ids[n] = r.last
	r.nodes[r.last] = n
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.assign(c)
	}
}

func (r *Remote) forget(n *html.Node) {
	id, ok := r.ids[n]
	if !ok {
		return
	}
	delete(r.ids, n)
	delete(r.nodes, id)
	delete(r.known, id)
	delete(r.expanded, id)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.forget(c)
	}
}

// Send implements mirror.Transport. The reply is queued, never delivered
// inline.
func (r *Remote) Send(_ context.Context, req mirror.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs, err := r.handle(req)
	if err != nil {
		return err
	}
	r.out.push(msgs...)
	return nil
}

// Handle accepts a request in wire form, for serving over a connection.
func (r *Remote) Handle(ctx context.Context, m mirror.Message) error {
	req, err := mirror.ParseRequest(m)
	if err != nil {
		return fmt.Errorf("htmlremote: %w", err)
	}
	return r.Send(ctx, req)
}

// Run delivers queued messages to d, in order, until ctx is done or d
// fails.
func (r *Remote) Run(ctx context.Context, d Deliverer) error {
	for {
		if err := r.Flush(ctx, d); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.out.wake:
		}
	}
}

// Flush delivers everything queued so far and returns.
func (r *Remote) Flush(ctx context.Context, d Deliverer) error {
	for {
		msgs := r.out.take()
		if len(msgs) == 0 {
			return nil
		}
		for i, m := range msgs {
			if err := d.Deliver(ctx, m); err != nil {
				r.out.requeue(msgs[i+1:])
				return fmt.Errorf("htmlremote: deliver %s: %w", m.Method, err)
			}
		}
	}
}

// Queued reports how many messages wait for delivery.
func (r *Remote) Queued() int { return r.out.len() }

func (r *Remote) handle(req mirror.Request) ([]mirror.Message, error) {
	switch req.Method {
	case mirror.MethodGetDocumentElement:
		el := documentElement(r.doc)
		if el == nil {
			r.logger.Warn("htmlremote: document has no element")
			return nil, nil
		}
		r.expanded[0] = true
		return []mirror.Message{mirror.NewMessage(mirror.MethodSetDocumentElement, r.payload(el, 1))}, nil

	case mirror.MethodGetChildNodes:
		n, ok := r.nodes[req.NodeID]
		if !ok {
			return r.failed(req, "no node with id %d", req.NodeID), nil
		}
		return []mirror.Message{mirror.NewMessage(mirror.MethodDidGetChildNodes, req.CallID, r.childPayloads(n))}, nil

	case mirror.MethodGetNodeStyles:
		n, ok := r.nodes[req.NodeID]
		if !ok || n.Type != html.ElementNode {
			return r.failed(req, "no element with id %d", req.NodeID), nil
		}
		return []mirror.Message{mirror.NewMessage(mirror.MethodDidGetNodeStyles, req.CallID, r.styles(n, req.AuthorOnly))}, nil

	case mirror.MethodSetAttribute:
		ok := r.setAttr(req.NodeID, req.Name, req.Value)
		return []mirror.Message{mirror.NewMessage(mirror.MethodDidApplyDomChange, req.CallID, ok)}, nil

	case mirror.MethodRemoveAttribute:
		ok := r.removeAttr(req.NodeID, req.Name)
		return []mirror.Message{mirror.NewMessage(mirror.MethodDidRemoveAttribute, req.CallID, ok)}, nil

	case mirror.MethodSetTextNodeValue:
		ok := r.setText(req.NodeID, req.Value)
		return []mirror.Message{mirror.NewMessage(mirror.MethodDidSetTextNodeValue, req.CallID, ok)}, nil

	case mirror.MethodPerformSearch:
		return r.search(req), nil

	case mirror.MethodSearchCanceled:
		return nil, nil
	}
	return nil, fmt.Errorf("htmlremote: unsupported request %s", req.Method)
}

func (r *Remote) failed(req mirror.Request, format string, args ...any) []mirror.Message {
	reason := fmt.Sprintf(format, args...)
	r.logger.Debug("htmlremote: call failed", "method", string(req.Method), "reason", reason)
	return []mirror.Message{mirror.NewMessage(mirror.MethodCallFailed, req.CallID, reason)}
}

// search reveals the path to every match before replying, so the agent
// knows each result id.
func (r *Remote) search(req mirror.Request) []mirror.Message {
	var msgs []mirror.Message
	matches := r.find(req.Query)
	ids := make([]mirror.NodeID, 0, len(matches))
	for _, n := range matches {
		msgs = append(msgs, r.reveal(n)...)
		ids = append(ids, r.ids[n])
	}
	return append(msgs, mirror.NewMessage(mirror.MethodDidPerformSearch, req.CallID, ids))
}

func (r *Remote) find(query string) []*html.Node {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	sel := parseSelector(q)
	lower := strings.ToLower(q)
	var out []*html.Node
	r.walk(r.doc, func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if sel != nil && sel.matches(n) {
				out = append(out, n)
			}
		case html.TextNode:
			if strings.Contains(strings.ToLower(n.Data), lower) {
				out = append(out, n)
			}
		}
	})
	return out
}

func (r *Remote) reveal(n *html.Node) []mirror.Message {
	var path []*html.Node
	for p := n.Parent; p != nil && p != r.doc; p = p.Parent {
		path = append(path, p)
	}
	var msgs []mirror.Message
	for i := len(path) - 1; i >= 0; i-- {
		p := path[i]
		id := r.ids[p]
		if !r.known[id] {
			break
		}
		if !r.expanded[id] {
			msgs = append(msgs, mirror.NewMessage(mirror.MethodSetChildNodes, id, r.childPayloads(p)))
		}
	}
	return msgs
}

// walk visits numbered nodes in document order.
func (r *Remote) walk(n *html.Node, visit func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := r.ids[c]; !ok {
			continue
		}
		visit(c)
		r.walk(c, visit)
	}
}

// Lookup returns the id of the first element matching a selector, or of
// the first text node containing the query.
func (r *Remote) Lookup(query string) (mirror.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := r.find(query)
	if len(found) == 0 {
		return 0, false
	}
	return r.ids[found[0]], true
}

// HTML renders the remote document as it currently is.
func (r *Remote) HTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	if err := html.Render(&b, r.doc); err != nil {
		r.logger.Warn("htmlremote: render", "error", err)
	}
	return b.String()
}

type outbox struct {
	mu   sync.Mutex
	msgs []mirror.Message
	wake chan struct{}
}

func (o *outbox) push(msgs ...mirror.Message) {
	if len(msgs) == 0 {
		return
	}
	o.mu.Lock()
	o.msgs = append(o.msgs, msgs...)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []mirror.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.msgs
	o.msgs = nil
	return msgs
}

func (o *outbox) requeue(msgs []mirror.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(append([]mirror.Message(nil), msgs...), o.msgs...)
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}
