package mirror

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

// fakeRemote records requests; tests answer them by hand.
type fakeRemote struct {
	reqs []Request
	err  error
}

func (f *fakeRemote) Send(_ context.Context, r Request) error {
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, r)
	return nil
}

func (f *fakeRemote) last(t *testing.T) Request {
	t.Helper()
	if len(f.reqs) == 0 {
		t.Fatal("no request sent")
	}
	return f.reqs[len(f.reqs)-1]
}

type callErr struct {
	method Method
	id     CallID
	err    error
}

type harness struct {
	agent    *Agent
	remote   *fakeRemote
	failures []callErr
	refresh  []NodeID
	clock    time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{remote: &fakeRemote{}, clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithCallErrorHook(func(m Method, id CallID, err error) {
			h.failures = append(h.failures, callErr{m, id, err})
		}),
		WithRefreshHook(func(n *Node) { h.refresh = append(h.refresh, n.ID()) }),
		WithClock(func() time.Time { return h.clock }),
	}
	h.agent = NewAgent(h.remote, append(base, opts...)...)
	return h
}

// loadDocument installs <html id=1> with unpopulated head (2) and body (3).
func (h *harness) loadDocument(t *testing.T) *Node {
	t.Helper()
	html := el(1, "HTML", 0)
	html.Children = []Payload{el(2, "HEAD", 1), el(3, "BODY", 2, "class", "main")}
	if err := h.agent.SetDocumentElement(html); err != nil {
		t.Fatalf("SetDocumentElement: %v", err)
	}
	return h.agent.Document().DocumentElement()
}

func el(id NodeID, name string, childCount int, attrs ...string) Payload {
	if attrs == nil {
		attrs = []string{}
	}
	return Payload{ID: id, Kind: KindElement, Name: name, Attributes: attrs, ChildCount: childCount}
}

func text(id NodeID, value string) Payload {
	return Payload{ID: id, Kind: KindText, Name: "#text", Value: value, Attributes: []string{}}
}

func childIDs(n *Node) []NodeID {
	kids, _ := n.Children()
	ids := make([]NodeID, len(kids))
	for i, c := range kids {
		ids[i] = c.ID()
	}
	return ids
}

// checkLinks verifies the derived navigation links of n's children.
func checkLinks(t *testing.T, n *Node) {
	t.Helper()
	kids, _ := n.Children()
	if n.ChildCount() != len(kids) {
		t.Fatalf("node %d: child count %d, %d children", n.ID(), n.ChildCount(), len(kids))
	}
	for i, c := range kids {
		if c.ParentNode() != n {
			t.Fatalf("child %d: wrong parent", c.ID())
		}
		var prev, next *Node
		if i > 0 {
			prev = kids[i-1]
		}
		if i < len(kids)-1 {
			next = kids[i+1]
		}
		if c.PrevSibling() != prev || c.NextSibling() != next {
			t.Fatalf("child %d at %d: bad sibling links", c.ID(), i)
		}
	}
	if len(kids) > 0 && (n.FirstChild() != kids[0] || n.LastChild() != kids[len(kids)-1]) {
		t.Fatalf("node %d: bad first/last child", n.ID())
	}
}

type eventLog struct {
	events []Event
}

func (l *eventLog) HandleEvent(e *Event) { l.events = append(l.events, *e) }

func watchAll(doc *Document) *eventLog {
	l := &eventLog{}
	for _, typ := range []EventType{EventContentLoaded, EventNodeInserted, EventNodeRemoved, EventAttrModified, EventCharacterDataModified} {
		doc.AddEventListener(typ, l)
	}
	return l
}
