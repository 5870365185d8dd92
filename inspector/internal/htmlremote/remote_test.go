package htmlremote

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/dommirror/mirror"
)

const page = `<!DOCTYPE html>
<html lang="en">
<head><title>T</title>
<style>
.card { color: red; margin: 0 }
#main .card { color: blue !important }
p { color: green }
</style>
</head>
<body>
  <div id="main">
    <p class="card" style="padding: 4px">Hello <b>world</b></p>
    <p>second</p>
  </div>
</body>
</html>`

var quiet = slog.New(slog.DiscardHandler)

// direct dispatches straight into the agent on the test goroutine.
type direct struct {
	agent *mirror.Agent
	errs  []error
	seen  []mirror.Method
}

func (d *direct) Deliver(_ context.Context, m mirror.Message) error {
	d.seen = append(d.seen, m.Method)
	if err := d.agent.Dispatch(m); err != nil {
		d.errs = append(d.errs, err)
	}
	return nil
}

type fixture struct {
	remote   *Remote
	agent    *mirror.Agent
	d        *direct
	failures []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, err := Parse(page, WithLogger(quiet))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := &fixture{remote: r}
	f.agent = mirror.NewAgent(r, mirror.WithLogger(quiet),
		mirror.WithCallErrorHook(func(_ mirror.Method, _ mirror.CallID, err error) { f.failures = append(f.failures, err) }))
	f.d = &direct{agent: f.agent}
	return f
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.remote.Flush(context.Background(), f.d); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(f.d.errs) != 0 {
		t.Fatalf("dispatch errors: %v", f.d.errs)
	}
}

func (f *fixture) documentElement(t *testing.T) *mirror.Node {
	t.Helper()
	var el *mirror.Node
	f.agent.GetDocumentElement(func(n *mirror.Node) { el = n })
	f.flush(t)
	if el == nil {
		t.Fatal("no document element")
	}
	return el
}

func (f *fixture) children(t *testing.T, n *mirror.Node) []*mirror.Node {
	t.Helper()
	var kids []*mirror.Node
	called := false
	n.GetChildren(func(c []*mirror.Node) { kids, called = c, true })
	f.flush(t)
	if !called {
		t.Fatalf("GetChildren(%d) never answered", n.ID())
	}
	return kids
}

func (f *fixture) byName(t *testing.T, parent *mirror.Node, name string) *mirror.Node {
	t.Helper()
	for _, c := range f.children(t, parent) {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("no %s under %s", name, parent.Name())
	return nil
}

func names(nodes []*mirror.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func TestRemote_DocumentAndChildren(t *testing.T) {
	f := newFixture(t)
	html := f.documentElement(t)
	if v, _ := html.GetAttribute("lang"); v != "en" {
		t.Fatalf("lang: got %q", v)
	}
	kids, populated := html.Children()
	if !populated {
		t.Fatal("html should arrive with its children")
	}
	if diff := cmp.Diff([]string{"HEAD", "BODY"}, names(kids)); diff != "" {
		t.Fatalf("html children (-want +got):\n%s", diff)
	}
	body := kids[1]
	if _, populated := body.Children(); populated || body.ChildCount() != 1 {
		t.Fatalf("body: populated=%v count=%d", populated, body.ChildCount())
	}
	div := f.children(t, body)[0]
	if diff := cmp.Diff([]string{"P", "P"}, names(f.children(t, div))); diff != "" {
		t.Fatalf("div children (-want +got):\n%s", diff)
	}
}

func TestRemote_Styles(t *testing.T) {
	f := newFixture(t)
	body := f.byName(t, f.documentElement(t), "BODY")
	div := f.byName(t, body, "DIV")
	card := f.children(t, div)[0]

	var got *mirror.Styles
	var authorRules, allRules []string
	card.GetStyles(true, func(s *mirror.Styles) {
		got = s
		for _, r := range s.Rules {
			authorRules = append(authorRules, r.Selector)
		}
	})
	f.flush(t)
	if got == nil {
		t.Fatal("styles not delivered")
	}
	if diff := cmp.Diff([]string{".card", "#main .card", "p"}, authorRules); diff != "" {
		t.Fatalf("author rules (-want +got):\n%s", diff)
	}
	for prop, want := range map[string]string{"color": "blue", "margin": "0", "padding": "4px", "display": "block"} {
		if v := got.Computed.PropertyValue(prop); v != want {
			t.Errorf("computed %s: got %q, want %q", prop, v, want)
		}
	}
	if got.Inline.PropertyValue("padding") != "4px" {
		t.Errorf("inline: %+v", got.Inline)
	}

	card.GetStyles(false, func(s *mirror.Styles) {
		for _, r := range s.Rules {
			allRules = append(allRules, r.Selector)
		}
	})
	f.flush(t)
	if len(allRules) != 4 || allRules[0] != "p" {
		t.Fatalf("all rules: %v", allRules)
	}
}

func TestRemote_MutationRequests(t *testing.T) {
	f := newFixture(t)
	body := f.byName(t, f.documentElement(t), "BODY")
	div := f.byName(t, body, "DIV")
	second := f.children(t, div)[1]
	text := f.children(t, second)[0]

	done := 0
	div.SetAttribute("title", "box", func() { done++ })
	div.RemoveAttribute("id", func() { done++ })
	text.SetValue("changed", func() { done++ })
	text.SetAttribute("x", "y", func() { done++ })
	f.flush(t)

	if done != 3 {
		t.Fatalf("confirmed: got %d, want 3", done)
	}
	var rej *mirror.ErrRejected
	if len(f.failures) != 1 || !errors.As(f.failures[0], &rej) {
		t.Fatalf("failures: %v", f.failures)
	}
	out := f.remote.HTML()
	for _, want := range []string{`<div title="box">`, "<p>changed</p>"} {
		if !strings.Contains(out, want) {
			t.Errorf("remote document lacks %s:\n%s", want, out)
		}
	}
	if text.Value() != "changed" {
		t.Fatalf("mirror text: %q", text.Value())
	}
}

func TestRemote_SearchRevealsPath(t *testing.T) {
	f := newFixture(t)
	f.documentElement(t)

	var found []string
	f.agent.PerformSearch("second", func(n *mirror.Node) { found = append(found, n.Value()) })
	f.flush(t)
	if diff := cmp.Diff([]string{"second"}, found); diff != "" {
		t.Fatalf("found (-want +got):\n%s", diff)
	}

	found = nil
	f.agent.PerformSearch("p.card b", func(n *mirror.Node) { found = append(found, n.Name()) })
	f.flush(t)
	if diff := cmp.Diff([]string{"B"}, found); diff != "" {
		t.Fatalf("found (-want +got):\n%s", diff)
	}
}

func TestRemote_RemoteEdits(t *testing.T) {
	f := newFixture(t)
	html := f.documentElement(t)
	body := f.byName(t, html, "BODY")
	div := f.byName(t, body, "DIV")
	f.children(t, div)

	ids, err := f.remote.Insert(div.ID(), 0, `<span class="new">n</span>`)
	if err != nil || len(ids) != 1 {
		t.Fatalf("Insert: %v %v", ids, err)
	}
	f.flush(t)
	kids, _ := div.Children()
	if diff := cmp.Diff([]string{"SPAN", "P", "P"}, names(kids)); diff != "" {
		t.Fatalf("after insert (-want +got):\n%s", diff)
	}

	if err := f.remote.SetAttr(ids[0], "data-x", "1"); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := f.remote.Remove(kids[2].ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	f.flush(t)
	if v, _ := f.agent.GetNodeForID(ids[0]).GetAttribute("data-x"); v != "1" {
		t.Fatalf("pushed attribute: %q", v)
	}
	if f.agent.GetNodeForID(kids[2].ID()) != nil || div.ChildCount() != 2 {
		t.Fatal("removal not pushed")
	}
	if err := f.remote.Remove(9999); !errors.Is(err, ErrNoNode) {
		t.Fatalf("Remove unknown: %v", err)
	}
}

func TestRemote_InsertIntoUnfetchedParent(t *testing.T) {
	f := newFixture(t)
	body := f.byName(t, f.documentElement(t), "BODY")
	if _, err := f.remote.Insert(body.ID(), 0, "<nav>x</nav>"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	f.flush(t)
	if _, populated := body.Children(); populated || body.ChildCount() != 2 {
		t.Fatalf("body: count=%d", body.ChildCount())
	}
	if diff := cmp.Diff([]string{"NAV", "DIV"}, names(f.children(t, body))); diff != "" {
		t.Fatalf("fetched children (-want +got):\n%s", diff)
	}
}

func TestRemote_Reload(t *testing.T) {
	f := newFixture(t)
	before := f.documentElement(t).ID()
	session := f.agent.SessionID()

	if err := f.remote.Reload(strings.NewReader("<html><body><h1>new</h1></body></html>")); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	f.flush(t)
	if f.agent.SessionID() == session || f.agent.Document().DocumentElement() != nil {
		t.Fatal("agent not reset")
	}
	if after := f.documentElement(t).ID(); after <= before {
		t.Fatalf("ids reused: %d then %d", before, after)
	}
}

func TestRemote_UnknownNodeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.remote.Send(ctx, mirror.Request{Method: mirror.MethodGetChildNodes, CallID: 7, NodeID: 4242}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rec := &direct{agent: f.agent}
	_ = f.remote.Flush(ctx, rec)
	if diff := cmp.Diff([]mirror.Method{mirror.MethodCallFailed}, rec.seen); diff != "" {
		t.Fatalf("replies (-want +got):\n%s", diff)
	}
	if err := f.remote.Handle(ctx, mirror.Message{Method: "Teleport"}); err == nil {
		t.Fatal("Handle accepted an unknown method")
	}
}

func TestRemote_Lookup(t *testing.T) {
	f := newFixture(t)
	if _, ok := f.remote.Lookup("#main"); !ok {
		t.Fatal("Lookup #main failed")
	}
	if _, ok := f.remote.Lookup("#missing"); ok {
		t.Fatal("Lookup #missing succeeded")
	}
}

func TestRemote_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Parse(page, WithLogger(quiet))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, path, 10*time.Millisecond) }()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(r.HTML(), "edited on disk") {
		if time.Now().After(deadline) {
			t.Fatalf("document not reloaded: %s", r.HTML())
		}
		// Rewrite until the watcher is armed and picks it up.
		if err := os.WriteFile(path, []byte("<html><body><p>edited on disk</p></body></html>"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v, want context.Canceled", err)
	}
}
