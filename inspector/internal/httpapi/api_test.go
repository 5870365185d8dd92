package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/inspector/internal/htmlremote"
	"github.com/hazyhaar/dommirror/inspector/internal/service"
	"github.com/hazyhaar/dommirror/mirror"
)

const page = `<html><head><style>p { color: red }</style></head>
<body><div id="main"><p class="x">Hello</p><p>second</p></div></body></html>`

var quiet = slog.New(slog.DiscardHandler)

// locking refuses writes of data-locked.
type locking struct {
	*htmlremote.Remote
	loop *mirror.Loop
}

func (l *locking) Send(ctx context.Context, req mirror.Request) error {
	if req.Method == mirror.MethodSetAttribute && req.Name == "data-locked" {
		go l.loop.Deliver(context.Background(), mirror.NewMessage(mirror.MethodCallFailed, req.CallID, "locked"))
		return nil
	}
	return l.Remote.Send(ctx, req)
}

type env struct {
	srv    *httptest.Server
	remote *htmlremote.Remote
}

func serve(t *testing.T, timeout time.Duration, tr func(*htmlremote.Remote) mirror.Transport) *env {
	t.Helper()
	r, err := htmlremote.Parse(page, htmlremote.WithLogger(quiet))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	lock := &locking{Remote: r}
	var transport mirror.Transport = lock
	if tr != nil {
		transport = tr(r)
	}
	calls := service.NewCalls(nil)
	agent := mirror.NewAgent(transport, mirror.WithLogger(quiet), mirror.WithCallErrorHook(calls.Fail))
	loop := mirror.NewLoop(agent)
	lock.loop = loop

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	go r.Run(ctx, loop)

	svc := service.New(loop, calls, service.WithLogger(quiet), service.WithTimeout(timeout))
	api := New(service.MakeEndpoints(svc), WithLogger(quiet), WithRequestIDs(idgen.Sequence("req_")))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-loop.Done()
	})
	return &env{srv: srv, remote: r}
}

func (e *env) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// paragraph walks to the first <p> and returns its id.
func (e *env) paragraph(t *testing.T) mirror.NodeID {
	t.Helper()
	var doc service.Document
	if code := e.do(t, "GET", "/document", "", &doc); code != http.StatusOK {
		t.Fatalf("document: status %d", code)
	}
	id := doc.Element.ID
	for _, step := range []int{1, 0, 0} {
		var kids []service.Node
		if code := e.do(t, "GET", fmt.Sprintf("/nodes/%d/children", id), "", &kids); code != http.StatusOK {
			t.Fatalf("children of %d: status %d", id, code)
		}
		id = kids[step].ID
	}
	return id
}

func TestHealth(t *testing.T) {
	e := serve(t, time.Second, nil)
	resp, err := http.Get(e.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if id := resp.Header.Get("X-Request-ID"); id != "req_1" {
		t.Fatalf("request id: %q", id)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}

	head, err := http.Head(e.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	head.Body.Close()
	if head.StatusCode != http.StatusOK {
		t.Fatalf("HEAD status %d", head.StatusCode)
	}
}

func TestNodeRoutes(t *testing.T) {
	e := serve(t, 5*time.Second, nil)
	p := e.paragraph(t)

	var n service.Node
	if code := e.do(t, "GET", fmt.Sprintf("/nodes/%d", p), "", &n); code != http.StatusOK {
		t.Fatalf("node: status %d", code)
	}
	if n.Name != "P" || n.ChildCount != 1 {
		t.Fatalf("node: %+v", n)
	}

	var set service.Node
	code := e.do(t, "PUT", fmt.Sprintf("/nodes/%d/attributes/title", p), `{"value":"hi"}`, &set)
	if code != http.StatusOK {
		t.Fatalf("set attribute: status %d", code)
	}
	want := []service.Attr{{Name: "class", Value: "x"}, {Name: "title", Value: "hi"}}
	if diff := cmp.Diff(want, set.Attributes); diff != "" {
		t.Fatalf("attributes (-want +got):\n%s", diff)
	}

	var removed service.Node
	if code := e.do(t, "DELETE", fmt.Sprintf("/nodes/%d/attributes/class", p), "", &removed); code != http.StatusOK {
		t.Fatalf("remove attribute: status %d", code)
	}
	if len(removed.Attributes) != 1 || !strings.Contains(e.remote.HTML(), `<p title="hi">`) {
		t.Fatalf("after remove: %+v, remote %s", removed, e.remote.HTML())
	}

	var kids []service.Node
	e.do(t, "GET", fmt.Sprintf("/nodes/%d/children", p), "", &kids)
	var text service.Node
	if code := e.do(t, "PUT", fmt.Sprintf("/nodes/%d/value", kids[0].ID), `{"value":"Salut"}`, &text); code != http.StatusOK {
		t.Fatalf("set value: status %d", code)
	}
	if text.Value != "Salut" {
		t.Fatalf("value: %+v", text)
	}
}

func TestQueryRoutes(t *testing.T) {
	e := serve(t, 5*time.Second, nil)
	p := e.paragraph(t)

	var found []service.Node
	if code := e.do(t, "GET", "/search?q=p.x", "", &found); code != http.StatusOK {
		t.Fatalf("search: status %d", code)
	}
	if len(found) != 1 || found[0].ID != p {
		t.Fatalf("search: %+v", found)
	}

	var st service.Styles
	if code := e.do(t, "GET", fmt.Sprintf("/nodes/%d/styles?author_only=1", p), "", &st); code != http.StatusOK {
		t.Fatalf("styles: status %d", code)
	}
	if len(st.Rules) != 1 || st.Rules[0].Selector != "p" {
		t.Fatalf("rules: %+v", st.Rules)
	}

	e.do(t, "GET", fmt.Sprintf("/nodes/%d/children", p), "", nil)
	var out service.Export
	if code := e.do(t, "GET", fmt.Sprintf("/nodes/%d/export?format=markdown", p), "", &out); code != http.StatusOK {
		t.Fatalf("export: status %d", code)
	}
	if out.Format != "markdown" || !strings.Contains(out.Content, "Hello") {
		t.Fatalf("export: %+v", out)
	}
}

func TestErrorStatuses(t *testing.T) {
	e := serve(t, 5*time.Second, nil)
	p := e.paragraph(t)

	cases := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/nodes/999", "", http.StatusNotFound},
		{"GET", "/nodes/abc", "", http.StatusBadRequest},
		{"PUT", fmt.Sprintf("/nodes/%d/attributes/data-locked", p), `{"value":"1"}`, http.StatusConflict},
		{"PUT", fmt.Sprintf("/nodes/%d/attributes/title", p), `{}`, http.StatusBadRequest},
		{"PUT", fmt.Sprintf("/nodes/%d/value", p), `{"value":"x"}`, http.StatusBadRequest},
		{"GET", fmt.Sprintf("/nodes/%d/styles?author_only=maybe", p), "", http.StatusBadRequest},
		{"GET", fmt.Sprintf("/nodes/%d/export?format=pdf", p), "", http.StatusBadRequest},
		{"GET", "/search", "", http.StatusBadRequest},
	}
	for _, c := range cases {
		var body map[string]string
		if got := e.do(t, c.method, c.path, c.body, &body); got != c.want {
			t.Errorf("%s %s: status %d, want %d (%v)", c.method, c.path, got, c.want, body)
			continue
		}
		if body["error"] == "" || !strings.HasPrefix(body["request_id"], "req_") {
			t.Errorf("%s %s: error body %v", c.method, c.path, body)
		}
	}
}

func TestTimeoutStatus(t *testing.T) {
	silent := func(*htmlremote.Remote) mirror.Transport {
		return mirror.TransportFunc(func(context.Context, mirror.Request) error { return nil })
	}
	e := serve(t, 20*time.Millisecond, silent)
	var body map[string]string
	if code := e.do(t, "GET", "/document", "", &body); code != http.StatusGatewayTimeout {
		t.Fatalf("status %d, want 504 (%v)", code, body)
	}
}
