package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/mirror"
)

var quiet = slog.New(slog.DiscardHandler)

func TestCompress_ConsecutiveAttr(t *testing.T) {
	records := []Record{
		{Op: OpAttr, Node: 4, Attr: "class", Value: "a"},
		{Op: OpAttr, Node: 4, Attr: "class", Value: "b"},
		{Op: OpAttr, Node: 4, Attr: "class", Value: "c"},
	}
	got := compress(records)
	if len(got) != 1 || got[0].Value != "c" {
		t.Fatalf("compress: got %+v, want one record with value c", got)
	}
}

func TestCompress_MixedOps(t *testing.T) {
	records := []Record{
		{Op: OpAttr, Node: 4, Attr: "class", Value: "a"},
		{Op: OpAttr, Node: 4, Attr: "id", Value: "x"},
		{Op: OpInsert, Node: 5},
		{Op: OpInsert, Node: 6},
		{Op: OpText, Node: 7, Value: "x"},
		{Op: OpText, Node: 7, Value: "y"},
		{Op: OpRemove, Node: 5},
	}
	got := compress(records)
	var ops []Op
	for _, r := range got {
		ops = append(ops, r.Op)
	}
	want := []Op{OpAttr, OpAttr, OpInsert, OpInsert, OpText, OpRemove}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("ops (-want +got):\n%s", diff)
	}
	if got[4].Value != "y" {
		t.Errorf("text value: got %q, want y", got[4].Value)
	}
}

func TestDebouncer_MaxBufferFlushes(t *testing.T) {
	var flushed [][]Record
	d := newDebouncer(debounceConfig{Window: time.Hour, MaxBuffer: 2}, func(r []Record) { flushed = append(flushed, r) })
	if d.add(Record{Op: OpInsert, Node: 1}) {
		t.Fatal("flushed after one record")
	}
	if !d.add(Record{Op: OpInsert, Node: 2}) {
		t.Fatal("did not flush at MaxBuffer")
	}
	if len(flushed) != 1 || len(flushed[0]) != 2 || d.timerC() != nil {
		t.Fatalf("flushed: %+v", flushed)
	}
}

type nopTransport struct{}

func (nopTransport) Send(context.Context, mirror.Request) error { return nil }

func startFeed(t *testing.T, cfg Config) (*Feed, <-chan Batch) {
	t.Helper()
	batches := make(chan Batch, 16)
	cfg.Sink = NewCallback(func(_ context.Context, b Batch) error {
		batches <- b
		return nil
	})
	cfg.Window = 5 * time.Millisecond
	cfg.Logger = quiet
	cfg.NewID = idgen.Sequence("bat_")
	f := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f, batches
}

func next(t *testing.T, batches <-chan Batch) Batch {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch")
		return Batch{}
	}
}

func TestFeed_RecordsFromEvents(t *testing.T) {
	f, batches := startFeed(t, Config{Render: func(n *mirror.Node) string { return "<" + n.Name() + ">" }})
	a := mirror.NewAgent(nopTransport{}, mirror.WithLogger(quiet))
	f.Attach(a.SessionID(), a.Document())

	html := mirror.Payload{ID: 1, Kind: mirror.KindElement, Name: "HTML", ChildCount: 1, Attributes: []string{},
		Children: []mirror.Payload{{ID: 2, Kind: mirror.KindElement, Name: "BODY", Attributes: []string{}, Children: []mirror.Payload{}}}}
	for _, m := range []mirror.Message{
		mirror.NewMessage(mirror.MethodSetDocumentElement, html),
		mirror.NewMessage(mirror.MethodChildNodeInserted, 2, 0, mirror.Payload{ID: 3, Kind: mirror.KindElement, Name: "DIV", Attributes: []string{}}),
		mirror.NewMessage(mirror.MethodChildNodeInserted, 2, 3, mirror.Payload{ID: 4, Kind: mirror.KindElement, Name: "DIV", Attributes: []string{}}),
		mirror.NewMessage(mirror.MethodAttributesUpdated, 4, []string{"class", "x"}),
		mirror.NewMessage(mirror.MethodChildNodeRemoved, 2, 3),
	} {
		if err := a.Dispatch(m); err != nil {
			t.Fatalf("%s: %v", m.Method, err)
		}
	}

	var got []Record
	for len(got) < 5 {
		b := next(t, batches)
		if b.Session != a.SessionID() {
			t.Fatalf("batch session %q, want %q", b.Session, a.SessionID())
		}
		got = append(got, b.Records...)
	}
	for i := range got {
		got[i].session = ""
	}
	want := []Record{
		{Op: OpLoaded, Node: 1, Kind: mirror.KindElement, Name: "HTML", Path: "/HTML"},
		{Op: OpInsert, Node: 3, Parent: 2, Kind: mirror.KindElement, Name: "DIV", Path: "/HTML/BODY/DIV", HTML: "<DIV>"},
		{Op: OpInsert, Node: 4, Parent: 2, Kind: mirror.KindElement, Name: "DIV", Path: "/HTML/BODY/DIV[2]", HTML: "<DIV>"},
		{Op: OpAttr, Node: 4, Kind: mirror.KindElement, Name: "DIV", Path: "/HTML/BODY/DIV[2]", Attrs: map[string]string{"class": "x"}},
		{Op: OpRemove, Node: 3, Parent: 2, Kind: mirror.KindElement, Name: "DIV", Path: "/HTML/BODY/DIV"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Record{})); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestFeed_SessionReset(t *testing.T) {
	f, batches := startFeed(t, Config{})
	a := mirror.NewAgent(nopTransport{}, mirror.WithLogger(quiet))
	f.Attach(a.SessionID(), a.Document())
	first := a.SessionID()

	a.Reset()
	f.Attach(a.SessionID(), a.Document())
	b := next(t, batches)
	if b.Session == first || b.Session != a.SessionID() {
		t.Fatalf("reset batch session %q", b.Session)
	}
	if len(b.Records) != 1 || b.Records[0].Op != OpDocReset {
		t.Fatalf("records: %+v", b.Records)
	}
	if b.ID != "bat_1" || b.Seq != 1 {
		t.Fatalf("batch id %q seq %d", b.ID, b.Seq)
	}
}

func TestRouter_FirstErrorReturned(t *testing.T) {
	var calls atomic.Int32
	ok := NewCallback(func(context.Context, Batch) error { calls.Add(1); return nil })
	bad := NewCallback(func(context.Context, Batch) error { calls.Add(1); return context.DeadlineExceeded })
	r := NewRouter(quiet, bad, ok)
	if err := r.Send(context.Background(), Batch{ID: "b"}); err != context.DeadlineExceeded {
		t.Fatalf("got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls: got %d, want 2", calls.Load())
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), Batch{ID: "b1", Records: []Record{{Op: OpText, Node: 3, Value: "v"}}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var env struct {
		Type string `json:"type"`
		Data Batch  `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "batch" || env.Data.ID != "b1" || env.Data.Records[0].Value != "v" {
		t.Fatalf("envelope: %+v", env)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("X-Batch-ID") != "b1" {
			t.Errorf("batch header: %q", r.Header.Get("X-Batch-ID"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet))
	if err := w.Send(context.Background(), Batch{ID: "b1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits: got %d, want 2", hits.Load())
	}
}

func TestWebhook_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet))
	if err := w.Send(context.Background(), Batch{ID: "b1"}); err == nil {
		t.Fatal("expected error")
	}
}
