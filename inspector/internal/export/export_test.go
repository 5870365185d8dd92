package export

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/dommirror/mirror"
)

func el(id mirror.NodeID, name string, attrs []string, kids ...mirror.Payload) mirror.Payload {
	if attrs == nil {
		attrs = []string{}
	}
	if kids == nil {
		kids = []mirror.Payload{}
	}
	return mirror.Payload{ID: id, Kind: mirror.KindElement, Name: name, Attributes: attrs, ChildCount: len(kids), Children: kids}
}

func text(id mirror.NodeID, v string) mirror.Payload {
	return mirror.Payload{ID: id, Kind: mirror.KindText, Name: "#text", Value: v}
}

// page mirrors <html><body><h1>Title</h1><p onclick>Hello &amp; bye</p>
// <div>(2 unfetched children)</div><table>...</table></body></html>.
func page(t *testing.T) *mirror.Agent {
	t.Helper()
	a := mirror.NewAgent(mirror.TransportFunc(func(context.Context, mirror.Request) error { return nil }),
		mirror.WithLogger(slog.New(slog.DiscardHandler)))
	unfetched := mirror.Payload{ID: 7, Kind: mirror.KindElement, Name: "DIV", Attributes: []string{"id", "lazy"}, ChildCount: 2}
	tbl := el(8, "TABLE", nil,
		el(9, "TBODY", nil,
			el(10, "TR", nil, el(11, "TD", nil, text(12, "a")), el(13, "TD", nil, text(14, "b"))),
		),
	)
	body := el(2, "BODY", nil,
		el(3, "H1", nil, text(4, "Title")),
		el(5, "P", []string{"onclick", "steal()", "class", "lead"}, text(6, "Hello & bye")),
		unfetched,
		tbl,
	)
	if err := a.Dispatch(mirror.NewMessage(mirror.MethodSetDocumentElement, el(1, "HTML", nil, body))); err != nil {
		t.Fatalf("SetDocumentElement: %v", err)
	}
	return a
}

func TestRender_MirroredOnly(t *testing.T) {
	a := page(t)
	got := Render(a.GetNodeForID(5))
	want := `<p onclick="steal()" class="lead">Hello &amp; bye</p>`
	if got != want {
		t.Fatalf("Render: got %q, want %q", got, want)
	}
	if got := Render(a.GetNodeForID(7)); got != `<div id="lazy"></div>` {
		t.Fatalf("unfetched: got %q", got)
	}
}

func TestRender_Document(t *testing.T) {
	a := page(t)
	got := Render(a.Document().Node())
	if !strings.HasPrefix(got, "<html><body><h1>Title</h1>") || !strings.HasSuffix(got, "</body></html>") {
		t.Fatalf("document: %q", got)
	}
	if Render(nil) != "" {
		t.Fatal("nil node rendered")
	}
}

func TestConvert_Sanitize(t *testing.T) {
	a := page(t)
	out, err := New().Export(a.GetNodeForID(2), Options{Format: FormatHTML, Sanitize: true})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Contains(out, "onclick") || strings.Contains(out, "steal") {
		t.Fatalf("event handler survived: %q", out)
	}
	if !strings.Contains(out, "Hello &amp; bye") {
		t.Fatalf("text lost: %q", out)
	}
}

func TestConvert_Markdown(t *testing.T) {
	a := page(t)
	out, err := New().Export(a.GetNodeForID(2), Options{Format: FormatMarkdown})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for _, want := range []string{"# Title", "Hello & bye", "| a "} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatHTML, "HTML": FormatHTML, "md": FormatMarkdown, "markdown": FormatMarkdown} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q): got %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("ParseFormat(pdf): expected error")
	}
}
