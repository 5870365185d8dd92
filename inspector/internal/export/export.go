// Package export serialises the mirrored part of a subtree as HTML or
// Markdown.
//
// Only what the mirror holds is written: an element whose children were
// never fetched is rendered empty. Render reads mirror nodes and must run
// on the agent goroutine; Convert works on the rendered string and can run
// anywhere.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dommirror/mirror"
)

// Format selects the output of Convert.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a query value to a Format. Empty means HTML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// Options controls Convert.
type Options struct {
	Format   Format
	Sanitize bool
	// BaseURL resolves relative links in Markdown output.
	BaseURL string
}

// Exporter holds the sanitising policy and the Markdown converter. Both
// are safe for concurrent use.
type Exporter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

func New() *Exporter {
	return &Exporter{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Convert turns rendered HTML into the requested format.
func (e *Exporter) Convert(src string, opts Options) (string, error) {
	if opts.Sanitize {
		src = e.policy.Sanitize(src)
	}
	switch opts.Format {
	case "", FormatHTML:
		return src, nil
	case FormatMarkdown:
		var (
			out string
			err error
		)
		if opts.BaseURL != "" {
			out, err = e.md.ConvertString(src, converter.WithDomain(opts.BaseURL))
		} else {
			out, err = e.md.ConvertString(src)
		}
		if err != nil {
			return "", fmt.Errorf("export: markdown: %w", err)
		}
		return out, nil
	}
	return "", fmt.Errorf("export: unknown format %q", opts.Format)
}

// Export renders n and converts the result.
func (e *Exporter) Export(n *mirror.Node, opts Options) (string, error) {
	return e.Convert(Render(n), opts)
}

// Render serialises n and its mirrored descendants as HTML.
func Render(n *mirror.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	for _, h := range Tree(n) {
		// Writes to a bytes.Buffer do not fail.
		_ = html.Render(&buf, h)
	}
	return buf.String()
}

// Tree converts n into x/net/html nodes. The document and fragments
// contribute their children.
func Tree(n *mirror.Node) []*html.Node {
	switch n.Kind() {
	case mirror.KindDocument, mirror.KindDocumentFragment:
		var out []*html.Node
		kids, _ := n.Children()
		for _, c := range kids {
			out = append(out, Tree(c)...)
		}
		return out
	}
	h := convert(n)
	if h == nil {
		return nil
	}
	return []*html.Node{h}
}

func convert(n *mirror.Node) *html.Node {
	switch n.Kind() {
	case mirror.KindText, mirror.KindCDATASection:
		return &html.Node{Type: html.TextNode, Data: n.Value()}
	case mirror.KindComment:
		return &html.Node{Type: html.CommentNode, Data: n.Value()}
	case mirror.KindDocumentType:
		return &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(n.Name())}
	case mirror.KindElement:
	default:
		return nil
	}

	name := strings.ToLower(n.Name())
	el := &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
	for _, a := range n.Attributes() {
		el.Attr = append(el.Attr, html.Attribute{Key: a.Name, Val: a.Value})
	}
	kids, _ := n.Children()
	for _, c := range kids {
		if h := convert(c); h != nil {
			el.AppendChild(h)
		}
	}
	return el
}
