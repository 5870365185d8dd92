package htmlremote

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommirror/mirror"
)

// payload describes n to depth levels of children and marks what it sent.
func (r *Remote) payload(n *html.Node, depth int) mirror.Payload {
	id := r.ids[n]
	r.known[id] = true
	kids := r.children(n)
	p := mirror.Payload{
		ID:         id,
		Kind:       kindOf(n),
		Name:       nodeName(n),
		Value:      nodeValue(n),
		Attributes: flatAttrs(n),
		ChildCount: len(kids),
	}
	if depth > 0 {
		r.expanded[id] = true
		p.Children = make([]mirror.Payload, 0, len(kids))
		for _, c := range kids {
			p.Children = append(p.Children, r.payload(c, depth-1))
		}
	}
	return p
}

func (r *Remote) childPayloads(n *html.Node) []mirror.Payload {
	r.expanded[r.ids[n]] = true
	kids := r.children(n)
	out := make([]mirror.Payload, 0, len(kids))
	for _, c := range kids {
		out = append(out, r.payload(c, 0))
	}
	return out
}

func (r *Remote) children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := r.ids[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// prevNumbered returns the id of the closest numbered sibling before n, or
// 0 when n is first.
func (r *Remote) prevNumbered(n *html.Node) mirror.NodeID {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if id, ok := r.ids[p]; ok {
			return id
		}
	}
	return 0
}

func documentElement(doc *html.Node) *html.Node {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func kindOf(n *html.Node) mirror.Kind {
	switch n.Type {
	case html.ElementNode:
		return mirror.KindElement
	case html.CommentNode:
		return mirror.KindComment
	case html.DoctypeNode:
		return mirror.KindDocumentType
	case html.DocumentNode:
		return mirror.KindDocument
	default:
		return mirror.KindText
	}
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.Data)
	case html.CommentNode:
		return "#comment"
	case html.DoctypeNode:
		return n.Data
	case html.DocumentNode:
		return "#document"
	default:
		return "#text"
	}
}

func nodeValue(n *html.Node) string {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return n.Data
	}
	return ""
}

func flatAttrs(n *html.Node) []string {
	out := make([]string, 0, 2*len(n.Attr))
	for _, a := range n.Attr {
		out = append(out, a.Key, a.Val)
	}
	return out
}

func (r *Remote) element(id mirror.NodeID) *html.Node {
	n, ok := r.nodes[id]
	if !ok || n.Type != html.ElementNode {
		return nil
	}
	return n
}

func (r *Remote) setAttr(id mirror.NodeID, name, value string) bool {
	n := r.element(id)
	if n == nil || name == "" {
		return false
	}
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return true
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	return true
}

func (r *Remote) removeAttr(id mirror.NodeID, name string) bool {
	n := r.element(id)
	if n == nil {
		return false
	}
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return true
}

func (r *Remote) setText(id mirror.NodeID, value string) bool {
	n, ok := r.nodes[id]
	if !ok || (n.Type != html.TextNode && n.Type != html.CommentNode) {
		return false
	}
	n.Data = value
	return true
}
