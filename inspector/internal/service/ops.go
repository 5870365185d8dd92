package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/dommirror/inspector/internal/export"
	"github.com/hazyhaar/dommirror/mirror"
)

// ErrInvalid is wrapped by errors caused by the caller's arguments.
var ErrInvalid = errors.New("service: invalid argument")

type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Node is the JSON view of a mirrored node.
type Node struct {
	ID         mirror.NodeID `json:"id"`
	Kind       string        `json:"kind"`
	Name       string        `json:"name"`
	Value      string        `json:"value,omitempty"`
	Parent     mirror.NodeID `json:"parent"`
	Attributes []Attr        `json:"attributes,omitempty"`
	ChildCount int           `json:"child_count"`
	Loaded     bool          `json:"children_loaded"`
}

type Document struct {
	Session string `json:"session"`
	Nodes   int    `json:"nodes"`
	Element Node   `json:"element"`
}

type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Important bool   `json:"important,omitempty"`
}

type Rule struct {
	Selector   string     `json:"selector"`
	Sheet      string     `json:"sheet,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	Properties []Property `json:"properties"`
}

type Styles struct {
	Node       mirror.NodeID         `json:"node"`
	Computed   []Property            `json:"computed"`
	Inline     []Property            `json:"inline,omitempty"`
	Attributes map[string][]Property `json:"attributes,omitempty"`
	Rules      []Rule                `json:"rules,omitempty"`
}

type Export struct {
	Node    mirror.NodeID `json:"node"`
	Format  export.Format `json:"format"`
	Content string        `json:"content"`
}

func view(n *mirror.Node) Node {
	v := Node{
		ID:         n.ID(),
		Kind:       n.Kind().String(),
		Name:       n.Name(),
		Value:      n.Value(),
		ChildCount: n.ChildCount(),
	}
	if p := n.ParentNode(); p != nil {
		v.Parent = p.ID()
	}
	_, v.Loaded = n.Children()
	for _, a := range n.Attributes() {
		v.Attributes = append(v.Attributes, Attr{Name: a.Name, Value: a.Value})
	}
	return v
}

func views(nodes []*mirror.Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = view(n)
	}
	return out
}

func properties(s *mirror.Style) []Property {
	if s == nil {
		return nil
	}
	out := make([]Property, len(s.Properties))
	for i, p := range s.Properties {
		out[i] = Property{Name: p.Name, Value: p.Value, Important: p.Important}
	}
	return out
}

// Document waits for the document element, requesting it if needed.
func (s *Service) Document(ctx context.Context) (Document, error) {
	return await(ctx, s, func(a *mirror.Agent, finish func(Document, error)) {
		a.GetDocumentElement(func(el *mirror.Node) {
			finish(Document{Session: a.SessionID(), Nodes: a.Store().Len(), Element: view(el)}, nil)
		})
	})
}

// Node returns a mirrored node without contacting the remote.
func (s *Service) Node(ctx context.Context, id mirror.NodeID) (Node, error) {
	return run(ctx, s, func(a *mirror.Agent) (Node, error) {
		n, err := lookup(a, id)
		if err != nil {
			return Node{}, err
		}
		return view(n), nil
	})
}

// Children returns a node's children, fetching them when not mirrored.
func (s *Service) Children(ctx context.Context, id mirror.NodeID) ([]Node, error) {
	return awaitJoin(ctx, s, func(a *mirror.Agent, finish func([]Node, error), join func(mirror.CallID)) {
		n, err := lookup(a, id)
		if err != nil {
			finish(nil, err)
			return
		}
		n.GetChildren(func(kids []*mirror.Node) { finish(views(kids), nil) })
		join(n.ChildFetch())
	})
}

// SetAttribute writes an attribute and returns the node once the remote
// side confirms.
func (s *Service) SetAttribute(ctx context.Context, id mirror.NodeID, name, value string) (Node, error) {
	if name == "" {
		return Node{}, fmt.Errorf("%w: empty attribute name", ErrInvalid)
	}
	return await(ctx, s, func(a *mirror.Agent, finish func(Node, error)) {
		n, err := lookup(a, id)
		if err != nil {
			finish(Node{}, err)
			return
		}
		if n.Kind() != mirror.KindElement {
			finish(Node{}, fmt.Errorf("%w: node %d is a %s, not an element", ErrInvalid, id, n.Kind()))
			return
		}
		n.SetAttribute(name, value, func() { finish(view(n), nil) })
	})
}

// RemoveAttribute removes an attribute once the remote side confirms.
func (s *Service) RemoveAttribute(ctx context.Context, id mirror.NodeID, name string) (Node, error) {
	if name == "" {
		return Node{}, fmt.Errorf("%w: empty attribute name", ErrInvalid)
	}
	return await(ctx, s, func(a *mirror.Agent, finish func(Node, error)) {
		n, err := lookup(a, id)
		if err != nil {
			finish(Node{}, err)
			return
		}
		n.RemoveAttribute(name, func() { finish(view(n), nil) })
	})
}

// SetValue changes a text node's value.
func (s *Service) SetValue(ctx context.Context, id mirror.NodeID, value string) (Node, error) {
	return await(ctx, s, func(a *mirror.Agent, finish func(Node, error)) {
		n, err := lookup(a, id)
		if err != nil {
			finish(Node{}, err)
			return
		}
		if n.Kind() != mirror.KindText {
			finish(Node{}, fmt.Errorf("%w: node %d is a %s, not text", ErrInvalid, id, n.Kind()))
			return
		}
		n.SetValue(value, func() { finish(view(n), nil) })
	})
}

// Styles fetches a node's styles. With authorOnly, user-agent rules are
// left out.
func (s *Service) Styles(ctx context.Context, id mirror.NodeID, authorOnly bool) (Styles, error) {
	return await(ctx, s, func(a *mirror.Agent, finish func(Styles, error)) {
		n, err := lookup(a, id)
		if err != nil {
			finish(Styles{}, err)
			return
		}
		n.GetStyles(authorOnly, func(st *mirror.Styles) {
			out := Styles{
				Node:     id,
				Computed: properties(st.Computed),
				Inline:   properties(st.Inline),
			}
			if out.Computed == nil {
				out.Computed = []Property{}
			}
			for name, attr := range st.Attributes {
				if out.Attributes == nil {
					out.Attributes = make(map[string][]Property)
				}
				out.Attributes[name] = properties(attr)
			}
			for _, r := range st.Rules {
				out.Rules = append(out.Rules, Rule{
					Selector:   r.Selector,
					Sheet:      r.SheetHref,
					Owner:      r.SheetOwnerNodeName,
					Properties: properties(r.Style),
				})
			}
			finish(out, nil)
		})
	})
}

// Search runs a remote search and returns the mirrored results.
func (s *Service) Search(ctx context.Context, query string) ([]Node, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalid)
	}
	return await(ctx, s, func(a *mirror.Agent, finish func([]Node, error)) {
		a.Search(query, func(found []*mirror.Node) { finish(views(found), nil) })
	})
}

// Export renders the mirrored part of a subtree. Rendering happens on the
// loop, conversion after it.
func (s *Service) Export(ctx context.Context, id mirror.NodeID, opts export.Options) (Export, error) {
	src, err := run(ctx, s, func(a *mirror.Agent) (string, error) {
		n, err := lookup(a, id)
		if err != nil {
			return "", err
		}
		return export.Render(n), nil
	})
	if err != nil {
		return Export{}, err
	}
	out, err := s.exporter.Convert(src, opts)
	if err != nil {
		return Export{}, err
	}
	if opts.Format == "" {
		opts.Format = export.FormatHTML
	}
	s.logger.Debug("service: export", "node", int64(id), "format", string(opts.Format), "bytes", len(out))
	return Export{Node: id, Format: opts.Format, Content: out}, nil
}
