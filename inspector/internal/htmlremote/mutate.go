package htmlremote

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommirror/mirror"
)

// ErrNoNode is returned by remote-side edits addressing a missing node.
var ErrNoNode = errors.New("htmlremote: no such node")

// Insert parses fragment in the context of parent and inserts the result
// after prev (0 inserts at the front). It returns the new top-level ids.
func (r *Remote) Insert(parent, prev mirror.NodeID, fragment string) ([]mirror.NodeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.element(parent)
	if p == nil {
		return nil, fmt.Errorf("%w: parent %d", ErrNoNode, parent)
	}
	var anchor *html.Node
	if prev != 0 {
		anchor = r.nodes[prev]
		if anchor == nil || anchor.Parent != p {
			return nil, fmt.Errorf("%w: %d is not a child of %d", ErrNoNode, prev, parent)
		}
	}
	frag, err := html.ParseFragment(strings.NewReader(fragment), p)
	if err != nil {
		return nil, fmt.Errorf("htmlremote: parse fragment: %w", err)
	}

	before := p.FirstChild
	if anchor != nil {
		before = anchor.NextSibling
	}
	var (
		added []mirror.NodeID
		msgs  []mirror.Message
	)
	for _, n := range frag {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		p.InsertBefore(n, before)
		r.assign(n)
		id, ok := r.ids[n]
		if !ok {
			continue
		}
		added = append(added, id)
		if r.expanded[parent] {
			msgs = append(msgs, mirror.NewMessage(mirror.MethodChildNodeInserted, parent, r.prevNumbered(n), r.payload(n, 0)))
		}
	}
	if !r.expanded[parent] && r.known[parent] && len(added) > 0 {
		msgs = append(msgs, mirror.NewMessage(mirror.MethodHasChildrenUpdated, parent, len(r.children(p))))
	}
	r.out.push(msgs...)
	return added, nil
}

// Remove detaches a node and its subtree.
func (r *Remote) Remove(id mirror.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok || n == r.doc || n.Parent == nil {
		return fmt.Errorf("%w: %d", ErrNoNode, id)
	}
	p := n.Parent
	parent := r.ids[p]
	r.forget(n)
	p.RemoveChild(n)
	switch {
	case r.expanded[parent]:
		r.out.push(mirror.NewMessage(mirror.MethodChildNodeRemoved, parent, id))
	case r.known[parent]:
		r.out.push(mirror.NewMessage(mirror.MethodHasChildrenUpdated, parent, len(r.children(p))))
	}
	return nil
}

// SetAttr sets an attribute and pushes the new list if the agent knows
// the node.
func (r *Remote) SetAttr(id mirror.NodeID, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.setAttr(id, name, value) {
		return fmt.Errorf("%w: element %d", ErrNoNode, id)
	}
	r.pushAttrs(id)
	return nil
}

// RemoveAttr removes an attribute and pushes the new list if the agent
// knows the node.
func (r *Remote) RemoveAttr(id mirror.NodeID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.removeAttr(id, name) {
		return fmt.Errorf("%w: element %d", ErrNoNode, id)
	}
	r.pushAttrs(id)
	return nil
}

func (r *Remote) pushAttrs(id mirror.NodeID) {
	if r.known[id] {
		r.out.push(mirror.NewMessage(mirror.MethodAttributesUpdated, id, flatAttrs(r.nodes[id])))
	}
}

// SetText replaces the data of a text or comment node.
func (r *Remote) SetText(id mirror.NodeID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.setText(id, value) {
		return fmt.Errorf("%w: character data %d", ErrNoNode, id)
	}
	if r.known[id] {
		r.out.push(mirror.NewMessage(mirror.MethodCharacterDataModified, id, value))
	}
	return nil
}

// Reload replaces the whole document. Ids keep increasing across reloads.
func (r *Remote) Reload(rd io.Reader) error {
	doc, err := html.Parse(rd)
	if err != nil {
		return fmt.Errorf("htmlremote: parse: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(doc)
	r.out.push(mirror.NewMessage(mirror.MethodDocumentUpdated))
	return nil
}
