package mirror

// Attr is one mirrored attribute. Style is bound only while a style bundle
// is attached to the owning node (inside a GetStyles callback).
type Attr struct {
	Name  string
	Value string
	Style *Style
}

// Node is the local mirror of one remote DOM node.
//
// Nodes are owned by their Agent: read them freely from the goroutine that
// drives the agent, but never mutate them directly. Writes go through
// SetAttribute, RemoveAttribute and SetValue, which only change local state
// once the remote side confirms.
type Node struct {
	doc *Document

	id    NodeID
	kind  Kind
	name  string
	value string

	attrs     []*Attr
	attrIndex map[string]*Attr

	childCount int
	children   []*Node
	populated  bool
	// fetchCall is the outstanding GetChildNodes call, 0 when none.
	fetchCall CallID

	parent *Node
	prev   *Node
	next   *Node

	styles *Styles

	// childWaiters are GetChildren callbacks whose reply arrived before the
	// children did.
	childWaiters []func([]*Node)
}

func newNode(doc *Document, p *Payload) *Node {
	n := &Node{
		doc:        doc,
		id:         p.ID,
		kind:       p.Kind,
		name:       p.Name,
		value:      p.Value,
		childCount: p.ChildCount,
	}
	n.setAttributesPayload(p.Attributes)
	return n
}

func (n *Node) ID() NodeID { return n.id }
func (n *Node) Kind() Kind { return n.kind }
func (n *Node) Name() string { return n.name }

// Value is the node value; meaningful for text-like nodes only.
func (n *Node) Value() string { return n.value }

// TextContent mirrors Value.
func (n *Node) TextContent() string { return n.value }

// OwnerDocument returns the document this node belongs to.
func (n *Node) OwnerDocument() *Document { return n.doc }

// HasAttributes reports whether the node has at least one attribute.
func (n *Node) HasAttributes() bool { return len(n.attrs) > 0 }

// Attributes returns a copy of the attribute list in order.
func (n *Node) Attributes() []Attr {
	out := make([]Attr, len(n.attrs))
	for i, a := range n.attrs {
		out[i] = *a
	}
	return out
}

// Attr returns the named attribute, including its bound style if any.
func (n *Node) Attr(name string) (Attr, bool) {
	a, ok := n.attrIndex[name]
	if !ok {
		return Attr{}, false
	}
	return *a, true
}

// GetAttribute returns the attribute value. ok is false when the attribute
// is absent. It never contacts the remote side.
func (n *Node) GetAttribute(name string) (value string, ok bool) {
	a, ok := n.attrIndex[name]
	if !ok {
		return "", false
	}
	return a.Value, true
}

// HasChildNodes uses the count advertised by the remote side, so it is
// answerable before the children are fetched.
func (n *Node) HasChildNodes() bool { return n.childCount > 0 }

// ChildCount is the advertised child count.
func (n *Node) ChildCount() int { return n.childCount }

// Children returns the mirrored children. populated is false until the
// children have been fetched or pushed; an empty populated list means the
// node has no children.
func (n *Node) Children() (children []*Node, populated bool) {
	return n.children, n.populated
}

func (n *Node) ParentNode() *Node { return n.parent }
func (n *Node) NextSibling() *Node { return n.next }
func (n *Node) PrevSibling() *Node { return n.prev }

func (n *Node) FirstChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

func (n *Node) LastChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[len(n.children)-1]
}

// Styles returns the attached style bundle. It is non-nil only inside a
// GetStyles callback.
func (n *Node) Styles() *Styles { return n.styles }

// GetChildren calls cb with the node's children. When they are already
// mirrored cb runs synchronously and nothing is sent; otherwise a fetch is
// issued and cb runs once the children arrive.
func (n *Node) GetChildren(cb func([]*Node)) {
	n.doc.agent.getChildNodes(n, cb)
}

// ChildFetch returns the id of the GetChildNodes call in flight for n, or
// 0. Concurrent GetChildren callers share that one call.
func (n *Node) ChildFetch() CallID {
	if n.fetchCall < 0 {
		return 0
	}
	return n.fetchCall
}

// GetStyles always fetches fresh styles. The bundle is attached while cb
// runs and discarded right after.
func (n *Node) GetStyles(authorOnly bool, cb func(*Styles)) {
	n.doc.agent.getNodeStyles(n, authorOnly, cb)
}

// SetAttribute asks the remote side to set an attribute. The mirror changes
// only after confirmation, then done (may be nil) is called. Rejected writes
// are not retried and leave the mirror untouched.
func (n *Node) SetAttribute(name, value string, done func()) {
	n.doc.agent.setAttribute(n, name, value, done)
}

// RemoveAttribute asks the remote side to remove an attribute.
func (n *Node) RemoveAttribute(name string, done func()) {
	n.doc.agent.removeAttribute(n, name, done)
}

// SetValue asks the remote side to change a text node's value. On other
// node kinds it does nothing, like nodeValue writes on DOM elements.
func (n *Node) SetValue(value string, done func()) {
	if n.kind != KindText {
		return
	}
	n.doc.agent.setTextNodeValue(n, value, done)
}

// --- local state, changed only by the agent ---

func (n *Node) setAttributesPayload(flat []string) {
	n.attrs = make([]*Attr, 0, len(flat)/2)
	n.attrIndex = make(map[string]*Attr, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		n.putAttr(flat[i], flat[i+1])
	}
}

func (n *Node) putAttr(name, value string) {
	if a, ok := n.attrIndex[name]; ok {
		a.Value = value
		return
	}
	a := &Attr{Name: name, Value: value}
	n.attrs = append(n.attrs, a)
	n.attrIndex[name] = a
}

func (n *Node) deleteAttr(name string) {
	if _, ok := n.attrIndex[name]; !ok {
		return
	}
	kept := n.attrs[:0]
	for _, a := range n.attrs {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	for i := len(kept); i < len(n.attrs); i++ {
		n.attrs[i] = nil
	}
	n.attrs = kept
	delete(n.attrIndex, name)
}

func (n *Node) setChildren(children []*Node) {
	n.children = children
	n.populated = true
	n.childCount = len(children)
	n.renumber()
}

// renumber rebuilds parent and sibling links for every child.
func (n *Node) renumber() {
	var prev *Node
	for _, c := range n.children {
		c.parent = n
		c.prev = prev
		c.next = nil
		if prev != nil {
			prev.next = c
		}
		prev = c
	}
}

func (n *Node) indexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// insertAfter places child right after prev, or first when prev is nil.
func (n *Node) insertAfter(prev, child *Node) error {
	at := 0
	if prev != nil {
		i := n.indexOf(prev)
		if i < 0 {
			return &ErrUnknownAnchor{Parent: n.id, Prev: prev.id}
		}
		at = i + 1
	}
	n.children = append(n.children, nil)
	copy(n.children[at+1:], n.children[at:])
	n.children[at] = child
	n.childCount = len(n.children)
	n.renumber()
	return nil
}

func (n *Node) removeChild(child *Node) error {
	i := n.indexOf(child)
	if i < 0 {
		return &ErrNotChild{Parent: n.id, Child: child.id}
	}
	copy(n.children[i:], n.children[i+1:])
	n.children[len(n.children)-1] = nil
	n.children = n.children[:len(n.children)-1]
	n.childCount = len(n.children)
	n.renumber()
	return nil
}

func (n *Node) attachStyles(s *Styles) {
	n.styles = s
	for name, st := range s.Attributes {
		if a, ok := n.attrIndex[name]; ok {
			a.Style = st
		}
	}
}

func (n *Node) clearStyles() {
	n.styles = nil
	for _, a := range n.attrs {
		a.Style = nil
	}
}

func (n *Node) releaseChildWaiters() {
	waiters := n.childWaiters
	n.childWaiters = nil
	for _, cb := range waiters {
		cb(n.children)
	}
}
