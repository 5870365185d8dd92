package mirror

import "reflect"

// EventType names a document-level mutation event.
type EventType string

const (
	EventContentLoaded         EventType = "DOMContentLoaded"
	EventNodeInserted          EventType = "DOMNodeInserted"
	EventNodeRemoved           EventType = "DOMNodeRemoved"
	EventAttrModified          EventType = "DOMAttrModified"
	EventCharacterDataModified EventType = "DOMCharacterDataModified"
)

// Event is passed to listeners. For insert/remove, Target is the child and
// RelatedNode its parent. For attribute events AttrName is set, or empty
// when the whole attribute list was replaced.
type Event struct {
	Type        EventType
	Target      *Node
	RelatedNode *Node
	AttrName    string
}

// Listener receives document events. Removal matches by ==, so only
// comparable implementations can be removed; pointer types are. A listener
// of an uncomparable type (a struct holding a slice, say) still receives
// events but RemoveEventListener never finds it.
type Listener interface {
	HandleEvent(e *Event)
}

// FuncListener adapts a function to Listener. Use the pointer returned by
// NewListener as the removal handle.
type FuncListener struct {
	fn func(*Event)
}

// NewListener wraps fn in a comparable Listener.
func NewListener(fn func(*Event)) *FuncListener {
	return &FuncListener{fn: fn}
}

func (l *FuncListener) HandleEvent(e *Event) { l.fn(e) }

// Document is the root of a mirror session: the document node (id 0), its
// single document element, and the event listener registry.
type Document struct {
	agent     *Agent
	node      *Node
	element   *Node
	listeners map[EventType][]Listener
}

func newDocument(a *Agent) *Document {
	d := &Document{
		agent:     a,
		listeners: make(map[EventType][]Listener),
	}
	d.node = &Node{
		doc:       d,
		id:        0,
		kind:      KindDocument,
		name:      "#document",
		attrIndex: map[string]*Attr{},
	}
	return d
}

// Node returns the document node.
func (d *Document) Node() *Node { return d.node }

// DocumentElement returns the root element, or nil before the remote side
// has sent it.
func (d *Document) DocumentElement() *Node { return d.element }

// AddEventListener appends l to the listeners of typ. Adding the same
// listener twice registers it twice.
func (d *Document) AddEventListener(typ EventType, l Listener) {
	d.listeners[typ] = append(d.listeners[typ], l)
}

// RemoveEventListener removes the first registration of l for typ and
// reports whether one was found.
func (d *Document) RemoveEventListener(typ EventType, l Listener) bool {
	if t := reflect.TypeOf(l); t == nil || !t.Comparable() {
		return false
	}
	ls := d.listeners[typ]
	for i, cur := range ls {
		if cur == l {
			next := make([]Listener, 0, len(ls)-1)
			next = append(next, ls[:i]...)
			next = append(next, ls[i+1:]...)
			d.listeners[typ] = next
			return true
		}
	}
	return false
}

// ListenerCount returns how many registrations typ has.
func (d *Document) ListenerCount(typ EventType) int {
	return len(d.listeners[typ])
}

// FireEvent delivers e synchronously to the listeners registered for
// e.Type, in registration order. The list is captured before delivery:
// listeners added or removed meanwhile do not change this delivery.
func (d *Document) FireEvent(e *Event) {
	snapshot := d.listeners[e.Type]
	for _, l := range snapshot {
		l.HandleEvent(e)
	}
}
