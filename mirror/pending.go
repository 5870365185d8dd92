package mirror

import (
	"sort"
	"time"
)

// reply is the decoded content of any reply type.
type reply struct {
	ok       bool
	children []Payload
	styles   *StylesPayload
	ids      []NodeID
}

type pendingCall struct {
	id      CallID
	method  Method
	issued  time.Time
	resolve func(c *pendingCall, r reply) error
	// onFail runs when the call ends without a reply (rejection by
	// CallFailed, timeout, send error, session reset).
	onFail func()
}

func (c *pendingCall) fail() {
	if c.onFail != nil {
		c.onFail()
	}
}

// pendingTable correlates call ids with one-shot callbacks. Ids increase
// monotonically for the lifetime of the table and are never reused.
type pendingTable struct {
	last  CallID
	calls map[CallID]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[CallID]*pendingCall)}
}

func (t *pendingTable) add(c *pendingCall) CallID {
	t.last++
	c.id = t.last
	t.calls[c.id] = c
	return c.id
}

// take removes and returns the entry for id. want is the request method
// the reply answers; an empty want accepts any method. A mismatch leaves
// the entry in place.
func (t *pendingTable) take(id CallID, want Method) (*pendingCall, error) {
	c, ok := t.calls[id]
	if !ok {
		return nil, &ErrUnknownCall{CallID: id}
	}
	if want != "" && c.method != want {
		return nil, &ErrCallMismatch{CallID: id, Want: c.method, Got: want}
	}
	delete(t.calls, id)
	return c, nil
}

func (t *pendingTable) drop(id CallID) {
	delete(t.calls, id)
}

// expire removes every call issued before cutoff, oldest first.
func (t *pendingTable) expire(cutoff time.Time) []*pendingCall {
	var out []*pendingCall
	for id, c := range t.calls {
		if c.issued.Before(cutoff) {
			out = append(out, c)
			delete(t.calls, id)
		}
	}
	sortCalls(out)
	return out
}

// drain removes every call, oldest first.
func (t *pendingTable) drain() []*pendingCall {
	out := make([]*pendingCall, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c)
	}
	t.calls = make(map[CallID]*pendingCall)
	sortCalls(out)
	return out
}

func (t *pendingTable) len() int { return len(t.calls) }

func sortCalls(cs []*pendingCall) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].id < cs[j].id })
}
