package mirror

import (
	"context"
	"encoding/json"
	"fmt"
)

// Method names a wire message.
type Method string

// Requests, sent by the agent.
const (
	MethodGetDocumentElement Method = "GetDocumentElement"
	MethodGetChildNodes      Method = "GetChildNodes"
	MethodGetNodeStyles      Method = "GetNodeStyles"
	MethodSetAttribute       Method = "SetAttribute"
	MethodRemoveAttribute    Method = "RemoveAttribute"
	MethodSetTextNodeValue   Method = "SetTextNodeValue"
	MethodPerformSearch      Method = "PerformSearch"
	MethodSearchCanceled     Method = "SearchCanceled"
)

// Replies. The first argument is always the call id.
const (
	MethodDidGetChildNodes    Method = "DidGetChildNodes"
	MethodDidGetNodeStyles    Method = "DidGetNodeStyles"
	MethodDidApplyDomChange   Method = "DidApplyDomChange"
	MethodDidRemoveAttribute  Method = "DidRemoveAttribute"
	MethodDidSetTextNodeValue Method = "DidSetTextNodeValue"
	MethodDidPerformSearch    Method = "DidPerformSearch"
	MethodCallFailed          Method = "CallFailed"
)

// Push notifications.
const (
	MethodAttributesUpdated     Method = "AttributesUpdated"
	MethodSetDocumentElement    Method = "SetDocumentElement"
	MethodSetChildNodes         Method = "SetChildNodes"
	MethodHasChildrenUpdated    Method = "HasChildrenUpdated"
	MethodChildNodeInserted     Method = "ChildNodeInserted"
	MethodChildNodeRemoved      Method = "ChildNodeRemoved"
	MethodCharacterDataModified Method = "CharacterDataModified"
	MethodDocumentUpdated       Method = "DocumentUpdated"
)

// replyMethods maps each callable request to the reply that answers it.
var replyMethods = map[Method]Method{
	MethodGetChildNodes:    MethodDidGetChildNodes,
	MethodGetNodeStyles:    MethodDidGetNodeStyles,
	MethodSetAttribute:     MethodDidApplyDomChange,
	MethodRemoveAttribute:  MethodDidRemoveAttribute,
	MethodSetTextNodeValue: MethodDidSetTextNodeValue,
	MethodPerformSearch:    MethodDidPerformSearch,
}

// ReplyMethod returns the reply method answering m, or "" if m takes no
// call id.
func (m Method) ReplyMethod() Method { return replyMethods[m] }

// IsReply reports whether m answers a call; its first argument is then the
// call id.
func (m Method) IsReply() bool {
	if m == MethodCallFailed {
		return true
	}
	for _, r := range replyMethods {
		if r == m {
			return true
		}
	}
	return false
}

// Message is the wire envelope: a method name and positional arguments.
type Message struct {
	Method Method            `json:"method"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// NewMessage encodes args positionally. It panics if an argument cannot be
// marshalled, which only happens for values that are not plain data.
func NewMessage(method Method, args ...any) Message {
	m := Message{Method: method}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			panic(fmt.Sprintf("mirror: encode %s arg %d: %v", method, i, err))
		}
		m.Args = append(m.Args, raw)
	}
	return m
}

// Arg decodes argument i into dst. A missing argument leaves dst untouched
// and returns false.
func (m Message) Arg(i int, dst any) (bool, error) {
	if i >= len(m.Args) || string(m.Args[i]) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(m.Args[i], dst); err != nil {
		return true, &ErrBadArgs{Method: string(m.Method), Cause: fmt.Errorf("arg %d: %w", i, err)}
	}
	return true, nil
}

// Request is an outbound message in structured form. Transports that talk
// to a foreign protocol (CDP) read the fields; wire transports send
// Message().
type Request struct {
	Method     Method
	CallID     CallID
	NodeID     NodeID
	Name       string
	Value      string
	Query      string
	AuthorOnly bool
}

// Message encodes r in its positional wire form.
func (r Request) Message() Message {
	switch r.Method {
	case MethodGetChildNodes:
		return NewMessage(r.Method, r.CallID, r.NodeID)
	case MethodGetNodeStyles:
		return NewMessage(r.Method, r.CallID, r.NodeID, r.AuthorOnly)
	case MethodSetAttribute:
		return NewMessage(r.Method, r.CallID, r.NodeID, r.Name, r.Value)
	case MethodRemoveAttribute:
		return NewMessage(r.Method, r.CallID, r.NodeID, r.Name)
	case MethodSetTextNodeValue:
		return NewMessage(r.Method, r.CallID, r.NodeID, r.Value)
	case MethodPerformSearch:
		return NewMessage(r.Method, r.CallID, r.Query)
	default:
		return NewMessage(r.Method)
	}
}

// ParseRequest is the inverse of Request.Message, for remote-side
// implementations.
func ParseRequest(m Message) (Request, error) {
	r := Request{Method: m.Method}
	var dst []any
	switch m.Method {
	case MethodGetChildNodes:
		dst = []any{&r.CallID, &r.NodeID}
	case MethodGetNodeStyles:
		dst = []any{&r.CallID, &r.NodeID, &r.AuthorOnly}
	case MethodSetAttribute:
		dst = []any{&r.CallID, &r.NodeID, &r.Name, &r.Value}
	case MethodRemoveAttribute:
		dst = []any{&r.CallID, &r.NodeID, &r.Name}
	case MethodSetTextNodeValue:
		dst = []any{&r.CallID, &r.NodeID, &r.Value}
	case MethodPerformSearch:
		dst = []any{&r.CallID, &r.Query}
	case MethodGetDocumentElement, MethodSearchCanceled:
	default:
		return r, &ErrUnknownMethod{Method: string(m.Method)}
	}
	for i, d := range dst {
		if _, err := m.Arg(i, d); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Transport carries requests to the remote side. Send must not wait for
// the reply: replies come back through Agent.Dispatch (usually via a Loop).
type Transport interface {
	Send(ctx context.Context, req Request) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) error

func (f TransportFunc) Send(ctx context.Context, req Request) error { return f(ctx, req) }

// Direction tells a Recorder which way a message travelled.
type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// Recorder observes every message the agent sends or dispatches. Record is
// called on the agent's goroutine and must not call back into the agent.
type Recorder interface {
	Record(ctx context.Context, session string, dir Direction, msg Message)
}
