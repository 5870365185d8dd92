package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrCallTimeout is reported through the call-error hook when a pending
	// call outlives the configured call timeout.
	ErrCallTimeout = errors.New("mirror: call timed out")

	// ErrSessionReset is reported for every call still pending when the
	// session is reset. Their replies, if they ever arrive, are ignored.
	ErrSessionReset = errors.New("mirror: session reset")

	// ErrLoopClosed is returned by Loop methods once Run has returned.
	ErrLoopClosed = errors.New("mirror: loop closed")
)

// ErrUnknownNode is returned when a reply or notification names a node id
// that is not in the store.
type ErrUnknownNode struct {
	ID NodeID
}

func (e *ErrUnknownNode) Error() string {
	return fmt.Sprintf("mirror: unknown node %d", e.ID)
}

// ErrUnknownAnchor is returned when a child insertion names a previous
// sibling that is not among the parent's current children.
type ErrUnknownAnchor struct {
	Parent NodeID
	Prev   NodeID
}

func (e *ErrUnknownAnchor) Error() string {
	return fmt.Sprintf("mirror: node %d is not a child of %d", e.Prev, e.Parent)
}

// ErrNotChild is returned when a removal names a node that is mirrored but
// is not a child of the given parent.
type ErrNotChild struct {
	Parent NodeID
	Child  NodeID
}

func (e *ErrNotChild) Error() string {
	return fmt.Sprintf("mirror: remove: node %d is not a child of %d", e.Child, e.Parent)
}

// ErrUnknownCall is returned when a reply carries a call id that has no
// pending entry (already answered, expired, or never issued).
type ErrUnknownCall struct {
	CallID CallID
}

func (e *ErrUnknownCall) Error() string {
	return fmt.Sprintf("mirror: no pending call %d", e.CallID)
}

// ErrCallMismatch is returned when a reply type does not match the request
// type registered under its call id. The pending entry is left in place.
type ErrCallMismatch struct {
	CallID CallID
	Want   Method
	Got    Method
}

func (e *ErrCallMismatch) Error() string {
	return fmt.Sprintf("mirror: call %d is %s, got reply for %s", e.CallID, e.Want, e.Got)
}

// ErrRejected is reported when the remote side refuses a mutation or fails
// a request.
type ErrRejected struct {
	Method Method
	CallID CallID
	Reason string
}

func (e *ErrRejected) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("mirror: %s (call %d) rejected by remote", e.Method, e.CallID)
	}
	return fmt.Sprintf("mirror: %s (call %d) rejected by remote: %s", e.Method, e.CallID, e.Reason)
}

// ErrUnknownMethod is returned by Dispatch for a message whose method has
// no registered handler.
type ErrUnknownMethod struct {
	Method string
}

func (e *ErrUnknownMethod) Error() string {
	return fmt.Sprintf("mirror: no handler for method %q", e.Method)
}

// ErrBadArgs is returned by Dispatch when a message's arguments cannot be
// decoded for its method.
type ErrBadArgs struct {
	Method string
	Cause  error
}

func (e *ErrBadArgs) Error() string {
	return fmt.Sprintf("mirror: bad arguments for %s: %v", e.Method, e.Cause)
}

func (e *ErrBadArgs) Unwrap() error { return e.Cause }

// ErrDuplicateNode is returned when an insertion names a node id that is
// already mirrored.
type ErrDuplicateNode struct {
	ID NodeID
}

func (e *ErrDuplicateNode) Error() string {
	return fmt.Sprintf("mirror: node %d is already mirrored", e.ID)
}
