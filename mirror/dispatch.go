package mirror

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type handlerFunc func(m Message) error

// Dispatch routes an inbound message to its handler. Errors are returned
// to the caller; the mirror is left as it was before the failing message.
func (a *Agent) Dispatch(m Message) error {
	if a.recorder != nil {
		a.recorder.Record(a.ctx, a.session, Inbound, m)
	}
	h, ok := a.handlers[m.Method]
	if !ok {
		return &ErrUnknownMethod{Method: string(m.Method)}
	}
	return h(m)
}

// args decodes positional arguments into dst. The first required must be
// present.
func args(m Message, required int, dst ...any) error {
	if len(m.Args) < required {
		return &ErrBadArgs{Method: string(m.Method), Cause: fmt.Errorf("want %d args, got %d", required, len(m.Args))}
	}
	for i, d := range dst {
		if _, err := m.Arg(i, d); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) routes() map[Method]handlerFunc {
	okReply := func(fn func(CallID, bool) error) handlerFunc {
		return func(m Message) error {
			var id CallID
			var ok bool
			if err := args(m, 2, &id, &ok); err != nil {
				return err
			}
			return fn(id, ok)
		}
	}
	return map[Method]handlerFunc{
		MethodDidGetChildNodes: func(m Message) error {
			var id CallID
			var kids []Payload
			if err := args(m, 1, &id, &kids); err != nil {
				return err
			}
			return a.DidGetChildNodes(id, kids)
		},
		MethodDidGetNodeStyles: func(m Message) error {
			var id CallID
			var styles *StylesPayload
			if err := args(m, 1, &id, &styles); err != nil {
				return err
			}
			return a.DidGetNodeStyles(id, styles)
		},
		MethodDidApplyDomChange:   okReply(a.DidApplyDomChange),
		MethodDidRemoveAttribute:  okReply(a.DidRemoveAttribute),
		MethodDidSetTextNodeValue: okReply(a.DidSetTextNodeValue),
		MethodDidPerformSearch: func(m Message) error {
			var id CallID
			var ids []NodeID
			if err := args(m, 1, &id, &ids); err != nil {
				return err
			}
			return a.DidPerformSearch(id, ids)
		},
		MethodCallFailed: func(m Message) error {
			var id CallID
			var reason string
			if err := args(m, 1, &id, &reason); err != nil {
				return err
			}
			return a.CallFailed(id, reason)
		},

		MethodAttributesUpdated: func(m Message) error {
			var id NodeID
			var flat []string
			if err := args(m, 2, &id, &flat); err != nil {
				return err
			}
			if len(flat)%2 != 0 {
				return &ErrBadArgs{Method: string(m.Method), Cause: fmt.Errorf("odd attribute list length %d", len(flat))}
			}
			return a.AttributesUpdated(id, flat)
		},
		MethodSetDocumentElement: func(m Message) error {
			var p Payload
			if err := args(m, 1, &p); err != nil {
				return err
			}
			return a.SetDocumentElement(p)
		},
		MethodSetChildNodes: func(m Message) error {
			var parent NodeID
			var kids []Payload
			if err := args(m, 2, &parent, &kids); err != nil {
				return err
			}
			if kids == nil {
				kids = []Payload{}
			}
			return a.SetChildNodes(parent, kids)
		},
		MethodHasChildrenUpdated: func(m Message) error {
			var id NodeID
			var raw json.RawMessage
			if err := args(m, 2, &id, &raw); err != nil {
				return err
			}
			count, err := childFlag(raw)
			if err != nil {
				return &ErrBadArgs{Method: string(m.Method), Cause: err}
			}
			return a.HasChildrenUpdated(id, count)
		},
		MethodChildNodeInserted: func(m Message) error {
			var parent, prev NodeID
			var p Payload
			if err := args(m, 3, &parent, &prev, &p); err != nil {
				return err
			}
			return a.ChildNodeInserted(parent, prev, p)
		},
		MethodChildNodeRemoved: func(m Message) error {
			var parent, id NodeID
			if err := args(m, 2, &parent, &id); err != nil {
				return err
			}
			return a.ChildNodeRemoved(parent, id)
		},
		MethodCharacterDataModified: func(m Message) error {
			var id NodeID
			var value string
			if err := args(m, 2, &id, &value); err != nil {
				return err
			}
			return a.CharacterDataModified(id, value)
		},
		MethodDocumentUpdated: func(Message) error {
			return a.DocumentUpdated()
		},
	}
}

// childFlag accepts either a boolean "has children" flag or a count.
func childFlag(raw json.RawMessage) (int, error) {
	switch s := string(raw); s {
	case "true":
		return 1, nil
	case "false", "null", "":
		return 0, nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("child flag %s is neither a bool nor a count", s)
		}
		return n, nil
	}
}
