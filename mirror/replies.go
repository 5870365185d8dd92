package mirror

// Replies resolve the pending entry registered under their call id. Each
// entry is resolved at most once: the first matching reply removes it, and
// any later reply for the same id gets *ErrUnknownCall.

// DidGetChildNodes answers GetChildNodes. children is nil when the reply
// carries no payload; the children then arrive through SetChildNodes.
func (a *Agent) DidGetChildNodes(callID CallID, children []Payload) error {
	return a.resolve(callID, MethodGetChildNodes, reply{ok: true, children: children})
}

// DidGetNodeStyles answers GetNodeStyles.
func (a *Agent) DidGetNodeStyles(callID CallID, styles *StylesPayload) error {
	return a.resolve(callID, MethodGetNodeStyles, reply{ok: true, styles: styles})
}

// DidApplyDomChange answers SetAttribute.
func (a *Agent) DidApplyDomChange(callID CallID, ok bool) error {
	return a.resolve(callID, MethodSetAttribute, reply{ok: ok})
}

// DidRemoveAttribute answers RemoveAttribute.
func (a *Agent) DidRemoveAttribute(callID CallID, ok bool) error {
	return a.resolve(callID, MethodRemoveAttribute, reply{ok: ok})
}

// DidSetTextNodeValue answers SetTextNodeValue.
func (a *Agent) DidSetTextNodeValue(callID CallID, ok bool) error {
	return a.resolve(callID, MethodSetTextNodeValue, reply{ok: ok})
}

// DidPerformSearch answers PerformSearch.
func (a *Agent) DidPerformSearch(callID CallID, ids []NodeID) error {
	return a.resolve(callID, MethodPerformSearch, reply{ok: true, ids: ids})
}

// CallFailed answers any call with a failure. The callback is not invoked;
// the failure goes to the call-error hook as *ErrRejected.
func (a *Agent) CallFailed(callID CallID, reason string) error {
	c, err := a.pending.take(callID, "")
	if err != nil {
		return err
	}
	c.fail()
	a.callFailed(c.method, c.id, &ErrRejected{Method: c.method, CallID: c.id, Reason: reason})
	return nil
}

func (a *Agent) resolve(callID CallID, method Method, r reply) error {
	c, err := a.pending.take(callID, method)
	if err != nil {
		return err
	}
	return c.resolve(c, r)
}
