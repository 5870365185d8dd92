package mirror

// Push notifications are applied immediately and in the order they arrive.

// AttributesUpdated replaces the whole attribute list of a node.
func (a *Agent) AttributesUpdated(id NodeID, flat []string) error {
	n, ok := a.store.Get(id)
	if !ok {
		return &ErrUnknownNode{ID: id}
	}
	n.setAttributesPayload(flat)
	a.doc.FireEvent(&Event{Type: EventAttrModified, Target: n})
	if a.refresh != nil {
		a.refresh(n)
	}
	return nil
}

// SetDocumentElement installs the root element. It takes effect once per
// session; later calls are ignored.
func (a *Agent) SetDocumentElement(p Payload) error {
	if a.doc.element != nil {
		a.logger.Debug("mirror: document element already set", "id", int64(p.ID))
		return nil
	}
	if err := a.fresh(p); err != nil {
		return err
	}
	el := a.build(&p)
	a.doc.node.setChildren([]*Node{el})
	a.doc.element = el
	a.doc.FireEvent(&Event{Type: EventContentLoaded, Target: a.doc.node})

	waiters := a.elementWaiters
	a.elementWaiters = nil
	for _, cb := range waiters {
		cb(el)
	}
	return nil
}

// SetChildNodes populates a parent's children. A parent that is already
// populated is left as is.
func (a *Agent) SetChildNodes(parentID NodeID, payloads []Payload) error {
	parent, ok := a.store.Get(parentID)
	if !ok {
		return &ErrUnknownNode{ID: parentID}
	}
	if parent.populated {
		a.logger.Debug("mirror: children already populated", "parent", int64(parentID))
		return nil
	}
	return a.populate(parent, payloads)
}

// HasChildrenUpdated updates the advertised child count without touching
// mirrored children.
func (a *Agent) HasChildrenUpdated(id NodeID, count int) error {
	n, ok := a.store.Get(id)
	if !ok {
		return &ErrUnknownNode{ID: id}
	}
	n.childCount = count
	return nil
}

// ChildNodeInserted inserts p after prevID, or first when prevID is 0.
// For a parent whose children were never fetched only the count changes.
func (a *Agent) ChildNodeInserted(parentID, prevID NodeID, p Payload) error {
	parent, ok := a.store.Get(parentID)
	if !ok {
		return &ErrUnknownNode{ID: parentID}
	}
	if !parent.populated {
		parent.childCount++
		return nil
	}
	var prev *Node
	if prevID != 0 {
		prev, ok = a.store.Get(prevID)
		if !ok || prev.parent != parent {
			return &ErrUnknownAnchor{Parent: parentID, Prev: prevID}
		}
	}
	if err := a.fresh(p); err != nil {
		return err
	}
	n := a.build(&p)
	if err := parent.insertAfter(prev, n); err != nil {
		a.store.deleteSubtree(n)
		return err
	}
	a.doc.FireEvent(&Event{Type: EventNodeInserted, Target: n, RelatedNode: parent})
	return nil
}

// ChildNodeRemoved detaches a node. The removal event fires while the node
// is still in the store; afterwards it and its mirrored descendants are
// forgotten. Removing an unknown node is a no-op.
func (a *Agent) ChildNodeRemoved(parentID, id NodeID) error {
	n, ok := a.store.Get(id)
	if !ok {
		a.logger.Debug("mirror: remove of unknown node", "id", int64(id), "parent", int64(parentID))
		return nil
	}
	parent, ok := a.store.Get(parentID)
	if !ok {
		return &ErrUnknownNode{ID: parentID}
	}
	if err := parent.removeChild(n); err != nil {
		return err
	}
	a.doc.FireEvent(&Event{Type: EventNodeRemoved, Target: n, RelatedNode: parent})
	a.store.deleteSubtree(n)
	n.parent, n.prev, n.next = nil, nil, nil
	return nil
}

// CharacterDataModified updates a text-like node's value.
func (a *Agent) CharacterDataModified(id NodeID, value string) error {
	n, ok := a.store.Get(id)
	if !ok {
		return &ErrUnknownNode{ID: id}
	}
	n.value = value
	a.doc.FireEvent(&Event{Type: EventCharacterDataModified, Target: n})
	return nil
}

// DocumentUpdated means the remote document was replaced wholesale.
func (a *Agent) DocumentUpdated() error {
	a.Reset()
	return nil
}
