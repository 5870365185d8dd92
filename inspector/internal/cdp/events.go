package cdp

import (
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dommirror/mirror"
)

func (b *Bridge) onSetChildNodes(e *proto.DOMSetChildNodes) {
	kids := make([]mirror.Payload, 0, len(e.Nodes))
	for _, n := range e.Nodes {
		kids = append(kids, b.payload(n))
	}
	b.emit(mirror.NewMessage(mirror.MethodSetChildNodes, b.mirrorID(e.ParentID), kids), kids...)
}

func (b *Bridge) onChildNodeInserted(e *proto.DOMChildNodeInserted) {
	if e.Node == nil {
		return
	}
	p := b.payload(e.Node)
	b.emit(mirror.NewMessage(mirror.MethodChildNodeInserted,
		b.mirrorID(e.ParentNodeID), mirror.NodeID(e.PreviousNodeID), p), p)
}

func (b *Bridge) onChildNodeRemoved(e *proto.DOMChildNodeRemoved) {
	b.emit(mirror.NewMessage(mirror.MethodChildNodeRemoved, b.mirrorID(e.ParentNodeID), mirror.NodeID(e.NodeID)))
}

func (b *Bridge) onCharacterDataModified(e *proto.DOMCharacterDataModified) {
	b.emit(mirror.NewMessage(mirror.MethodCharacterDataModified, mirror.NodeID(e.NodeID), e.CharacterData))
}

func (b *Bridge) onChildNodeCountUpdated(e *proto.DOMChildNodeCountUpdated) {
	b.emit(mirror.NewMessage(mirror.MethodHasChildrenUpdated, mirror.NodeID(e.NodeID), e.ChildNodeCount))
}

func (b *Bridge) onDocumentUpdated(*proto.DOMDocumentUpdated) {
	b.mu.Lock()
	b.docID = 0
	b.mu.Unlock()
	b.forgetDelivered()
	b.emit(mirror.NewMessage(mirror.MethodDocumentUpdated))
}

func (b *Bridge) onStyleSheetAdded(e *proto.CSSStyleSheetAdded) {
	if e.Header == nil {
		return
	}
	b.mu.Lock()
	b.sheets[e.Header.StyleSheetID] = sheetInfo{href: e.Header.SourceURL, inline: e.Header.IsInline}
	b.mu.Unlock()
}

// Chrome reports single attribute changes; the mirror protocol carries the
// whole list. The list is rebuilt from the mirror on the loop, so it sees
// every earlier change.
func (b *Bridge) onAttributeModified(e *proto.DOMAttributeModified) {
	b.updateAttributes(mirror.NodeID(e.NodeID), func(flat []string) []string {
		for i := 0; i+1 < len(flat); i += 2 {
			if flat[i] == e.Name {
				flat[i+1] = e.Value
				return flat
			}
		}
		return append(flat, e.Name, e.Value)
	})
}

func (b *Bridge) onAttributeRemoved(e *proto.DOMAttributeRemoved) {
	b.updateAttributes(mirror.NodeID(e.NodeID), func(flat []string) []string {
		out := flat[:0]
		for i := 0; i+1 < len(flat); i += 2 {
			if flat[i] != e.Name {
				out = append(out, flat[i], flat[i+1])
			}
		}
		return out
	})
}

func (b *Bridge) updateAttributes(id mirror.NodeID, edit func([]string) []string) {
	err := b.loop.Post(func(a *mirror.Agent) {
		n := a.GetNodeForID(id)
		if n == nil {
			return
		}
		var flat []string
		for _, attr := range n.Attributes() {
			flat = append(flat, attr.Name, attr.Value)
		}
		flat = edit(flat)
		if flat == nil {
			flat = []string{}
		}
		if err := a.Dispatch(mirror.NewMessage(mirror.MethodAttributesUpdated, id, flat)); err != nil {
			b.logger.Warn("cdp: attributes update", "node", int64(id), "error", err)
		}
	})
	if err != nil {
		b.logger.Warn("cdp: post attributes update", "node", int64(id), "error", err)
	}
}
