// Package cdp bridges the mirror protocol to the Chrome DevTools Protocol.
//
// Requests from the agent become DOM and CSS domain commands; DOM domain
// events become push notifications. Commands run on their own goroutine
// and their replies, like events, are queued on the mirror loop.
//
// Chrome sends the events that reveal a node before any command result
// naming it, but rod hands events and results to different goroutines.
// The bridge records every node id it has delivered, and a search reply
// is held until its result ids have been delivered, so the loop always
// sees the path before the reply.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dommirror/mirror"
)

// Loop is the part of mirror.Loop the bridge feeds.
type Loop interface {
	Deliver(ctx context.Context, m mirror.Message) error
	Post(fn func(*mirror.Agent)) error
}

type sheetInfo struct {
	href   string
	inline bool
}

// Bridge implements mirror.Transport over a CDP client, normally a
// *rod.Page.
type Bridge struct {
	client proto.Client
	loop   Loop
	logger *slog.Logger

	wg sync.WaitGroup

	mu     sync.Mutex
	docID  proto.DOMNodeID
	sheets map[proto.CSSStyleSheetID]sheetInfo
	known  map[mirror.NodeID]struct{}
	grew   chan struct{} // closed and replaced whenever known grows

	// settle bounds how long a reply waits for the events it depends on.
	settle time.Duration
}

// New creates a bridge. Call Enable before the first request and Attach to
// start receiving events.
func New(client proto.Client, loop Loop, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client: client,
		loop:   loop,
		logger: logger,
		sheets: make(map[proto.CSSStyleSheetID]sheetInfo),
		known:  make(map[mirror.NodeID]struct{}),
		grew:   make(chan struct{}),
		settle: 2 * time.Second,
	}
}

// emit delivers m, then records the nodes it carried as delivered.
func (b *Bridge) emit(m mirror.Message, carried ...mirror.Payload) {
	if err := b.loop.Deliver(context.Background(), m); err != nil {
		b.logger.Warn("cdp: deliver", "method", string(m.Method), "error", err)
		return
	}
	if len(carried) == 0 {
		return
	}
	b.mu.Lock()
	var walk func(ps []mirror.Payload)
	walk = func(ps []mirror.Payload) {
		for i := range ps {
			b.known[ps[i].ID] = struct{}{}
			walk(ps[i].Children)
		}
	}
	walk(carried)
	close(b.grew)
	b.grew = make(chan struct{})
	b.mu.Unlock()
}

// awaitDelivered blocks until every id has been delivered or settle
// passes. It reports whether all of them were seen.
func (b *Bridge) awaitDelivered(ids []mirror.NodeID) bool {
	timer := time.NewTimer(b.settle)
	defer timer.Stop()
	for {
		b.mu.Lock()
		missing := false
		for _, id := range ids {
			if _, ok := b.known[id]; !ok && id != 0 {
				missing = true
				break
			}
		}
		grew := b.grew
		b.mu.Unlock()
		if !missing {
			return true
		}
		select {
		case <-grew:
		case <-timer.C:
			return false
		}
	}
}

func (b *Bridge) forgetDelivered() {
	b.mu.Lock()
	b.known = make(map[mirror.NodeID]struct{})
	b.mu.Unlock()
}

// Enable turns on the DOM and CSS domains.
func (b *Bridge) Enable() error {
	if err := (proto.DOMEnable{}).Call(b.client); err != nil {
		return fmt.Errorf("cdp: enable dom: %w", err)
	}
	if err := (proto.CSSEnable{}).Call(b.client); err != nil {
		return fmt.Errorf("cdp: enable css: %w", err)
	}
	return nil
}

// Attach subscribes to the page's DOM and CSS events until ctx is done.
func (b *Bridge) Attach(ctx context.Context, page *rod.Page) {
	wait := page.Context(ctx).EachEvent(
		b.onSetChildNodes,
		b.onChildNodeInserted,
		b.onChildNodeRemoved,
		b.onAttributeModified,
		b.onAttributeRemoved,
		b.onCharacterDataModified,
		b.onChildNodeCountUpdated,
		b.onDocumentUpdated,
		b.onStyleSheetAdded,
	)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		wait()
	}()
}

// Wait blocks until in-flight commands and the event subscription end.
func (b *Bridge) Wait() { b.wg.Wait() }

// Send runs req asynchronously. Only unknown methods fail synchronously.
func (b *Bridge) Send(ctx context.Context, req mirror.Request) error {
	var run func(mirror.Request) []mirror.Message
	switch req.Method {
	case mirror.MethodGetDocumentElement:
		run = b.getDocument
	case mirror.MethodGetChildNodes:
		run = b.requestChildNodes
	case mirror.MethodGetNodeStyles:
		run = b.nodeStyles
	case mirror.MethodSetAttribute, mirror.MethodRemoveAttribute, mirror.MethodSetTextNodeValue:
		run = b.mutate
	case mirror.MethodPerformSearch:
		run = b.search
	case mirror.MethodSearchCanceled:
		// Results are discarded as soon as they are read.
		return nil
	default:
		return fmt.Errorf("cdp: unsupported request %s", req.Method)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, m := range run(req) {
			if err := b.loop.Deliver(ctx, m); err != nil {
				b.logger.Warn("cdp: deliver reply", "method", string(m.Method), "error", err)
				return
			}
		}
	}()
	return nil
}

func (b *Bridge) failed(req mirror.Request, err error) []mirror.Message {
	b.logger.Warn("cdp: command failed", "method", string(req.Method), "node", int64(req.NodeID), "error", err)
	if req.CallID == 0 {
		return nil
	}
	return []mirror.Message{mirror.NewMessage(mirror.MethodCallFailed, req.CallID, err.Error())}
}

func (b *Bridge) getDocument(req mirror.Request) []mirror.Message {
	depth := 2
	res, err := proto.DOMGetDocument{Depth: &depth}.Call(b.client)
	if err != nil {
		return b.failed(req, err)
	}
	if res.Root == nil {
		return b.failed(req, fmt.Errorf("cdp: empty document"))
	}
	b.mu.Lock()
	b.docID = res.Root.NodeID
	b.mu.Unlock()
	for _, c := range res.Root.Children {
		if c.NodeType == int(mirror.KindElement) {
			p := b.payload(c)
			b.emit(mirror.NewMessage(mirror.MethodSetDocumentElement, p), p)
			return nil
		}
	}
	return b.failed(req, fmt.Errorf("cdp: document has no element"))
}

// requestChildNodes replies without a payload: Chrome pushes the children
// as a DOM.setChildNodes event.
func (b *Bridge) requestChildNodes(req mirror.Request) []mirror.Message {
	depth := 1
	err := proto.DOMRequestChildNodes{NodeID: b.cdpID(req.NodeID), Depth: &depth}.Call(b.client)
	if err != nil {
		return b.failed(req, err)
	}
	return []mirror.Message{mirror.NewMessage(mirror.MethodDidGetChildNodes, req.CallID)}
}

func (b *Bridge) mutate(req mirror.Request) []mirror.Message {
	id := b.cdpID(req.NodeID)
	var err error
	switch req.Method {
	case mirror.MethodSetAttribute:
		err = proto.DOMSetAttributeValue{NodeID: id, Name: req.Name, Value: req.Value}.Call(b.client)
	case mirror.MethodRemoveAttribute:
		err = proto.DOMRemoveAttribute{NodeID: id, Name: req.Name}.Call(b.client)
	case mirror.MethodSetTextNodeValue:
		err = proto.DOMSetNodeValue{NodeID: id, Value: req.Value}.Call(b.client)
	}
	if err != nil {
		b.logger.Info("cdp: mutation refused", "method", string(req.Method), "node", int64(req.NodeID), "error", err)
	}
	return []mirror.Message{mirror.NewMessage(req.Method.ReplyMethod(), req.CallID, err == nil)}
}

func (b *Bridge) search(req mirror.Request) []mirror.Message {
	res, err := proto.DOMPerformSearch{Query: req.Query}.Call(b.client)
	if err != nil {
		return b.failed(req, err)
	}
	defer func() {
		if err := (proto.DOMDiscardSearchResults{SearchID: res.SearchID}).Call(b.client); err != nil {
			b.logger.Debug("cdp: discard search results", "error", err)
		}
	}()
	ids := []mirror.NodeID{}
	if res.ResultCount > 0 {
		got, err := proto.DOMGetSearchResults{SearchID: res.SearchID, FromIndex: 0, ToIndex: res.ResultCount}.Call(b.client)
		if err != nil {
			return b.failed(req, err)
		}
		for _, id := range got.NodeIDs {
			ids = append(ids, b.mirrorID(id))
		}
		if !b.awaitDelivered(ids) {
			b.logger.Debug("cdp: search results ahead of their nodes", "query", req.Query, "settle", b.settle)
		}
	}
	return []mirror.Message{mirror.NewMessage(mirror.MethodDidPerformSearch, req.CallID, ids)}
}

func (b *Bridge) nodeStyles(req mirror.Request) []mirror.Message {
	id := b.cdpID(req.NodeID)
	computed, err := proto.CSSGetComputedStyleForNode{NodeID: id}.Call(b.client)
	if err != nil {
		return b.failed(req, err)
	}
	matched, err := proto.CSSGetMatchedStylesForNode{NodeID: id}.Call(b.client)
	if err != nil {
		return b.failed(req, err)
	}

	var decls []string
	for _, p := range computed.ComputedStyle {
		decls = append(decls, p.Name+": "+p.Value)
	}
	p := &mirror.StylesPayload{ComputedStyle: strings.Join(decls, "; ")}
	if matched.InlineStyle != nil {
		p.InlineStyle = styleText(matched.InlineStyle)
		p.StyleAttributes = map[string]string{"style": p.InlineStyle}
	}
	for _, m := range matched.MatchedCSSRules {
		r := m.Rule
		if r == nil || (req.AuthorOnly && r.Origin == proto.CSSStyleSheetOriginUserAgent) {
			continue
		}
		rp := mirror.RulePayload{CSSText: styleText(r.Style)}
		if r.SelectorList != nil {
			rp.Selector = r.SelectorList.Text
		}
		b.mu.Lock()
		info, ok := b.sheets[r.StyleSheetID]
		b.mu.Unlock()
		if ok {
			rp.ParentStyleSheetHref = info.href
			rp.ParentStyleSheetOwnerNodeName = "LINK"
			if info.inline {
				rp.ParentStyleSheetOwnerNodeName = "STYLE"
			}
		}
		p.MatchedRules = append(p.MatchedRules, rp)
	}
	return []mirror.Message{mirror.NewMessage(mirror.MethodDidGetNodeStyles, req.CallID, p)}
}

func styleText(s *proto.CSSCSSStyle) string {
	if s == nil {
		return ""
	}
	if s.CSSText != "" {
		return s.CSSText
	}
	var decls []string
	for _, p := range s.CSSProperties {
		d := p.Name + ": " + p.Value
		if p.Important {
			d += " !important"
		}
		decls = append(decls, d)
	}
	return strings.Join(decls, "; ")
}

// payload converts a CDP node, keeping the children Chrome sent.
func (b *Bridge) payload(n *proto.DOMNode) mirror.Payload {
	p := mirror.Payload{
		ID:         b.mirrorID(n.NodeID),
		Kind:       mirror.Kind(n.NodeType),
		Name:       n.NodeName,
		Value:      n.NodeValue,
		Attributes: n.Attributes,
	}
	if n.ChildNodeCount != nil {
		p.ChildCount = *n.ChildNodeCount
	} else {
		p.ChildCount = len(n.Children)
	}
	if n.Children != nil {
		p.Children = make([]mirror.Payload, 0, len(n.Children))
		for _, c := range n.Children {
			p.Children = append(p.Children, b.payload(c))
		}
	}
	return p
}

// mirrorID maps Chrome's document node to the mirror's id 0.
func (b *Bridge) mirrorID(id proto.DOMNodeID) mirror.NodeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.docID != 0 && id == b.docID {
		return 0
	}
	return mirror.NodeID(id)
}

func (b *Bridge) cdpID(id mirror.NodeID) proto.DOMNodeID {
	if id == 0 {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.docID
	}
	return proto.DOMNodeID(id)
}
