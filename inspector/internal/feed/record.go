// Package feed turns mirror document events into batched change records
// and fans them out to sinks.
package feed

import (
	"strconv"
	"strings"

	"github.com/hazyhaar/dommirror/mirror"
)

// Op is the kind of change observed.
type Op string

const (
	OpLoaded   Op = "loaded"    // document element installed
	OpInsert   Op = "insert"    // child inserted (includes rendered subtree)
	OpRemove   Op = "remove"    // child removed
	OpText     Op = "text"      // character data changed
	OpAttr     Op = "attr"      // attribute set, or whole list replaced
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpDocReset Op = "doc_reset" // session reset, every id is void
)

// Record is one change.
type Record struct {
	Op     Op                `json:"op"`
	Node   mirror.NodeID     `json:"node"`
	Parent mirror.NodeID     `json:"parent,omitempty"`
	Path   string            `json:"path,omitempty"`
	Kind   mirror.Kind       `json:"kind,omitempty"`
	Name   string            `json:"name,omitempty"` // node name
	Attr   string            `json:"attr,omitempty"`
	Value  string            `json:"value,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"` // full list, for replacements
	HTML   string            `json:"html,omitempty"`

	session string
}

// Batch is every record collected during one debounce window, within a
// single session.
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	Session   string   `json:"session"`
	Seq       uint64   `json:"seq"` // per feed, gap detection
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch ms at flush
}

// path builds an XPath-like locator from the mirrored ancestry, e.g.
// /HTML/BODY/DIV[2]/#text.
func path(n *mirror.Node) string {
	var parts []string
	for ; n != nil && n.Kind() != mirror.KindDocument; n = n.ParentNode() {
		step := n.Name()
		if p := n.ParentNode(); p != nil {
			idx, same := 0, 0
			kids, _ := p.Children()
			for _, c := range kids {
				if c.Name() == n.Name() {
					same++
					if c == n {
						idx = same
					}
				}
			}
			if same > 1 {
				step += "[" + strconv.Itoa(idx) + "]"
			}
		}
		parts = append(parts, step)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
