package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the wire description of one node:
//
//	[id, kind, name, value, attrs?, childCount, children?]
//
// attrs is a flat name/value sequence. Trailing optional fields are omitted
// rather than sent as null. Children is nil when the remote did not send
// child payloads; a non-nil empty slice means "sent, and there are none".
type Payload struct {
	ID         NodeID
	Kind       Kind
	Name       string
	Value      string
	Attributes []string
	ChildCount int
	Children   []Payload
}

var jsonNull = []byte("null")

// UnmarshalJSON decodes the positional array form.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	if len(raw) < 3 {
		return fmt.Errorf("payload: want at least 3 fields, got %d", len(raw))
	}

	*p = Payload{}
	fields := []any{&p.ID, &p.Kind, &p.Name, &p.Value, &p.Attributes, &p.ChildCount}
	for i, dst := range fields {
		if i >= len(raw) {
			break
		}
		if bytes.Equal(bytes.TrimSpace(raw[i]), jsonNull) {
			continue
		}
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return fmt.Errorf("payload field %d: %w", i, err)
		}
	}
	if len(p.Attributes)%2 != 0 {
		return fmt.Errorf("payload %d: odd attribute array length %d", p.ID, len(p.Attributes))
	}

	if len(raw) > 6 && !bytes.Equal(bytes.TrimSpace(raw[6]), jsonNull) {
		var kids []Payload
		if err := json.Unmarshal(raw[6], &kids); err != nil {
			return fmt.Errorf("payload %d children: %w", p.ID, err)
		}
		if kids == nil {
			kids = []Payload{}
		}
		p.Children = kids
	}
	return nil
}

// MarshalJSON encodes the positional array form.
func (p Payload) MarshalJSON() ([]byte, error) {
	attrs := p.Attributes
	if attrs == nil {
		attrs = []string{}
	}
	out := []any{p.ID, p.Kind, p.Name, p.Value, attrs, p.ChildCount}
	if p.Children != nil {
		out = append(out, p.Children)
	}
	return json.Marshal(out)
}

// StylesPayload is the wire form of a style fetch reply.
type StylesPayload struct {
	ComputedStyle   string            `json:"computedStyle"`
	InlineStyle     string            `json:"inlineStyle"`
	StyleAttributes map[string]string `json:"styleAttributes,omitempty"`
	MatchedRules    []RulePayload     `json:"matchedCSSRules,omitempty"`
}

// RulePayload is one matched CSS rule.
type RulePayload struct {
	Selector                      string `json:"selector"`
	CSSText                       string `json:"cssText"`
	ParentStyleSheetHref          string `json:"parentStyleSheetHref,omitempty"`
	ParentStyleSheetOwnerNodeName string `json:"parentStyleSheetOwnerNodeName,omitempty"`
}
