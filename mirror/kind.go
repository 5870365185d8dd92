package mirror

import "strconv"

// NodeID identifies a node in the inspected document. IDs are assigned by
// the remote side. Zero is reserved for the document itself and doubles as
// the "no node" sentinel (e.g. "no previous sibling").
type NodeID int64

// CallID correlates an outbound request with its reply. Zero means the
// message carries no call id.
type CallID int64

// Kind is the DOM node type, using the numeric nodeType constants of the DOM.
type Kind int

const (
	KindElement               Kind = 1
	KindAttribute             Kind = 2
	KindText                  Kind = 3
	KindCDATASection          Kind = 4
	KindEntityReference       Kind = 5
	KindEntity                Kind = 6
	KindProcessingInstruction Kind = 7
	KindComment               Kind = 8
	KindDocument              Kind = 9
	KindDocumentType          Kind = 10
	KindDocumentFragment      Kind = 11
	KindNotation              Kind = 12
)

var kindNames = map[Kind]string{
	KindElement:               "element",
	KindAttribute:             "attribute",
	KindText:                  "text",
	KindCDATASection:          "cdata",
	KindEntityReference:       "entity_reference",
	KindEntity:                "entity",
	KindProcessingInstruction: "processing_instruction",
	KindComment:               "comment",
	KindDocument:              "document",
	KindDocumentType:          "doctype",
	KindDocumentFragment:      "fragment",
	KindNotation:              "notation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}
