package htmlremote

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// selector is a descendant chain of compound selectors. The subset covers
// what stylesheets in test pages use:
//   - tag, .class, #id, tag.class.other, tag#id
//   - [attr], [attr=val]
//   - *
//   - descendant combinator (whitespace)
type selector []compound

type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasAttr bool
}

// parseSelector returns nil for selectors outside the supported subset
// (child/sibling combinators, pseudo-classes).
func parseSelector(s string) selector {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil
	}
	sel := make(selector, 0, len(parts))
	for _, p := range parts {
		if strings.ContainsAny(p, ">+~:") {
			return nil
		}
		sel = append(sel, parseCompound(p))
	}
	return sel
}

func parseCompound(sel string) compound {
	var c compound

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		c.hasAttr = true
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			c.attrKey = attrPart[:eq]
			c.attrVal = strings.Trim(attrPart[eq+1:], `"'`)
		} else {
			c.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		c.id = sel[idx+1:]
		sel = sel[:idx]
		if dot := strings.IndexByte(c.id, '.'); dot >= 0 {
			sel += c.id[dot:]
			c.id = c.id[:dot]
		}
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		for _, cl := range strings.Split(sel[idx+1:], ".") {
			if cl != "" {
				c.classes = append(c.classes, cl)
			}
		}
		sel = sel[:idx]
	}

	if sel != "*" {
		c.tag = strings.ToLower(sel)
	}
	return c
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(getAttr(n, "class"))
		for _, want := range c.classes {
			if !slices.Contains(have, want) {
				return false
			}
		}
	}
	if c.hasAttr {
		val, ok := lookupAttr(n, c.attrKey)
		if !ok || (c.attrVal != "" && val != c.attrVal) {
			return false
		}
	}
	return true
}

// matches reports whether n is matched by the rightmost compound and each
// earlier compound matches some ancestor, in order.
func (s selector) matches(n *html.Node) bool {
	if len(s) == 0 || !s[len(s)-1].matches(n) {
		return false
	}
	i := len(s) - 2
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if s[i].matches(p) {
			i--
		}
	}
	return i < 0
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
