package mirror

import (
	"strings"

	"github.com/aymerick/douceur/parser"
)

// Property is one parsed CSS declaration.
type Property struct {
	Name      string
	Value     string
	Important bool
}

// Style is a parsed CSS declaration block. CSSText is kept verbatim; when
// it cannot be parsed, Properties is empty.
type Style struct {
	CSSText    string
	Properties []Property
}

// ParseStyle parses a declaration block such as "color: red; margin: 0".
func ParseStyle(cssText string) *Style {
	s := &Style{CSSText: cssText}
	if strings.TrimSpace(cssText) == "" {
		return s
	}
	decls, err := parser.ParseDeclarations(cssText)
	if err != nil {
		return s
	}
	for _, d := range decls {
		s.Properties = append(s.Properties, Property{
			Name:      strings.ToLower(d.Property),
			Value:     d.Value,
			Important: d.Important,
		})
	}
	return s
}

// PropertyValue returns the last declared value of name, or "" if absent.
func (s *Style) PropertyValue(name string) string {
	if s == nil {
		return ""
	}
	name = strings.ToLower(name)
	for i := len(s.Properties) - 1; i >= 0; i-- {
		if s.Properties[i].Name == name {
			return s.Properties[i].Value
		}
	}
	return ""
}

// IsImportant reports whether the last declaration of name is !important.
func (s *Style) IsImportant(name string) bool {
	if s == nil {
		return false
	}
	name = strings.ToLower(name)
	for i := len(s.Properties) - 1; i >= 0; i-- {
		if s.Properties[i].Name == name {
			return s.Properties[i].Important
		}
	}
	return false
}

// Rule is a matched CSS rule with the stylesheet it came from.
type Rule struct {
	Selector           string
	Style              *Style
	SheetHref          string
	SheetOwnerNodeName string
}

// Styles is the transient style bundle attached to a node while a
// GetStyles callback runs.
type Styles struct {
	Computed   *Style
	Inline     *Style
	Attributes map[string]*Style
	Rules      []*Rule
}

func buildStyles(p *StylesPayload) *Styles {
	s := &Styles{
		Computed:   ParseStyle(p.ComputedStyle),
		Inline:     ParseStyle(p.InlineStyle),
		Attributes: make(map[string]*Style, len(p.StyleAttributes)),
	}
	for name, text := range p.StyleAttributes {
		s.Attributes[name] = ParseStyle(text)
	}
	for _, r := range p.MatchedRules {
		s.Rules = append(s.Rules, &Rule{
			Selector:           r.Selector,
			Style:              ParseStyle(r.CSSText),
			SheetHref:          r.ParentStyleSheetHref,
			SheetOwnerNodeName: r.ParentStyleSheetOwnerNodeName,
		})
	}
	return s
}
