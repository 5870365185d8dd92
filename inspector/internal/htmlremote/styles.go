package htmlremote

import (
	"slices"
	"sort"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dommirror/mirror"
)

const userAgentSheet = `
html, body, div, p, section, article, header, footer, main, nav, aside,
ul, ol, li, form, h1, h2, h3, h4, h5, h6, table, blockquote, pre { display: block }
head, script, style, template, title, meta, link { display: none }
span, a, em, strong, b, i, code, label { display: inline }
b, strong, h1, h2, h3, h4, h5, h6 { font-weight: bold }
`

type cssRule struct {
	selectorText string
	sel          selector
	decls        []*css.Declaration
	userAgent    bool
}

var userAgentRules = parseRules(userAgentSheet, true)

func parseRules(text string, userAgent bool) []cssRule {
	sheet, err := parser.Parse(text)
	if err != nil {
		return nil
	}
	var out []cssRule
	for _, rule := range sheet.Rules {
		if rule.Kind != css.QualifiedRule {
			continue
		}
		for _, s := range rule.Selectors {
			sel := parseSelector(s)
			if sel == nil {
				continue
			}
			out = append(out, cssRule{selectorText: s, sel: sel, decls: rule.Declarations, userAgent: userAgent})
		}
	}
	return out
}

// authorRules collects rules from every <style> element in document order.
func (r *Remote) authorRules() []cssRule {
	var out []cssRule
	r.walk(r.doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Style {
			return
		}
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		out = append(out, parseRules(b.String(), false)...)
	})
	return out
}

// styles resolves the cascade in source order: user-agent rules, then
// author rules, then the inline style. An !important declaration is only
// overridden by a later !important one.
func (r *Remote) styles(n *html.Node, authorOnly bool) *mirror.StylesPayload {
	type value struct {
		v         string
		important bool
	}
	computed := make(map[string]value)
	apply := func(decls []*css.Declaration) {
		for _, d := range decls {
			if cur, ok := computed[d.Property]; ok && cur.important && !d.Important {
				continue
			}
			computed[d.Property] = value{d.Value, d.Important}
		}
	}

	p := &mirror.StylesPayload{}
	for _, rule := range slices.Concat(userAgentRules, r.authorRules()) {
		if !rule.sel.matches(n) {
			continue
		}
		apply(rule.decls)
		if authorOnly && rule.userAgent {
			continue
		}
		rp := mirror.RulePayload{Selector: rule.selectorText, CSSText: declText(rule.decls)}
		if !rule.userAgent {
			rp.ParentStyleSheetOwnerNodeName = "STYLE"
		}
		p.MatchedRules = append(p.MatchedRules, rp)
	}

	if inline, ok := lookupAttr(n, "style"); ok {
		p.InlineStyle = inline
		p.StyleAttributes = map[string]string{"style": inline}
		if decls, err := parser.ParseDeclarations(inline); err == nil {
			apply(decls)
		}
	}

	names := make([]string, 0, len(computed))
	for name := range computed {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+computed[name].v)
	}
	p.ComputedStyle = strings.Join(parts, "; ")
	return p
}

func declText(decls []*css.Declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		s := d.Property + ": " + d.Value
		if d.Important {
			s += " !important"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}
