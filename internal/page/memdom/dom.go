package memdom

import (
	"strings"

	"golang.org/x/net/html"

	"sea-e2e/internal/page"
)

// ---- Attributes ----

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attr(n, name)
	return ok
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func inputType(n *html.Node) string {
	if n.Data != "input" {
		return ""
	}
	t, _ := attr(n, "type")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "text"
	}
	return t
}

// ---- Tree ----

func isElement(n *html.Node) bool { return n != nil && n.Type == html.ElementNode }

func ancestorsOrSelf(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n; c != nil; c = c.Parent {
		if isElement(c) {
			out = append(out, c)
		}
	}
	return out
}

func contains(root, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

func closest(n *html.Node, tag string) *html.Node {
	for _, a := range ancestorsOrSelf(n) {
		if a.Data == tag {
			return a
		}
	}
	return nil
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if isElement(root) && pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, pred); f != nil {
			return f
		}
	}
	return nil
}

func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isElement(n) && pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// textContent collects the visible text of n, skipping script and style
// content, with whitespace collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			switch c.Data {
			case "script", "style", "template":
				return
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// ---- Visibility & enablement ----

func hiddenByStyle(n *html.Node) bool {
	style, ok := attr(n, "style")
	if !ok {
		return false
	}
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden")
}

func visible(n *html.Node) bool {
	if inputType(n) == "hidden" {
		return false
	}
	for _, a := range ancestorsOrSelf(n) {
		switch a.Data {
		case "head", "script", "style", "template", "title", "meta", "link":
			return false
		}
		if hasAttr(a, "hidden") || hiddenByStyle(a) {
			return false
		}
	}
	return true
}

func enabled(n *html.Node) bool {
	if hasAttr(n, "disabled") {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if !isElement(p) {
			continue
		}
		switch p.Data {
		case "fieldset":
			if hasAttr(p, "disabled") {
				return false
			}
		case "optgroup", "select":
			if n.Data == "option" && hasAttr(p, "disabled") {
				return false
			}
		}
	}
	return true
}

// ---- Form state ----

func (p *Page) valueOf(n *html.Node) string {
	if v, ok := p.values[n]; ok {
		return v
	}
	switch n.Data {
	case "textarea":
		return textContent(n)
	case "select":
		vals := selectedValues(n)
		if len(vals) == 0 {
			return ""
		}
		return vals[0]
	case "option":
		return optionValue(n)
	}
	v, _ := attr(n, "value")
	return v
}

func (p *Page) setValue(n *html.Node, v string) {
	if n.Data == "select" {
		setSelected(n, []string{v})
		return
	}
	p.values[n] = v
}

func optionValue(opt *html.Node) string {
	if v, ok := attr(opt, "value"); ok {
		return v
	}
	return textContent(opt)
}

func options(sel *html.Node) []*html.Node {
	return findAll(sel, func(n *html.Node) bool { return n.Data == "option" })
}

func selectedValues(sel *html.Node) []string {
	var out []string
	opts := options(sel)
	for _, o := range opts {
		if hasAttr(o, "selected") {
			out = append(out, optionValue(o))
		}
	}
	if len(out) == 0 && !hasAttr(sel, "multiple") && len(opts) > 0 {
		out = append(out, optionValue(opts[0]))
	}
	return out
}

func setSelected(sel *html.Node, values []string) {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	for _, o := range options(sel) {
		if want[optionValue(o)] {
			setAttr(o, "selected", "")
		} else {
			removeAttr(o, "selected")
		}
	}
}

func checked(n *html.Node) bool { return hasAttr(n, "checked") }

func setChecked(n *html.Node, on bool) {
	if on {
		setAttr(n, "checked", "")
	} else {
		removeAttr(n, "checked")
	}
}

// radioGroup returns the radios sharing n's name within its form or document.
func radioGroup(doc, n *html.Node) []*html.Node {
	name, ok := attr(n, "name")
	if !ok || name == "" {
		return []*html.Node{n}
	}
	root := closest(n, "form")
	if root == nil {
		root = doc
	}
	return findAll(root, func(c *html.Node) bool {
		nm, _ := attr(c, "name")
		return inputType(c) == "radio" && nm == name
	})
}

// ---- Snapshot ----

func (p *Page) snapshot(n *html.Node) page.Element {
	el := page.Element{
		Ref:      p.refOf(n),
		Tag:      n.Data,
		Attrs:    make(map[string]string, len(n.Attr)),
		Visible:  visible(n),
		Enabled:  enabled(n),
		ReadOnly: hasAttr(n, "readonly"),
		Checked:  checked(n),
		Multiple: n.Data == "select" && hasAttr(n, "multiple"),
	}
	for _, a := range n.Attr {
		el.Attrs[a.Key] = a.Val
	}
	switch n.Data {
	case "input":
		el.Value = p.valueOf(n)
	case "textarea", "option":
		el.Value = p.valueOf(n)
		el.Text = textContent(n)
	case "select":
		el.Value = p.valueOf(n)
		el.Text = textContent(n)
		selected := map[string]bool{}
		for _, v := range selectedValues(n) {
			selected[v] = true
		}
		for _, o := range options(n) {
			v := optionValue(o)
			el.Options = append(el.Options, page.Option{
				Value:    v,
				Text:     textContent(o),
				Selected: selected[v],
				Disabled: !enabled(o),
			})
		}
	default:
		el.Text = textContent(n)
	}
	return el
}
