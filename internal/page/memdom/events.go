package memdom

import (
	"unicode/utf8"

	"golang.org/x/net/html"

	"sea-e2e/internal/page"
)

// Event is what a behavior listener receives.
type Event struct {
	Type    page.EventType
	Key     string
	Target  *Node
	Current *Node

	prevented bool
	stopped   bool
}

func (e *Event) PreventDefault()        { e.prevented = true }
func (e *Event) StopPropagation()       { e.stopped = true }
func (e *Event) DefaultPrevented() bool { return e.prevented }

// fireLocked runs the listeners for typ along the path from target to the root.
func (p *Page) fireLocked(target *html.Node, typ page.EventType, key string) *Event {
	ev := &Event{Type: typ, Key: key, Target: p.wrap(target)}
	for _, cur := range ancestorsOrSelf(target) {
		ev.Current = p.wrap(cur)
		for _, l := range p.listeners {
			if l.typ != typ || !l.sel.Match(cur) {
				continue
			}
			p.guardLocked("listener", func() { l.fn(ev) })
			if ev.stopped {
				return ev
			}
		}
	}
	return ev
}

func (p *Page) dispatchLocked(n *html.Node, ev page.Event) {
	switch ev.Type {
	case page.EventFocus:
		p.focusLocked(n)
	case page.EventBlur:
		p.blurLocked()
	case page.EventMouseDown:
		if e := p.fireLocked(n, page.EventMouseDown, ""); !e.prevented {
			p.focusLocked(focusTarget(n))
		}
	case page.EventKeyDown:
		p.keyDownLocked(n, ev.Key)
	case page.EventKeyPress:
		p.keyPressLocked(n, ev.Key)
	case page.EventClick:
		p.clickLocked(n)
	case page.EventChange:
		if n.Data == "select" && ev.Values != nil {
			setSelected(n, ev.Values)
			p.fireLocked(n, page.EventInput, "")
		}
		p.fireLocked(n, page.EventChange, "")
	default:
		p.fireLocked(n, ev.Type, ev.Key)
	}
}

func focusable(n *html.Node) bool {
	switch n.Data {
	case "input", "textarea", "select", "button", "a":
		return true
	}
	return hasAttr(n, "tabindex") || hasAttr(n, "contenteditable")
}

func focusTarget(n *html.Node) *html.Node {
	for _, a := range ancestorsOrSelf(n) {
		if focusable(a) {
			return a
		}
	}
	return nil
}

func (p *Page) focusLocked(n *html.Node) {
	if n == p.focused {
		return
	}
	p.blurLocked()
	if n == nil || !enabled(n) {
		return
	}
	p.focused = n
	p.focusVal = p.valueOf(n)
	p.fireLocked(n, page.EventFocus, "")
}

// blurLocked fires change on a text control whose value changed while focused.
func (p *Page) blurLocked() {
	prev := p.focused
	if prev == nil {
		return
	}
	p.focused = nil
	if (prev.Data == "input" || prev.Data == "textarea") && p.valueOf(prev) != p.focusVal {
		p.fireLocked(prev, page.EventChange, "")
	}
	p.fireLocked(prev, page.EventBlur, "")
}

func (p *Page) editable(n *html.Node) bool {
	if hasAttr(n, "readonly") || !enabled(n) {
		return false
	}
	switch n.Data {
	case "textarea":
		return true
	case "input":
		switch inputType(n) {
		case "checkbox", "radio", "submit", "button", "reset", "file", "image", "hidden":
			return false
		}
		return true
	}
	return false
}

func (p *Page) keyDownLocked(n *html.Node, key string) {
	e := p.fireLocked(n, page.EventKeyDown, key)
	// a cancelled keydown suppresses the keypress and its text insertion
	p.keyHeld = e.prevented
	if e.prevented {
		return
	}
	switch key {
	case page.KeySelectAll:
		if p.editable(n) {
			p.selectAll[n] = true
		}
	case page.KeyBackspace:
		if !p.editable(n) {
			return
		}
		cur := p.valueOf(n)
		switch {
		case p.selectAll[n]:
			cur = ""
			delete(p.selectAll, n)
		case cur != "":
			_, size := utf8.DecodeLastRuneInString(cur)
			cur = cur[:len(cur)-size]
		default:
			return
		}
		p.setValue(n, cur)
		p.fireLocked(n, page.EventInput, key)
	case page.KeyEnter:
		if n.Data == "input" {
			if form := closest(n, "form"); form != nil {
				p.fireLocked(form, page.EventSubmit, "")
			}
		}
	}
}

func (p *Page) keyPressLocked(n *html.Node, key string) {
	if p.keyHeld {
		p.keyHeld = false
		return
	}
	if utf8.RuneCountInString(key) != 1 {
		return
	}
	if e := p.fireLocked(n, page.EventKeyPress, key); e.prevented || !p.editable(n) {
		return
	}
	cur := p.valueOf(n)
	if p.selectAll[n] {
		cur = ""
		delete(p.selectAll, n)
	}
	if limit, ok := maxLength(n); ok && utf8.RuneCountInString(cur) >= limit {
		return
	}
	p.setValue(n, cur+key)
	p.fireLocked(n, page.EventInput, key)
}

func maxLength(n *html.Node) (int, bool) {
	v, ok := attr(n, "maxlength")
	if !ok {
		return 0, false
	}
	var limit int
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, false
		}
		limit = limit*10 + int(r-'0')
	}
	return limit, true
}

func (p *Page) clickLocked(n *html.Node) {
	if !enabled(n) && (n.Data == "input" || n.Data == "button" || n.Data == "select" || n.Data == "textarea" || n.Data == "option") {
		return
	}
	switch {
	case inputType(n) == "checkbox":
		was := checked(n)
		setChecked(n, !was)
		if e := p.fireLocked(n, page.EventClick, ""); e.prevented {
			setChecked(n, was)
			return
		}
		p.fireLocked(n, page.EventInput, "")
		p.fireLocked(n, page.EventChange, "")
	case inputType(n) == "radio":
		if checked(n) {
			p.fireLocked(n, page.EventClick, "")
			return
		}
		group := radioGroup(p.doc, n)
		prev := make(map[*html.Node]bool, len(group))
		for _, r := range group {
			prev[r] = checked(r)
			setChecked(r, r == n)
		}
		if e := p.fireLocked(n, page.EventClick, ""); e.prevented {
			for r, was := range prev {
				setChecked(r, was)
			}
			return
		}
		p.fireLocked(n, page.EventInput, "")
		p.fireLocked(n, page.EventChange, "")
	case n.Data == "label":
		if e := p.fireLocked(n, page.EventClick, ""); e.prevented {
			return
		}
		if ctl := p.labelControl(n); ctl != nil {
			p.clickLocked(ctl)
		}
	case n.Data == "option":
		p.fireLocked(n, page.EventClick, "")
		if sel := closest(n, "select"); sel != nil {
			vals := []string{optionValue(n)}
			if hasAttr(sel, "multiple") {
				vals = append(selectedValues(sel), vals...)
			}
			setSelected(sel, vals)
			p.fireLocked(sel, page.EventInput, "")
			p.fireLocked(sel, page.EventChange, "")
		}
	case isSubmit(n):
		if e := p.fireLocked(n, page.EventClick, ""); e.prevented {
			return
		}
		if form := closest(n, "form"); form != nil {
			p.fireLocked(form, page.EventSubmit, "")
		}
	default:
		p.fireLocked(n, page.EventClick, "")
	}
}

func isSubmit(n *html.Node) bool {
	switch n.Data {
	case "button":
		t, ok := attr(n, "type")
		return !ok || t == "submit"
	case "input":
		return inputType(n) == "submit"
	}
	return false
}

func (p *Page) labelControl(label *html.Node) *html.Node {
	if id, ok := attr(label, "for"); ok && id != "" {
		return findFirst(p.doc, func(n *html.Node) bool {
			v, _ := attr(n, "id")
			return v == id
		})
	}
	return findFirst(label, func(n *html.Node) bool {
		return n != label && (n.Data == "input" || n.Data == "select" || n.Data == "textarea")
	})
}
