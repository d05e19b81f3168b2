package page

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the runtime's view of the host page markup. Every mutation the
// runtime performs (script gating, banner injection, modal state, focus
// bookkeeping) goes through this type so the markup itself stays the single
// source of truth.
type Document struct {
	root    *html.Node
	focused string
}

// Element wraps a single element node within a Document.
type Element struct {
	node *html.Node
	doc  *Document
}

// Parse builds a Document from full-page HTML.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString builds a Document from an in-memory markup snapshot.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// Render serializes the current document state back to HTML.
func (d *Document) Render() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return "", fmt.Errorf("page: render: %w", err)
	}
	return sb.String(), nil
}

// ElementByID returns the first element carrying the given id, or nil when
// the page does not provide it.
func (d *Document) ElementByID(id string) *Element {
	if d == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if attrValue(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	return &Element{node: found, doc: d}
}

// Scripts returns every script element in document order, including ones
// injected after the initial parse.
func (d *Document) Scripts() []*Element {
	var scripts []*Element
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			scripts = append(scripts, &Element{node: n, doc: d})
		}
		return true
	})
	return scripts
}

// Body returns the document body element.
func (d *Document) Body() *Element {
	var body *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return nil
	}
	return &Element{node: body, doc: d}
}

// Focus records which element currently holds keyboard focus. An unknown id
// clears focus, matching how a removed element drops focus to the document.
func (d *Document) Focus(id string) {
	if id != "" && d.ElementByID(id) == nil {
		d.focused = ""
		return
	}
	d.focused = id
}

// FocusedID reports the element id holding focus, if any.
func (d *Document) FocusedID() string { return d.focused }

// Tag reports the element's tag name.
func (e *Element) Tag() string {
	if e == nil {
		return ""
	}
	return e.node.Data
}

// ID reports the element's id attribute.
func (e *Element) ID() string {
	if e == nil {
		return ""
	}
	return attrValue(e.node, "id")
}

// Attr returns the named attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute.
func (e *Element) SetAttr(name, value string) {
	if e == nil {
		return
	}
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr drops the named attribute when present.
func (e *Element) RemoveAttr(name string) {
	if e == nil {
		return
	}
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr = append(e.node.Attr[:i], e.node.Attr[i+1:]...)
			return
		}
	}
}

// SetHidden toggles the element's hidden attribute.
func (e *Element) SetHidden(hidden bool) {
	if hidden {
		e.SetAttr("hidden", "")
		return
	}
	e.RemoveAttr("hidden")
}

// Hidden reports whether the element carries the hidden attribute.
func (e *Element) Hidden() bool {
	if e == nil {
		return false
	}
	_, ok := e.Attr("hidden")
	return ok
}

// SetText replaces the element's children with a single text node.
func (e *Element) SetText(text string) {
	if e == nil {
		return
	}
	e.clearChildren()
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// Text returns the concatenated text content of the element.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	walk(e.node, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		return true
	})
	return sb.String()
}

// SetHTML replaces the element's children with a parsed markup fragment.
func (e *Element) SetHTML(fragment string) error {
	if e == nil {
		return fmt.Errorf("page: set html on missing element")
	}
	nodes, err := parseFragment(fragment)
	if err != nil {
		return err
	}
	e.clearChildren()
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}

// AppendHTML parses a markup fragment and appends it to the element's
// children, leaving existing content in place.
func (e *Element) AppendHTML(fragment string) error {
	if e == nil {
		return fmt.Errorf("page: append html on missing element")
	}
	nodes, err := parseFragment(fragment)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}

// Remove detaches the element from its parent. Focus held by the element is
// released back to the document.
func (e *Element) Remove() {
	if e == nil || e.node.Parent == nil {
		return
	}
	if e.doc != nil && e.doc.focused != "" && e.doc.focused == e.ID() {
		e.doc.focused = ""
	}
	e.node.Parent.RemoveChild(e.node)
}

func (e *Element) clearChildren() {
	for e.node.FirstChild != nil {
		e.node.RemoveChild(e.node.FirstChild)
	}
}

func parseFragment(fragment string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, fmt.Errorf("page: parse fragment: %w", err)
	}
	return nodes, nil
}

func attrValue(n *html.Node, name string) string {
	if n.Type != html.ElementNode {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// walk traverses the tree depth-first, stopping early when fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}
