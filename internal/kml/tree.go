package kml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// element is a minimal DOM node; names are namespace-local
type element struct {
	name     string
	id       string
	text     strings.Builder
	children []*element
}

// parseTree builds the element tree with a single token walk over the document
func parseTree(data []byte) (*element, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	// KML exports occasionally declare legacy encodings; treat them as UTF-8
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	root := &element{}
	stack := []*element{root}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("XML parse error: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local}
			for _, attr := range t.Attr {
				if attr.Name.Local == "id" {
					el.id = attr.Value
				}
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, el)
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}

	if len(root.children) == 0 {
		return nil, fmt.Errorf("XML parse error: empty document")
	}
	return root, nil
}

// value returns the trimmed direct text of the element
func (e *element) value() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.text.String())
}

// child returns the first direct child with the given name
func (e *element) child(name string) *element {
	if e == nil {
		return nil
	}
	for _, c := range e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// find returns the first descendant with the given name in document order
func (e *element) find(name string) *element {
	if e == nil {
		return nil
	}
	for _, c := range e.children {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant with the given name in document order
func (e *element) findAll(name string) []*element {
	var out []*element
	e.walk(func(el *element) bool {
		if el.name == name {
			out = append(out, el)
		}
		return true
	})
	return out
}

// topLevel returns elements with the given name that have no ancestor of the same name
func (e *element) topLevel(name string) []*element {
	var out []*element
	e.walk(func(el *element) bool {
		if el.name == name {
			out = append(out, el)
			return false
		}
		return true
	})
	return out
}

// walk visits descendants depth-first; returning false skips the node's subtree
func (e *element) walk(visit func(*element) bool) {
	for _, c := range e.children {
		if visit(c) {
			c.walk(visit)
		}
	}
}
