package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// element is a namespace-agnostic view of one XML element
type element struct {
	local    string
	attrs    []xml.Attr
	children []*element

	// namespace URIs declared on this element
	declared []string
}

// attr returns the value of the unprefixed attribute name, or ""
func (e *element) attr(name string) string {
	for _, a := range e.attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// childrenNamed returns the direct children with the given local name
func (e *element) childrenNamed(local string) []*element {
	var out []*element
	for _, c := range e.children {
		if c.local == local {
			out = append(out, c)
		}
	}
	return out
}

// descendants returns every element below e with the given local name, in
// document order
func (e *element) descendants(local string) []*element {
	var out []*element
	var walk func(*element)
	walk = func(n *element) {
		for _, c := range n.children {
			if c.local == local {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(e)
	return out
}

// parseTree reads a complete XML document. The returned node is a synthetic
// document node whose only child is the root element.
func parseTree(r io.Reader) (*element, error) {
	dec := xml.NewDecoder(r)
	// The caller hands us decoded text; the declared encoding is ignored.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	doc := &element{}
	stack := []*element{doc}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			parent := stack[len(stack)-1]
			if parent == doc && len(doc.children) > 0 {
				return nil, errors.New("document has more than one root element")
			}
			el := &element{local: t.Name.Local, attrs: t.Attr}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					el.declared = append(el.declared, a.Value)
				}
			}
			stack = append(stack, el)
			if err := checkPrefixes(stack, t); err != nil {
				return nil, err
			}
			parent.children = append(parent.children, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 1 && len(bytes.TrimSpace(t)) > 0 {
				return nil, errors.New("text is not allowed outside the root element")
			}
		}
	}

	if len(stack) > 1 {
		return nil, errors.New("unexpected end of document")
	}
	if len(doc.children) == 0 {
		return nil, errors.New("document has no root element")
	}
	return doc, nil
}

// checkPrefixes rejects element and attribute prefixes with no xmlns
// declaration in scope. The decoder leaves such a prefix untranslated in
// Name.Space.
func checkPrefixes(stack []*element, t xml.StartElement) error {
	inScope := func(space string) bool {
		if space == "" || space == xmlNamespace {
			return true
		}
		for _, el := range stack {
			if slices.Contains(el.declared, space) {
				return true
			}
		}
		return false
	}

	if !inScope(t.Name.Space) {
		return fmt.Errorf("element %s:%s uses an undeclared namespace prefix", t.Name.Space, t.Name.Local)
	}
	for _, a := range t.Attr {
		if a.Name.Space == "xmlns" {
			continue
		}
		if !inScope(a.Name.Space) {
			return fmt.Errorf("attribute %s:%s uses an undeclared namespace prefix", a.Name.Space, a.Name.Local)
		}
	}
	return nil
}
