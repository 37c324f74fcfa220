package soap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrNoRoot = errors.New("document has no root element")
)

// Parse reads an XML document and strips every element prefix
func Parse(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing xml: %w", err)
	}
	if doc.Root() == nil {
		return nil, ErrNoRoot
	}
	StripPrefixes(doc.Root())
	return doc, nil
}

// StripPrefixes clears the namespace prefix of e and all its descendants
func StripPrefixes(e *etree.Element) {
	e.Space = ""
	for _, child := range e.ChildElements() {
		StripPrefixes(child)
	}
}

// Text returns the trimmed text of the first element matching path, or
// the empty string.
func Text(e *etree.Element, path string) string {
	if e == nil {
		return ""
	}
	found := e.FindElement(path)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(found.Text())
}

// AttrValue returns an attribute of the first element matching path
func AttrValue(e *etree.Element, path, attr string) string {
	if e == nil {
		return ""
	}
	found := e.FindElement(path)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(found.SelectAttrValue(attr, ""))
}
