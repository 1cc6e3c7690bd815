// Package projection converts structured metadata payloads into the
// generic JSON form stored inline with an entity.
package projection

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxSize bounds the payload size accepted for inline projection.
const MaxSize = 8 << 20

var (
	// ErrUnsupported indicates the payload is neither XML nor JSON
	ErrUnsupported = errors.New("unsupported content for inline projection")

	// ErrTooLarge indicates the payload exceeds MaxSize
	ErrTooLarge = errors.New("content too large for inline projection")
)

// Parse reads r and returns its structured projection. The mime type picks
// the parser; when it names neither XML nor JSON the first non-space byte
// decides.
func Parse(mimeType string, r io.Reader) (any, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}

	switch kind(mimeType, data) {
	case "json":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return v, nil
	case "xml":
		return parseXML(data)
	default:
		return nil, ErrUnsupported
	}
}

func kind(mimeType string, data []byte) string {
	mt := strings.ToLower(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	switch {
	case strings.HasSuffix(mt, "/json"), strings.HasSuffix(mt, "+json"):
		return "json"
	case strings.HasSuffix(mt, "/xml"), strings.HasSuffix(mt, "+xml"):
		return "xml"
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '<':
		return "xml"
	case '{', '[':
		return "json"
	}
	return ""
}

// element is an XML element under construction.
type element struct {
	name   string
	fields map[string]any
	text   strings.Builder
}

func newElement(start xml.StartElement) *element {
	el := &element{name: start.Name.Local, fields: map[string]any{}}
	for _, attr := range start.Attr {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		el.add("@"+attr.Name.Local, attr.Value)
	}
	return el
}

// add stores v under key, turning repeated keys into arrays.
func (el *element) add(key string, v any) {
	existing, ok := el.fields[key]
	if !ok {
		el.fields[key] = v
		return
	}
	if list, ok := existing.([]any); ok {
		el.fields[key] = append(list, v)
		return
	}
	el.fields[key] = []any{existing, v}
}

// value is the projection of a finished element: plain text when it has no
// attributes or children, otherwise a map with text under "#text".
func (el *element) value() any {
	text := strings.TrimSpace(el.text.String())
	if len(el.fields) == 0 {
		return text
	}
	if text != "" {
		el.fields["#text"] = text
	}
	return el.fields
}

func parseXML(data []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*element
	var root map[string]any

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, newElement(t))
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = map[string]any{el.name: el.value()}
				continue
			}
			stack[len(stack)-1].add(el.name, el.value())
		}
	}

	if root == nil {
		return nil, fmt.Errorf("parse xml: no root element")
	}
	return root, nil
}
