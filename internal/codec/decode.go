package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/logging"
	"github.com/pbaille/mae/internal/span"
)

// Decoder reads annotation files against one schema. A Decoder keeps no
// state between calls to Decode.
type Decoder struct {
	types map[string]*domain.TagType
}

// NewDecoder prepares a decoder for the tag types of schema.
func NewDecoder(schema *domain.Schema) *Decoder {
	d := &Decoder{types: make(map[string]*domain.TagType)}
	if schema != nil {
		for _, tt := range schema.TagTypes {
			d.types[tt.Name] = tt
		}
	}
	return d
}

// Decode parses a whole annotation file. Unknown tag types, unknown
// attributes and values outside a value set become warnings on the returned
// Document. Broken XML, a root element with attributes, a missing text
// element and unusable spans are returned as *apperr.ParseError.
func Decode(r io.Reader, path string, schema *domain.Schema) (*Document, error) {
	return NewDecoder(schema).Decode(r, path)
}

// Decode parses one file; path only labels errors and the Document.
func (d *Decoder) Decode(r io.Reader, path string) (*Document, error) {
	doc := &Document{Path: path}
	dec := xml.NewDecoder(r)

	var (
		hasRoot bool
		hasText bool
		inText  bool
		text    strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &apperr.ParseError{Format: "XML", Path: path, Message: err.Error(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if !hasRoot {
				if strings.EqualFold(name, "text") || len(t.Attr) > 0 {
					return nil, apperr.NewParse("XML", path, "root node should be the task name")
				}
				logging.Debug("found root node", "task", name)
				doc.TaskName = name
				hasRoot = true
				continue
			}
			switch {
			case inText:
				// markup inside the primary text is not annotation
			case strings.EqualFold(name, "text"):
				inText = true
				hasText = true
			case strings.EqualFold(name, "tags"):
			default:
				if err := d.parseTag(doc, name, t.Attr); err != nil {
					return nil, &apperr.ParseError{Format: "XML", Path: path, Message: err.Error(), Err: err}
				}
			}
		case xml.EndElement:
			if inText && strings.EqualFold(t.Name.Local, "text") {
				inText = false
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}

	if !hasRoot {
		return nil, apperr.NewParse("XML", path, "document has no root element")
	}
	if !hasText {
		return nil, apperr.NewParse("XML", path, "no text element found")
	}
	doc.PrimaryText = text.String()

	// Tag text comes from the primary text, never from the text attribute.
	runes := []rune(doc.PrimaryText)
	for i := range doc.Tags {
		tag := &doc.Tags[i]
		if tag.Link || len(tag.Spans) == 0 {
			continue
		}
		s, err := span.Text(runes, tag.Spans)
		if err != nil {
			return nil, &apperr.ParseError{Format: "XML", Path: path, Message: fmt.Sprintf("%s: %v", tag.ID, err), Err: err}
		}
		tag.Text = s
	}
	if doc.HasWarnings() {
		logging.Warn("annotation file parsed with warnings", "path", path, "warnings", len(doc.Warnings))
	}
	return doc, nil
}

// parseTag only fails on spans that cannot be read; everything else it
// does not understand becomes a warning.
func (d *Decoder) parseTag(doc *Document, typeName string, attrs []xml.Attr) error {
	tt, ok := d.types[typeName]
	if !ok {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("unexpected tag type found: %q, ignored", typeName))
		return nil
	}
	tid := attrValue(attrs, "id")
	if tid == "" {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("%s tag without id, ignored", typeName))
		return nil
	}
	if tt.Link {
		logging.Debug("found link tag", "id", tid, "type", typeName)
		d.parseLinkTag(doc, tt, tid, attrs)
		return nil
	}
	logging.Debug("found extent tag", "id", tid, "type", typeName)
	return d.parseExtentTag(doc, tt, tid, attrs)
}

func (d *Decoder) parseExtentTag(doc *Document, tt *domain.TagType, tid string, attrs []xml.Attr) error {
	tag := ParsedTag{ID: tid, TagType: tt.Name}
	var start, end string
	var hasStart, hasEnd bool
	for _, a := range attrs {
		name, value := a.Name.Local, a.Value
		switch strings.ToLower(name) {
		case "id", "text":
		case "spans":
			offsets, err := span.Parse(value)
			if err != nil {
				return fmt.Errorf("%s: %w", tid, err)
			}
			tag.Spans = offsets
		case "start":
			start, hasStart = value, true
		case "end":
			end, hasEnd = value, true
		default:
			d.parseAttribute(doc, tt, tid, name, value)
		}
	}
	if hasStart && hasEnd && tag.Spans == nil {
		offsets, err := span.FromStartEnd(start, end)
		if err != nil {
			return fmt.Errorf("%s: %w", tid, err)
		}
		tag.Spans = offsets
	}
	doc.Tags = append(doc.Tags, tag)
	return nil
}

func (d *Decoder) parseLinkTag(doc *Document, tt *domain.TagType, tid string, attrs []xml.Attr) {
	doc.Tags = append(doc.Tags, ParsedTag{ID: tid, TagType: tt.Name, Link: true})
	for _, a := range attrs {
		name, value := a.Name.Local, a.Value
		if strings.EqualFold(name, "id") {
			continue
		}
		if argName, ok := strings.CutSuffix(name, ArgIDSuffix); ok && value != "" && tt.ArgumentType(argName) != nil {
			doc.Args = append(doc.Args, ParsedArg{TagID: tid, TagType: tt.Name, Name: argName, TargetID: value})
			continue
		}
		if strings.HasSuffix(name, ArgTextSuffix) || value == "" {
			continue
		}
		d.parseAttribute(doc, tt, tid, name, value)
	}
}

func (d *Decoder) parseAttribute(doc *Document, tt *domain.TagType, tid, name, value string) {
	at := tt.AttributeType(name)
	if at == nil {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("unexpected attribute type found: %q of %s, ignored", name, tid))
		return
	}
	// an empty value is an unset attribute
	if value == "" {
		return
	}
	if !at.Accepts(value) {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf(
			"%q is not a valid value for \"%s-%s\", valid values are %v, set to its default value %q",
			value, tt.Name, name, at.ValueSet, at.Default))
		value = at.Default
	}
	doc.Atts = append(doc.Atts, ParsedAtt{TagID: tid, TagType: tt.Name, Name: name, Value: value})
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}
