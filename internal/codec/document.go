// Package codec reads annotation files into parsed records and writes the
// store's tags back as XML.
package codec

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// Attribute name suffixes carrying link arguments.
const (
	ArgIDSuffix   = "ID"
	ArgTextSuffix = "Text"
)

// ParsedTag is one tag element read from a file.
type ParsedTag struct {
	ID      string
	TagType string
	Link    bool
	Spans   []int
	Text    string
}

// ParsedAtt is one attribute of a parsed tag.
type ParsedAtt struct {
	TagID   string
	TagType string
	Name    string
	Value   string
}

// ParsedArg is one filled argument slot of a parsed link tag.
type ParsedArg struct {
	TagID    string
	TagType  string
	Name     string
	TargetID string
}

// Document is the result of decoding one annotation file. Warnings are
// non-fatal findings; the records are usable whether or not there are any.
type Document struct {
	Path        string
	TaskName    string
	PrimaryText string
	Tags        []ParsedTag
	Atts        []ParsedAtt
	Args        []ParsedArg
	Warnings    []string
}

// HasWarnings reports whether decoding produced any warning.
func (d *Document) HasWarnings() bool {
	return len(d.Warnings) > 0
}

// WarningReport joins all warnings into one human-readable string.
func (d *Document) WarningReport() string {
	return strings.Join(d.Warnings, "\n")
}

// Length returns the primary text length in characters.
func (d *Document) Length() int {
	return utf8.RuneCountInString(d.PrimaryText)
}

// Fingerprint returns the digest of the primary text.
func (d *Document) Fingerprint() string {
	return Fingerprint(d.PrimaryText)
}

// TagsOfType returns the parsed tags of one type in file order.
func (d *Document) TagsOfType(tagType string) []ParsedTag {
	var out []ParsedTag
	for _, t := range d.Tags {
		if t.TagType == tagType {
			out = append(out, t)
		}
	}
	return out
}

// AttributesOf returns the attributes of the tag with the given id.
func (d *Document) AttributesOf(tid string) map[string]string {
	out := map[string]string{}
	for _, a := range d.Atts {
		if a.TagID == tid {
			out[a.Name] = a.Value
		}
	}
	return out
}

// ArgumentsOf returns argument name to target id for the link with the
// given id.
func (d *Document) ArgumentsOf(tid string) map[string]string {
	out := map[string]string{}
	for _, a := range d.Args {
		if a.TagID == tid {
			out[a.Name] = a.TargetID
		}
	}
	return out
}

// Fingerprint returns a hex blake3 digest of text, used to compare primary
// texts across files without holding them side by side.
func Fingerprint(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
