package codec

import (
	"errors"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/pbaille/mae/internal/apperr"
)

// textElementXPath selects the primary text element whatever its case.
const textElementXPath = "/*/*[lower-case(local-name())='text']"

// Preamble is the task name and primary text of an annotation file.
type Preamble struct {
	Path        string
	TaskName    string
	PrimaryText string
}

// Fingerprint returns the digest of the primary text.
func (p *Preamble) Fingerprint() string {
	return Fingerprint(p.PrimaryText)
}

// ReadPreamble reads only as far as the end of the text element. No tag is
// materialized, which keeps compatibility checks on large files cheap.
func ReadPreamble(r io.Reader, path string) (*Preamble, error) {
	sp, err := xmlquery.CreateStreamParser(r, textElementXPath)
	if err != nil {
		return nil, &apperr.ParseError{Format: "XML", Path: path, Message: err.Error(), Err: err}
	}
	node, err := sp.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.NewParse("XML", path, "no text element found")
	}
	if err != nil {
		return nil, &apperr.ParseError{Format: "XML", Path: path, Message: err.Error(), Err: err}
	}

	root := node.Parent
	if root == nil || root.Type != xmlquery.ElementNode ||
		strings.EqualFold(root.Data, "text") || len(root.Attr) > 0 {
		return nil, apperr.NewParse("XML", path, "root node should be the task name")
	}
	return &Preamble{Path: path, TaskName: root.Data, PrimaryText: node.InnerText()}, nil
}

// Compatible reports whether two files annotate the same text for the same
// task.
func (p *Preamble) Compatible(other *Preamble) bool {
	return p.TaskName == other.TaskName && p.Fingerprint() == other.Fingerprint()
}
