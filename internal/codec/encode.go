package codec

import (
	"bufio"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/span"
)

// EncodeInput is everything written to an annotation file.
type EncodeInput struct {
	TaskName    string
	PrimaryText string
	Tags        []domain.Tag
}

// TagElement renders one tag as a self-closing element. Extent tags carry
// id, spans and text before their attributes; link tags carry id and one
// <arg>ID / <arg>Text pair per filled argument before their attributes.
func TagElement(t domain.Tag) string {
	base := t.Base()
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(base.TypeName)
	writeAttr(&b, "id", base.ID)

	switch tag := t.(type) {
	case *domain.ExtentTag:
		writeAttr(&b, "spans", span.Format(tag.Spans))
		writeAttr(&b, "text", base.Text)
	case *domain.LinkTag:
		for _, arg := range tag.Arguments {
			if arg.TargetID == "" {
				continue
			}
			writeAttr(&b, arg.Name+ArgIDSuffix, arg.TargetID)
			writeAttr(&b, arg.Name+ArgTextSuffix, arg.TargetText)
		}
	}

	for _, a := range base.Attributes {
		writeAttr(&b, a.Name, a.Value)
	}
	b.WriteString(" />")
	return b.String()
}

// Encode writes a complete annotation file that Decode reads back with the
// same tags, spans and attribute values.
func Encode(w io.Writer, in EncodeInput) error {
	if in.TaskName == "" {
		return apperr.NewValidation("task name", "must not be empty")
	}
	bw := bufio.NewWriter(w)
	bw.WriteString(`<?xml version="1.0" encoding="UTF-8" ?>` + "\n")
	bw.WriteString("<" + in.TaskName + ">\n")
	bw.WriteString("<TEXT><![CDATA[")
	bw.WriteString(strings.ReplaceAll(in.PrimaryText, "]]>", "]]]]><![CDATA[>"))
	bw.WriteString("]]></TEXT>\n")
	bw.WriteString("<TAGS>\n")
	for _, t := range in.Tags {
		bw.WriteString(TagElement(t))
		bw.WriteString("\n")
	}
	bw.WriteString("</TAGS>\n")
	bw.WriteString("</" + in.TaskName + ">\n")
	if err := bw.Flush(); err != nil {
		return apperr.NewIO("write", "annotation", err)
	}
	return nil
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(`="`)
	// EscapeText also escapes tabs and newlines, so values survive attribute
	// normalization on the way back in.
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString(`"`)
}
