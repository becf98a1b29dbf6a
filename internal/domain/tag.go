package domain

import "sort"

// Tag is either an *ExtentTag or a *LinkTag. The set is closed: code that
// needs kind-specific behavior switches over both variants.
type Tag interface {
	Base() *TagBase
	isTag()
}

// TagBase holds the fields shared by both tag kinds
type TagBase struct {
	ID         string      `json:"id"`
	Type       *TagType    `json:"-"`
	TypeName   string      `json:"type"`
	Filename   string      `json:"filename,omitempty"`
	Text       string      `json:"text,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attribute returns the value of the named attribute and whether it is set
func (b *TagBase) Attribute(name string) (string, bool) {
	for _, a := range b.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttributeMap returns the attributes keyed by name
func (b *TagBase) AttributeMap() map[string]string {
	m := make(map[string]string, len(b.Attributes))
	for _, a := range b.Attributes {
		m[a.Name] = a.Value
	}
	return m
}

// ExtentTag is bound to character offsets of the primary text
type ExtentTag struct {
	TagBase
	Spans []int `json:"spans"`
}

func (t *ExtentTag) Base() *TagBase { return &t.TagBase }
func (*ExtentTag) isTag()           {}

// Consuming reports whether the tag covers at least one character
func (t *ExtentTag) Consuming() bool {
	return len(t.Spans) > 0
}

// LinkTag relates extent tags through named argument slots
type LinkTag struct {
	TagBase
	Arguments []Argument `json:"arguments,omitempty"`
}

func (t *LinkTag) Base() *TagBase { return &t.TagBase }
func (*LinkTag) isTag()           {}

// Argument returns the argument filling the named slot, if any
func (t *LinkTag) Argument(name string) (Argument, bool) {
	for _, a := range t.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return Argument{}, false
}

// Underspec lists the required attributes and arguments that are not set on
// the tag, sorted by name.
func Underspec(t Tag) []string {
	base := t.Base()
	missing := map[string]bool{}
	if base.Type != nil {
		for _, at := range base.Type.AttributeTypes {
			if !at.Required {
				continue
			}
			if v, ok := base.Attribute(at.Name); !ok || v == "" {
				missing[at.Name] = true
			}
		}
	}
	switch tag := t.(type) {
	case *ExtentTag:
		// extent tags have no argument slots
	case *LinkTag:
		if base.Type != nil {
			for _, at := range base.Type.ArgumentTypes {
				if !at.Required {
					continue
				}
				if arg, ok := tag.Argument(at.Name); !ok || arg.TargetID == "" {
					missing[at.Name] = true
				}
			}
		}
	}
	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
