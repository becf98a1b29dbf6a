package domain

// TagType is one tag definition of an annotation task
type TagType struct {
	Name           string           `json:"name"`
	Prefix         string           `json:"prefix"`
	Link           bool             `json:"link"`
	NonConsuming   bool             `json:"non_consuming,omitempty"`
	AttributeTypes []*AttributeType `json:"attributes,omitempty"`
	ArgumentTypes  []*ArgumentType  `json:"arguments,omitempty"`
}

// Extent reports whether tags of this type are bound to character spans
func (t *TagType) Extent() bool {
	return !t.Link
}

// AttributeType returns the attribute definition with the given name, or nil
func (t *TagType) AttributeType(name string) *AttributeType {
	for _, at := range t.AttributeTypes {
		if at.Name == name {
			return at
		}
	}
	return nil
}

// ArgumentType returns the argument definition with the given name, or nil
func (t *TagType) ArgumentType(name string) *ArgumentType {
	for _, at := range t.ArgumentTypes {
		if at.Name == name {
			return at
		}
	}
	return nil
}

// AttributeType defines an attribute slot of a tag type
type AttributeType struct {
	TagType  string   `json:"tag_type"`
	Name     string   `json:"name"`
	ValueSet []string `json:"values,omitempty"`
	Default  string   `json:"default,omitempty"`
	Required bool     `json:"required,omitempty"`
	IDRef    bool     `json:"id_ref,omitempty"`
}

// Finite reports whether the attribute only accepts values from its value set
func (a *AttributeType) Finite() bool {
	return len(a.ValueSet) > 0
}

// Accepts reports whether value is legal for the attribute
func (a *AttributeType) Accepts(value string) bool {
	if !a.Finite() || value == "" {
		return true
	}
	for _, v := range a.ValueSet {
		if v == value {
			return true
		}
	}
	return false
}

// ArgumentType defines an argument slot of a link tag type
type ArgumentType struct {
	TagType  string `json:"tag_type"`
	Name     string `json:"name"`
	Required bool   `json:"required,omitempty"`
}

// Schema is a read-only view over the tag types of a task
type Schema struct {
	TaskName string     `json:"task_name"`
	TagTypes []*TagType `json:"tag_types"`
}

// TagType looks up a tag type by name
func (s *Schema) TagType(name string) *TagType {
	for _, tt := range s.TagTypes {
		if tt.Name == name {
			return tt
		}
	}
	return nil
}

// ExtentTagTypes returns the extent tag types in definition order
func (s *Schema) ExtentTagTypes() []*TagType {
	var out []*TagType
	for _, tt := range s.TagTypes {
		if tt.Extent() {
			out = append(out, tt)
		}
	}
	return out
}

// LinkTagTypes returns the link tag types in definition order
func (s *Schema) LinkTagTypes() []*TagType {
	var out []*TagType
	for _, tt := range s.TagTypes {
		if tt.Link {
			out = append(out, tt)
		}
	}
	return out
}

// Attribute is a value attached to a tag
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Argument fills one argument slot of a link tag
type Argument struct {
	Name       string `json:"name"`
	TargetID   string `json:"target_id"`
	TargetText string `json:"target_text,omitempty"`
}

// CharIndex anchors an extent tag at one character offset
type CharIndex struct {
	Location int    `json:"location"`
	TagID    string `json:"tag_id"`
}
