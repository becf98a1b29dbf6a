// Package task reads annotation task definitions from YAML and installs
// them into a store.
package task

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
)

// Task is a parsed task file
type Task struct {
	Name string    `yaml:"name"`
	Tags []TagSpec `yaml:"tags"`
}

// TagSpec defines one tag type
type TagSpec struct {
	Name         string          `yaml:"name"`
	Prefix       string          `yaml:"prefix"`
	Link         bool            `yaml:"link"`
	NonConsuming bool            `yaml:"non_consuming"`
	Attributes   []AttributeSpec `yaml:"attributes"`
	Arguments    []ArgumentSpec  `yaml:"arguments"`
}

// AttributeSpec defines one attribute of a tag type
type AttributeSpec struct {
	Name     string   `yaml:"name"`
	Values   []string `yaml:"values"`
	Default  string   `yaml:"default"`
	Required bool     `yaml:"required"`
	IDRef    bool     `yaml:"id_ref"`
}

// ArgumentSpec defines one argument of a link tag type
type ArgumentSpec struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
}

// SchemaWriter is the part of the store that Apply needs
type SchemaWriter interface {
	SetTaskName(name string) error
	CreateTagType(name, prefix string, link bool) (*domain.TagType, error)
	CreateAttributeType(tagType, name string) (*domain.AttributeType, error)
	CreateArgumentType(tagType, name string) (*domain.ArgumentType, error)
	SetTagTypeNonConsuming(tagType string, nonConsuming bool) error
	SetAttributeTypeValueSet(tagType, name string, values []string) error
	SetAttributeTypeDefaultValue(tagType, name, value string) error
	SetAttributeTypeRequired(tagType, name string, required bool) error
	SetAttributeTypeIDRef(tagType, name string, idRef bool) error
	SetArgumentTypeRequired(tagType, name string, required bool) error
}

// Load reads and validates a task file
func Load(path string) (*Task, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NewNotFound("task file", path)
		}
		return nil, apperr.NewIO("open", path, err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		var pe *apperr.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return t, nil
}

// Parse reads and validates a task definition
func Parse(r io.Reader) (*Task, error) {
	var t Task
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, &apperr.ParseError{Format: "task", Message: err.Error(), Err: err}
	}
	if err := t.Validate(); err != nil {
		return nil, &apperr.ParseError{Format: "task", Message: err.Error(), Err: err}
	}
	return &t, nil
}

// Validate checks names and defaults. Prefixes default to the first letter
// of the tag name.
func (t *Task) Validate() error {
	if t.Name == "" {
		return apperr.NewValidation("name", "must not be empty")
	}
	tagNames := map[string]bool{}
	prefixes := map[string]string{}
	for i := range t.Tags {
		tag := &t.Tags[i]
		if tag.Name == "" {
			return apperr.NewValidation("tags", fmt.Sprintf("tag %d has no name", i))
		}
		if tagNames[tag.Name] {
			return apperr.NewValidation("tags", "duplicate tag "+tag.Name)
		}
		tagNames[tag.Name] = true
		if tag.Prefix == "" {
			tag.Prefix = string([]rune(tag.Name)[:1])
		}
		if other, ok := prefixes[tag.Prefix]; ok {
			return apperr.NewValidation("tags", fmt.Sprintf("%s and %s share prefix %s", other, tag.Name, tag.Prefix))
		}
		prefixes[tag.Prefix] = tag.Name
		if !tag.Link && len(tag.Arguments) > 0 {
			return apperr.NewValidation(tag.Name, "arguments are only allowed on link tags")
		}
		if tag.Link && tag.NonConsuming {
			return apperr.NewValidation(tag.Name, "link tags cannot be non-consuming")
		}

		slots := map[string]bool{}
		for _, a := range tag.Attributes {
			if a.Name == "" || slots[a.Name] {
				return apperr.NewValidation(tag.Name, fmt.Sprintf("bad or duplicate attribute name %q", a.Name))
			}
			slots[a.Name] = true
			if a.Default != "" && len(a.Values) > 0 && !contains(a.Values, a.Default) {
				return apperr.NewValidation(tag.Name+"."+a.Name, "default "+a.Default+" is not one of the values")
			}
		}
		for _, a := range tag.Arguments {
			if a.Name == "" || slots[a.Name] {
				return apperr.NewValidation(tag.Name, fmt.Sprintf("bad or duplicate argument name %q", a.Name))
			}
			slots[a.Name] = true
		}
	}
	return nil
}

// Apply creates the task's tag types in s
func (t *Task) Apply(s SchemaWriter) error {
	if err := s.SetTaskName(t.Name); err != nil {
		return fmt.Errorf("apply task: %w", err)
	}
	for _, tag := range t.Tags {
		if _, err := s.CreateTagType(tag.Name, tag.Prefix, tag.Link); err != nil {
			return fmt.Errorf("apply tag %s: %w", tag.Name, err)
		}
		if tag.NonConsuming {
			if err := s.SetTagTypeNonConsuming(tag.Name, true); err != nil {
				return fmt.Errorf("apply tag %s: %w", tag.Name, err)
			}
		}
		for _, a := range tag.Attributes {
			if err := applyAttribute(s, tag.Name, a); err != nil {
				return fmt.Errorf("apply attribute %s.%s: %w", tag.Name, a.Name, err)
			}
		}
		for _, a := range tag.Arguments {
			if _, err := s.CreateArgumentType(tag.Name, a.Name); err != nil {
				return fmt.Errorf("apply argument %s.%s: %w", tag.Name, a.Name, err)
			}
			if a.Required {
				if err := s.SetArgumentTypeRequired(tag.Name, a.Name, true); err != nil {
					return fmt.Errorf("apply argument %s.%s: %w", tag.Name, a.Name, err)
				}
			}
		}
	}
	return nil
}

func applyAttribute(s SchemaWriter, tagType string, a AttributeSpec) error {
	if _, err := s.CreateAttributeType(tagType, a.Name); err != nil {
		return err
	}
	if len(a.Values) > 0 {
		if err := s.SetAttributeTypeValueSet(tagType, a.Name, a.Values); err != nil {
			return err
		}
	}
	if a.Default != "" {
		if err := s.SetAttributeTypeDefaultValue(tagType, a.Name, a.Default); err != nil {
			return err
		}
	}
	if a.Required {
		if err := s.SetAttributeTypeRequired(tagType, a.Name, true); err != nil {
			return err
		}
	}
	if a.IDRef {
		return s.SetAttributeTypeIDRef(tagType, a.Name, true)
	}
	return nil
}

// Schema renders the task as a domain schema without a store
func (t *Task) Schema() *domain.Schema {
	sc := &domain.Schema{TaskName: t.Name}
	for _, tag := range t.Tags {
		tt := &domain.TagType{Name: tag.Name, Prefix: tag.Prefix, Link: tag.Link, NonConsuming: tag.NonConsuming}
		for _, a := range tag.Attributes {
			tt.AttributeTypes = append(tt.AttributeTypes, &domain.AttributeType{
				TagType: tag.Name, Name: a.Name, ValueSet: a.Values,
				Default: a.Default, Required: a.Required, IDRef: a.IDRef,
			})
		}
		for _, a := range tag.Arguments {
			tt.ArgumentTypes = append(tt.ArgumentTypes, &domain.ArgumentType{
				TagType: tag.Name, Name: a.Name, Required: a.Required,
			})
		}
		sc.TagTypes = append(sc.TagTypes, tt)
	}
	return sc
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
