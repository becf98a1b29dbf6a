package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFound("tag", "P3")
	assert.Equal(t, "tag not found: P3", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))

	bare := &NotFoundError{Resource: "tag type"}
	assert.Equal(t, "tag type not found", bare.Error())
}

func TestValidationError(t *testing.T) {
	err := NewValidation("spans", "end before start")
	assert.Equal(t, "validation failed for spans: end before start", err.Error())
	assert.True(t, IsInvalid(err))

	err = &ValidationError{Message: "empty"}
	assert.Equal(t, "validation failed: empty", err.Error())
}

func TestStoreErrorWrapsInvariant(t *testing.T) {
	err := Integrity("create extent tag", NewDuplicate("tag id", "P0"))
	assert.Equal(t, "store: create extent tag: tag id already exists: P0", err.Error())
	assert.True(t, IsDuplicate(err))

	var dup *DuplicateError
	assert.True(t, errors.As(err, &dup))
	assert.Equal(t, "P0", dup.ID)
}

func TestStorageKeepsDriverError(t *testing.T) {
	driverErr := errors.New("disk I/O error")
	err := Storage("delete tag", driverErr)

	assert.True(t, errors.Is(err, ErrInternal))
	assert.True(t, errors.Is(err, driverErr))
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestParseError(t *testing.T) {
	err := NewParse("XML", "a_1.xml", "root node should be the task name")
	assert.Equal(t, "failed to parse XML at a_1.xml: root node should be the task name", err.Error())
	assert.True(t, IsInvalid(err))

	inner := errors.New("unexpected EOF")
	err = &ParseError{Format: "XML", Message: "syntax", Err: inner}
	assert.True(t, errors.Is(err, inner))
	assert.False(t, IsInvalid(err))
}

func TestIOError(t *testing.T) {
	inner := errors.New("permission denied")
	err := NewIO("open", "/tmp/x.xml", inner)
	assert.Equal(t, "failed to open /tmp/x.xml: permission denied", err.Error())
	assert.True(t, errors.Is(err, inner))
}
