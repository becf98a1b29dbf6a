package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/logging"
)

// CreateTagType defines a new tag type. Prefixes must be unique so that
// generated ids never collide across types.
func (s *Store) CreateTagType(name, prefix string, link bool) (*domain.TagType, error) {
	const op = "create tag type"
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Integrity(op, apperr.NewValidation("name", "must not be empty"))
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, apperr.Integrity(op, apperr.NewValidation("prefix", "must not be empty"))
	}
	if err := s.checkPrefixFree(op, name, prefix); err != nil {
		return nil, err
	}
	if _, err := s.TagTypeByName(name); err == nil {
		return nil, apperr.Integrity(op, apperr.NewDuplicate("tag type", name))
	}

	_, err := s.db.Exec(
		"INSERT INTO tag_types (name, prefix, is_link) VALUES (?, ?, ?)",
		name, prefix, link,
	)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	s.schemaChanged()
	logging.Debug("tag type created", "name", name, "prefix", prefix, "link", link)
	return s.TagTypeByName(name)
}

// CreateAttributeType adds an attribute slot to a tag type
func (s *Store) CreateAttributeType(tagType, name string) (*domain.AttributeType, error) {
	const op = "create attribute type"
	tt, err := s.TagTypeByName(tagType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Integrity(op, apperr.NewValidation("name", "must not be empty"))
	}
	if tt.AttributeType(name) != nil {
		return nil, apperr.Integrity(op, apperr.NewDuplicate("attribute type", tagType+"."+name))
	}
	if tt.ArgumentType(name) != nil {
		return nil, apperr.Integrity(op, apperr.NewValidation("name", name+" is already an argument of "+tagType))
	}
	if _, err := s.db.Exec("INSERT INTO attribute_types (tag_type, name) VALUES (?, ?)", tagType, name); err != nil {
		return nil, apperr.Storage(op, err)
	}
	s.schemaChanged()
	return s.AttributeTypeByName(tagType, name)
}

// CreateArgumentType adds an argument slot to a link tag type
func (s *Store) CreateArgumentType(tagType, name string) (*domain.ArgumentType, error) {
	const op = "create argument type"
	tt, err := s.TagTypeByName(tagType)
	if err != nil {
		return nil, err
	}
	if !tt.Link {
		return nil, apperr.Integrity(op, apperr.NewValidation("tag type", tagType+" is not a link type"))
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Integrity(op, apperr.NewValidation("name", "must not be empty"))
	}
	if tt.ArgumentType(name) != nil {
		return nil, apperr.Integrity(op, apperr.NewDuplicate("argument type", tagType+"."+name))
	}
	if tt.AttributeType(name) != nil {
		return nil, apperr.Integrity(op, apperr.NewValidation("name", name+" is already an attribute of "+tagType))
	}
	if _, err := s.db.Exec("INSERT INTO argument_types (tag_type, name) VALUES (?, ?)", tagType, name); err != nil {
		return nil, apperr.Storage(op, err)
	}
	s.schemaChanged()
	return s.ArgumentTypeByName(tagType, name)
}

// SetTagTypePrefix changes the id prefix of a tag type
func (s *Store) SetTagTypePrefix(tagType, prefix string) error {
	const op = "set tag type prefix"
	if _, err := s.TagTypeByName(tagType); err != nil {
		return err
	}
	if strings.TrimSpace(prefix) == "" {
		return apperr.Integrity(op, apperr.NewValidation("prefix", "must not be empty"))
	}
	if err := s.checkPrefixFree(op, tagType, prefix); err != nil {
		return err
	}
	return s.execSchema(op, "UPDATE tag_types SET prefix = ? WHERE name = ?", prefix, tagType)
}

// SetTagTypeNonConsuming allows or forbids tags of the type without spans
func (s *Store) SetTagTypeNonConsuming(tagType string, nonConsuming bool) error {
	const op = "set tag type non-consuming"
	tt, err := s.TagTypeByName(tagType)
	if err != nil {
		return err
	}
	if tt.Link && nonConsuming {
		return apperr.Integrity(op, apperr.NewValidation("tag type", tagType+" is a link type"))
	}
	return s.execSchema(op, "UPDATE tag_types SET non_consuming = ? WHERE name = ?", nonConsuming, tagType)
}

// SetAttributeTypeValueSet replaces the legal values of an attribute. An
// empty set makes the attribute free text.
func (s *Store) SetAttributeTypeValueSet(tagType, name string, values []string) error {
	const op = "set attribute value set"
	at, err := s.AttributeTypeByName(tagType, name)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, v := range values {
		if seen[v] {
			return apperr.Integrity(op, apperr.NewDuplicate("attribute value", v))
		}
		seen[v] = true
	}
	if at.Default != "" && len(values) > 0 && !seen[at.Default] {
		return apperr.Integrity(op, apperr.NewValidation("values", "must contain the default value "+at.Default))
	}

	err = s.withTx(op, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM attribute_values WHERE tag_type = ? AND attribute = ?", tagType, name); err != nil {
			return apperr.Storage(op, err)
		}
		for _, v := range values {
			if _, err := tx.Exec(
				"INSERT INTO attribute_values (tag_type, attribute, value) VALUES (?, ?, ?)",
				tagType, name, v,
			); err != nil {
				return apperr.Storage(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.schemaChanged()
	return nil
}

// SetAttributeTypeDefaultValue sets the value given to new tags. It must be
// one of the legal values when the attribute has a value set.
func (s *Store) SetAttributeTypeDefaultValue(tagType, name, value string) error {
	const op = "set attribute default"
	at, err := s.AttributeTypeByName(tagType, name)
	if err != nil {
		return err
	}
	if !at.Accepts(value) {
		return apperr.Integrity(op, apperr.NewValidation("default", value+" is not in the value set of "+tagType+"."+name))
	}
	return s.execSchema(op, "UPDATE attribute_types SET default_value = ? WHERE tag_type = ? AND name = ?", value, tagType, name)
}

// SetAttributeTypeRequired marks an attribute as required
func (s *Store) SetAttributeTypeRequired(tagType, name string, required bool) error {
	if _, err := s.AttributeTypeByName(tagType, name); err != nil {
		return err
	}
	return s.execSchema("set attribute required",
		"UPDATE attribute_types SET required = ? WHERE tag_type = ? AND name = ?", required, tagType, name)
}

// SetAttributeTypeIDRef marks an attribute as holding tag ids
func (s *Store) SetAttributeTypeIDRef(tagType, name string, idRef bool) error {
	if _, err := s.AttributeTypeByName(tagType, name); err != nil {
		return err
	}
	return s.execSchema("set attribute id-ref",
		"UPDATE attribute_types SET id_ref = ? WHERE tag_type = ? AND name = ?", idRef, tagType, name)
}

// SetArgumentTypeRequired marks an argument as required
func (s *Store) SetArgumentTypeRequired(tagType, name string, required bool) error {
	if _, err := s.ArgumentTypeByName(tagType, name); err != nil {
		return err
	}
	return s.execSchema("set argument required",
		"UPDATE argument_types SET required = ? WHERE tag_type = ? AND name = ?", required, tagType, name)
}

// Schema returns the task name and every tag type with its attribute and
// argument types, in definition order. The result is shared; callers must
// not modify it.
func (s *Store) Schema() (*domain.Schema, error) {
	if s.schema != nil {
		return s.schema, nil
	}
	sc, err := loadSchema(s.db)
	if err != nil {
		return nil, err
	}
	s.schema = sc
	return sc, nil
}

// TagTypes returns all tag types
func (s *Store) TagTypes() ([]*domain.TagType, error) {
	sc, err := s.Schema()
	if err != nil {
		return nil, err
	}
	return sc.TagTypes, nil
}

// ExtentTagTypes returns the tag types bound to spans
func (s *Store) ExtentTagTypes() ([]*domain.TagType, error) {
	sc, err := s.Schema()
	if err != nil {
		return nil, err
	}
	return sc.ExtentTagTypes(), nil
}

// LinkTagTypes returns the tag types relating other tags
func (s *Store) LinkTagTypes() ([]*domain.TagType, error) {
	sc, err := s.Schema()
	if err != nil {
		return nil, err
	}
	return sc.LinkTagTypes(), nil
}

// NonConsumingTagTypes returns the extent types whose tags may have no span
func (s *Store) NonConsumingTagTypes() ([]*domain.TagType, error) {
	sc, err := s.Schema()
	if err != nil {
		return nil, err
	}
	var out []*domain.TagType
	for _, tt := range sc.TagTypes {
		if tt.NonConsuming {
			out = append(out, tt)
		}
	}
	return out, nil
}

// TagTypeByName looks up a tag type
func (s *Store) TagTypeByName(name string) (*domain.TagType, error) {
	sc, err := s.Schema()
	if err != nil {
		return nil, err
	}
	tt := sc.TagType(name)
	if tt == nil {
		return nil, apperr.Integrity("find tag type", apperr.NewNotFound("tag type", name))
	}
	return tt, nil
}

// AttributeTypeByName looks up an attribute type of a tag type
func (s *Store) AttributeTypeByName(tagType, name string) (*domain.AttributeType, error) {
	tt, err := s.TagTypeByName(tagType)
	if err != nil {
		return nil, err
	}
	at := tt.AttributeType(name)
	if at == nil {
		return nil, apperr.Integrity("find attribute type", apperr.NewNotFound("attribute type", tagType+"."+name))
	}
	return at, nil
}

// ArgumentTypeByName looks up an argument type of a link tag type
func (s *Store) ArgumentTypeByName(tagType, name string) (*domain.ArgumentType, error) {
	tt, err := s.TagTypeByName(tagType)
	if err != nil {
		return nil, err
	}
	at := tt.ArgumentType(name)
	if at == nil {
		return nil, apperr.Integrity("find argument type", apperr.NewNotFound("argument type", tagType+"."+name))
	}
	return at, nil
}

func (s *Store) checkPrefixFree(op, tagType, prefix string) error {
	sc, err := s.Schema()
	if err != nil {
		return err
	}
	for _, tt := range sc.TagTypes {
		if tt.Prefix == prefix && tt.Name != tagType {
			return apperr.Integrity(op, apperr.NewDuplicate("prefix", prefix))
		}
	}
	return nil
}

func (s *Store) execSchema(op, query string, args ...any) error {
	if _, err := s.db.Exec(query, args...); err != nil {
		return apperr.Storage(op, err)
	}
	s.schemaChanged()
	return nil
}

func (s *Store) schemaChanged() {
	s.schema = nil
	s.touch()
}

func loadSchema(q querier) (*domain.Schema, error) {
	taskName, err := getMeta(q, keyTaskName)
	if err != nil {
		return nil, err
	}
	sc := &domain.Schema{TaskName: taskName}
	byName := map[string]*domain.TagType{}

	rows, err := q.Query("SELECT name, prefix, is_link, non_consuming FROM tag_types ORDER BY rowid")
	if err != nil {
		return nil, apperr.Storage("load tag types", err)
	}
	for rows.Next() {
		tt := &domain.TagType{}
		if err := rows.Scan(&tt.Name, &tt.Prefix, &tt.Link, &tt.NonConsuming); err != nil {
			rows.Close()
			return nil, apperr.Storage("scan tag type", err)
		}
		sc.TagTypes = append(sc.TagTypes, tt)
		byName[tt.Name] = tt
	}
	rows.Close()

	attByKey := map[string]*domain.AttributeType{}
	rows, err = q.Query("SELECT tag_type, name, default_value, required, id_ref FROM attribute_types ORDER BY rowid")
	if err != nil {
		return nil, apperr.Storage("load attribute types", err)
	}
	for rows.Next() {
		at := &domain.AttributeType{}
		if err := rows.Scan(&at.TagType, &at.Name, &at.Default, &at.Required, &at.IDRef); err != nil {
			rows.Close()
			return nil, apperr.Storage("scan attribute type", err)
		}
		if tt := byName[at.TagType]; tt != nil {
			tt.AttributeTypes = append(tt.AttributeTypes, at)
			attByKey[at.TagType+"\x00"+at.Name] = at
		}
	}
	rows.Close()

	rows, err = q.Query("SELECT tag_type, attribute, value FROM attribute_values ORDER BY rowid")
	if err != nil {
		return nil, apperr.Storage("load attribute values", err)
	}
	for rows.Next() {
		var tagType, attribute, value string
		if err := rows.Scan(&tagType, &attribute, &value); err != nil {
			rows.Close()
			return nil, apperr.Storage("scan attribute value", err)
		}
		if at := attByKey[tagType+"\x00"+attribute]; at != nil {
			at.ValueSet = append(at.ValueSet, value)
		}
	}
	rows.Close()

	rows, err = q.Query("SELECT tag_type, name, required FROM argument_types ORDER BY rowid")
	if err != nil {
		return nil, apperr.Storage("load argument types", err)
	}
	defer rows.Close()
	for rows.Next() {
		at := &domain.ArgumentType{}
		if err := rows.Scan(&at.TagType, &at.Name, &at.Required); err != nil {
			return nil, apperr.Storage("scan argument type", err)
		}
		if tt := byName[at.TagType]; tt != nil {
			tt.ArgumentTypes = append(tt.ArgumentTypes, at)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("load argument types", err)
	}
	return sc, nil
}

// isNoRows reports a missing row from QueryRow
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
