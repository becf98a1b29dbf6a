package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/logging"
	"github.com/pbaille/mae/internal/span"
)

// CreateExtentTag creates an extent tag with a fresh id. When text is empty
// it is taken from the primary text under spans.
func (s *Store) CreateExtentTag(tagType, text string, spans ...int) (*domain.ExtentTag, error) {
	tt, err := s.extentType("create extent tag", tagType)
	if err != nil {
		return nil, err
	}
	id, err := s.nextID(tt)
	if err != nil {
		return nil, err
	}
	tag, err := s.createExtentTag(id, tt, text, spans)
	if err != nil {
		s.ids.Remove(tt.Name, id)
		return nil, err
	}
	return tag, nil
}

// CreateExtentTagWithID creates an extent tag with a caller-chosen id
func (s *Store) CreateExtentTagWithID(id, tagType, text string, spans ...int) (*domain.ExtentTag, error) {
	const op = "create extent tag"
	tt, err := s.extentType(op, tagType)
	if err != nil {
		return nil, err
	}
	if err := s.claimID(op, tt, id); err != nil {
		return nil, err
	}
	tag, err := s.createExtentTag(id, tt, text, spans)
	if err != nil {
		s.ids.Remove(tt.Name, id)
		return nil, err
	}
	return tag, nil
}

func (s *Store) createExtentTag(id string, tt *domain.TagType, text string, spans []int) (*domain.ExtentTag, error) {
	const op = "create extent tag"
	spans = span.Normalize(spans)
	text, err := s.checkSpans(op, tt, text, spans)
	if err != nil {
		return nil, err
	}

	tag := &domain.ExtentTag{
		TagBase: domain.TagBase{ID: id, Type: tt, TypeName: tt.Name, Text: text, Attributes: defaultAttributes(tt)},
		Spans:   spans,
	}
	filename, err := s.AnnotationFileName()
	if err != nil {
		return nil, err
	}
	tag.Filename = filename

	err = s.withTx(op, func(tx *sql.Tx) error {
		if err := insertTag(tx, &tag.TagBase, false); err != nil {
			return err
		}
		if err := insertAnchors(tx, id, spans); err != nil {
			return err
		}
		return insertAttributes(tx, &tag.TagBase)
	})
	if err != nil {
		return nil, err
	}
	s.touch()
	logging.Debug("extent tag created", "id", id, "type", tt.Name, "spans", span.Format(spans))
	return tag, nil
}

// CreateLinkTag creates a link tag with a fresh id. args maps argument names
// to the ids of extent tags; every target must exist.
func (s *Store) CreateLinkTag(tagType string, args map[string]string) (*domain.LinkTag, error) {
	tt, err := s.linkType("create link tag", tagType)
	if err != nil {
		return nil, err
	}
	id, err := s.nextID(tt)
	if err != nil {
		return nil, err
	}
	tag, err := s.createLinkTag(id, tt, args)
	if err != nil {
		s.ids.Remove(tt.Name, id)
		return nil, err
	}
	return tag, nil
}

// CreateLinkTagWithID creates a link tag with a caller-chosen id
func (s *Store) CreateLinkTagWithID(id, tagType string, args map[string]string) (*domain.LinkTag, error) {
	const op = "create link tag"
	tt, err := s.linkType(op, tagType)
	if err != nil {
		return nil, err
	}
	if err := s.claimID(op, tt, id); err != nil {
		return nil, err
	}
	tag, err := s.createLinkTag(id, tt, args)
	if err != nil {
		s.ids.Remove(tt.Name, id)
		return nil, err
	}
	return tag, nil
}

func (s *Store) createLinkTag(id string, tt *domain.TagType, args map[string]string) (*domain.LinkTag, error) {
	const op = "create link tag"
	tag := &domain.LinkTag{
		TagBase: domain.TagBase{ID: id, Type: tt, TypeName: tt.Name, Attributes: defaultAttributes(tt)},
	}
	filename, err := s.AnnotationFileName()
	if err != nil {
		return nil, err
	}
	tag.Filename = filename

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if tt.ArgumentType(name) == nil {
			return nil, apperr.Integrity(op, apperr.NewNotFound("argument type", tt.Name+"."+name))
		}
	}

	err = s.withTx(op, func(tx *sql.Tx) error {
		if err := insertTag(tx, &tag.TagBase, true); err != nil {
			return err
		}
		for _, at := range tt.ArgumentTypes {
			target, ok := args[at.Name]
			if !ok || target == "" {
				continue
			}
			text, err := insertArgument(tx, tt, id, at.Name, target)
			if err != nil {
				return err
			}
			tag.Arguments = append(tag.Arguments, domain.Argument{Name: at.Name, TargetID: target, TargetText: text})
		}
		return insertAttributes(tx, &tag.TagBase)
	})
	if err != nil {
		return nil, err
	}
	s.touch()
	logging.Debug("link tag created", "id", id, "type", tt.Name, "arguments", len(tag.Arguments))
	return tag, nil
}

// AddAttribute sets an attribute that is not set yet
func (s *Store) AddAttribute(tid, name, value string) error {
	const op = "add attribute"
	tt, err := s.tagTypeOf(op, tid)
	if err != nil {
		return err
	}
	at, err := checkAttribute(op, tt, name, value)
	if err != nil {
		return err
	}
	err = s.withTx(op, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM attributes WHERE tid = ? AND name = ?", tid, name).Scan(&n); err != nil {
			return apperr.Storage(op, err)
		}
		if n > 0 {
			return apperr.NewDuplicate("attribute", tid+"."+name)
		}
		return insertAttribute(tx, tid, at, value)
	})
	if err != nil {
		return err
	}
	s.touch()
	return nil
}

// UpdateAttribute replaces an attribute value. An empty value leaves the
// attribute unset.
func (s *Store) UpdateAttribute(tid, name, value string) error {
	const op = "update attribute"
	tt, err := s.tagTypeOf(op, tid)
	if err != nil {
		return err
	}
	at, err := checkAttribute(op, tt, name, value)
	if err != nil {
		return err
	}
	err = s.withTx(op, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM attributes WHERE tid = ? AND name = ?", tid, name); err != nil {
			return apperr.Storage(op, err)
		}
		if value == "" {
			return nil
		}
		return insertAttribute(tx, tid, at, value)
	})
	if err != nil {
		return err
	}
	s.touch()
	logging.Debug("attribute updated", "id", tid, "name", name, "value", value)
	return nil
}

// DeleteAttribute unsets an attribute
func (s *Store) DeleteAttribute(tid, name string) error {
	return s.UpdateAttribute(tid, name, "")
}

// AddArgument fills an empty argument slot of a link tag
func (s *Store) AddArgument(linkID, name, targetID string) error {
	const op = "add argument"
	tt, err := s.tagTypeOf(op, linkID)
	if err != nil {
		return err
	}
	if !tt.Link {
		return apperr.Integrity(op, apperr.NewValidation("tag", linkID+" is not a link tag"))
	}
	err = s.withTx(op, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM arguments WHERE linker = ? AND name = ?", linkID, name).Scan(&n); err != nil {
			return apperr.Storage(op, err)
		}
		if n > 0 {
			return apperr.NewDuplicate("argument", linkID+"."+name)
		}
		_, err := insertArgument(tx, tt, linkID, name, targetID)
		return err
	})
	if err != nil {
		return err
	}
	s.touch()
	return nil
}

// UpdateArgument points an argument slot at another extent tag. An empty
// target leaves the slot empty.
func (s *Store) UpdateArgument(linkID, name, targetID string) error {
	const op = "update argument"
	tt, err := s.tagTypeOf(op, linkID)
	if err != nil {
		return err
	}
	if !tt.Link {
		return apperr.Integrity(op, apperr.NewValidation("tag", linkID+" is not a link tag"))
	}
	if tt.ArgumentType(name) == nil {
		return apperr.Integrity(op, apperr.NewNotFound("argument type", tt.Name+"."+name))
	}
	err = s.withTx(op, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM arguments WHERE linker = ? AND name = ?", linkID, name); err != nil {
			return apperr.Storage(op, err)
		}
		if targetID == "" {
			return nil
		}
		_, err := insertArgument(tx, tt, linkID, name, targetID)
		return err
	})
	if err != nil {
		return err
	}
	s.touch()
	logging.Debug("argument updated", "id", linkID, "name", name, "target", targetID)
	return nil
}

// UpdateTagSpans replaces the spans of an extent tag in one step and
// refreshes its text from the primary text.
func (s *Store) UpdateTagSpans(tid string, spans []int) error {
	const op = "update tag spans"
	tt, err := s.tagTypeOf(op, tid)
	if err != nil {
		return err
	}
	if tt.Link {
		return apperr.Integrity(op, apperr.NewValidation("tag", tid+" is a link tag"))
	}
	spans = span.Normalize(spans)
	text, err := s.checkSpans(op, tt, "", spans)
	if err != nil {
		return err
	}
	err = s.withTx(op, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM char_indices WHERE tid = ?", tid); err != nil {
			return apperr.Storage(op, err)
		}
		if err := insertAnchors(tx, tid, spans); err != nil {
			return err
		}
		if _, err := tx.Exec("UPDATE tags SET text = ? WHERE tid = ?", text, tid); err != nil {
			return apperr.Storage(op, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.touch()
	logging.Debug("tag spans updated", "id", tid, "spans", span.Format(spans))
	return nil
}

// UpdateTagText overrides the stored text of a tag
func (s *Store) UpdateTagText(tid, text string) error {
	const op = "update tag text"
	if _, err := s.tagTypeOf(op, tid); err != nil {
		return err
	}
	if _, err := s.db.Exec("UPDATE tags SET text = ? WHERE tid = ?", text, tid); err != nil {
		return apperr.Storage(op, err)
	}
	s.touch()
	return nil
}

// DeleteTag removes a tag with its anchors, attributes and arguments. Link
// arguments pointing at the tag are removed too. The id is not reissued
// until the annotations are emptied.
func (s *Store) DeleteTag(tid string) error {
	const op = "delete tag"
	if _, err := s.tagTypeOf(op, tid); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM tags WHERE tid = ?", tid); err != nil {
		return apperr.Storage(op, err)
	}
	s.touch()
	logging.Debug("tag deleted", "id", tid)
	return nil
}

// EmptyAnnotations removes every tag but keeps the schema and the primary
// text. Ids start over.
func (s *Store) EmptyAnnotations() error {
	const op = "empty annotations"
	err := s.withTx(op, func(tx *sql.Tx) error {
		return deleteAllTags(tx)
	})
	if err != nil {
		return err
	}
	s.ids.Reset()
	s.touch()
	logging.Debug("annotations emptied")
	return nil
}

func deleteAllTags(tx *sql.Tx) error {
	for _, table := range []string{"arguments", "attributes", "char_indices", "tags"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return apperr.Storage("delete "+table, err)
		}
	}
	return nil
}

func (s *Store) extentType(op, name string) (*domain.TagType, error) {
	tt, err := s.TagTypeByName(name)
	if err != nil {
		return nil, err
	}
	if tt.Link {
		return nil, apperr.Integrity(op, apperr.NewValidation("tag type", name+" is a link type"))
	}
	return tt, nil
}

func (s *Store) linkType(op, name string) (*domain.TagType, error) {
	tt, err := s.TagTypeByName(name)
	if err != nil {
		return nil, err
	}
	if !tt.Link {
		return nil, apperr.Integrity(op, apperr.NewValidation("tag type", name+" is not a link type"))
	}
	return tt, nil
}

// nextID returns a fresh id for tt that no tag of any type holds. Ids loaded
// from files are only registered under their own type.
func (s *Store) nextID(tt *domain.TagType) (string, error) {
	for {
		id := s.ids.Next(tt.Name, tt.Prefix)
		taken, err := s.IDExists(id)
		if err != nil {
			s.ids.Remove(tt.Name, id)
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
}

func (s *Store) claimID(op string, tt *domain.TagType, id string) error {
	if id == "" {
		return apperr.Integrity(op, apperr.NewValidation("id", "must not be empty"))
	}
	exists, err := s.IDExists(id)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Integrity(op, apperr.NewDuplicate("tag", id))
	}
	if err := s.ids.Add(tt.Name, id); err != nil {
		return apperr.Integrity(op, err)
	}
	return nil
}

// tagTypeOf returns the type of an existing tag
func (s *Store) tagTypeOf(op, tid string) (*domain.TagType, error) {
	var typeName string
	err := s.db.QueryRow("SELECT tag_type FROM tags WHERE tid = ?", tid).Scan(&typeName)
	if isNoRows(err) {
		return nil, apperr.Integrity(op, apperr.NewNotFound("tag", tid))
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return s.TagTypeByName(typeName)
}

// checkSpans validates spans for a tag of tt and returns the tag text:
// text itself when given, else the covered primary text.
func (s *Store) checkSpans(op string, tt *domain.TagType, text string, spans []int) (string, error) {
	if len(spans) == 0 {
		if !tt.NonConsuming {
			return "", apperr.Integrity(op, apperr.NewValidation("spans", tt.Name+" tags must cover at least one character"))
		}
		return text, nil
	}
	primary, err := s.PrimaryText()
	if err != nil {
		return "", err
	}
	if primary == "" {
		if spans[0] < 0 {
			return "", apperr.Integrity(op, fmt.Errorf("%w: negative offset %d", span.ErrMalformed, spans[0]))
		}
		return text, nil
	}
	covered, err := span.Text([]rune(primary), spans)
	if err != nil {
		return "", apperr.Integrity(op, err)
	}
	if text == "" {
		text = covered
	}
	return text, nil
}

func checkAttribute(op string, tt *domain.TagType, name, value string) (*domain.AttributeType, error) {
	at := tt.AttributeType(name)
	if at == nil {
		return nil, apperr.Integrity(op, apperr.NewNotFound("attribute type", tt.Name+"."+name))
	}
	if !at.Accepts(value) {
		return nil, apperr.Integrity(op, apperr.NewValidation(tt.Name+"."+name, value+" is not a legal value"))
	}
	return at, nil
}

func defaultAttributes(tt *domain.TagType) []domain.Attribute {
	var out []domain.Attribute
	for _, at := range tt.AttributeTypes {
		if at.Default != "" {
			out = append(out, domain.Attribute{Name: at.Name, Value: at.Default})
		}
	}
	return out
}

func insertTag(q querier, base *domain.TagBase, link bool) error {
	_, err := q.Exec(
		"INSERT INTO tags (tid, tag_type, is_link, text, filename) VALUES (?, ?, ?, ?, ?)",
		base.ID, base.TypeName, link, base.Text, base.Filename,
	)
	if err != nil {
		if exists(q, base.ID) {
			return apperr.NewDuplicate("tag", base.ID)
		}
		return apperr.Storage("insert tag", err)
	}
	return nil
}

func insertAnchors(q querier, tid string, spans []int) error {
	for _, loc := range spans {
		if _, err := q.Exec("INSERT INTO char_indices (location, tid) VALUES (?, ?)", loc, tid); err != nil {
			return apperr.Storage("insert anchor", err)
		}
	}
	return nil
}

func insertAttributes(q querier, base *domain.TagBase) error {
	for _, a := range base.Attributes {
		if _, err := q.Exec(
			"INSERT INTO attributes (tid, tag_type, name, value) VALUES (?, ?, ?, ?)",
			base.ID, base.TypeName, a.Name, a.Value,
		); err != nil {
			return apperr.Storage("insert attribute", err)
		}
	}
	return nil
}

func insertAttribute(q querier, tid string, at *domain.AttributeType, value string) error {
	if _, err := q.Exec(
		"INSERT INTO attributes (tid, tag_type, name, value) VALUES (?, ?, ?, ?)",
		tid, at.TagType, at.Name, value,
	); err != nil {
		return apperr.Storage("insert attribute", err)
	}
	return nil
}

// insertArgument checks that target is an existing extent tag, stores the
// argument and returns the target text.
func insertArgument(q querier, tt *domain.TagType, linkID, name, targetID string) (string, error) {
	if tt.ArgumentType(name) == nil {
		return "", apperr.NewNotFound("argument type", tt.Name+"."+name)
	}
	var isLink bool
	var text string
	err := q.QueryRow("SELECT is_link, text FROM tags WHERE tid = ?", targetID).Scan(&isLink, &text)
	if isNoRows(err) {
		return "", apperr.NewNotFound("tag", targetID)
	}
	if err != nil {
		return "", apperr.Storage("find argument target", err)
	}
	if isLink {
		return "", apperr.NewValidation("argument "+name, targetID+" is not an extent tag")
	}
	if _, err := q.Exec(
		"INSERT INTO arguments (linker, tag_type, name, target) VALUES (?, ?, ?, ?)",
		linkID, tt.Name, name, targetID,
	); err != nil {
		return "", apperr.Storage("insert argument", err)
	}
	return text, nil
}
