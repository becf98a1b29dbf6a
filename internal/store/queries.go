package store

import (
	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
)

const tagColumns = "t.tid, t.tag_type, t.is_link, t.text, t.filename"

type tagRow struct {
	tid      string
	tagType  string
	link     bool
	text     string
	filename string
}

// TagByID returns the extent or link tag with the given id
func (s *Store) TagByID(tid string) (domain.Tag, error) {
	const op = "get tag"
	rows, err := scanTagRows(s.db, op, "SELECT "+tagColumns+" FROM tags t WHERE t.tid = ?", tid)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.Integrity(op, apperr.NewNotFound("tag", tid))
	}
	tags, err := s.hydrate(op, rows)
	if err != nil {
		return nil, err
	}
	return tags[0], nil
}

// IDExists reports whether a tag with the id exists
func (s *Store) IDExists(tid string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tags WHERE tid = ?", tid).Scan(&n); err != nil {
		return false, apperr.Storage("check id", err)
	}
	return n > 0, nil
}

// TagsAt returns the extent tags anchored at location
func (s *Store) TagsAt(location int) ([]*domain.ExtentTag, error) {
	return s.extentTags("tags at",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tid IN (SELECT tid FROM char_indices WHERE location = ?) ORDER BY t.rowid",
		location)
}

// TagsOfTypeAt returns the extent tags of one type anchored at location
func (s *Store) TagsOfTypeAt(tagType string, location int) ([]*domain.ExtentTag, error) {
	return s.extentTags("tags of type at",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tag_type = ? AND t.tid IN (SELECT tid FROM char_indices WHERE location = ?) ORDER BY t.rowid",
		tagType, location)
}

// TagsIn returns the extent tags with at least one anchor in [begin, end)
func (s *Store) TagsIn(begin, end int) ([]*domain.ExtentTag, error) {
	return s.extentTags("tags in",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tid IN (SELECT tid FROM char_indices WHERE location >= ? AND location < ?) ORDER BY t.rowid",
		begin, end)
}

// TagsOfTypeIn returns the extent tags of one type with at least one anchor
// in [begin, end)
func (s *Store) TagsOfTypeIn(tagType string, begin, end int) ([]*domain.ExtentTag, error) {
	return s.extentTags("tags of type in",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tag_type = ? AND t.tid IN (SELECT tid FROM char_indices WHERE location >= ? AND location < ?) ORDER BY t.rowid",
		tagType, begin, end)
}

// TagsBetween returns the extent tags whose anchors all lie in [begin, end)
func (s *Store) TagsBetween(begin, end int) ([]*domain.ExtentTag, error) {
	return s.extentTags("tags between",
		"SELECT "+tagColumns+" FROM tags t WHERE "+betweenClause+" ORDER BY t.rowid",
		begin, end, begin, end)
}

// TagsOfTypeBetween returns the extent tags of one type whose anchors all
// lie in [begin, end)
func (s *Store) TagsOfTypeBetween(tagType string, begin, end int) ([]*domain.ExtentTag, error) {
	return s.extentTags("tags of type between",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tag_type = ? AND "+betweenClause+" ORDER BY t.rowid",
		tagType, begin, end, begin, end)
}

const betweenClause = `t.tid IN (SELECT tid FROM char_indices WHERE location >= ? AND location < ?)
	AND NOT EXISTS (SELECT 1 FROM char_indices c WHERE c.tid = t.tid AND (c.location < ? OR c.location >= ?))`

// TagsByTypesAt groups TagsAt by tag type name
func (s *Store) TagsByTypesAt(location int) (map[string][]*domain.ExtentTag, error) {
	tags, err := s.TagsAt(location)
	return groupByType(tags), err
}

// TagsByTypesIn groups TagsIn by tag type name
func (s *Store) TagsByTypesIn(begin, end int) (map[string][]*domain.ExtentTag, error) {
	tags, err := s.TagsIn(begin, end)
	return groupByType(tags), err
}

// TagsByTypesBetween groups TagsBetween by tag type name
func (s *Store) TagsByTypesBetween(begin, end int) (map[string][]*domain.ExtentTag, error) {
	tags, err := s.TagsBetween(begin, end)
	return groupByType(tags), err
}

// AllAnchors returns every anchored location in ascending order
func (s *Store) AllAnchors() ([]int, error) {
	return scanInts(s.db, "all anchors", "SELECT DISTINCT location FROM char_indices ORDER BY location")
}

// AllAnchorsOfTagType returns the anchored locations of the tags of one
// type. For a link type these are the anchors of its argument targets.
func (s *Store) AllAnchorsOfTagType(tagType string) ([]int, error) {
	const op = "anchors of tag type"
	tt, err := s.TagTypeByName(tagType)
	if err != nil {
		return nil, err
	}
	if tt.Link {
		return scanInts(s.db, op, `SELECT DISTINCT c.location FROM char_indices c
			JOIN arguments a ON a.target = c.tid
			WHERE a.tag_type = ? ORDER BY c.location`, tagType)
	}
	return scanInts(s.db, op, `SELECT DISTINCT c.location FROM char_indices c
		JOIN tags t ON t.tid = c.tid
		WHERE t.tag_type = ? ORDER BY c.location`, tagType)
}

// AnchorLocationsByID returns the anchors of an extent tag, or of the
// argument targets of a link tag
func (s *Store) AnchorLocationsByID(tid string) ([]int, error) {
	const op = "anchors of tag"
	tt, err := s.tagTypeOf(op, tid)
	if err != nil {
		return nil, err
	}
	if tt.Link {
		return scanInts(s.db, op, `SELECT DISTINCT c.location FROM char_indices c
			JOIN arguments a ON a.target = c.tid
			WHERE a.linker = ? ORDER BY c.location`, tid)
	}
	return scanInts(s.db, op, "SELECT location FROM char_indices WHERE tid = ? ORDER BY location", tid)
}

// LinksHavingArgument returns the link tags with an argument pointing at the
// extent tag
func (s *Store) LinksHavingArgument(extentID string) ([]*domain.LinkTag, error) {
	return s.linkTags("links having argument",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tid IN (SELECT linker FROM arguments WHERE target = ?) ORDER BY t.rowid",
		extentID)
}

// AllNCTagsOfType returns the tags of an extent type that have no span
func (s *Store) AllNCTagsOfType(tagType string) ([]*domain.ExtentTag, error) {
	return s.extentTags("non-consuming tags of type",
		"SELECT "+tagColumns+" FROM tags t WHERE t.tag_type = ? AND t.is_link = 0 AND NOT EXISTS (SELECT 1 FROM char_indices c WHERE c.tid = t.tid) ORDER BY t.rowid",
		tagType)
}

// AllTagsOfType returns every tag of one type in creation order
func (s *Store) AllTagsOfType(tagType string) ([]domain.Tag, error) {
	const op = "tags of type"
	if _, err := s.TagTypeByName(tagType); err != nil {
		return nil, err
	}
	rows, err := scanTagRows(s.db, op, "SELECT "+tagColumns+" FROM tags t WHERE t.tag_type = ? ORDER BY t.rowid", tagType)
	if err != nil {
		return nil, err
	}
	return s.hydrate(op, rows)
}

// AllExtentTags returns every extent tag in creation order
func (s *Store) AllExtentTags() ([]*domain.ExtentTag, error) {
	return s.extentTags("all extent tags", "SELECT "+tagColumns+" FROM tags t WHERE t.is_link = 0 ORDER BY t.rowid")
}

// AllLinkTags returns every link tag in creation order
func (s *Store) AllLinkTags() ([]*domain.LinkTag, error) {
	return s.linkTags("all link tags", "SELECT "+tagColumns+" FROM tags t WHERE t.is_link = 1 ORDER BY t.rowid")
}

// AllTags returns the extent tags followed by the link tags
func (s *Store) AllTags() ([]domain.Tag, error) {
	extents, err := s.AllExtentTags()
	if err != nil {
		return nil, err
	}
	links, err := s.AllLinkTags()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Tag, 0, len(extents)+len(links))
	for _, t := range extents {
		out = append(out, t)
	}
	for _, t := range links {
		out = append(out, t)
	}
	return out, nil
}

// Underspec lists the required attributes and arguments the tag is missing
func (s *Store) Underspec(tid string) ([]string, error) {
	tag, err := s.TagByID(tid)
	if err != nil {
		return nil, err
	}
	return domain.Underspec(tag), nil
}

// AllUnderspecified maps the id of every tag missing a required attribute
// or argument to the missing names
func (s *Store) AllUnderspecified() (map[string][]string, error) {
	tags, err := s.AllTags()
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, t := range tags {
		if missing := domain.Underspec(t); len(missing) > 0 {
			out[t.Base().ID] = missing
		}
	}
	return out, nil
}

func (s *Store) extentTags(op, query string, args ...any) ([]*domain.ExtentTag, error) {
	rows, err := scanTagRows(s.db, op, query, args...)
	if err != nil {
		return nil, err
	}
	tags, err := s.hydrate(op, rows)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ExtentTag, 0, len(tags))
	for _, t := range tags {
		if et, ok := t.(*domain.ExtentTag); ok {
			out = append(out, et)
		}
	}
	return out, nil
}

func (s *Store) linkTags(op, query string, args ...any) ([]*domain.LinkTag, error) {
	rows, err := scanTagRows(s.db, op, query, args...)
	if err != nil {
		return nil, err
	}
	tags, err := s.hydrate(op, rows)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.LinkTag, 0, len(tags))
	for _, t := range tags {
		if lt, ok := t.(*domain.LinkTag); ok {
			out = append(out, lt)
		}
	}
	return out, nil
}

// scanTagRows reads all rows before returning; with a single connection the
// result set must be closed before the next query.
func scanTagRows(q querier, op, query string, args ...any) ([]tagRow, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var out []tagRow
	for rows.Next() {
		var r tagRow
		if err := rows.Scan(&r.tid, &r.tagType, &r.link, &r.text, &r.filename); err != nil {
			return nil, apperr.Storage("scan tag", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func (s *Store) hydrate(op string, rows []tagRow) ([]domain.Tag, error) {
	sc, err := s.Schema()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Tag, 0, len(rows))
	for _, r := range rows {
		base := domain.TagBase{
			ID:       r.tid,
			Type:     sc.TagType(r.tagType),
			TypeName: r.tagType,
			Filename: r.filename,
			Text:     r.text,
		}
		base.Attributes, err = scanAttributes(s.db, r.tid)
		if err != nil {
			return nil, err
		}
		if r.link {
			args, err := scanArguments(s.db, r.tid)
			if err != nil {
				return nil, err
			}
			out = append(out, &domain.LinkTag{TagBase: base, Arguments: args})
			continue
		}
		spans, err := scanInts(s.db, op, "SELECT location FROM char_indices WHERE tid = ? ORDER BY location", r.tid)
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.ExtentTag{TagBase: base, Spans: spans})
	}
	return out, nil
}

func scanAttributes(q querier, tid string) ([]domain.Attribute, error) {
	rows, err := q.Query(`SELECT a.name, a.value FROM attributes a
		JOIN attribute_types aty ON aty.tag_type = a.tag_type AND aty.name = a.name
		WHERE a.tid = ? ORDER BY aty.rowid`, tid)
	if err != nil {
		return nil, apperr.Storage("get attributes", err)
	}
	defer rows.Close()

	var out []domain.Attribute
	for rows.Next() {
		var a domain.Attribute
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, apperr.Storage("scan attribute", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("get attributes", err)
	}
	return out, nil
}

func scanArguments(q querier, linker string) ([]domain.Argument, error) {
	rows, err := q.Query(`SELECT a.name, a.target, t.text FROM arguments a
		JOIN tags t ON t.tid = a.target
		JOIN argument_types aty ON aty.tag_type = a.tag_type AND aty.name = a.name
		WHERE a.linker = ? ORDER BY aty.rowid`, linker)
	if err != nil {
		return nil, apperr.Storage("get arguments", err)
	}
	defer rows.Close()

	var out []domain.Argument
	for rows.Next() {
		var a domain.Argument
		if err := rows.Scan(&a.Name, &a.TargetID, &a.TargetText); err != nil {
			return nil, apperr.Storage("scan argument", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("get arguments", err)
	}
	return out, nil
}

func scanInts(q querier, op, query string, args ...any) ([]int, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func groupByType(tags []*domain.ExtentTag) map[string][]*domain.ExtentTag {
	out := map[string][]*domain.ExtentTag{}
	for _, t := range tags {
		out[t.TypeName] = append(out[t.TypeName], t)
	}
	return out
}
