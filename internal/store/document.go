package store

import (
	"database/sql"
	"io"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/codec"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/logging"
)

// Load replaces the annotations with the content of a decoded file in one
// transaction. The store's task must match the file's; the primary text is
// taken from the file. On failure nothing changes, ids included.
func (s *Store) Load(doc *codec.Document) error {
	const op = "load annotations"
	sc, err := s.Schema()
	if err != nil {
		return err
	}
	if sc.TaskName != "" && sc.TaskName != doc.TaskName {
		return apperr.Integrity(op, apperr.NewValidation("task name",
			"file is for "+doc.TaskName+", store is for "+sc.TaskName))
	}

	saved := s.ids
	s.ids = s.ids.Clone()
	s.ids.Reset()

	err = s.withTx(op, func(tx *sql.Tx) error {
		if err := deleteAllTags(tx); err != nil {
			return err
		}
		if err := setMeta(tx, keyPrimaryText, doc.PrimaryText); err != nil {
			return err
		}
		if err := setMeta(tx, keyFilename, doc.Path); err != nil {
			return err
		}
		if sc.TaskName == "" {
			if err := setMeta(tx, keyTaskName, doc.TaskName); err != nil {
				return err
			}
		}
		return s.loadRecords(tx, sc, doc)
	})
	if err != nil {
		s.ids = saved
		return err
	}
	s.schema = nil
	s.MarkSaved()
	logging.Info("annotations loaded", "path", doc.Path, "tags", len(doc.Tags), "warnings", len(doc.Warnings))
	return nil
}

// loadRecords inserts tags first so that every argument target exists when
// arguments are inserted.
func (s *Store) loadRecords(tx *sql.Tx, sc *domain.Schema, doc *codec.Document) error {
	for _, pt := range doc.Tags {
		tt := sc.TagType(pt.TagType)
		if tt == nil {
			return apperr.NewNotFound("tag type", pt.TagType)
		}
		if tt.Link != pt.Link {
			return apperr.NewValidation(pt.ID, "tag kind does not match type "+tt.Name)
		}
		if !tt.Link && len(pt.Spans) == 0 && !tt.NonConsuming {
			return apperr.NewValidation(pt.ID, tt.Name+" tags must cover at least one character")
		}
		if err := s.ids.Add(tt.Name, pt.ID); err != nil {
			return err
		}
		base := &domain.TagBase{ID: pt.ID, TypeName: tt.Name, Text: pt.Text, Filename: doc.Path}
		if err := insertTag(tx, base, tt.Link); err != nil {
			return err
		}
		if err := insertAnchors(tx, pt.ID, pt.Spans); err != nil {
			return err
		}
	}

	for _, pa := range doc.Atts {
		at := sc.TagType(pa.TagType).AttributeType(pa.Name)
		if at == nil {
			return apperr.NewNotFound("attribute type", pa.TagType+"."+pa.Name)
		}
		if err := insertAttribute(tx, pa.TagID, at, pa.Value); err != nil {
			return err
		}
	}

	for _, pa := range doc.Args {
		if _, err := insertArgument(tx, sc.TagType(pa.TagType), pa.TagID, pa.Name, pa.TargetID); err != nil {
			return err
		}
	}
	return nil
}

// LoadFrom decodes an annotation file against the store's schema and loads
// it. The returned report lists the decoder's warnings, one per line.
func (s *Store) LoadFrom(r io.Reader, filename string) (string, error) {
	sc, err := s.Schema()
	if err != nil {
		return "", err
	}
	doc, err := codec.Decode(r, filename, sc)
	if err != nil {
		return "", err
	}
	if err := s.Load(doc); err != nil {
		return "", err
	}
	return doc.WarningReport(), nil
}

// Save writes the annotations as an XML file and clears the modification
// flag.
func (s *Store) Save(w io.Writer) error {
	if err := s.Export(w); err != nil {
		return err
	}
	s.MarkSaved()
	return nil
}

// Export writes the annotations as an XML file
func (s *Store) Export(w io.Writer) error {
	taskName, err := s.TaskName()
	if err != nil {
		return err
	}
	text, err := s.PrimaryText()
	if err != nil {
		return err
	}
	tags, err := s.AllTags()
	if err != nil {
		return err
	}
	if err := codec.Encode(w, codec.EncodeInput{TaskName: taskName, PrimaryText: text, Tags: tags}); err != nil {
		return wrap("save annotations", err)
	}
	return nil
}

// CheckCompatible fails unless the file behind preamble annotates the same
// task and primary text as the store.
func (s *Store) CheckCompatible(p *codec.Preamble) error {
	const op = "check compatibility"
	taskName, err := s.TaskName()
	if err != nil {
		return err
	}
	if p.TaskName != taskName {
		return apperr.Integrity(op, apperr.NewValidation("task name",
			p.Path+" is for "+p.TaskName+", store is for "+taskName))
	}
	text, err := s.PrimaryText()
	if err != nil {
		return err
	}
	if codec.Fingerprint(text) != p.Fingerprint() {
		return apperr.Integrity(op, apperr.NewValidation("primary text", p.Path+" annotates a different text"))
	}
	return nil
}

func exists(q querier, tid string) bool {
	var n int
	if err := q.QueryRow("SELECT COUNT(*) FROM tags WHERE tid = ?", tid).Scan(&n); err != nil {
		return false
	}
	return n > 0
}
