// Package agreement measures how far independent annotators of the same
// documents agree, both on the values they assign (coding agreement) and
// on where their tags fall in the text (unitizing agreement).
package agreement

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/fileio"
	"github.com/pbaille/mae/internal/logging"
)

// XMLExt is the extension of annotation files
const XMLExt = ".xml"

// Index maps documents and annotators to annotation files named
// <document><delimiter><annotator>.xml, optionally with a trailing .xz.
type Index struct {
	Delimiter  string
	GoldSymbol string

	documents  []string
	annotators []string
	files      map[string]map[string]string
	gold       map[string]string
	skipped    []string
}

// IndexFiles groups paths by document and annotator. The annotator named
// goldSymbol is kept apart as the gold standard. Files that do not follow
// the naming convention are skipped.
func IndexFiles(paths []string, delimiter, goldSymbol string) (*Index, error) {
	if delimiter == "" {
		return nil, apperr.NewValidation("delimiter", "must not be empty")
	}
	idx := &Index{
		Delimiter:  delimiter,
		GoldSymbol: goldSymbol,
		files:      map[string]map[string]string{},
		gold:       map[string]string{},
	}
	annotators := map[string]bool{}

	for _, p := range paths {
		doc, annotator, ok := idx.split(p)
		if !ok {
			logging.Warn("file does not follow the annotation file naming", "path", p, "delimiter", delimiter)
			idx.skipped = append(idx.skipped, p)
			continue
		}
		if annotator == goldSymbol && goldSymbol != "" {
			idx.gold[doc] = p
		} else {
			annotators[annotator] = true
			if idx.files[doc] == nil {
				idx.files[doc] = map[string]string{}
			}
			if prev, dup := idx.files[doc][annotator]; dup {
				return nil, apperr.NewValidation("files", prev+" and "+p+" annotate the same document for the same annotator")
			}
			idx.files[doc][annotator] = p
		}
	}

	for doc := range idx.files {
		idx.documents = append(idx.documents, doc)
	}
	for doc := range idx.gold {
		if idx.files[doc] == nil {
			idx.documents = append(idx.documents, doc)
		}
	}
	sort.Strings(idx.documents)
	for a := range annotators {
		idx.annotators = append(idx.annotators, a)
	}
	sort.Strings(idx.annotators)

	if len(idx.documents) == 0 {
		return nil, apperr.NewValidation("files", "no annotation files found")
	}
	logging.Debug("annotation files indexed", "documents", len(idx.documents), "annotators", len(idx.annotators), "skipped", len(idx.skipped))
	return idx, nil
}

func (idx *Index) split(path string) (doc, annotator string, ok bool) {
	base := filepath.Base(fileio.TrimExt(path))
	if !strings.EqualFold(filepath.Ext(base), XMLExt) {
		return "", "", false
	}
	base = base[:len(base)-len(XMLExt)]
	i := strings.LastIndex(base, idx.Delimiter)
	if i <= 0 || i+len(idx.Delimiter) >= len(base) {
		return "", "", false
	}
	return base[:i], base[i+len(idx.Delimiter):], true
}

// Documents returns the document names in order
func (idx *Index) Documents() []string {
	return idx.documents
}

// Annotators returns the annotator symbols in order, gold excluded
func (idx *Index) Annotators() []string {
	return idx.annotators
}

// AnnotatorIndex returns the position of an annotator, or -1
func (idx *Index) AnnotatorIndex(annotator string) int {
	for i, a := range idx.annotators {
		if a == annotator {
			return i
		}
	}
	return -1
}

// File returns the file of one annotator for one document
func (idx *Index) File(doc, annotator string) (string, bool) {
	if annotator == idx.GoldSymbol && idx.GoldSymbol != "" {
		p, ok := idx.gold[doc]
		return p, ok
	}
	p, ok := idx.files[doc][annotator]
	return p, ok
}

// HasGold reports whether any document has a gold standard file
func (idx *Index) HasGold() bool {
	return len(idx.gold) > 0
}

// Skipped returns the paths that did not follow the naming convention
func (idx *Index) Skipped() []string {
	return idx.skipped
}

// FileName builds the file name of one annotator for one document
func (idx *Index) FileName(doc, annotator string) string {
	return doc + idx.Delimiter + annotator + XMLExt
}
