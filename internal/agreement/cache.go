package agreement

import (
	"fmt"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/codec"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/fileio"
	"github.com/pbaille/mae/internal/logging"
)

// ParseCache decodes the annotation files of an Index at most once each.
// It is not safe for concurrent use.
type ParseCache struct {
	index   *Index
	schema  *domain.Schema
	decoder *codec.Decoder
	useGold bool
	parses  map[string][]*codec.Document
}

// NewParseCache creates a cache decoding against schema. With useGold the
// gold standard is treated as one more rater, placed last.
func NewParseCache(index *Index, schema *domain.Schema, useGold bool) *ParseCache {
	return &ParseCache{
		index:   index,
		schema:  schema,
		decoder: codec.NewDecoder(schema),
		useGold: useGold && index.HasGold(),
		parses:  map[string][]*codec.Document{},
	}
}

// Index returns the file index behind the cache
func (c *ParseCache) Index() *Index {
	return c.index
}

// Schema returns the schema files are decoded against
func (c *ParseCache) Schema() *domain.Schema {
	return c.schema
}

// Raters returns the rater names in the order used by Parses
func (c *ParseCache) Raters() []string {
	raters := append([]string(nil), c.index.Annotators()...)
	if c.useGold {
		raters = append(raters, c.index.GoldSymbol)
	}
	return raters
}

// Parses returns one decoded document per rater for doc. An annotator
// without a file for doc gets a nil entry.
func (c *ParseCache) Parses(doc string) ([]*codec.Document, error) {
	if docs, ok := c.parses[doc]; ok {
		return docs, nil
	}

	raters := c.Raters()
	docs := make([]*codec.Document, len(raters))
	fingerprint := ""
	for i, rater := range raters {
		path, ok := c.index.File(doc, rater)
		if !ok {
			continue
		}
		parsed, err := c.decode(path)
		if err != nil {
			return nil, err
		}
		if parsed.HasWarnings() {
			logging.Warn("annotation file has warnings", "path", path, "warnings", len(parsed.Warnings))
		}
		if fingerprint == "" {
			fingerprint = parsed.Fingerprint()
		} else if parsed.Fingerprint() != fingerprint {
			return nil, apperr.NewValidation("primary text",
				fmt.Sprintf("%s annotates a different text than the other files of %s", path, doc))
		}
		docs[i] = parsed
	}
	c.parses[doc] = docs
	return docs, nil
}

func (c *ParseCache) decode(path string) (*codec.Document, error) {
	r, err := fileio.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return c.decoder.Decode(r, path)
}

// DocumentLengths returns the primary text length of every document in
// index order. A document nobody annotated has length 0.
func (c *ParseCache) DocumentLengths() ([]int, error) {
	lengths := make([]int, 0, len(c.index.Documents()))
	for _, doc := range c.index.Documents() {
		docs, err := c.Parses(doc)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, d := range docs {
			if d != nil {
				n = d.Length()
				break
			}
		}
		lengths = append(lengths, n)
	}
	return lengths, nil
}
