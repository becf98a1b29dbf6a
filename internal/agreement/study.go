package agreement

import (
	"sort"
	"strings"
)

// NoTag is the category of a rater who put no tag on an item.
const NoTag = "(none)"

// NoValue is the category of a tag whose attribute is unset.
const NoValue = "(unset)"

// multiSep joins the values of several tags one rater put on one item
const multiSep = "+"

// CodingStudy collects the categories raters assigned to items. Items are
// kept in the order they were first seen.
type CodingStudy struct {
	Raters int

	keys   []string
	values map[string][][]string
}

// NewCodingStudy creates an empty study for the given number of raters
func NewCodingStudy(raters int) *CodingStudy {
	return &CodingStudy{Raters: raters, values: map[string][][]string{}}
}

// Add records that rater assigned category to the item identified by key.
// A rater may assign several categories to one item.
func (s *CodingStudy) Add(key string, rater int, category string) {
	v, ok := s.values[key]
	if !ok {
		v = make([][]string, s.Raters)
		s.values[key] = v
		s.keys = append(s.keys, key)
	}
	v[rater] = append(v[rater], category)
}

// Len returns the number of items
func (s *CodingStudy) Len() int {
	return len(s.keys)
}

// Items returns one category per rater for every item. A rater silent on an
// item gets NoTag. When a rater assigned several categories to one item,
// allowMulti joins the distinct ones in sorted order; otherwise the first
// assignment wins.
func (s *CodingStudy) Items(allowMulti bool) [][]string {
	items := make([][]string, 0, len(s.keys))
	for _, key := range s.keys {
		item := make([]string, s.Raters)
		for r, cats := range s.values[key] {
			item[r] = resolve(cats, allowMulti)
		}
		items = append(items, item)
	}
	return items
}

func resolve(cats []string, allowMulti bool) string {
	switch {
	case len(cats) == 0:
		return NoTag
	case len(cats) == 1 || !allowMulti:
		return cats[0]
	}
	seen := map[string]bool{}
	var distinct []string
	for _, c := range cats {
		if !seen[c] {
			seen[c] = true
			distinct = append(distinct, c)
		}
	}
	sort.Strings(distinct)
	return strings.Join(distinct, multiSep)
}

// Unit is a stretch of the continuum one rater assigned to a category.
type Unit struct {
	Rater    int
	Category string
	Begin    int
	Length   int
}

func (u Unit) end() int {
	return u.Begin + u.Length
}

// UnitizingStudy collects units on a continuum [Begin, Begin+Length).
type UnitizingStudy struct {
	Raters int
	Begin  int
	Length int

	units []Unit
}

// NewUnitizingStudy creates an empty study over a continuum of length
// characters starting at 0
func NewUnitizingStudy(raters, length int) *UnitizingStudy {
	return &UnitizingStudy{Raters: raters, Length: length}
}

// AddUnit records a unit. Empty units are ignored.
func (s *UnitizingStudy) AddUnit(rater int, category string, begin, length int) {
	if length <= 0 {
		return
	}
	s.units = append(s.units, Unit{Rater: rater, Category: category, Begin: begin, Length: length})
}

// Units returns the recorded units
func (s *UnitizingStudy) Units() []Unit {
	return s.units
}

// Categories returns the distinct unit categories in sorted order
func (s *UnitizingStudy) Categories() []string {
	seen := map[string]bool{}
	var cats []string
	for _, u := range s.units {
		if !seen[u.Category] {
			seen[u.Category] = true
			cats = append(cats, u.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

// raterUnits returns the units of one rater and category sorted by
// position, with overlapping units merged.
func (s *UnitizingStudy) raterUnits(rater int, category string) []Unit {
	var out []Unit
	for _, u := range s.units {
		if u.Rater == rater && u.Category == category {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Begin != out[j].Begin {
			return out[i].Begin < out[j].Begin
		}
		return out[i].Length < out[j].Length
	})
	merged := out[:0]
	for _, u := range out {
		if n := len(merged); n > 0 && u.Begin < merged[n-1].end() {
			if u.end() > merged[n-1].end() {
				merged[n-1].Length = u.end() - merged[n-1].Begin
			}
			continue
		}
		merged = append(merged, u)
	}
	return merged
}
