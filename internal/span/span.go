// Package span converts between character offsets of the primary text and
// the "start~end,start~end" notation used in annotation files.
package span

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/pbaille/mae/internal/apperr"
)

const (
	// Delimiter separates start and end within a pair.
	Delimiter = "~"
	// SetDelimiter separates pairs.
	SetDelimiter = ","
	// None is written for a tag without spans.
	None = "-1~-1"
	// TextTruncation joins the text of disjoint pairs.
	TextTruncation = " ... "
)

// ErrMalformed is returned for span strings or offsets that cannot describe
// a set of characters.
var ErrMalformed = fmt.Errorf("malformed spans: %w", apperr.ErrInvalidInput)

// Pair is a half-open [Start, End) character range.
type Pair struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of characters in the pair.
func (p Pair) Len() int {
	return p.End - p.Start
}

func (p Pair) String() string {
	return strconv.Itoa(p.Start) + Delimiter + strconv.Itoa(p.End)
}

//nolint:govet // participle grammar tags are not standard struct tags
type spanList struct {
	Pairs []*spanPair `parser:"@@ ( \",\" @@ )*"`
}

// A leading "-" is only legal for the -1 of the no-span pair; the separator
// may be "~" or the older "-".
//
//nolint:govet // participle grammar tags are not standard struct tags
type spanPair struct {
	Start string `parser:"@( \"-\"? Int )"`
	End   string `parser:"( \"~\" | \"-\" ) @( \"-\"? Int )"`
}

var spanLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[~,\-]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var spanParser = participle.MustBuild[spanList](
	participle.Lexer(spanLexer),
	participle.Elide("Whitespace"),
)

// Normalize returns the offsets sorted ascending without duplicates.
func Normalize(offsets []int) []int {
	if len(offsets) == 0 {
		return nil
	}
	out := make([]int, len(offsets))
	copy(out, offsets)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// Pairs merges offsets into the minimal ascending list of half-open pairs.
func Pairs(offsets []int) []Pair {
	norm := Normalize(offsets)
	if len(norm) == 0 {
		return nil
	}
	var pairs []Pair
	cur := Pair{Start: norm[0], End: norm[0] + 1}
	for _, o := range norm[1:] {
		if o == cur.End {
			cur.End++
			continue
		}
		pairs = append(pairs, cur)
		cur = Pair{Start: o, End: o + 1}
	}
	return append(pairs, cur)
}

// Offsets flattens pairs back to sorted, duplicate-free offsets.
func Offsets(pairs []Pair) []int {
	var out []int
	for _, p := range pairs {
		out = append(out, Range(p.Start, p.End)...)
	}
	return Normalize(out)
}

// Range returns the offsets start, start+1, ..., end-1.
func Range(start, end int) []int {
	if end <= start {
		return nil
	}
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// Format renders offsets in span notation. No offsets render as None.
func Format(offsets []int) string {
	return FormatPairs(Pairs(offsets))
}

// FormatPairs renders pairs in the order given. An empty list renders as None.
func FormatPairs(pairs []Pair) string {
	if len(pairs) == 0 {
		return None
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.String()
	}
	return strings.Join(parts, SetDelimiter)
}

// ParsePairs reads span notation into pairs as written. The None pair and
// the empty string yield no pairs.
func ParsePairs(s string) ([]Pair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parsed, err := spanParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}

	var pairs []Pair
	for _, sp := range parsed.Pairs {
		start, err := strconv.Atoi(sp.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		end, err := strconv.Atoi(sp.End)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		if start == -1 && end == -1 {
			continue
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("%w: %q: bad pair %d~%d", ErrMalformed, s, start, end)
		}
		if start == end {
			continue
		}
		pairs = append(pairs, Pair{Start: start, End: end})
	}
	return pairs, nil
}

// Parse reads span notation into normalized offsets.
func Parse(s string) ([]int, error) {
	pairs, err := ParsePairs(s)
	if err != nil {
		return nil, err
	}
	return Offsets(pairs), nil
}

// FromStartEnd converts the legacy start/end attribute pair. -1,-1 means no
// span.
func FromStartEnd(start, end string) ([]int, error) {
	s, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return nil, fmt.Errorf("%w: start %q", ErrMalformed, start)
	}
	e, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return nil, fmt.Errorf("%w: end %q", ErrMalformed, end)
	}
	if s == -1 && e == -1 {
		return nil, nil
	}
	if s < 0 || e < s {
		return nil, fmt.Errorf("%w: start %d end %d", ErrMalformed, s, e)
	}
	return Range(s, e), nil
}

// Validate checks that offsets are non-negative and fall inside a text of
// the given length.
func Validate(offsets []int, length int) error {
	for _, o := range offsets {
		if o < 0 || o >= length {
			return fmt.Errorf("%w: offset %d outside text of length %d", ErrMalformed, o, length)
		}
	}
	return nil
}

// Text slices the characters covered by offsets out of text, joining
// disjoint pairs with TextTruncation.
func Text(text []rune, offsets []int) (string, error) {
	if err := Validate(offsets, len(text)); err != nil {
		return "", err
	}
	pairs := Pairs(offsets)
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = string(text[p.Start:p.End])
	}
	return strings.Join(parts, TextTruncation), nil
}
