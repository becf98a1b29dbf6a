package agreement

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/codec"
	"github.com/pbaille/mae/internal/logging"
	"github.com/pbaille/mae/internal/span"
)

// Granularity selects what a coding item is
type Granularity int

const (
	// PerTag makes every distinct tag extent an item
	PerTag Granularity = iota
	// PerCharacter makes every tagged character an item
	PerCharacter
)

// Labels of the cross-tag scores
const (
	CrossTagMultiPi = "cross-tag_multi_pi"
	CrossTagAlphaU  = "cross-tag_alpha_u"
)

// Methods a Report is keyed by
const (
	MethodMultiPi       = "multi_pi"
	MethodCohenKappa    = "cohen_kappa"
	MethodGlobalMultiPi = "global_multi_pi"
	MethodAlphaU        = "alpha_u"
	MethodGlobalAlphaU  = "global_alpha_u"
)

// Methods lists every method in report order
var Methods = []string{MethodMultiPi, MethodCohenKappa, MethodGlobalMultiPi, MethodAlphaU, MethodGlobalAlphaU}

// Options configure what an Engine measures.
type Options struct {
	// Targets maps tag type names to the attributes to compare.
	Targets           map[string][]string
	AllowMultiTagging bool
	Granularity       Granularity
	// Combined adds a tag type level score comparing all its target
	// attributes at once.
	Combined bool
}

// Report holds scores keyed by method, then by label
type Report map[string]map[string]float64

// Engine computes agreement scores over the documents of a ParseCache.
type Engine struct {
	cache *ParseCache
	opts  Options
	types []string

	spans map[*codec.Document]map[string][]int
}

// NewEngine checks the targets against the cache's schema
func NewEngine(cache *ParseCache, opts Options) (*Engine, error) {
	if len(opts.Targets) == 0 {
		return nil, apperr.NewValidation("targets", "no tag type to compare")
	}
	sc := cache.Schema()
	var types []string
	for name, atts := range opts.Targets {
		tt := sc.TagType(name)
		if tt == nil {
			return nil, apperr.NewNotFound("tag type", name)
		}
		for _, a := range atts {
			if tt.AttributeType(a) == nil {
				return nil, apperr.NewNotFound("attribute type", name+"."+a)
			}
		}
		types = append(types, name)
	}
	sort.Strings(types)
	return &Engine{
		cache: cache,
		opts:  opts,
		types: types,
		spans: map[*codec.Document]map[string][]int{},
	}, nil
}

// LocalMultiPi scores every target attribute as TYPE.att, and the tag type
// itself as TYPE when it has no target attributes or Combined is set.
func (e *Engine) LocalMultiPi() (map[string]float64, error) {
	return e.local(MultiPi)
}

// LocalCohenKappa uses the labels of LocalMultiPi. All scores are NaN unless
// there are exactly two raters.
func (e *Engine) LocalCohenKappa() (map[string]float64, error) {
	return e.local(CohenKappa)
}

func (e *Engine) local(coefficient func([][]string) float64) (map[string]float64, error) {
	labels, studies, err := e.localCodingStudies()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(labels))
	for _, label := range labels {
		out[label] = coefficient(studies[label].Items(e.opts.AllowMultiTagging))
	}
	return out, nil
}

// GlobalMultiPi scores the tag type raters chose for every item, across all
// target types.
func (e *Engine) GlobalMultiPi() (map[string]float64, error) {
	study := NewCodingStudy(len(e.cache.Raters()))
	err := e.eachTag(func(doc string, rater int, d *codec.Document, t codec.ParsedTag) {
		for _, key := range e.itemKeys(doc, d, t) {
			study.Add(key, rater, t.TagType)
		}
	})
	if err != nil {
		return nil, err
	}
	return map[string]float64{CrossTagMultiPi: MultiPi(study.Items(e.opts.AllowMultiTagging))}, nil
}

// LocalAlphaU scores the placement of every target extent tag type
func (e *Engine) LocalAlphaU() (map[string]float64, error) {
	study, types, err := e.unitizingStudy()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(types))
	for _, tt := range types {
		out[tt] = CategoryAlphaU(study, tt)
	}
	return out, nil
}

// GlobalAlphaU scores the placement of all target extent tag types at once
func (e *Engine) GlobalAlphaU() (map[string]float64, error) {
	study, _, err := e.unitizingStudy()
	if err != nil {
		return nil, err
	}
	return map[string]float64{CrossTagAlphaU: AlphaU(study)}, nil
}

// Run computes the scores of one method
func (e *Engine) Run(method string) (map[string]float64, error) {
	switch method {
	case MethodMultiPi:
		return e.LocalMultiPi()
	case MethodCohenKappa:
		return e.LocalCohenKappa()
	case MethodGlobalMultiPi:
		return e.GlobalMultiPi()
	case MethodAlphaU:
		return e.LocalAlphaU()
	case MethodGlobalAlphaU:
		return e.GlobalAlphaU()
	}
	return nil, apperr.NewValidation("method", "unknown agreement method "+method)
}

// Report runs every applicable method. Cohen's kappa is left out unless
// there are exactly two raters.
func (e *Engine) Report() (Report, error) {
	report := Report{}
	for _, m := range Methods {
		if m == MethodCohenKappa && len(e.cache.Raters()) != 2 {
			continue
		}
		scores, err := e.Run(m)
		if err != nil {
			return nil, err
		}
		report[m] = scores
	}
	logging.Info("agreement computed", "documents", len(e.cache.Index().Documents()), "raters", len(e.cache.Raters()), "methods", len(report))
	return report, nil
}

func (e *Engine) localCodingStudies() ([]string, map[string]*CodingStudy, error) {
	raters := len(e.cache.Raters())
	var labels []string
	studies := map[string]*CodingStudy{}
	add := func(label string) {
		labels = append(labels, label)
		studies[label] = NewCodingStudy(raters)
	}
	for _, tt := range e.types {
		atts := e.opts.Targets[tt]
		for _, a := range atts {
			add(tt + "." + a)
		}
		if e.opts.Combined || len(atts) == 0 {
			add(tt)
		}
	}

	err := e.eachTag(func(doc string, rater int, d *codec.Document, t codec.ParsedTag) {
		atts := e.opts.Targets[t.TagType]
		values := d.AttributesOf(t.ID)
		whole, hasWhole := studies[t.TagType]
		for _, key := range e.itemKeys(doc, d, t) {
			for _, a := range atts {
				studies[t.TagType+"."+a].Add(key, rater, valueOf(values, a))
			}
			if hasWhole {
				whole.Add(key, rater, combinedValue(t.TagType, atts, values))
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return labels, studies, nil
}

func valueOf(values map[string]string, name string) string {
	if v, ok := values[name]; ok && v != "" {
		return v
	}
	return NoValue
}

func combinedValue(tagType string, atts []string, values map[string]string) string {
	if len(atts) == 0 {
		return tagType
	}
	parts := make([]string, len(atts))
	for i, a := range atts {
		parts[i] = a + "=" + valueOf(values, a)
	}
	return strings.Join(parts, "|")
}

// eachTag calls fn for every target tag of every rater in every document.
// Non-consuming extent tags cover no item and are skipped.
func (e *Engine) eachTag(fn func(doc string, rater int, d *codec.Document, t codec.ParsedTag)) error {
	for _, doc := range e.cache.Index().Documents() {
		parses, err := e.cache.Parses(doc)
		if err != nil {
			return err
		}
		for rater, d := range parses {
			if d == nil {
				continue
			}
			for _, tt := range e.types {
				for _, t := range d.TagsOfType(tt) {
					if !t.Link && len(t.Spans) == 0 {
						continue
					}
					fn(doc, rater, d, t)
				}
			}
		}
	}
	return nil
}

// itemKeys identifies the items a tag covers. Link tags are identified by
// the extents of their arguments.
func (e *Engine) itemKeys(doc string, d *codec.Document, t codec.ParsedTag) []string {
	prefix := doc + "\x00"
	if t.Link {
		return []string{prefix + e.argumentKey(d, t)}
	}
	if e.opts.Granularity == PerCharacter {
		keys := make([]string, len(t.Spans))
		for i, o := range t.Spans {
			keys[i] = prefix + strconv.Itoa(o)
		}
		return keys
	}
	return []string{prefix + span.Format(t.Spans)}
}

func (e *Engine) argumentKey(d *codec.Document, t codec.ParsedTag) string {
	extents, ok := e.spans[d]
	if !ok {
		extents = map[string][]int{}
		for _, pt := range d.Tags {
			if !pt.Link {
				extents[pt.ID] = pt.Spans
			}
		}
		e.spans[d] = extents
	}
	args := d.ArgumentsOf(t.ID)
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + span.Format(extents[args[name]])
	}
	return "link:" + strings.Join(parts, ";")
}

// unitizingStudy lays all documents end to end and records every span of
// every target extent tag as a unit of its tag type.
func (e *Engine) unitizingStudy() (*UnitizingStudy, []string, error) {
	lengths, err := e.cache.DocumentLengths()
	if err != nil {
		return nil, nil, err
	}
	total := 0
	for _, n := range lengths {
		total += n
	}

	sc := e.cache.Schema()
	var types []string
	for _, tt := range e.types {
		if sc.TagType(tt).Extent() {
			types = append(types, tt)
		}
	}

	study := NewUnitizingStudy(len(e.cache.Raters()), total)
	offset := 0
	for i, doc := range e.cache.Index().Documents() {
		parses, err := e.cache.Parses(doc)
		if err != nil {
			return nil, nil, err
		}
		for rater, d := range parses {
			if d == nil {
				continue
			}
			for _, tt := range types {
				for _, t := range d.TagsOfType(tt) {
					for _, p := range span.Pairs(t.Spans) {
						study.AddUnit(rater, tt, offset+p.Start, p.Len())
					}
				}
			}
		}
		offset += lengths[i]
	}
	return study, types, nil
}
