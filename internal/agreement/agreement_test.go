package agreement

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/fileio"
)

func testSchema() *domain.Schema {
	person := &domain.TagType{
		Name:   "PERSON",
		Prefix: "P",
		AttributeTypes: []*domain.AttributeType{
			{TagType: "PERSON", Name: "role", ValueSet: []string{"subject", "object"}},
			{TagType: "PERSON", Name: "note"},
		},
	}
	org := &domain.TagType{Name: "ORG", Prefix: "O"}
	topic := &domain.TagType{Name: "TOPIC", Prefix: "T", NonConsuming: true}
	rel := &domain.TagType{
		Name:   "REL",
		Prefix: "R",
		Link:   true,
		ArgumentTypes: []*domain.ArgumentType{
			{TagType: "REL", Name: "from"},
			{TagType: "REL", Name: "to"},
		},
	}
	return &domain.Schema{TaskName: "NE", TagTypes: []*domain.TagType{person, org, topic, rel}}
}

func annotation(text string, tags ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" ?>` + "\n<NE>\n<TEXT><![CDATA[" + text + "]]></TEXT>\n<TAGS>\n")
	for _, tag := range tags {
		b.WriteString(tag + "\n")
	}
	b.WriteString("</TAGS>\n</NE>\n")
	return b.String()
}

func writeAnnotation(t *testing.T, dir, name, text string, tags ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(annotation(text, tags...)), 0o644))
	return path
}

func newEngine(t *testing.T, opts Options, paths ...string) *Engine {
	t.Helper()
	idx, err := IndexFiles(paths, "_", "GOLD")
	require.NoError(t, err)
	e, err := NewEngine(NewParseCache(idx, testSchema(), false), opts)
	require.NoError(t, err)
	return e
}

const johnLovesMary = "John loves Mary."

func TestIndexFiles(t *testing.T) {
	idx, err := IndexFiles([]string{
		"in/doc1_B.xml",
		"in/doc1_A.xml.xz",
		"in/doc1_GOLD.xml",
		"in/my_doc_C.xml",
		"in/notes.txt",
		"in/nodelimiter.xml",
	}, "_", "GOLD")
	require.NoError(t, err)

	assert.Equal(t, []string{"doc1", "my_doc"}, idx.Documents())
	assert.Equal(t, []string{"A", "B", "C"}, idx.Annotators())
	assert.Equal(t, 1, idx.AnnotatorIndex("B"))
	assert.Equal(t, -1, idx.AnnotatorIndex("GOLD"))
	assert.True(t, idx.HasGold())
	assert.Equal(t, []string{"in/notes.txt", "in/nodelimiter.xml"}, idx.Skipped())

	p, ok := idx.File("doc1", "A")
	require.True(t, ok)
	assert.Equal(t, "in/doc1_A.xml.xz", p)
	p, ok = idx.File("doc1", "GOLD")
	require.True(t, ok)
	assert.Equal(t, "in/doc1_GOLD.xml", p)
	_, ok = idx.File("my_doc", "A")
	assert.False(t, ok)

	assert.Equal(t, "doc1_A.xml", idx.FileName("doc1", "A"))
}

func TestIndexFilesRejects(t *testing.T) {
	_, err := IndexFiles([]string{"notes.txt"}, "_", "GOLD")
	assert.True(t, apperr.IsInvalid(err))

	_, err = IndexFiles([]string{"a_A.xml"}, "", "GOLD")
	assert.True(t, apperr.IsInvalid(err))

	_, err = IndexFiles([]string{"x/a_A.xml", "y/a_A.xml.xz"}, "_", "GOLD")
	assert.True(t, apperr.IsInvalid(err))
}

func TestParseCache(t *testing.T) {
	dir := t.TempDir()
	a1 := writeAnnotation(t, dir, "d1_A.xml", johnLovesMary, `<PERSON id="P0" spans="0~4" role="subject" />`)
	a2 := writeAnnotation(t, dir, "d2_A.xml", "Hi.")
	gold := writeAnnotation(t, dir, "d1_GOLD.xml", johnLovesMary)

	// B only annotated d1, compressed
	b1 := filepath.Join(dir, "d1_B.xml.xz")
	w, err := fileio.Create(b1)
	require.NoError(t, err)
	_, err = w.Write([]byte(annotation(johnLovesMary, `<PERSON id="P3" spans="11~15" role="object" />`)))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	idx, err := IndexFiles([]string{a1, a2, b1, gold}, "_", "GOLD")
	require.NoError(t, err)

	cache := NewParseCache(idx, testSchema(), true)
	assert.Equal(t, []string{"A", "B", "GOLD"}, cache.Raters())

	docs, err := cache.Parses("d1")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "John", docs[0].Tags[0].Text)
	assert.Equal(t, "Mary", docs[1].Tags[0].Text)
	assert.Empty(t, docs[2].Tags)

	again, err := cache.Parses("d1")
	require.NoError(t, err)
	assert.Same(t, docs[0], again[0])

	docs, err = cache.Parses("d2")
	require.NoError(t, err)
	assert.NotNil(t, docs[0])
	assert.Nil(t, docs[1])
	assert.Nil(t, docs[2])

	lengths, err := cache.DocumentLengths()
	require.NoError(t, err)
	assert.Equal(t, []int{16, 3}, lengths)

	assert.Equal(t, []string{"A", "B"}, NewParseCache(idx, testSchema(), false).Raters())
}

func TestParseCacheRejectsDifferentTexts(t *testing.T) {
	dir := t.TempDir()
	a := writeAnnotation(t, dir, "d_A.xml", johnLovesMary)
	b := writeAnnotation(t, dir, "d_B.xml", "Mary loves John.")
	idx, err := IndexFiles([]string{a, b}, "_", "GOLD")
	require.NoError(t, err)

	_, err = NewParseCache(idx, testSchema(), false).Parses("d")
	assert.True(t, apperr.IsInvalid(err))
}

func TestParseCachePropagatesParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d_A.xml")
	require.NoError(t, os.WriteFile(path, []byte("<NE><TAGS>"), 0o644))
	idx, err := IndexFiles([]string{path}, "_", "GOLD")
	require.NoError(t, err)

	_, err = NewParseCache(idx, testSchema(), false).Parses("d")
	var pe *apperr.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestLocalScoresPropagateParseErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "d_B.xml")
	require.NoError(t, os.WriteFile(bad, []byte("<NE><TAGS>"), 0o644))
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": nil}},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary, `<PERSON id="P0" spans="0~4" />`), bad)

	scores, err := e.LocalMultiPi()
	assert.Nil(t, scores)
	var pe *apperr.ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = e.LocalCohenKappa()
	assert.ErrorAs(t, err, &pe)
}

func TestMultiPi(t *testing.T) {
	assert.InDelta(t, 7.0/15, MultiPi([][]string{{"a", "a"}, {"a", "b"}, {"b", "b"}, {"b", "b"}}), 1e-9)
	assert.InDelta(t, -0.2, MultiPi([][]string{{"a", "a", "a"}, {"a", "a", "b"}}), 1e-9)
	assert.Equal(t, 1.0, MultiPi([][]string{{"a", "a"}, {"a", "a"}}))
	assert.True(t, math.IsNaN(MultiPi(nil)))
	assert.True(t, math.IsNaN(MultiPi([][]string{{"a"}})))
}

func TestCohenKappa(t *testing.T) {
	assert.InDelta(t, 0.5, CohenKappa([][]string{{"a", "a"}, {"a", "b"}, {"b", "b"}, {"b", "b"}}), 1e-9)
	assert.Equal(t, 1.0, CohenKappa([][]string{{"a", "a"}}))
	assert.True(t, math.IsNaN(CohenKappa([][]string{{"a", "a", "a"}})))
	assert.True(t, math.IsNaN(CohenKappa(nil)))
}

func TestCodingStudyItems(t *testing.T) {
	s := NewCodingStudy(2)
	s.Add("x", 0, "object")
	s.Add("x", 0, "subject")
	s.Add("x", 0, "object")
	s.Add("y", 1, "subject")

	assert.Equal(t, [][]string{{"object", NoTag}, {NoTag, "subject"}}, s.Items(false))
	assert.Equal(t, [][]string{{"object+subject", NoTag}, {NoTag, "subject"}}, s.Items(true))
	assert.Equal(t, 2, s.Len())
}

func TestAlphaU(t *testing.T) {
	s := NewUnitizingStudy(2, 4)
	s.AddUnit(0, "c", 0, 2)
	s.AddUnit(1, "c", 1, 2)
	assert.InDelta(t, -7.0/6, CategoryAlphaU(s, "c"), 1e-9)
	assert.InDelta(t, -7.0/6, AlphaU(s), 1e-9)

	same := NewUnitizingStudy(2, 10)
	same.AddUnit(0, "c", 2, 3)
	same.AddUnit(1, "c", 2, 3)
	assert.Equal(t, 1.0, AlphaU(same))

	empty := NewUnitizingStudy(2, 10)
	empty.AddUnit(0, "c", 3, 0)
	assert.Empty(t, empty.Units())
	assert.True(t, math.IsNaN(AlphaU(empty)))
	assert.True(t, math.IsNaN(CategoryAlphaU(same, "other")))

	disjoint := NewUnitizingStudy(2, 10)
	disjoint.AddUnit(0, "c", 0, 3)
	disjoint.AddUnit(1, "c", 5, 3)
	assert.True(t, math.IsNaN(CategoryAlphaU(disjoint, "c")))
	assert.False(t, math.IsNaN(AlphaU(disjoint)))
	assert.Less(t, AlphaU(disjoint), 0.0)
}

func TestUnitizingMergesOverlappingUnits(t *testing.T) {
	s := NewUnitizingStudy(1, 20)
	s.AddUnit(0, "c", 5, 4)
	s.AddUnit(0, "c", 0, 3)
	s.AddUnit(0, "c", 7, 5)
	s.AddUnit(0, "c", 12, 2)
	assert.Equal(t, []Unit{
		{Rater: 0, Category: "c", Begin: 0, Length: 3},
		{Rater: 0, Category: "c", Begin: 5, Length: 7},
		{Rater: 0, Category: "c", Begin: 12, Length: 2},
	}, s.raterUnits(0, "c"))
}

func TestAttributeAgreementOnSameExtent(t *testing.T) {
	dir := t.TempDir()
	tag := `<PERSON id="P0" spans="0~4" text="John" role="subject" />`
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": {"role"}}, Combined: true},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary, tag),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary, tag),
	)

	scores, err := e.LocalMultiPi()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"PERSON.role": 1.0, "PERSON": 1.0}, scores)

	kappa, err := e.LocalCohenKappa()
	require.NoError(t, err)
	assert.Equal(t, 1.0, kappa["PERSON.role"])
}

func TestIdenticalAnnotatorsAgreeFully(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, a := range []string{"A", "B", "C"} {
		paths = append(paths,
			writeAnnotation(t, dir, "d1_"+a+".xml", johnLovesMary,
				`<PERSON id="P0" spans="0~4" role="subject" />`,
				`<PERSON id="P1" spans="11~15" role="object" />`,
				`<REL id="R0" fromID="P0" toID="P1" />`),
			writeAnnotation(t, dir, "d2_"+a+".xml", "Acme hired Mary.",
				`<ORG id="O0" spans="0~4" />`,
				`<PERSON id="P0" spans="11~15" role="object" />`),
		)
	}
	e := newEngine(t, Options{
		Targets:  map[string][]string{"PERSON": {"role"}, "ORG": nil, "REL": nil},
		Combined: true,
	}, paths...)

	report, err := e.Report()
	require.NoError(t, err)
	assert.NotContains(t, report, MethodCohenKappa)
	assert.Equal(t, map[string]float64{"ORG": 1, "PERSON": 1, "PERSON.role": 1, "REL": 1}, report[MethodMultiPi])
	assert.Equal(t, map[string]float64{CrossTagMultiPi: 1}, report[MethodGlobalMultiPi])
	assert.Equal(t, map[string]float64{"ORG": 1, "PERSON": 1}, report[MethodAlphaU])
	assert.Equal(t, map[string]float64{CrossTagAlphaU: 1}, report[MethodGlobalAlphaU])

	kappa, err := e.LocalCohenKappa()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(kappa["PERSON.role"]))
}

func TestNoUnitsIsUndefined(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": {"role"}}},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary, `<ORG id="O0" spans="0~4" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary),
	)

	report, err := e.Report()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(report[MethodMultiPi]["PERSON.role"]))
	assert.True(t, math.IsNaN(report[MethodCohenKappa]["PERSON.role"]))
	assert.True(t, math.IsNaN(report[MethodAlphaU]["PERSON"]))
	assert.True(t, math.IsNaN(report[MethodGlobalAlphaU][CrossTagAlphaU]))
}

func TestDisjointUnitsAreUndefined(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": nil, "ORG": nil}},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary,
			`<PERSON id="P0" spans="0~4" />`, `<ORG id="O0" spans="5~10" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary,
			`<PERSON id="P0" spans="11~15" />`, `<ORG id="O0" spans="6~10" />`),
	)
	scores, err := e.LocalAlphaU()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(scores["PERSON"]))
	assert.False(t, math.IsNaN(scores["ORG"]))
	assert.Less(t, scores["ORG"], 1.0)

	global, err := e.GlobalAlphaU()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(global[CrossTagAlphaU]))
	assert.Less(t, global[CrossTagAlphaU], scores["ORG"])
}

func TestCrossTagAlphaUCountsMissedTagTypes(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": nil, "ORG": nil}},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary,
			`<PERSON id="P0" spans="0~4" />`, `<ORG id="O0" spans="11~15" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary, `<PERSON id="P0" spans="0~4" />`),
	)
	local, err := e.LocalAlphaU()
	require.NoError(t, err)
	assert.Equal(t, 1.0, local["PERSON"])
	assert.True(t, math.IsNaN(local["ORG"]))

	global, err := e.GlobalAlphaU()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(global[CrossTagAlphaU]))
	assert.Less(t, global[CrossTagAlphaU], 1.0)
}

func TestUnitsShiftAcrossDocuments(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": nil, "TOPIC": nil}},
		writeAnnotation(t, dir, "a_A.xml", "0123456789", `<PERSON id="P0" spans="2~4" />`, `<TOPIC id="T0" spans="-1~-1" />`),
		writeAnnotation(t, dir, "b_A.xml", "01234", `<PERSON id="P0" spans="1~3,4~5" />`),
	)

	study, types, err := e.unitizingStudy()
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSON", "TOPIC"}, types)
	assert.Equal(t, 15, study.Length)
	assert.Equal(t, []Unit{
		{Rater: 0, Category: "PERSON", Begin: 2, Length: 2},
		{Rater: 0, Category: "PERSON", Begin: 11, Length: 2},
		{Rater: 0, Category: "PERSON", Begin: 14, Length: 1},
	}, study.Units())
}

func TestGranularity(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary, `<PERSON id="P0" spans="0~4" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary, `<PERSON id="P0" spans="0~2" />`),
	}
	targets := map[string][]string{"PERSON": nil}

	scores, err := newEngine(t, Options{Targets: targets}, paths...).LocalMultiPi()
	require.NoError(t, err)
	assert.InDelta(t, -1.0, scores["PERSON"], 1e-9)

	scores, err = newEngine(t, Options{Targets: targets, Granularity: PerCharacter}, paths...).LocalMultiPi()
	require.NoError(t, err)
	assert.InDelta(t, -1.0/3, scores["PERSON"], 1e-9)
}

func TestMultiTagging(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary,
			`<PERSON id="P0" spans="0~4" role="object" />`,
			`<PERSON id="P1" spans="0~4" role="subject" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary, `<PERSON id="P0" spans="0~4" role="object" />`),
	}
	targets := map[string][]string{"PERSON": {"role"}}

	scores, err := newEngine(t, Options{Targets: targets}, paths...).LocalMultiPi()
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores["PERSON.role"])

	scores, err = newEngine(t, Options{Targets: targets, AllowMultiTagging: true}, paths...).LocalMultiPi()
	require.NoError(t, err)
	assert.InDelta(t, -1.0, scores["PERSON.role"], 1e-9)
}

func TestCrossTagMultiPi(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Options{Targets: map[string][]string{"PERSON": nil, "ORG": nil}},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary,
			`<PERSON id="P0" spans="0~4" />`, `<PERSON id="P1" spans="11~15" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary,
			`<ORG id="O0" spans="0~4" />`, `<PERSON id="P0" spans="11~15" />`),
	)
	scores, err := e.GlobalMultiPi()
	require.NoError(t, err)
	assert.InDelta(t, -1.0/3, scores[CrossTagMultiPi], 1e-9)
}

func TestLinksCompareArgumentExtents(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Options{Targets: map[string][]string{"REL": nil}},
		writeAnnotation(t, dir, "d_A.xml", johnLovesMary,
			`<PERSON id="P0" spans="0~4" />`, `<PERSON id="P1" spans="11~15" />`,
			`<REL id="R0" fromID="P0" toID="P1" />`),
		writeAnnotation(t, dir, "d_B.xml", johnLovesMary,
			`<PERSON id="P7" spans="11~15" />`, `<PERSON id="P5" spans="0~4" />`,
			`<REL id="R3" fromID="P5" toID="P7" />`),
	)
	scores, err := e.LocalMultiPi()
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores["REL"])

	alphas, err := e.LocalAlphaU()
	require.NoError(t, err)
	assert.Empty(t, alphas)
}

func TestNewEngineRejectsUnknownTargets(t *testing.T) {
	dir := t.TempDir()
	idx, err := IndexFiles([]string{writeAnnotation(t, dir, "d_A.xml", johnLovesMary)}, "_", "GOLD")
	require.NoError(t, err)
	cache := NewParseCache(idx, testSchema(), false)

	_, err = NewEngine(cache, Options{})
	assert.True(t, apperr.IsInvalid(err))
	_, err = NewEngine(cache, Options{Targets: map[string][]string{"PLACE": nil}})
	assert.True(t, apperr.IsNotFound(err))
	_, err = NewEngine(cache, Options{Targets: map[string][]string{"PERSON": {"age"}}})
	assert.True(t, apperr.IsNotFound(err))

	e, err := NewEngine(cache, Options{Targets: map[string][]string{"PERSON": nil}})
	require.NoError(t, err)
	_, err = e.Run("majority")
	assert.True(t, apperr.IsInvalid(err))
}
