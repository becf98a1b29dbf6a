package agreement

import "math"

// AlphaU computes Krippendorff's unitizing alpha summing the observed and
// expected disagreement of every category of the study. It returns NaN when
// the study holds no units.
func AlphaU(s *UnitizingStudy) float64 {
	observed, expected := 0.0, 0.0
	for _, c := range s.Categories() {
		observed += observedDisagreement(s, c)
		expected += expectedDisagreement(s, c)
	}
	return alpha(observed, expected)
}

// CategoryAlphaU computes Krippendorff's unitizing alpha for one category.
// It returns NaN unless units of two different raters overlap.
func CategoryAlphaU(s *UnitizingStudy, category string) float64 {
	if !s.overlapping(category) {
		return math.NaN()
	}
	return alpha(observedDisagreement(s, category), expectedDisagreement(s, category))
}

// overlapping reports whether a unit of one rater shares a character with
// a unit of another rater
func (s *UnitizingStudy) overlapping(category string) bool {
	for i := 0; i < s.Raters; i++ {
		for j := i + 1; j < s.Raters; j++ {
			for _, u := range s.raterUnits(i, category) {
				for _, v := range s.raterUnits(j, category) {
					if u.Begin < v.end() && v.Begin < u.end() {
						return true
					}
				}
			}
		}
	}
	return false
}

func alpha(observed, expected float64) float64 {
	if expected == 0 {
		return math.NaN()
	}
	return 1 - observed/expected
}

// segment is a unit or the gap between two units of one rater
type segment struct {
	begin, end int
	unit       bool
}

func (g segment) length() int {
	return g.end - g.begin
}

// segments splits the continuum into the units of one rater and category
// and the gaps around them
func (s *UnitizingStudy) segments(rater int, category string) []segment {
	var out []segment
	pos := s.Begin
	for _, u := range s.raterUnits(rater, category) {
		if u.Begin > pos {
			out = append(out, segment{begin: pos, end: u.Begin})
		}
		out = append(out, segment{begin: u.Begin, end: u.end(), unit: true})
		pos = u.end()
	}
	if end := s.Begin + s.Length; end > pos {
		out = append(out, segment{begin: pos, end: end})
	}
	return out
}

func distance(g, h segment) float64 {
	switch {
	case g.unit && h.unit:
		if g.begin < h.end && h.begin < g.end {
			db, de := float64(g.begin-h.begin), float64(g.end-h.end)
			return db*db + de*de
		}
	case g.unit:
		if h.begin <= g.begin && g.end <= h.end {
			l := float64(g.length())
			return l * l
		}
	case h.unit:
		if g.begin <= h.begin && h.end <= g.end {
			l := float64(h.length())
			return l * l
		}
	}
	return 0
}

func observedDisagreement(s *UnitizingStudy, category string) float64 {
	r, l := float64(s.Raters), float64(s.Length)
	if s.Raters < 2 || s.Length == 0 {
		return 0
	}
	segs := make([][]segment, s.Raters)
	for i := range segs {
		segs[i] = s.segments(i, category)
	}

	sum := 0.0
	for i := range segs {
		for j := range segs {
			if i == j {
				continue
			}
			for _, g := range segs[i] {
				for _, h := range segs[j] {
					sum += distance(g, h)
				}
			}
		}
	}
	return sum / (r * (r - 1) * l * l)
}

func expectedDisagreement(s *UnitizingStudy, category string) float64 {
	if s.Raters < 2 || s.Length == 0 {
		return 0
	}
	var units, gaps []segment
	for i := 0; i < s.Raters; i++ {
		for _, g := range s.segments(i, category) {
			if g.unit {
				units = append(units, g)
			} else {
				gaps = append(gaps, g)
			}
		}
	}
	if len(units) == 0 {
		return 0
	}

	n := float64(len(units))
	sum := 0.0
	squares := 0.0
	for _, u := range units {
		l := float64(u.length())
		sum += (n - 1) / 3 * (2*l*l*l - 3*l*l + l)
		for _, g := range gaps {
			if gl := float64(g.length()); gl >= l {
				sum += l * l * (gl - l + 1)
			}
		}
		squares += l * (l - 1)
	}
	rl := float64(s.Raters) * float64(s.Length)
	sum *= 2 / rl
	return sum / (rl*(rl-1) - squares)
}
