package agreement

import "math"

// MultiPi computes Fleiss' multi-rater pi (often called Fleiss' kappa) over
// items holding one category per rater. It returns NaN with no items or
// fewer than two raters.
func MultiPi(items [][]string) float64 {
	raters := raterCount(items)
	if raters < 2 {
		return math.NaN()
	}

	observed := 0.0
	totals := map[string]int{}
	for _, item := range items {
		counts := map[string]int{}
		for _, c := range item {
			counts[c]++
			totals[c]++
		}
		agreeing := 0
		for _, n := range counts {
			agreeing += n * (n - 1)
		}
		observed += float64(agreeing) / float64(raters*(raters-1))
	}
	observed /= float64(len(items))

	expected := 0.0
	all := float64(len(items) * raters)
	for _, n := range totals {
		p := float64(n) / all
		expected += p * p
	}
	return chanceCorrected(observed, expected)
}

// CohenKappa computes Cohen's kappa over items holding exactly two
// categories. It returns NaN with no items or any other number of raters.
func CohenKappa(items [][]string) float64 {
	if raterCount(items) != 2 {
		return math.NaN()
	}

	agreeing := 0
	first := map[string]int{}
	second := map[string]int{}
	for _, item := range items {
		if item[0] == item[1] {
			agreeing++
		}
		first[item[0]]++
		second[item[1]]++
	}
	n := float64(len(items))
	observed := float64(agreeing) / n

	expected := 0.0
	for c, a := range first {
		expected += float64(a) / n * float64(second[c]) / n
	}
	return chanceCorrected(observed, expected)
}

// raterCount returns the rater count shared by all items, 0 when there are
// no items and -1 when items disagree.
func raterCount(items [][]string) int {
	if len(items) == 0 {
		return 0
	}
	n := len(items[0])
	for _, item := range items[1:] {
		if len(item) != n {
			return -1
		}
	}
	return n
}

func chanceCorrected(observed, expected float64) float64 {
	if observed == 1 {
		return 1
	}
	if expected == 1 {
		return math.NaN()
	}
	return (observed - expected) / (1 - expected)
}
