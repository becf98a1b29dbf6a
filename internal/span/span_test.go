package span

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/mae/internal/apperr"
)

func TestPairsMergesRuns(t *testing.T) {
	tests := []struct {
		name    string
		offsets []int
		want    []Pair
	}{
		{"empty", nil, nil},
		{"single", []int{3}, []Pair{{3, 4}}},
		{"contiguous", []int{0, 1, 2, 3}, []Pair{{0, 4}}},
		{"disjoint", []int{0, 1, 5, 6, 7}, []Pair{{0, 2}, {5, 8}}},
		{"unsorted with duplicates", []int{7, 1, 0, 6, 1, 5}, []Pair{{0, 2}, {5, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Pairs(tt.offsets))
		})
	}
}

func TestOffsetsFlattensPairs(t *testing.T) {
	assert.Equal(t, []int{0, 1, 5, 6, 7}, Offsets([]Pair{{5, 8}, {0, 2}}))
	assert.Equal(t, []int{0, 1, 2}, Offsets([]Pair{{0, 2}, {1, 3}}))
	assert.Nil(t, Offsets(nil))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0~4", Format([]int{0, 1, 2, 3}))
	assert.Equal(t, "0~2,5~8", Format([]int{6, 7, 5, 1, 0}))
	assert.Equal(t, None, Format(nil))
	assert.Equal(t, None, FormatPairs([]Pair{}))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"0~4", []int{0, 1, 2, 3}},
		{"0~2,5~8", []int{0, 1, 5, 6, 7}},
		{" 5~8 , 0~2 ", []int{0, 1, 5, 6, 7}},
		{"0-2,5-7", []int{0, 1, 5, 6}},
		{"-1~-1", nil},
		{"-1--1", nil},
		{"", nil},
		{"3~3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"abc", "4~2", "0~", "~3", "0~2,", "-3~4", "1;2"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			assert.True(t, apperr.IsInvalid(err))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	sets := [][]int{
		{0},
		{0, 1, 2, 3},
		{0, 1, 2, 10, 11, 40},
		{99, 3, 4, 5, 50, 51},
	}
	for _, offsets := range sets {
		pairs, err := ParsePairs(FormatPairs(Pairs(offsets)))
		require.NoError(t, err)
		assert.Equal(t, Pairs(offsets), pairs)

		back, err := Parse(Format(offsets))
		require.NoError(t, err)
		assert.Equal(t, Normalize(offsets), back)
	}
}

func TestFromStartEnd(t *testing.T) {
	got, err := FromStartEnd("2", "5")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, got)

	got, err = FromStartEnd("-1", "-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = FromStartEnd("5", "2")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = FromStartEnd("x", "2")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestText(t *testing.T) {
	text := []rune("John met Mary in Zürich")

	got, err := Text(text, Range(0, 4))
	require.NoError(t, err)
	assert.Equal(t, "John", got)

	got, err = Text(text, append(Range(0, 4), Range(9, 13)...))
	require.NoError(t, err)
	assert.Equal(t, "John ... Mary", got)

	got, err = Text(text, Range(17, 23))
	require.NoError(t, err)
	assert.Equal(t, "Zürich", got)

	got, err = Text(text, nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = Text(text, []int{23})
	assert.ErrorIs(t, err, ErrMalformed)
}
