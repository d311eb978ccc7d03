package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerbaras/mangadl/pkg/data"
)

func chapters(nums ...data.ChapterNumber) []data.ChapterRef {
	refs := make([]data.ChapterRef, len(nums))
	for i, n := range nums {
		refs[i] = data.ChapterRef{Number: n, Locator: "https://example.com/chapters/" + n.String()}
	}
	return refs
}

func TestResolveMixedTerms(t *testing.T) {
	list := chapters(1, 2, 5, 10, 10.5, 15, 20, 21)

	set, refs, err := Resolve("1,5,10-20", list)
	require.NoError(t, err)
	assert.Equal(t, data.SelectionSet{1, 5, 10, 10.5, 15, 20}, set)
	require.Len(t, refs, 6)
	assert.Equal(t, data.ChapterNumber(10.5), refs[3].Number)
}

func TestResolveEmptySelectsAll(t *testing.T) {
	list := chapters(3, 1, 2, 2.5)

	for _, expr := range []string{"", "   ", "all", "ALL"} {
		set, refs, err := Resolve(expr, list)
		require.NoError(t, err, expr)
		assert.Equal(t, data.SelectionSet{1, 2, 2.5, 3}, set, expr)
		assert.Len(t, refs, 4)
	}
}

func TestResolveSortedAndDeduplicated(t *testing.T) {
	list := chapters(1, 2, 3, 4, 5, 5)

	set, refs, err := Resolve("5, 3-4, 1, 4, 2-5", list)
	require.NoError(t, err)
	assert.Equal(t, data.SelectionSet{1, 2, 3, 4, 5}, set)
	assert.Len(t, refs, 5)

	for i := 1; i < len(set); i++ {
		assert.Less(t, set[i-1], set[i])
	}
}

func TestResolveFractionalTerms(t *testing.T) {
	list := chapters(5, 5.5, 6, 10, 15.5, 16)

	set, _, err := Resolve("23.5", list)
	require.NoError(t, err)
	assert.Empty(t, set)

	set, _, err = Resolve("5.5-15.5", list)
	require.NoError(t, err)
	assert.Equal(t, data.SelectionSet{5.5, 6, 10, 15.5}, set)

	set, _, err = Resolve("5.50", list)
	require.NoError(t, err)
	assert.Equal(t, data.SelectionSet{5.5}, set)
}

func TestResolveIgnoresMissingNumbers(t *testing.T) {
	set, _, err := Resolve("4,7-9,100", chapters(1, 2, 3))
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestResolveInvalid(t *testing.T) {
	list := chapters(1, 2, 3, 4, 5)

	for _, expr := range []string{"5-1", "abc", "1,,2", "1-", "-3", "1-2-3", "1;2", "2.5-x"} {
		_, _, err := Resolve(expr, list)
		assert.ErrorIs(t, err, ErrInvalidSelection, expr)
	}
}
