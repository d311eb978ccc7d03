// Package selector resolves chapter selection expressions such as
// "1,5,10-20" against a title's chapter list.
package selector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kerbaras/mangadl/pkg/data"
)

// ErrInvalidSelection is returned when a term is neither a number nor a
// low-high range with low <= high.
var ErrInvalidSelection = errors.New("invalid chapter selection")

type term struct {
	low, high data.ChapterNumber
}

func (t term) matches(n data.ChapterNumber) bool {
	return n >= t.low && n <= t.high
}

// parse validates an expression without resolving it. An empty expression
// (or "all") yields no terms, meaning every chapter.
func parse(expr string) ([]term, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "all") {
		return nil, nil
	}

	var terms []term
	for _, raw := range strings.Split(expr, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("%w: empty term in %q", ErrInvalidSelection, expr)
		}

		lowStr, highStr, isRange := strings.Cut(raw, "-")
		low, err := data.ParseChapterNumber(lowStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelection, raw)
		}
		if !isRange {
			terms = append(terms, term{low: low, high: low})
			continue
		}

		high, err := data.ParseChapterNumber(highStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelection, raw)
		}
		if high < low {
			return nil, fmt.Errorf("%w: reversed range %q", ErrInvalidSelection, raw)
		}
		terms = append(terms, term{low: low, high: high})
	}
	return terms, nil
}

// Resolve turns an expression into the ascending, duplicate-free set of
// chapter numbers present in chapters, together with the matching chapter
// references in the same order. Numbers absent from the list are ignored.
func Resolve(expr string, chapters []data.ChapterRef) (data.SelectionSet, []data.ChapterRef, error) {
	terms, err := parse(expr)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[data.ChapterNumber]bool, len(chapters))
	var refs []data.ChapterRef
	for _, ch := range chapters {
		if seen[ch.Number] {
			continue
		}
		if terms != nil && !matchesAny(terms, ch.Number) {
			continue
		}
		seen[ch.Number] = true
		refs = append(refs, ch)
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })

	set := make(data.SelectionSet, len(refs))
	for i, ref := range refs {
		set[i] = ref.Number
	}
	return set, refs, nil
}

func matchesAny(terms []term, n data.ChapterNumber) bool {
	for _, t := range terms {
		if t.matches(n) {
			return true
		}
	}
	return false
}
