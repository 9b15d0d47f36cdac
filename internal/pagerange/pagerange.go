// Package pagerange turns user-typed page range expressions such as "1-3,5,8-10"
// into validated, zero-based page selections.
package pagerange

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned when an expression yields no valid page.
var ErrInvalidRange = errors.New("no valid pages in range")

// Token is one comma-separated segment of an expression, one-based as typed.
// A single page has Start == End.
type Token struct {
	Start int
	End   int
}

// Selection is a strictly ascending, duplicate-free list of zero-based page indices.
type Selection []int

// Len returns the number of selected pages.
func (s Selection) Len() int { return len(s) }

// PageNumbers returns the selection as one-based page numbers.
func (s Selection) PageNumbers() []int {
	out := make([]int, len(s))
	for i, idx := range s {
		out[i] = idx + 1
	}
	return out
}

// String renders the selection compactly using one-based numbers, e.g. "1-3,5".
func (s Selection) String() string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := i
		for j+1 < len(s) && s[j+1] == s[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s[i] + 1))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(s[j] + 1))
		}
		i = j + 1
	}
	return b.String()
}

// Parse resolves expr against a document with pageCount pages.
//
// Segments are separated by commas and trimmed. Blank, malformed, zero or
// negative segments are dropped, single pages beyond pageCount are dropped, and
// ranges are clipped to [1, pageCount]. The result is sorted and deduplicated,
// so input order is not preserved. ErrInvalidRange is returned only when
// nothing survives.
func Parse(expr string, pageCount int) (Selection, error) {
	seen := make(map[int]struct{})
	for _, tok := range Tokens(expr) {
		lo, hi := tok.Start, tok.End
		if lo > pageCount {
			continue
		}
		if hi > pageCount {
			hi = pageCount
		}
		for p := lo; p <= hi; p++ {
			seen[p-1] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, ErrInvalidRange
	}
	sel := make(Selection, 0, len(seen))
	for idx := range seen {
		sel = append(sel, idx)
	}
	sort.Ints(sel)
	return sel, nil
}

// All selects every page of a document in order.
func All(pageCount int) Selection {
	if pageCount <= 0 {
		return Selection{}
	}
	sel := make(Selection, pageCount)
	for i := range sel {
		sel[i] = i
	}
	return sel
}

// Tokens splits expr into its well-formed segments. Segments that are blank or
// fail to parse are skipped; range checks against a page count happen in Parse.
func Tokens(expr string) []Token {
	var out []Token
	for _, seg := range strings.Split(expr, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if tok, ok := parseSegment(seg); ok {
			out = append(out, tok)
		}
	}
	return out
}

func parseSegment(seg string) (Token, bool) {
	if left, right, isPair := strings.Cut(seg, "-"); isPair {
		start, ok := positive(left)
		if !ok {
			return Token{}, false
		}
		end, ok := positive(right)
		if !ok || start > end {
			return Token{}, false
		}
		return Token{Start: start, End: end}, true
	}
	n, ok := positive(seg)
	if !ok {
		return Token{}, false
	}
	return Token{Start: n, End: n}, true
}

func positive(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
