// Package enum produces the ordered query sequence for a QuerySpec:
// every length-1 string over the alphabet in configured order, then every
// length-2 string as the row-major Cartesian product. The sequence is a
// pure function of the spec; re-enumerating yields the identical order.
package enum

import (
	"iter"

	"namesweep/internal/domain"
)

// Sequence returns the lazy, restartable query sequence for spec.
func Sequence(spec domain.QuerySpec) iter.Seq[string] {
	alphabet := []rune(spec.Alphabet)
	return func(yield func(string) bool) {
		for _, c := range alphabet {
			if !yield(string(c)) {
				return
			}
		}
		if spec.MaxLength < 2 {
			return
		}
		for _, a := range alphabet {
			for _, b := range alphabet {
				if !yield(string(a) + string(b)) {
					return
				}
			}
		}
	}
}

// Queries materializes the full sequence.
func Queries(spec domain.QuerySpec) []string {
	n := Count(spec)
	out := make([]string, 0, n)
	for q := range Sequence(spec) {
		out = append(out, q)
	}
	return out
}

// Count returns the size of the query space: |alphabet| for max length 1,
// |alphabet| + |alphabet|^2 for max length 2.
func Count(spec domain.QuerySpec) int {
	n := len([]rune(spec.Alphabet))
	if spec.MaxLength >= 2 {
		return n + n*n
	}
	return n
}
