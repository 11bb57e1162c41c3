package triage

import (
	"cmp"
	"slices"
)

// Compare orders two (level, score) pairs: lower priority rank first, then
// higher score first. Equal pairs compare as 0.
func Compare(aLevel Level, aScore float64, bLevel Level, bScore float64) int {
	if c := cmp.Compare(PriorityRank(aLevel), PriorityRank(bLevel)); c != 0 {
		return c
	}
	return cmp.Compare(bScore, aScore)
}

// SortByPriority stable-sorts items by the level and score returned from key.
// Ties keep their input order.
func SortByPriority[T any](items []T, key func(T) (Level, float64)) {
	slices.SortStableFunc(items, func(a, b T) int {
		al, as := key(a)
		bl, bs := key(b)
		return Compare(al, as, bl, bs)
	})
}
