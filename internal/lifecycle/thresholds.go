package lifecycle

import "sort"

// Thresholds is the set of days-before-expiry on which alerts fire.
type Thresholds []int

// DefaultThresholds fire 30, 15, 10, 5 and 1 days before expiry.
var DefaultThresholds = Thresholds{30, 15, 10, 5, 1}

// Normalize drops non-positive and duplicate values and sorts descending.
func (t Thresholds) Normalize() Thresholds {
	seen := make(map[int]bool, len(t))
	out := make(Thresholds, 0, len(t))
	for _, d := range t {
		if d <= 0 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Contains reports whether days is one of the thresholds.
func (t Thresholds) Contains(days int) bool {
	for _, d := range t {
		if d == days {
			return true
		}
	}
	return false
}

// Max is the largest threshold, the day on which auto-renewals are created.
// It is 0 for an empty set.
func (t Thresholds) Max() int {
	m := 0
	for _, d := range t {
		if d > m {
			m = d
		}
	}
	return m
}
