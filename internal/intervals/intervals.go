// Package intervals implements set algebra over closed channel intervals.
//
// Every Set returned by this package is in normal form: intervals sorted by
// start, with overlapping or adjacent (gap of at most one channel) intervals
// merged.
package intervals

import (
	"fmt"
	"math"
	"sort"
)

// Interval is the closed range [Start, End]. Open ends are ±Inf.
type Interval struct {
	Start float64 `json:"start" msgpack:"start"`
	End   float64 `json:"end" msgpack:"end"`
}

// Width returns the number of channels covered
func (iv Interval) Width() float64 {
	return iv.End - iv.Start + 1
}

// Overlaps reports whether the two intervals share a point
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start <= o.End && o.Start <= iv.End
}

// Contains reports whether x lies inside the interval
func (iv Interval) Contains(x float64) bool {
	return x >= iv.Start && x <= iv.End
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%g,%g]", iv.Start, iv.End)
}

// Set is a list of intervals
type Set []Interval

// Empty reports whether the set has no intervals
func (s Set) Empty() bool {
	return len(s) == 0
}

// Overlaps reports whether any interval in s overlaps iv
func (s Set) Overlaps(iv Interval) bool {
	for _, x := range s {
		if x.Overlaps(iv) {
			return true
		}
	}
	return false
}

// Equal reports whether both sets hold the same intervals in order
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Merge sorts the intervals and merges overlapping or adjacent ones.
// Intervals with Start > End are dropped.
func Merge(s Set) Set {
	if len(s) == 0 {
		return Set{}
	}
	sorted := make(Set, 0, len(s))
	for _, iv := range s {
		if iv.Start <= iv.End {
			sorted = append(sorted, iv)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := Set{}
	for _, iv := range sorted {
		if n := len(out); n > 0 && iv.Start <= out[n-1].End+1 {
			out[n-1].End = math.Max(out[n-1].End, iv.End)
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Complement returns the complement of s with respect to [-Inf, +Inf]
func Complement(s Set) Set {
	m := Merge(s)
	if len(m) == 0 {
		return Set{{Start: math.Inf(-1), End: math.Inf(1)}}
	}

	var out Set
	if !math.IsInf(m[0].Start, -1) {
		out = append(out, Interval{Start: math.Inf(-1), End: m[0].Start - 1})
	}
	for i := 0; i+1 < len(m); i++ {
		out = append(out, Interval{Start: m[i].End + 1, End: m[i+1].Start - 1})
	}
	if last := m[len(m)-1]; !math.IsInf(last.End, 1) {
		out = append(out, Interval{Start: last.End + 1, End: math.Inf(1)})
	}
	return Merge(out)
}

// Union returns the union of a and b
func Union(a, b Set) Set {
	all := make(Set, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Merge(all)
}

// Intersection returns complement(union(complement(a), complement(b)))
func Intersection(a, b Set) Set {
	return Complement(Union(Complement(a), Complement(b)))
}

// Difference returns the part of a outside b
func Difference(a, b Set) Set {
	return Intersection(a, Complement(b))
}

// FromMask converts runs of true entries into channel intervals
func FromMask(mask []bool) Set {
	out := Set{}
	start := -1
	for i, m := range mask {
		switch {
		case m && start < 0:
			start = i
		case !m && start >= 0:
			out = append(out, Interval{Start: float64(start), End: float64(i - 1)})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Interval{Start: float64(start), End: float64(len(mask) - 1)})
	}
	return out
}

// ToMask marks the channels of [0, n) covered by s
func ToMask(s Set, n int) []bool {
	mask := make([]bool, n)
	for _, iv := range s {
		lo := int(math.Max(math.Ceil(iv.Start), 0))
		hi := int(math.Min(math.Floor(iv.End), float64(n-1)))
		for i := lo; i <= hi; i++ {
			mask[i] = true
		}
	}
	return mask
}

// Clip restricts s to [lo, hi]
func Clip(s Set, lo, hi float64) Set {
	return Intersection(s, Set{{Start: lo, End: hi}})
}
