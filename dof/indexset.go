package dof

import "sort"

// IndexSet is an ordered set of global DOF indices stored as half-open
// intervals. Owned sets are a single contiguous range after renumbering;
// relevant sets are unions of a few ranges.
type IndexSet struct {
	ranges [][2]int
}

// NewIndexSet builds a set from arbitrary indices, merging them into ranges.
func NewIndexSet(indices []int) IndexSet {
	if len(indices) == 0 {
		return IndexSet{}
	}
	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.Ints(sorted)
	var s IndexSet
	begin, end := sorted[0], sorted[0]+1
	for _, i := range sorted[1:] {
		switch {
		case i < end: // duplicate
		case i == end:
			end++
		default:
			s.ranges = append(s.ranges, [2]int{begin, end})
			begin, end = i, i+1
		}
	}
	s.ranges = append(s.ranges, [2]int{begin, end})
	return s
}

// NewIndexRange builds the contiguous set [begin, end).
func NewIndexRange(begin, end int) IndexSet {
	if end <= begin {
		return IndexSet{}
	}
	return IndexSet{ranges: [][2]int{{begin, end}}}
}

func (s IndexSet) Contains(i int) bool {
	n := sort.Search(len(s.ranges), func(k int) bool { return s.ranges[k][1] > i })
	return n < len(s.ranges) && s.ranges[n][0] <= i
}

func (s IndexSet) NElements() int {
	n := 0
	for _, r := range s.ranges {
		n += r[1] - r[0]
	}
	return n
}

// Each visits the indices in increasing order.
func (s IndexSet) Each(f func(i int)) {
	for _, r := range s.ranges {
		for i := r[0]; i < r[1]; i++ {
			f(i)
		}
	}
}

// Intersects reports whether the two sets share any index.
func (s IndexSet) Intersects(o IndexSet) bool {
	a, b := 0, 0
	for a < len(s.ranges) && b < len(o.ranges) {
		ra, rb := s.ranges[a], o.ranges[b]
		if ra[0] < rb[1] && rb[0] < ra[1] {
			return true
		}
		if ra[1] <= rb[0] {
			a++
		} else {
			b++
		}
	}
	return false
}
