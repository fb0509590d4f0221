package interval

import "sort"

// Interval is a half-open line range [Start, End). All components that
// reason about line positions (extraction, coverage mapping, patching)
// share this one type so the off-by-one conventions live in one place.
type Interval struct {
	Start int
	End   int
}

// New returns the half-open interval [start, end). Ranges where end <= start
// are valid and empty.
func New(start, end int) Interval {
	return Interval{Start: start, End: end}
}

// FromLines converts an inclusive 1-based line span, as stored on symbols,
// into its half-open form.
func FromLines(startLine, endLine int) Interval {
	return Interval{Start: startLine, End: endLine + 1}
}

func (iv Interval) Empty() bool {
	return iv.End <= iv.Start
}

func (iv Interval) Len() int {
	if iv.Empty() {
		return 0
	}
	return iv.End - iv.Start
}

// Contains reports whether line falls inside the interval.
func (iv Interval) Contains(line int) bool {
	return line >= iv.Start && line < iv.End
}

// ContainsInterval reports whether other lies fully inside iv. An empty
// other is contained in nothing.
func (iv Interval) ContainsInterval(other Interval) bool {
	if other.Empty() {
		return false
	}
	return other.Start >= iv.Start && other.End <= iv.End
}

// Overlaps reports whether the two intervals share at least one line.
func (iv Interval) Overlaps(other Interval) bool {
	if iv.Empty() || other.Empty() {
		return false
	}
	return iv.Start < other.End && other.Start < iv.End
}

// Intersect returns the lines of the given set that fall inside the
// interval, in ascending order.
func (iv Interval) Intersect(lines map[int]bool) []int {
	var out []int
	for line, ok := range lines {
		if ok && iv.Contains(line) {
			out = append(out, line)
		}
	}
	sort.Ints(out)
	return out
}

// Lines expands the interval into its member lines in ascending order.
func (iv Interval) Lines() []int {
	if iv.Empty() {
		return nil
	}
	out := make([]int, 0, iv.Len())
	for line := iv.Start; line < iv.End; line++ {
		out = append(out, line)
	}
	return out
}
