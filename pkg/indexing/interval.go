package indexing

import "fmt"

// Interval is an inclusive range of integers [Lower, Upper]. It is empty if Lower > Upper.
type Interval struct {
	Lower, Upper int64
}

// Point returns the interval holding only v.
func Point(v int64) Interval {
	return Interval{v, v}
}

// Range returns the interval [0, extent-1], the valid indices of an axis with the given extent.
func Range(extent int) Interval {
	return Interval{0, int64(extent) - 1}
}

// IsEmpty returns whether the interval holds no value.
func (i Interval) IsEmpty() bool {
	return i.Lower > i.Upper
}

// IsPoint returns whether the interval holds exactly one value.
func (i Interval) IsPoint() bool {
	return i.Lower == i.Upper
}

// NumElements returns the number of values in the interval.
func (i Interval) NumElements() int64 {
	if i.IsEmpty() {
		return 0
	}
	return i.Upper - i.Lower + 1
}

// Contains returns whether v is in the interval.
func (i Interval) Contains(v int64) bool {
	return v >= i.Lower && v <= i.Upper
}

// Includes returns whether every value of other is in i.
func (i Interval) Includes(other Interval) bool {
	return other.Lower >= i.Lower && other.Upper <= i.Upper
}

// Intersect returns the values in both intervals. The result may be empty.
func (i Interval) Intersect(other Interval) Interval {
	return Interval{max(i.Lower, other.Lower), min(i.Upper, other.Upper)}
}

// String implements fmt.Stringer.
func (i Interval) String() string {
	return fmt.Sprintf("[%d, %d]", i.Lower, i.Upper)
}
