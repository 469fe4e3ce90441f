package indexing

import "golang.org/x/exp/constraints"

// floorDiv rounds towards negative infinity, unlike Go's integer division. b must be positive.
func floorDiv[T constraints.Signed](a, b T) T {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv[T constraints.Signed](a, b T) T {
	return -floorDiv(-a, b)
}

// mod returns the non-negative remainder of a by b. b must be positive.
func mod[T constraints.Signed](a, b T) T {
	return a - floorDiv(a, b)*b
}

func abs[T constraints.Signed](a T) T {
	if a < 0 {
		return -a
	}
	return a
}

func gcd[T constraints.Signed](a, b T) T {
	a, b = abs(a), abs(b)
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
