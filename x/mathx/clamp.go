package mathx

import "golang.org/x/exp/constraints"

// Band is the closed interval [Lo, Hi].
type Band[T constraints.Ordered] struct {
	Lo, Hi T
}

// BandOf builds a band from two edges given in either order.
func BandOf[T constraints.Ordered](a, b T) Band[T] {
	if b < a {
		a, b = b, a
	}
	return Band[T]{Lo: a, Hi: b}
}

// Contains reports Lo <= v <= Hi.
func (b Band[T]) Contains(v T) bool { return v >= b.Lo && v <= b.Hi }

// Clamp returns the point of b nearest to v.
func (b Band[T]) Clamp(v T) T {
	switch {
	case v < b.Lo:
		return b.Lo
	case v > b.Hi:
		return b.Hi
	}
	return v
}

// Min returns the smaller of a and b.
func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}
