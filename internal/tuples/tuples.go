// Package tuples holds small fixed-arity value carriers used to return
// several heterogeneous values from a driver query.
package tuples

// Pair holds two values.
type Pair[A, B any] struct {
	A A
	B B
}

// NewPair returns a Pair of a and b.
func NewPair[A, B any](a A, b B) Pair[A, B] {
	return Pair[A, B]{A: a, B: b}
}

// Unpack returns both values.
func (p Pair[A, B]) Unpack() (A, B) {
	return p.A, p.B
}

// Triplet holds three values.
type Triplet[A, B, C any] struct {
	A A
	B B
	C C
}

// NewTriplet returns a Triplet of a, b and c.
func NewTriplet[A, B, C any](a A, b B, c C) Triplet[A, B, C] {
	return Triplet[A, B, C]{A: a, B: b, C: c}
}

// Unpack returns all three values.
func (t Triplet[A, B, C]) Unpack() (A, B, C) {
	return t.A, t.B, t.C
}
