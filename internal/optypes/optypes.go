// Package optypes defines OpType, the closed set of operations a loop fusion may contain.
package optypes

//go:generate go tool enumer -type=OpType optypes.go

// OpType is an enum of the operations supported in a fusion.
type OpType int

const (
	Invalid OpType = iota

	// Leaves.
	Parameter
	Constant
	Iota

	// Elementwise unary operations.
	Abs
	Negate
	Exponential
	Log
	Sqrt
	Rsqrt
	Tanh
	Cosine
	Sine
	Logistic
	Floor
	Ceil
	Not
	Convert

	// Elementwise binary operations.
	Add
	Subtract
	Multiply
	Divide
	Remainder
	Power
	Maximum
	Minimum
	Atan2
	And
	Or
	Xor

	// Elementwise ternary operation.
	Select

	// Data movement: these only change the indexing of the elements.
	Copy
	Bitcast
	Broadcast
	Reshape
	Reverse
	Transpose
	Slice

	Reduce
	Tuple

	// CustomCall is an opaque call to an external target: loop fusions cannot emit it.
	CustomCall

	// Last should always be kept the last, it is used as a counter/marker for OpType.
	Last
)
