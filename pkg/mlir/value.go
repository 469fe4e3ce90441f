package mlir

import (
	"strings"

	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
)

type typeKind uint8

const (
	invalidKind typeKind = iota
	indexKind
	scalarKind
	tensorKind
)

// Type of a Value: an index (used for tensor coordinates and loop counters), a scalar of some DType,
// or a ranked tensor.
type Type struct {
	kind  typeKind
	dtype dtypes.DType
	shape shapes.Shape
}

// IndexType is the type of tensor coordinates and loop induction variables.
var IndexType = Type{kind: indexKind}

// ScalarType returns the type of a scalar value of the given dtype.
func ScalarType(dtype dtypes.DType) Type {
	return Type{kind: scalarKind, dtype: dtype}
}

// TensorType returns the type of a tensor with the given shape. Tuples are not valid tensor types.
func TensorType(shape shapes.Shape) Type {
	return Type{kind: tensorKind, dtype: shape.DType, shape: shape}
}

// IsIndex returns whether t is the index type.
func (t Type) IsIndex() bool { return t.kind == indexKind }

// IsScalar returns whether t is a scalar type.
func (t Type) IsScalar() bool { return t.kind == scalarKind }

// IsTensor returns whether t is a tensor type.
func (t Type) IsTensor() bool { return t.kind == tensorKind }

// DType of scalars and tensors. It is dtypes.InvalidDType for the index type.
func (t Type) DType() dtypes.DType {
	return t.dtype
}

// Shape of a tensor type. It is an invalid shape for the other types.
func (t Type) Shape() shapes.Shape {
	return t.shape
}

// Equal returns whether both types are the same.
func (t Type) Equal(other Type) bool {
	if t.kind != other.kind || t.dtype != other.dtype {
		return false
	}
	return t.kind != tensorKind || t.shape.Equal(other.shape)
}

// String implements fmt.Stringer, using the MLIR syntax.
func (t Type) String() string {
	switch t.kind {
	case indexKind:
		return "index"
	case scalarKind:
		return t.dtype.ToMLIR()
	case tensorKind:
		return t.shape.ToMLIR()
	default:
		return "<invalid type>"
	}
}

// typesList renders the types separated by commas, in parenthesis if there is not exactly one.
func typesList(types []Type) string {
	if len(types) == 1 {
		return types[0].String()
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Value represents an SSA value of a program, like `%0`, `%3#1` or `%arg0`.
//
// It is always associated with the function that defines it, and it can be used in that function or in
// any of its closures (the regions of loops and conditionals).
type Value struct {
	fn   *Function
	name string
	typ  Type

	// stmt is the statement that created this value. It is nil for function and region inputs.
	stmt *Statement
}

// Type of the value.
func (v *Value) Type() Type {
	return v.typ
}

// Function where the value is defined.
func (v *Value) Function() *Function {
	return v.fn
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	return "%" + v.name
}

func valuesTypes(values []*Value) []Type {
	types := make([]Type, len(values))
	for i, v := range values {
		types[i] = v.typ
	}
	return types
}

func joinValues(values []*Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}
