// Package shapes defines Shape: the element type plus the dimensions of a tensor, or a tuple of shapes.
//
// Shapes are small values, passed around by copy. Dimensions are in row-major order: the last axis
// is the one that varies fastest in memory.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/pkg/errors"
)

// Shape of a tensor: its element type and dimensions. If TupleShapes is set, it is a tuple shape
// and DType and Dimensions are ignored.
type Shape struct {
	DType       dtypes.DType
	Dimensions  []int
	TupleShapes []Shape
}

// Make returns a shape with the given dtype and dimensions. It panics if any dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("shapes.Make(%s, %v): dimensions must be non-negative", dtype, dimensions))
		}
	}
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Scalar returns a scalar shape of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// MakeTuple returns a tuple shape composed of the given element shapes.
func MakeTuple(elements ...Shape) Shape {
	tuple := Shape{TupleShapes: make([]Shape, len(elements))}
	for i, element := range elements {
		tuple.TupleShapes[i] = element.Clone()
	}
	return tuple
}

// Invalid returns an invalid shape, used as a return value in error paths.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether the shape is valid.
func (s Shape) Ok() bool {
	return s.IsTuple() || s.DType != dtypes.InvalidDType
}

// IsTuple returns whether the shape is a tuple.
func (s Shape) IsTuple() bool {
	return s.TupleShapes != nil
}

// TupleSize returns the number of elements of a tuple shape, or 0 for a tensor shape.
func (s Shape) TupleSize() int {
	return len(s.TupleShapes)
}

// Rank returns the number of axes.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// IsScalar returns whether the shape is a non-tuple with rank 0.
func (s Shape) IsScalar() bool {
	return !s.IsTuple() && s.Rank() == 0
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s))
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements of a tensor shape. A scalar has size 1.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Strides returns the row-major strides of each axis, in number of elements.
// The stride of the last axis is 1.
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	clone := Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
	if s.TupleShapes != nil {
		clone.TupleShapes = make([]Shape, len(s.TupleShapes))
		for i, element := range s.TupleShapes {
			clone.TupleShapes[i] = element.Clone()
		}
	}
	return clone
}

// Equal compares two shapes, including the tuple elements.
func (s Shape) Equal(s2 Shape) bool {
	if s.IsTuple() != s2.IsTuple() {
		return false
	}
	if s.IsTuple() {
		return slices.EqualFunc(s.TupleShapes, s2.TupleShapes, Shape.Equal)
	}
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares only the dimensions of two tensor shapes, ignoring the dtype.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return !s.IsTuple() && !s2.IsTuple() && slices.Equal(s.Dimensions, s2.Dimensions)
}

// WithDType returns a copy of the shape with the dtype replaced.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	clone := s.Clone()
	clone.DType = dtype
	return clone
}

// String implements fmt.Stringer, using the HLO notation, e.g.: "f32[10,20]" or "(f32[200], f32[200])".
func (s Shape) String() string {
	if s.IsTuple() {
		parts := make([]string, len(s.TupleShapes))
		for i, element := range s.TupleShapes {
			parts[i] = element.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	dims := make([]string, len(s.Dimensions))
	for i, dim := range s.Dimensions {
		dims[i] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("%s[%s]", dtypeHLOName(s.DType), strings.Join(dims, ","))
}

func dtypeHLOName(dtype dtypes.DType) string {
	if dtype == dtypes.Bool {
		return "pred"
	}
	name := dtype.ToMLIR()
	if dtype.IsInt() && !dtype.IsUnsigned() {
		return "s" + name[1:]
	}
	if dtype.IsUnsigned() {
		return "u" + name[1:]
	}
	return name
}
