package hlo

import (
	"slices"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/internal/shapeinference"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
)

// checkOperands verifies the operands are all from the same computation, and returns it.
func checkOperands(op optypes.OpType, operands ...*Instruction) (*Computation, error) {
	if len(operands) == 0 {
		return nil, errors.Errorf("operation %s requires at least one operand", op)
	}
	for i, operand := range operands {
		if operand == nil {
			return nil, errors.Errorf("operand #%d of operation %s is nil", i, op)
		}
	}
	c := operands[0].computation
	for i, operand := range operands {
		if operand.computation != c {
			return nil, errors.Errorf("cannot add operation %s to computation %q, because operand #%d is from a different computation (%q)",
				op, c.name, i, operand.computation.name)
		}
		if operand.shape.IsTuple() {
			return nil, errors.Errorf("cannot use tuple shaped instruction %q as operand #%d of operation %s",
				operand.name, i, op)
		}
	}
	return c, nil
}

// Iota adds an instruction whose elements are their index along the iotaAxis.
func (c *Computation) Iota(shape shapes.Shape, iotaAxis int) (*Instruction, error) {
	if err := shapeinference.Iota(shape, iotaAxis); err != nil {
		return nil, err
	}
	instr := c.newInstruction(optypes.Iota, shape.Clone())
	instr.dimensions = []int{iotaAxis}
	return instr, nil
}

// Unary adds an elementwise unary operation, one of shapeinference.StandardUnaryOperations.
func Unary(op optypes.OpType, x *Instruction) (*Instruction, error) {
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.UnaryOp(op, x.shape)
	if err != nil {
		return nil, err
	}
	return c.newInstruction(op, outputShape, x), nil
}

// Binary adds an elementwise binary operation, one of shapeinference.StandardBinaryOperations.
func Binary(op optypes.OpType, lhs, rhs *Instruction) (*Instruction, error) {
	c, err := checkOperands(op, lhs, rhs)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.BinaryOp(op, lhs.shape, rhs.shape)
	if err != nil {
		return nil, err
	}
	return c.newInstruction(op, outputShape, lhs, rhs), nil
}

// Negate adds the elementwise -x.
func Negate(x *Instruction) (*Instruction, error) {
	return Unary(optypes.Negate, x)
}

// Abs adds the elementwise absolute value of x.
func Abs(x *Instruction) (*Instruction, error) {
	return Unary(optypes.Abs, x)
}

// Exponential adds the elementwise e^x.
func Exponential(x *Instruction) (*Instruction, error) {
	return Unary(optypes.Exponential, x)
}

// Copy adds a copy of x.
func Copy(x *Instruction) (*Instruction, error) {
	return Unary(optypes.Copy, x)
}

// Add adds the elementwise lhs + rhs.
func Add(lhs, rhs *Instruction) (*Instruction, error) {
	return Binary(optypes.Add, lhs, rhs)
}

// Subtract adds the elementwise lhs - rhs.
func Subtract(lhs, rhs *Instruction) (*Instruction, error) {
	return Binary(optypes.Subtract, lhs, rhs)
}

// Multiply adds the elementwise lhs * rhs.
func Multiply(lhs, rhs *Instruction) (*Instruction, error) {
	return Binary(optypes.Multiply, lhs, rhs)
}

// Divide adds the elementwise lhs / rhs.
func Divide(lhs, rhs *Instruction) (*Instruction, error) {
	return Binary(optypes.Divide, lhs, rhs)
}

// Maximum adds the elementwise max(lhs, rhs).
func Maximum(lhs, rhs *Instruction) (*Instruction, error) {
	return Binary(optypes.Maximum, lhs, rhs)
}

// Atan2 adds the elementwise arc tangent of lhs/rhs, using the signs of both to determine the quadrant.
func Atan2(lhs, rhs *Instruction) (*Instruction, error) {
	return Binary(optypes.Atan2, lhs, rhs)
}

// Select takes elementwise values from onTrue or onFalse depending on the value of pred (must be boolean).
// The pred can be a scalar or have the same dimensions as onTrue and onFalse.
func Select(pred, onTrue, onFalse *Instruction) (*Instruction, error) {
	op := optypes.Select
	c, err := checkOperands(op, pred, onTrue, onFalse)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Select(pred.shape, onTrue.shape, onFalse.shape)
	if err != nil {
		return nil, err
	}
	return c.newInstruction(op, outputShape, pred, onTrue, onFalse), nil
}

// Convert casts x elementwise to the given dtype.
func Convert(x *Instruction, dtype dtypes.DType) (*Instruction, error) {
	op := optypes.Convert
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Convert(x.shape, dtype)
	if err != nil {
		return nil, err
	}
	return c.newInstruction(op, outputShape, x), nil
}

// Bitcast reinterprets the memory of x as the target shape. The element size must be the same, and the
// number of elements too. If the dimensions differ, elements keep their row-major order.
func Bitcast(x *Instruction, target shapes.Shape) (*Instruction, error) {
	op := optypes.Bitcast
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	if err = shapeinference.Bitcast(x.shape, target); err != nil {
		return nil, err
	}
	return c.newInstruction(op, target.Clone(), x), nil
}

// Broadcast x to the target shape: axesMapping[i] is the target axis of the axis i of x.
// The target shape dtype is ignored and taken from x.
func Broadcast(x *Instruction, target shapes.Shape, axesMapping ...int) (*Instruction, error) {
	op := optypes.Broadcast
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	target = target.WithDType(x.shape.DType)
	if err = shapeinference.Broadcast(x.shape, target, axesMapping); err != nil {
		return nil, err
	}
	instr := c.newInstruction(op, target, x)
	instr.dimensions = slices.Clone(axesMapping)
	return instr, nil
}

// Reshape x to the given dimensions, preserving the row-major order of the elements.
func Reshape(x *Instruction, dimensions ...int) (*Instruction, error) {
	op := optypes.Reshape
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Reshape(x.shape, dimensions)
	if err != nil {
		return nil, err
	}
	return c.newInstruction(op, outputShape, x), nil
}

// Reverse the order of the elements of x along the given axes.
func Reverse(x *Instruction, axes ...int) (*Instruction, error) {
	op := optypes.Reverse
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Reverse(x.shape, axes)
	if err != nil {
		return nil, err
	}
	instr := c.newInstruction(op, outputShape, x)
	instr.dimensions = slices.Clone(axes)
	return instr, nil
}

// Transpose the axes of x: output axis i is the axis permutation[i] of x.
func Transpose(x *Instruction, permutation ...int) (*Instruction, error) {
	op := optypes.Transpose
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Transpose(x.shape, permutation)
	if err != nil {
		return nil, err
	}
	instr := c.newInstruction(op, outputShape, x)
	instr.dimensions = slices.Clone(permutation)
	return instr, nil
}

// Slice takes, for each axis, the elements starts[axis] + k*strides[axis] < limits[axis] of x.
func Slice(x *Instruction, starts, limits, strides []int) (*Instruction, error) {
	op := optypes.Slice
	c, err := checkOperands(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Slice(x.shape, starts, limits, strides)
	if err != nil {
		return nil, err
	}
	instr := c.newInstruction(op, outputShape, x)
	instr.sliceStarts = slices.Clone(starts)
	instr.sliceLimits = slices.Clone(limits)
	instr.sliceStrides = slices.Clone(strides)
	return instr, nil
}

// Reduce the inputs along the given axes, using the combiner computation.
//
// Each output i is initialized with initialValues[i] (scalars), and then the elements are combined with it
// using the combiner. If there are N inputs, the combiner takes (acc_1, ... acc_N, x_1, ... x_N) and returns
// a tuple (out_1, ... out_N), or a single scalar if N=1.
//
// A single input reduction returns an instruction with one output; a variadic one returns a tuple shaped
// instruction with one output per input, which can only be used as the output of the fusion.
func Reduce(inputs, initialValues []*Instruction, combiner *Computation, axes ...int) (*Instruction, error) {
	op := optypes.Reduce
	if len(inputs) == 0 {
		return nil, errors.Errorf("%s requires at least one input", op)
	}
	c, err := checkOperands(op, slices.Concat(inputs, initialValues)...)
	if err != nil {
		return nil, err
	}
	if combiner == nil || combiner.root == nil {
		return nil, errors.Errorf("Reduce requires a combiner computation with a root")
	}
	if combiner == c {
		return nil, errors.Errorf("Reduce combiner cannot be the computation %q itself", c.name)
	}
	combinerOutputs := make([]shapes.Shape, 0, len(inputs))
	for _, root := range combiner.Roots() {
		combinerOutputs = append(combinerOutputs, root.shape)
	}
	outputShapes, err := shapeinference.Reduce(
		instructionsShapes(inputs), instructionsShapes(initialValues),
		instructionsShapes(combiner.parameters), combinerOutputs, axes)
	if err != nil {
		return nil, err
	}
	outputShape := outputShapes[0]
	if len(outputShapes) > 1 {
		outputShape = shapes.MakeTuple(outputShapes...)
	}
	instr := c.newInstruction(op, outputShape, slices.Concat(inputs, initialValues)...)
	instr.dimensions = slices.Clone(axes)
	instr.combiner = combiner
	return instr, nil
}

// Tuple groups the elements as the multiple outputs of a computation.
func Tuple(elements ...*Instruction) (*Instruction, error) {
	op := optypes.Tuple
	if len(elements) == 0 {
		return nil, errors.Errorf("%s requires at least one element", op)
	}
	if slices.Contains(elements, nil) {
		return nil, errors.Errorf("%s elements cannot be nil", op)
	}
	c := elements[0].computation
	elementShapes := make([]shapes.Shape, len(elements))
	for i, element := range elements {
		if element.computation != c {
			return nil, errors.Errorf("cannot add operation %s to computation %q, because element #%d is from a different computation (%q)",
				op, c.name, i, element.computation.name)
		}
		elementShapes[i] = element.shape
	}
	return c.newInstruction(op, shapes.MakeTuple(elementShapes...), elements...), nil
}

// CustomCall adds a call to the external function target, producing an array of the given shape. Its semantics
// are opaque: it can be part of a graph, but not of an emitted loop fusion.
func CustomCall(target string, shape shapes.Shape, operands ...*Instruction) (*Instruction, error) {
	op := optypes.CustomCall
	c, err := checkOperands(op, operands...)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, errors.Errorf("%s requires a target", op)
	}
	if !shape.Ok() || shape.IsTuple() {
		return nil, errors.Errorf("invalid shape %s for %s %q", shape, op, target)
	}
	instr := c.newInstruction(op, shape.Clone(), operands...)
	instr.customCallTarget = target
	return instr, nil
}

func instructionsShapes(instructions []*Instruction) []shapes.Shape {
	s := make([]shapes.Shape, len(instructions))
	for i, instr := range instructions {
		s[i] = instr.shape
	}
	return s
}
