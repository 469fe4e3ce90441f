// Package shapeinference calculates the shape resulting from operations and validates their inputs.
//
// Loop fusions only contain operations whose operands and outputs are fully determined at graph construction,
// so every geometry problem (mismatched dimensions, invalid axes or permutations, out-of-range slices) is
// reported here, before any indexing is derived.
//
// Elementwise operations don't broadcast implicitly: operands must have the same dimensions, and broadcasting
// is always an explicit Broadcast operation.
package shapeinference

import (
	"slices"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/internal/utils"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
)

var (
	// BooleanOrBitwiseOperations take booleans or integers as input.
	BooleanOrBitwiseOperations = utils.SetWith(
		optypes.And,
		optypes.Or,
		optypes.Xor,
		optypes.Not,
	)

	// NumberOperations can take any type of number as input: integers or floats.
	NumberOperations = utils.SetWith(
		optypes.Add,
		optypes.Subtract,
		optypes.Multiply,
		optypes.Divide,
		optypes.Remainder,
		optypes.Power,
		optypes.Maximum,
		optypes.Minimum,
		optypes.Abs,
	)

	SignedNumberOperations = utils.SetWith(
		optypes.Negate,
	)

	// FloatOperations operate only on floats.
	FloatOperations = utils.SetWith(
		optypes.Atan2,
		optypes.Exponential,
		optypes.Log,
		optypes.Sqrt,
		optypes.Rsqrt,
		optypes.Tanh,
		optypes.Cosine,
		optypes.Sine,
		optypes.Logistic,
		optypes.Floor,
		optypes.Ceil,
	)

	// StandardBinaryOperations include all elementwise operations with two operands, usually named lhs
	// (left-hand-side) and rhs (right-hand-side).
	StandardBinaryOperations = utils.SetWith(
		optypes.Add,
		optypes.Subtract,
		optypes.Multiply,
		optypes.Divide,
		optypes.Remainder,
		optypes.Power,
		optypes.Maximum,
		optypes.Minimum,
		optypes.Atan2,
		optypes.And,
		optypes.Or,
		optypes.Xor,
	)

	// StandardUnaryOperations include all elementwise operations with a single operand, whose output shape
	// is the same as the input.
	StandardUnaryOperations = utils.SetWith(
		optypes.Abs,
		optypes.Negate,
		optypes.Exponential,
		optypes.Log,
		optypes.Sqrt,
		optypes.Rsqrt,
		optypes.Tanh,
		optypes.Cosine,
		optypes.Sine,
		optypes.Logistic,
		optypes.Floor,
		optypes.Ceil,
		optypes.Not,
		optypes.Copy,
	)
)

func checkDType(kind string, opType optypes.OpType, shape shapes.Shape) error {
	dtype := shape.DType
	if BooleanOrBitwiseOperations.Has(opType) && dtype != dtypes.Bool && !dtype.IsInt() {
		return errors.Errorf("logical/bitwise %s %s must have boolean or integer data types as input, got %s", kind, opType, shape)
	}
	if SignedNumberOperations.Has(opType) && (dtype.IsUnsigned() || !(dtype.IsInt() || dtype.IsFloat())) {
		return errors.Errorf("signed %s %s must have a signed data type as input, got %s", kind, opType, shape)
	}
	if NumberOperations.Has(opType) && !(dtype.IsInt() || dtype.IsFloat()) {
		return errors.Errorf("numeric %s %s must have a number (Int32, Float32, ...) data type as input, got %s", kind, opType, shape)
	}
	if FloatOperations.Has(opType) && !dtype.IsFloat() {
		return errors.Errorf("float %s %s must have a float (Float32, Float64, ...) data type as input, got %s", kind, opType, shape)
	}
	return nil
}

// BinaryOp returns the output shape for ops in the StandardBinaryOperations set.
//
// It returns an error if the shapes don't match, or if the data type (shape.DType) is invalid for the operation,
// e.g. Atan2 of integers.
func BinaryOp(opType optypes.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if !lhsShape.Ok() || !rhsShape.Ok() || lhsShape.IsTuple() || rhsShape.IsTuple() {
		err = errors.Errorf("invalid shape for %s or %s for %q", lhsShape, rhsShape, opType)
		return
	}
	if !lhsShape.Equal(rhsShape) {
		err = errors.Errorf("shapes for %q must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if err = checkDType("BinaryOp", opType, lhsShape); err != nil {
		return
	}
	return lhsShape.Clone(), nil
}

// UnaryOp checks the validity of the data type for StandardUnaryOperations and returns either an error or
// the output shape, which is the same as the operand.
func UnaryOp(opType optypes.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !StandardUnaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardUnaryOperations set, cannot process it with UnaryOp", opType)
		return
	}
	if !operand.Ok() || operand.IsTuple() {
		err = errors.Errorf("invalid shape %s for UnaryOp %s", operand, opType)
		return
	}
	if err = checkDType("UnaryOp", opType, operand); err != nil {
		return
	}
	return operand.Clone(), nil
}

// Select returns the shape resulting from the Select operation.
//
// The pred must be boolean and can be a scalar or have the same dimensions as onTrue and onFalse.
// onTrue and onFalse must have the same shape and dtypes.
func Select(pred, onTrue, onFalse shapes.Shape) (output shapes.Shape, err error) {
	if pred.DType != dtypes.Bool {
		err = errors.Errorf("pred for Select() must be a boolean, got %s instead", pred)
		return
	}
	if !onTrue.Equal(onFalse) {
		err = errors.Errorf("onTrue (%s) and onFalse (%s) values for Select() must have the same shape",
			onTrue, onFalse)
		return
	}
	if !pred.IsScalar() && !slices.Equal(pred.Dimensions, onTrue.Dimensions) {
		err = errors.Errorf("pred for Select() must either be a scalar or match onTrue and onFalse shapes, instead got shapes pred=%s, onTrue=%s and onFalse=%s",
			pred, onTrue, onFalse)
		return
	}
	return onTrue.Clone(), nil
}

// Convert returns the operand shape with the new dtype.
func Convert(operand shapes.Shape, dtype dtypes.DType) (output shapes.Shape, err error) {
	if !operand.Ok() || operand.IsTuple() {
		return shapes.Invalid(), errors.Errorf("Convert: invalid operand shape %s", operand)
	}
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("Convert: invalid target dtype for operand %s", operand)
	}
	return operand.WithDType(dtype), nil
}

// Bitcast validates a reinterpretation of the operand memory as the target shape: both must have the same
// size in bytes. The dimensions may differ, in which case the element order is preserved (row-major).
func Bitcast(operand, target shapes.Shape) error {
	if !operand.Ok() || operand.IsTuple() || !target.Ok() || target.IsTuple() {
		return errors.Errorf("Bitcast: invalid shapes %s -> %s", operand, target)
	}
	if operand.DType.Bits() != target.DType.Bits() {
		return errors.Errorf("Bitcast: element sizes must match, got %s (%d bits) -> %s (%d bits)",
			operand, operand.DType.Bits(), target, target.DType.Bits())
	}
	if operand.Size() != target.Size() {
		return errors.Errorf("Bitcast: number of elements must match, got %s (%d elements) -> %s (%d elements)",
			operand, operand.Size(), target, target.Size())
	}
	return nil
}

// Iota validates an iota of the given shape counting along iotaAxis.
func Iota(shape shapes.Shape, iotaAxis int) error {
	if !shape.Ok() || shape.IsTuple() {
		return errors.Errorf("Iota: invalid shape %s", shape)
	}
	if !shape.DType.IsInt() && !shape.DType.IsFloat() {
		return errors.Errorf("Iota: shape %s must have a numeric data type", shape)
	}
	if iotaAxis < 0 || iotaAxis >= shape.Rank() {
		return errors.Errorf("Iota: axis %d out of range for shape %s", iotaAxis, shape)
	}
	return nil
}

// Transpose all axes of the operand.
// There must be one value in permutations for each axis in the operand.
// The output will have: output.Shape.Dimension[ii] = operand.Shape.Dimension[permutations[i]].
func Transpose(operand shapes.Shape, permutation []int) (output shapes.Shape, err error) {
	rank := operand.Rank()
	if len(permutation) != rank {
		err = errors.Errorf("Transpose() requires all axes permutation to be defined, operand has shape %s, but %d permutation were given",
			operand, len(permutation))
		return
	}
	if rank == 0 {
		return operand, nil
	}

	// Check permutation axes are within range and unique.
	axesSet := slices.Clone(permutation)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = errors.Errorf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = errors.Errorf("invalid permutation given to Transpose(%s, %v), there cannot be any repeated axis, each must appear exactly once",
				operand, permutation)
			return
		}
	}

	output = operand.Clone()
	for axis := range output.Dimensions {
		srcAxis := permutation[axis]
		output.Dimensions[axis] = operand.Dimensions[srcAxis]
	}
	return
}

// Broadcast verifies that the arguments are valid: axesMapping[i] is the target axis of the operand axis i.
// The output shape is already known, so nothing is returned.
func Broadcast(operand, targetShape shapes.Shape, axesMapping []int) error {
	if operand.DType != targetShape.DType {
		return errors.Errorf("Broadcast() requires the operand and the target shape to have the same data type, got operand=%s and targetShape=%s",
			operand, targetShape)
	}
	targetRank := targetShape.Rank()
	if targetRank < operand.Rank() {
		return errors.Errorf("Broadcast() cannot be used to shrink the rank of the operand, got operand=%s and targetShape=%s",
			operand, targetShape)
	}
	if len(axesMapping) != operand.Rank() {
		return errors.Errorf("Broadcast() requires one axis mapping per operand axis, got operand=%s and axesMapping=%v",
			operand, axesMapping)
	}
	seen := utils.MakeSet[int](len(axesMapping))
	for operandAxis, targetAxis := range axesMapping {
		if targetAxis < 0 || targetAxis >= targetRank {
			return errors.Errorf("Broadcast() axesMapping[%d]=%d is out of range for targetShape=%s",
				operandAxis, targetAxis, targetShape)
		}
		if seen.Has(targetAxis) {
			return errors.Errorf("Broadcast() axesMapping=%v has repeated target axis %d", axesMapping, targetAxis)
		}
		seen.Insert(targetAxis)
		if operandAxis > 0 && targetAxis <= axesMapping[operandAxis-1] {
			return errors.Errorf("Broadcast() axesMapping=%v must be strictly increasing", axesMapping)
		}
		if operand.Dimensions[operandAxis] != targetShape.Dimensions[targetAxis] {
			return errors.Errorf("Broadcast() operand axis %d (dimension %d) doesn't match target axis %d (dimension %d), operand=%s, targetShape=%s",
				operandAxis, operand.Dimensions[operandAxis], targetAxis, targetShape.Dimensions[targetAxis], operand, targetShape)
		}
	}
	return nil
}

// Reshape validates that the operand can be reshaped to the given dimensions: the number of elements must match.
func Reshape(operand shapes.Shape, dimensions []int) (output shapes.Shape, err error) {
	if !operand.Ok() || operand.IsTuple() {
		return shapes.Invalid(), errors.Errorf("Reshape: invalid operand shape %s", operand)
	}
	output = shapes.Make(operand.DType, dimensions...)
	if output.Size() != operand.Size() {
		return shapes.Invalid(), errors.Errorf("Reshape: cannot reshape %s (%d elements) to %s (%d elements)",
			operand, operand.Size(), output, output.Size())
	}
	return output, nil
}

// Reverse validates the axes to reverse: they must be valid and unique.
func Reverse(operand shapes.Shape, axes []int) (output shapes.Shape, err error) {
	seen := utils.MakeSet[int](len(axes))
	for i, axis := range axes {
		if axis < 0 || axis >= operand.Rank() {
			return shapes.Invalid(), errors.Errorf("Reverse: axes[%d]=%d is out of range for operand %s", i, axis, operand)
		}
		if seen.Has(axis) {
			return shapes.Invalid(), errors.Errorf("Reverse: axis %d repeated in %v", axis, axes)
		}
		seen.Insert(axis)
	}
	return operand.Clone(), nil
}

// Slice returns the shape of a strided slice of the operand: the elements starts[i] + k*strides[i] < limits[i].
func Slice(operand shapes.Shape, starts, limits, strides []int) (output shapes.Shape, err error) {
	rank := operand.Rank()
	opName := "Slice"
	if !operand.Ok() || operand.IsTuple() {
		return shapes.Invalid(), errors.Errorf("%s: invalid operand shape %s", opName, operand)
	}
	if len(starts) != rank {
		return shapes.Invalid(), errors.Errorf("%s: len(starts)=%d, but operand rank is %d", opName, len(starts), rank)
	}
	if len(limits) != rank {
		return shapes.Invalid(), errors.Errorf("%s: len(limits)=%d, but operand rank is %d", opName, len(limits), rank)
	}
	if len(strides) != rank {
		return shapes.Invalid(), errors.Errorf("%s: len(strides)=%d, but operand rank is %d", opName, len(strides), rank)
	}

	output = shapes.Shape{
		DType:      operand.DType,
		Dimensions: make([]int, rank),
	}

	for axis := 0; axis < rank; axis++ {
		start, limit, stride := starts[axis], limits[axis], strides[axis]
		dimSize := operand.Dimensions[axis]

		if stride <= 0 {
			return shapes.Invalid(), errors.Errorf("%s: stride must be positive, but got stride[%d]=%d for operand shape %s",
				opName, axis, stride, operand)
		}
		if start < 0 || start >= dimSize {
			return shapes.Invalid(), errors.Errorf("%s: start index %d is out of bounds for axis %d with size %d (operand shape %s)",
				opName, start, axis, dimSize, operand)
		}
		// Limit can be equal to dimSize.
		if limit < start || limit > dimSize {
			return shapes.Invalid(), errors.Errorf("%s: limit index %d is out of bounds for axis %d (start=%d, size=%d, operand shape %s)",
				opName, limit, axis, start, dimSize, operand)
		}

		// The first one is always taken, so we use the ceiling of the division.
		output.Dimensions[axis] = (limit - start + (stride - 1)) / stride
	}
	return output, nil
}

// Reduce returns the output shapes of a (possibly variadic) reduction of the inputs over the given axes.
//
// The reduction function (combiner) takes the accumulated values followed by the input values, all scalars,
// and returns one scalar per input.
func Reduce(inputs, initialValues, reductionInputs, reductionOutputs []shapes.Shape, axes []int) (outputs []shapes.Shape, err error) {
	// Check inputs and initialValues.
	numReductions := len(inputs)
	if numReductions == 0 {
		return nil, errors.New("Reduce requires at least one input")
	}
	if len(initialValues) != numReductions {
		return nil, errors.Errorf("Reduce requires the same number of initial values as inputs, got %d initial values and %d inputs",
			len(initialValues), len(inputs))
	}
	baseDimensions := inputs[0].Dimensions
	for i, input := range inputs {
		if input.DType != initialValues[i].DType {
			return nil, errors.Errorf("Reduce requires the same dtype for initial values and inputs, got %s and %s for input #%d",
				initialValues[i].DType, input.DType, i)
		}
		if !initialValues[i].IsScalar() {
			return nil, errors.Errorf("Reduce requires scalar initial values, got %s for initial value #%d", initialValues[i], i)
		}
		if !slices.Equal(input.Dimensions, baseDimensions) {
			return nil, errors.Errorf("Reduce requires the same shape (dimensions only) for all inputs, got %s and %s for inputs #0 and #%d",
				inputs[0], input, i)
		}
	}

	// Check that all reduction inputs and outputs are valid.
	if len(reductionInputs) != 2*numReductions {
		return nil, errors.Errorf("The reduction function for the Reduce operation must have 2 inputs for each initialValue, but reduction has %d inputs for 2*%d=%d initial values",
			len(reductionInputs), len(initialValues), 2*len(initialValues))
	}
	if len(reductionOutputs) != numReductions {
		return nil, errors.Errorf("The reduction function for the Reduce operation must have 1 output for each initialValue, but reduction has %d outputs for %d initial values",
			len(reductionOutputs), len(initialValues))
	}
	for i := range numReductions {
		if reductionInputs[i].DType != reductionInputs[i+numReductions].DType || reductionInputs[i].DType != reductionOutputs[i].DType {
			return nil, errors.Errorf("Reduce requires the same dtype for lhs[i], rhs[i] inputs and output[i], got lhs[%d]=%s and rhs[%d+%d]=%s and output[%d]=%s",
				i, reductionInputs[i], i, numReductions, reductionInputs[i+numReductions], i, reductionOutputs[i])
		}
	}

	// Check the axes are valid.
	rank := inputs[0].Rank()
	if len(axes) > rank {
		return nil, errors.Errorf("input for Reduce has rank=%d, but %d axes for reduction were given", rank, len(axes))
	}
	axesSet := utils.MakeSet[int]()
	for i, axis := range axes {
		if axis < 0 || axis >= rank {
			return nil, errors.Errorf("invalid value for axes[%d]=%d for Reduce, inputs[0].shape=%s", i, axis, inputs[0])
		}
		if axesSet.Has(axis) {
			return nil, errors.Errorf("duplicate value for axes[%d]=%d for Reduce, axes=%v", i, axis, axes)
		}
		axesSet.Insert(axis)
	}

	// Build the output shapes.
	reducedDims := make([]int, 0, rank-len(axes))
	for axis, dim := range inputs[0].Dimensions {
		if axesSet.Has(axis) {
			// This axis will be reduced, and it disappears from the output shape.
			continue
		}
		reducedDims = append(reducedDims, dim)
	}
	outputs = make([]shapes.Shape, len(inputs))
	for ii, outputBase := range reductionOutputs {
		outputs[ii] = shapes.Make(outputBase.DType, reducedDims...)
	}
	return
}
