package indexanalysis

import (
	"slices"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/pkg/errors"
)

// OperandIndexing returns the map from the index of an element of the output of instr to the index of the
// element of its operand #operandIndex used to compute it.
//
// The map dimensions are the output axes of instr. Reductions add one symbol per reduced axis, ranging over
// the reduced axis; their initial values are indexed by a map with no results (scalars).
//
// It returns an error wrapping ErrUnsupportedOperation if there is no rule for the kind of instr, and
// ErrMalformedGraph if its parameters don't match the shapes. An operandIndex out of range is a bug,
// and it panics.
func OperandIndexing(instr *hlo.Instruction, operandIndex int) (*indexing.Map, error) {
	if operandIndex < 0 || operandIndex >= len(instr.Operands()) {
		panic(errors.Errorf("OperandIndexing(%q, %d): operation %s has %d operands",
			instr.Name(), operandIndex, instr.Kind(), len(instr.Operands())))
	}
	output := instr.OutputShape(0)
	operand := instr.Operand(operandIndex)
	outputDims := output.Dimensions
	operandDims := operand.Shape().Dimensions
	dims := indexing.DimVarsForShape(outputDims)

	switch kind := instr.Kind(); {
	case isElementwise(kind):
		if len(operandDims) == 0 && len(outputDims) > 0 {
			// Scalar operand, e.g. the predicate of a Select.
			return indexing.NewMap(dims, nil, nil), nil
		}
		if !slices.Equal(operandDims, outputDims) {
			return nil, malformed(instr, "operand #%d shape %s doesn't match output shape %s",
				operandIndex, operand.Shape(), output)
		}
		return indexing.IdentityMap(outputDims), nil

	case kind == optypes.Tuple:
		return indexing.IdentityMap(operandDims), nil

	case kind == optypes.Bitcast:
		if slices.Equal(operandDims, outputDims) {
			return indexing.IdentityMap(outputDims), nil
		}
		return reshapeIndexing(instr, outputDims, operandDims)

	case kind == optypes.Reshape:
		return reshapeIndexing(instr, outputDims, operandDims)

	case kind == optypes.Broadcast:
		axesMapping := instr.Dimensions()
		if len(axesMapping) != len(operandDims) {
			return nil, malformed(instr, "broadcast axes %v don't match operand rank %d", axesMapping, len(operandDims))
		}
		results := make([]indexing.Expr, len(axesMapping))
		for operandAxis, outputAxis := range axesMapping {
			if outputAxis < 0 || outputAxis >= len(outputDims) || outputDims[outputAxis] != operandDims[operandAxis] {
				return nil, malformed(instr, "broadcast axis mapping %d -> %d invalid for %s -> %s",
					operandAxis, outputAxis, operand.Shape(), output)
			}
			results[operandAxis] = indexing.Dim(outputAxis)
		}
		return indexing.NewMap(dims, nil, results), nil

	case kind == optypes.Reverse:
		if !slices.Equal(operandDims, outputDims) {
			return nil, malformed(instr, "operand shape %s doesn't match output shape %s", operand.Shape(), output)
		}
		results := identityResults(len(outputDims))
		for _, axis := range instr.Dimensions() {
			if axis < 0 || axis >= len(outputDims) {
				return nil, malformed(instr, "reversed axis %d out of range for rank %d", axis, len(outputDims))
			}
			results[axis] = indexing.Const(int64(outputDims[axis] - 1)).Sub(indexing.Dim(axis))
		}
		return indexing.NewMap(dims, nil, results), nil

	case kind == optypes.Transpose:
		permutation := instr.Dimensions()
		if len(permutation) != len(operandDims) || len(permutation) != len(outputDims) {
			return nil, malformed(instr, "permutation %v doesn't match operand rank %d", permutation, len(operandDims))
		}
		results := make([]indexing.Expr, len(permutation))
		filled := make([]bool, len(permutation))
		for outputAxis, operandAxis := range permutation {
			if operandAxis < 0 || operandAxis >= len(permutation) || filled[operandAxis] ||
				operandDims[operandAxis] != outputDims[outputAxis] {
				return nil, malformed(instr, "invalid permutation %v for %s -> %s", permutation, operand.Shape(), output)
			}
			filled[operandAxis] = true
			results[operandAxis] = indexing.Dim(outputAxis)
		}
		return indexing.NewMap(dims, nil, results), nil

	case kind == optypes.Slice:
		starts, strides := instr.SliceStarts(), instr.SliceStrides()
		if len(starts) != len(operandDims) || len(strides) != len(operandDims) || len(outputDims) != len(operandDims) {
			return nil, malformed(instr, "slice parameters don't match operand rank %d", len(operandDims))
		}
		results := make([]indexing.Expr, len(operandDims))
		for axis := range operandDims {
			results[axis] = indexing.Dim(axis).Mul(int64(strides[axis])).AddConst(int64(starts[axis]))
		}
		return indexing.NewMap(dims, nil, results), nil

	case kind == optypes.Reduce:
		return reduceIndexing(instr, operandIndex)

	default:
		return nil, errors.Wrapf(ErrUnsupportedOperation, "no indexing rule for operation %s (instruction %q)",
			kind, instr.Name())
	}
}

func isElementwise(kind optypes.OpType) bool {
	switch kind {
	case optypes.Abs, optypes.Negate, optypes.Exponential, optypes.Log, optypes.Sqrt, optypes.Rsqrt,
		optypes.Tanh, optypes.Cosine, optypes.Sine, optypes.Logistic, optypes.Floor, optypes.Ceil,
		optypes.Not, optypes.Convert, optypes.Copy,
		optypes.Add, optypes.Subtract, optypes.Multiply, optypes.Divide, optypes.Remainder, optypes.Power,
		optypes.Maximum, optypes.Minimum, optypes.Atan2, optypes.And, optypes.Or, optypes.Xor,
		optypes.Select:
		return true
	}
	return false
}

func malformed(instr *hlo.Instruction, format string, args ...any) error {
	return errors.Wrapf(ErrMalformedGraph, "%s %q: %s", instr.Kind(), instr.Name(), errors.Errorf(format, args...))
}

func identityResults(rank int) []indexing.Expr {
	results := make([]indexing.Expr, rank)
	for axis := range results {
		results[axis] = indexing.Dim(axis)
	}
	return results
}

// reshapeIndexing linearizes the output index (row-major) and delinearizes it over the operand dimensions.
func reshapeIndexing(instr *hlo.Instruction, outputDims, operandDims []int) (*indexing.Map, error) {
	if product(outputDims) != product(operandDims) {
		return nil, malformed(instr, "operand dimensions %v and output dimensions %v have different sizes",
			operandDims, outputDims)
	}
	return indexing.NewMap(indexing.DimVarsForShape(outputDims), nil,
		Delinearize(Linearize(identityResults(len(outputDims)), outputDims), operandDims)).Simplify(), nil
}

// Linearize returns the row-major linear offset of the multi-index in a tensor with the given dimensions.
func Linearize(index []indexing.Expr, dimensions []int) indexing.Expr {
	linear := indexing.Const(0)
	stride := int64(1)
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		linear = linear.Add(index[axis].Mul(stride))
		stride *= int64(dimensions[axis])
	}
	return linear
}

// Delinearize returns the multi-index of the row-major linear offset in a tensor with the given dimensions.
func Delinearize(linear indexing.Expr, dimensions []int) []indexing.Expr {
	index := make([]indexing.Expr, len(dimensions))
	stride := int64(1)
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		index[axis] = linear.FloorDiv(stride).Mod(int64(dimensions[axis]))
		stride *= int64(dimensions[axis])
	}
	return index
}

func product(dimensions []int) int {
	p := 1
	for _, d := range dimensions {
		p *= d
	}
	return p
}

// reduceIndexing: the output axes are the non-reduced axes of the inputs, and each reduced axis becomes a
// symbol, numbered in increasing axis order.
func reduceIndexing(instr *hlo.Instruction, operandIndex int) (*indexing.Map, error) {
	numInputs := len(instr.Operands()) / 2
	outputDims := instr.OutputShape(0).Dimensions
	dims := indexing.DimVarsForShape(outputDims)
	if operandIndex >= numInputs {
		// Initial values are scalars.
		return indexing.NewMap(dims, nil, nil), nil
	}
	inputDims := instr.Operand(operandIndex).Shape().Dimensions
	reduced := slices.Clone(instr.Dimensions())
	slices.Sort(reduced)
	if len(inputDims) != len(outputDims)+len(reduced) {
		return nil, malformed(instr, "reduced axes %v don't match input rank %d and output rank %d",
			instr.Dimensions(), len(inputDims), len(outputDims))
	}
	symbols := make([]indexing.Variable, len(reduced))
	results := make([]indexing.Expr, len(inputDims))
	outputAxis := 0
	for axis, dim := range inputDims {
		if i, found := slices.BinarySearch(reduced, axis); found {
			symbols[i] = indexing.SymbolVar("", 0, int64(dim-1))
			results[axis] = indexing.Sym(i)
			continue
		}
		if outputAxis >= len(outputDims) || outputDims[outputAxis] != dim {
			return nil, malformed(instr, "input dimensions %v don't match output dimensions %v for reduced axes %v",
				inputDims, outputDims, instr.Dimensions())
		}
		results[axis] = indexing.Dim(outputAxis)
		outputAxis++
	}
	return indexing.NewMap(dims, symbols, results), nil
}
