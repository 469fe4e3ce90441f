package mlir

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// axisNames of the gpu thread and block ids.
var axisNames = []string{"x", "y", "z"}

// ThreadID returns the id of the thread within its block, along the axis 0 (x), 1 (y) or 2 (z).
func (fn *Function) ThreadID(axis int) (*Value, error) {
	return fn.gpuID("gpu.thread_id", axis)
}

// BlockID returns the id of the block within the grid, along the axis 0 (x), 1 (y) or 2 (z).
func (fn *Function) BlockID(axis int) (*Value, error) {
	return fn.gpuID("gpu.block_id", axis)
}

func (fn *Function) gpuID(op string, axis int) (*Value, error) {
	if err := fn.checkInputs(op); err != nil {
		return nil, err
	}
	if axis < 0 || axis >= len(axisNames) {
		return nil, errors.Errorf("invalid axis %d for %s, it must be 0, 1 or 2", axis, op)
	}
	stmt := fn.addStatement(op, nil, []Type{IndexType})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s", axisNames[axis])
	}
	return stmt.Outputs[0], nil
}

// ConstantIndex returns an index constant.
func (fn *Function) ConstantIndex(value int64) (*Value, error) {
	op := "arith.constant"
	if err := fn.checkInputs(op); err != nil {
		return nil, err
	}
	stmt := fn.addStatement(op, nil, []Type{IndexType})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %d : index", value)
	}
	return stmt.Outputs[0], nil
}

// Constant returns a scalar constant of the given dtype. For integer dtypes the value is truncated.
func (fn *Function) Constant(dtype dtypes.DType, value float64) (*Value, error) {
	op := "arith.constant"
	if err := fn.checkInputs(op); err != nil {
		return nil, err
	}
	literal, err := formatLiteral(dtype, value)
	if err != nil {
		return nil, err
	}
	stmt := fn.addStatement(op, nil, []Type{ScalarType(dtype)})
	stmt.render = func(w *writer, _ string) {
		if dtype == dtypes.Bool {
			w.printf(" %s", literal)
			return
		}
		w.printf(" %s : %s", literal, dtype.ToMLIR())
	}
	return stmt.Outputs[0], nil
}

// formatLiteral formats a constant the way MLIR prints it: floats in exponential notation if it is exact,
// and otherwise (and for half precision types) as the hexadecimal bits.
func formatLiteral(dtype dtypes.DType, value float64) (string, error) {
	switch {
	case dtype == dtypes.Bool:
		return strconv.FormatBool(value != 0), nil
	case dtype.IsInt():
		return strconv.FormatInt(int64(value), 10), nil
	case dtype == dtypes.Float16:
		return fmt.Sprintf("0x%04X", float16.Fromfloat32(float32(value)).Bits()), nil
	case dtype == dtypes.BFloat16:
		return fmt.Sprintf("0x%04X", math.Float32bits(float32(value))>>16), nil
	case dtype == dtypes.Float32:
		v32 := float32(value)
		if math.IsInf(float64(v32), 0) || math.IsNaN(float64(v32)) {
			return fmt.Sprintf("0x%08X", math.Float32bits(v32)), nil
		}
		return formatFloat(float64(v32), 32), nil
	case dtype == dtypes.Float64:
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return fmt.Sprintf("0x%016X", math.Float64bits(value)), nil
		}
		return formatFloat(value, 64), nil
	}
	return "", errors.Errorf("constants of dtype %s are not supported", dtype)
}

func formatFloat(value float64, bitSize int) string {
	text := strconv.FormatFloat(value, 'e', 6, bitSize)
	if parsed, err := strconv.ParseFloat(text, bitSize); err == nil && parsed == value {
		return text
	}
	return strconv.FormatFloat(value, 'e', -1, bitSize)
}

// AffineApply computes the single result of the indexing map m, given the values of its dimensions and
// symbols. The domain of m is not checked: it is the caller's responsibility to guard the computation.
func (fn *Function) AffineApply(m *indexing.Map, dims, symbols []*Value) (*Value, error) {
	op := "affine.apply"
	if err := fn.checkInputs(op, slices.Concat(dims, symbols)...); err != nil {
		return nil, err
	}
	if m.NumResults() != 1 {
		return nil, errors.Errorf("%s requires a map with exactly one result, got %d", op, m.NumResults())
	}
	if len(dims) != m.NumDims() || len(symbols) != m.NumSymbols() {
		return nil, errors.Errorf("%s: map %s takes %d dimensions and %d symbols, got %d and %d",
			op, m.AffineMapString(), m.NumDims(), m.NumSymbols(), len(dims), len(symbols))
	}
	for i, v := range slices.Concat(dims, symbols) {
		if !v.typ.IsIndex() {
			return nil, errors.Errorf("%s operand #%d (%s) must be an index, got %s", op, i, v, v.typ)
		}
	}
	alias := fn.Builder.affineMapAlias(m)
	stmt := fn.addStatement(op, slices.Concat(dims, symbols), []Type{IndexType})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s(%s)", alias, joinValues(dims))
		if len(symbols) > 0 {
			w.printf("[%s]", joinValues(symbols))
		}
	}
	return stmt.Outputs[0], nil
}

// checkIndices verifies that indices address an element of tensor.
func checkIndices(op string, tensor *Value, indices []*Value) error {
	if !tensor.typ.IsTensor() {
		return errors.Errorf("%s requires a tensor, got %s of type %s", op, tensor, tensor.typ)
	}
	if rank := tensor.typ.shape.Rank(); len(indices) != rank {
		return errors.Errorf("%s on %s of type %s requires %d indices, got %d", op, tensor, tensor.typ, rank, len(indices))
	}
	for i, index := range indices {
		if !index.typ.IsIndex() {
			return errors.Errorf("%s index #%d (%s) must be an index, got %s", op, i, index, index.typ)
		}
	}
	return nil
}

// Extract returns the element of tensor at the given indices.
func (fn *Function) Extract(tensor *Value, indices ...*Value) (*Value, error) {
	op := "tensor.extract"
	if err := fn.checkInputs(op, slices.Concat([]*Value{tensor}, indices)...); err != nil {
		return nil, err
	}
	if err := checkIndices(op, tensor, indices); err != nil {
		return nil, err
	}
	stmt := fn.addStatement(op, slices.Concat([]*Value{tensor}, indices), []Type{ScalarType(tensor.typ.dtype)})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s[%s] : %s", tensor, joinValues(indices), tensor.typ)
	}
	return stmt.Outputs[0], nil
}

// Insert returns a new tensor with the element at the given indices replaced by scalar.
func (fn *Function) Insert(scalar, tensor *Value, indices ...*Value) (*Value, error) {
	op := "tensor.insert"
	if err := fn.checkInputs(op, slices.Concat([]*Value{scalar, tensor}, indices)...); err != nil {
		return nil, err
	}
	if err := checkIndices(op, tensor, indices); err != nil {
		return nil, err
	}
	if !scalar.typ.Equal(ScalarType(tensor.typ.dtype)) {
		return nil, errors.Errorf("%s of %s (%s) into tensor %s of type %s: element types don't match",
			op, scalar, scalar.typ, tensor, tensor.typ)
	}
	stmt := fn.addStatement(op, slices.Concat([]*Value{scalar, tensor}, indices), []Type{tensor.typ})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s into %s[%s] : %s", scalar, tensor, joinValues(indices), tensor.typ)
	}
	return stmt.Outputs[0], nil
}

// Call adds a call to callee, a top-level function that must have already returned, in the function fn.
func (fn *Function) Call(callee *Function, args ...*Value) ([]*Value, error) {
	op := "func.call"
	if err := fn.checkInputs(op, args...); err != nil {
		return nil, err
	}
	if callee.IsClosure() || callee.Builder != fn.Builder {
		return nil, errors.Errorf("%s: callee must be a top-level function of module %q", op, fn.Builder.name)
	}
	if !callee.Returned {
		return nil, errors.Errorf("%s: callee %q must return before it is called", op, callee.Name)
	}
	argTypes := valuesTypes(args)
	calleeTypes := valuesTypes(callee.Inputs)
	if !slices.EqualFunc(argTypes, calleeTypes, Type.Equal) {
		return nil, errors.Errorf("%s @%s: arguments types %s don't match the callee inputs %s",
			op, callee.Name, typesList(argTypes), typesList(calleeTypes))
	}
	stmt := fn.addStatement(op, args, callee.Outputs)
	stmt.render = func(w *writer, _ string) {
		w.printf(" @%s(%s) : (", callee.Name, joinValues(args))
		for i, t := range argTypes {
			if i > 0 {
				w.printf(", ")
			}
			w.printf("%s", t)
		}
		w.printf(")")
		if len(callee.Outputs) > 0 {
			w.printf(" -> %s", typesList(callee.Outputs))
		}
	}
	return stmt.Outputs, nil
}

// Comparison predicates of CmpI, for index and integer values.
const (
	CmpEQ  = "eq"
	CmpNE  = "ne"
	CmpSLT = "slt"
	CmpSLE = "sle"
	CmpSGT = "sgt"
	CmpSGE = "sge"
)

// CmpI compares two index (or integer) values, returning an i1.
func (fn *Function) CmpI(predicate string, lhs, rhs *Value) (*Value, error) {
	op := "arith.cmpi"
	if err := fn.checkInputs(op, lhs, rhs); err != nil {
		return nil, err
	}
	if !lhs.typ.Equal(rhs.typ) || !(lhs.typ.IsIndex() || (lhs.typ.IsScalar() && lhs.typ.dtype.IsInt())) {
		return nil, errors.Errorf("%s requires two index or integer operands of the same type, got %s and %s",
			op, lhs.typ, rhs.typ)
	}
	stmt := fn.addStatement(op, []*Value{lhs, rhs}, []Type{ScalarType(dtypes.Bool)})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s, %s, %s : %s", predicate, lhs, rhs, lhs.typ)
	}
	return stmt.Outputs[0], nil
}

// IndexCast converts an index to an integer of the given dtype.
func (fn *Function) IndexCast(index *Value, dtype dtypes.DType) (*Value, error) {
	op := "arith.index_cast"
	if err := fn.checkInputs(op, index); err != nil {
		return nil, err
	}
	if !index.typ.IsIndex() || !dtype.IsInt() {
		return nil, errors.Errorf("%s converts an index to an integer, got %s to %s", op, index.typ, dtype)
	}
	return castStatement(fn, op, index, ScalarType(dtype)), nil
}

// castStatement adds a statement "op %x : from to to".
func castStatement(fn *Function, op string, x *Value, to Type) *Value {
	stmt := fn.addStatement(op, []*Value{x}, []Type{to})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s : %s to %s", x, x.typ, to)
	}
	return stmt.Outputs[0]
}

// For adds a loop "scf.for" with the induction variable going from lower to upper (exclusive) with the
// given step, carrying the iterArgs values from one iteration to the next.
//
// It returns the loop statement, whose outputs are the final values of the iterArgs. The body of the loop is
// loop.Regions[0], a closure with inputs (inductionVariable, iterArgs...), that must yield (Return) the
// values of the iterArgs for the next iteration.
func (fn *Function) For(lower, upper, step *Value, iterArgs ...*Value) (*Statement, error) {
	op := "scf.for"
	inputs := slices.Concat([]*Value{lower, upper, step}, iterArgs)
	if err := fn.checkInputs(op, inputs...); err != nil {
		return nil, err
	}
	for i, bound := range []*Value{lower, upper, step} {
		if !bound.typ.IsIndex() {
			return nil, errors.Errorf("%s bound #%d (%s) must be an index, got %s", op, i, bound, bound.typ)
		}
	}
	iterTypes := valuesTypes(iterArgs)
	stmt := fn.addStatement(op, inputs, iterTypes)
	body := fn.Closure()
	// The loop was just added, so inputs can't fail.
	inductionVar, _ := body.Input(IndexType)
	for _, t := range iterTypes {
		_, _ = body.Input(t)
	}
	body.expectOutputs(iterTypes)
	stmt.Regions = []*Function{body}
	stmt.render = func(w *writer, indent string) {
		w.printf(" %s = %s to %s step %s", inductionVar, lower, upper, step)
		if len(iterArgs) > 0 {
			w.printf(" iter_args(")
			for i, arg := range iterArgs {
				if i > 0 {
					w.printf(", ")
				}
				w.printf("%s = %s", body.Inputs[i+1], arg)
			}
			w.printf(") -> (%s)", typesListFlat(iterTypes))
		}
		w.printf(" {\n")
		body.writeBody(w, indent+indentation)
		w.printf("%s}", indent)
	}
	return stmt, nil
}

// If adds a conditional "scf.if" returning values of the given types.
//
// It returns the statement, whose outputs are the values returned by the branch taken. The branches are
// stmt.Regions[0] (then) and stmt.Regions[1] (else), closures that must Return values of resultTypes.
func (fn *Function) If(condition *Value, resultTypes ...Type) (*Statement, error) {
	op := "scf.if"
	if err := fn.checkInputs(op, condition); err != nil {
		return nil, err
	}
	if !condition.typ.Equal(ScalarType(dtypes.Bool)) {
		return nil, errors.Errorf("%s condition %s must be an i1, got %s", op, condition, condition.typ)
	}
	stmt := fn.addStatement(op, []*Value{condition}, resultTypes)
	thenBranch, elseBranch := fn.Closure(), fn.Closure()
	thenBranch.expectOutputs(resultTypes)
	elseBranch.expectOutputs(resultTypes)
	stmt.Regions = []*Function{thenBranch, elseBranch}
	stmt.render = func(w *writer, indent string) {
		w.printf(" %s", condition)
		if len(resultTypes) > 0 {
			w.printf(" -> (%s)", typesListFlat(resultTypes))
		}
		w.printf(" {\n")
		thenBranch.writeBody(w, indent+indentation)
		if len(resultTypes) > 0 || len(elseBranch.Statements) > 0 {
			w.printf("%s} else {\n", indent)
			elseBranch.writeBody(w, indent+indentation)
		}
		w.printf("%s}", indent)
	}
	return stmt, nil
}

// typesListFlat renders the types separated by commas, without parenthesis.
func typesListFlat(types []Type) string {
	text := typesList(types)
	if len(types) != 1 {
		text = text[1 : len(text)-1]
	}
	return text
}
