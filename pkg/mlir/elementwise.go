package mlir

import (
	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/internal/shapeinference"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/pkg/errors"
)

// floatOps maps the elementwise operations on floating point scalars to their MLIR operation.
var floatOps = map[optypes.OpType]string{
	optypes.Negate:      "arith.negf",
	optypes.Abs:         "math.absf",
	optypes.Exponential: "math.exp",
	optypes.Log:         "math.log",
	optypes.Sqrt:        "math.sqrt",
	optypes.Rsqrt:       "math.rsqrt",
	optypes.Tanh:        "math.tanh",
	optypes.Cosine:      "math.cos",
	optypes.Sine:        "math.sin",
	optypes.Floor:       "math.floor",
	optypes.Ceil:        "math.ceil",

	optypes.Add:       "arith.addf",
	optypes.Subtract:  "arith.subf",
	optypes.Multiply:  "arith.mulf",
	optypes.Divide:    "arith.divf",
	optypes.Remainder: "arith.remf",
	optypes.Power:     "math.powf",
	optypes.Maximum:   "arith.maximumf",
	optypes.Minimum:   "arith.minimumf",
	optypes.Atan2:     "math.atan2",
}

// intOps maps the elementwise operations on integer (and boolean) scalars to their MLIR operation.
// Signed and unsigned variations are selected by the dtype.
var intOps = map[optypes.OpType][2]string{
	optypes.Abs: {"math.absi", ""},

	optypes.Add:       {"arith.addi", "arith.addi"},
	optypes.Subtract:  {"arith.subi", "arith.subi"},
	optypes.Multiply:  {"arith.muli", "arith.muli"},
	optypes.Divide:    {"arith.divsi", "arith.divui"},
	optypes.Remainder: {"arith.remsi", "arith.remui"},
	optypes.Power:     {"math.ipowi", "math.ipowi"},
	optypes.Maximum:   {"arith.maxsi", "arith.maxui"},
	optypes.Minimum:   {"arith.minsi", "arith.minui"},
	optypes.And:       {"arith.andi", "arith.andi"},
	optypes.Or:        {"arith.ori", "arith.ori"},
	optypes.Xor:       {"arith.xori", "arith.xori"},
}

// Elementwise adds the elementwise operation op over scalar operands, all of the same dtype, except for the
// predicate of optypes.Select, which must be a boolean.
//
// Operations without a direct MLIR counterpart are expanded into a few statements: Logistic is
// 1/(1+exp(-x)), integer Negate is 0-x and Not is x xor -1 (or true, for booleans). Copy returns its
// operand.
func (fn *Function) Elementwise(op optypes.OpType, operands ...*Value) (*Value, error) {
	if len(operands) == 0 {
		return nil, errors.Errorf("elementwise %s requires operands", op)
	}
	if err := fn.checkInputs(op.String(), operands...); err != nil {
		return nil, err
	}
	if op == optypes.Select {
		return selectOp(fn, operands)
	}
	for i, operand := range operands {
		if !operand.typ.IsScalar() || operand.typ.dtype != operands[0].typ.dtype {
			return nil, errors.Errorf("elementwise %s requires scalar operands of the same dtype, operand #%d is %s and operand #0 is %s",
				op, i, operand.typ, operands[0].typ)
		}
	}
	dtype := operands[0].typ.dtype

	switch {
	case op == optypes.Copy && len(operands) == 1:
		return operands[0], nil
	case op == optypes.Logistic && len(operands) == 1 && dtype.IsFloat():
		return logistic(fn, operands[0])
	case op == optypes.Negate && len(operands) == 1 && dtype.IsInt():
		zero, err := fn.Constant(dtype, 0)
		if err != nil {
			return nil, err
		}
		return arithStatement(fn, "arith.subi", zero, operands[0]), nil
	case op == optypes.Not && len(operands) == 1 && (dtype.IsInt() || dtype == dtypes.Bool):
		allOnes, err := fn.Constant(dtype, -1)
		if err != nil {
			return nil, err
		}
		return arithStatement(fn, "arith.xori", operands[0], allOnes), nil
	}

	numOperands := 2
	if shapeinference.StandardUnaryOperations.Has(op) {
		numOperands = 1
	} else if !shapeinference.StandardBinaryOperations.Has(op) {
		return nil, errors.Errorf("%s is not an elementwise operation", op)
	}
	if len(operands) != numOperands {
		return nil, errors.Errorf("elementwise %s takes %d operands, got %d", op, numOperands, len(operands))
	}
	var mlirOp string
	if dtype.IsFloat() {
		mlirOp = floatOps[op]
	} else if dtype.IsInt() || dtype == dtypes.Bool {
		variations := intOps[op]
		mlirOp = variations[0]
		if dtype.IsUnsigned() {
			mlirOp = variations[1]
		}
	}
	if mlirOp == "" {
		return nil, errors.Errorf("elementwise %s is not supported for dtype %s", op, dtype)
	}
	return arithStatement(fn, mlirOp, operands...), nil
}

// arithStatement adds a statement "op %a, %b : type", whose output has the type of the operands.
func arithStatement(fn *Function, op string, operands ...*Value) *Value {
	t := operands[0].typ
	stmt := fn.addStatement(op, operands, []Type{t})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s : %s", joinValues(operands), t)
	}
	return stmt.Outputs[0]
}

func logistic(fn *Function, x *Value) (*Value, error) {
	one, err := fn.Constant(x.typ.dtype, 1)
	if err != nil {
		return nil, err
	}
	negX := arithStatement(fn, "arith.negf", x)
	exp := arithStatement(fn, "math.exp", negX)
	denominator := arithStatement(fn, "arith.addf", one, exp)
	return arithStatement(fn, "arith.divf", one, denominator), nil
}

func selectOp(fn *Function, operands []*Value) (*Value, error) {
	if len(operands) != 3 {
		return nil, errors.Errorf("select takes 3 operands, got %d", len(operands))
	}
	pred, onTrue, onFalse := operands[0], operands[1], operands[2]
	if !pred.typ.Equal(ScalarType(dtypes.Bool)) {
		return nil, errors.Errorf("select predicate %s must be an i1, got %s", pred, pred.typ)
	}
	if !onTrue.typ.IsScalar() || !onTrue.typ.Equal(onFalse.typ) {
		return nil, errors.Errorf("select requires scalar values of the same type, got %s and %s", onTrue.typ, onFalse.typ)
	}
	stmt := fn.addStatement("arith.select", operands, []Type{onTrue.typ})
	stmt.render = func(w *writer, _ string) {
		w.printf(" %s : %s", joinValues(operands), onTrue.typ)
	}
	return stmt.Outputs[0], nil
}

// Convert casts the scalar x to dtype. Conversions to booleans compare x with zero.
func (fn *Function) Convert(x *Value, dtype dtypes.DType) (*Value, error) {
	if err := fn.checkInputs("convert", x); err != nil {
		return nil, err
	}
	if !x.typ.IsScalar() {
		return nil, errors.Errorf("convert requires a scalar, got %s of type %s", x, x.typ)
	}
	from := x.typ.dtype
	to := ScalarType(dtype)
	switch {
	case from == dtype:
		return x, nil
	case dtype == dtypes.Bool:
		zero, err := fn.Constant(from, 0)
		if err != nil {
			return nil, err
		}
		op, predicate := "arith.cmpi", CmpNE
		if from.IsFloat() {
			op, predicate = "arith.cmpf", "une"
		}
		stmt := fn.addStatement(op, []*Value{x, zero}, []Type{to})
		stmt.render = func(w *writer, _ string) {
			w.printf(" %s, %s, %s : %s", predicate, x, zero, x.typ)
		}
		return stmt.Outputs[0], nil
	case from.IsFloat() && dtype.IsFloat():
		if dtype.Bits() > from.Bits() {
			return castStatement(fn, "arith.extf", x, to), nil
		}
		return castStatement(fn, "arith.truncf", x, to), nil
	case from.IsFloat() && dtype.IsInt():
		if dtype.IsUnsigned() {
			return castStatement(fn, "arith.fptoui", x, to), nil
		}
		return castStatement(fn, "arith.fptosi", x, to), nil
	case dtype.IsFloat():
		if from.IsUnsigned() || from == dtypes.Bool {
			return castStatement(fn, "arith.uitofp", x, to), nil
		}
		return castStatement(fn, "arith.sitofp", x, to), nil
	case dtype.IsInt():
		switch {
		case from == dtypes.Bool || (dtype.Bits() > from.Bits() && from.IsUnsigned()):
			return castStatement(fn, "arith.extui", x, to), nil
		case dtype.Bits() > from.Bits():
			return castStatement(fn, "arith.extsi", x, to), nil
		case dtype.Bits() < from.Bits():
			return castStatement(fn, "arith.trunci", x, to), nil
		default:
			// Same width, only the signedness changes.
			return castStatement(fn, "arith.bitcast", x, to), nil
		}
	}
	return nil, errors.Errorf("convert from %s to %s is not supported", from, dtype)
}

// Bitcast reinterprets the bits of the scalar x as dtype, which must have the same size.
func (fn *Function) Bitcast(x *Value, dtype dtypes.DType) (*Value, error) {
	op := "arith.bitcast"
	if err := fn.checkInputs(op, x); err != nil {
		return nil, err
	}
	if !x.typ.IsScalar() || x.typ.dtype.Bits() != dtype.Bits() || dtype == dtypes.Bool || x.typ.dtype == dtypes.Bool {
		return nil, errors.Errorf("%s requires a scalar with the same number of bits as %s, got %s", op, dtype, x.typ)
	}
	if x.typ.dtype == dtype {
		return x, nil
	}
	return castStatement(fn, op, x, ScalarType(dtype)), nil
}
