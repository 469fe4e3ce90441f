package mlir

import (
	"slices"
	"strconv"

	"github.com/pkg/errors"
)

// Function is a top-level function of the module, or a closure: the body region of a loop or the branch of
// a conditional, which can use the values of its parents.
type Function struct {
	Builder *Builder

	// Name of a top-level function. Closures have no name.
	Name string

	// Private functions are only called from within the module.
	Private bool

	// Parent of a closure, nil for top-level functions.
	Parent *Function

	// Inputs of the function, or the block arguments of a region.
	Inputs []*Value

	// Outputs holds the types of the returned values, set by Return.
	Outputs []Type

	Statements []*Statement

	// Returned is set after Return is called: no statements can be added afterwards.
	Returned bool

	returnValues []*Value

	// expectedOutputs are the types a closure must return, when required by the statement owning it.
	expectedOutputs    []Type
	hasExpectedOutputs bool

	// Counters of the names of values and arguments, only used in top-level functions: closures share the
	// namespace of their top-level function.
	numValues, numArgs int
}

// Closure creates a region nested in fn, for the body of a loop or the branch of a conditional.
func (fn *Function) Closure() *Function {
	return &Function{
		Builder: fn.Builder,
		Parent:  fn,
	}
}

// IsClosure returns whether fn is a region nested in another function.
func (fn *Function) IsClosure() bool {
	return fn.Parent != nil
}

// root returns the top-level function that contains fn.
func (fn *Function) root() *Function {
	for fn.Parent != nil {
		fn = fn.Parent
	}
	return fn
}

// description of the function for error messages.
func (fn *Function) description() string {
	if fn.Parent == nil {
		return strconv.Quote(fn.Name)
	}
	return "closure of " + fn.root().description()
}

// Input adds an input to the function, of the given type.
func (fn *Function) Input(t Type) (*Value, error) {
	if fn.Returned {
		return nil, errors.Errorf("cannot add input to function %s after returning", fn.description())
	}
	if len(fn.Statements) > 0 {
		return nil, errors.Errorf("cannot add input to function %s after statements were added", fn.description())
	}
	root := fn.root()
	v := &Value{fn: fn, name: "arg" + strconv.Itoa(root.numArgs), typ: t}
	root.numArgs++
	fn.Inputs = append(fn.Inputs, v)
	return v, nil
}

// isAncestorOf returns whether fn is other or one of its parents.
func (fn *Function) isAncestorOf(other *Function) bool {
	for ; other != nil; other = other.Parent {
		if other == fn {
			return true
		}
	}
	return false
}

// checkInputs verifies that the statement op can be added to fn with the given input values.
func (fn *Function) checkInputs(op string, values ...*Value) error {
	if fn.Returned {
		return errors.Errorf("cannot add operation %s after returning, in function %s", op, fn.description())
	}
	for i, v := range values {
		if v == nil {
			return errors.Errorf("operand #%d of operation %s is nil", i, op)
		}
		if !v.fn.isAncestorOf(fn) {
			return errors.Errorf("cannot add operation %s to function %s, because operand #%d (%s) is not visible from it",
				op, fn.description(), i, v)
		}
	}
	return nil
}

// Statement is one operation of a function, with its inputs and the values it defines.
type Statement struct {
	Function *Function

	// Op is the name of the operation, e.g. "arith.addf".
	Op string

	Inputs  []*Value
	Outputs []*Value

	// Regions nested in the statement, e.g. the body of a loop.
	Regions []*Function

	// resultName is the name shared by the outputs of statements with more than one output.
	resultName string

	// render writes what follows the operation name.
	render func(w *writer, indent string)
}

// addStatement appends a statement to fn, creating its outputs with the given types.
func (fn *Function) addStatement(op string, inputs []*Value, outputTypes []Type) *Statement {
	root := fn.root()
	stmt := &Statement{
		Function: fn,
		Op:       op,
		Inputs:   inputs,
		Outputs:  make([]*Value, len(outputTypes)),
	}
	if len(outputTypes) == 0 {
		fn.Statements = append(fn.Statements, stmt)
		return stmt
	}
	name := strconv.Itoa(root.numValues)
	root.numValues++
	for i, t := range outputTypes {
		v := &Value{fn: fn, name: name, typ: t, stmt: stmt}
		if len(outputTypes) > 1 {
			v.name = name + "#" + strconv.Itoa(i)
		}
		stmt.Outputs[i] = v
	}
	if len(outputTypes) > 1 {
		stmt.resultName = name
	}
	fn.Statements = append(fn.Statements, stmt)
	return stmt
}

func (s *Statement) write(w *writer, indent string) {
	w.printf("%s", indent)
	switch len(s.Outputs) {
	case 0:
	case 1:
		w.printf("%s = ", s.Outputs[0])
	default:
		w.printf("%%%s:%d = ", s.resultName, len(s.Outputs))
	}
	w.printf("%s", s.Op)
	if s.render != nil {
		s.render(w, indent)
	}
	w.printf("\n")
}

// Return finishes the function (or closure) returning the given values. In closures, it yields the values
// to the statement owning the region.
func (fn *Function) Return(values ...*Value) error {
	op := "return"
	if fn.IsClosure() {
		op = "scf.yield"
	}
	if err := fn.checkInputs(op, values...); err != nil {
		return err
	}
	types := valuesTypes(values)
	if fn.hasExpectedOutputs && !slices.EqualFunc(types, fn.expectedOutputs, Type.Equal) {
		return errors.Errorf("%s in function %s returns %s, but %s is expected",
			op, fn.description(), typesList(types), typesList(fn.expectedOutputs))
	}
	fn.returnValues = values
	fn.Outputs = types
	fn.Returned = true
	return nil
}

// expectOutputs sets the types a closure must return.
func (fn *Function) expectOutputs(types []Type) {
	fn.expectedOutputs = types
	fn.hasExpectedOutputs = true
}

// validate checks that fn and its closures are returned.
func (fn *Function) validate() error {
	if !fn.Returned {
		return errors.Errorf("function %s has not returned", fn.description())
	}
	for _, stmt := range fn.Statements {
		for _, region := range stmt.Regions {
			if err := region.validate(); err != nil {
				return errors.WithMessagef(err, "in %s", stmt.Op)
			}
		}
	}
	return nil
}

// write a top-level function.
func (fn *Function) write(w *writer, indent string) {
	w.printf("%sfunc.func ", indent)
	if fn.Private {
		w.printf("private ")
	}
	w.printf("@%s(", fn.Name)
	for i, input := range fn.Inputs {
		if i > 0 {
			w.printf(", ")
		}
		w.printf("%s: %s", input, input.typ)
	}
	w.printf(")")
	if len(fn.Outputs) > 0 {
		w.printf(" -> %s", typesList(fn.Outputs))
	}
	w.printf(" {\n")
	fn.writeBody(w, indent+indentation)
	w.printf("%s}\n", indent)
}

// writeBody writes the statements of fn, and its return.
func (fn *Function) writeBody(w *writer, indent string) {
	for _, stmt := range fn.Statements {
		stmt.write(w, indent)
	}
	op := "return"
	if fn.IsClosure() {
		op = "scf.yield"
	}
	w.printf("%s%s", indent, op)
	if len(fn.returnValues) > 0 {
		w.printf(" %s : ", joinValues(fn.returnValues))
		for i, v := range fn.returnValues {
			if i > 0 {
				w.printf(", ")
			}
			w.printf("%s", v.typ)
		}
	}
	w.printf("\n")
}
