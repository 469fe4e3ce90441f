package fusion

import (
	"slices"
	"strconv"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/pkg/indexanalysis"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/gomlx/loopemit/pkg/mlir"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Emit renders the plan as an mlir program.
//
// The first function is the entry point, named after the fusion: it takes the fusion parameters and the output
// tensors, and returns the updated outputs. Each thread reads its coordinates in the launch grid, loops over the
// chunks and unrolled elements (when there is more than one), checks it is within the outputs, and calls the
// routines of the roots at the output index given by threadMaps (one per fusion output, see
// LoopFusion.ComputeThreadIDToOutputIndexing) to insert the results into the outputs.
//
// The following functions are the routines of the plan. Routines of the fusion take the parameter tensors and
// the index of their root, and return its element(s). Combiner routines take and return scalars.
func Emit(plan *Plan, config indexanalysis.LaunchConfig, threadMaps []*indexing.Map) ([]byte, error) {
	outputs := plan.Fusion.Outputs()
	if len(threadMaps) != len(outputs) {
		return nil, errors.Errorf("fusion %q has %d outputs, but %d thread maps were given",
			plan.Fusion.Name(), len(outputs), len(threadMaps))
	}
	e := &emitter{
		plan:       plan,
		config:     config,
		threadMaps: threadMaps,
		builder:    mlir.New(plan.Fusion.Name()),
		functions:  make(map[*Routine]*mlir.Function, len(plan.Routines)),
		counters:   make(map[*Step]bool),
	}

	// Functions are rendered in order of creation, but callees must be complete before they are called.
	entry := e.builder.NewFunction(plan.Fusion.Name())
	for _, r := range plan.Routines {
		fn := e.builder.NewFunction(r.Name)
		fn.Private = true
		if err := e.declareInputs(r, fn); err != nil {
			return nil, err
		}
		e.functions[r] = fn
	}
	for _, r := range e.emissionOrder() {
		if err := e.emitRoutine(r); err != nil {
			return nil, errors.WithMessagef(err, "emitting routine %s", r.Name)
		}
	}
	if err := e.emitEntry(entry); err != nil {
		return nil, errors.WithMessagef(err, "emitting entry function of fusion %q", plan.Fusion.Name())
	}
	program, err := e.builder.Build()
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("emitted fusion %q: %d functions, %d bytes", plan.Fusion.Name(), len(e.builder.Functions()), len(program))
	return program, nil
}

type emitter struct {
	plan       *Plan
	config     indexanalysis.LaunchConfig
	threadMaps []*indexing.Map
	builder    *mlir.Builder
	functions  map[*Routine]*mlir.Function

	// counters memoizes whether the value of a step depends on the counters of the reduction being emitted.
	counters map[*Step]bool
}

// declareInputs adds the inputs of the function of routine r.
func (e *emitter) declareInputs(r *Routine, fn *mlir.Function) error {
	var types []mlir.Type
	if r.IsCombiner() {
		for _, param := range r.Combiner.Parameters() {
			types = append(types, mlir.ScalarType(param.Shape().DType))
		}
	} else {
		for _, param := range e.plan.Fusion.Parameters() {
			types = append(types, mlir.TensorType(param.Shape()))
		}
		for range r.IndexRank() {
			types = append(types, mlir.IndexType)
		}
	}
	for _, t := range types {
		if _, err := fn.Input(t); err != nil {
			return err
		}
	}
	return nil
}

// emissionOrder returns the routines with every callee before its callers.
func (e *emitter) emissionOrder() []*Routine {
	var order []*Routine
	visited := make(map[*Routine]bool, len(e.plan.Routines))
	var visit func(r *Routine)
	visit = func(r *Routine) {
		if visited[r] {
			return
		}
		visited[r] = true
		for _, callee := range r.Callees() {
			visit(callee)
		}
		order = append(order, r)
	}
	for _, r := range e.plan.Routines {
		visit(r)
	}
	return order
}

// scope of the values available while emitting a function or one of its regions.
type scope struct {
	parent *scope
	fn     *mlir.Function

	// params are the fusion parameter tensors, or the combiner arguments, set in the top-level scope.
	params []*mlir.Value

	// Values of the indexing maps dimensions and symbols.
	dims, symbols map[int]*mlir.Value

	steps   map[*Step][]*mlir.Value
	indices map[string]*mlir.Value
}

func newScope(fn *mlir.Function, parent *scope) *scope {
	return &scope{
		parent:  parent,
		fn:      fn,
		dims:    make(map[int]*mlir.Value),
		symbols: make(map[int]*mlir.Value),
		steps:   make(map[*Step][]*mlir.Value),
		indices: make(map[string]*mlir.Value),
	}
}

// child returns the scope of the region fn nested in s.
func (s *scope) child(fn *mlir.Function) *scope {
	return newScope(fn, s)
}

func (s *scope) top() *scope {
	for s.parent != nil {
		s = s.parent
	}
	return s
}

func (s *scope) lookupStep(step *Step) ([]*mlir.Value, bool) {
	for ; s != nil; s = s.parent {
		if values, found := s.steps[step]; found {
			return values, true
		}
	}
	return nil, false
}

func (s *scope) lookupIndex(key string) *mlir.Value {
	for ; s != nil; s = s.parent {
		if v, found := s.indices[key]; found {
			return v
		}
	}
	return nil
}

func (s *scope) variable(kind indexing.VarKind, index int) *mlir.Value {
	for ; s != nil; s = s.parent {
		vars := s.dims
		if kind == indexing.Symbol {
			vars = s.symbols
		}
		if v, found := vars[index]; found {
			return v
		}
	}
	return nil
}

// emitRoutine emits the body of the function of r.
func (e *emitter) emitRoutine(r *Routine) error {
	fn := e.functions[r]
	s := newScope(fn, nil)
	if r.IsCombiner() {
		s.params = fn.Inputs
	} else {
		numParams := len(e.plan.Fusion.Parameters())
		s.params = fn.Inputs[:numParams]
		for axis, index := range fn.Inputs[numParams:] {
			s.dims[axis] = index
		}
	}
	results, err := e.value(s, r.Result)
	if err != nil {
		return err
	}
	return fn.Return(results...)
}

// value returns the value(s) of step, emitting it in the scope s if it was not emitted yet.
func (e *emitter) value(s *scope, step *Step) ([]*mlir.Value, error) {
	if values, found := s.lookupStep(step); found {
		return values, nil
	}
	values, err := e.emitStep(s, step)
	if err != nil {
		return nil, errors.WithMessagef(err, "step %s", step)
	}
	s.steps[step] = values
	return values, nil
}

func (e *emitter) emitStep(s *scope, step *Step) ([]*mlir.Value, error) {
	instr := step.Instruction
	dtype := instr.Shape().DType
	var v *mlir.Value
	var err error
	switch step.Kind {
	case StepLoad:
		var indices []*mlir.Value
		indices, err = e.indices(s, step.Map)
		if err != nil {
			return nil, err
		}
		v, err = s.fn.Extract(s.top().params[instr.ParameterNumber()], indices...)

	case StepArgument:
		v = s.top().params[instr.ParameterNumber()]

	case StepConstant:
		v, err = s.fn.Constant(dtype, instr.Literal())

	case StepZero:
		v, err = s.fn.Constant(dtype, 0)

	case StepIota:
		v, err = e.iota(s, step)

	case StepCompute:
		v, err = e.compute(s, step)

	case StepCall:
		indices, err := e.indices(s, step.Map)
		if err != nil {
			return nil, err
		}
		return s.fn.Call(e.functions[step.Callee], slices.Concat(s.top().params, indices)...)

	case StepTuple:
		values := make([]*mlir.Value, len(step.Operands))
		for i, operand := range step.Operands {
			operandValues, err := e.value(s, operand)
			if err != nil {
				return nil, err
			}
			values[i] = operandValues[0]
		}
		return values, nil

	case StepReduce:
		return e.reduce(s, step)

	default:
		return nil, errors.Errorf("unknown step kind %s", step.Kind)
	}
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{v}, nil
}

// iota converts the index along the iota axis to the element type.
func (e *emitter) iota(s *scope, step *Step) (*mlir.Value, error) {
	instr := step.Instruction
	index, err := e.index(s, step.Map, step.Map.Results()[instr.Dimensions()[0]])
	if err != nil {
		return nil, err
	}
	dtype := instr.Shape().DType
	intDType := dtype
	if !dtype.IsInt() {
		intDType = dtypes.Int64
	}
	v, err := s.fn.IndexCast(index, intDType)
	if err != nil {
		return nil, err
	}
	return s.fn.Convert(v, dtype)
}

func (e *emitter) compute(s *scope, step *Step) (*mlir.Value, error) {
	operands := make([]*mlir.Value, len(step.Operands))
	for i, operand := range step.Operands {
		values, err := e.value(s, operand)
		if err != nil {
			return nil, err
		}
		operands[i] = values[0]
	}
	instr := step.Instruction
	switch instr.Kind() {
	case optypes.Convert:
		return s.fn.Convert(operands[0], instr.Shape().DType)
	case optypes.Bitcast:
		return s.fn.Bitcast(operands[0], instr.Shape().DType)
	}
	return s.fn.Elementwise(instr.Kind(), operands...)
}

// reduce emits the reduction loops: one loop per reduced axis, carrying the accumulators, with a call to the
// combiner routine in the innermost loop.
func (e *emitter) reduce(s *scope, step *Step) ([]*mlir.Value, error) {
	accumulators := make([]*mlir.Value, len(step.Inits))
	for i, init := range step.Inits {
		values, err := e.value(s, init)
		if err != nil {
			return nil, err
		}
		accumulators[i] = values[0]
	}
	// Values that don't depend on the reduction counters are emitted once, before the loops.
	firstCounter := step.Map.NumSymbols()
	for _, input := range step.Inputs {
		if err := e.hoistInvariants(s, input, firstCounter); err != nil {
			return nil, err
		}
	}
	return e.reductionLoops(s, step, 0, accumulators)
}

func (e *emitter) reductionLoops(s *scope, step *Step, counter int, accumulators []*mlir.Value) ([]*mlir.Value, error) {
	if counter == len(step.Counters) {
		inputs := make([]*mlir.Value, len(step.Inputs))
		for i, input := range step.Inputs {
			values, err := e.value(s, input)
			if err != nil {
				return nil, err
			}
			inputs[i] = values[0]
		}
		return s.fn.Call(e.functions[step.Callee], slices.Concat(accumulators, inputs)...)
	}
	bounds := step.Counters[counter].Bounds
	loop, err := e.loop(s, bounds, accumulators)
	if err != nil {
		return nil, err
	}
	body := loop.Regions[0]
	inner := s.child(body)
	inner.symbols[step.Map.NumSymbols()+counter] = body.Inputs[0]
	results, err := e.reductionLoops(inner, step, counter+1, body.Inputs[1:])
	if err != nil {
		return nil, err
	}
	if err = body.Return(results...); err != nil {
		return nil, err
	}
	return loop.Outputs, nil
}

// loop adds a loop over the values of bounds to the function of s.
func (e *emitter) loop(s *scope, bounds indexing.Interval, iterArgs []*mlir.Value) (*mlir.Statement, error) {
	lower, err := e.constantIndex(s, bounds.Lower)
	if err != nil {
		return nil, err
	}
	upper, err := e.constantIndex(s, bounds.Upper+1)
	if err != nil {
		return nil, err
	}
	one, err := e.constantIndex(s, 1)
	if err != nil {
		return nil, err
	}
	return s.fn.For(lower, upper, one, iterArgs...)
}

// hoistInvariants emits the steps reachable from step that don't depend on the reduction counters (symbols
// from firstCounter on), so they are available within the loops.
func (e *emitter) hoistInvariants(s *scope, step *Step, firstCounter int) error {
	if !e.usesCounters(step, firstCounter) {
		_, err := e.value(s, step)
		return err
	}
	for _, operand := range step.Operands {
		if err := e.hoistInvariants(s, operand, firstCounter); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) usesCounters(step *Step, firstCounter int) bool {
	if uses, found := e.counters[step]; found {
		return uses
	}
	var uses bool
	switch step.Kind {
	case StepLoad, StepIota, StepCall, StepReduce:
		_, symbols := step.Map.UsedVariables()
		uses = slices.Contains(symbols[min(firstCounter, len(symbols)):], true)
	case StepCompute, StepTuple:
		for _, operand := range step.Operands {
			if e.usesCounters(operand, firstCounter) {
				uses = true
				break
			}
		}
	}
	e.counters[step] = uses
	return uses
}

// indices returns the values of the results of m.
func (e *emitter) indices(s *scope, m *indexing.Map) ([]*mlir.Value, error) {
	indices := make([]*mlir.Value, m.NumResults())
	for i, r := range m.Results() {
		var err error
		indices[i], err = e.index(s, m, r)
		if err != nil {
			return nil, err
		}
	}
	return indices, nil
}

// index returns the value of expr, an expression over the variables of m. Variables and constants are used
// directly, other expressions are computed with an affine.apply over the variables they use, and reused
// within the scope.
func (e *emitter) index(s *scope, m *indexing.Map, expr indexing.Expr) (*mlir.Value, error) {
	if c, ok := expr.IsConstant(); ok {
		return e.constantIndex(s, c)
	}
	if kind, i, ok := expr.AsVariable(); ok {
		v := s.variable(kind, i)
		if v == nil {
			return nil, errors.Errorf("no value for %s #%d of index %s", kind, i, expr)
		}
		return v, nil
	}
	key := expr.String()
	if v := s.lookupIndex(key); v != nil {
		return v, nil
	}

	// Affine map of expr over the variables it uses only.
	usedDims, usedSymbols := make([]bool, m.NumDims()), make([]bool, m.NumSymbols())
	expr.MarkUsed(usedDims, usedSymbols)
	dimVars, dimValues, dimReplacements, err := compactVariables(s, indexing.Dimension, m.Dims(), usedDims, indexing.Dim)
	if err != nil {
		return nil, err
	}
	symVars, symValues, symReplacements, err := compactVariables(s, indexing.Symbol, m.Symbols(), usedSymbols, indexing.Sym)
	if err != nil {
		return nil, err
	}
	compact := indexing.NewMap(dimVars, symVars, []indexing.Expr{expr.Replace(dimReplacements, symReplacements)})
	v, err := s.fn.AffineApply(compact, dimValues, symValues)
	if err != nil {
		return nil, err
	}
	s.indices[key] = v
	return v, nil
}

// compactVariables returns the used variables, their values, and the replacements renumbering them.
func compactVariables(s *scope, kind indexing.VarKind, vars []indexing.Variable, used []bool,
	newVar func(int) indexing.Expr) ([]indexing.Variable, []*mlir.Value, []indexing.Expr, error) {
	var compactVars []indexing.Variable
	var values []*mlir.Value
	replacements := make([]indexing.Expr, len(vars))
	for i, isUsed := range used {
		if !isUsed {
			replacements[i] = newVar(i)
			continue
		}
		v := s.variable(kind, i)
		if v == nil {
			return nil, nil, nil, errors.Errorf("no value for %s #%d (%s)", kind, i, vars[i].Name)
		}
		replacements[i] = newVar(len(compactVars))
		compactVars = append(compactVars, vars[i])
		values = append(values, v)
	}
	return compactVars, values, replacements, nil
}

func (e *emitter) constantIndex(s *scope, c int64) (*mlir.Value, error) {
	key := "const " + strconv.FormatInt(c, 10)
	if v := s.lookupIndex(key); v != nil {
		return v, nil
	}
	v, err := s.fn.ConstantIndex(c)
	if err != nil {
		return nil, err
	}
	s.indices[key] = v
	return v, nil
}

// launchExtents are the number of threads along (th_x, th_y, th_z, bl_x, bl_y, bl_z).
func (e *emitter) launchExtents() []int64 {
	return []int64{int64(e.config.ThreadsPerBlock), 1, 1, int64(e.config.NumBlocks), 1, 1}
}

// emitEntry emits the entry function.
func (e *emitter) emitEntry(fn *mlir.Function) error {
	fusion := e.plan.Fusion
	s := newScope(fn, nil)
	for _, param := range fusion.Parameters() {
		v, err := fn.Input(mlir.TensorType(param.Shape()))
		if err != nil {
			return err
		}
		s.params = append(s.params, v)
	}
	var tensors []*mlir.Value
	for _, output := range fusion.Outputs() {
		v, err := fn.Input(mlir.TensorType(output.Shape()))
		if err != nil {
			return err
		}
		tensors = append(tensors, v)
	}

	grid := e.threadMaps[0]
	constraints := e.guardConstraints()
	usedDims, usedSymbols := make([]bool, grid.NumDims()), make([]bool, grid.NumSymbols())
	for _, m := range e.threadMaps {
		for _, r := range m.Results() {
			r.MarkUsed(usedDims, usedSymbols)
		}
	}
	for _, c := range constraints {
		c.Expr.MarkUsed(usedDims, usedSymbols)
	}
	for axis, used := range usedDims {
		if !used {
			continue
		}
		var v *mlir.Value
		var err error
		if axis < indexanalysis.BlockX {
			v, err = fn.ThreadID(axis)
		} else {
			v, err = fn.BlockID(axis - indexanalysis.BlockX)
		}
		if err != nil {
			return err
		}
		s.dims[axis] = v
	}
	var loopSymbols []int
	for i, symbol := range grid.Symbols() {
		if !symbol.Bounds.IsPoint() {
			loopSymbols = append(loopSymbols, i)
		}
	}
	results, err := e.entryLoops(s, loopSymbols, constraints, tensors)
	if err != nil {
		return err
	}
	return fn.Return(results...)
}

// guardConstraints returns the constraints the thread coordinates must satisfy to compute an element: the
// constraints of the thread maps, and the bounds of the grid dimensions the maps restrict further than the
// launch does.
func (e *emitter) guardConstraints() []indexing.Constraint {
	var constraints []indexing.Constraint
	seen := make(map[string]bool)
	add := func(c indexing.Constraint) {
		if key := c.String(); !seen[key] {
			seen[key] = true
			constraints = append(constraints, c)
		}
	}
	extents := e.launchExtents()
	for i, dim := range e.threadMaps[0].Dims() {
		if i < len(extents) && (dim.Bounds.Lower > 0 || dim.Bounds.Upper < extents[i]-1) {
			add(indexing.Constraint{Expr: indexing.Dim(i), Bounds: dim.Bounds})
		}
	}
	for _, m := range e.threadMaps {
		for _, c := range m.Constraints() {
			add(c)
		}
	}
	return constraints
}

// entryLoops emits the loops over the chunk and unroll counters that have more than one value, carrying the
// output tensors.
func (e *emitter) entryLoops(s *scope, loopSymbols []int, constraints []indexing.Constraint, tensors []*mlir.Value) ([]*mlir.Value, error) {
	if len(loopSymbols) == 0 {
		return e.guarded(s, constraints, tensors)
	}
	symbol := loopSymbols[0]
	loop, err := e.loop(s, e.threadMaps[0].Symbols()[symbol].Bounds, tensors)
	if err != nil {
		return nil, err
	}
	body := loop.Regions[0]
	inner := s.child(body)
	inner.symbols[symbol] = body.Inputs[0]
	results, err := e.entryLoops(inner, loopSymbols[1:], constraints, body.Inputs[1:])
	if err != nil {
		return nil, err
	}
	if err = body.Return(results...); err != nil {
		return nil, err
	}
	return loop.Outputs, nil
}

// guarded emits the computation of the outputs under a conditional checking the constraints, if any.
func (e *emitter) guarded(s *scope, constraints []indexing.Constraint, tensors []*mlir.Value) ([]*mlir.Value, error) {
	if len(constraints) == 0 {
		return e.computeOutputs(s, tensors)
	}
	var condition *mlir.Value
	for _, c := range constraints {
		inBounds, err := e.inBounds(s, c)
		if err != nil {
			return nil, err
		}
		if condition == nil {
			condition = inBounds
			continue
		}
		condition, err = s.fn.Elementwise(optypes.And, condition, inBounds)
		if err != nil {
			return nil, err
		}
	}
	types := make([]mlir.Type, len(tensors))
	for i, t := range tensors {
		types[i] = t.Type()
	}
	ifStmt, err := s.fn.If(condition, types...)
	if err != nil {
		return nil, err
	}
	thenBranch, elseBranch := ifStmt.Regions[0], ifStmt.Regions[1]
	results, err := e.computeOutputs(s.child(thenBranch), tensors)
	if err != nil {
		return nil, err
	}
	if err = thenBranch.Return(results...); err != nil {
		return nil, err
	}
	if err = elseBranch.Return(tensors...); err != nil {
		return nil, err
	}
	return ifStmt.Outputs, nil
}

// inBounds returns whether the expression of the constraint c is within its bounds.
func (e *emitter) inBounds(s *scope, c indexing.Constraint) (*mlir.Value, error) {
	v, err := e.index(s, e.threadMaps[0], c.Expr)
	if err != nil {
		return nil, err
	}
	lower, err := e.constantIndex(s, c.Bounds.Lower)
	if err != nil {
		return nil, err
	}
	upper, err := e.constantIndex(s, c.Bounds.Upper)
	if err != nil {
		return nil, err
	}
	aboveLower, err := s.fn.CmpI(mlir.CmpSGE, v, lower)
	if err != nil {
		return nil, err
	}
	belowUpper, err := s.fn.CmpI(mlir.CmpSLE, v, upper)
	if err != nil {
		return nil, err
	}
	return s.fn.Elementwise(optypes.And, aboveLower, belowUpper)
}

// computeOutputs calls the routine of each root once, and inserts its results into the output tensors.
func (e *emitter) computeOutputs(s *scope, tensors []*mlir.Value) ([]*mlir.Value, error) {
	results := slices.Clone(tensors)
	called := make(map[*Routine][]*mlir.Value)
	for i, output := range e.plan.Fusion.Outputs() {
		index, err := e.indices(s, e.threadMaps[i])
		if err != nil {
			return nil, err
		}
		r := e.plan.RootRoutine(output.Instruction)
		values, found := called[r]
		if !found {
			values, err = s.fn.Call(e.functions[r], slices.Concat(s.top().params, index)...)
			if err != nil {
				return nil, err
			}
			called[r] = values
		}
		results[i], err = s.fn.Insert(values[output.Index], results[i], index...)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
