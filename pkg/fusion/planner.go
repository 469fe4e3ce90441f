package fusion

import (
	"slices"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/internal/shapeinference"
	"github.com/gomlx/loopemit/internal/utils"
	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexanalysis"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// isLeaf returns whether instr is materialized where it is used, instead of being assigned to a routine.
func isLeaf(instr *hlo.Instruction) bool {
	switch instr.Kind() {
	case optypes.Parameter, optypes.Constant, optypes.Iota:
		return true
	}
	return false
}

// isIndexOnly returns whether instr only moves elements around: its element at some index is the element of
// its operand at the index given by OperandIndexing, unchanged.
func isIndexOnly(instr *hlo.Instruction) bool {
	switch instr.Kind() {
	case optypes.Copy, optypes.Reshape, optypes.Broadcast, optypes.Transpose, optypes.Reverse, optypes.Slice:
		return true
	case optypes.Bitcast:
		return instr.Shape().DType == instr.Operand(0).Shape().DType
	}
	return false
}

// isCompute returns whether instr computes its element from the elements of its operands.
func isCompute(instr *hlo.Instruction) bool {
	kind := instr.Kind()
	return shapeinference.StandardUnaryOperations.Has(kind) || shapeinference.StandardBinaryOperations.Has(kind) ||
		kind == optypes.Select || kind == optypes.Convert || kind == optypes.Bitcast
}

// partition is the assignment of the fusion instructions to routines.
type partition struct {
	fusion   *hlo.Computation
	composer *indexanalysis.Composer
	names    *utils.UniqueNames

	// routines in order of creation: fusion roots first.
	routines []*Routine
	rootOf   map[*hlo.Instruction]*Routine
	owner    map[*hlo.Instruction]*Routine

	// relative holds the map from the index of the owner routine to the instruction index.
	relative map[*hlo.Instruction]*indexing.Map
}

// Partition assigns the instructions of the fusion to routines, returned in rendering order.
//
// Each fusion root and each Reduce gets its own routine. The other instructions are visited in reverse
// topological order: an instruction whose users all belong to the same routine, and that is needed by them at
// a single index (the same map from the routine index), is inlined in that routine. Otherwise it gets its own
// routine, called wherever it is needed, so it is not computed more than once per index.
func Partition(fusion *hlo.Computation, composer *indexanalysis.Composer) ([]*Routine, error) {
	p, err := newPartition(fusion, composer)
	if err != nil {
		return nil, err
	}
	return p.routines, nil
}

func newPartition(fusion *hlo.Computation, composer *indexanalysis.Composer) (*partition, error) {
	if fusion.Root() == nil {
		return nil, errors.Errorf("fusion %q has no root", fusion.Name())
	}
	p := &partition{
		fusion:   fusion,
		composer: composer,
		names:    utils.NewUniqueNames(),
		rootOf:   make(map[*hlo.Instruction]*Routine),
		owner:    make(map[*hlo.Instruction]*Routine),
		relative: make(map[*hlo.Instruction]*indexing.Map),
	}
	p.names.Reserve(utils.NormalizeIdentifier(fusion.Name()))
	for _, root := range fusion.Roots() {
		if p.rootOf[root] == nil {
			p.newRoutine(root)
		}
	}
	instructions := fusion.Instructions()
	for i := len(instructions) - 1; i >= 0; i-- {
		instr := instructions[i]
		if isLeaf(instr) || p.owner[instr] != nil || (instr == fusion.Root() && instr.Kind() == optypes.Tuple) {
			continue
		}
		if instr.Kind() == optypes.Reduce {
			p.newRoutine(instr)
			continue
		}
		owner, m, err := p.singleUse(instr)
		if err != nil {
			return nil, err
		}
		if owner == nil {
			p.newRoutine(instr)
			continue
		}
		p.owner[instr] = owner
		p.relative[instr] = m
		owner.Instructions = append(owner.Instructions, instr)
	}
	for _, r := range p.routines {
		slices.Reverse(r.Instructions)
	}
	return p, nil
}

// newRoutine creates the routine computing root, named after the fusion and root.
func (p *partition) newRoutine(root *hlo.Instruction) *Routine {
	r := &Routine{
		Name:         p.names.Name(utils.NormalizeIdentifier(p.fusion.Name() + "_" + root.Name())),
		Root:         root,
		Instructions: []*hlo.Instruction{root},
	}
	p.routines = append(p.routines, r)
	p.rootOf[root] = r
	p.owner[root] = r
	p.relative[root] = indexing.IdentityMap(root.OutputShape(0).Dimensions)
	return r
}

// singleUse returns the routine and map where instr can be inlined, or nil if its users are in different
// routines, or need it at different indices.
func (p *partition) singleUse(instr *hlo.Instruction) (*Routine, *indexing.Map, error) {
	var owner *Routine
	maps := indexanalysis.NewMapSet()
	for _, user := range instr.Users() {
		r := p.owner[user]
		if r == nil || (owner != nil && r != owner) {
			return nil, nil, nil
		}
		owner = r
		for operandIndex, operand := range user.Operands() {
			if operand != instr {
				continue
			}
			m, err := p.composer.ComposeOperand(p.relative[user], user, operandIndex)
			if err != nil {
				return nil, nil, err
			}
			maps.Insert(m)
		}
	}
	if owner == nil || maps.Len() != 1 {
		return nil, nil, nil
	}
	return owner, maps.Maps()[0], nil
}

// stepKey identifies a step within a routine: the instruction and the canonical key of its map.
type stepKey struct {
	instr  *hlo.Instruction
	mapKey string
}

// planner builds the steps of every routine of a partition.
type planner struct {
	*partition
	combiners    map[*hlo.Computation]*Routine
	combinerList []*Routine
}

// NewPlan partitions the fusion (see Partition) and plans the steps of each routine, including the routines
// of the combiners of its reductions.
//
// The composer caches the hops of the indexing maps: it can be shared with other analyses of the same fusion.
func NewPlan(fusion *hlo.Computation, composer *indexanalysis.Composer) (*Plan, error) {
	p, err := newPartition(fusion, composer)
	if err != nil {
		return nil, err
	}
	pl := &planner{partition: p, combiners: make(map[*hlo.Computation]*Routine)}
	for _, r := range p.routines {
		if err := pl.planRoutine(r, p.relative[r.Root]); err != nil {
			return nil, err
		}
	}
	plan := &Plan{
		Fusion:       fusion,
		Routines:     slices.Concat(p.routines, pl.combinerList),
		rootRoutines: make(map[*hlo.Instruction]*Routine),
	}
	for _, root := range fusion.Roots() {
		plan.rootRoutines[root] = p.rootOf[root]
	}
	klog.V(1).Infof("fusion %q planned with %d routines (%d combiners)", fusion.Name(), len(plan.Routines), len(pl.combinerList))
	if klog.V(2).Enabled() {
		klog.Info(plan)
	}
	return plan, nil
}

// routinePlanner memoizes the steps of one routine.
type routinePlanner struct {
	*planner
	routine *Routine
	memo    map[stepKey]*Step
}

func (pl *planner) planRoutine(r *Routine, rootMap *indexing.Map) error {
	rp := &routinePlanner{planner: pl, routine: r, memo: make(map[stepKey]*Step)}
	result, err := rp.step(r.Root, rootMap)
	if err != nil {
		return errors.WithMessagef(err, "planning routine %s", r.Name)
	}
	r.Result = result
	return nil
}

// step returns the step computing instr at the index given by m.
func (rp *routinePlanner) step(instr *hlo.Instruction, m *indexing.Map) (*Step, error) {
	key := stepKey{instr, m.Key()}
	if s, found := rp.memo[key]; found {
		return s, nil
	}
	s, err := rp.newStep(instr, m)
	if err != nil {
		return nil, err
	}
	rp.memo[key] = s
	return s, nil
}

func (rp *routinePlanner) add(s *Step) *Step {
	rp.routine.Steps = append(rp.routine.Steps, s)
	return s
}

func (rp *routinePlanner) newStep(instr *hlo.Instruction, m *indexing.Map) (*Step, error) {
	if m.IsKnownEmpty() {
		return rp.add(&Step{Kind: StepZero, Instruction: instr, Map: m}), nil
	}
	switch instr.Kind() {
	case optypes.Parameter:
		kind := StepLoad
		if rp.routine.IsCombiner() {
			kind = StepArgument
		}
		return rp.add(&Step{Kind: kind, Instruction: instr, Map: m}), nil
	case optypes.Constant:
		return rp.add(&Step{Kind: StepConstant, Instruction: instr, Map: m}), nil
	case optypes.Iota:
		return rp.add(&Step{Kind: StepIota, Instruction: instr, Map: m}), nil
	}
	if !rp.routine.IsCombiner() {
		if callee := rp.rootOf[instr]; callee != nil && callee != rp.routine {
			return rp.add(&Step{Kind: StepCall, Instruction: instr, Map: m, Callee: callee}), nil
		}
	}

	switch {
	case isIndexOnly(instr):
		operandMap, err := rp.composer.ComposeOperand(m, instr, 0)
		if err != nil {
			return nil, err
		}
		return rp.step(instr.Operand(0), operandMap)
	case instr.Kind() == optypes.Reduce:
		return rp.reduceStep(instr, m)
	case instr.Kind() == optypes.Tuple && rp.routine.IsCombiner() && instr == rp.routine.Root:
		operands, err := rp.operandSteps(instr, m)
		if err != nil {
			return nil, err
		}
		return rp.add(&Step{Kind: StepTuple, Instruction: instr, Map: m, Operands: operands}), nil
	case isCompute(instr):
		operands, err := rp.operandSteps(instr, m)
		if err != nil {
			return nil, err
		}
		return rp.add(&Step{Kind: StepCompute, Instruction: instr, Map: m, Operands: operands}), nil
	}
	return nil, errors.Wrapf(indexanalysis.ErrUnsupportedOperation, "cannot emit operation %s (instruction %q)",
		instr.Kind(), instr.Name())
}

func (rp *routinePlanner) operandSteps(instr *hlo.Instruction, m *indexing.Map) ([]*Step, error) {
	steps := make([]*Step, len(instr.Operands()))
	for i, operand := range instr.Operands() {
		operandMap, err := rp.composer.ComposeOperand(m, instr, i)
		if err != nil {
			return nil, err
		}
		steps[i], err = rp.step(operand, operandMap)
		if err != nil {
			return nil, err
		}
	}
	return steps, nil
}

// reduceStep plans a Reduce: its inputs are indexed by maps with one extra symbol per reduced axis (the
// counters of the reduction loops), and its initial values by maps with no results.
func (rp *routinePlanner) reduceStep(reduce *hlo.Instruction, m *indexing.Map) (*Step, error) {
	if rp.routine.IsCombiner() {
		return nil, errors.Errorf("reduction %q not supported within combiner %q", reduce.Name(), rp.routine.Combiner.Name())
	}
	operands, err := rp.operandSteps(reduce, m)
	if err != nil {
		return nil, err
	}
	numInputs := len(operands) / 2
	s := &Step{
		Kind:        StepReduce,
		Instruction: reduce,
		Map:         m,
		Inputs:      operands[:numInputs],
		Inits:       operands[numInputs:],
	}
	if numInputs > 0 {
		inputMap := s.Inputs[0].Map
		s.Counters = slices.Clone(inputMap.Symbols()[m.NumSymbols():])
	}
	s.Callee, err = rp.combinerRoutine(reduce)
	if err != nil {
		return nil, err
	}
	return rp.add(s), nil
}

// combinerRoutine returns the routine of the combiner of reduce, planning it on first use. Reductions
// sharing the same combiner share its routine.
func (pl *planner) combinerRoutine(reduce *hlo.Instruction) (*Routine, error) {
	combiner := reduce.Combiner()
	if r, found := pl.combiners[combiner]; found {
		return r, nil
	}
	root := combiner.Root()
	r := &Routine{
		Name:     pl.names.Name(utils.NormalizeIdentifier(combiner.Name() + "_" + root.Name())),
		Root:     root,
		Combiner: combiner,
	}
	for _, instr := range combiner.Instructions() {
		if !isLeaf(instr) {
			r.Instructions = append(r.Instructions, instr)
		}
	}
	pl.combiners[combiner] = r
	pl.combinerList = append(pl.combinerList, r)
	if err := pl.planRoutine(r, indexing.NewMap(nil, nil, nil)); err != nil {
		return nil, err
	}
	return r, nil
}
