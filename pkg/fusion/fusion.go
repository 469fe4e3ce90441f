// Package fusion emits the code of loop fusions: an HLO computation whose outputs are computed one element per
// thread (and per unrolled iteration), over the launch grid chosen by indexanalysis.ComputeLaunchConfig.
//
// The emission is done in two phases:
//
//   - Planning (Partition and NewPlan): instructions are grouped into routines. A routine computes the
//     element of its root at a given index, inlining the instructions that are used by it at a single index.
//     An instruction needed at more than one index (or by more than one routine) gets its own routine, which
//     is called instead of duplicated. Every routine step is identified by its instruction and the indexing
//     map from the routine index, so an element is computed at most once per routine invocation.
//   - Emission (Emit): the plan is rendered as an mlir program, with an entry function mapping the launch grid
//     to the output elements and calling the root routines.
//
// LoopFusion ties both phases with the launch configuration and the indexing queries of a fusion.
package fusion

import (
	"fmt"
	"strings"

	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexing"
)

//go:generate go tool enumer -type=StepKind -trimprefix=Step fusion.go

// StepKind is the kind of computation a Step does.
type StepKind int

const (
	// StepLoad reads an element of a fusion parameter.
	StepLoad StepKind = iota

	// StepArgument is a scalar parameter of a combiner, passed as an argument of the routine.
	StepArgument

	// StepConstant materializes a scalar constant.
	StepConstant

	// StepZero is the value of an instruction accessed through a known empty map: it's never read, and is
	// materialized as zero.
	StepZero

	// StepIota converts one axis of the index to the element type.
	StepIota

	// StepCompute applies an elementwise operation (including Convert and Bitcast) to its operands.
	StepCompute

	// StepCall calls the routine of an instruction that is computed separately.
	StepCall

	// StepTuple groups the values of the root of a combiner returning several values.
	StepTuple

	// StepReduce loops over the reduced axes, calling the combiner routine once per step.
	StepReduce
)

// Routine is a function of the emitted program, that computes the element(s) of Root at a given index.
type Routine struct {
	// Name of the function implementing the routine.
	Name string

	// Root is the instruction whose value(s) the routine returns.
	Root *hlo.Instruction

	// Combiner is set for routines implementing the reduction function of a Reduce: the routine takes the
	// scalar accumulators and inputs as arguments, instead of the fusion parameters and an index.
	Combiner *hlo.Computation

	// Instructions assigned to the routine, in topological order, Root last.
	// Parameters, constants and iotas are not assigned to any routine: they are materialized where used.
	Instructions []*hlo.Instruction

	// Steps of the routine in evaluation order, and the Result step.
	Steps  []*Step
	Result *Step
}

// IsCombiner returns whether r implements the combiner of a reduction.
func (r *Routine) IsCombiner() bool {
	return r.Combiner != nil
}

// NumOutputs returns the number of values returned by the routine.
func (r *Routine) NumOutputs() int {
	return r.Root.NumOutputs()
}

// IndexRank is the number of index arguments of the routine: the rank of its root output.
// Combiners take no index.
func (r *Routine) IndexRank() int {
	if r.IsCombiner() {
		return 0
	}
	return r.Root.OutputShape(0).Rank()
}

// Callees returns the routines called by r, in the order of their first call.
func (r *Routine) Callees() []*Routine {
	var callees []*Routine
	for _, step := range r.Steps {
		if step.Callee != nil && !containsRoutine(callees, step.Callee) {
			callees = append(callees, step.Callee)
		}
	}
	return callees
}

func containsRoutine(routines []*Routine, r *Routine) bool {
	for _, other := range routines {
		if other == r {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer, listing the steps of the routine.
func (r *Routine) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "routine %s (root %q, %d steps):\n", r.Name, r.Root.Name(), len(r.Steps))
	for i, step := range r.Steps {
		_, _ = fmt.Fprintf(&sb, "  #%d %s\n", i, step)
	}
	return sb.String()
}

// Step is the computation of the element(s) of Instruction at the index given by Map, as a function of the
// routine index (the map dimensions) and, within reductions, of the reduction counters (the map symbols).
type Step struct {
	Kind        StepKind
	Instruction *hlo.Instruction
	Map         *indexing.Map

	// Operands of StepCompute and StepTuple, in the order of the instruction operands.
	Operands []*Step

	// Callee is the routine called by StepCall, or the combiner routine of StepReduce.
	Callee *Routine

	// Inputs and Inits are the operands of StepReduce: the reduced values, indexed by maps that use the
	// reduction counters, and the initial values of the accumulators.
	Inputs, Inits []*Step

	// Counters of StepReduce: one symbol per reduced axis, the last ones of the Inputs maps.
	Counters []indexing.Variable
}

// String implements fmt.Stringer.
func (s *Step) String() string {
	text := fmt.Sprintf("%s %q", s.Kind, s.Instruction.Name())
	if s.Callee != nil {
		text += " @" + s.Callee.Name
	}
	if s.Map != nil && s.Map.NumResults() > 0 {
		text += " at " + s.Map.AffineMapString()
	}
	return text
}

// Plan of the emission of a fusion: its routines, including the combiners of its reductions.
type Plan struct {
	Fusion *hlo.Computation

	// Routines in rendering order: the routines of the fusion roots first, then the other routines of the
	// fusion in reverse topological order of their roots, then the combiners.
	Routines []*Routine

	// rootRoutines maps each root of the fusion to its routine.
	rootRoutines map[*hlo.Instruction]*Routine
}

// RootRoutine returns the routine computing the given fusion root, or nil if it is not a root.
func (p *Plan) RootRoutine(root *hlo.Instruction) *Routine {
	return p.rootRoutines[root]
}

// Routine returns the routine with the given name, or nil if there is none.
func (p *Plan) Routine(name string) *Routine {
	for _, r := range p.Routines {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (p *Plan) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "plan of %q with %d routines:\n", p.Fusion.Name(), len(p.Routines))
	for _, r := range p.Routines {
		sb.WriteString(r.String())
	}
	return sb.String()
}
