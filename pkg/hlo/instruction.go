// Package hlo holds the dataflow graph of a fusion: a Computation is an arena of Instructions, each one a
// tensor operation of a closed set of kinds (see optypes.OpType) with its operands, output shape and the
// static parameters of its kind.
//
// Graphs are created with the Computation methods and the free functions of this package (Add, Broadcast,
// Reshape, ...), which validate the geometry of the operation (see internal/shapeinference) at construction
// time. Once built, a graph is only read.
package hlo

import (
	"slices"
	"strings"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
)

// Instruction is one node of a Computation.
type Instruction struct {
	computation *Computation
	id          int
	name        string
	kind        optypes.OpType
	shape       shapes.Shape
	operands    []*Instruction
	users       []*Instruction

	// dimensions holds the axes parameter of the operation: the axes mapping of Broadcast, the permutation of
	// Transpose, the reversed axes of Reverse, the reduced axes of Reduce and the iota axis of Iota.
	dimensions []int

	sliceStarts, sliceLimits, sliceStrides []int

	// literal is the value of a scalar Constant.
	literal float64

	parameterNumber int

	// combiner is the reduction function of Reduce.
	combiner *Computation

	customCallTarget string
}

// ID of the instruction: its position in the Computation arena.
func (instr *Instruction) ID() int {
	return instr.id
}

// Name of the instruction, unique within its computation.
func (instr *Instruction) Name() string {
	return instr.name
}

// SetName changes the name of the instruction. It fails if the name is already used in the computation.
func (instr *Instruction) SetName(name string) error {
	if name == instr.name {
		return nil
	}
	if name == "" || !instr.computation.names.Reserve(name) {
		return errors.Errorf("cannot rename instruction %q to %q in computation %q: name empty or already used",
			instr.name, name, instr.computation.name)
	}
	instr.name = name
	return nil
}

// Kind of the operation.
func (instr *Instruction) Kind() optypes.OpType {
	return instr.kind
}

// Shape of the output of the instruction. It's a tuple for multi-output reductions and for Tuple.
func (instr *Instruction) Shape() shapes.Shape {
	return instr.shape
}

// Computation owning the instruction.
func (instr *Instruction) Computation() *Computation {
	return instr.computation
}

// Operands of the instruction, in order. The returned slice must not be modified.
func (instr *Instruction) Operands() []*Instruction {
	return instr.operands
}

// Operand returns the operand at position i.
func (instr *Instruction) Operand(i int) *Instruction {
	return instr.operands[i]
}

// Users returns the instructions using this one as an operand, each listed once, in creation order.
// The returned slice must not be modified.
func (instr *Instruction) Users() []*Instruction {
	return instr.users
}

// Dimensions returns the axes parameter of the operation (see Broadcast, Transpose, Reverse, Reduce and Iota).
func (instr *Instruction) Dimensions() []int {
	return instr.dimensions
}

// SliceStarts returns the start index of a Slice, per axis.
func (instr *Instruction) SliceStarts() []int {
	return instr.sliceStarts
}

// SliceLimits returns the (exclusive) limit index of a Slice, per axis.
func (instr *Instruction) SliceLimits() []int {
	return instr.sliceLimits
}

// SliceStrides returns the strides of a Slice, per axis.
func (instr *Instruction) SliceStrides() []int {
	return instr.sliceStrides
}

// Literal returns the value of a scalar Constant.
func (instr *Instruction) Literal() float64 {
	return instr.literal
}

// ParameterNumber returns the position of a Parameter in the computation inputs.
func (instr *Instruction) ParameterNumber() int {
	return instr.parameterNumber
}

// Combiner returns the reduction function of a Reduce.
func (instr *Instruction) Combiner() *Computation {
	return instr.combiner
}

// CustomCallTarget returns the name of the function called by a CustomCall.
func (instr *Instruction) CustomCallTarget() string {
	return instr.customCallTarget
}

// NumOutputs returns the number of tensors produced by the instruction: the tuple size for tuple
// shaped instructions, 1 otherwise.
func (instr *Instruction) NumOutputs() int {
	if instr.shape.IsTuple() {
		return instr.shape.TupleSize()
	}
	return 1
}

// OutputShape returns the shape of the output #i of the instruction (see NumOutputs).
func (instr *Instruction) OutputShape(i int) shapes.Shape {
	if instr.shape.IsTuple() {
		return instr.shape.TupleShapes[i]
	}
	if i != 0 {
		panic(errors.Errorf("instruction %q has a single output, output #%d requested", instr.name, i))
	}
	return instr.shape
}

func (instr *Instruction) addUser(user *Instruction) {
	if !slices.Contains(instr.users, user) {
		instr.users = append(instr.users, user)
	}
}

// String implements fmt.Stringer, in the HLO text format, e.g. "add = f32[2] add(p0, p1)".
func (instr *Instruction) String() string {
	var sb strings.Builder
	instr.write(&sb)
	return sb.String()
}
