package hlo

import (
	"fmt"
	"strings"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/internal/utils"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Computation is a graph of instructions with a single root: a fusion, or the reduction function (combiner)
// of a Reduce. Instructions are stored in an arena, in creation order, which is always a topological order
// (operands before users).
type Computation struct {
	name         string
	instructions []*Instruction
	parameters   []*Instruction
	root         *Instruction
	names        *utils.UniqueNames
}

// NewComputation creates an empty computation with the given name.
func NewComputation(name string) *Computation {
	return &Computation{
		name:  name,
		names: utils.NewUniqueNames(),
	}
}

// Name of the computation.
func (c *Computation) Name() string {
	return c.name
}

// Instructions returns all instructions in creation order. The returned slice must not be modified.
func (c *Computation) Instructions() []*Instruction {
	return c.instructions
}

// Instruction returns the instruction with the given ID.
func (c *Computation) Instruction(id int) *Instruction {
	return c.instructions[id]
}

// NumInstructions in the arena.
func (c *Computation) NumInstructions() int {
	return len(c.instructions)
}

// Parameters returns the parameters, ordered by their parameter number. The returned slice must not be modified.
func (c *Computation) Parameters() []*Instruction {
	return c.parameters
}

// Root returns the root of the computation, or nil if it was not set yet.
func (c *Computation) Root() *Instruction {
	return c.root
}

// SetRoot sets the output of the computation. For multiple outputs, use a Tuple as root.
func (c *Computation) SetRoot(root *Instruction) error {
	if root.computation != c {
		return errors.Errorf("cannot set root of computation %q to instruction %q of computation %q",
			c.name, root.name, root.computation.name)
	}
	c.root = root
	return nil
}

// Roots returns the instructions producing the outputs of the computation: the elements of the root Tuple,
// or the root itself. A multi-output Reduce root is a single root with several outputs (see Outputs).
func (c *Computation) Roots() []*Instruction {
	if c.root == nil {
		return nil
	}
	if c.root.kind == optypes.Tuple {
		return c.root.operands
	}
	return []*Instruction{c.root}
}

// Output identifies one output tensor of a computation: output #Index of the root instruction Instruction.
type Output struct {
	Instruction *Instruction
	Index       int
}

// Shape of the output tensor.
func (o Output) Shape() shapes.Shape {
	return o.Instruction.OutputShape(o.Index)
}

// Outputs returns the output tensors of the computation, in order.
func (c *Computation) Outputs() []Output {
	var outputs []Output
	for _, root := range c.Roots() {
		for i := range root.NumOutputs() {
			outputs = append(outputs, Output{Instruction: root, Index: i})
		}
	}
	return outputs
}

// IsRoot returns whether instr is one of the computation roots.
func (c *Computation) IsRoot(instr *Instruction) bool {
	for _, root := range c.Roots() {
		if root == instr {
			return true
		}
	}
	return false
}

func (c *Computation) newInstruction(kind optypes.OpType, shape shapes.Shape, operands ...*Instruction) *Instruction {
	instr := &Instruction{
		computation: c,
		id:          len(c.instructions),
		name:        c.names.Name(strings.ToLower(kind.String())),
		kind:        kind,
		shape:       shape,
		operands:    operands,
	}
	for _, operand := range operands {
		operand.addUser(instr)
	}
	c.instructions = append(c.instructions, instr)
	return instr
}

// Parameter adds a new input to the computation. Its parameter number is the number of previously
// created parameters.
func (c *Computation) Parameter(name string, shape shapes.Shape) (*Instruction, error) {
	if !shape.Ok() || shape.IsTuple() {
		return nil, errors.Errorf("invalid shape %s for parameter %q of computation %q", shape, name, c.name)
	}
	if name != "" && !c.names.Reserve(name) {
		return nil, errors.Errorf("parameter name %q already used in computation %q", name, c.name)
	}
	instr := c.newInstruction(optypes.Parameter, shape)
	instr.parameterNumber = len(c.parameters)
	if name != "" {
		instr.name = name
	}
	c.parameters = append(c.parameters, instr)
	return instr, nil
}

// Constant adds a scalar constant.
func (c *Computation) Constant(dtype dtypes.DType, value float64) (*Instruction, error) {
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("invalid dtype for constant %g in computation %q", value, c.name)
	}
	if dtype == dtypes.Bool && value != 0 && value != 1 {
		return nil, errors.Errorf("boolean constant must be 0 or 1, got %g in computation %q", value, c.name)
	}
	instr := c.newInstruction(optypes.Constant, shapes.Scalar(dtype))
	instr.literal = value
	return instr, nil
}

// Verify checks the consistency of the whole graph, and returns all problems found (combined with multierr).
// The builder functions already validate the geometry of each operation, so this checks the structure:
// root set, no dead instructions, tuples only as outputs and combiners made of scalar elementwise operations.
func (c *Computation) Verify() error {
	var err error
	if c.root == nil {
		return errors.Errorf("computation %q has no root", c.name)
	}
	for _, instr := range c.instructions {
		if instr.kind == optypes.Parameter || instr == c.root {
			continue
		}
		if len(instr.users) == 0 {
			err = multierr.Append(err, errors.Errorf("instruction %q in computation %q is not used", instr.name, c.name))
		}
		if instr.shape.IsTuple() && !(c.root.kind == optypes.Tuple && len(instr.users) == 1 && instr.users[0] == c.root) {
			err = multierr.Append(err, errors.Errorf("tuple shaped instruction %q in computation %q can only be an output",
				instr.name, c.name))
		}
	}
	for _, root := range c.Roots() {
		if root.kind == optypes.Tuple {
			err = multierr.Append(err, errors.Errorf("nested tuple %q in the outputs of computation %q", root.name, c.name))
		}
	}
	for _, instr := range c.instructions {
		if instr.kind == optypes.Reduce {
			err = multierr.Append(err, instr.combiner.verifyCombiner())
		}
	}
	return err
}

// verifyCombiner checks the computation can be used as the reduction function of a Reduce.
func (c *Computation) verifyCombiner() error {
	var err error
	if c.root == nil {
		return errors.Errorf("combiner %q has no root", c.name)
	}
	for _, instr := range c.instructions {
		if instr.kind == optypes.Tuple {
			if instr != c.root {
				err = multierr.Append(err, errors.Errorf("combiner %q: tuple %q must be the root", c.name, instr.name))
			}
			continue
		}
		if !instr.shape.IsScalar() {
			err = multierr.Append(err, errors.Errorf("combiner %q: instruction %q must be a scalar, got %s",
				c.name, instr.name, instr.shape))
		}
		if instr.kind == optypes.Reduce || instr.kind == optypes.Iota {
			err = multierr.Append(err, errors.Errorf("combiner %q: operation %s of instruction %q is not supported in combiners",
				c.name, instr.kind, instr.name))
		}
	}
	return err
}

// String implements fmt.Stringer, in the HLO text format.
func (c *Computation) String() string {
	var sb strings.Builder
	c.write(&sb)
	return sb.String()
}

func (c *Computation) write(sb *strings.Builder) {
	var combiners []*Computation
	for _, instr := range c.instructions {
		if instr.combiner != nil {
			combiners = append(combiners, instr.combiner)
		}
	}
	for _, combiner := range combiners {
		combiner.write(sb)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(sb, "%s {\n", c.name)
	for _, instr := range c.instructions {
		sb.WriteString("  ")
		if instr == c.root {
			sb.WriteString("ROOT ")
		}
		instr.write(sb)
		sb.WriteString("\n")
	}
	sb.WriteString("}")
}

func (instr *Instruction) write(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s = %s %s(", instr.name, instr.shape, strings.ToLower(instr.kind.String()))
	for i, operand := range instr.operands {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(operand.name)
	}
	switch instr.kind {
	case optypes.Parameter:
		fmt.Fprintf(sb, "%d", instr.parameterNumber)
	case optypes.Constant:
		fmt.Fprintf(sb, "%g", instr.literal)
	}
	sb.WriteString(")")
	switch instr.kind {
	case optypes.Broadcast, optypes.Transpose, optypes.Reverse, optypes.Reduce:
		fmt.Fprintf(sb, ", dimensions={%s}", joinInts(instr.dimensions))
	case optypes.Iota:
		fmt.Fprintf(sb, ", iota_dimension=%d", instr.dimensions[0])
	case optypes.Slice:
		parts := make([]string, len(instr.sliceStarts))
		for axis := range parts {
			parts[axis] = fmt.Sprintf("[%d:%d:%d]", instr.sliceStarts[axis], instr.sliceLimits[axis], instr.sliceStrides[axis])
		}
		fmt.Fprintf(sb, ", slice={%s}", strings.Join(parts, ", "))
	}
	if instr.combiner != nil {
		fmt.Fprintf(sb, ", to_apply=%s", instr.combiner.name)
	}
	if instr.kind == optypes.CustomCall {
		fmt.Fprintf(sb, ", custom_call_target=%q", instr.customCallTarget)
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
