// Package samples holds canonical loop fusions, used by tests and by the loopemit command line tool.
package samples

import (
	"slices"

	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
)

// FusionName is the name of the computation of all samples.
const FusionName = "fused_computation"

// Sample is a named fusion builder.
type Sample struct {
	Name        string
	Description string
	Build       func() (*hlo.Computation, error)
}

var all = []Sample{
	{"negate", "negate of f32[100,200,300], unrolled 4 times", Negate3D},
	{"broadcast", "broadcast of f32[20] into axis 1 of f32[10,20,30]", Broadcast},
	{"no_code_duplication", "4-level diamond of slices and adds over f32[6]", NoCodeDuplication},
	{"two_users", "multiply and divide sharing an add/subtract pair", TwoUsers},
	{"shape_chain", "iota, copy, bitcast, broadcast, reshape, reverse and transpose", ShapeChain},
	{"variadic_reduce", "reduction of two f32[5,200,300] into a tuple of f32[200]", VariadicReduce},
	{"relu", "max(x, 0) with a broadcast scalar constant", Relu},
	{"multi_output", "fusion with two outputs", MultiOutput},
}

// All returns all samples, in a fixed order.
func All() []Sample {
	return slices.Clone(all)
}

// Names of all samples.
func Names() []string {
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	return names
}

// Get returns the sample with the given name.
func Get(name string) (Sample, error) {
	for _, s := range all {
		if s.Name == name {
			return s, nil
		}
	}
	return Sample{}, errors.Errorf("unknown sample %q, valid samples are %v", name, Names())
}

// graph wraps a computation under construction: it keeps the first error of the chained builder calls.
// After an error, the builder functions are called with nil operands, and they fail without side effects.
type graph struct {
	c   *hlo.Computation
	err error
}

func newGraph(name string) *graph {
	return &graph{c: hlo.NewComputation(name)}
}

func (g *graph) op(instr *hlo.Instruction, err error) *hlo.Instruction {
	if g.err != nil {
		return nil
	}
	if err != nil {
		g.err = err
		return nil
	}
	return instr
}

func (g *graph) param(name string, shape shapes.Shape) *hlo.Instruction {
	return g.op(g.c.Parameter(name, shape))
}

// named sets the name of instr.
func (g *graph) named(instr *hlo.Instruction, name string) *hlo.Instruction {
	if g.err != nil {
		return nil
	}
	if err := instr.SetName(name); err != nil {
		g.err = err
		return nil
	}
	return instr
}

func (g *graph) slice(x *hlo.Instruction, start, limit int) *hlo.Instruction {
	return g.op(hlo.Slice(x, []int{start}, []int{limit}, []int{1}))
}

func (g *graph) done(root *hlo.Instruction) (*hlo.Computation, error) {
	if g.err != nil {
		return nil, g.err
	}
	if err := g.c.SetRoot(root); err != nil {
		return nil, err
	}
	if err := g.c.Verify(); err != nil {
		return nil, err
	}
	return g.c, nil
}

var f32 = dtypes.Float32

// Negate3D is a single negate of f32[100,200,300]: the output is large enough to be unrolled and to need
// more than one chunk of the launch grid.
func Negate3D() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	p0 := g.param("p0", shapes.Make(f32, 100, 200, 300))
	neg := g.op(hlo.Negate(p0))
	return g.done(neg)
}

// Broadcast of a f32[20] vector into axis 1 of a f32[10,20,30].
func Broadcast() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	p0 := g.param("p0", shapes.Make(f32, 20))
	bc := g.op(hlo.Broadcast(p0, shapes.Make(f32, 10, 20, 30), 1))
	return g.done(bc)
}

// NoCodeDuplication is a diamond of 4 levels: each level adds two overlapping slices of the previous one.
// Each add is needed at two different offsets by the next level.
func NoCodeDuplication() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	x := g.param("param", shapes.Make(f32, 6))
	for level := range 4 {
		size := 6 - level
		lhs := g.slice(x, 0, size-1)
		rhs := g.slice(x, 1, size)
		x = g.op(hlo.Add(lhs, rhs))
	}
	return g.done(x)
}

// TwoUsers has an add and a subtract both used by a multiply and a divide.
func TwoUsers() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	p0 := g.param("p0", shapes.Make(f32, 2))
	p1 := g.param("p1", shapes.Make(f32, 2))
	add := g.op(hlo.Add(p0, p1))
	sub := g.op(hlo.Subtract(p0, p1))
	mul := g.op(hlo.Multiply(add, sub))
	div := g.op(hlo.Divide(add, sub))
	atan2 := g.op(hlo.Atan2(mul, div))
	return g.done(atan2)
}

// ShapeChain is a chain of operations that only move elements around.
func ShapeChain() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	iota := g.op(g.c.Iota(shapes.Make(f32, 10, 20, 30), 2))
	copied := g.op(hlo.Copy(iota))
	bitcast := g.op(hlo.Bitcast(copied, shapes.Make(dtypes.Int32, 10, 20, 30)))
	bc := g.op(hlo.Broadcast(bitcast, shapes.Make(dtypes.Int32, 2, 10, 3, 20, 5, 30, 7), 1, 3, 5))
	reshape := g.op(hlo.Reshape(bc, 20, 60, 150, 7))
	reverse := g.op(hlo.Reverse(reshape, 2, 3))
	transpose := g.op(hlo.Transpose(reverse, 1, 0, 3, 2))
	return g.done(transpose)
}

// VariadicReduce reduces two inputs at once, with a combiner returning a tuple.
func VariadicReduce() (*hlo.Computation, error) {
	combiner := newGraph("Add")
	lhs0 := combiner.param("scalar_lhs_0", shapes.Scalar(f32))
	rhs0 := combiner.param("scalar_rhs_0", shapes.Scalar(f32))
	lhs1 := combiner.param("scalar_lhs_1", shapes.Scalar(f32))
	rhs1 := combiner.param("scalar_rhs_1", shapes.Scalar(f32))
	add0 := combiner.op(hlo.Add(lhs0, lhs1))
	add1 := combiner.op(hlo.Add(rhs0, rhs1))
	t := combiner.named(combiner.op(hlo.Tuple(add0, add1)), "t")
	add, err := combiner.done(t)
	if err != nil {
		return nil, err
	}

	g := newGraph(FusionName)
	p0 := g.param("param_0", shapes.Make(f32, 5, 200, 300))
	p1 := g.param("param_1", shapes.Make(f32, 5, 200, 300))
	p2 := g.param("param_2", shapes.Scalar(f32))
	reduce := g.named(g.op(hlo.Reduce([]*hlo.Instruction{p0, p1}, []*hlo.Instruction{p2, p2}, add, 0, 2)), "d.1")
	return g.done(reduce)
}

// Relu is max(x, 0), with the zero broadcast from a scalar constant.
func Relu() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	shape := shapes.Make(f32, 1024, 512)
	x := g.param("x", shape)
	zero := g.op(g.c.Constant(f32, 0))
	zeros := g.op(hlo.Broadcast(zero, shape))
	relu := g.named(g.op(hlo.Maximum(x, zeros)), "relu")
	return g.done(relu)
}

// MultiOutput returns both -x and |x| + exp(-x).
func MultiOutput() (*hlo.Computation, error) {
	g := newGraph(FusionName)
	x := g.param("x", shapes.Make(f32, 4, 8))
	neg := g.op(hlo.Negate(x))
	abs := g.op(hlo.Abs(x))
	exp := g.op(hlo.Exponential(neg))
	sum := g.op(hlo.Add(abs, exp))
	root := g.op(hlo.Tuple(neg, sum))
	return g.done(root)
}
