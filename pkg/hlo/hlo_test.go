package hlo

import (
	"strings"
	"testing"

	"github.com/gomlx/loopemit/internal/optypes"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	F32 = dtypes.Float32
	S   = shapes.Make
)

// must1 panics if there is an error.
func must1[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}

func addCombiner(t *testing.T, name string, numInputs int) *Computation {
	combiner := NewComputation(name)
	params := make([]*Instruction, 2*numInputs)
	for i := range params {
		params[i] = must1(combiner.Parameter("", S(F32)))
	}
	sums := make([]*Instruction, numInputs)
	for i := range sums {
		sums[i] = must1(Add(params[i], params[i+numInputs]))
	}
	root := sums[0]
	if numInputs > 1 {
		root = must1(Tuple(sums...))
	}
	require.NoError(t, combiner.SetRoot(root))
	return combiner
}

func TestBuilder(t *testing.T) {
	c := NewComputation("fused_computation")
	p0 := must1(c.Parameter("p0", S(F32, 2)))
	p1 := must1(c.Parameter("p1", S(F32, 2)))
	add := must1(Add(p0, p1))
	sub := must1(Subtract(p0, p1))
	mul := must1(Multiply(add, sub))
	div := must1(Divide(add, sub))
	atan2 := must1(Atan2(mul, div))
	require.NoError(t, c.SetRoot(atan2))
	require.NoError(t, c.Verify())

	assert.Equal(t, "atan2", atan2.Name())
	assert.Equal(t, optypes.Atan2, atan2.Kind())
	assert.Equal(t, []*Instruction{add, sub}, p0.Users())
	assert.Equal(t, []*Instruction{mul, div}, add.Users())
	assert.Equal(t, 1, p1.ParameterNumber())
	assert.Equal(t, atan2, c.Instruction(atan2.ID()))
	assert.Equal(t, []*Instruction{atan2}, c.Roots())
	require.Len(t, c.Outputs(), 1)
	assert.True(t, c.Outputs()[0].Shape().Equal(S(F32, 2)))

	// Names are unique.
	add2 := must1(Add(add, add))
	assert.Equal(t, "add_1", add2.Name())
	require.Error(t, add2.SetName("p0"))
	require.NoError(t, add2.SetName("twice"))

	text := c.String()
	assert.Contains(t, text, "fused_computation {")
	assert.Contains(t, text, "ROOT atan2 = f32[2] atan2(multiply, divide)")
	assert.Contains(t, text, "p1 = f32[2] parameter(1)")
}

func TestBuilderErrors(t *testing.T) {
	c := NewComputation("c")
	other := NewComputation("other")
	x := must1(c.Parameter("x", S(F32, 10, 20)))
	y := must1(other.Parameter("y", S(F32, 10, 20)))

	_, err := Add(x, y)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "different computation"))

	_, err = Broadcast(x, S(F32, 10, 20, 30), 1, 2)
	require.Error(t, err)
	_, err = Reshape(x, 7)
	require.Error(t, err)
	_, err = Transpose(x, 0)
	require.Error(t, err)
	_, err = Slice(x, []int{0, 0}, []int{11, 20}, []int{1, 1})
	require.Error(t, err)
	_, err = c.Iota(S(F32, 3), 1)
	require.Error(t, err)
	_, err = c.Constant(dtypes.Bool, 2)
	require.Error(t, err)
	_, err = Bitcast(x, S(dtypes.Int8, 200))
	require.Error(t, err)
	_, err = c.Parameter("x", S(F32))
	require.Error(t, err, "duplicate parameter name")
}

func TestCustomCall(t *testing.T) {
	c := NewComputation("c")
	x := must1(c.Parameter("x", S(F32, 4)))
	call := must1(CustomCall("my_kernel", S(F32, 2, 4), x))
	assert.Equal(t, optypes.CustomCall, call.Kind())
	assert.Equal(t, "my_kernel", call.CustomCallTarget())
	assert.Equal(t, []*Instruction{call}, x.Users())
	require.NoError(t, c.SetRoot(call))
	assert.Contains(t, c.String(), `customcall(x), custom_call_target="my_kernel"`)

	_, err := CustomCall("", S(F32, 4), x)
	require.Error(t, err)
	_, err = CustomCall("my_kernel", shapes.MakeTuple(S(F32, 4)), x)
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	c := NewComputation("c")
	x := must1(c.Parameter("x", S(F32, 4)))
	_ = must1(Negate(x)) // Dead.
	_ = must1(Exponential(x))
	require.Error(t, c.Verify(), "no root")

	abs := must1(Abs(x))
	require.NoError(t, c.SetRoot(abs))
	err := c.Verify()
	require.Error(t, err)
	// Both dead instructions are reported.
	assert.Contains(t, err.Error(), `"negate"`)
	assert.Contains(t, err.Error(), `"exponential"`)
}

func TestReduce(t *testing.T) {
	c := NewComputation("fused_computation")
	p0 := must1(c.Parameter("param_0", S(F32, 5, 200, 300)))
	p1 := must1(c.Parameter("param_1", S(F32, 5, 200, 300)))
	init := must1(c.Parameter("param_2", S(F32)))
	combiner := addCombiner(t, "Add", 2)
	reduce := must1(Reduce([]*Instruction{p0, p1}, []*Instruction{init, init}, combiner, 0, 2))
	require.NoError(t, c.SetRoot(reduce))
	require.NoError(t, c.Verify())

	assert.True(t, reduce.Shape().IsTuple())
	assert.Equal(t, 2, reduce.NumOutputs())
	assert.Equal(t, []int{200}, reduce.OutputShape(1).Dimensions)
	assert.Len(t, reduce.Operands(), 4)
	assert.Equal(t, []*Instruction{reduce}, init.Users())
	require.Len(t, c.Outputs(), 2)
	assert.Equal(t, 1, c.Outputs()[1].Index)
	assert.Contains(t, c.String(), "dimensions={0,2}, to_apply=Add")

	// Combiner with the wrong number of parameters.
	_, err := Reduce([]*Instruction{p0}, []*Instruction{init}, combiner, 0)
	require.Error(t, err)

	// A variadic reduction can't be used as an operand.
	_, err = Negate(reduce)
	require.Error(t, err)
}

func TestMultiOutput(t *testing.T) {
	c := NewComputation("fused_computation")
	x := must1(c.Parameter("x", S(F32, 10)))
	neg := must1(Negate(x))
	abs := must1(Abs(neg))
	root := must1(Tuple(neg, abs))
	require.NoError(t, c.SetRoot(root))
	require.NoError(t, c.Verify())
	assert.Equal(t, []*Instruction{neg, abs}, c.Roots())
	assert.True(t, c.IsRoot(neg))
	assert.False(t, c.IsRoot(x))
	assert.Len(t, c.Outputs(), 2)
}
