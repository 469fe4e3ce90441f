package fusion

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/gomlx/loopemit/internal/samples"
	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexanalysis"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(m.Run())
}

// must1 panics if there is an error.
func must1[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}

// emitSample builds the named sample and returns its program.
func emitSample(t *testing.T, name string, opts ...Option) string {
	sample := must1(samples.Get(name))
	f := must1(NewLoopFusion(must1(sample.Build()), opts...))
	program := must1(f.Emit())
	fmt.Printf("%s program:\n%s\n", name, program)
	return program
}

// operations returns the names of the operations of the program, one per statement, including the returns.
func operations(program string) []string {
	var ops []string
	for _, line := range strings.Split(program, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "}" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "module ") ||
			strings.HasPrefix(line, "func.func ") || strings.HasPrefix(line, "} else") {
			continue
		}
		if _, rhs, found := strings.Cut(line, " = "); found && strings.HasPrefix(line, "%") {
			line = rhs
		}
		op, _, _ := strings.Cut(line, " ")
		ops = append(ops, op)
	}
	return ops
}

func TestTwoUsers(t *testing.T) {
	program := emitSample(t, "two_users")
	want := `module @fused_computation {
  func.func @fused_computation(%arg0: tensor<2xf32>, %arg1: tensor<2xf32>, %arg2: tensor<2xf32>) -> tensor<2xf32> {
    %0 = gpu.thread_id x
    %1 = func.call @fused_computation_atan2(%arg0, %arg1, %0) : (tensor<2xf32>, tensor<2xf32>, index) -> f32
    %2 = tensor.insert %1 into %arg2[%0] : tensor<2xf32>
    return %2 : tensor<2xf32>
  }

  func.func private @fused_computation_atan2(%arg0: tensor<2xf32>, %arg1: tensor<2xf32>, %arg2: index) -> f32 {
    %0 = tensor.extract %arg0[%arg2] : tensor<2xf32>
    %1 = tensor.extract %arg1[%arg2] : tensor<2xf32>
    %2 = arith.addf %0, %1 : f32
    %3 = arith.subf %0, %1 : f32
    %4 = arith.mulf %2, %3 : f32
    %5 = arith.divf %2, %3 : f32
    %6 = math.atan2 %4, %5 : f32
    return %6 : f32
  }
}
`
	if diff := cmp.Diff(want, program); diff != "" {
		t.Errorf("unexpected program (-want +got):\n%s", diff)
	}
	wantOps := []string{
		"gpu.thread_id", "func.call", "tensor.insert", "return",
		"tensor.extract", "tensor.extract", "arith.addf", "arith.subf", "arith.mulf", "arith.divf", "math.atan2", "return",
	}
	if diff := cmp.Diff(wantOps, operations(program)); diff != "" {
		t.Errorf("unexpected operations (-want +got):\n%s", diff)
	}
}

func TestNoCodeDuplication(t *testing.T) {
	program := emitSample(t, "no_code_duplication")
	assert.Equal(t, 4, strings.Count(program, "arith.addf"), "each add must be computed once")
	assert.Equal(t, 5, strings.Count(program, "func.func"))

	f := must1(NewLoopFusion(must1(samples.NoCodeDuplication())))
	plan := must1(f.Plan())
	var names []string
	for _, r := range plan.Routines {
		names = append(names, r.Name)
	}
	want := []string{"fused_computation_add_3", "fused_computation_add_2", "fused_computation_add_1", "fused_computation_add"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("unexpected routines (-want +got):\n%s", diff)
	}
	// Each level calls the previous one at two different offsets.
	for i, name := range want[:3] {
		r := plan.Routine(name)
		require.NotNil(t, r)
		callees := r.Callees()
		require.Len(t, callees, 1, "routine %s", name)
		assert.Equal(t, want[i+1], callees[0].Name)
		numCalls := 0
		for _, step := range r.Steps {
			if step.Kind == StepCall {
				numCalls++
			}
		}
		assert.Equal(t, 2, numCalls, "routine %s", name)
	}
	// The last level loads the parameter at both offsets.
	assert.Empty(t, plan.Routine("fused_computation_add").Callees())
	assert.Equal(t, 2, strings.Count(program, "tensor.extract"))
}

func TestPartition(t *testing.T) {
	fusion := must1(samples.TwoUsers())
	routines := must1(Partition(fusion, indexanalysis.NewComposer()))
	require.Len(t, routines, 1)
	var names []string
	for _, instr := range routines[0].Instructions {
		names = append(names, instr.Name())
	}
	if diff := cmp.Diff([]string{"add", "subtract", "multiply", "divide", "atan2"}, names); diff != "" {
		t.Errorf("unexpected inlined instructions (-want +got):\n%s", diff)
	}

	t.Run("multiple outputs", func(t *testing.T) {
		fusion := must1(samples.MultiOutput())
		routines := must1(Partition(fusion, indexanalysis.NewComposer()))
		require.Len(t, routines, 2)
		assert.Equal(t, "fused_computation_negate", routines[0].Name)
		assert.Equal(t, "fused_computation_add", routines[1].Name)
		var names []string
		for _, instr := range routines[1].Instructions {
			names = append(names, instr.Name())
		}
		assert.Equal(t, []string{"abs", "exponential", "add"}, names)
	})
}

func TestShapeChain(t *testing.T) {
	program := emitSample(t, "shape_chain")
	assert.Equal(t, 2, strings.Count(program, "func.func"), "data movement operations must be inlined")
	assert.NotContains(t, program, "tensor.extract")
	assert.Contains(t, program, "arith.index_cast")
	assert.Contains(t, program, "arith.bitcast")
	assert.Contains(t, program, "gpu.block_id x")
	assert.Contains(t, program, "scf.if")
}

func TestInverseDataMovementLoadsOnce(t *testing.T) {
	fusion := hlo.NewComputation("fused_computation")
	x := must1(fusion.Parameter("x", shapes.Make(dtypes.Float32, 4, 6)))
	transposed := must1(hlo.Transpose(must1(hlo.Transpose(x, 1, 0)), 1, 0))
	reshaped := must1(hlo.Reshape(must1(hlo.Reshape(x, 6, 4)), 4, 6))
	reversed := must1(hlo.Reverse(must1(hlo.Reverse(x, 1)), 1))
	root := must1(hlo.Multiply(must1(hlo.Add(x, transposed)), must1(hlo.Add(reshaped, reversed))))
	require.NoError(t, fusion.SetRoot(root))

	f := must1(NewLoopFusion(fusion))
	program := must1(f.Emit())
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Equal(t, 1, strings.Count(program, "tensor.extract"), "all paths read x at the same index")
	assert.Equal(t, 1, strings.Count(program, "tensor.extract %arg0["))
}

func TestReshapedOutputIndexing(t *testing.T) {
	fusion := hlo.NewComputation("fused_computation")
	x := must1(fusion.Parameter("x", shapes.Make(dtypes.Float32, 4, 8)))
	neg := must1(hlo.Negate(x))
	flat := must1(hlo.Reshape(neg, 32))
	require.NoError(t, fusion.SetRoot(must1(hlo.Tuple(neg, flat))))

	f := must1(NewLoopFusion(fusion))
	m := must1(f.ComputeThreadIDToOutputIndexing(0))
	assert.Contains(t, m.String(), "-> (th_x floordiv 8, th_x mod 8)")
	m = must1(f.ComputeThreadIDToOutputIndexing(1))
	assert.Contains(t, m.String(), "-> (th_x)\n", "quotient and remainder fold back into the linear index")
	m = must1(f.ComputeThreadIDToInputIndexing(1, 0))
	assert.Contains(t, m.String(), "-> (th_x floordiv 8, th_x mod 8)")
}

func TestVariadicReduce(t *testing.T) {
	program := emitSample(t, "variadic_reduce")
	assert.Equal(t, 3, strings.Count(program, "func.func"))
	assert.Equal(t, 1, strings.Count(program, "func.func private @Add_t("), "the combiner routine is defined once")
	assert.Equal(t, 1, strings.Count(program, "func.call @Add_t("), "one combiner call per reduction step")
	for _, want := range []string{
		"func.func private @Add_t(%arg0: f32, %arg1: f32, %arg2: f32, %arg3: f32) -> (f32, f32)",
		"func.func private @fused_computation_d_1(%arg0: tensor<5x200x300xf32>, %arg1: tensor<5x200x300xf32>, %arg2: tensor<f32>, %arg3: index) -> (f32, f32)",
		":2 = func.call @fused_computation_d_1(",
		":2 = func.call @Add_t(",
		"tensor.extract %arg0[%arg4, %arg3, %arg7] : tensor<5x200x300xf32>",
		"iter_args(",
		"scf.yield",
	} {
		assert.Contains(t, program, want)
	}
	// The initial value is loaded once, before the loops, for both accumulators.
	assert.Equal(t, 1, strings.Count(program, "tensor.extract %arg2[]"))
	assert.Equal(t, 2, strings.Count(program, "tensor.insert"))
	assert.Equal(t, 2, strings.Count(program, "scf.for"), "two reduction loops and no chunk or unroll loops")

	f := must1(NewLoopFusion(must1(samples.VariadicReduce())))
	plan := must1(f.Plan())
	combiner := plan.Routine("Add_t")
	require.NotNil(t, combiner)
	assert.True(t, combiner.IsCombiner())
	reduce := plan.Routine("fused_computation_d_1")
	require.NotNil(t, reduce)
	require.Equal(t, StepReduce, reduce.Result.Kind)
	assert.Len(t, reduce.Result.Counters, 2)
	assert.Same(t, combiner, reduce.Result.Callee)
	assert.Same(t, reduce.Result.Inits[0], reduce.Result.Inits[1], "same initial value at the same index")
}

func TestRelu(t *testing.T) {
	program := emitSample(t, "relu")
	assert.Equal(t, 2, strings.Count(program, "func.func"))
	assert.Contains(t, program, "arith.constant 0.000000e+00 : f32")
	assert.Contains(t, program, "arith.maximumf")
	assert.Contains(t, program, "func.call @fused_computation_relu(")
}

func TestMultiOutput(t *testing.T) {
	program := emitSample(t, "multi_output")
	assert.Equal(t, 3, strings.Count(program, "func.func"))
	assert.Equal(t, 2, strings.Count(program, "tensor.insert"))
	assert.Equal(t, 1, strings.Count(program, "arith.negf"), "negate is shared by both outputs")
	assert.Contains(t, program, "-> (tensor<4x8xf32>, tensor<4x8xf32>)")
	// The second output uses the routine of the first one.
	assert.Equal(t, 2, strings.Count(program, "func.call @fused_computation_negate("))
}

func TestNegateUnrolled(t *testing.T) {
	program := emitSample(t, "negate")
	assert.Equal(t, 2, strings.Count(program, "func.func"))
	assert.Equal(t, 2, strings.Count(program, "scf.for"), "chunk and unroll loops")
	assert.Contains(t, program, "gpu.thread_id x")
	assert.Contains(t, program, "gpu.block_id x")
	assert.NotContains(t, program, "gpu.thread_id y")
	assert.Contains(t, program, "scf.if")
	assert.Contains(t, program, "arith.negf")
	assert.NotContains(t, program, "arith.addi", "index arithmetic is done with affine.apply")
}

func TestBroadcastLoad(t *testing.T) {
	program := emitSample(t, "broadcast")
	assert.Contains(t, program, "tensor.extract %arg0[%arg2] : tensor<20xf32>")

	f := must1(NewLoopFusion(must1(samples.Broadcast())))
	m := must1(f.ComputeThreadIDToInputIndexing(0, 0))
	assert.Contains(t, m.String(),
		"(th_x, th_y, th_z, bl_x, bl_y, bl_z)[chunk_id, unroll_id] -> (((bl_x * 64 + th_x floordiv 2) floordiv 15) mod 20)")
}

func TestDeterminism(t *testing.T) {
	for _, name := range samples.Names() {
		t.Run(name, func(t *testing.T) {
			first, second := emitSample(t, name), emitSample(t, name)
			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("emission is not deterministic (-first +second):\n%s", diff)
			}
		})
	}
}

func TestLoopFusionErrors(t *testing.T) {
	fusion := must1(samples.TwoUsers())
	_, err := NewLoopFusion(fusion, WithLaunchOptions(indexanalysis.WithUnrollFactor(7)))
	require.Error(t, err)

	_, err = NewLoopFusion(hlo.NewComputation("empty"))
	require.Error(t, err, "fusion without root")

	_, err = NewLoopFusion(fusion, WithLaunchConfig(indexanalysis.LaunchConfig{ThreadsPerBlock: 2}))
	require.Error(t, err, "incomplete launch configuration")

	f := must1(NewLoopFusion(fusion))
	_, err = f.ComputeThreadIDToOutputIndexing(1)
	require.Error(t, err)
	_, err = f.ComputeThreadIDToInputIndexing(0, 2)
	require.Error(t, err)

	// Threads beyond the output are guarded, even if the launch configuration is larger than needed.
	f = must1(NewLoopFusion(fusion, WithLaunchConfig(indexanalysis.LaunchConfig{
		ThreadsPerBlock: 4, NumBlocks: 1, UnrollFactor: 1, NumChunks: 1})))
	program := must1(f.Emit())
	assert.Contains(t, program, "scf.if")
	assert.Contains(t, program, "arith.cmpi sle, %0, %")
}

func TestUnsupportedOperation(t *testing.T) {
	fusion := hlo.NewComputation("fused_computation")
	x := must1(fusion.Parameter("x", shapes.Make(dtypes.Float32, 4, 6)))
	call := must1(hlo.CustomCall("my_kernel", shapes.Make(dtypes.Float32, 4, 6), x))
	require.NoError(t, fusion.SetRoot(must1(hlo.Negate(call))))
	f := must1(NewLoopFusion(fusion))
	program, err := f.Emit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, indexanalysis.ErrUnsupportedOperation), "got %+v", err)
	assert.Empty(t, program)

	t.Run("root", func(t *testing.T) {
		fusion := hlo.NewComputation("fused_computation")
		x := must1(fusion.Parameter("x", shapes.Make(dtypes.Float32, 4, 6)))
		require.NoError(t, fusion.SetRoot(must1(hlo.CustomCall("my_kernel", shapes.Make(dtypes.Float32, 6), x))))
		_, err := NewPlan(fusion, indexanalysis.NewComposer())
		require.Error(t, err)
		assert.True(t, errors.Is(err, indexanalysis.ErrUnsupportedOperation), "got %+v", err)
		f := must1(NewLoopFusion(fusion))
		program, err := f.Emit()
		assert.True(t, errors.Is(err, indexanalysis.ErrUnsupportedOperation), "got %+v", err)
		assert.Empty(t, program)
	})
}

func TestKnownEmptyStep(t *testing.T) {
	f := must1(NewLoopFusion(must1(samples.TwoUsers())))
	plan := must1(f.Plan())
	r := plan.Routines[0]
	r.Steps = nil
	rp := &routinePlanner{planner: &planner{}, routine: r, memo: make(map[stepKey]*Step)}
	empty := indexing.EmptyMap(indexing.DimVarsForShape([]int{2}), nil, 1)
	zero := must1(rp.step(r.Root, empty))
	assert.Equal(t, StepZero, zero.Kind)
	assert.Empty(t, zero.Operands)
	require.Len(t, r.Steps, 1, "no loads or computations through a known empty map")
	assert.Same(t, zero, must1(rp.step(r.Root, empty)), "steps are memoized by map")

	r.Result = zero
	program := must1(f.Emit())
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Contains(t, program, "arith.constant 0.000000e+00 : f32")
	assert.NotContains(t, program, "tensor.extract")
	assert.NotContains(t, program, "math.atan2")
}

func TestSharedCombiner(t *testing.T) {
	combiner := hlo.NewComputation("max")
	lhs := must1(combiner.Parameter("lhs", shapes.Scalar(dtypes.Float32)))
	rhs := must1(combiner.Parameter("rhs", shapes.Scalar(dtypes.Float32)))
	require.NoError(t, combiner.SetRoot(must1(hlo.Maximum(lhs, rhs))))

	fusion := hlo.NewComputation("fused_reductions")
	x := must1(fusion.Parameter("x", shapes.Make(dtypes.Float32, 8, 16)))
	init := must1(fusion.Constant(dtypes.Float32, -1))
	rows := must1(hlo.Reduce([]*hlo.Instruction{x}, []*hlo.Instruction{init}, combiner, 1))
	negRows := must1(hlo.Reduce([]*hlo.Instruction{must1(hlo.Negate(x))}, []*hlo.Instruction{init}, combiner, 1))
	require.NoError(t, fusion.SetRoot(must1(hlo.Add(rows, negRows))))

	f := must1(NewLoopFusion(fusion))
	program := must1(f.Emit())
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Equal(t, 1, strings.Count(program, "func.func private @max_maximum("))
	assert.Equal(t, 2, strings.Count(program, "func.call @max_maximum("))
	assert.Equal(t, 2, strings.Count(program, "arith.constant -1.000000e+00 : f32"), "initial value materialized in each reduction")
	assert.Equal(t, 1, strings.Count(program, "arith.negf"))

	plan := must1(f.Plan())
	assert.Len(t, plan.Routines, 4, "root, two reductions and the combiner")
}

func TestIndexingReport(t *testing.T) {
	f := must1(NewLoopFusion(must1(samples.TwoUsers())))
	report := must1(IndexingReport(f))
	fields := report.GetFields()
	assert.Equal(t, "fused_computation", fields["fusion"].GetStringValue())
	launch := fields["launch"].GetStructValue().GetFields()
	assert.Equal(t, 2.0, launch["threads_per_block"].GetNumberValue())
	assert.Equal(t, 1.0, launch["blocks"].GetNumberValue())
	outputs := fields["outputs"].GetListValue().GetValues()
	require.Len(t, outputs, 1)
	output := outputs[0].GetStructValue().GetFields()
	assert.Equal(t, "atan2", output["root"].GetStringValue())
	assert.Contains(t, output["thread_to_output"].GetStringValue(), "-> (th_x)")
	assert.Len(t, output["operands"].GetListValue().GetValues(), 2)
	routines := fields["routines"].GetListValue().GetValues()
	require.Len(t, routines, 1)
	assert.Equal(t, "fused_computation_atan2", routines[0].GetStructValue().GetFields()["name"].GetStringValue())

	data := must1(IndexingReportJSON(f))
	assert.Contains(t, string(data), "fused_computation_atan2")
}
