package indexanalysis

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/loopemit/internal/samples"
	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/gomlx/loopemit/pkg/types/dtypes"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
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

// threadGrid is the launch grid part of the printed thread maps.
func threadGrid(threads, blocks, chunks, unroll int) []string {
	return []string{
		fmt.Sprintf("th_x in [0, %d]", threads-1),
		"th_y in [0, 0]",
		"th_z in [0, 0]",
		fmt.Sprintf("bl_x in [0, %d]", blocks-1),
		"bl_y in [0, 0]",
		"bl_z in [0, 0]",
		fmt.Sprintf("chunk_id in [0, %d]", chunks-1),
		fmt.Sprintf("unroll_id in [0, %d]", unroll-1),
	}
}

func TestComputeLaunchConfig(t *testing.T) {
	device := DefaultDeviceInfo()
	testCases := []struct {
		shape shapes.Shape
		opts  []LaunchOption
		want  LaunchConfig
	}{
		{S(F32, 100, 200, 300), nil, LaunchConfig{128, 1008, 4, 12, 6000000}},
		{S(F32, 10, 20, 30), nil, LaunchConfig{128, 47, 1, 1, 6000}},
		{S(F32, 20), nil, LaunchConfig{20, 1, 1, 1, 20}},
		{S(F32), nil, LaunchConfig{1, 1, 1, 1, 1}},
		{S(F32, 6000), []LaunchOption{WithThreadsPerBlock(256), WithUnrollFactor(2)}, LaunchConfig{256, 12, 2, 1, 6000}},
	}
	for _, tc := range testCases {
		t.Run(tc.shape.String(), func(t *testing.T) {
			got := must1(ComputeLaunchConfig(tc.shape, device, tc.opts...))
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ComputeLaunchConfig(S(F32, 6000), device, WithUnrollFactor(7))
	require.Error(t, err)
	_, err = ComputeLaunchConfig(S(F32, 6000), device, WithThreadsPerBlock(2048))
	require.Error(t, err)
}

func TestThreadIDToOutputMap(t *testing.T) {
	t.Run("not unrolled", func(t *testing.T) {
		config := must1(ComputeLaunchConfig(S(F32, 20), DefaultDeviceInfo()))
		m := ThreadIDToOutputMap(config, []int{20})
		want := strings.Join(append([]string{
			"(th_x, th_y, th_z, bl_x, bl_y, bl_z)[chunk_id, unroll_id] -> (th_x)",
			"domain:"}, threadGrid(20, 1, 1, 1)...), "\n")
		if diff := cmp.Diff(want, m.String()); diff != "" {
			t.Errorf("unexpected map (-want +got):\n%s", diff)
		}
	})

	t.Run("unrolled", func(t *testing.T) {
		dims := []int{100, 200, 300}
		config := must1(ComputeLaunchConfig(S(F32, dims...), DefaultDeviceInfo()))
		m := ThreadIDToOutputMap(config, dims)
		require.Equal(t, 3, m.NumResults())
		assert.Equal(t,
			"(((bl_x * 16 + th_x floordiv 8) floordiv 3 + chunk_id * 5376) floordiv 625) mod 100",
			m.Results()[0].Format(m.Domain))
		assert.Equal(t,
			"(((th_x + bl_x * 128) floordiv 3 + chunk_id * 43008) floordiv 25) mod 200",
			m.Results()[1].Format(m.Domain))
		require.Len(t, m.Constraints(), 1)
		assert.Equal(t, "th_x + bl_x * 128 + chunk_id * 129024 in [0, 1499999]",
			m.Constraints()[0].Expr.Format(m.Domain)+" in "+m.Constraints()[0].Bounds.String())
		checkThreadMap(t, m, config, dims)
	})
}

// checkThreadMap verifies that m computes the row-major element of the linear index of each thread, for
// a sample of threads in all blocks, chunks and unroll positions.
func checkThreadMap(t *testing.T, m *indexing.Map, config LaunchConfig, dims []int) {
	t.Helper()
	strides := S(F32, dims...).Strides()
	threadDims := make([]int64, 6)
	for block := 0; block < config.NumBlocks; block += 37 {
		for thread := 0; thread < config.ThreadsPerBlock; thread += 5 {
			for chunk := range config.NumChunks {
				for unroll := range config.UnrollFactor {
					threadDims[ThreadX], threadDims[BlockX] = int64(thread), int64(block)
					symbols := []int64{int64(chunk), int64(unroll)}
					linear := ((thread+block*config.ThreadsPerBlock)*config.UnrollFactor +
						chunk*config.ThreadsPerBlock*config.NumBlocks*config.UnrollFactor + unroll)
					inside := linear < config.NumElements
					if got := m.Contains(threadDims, symbols); got != inside {
						t.Fatalf("thread=%d block=%d chunk=%d unroll=%d: Contains()=%v, want %v",
							thread, block, chunk, unroll, got, inside)
					}
					if !inside {
						continue
					}
					got := m.Evaluate(threadDims, symbols)
					for axis := range dims {
						want := int64((linear / strides[axis]) % dims[axis])
						if got[axis] != want {
							t.Fatalf("thread=%d block=%d chunk=%d unroll=%d: index %v, want %d at axis %d",
								thread, block, chunk, unroll, got, want, axis)
						}
					}
				}
			}
		}
	}
}

func TestThreadIDToInputIndexingOfBroadcast(t *testing.T) {
	fusion := must1(samples.Broadcast())
	root := fusion.Root()
	config := must1(ComputeLaunchConfig(root.Shape(), DefaultDeviceInfo()))
	threadMap := ThreadIDToOutputMap(config, root.Shape().Dimensions)
	m := must1(NewComposer().ComposeOperand(threadMap, root, 0))
	want := strings.Join(slices.Concat([]string{
		"(th_x, th_y, th_z, bl_x, bl_y, bl_z)[chunk_id, unroll_id] -> (((bl_x * 64 + th_x floordiv 2) floordiv 15) mod 20)",
		"domain:"},
		threadGrid(128, 47, 1, 1),
		[]string{"th_x + bl_x * 128 in [0, 5999]"}), "\n")
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("unexpected map (-want +got):\n%s", diff)
	}
}

// checkHop verifies by enumeration that the operand indexing of instr matches want, a direct computation of
// the operand index from the output index.
func checkHop(t *testing.T, instr *hlo.Instruction, operandIndex int, want func(index []int64) []int64) {
	t.Helper()
	m := must1(OperandIndexing(instr, operandIndex))
	require.Equal(t, instr.Operand(operandIndex).Shape().Rank(), m.NumResults())
	m.ForEachPoint(func(dims, symbols []int64) bool {
		index := slices.Concat(dims, symbols)
		got := m.Evaluate(dims, symbols)
		if !slices.Equal(got, want(index)) {
			t.Errorf("%s operand #%d: at %v got %v, want %v", instr.Kind(), operandIndex, index, got, want(index))
			return false
		}
		return true
	})
}

func TestOperandIndexing(t *testing.T) {
	c := hlo.NewComputation("c")
	x := must1(c.Parameter("x", S(F32, 4, 6)))

	t.Run("transpose", func(t *testing.T) {
		tr := must1(hlo.Transpose(x, 1, 0))
		m := must1(OperandIndexing(tr, 0))
		assert.Equal(t, "(d0, d1) -> (d1, d0)\ndomain:\nd0 in [0, 5]\nd1 in [0, 3]", m.String())
		checkHop(t, tr, 0, func(i []int64) []int64 { return []int64{i[1], i[0]} })
	})

	t.Run("reverse", func(t *testing.T) {
		rev := must1(hlo.Reverse(x, 1))
		checkHop(t, rev, 0, func(i []int64) []int64 { return []int64{i[0], 5 - i[1]} })
	})

	t.Run("slice", func(t *testing.T) {
		sl := must1(hlo.Slice(x, []int{1, 1}, []int{4, 6}, []int{2, 3}))
		assert.Equal(t, []int{2, 2}, sl.Shape().Dimensions)
		checkHop(t, sl, 0, func(i []int64) []int64 { return []int64{1 + 2*i[0], 1 + 3*i[1]} })
	})

	t.Run("broadcast", func(t *testing.T) {
		bc := must1(hlo.Broadcast(x, S(F32, 4, 3, 6), 0, 2))
		checkHop(t, bc, 0, func(i []int64) []int64 { return []int64{i[0], i[2]} })
	})

	t.Run("reshape", func(t *testing.T) {
		rs := must1(hlo.Reshape(x, 2, 3, 4))
		checkHop(t, rs, 0, func(i []int64) []int64 {
			linear := i[0]*12 + i[1]*4 + i[2]
			return []int64{linear / 6, linear % 6}
		})
	})

	t.Run("bitcast", func(t *testing.T) {
		same := must1(hlo.Bitcast(x, S(dtypes.Int32, 4, 6)))
		checkHop(t, same, 0, func(i []int64) []int64 { return i })
		flat := must1(hlo.Bitcast(x, S(dtypes.Int32, 24)))
		checkHop(t, flat, 0, func(i []int64) []int64 { return []int64{i[0] / 6, i[0] % 6} })
	})

	t.Run("elementwise", func(t *testing.T) {
		pred := must1(c.Parameter("pred", S(dtypes.Bool)))
		sel := must1(hlo.Select(pred, x, x))
		m := must1(OperandIndexing(sel, 0))
		assert.Equal(t, 0, m.NumResults())
		checkHop(t, sel, 2, func(i []int64) []int64 { return i })
	})

	t.Run("reduce", func(t *testing.T) {
		combiner := hlo.NewComputation("sum")
		lhs := must1(combiner.Parameter("lhs", S(F32)))
		rhs := must1(combiner.Parameter("rhs", S(F32)))
		require.NoError(t, combiner.SetRoot(must1(hlo.Add(lhs, rhs))))
		init := must1(c.Constant(F32, 0))
		reduce := must1(hlo.Reduce([]*hlo.Instruction{x}, []*hlo.Instruction{init}, combiner, 0))
		m := must1(OperandIndexing(reduce, 0))
		assert.Equal(t, "(d0)[s0] -> (s0, d0)\ndomain:\nd0 in [0, 5]\ns0 in [0, 3]", m.String())
		initMap := must1(OperandIndexing(reduce, 1))
		assert.Equal(t, 0, initMap.NumResults())
		assert.False(t, initMap.IsKnownEmpty())
	})

	t.Run("unsupported", func(t *testing.T) {
		call := must1(hlo.CustomCall("my_kernel", S(F32, 4, 6), x))
		_, err := OperandIndexing(call, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedOperation))
		_, err = NewComposer().ComposeOperand(indexing.IdentityMap([]int{4, 6}), call, 0)
		assert.True(t, errors.Is(err, ErrUnsupportedOperation))
	})

	t.Run("invalid operand", func(t *testing.T) {
		neg := must1(hlo.Negate(x))
		require.Panics(t, func() { _, _ = OperandIndexing(neg, 1) })
		require.Panics(t, func() { _, _ = OperandIndexing(x, 0) })
	})
}

func TestGroupedIndexingDedup(t *testing.T) {
	fusion := must1(samples.NoCodeDuplication())
	grouped := must1(NewComposer().ComputeOutputToInputIndexing(fusion.Root()))
	counts := make(map[string]int)
	for instr, set := range grouped {
		counts[instr.Name()] = set.Len()
	}
	// Each level of the diamond is needed at one more offset than the level above.
	assert.Equal(t, 1, counts["add_3"])
	assert.Equal(t, 2, counts["add_2"])
	assert.Equal(t, 3, counts["add_1"])
	assert.Equal(t, 4, counts["add"])
	assert.Equal(t, 5, counts["param"])

	var offsets []string
	for _, m := range grouped[fusion.Parameters()[0]].Maps() {
		offsets = append(offsets, m.Results()[0].String())
	}
	assert.Equal(t, []string{"d0 + 4", "d0 + 3", "d0 + 2", "d0 + 1", "d0"}, reverseSorted(offsets))
}

func reverseSorted(values []string) []string {
	values = slices.Clone(values)
	slices.Sort(values)
	slices.Reverse(values)
	return values
}

func TestGroupedIndexingStop(t *testing.T) {
	fusion := must1(samples.TwoUsers())
	var add *hlo.Instruction
	for _, instr := range fusion.Instructions() {
		if instr.Name() == "add" {
			add = instr
		}
	}
	grouped := must1(NewComposer().ComputeGroupedIndexing(fusion.Root(),
		indexing.IdentityMap([]int{2}), func(instr *hlo.Instruction) bool { return instr == add }))
	require.Contains(t, grouped, add)
	assert.Equal(t, 1, grouped[add].Len())
	// p0 is still reached through the subtract.
	assert.Contains(t, grouped, fusion.Parameters()[0])

	_, err := NewComposer().ComputeGroupedIndexing(fusion.Root(), indexing.IdentityMap([]int{2, 1}), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedGraph))
}

func TestOutputToOutputIndexing(t *testing.T) {
	m := must1(OutputToOutputIndexing(S(F32, 4, 8), S(F32, 32)))
	assert.Equal(t, "(d0, d1) -> (d0 * 8 + d1)\ndomain:\nd0 in [0, 3]\nd1 in [0, 7]", m.String())
	m = must1(OutputToOutputIndexing(S(F32, 4, 8), S(dtypes.Int32, 4, 8)))
	assert.Equal(t, "(d0, d1) -> (d0, d1)\ndomain:\nd0 in [0, 3]\nd1 in [0, 7]", m.String())
	_, err := OutputToOutputIndexing(S(F32, 4, 8), S(F32, 30))
	assert.True(t, errors.Is(err, ErrMalformedGraph))
}
