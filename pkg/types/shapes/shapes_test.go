package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/loopemit/pkg/types/dtypes"
)

func TestToMLIR(t *testing.T) {
	shape := Make(dtypes.Float32, 1, 10)
	if got := shape.ToMLIR(); got != "tensor<1x10xf32>" {
		t.Errorf("ToMLIR() = %q, want %q", got, "tensor<1x10xf32>")
	}

	// Test scalar.
	shape = Make(dtypes.Int32)
	if got := shape.ToMLIR(); got != "tensor<i32>" {
		t.Errorf("ToMLIR() = %q, want %q", got, "tensor<i32>")
	}

	shape = MakeTuple(Make(dtypes.F32, 200), Make(dtypes.F32, 200))
	want := "tuple<tensor<200xf32>, tensor<200xf32>>"
	if got := shape.ToMLIR(); got != want {
		t.Errorf("ToMLIR() = %q, want %q", got, want)
	}
}

func TestString(t *testing.T) {
	for _, tc := range []struct {
		shape Shape
		want  string
	}{
		{Make(dtypes.F32, 10, 20, 30), "f32[10,20,30]"},
		{Make(dtypes.S32, 60, 20), "s32[60,20]"},
		{Scalar(dtypes.Bool), "pred[]"},
		{Make(dtypes.U8, 3), "u8[3]"},
		{MakeTuple(Make(dtypes.F32, 200), Make(dtypes.F32, 200)), "(f32[200], f32[200])"},
	} {
		if got := tc.shape.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestStrides(t *testing.T) {
	shape := Make(dtypes.F32, 10, 20, 30)
	if got := shape.Strides(); !slices.Equal(got, []int{600, 30, 1}) {
		t.Errorf("Strides() = %v", got)
	}
	if got := shape.Size(); got != 6000 {
		t.Errorf("Size() = %d", got)
	}
	if got := Scalar(dtypes.F32).Size(); got != 1 {
		t.Errorf("scalar Size() = %d", got)
	}
}

func TestEqual(t *testing.T) {
	a := Make(dtypes.F32, 2, 3)
	b := a.Clone()
	b.Dimensions[0] = 5
	if a.Equal(b) {
		t.Errorf("Clone must not share dimensions: %s == %s", a, b)
	}
	if !a.Equal(Make(dtypes.F32, 2, 3)) {
		t.Errorf("expected %s to be equal to itself", a)
	}
	if a.Equal(a.WithDType(dtypes.S32)) {
		t.Errorf("dtype must be part of the comparison")
	}
	if !a.EqualDimensions(a.WithDType(dtypes.S32)) {
		t.Errorf("EqualDimensions should ignore dtype")
	}
	if a.Equal(MakeTuple(a)) {
		t.Errorf("tuple and tensor shapes must differ")
	}
	if got := a.Dim(-1); got != 3 {
		t.Errorf("Dim(-1) = %d", got)
	}
}
