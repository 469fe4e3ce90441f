package indexing

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExprArithmetic(t *testing.T) {
	d0, d1, s0 := Dim(0), Dim(1), Sym(0)
	for _, tc := range []struct {
		name string
		expr Expr
		want string
	}{
		{"zero", Expr{}, "0"},
		{"constant", Const(-3), "-3"},
		{"sorted", s0.Add(d1.Mul(128)).Add(d0), "d0 + d1 * 128 + s0"},
		{"cancel", d0.Add(d1).Sub(d0), "d1"},
		{"negative first", d0.Mul(-1).AddConst(5), "-d0 + 5"},
		{"negative later", d0.Sub(d1.Mul(3)).AddConst(-2), "d0 - d1 * 3 - 2"},
		{"floordiv 1", d0.FloorDiv(1), "d0"},
		{"mod 1", d0.Mod(1), "0"},
		{"constant floordiv", Const(-7).FloorDiv(2), "-4"},
		{"constant mod", Const(-7).Mod(3), "2"},
		{"extract multiples", d0.Mul(6).Add(d1).AddConst(7).FloorDiv(3), "d0 * 2 + (d1 + 1) floordiv 3 + 2"},
		{"nested floordiv", d0.FloorDiv(3).FloorDiv(5), "d0 floordiv 15"},
		{"gcd split", d0.Mul(2).Add(d1).FloorDiv(6), "(d0 + d1 floordiv 2) floordiv 3"},
		{"drop multiples in mod", d0.Mul(10).Add(d1).AddConst(12).Mod(5), "(d1 + 2) mod 5"},
		{"nested mod", d0.Mod(10).Mod(5), "d0 mod 5"},
		{"scaled atom", d0.Mod(7).Mul(4).Add(s0), "(d0 mod 7) * 4 + s0"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.expr.String(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExprCompare(t *testing.T) {
	a := Dim(1).Add(Dim(0).Mul(2))
	b := Dim(0).Mul(2).Add(Dim(1))
	if !a.Equal(b) {
		t.Errorf("%s and %s should be equal", a, b)
	}
	if a.Equal(a.AddConst(1)) {
		t.Errorf("%s and %s should differ", a, a.AddConst(1))
	}
	// Dimensions sort before floordiv/mod atoms, which sort before symbols.
	e := Sym(0).Add(Dim(3).FloorDiv(2)).Add(Dim(5).Mod(3)).Add(Dim(4))
	if got, want := e.String(), "d4 + d3 floordiv 2 + d5 mod 3 + s0"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if a.Compare(a.AddConst(1)) >= 0 || a.AddConst(1).Compare(a) <= 0 {
		t.Errorf("Compare is not consistent")
	}
}

func TestReplace(t *testing.T) {
	e := Dim(0).Mul(3).Add(Sym(0)).FloorDiv(2)
	got := e.Replace([]Expr{Dim(1).Mul(2)}, []Expr{Const(1)})
	// (6 * d1 + 1) floordiv 2 = 3 * d1.
	if want := "d1 * 3"; got.String() != want {
		t.Errorf("Replace() = %q, want %q", got, want)
	}
}

// threadVars creates the launch grid variables used in the tests.
func threadVars(threads, blocks, chunks, unroll int64) ([]Variable, []Variable) {
	dims := []Variable{
		DimVar("th_x", 0, threads-1), DimVar("th_y", 0, 0), DimVar("th_z", 0, 0),
		DimVar("bl_x", 0, blocks-1), DimVar("bl_y", 0, 0), DimVar("bl_z", 0, 0),
	}
	symbols := []Variable{SymbolVar("chunk_id", 0, chunks-1), SymbolVar("unroll_id", 0, unroll-1)}
	return dims, symbols
}

func TestSimplifyBroadcastLayout(t *testing.T) {
	// f32[10,20,30] output, 128 threads per block, 47 blocks.
	dims, symbols := threadVars(128, 47, 1, 1)
	linear := Dim(0).Add(Dim(3).Mul(128)).Add(Sym(0).Mul(128 * 47)).Add(Sym(1))
	m := NewMap(dims, symbols,
		[]Expr{linear.FloorDiv(600).Mod(10), linear.FloorDiv(30).Mod(20), linear.Mod(30)},
		Constraint{Expr: linear.Sub(Sym(1)), Bounds: Interval{0, 5999}}).Simplify()
	want := strings.Join([]string{
		"(th_x, th_y, th_z, bl_x, bl_y, bl_z)[chunk_id, unroll_id] -> (" +
			"((bl_x * 16 + th_x floordiv 8) floordiv 75) mod 10, " +
			"((bl_x * 64 + th_x floordiv 2) floordiv 15) mod 20, " +
			"(th_x + bl_x * 128) mod 30)",
		"domain:",
		"th_x in [0, 127]",
		"th_y in [0, 0]",
		"th_z in [0, 0]",
		"bl_x in [0, 46]",
		"bl_y in [0, 0]",
		"bl_z in [0, 0]",
		"chunk_id in [0, 0]",
		"unroll_id in [0, 0]",
		"th_x + bl_x * 128 in [0, 5999]",
	}, "\n")
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("unexpected map (-want +got):\n%s", diff)
	}
	if !m.IsSatisfiable() {
		t.Errorf("domain should be satisfiable")
	}
}

func TestSimplifyIsExact(t *testing.T) {
	// Every simplified map must evaluate exactly as the unsimplified formulas over the whole domain.
	dims := []Variable{DimVar("", 0, 13), DimVar("", 0, 5)}
	symbols := []Variable{SymbolVar("", 0, 3)}
	d0, d1, s0 := Dim(0), Dim(1), Sym(0)
	type formula struct {
		expr Expr
		eval func(d0, d1, s0 int64) int64
	}
	formulas := []formula{
		{d0.Mul(4).Add(s0).FloorDiv(8), func(d0, d1, s0 int64) int64 { return floorDiv(4*d0+s0, 8) }},
		{d0.Mul(4).Add(s0).Mod(12), func(d0, d1, s0 int64) int64 { return mod(4*d0+s0, 12) }},
		{d0.Mul(6).Add(d1).AddConst(-7).FloorDiv(4), func(d0, d1, s0 int64) int64 { return floorDiv(6*d0+d1-7, 4) }},
		{d0.Add(d1.Mul(14)).Mod(6).FloorDiv(2), func(d0, d1, s0 int64) int64 { return floorDiv(mod(d0+14*d1, 6), 2) }},
		{d1.Mul(3).Sub(d0).Mod(7), func(d0, d1, s0 int64) int64 { return mod(3*d1-d0, 7) }},
		{d0.Mul(4).Add(s0).FloorDiv(4).Mod(5), func(d0, d1, s0 int64) int64 { return mod(floorDiv(4*d0+s0, 4), 5) }},
		{d0.Add(d1.Mul(14)).FloorDiv(2).FloorDiv(7), func(d0, d1, s0 int64) int64 { return floorDiv(floorDiv(d0+14*d1, 2), 7) }},
	}
	results := make([]Expr, len(formulas))
	for i, f := range formulas {
		results[i] = f.expr
	}
	m := NewMap(dims, symbols, results).Simplify()
	m.ForEachPoint(func(dims, symbols []int64) bool {
		got := m.Evaluate(dims, symbols)
		for i, f := range formulas {
			if want := f.eval(dims[0], dims[1], symbols[0]); got[i] != want {
				t.Errorf("result #%d (%s) at d=%v s=%v: got %d, want %d", i, m.Results()[i], dims, symbols, got[i], want)
				return false
			}
		}
		return true
	})
}

func TestSimplifyRanges(t *testing.T) {
	m := NewMap([]Variable{DimVar("", 0, 7)}, []Variable{SymbolVar("", 0, 3)},
		[]Expr{Dim(0).Mul(4).Add(Sym(0)).Mod(32), Dim(0).FloorDiv(8), Sym(0).Mod(4)}).Simplify()
	want := "(d0)[s0] -> (d0 * 4 + s0, 0, s0)\ndomain:\nd0 in [0, 7]\ns0 in [0, 3]"
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("unexpected map (-want +got):\n%s", diff)
	}
}

func TestConstraintNormalization(t *testing.T) {
	dims := []Variable{DimVar("", 0, 99), DimVar("", 0, 9)}
	m := NewMap(dims, nil, []Expr{Dim(0), Dim(1)},
		// Single variable: tightens d0 to [0, 19].
		Constraint{Expr: Dim(0).Mul(2), Bounds: Interval{-5, 39}},
		// Implied by the ranges: dropped.
		Constraint{Expr: Dim(1).Mod(10), Bounds: Interval{0, 9}},
		// Divided by the gcd and made positive first coefficient: -2*d0 - 4*d1 + 6 in [-30, 0].
		Constraint{Expr: Dim(0).Mul(-2).Sub(Dim(1).Mul(4)).AddConst(6), Bounds: Interval{-30, 0}},
		// Same expression, merged.
		Constraint{Expr: Dim(0).Add(Dim(1).Mul(2)), Bounds: Interval{0, 15}},
	).Simplify()
	want := "(d0, d1) -> (d0, d1)\ndomain:\nd0 in [0, 19]\nd1 in [0, 9]\nd0 + d1 * 2 in [3, 15]"
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("unexpected map (-want +got):\n%s", diff)
	}

	unsatisfiable := NewMap(dims, nil, []Expr{Dim(0)},
		Constraint{Expr: Dim(0).Add(Dim(1)), Bounds: Interval{200, 300}}).Simplify()
	if !unsatisfiable.IsKnownEmpty() || unsatisfiable.String() != "(d0, d1) -> KNOWN EMPTY (rank 1)" {
		t.Errorf("expected known empty map, got %s", unsatisfiable)
	}

	// Only detectable by enumeration: d0 + d1 in [5, 5] and d0 - d1 in [0, 0] has no integer solution.
	parity := NewMap(dims, nil, []Expr{Dim(0)},
		Constraint{Expr: Dim(0).Add(Dim(1)), Bounds: Point(5)},
		Constraint{Expr: Dim(0).Sub(Dim(1)), Bounds: Point(0)}).Simplify()
	if !parity.IsKnownEmpty() {
		t.Errorf("expected known empty map, got %s", parity)
	}
}

func TestCompose(t *testing.T) {
	// Consumer: thread d0 in [0, 4] reads element d0 * 2 + 1 of a tensor of 10 elements.
	consumer := NewMap([]Variable{DimVar("th_x", 0, 4)}, nil, []Expr{Dim(0).Mul(2).AddConst(1)})
	// Hop: reverse of a f32[10].
	reverse := NewMap(DimVarsForShape([]int{10}), nil, []Expr{Const(9).Sub(Dim(0))})
	got := consumer.Compose(reverse)
	if diff := cmp.Diff("(th_x) -> (th_x * -2 + 8)\ndomain:\nth_x in [0, 4]", got.String()); diff != "" {
		t.Errorf("unexpected composition (-want +got):\n%s", diff)
	}

	// Hop with a symbol: reduction of axis 1 of f32[10, 3].
	reduce := NewMap(DimVarsForShape([]int{10}), []Variable{SymbolVar("", 0, 2)}, []Expr{Dim(0), Sym(0)})
	got = consumer.Compose(reduce)
	if diff := cmp.Diff("(th_x)[s0] -> (th_x * 2 + 1, s0)\ndomain:\nth_x in [0, 4]\ns0 in [0, 2]", got.String()); diff != "" {
		t.Errorf("unexpected composition (-want +got):\n%s", diff)
	}

	// Out of range accesses give a known empty map.
	shifted := NewMap([]Variable{DimVar("", 0, 4)}, nil, []Expr{Dim(0).AddConst(10)})
	if got := shifted.Compose(reverse); !got.IsKnownEmpty() {
		t.Errorf("expected known empty map, got %s", got)
	}
	if got := EmptyMap(consumer.Dims(), nil, 1).Compose(reverse); !got.IsKnownEmpty() {
		t.Errorf("composing an empty map must be empty, got %s", got)
	}
}

func TestKeyIgnoresNames(t *testing.T) {
	a := NewMap([]Variable{DimVar("th_x", 0, 9)}, nil, []Expr{Dim(0).AddConst(1)})
	b := NewMap([]Variable{DimVar("", 0, 9)}, nil, []Expr{Dim(0).AddConst(1)})
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	c := NewMap([]Variable{DimVar("", 0, 8)}, nil, []Expr{Dim(0).AddConst(1)})
	if a.Key() == c.Key() {
		t.Errorf("keys of maps with different domains should differ: %q", a.Key())
	}
}

func TestKeyOfEmptyMaps(t *testing.T) {
	dims := []Variable{DimVar("", 0, 9), DimVar("", 0, 3)}
	keys := map[string]bool{}
	for _, m := range []*Map{
		EmptyMap(dims, nil, 1),
		EmptyMap(dims, nil, 2),
		EmptyMap(dims[:1], nil, 1),
		EmptyMap(dims, []Variable{SymbolVar("", 0, 1)}, 1),
	} {
		if keys[m.Key()] {
			t.Errorf("empty maps with different variables or rank share the key %q", m.Key())
		}
		keys[m.Key()] = true
	}
	if a, b := EmptyMap(dims, nil, 2), EmptyMap(dims, nil, 2); a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
}

func TestFoldDivisionAndRemainder(t *testing.T) {
	d0, d1 := Dim(0), Dim(1)
	dims := []Variable{DimVar("", 0, 1023), DimVar("", 0, 63)}
	for _, tc := range []struct {
		name string
		expr Expr
		want string
	}{
		{"quotient and remainder", d0.FloorDiv(8).Mul(8).Add(d0.Mod(8)), "d0"},
		{"scaled", d0.FloorDiv(8).Mul(24).Add(d0.Mod(8).Mul(3)).Add(d1), "d0 * 3 + d1"},
		{"nested", d0.FloorDiv(24).Mul(24).Add(d0.FloorDiv(4).Mod(6).Mul(4)).Add(d0.Mod(4)), "d0"},
		{"partial nested", d0.FloorDiv(24).Mul(6).Add(d0.FloorDiv(4).Mod(6)), "d0 floordiv 4"},
		{"linear dividend", d0.Mul(6).Add(d1).FloorDiv(4).Mul(4).Add(d0.Mul(6).Add(d1).Mod(4)), "d0 * 6 + d1"},
		{"coefficient mismatch", d0.FloorDiv(8).Mul(4).Add(d0.Mod(8)), "(d0 floordiv 8) * 4 + d0 mod 8"},
		{"different divisors", d0.FloorDiv(4).Mul(8).Add(d0.Mod(8)), "(d0 floordiv 4) * 8 + d0 mod 8"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMap(dims, nil, []Expr{tc.expr}).Simplify()
			if got := m.Results()[0].String(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
			// The simplified expression takes the same values.
			for v0 := int64(0); v0 < 1024; v0 += 7 {
				for v1 := int64(0); v1 < 64; v1 += 5 {
					point := []int64{v0, v1}
					if got, want := m.Results()[0].Evaluate(point, nil), tc.expr.Evaluate(point, nil); got != want {
						t.Fatalf("at %v: got %d, want %d", point, got, want)
					}
				}
			}
		})
	}
}

func TestComposeInverseReshapes(t *testing.T) {
	// Index of f32[4,6] into its reshape to f32[6,4], and of that into the original f32[4,6].
	linear := Dim(0).Mul(6).Add(Dim(1))
	toReshaped := NewMap(DimVarsForShape([]int{4, 6}), nil, []Expr{linear.FloorDiv(4), linear.Mod(4)}).Simplify()
	linear = Dim(0).Mul(4).Add(Dim(1))
	toOriginal := NewMap(DimVarsForShape([]int{6, 4}), nil, []Expr{linear.FloorDiv(6), linear.Mod(6)}).Simplify()
	got := toReshaped.Compose(toOriginal)
	if diff := cmp.Diff(IdentityMap([]int{4, 6}).Key(), got.Key()); diff != "" {
		t.Errorf("unexpected composition (-want +got):\n%s", diff)
	}
}

func TestNewMapPanicsOnUndefinedVariables(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic")
		}
	}()
	NewMap([]Variable{DimVar("", 0, 1)}, nil, []Expr{Sym(0)})
}

func TestAffineMapString(t *testing.T) {
	m := NewMap([]Variable{DimVar("th_x", 0, 127), DimVar("bl_x", 0, 46)}, []Variable{SymbolVar("chunk_id", 0, 3)},
		[]Expr{Dim(0).Add(Dim(1).Mul(128)).FloorDiv(15), Sym(0)})
	want := "(d0, d1)[s0] -> ((d0 + d1 * 128) floordiv 15, s0)"
	if got := m.AffineMapString(); got != want {
		t.Errorf("AffineMapString()=%q, want %q", got, want)
	}
}
