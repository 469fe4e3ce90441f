package indexing

import "fmt"

//go:generate go tool enumer -type=VarKind variable.go

// VarKind tells whether a Variable is a dimension (a coordinate of the launch grid, or an index of a tensor)
// or a symbol (a counter the generated code loops over: unroll, chunk or reduction counters).
type VarKind int

const (
	Dimension VarKind = iota
	Symbol
)

// Variable of an indexing Map: a name (optional, used only for printing), its kind and its inclusive range.
type Variable struct {
	Name   string
	Kind   VarKind
	Bounds Interval
}

// DimVar returns a dimension variable ranging over [lower, upper].
func DimVar(name string, lower, upper int64) Variable {
	return Variable{Name: name, Kind: Dimension, Bounds: Interval{lower, upper}}
}

// SymbolVar returns a symbol variable ranging over [lower, upper].
func SymbolVar(name string, lower, upper int64) Variable {
	return Variable{Name: name, Kind: Symbol, Bounds: Interval{lower, upper}}
}

// DimVarsForShape returns one unnamed dimension variable per axis, each ranging over the axis indices.
func DimVarsForShape(dimensions []int) []Variable {
	vars := make([]Variable, len(dimensions))
	for axis, dim := range dimensions {
		vars[axis] = Variable{Kind: Dimension, Bounds: Range(dim)}
	}
	return vars
}

// Namer provides the names of the variables when printing expressions.
type Namer interface {
	DimName(index int) string
	SymbolName(index int) string
}

// DefaultNames names dimensions d0, d1, ... and symbols s0, s1, ..., as in MLIR affine maps.
var DefaultNames Namer = defaultNamer{}

type defaultNamer struct{}

func (defaultNamer) DimName(index int) string    { return fmt.Sprintf("d%d", index) }
func (defaultNamer) SymbolName(index int) string { return fmt.Sprintf("s%d", index) }
