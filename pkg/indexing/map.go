package indexing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Map is an indexing map: it maps the values of its dimension and symbol variables to a multi-dimensional
// index (one expression per axis of the indexed tensor), over a Domain restricting the valid values of the
// variables.
//
// A Map whose domain has no valid assignment is "known empty": the indexed tensor is not accessed.
//
// Maps are immutable: Compose and Simplify return new maps.
type Map struct {
	Domain
	results []Expr
}

// NewMap creates a Map with the given variables, result expressions and constraints.
// The map is not simplified: use Simplify for that.
//
// It panics if an expression uses a variable that is not defined.
func NewMap(dims, symbols []Variable, results []Expr, constraints ...Constraint) *Map {
	m := &Map{
		Domain: Domain{
			dims:        slices.Clone(dims),
			symbols:     slices.Clone(symbols),
			constraints: slices.Clone(constraints),
		},
		results: slices.Clone(results),
	}
	for i, r := range m.results {
		m.checkVars(r, "result", i)
	}
	for i, c := range m.constraints {
		m.checkVars(c.Expr, "constraint", i)
	}
	return m
}

func (m *Map) checkVars(e Expr, what string, index int) {
	numDims, numSymbols := e.maxVarIndices()
	if numDims > len(m.dims) || numSymbols > len(m.symbols) {
		panic(errors.Errorf("indexing map %s #%d (%s) uses undefined variables: map has %d dimensions and %d symbols",
			what, index, e, len(m.dims), len(m.symbols)))
	}
}

// IdentityMap maps the index of a tensor with the given dimensions to itself.
func IdentityMap(dimensions []int) *Map {
	results := make([]Expr, len(dimensions))
	for axis := range dimensions {
		results[axis] = Dim(axis)
	}
	return NewMap(DimVarsForShape(dimensions), nil, results)
}

// EmptyMap returns a known empty map with the given variables and rank.
func EmptyMap(dims, symbols []Variable, rank int) *Map {
	m := NewMap(dims, symbols, make([]Expr, rank))
	m.empty = true
	return m
}

// Results returns the result expressions, one per axis of the indexed tensor.
// The returned slice must not be modified.
func (m *Map) Results() []Expr {
	return m.results
}

// NumResults returns the rank of the indexed tensor.
func (m *Map) NumResults() int {
	return len(m.results)
}

// Evaluate returns the multi-dimensional index for the given values of the variables.
// It doesn't check whether the values are in the domain: use Domain.Contains for that.
func (m *Map) Evaluate(dims, symbols []int64) []int64 {
	index := make([]int64, len(m.results))
	for i, r := range m.results {
		index[i] = r.Evaluate(dims, symbols)
	}
	return index
}

// UsedVariables returns which dimensions and symbols are used by the results.
func (m *Map) UsedVariables() (dims, symbols []bool) {
	dims, symbols = make([]bool, len(m.dims)), make([]bool, len(m.symbols))
	for _, r := range m.results {
		r.MarkUsed(dims, symbols)
	}
	return
}

// Compose returns the map that applies m and then other: m's results are used as the values of other's
// dimensions. The variables of the result are m's dimensions, and m's symbols followed by other's symbols.
//
// m's results are constrained to other's dimension ranges, so composing an index that falls outside the
// domain of other yields an empty map.
func (m *Map) Compose(other *Map) *Map {
	if len(m.results) != len(other.dims) {
		panic(errors.Errorf("cannot compose indexing map with %d results with a map with %d dimensions",
			len(m.results), len(other.dims)))
	}
	symbols := make([]Variable, 0, len(m.symbols)+len(other.symbols))
	symbols = append(symbols, m.symbols...)
	symbols = append(symbols, other.symbols...)
	if m.empty || other.empty {
		return EmptyMap(m.dims, symbols, len(other.results))
	}

	symbolReplacements := make([]Expr, len(other.symbols))
	for i := range other.symbols {
		symbolReplacements[i] = Sym(len(m.symbols) + i)
	}
	s := newSimplifier(m.dims, symbols)
	results := make([]Expr, len(other.results))
	for i, r := range other.results {
		results[i] = s.rebuild(r, m.results, symbolReplacements)
	}
	constraints := make([]Constraint, 0, len(m.constraints)+len(other.constraints)+len(m.results))
	constraints = append(constraints, m.constraints...)
	for _, c := range other.constraints {
		constraints = append(constraints, Constraint{Expr: s.rebuild(c.Expr, m.results, symbolReplacements), Bounds: c.Bounds})
	}
	for i, r := range m.results {
		constraints = append(constraints, Constraint{Expr: r, Bounds: other.dims[i].Bounds})
	}
	return NewMap(m.dims, symbols, results, constraints...).Simplify()
}

// maxSimplifyIterations bounds the number of simplification passes: each pass can tighten variable
// ranges, which can enable further simplifications.
const maxSimplifyIterations = 8

// Simplify returns an equivalent map with the result and constraint expressions simplified using the
// variables ranges, and redundant constraints removed. If the domain is found to be empty, it returns a
// known empty map.
func (m *Map) Simplify() *Map {
	if m.empty {
		return m
	}
	result := &Map{Domain: m.Domain.clone(), results: slices.Clone(m.results)}
	key := result.Key()
	for range maxSimplifyIterations {
		result.simplifyOnce()
		if result.empty {
			break
		}
		newKey := result.Key()
		if newKey == key {
			break
		}
		key = newKey
	}
	if !result.empty && len(result.constraints) > 0 && !result.IsSatisfiable() {
		result.empty = true
	}
	return result
}

func (m *Map) simplifyOnce() {
	// Variables with a single valid value are replaced by it.
	dimReplacements := make([]Expr, len(m.dims))
	for i, v := range m.dims {
		if v.Bounds.IsPoint() {
			dimReplacements[i] = Const(v.Bounds.Lower)
		} else {
			dimReplacements[i] = Dim(i)
		}
	}
	symbolReplacements := make([]Expr, len(m.symbols))
	for i, v := range m.symbols {
		if v.Bounds.IsPoint() {
			symbolReplacements[i] = Const(v.Bounds.Lower)
		} else {
			symbolReplacements[i] = Sym(i)
		}
	}
	s := newSimplifier(m.dims, m.symbols)
	for i, r := range m.results {
		m.results[i] = s.rebuild(r, dimReplacements, symbolReplacements)
	}
	for i, c := range m.constraints {
		m.constraints[i].Expr = s.rebuild(c.Expr, dimReplacements, symbolReplacements)
	}
	m.normalizeConstraints(s)
}

// Key returns a canonical text representation of the map, independent of the variable names.
// Two maps with the same key are the same map.
func (m *Map) Key() string {
	var sb strings.Builder
	m.write(&sb, DefaultNames)
	return sb.String()
}

// String implements fmt.Stringer. It uses the variable names, if they are set.
func (m *Map) String() string {
	var sb strings.Builder
	m.write(&sb, m.Domain)
	return sb.String()
}

// AffineMapString returns the variables and results of the map in MLIR affine_map syntax, without the domain,
// e.g. "(d0, d1)[s0] -> (d0 + s0, d1)". Known empty maps are printed with their variables and results too.
func (m *Map) AffineMapString() string {
	var sb strings.Builder
	m.writeAffine(&sb, DefaultNames)
	return sb.String()
}

func (m *Map) write(sb *strings.Builder, names Namer) {
	if m.empty {
		m.writeVariables(sb, names)
		fmt.Fprintf(sb, " -> KNOWN EMPTY (rank %d)", len(m.results))
		return
	}
	m.writeAffine(sb, names)
	sb.WriteString("\ndomain:")
	m.Domain.write(sb, names)
}

func (m *Map) writeAffine(sb *strings.Builder, names Namer) {
	m.writeVariables(sb, names)
	sb.WriteString(" -> (")
	for i, r := range m.results {
		if i > 0 {
			sb.WriteString(", ")
		}
		r.write(sb, names)
	}
	sb.WriteString(")")
}

// writeVariables writes the "(d0, d1)[s0]" prefix of the map.
func (m *Map) writeVariables(sb *strings.Builder, names Namer) {
	sb.WriteString("(")
	for i := range m.dims {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(names.DimName(i))
	}
	sb.WriteString(")")
	if len(m.symbols) > 0 {
		sb.WriteString("[")
		for i := range m.symbols {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(names.SymbolName(i))
		}
		sb.WriteString("]")
	}
}
