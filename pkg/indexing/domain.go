package indexing

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Constraint restricts the valid values of the variables: Expr must be within Bounds.
type Constraint struct {
	Expr   Expr
	Bounds Interval
}

// String implements fmt.Stringer.
func (c Constraint) String() string {
	return fmt.Sprintf("%s in %s", c.Expr, c.Bounds)
}

// Domain of an indexing map: the ranges of its dimension and symbol variables, plus constraints on
// combinations of them. A domain with no valid assignment is marked as known empty.
type Domain struct {
	dims, symbols []Variable
	constraints   []Constraint
	empty         bool
}

// Dims returns the dimension variables. The returned slice must not be modified.
func (d Domain) Dims() []Variable {
	return d.dims
}

// Symbols returns the symbol variables. The returned slice must not be modified.
func (d Domain) Symbols() []Variable {
	return d.symbols
}

// NumDims returns the number of dimension variables.
func (d Domain) NumDims() int {
	return len(d.dims)
}

// NumSymbols returns the number of symbol variables.
func (d Domain) NumSymbols() int {
	return len(d.symbols)
}

// Constraints returns the constraints, other than the variables ranges.
// The returned slice must not be modified.
func (d Domain) Constraints() []Constraint {
	return d.constraints
}

// IsKnownEmpty returns whether the domain is known to have no valid assignment.
func (d Domain) IsKnownEmpty() bool {
	return d.empty
}

// DimName implements Namer, using the variable names if set.
func (d Domain) DimName(index int) string {
	if index < len(d.dims) && d.dims[index].Name != "" {
		return d.dims[index].Name
	}
	return DefaultNames.DimName(index)
}

// SymbolName implements Namer, using the variable names if set.
func (d Domain) SymbolName(index int) string {
	if index < len(d.symbols) && d.symbols[index].Name != "" {
		return d.symbols[index].Name
	}
	return DefaultNames.SymbolName(index)
}

func (d Domain) clone() Domain {
	return Domain{
		dims:        slices.Clone(d.dims),
		symbols:     slices.Clone(d.symbols),
		constraints: slices.Clone(d.constraints),
		empty:       d.empty,
	}
}

// Contains returns whether the assignment of the variables is valid.
func (d Domain) Contains(dims, symbols []int64) bool {
	if d.empty {
		return false
	}
	for i, v := range d.dims {
		if !v.Bounds.Contains(dims[i]) {
			return false
		}
	}
	for i, v := range d.symbols {
		if !v.Bounds.Contains(symbols[i]) {
			return false
		}
	}
	for _, c := range d.constraints {
		if !c.Bounds.Contains(c.Expr.Evaluate(dims, symbols)) {
			return false
		}
	}
	return true
}

// NumPoints returns the number of assignments within the variables ranges, ignoring the constraints.
// It saturates at math.MaxInt64.
func (d Domain) NumPoints() int64 {
	var n int64 = 1
	for _, v := range slices.Concat(d.dims, d.symbols) {
		count := v.Bounds.NumElements()
		if count == 0 {
			return 0
		}
		if n > math.MaxInt64/count {
			return math.MaxInt64
		}
		n *= count
	}
	return n
}

// ForEachPoint calls fn for every assignment within the variables ranges, in lexicographic order
// (dimensions first, last symbol varying fastest), ignoring the constraints. It stops early if fn
// returns false. The slices passed to fn are reused between calls.
func (d Domain) ForEachPoint(fn func(dims, symbols []int64) bool) {
	vars := slices.Concat(d.dims, d.symbols)
	values := make([]int64, len(vars))
	for i, v := range vars {
		if v.Bounds.IsEmpty() {
			return
		}
		values[i] = v.Bounds.Lower
	}
	dims, symbols := values[:len(d.dims)], values[len(d.dims):]
	for {
		if !fn(dims, symbols) {
			return
		}
		i := len(vars) - 1
		for ; i >= 0; i-- {
			if values[i] < vars[i].Bounds.Upper {
				values[i]++
				break
			}
			values[i] = vars[i].Bounds.Lower
		}
		if i < 0 {
			return
		}
	}
}

// satisfiabilityEnumerationLimit is the largest domain for which IsSatisfiable enumerates all points.
const satisfiabilityEnumerationLimit = 1 << 16

// IsSatisfiable returns whether some assignment satisfies all constraints.
// Domains larger than satisfiabilityEnumerationLimit points are only checked per constraint, so the
// answer may be a false positive for them.
func (d Domain) IsSatisfiable() bool {
	if d.empty {
		return false
	}
	s := newSimplifier(d.dims, d.symbols)
	for _, c := range d.constraints {
		if r, ok := s.rangeOf(c.Expr); ok && r.Intersect(c.Bounds).IsEmpty() {
			return false
		}
	}
	if len(d.constraints) == 0 || d.NumPoints() > satisfiabilityEnumerationLimit {
		return d.NumPoints() > 0
	}
	found := false
	d.ForEachPoint(func(dims, symbols []int64) bool {
		found = d.Contains(dims, symbols)
		return !found
	})
	return found
}

// normalizeConstraints brings the constraints to a canonical form: constants moved to the bounds,
// coefficients divided by their gcd, first coefficient positive. Constraints on a single variable
// tighten its range instead, constraints implied by the ranges are dropped and constraints on the same
// expression are merged. If some constraint can't be satisfied, the domain becomes known empty.
func (d *Domain) normalizeConstraints(s simplifier) {
	byExpr := make(map[string]int, len(d.constraints))
	normalized := make([]Constraint, 0, len(d.constraints))
	for _, c := range d.constraints {
		e, bounds := c.Expr, c.Bounds
		bounds = Interval{bounds.Lower - e.constant, bounds.Upper - e.constant}
		e = Expr{terms: e.terms}
		if len(e.terms) == 0 {
			if !bounds.Contains(0) {
				d.empty = true
				return
			}
			continue
		}
		var g int64
		for _, t := range e.terms {
			g = gcd(g, t.coef)
		}
		if e.terms[0].coef < 0 {
			g = -g
		}
		if g != 1 {
			e = Expr{terms: make([]term, len(e.terms))}
			for i, t := range c.Expr.terms {
				e.terms[i] = term{coef: t.coef / g, atom: t.atom}
			}
			if g > 0 {
				bounds = Interval{ceilDiv(bounds.Lower, g), floorDiv(bounds.Upper, g)}
			} else {
				bounds = Interval{ceilDiv(-bounds.Upper, -g), floorDiv(-bounds.Lower, -g)}
			}
		}
		if bounds.IsEmpty() {
			d.empty = true
			return
		}
		if kind, index, ok := e.AsVariable(); ok {
			v := &d.dims
			if kind == Symbol {
				v = &d.symbols
			}
			(*v)[index].Bounds = (*v)[index].Bounds.Intersect(bounds)
			if (*v)[index].Bounds.IsEmpty() {
				d.empty = true
				return
			}
			continue
		}
		if r, ok := s.rangeOf(e); ok {
			if bounds.Includes(r) {
				continue
			}
			if r.Intersect(bounds).IsEmpty() {
				d.empty = true
				return
			}
		}
		key := e.String()
		if i, found := byExpr[key]; found {
			normalized[i].Bounds = normalized[i].Bounds.Intersect(bounds)
			if normalized[i].Bounds.IsEmpty() {
				d.empty = true
				return
			}
			continue
		}
		byExpr[key] = len(normalized)
		normalized = append(normalized, Constraint{Expr: e, Bounds: bounds})
	}
	slices.SortFunc(normalized, func(a, b Constraint) int { return compareExprs(a.Expr, b.Expr) })
	d.constraints = normalized
}

// String implements fmt.Stringer.
func (d Domain) String() string {
	var sb strings.Builder
	sb.WriteString("domain:")
	d.write(&sb, d)
	return sb.String()
}

func (d Domain) write(sb *strings.Builder, names Namer) {
	if d.empty {
		sb.WriteString(" KNOWN EMPTY")
		return
	}
	for i, v := range d.dims {
		fmt.Fprintf(sb, "\n%s in %s", names.DimName(i), v.Bounds)
	}
	for i, v := range d.symbols {
		fmt.Fprintf(sb, "\n%s in %s", names.SymbolName(i), v.Bounds)
	}
	for _, c := range d.constraints {
		fmt.Fprintf(sb, "\n%s in %s", c.Expr.Format(names), c.Bounds)
	}
}
