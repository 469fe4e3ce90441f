package indexing

import (
	"slices"
)

// simplifier applies the floordiv/mod rewrite rules. If the ranges of the variables are known
// (dims and symbols are indexed by the variable index), it also uses them to fold sub-expressions
// that are constant over the domain.
//
// All rewrites are exact: the simplified expression takes the same value as the original for every
// assignment of the variables within their ranges.
type simplifier struct {
	dims, symbols []Interval
}

func newSimplifier(dims, symbols []Variable) simplifier {
	s := simplifier{dims: make([]Interval, len(dims)), symbols: make([]Interval, len(symbols))}
	for i, v := range dims {
		s.dims[i] = v.Bounds
	}
	for i, v := range symbols {
		s.symbols[i] = v.Bounds
	}
	return s
}

// rangeOf returns bounds of the values e can take, if the ranges of all variables it uses are known.
// The bounds are not necessarily tight.
func (s simplifier) rangeOf(e Expr) (Interval, bool) {
	r := Point(e.constant)
	for _, t := range e.terms {
		ar, ok := s.atomRange(t.atom)
		if !ok {
			return Interval{}, false
		}
		lo, hi := ar.Lower*t.coef, ar.Upper*t.coef
		if t.coef < 0 {
			lo, hi = hi, lo
		}
		r.Lower += lo
		r.Upper += hi
	}
	return r, true
}

func (s simplifier) atomRange(a atom) (Interval, bool) {
	switch a.kind {
	case atomDim:
		if a.index < len(s.dims) {
			return s.dims[a.index], true
		}
	case atomSymbol:
		if a.index < len(s.symbols) {
			return s.symbols[a.index], true
		}
	case atomFloorDiv:
		if r, ok := s.rangeOf(*a.arg); ok {
			return Interval{floorDiv(r.Lower, a.divisor), floorDiv(r.Upper, a.divisor)}, true
		}
	case atomMod:
		if r, ok := s.rangeOf(*a.arg); ok && floorDiv(r.Lower, a.divisor) == floorDiv(r.Upper, a.divisor) {
			return Interval{mod(r.Lower, a.divisor), mod(r.Upper, a.divisor)}, true
		}
		return Interval{0, a.divisor - 1}, true
	}
	return Interval{}, false
}

// floorDiv returns the simplified e floordiv c.
func (s simplifier) floorDiv(e Expr, c int64) Expr {
	checkDivisor("floordiv", c)
	e = s.fold(e)
	if c == 1 {
		return e
	}
	if v, ok := e.IsConstant(); ok {
		return Const(floorDiv(v, c))
	}
	if r, ok := s.rangeOf(e); ok && floorDiv(r.Lower, c) == floorDiv(r.Upper, c) {
		return Const(floorDiv(r.Lower, c))
	}
	// (x floordiv a) floordiv c = x floordiv (a * c)
	if a, ok := e.singleAtom(); ok && a.kind == atomFloorDiv {
		return s.floorDiv(*a.arg, a.divisor*c)
	}
	// (x mod (a * c)) floordiv c = (x floordiv c) mod a
	if a, ok := e.singleAtom(); ok && a.kind == atomMod && a.divisor%c == 0 {
		return s.mod(s.floorDiv(*a.arg, c), a.divisor/c)
	}

	// Terms that are multiples of c, and the multiple of c in the constant, move out of the division.
	var outer, rest Expr
	for _, t := range e.terms {
		if t.coef%c == 0 {
			outer.terms = append(outer.terms, term{coef: t.coef / c, atom: t.atom})
		} else {
			rest.terms = append(rest.terms, t)
		}
	}
	outer.constant = floorDiv(e.constant, c)
	rest.constant = e.constant - outer.constant*c
	if len(outer.terms) > 0 || outer.constant != 0 {
		return outer.Add(s.floorDiv(rest, c))
	}

	// Split the division by the largest factor g of c shared with some coefficient:
	// (g * a + b) floordiv c = (a + b floordiv g) floordiv (c / g).
	var g int64 = 1
	for _, t := range e.terms {
		g = max(g, gcd(c, t.coef))
	}
	if g > 1 {
		var divisible, remainder Expr
		for _, t := range e.terms {
			if t.coef%g == 0 {
				divisible.terms = append(divisible.terms, term{coef: t.coef / g, atom: t.atom})
			} else {
				remainder.terms = append(remainder.terms, t)
			}
		}
		remainder.constant = e.constant
		return s.floorDiv(divisible.Add(s.floorDiv(remainder, g)), c/g)
	}
	arg := e
	return atomExpr(atom{kind: atomFloorDiv, arg: &arg, divisor: c})
}

// mod returns the simplified e mod c.
func (s simplifier) mod(e Expr, c int64) Expr {
	checkDivisor("mod", c)
	e = s.fold(e)
	if c == 1 {
		return Expr{}
	}
	if v, ok := e.IsConstant(); ok {
		return Const(mod(v, c))
	}

	// Multiples of c vanish.
	var reduced Expr
	for _, t := range e.terms {
		if t.coef%c != 0 {
			reduced.terms = append(reduced.terms, t)
		}
	}
	reduced.constant = mod(e.constant, c)
	if len(reduced.terms) == 0 {
		return Const(reduced.constant)
	}
	// (x mod a) mod c = x mod c, if c divides a.
	if a, ok := reduced.singleAtom(); ok && a.kind == atomMod && a.divisor%c == 0 {
		return s.mod(*a.arg, c)
	}
	if r, ok := s.rangeOf(reduced); ok && floorDiv(r.Lower, c) == floorDiv(r.Upper, c) {
		return reduced.AddConst(-floorDiv(r.Lower, c) * c)
	}

	// (g * a + b) mod c = g * (a mod (c / g)) + b, if g divides c and b is always in [0, g-1].
	for _, g := range modSplitCandidates(c, reduced.terms) {
		var high, low Expr
		for _, t := range reduced.terms {
			if t.coef%g == 0 {
				high.terms = append(high.terms, term{coef: t.coef / g, atom: t.atom})
			} else {
				low.terms = append(low.terms, t)
			}
		}
		low.constant = reduced.constant
		if r, ok := s.rangeOf(low); ok && r.Lower >= 0 && r.Upper < g {
			return s.mod(high, c/g).Mul(g).Add(low)
		}
	}
	return atomExpr(atom{kind: atomMod, arg: &reduced, divisor: c})
}

// modSplitCandidates returns the distinct factors of c shared with the coefficients, excluding 1,
// from the largest to the smallest.
func modSplitCandidates(c int64, terms []term) []int64 {
	var candidates []int64
	for _, t := range terms {
		g := gcd(c, t.coef)
		if g > 1 && g < c && !slices.Contains(candidates, g) {
			candidates = append(candidates, g)
		}
	}
	slices.Sort(candidates)
	slices.Reverse(candidates)
	return candidates
}

// rebuild reconstructs e bottom-up, replacing variables by the given expressions (nil slices keep the
// variables) and re-applying the simplification rules to every floordiv and mod.
func (s simplifier) rebuild(e Expr, dims, symbols []Expr) Expr {
	result := Const(e.constant)
	for _, t := range e.terms {
		var sub Expr
		switch t.atom.kind {
		case atomDim:
			if dims != nil {
				sub = dims[t.atom.index]
			} else {
				sub = atomExpr(t.atom)
			}
		case atomSymbol:
			if symbols != nil {
				sub = symbols[t.atom.index]
			} else {
				sub = atomExpr(t.atom)
			}
		case atomFloorDiv:
			sub = s.floorDiv(s.rebuild(*t.atom.arg, dims, symbols), t.atom.divisor)
		case atomMod:
			sub = s.mod(s.rebuild(*t.atom.arg, dims, symbols), t.atom.divisor)
		}
		result = result.Add(sub.Mul(t.coef))
	}
	return s.fold(result)
}

// fold recombines the quotient and remainder of a division into the dividend:
// k * c * (y floordiv c) + k * (y mod c) = k * y. This undoes a delinearization followed by the matching
// linearization, e.g. a reshape followed by its inverse. With y = x floordiv a it also covers
// k * b * (x floordiv (a * b)) + k * ((x floordiv a) mod b) = k * (x floordiv a).
func (s simplifier) fold(e Expr) Expr {
	for {
		folded, ok := s.foldOnce(e)
		if !ok {
			return e
		}
		e = folded
	}
}

// foldOnce applies the fold to the first mod term whose quotient terms are all present, with the matching
// coefficients.
func (s simplifier) foldOnce(e Expr) (Expr, bool) {
	for _, t := range e.terms {
		if t.atom.kind != atomMod {
			continue
		}
		dividend, c := *t.atom.arg, t.atom.divisor
		quotient := s.floorDiv(dividend, c)
		if len(quotient.terms) == 0 {
			continue
		}
		rest := e.Sub(atomExpr(t.atom).Mul(t.coef)).Sub(quotient.Mul(t.coef * c))
		if !slices.ContainsFunc(quotient.terms, func(qt term) bool { return rest.hasAtom(qt.atom) }) {
			return rest.Add(dividend.Mul(t.coef)), true
		}
	}
	return e, false
}

// hasAtom returns whether a is one of the atoms of e.
func (e Expr) hasAtom(a atom) bool {
	for _, t := range e.terms {
		if compareAtoms(t.atom, a) == 0 {
			return true
		}
	}
	return false
}
