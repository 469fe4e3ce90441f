package indexing

import (
	"cmp"

	"github.com/pkg/errors"
)

// Expr is an affine expression over dimension and symbol variables, extended with floordiv and mod by
// positive constants.
//
// Expressions are always kept in a normal form: a sum of coefficient * atom terms plus a constant, where
// atoms are variables or floordiv/mod sub-expressions (themselves in normal form). Terms are sorted
// (dimensions by index, then floordiv and mod atoms, then symbols by index), atoms are unique and
// coefficients are non-zero. Two expressions in normal form are equal if and only if they are
// structurally equal, which is what Equal and Compare check.
//
// Expr values are immutable: all operations return new expressions. The zero value is the constant 0.
type Expr struct {
	terms    []term
	constant int64
}

type term struct {
	coef int64
	atom atom
}

// atomKind order defines the order of the terms in an expression.
type atomKind uint8

const (
	atomDim atomKind = iota
	atomFloorDiv
	atomMod
	atomSymbol
)

type atom struct {
	kind atomKind

	// index of the variable, for atomDim and atomSymbol.
	index int

	// arg and divisor of atomFloorDiv and atomMod.
	arg     *Expr
	divisor int64
}

// Const returns the constant expression c.
func Const(c int64) Expr {
	return Expr{constant: c}
}

// Dim returns the expression with the dimension variable of the given index.
func Dim(index int) Expr {
	return atomExpr(atom{kind: atomDim, index: index})
}

// Sym returns the expression with the symbol variable of the given index.
func Sym(index int) Expr {
	return atomExpr(atom{kind: atomSymbol, index: index})
}

func atomExpr(a atom) Expr {
	return Expr{terms: []term{{coef: 1, atom: a}}}
}

// Add returns e + other.
func (e Expr) Add(other Expr) Expr {
	result := Expr{
		terms:    make([]term, 0, len(e.terms)+len(other.terms)),
		constant: e.constant + other.constant,
	}
	i, j := 0, 0
	for i < len(e.terms) && j < len(other.terms) {
		c := compareAtoms(e.terms[i].atom, other.terms[j].atom)
		switch {
		case c < 0:
			result.terms = append(result.terms, e.terms[i])
			i++
		case c > 0:
			result.terms = append(result.terms, other.terms[j])
			j++
		default:
			if coef := e.terms[i].coef + other.terms[j].coef; coef != 0 {
				result.terms = append(result.terms, term{coef: coef, atom: e.terms[i].atom})
			}
			i++
			j++
		}
	}
	result.terms = append(result.terms, e.terms[i:]...)
	result.terms = append(result.terms, other.terms[j:]...)
	return result
}

// AddConst returns e + c.
func (e Expr) AddConst(c int64) Expr {
	return Expr{terms: e.terms, constant: e.constant + c}
}

// Sub returns e - other.
func (e Expr) Sub(other Expr) Expr {
	return e.Add(other.Mul(-1))
}

// Mul returns e * k.
func (e Expr) Mul(k int64) Expr {
	if k == 0 {
		return Expr{}
	}
	result := Expr{terms: make([]term, len(e.terms)), constant: e.constant * k}
	for i, t := range e.terms {
		result.terms[i] = term{coef: t.coef * k, atom: t.atom}
	}
	return result
}

// FloorDiv returns e floordiv divisor, simplified without any knowledge of the variables' ranges.
// Use Map.Simplify to take the ranges into account. It panics if divisor is not positive.
func (e Expr) FloorDiv(divisor int64) Expr {
	return simplifier{}.floorDiv(e, divisor)
}

// Mod returns e mod divisor, simplified without any knowledge of the variables' ranges.
// It panics if divisor is not positive.
func (e Expr) Mod(divisor int64) Expr {
	return simplifier{}.mod(e, divisor)
}

// IsConstant returns the value of e, if it is a constant.
func (e Expr) IsConstant() (int64, bool) {
	if len(e.terms) == 0 {
		return e.constant, true
	}
	return 0, false
}

// IsZero returns whether e is the constant 0.
func (e Expr) IsZero() bool {
	return len(e.terms) == 0 && e.constant == 0
}

// AsVariable returns the kind and index of the variable if e is exactly one variable.
func (e Expr) AsVariable() (kind VarKind, index int, ok bool) {
	a, ok := e.singleAtom()
	if !ok {
		return
	}
	switch a.kind {
	case atomDim:
		return Dimension, a.index, true
	case atomSymbol:
		return Symbol, a.index, true
	}
	return 0, 0, false
}

// singleAtom returns the atom if e is 1 * atom + 0.
func (e Expr) singleAtom() (atom, bool) {
	if len(e.terms) != 1 || e.terms[0].coef != 1 || e.constant != 0 {
		return atom{}, false
	}
	return e.terms[0].atom, true
}

// Equal returns whether e and other are the same expression.
func (e Expr) Equal(other Expr) bool {
	return compareExprs(e, other) == 0
}

// Compare defines a total order on expressions, used to sort constraints and map keys.
func (e Expr) Compare(other Expr) int {
	return compareExprs(e, other)
}

func compareExprs(a, b Expr) int {
	for i := range min(len(a.terms), len(b.terms)) {
		if c := compareAtoms(a.terms[i].atom, b.terms[i].atom); c != 0 {
			return c
		}
		if c := cmp.Compare(a.terms[i].coef, b.terms[i].coef); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(len(a.terms), len(b.terms)); c != 0 {
		return c
	}
	return cmp.Compare(a.constant, b.constant)
}

func compareAtoms(a, b atom) int {
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	switch a.kind {
	case atomDim, atomSymbol:
		return cmp.Compare(a.index, b.index)
	}
	if c := compareExprs(*a.arg, *b.arg); c != 0 {
		return c
	}
	return cmp.Compare(a.divisor, b.divisor)
}

// Evaluate returns the value of the expression for the given values of the dimension and symbol variables.
func (e Expr) Evaluate(dims, symbols []int64) int64 {
	value := e.constant
	for _, t := range e.terms {
		value += t.coef * t.atom.evaluate(dims, symbols)
	}
	return value
}

func (a atom) evaluate(dims, symbols []int64) int64 {
	switch a.kind {
	case atomDim:
		return dims[a.index]
	case atomSymbol:
		return symbols[a.index]
	case atomFloorDiv:
		return floorDiv(a.arg.Evaluate(dims, symbols), a.divisor)
	default:
		return mod(a.arg.Evaluate(dims, symbols), a.divisor)
	}
}

// MarkUsed sets dims[i] (symbols[i]) to true for every dimension (symbol) variable i used in e.
func (e Expr) MarkUsed(dims, symbols []bool) {
	for _, t := range e.terms {
		switch t.atom.kind {
		case atomDim:
			dims[t.atom.index] = true
		case atomSymbol:
			symbols[t.atom.index] = true
		default:
			t.atom.arg.MarkUsed(dims, symbols)
		}
	}
}

// maxVarIndices returns the number of dimension and symbol variables e needs to be defined:
// one more than the largest index used.
func (e Expr) maxVarIndices() (numDims, numSymbols int) {
	for _, t := range e.terms {
		switch t.atom.kind {
		case atomDim:
			numDims = max(numDims, t.atom.index+1)
		case atomSymbol:
			numSymbols = max(numSymbols, t.atom.index+1)
		default:
			d, s := t.atom.arg.maxVarIndices()
			numDims, numSymbols = max(numDims, d), max(numSymbols, s)
		}
	}
	return
}

// Replace substitutes every dimension variable i by dims[i] and every symbol variable j by symbols[j],
// simplifying floordiv and mod without range information. A nil slice leaves those variables unchanged.
func (e Expr) Replace(dims, symbols []Expr) Expr {
	return simplifier{}.rebuild(e, dims, symbols)
}

func checkDivisor(op string, divisor int64) {
	if divisor <= 0 {
		panic(errors.Errorf("indexing: %s by non-positive constant %d", op, divisor))
	}
}
