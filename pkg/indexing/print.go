package indexing

import (
	"strconv"
	"strings"
)

// String implements fmt.Stringer, naming variables d0, d1, ... and s0, s1, ...
func (e Expr) String() string {
	return e.Format(DefaultNames)
}

// Format returns the expression in MLIR affine syntax, e.g. "(d0 + d1 * 128) floordiv 3 + s0",
// using names to name the variables.
func (e Expr) Format(names Namer) string {
	var sb strings.Builder
	e.write(&sb, names)
	return sb.String()
}

func (e Expr) write(sb *strings.Builder, names Namer) {
	if len(e.terms) == 0 {
		sb.WriteString(strconv.FormatInt(e.constant, 10))
		return
	}
	for i, t := range e.terms {
		coef := t.coef
		if i == 0 {
			if coef == -1 {
				sb.WriteString("-")
				coef = 1
			}
		} else if coef < 0 {
			sb.WriteString(" - ")
			coef = -coef
		} else {
			sb.WriteString(" + ")
		}
		t.atom.writeTerm(sb, names, coef)
	}
	if e.constant > 0 {
		sb.WriteString(" + ")
		sb.WriteString(strconv.FormatInt(e.constant, 10))
	} else if e.constant < 0 {
		sb.WriteString(" - ")
		sb.WriteString(strconv.FormatInt(-e.constant, 10))
	}
}

// writeTerm writes coef * a.
func (a atom) writeTerm(sb *strings.Builder, names Namer, coef int64) {
	isVar := a.kind == atomDim || a.kind == atomSymbol
	if coef != 1 && !isVar {
		sb.WriteString("(")
	}
	a.write(sb, names)
	if coef != 1 {
		if !isVar {
			sb.WriteString(")")
		}
		sb.WriteString(" * ")
		sb.WriteString(strconv.FormatInt(coef, 10))
	}
}

func (a atom) write(sb *strings.Builder, names Namer) {
	switch a.kind {
	case atomDim:
		sb.WriteString(names.DimName(a.index))
		return
	case atomSymbol:
		sb.WriteString(names.SymbolName(a.index))
		return
	}
	if _, _, ok := a.arg.AsVariable(); ok {
		a.arg.write(sb, names)
	} else {
		sb.WriteString("(")
		a.arg.write(sb, names)
		sb.WriteString(")")
	}
	if a.kind == atomFloorDiv {
		sb.WriteString(" floordiv ")
	} else {
		sb.WriteString(" mod ")
	}
	sb.WriteString(strconv.FormatInt(a.divisor, 10))
}
