package shapes

import (
	"fmt"
	"io"
	"strings"
)

// ToMLIR returns the MLIR representation of the shape's type, e.g.: "tensor<10x20xf32>".
func (s Shape) ToMLIR() string {
	var sb strings.Builder
	_ = s.WriteMLIR(&sb)
	return sb.String()
}

// WriteMLIR writes the MLIR representation of the shape's type to the given writer.
// Tuples are written as "tuple<...>".
func (s Shape) WriteMLIR(writer io.Writer) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}

	if s.IsTuple() {
		w("tuple<")
		for i, subShape := range s.TupleShapes {
			if i > 0 {
				w(", ")
			}
			if err != nil {
				return err
			}
			err = subShape.WriteMLIR(writer)
			if err != nil {
				return err
			}
		}
		w(">")
		return err
	}

	w("tensor<")
	if s.Rank() > 0 {
		for i, dim := range s.Dimensions {
			if i > 0 {
				w("x")
			}
			w("%d", dim)
		}
		w("x")
	}
	w("%s", s.DType.ToMLIR())
	w(">")
	return err
}
