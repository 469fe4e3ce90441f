package dtypes

import (
	"fmt"
)

// ToMLIR returns the MLIR builtin type name of the DType, e.g.: "f32" or "i1".
// MLIR integers are signless, so signed and unsigned types of the same width share the name.
func (dtype DType) ToMLIR() string {
	switch dtype {
	case Float64:
		return "f64"
	case Float32:
		return "f32"
	case Float16:
		return "f16"
	case BFloat16:
		return "bf16"
	case Int64, Uint64:
		return "i64"
	case Int32, Uint32:
		return "i32"
	case Int16, Uint16:
		return "i16"
	case Int8, Uint8:
		return "i8"
	case Bool:
		return "i1"
	default:
		return fmt.Sprintf("unknown_dtype<%s>", dtype.String())
	}
}
