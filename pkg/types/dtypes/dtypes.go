// Package dtypes defines the element types of the tensors flowing through a fusion.
package dtypes

//go:generate go tool enumer -type=DType dtypes.go

// DType is the element type of a tensor.
type DType int32

const (
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	BFloat16
	Float32
	Float64
)

// Short aliases, matching the names used in HLO text.
const (
	PRED = Bool
	S8   = Int8
	S16  = Int16
	S32  = Int32
	S64  = Int64
	U8   = Uint8
	U16  = Uint16
	U32  = Uint32
	U64  = Uint64
	F16  = Float16
	BF16 = BFloat16
	F32  = Float32
	F64  = Float64
)

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	switch dtype {
	case Float16, BFloat16, Float32, Float64:
		return true
	}
	return false
}

// IsInt returns whether dtype is an integer type, signed or unsigned.
// Bool is not considered an integer.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsUnsigned returns whether dtype is an unsigned integer type.
func (dtype DType) IsUnsigned() bool {
	switch dtype {
	case Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// Bits returns the number of bits used to store one element, or 0 for InvalidDType.
func (dtype DType) Bits() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 8
	case Int16, Uint16, Float16, BFloat16:
		return 16
	case Int32, Uint32, Float32:
		return 32
	case Int64, Uint64, Float64:
		return 64
	}
	return 0
}

// FromHLOName converts the element type names used in HLO text ("f32", "s32", "pred", ...) to a DType.
// It returns InvalidDType if the name is unknown.
func FromHLOName(name string) DType {
	switch name {
	case "pred":
		return Bool
	case "s8":
		return Int8
	case "s16":
		return Int16
	case "s32":
		return Int32
	case "s64":
		return Int64
	case "u8":
		return Uint8
	case "u16":
		return Uint16
	case "u32":
		return Uint32
	case "u64":
		return Uint64
	case "f16":
		return Float16
	case "bf16":
		return BFloat16
	case "f32":
		return Float32
	case "f64":
		return Float64
	}
	return InvalidDType
}
