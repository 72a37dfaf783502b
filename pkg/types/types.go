package types

import (
	"fmt"
)

// Datum is the host's word-sized value representation. By-value types are
// stored directly in the word.
type Datum uint64

// Oid identifies a catalog object (currently only scalar functions).
type Oid uint32

type FuncID uint32

// InvalidFuncID marks an fcinfo with no catalog function bound.
const InvalidFuncID FuncID = 0

// AttrNumber is a zero-based attribute index into a tuple slot.
type AttrNumber int64

func NewAttrNumber(value int64, natts int64) (AttrNumber, error) {
	if value < 0 || value >= natts {
		return 0, fmt.Errorf("invalid attribute number %d: must be in [0, %d)", value, natts)
	}
	return AttrNumber(value), nil
}

// Int32GetDatum sign-extends to the full word.
func Int32GetDatum(x int32) Datum {
	return Datum(uint64(int64(x)))
}

func DatumGetInt32(d Datum) int32 {
	return int32(uint32(d))
}

func Int64GetDatum(x int64) Datum {
	return Datum(uint64(x))
}

func DatumGetInt64(d Datum) int64 {
	return int64(d)
}

func BoolGetDatum(b bool) Datum {
	if b {
		return 1
	}
	return 0
}

// DatumGetBool tests the whole word, not just the low byte.
func DatumGetBool(d Datum) bool {
	return d != 0
}

func PointerGetDatum(p uintptr) Datum {
	return Datum(p)
}

func DatumGetPointer(d Datum) uintptr {
	return uintptr(d)
}

// BoolByte is the in-memory representation of a C bool field.
func BoolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (d Datum) String() string {
	return fmt.Sprintf("0x%016x", uint64(d))
}
