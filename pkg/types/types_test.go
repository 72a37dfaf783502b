package types

import "testing"

func TestInt32GetDatumSignExtends(t *testing.T) {
	d := Int32GetDatum(-1)
	if uint64(d) != 0xFFFFFFFFFFFFFFFF {
		t.Fatalf("Int32GetDatum(-1) = %v, want all ones", d)
	}
	if got := DatumGetInt32(d); got != -1 {
		t.Errorf("DatumGetInt32 = %d, want -1", got)
	}
	if got := DatumGetInt32(Int32GetDatum(42)); got != 42 {
		t.Errorf("round trip 42 = %d", got)
	}
}

func TestDatumGetBoolUsesWholeWord(t *testing.T) {
	if !DatumGetBool(Datum(0x100)) {
		t.Errorf("DatumGetBool(0x100) = false, want true")
	}
	if DatumGetBool(BoolGetDatum(false)) {
		t.Errorf("DatumGetBool(false datum) = true")
	}
}

func TestNewAttrNumber(t *testing.T) {
	if _, err := NewAttrNumber(3, 3); err == nil {
		t.Errorf("expected error for attnum == natts")
	}
	if _, err := NewAttrNumber(-1, 3); err == nil {
		t.Errorf("expected error for negative attnum")
	}
	a, err := NewAttrNumber(2, 3)
	if err != nil || a != 2 {
		t.Errorf("NewAttrNumber(2, 3) = %d, %v", a, err)
	}
}
