package expr

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"copyjit/pkg/types"
)

func int4(x int32) NullableDatum {
	return NullableDatum{Value: types.Int32GetDatum(x)}
}

var null = NullableDatum{IsNull: true}

func mustBuild(t *testing.T, b *Builder) *Expression {
	t.Helper()
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { e.Free() })
	return e
}

func TestScanVarAssign(t *testing.T) {
	b := NewBuilder()
	scan := b.NewSlot(1)
	result := b.NewSlot(1)
	b.SetResultSlot(result)
	ec := b.NewContext()
	ec.ScanTuple = Addr(scan)

	b.Fetch(OpScanFetchsome, 1)
	b.Var(OpScanVar, 0, b.StateTarget())
	b.AssignVar(OpAssignScanVar, 0, 0)
	b.Done()
	e := mustBuild(t, b)

	scan.StoreTuple([]NullableDatum{int4(42)})
	result.Clear()
	v, isnull, err := e.Eval(ec)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if isnull || types.DatumGetInt32(v) != 42 {
		t.Errorf("Eval = (%v, %v), want (42, false)", v, isnull)
	}
	if result.Null(0) || types.DatumGetInt32(result.Value(0)) != 42 {
		t.Errorf("result slot = (%v, %v), want (42, false)", result.Value(0), result.Null(0))
	}
	if scan.Nvalid != 1 {
		t.Errorf("Nvalid = %d, want 1", scan.Nvalid)
	}
}

func TestSlotGetSomeAttrsMissingAttributes(t *testing.T) {
	b := NewBuilder()
	s := b.NewSlot(3)
	if err := b.Err(); err != nil {
		t.Fatal(err)
	}
	defer b.arena.Free()

	s.StoreTuple([]NullableDatum{int4(7)})
	SlotGetSomeAttrs(s, 5)
	if s.Nvalid != 3 {
		t.Fatalf("Nvalid = %d, want clamp to 3", s.Nvalid)
	}
	got := []bool{s.Null(0), s.Null(1), s.Null(2)}
	if diff := cmp.Diff([]bool{false, true, true}, got); diff != "" {
		t.Errorf("null flags mismatch (-want +got):\n%s", diff)
	}
}

// strictCall builds args -> FUNCEXPR_STRICT(name) -> DONE.
func strictCall(t *testing.T, op Opcode, name string, args ...NullableDatum) *Expression {
	t.Helper()
	b := NewBuilder()
	fc := b.NewCall(name)
	for i, a := range args {
		b.Const(a.Value, a.IsNull, ArgTarget(fc, i))
	}
	b.Func(op, fc, b.StateTarget())
	b.Done()
	return mustBuild(t, b)
}

func TestStrictFunctionSkipsNullArgs(t *testing.T) {
	before := FuncUsage(FnInt4Eq)
	e := strictCall(t, OpFuncexprStrictFusage, "int4eq", int4(1), null)
	e.State.Resvalue = 99

	v, isnull, err := e.Eval(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !isnull {
		t.Errorf("isnull = false, want true")
	}
	if v != 99 {
		t.Errorf("resvalue changed to %v on strict null path", v)
	}
	if got := FuncUsage(FnInt4Eq); got != before {
		t.Errorf("function was invoked: usage %d -> %d", before, got)
	}
}

func TestCatalogFunctions(t *testing.T) {
	tests := []struct {
		name string
		args []NullableDatum
		want types.Datum
	}{
		{"int4eq", []NullableDatum{int4(3), int4(3)}, 1},
		{"int4lt", []NullableDatum{int4(-3), int4(3)}, 1},
		{"int4pl", []NullableDatum{int4(2147483647), int4(1)}, types.Int32GetDatum(-2147483648)},
		{"int4mul", []NullableDatum{int4(-6), int4(7)}, types.Int32GetDatum(-42)},
		{"int4larger", []NullableDatum{int4(-6), int4(7)}, types.Int32GetDatum(7)},
		{"int84pl", []NullableDatum{{Value: types.Int64GetDatum(1 << 40)}, int4(-1)}, types.Int64GetDatum(1<<40 - 1)},
		{"int8inc", []NullableDatum{{Value: types.Int64GetDatum(9)}}, types.Int64GetDatum(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := strictCall(t, OpFuncexprStrict, tt.name, tt.args...)
			v, isnull, err := e.Eval(nil)
			if err != nil {
				t.Fatal(err)
			}
			if isnull || v != tt.want {
				t.Errorf("%s = (%v, %v), want (%v, false)", tt.name, v, isnull, tt.want)
			}
		})
	}
}

func TestQualShortCircuits(t *testing.T) {
	b := NewBuilder()
	fc := b.NewCall("int4lt")
	b.Const(types.Int32GetDatum(5), false, ArgTarget(fc, 0))
	b.Const(types.Int32GetDatum(1), false, ArgTarget(fc, 1))
	b.Func(OpFuncexprStrict, fc, b.StateTarget())
	q := b.Jump(OpQual, b.StateTarget())
	b.Const(types.Int32GetDatum(77), false, b.StateTarget())
	done := b.Done()
	b.SetJump(q, done)
	e := mustBuild(t, b)

	v, isnull, err := e.Eval(nil)
	if err != nil {
		t.Fatal(err)
	}
	if isnull || v != 0 {
		t.Errorf("qual = (%v, %v), want (false, false)", v, isnull)
	}
}

func TestBoolAndWithNull(t *testing.T) {
	b := NewBuilder()
	anynull := b.AllocBool()
	b.Const(types.BoolGetDatum(true), false, b.StateTarget())
	s1 := b.BoolStep(OpBoolAndStepFirst, anynull, b.StateTarget())
	b.Const(0, true, b.StateTarget())
	s2 := b.BoolStep(OpBoolAndStepLast, anynull, b.StateTarget())
	done := b.Done()
	b.SetJump(s1, done)
	b.SetJump(s2, done)
	e := mustBuild(t, b)

	_, isnull, err := e.Eval(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !isnull {
		t.Errorf("true AND null should be null")
	}
}

func TestAggregateTransition(t *testing.T) {
	b := NewBuilder()
	agg := b.NewAggState(1, 1)
	fc := b.NewCall("int84pl")
	pertrans := b.NewPertrans(fc)
	ec := b.NewContext()
	scan := b.NewSlot(1)
	ec.ScanTuple = Addr(scan)

	b.Fetch(OpScanFetchsome, 1)
	b.Var(OpScanVar, 0, ArgTarget(fc, 1))
	chk := b.AggStrictInputCheck(fc, 1, 1)
	nc := b.AggPergroupNullcheck(0)
	b.AggTrans(OpAggPlainTransInitStrictByval, pertrans, 0, 0, 0)
	done := b.Done()
	b.SetJump(chk, done)
	b.SetJump(nc, done)
	e := mustBuild(t, b)

	for _, v := range []NullableDatum{int4(5), null, int4(-2), int4(10)} {
		scan.StoreTuple([]NullableDatum{v})
		if _, _, err := e.Eval(ec); err != nil {
			t.Fatal(err)
		}
	}
	pg := agg.Pergroup(0, 0)
	if pg.TransValueIsNull || types.DatumGetInt64(pg.TransValue) != 13 {
		t.Errorf("sum = (%v, %v), want (13, false)", pg.TransValue, pg.TransValueIsNull)
	}
}

func TestUnsupportedOpcode(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpWholerow, b.StateTarget())
	b.Done()
	e := mustBuild(t, b)
	if _, _, err := e.Eval(nil); err == nil {
		t.Fatalf("expected error for %s", OpWholerow)
	}
}

func TestBuildRejectsBadPrograms(t *testing.T) {
	b := NewBuilder()
	b.Const(1, false, b.StateTarget())
	if _, err := b.Build(); err == nil {
		t.Errorf("program without DONE built")
	}

	b = NewBuilder()
	j := b.Jump(OpJump, b.StateTarget())
	b.Done()
	b.SetJump(j, 9)
	if _, err := b.Build(); err == nil {
		t.Errorf("out of range jump built")
	}
}

func TestOpcodeNames(t *testing.T) {
	if OpDone.String() != "EEOP_DONE" || OpLast.String() != "EEOP_LAST" {
		t.Errorf("names: %s %s", OpDone, OpLast)
	}
	op, ok := OpcodeByName("EEOP_FUNCEXPR_STRICT")
	if !ok || op != OpFuncexprStrict {
		t.Errorf("OpcodeByName = %v, %v", op, ok)
	}
}

type fakeResource struct {
	name     string
	released int
}

func (r *fakeResource) ResourceName() string { return r.name }
func (r *fakeResource) ReleaseResource() error {
	r.released++
	return nil
}

func TestResourceOwnerReleasesOnce(t *testing.T) {
	o := NewResourceOwner("test")
	a, b := &fakeResource{name: "a"}, &fakeResource{name: "b"}
	o.Remember(a)
	o.Remember(b)
	o.Forget(b)
	if err := o.Release(false); err != nil {
		t.Fatal(err)
	}
	if err := o.Release(false); err != nil {
		t.Fatal(err)
	}
	if a.released != 1 || b.released != 0 {
		t.Errorf("released a=%d b=%d, want 1 0", a.released, b.released)
	}
}
