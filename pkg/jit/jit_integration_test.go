//go:build linux && amd64

package jit

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"copyjit/pkg/expr"
	"copyjit/pkg/jit/asm"
	"copyjit/pkg/types"
)

func nativeProvider(t *testing.T) *Provider {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogCompiles = false
	p, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !asm.Supported || !p.CanRun() {
		t.Skip("generated code cannot run on this host")
	}
	return p
}

// compiled compiles e into a fresh context released at cleanup.
func compiled(t *testing.T, p *Provider, e *expr.Expression) *Context {
	t.Helper()
	ctx, err := p.NewContext(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.ReleaseContext(ctx) })
	if !p.CompileExpr(ctx, e) {
		t.Fatal("CompileExpr fell back to the interpreter")
	}
	return ctx
}

func int4(x int32) expr.NullableDatum {
	return expr.NullableDatum{Value: types.Int32GetDatum(x)}
}

var null = expr.NullableDatum{IsNull: true}

func boolean(b bool) expr.NullableDatum {
	return expr.NullableDatum{Value: types.BoolGetDatum(b)}
}

func TestNativeScanAssign(t *testing.T) {
	p := nativeProvider(t)
	b := expr.NewBuilder(expr.WithNatives(p.Natives()))
	scan := b.NewSlot(1)
	result := b.NewSlot(1)
	b.SetResultSlot(result)
	ec := b.NewContext()
	ec.ScanTuple = expr.Addr(scan)
	b.Fetch(expr.OpScanFetchsome, 1)
	b.Var(expr.OpScanVar, 0, b.StateTarget())
	b.AssignVar(expr.OpAssignScanVar, 0, 0)
	b.Done()
	e := mustBuild(t, b)
	compiled(t, p, e)

	scan.StoreTuple([]expr.NullableDatum{int4(42)})
	result.Clear()
	v, isnull, err := e.Eval(ec)
	if err != nil {
		t.Fatal(err)
	}
	if isnull || types.DatumGetInt32(v) != 42 {
		t.Errorf("Eval = (%v, %v), want (42, false)", v, isnull)
	}
	if result.Null(0) || types.DatumGetInt32(result.Value(0)) != 42 {
		t.Errorf("result slot = (%v, %v)", result.Value(0), result.Null(0))
	}
	if scan.Nvalid != 1 {
		t.Errorf("Nvalid = %d, want 1", scan.Nvalid)
	}
}

func TestNativeStrictNullSkipsCall(t *testing.T) {
	p := nativeProvider(t)
	for _, op := range []expr.Opcode{expr.OpFuncexprStrict, expr.OpFuncexprStrictFusage} {
		t.Run(op.String(), func(t *testing.T) {
			b := expr.NewBuilder(expr.WithNatives(p.Natives()))
			ec := b.NewContext()
			fc := b.NewCall("int4pl")
			b.Const(types.Int32GetDatum(1), false, expr.ArgTarget(fc, 0))
			b.Const(0, true, expr.ArgTarget(fc, 1))
			b.Func(op, fc, b.StateTarget())
			b.Done()
			e := mustBuild(t, b)
			compiled(t, p, e)

			e.State.Resvalue = 99
			before := expr.FuncUsage(expr.FnInt4Pl)
			v, isnull, err := e.Eval(ec)
			if err != nil {
				t.Fatal(err)
			}
			if !isnull || v != 99 {
				t.Errorf("Eval = (%v, %v), want (99, true)", v, isnull)
			}
			if got := expr.FuncUsage(expr.FnInt4Pl); got != before {
				t.Errorf("function was invoked: usage %d -> %d", before, got)
			}
		})
	}
}

func TestNativeUnsupportedKeepsInterpreter(t *testing.T) {
	p := nativeProvider(t)
	b := expr.NewBuilder()
	b.Emit(expr.OpWholerow, b.StateTarget())
	b.Done()
	e := mustBuild(t, b)

	ctx, err := p.NewContext(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.ReleaseContext(ctx)
	if p.CompileExpr(ctx, e) {
		t.Fatal("unsupported program compiled")
	}
	if !e.Interpreted() || ctx.Code() != nil {
		t.Errorf("interpreted %v, code %v", e.Interpreted(), ctx.Code())
	}
}

// program builds one expression; run feeds it one input row.
type program struct {
	name  string
	build func(b *expr.Builder, ec *expr.ExprContext) func(row []expr.NullableDatum)
	rows  [][]expr.NullableDatum
}

func strictBinary(op expr.Opcode, fn string) func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	return func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
		scan := b.NewSlot(2)
		ec.ScanTuple = expr.Addr(scan)
		fc := b.NewCall(fn)
		b.Fetch(expr.OpScanFetchsome, 2)
		b.Var(expr.OpScanVar, 0, expr.ArgTarget(fc, 0))
		b.Var(expr.OpScanVar, 1, expr.ArgTarget(fc, 1))
		b.Func(op, fc, b.StateTarget())
		b.Done()
		return func(row []expr.NullableDatum) {
			scan.Clear()
			scan.StoreTuple(row)
		}
	}
}

// fetchPair attaches a two column scan slot, emits its FETCHSOME and
// returns the row loader.
func fetchPair(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	scan := b.NewSlot(2)
	ec.ScanTuple = expr.Addr(scan)
	b.Fetch(expr.OpScanFetchsome, 2)
	return func(row []expr.NullableDatum) {
		scan.Clear()
		scan.StoreTuple(row)
	}
}

// unary applies op to the first column in place.
func unary(op expr.Opcode) func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	return func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
		load := fetchPair(b, ec)
		b.Var(expr.OpScanVar, 0, b.StateTarget())
		b.Emit(op, b.StateTarget())
		b.Done()
		return load
	}
}

// boolChain evaluates first, second, first again under a BOOL_AND or
// BOOL_OR chain.
func boolChain(first, middle, last expr.Opcode) func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	return func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
		load := fetchPair(b, ec)
		anynull := b.AllocBool()
		b.Var(expr.OpScanVar, 0, b.StateTarget())
		s1 := b.BoolStep(first, anynull, b.StateTarget())
		b.Var(expr.OpScanVar, 1, b.StateTarget())
		s2 := b.BoolStep(middle, anynull, b.StateTarget())
		b.Var(expr.OpScanVar, 0, b.StateTarget())
		s3 := b.BoolStep(last, anynull, b.StateTarget())
		done := b.Done()
		for _, s := range []int{s1, s2, s3} {
			b.SetJump(s, done)
		}
		return load
	}
}

func distinct(op expr.Opcode) func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	return func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
		load := fetchPair(b, ec)
		fc := b.NewCall("int4eq")
		b.Var(expr.OpScanVar, 0, expr.ArgTarget(fc, 0))
		b.Var(expr.OpScanVar, 1, expr.ArgTarget(fc, 1))
		b.Func(op, fc, b.StateTarget())
		b.Done()
		return load
	}
}

// jumpOver skips a constant 7 when op jumps, leaving the first column.
func jumpOver(op expr.Opcode) func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	return func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
		load := fetchPair(b, ec)
		b.Var(expr.OpScanVar, 0, b.StateTarget())
		j := b.Jump(op, b.StateTarget())
		b.Const(types.Int32GetDatum(7), false, b.StateTarget())
		b.SetJump(j, b.Done())
		return load
	}
}

func paramExec(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	b.AllocExecParams(ec, 2)
	b.Param(expr.OpParamExec, 1, b.StateTarget())
	b.Done()
	return func(row []expr.NullableDatum) {
		*ec.ExecParam(0), *ec.ExecParam(1) = row[0], row[1]
	}
}

func paramExtern(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	b.AllocParams(ec, 2)
	b.Param(expr.OpParamExtern, 2, b.StateTarget())
	b.Done()
	return func(row []expr.NullableDatum) {
		*ec.Param(1), *ec.Param(2) = row[0], row[1]
	}
}

func caseContext(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	b.CaseTestval(0, 0, b.StateTarget())
	b.Done()
	return func(row []expr.NullableDatum) {
		ec.CaseValue, ec.CaseIsNull = row[1].Value, row[1].IsNull
	}
}

func caseExternal(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	value, isnull := b.AllocDatum(), b.AllocBool()
	b.CaseTestval(value, isnull, b.StateTarget())
	b.Done()
	return func(row []expr.NullableDatum) {
		*expr.Ptr[types.Datum](value) = row[0].Value
		*expr.Ptr[bool](isnull) = row[0].IsNull
	}
}

func aggref(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
	b.AllocAggResults(ec, 2)
	b.Aggref(1, b.StateTarget())
	b.Done()
	return func(row []expr.NullableDatum) {
		ec.SetAggValue(0, row[0].Value, row[0].IsNull)
		ec.SetAggValue(1, row[1].Value, row[1].IsNull)
	}
}

func pairs(values ...expr.NullableDatum) [][]expr.NullableDatum {
	var out [][]expr.NullableDatum
	for _, x := range values {
		for _, y := range values {
			out = append(out, []expr.NullableDatum{x, y})
		}
	}
	return out
}

func TestNativeMatchesInterpreter(t *testing.T) {
	p := nativeProvider(t)
	ints := pairs(int4(0), int4(1), int4(-7), int4(2147483647), null)
	bools := pairs(boolean(true), boolean(false), null)

	programs := []program{
		{"int4eq strict", strictBinary(expr.OpFuncexprStrict, "int4eq"), ints},
		{"int4lt strict", strictBinary(expr.OpFuncexprStrict, "int4lt"), ints},
		{"int4pl strict", strictBinary(expr.OpFuncexprStrict, "int4pl"), ints},
		{"int4mul fusage", strictBinary(expr.OpFuncexprStrictFusage, "int4mul"), ints},
		{"int4mi", strictBinary(expr.OpFuncexpr, "int4mi"), ints},
		{"qual", func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
			scan := b.NewSlot(2)
			ec.ScanTuple = expr.Addr(scan)
			fc := b.NewCall("int4lt")
			b.Fetch(expr.OpScanFetchsome, 2)
			b.Var(expr.OpScanVar, 0, expr.ArgTarget(fc, 0))
			b.Var(expr.OpScanVar, 1, expr.ArgTarget(fc, 1))
			b.Func(expr.OpFuncexprStrict, fc, b.StateTarget())
			q := b.Jump(expr.OpQual, b.StateTarget())
			b.Const(types.BoolGetDatum(true), false, b.StateTarget())
			b.SetJump(q, b.Done())
			return func(row []expr.NullableDatum) {
				scan.Clear()
				scan.StoreTuple(row)
			}
		}, ints},
		{"nulltest", func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
			scan := b.NewSlot(2)
			ec.ScanTuple = expr.Addr(scan)
			b.Fetch(expr.OpScanFetchsome, 2)
			b.Var(expr.OpScanVar, 1, b.StateTarget())
			b.Emit(expr.OpNulltestIsnull, b.StateTarget())
			b.Done()
			return func(row []expr.NullableDatum) {
				scan.Clear()
				scan.StoreTuple(row)
			}
		}, ints},
		{"bool and", func(b *expr.Builder, ec *expr.ExprContext) func([]expr.NullableDatum) {
			scan := b.NewSlot(2)
			ec.ScanTuple = expr.Addr(scan)
			anynull := b.AllocBool()
			b.Fetch(expr.OpScanFetchsome, 2)
			b.Var(expr.OpScanVar, 0, b.StateTarget())
			s1 := b.BoolStep(expr.OpBoolAndStepFirst, anynull, b.StateTarget())
			b.Var(expr.OpScanVar, 1, b.StateTarget())
			s2 := b.BoolStep(expr.OpBoolAndStepLast, anynull, b.StateTarget())
			done := b.Done()
			b.SetJump(s1, done)
			b.SetJump(s2, done)
			return func(row []expr.NullableDatum) {
				scan.Clear()
				scan.StoreTuple(row)
			}
		}, pairs(int4(0), int4(1), null)},
		{"bool and chain", boolChain(expr.OpBoolAndStepFirst, expr.OpBoolAndStep, expr.OpBoolAndStepLast), bools},
		{"bool or chain", boolChain(expr.OpBoolOrStepFirst, expr.OpBoolOrStep, expr.OpBoolOrStepLast), bools},
		{"bool not", unary(expr.OpBoolNotStep), bools},
		{"is true", unary(expr.OpBooltestIsTrue), bools},
		{"is not true", unary(expr.OpBooltestIsNotTrue), bools},
		{"is false", unary(expr.OpBooltestIsFalse), bools},
		{"is not false", unary(expr.OpBooltestIsNotFalse), bools},
		{"nulltest isnotnull", unary(expr.OpNulltestIsnotnull), ints},
		{"distinct", distinct(expr.OpDistinct), ints},
		{"not distinct", distinct(expr.OpNotDistinct), ints},
		{"jump if null", jumpOver(expr.OpJumpIfNull), ints},
		{"jump if not null", jumpOver(expr.OpJumpIfNotNull), ints},
		{"jump if not true", jumpOver(expr.OpJumpIfNotTrue), bools},
		{"jump", jumpOver(expr.OpJump), ints},
		{"param exec", paramExec, ints},
		{"param extern", paramExtern, ints},
		{"case testval", caseContext, ints},
		{"case testval external", caseExternal, ints},
		{"aggref", aggref, ints},
	}

	for _, pr := range programs {
		t.Run(pr.name, func(t *testing.T) {
			b := expr.NewBuilder(expr.WithNatives(p.Natives()))
			ec := b.NewContext()
			load := pr.build(b, ec)
			e := mustBuild(t, b)
			compiled(t, p, e)

			for _, row := range pr.rows {
				load(row)
				e.State.Resvalue, e.State.Resnull = 0, false
				want, wantNull, err := e.Interpret(ec)
				if err != nil {
					t.Fatal(err)
				}
				load(row)
				e.State.Resvalue, e.State.Resnull = 0, false
				got, gotNull, err := e.Eval(ec)
				if err != nil {
					t.Fatal(err)
				}
				if gotNull != wantNull || (!wantNull && got != want) {
					t.Errorf("row %v: native (%v, %v), interpreter (%v, %v)", row, got, gotNull, want, wantNull)
				}
			}
		})
	}
}

func TestNativeAggregateTransition(t *testing.T) {
	p := nativeProvider(t)
	b := expr.NewBuilder(expr.WithNatives(p.Natives()))
	agg := b.NewAggState(1, 1)
	fc := b.NewCall("int84pl")
	pertrans := b.NewPertrans(fc)
	ec := b.NewContext()
	scan := b.NewSlot(1)
	ec.ScanTuple = expr.Addr(scan)

	b.Fetch(expr.OpScanFetchsome, 1)
	b.Var(expr.OpScanVar, 0, expr.ArgTarget(fc, 1))
	chk := b.AggStrictInputCheck(fc, 1, 1)
	nc := b.AggPergroupNullcheck(0)
	b.AggTrans(expr.OpAggPlainTransInitStrictByval, pertrans, 0, 0, 0)
	done := b.Done()
	b.SetJump(chk, done)
	b.SetJump(nc, done)
	e := mustBuild(t, b)
	compiled(t, p, e)

	for _, v := range []expr.NullableDatum{int4(5), null, int4(-2), int4(10)} {
		scan.Clear()
		scan.StoreTuple([]expr.NullableDatum{v})
		if _, _, err := e.Eval(ec); err != nil {
			t.Fatal(err)
		}
	}
	pg := agg.Pergroup(0, 0)
	if pg.TransValueIsNull || types.DatumGetInt64(pg.TransValue) != 13 {
		t.Errorf("sum = (%v, %v), want (13, false)", pg.TransValue, pg.TransValueIsNull)
	}
}

func TestWrappedEntryCounts(t *testing.T) {
	p := nativeProvider(t)
	p.cfg.WrapEntry = true

	b := expr.NewBuilder()
	ec := b.NewContext()
	b.Const(types.Int32GetDatum(3), false, b.StateTarget())
	b.Done()
	e := mustBuild(t, b)
	compiled(t, p, e)

	for i := 0; i < 3; i++ {
		if _, _, err := e.Eval(ec); err != nil {
			t.Fatal(err)
		}
	}
	mfs, err := p.Metrics().Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "copyjit_native_evaluations_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Errorf("evaluations = %v, want 3", got)
			}
			return
		}
	}
	t.Error("evaluation counter not registered")
}

// TestNativeAssignTmp compares the result slot written by both evaluators.
func TestNativeAssignTmp(t *testing.T) {
	p := nativeProvider(t)
	for _, ro := range []bool{false, true} {
		b := expr.NewBuilder(expr.WithNatives(p.Natives()))
		ec := b.NewContext()
		result := b.NewSlot(2)
		b.SetResultSlot(result)
		load := fetchPair(b, ec)
		b.Var(expr.OpScanVar, 1, b.StateTarget())
		b.AssignTmp(1, ro)
		b.Done()
		e := mustBuild(t, b)
		compiled(t, p, e)

		for _, row := range pairs(int4(5), null) {
			read := func(eval func(*expr.ExprContext) (types.Datum, bool, error)) expr.NullableDatum {
				load(row)
				result.Clear()
				if _, _, err := eval(ec); err != nil {
					t.Fatal(err)
				}
				return expr.NullableDatum{Value: result.Value(1), IsNull: result.Null(1)}
			}
			want, got := read(e.Interpret), read(e.Eval)
			if got.IsNull != want.IsNull || (!want.IsNull && got.Value != want.Value) {
				t.Errorf("make_ro %v, row %v: native %+v, interpreter %+v", ro, row, got, want)
			}
		}
	}
}

// transitions builds FETCHSOME, VAR into three int84pl transitions
// (INIT_STRICT, STRICT, plain), behind the strict input and pergroup
// checks. The second and third states start at 100.
func transitions(t *testing.T, natives expr.NativeResolver) (*expr.Expression, *expr.ExprContext, *expr.TupleSlot, *expr.AggState) {
	t.Helper()
	b := expr.NewBuilder(expr.WithNatives(natives))
	agg := b.NewAggState(1, 3)
	ops := []expr.Opcode{expr.OpAggPlainTransInitStrictByval, expr.OpAggPlainTransStrictByval, expr.OpAggPlainTransByval}
	calls := make([]*expr.FunctionCallInfo, len(ops))
	for i := range calls {
		calls[i] = b.NewCall("int84pl")
	}
	ec := b.NewContext()
	scan := b.NewSlot(1)
	ec.ScanTuple = expr.Addr(scan)

	b.Fetch(expr.OpScanFetchsome, 1)
	for _, fc := range calls {
		b.Var(expr.OpScanVar, 0, expr.ArgTarget(fc, 1))
	}
	chk := b.AggStrictInputCheck(calls[0], 1, 1)
	nc := b.AggPergroupNullcheck(0)
	for i, op := range ops {
		b.AggTrans(op, b.NewPertrans(calls[i]), 0, i, 0)
	}
	done := b.Done()
	b.SetJump(chk, done)
	b.SetJump(nc, done)

	for i := 1; i < len(ops); i++ {
		pg := agg.Pergroup(0, i)
		pg.TransValue = types.Int64GetDatum(100)
		pg.TransValueIsNull, pg.NoTransValue = false, false
	}
	return mustBuild(t, b), ec, scan, agg
}

type transition struct {
	Value           int64
	IsNull, NoValue bool
}

func transState(pg *expr.AggStatePerGroup) transition {
	return transition{types.DatumGetInt64(pg.TransValue), pg.TransValueIsNull, pg.NoTransValue}
}

func TestNativeTransitionsMatchInterpreter(t *testing.T) {
	p := nativeProvider(t)
	native, nec, nscan, nagg := transitions(t, p.Natives())
	compiled(t, p, native)
	interp, iec, iscan, iagg := transitions(t, p.Natives())

	for _, v := range []expr.NullableDatum{int4(5), null, int4(-2), int4(10)} {
		nscan.Clear()
		nscan.StoreTuple([]expr.NullableDatum{v})
		if _, _, err := native.Eval(nec); err != nil {
			t.Fatal(err)
		}
		iscan.Clear()
		iscan.StoreTuple([]expr.NullableDatum{v})
		if _, _, err := interp.Interpret(iec); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			if diff := cmp.Diff(transState(iagg.Pergroup(0, i)), transState(nagg.Pergroup(0, i))); diff != "" {
				t.Errorf("after %v, transition %d mismatch (-interpreter +native):\n%s", v, i, diff)
			}
		}
	}
}

func TestNativeSessionContext(t *testing.T) {
	p := nativeProvider(t)
	owner := expr.NewResourceOwner("session")
	b := expr.NewBuilder()
	ec := b.NewContext()
	b.Const(types.Int32GetDatum(3), false, b.StateTarget())
	b.Done()
	e := mustBuild(t, b)

	ctx, ok := p.CompileSession(owner, e)
	if !ok || ctx.State() != ContextPopulated {
		t.Fatalf("CompileSession = %v, %v", ctx, ok)
	}
	if again, _ := p.SessionContext(owner); again != ctx {
		t.Error("session context not reused")
	}
	if v, _, err := e.Eval(ec); err != nil || types.DatumGetInt32(v) != 3 {
		t.Errorf("Eval = %v, %v", v, err)
	}
	if err := owner.Release(false); err != nil {
		t.Fatal(err)
	}
	if ctx.State() != ContextReleased || !e.Interpreted() {
		t.Errorf("after release: state %s, interpreted %v", ctx.State(), e.Interpreted())
	}
}

// TestNativeGuardsBadHostState covers inputs the interpreter rejects: the
// generated code must not read outside the parameter array or through a
// missing pergroup set.
func TestNativeGuardsBadHostState(t *testing.T) {
	p := nativeProvider(t)
	for _, op := range []expr.Opcode{expr.OpParamExec, expr.OpParamExtern} {
		b := expr.NewBuilder()
		ec := b.NewContext()
		b.AllocParams(ec, 1)
		b.AllocExecParams(ec, 1)
		b.Param(op, 5, b.StateTarget())
		b.Done()
		e := mustBuild(t, b)
		if _, _, err := e.Interpret(ec); err == nil {
			t.Errorf("%s: interpreter accepted parameter 5", op)
		}
		compiled(t, p, e)
		if _, isnull, err := e.Eval(ec); err != nil || !isnull {
			t.Errorf("%s: Eval = null %v, %v; want NULL", op, isnull, err)
		}
	}

	b := expr.NewBuilder(expr.WithNatives(p.Natives()))
	agg := b.NewAggState(1, 1)
	fc := b.NewCall("int84pl")
	ec := b.NewContext()
	b.Const(types.Int32GetDatum(4), false, expr.ArgTarget(fc, 1))
	b.AggTrans(expr.OpAggPlainTransByval, b.NewPertrans(fc), 0, 0, 0)
	b.Done()
	e := mustBuild(t, b)
	agg.DropPergroupSet(0)
	if _, _, err := e.Interpret(ec); err == nil {
		t.Error("interpreter accepted a missing pergroup set")
	}
	compiled(t, p, e)
	if _, _, err := e.Eval(ec); err != nil {
		t.Errorf("Eval: %v", err)
	}
}
