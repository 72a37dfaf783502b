package expr

import (
	"github.com/cockroachdb/errors"

	"copyjit/pkg/types"
)

// EvalFunc evaluates a compiled expression program against one context.
type EvalFunc func(state *ExprState, econtext *ExprContext) (types.Datum, bool, error)

var (
	ErrUnsupportedOpcode = errors.New("opcode not supported by the interpreter")
	ErrNoSlot            = errors.New("expression context has no tuple slot")
	ErrNoResultSlot      = errors.New("expression state has no result slot")
)

// Interpreter is the reference step-by-step evaluator. Generated code must
// match it bit for bit.
type Interpreter struct {
	catalog *Catalog
}

func NewInterpreter(catalog *Catalog) *Interpreter {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Interpreter{catalog: catalog}
}

func (in *Interpreter) call(fcinfo *FunctionCallInfo) (types.Datum, error) {
	f, ok := in.catalog.Lookup(fcinfo.FnID)
	if !ok {
		return 0, errors.Newf("function %d not in catalog", fcinfo.FnID)
	}
	fcinfo.IsNull = false
	return f.Fn(fcinfo), nil
}

func (in *Interpreter) aggTrans(state *ExprState, op *Step, pergroup *AggStatePerGroup) error {
	d := op.AggTrans()
	agg := Ptr[AggState](state.Parent)
	pertrans := Ptr[AggStatePerTrans](d.Pertrans)
	fcinfo := Ptr[FunctionCallInfo](pertrans.Fcinfo)

	agg.CurrentSet = d.Setno
	agg.CurPertrans = d.Pertrans

	arg0 := fcinfo.Arg(0)
	arg0.Value = pergroup.TransValue
	arg0.IsNull = pergroup.TransValueIsNull
	v, err := in.call(fcinfo)
	if err != nil {
		return err
	}
	pergroup.TransValue = v
	pergroup.TransValueIsNull = fcinfo.IsNull
	return nil
}

func slotFor(op Opcode, econtext *ExprContext) *TupleSlot {
	switch op {
	case OpScanFetchsome, OpScanVar, OpAssignScanVar:
		return econtext.Slot(econtext.ScanTuple)
	case OpInnerFetchsome, OpInnerVar, OpAssignInnerVar:
		return econtext.Slot(econtext.InnerTuple)
	default:
		return econtext.Slot(econtext.OuterTuple)
	}
}

// Eval runs the program in state until a DONE step.
func (in *Interpreter) Eval(state *ExprState, econtext *ExprContext) (types.Datum, bool, error) {
	steps := state.StepSlice()
	pc := 0
	for pc < len(steps) {
		op := &steps[pc]
		next := pc + 1
		if target, ok := op.JumpTarget(); ok && (target < 0 || target >= len(steps)) {
			return 0, false, errors.Newf("step %d: jump target %d out of range", pc, target)
		}

		switch op.Opcode {
		case OpDone:
			return state.Resvalue, state.Resnull, nil

		case OpScanFetchsome, OpInnerFetchsome, OpOuterFetchsome:
			slot := slotFor(op.Opcode, econtext)
			if slot == nil {
				return 0, false, errors.Wrapf(ErrNoSlot, "step %d (%s)", pc, op.Opcode)
			}
			SlotGetSomeAttrs(slot, op.Fetch().LastVar)

		case OpScanVar, OpInnerVar, OpOuterVar:
			slot := slotFor(op.Opcode, econtext)
			if slot == nil {
				return 0, false, errors.Wrapf(ErrNoSlot, "step %d (%s)", pc, op.Opcode)
			}
			attnum := int(op.Var().Attnum)
			if attnum < 0 || int64(attnum) >= slot.Natts {
				return 0, false, errors.Newf("step %d: attribute %d out of range", pc, attnum)
			}
			op.SetResult(slot.Value(attnum), slot.Null(attnum))

		case OpAssignScanVar, OpAssignInnerVar, OpAssignOuterVar:
			slot := slotFor(op.Opcode, econtext)
			if slot == nil {
				return 0, false, errors.Wrapf(ErrNoSlot, "step %d (%s)", pc, op.Opcode)
			}
			if state.ResultSlot == 0 {
				return 0, false, errors.Wrapf(ErrNoResultSlot, "step %d", pc)
			}
			d := op.AssignVar()
			Ptr[TupleSlot](state.ResultSlot).set(int(d.Resultnum), slot.Value(int(d.Attnum)), slot.Null(int(d.Attnum)))

		case OpAssignTmp, OpAssignTmpMakeRo:
			if state.ResultSlot == 0 {
				return 0, false, errors.Wrapf(ErrNoResultSlot, "step %d", pc)
			}
			Ptr[TupleSlot](state.ResultSlot).set(int(op.AssignTmp().Resultnum), state.Resvalue, state.Resnull)

		case OpConst:
			d := op.Const()
			op.SetResult(d.Value, d.IsNull != 0)

		case OpFuncexpr, OpFuncexprFusage, OpFuncexprStrict, OpFuncexprStrictFusage:
			fcinfo := Ptr[FunctionCallInfo](op.Func().Fcinfo)
			strict := op.Opcode == OpFuncexprStrict || op.Opcode == OpFuncexprStrictFusage
			if strict && anyArgNull(fcinfo, int(op.Func().Nargs)) {
				op.SetNull(true)
				break
			}
			if op.Opcode == OpFuncexprFusage || op.Opcode == OpFuncexprStrictFusage {
				if err := countFuncUsage(fcinfo.FnID); err != nil {
					return 0, false, err
				}
			}
			v, err := in.call(fcinfo)
			if err != nil {
				return 0, false, errors.Wrapf(err, "step %d", pc)
			}
			op.SetResult(v, fcinfo.IsNull)

		case OpBoolAndStepFirst, OpBoolAndStep, OpBoolAndStepLast:
			d := op.BoolExpr()
			anynull := Ptr[bool](d.AnyNull)
			if op.Opcode == OpBoolAndStepFirst {
				*anynull = false
			}
			if op.ResultNull() {
				*anynull = true
			} else if !types.DatumGetBool(op.ResultValue()) {
				next = int(d.JumpDone)
				break
			}
			if op.Opcode == OpBoolAndStepLast && *anynull {
				op.SetResult(0, true)
			}

		case OpBoolOrStepFirst, OpBoolOrStep, OpBoolOrStepLast:
			d := op.BoolExpr()
			anynull := Ptr[bool](d.AnyNull)
			if op.Opcode == OpBoolOrStepFirst {
				*anynull = false
			}
			if op.ResultNull() {
				*anynull = true
			} else if types.DatumGetBool(op.ResultValue()) {
				next = int(d.JumpDone)
				break
			}
			if op.Opcode == OpBoolOrStepLast && *anynull {
				op.SetResult(0, true)
			}

		case OpBoolNotStep:
			*Ptr[types.Datum](op.Resvalue) = types.BoolGetDatum(!types.DatumGetBool(op.ResultValue()))

		case OpQual:
			if op.ResultNull() || !types.DatumGetBool(op.ResultValue()) {
				op.SetResult(types.BoolGetDatum(false), false)
				next = int(op.Jump().JumpDone)
			}

		case OpJump:
			next = int(op.Jump().JumpDone)

		case OpJumpIfNull:
			if op.ResultNull() {
				next = int(op.Jump().JumpDone)
			}

		case OpJumpIfNotNull:
			if !op.ResultNull() {
				next = int(op.Jump().JumpDone)
			}

		case OpJumpIfNotTrue:
			if op.ResultNull() || !types.DatumGetBool(op.ResultValue()) {
				next = int(op.Jump().JumpDone)
			}

		case OpNulltestIsnull:
			op.SetResult(types.BoolGetDatum(op.ResultNull()), false)

		case OpNulltestIsnotnull:
			op.SetResult(types.BoolGetDatum(!op.ResultNull()), false)

		case OpBooltestIsTrue, OpBooltestIsNotFalse:
			if op.ResultNull() {
				op.SetResult(types.BoolGetDatum(op.Opcode == OpBooltestIsNotFalse), false)
			}

		case OpBooltestIsNotTrue, OpBooltestIsFalse:
			if op.ResultNull() {
				op.SetResult(types.BoolGetDatum(op.Opcode == OpBooltestIsNotTrue), false)
			} else {
				op.SetResult(types.BoolGetDatum(!types.DatumGetBool(op.ResultValue())), false)
			}

		case OpParamExec:
			id := int(op.Param().ParamID)
			if id < 0 || int64(id) >= econtext.NExecParams {
				return 0, false, errors.Newf("step %d: no value found for exec parameter %d", pc, id)
			}
			prm := econtext.ExecParam(id)
			op.SetResult(prm.Value, prm.IsNull)

		case OpParamExtern:
			id := int(op.Param().ParamID)
			if id <= 0 || int64(id) > econtext.NParams {
				return 0, false, errors.Newf("step %d: no value found for parameter %d", pc, id)
			}
			prm := econtext.Param(id)
			op.SetResult(prm.Value, prm.IsNull)

		case OpCaseTestval:
			d := op.CaseTest()
			if d.Value != 0 {
				op.SetResult(*Ptr[types.Datum](d.Value), *Ptr[bool](d.IsNull))
			} else {
				op.SetResult(econtext.CaseValue, econtext.CaseIsNull)
			}

		case OpDistinct, OpNotDistinct:
			fcinfo := Ptr[FunctionCallInfo](op.Func().Fcinfo)
			n0, n1 := fcinfo.Arg(0).IsNull, fcinfo.Arg(1).IsNull
			distinct := op.Opcode == OpDistinct
			switch {
			case n0 && n1:
				op.SetResult(types.BoolGetDatum(!distinct), false)
			case n0 || n1:
				op.SetResult(types.BoolGetDatum(distinct), false)
			default:
				eq, err := in.call(fcinfo)
				if err != nil {
					return 0, false, errors.Wrapf(err, "step %d", pc)
				}
				if distinct {
					eq = types.BoolGetDatum(!types.DatumGetBool(eq))
				}
				op.SetResult(eq, fcinfo.IsNull)
			}

		case OpNullif:
			fcinfo := Ptr[FunctionCallInfo](op.Func().Fcinfo)
			a0, a1 := fcinfo.Arg(0), fcinfo.Arg(1)
			if !a0.IsNull && !a1.IsNull {
				eq, err := in.call(fcinfo)
				if err != nil {
					return 0, false, errors.Wrapf(err, "step %d", pc)
				}
				if !fcinfo.IsNull && types.DatumGetBool(eq) {
					op.SetResult(0, true)
					break
				}
			}
			op.SetResult(a0.Value, a0.IsNull)

		case OpAggref:
			v, n := econtext.AggValue(int(op.Aggref().Aggno))
			op.SetResult(v, n)

		case OpAggPlainPergroupNullcheck:
			d := op.PergroupNullcheck()
			if Ptr[AggState](state.Parent).pergroupSet(int(d.Setoff)) == 0 {
				next = int(d.JumpNull)
			}

		case OpAggStrictInputCheckArgs:
			d := op.StrictInputCheck()
			for i := 0; i < int(d.Nargs); i++ {
				if nullableAt(d.Args, i).IsNull {
					next = int(d.JumpNull)
					break
				}
			}

		case OpAggPlainTransInitStrictByval, OpAggPlainTransStrictByval, OpAggPlainTransByval:
			d := op.AggTrans()
			pergroup := Ptr[AggState](state.Parent).Pergroup(int(d.Setoff), int(d.Transno))
			if pergroup == nil {
				return 0, false, errors.Newf("step %d: no pergroup state for set %d", pc, d.Setoff)
			}
			if op.Opcode == OpAggPlainTransInitStrictByval && pergroup.NoTransValue {
				fcinfo := Ptr[FunctionCallInfo](Ptr[AggStatePerTrans](d.Pertrans).Fcinfo)
				pergroup.TransValue = fcinfo.Arg(1).Value
				pergroup.TransValueIsNull = false
				pergroup.NoTransValue = false
				break
			}
			if op.Opcode != OpAggPlainTransByval && pergroup.TransValueIsNull {
				break
			}
			if err := in.aggTrans(state, op, pergroup); err != nil {
				return 0, false, errors.Wrapf(err, "step %d", pc)
			}

		default:
			return 0, false, errors.Wrapf(ErrUnsupportedOpcode, "step %d (%s)", pc, op.Opcode)
		}
		pc = next
	}
	return 0, false, errors.Newf("expression ran past its last step (%d steps)", len(steps))
}

func anyArgNull(fcinfo *FunctionCallInfo, nargs int) bool {
	for i := 0; i < nargs; i++ {
		if fcinfo.Arg(i).IsNull {
			return true
		}
	}
	return false
}
