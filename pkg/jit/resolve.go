package jit

import (
	"github.com/cockroachdb/errors"

	"copyjit/pkg/expr"
	"copyjit/pkg/stencil"
)

// site is the context a patch is resolved in.
type site struct {
	e         *expr.Expression
	index     int
	step      *expr.Step
	argno     int
	next      uintptr
	forceNext uintptr
}

func (s *site) fcinfo() (*expr.FunctionCallInfo, error) {
	var addr uintptr
	switch s.step.Opcode {
	case expr.OpAggPlainTransInitStrictByval, expr.OpAggPlainTransStrictByval, expr.OpAggPlainTransByval:
		if p := s.step.AggTrans().Pertrans; p != 0 {
			addr = expr.Ptr[expr.AggStatePerTrans](p).Fcinfo
		}
	default:
		if s.step.Opcode.IsFuncCall() {
			addr = s.step.Func().Fcinfo
		}
	}
	if addr == 0 {
		return nil, errors.New("step has no function call info")
	}
	return expr.Ptr[expr.FunctionCallInfo](addr), nil
}

func (s *site) resultSlot() (*expr.TupleSlot, int, error) {
	slot := s.e.State.ResultSlot
	if slot == 0 {
		return nil, 0, expr.ErrNoResultSlot
	}
	var n int64
	switch s.step.Opcode {
	case expr.OpAssignScanVar, expr.OpAssignInnerVar, expr.OpAssignOuterVar:
		n = s.step.AssignVar().Resultnum
	case expr.OpAssignTmp, expr.OpAssignTmpMakeRo:
		n = s.step.AssignTmp().Resultnum
	default:
		return nil, 0, errors.Newf("%s does not assign to the result slot", s.step.Opcode)
	}
	rs := expr.Ptr[expr.TupleSlot](slot)
	if n < 0 || n >= rs.Natts {
		return nil, 0, errors.Newf("result column %d out of range", n)
	}
	return rs, int(n), nil
}

// resolve computes the value a patch of kind target injects at s.
func (c *Compiler) resolve(s *site, l *Layout, base uintptr, target stencil.TargetKind) (uint64, error) {
	step := s.step
	op := step.Opcode
	switch target {
	case stencil.TargetConstValue:
		return uint64(step.Const().Value), nil
	case stencil.TargetConstIsNull:
		return step.Const().IsNull, nil

	case stencil.TargetResultnum:
		_, n, err := s.resultSlot()
		return uint64(n), err
	case stencil.TargetAttnum:
		switch op {
		case expr.OpAssignScanVar, expr.OpAssignInnerVar, expr.OpAssignOuterVar:
			return uint64(step.AssignVar().Attnum), nil
		}
		return uint64(step.Var().Attnum), nil
	case stencil.TargetLastVar:
		return uint64(step.Fetch().LastVar), nil
	case stencil.TargetNargs:
		if op == expr.OpAggStrictInputCheckArgs {
			return uint64(step.StrictInputCheck().Nargs), nil
		}
		return uint64(step.Func().Nargs), nil
	case stencil.TargetAggno:
		return uint64(step.Aggref().Aggno), nil
	case stencil.TargetParamID:
		return uint64(step.Param().ParamID), nil
	case stencil.TargetSetoff:
		if op == expr.OpAggPlainPergroupNullcheck {
			return uint64(step.PergroupNullcheck().Setoff), nil
		}
		return uint64(step.AggTrans().Setoff), nil
	case stencil.TargetTransno:
		return uint64(step.AggTrans().Transno), nil
	case stencil.TargetSetno:
		return uint64(step.AggTrans().Setno), nil

	case stencil.TargetStep:
		return uint64(s.e.StepAddr(s.index)), nil
	case stencil.TargetStepResvalue:
		return uint64(step.Resvalue), nil
	case stencil.TargetStepResnull:
		return uint64(step.Resnull), nil
	case stencil.TargetCaseValue:
		return uint64(step.CaseTest().Value), nil
	case stencil.TargetCaseIsNull:
		return uint64(step.CaseTest().IsNull), nil

	case stencil.TargetHelperGetSomeAttrs:
		if c.symbols.GetSomeAttrs == 0 {
			return 0, errors.New("slot_getsomeattrs is not linked")
		}
		return uint64(c.symbols.GetSomeAttrs), nil
	case stencil.TargetFuncUsage:
		if c.symbols.FuncUsageBase == 0 {
			return 0, errors.New("function usage counters are not linked")
		}
		fc, err := s.fcinfo()
		if err != nil {
			return 0, err
		}
		if int(fc.FnID) >= expr.MaxFuncID {
			return 0, errors.Newf("function %d has no usage counter", fc.FnID)
		}
		return uint64(c.symbols.FuncUsage(fc.FnID)), nil

	case stencil.TargetNext:
		return uint64(s.next), nil
	case stencil.TargetForceNext:
		return uint64(s.forceNext), nil
	case stencil.TargetJumpDone, stencil.TargetJumpNull:
		k, ok := step.JumpTarget()
		if !ok {
			return 0, errors.Newf("%s has no jump target", op)
		}
		if k < 0 || k >= len(l.Offsets) {
			return 0, errors.Newf("jump target %d out of range", k)
		}
		return uint64(base + uintptr(l.Offsets[k])), nil

	case stencil.TargetResultSlotValue:
		rs, n, err := s.resultSlot()
		if err != nil {
			return 0, err
		}
		return uint64(rs.ValueAddr(n)), nil
	case stencil.TargetResultSlotIsNull:
		rs, n, err := s.resultSlot()
		if err != nil {
			return 0, err
		}
		return uint64(rs.NullAddr(n)), nil

	case stencil.TargetFcinfo:
		fc, err := s.fcinfo()
		if err != nil {
			return 0, err
		}
		return uint64(expr.Addr(fc)), nil
	case stencil.TargetFuncAddr:
		if op.IsFuncCall() {
			return uint64(step.Func().FnAddr), nil
		}
		fc, err := s.fcinfo()
		if err != nil {
			return 0, err
		}
		return uint64(fc.FnAddr), nil
	case stencil.TargetFuncArg:
		fc, err := s.fcinfo()
		if err != nil {
			return 0, err
		}
		if int64(s.argno) >= fc.Nargs {
			return 0, errors.Newf("argument %d of %d", s.argno, fc.Nargs)
		}
		return uint64(fc.ArgAddr(s.argno)), nil
	case stencil.TargetPertrans:
		return uint64(step.AggTrans().Pertrans), nil
	case stencil.TargetAggArgs:
		return uint64(step.StrictInputCheck().Args), nil
	case stencil.TargetBoolAnyNull:
		return uint64(step.BoolExpr().AnyNull), nil
	}
	return 0, errors.AssertionFailedf("unsupported patch target %s", target)
}
