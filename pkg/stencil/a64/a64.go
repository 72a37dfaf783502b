// Package a64 builds the arm64 stencil table. It covers the scan, assign,
// constant, call and control-flow opcodes; everything else stays with the
// interpreter on arm64.
//
// Stencils are entered with the state in X0, the context in X1 and the
// result null pointer in X2. X9-X15 are scratch and X16/X17 belong to the
// branch trampolines. Stencils that call out save X0-X2 and the link
// register, which DONE returns through.
package a64

import (
	"fmt"
	"sync"

	"copyjit/pkg/codegen/arm64"
	"copyjit/pkg/expr"
	"copyjit/pkg/stencil"
)

const (
	rState    = arm64.X0
	rEcontext = arm64.X1
	rIsNull   = arm64.X2
)

func u(off uintptr) uint32 { return uint32(off) }

func build(name string, emit func(a *arm64.Assembler)) *stencil.Stencil {
	a := arm64.New()
	emit(a)
	s, err := a.Stencil(name)
	if err != nil {
		panic(fmt.Sprintf("a64 stencil %s: %v", name, err))
	}
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}

func save(a *arm64.Assembler) {
	a.SubSP(32)
	a.Stp(rState, rEcontext, arm64.SP, 0)
	a.Stp(rIsNull, arm64.X30, arm64.SP, 16)
}

func restore(a *arm64.Assembler) {
	a.Ldp(rState, rEcontext, arm64.SP, 0)
	a.Ldp(rIsNull, arm64.X30, arm64.SP, 16)
	a.AddSP(32)
}

func done(a *arm64.Assembler) {
	a.Ldrb(arm64.X9, rState, u(expr.StateResnullOffset))
	a.Strb(arm64.X9, rIsNull, 0)
	a.Ldr(arm64.X0, rState, u(expr.StateResvalueOffset))
	a.Ret()
}

// constant stores the value and either the patched null flag or a fixed one.
func constant(isnull int) func(a *arm64.Assembler) {
	return func(a *arm64.Assembler) {
		a.HoleImm64(arm64.X9, stencil.TargetConstValue, 0)
		a.HoleImm64(arm64.X10, stencil.TargetStepResvalue, 0)
		a.Str(arm64.X9, arm64.X10, 0)
		if isnull < 0 {
			a.HoleImm64(arm64.X9, stencil.TargetConstIsNull, 0)
		} else {
			a.MovZW(arm64.X9, uint16(isnull))
		}
		a.HoleImm64(arm64.X10, stencil.TargetStepResnull, 0)
		a.Strb(arm64.X9, arm64.X10, 0)
		a.HoleB(stencil.TargetNext)
	}
}

func assignTmp(a *arm64.Assembler) {
	a.HoleImm64(arm64.X9, stencil.TargetResultSlotValue, 0)
	a.Ldr(arm64.X10, rState, u(expr.StateResvalueOffset))
	a.Str(arm64.X10, arm64.X9, 0)
	a.HoleImm64(arm64.X9, stencil.TargetResultSlotIsNull, 0)
	a.Ldrb(arm64.X10, rState, u(expr.StateResnullOffset))
	a.Strb(arm64.X10, arm64.X9, 0)
	a.HoleB(stencil.TargetNext)
}

func slotOffset(op expr.Opcode) uint32 {
	switch op {
	case expr.OpInnerFetchsome, expr.OpInnerVar, expr.OpAssignInnerVar:
		return u(expr.EcxtInnerTupleOffset)
	case expr.OpOuterFetchsome, expr.OpOuterVar, expr.OpAssignOuterVar:
		return u(expr.EcxtOuterTupleOffset)
	}
	return u(expr.EcxtScanTupleOffset)
}

func fetchSome(op expr.Opcode) func(a *arm64.Assembler) {
	return func(a *arm64.Assembler) {
		save(a)
		a.Ldr(arm64.X0, rEcontext, slotOffset(op))
		a.HoleImm64(arm64.X1, stencil.TargetLastVar, 0)
		a.HoleBL(stencil.TargetHelperGetSomeAttrs)
		restore(a)
		a.HoleB(stencil.TargetNext)
	}
}

// loadAttr leaves values[attnum] in X12 and isnull[attnum] in W13.
func loadAttr(a *arm64.Assembler, op expr.Opcode) {
	a.Ldr(arm64.X9, rEcontext, slotOffset(op))
	a.HoleImm64(arm64.X10, stencil.TargetAttnum, 0)
	a.Ldr(arm64.X11, arm64.X9, u(expr.SlotValuesOffset))
	a.LdrIdx(arm64.X12, arm64.X11, arm64.X10)
	a.Ldr(arm64.X11, arm64.X9, u(expr.SlotIsNullOffset))
	a.LdrbIdx(arm64.X13, arm64.X11, arm64.X10)
}

func storeAttr(value, isnull stencil.TargetKind) func(a *arm64.Assembler) {
	return func(a *arm64.Assembler) {
		a.HoleImm64(arm64.X14, value, 0)
		a.Str(arm64.X12, arm64.X14, 0)
		a.HoleImm64(arm64.X14, isnull, 0)
		a.Strb(arm64.X13, arm64.X14, 0)
		a.HoleB(stencil.TargetNext)
	}
}

func scanVar(op expr.Opcode) func(a *arm64.Assembler) {
	return func(a *arm64.Assembler) {
		loadAttr(a, op)
		storeAttr(stencil.TargetStepResvalue, stencil.TargetStepResnull)(a)
	}
}

func assignVar(op expr.Opcode) func(a *arm64.Assembler) {
	return func(a *arm64.Assembler) {
		loadAttr(a, op)
		storeAttr(stencil.TargetResultSlotValue, stencil.TargetResultSlotIsNull)(a)
	}
}

func funcExpr(a *arm64.Assembler) {
	a.HoleImm64(arm64.X9, stencil.TargetFcinfo, 0)
	a.Strb(arm64.XZR, arm64.X9, u(expr.FcinfoIsNullOffset))
	save(a)
	a.MovReg(arm64.X0, arm64.X9)
	a.HoleImm64(arm64.X10, stencil.TargetFuncAddr, 0)
	a.Blr(arm64.X10)
	a.MovReg(arm64.X11, arm64.X0)
	restore(a)
	a.HoleImm64(arm64.X9, stencil.TargetFcinfo, 0)
	a.HoleImm64(arm64.X10, stencil.TargetStepResvalue, 0)
	a.Str(arm64.X11, arm64.X10, 0)
	a.Ldrb(arm64.X12, arm64.X9, u(expr.FcinfoIsNullOffset))
	a.HoleImm64(arm64.X10, stencil.TargetStepResnull, 0)
	a.Strb(arm64.X12, arm64.X10, 0)
	a.HoleB(stencil.TargetNext)
}

func strictChecker(a *arm64.Assembler) {
	null := a.NewLabel()
	a.HoleImm64(arm64.X9, stencil.TargetFuncArg, int64(expr.NullableIsNullOffset))
	a.Ldrb(arm64.X10, arm64.X9, 0)
	a.CbnzW(arm64.X10, null)
	a.HoleB(stencil.TargetNext)
	a.Bind(null)
	a.HoleImm64(arm64.X10, stencil.TargetStepResnull, 0)
	a.MovZW(arm64.X11, 1)
	a.Strb(arm64.X11, arm64.X10, 0)
	a.HoleB(stencil.TargetForceNext)
}

func jump(a *arm64.Assembler) {
	a.HoleB(stencil.TargetJumpDone)
}

func jumpIfNotTrue(a *arm64.Assembler) {
	taken := a.NewLabel()
	a.HoleImm64(arm64.X9, stencil.TargetStepResnull, 0)
	a.Ldrb(arm64.X10, arm64.X9, 0)
	a.CbnzW(arm64.X10, taken)
	a.HoleImm64(arm64.X9, stencil.TargetStepResvalue, 0)
	a.Ldr(arm64.X10, arm64.X9, 0)
	a.Cbz(arm64.X10, taken)
	a.HoleB(stencil.TargetNext)
	a.Bind(taken)
	a.HoleB(stencil.TargetJumpDone)
}

func qual(a *arm64.Assembler) {
	fail := a.NewLabel()
	a.HoleImm64(arm64.X9, stencil.TargetStepResnull, 0)
	a.HoleImm64(arm64.X11, stencil.TargetStepResvalue, 0)
	a.Ldrb(arm64.X10, arm64.X9, 0)
	a.CbnzW(arm64.X10, fail)
	a.Ldr(arm64.X10, arm64.X11, 0)
	a.Cbz(arm64.X10, fail)
	a.HoleB(stencil.TargetNext)
	a.Bind(fail)
	a.Strb(arm64.XZR, arm64.X9, 0)
	a.Str(arm64.XZR, arm64.X11, 0)
	a.HoleB(stencil.TargetJumpDone)
}

func nullTest(negate bool) func(a *arm64.Assembler) {
	return func(a *arm64.Assembler) {
		a.HoleImm64(arm64.X9, stencil.TargetStepResnull, 0)
		a.HoleImm64(arm64.X11, stencil.TargetStepResvalue, 0)
		a.Ldrb(arm64.X10, arm64.X9, 0)
		if negate {
			a.EorW1(arm64.X10, arm64.X10)
		}
		a.Str(arm64.X10, arm64.X11, 0)
		a.Strb(arm64.XZR, arm64.X9, 0)
		a.HoleB(stencil.TargetNext)
	}
}

func aggref(a *arm64.Assembler) {
	a.HoleImm64(arm64.X9, stencil.TargetAggno, 0)
	a.Ldr(arm64.X10, rEcontext, u(expr.EcxtAggValuesOffset))
	a.LdrIdx(arm64.X12, arm64.X10, arm64.X9)
	a.Ldr(arm64.X10, rEcontext, u(expr.EcxtAggNullsOffset))
	a.LdrbIdx(arm64.X13, arm64.X10, arm64.X9)
	storeAttr(stencil.TargetStepResvalue, stencil.TargetStepResnull)(a)
}

func newTable() *stencil.Table {
	t := stencil.NewTable(stencil.ArchARM64)
	add := func(op expr.Opcode, emit func(a *arm64.Assembler)) {
		t.Add(op, build(op.String(), emit))
	}

	add(expr.OpDone, done)
	add(expr.OpConst, constant(-1))
	add(expr.OpAssignTmp, assignTmp)
	add(expr.OpAssignTmpMakeRo, assignTmp)
	for _, op := range []expr.Opcode{expr.OpScanFetchsome, expr.OpInnerFetchsome, expr.OpOuterFetchsome} {
		add(op, fetchSome(op))
	}
	for _, op := range []expr.Opcode{expr.OpScanVar, expr.OpInnerVar, expr.OpOuterVar} {
		add(op, scanVar(op))
	}
	for _, op := range []expr.Opcode{expr.OpAssignScanVar, expr.OpAssignInnerVar, expr.OpAssignOuterVar} {
		add(op, assignVar(op))
	}
	add(expr.OpFuncexpr, funcExpr)
	add(expr.OpJump, jump)
	add(expr.OpJumpIfNotTrue, jumpIfNotTrue)
	add(expr.OpQual, qual)
	add(expr.OpNulltestIsnull, nullTest(false))
	add(expr.OpNulltestIsnotnull, nullTest(true))
	add(expr.OpAggref, aggref)

	t.AddFragment(stencil.FragConstNull, build(stencil.FragConstNull, constant(1)))
	t.AddFragment(stencil.FragConstNotNull, build(stencil.FragConstNotNull, constant(0)))
	t.AddFragment(stencil.FragStrictChecker, build(stencil.FragStrictChecker, strictChecker))
	return t
}

var (
	tableOnce sync.Once
	table     *stencil.Table
)

// Table returns the arm64 stencil table, building it on first use.
func Table() *stencil.Table {
	tableOnce.Do(func() { table = newTable() })
	return table
}
