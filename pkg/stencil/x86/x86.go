// Package x86 builds the amd64 stencil table.
//
// Every stencil is entered with the expression state in RDI, the
// expression context in RSI and the result null pointer in RDX, and must
// leave those three intact when it jumps on. Only RAX, RCX and R8-R11 are
// scratch. Stencils end in a patched jmp rel32 to the next stencil; DONE
// returns to the caller instead.
package x86

import (
	"fmt"
	"sync"

	"copyjit/pkg/codegen/amd64"
	"copyjit/pkg/expr"
	"copyjit/pkg/stencil"
)

const (
	rState    = amd64.RDI
	rEcontext = amd64.RSI
	rIsNull   = amd64.RDX
)

func disp(off uintptr) int32 { return int32(off) }

func argValue(i int) int32 {
	return int32(expr.FcinfoArgsOffset + uintptr(i)*expr.NullableDatumSize + expr.NullableValueOffset)
}

func argNull(i int) int32 {
	return int32(expr.FcinfoArgsOffset + uintptr(i)*expr.NullableDatumSize + expr.NullableIsNullOffset)
}

func build(name string, emit func(a *amd64.Assembler)) *stencil.Stencil {
	a := amd64.New()
	emit(a)
	s, err := a.Stencil(name)
	if err != nil {
		panic(fmt.Sprintf("x86 stencil %s: %v", name, err))
	}
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}

// storeValue and storeNull write through the step's result pointers,
// clobbering RCX.
func storeValue(a *amd64.Assembler, value amd64.Reg) {
	a.HoleImm64(amd64.RCX, stencil.TargetStepResvalue, 0)
	a.MovMemReg64(amd64.RCX, 0, value)
}

func storeNull(a *amd64.Assembler, isnull amd64.Reg) {
	a.HoleImm64(amd64.RCX, stencil.TargetStepResnull, 0)
	a.MovMem8Reg(amd64.RCX, 0, isnull)
}

func storeNullImm(a *amd64.Assembler, isnull byte) {
	a.HoleImm64(amd64.RCX, stencil.TargetStepResnull, 0)
	a.MovMem8Imm(amd64.RCX, 0, isnull)
}

// callSaved calls the routine in RAX with argument in RDI, keeping the
// stencil registers and the extra regs across the call.
func callSaved(a *amd64.Assembler, keep ...amd64.Reg) {
	saved := append([]amd64.Reg{rState, rEcontext, rIsNull}, keep...)
	for _, r := range saved {
		a.Push(r)
	}
	if len(keep) > 0 {
		a.MovRegReg(amd64.RDI, keep[0])
	}
	a.CallReg(amd64.RAX)
	for i := len(saved) - 1; i >= 0; i-- {
		a.Pop(saved[i])
	}
}

func done(a *amd64.Assembler) {
	a.MovRegMem8(amd64.RAX, rState, disp(expr.StateResnullOffset))
	a.MovMem8Reg(rIsNull, 0, amd64.RAX)
	a.MovRegMem64(amd64.RAX, rState, disp(expr.StateResvalueOffset))
	a.Ret()
}

func constGeneric(a *amd64.Assembler) {
	a.HoleImm64(amd64.RAX, stencil.TargetConstValue, 0)
	storeValue(a, amd64.RAX)
	a.HoleImm64(amd64.RAX, stencil.TargetConstIsNull, 0)
	storeNull(a, amd64.RAX)
	a.HoleJump(stencil.TargetNext)
}

func constFixed(isnull byte) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		a.HoleImm64(amd64.RAX, stencil.TargetConstValue, 0)
		storeValue(a, amd64.RAX)
		storeNullImm(a, isnull)
		a.HoleJump(stencil.TargetNext)
	}
}

func assignTmp(a *amd64.Assembler) {
	a.HoleImm64(amd64.RAX, stencil.TargetResultSlotValue, 0)
	a.MovRegMem64(amd64.RCX, rState, disp(expr.StateResvalueOffset))
	a.MovMemReg64(amd64.RAX, 0, amd64.RCX)
	a.HoleImm64(amd64.RAX, stencil.TargetResultSlotIsNull, 0)
	a.MovRegMem8(amd64.RCX, rState, disp(expr.StateResnullOffset))
	a.MovMem8Reg(amd64.RAX, 0, amd64.RCX)
	a.HoleJump(stencil.TargetNext)
}

func funcExpr(a *amd64.Assembler) {
	a.HoleImm64(amd64.R8, stencil.TargetFcinfo, 0)
	a.MovMem8Imm(amd64.R8, disp(expr.FcinfoIsNullOffset), 0)
	a.HoleImm64(amd64.RAX, stencil.TargetFuncAddr, 0)
	callSaved(a, amd64.R8)
	storeValue(a, amd64.RAX)
	a.MovRegMem8(amd64.RAX, amd64.R8, disp(expr.FcinfoIsNullOffset))
	storeNull(a, amd64.RAX)
	a.HoleJump(stencil.TargetNext)
}

// strictInt4 inlines a strict two argument int4 comparison.
func strictInt4(cond amd64.Cond) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		null := a.NewLabel()
		a.HoleImm64(amd64.R8, stencil.TargetFcinfo, 0)
		a.CmpMem8Imm(amd64.R8, argNull(0), 0)
		a.Jcc(amd64.CondNE, null)
		a.CmpMem8Imm(amd64.R8, argNull(1), 0)
		a.Jcc(amd64.CondNE, null)
		a.MovRegMem32(amd64.RAX, amd64.R8, argValue(0))
		a.CmpRegMem32(amd64.RAX, amd64.R8, argValue(1))
		a.Setcc(cond, amd64.RAX)
		a.MovzxRegReg8(amd64.RAX, amd64.RAX)
		storeValue(a, amd64.RAX)
		storeNullImm(a, 0)
		a.HoleJump(stencil.TargetNext)
		a.Bind(null)
		storeNullImm(a, 1)
		a.HoleJump(stencil.TargetNext)
	}
}

// strictChecker tests one argument. A null argument makes the result null
// and skips the call; otherwise control continues with the next fragment.
func strictChecker(a *amd64.Assembler) {
	null := a.NewLabel()
	a.HoleImm64(amd64.RAX, stencil.TargetFuncArg, int64(expr.NullableIsNullOffset))
	a.CmpMem8Imm(amd64.RAX, 0, 0)
	a.Jcc(amd64.CondNE, null)
	a.HoleJump(stencil.TargetNext)
	a.Bind(null)
	storeNullImm(a, 1)
	a.HoleJump(stencil.TargetForceNext)
}

func funcUsage(a *amd64.Assembler) {
	a.HoleImm64(amd64.RAX, stencil.TargetFuncUsage, 0)
	a.LockIncMem64(amd64.RAX, 0)
	a.HoleJump(stencil.TargetNext)
}

// loadResult loads the step's result pointers: R8 = resnull, R9 = resvalue.
func loadResult(a *amd64.Assembler) {
	a.HoleImm64(amd64.R8, stencil.TargetStepResnull, 0)
	a.HoleImm64(amd64.R9, stencil.TargetStepResvalue, 0)
}

func qual(a *amd64.Assembler) {
	fail := a.NewLabel()
	loadResult(a)
	a.CmpMem8Imm(amd64.R8, 0, 0)
	a.Jcc(amd64.CondNE, fail)
	a.CmpMem64Imm8(amd64.R9, 0, 0)
	a.Jcc(amd64.CondE, fail)
	a.HoleJump(stencil.TargetNext)
	a.Bind(fail)
	a.MovMem8Imm(amd64.R8, 0, 0)
	a.MovMemImm32(amd64.R9, 0, 0)
	a.HoleJump(stencil.TargetJumpDone)
}

func slotOffset(op expr.Opcode) int32 {
	switch op {
	case expr.OpInnerFetchsome, expr.OpInnerVar, expr.OpAssignInnerVar:
		return disp(expr.EcxtInnerTupleOffset)
	case expr.OpOuterFetchsome, expr.OpOuterVar, expr.OpAssignOuterVar:
		return disp(expr.EcxtOuterTupleOffset)
	}
	return disp(expr.EcxtScanTupleOffset)
}

func fetchSome(op expr.Opcode) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		a.Push(rState)
		a.Push(rEcontext)
		a.Push(rIsNull)
		a.MovRegMem64(amd64.RDI, rEcontext, slotOffset(op))
		a.HoleImm64(amd64.RSI, stencil.TargetLastVar, 0)
		a.HoleImm64(amd64.RAX, stencil.TargetHelperGetSomeAttrs, 0)
		a.CallReg(amd64.RAX)
		a.Pop(rIsNull)
		a.Pop(rEcontext)
		a.Pop(rState)
		a.HoleJump(stencil.TargetNext)
	}
}

// loadAttr leaves values[attnum] in R9 and isnull[attnum] in R11.
func loadAttr(a *amd64.Assembler, op expr.Opcode) {
	a.MovRegMem64(amd64.RAX, rEcontext, slotOffset(op))
	a.HoleImm64(amd64.RCX, stencil.TargetAttnum, 0)
	a.MovRegMem64(amd64.R8, amd64.RAX, disp(expr.SlotValuesOffset))
	a.MovRegMemIdx64(amd64.R9, amd64.R8, amd64.RCX)
	a.MovRegMem64(amd64.R8, amd64.RAX, disp(expr.SlotIsNullOffset))
	a.MovRegMemIdx8(amd64.R11, amd64.R8, amd64.RCX)
}

func scanVar(op expr.Opcode) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		loadAttr(a, op)
		a.HoleImm64(amd64.R10, stencil.TargetStepResvalue, 0)
		a.MovMemReg64(amd64.R10, 0, amd64.R9)
		a.HoleImm64(amd64.R10, stencil.TargetStepResnull, 0)
		a.MovMem8Reg(amd64.R10, 0, amd64.R11)
		a.HoleJump(stencil.TargetNext)
	}
}

func assignVar(op expr.Opcode) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		loadAttr(a, op)
		a.HoleImm64(amd64.R10, stencil.TargetResultSlotValue, 0)
		a.MovMemReg64(amd64.R10, 0, amd64.R9)
		a.HoleImm64(amd64.R10, stencil.TargetResultSlotIsNull, 0)
		a.MovMem8Reg(amd64.R10, 0, amd64.R11)
		a.HoleJump(stencil.TargetNext)
	}
}

func nullTest(negate bool) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		loadResult(a)
		a.MovRegMem8(amd64.RAX, amd64.R8, 0)
		if negate {
			a.XorRegImm8(amd64.RAX, 1)
		}
		a.MovMemReg64(amd64.R9, 0, amd64.RAX)
		a.MovMem8Imm(amd64.R8, 0, 0)
		a.HoleJump(stencil.TargetNext)
	}
}

func caseTestval(a *amd64.Assembler) {
	a.MovRegMem64(amd64.RAX, rEcontext, disp(expr.EcxtCaseValueOffset))
	storeValue(a, amd64.RAX)
	a.MovRegMem8(amd64.RAX, rEcontext, disp(expr.EcxtCaseIsNullOffset))
	storeNull(a, amd64.RAX)
	a.HoleJump(stencil.TargetNext)
}

func caseTestvalExt(a *amd64.Assembler) {
	a.HoleImm64(amd64.R8, stencil.TargetCaseValue, 0)
	a.MovRegMem64(amd64.RAX, amd64.R8, 0)
	storeValue(a, amd64.RAX)
	a.HoleImm64(amd64.R8, stencil.TargetCaseIsNull, 0)
	a.MovRegMem8(amd64.RAX, amd64.R8, 0)
	storeNull(a, amd64.RAX)
	a.HoleJump(stencil.TargetNext)
}

func jump(a *amd64.Assembler) {
	a.HoleJump(stencil.TargetJumpDone)
}

func jumpIfNotTrue(a *amd64.Assembler) {
	taken := a.NewLabel()
	loadResult(a)
	a.CmpMem8Imm(amd64.R8, 0, 0)
	a.Jcc(amd64.CondNE, taken)
	a.CmpMem64Imm8(amd64.R9, 0, 0)
	a.Jcc(amd64.CondE, taken)
	a.HoleJump(stencil.TargetNext)
	a.Bind(taken)
	a.HoleJump(stencil.TargetJumpDone)
}

// jumpOnNull jumps when the result's null flag equals whenNull.
func jumpOnNull(whenNull bool) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		taken := a.NewLabel()
		a.HoleImm64(amd64.R8, stencil.TargetStepResnull, 0)
		a.CmpMem8Imm(amd64.R8, 0, 0)
		if whenNull {
			a.Jcc(amd64.CondNE, taken)
		} else {
			a.Jcc(amd64.CondE, taken)
		}
		a.HoleJump(stencil.TargetNext)
		a.Bind(taken)
		a.HoleJump(stencil.TargetJumpDone)
	}
}

func boolNot(a *amd64.Assembler) {
	a.HoleImm64(amd64.R9, stencil.TargetStepResvalue, 0)
	a.CmpMem64Imm8(amd64.R9, 0, 0)
	a.Setcc(amd64.CondE, amd64.RAX)
	a.MovzxRegReg8(amd64.RAX, amd64.RAX)
	a.MovMemReg64(amd64.R9, 0, amd64.RAX)
	a.HoleJump(stencil.TargetNext)
}

// boolTest handles BOOLTEST_*: a null input becomes ifNull; a non-null input
// is kept, or inverted when invert is set.
func boolTest(ifNull int32, invert bool) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		notNull := a.NewLabel()
		loadResult(a)
		a.CmpMem8Imm(amd64.R8, 0, 0)
		a.Jcc(amd64.CondE, notNull)
		a.MovMemImm32(amd64.R9, 0, ifNull)
		a.MovMem8Imm(amd64.R8, 0, 0)
		a.HoleJump(stencil.TargetNext)
		a.Bind(notNull)
		if invert {
			a.CmpMem64Imm8(amd64.R9, 0, 0)
			a.Setcc(amd64.CondE, amd64.RAX)
			a.MovzxRegReg8(amd64.RAX, amd64.RAX)
			a.MovMemReg64(amd64.R9, 0, amd64.RAX)
		}
		a.HoleJump(stencil.TargetNext)
	}
}

// boolStep is one arm of an AND (shortOn false) or OR (shortOn true).
func boolStep(first, last, shortOn bool) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		notNull, cont, out := a.NewLabel(), a.NewLabel(), a.NewLabel()
		a.HoleImm64(amd64.R10, stencil.TargetBoolAnyNull, 0)
		if first {
			a.MovMem8Imm(amd64.R10, 0, 0)
		}
		loadResult(a)
		a.CmpMem8Imm(amd64.R8, 0, 0)
		a.Jcc(amd64.CondE, notNull)
		a.MovMem8Imm(amd64.R10, 0, 1)
		a.Jmp(cont)
		a.Bind(notNull)
		a.CmpMem64Imm8(amd64.R9, 0, 0)
		if shortOn {
			a.Jcc(amd64.CondE, cont)
		} else {
			a.Jcc(amd64.CondNE, cont)
		}
		a.HoleJump(stencil.TargetJumpDone)
		a.Bind(cont)
		if last {
			a.CmpMem8Imm(amd64.R10, 0, 0)
			a.Jcc(amd64.CondE, out)
			a.MovMemImm32(amd64.R9, 0, 0)
			a.MovMem8Imm(amd64.R8, 0, 1)
		}
		a.Bind(out)
		a.HoleJump(stencil.TargetNext)
	}
}

func distinct(isDistinct bool) func(a *amd64.Assembler) {
	var bothNull, oneNull int32 = 1, 0
	if isDistinct {
		bothNull, oneNull = 0, 1
	}
	return func(a *amd64.Assembler) {
		arg0NotNull, one, store := a.NewLabel(), a.NewLabel(), a.NewLabel()
		a.HoleImm64(amd64.R8, stencil.TargetFcinfo, 0)
		a.CmpMem8Imm(amd64.R8, argNull(0), 0)
		a.Jcc(amd64.CondE, arg0NotNull)
		a.CmpMem8Imm(amd64.R8, argNull(1), 0)
		a.Jcc(amd64.CondE, one)
		a.MovRegImm32(amd64.RAX, uint32(bothNull))
		a.Jmp(store)

		a.Bind(arg0NotNull)
		a.CmpMem8Imm(amd64.R8, argNull(1), 0)
		a.Jcc(amd64.CondNE, one)
		a.MovMem8Imm(amd64.R8, disp(expr.FcinfoIsNullOffset), 0)
		a.HoleImm64(amd64.RAX, stencil.TargetFuncAddr, 0)
		callSaved(a, amd64.R8)
		if isDistinct {
			a.TestRegReg(amd64.RAX, amd64.RAX)
			a.Setcc(amd64.CondE, amd64.RAX)
			a.MovzxRegReg8(amd64.RAX, amd64.RAX)
		}
		storeValue(a, amd64.RAX)
		a.MovRegMem8(amd64.RAX, amd64.R8, disp(expr.FcinfoIsNullOffset))
		storeNull(a, amd64.RAX)
		a.HoleJump(stencil.TargetNext)

		a.Bind(one)
		a.MovRegImm32(amd64.RAX, uint32(oneNull))
		a.Bind(store)
		storeValue(a, amd64.RAX)
		storeNullImm(a, 0)
		a.HoleJump(stencil.TargetNext)
	}
}

// param loads a NullableDatum from a context array. Extern ids are
// 1-based. An id outside the array is a host bug; the step then yields
// NULL instead of reading past the array.
func param(base, count uintptr, oneBased bool) func(a *amd64.Assembler) {
	bias := int32(0)
	if oneBased {
		bias = -int32(expr.NullableDatumSize)
	}
	return func(a *amd64.Assembler) {
		missing := a.NewLabel()
		a.HoleImm64(amd64.RCX, stencil.TargetParamID, 0)
		a.MovRegReg(amd64.R10, amd64.RCX)
		if oneBased {
			a.AddRegImm32(amd64.R10, -1)
		}
		a.CmpRegMem64(amd64.R10, rEcontext, disp(count))
		a.Jcc(amd64.CondAE, missing)

		a.MovRegMem64(amd64.RAX, rEcontext, disp(base))
		a.ShlRegImm8(amd64.RCX, 4)
		a.AddRegReg(amd64.RAX, amd64.RCX)
		a.MovRegMem64(amd64.R8, amd64.RAX, bias+disp(expr.NullableValueOffset))
		a.HoleImm64(amd64.R9, stencil.TargetStepResvalue, 0)
		a.MovMemReg64(amd64.R9, 0, amd64.R8)
		a.MovRegMem8(amd64.R8, amd64.RAX, bias+disp(expr.NullableIsNullOffset))
		a.HoleImm64(amd64.R9, stencil.TargetStepResnull, 0)
		a.MovMem8Reg(amd64.R9, 0, amd64.R8)
		a.HoleJump(stencil.TargetNext)

		a.Bind(missing)
		a.HoleImm64(amd64.R9, stencil.TargetStepResvalue, 0)
		a.MovMemImm32(amd64.R9, 0, 0)
		a.HoleImm64(amd64.R9, stencil.TargetStepResnull, 0)
		a.MovMem8Imm(amd64.R9, 0, 1)
		a.HoleJump(stencil.TargetNext)
	}
}

func aggref(a *amd64.Assembler) {
	a.HoleImm64(amd64.RCX, stencil.TargetAggno, 0)
	a.MovRegMem64(amd64.RAX, rEcontext, disp(expr.EcxtAggValuesOffset))
	a.MovRegMemIdx64(amd64.R8, amd64.RAX, amd64.RCX)
	a.HoleImm64(amd64.R9, stencil.TargetStepResvalue, 0)
	a.MovMemReg64(amd64.R9, 0, amd64.R8)
	a.MovRegMem64(amd64.RAX, rEcontext, disp(expr.EcxtAggNullsOffset))
	a.MovRegMemIdx8(amd64.R8, amd64.RAX, amd64.RCX)
	a.HoleImm64(amd64.R9, stencil.TargetStepResnull, 0)
	a.MovMem8Reg(amd64.R9, 0, amd64.R8)
	a.HoleJump(stencil.TargetNext)
}

func pergroupNullcheck(a *amd64.Assembler) {
	present := a.NewLabel()
	a.MovRegMem64(amd64.RAX, rState, disp(expr.StateParentOffset))
	a.MovRegMem64(amd64.RAX, amd64.RAX, disp(expr.AggAllPergroupsOffset))
	a.HoleImm64(amd64.RCX, stencil.TargetSetoff, 0)
	a.MovRegMemIdx64(amd64.RAX, amd64.RAX, amd64.RCX)
	a.TestRegReg(amd64.RAX, amd64.RAX)
	a.Jcc(amd64.CondNE, present)
	a.HoleJump(stencil.TargetJumpNull)
	a.Bind(present)
	a.HoleJump(stencil.TargetNext)
}

func strictInputCheck(a *amd64.Assembler) {
	loop, null, ok := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.HoleImm64(amd64.RAX, stencil.TargetAggArgs, 0)
	a.HoleImm64(amd64.RCX, stencil.TargetNargs, 0)
	a.Bind(loop)
	a.TestRegReg(amd64.RCX, amd64.RCX)
	a.Jcc(amd64.CondE, ok)
	a.CmpMem8Imm(amd64.RAX, disp(expr.NullableIsNullOffset), 0)
	a.Jcc(amd64.CondNE, null)
	a.AddRegImm32(amd64.RAX, int32(expr.NullableDatumSize))
	a.AddRegImm32(amd64.RCX, -1)
	a.Jmp(loop)
	a.Bind(ok)
	a.HoleJump(stencil.TargetNext)
	a.Bind(null)
	a.HoleJump(stencil.TargetJumpNull)
}

// aggTrans advances one by-value transition state:
// RCX = &all_pergroups[setoff][transno], RAX = aggstate. A set without
// pergroup state is a host bug; the step is then skipped.
func aggTrans(op expr.Opcode) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		call, present := a.NewLabel(), a.NewLabel()
		a.MovRegMem64(amd64.RAX, rState, disp(expr.StateParentOffset))
		a.MovRegMem64(amd64.RCX, amd64.RAX, disp(expr.AggAllPergroupsOffset))
		a.HoleImm64(amd64.R8, stencil.TargetSetoff, 0)
		a.MovRegMemIdx64(amd64.RCX, amd64.RCX, amd64.R8)
		a.TestRegReg(amd64.RCX, amd64.RCX)
		a.Jcc(amd64.CondNE, present)
		a.HoleJump(stencil.TargetNext)
		a.Bind(present)
		a.HoleImm64(amd64.R8, stencil.TargetTransno, 0)
		a.ShlRegImm8(amd64.R8, 4)
		a.AddRegReg(amd64.RCX, amd64.R8)

		switch op {
		case expr.OpAggPlainTransInitStrictByval:
			initialized := a.NewLabel()
			a.CmpMem8Imm(amd64.RCX, disp(expr.PerGroupNoTransValueOffset), 0)
			a.Jcc(amd64.CondE, initialized)
			a.HoleImm64(amd64.R9, stencil.TargetFcinfo, 0)
			a.MovRegMem64(amd64.R10, amd64.R9, argValue(1))
			a.MovMemReg64(amd64.RCX, disp(expr.PerGroupTransValueOffset), amd64.R10)
			a.MovMem8Imm(amd64.RCX, disp(expr.PerGroupTransIsNullOffset), 0)
			a.MovMem8Imm(amd64.RCX, disp(expr.PerGroupNoTransValueOffset), 0)
			a.HoleJump(stencil.TargetNext)
			a.Bind(initialized)
			fallthrough
		case expr.OpAggPlainTransStrictByval:
			a.CmpMem8Imm(amd64.RCX, disp(expr.PerGroupTransIsNullOffset), 0)
			a.Jcc(amd64.CondE, call)
			a.HoleJump(stencil.TargetNext)
		}

		a.Bind(call)
		a.HoleImm64(amd64.R8, stencil.TargetSetno, 0)
		a.MovMemReg64(amd64.RAX, disp(expr.AggCurrentSetOffset), amd64.R8)
		a.HoleImm64(amd64.R8, stencil.TargetPertrans, 0)
		a.MovMemReg64(amd64.RAX, disp(expr.AggCurPertransOffset), amd64.R8)

		a.HoleImm64(amd64.R9, stencil.TargetFcinfo, 0)
		a.MovRegMem64(amd64.R10, amd64.RCX, disp(expr.PerGroupTransValueOffset))
		a.MovMemReg64(amd64.R9, argValue(0), amd64.R10)
		a.MovRegMem8(amd64.R10, amd64.RCX, disp(expr.PerGroupTransIsNullOffset))
		a.MovMem8Reg(amd64.R9, argNull(0), amd64.R10)
		a.MovMem8Imm(amd64.R9, disp(expr.FcinfoIsNullOffset), 0)

		a.HoleImm64(amd64.RAX, stencil.TargetFuncAddr, 0)
		callSaved(a, amd64.R9, amd64.RCX)
		a.MovMemReg64(amd64.RCX, disp(expr.PerGroupTransValueOffset), amd64.RAX)
		a.MovRegMem8(amd64.R10, amd64.R9, disp(expr.FcinfoIsNullOffset))
		a.MovMem8Reg(amd64.RCX, disp(expr.PerGroupTransIsNullOffset), amd64.R10)
		a.HoleJump(stencil.TargetNext)
	}
}

func newTable() *stencil.Table {
	t := stencil.NewTable(stencil.ArchAMD64)
	add := func(op expr.Opcode, emit func(a *amd64.Assembler)) {
		t.Add(op, build(op.String(), emit))
	}

	add(expr.OpDone, done)
	add(expr.OpConst, constGeneric)
	add(expr.OpAssignTmp, assignTmp)
	add(expr.OpAssignTmpMakeRo, assignTmp)
	add(expr.OpFuncexpr, funcExpr)
	add(expr.OpQual, qual)
	for _, op := range []expr.Opcode{expr.OpScanFetchsome, expr.OpInnerFetchsome, expr.OpOuterFetchsome} {
		add(op, fetchSome(op))
	}
	for _, op := range []expr.Opcode{expr.OpScanVar, expr.OpInnerVar, expr.OpOuterVar} {
		add(op, scanVar(op))
	}
	for _, op := range []expr.Opcode{expr.OpAssignScanVar, expr.OpAssignInnerVar, expr.OpAssignOuterVar} {
		add(op, assignVar(op))
	}
	add(expr.OpNulltestIsnull, nullTest(false))
	add(expr.OpNulltestIsnotnull, nullTest(true))
	add(expr.OpCaseTestval, caseTestval)
	add(expr.OpJump, jump)
	add(expr.OpJumpIfNotTrue, jumpIfNotTrue)
	add(expr.OpJumpIfNull, jumpOnNull(true))
	add(expr.OpJumpIfNotNull, jumpOnNull(false))
	add(expr.OpBoolNotStep, boolNot)
	add(expr.OpBooltestIsTrue, boolTest(0, false))
	add(expr.OpBooltestIsNotFalse, boolTest(1, false))
	add(expr.OpBooltestIsFalse, boolTest(0, true))
	add(expr.OpBooltestIsNotTrue, boolTest(1, true))
	add(expr.OpBoolAndStepFirst, boolStep(true, false, false))
	add(expr.OpBoolAndStep, boolStep(false, false, false))
	add(expr.OpBoolAndStepLast, boolStep(false, true, false))
	add(expr.OpBoolOrStepFirst, boolStep(true, false, true))
	add(expr.OpBoolOrStep, boolStep(false, false, true))
	add(expr.OpBoolOrStepLast, boolStep(false, true, true))
	add(expr.OpDistinct, distinct(true))
	add(expr.OpNotDistinct, distinct(false))
	add(expr.OpParamExec, param(expr.EcxtExecParamsOffset, expr.EcxtNExecParamsOffset, false))
	add(expr.OpParamExtern, param(expr.EcxtParamsOffset, expr.EcxtNParamsOffset, true))
	add(expr.OpAggref, aggref)
	add(expr.OpAggPlainPergroupNullcheck, pergroupNullcheck)
	add(expr.OpAggStrictInputCheckArgs, strictInputCheck)
	for _, op := range []expr.Opcode{expr.OpAggPlainTransInitStrictByval, expr.OpAggPlainTransStrictByval, expr.OpAggPlainTransByval} {
		add(op, aggTrans(op))
	}

	t.AddFragment(stencil.FragConstNull, build(stencil.FragConstNull, constFixed(1)))
	t.AddFragment(stencil.FragConstNotNull, build(stencil.FragConstNotNull, constFixed(0)))
	t.AddFragment(stencil.FragCaseTestvalExt, build(stencil.FragCaseTestvalExt, caseTestvalExt))
	t.AddFragment(stencil.FragStrictChecker, build(stencil.FragStrictChecker, strictChecker))
	t.AddFragment(stencil.FragFuncUsage, build(stencil.FragFuncUsage, funcUsage))

	t.AddStrict("int4eq", build("int4eq", strictInt4(amd64.CondE)))
	t.AddStrict("int4lt", build("int4lt", strictInt4(amd64.CondL)))
	return t
}

var (
	tableOnce sync.Once
	table     *stencil.Table
)

// Table returns the amd64 stencil table, building it on first use.
func Table() *stencil.Table {
	tableOnce.Do(func() { table = newTable() })
	return table
}
