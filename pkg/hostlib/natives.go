package hostlib

import (
	"copyjit/pkg/codegen/amd64"
	"copyjit/pkg/expr"
)

// Native routines follow the System V calling convention. Catalog
// functions take fcinfo in RDI and return the datum in RAX; they only
// touch caller-saved registers and never the stack.

func argDisp(i int) int32 {
	return int32(expr.FcinfoArgsOffset + uintptr(i)*expr.NullableDatumSize + expr.NullableValueOffset)
}

// emitGetSomeAttrs: slot_getsomeattrs(slot=RDI, n=RSI)
func emitGetSomeAttrs(a *amd64.Assembler) {
	loop, missing, next, done := a.NewLabel(), a.NewLabel(), a.NewLabel(), a.NewLabel()

	// n = min(n, natts)
	a.MovRegMem64(amd64.RAX, amd64.RDI, int32(expr.SlotNattsOffset))
	a.CmpRegReg(amd64.RSI, amd64.RAX)
	a.Cmov(amd64.CondG, amd64.RSI, amd64.RAX)

	a.MovRegMem64(amd64.RCX, amd64.RDI, int32(expr.SlotNvalidOffset))
	a.MovRegMem64(amd64.R8, amd64.RDI, int32(expr.SlotValuesOffset))
	a.MovRegMem64(amd64.R9, amd64.RDI, int32(expr.SlotIsNullOffset))
	a.MovRegMem64(amd64.R10, amd64.RDI, int32(expr.SlotTupleOffset))
	a.MovRegMem64(amd64.R11, amd64.RDI, int32(expr.SlotTupleNattsOffset))

	a.Bind(loop)
	a.CmpRegReg(amd64.RCX, amd64.RSI)
	a.Jcc(amd64.CondGE, done)
	a.CmpRegReg(amd64.RCX, amd64.R11)
	a.Jcc(amd64.CondGE, missing)

	// rax = &tuple[i]
	a.MovRegReg(amd64.RAX, amd64.RCX)
	a.ShlRegImm8(amd64.RAX, 4)
	a.AddRegReg(amd64.RAX, amd64.R10)
	a.MovRegMem64(amd64.RDX, amd64.RAX, int32(expr.NullableValueOffset))
	a.MovMemIdxReg64(amd64.R8, amd64.RCX, amd64.RDX)
	a.MovRegMem8(amd64.RDX, amd64.RAX, int32(expr.NullableIsNullOffset))
	a.MovMemIdx8Reg(amd64.R9, amd64.RCX, amd64.RDX)
	a.Jmp(next)

	a.Bind(missing)
	a.XorRegReg32(amd64.RDX, amd64.RDX)
	a.MovMemIdxReg64(amd64.R8, amd64.RCX, amd64.RDX)
	a.MovRegImm32(amd64.RDX, 1)
	a.MovMemIdx8Reg(amd64.R9, amd64.RCX, amd64.RDX)

	a.Bind(next)
	a.AddRegImm32(amd64.RCX, 1)
	a.Jmp(loop)

	// rcx is max(nvalid, n) here
	a.Bind(done)
	a.MovMemReg64(amd64.RDI, int32(expr.SlotNvalidOffset), amd64.RCX)
	a.Ret()
}

// int4 comparison: setcc on the low dwords of both arguments
func emitInt4Cmp(cond amd64.Cond) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		a.MovRegMem32(amd64.RAX, amd64.RDI, argDisp(0))
		a.CmpRegMem32(amd64.RAX, amd64.RDI, argDisp(1))
		a.Setcc(cond, amd64.RAX)
		a.MovzxRegReg8(amd64.RAX, amd64.RAX)
		a.Ret()
	}
}

func emitInt8Cmp(cond amd64.Cond) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		a.MovRegMem64(amd64.RAX, amd64.RDI, argDisp(0))
		a.CmpRegMem64(amd64.RAX, amd64.RDI, argDisp(1))
		a.Setcc(cond, amd64.RAX)
		a.MovzxRegReg8(amd64.RAX, amd64.RAX)
		a.Ret()
	}
}

// int4 arithmetic wraps in 32 bits and returns the sign-extended result
func emitInt4Arith(op func(a *amd64.Assembler)) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		a.MovRegMem32(amd64.RAX, amd64.RDI, argDisp(0))
		a.MovRegMem32(amd64.RCX, amd64.RDI, argDisp(1))
		op(a)
		a.MovsxdRegReg(amd64.RAX, amd64.RAX)
		a.Ret()
	}
}

func emitInt8Arith(op func(a *amd64.Assembler)) func(a *amd64.Assembler) {
	return func(a *amd64.Assembler) {
		a.MovRegMem64(amd64.RAX, amd64.RDI, argDisp(0))
		a.MovRegMem64(amd64.RCX, amd64.RDI, argDisp(1))
		op(a)
		a.Ret()
	}
}

func emitInt8Inc(a *amd64.Assembler) {
	a.MovRegMem64(amd64.RAX, amd64.RDI, argDisp(0))
	a.AddRegImm32(amd64.RAX, 1)
	a.Ret()
}

func emitInt84Pl(a *amd64.Assembler) {
	a.MovRegMem64(amd64.RAX, amd64.RDI, argDisp(0))
	a.MovsxdRegMem(amd64.RCX, amd64.RDI, argDisp(1))
	a.AddRegReg(amd64.RAX, amd64.RCX)
	a.Ret()
}

// nativeBodies are the catalog functions with a native implementation,
// keyed by catalog name.
var nativeBodies = map[string]func(a *amd64.Assembler){
	"int4eq": emitInt4Cmp(amd64.CondE),
	"int4ne": emitInt4Cmp(amd64.CondNE),
	"int4lt": emitInt4Cmp(amd64.CondL),
	"int4le": emitInt4Cmp(amd64.CondLE),
	"int4gt": emitInt4Cmp(amd64.CondG),
	"int4ge": emitInt4Cmp(amd64.CondGE),
	"int8eq": emitInt8Cmp(amd64.CondE),
	"int8lt": emitInt8Cmp(amd64.CondL),

	"int4pl":  emitInt4Arith(func(a *amd64.Assembler) { a.AddRegReg32(amd64.RAX, amd64.RCX) }),
	"int4mi":  emitInt4Arith(func(a *amd64.Assembler) { a.SubRegReg32(amd64.RAX, amd64.RCX) }),
	"int4mul": emitInt4Arith(func(a *amd64.Assembler) { a.IMulRegReg32(amd64.RAX, amd64.RCX) }),
	"int4larger": emitInt4Arith(func(a *amd64.Assembler) {
		a.CmpRegReg32(amd64.RAX, amd64.RCX)
		a.Cmov32(amd64.CondL, amd64.RAX, amd64.RCX)
	}),
	"int4smaller": emitInt4Arith(func(a *amd64.Assembler) {
		a.CmpRegReg32(amd64.RAX, amd64.RCX)
		a.Cmov32(amd64.CondG, amd64.RAX, amd64.RCX)
	}),

	"int8pl":  emitInt8Arith(func(a *amd64.Assembler) { a.AddRegReg(amd64.RAX, amd64.RCX) }),
	"int8mi":  emitInt8Arith(func(a *amd64.Assembler) { a.SubRegReg(amd64.RAX, amd64.RCX) }),
	"int8inc": emitInt8Inc,
	"int84pl": emitInt84Pl,
}
