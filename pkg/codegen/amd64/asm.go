// Package amd64 emits x86-64 machine code for stencils and host helpers.
package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"copyjit/pkg/stencil"
)

// Reg is a general purpose register number as encoded in ModR/M.
type Reg byte

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond is the low nibble shared by Jcc, SETcc and CMOVcc.
type Cond byte

const (
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondL  Cond = 0xC // signed <
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// ModR/M addressing modes, already shifted into bits 7:6.
const (
	modIndirect byte = 0x00
	modDisp8    byte = 0x40
	modDisp32   byte = 0x80
	modDirect   byte = 0xC0
)

// Label is a position inside the code being assembled.
type Label int

type fixup struct {
	at    int // offset of the rel32 field
	label Label
}

// Assembler appends x86-64 instructions to a growing byte slice. Jumps to
// labels are rel32 and resolved by Finish; holes are recorded as patches.
type Assembler struct {
	buf     []byte
	labels  []int
	fixups  []fixup
	patches []stencil.Patch
}

func New() *Assembler {
	return &Assembler{buf: make([]byte, 0, 128)}
}

// Offset is the number of bytes emitted so far.
func (a *Assembler) Offset() int {
	return len(a.buf)
}

func (a *Assembler) put(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *Assembler) imm32(v int32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(v))
}

func (a *Assembler) imm64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

// prefix emits the REX byte the operands need, if any. wide selects a
// 64-bit operand size. A register listed in low8 is used as a byte
// register, and SPL..DIL are only reachable with a REX present.
func (a *Assembler) prefix(wide bool, reg, index, rm Reg, low8 ...Reg) {
	var p byte
	if wide {
		p |= 0x08
	}
	if reg >= R8 {
		p |= 0x04
	}
	if index >= R8 {
		p |= 0x02
	}
	if rm >= R8 {
		p |= 0x01
	}
	force := false
	for _, r := range low8 {
		force = force || (r >= RSP && r < R8)
	}
	if p != 0 || force {
		a.put(0x40 | p)
	}
}

func modRM(mod byte, reg, rm Reg) byte {
	return mod | byte(reg&7)<<3 | byte(rm&7)
}

// mem emits the ModR/M, SIB and displacement of [base+disp]. RSP and R12
// as a base always take a SIB byte; RBP and R13 have no zero displacement
// form.
func (a *Assembler) mem(reg, base Reg, disp int32) {
	mod := modDisp32
	switch {
	case disp == 0 && base&7 != RBP:
		mod = modIndirect
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		mod = modDisp8
	}
	a.put(modRM(mod, reg, base))
	if base&7 == RSP {
		a.put(0x24)
	}
	switch mod {
	case modDisp8:
		a.put(byte(disp))
	case modDisp32:
		a.imm32(disp)
	}
}

// memIndex emits [base+index*scale]; scale is 1, 2, 4 or 8.
func (a *Assembler) memIndex(reg, base, index Reg, scale byte) {
	sib := byte(bits.TrailingZeros8(scale))<<6 | byte(index&7)<<3 | byte(base&7)
	if base&7 == RBP {
		a.put(modRM(modDisp8, reg, RSP), sib, 0)
		return
	}
	a.put(modRM(modIndirect, reg, RSP), sib)
}

// direct emits a register to register instruction.
func (a *Assembler) direct(wide bool, reg, rm Reg, opcode ...byte) {
	a.prefix(wide, reg, 0, rm)
	a.put(opcode...)
	a.put(modRM(modDirect, reg, rm))
}

// indirect emits an instruction with a [base+disp] operand.
func (a *Assembler) indirect(wide bool, reg, base Reg, disp int32, opcode ...byte) {
	a.prefix(wide, reg, 0, base)
	a.put(opcode...)
	a.mem(reg, base, disp)
}

// MovRegReg copies src into dst.
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.direct(true, src, dst, 0x89)
}

func (a *Assembler) MovRegImm64(reg Reg, imm uint64) {
	a.prefix(true, 0, 0, reg)
	a.put(0xB8 | byte(reg&7))
	a.imm64(imm)
}

// MovRegImm32 writes the 32-bit register, clearing the upper half.
func (a *Assembler) MovRegImm32(reg Reg, imm uint32) {
	a.prefix(false, 0, 0, reg)
	a.put(0xB8 | byte(reg&7))
	a.imm32(int32(imm))
}

// MovRegMem64 loads the quadword at base+disp.
func (a *Assembler) MovRegMem64(reg, base Reg, disp int32) {
	a.indirect(true, reg, base, disp, 0x8B)
}

// MovMemReg64 stores reg at base+disp.
func (a *Assembler) MovMemReg64(base Reg, disp int32, reg Reg) {
	a.indirect(true, reg, base, disp, 0x89)
}

// MovMemImm32 stores a sign-extended immediate as a quadword.
func (a *Assembler) MovMemImm32(base Reg, disp int32, imm int32) {
	a.indirect(true, 0, base, disp, 0xC7)
	a.imm32(imm)
}

// MovRegMem32 loads a doubleword, zero-extending it.
func (a *Assembler) MovRegMem32(reg, base Reg, disp int32) {
	a.indirect(false, reg, base, disp, 0x8B)
}

// MovRegMem8 is movzx reg, byte [base+disp].
func (a *Assembler) MovRegMem8(reg, base Reg, disp int32) {
	a.indirect(true, reg, base, disp, 0x0F, 0xB6)
}

// MovMem8Reg stores the low byte of reg.
func (a *Assembler) MovMem8Reg(base Reg, disp int32, reg Reg) {
	a.prefix(false, reg, 0, base, reg)
	a.put(0x88)
	a.mem(reg, base, disp)
}

func (a *Assembler) MovMem8Imm(base Reg, disp int32, imm byte) {
	a.indirect(false, 0, base, disp, 0xC6)
	a.put(imm)
}

// MovRegMemIdx64 loads the quadword at base+index*8.
func (a *Assembler) MovRegMemIdx64(reg, base, index Reg) {
	a.prefix(true, reg, index, base)
	a.put(0x8B)
	a.memIndex(reg, base, index, 8)
}

// MovMemIdxReg64 stores reg at base+index*8.
func (a *Assembler) MovMemIdxReg64(base, index, reg Reg) {
	a.prefix(true, reg, index, base)
	a.put(0x89)
	a.memIndex(reg, base, index, 8)
}

// MovRegMemIdx8 zero-extends the byte at base+index.
func (a *Assembler) MovRegMemIdx8(reg, base, index Reg) {
	a.prefix(true, reg, index, base)
	a.put(0x0F, 0xB6)
	a.memIndex(reg, base, index, 1)
}

// MovMemIdx8Reg stores the low byte of reg at base+index.
func (a *Assembler) MovMemIdx8Reg(base, index, reg Reg) {
	a.prefix(false, reg, index, base, reg)
	a.put(0x88)
	a.memIndex(reg, base, index, 1)
}

func (a *Assembler) AddRegReg(dst, src Reg) {
	a.direct(true, src, dst, 0x01)
}

// AddRegImm32 adds a sign-extended immediate, using the imm8 form when it
// fits.
func (a *Assembler) AddRegImm32(reg Reg, imm int32) {
	if imm >= math.MinInt8 && imm <= math.MaxInt8 {
		a.direct(true, 0, reg, 0x83)
		a.put(byte(imm))
		return
	}
	a.direct(true, 0, reg, 0x81)
	a.imm32(imm)
}

func (a *Assembler) SubRegReg(dst, src Reg) {
	a.direct(true, src, dst, 0x29)
}

func (a *Assembler) AddRegReg32(dst, src Reg) {
	a.direct(false, src, dst, 0x01)
}

func (a *Assembler) SubRegReg32(dst, src Reg) {
	a.direct(false, src, dst, 0x29)
}

// IMulRegReg32 multiplies the low halves, truncating to 32 bits.
func (a *Assembler) IMulRegReg32(dst, src Reg) {
	a.direct(false, dst, src, 0x0F, 0xAF)
}

// XorRegReg32 also clears the upper half of dst.
func (a *Assembler) XorRegReg32(dst, src Reg) {
	a.direct(false, src, dst, 0x31)
}

func (a *Assembler) XorRegImm8(reg Reg, imm int8) {
	a.direct(true, 6, reg, 0x83)
	a.put(byte(imm))
}

func (a *Assembler) ShlRegImm8(reg Reg, imm byte) {
	a.direct(true, 4, reg, 0xC1)
	a.put(imm)
}

// CmpRegReg sets flags for left - right.
func (a *Assembler) CmpRegReg(left, right Reg) {
	a.direct(true, right, left, 0x39)
}

func (a *Assembler) CmpRegReg32(left, right Reg) {
	a.direct(false, right, left, 0x39)
}

// CmpRegMem32 compares reg with the doubleword at base+disp.
func (a *Assembler) CmpRegMem32(reg, base Reg, disp int32) {
	a.indirect(false, reg, base, disp, 0x3B)
}

func (a *Assembler) CmpRegMem64(reg, base Reg, disp int32) {
	a.indirect(true, reg, base, disp, 0x3B)
}

// CmpMem8Imm compares the byte at base+disp with imm.
func (a *Assembler) CmpMem8Imm(base Reg, disp int32, imm byte) {
	a.indirect(false, 7, base, disp, 0x80)
	a.put(imm)
}

// CmpMem64Imm8 compares a quadword with a sign-extended imm8.
func (a *Assembler) CmpMem64Imm8(base Reg, disp int32, imm int8) {
	a.indirect(true, 7, base, disp, 0x83)
	a.put(byte(imm))
}

func (a *Assembler) TestRegReg(left, right Reg) {
	a.direct(true, right, left, 0x85)
}

// TestRegReg8 tests the low bytes.
func (a *Assembler) TestRegReg8(left, right Reg) {
	a.prefix(false, right, 0, left, right)
	a.put(0x84, modRM(modDirect, right, left))
}

// Setcc writes 1 or 0 to the low byte of reg.
func (a *Assembler) Setcc(cond Cond, reg Reg) {
	a.prefix(false, 0, 0, reg, reg)
	a.put(0x0F, 0x90|byte(cond), modRM(modDirect, 0, reg))
}

func (a *Assembler) Cmov32(cond Cond, dst, src Reg) {
	a.direct(false, dst, src, 0x0F, 0x40|byte(cond))
}

func (a *Assembler) Cmov(cond Cond, dst, src Reg) {
	a.direct(true, dst, src, 0x0F, 0x40|byte(cond))
}

// MovzxRegReg8 zero-extends the low byte of src into dst.
func (a *Assembler) MovzxRegReg8(dst, src Reg) {
	a.direct(true, dst, src, 0x0F, 0xB6)
}

// MovsxdRegReg sign-extends the low half of src into dst.
func (a *Assembler) MovsxdRegReg(dst, src Reg) {
	a.direct(true, dst, src, 0x63)
}

func (a *Assembler) MovsxdRegMem(reg, base Reg, disp int32) {
	a.indirect(true, reg, base, disp, 0x63)
}

// LockIncMem64 atomically increments the quadword at base+disp.
func (a *Assembler) LockIncMem64(base Reg, disp int32) {
	a.put(0xF0)
	a.indirect(true, 0, base, disp, 0xFF)
}

func (a *Assembler) CallReg(reg Reg) {
	a.direct(false, 2, reg, 0xFF)
}

func (a *Assembler) JmpReg(reg Reg) {
	a.direct(false, 4, reg, 0xFF)
}

func (a *Assembler) Ret() {
	a.put(0xC3)
}

func (a *Assembler) Push(reg Reg) {
	a.prefix(false, 0, 0, reg)
	a.put(0x50 | byte(reg&7))
}

func (a *Assembler) Pop(reg Reg) {
	a.prefix(false, 0, 0, reg)
	a.put(0x58 | byte(reg&7))
}

// Int3 pads unreachable space.
func (a *Assembler) Int3() {
	a.put(0xCC)
}

// NewLabel returns a label that must be bound before Finish.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind places l at the current offset.
func (a *Assembler) Bind(l Label) {
	a.labels[l] = len(a.buf)
}

func (a *Assembler) rel32(l Label) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: l})
	a.imm32(0)
}

// Jcc jumps to l when cond holds.
func (a *Assembler) Jcc(cond Cond, l Label) {
	a.put(0x0F, 0x80|byte(cond))
	a.rel32(l)
}

func (a *Assembler) Jmp(l Label) {
	a.put(0xE9)
	a.rel32(l)
}

func (a *Assembler) hole(target stencil.TargetKind, kind stencil.RelocKind, addend int64) {
	a.patches = append(a.patches, stencil.Patch{
		Offset: len(a.buf),
		Target: target,
		Kind:   kind,
		Addend: addend,
	})
}

// HoleImm64 loads reg with the address of target plus addend. The
// immediate is left zero and recorded as an absolute patch.
func (a *Assembler) HoleImm64(reg Reg, target stencil.TargetKind, addend int64) {
	a.prefix(true, 0, 0, reg)
	a.put(0xB8 | byte(reg&7))
	a.hole(target, stencil.RelocAbs64, addend)
	a.imm64(0)
}

// HoleJump emits a jmp rel32 to a control-flow target. The patch offset
// is the opcode byte.
func (a *Assembler) HoleJump(target stencil.TargetKind) {
	a.hole(target, stencil.RelocNearJump32, 0)
	a.put(0xE9)
	a.imm32(0)
}

// Finish resolves label references and returns the code and its patches.
func (a *Assembler) Finish() ([]byte, []stencil.Patch, error) {
	for _, f := range a.fixups {
		to := a.labels[f.label]
		if to < 0 {
			return nil, nil, fmt.Errorf("label %d referenced at %d is never bound", f.label, f.at)
		}
		binary.LittleEndian.PutUint32(a.buf[f.at:], uint32(int32(to-(f.at+4))))
	}
	a.fixups = nil
	return a.buf, a.patches, nil
}

// Stencil finishes the code as a named stencil.
func (a *Assembler) Stencil(name string) (*stencil.Stencil, error) {
	code, patches, err := a.Finish()
	if err != nil {
		return nil, fmt.Errorf("stencil %s: %w", name, err)
	}
	return &stencil.Stencil{Name: name, Code: code, Patches: patches}, nil
}
