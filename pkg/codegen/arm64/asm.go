// Package arm64 emits AArch64 machine code for stencils.
package arm64

import (
	"encoding/binary"
	"fmt"

	"copyjit/pkg/stencil"
)

// AArch64 general purpose register. 31 is SP or XZR depending on the
// instruction.
type Reg uint32

const (
	X0  Reg = 0
	X1  Reg = 1
	X2  Reg = 2
	X3  Reg = 3
	X9  Reg = 9
	X10 Reg = 10
	X11 Reg = 11
	X12 Reg = 12
	X13 Reg = 13
	X14 Reg = 14
	X15 Reg = 15
	X16 Reg = 16
	X17 Reg = 17
	X30 Reg = 30
	SP  Reg = 31
	XZR Reg = 31
)

type Label int

type fixupKind uint8

const (
	fixupImm19 fixupKind = iota // CBZ/CBNZ
	fixupImm26                  // B
)

type fixup struct {
	at    int
	label Label
	kind  fixupKind
}

// Assembler emits 32-bit instruction words into a growable buffer
type Assembler struct {
	buf     []byte
	labels  []int
	fixups  []fixup
	patches []stencil.Patch
}

func New() *Assembler {
	return &Assembler{buf: make([]byte, 0, 128)}
}

func (a *Assembler) Offset() int {
	return len(a.buf)
}

func (a *Assembler) word(w uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, w)
}

// MovZ: movz xd, #imm16, lsl #(16*hw)
func (a *Assembler) MovZ(rd Reg, imm uint16, hw uint32) {
	a.word(0xD2800000 | hw<<21 | uint32(imm)<<5 | uint32(rd))
}

// MovK: movk xd, #imm16, lsl #(16*hw)
func (a *Assembler) MovK(rd Reg, imm uint16, hw uint32) {
	a.word(0xF2800000 | hw<<21 | uint32(imm)<<5 | uint32(rd))
}

// MovZW: movz wd, #imm16
func (a *Assembler) MovZW(rd Reg, imm uint16) {
	a.word(0x52800000 | uint32(imm)<<5 | uint32(rd))
}

// MovImm64 loads an arbitrary 64-bit constant with movz + 3 movk.
func (a *Assembler) MovImm64(rd Reg, v uint64) {
	a.MovZ(rd, uint16(v), 0)
	for hw := uint32(1); hw < 4; hw++ {
		a.MovK(rd, uint16(v>>(16*hw)), hw)
	}
}

// MovReg: mov xd, xm (orr xd, xzr, xm)
func (a *Assembler) MovReg(rd, rm Reg) {
	a.word(0xAA0003E0 | uint32(rm)<<16 | uint32(rd))
}

// Ldr: ldr xt, [xn, #imm] (imm multiple of 8)
func (a *Assembler) Ldr(rt, rn Reg, imm uint32) {
	a.word(0xF9400000 | (imm/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

// Ldrb: ldrb wt, [xn, #imm]
func (a *Assembler) Ldrb(rt, rn Reg, imm uint32) {
	a.word(0x39400000 | imm<<10 | uint32(rn)<<5 | uint32(rt))
}

// Str: str xt, [xn, #imm] (imm multiple of 8)
func (a *Assembler) Str(rt, rn Reg, imm uint32) {
	a.word(0xF9000000 | (imm/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

// Strb: strb wt, [xn, #imm]
func (a *Assembler) Strb(rt, rn Reg, imm uint32) {
	a.word(0x39000000 | imm<<10 | uint32(rn)<<5 | uint32(rt))
}

// LdrIdx: ldr xt, [xn, xm, lsl #3]
func (a *Assembler) LdrIdx(rt, rn, rm Reg) {
	a.word(0xF8607800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// StrIdx: str xt, [xn, xm, lsl #3]
func (a *Assembler) StrIdx(rt, rn, rm Reg) {
	a.word(0xF8207800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// LdrbIdx: ldrb wt, [xn, xm]
func (a *Assembler) LdrbIdx(rt, rn, rm Reg) {
	a.word(0x38606800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// StrbIdx: strb wt, [xn, xm]
func (a *Assembler) StrbIdx(rt, rn, rm Reg) {
	a.word(0x38206800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// Stp: stp xt1, xt2, [xn, #imm] (imm multiple of 8)
func (a *Assembler) Stp(rt1, rt2, rn Reg, imm int32) {
	a.word(0xA9000000 | (uint32(imm/8)&0x7F)<<15 | uint32(rt2)<<10 | uint32(rn)<<5 | uint32(rt1))
}

// Ldp: ldp xt1, xt2, [xn, #imm]
func (a *Assembler) Ldp(rt1, rt2, rn Reg, imm int32) {
	a.word(0xA9400000 | (uint32(imm/8)&0x7F)<<15 | uint32(rt2)<<10 | uint32(rn)<<5 | uint32(rt1))
}

// SubSP: sub sp, sp, #imm
func (a *Assembler) SubSP(imm uint32) {
	a.word(0xD10003FF | imm<<10)
}

// AddSP: add sp, sp, #imm
func (a *Assembler) AddSP(imm uint32) {
	a.word(0x910003FF | imm<<10)
}

// EorW1: eor wd, wn, #1
func (a *Assembler) EorW1(rd, rn Reg) {
	a.word(0x52000000 | uint32(rn)<<5 | uint32(rd))
}

// CmpZero: cmp xn, #0
func (a *Assembler) CmpZero(rn Reg) {
	a.word(0xF100001F | uint32(rn)<<5)
}

// Br: br xn
func (a *Assembler) Br(rn Reg) {
	a.word(0xD61F0000 | uint32(rn)<<5)
}

// Blr: blr xn
func (a *Assembler) Blr(rn Reg) {
	a.word(0xD63F0000 | uint32(rn)<<5)
}

// Ret: ret
func (a *Assembler) Ret() {
	a.word(0xD65F03C0)
}

func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

func (a *Assembler) Bind(l Label) {
	a.labels[l] = len(a.buf)
}

func (a *Assembler) branch19(op uint32, rt Reg, l Label) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: l, kind: fixupImm19})
	a.word(op | uint32(rt))
}

// Cbz: cbz xt, label
func (a *Assembler) Cbz(rt Reg, l Label) { a.branch19(0xB4000000, rt, l) }

// Cbnz: cbnz xt, label
func (a *Assembler) Cbnz(rt Reg, l Label) { a.branch19(0xB5000000, rt, l) }

// CbzW: cbz wt, label
func (a *Assembler) CbzW(rt Reg, l Label) { a.branch19(0x34000000, rt, l) }

// CbnzW: cbnz wt, label
func (a *Assembler) CbnzW(rt Reg, l Label) { a.branch19(0x35000000, rt, l) }

// B: b label
func (a *Assembler) B(l Label) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: l, kind: fixupImm26})
	a.word(0x14000000)
}

// HoleImm64 loads target into rd through four movz/movk words, each patched
// with one 16-bit slice.
func (a *Assembler) HoleImm64(rd Reg, target stencil.TargetKind, addend int64) {
	kinds := [4]stencil.RelocKind{stencil.RelocMovwG0, stencil.RelocMovwG1, stencil.RelocMovwG2, stencil.RelocMovwG3}
	for hw, k := range kinds {
		a.patches = append(a.patches, stencil.Patch{Offset: len(a.buf), Target: target, Kind: k, Addend: addend})
		if hw == 0 {
			a.MovZ(rd, 0, 0)
		} else {
			a.MovK(rd, 0, uint32(hw))
		}
	}
}

// HoleB: b target, routed through a trampoline at compile time
func (a *Assembler) HoleB(target stencil.TargetKind) {
	a.patches = append(a.patches, stencil.Patch{Offset: len(a.buf), Target: target, Kind: stencil.RelocJump26})
	a.word(0x14000000)
}

// HoleBL: bl target, routed through a trampoline at compile time
func (a *Assembler) HoleBL(target stencil.TargetKind) {
	a.patches = append(a.patches, stencil.Patch{Offset: len(a.buf), Target: target, Kind: stencil.RelocCall26})
	a.word(0x94000000)
}

// Finish resolves label references and returns the code and its patches
func (a *Assembler) Finish() ([]byte, []stencil.Patch, error) {
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			return nil, nil, fmt.Errorf("label %d referenced at %d is never bound", f.label, f.at)
		}
		delta := int32(target-f.at) / 4
		w := binary.LittleEndian.Uint32(a.buf[f.at:])
		switch f.kind {
		case fixupImm19:
			w |= (uint32(delta) & 0x7FFFF) << 5
		case fixupImm26:
			w |= uint32(delta) & 0x3FFFFFF
		}
		binary.LittleEndian.PutUint32(a.buf[f.at:], w)
	}
	a.fixups = nil
	return a.buf, a.patches, nil
}

func (a *Assembler) Stencil(name string) (*stencil.Stencil, error) {
	code, patches, err := a.Finish()
	if err != nil {
		return nil, fmt.Errorf("stencil %s: %w", name, err)
	}
	return &stencil.Stencil{Name: name, Code: code, Patches: patches}, nil
}

// Trampoline writes the 20-byte far-branch stub for target:
// movz/movk x16 then br x16.
func Trampoline(target uint64) []byte {
	a := New()
	a.MovImm64(X16, target)
	a.Br(X16)
	return a.buf
}

// TrampolineSize is the size in bytes of one far-branch stub.
const TrampolineSize = 20
