package amd64

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/arch/x86/x86asm"

	"copyjit/pkg/stencil"
)

// disasm decodes code into Intel syntax, one instruction per entry.
func disasm(t *testing.T, code []byte) []string {
	t.Helper()
	var out []string
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			t.Fatalf("decode % x: %v", code, err)
		}
		out = append(out, x86asm.IntelSyntax(inst, 0, nil))
		code = code[inst.Len:]
	}
	return out
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want string
	}{
		{"mov r64 r64", func(a *Assembler) { a.MovRegReg(R9, RAX) }, "mov r9, rax"},
		{"mov load", func(a *Assembler) { a.MovRegMem64(RAX, RDI, 8) }, "mov rax, qword ptr [rdi+0x8]"},
		{"mov load r12", func(a *Assembler) { a.MovRegMem64(RCX, R12, 0) }, "mov rcx, qword ptr [r12]"},
		{"mov load rbp", func(a *Assembler) { a.MovRegMem64(RCX, RBP, 0) }, "mov rcx, qword ptr [rbp]"},
		{"mov store disp32", func(a *Assembler) { a.MovMemReg64(RSI, 0x200, R11) }, "mov qword ptr [rsi+0x200], r11"},
		{"mov store imm", func(a *Assembler) { a.MovMemImm32(RAX, 0, 0) }, "mov qword ptr [rax], 0x0"},
		{"movzx byte", func(a *Assembler) { a.MovRegMem8(RAX, RDI, 1) }, "movzx rax, byte ptr [rdi+0x1]"},
		{"mov byte store", func(a *Assembler) { a.MovMem8Reg(RDX, 0, RAX) }, "mov byte ptr [rdx], al"},
		{"mov byte store sil", func(a *Assembler) { a.MovMem8Reg(RAX, 0, RSI) }, "mov byte ptr [rax], sil"},
		{"mov byte imm", func(a *Assembler) { a.MovMem8Imm(RDI, 0x18, 1) }, "mov byte ptr [rdi+0x18], 0x1"},
		{"load idx", func(a *Assembler) { a.MovRegMemIdx64(RAX, R8, RCX) }, "mov rax, qword ptr [r8+rcx*8]"},
		{"store idx", func(a *Assembler) { a.MovMemIdxReg64(RAX, R9, R10) }, "mov qword ptr [rax+r9*8], r10"},
		{"load byte idx", func(a *Assembler) { a.MovRegMemIdx8(R10, RAX, RCX) }, "movzx r10, byte ptr [rax+rcx*1]"},
		{"store byte idx", func(a *Assembler) { a.MovMemIdx8Reg(R9, RCX, R10) }, "mov byte ptr [r9+rcx*1], r10b"},
		{"cmp byte", func(a *Assembler) { a.CmpMem8Imm(RAX, 8, 0) }, "cmp byte ptr [rax+0x8], 0x0"},
		{"cmp mem32", func(a *Assembler) { a.CmpRegMem32(RAX, RDI, 0x30) }, "cmp eax, dword ptr [rdi+0x30]"},
		{"cmov", func(a *Assembler) { a.Cmov32(CondL, RAX, RCX) }, "cmovl eax, ecx"},
		{"setcc", func(a *Assembler) { a.Setcc(CondE, RAX) }, "setz al"},
		{"lock inc", func(a *Assembler) { a.LockIncMem64(RAX, 0) }, "lock inc qword ptr [rax]"},
		{"shl", func(a *Assembler) { a.ShlRegImm8(RCX, 4) }, "shl rcx, 0x4"},
		{"call r11", func(a *Assembler) { a.CallReg(R11) }, "call r11"},
		{"push r12", func(a *Assembler) { a.Push(R12) }, "push r12"},
		{"imul", func(a *Assembler) { a.IMulRegReg32(RAX, RCX) }, "imul eax, ecx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			tt.emit(a)
			code, _, err := a.Finish()
			if err != nil {
				t.Fatal(err)
			}
			got := disasm(t, code)
			if diff := cmp.Diff([]string{tt.want}, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLabels(t *testing.T) {
	a := New()
	skip := a.NewLabel()
	a.TestRegReg(RAX, RAX)
	a.Jcc(CondE, skip)
	a.Ret()
	a.Bind(skip)
	a.Int3()
	code, _, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	// test(3) + jz rel32(6) + ret(1); skip lands on int3 at 10.
	if rel := int32(binary.LittleEndian.Uint32(code[5:])); rel != 1 {
		t.Errorf("rel32 = %d, want 1", rel)
	}

	a = New()
	a.Jmp(a.NewLabel())
	if _, _, err := a.Finish(); err == nil {
		t.Errorf("unbound label accepted")
	}
}

func TestHoles(t *testing.T) {
	a := New()
	a.Push(RDI)
	a.HoleImm64(RAX, stencil.TargetFuncAddr, 0)
	a.HoleImm64(R9, stencil.TargetFuncArg, 16)
	a.HoleJump(stencil.TargetNext)
	s, err := a.Stencil("t")
	if err != nil {
		t.Fatal(err)
	}
	want := []stencil.Patch{
		{Offset: 3, Target: stencil.TargetFuncAddr, Kind: stencil.RelocAbs64},
		{Offset: 13, Target: stencil.TargetFuncArg, Kind: stencil.RelocAbs64, Addend: 16},
		{Offset: 21, Target: stencil.TargetNext, Kind: stencil.RelocNearJump32},
	}
	if diff := cmp.Diff(want, s.Patches); diff != "" {
		t.Errorf("patches mismatch (-want +got):\n%s", diff)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if s.Code[21] != 0xE9 || s.Size() != 26 {
		t.Errorf("jump hole not at end: size %d", s.Size())
	}
}
