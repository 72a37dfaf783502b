package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"copyjit/pkg/stencil"
)

func words(code []byte) []uint32 {
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return out
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want uint32
	}{
		{"ldr x9, [x0, #16]", func(a *Assembler) { a.Ldr(X9, X0, 16) }, 0xF9400809},
		{"ldrb w10, [x0, #1]", func(a *Assembler) { a.Ldrb(X10, X0, 1) }, 0x3940040A},
		{"str x9, [x1]", func(a *Assembler) { a.Str(X9, X1, 0) }, 0xF9000029},
		{"strb w9, [x2]", func(a *Assembler) { a.Strb(X9, X2, 0) }, 0x39000049},
		{"stp x0, x1, [sp]", func(a *Assembler) { a.Stp(X0, X1, SP, 0) }, 0xA90007E0},
		{"ldp x2, x30, [sp, #16]", func(a *Assembler) { a.Ldp(X2, X30, SP, 16) }, 0xA9417BE2},
		{"sub sp, sp, #32", func(a *Assembler) { a.SubSP(32) }, 0xD10083FF},
		{"add sp, sp, #32", func(a *Assembler) { a.AddSP(32) }, 0x910083FF},
		{"mov x1, x9", func(a *Assembler) { a.MovReg(X1, X9) }, 0xAA0903E1},
		{"br x16", func(a *Assembler) { a.Br(X16) }, 0xD61F0200},
		{"blr x9", func(a *Assembler) { a.Blr(X9) }, 0xD63F0120},
		{"ret", func(a *Assembler) { a.Ret() }, 0xD65F03C0},
		{"movz x16, #0x1234, lsl #16", func(a *Assembler) { a.MovZ(X16, 0x1234, 1) }, 0xD2A24690},
		{"ldr x9, [x10, x11, lsl #3]", func(a *Assembler) { a.LdrIdx(X9, X10, X11) }, 0xF86B7949},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			tt.emit(a)
			code, _, err := a.Finish()
			if err != nil {
				t.Fatal(err)
			}
			if got := words(code); len(got) != 1 || got[0] != tt.want {
				t.Errorf("got %#08x, want %#08x", got, tt.want)
			}
		})
	}
}

func TestBranchLabels(t *testing.T) {
	a := New()
	skip := a.NewLabel()
	back := a.NewLabel()
	a.Bind(back)
	a.CbzW(X9, skip)
	a.Ret()
	a.Bind(skip)
	a.B(back)
	code, _, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	w := words(code)
	// cbz w9, +8
	if w[0] != 0x34000049 {
		t.Errorf("cbz = %#08x", w[0])
	}
	// b -8
	if w[2] != 0x17FFFFFE {
		t.Errorf("b = %#08x", w[2])
	}
}

func TestHoles(t *testing.T) {
	a := New()
	a.HoleImm64(X9, stencil.TargetFuncAddr, 0)
	a.HoleBL(stencil.TargetHelperGetSomeAttrs)
	a.HoleB(stencil.TargetNext)
	s, err := a.Stencil("t")
	if err != nil {
		t.Fatal(err)
	}
	want := []stencil.Patch{
		{Offset: 0, Target: stencil.TargetFuncAddr, Kind: stencil.RelocMovwG0},
		{Offset: 4, Target: stencil.TargetFuncAddr, Kind: stencil.RelocMovwG1},
		{Offset: 8, Target: stencil.TargetFuncAddr, Kind: stencil.RelocMovwG2},
		{Offset: 12, Target: stencil.TargetFuncAddr, Kind: stencil.RelocMovwG3},
		{Offset: 16, Target: stencil.TargetHelperGetSomeAttrs, Kind: stencil.RelocCall26},
		{Offset: 20, Target: stencil.TargetNext, Kind: stencil.RelocJump26},
	}
	if diff := cmp.Diff(want, s.Patches); diff != "" {
		t.Errorf("patches mismatch (-want +got):\n%s", diff)
	}
	if s.Trampolines() != 2 {
		t.Errorf("Trampolines() = %d, want 2", s.Trampolines())
	}
}

func TestTrampoline(t *testing.T) {
	code := Trampoline(0x1122334455667788)
	if len(code) != TrampolineSize {
		t.Fatalf("len = %d, want %d", len(code), TrampolineSize)
	}
	want := []uint32{
		0xD2800000 | 0x7788<<5 | 16,
		0xF2800000 | 1<<21 | 0x5566<<5 | 16,
		0xF2800000 | 2<<21 | 0x3344<<5 | 16,
		0xF2800000 | 3<<21 | 0x1122<<5 | 16,
		0xD61F0200,
	}
	if diff := cmp.Diff(want, words(code)); diff != "" {
		t.Errorf("trampoline mismatch (-want +got):\n%s", diff)
	}
}
