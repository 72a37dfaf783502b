package a64

import (
	"encoding/binary"
	"testing"

	"copyjit/pkg/expr"
	"copyjit/pkg/stencil"
)

func TestPatchSites(t *testing.T) {
	tab := Table()
	check := func(s *stencil.Stencil) {
		if len(s.Code)%4 != 0 {
			t.Errorf("%s: %d bytes is not whole words", s.Name, len(s.Code))
		}
		for _, p := range s.Patches {
			if p.Offset%4 != 0 {
				t.Errorf("%s: patch at %d not word aligned", s.Name, p.Offset)
				continue
			}
			w := binary.LittleEndian.Uint32(s.Code[p.Offset:])
			switch p.Kind {
			case stencil.RelocMovwG0, stencil.RelocMovwG1, stencil.RelocMovwG2, stencil.RelocMovwG3:
				if w&0x7F800000 != 0x52800000 && w&0x7F800000 != 0x72800000 {
					t.Errorf("%s: MOVW patch at %d on %#08x", s.Name, p.Offset, w)
				}
				if w&(0xFFFF<<5) != 0 {
					t.Errorf("%s: MOVW template at %d has immediate bits set", s.Name, p.Offset)
				}
			case stencil.RelocJump26:
				if w != 0x14000000 {
					t.Errorf("%s: JUMP26 site at %d is %#08x", s.Name, p.Offset, w)
				}
			case stencil.RelocCall26:
				if w != 0x94000000 {
					t.Errorf("%s: CALL26 site at %d is %#08x", s.Name, p.Offset, w)
				}
			default:
				t.Errorf("%s: unexpected relocation %s on arm64", s.Name, p.Kind)
			}
		}
	}
	for _, op := range tab.Opcodes() {
		s, _ := tab.Lookup(op)
		check(s)
	}
	for _, name := range tab.Fragments() {
		s, _ := tab.Fragment(name)
		check(s)
	}
}

func TestSubset(t *testing.T) {
	tab := Table()
	for _, op := range []expr.Opcode{expr.OpDone, expr.OpScanFetchsome, expr.OpScanVar, expr.OpAssignScanVar, expr.OpFuncexpr} {
		if !tab.Supports(op) {
			t.Errorf("no arm64 stencil for %s", op)
		}
	}
	if _, ok := tab.Fragment(stencil.FragFuncUsage); ok {
		t.Errorf("arm64 table has a usage fragment")
	}
	fetch, _ := tab.Lookup(expr.OpScanFetchsome)
	if fetch.Trampolines() != 2 {
		t.Errorf("FETCHSOME needs %d trampolines, want 2", fetch.Trampolines())
	}
	done, _ := tab.Lookup(expr.OpDone)
	if binary.LittleEndian.Uint32(done.Code[len(done.Code)-4:]) != 0xD65F03C0 {
		t.Errorf("DONE does not end in ret")
	}
}
