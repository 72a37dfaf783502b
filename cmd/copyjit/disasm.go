package main

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"copyjit/pkg/stencil"
)

// printDisasm prints s one instruction per line, marking patched
// instructions with their target.
func printDisasm(arch stencil.Arch, s *stencil.Stencil) {
	holes := make(map[int]stencil.Patch, len(s.Patches))
	for _, p := range s.Patches {
		holes[p.Offset] = p
	}
	note := func(start, end int) string {
		for off := start; off < end; off++ {
			if p, ok := holes[off]; ok {
				return fmt.Sprintf("  ; %s %s%+d", p.Kind, p.Target, p.Addend)
			}
		}
		return ""
	}

	code := s.Code
	switch arch {
	case stencil.ArchAMD64:
		for pc := 0; pc < len(code); {
			inst, err := x86asm.Decode(code[pc:], 64)
			if err != nil {
				fmt.Printf("    %4x  (bad) %x\n", pc, code[pc])
				pc++
				continue
			}
			fmt.Printf("    %4x  %s%s\n", pc, x86asm.IntelSyntax(inst, uint64(pc), nil), note(pc, pc+inst.Len))
			pc += inst.Len
		}
	case stencil.ArchARM64:
		for pc := 0; pc+4 <= len(code); pc += 4 {
			inst, err := arm64asm.Decode(code[pc:])
			if err != nil {
				fmt.Printf("    %4x  .word %#08x\n", pc, binary.LittleEndian.Uint32(code[pc:]))
				continue
			}
			fmt.Printf("    %4x  %s%s\n", pc, arm64asm.GNUSyntax(inst), note(pc, pc+4))
		}
	}
}
