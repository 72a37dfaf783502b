package jit

import (
	"math"

	"github.com/cockroachdb/errors"

	"copyjit/pkg/codegen/arm64"
	"copyjit/pkg/execmem"
	"copyjit/pkg/stencil"
)

// Relocator encodes a resolved patch value at one site of the code buffer.
// Resolution is architecture independent; only the final encoding is not.
type Relocator interface {
	Arch() stencil.Arch
	// TrampolineSize is the size of one long-jump stub, zero when the
	// architecture never needs them.
	TrampolineSize() int
	Trampoline(target uintptr) []byte
	Apply(buf *execmem.Buffer, site int, kind stencil.RelocKind, value uint64, tramps *trampolines) error
}

func relocatorFor(arch stencil.Arch) (Relocator, error) {
	switch arch {
	case stencil.ArchAMD64:
		return x86Relocator{}, nil
	case stencil.ArchARM64:
		return a64Relocator{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownArch, "%q", arch)
}

type x86Relocator struct{}

func (x86Relocator) Arch() stencil.Arch { return stencil.ArchAMD64 }
func (x86Relocator) TrampolineSize() int { return 0 }
func (x86Relocator) Trampoline(uintptr) []byte { return nil }

func (x86Relocator) Apply(buf *execmem.Buffer, site int, kind stencil.RelocKind, value uint64, _ *trampolines) error {
	switch kind {
	case stencil.RelocAbs64:
		return buf.PutUint64(site, value)
	case stencil.RelocNearJump32:
		rel, err := rel32(buf.Base()+uintptr(site), uintptr(value))
		if err != nil {
			return err
		}
		if err := buf.WriteAt([]byte{0xE9}, site); err != nil {
			return err
		}
		return buf.PutUint32(site+1, uint32(rel))
	}
	return errors.AssertionFailedf("relocation %s not supported on amd64", kind)
}

// rel32 is the displacement of a 5-byte jmp at site to target.
func rel32(site, target uintptr) (int32, error) {
	d := int64(target) - int64(site+5)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, errors.Wrapf(ErrBranchOutOfRange, "jmp at %#x to %#x", site, target)
	}
	return int32(d), nil
}

type a64Relocator struct{}

func (a64Relocator) Arch() stencil.Arch { return stencil.ArchARM64 }
func (a64Relocator) TrampolineSize() int { return arm64.TrampolineSize }
func (a64Relocator) Trampoline(target uintptr) []byte { return arm64.Trampoline(uint64(target)) }

func (a64Relocator) Apply(buf *execmem.Buffer, site int, kind stencil.RelocKind, value uint64, tramps *trampolines) error {
	word, err := buf.Uint32(site)
	if err != nil {
		return err
	}
	switch kind {
	case stencil.RelocMovwG0, stencil.RelocMovwG1, stencil.RelocMovwG2, stencil.RelocMovwG3:
		shift := 16 * uint(kind-stencil.RelocMovwG0)
		word |= uint32((value>>shift)&0xFFFF) << 5
	case stencil.RelocJump26, stencil.RelocCall26:
		stub, err := tramps.get(buf, uintptr(value))
		if err != nil {
			return err
		}
		imm, err := branch26(site, stub)
		if err != nil {
			return err
		}
		word |= imm
	default:
		return errors.AssertionFailedf("relocation %s not supported on arm64", kind)
	}
	return buf.PutUint32(site, word)
}

// branch26 encodes the word displacement from site to target, both byte
// offsets in the same buffer, as a B/BL imm26 field.
func branch26(site, target int) (uint32, error) {
	d := target - site
	if d%4 != 0 {
		return 0, errors.AssertionFailedf("unaligned branch from %d to %d", site, target)
	}
	words := d / 4
	if words < -(1<<25) || words >= 1<<25 {
		return 0, errors.Wrapf(ErrBranchOutOfRange, "branch at %d to %d", site, target)
	}
	return uint32(words) & 0x03FFFFFF, nil
}
