package jit

import (
	"github.com/cockroachdb/errors"

	"copyjit/pkg/execmem"
)

type trampoline struct {
	target uintptr
	offset int
}

// trampolines hands out long-jump stubs from the area reserved after the
// code. Stubs are shared by target within one compilation only.
type trampolines struct {
	start    int
	capacity int
	stubSize int
	stub     func(target uintptr) []byte
	entries  []trampoline
}

func newTrampolines(start, capacity, stubSize int, stub func(uintptr) []byte) *trampolines {
	return &trampolines{start: start, capacity: capacity, stubSize: stubSize, stub: stub}
}

// get returns the buffer offset of the stub jumping to target, writing a
// new stub on first use.
func (t *trampolines) get(buf *execmem.Buffer, target uintptr) (int, error) {
	for _, e := range t.entries {
		if e.target == target {
			return e.offset, nil
		}
	}
	if t.stub == nil {
		return 0, errors.AssertionFailedf("trampoline requested on an architecture without stubs")
	}
	if len(t.entries) == t.capacity {
		return 0, errors.AssertionFailedf("trampoline area exhausted after %d stubs", t.capacity)
	}
	off := t.start + len(t.entries)*t.stubSize
	if err := buf.WriteAt(t.stub(target), off); err != nil {
		return 0, errors.Wrap(err, "write trampoline")
	}
	t.entries = append(t.entries, trampoline{target: target, offset: off})
	return off, nil
}

func (t *trampolines) targets() []uintptr {
	out := make([]uintptr, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.target
	}
	return out
}
