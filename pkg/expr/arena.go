package expr

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const arenaChunkSize = 64 << 10

var ErrArenaFreed = errors.New("arena already freed")

// Arena is a bump allocator over anonymous mappings. Memory it hands out
// has a stable address, starts zeroed, and is invisible to the garbage
// collector; it is released all at once by Free.
type Arena struct {
	mu     sync.Mutex
	chunks [][]byte
	cur    []byte
	off    int
	freed  bool
}

func NewArena() *Arena {
	return &Arena{}
}

// Alloc returns size zeroed bytes aligned to align (a power of two).
func (a *Arena) Alloc(size, align int) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return 0, ErrArenaFreed
	}
	if size <= 0 {
		size = 1
	}
	if align <= 0 {
		align = 8
	}

	off := (a.off + align - 1) &^ (align - 1)
	if a.cur == nil || off+size > len(a.cur) {
		n := arenaChunkSize
		if size+align > n {
			n = (size + align + 4095) &^ 4095
		}
		mem, err := mapAnon(n)
		if err != nil {
			return 0, err
		}
		a.chunks = append(a.chunks, mem)
		a.cur = mem
		off = 0
	}
	a.off = off + size
	return uintptr(unsafe.Pointer(&a.cur[off])), nil
}

// Free unmaps every chunk. Calling it again is a no-op.
func (a *Arena) Free() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return nil
	}
	a.freed = true
	var err error
	for _, c := range a.chunks {
		err = errors.CombineErrors(err, unmap(c))
	}
	a.chunks, a.cur = nil, nil
	return err
}

// Chunks reports how many mappings the arena holds.
func (a *Arena) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}
