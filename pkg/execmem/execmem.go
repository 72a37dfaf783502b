// Package execmem manages mmap'd memory that holds generated machine code.
// A Buffer is writable until it is sealed and executable only afterwards.
package execmem

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

type State int

const (
	Writable State = iota
	Executable
	Released
)

func (s State) String() string {
	switch s {
	case Writable:
		return "writable"
	case Executable:
		return "executable"
	case Released:
		return "released"
	}
	return "unknown"
}

var (
	ErrNotWritable = errors.New("code buffer is not writable")
	ErrOutOfBounds = errors.New("write outside code buffer")
)

// Buffer is one anonymous mapping holding the code of one compilation.
type Buffer struct {
	mu     sync.Mutex
	buffer []byte
	state  State
}

// Map allocates a read-write mapping of at least size bytes.
func Map(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid code buffer size %d", size)
	}
	buffer, err := mapRW(size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %d bytes of code memory", size)
	}
	return &Buffer{buffer: buffer[:size:len(buffer)], state: Writable}, nil
}

// Base returns the address of the first byte of the mapping.
func (b *Buffer) Base() uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buffer) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.buffer[0]))
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Buffer) writable(off, n int) error {
	if b.state != Writable {
		return errors.Wrapf(ErrNotWritable, "buffer is %s", b.state)
	}
	if off < 0 || n < 0 || off+n > len(b.buffer) {
		return errors.Wrapf(ErrOutOfBounds, "[%d, %d) of %d bytes", off, off+n, len(b.buffer))
	}
	return nil
}

// WriteAt copies p to offset off.
func (b *Buffer) WriteAt(p []byte, off int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(off, len(p)); err != nil {
		return err
	}
	copy(b.buffer[off:], p)
	return nil
}

func (b *Buffer) PutUint32(off int, v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.buffer[off:], v)
	return nil
}

func (b *Buffer) PutUint64(off int, v uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(off, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b.buffer[off:], v)
	return nil
}

// Uint32 reads the word at off, for read-modify-write patches.
func (b *Buffer) Uint32(off int) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writable(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.buffer[off:]), nil
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Released {
		return nil
	}
	out := make([]byte, len(b.buffer))
	copy(out, b.buffer)
	return out
}

// Seal makes the mapping read+execute. It is no longer writable.
func (b *Buffer) Seal() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Writable {
		return errors.Wrapf(ErrNotWritable, "seal %s buffer", b.state)
	}
	if err := protectRX(b.buffer[:cap(b.buffer)]); err != nil {
		return errors.Wrap(err, "failed to mprotect code memory")
	}
	b.state = Executable
	return nil
}

// Free unmaps the buffer. Calling it again is a no-op.
func (b *Buffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Released {
		return nil
	}
	err := unmap(b.buffer[:cap(b.buffer)])
	b.buffer = nil
	b.state = Released
	return err
}
