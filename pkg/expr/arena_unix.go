//go:build unix

package expr

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func mapAnon(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %d byte arena chunk", size)
	}
	return mem, nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
