//go:build unix

package execmem

import (
	"golang.org/x/sys/unix"
)

func mapRW(size int) ([]byte, error) {
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)
	return unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
}

func protectRX(buffer []byte) error {
	return unix.Mprotect(buffer, unix.PROT_READ|unix.PROT_EXEC)
}

func unmap(buffer []byte) error {
	return unix.Munmap(buffer)
}
