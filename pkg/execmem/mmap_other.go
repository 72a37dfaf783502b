//go:build !unix

package execmem

import "github.com/cockroachdb/errors"

var errNoMmap = errors.New("executable memory is not supported on this platform")

func mapRW(size int) ([]byte, error) { return nil, errNoMmap }

func protectRX(buffer []byte) error { return errNoMmap }

func unmap(buffer []byte) error { return nil }
