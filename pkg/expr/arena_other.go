//go:build !unix

package expr

import "github.com/cockroachdb/errors"

var errNoMmap = errors.New("anonymous memory mappings are not supported on this platform")

func mapAnon(size int) ([]byte, error) {
	return nil, errNoMmap
}

func unmap(mem []byte) error {
	return errNoMmap
}
