//go:build !linux || !amd64

package asm

const Supported = false

// CallExpr is unavailable on this platform.
func CallExpr(entry, state, econtext, isnull uintptr) uint64 {
	panic("asm: native calls require linux/amd64")
}
