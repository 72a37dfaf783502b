package jit

import "github.com/cockroachdb/errors"

var (
	// ErrBranchOutOfRange means a patched branch cannot reach its target.
	ErrBranchOutOfRange = errors.New("branch displacement out of range")
	// ErrContextPopulated is returned when a context that already owns code
	// is asked to compile again.
	ErrContextPopulated = errors.New("compilation context already holds generated code")
	ErrContextReleased  = errors.New("compilation context released")
	ErrNoNativeHost     = errors.New("generated code cannot run on this host")
	ErrUnknownArch      = errors.New("no relocator for stencil architecture")
)
