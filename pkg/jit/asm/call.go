//go:build linux && amd64

// Package asm provides pure Go assembly routines for calling generated code.
// This is a separate package to avoid mixing cgo and Go assembly.
package asm

// Supported reports whether CallExpr can run generated code on this host.
const Supported = true

// CallExpr calls generated code directly without cgo overhead.
// entry: address of compiled code
// state, econtext, isnull: passed in RDI, RSI, RDX per System V ABI
// Returns: RAX
//
// Every address passed must point outside the Go heap.
func CallExpr(entry, state, econtext, isnull uintptr) uint64
