// Package hostlib holds the native side of the host: the tuple deforming
// helper and native bodies of catalog functions, assembled into one sealed
// code mapping that generated code links against.
package hostlib

import (
	"log"
	"runtime"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"copyjit/pkg/codegen/amd64"
	"copyjit/pkg/execmem"
	"copyjit/pkg/expr"
	"copyjit/pkg/stencil"
	"copyjit/pkg/types"
	"copyjit/pkg/util"
)

const (
	SymGetSomeAttrs = "slot_getsomeattrs"

	// routines are padded to this boundary
	routineAlign = 16
)

// Library is a loaded native image.
type Library struct {
	buf       *execmem.Buffer
	routines  map[string]uintptr
	funcs     map[types.FuncID]uintptr
	names     map[uintptr]string
	usageBase uintptr
}

// Load assembles the helpers and every native body the catalog names,
// writes them into a fresh mapping and seals it.
func Load(catalog *expr.Catalog) (*Library, error) {
	usageBase, err := expr.FuncUsageBase()
	if err != nil {
		return nil, errors.Wrap(err, "function usage counters")
	}

	type routine struct {
		name string
		id   types.FuncID
		off  int
	}
	var (
		image    []byte
		routines []routine
	)
	add := func(name string, id types.FuncID, emit func(a *amd64.Assembler)) error {
		a := amd64.New()
		emit(a)
		code, _, err := a.Finish()
		if err != nil {
			return errors.Wrapf(err, "assemble %s", name)
		}
		image = util.PadTo(image, routineAlign, 0xCC)
		routines = append(routines, routine{name: name, id: id, off: len(image)})
		image = append(image, code...)
		return nil
	}

	if err := add(SymGetSomeAttrs, types.InvalidFuncID, emitGetSomeAttrs); err != nil {
		return nil, err
	}
	for _, f := range catalog.Funcs() {
		body, ok := nativeBodies[f.Name]
		if !ok {
			continue
		}
		if err := add(f.Name, f.ID, body); err != nil {
			return nil, err
		}
	}

	buf, err := execmem.Map(len(image))
	if err != nil {
		return nil, err
	}
	if err := buf.WriteAt(image, 0); err != nil {
		return nil, errors.CombineErrors(err, buf.Free())
	}
	if err := buf.Seal(); err != nil {
		return nil, errors.CombineErrors(err, buf.Free())
	}

	lib := &Library{
		buf:       buf,
		routines:  make(map[string]uintptr, len(routines)),
		funcs:     make(map[types.FuncID]uintptr),
		names:     make(map[uintptr]string),
		usageBase: usageBase,
	}
	base := buf.Base()
	for _, r := range routines {
		addr := base + uintptr(r.off)
		lib.routines[r.name] = addr
		if r.id != types.InvalidFuncID {
			lib.funcs[r.id] = addr
			lib.names[addr] = r.name
		}
	}
	return lib, nil
}

var (
	nativeOnce sync.Once
	nativeLib  *Library
	nativeErr  error
)

// Native returns the process-wide library for the default catalog.
func Native() (*Library, error) {
	nativeOnce.Do(func() {
		nativeLib, nativeErr = Load(expr.DefaultCatalog)
		if nativeErr != nil {
			log.Printf("hostlib: native image unavailable: %v", nativeErr)
		}
	})
	return nativeLib, nativeErr
}

// Available reports whether routines of this library can run on this host.
func (l *Library) Available() bool {
	return l != nil && runtime.GOARCH == "amd64" && l.buf.State() == execmem.Executable
}

// FuncAddr returns the native body of function id, or 0 when it has none.
func (l *Library) FuncAddr(id types.FuncID) uintptr {
	if l == nil {
		return 0
	}
	return l.funcs[id]
}

// Routine returns the address of a named routine.
func (l *Library) Routine(name string) (uintptr, bool) {
	addr, ok := l.routines[name]
	return addr, ok
}

// Routines lists the routine names in address order.
func (l *Library) Routines() []string {
	out := make([]string, 0, len(l.routines))
	for name := range l.routines {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return l.routines[out[i]] < l.routines[out[j]] })
	return out
}

// Code returns a copy of the native image and its base address.
func (l *Library) Code() ([]byte, uintptr) {
	return l.buf.Bytes(), l.buf.Base()
}

// Symbols is the link view of the library.
func (l *Library) Symbols() *stencil.Symbols {
	names := make(map[uintptr]string, len(l.names))
	for addr, name := range l.names {
		names[addr] = name
	}
	return &stencil.Symbols{
		GetSomeAttrs:  l.routines[SymGetSomeAttrs],
		FuncUsageBase: l.usageBase,
		FuncNames:     names,
	}
}

// Free unmaps the image. Expressions still bound to it must not run again.
func (l *Library) Free() error {
	return l.buf.Free()
}
