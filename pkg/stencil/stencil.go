// Package stencil describes precompiled machine-code fragments and the
// patches that specialise them for one expression step.
package stencil

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"

	"copyjit/pkg/expr"
	"copyjit/pkg/types"
)

// TargetKind says what value a patch injects.
type TargetKind uint8

const (
	// Literal values carried by the step.
	TargetConstValue TargetKind = iota + 1
	TargetConstIsNull

	// Indices and counts carried by the step.
	TargetResultnum
	TargetAttnum
	TargetLastVar
	TargetNargs
	TargetAggno
	TargetParamID
	TargetSetoff
	TargetTransno
	TargetSetno

	// Addresses of, or inside, the step record.
	TargetStep
	TargetStepResvalue
	TargetStepResnull
	TargetCaseValue
	TargetCaseIsNull

	// Fixed host helpers and process-wide variables.
	TargetHelperGetSomeAttrs
	TargetFuncUsage

	// Control flow.
	TargetNext
	TargetForceNext
	TargetJumpDone
	TargetJumpNull

	// Result slot and function call structures.
	TargetResultSlotValue
	TargetResultSlotIsNull
	TargetFcinfo
	TargetFuncAddr
	TargetFuncArg
	TargetPertrans
	TargetAggArgs
	TargetBoolAnyNull

	targetKindEnd
)

var targetNames = [...]string{
	TargetConstValue:         "CONST_VALUE",
	TargetConstIsNull:        "CONST_ISNULL",
	TargetResultnum:          "RESULTNUM",
	TargetAttnum:             "ATTNUM",
	TargetLastVar:            "LAST_VAR",
	TargetNargs:              "NARGS",
	TargetAggno:              "AGGNO",
	TargetParamID:            "PARAMID",
	TargetSetoff:             "SETOFF",
	TargetTransno:            "TRANSNO",
	TargetSetno:              "SETNO",
	TargetStep:               "OP",
	TargetStepResvalue:       "OP_RESVALUE",
	TargetStepResnull:        "OP_RESNULL",
	TargetCaseValue:          "CASETEST_VALUE",
	TargetCaseIsNull:         "CASETEST_ISNULL",
	TargetHelperGetSomeAttrs: "slot_getsomeattrs",
	TargetFuncUsage:          "FUNC_USAGE",
	TargetNext:               "NEXT_CALL",
	TargetForceNext:          "FORCE_NEXT_CALL",
	TargetJumpDone:           "JUMP_DONE",
	TargetJumpNull:           "JUMP_NULL",
	TargetResultSlotValue:    "RESULTSLOT_VALUES",
	TargetResultSlotIsNull:   "RESULTSLOT_ISNULL",
	TargetFcinfo:             "FCINFO",
	TargetFuncAddr:           "FUNC_CALL",
	TargetFuncArg:            "FUNC_ARG",
	TargetPertrans:           "PERTRANS",
	TargetAggArgs:            "AGG_ARGS",
	TargetBoolAnyNull:        "ANYNULL",
}

func (k TargetKind) String() string {
	if int(k) < len(targetNames) && targetNames[k] != "" {
		return targetNames[k]
	}
	return fmt.Sprintf("TARGET(%d)", uint8(k))
}

func (k TargetKind) Valid() bool {
	return k > 0 && k < targetKindEnd
}

// RelocKind says how a resolved value is encoded into the code.
type RelocKind uint8

const (
	// RelocAbs64 writes the value as 8 little-endian bytes.
	RelocAbs64 RelocKind = iota + 1
	// RelocNearJump32 writes E9 and a rel32 measured from the end of the
	// 5-byte instruction.
	RelocNearJump32
	// RelocMovwG0..G3 OR one 16-bit slice of the value into the imm16
	// field (bits 5..20) of a MOVZ/MOVK word.
	RelocMovwG0
	RelocMovwG1
	RelocMovwG2
	RelocMovwG3
	// RelocJump26 and RelocCall26 encode a word displacement to a
	// trampoline in the low 26 bits of a B or BL word.
	RelocJump26
	RelocCall26

	relocKindEnd
)

var relocNames = [...]string{
	RelocAbs64:      "ABS64",
	RelocNearJump32: "NEAR_JUMP32",
	RelocMovwG0:     "MOVW_UABS_G0_NC",
	RelocMovwG1:     "MOVW_UABS_G1_NC",
	RelocMovwG2:     "MOVW_UABS_G2_NC",
	RelocMovwG3:     "MOVW_UABS_G3",
	RelocJump26:     "JUMP26",
	RelocCall26:     "CALL26",
}

func (k RelocKind) String() string {
	if int(k) < len(relocNames) && relocNames[k] != "" {
		return relocNames[k]
	}
	return fmt.Sprintf("RELOC(%d)", uint8(k))
}

func (k RelocKind) Valid() bool {
	return k > 0 && k < relocKindEnd
}

// NeedsTrampoline reports whether sites of this kind always branch through
// a trampoline stub.
func (k RelocKind) NeedsTrampoline() bool {
	return k == RelocJump26 || k == RelocCall26
}

// Patch is one location in a stencil that is overwritten at compile time.
type Patch struct {
	Offset int
	Target TargetKind
	Kind   RelocKind
	Addend int64
}

// Stencil is an immutable code fragment. Code must not be modified once the
// stencil is in a Table.
type Stencil struct {
	Name    string
	Code    []byte
	Patches []Patch
}

func (s *Stencil) Size() int {
	return len(s.Code)
}

// Trampolines counts the patches needing a trampoline stub.
func (s *Stencil) Trampolines() int {
	n := 0
	for _, p := range s.Patches {
		if p.Kind.NeedsTrampoline() {
			n++
		}
	}
	return n
}

// Arch names an instruction set a table targets.
type Arch string

const (
	ArchAMD64 Arch = "amd64"
	ArchARM64 Arch = "arm64"
)

// Fragment names. Fragments have no opcode of their own; the compiler
// splices them around generic stencils.
const (
	FragConstNull      = "const_null"
	FragConstNotNull   = "const_notnull"
	FragCaseTestvalExt = "case_testval_ext"
	FragStrictChecker  = "strict_checker"
	FragFuncUsage      = "fusage"
)

// Table maps opcodes to stencils. It is built once and read-only after.
type Table struct {
	Arch      Arch
	ops       map[expr.Opcode]*Stencil
	fragments map[string]*Stencil
	strict    map[string]*Stencil
}

func NewTable(arch Arch) *Table {
	return &Table{
		Arch:      arch,
		ops:       make(map[expr.Opcode]*Stencil),
		fragments: make(map[string]*Stencil),
		strict:    make(map[string]*Stencil),
	}
}

// Lookup returns the generic stencil for op.
func (t *Table) Lookup(op expr.Opcode) (*Stencil, bool) {
	s, ok := t.ops[op]
	return s, ok
}

func (t *Table) Fragment(name string) (*Stencil, bool) {
	s, ok := t.fragments[name]
	return s, ok
}

// Strict returns the specialised stencil that inlines the strict two
// argument catalog function fn.
func (t *Table) Strict(fn string) (*Stencil, bool) {
	s, ok := t.strict[fn]
	return s, ok
}

func (t *Table) Add(op expr.Opcode, s *Stencil) {
	t.ops[op] = s
}

func (t *Table) AddFragment(name string, s *Stencil) {
	t.fragments[name] = s
}

func (t *Table) AddStrict(fn string, s *Stencil) {
	t.strict[fn] = s
}

// Opcodes lists the opcodes with a generic stencil in ascending order.
func (t *Table) Opcodes() []expr.Opcode {
	out := make([]expr.Opcode, 0, len(t.ops))
	for op := range t.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(m map[string]*Stencil) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *Table) Fragments() []string { return sortedKeys(t.fragments) }

func (t *Table) StrictFuncs() []string { return sortedKeys(t.strict) }

// Supports reports whether op has a stencil.
func (t *Table) Supports(op expr.Opcode) bool {
	_, ok := t.ops[op]
	return ok
}

// Fingerprint identifies the table contents.
func (t *Table) Fingerprint() [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(t.Arch))
	write := func(tag string, s *Stencil) {
		var n [8]byte
		h.Write([]byte(tag))
		binary.LittleEndian.PutUint64(n[:], uint64(len(s.Code)))
		h.Write(n[:])
		h.Write(s.Code)
		for _, p := range s.Patches {
			binary.LittleEndian.PutUint64(n[:], uint64(p.Offset))
			h.Write(n[:])
			h.Write([]byte{byte(p.Target), byte(p.Kind)})
			binary.LittleEndian.PutUint64(n[:], uint64(p.Addend))
			h.Write(n[:])
		}
	}
	for _, op := range t.Opcodes() {
		write(op.String(), t.ops[op])
	}
	for _, k := range t.Fragments() {
		write("frag:"+k, t.fragments[k])
	}
	for _, k := range t.StrictFuncs() {
		write("strict:"+k, t.strict[k])
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Symbols are the fixed addresses stencils are linked against.
type Symbols struct {
	GetSomeAttrs  uintptr
	FuncUsageBase uintptr
	// FuncNames maps native function addresses to catalog names; strict
	// specialisations are chosen by name.
	FuncNames map[uintptr]string
}

func (s *Symbols) FuncName(addr uintptr) (string, bool) {
	if s == nil || s.FuncNames == nil {
		return "", false
	}
	n, ok := s.FuncNames[addr]
	return n, ok
}

// FuncUsage returns the address of the usage counter of function id.
func (s *Symbols) FuncUsage(id types.FuncID) uintptr {
	return s.FuncUsageBase + uintptr(id)*8
}

// Image is the flat, serialisable form of a Table.
type Image struct {
	Arch      string
	Ops       []OpEntry
	Fragments []NamedEntry
	Strict    []NamedEntry
}

type OpEntry struct {
	Opcode  string
	Stencil Stencil
}

type NamedEntry struct {
	Name    string
	Stencil Stencil
}

// Image flattens t in a deterministic order.
func (t *Table) Image() *Image {
	img := &Image{Arch: string(t.Arch)}
	for _, op := range t.Opcodes() {
		img.Ops = append(img.Ops, OpEntry{Opcode: op.String(), Stencil: *t.ops[op]})
	}
	for _, k := range t.Fragments() {
		img.Fragments = append(img.Fragments, NamedEntry{Name: k, Stencil: *t.fragments[k]})
	}
	for _, k := range t.StrictFuncs() {
		img.Strict = append(img.Strict, NamedEntry{Name: k, Stencil: *t.strict[k]})
	}
	return img
}

// FromImage rebuilds a table, validating every patch.
func FromImage(img *Image) (*Table, error) {
	t := NewTable(Arch(img.Arch))
	for i := range img.Ops {
		e := &img.Ops[i]
		op, ok := expr.OpcodeByName(e.Opcode)
		if !ok {
			return nil, fmt.Errorf("stencil image: unknown opcode %q", e.Opcode)
		}
		if err := e.Stencil.Validate(); err != nil {
			return nil, err
		}
		s := e.Stencil
		t.Add(op, &s)
	}
	for i := range img.Fragments {
		e := &img.Fragments[i]
		if err := e.Stencil.Validate(); err != nil {
			return nil, err
		}
		s := e.Stencil
		t.AddFragment(e.Name, &s)
	}
	for i := range img.Strict {
		e := &img.Strict[i]
		if err := e.Stencil.Validate(); err != nil {
			return nil, err
		}
		s := e.Stencil
		t.AddStrict(e.Name, &s)
	}
	return t, nil
}

// patchWidth is how many bytes at Offset a patch of kind k rewrites.
func patchWidth(k RelocKind) int {
	switch k {
	case RelocAbs64:
		return 8
	case RelocNearJump32:
		return 5
	default:
		return 4
	}
}

// Validate checks that every patch has known kinds and lies inside Code.
func (s *Stencil) Validate() error {
	for i, p := range s.Patches {
		if !p.Target.Valid() {
			return fmt.Errorf("stencil %s: patch %d: unknown target kind %d", s.Name, i, p.Target)
		}
		if !p.Kind.Valid() {
			return fmt.Errorf("stencil %s: patch %d: unknown relocation kind %d", s.Name, i, p.Kind)
		}
		if p.Offset < 0 || p.Offset+patchWidth(p.Kind) > len(s.Code) {
			return fmt.Errorf("stencil %s: patch %d at %d overruns %d code bytes", s.Name, i, p.Offset, len(s.Code))
		}
	}
	return nil
}
