// Package jit compiles expression programs by copying stencils into an
// executable buffer and patching them for each step.
package jit

import (
	"github.com/cockroachdb/errors"

	"copyjit/pkg/execmem"
	"copyjit/pkg/expr"
	"copyjit/pkg/stencil"

	jiterrors "copyjit/pkg/errors"
)

// piece is one stencil emitted for a step. A step is usually one piece;
// strict calls and constant specialisations splice fragments.
type piece struct {
	stencil *stencil.Stencil
	argno   int
}

// Unsupported names a step the table cannot compile.
type Unsupported struct {
	Step   int
	Opcode expr.Opcode
	Reason string
}

// Layout is the result of the sizing pass.
type Layout struct {
	Buildable   bool
	Unsupported []Unsupported
	// Offsets[i] is where step i starts; Size is where the code ends and
	// the trampoline area begins.
	Offsets     []int
	Size        int
	Trampolines int

	pieces [][]piece
}

// offset is the start of step i, or the end of the code for i == len.
func (l *Layout) offset(i int) int {
	if i == len(l.Offsets) {
		return l.Size
	}
	return l.Offsets[i]
}

// Result describes one compilation. Code and Entry are set only when the
// program was buildable.
type Result struct {
	*Layout
	Code              *execmem.Buffer
	Entry             uintptr
	TrampolineTargets []uintptr
}

// Compiler turns expression programs into code using one stencil table.
type Compiler struct {
	table   *stencil.Table
	symbols *stencil.Symbols
	reloc   Relocator
}

// NewCompiler creates a compiler linking the table against symbols.
func NewCompiler(table *stencil.Table, symbols *stencil.Symbols) (*Compiler, error) {
	if table == nil {
		return nil, errors.New("nil stencil table")
	}
	reloc, err := relocatorFor(table.Arch)
	if err != nil {
		return nil, err
	}
	if symbols == nil {
		symbols = &stencil.Symbols{}
	}
	return &Compiler{table: table, symbols: symbols, reloc: reloc}, nil
}

func (c *Compiler) Arch() stencil.Arch {
	return c.table.Arch
}

// effective picks the stencils step emits, or explains why none apply.
func (c *Compiler) effective(step *expr.Step) ([]piece, string) {
	op := step.Opcode
	lookup := func() ([]piece, string) {
		s, ok := c.table.Lookup(op)
		if !ok {
			return nil, "no stencil"
		}
		return []piece{{stencil: s}}, ""
	}

	if op.IsFuncCall() && step.Func().FnAddr == 0 {
		return nil, "function has no native address"
	}

	switch op {
	case expr.OpConst:
		name := stencil.FragConstNotNull
		if step.Const().IsNull != 0 {
			name = stencil.FragConstNull
		}
		if s, ok := c.table.Fragment(name); ok {
			return []piece{{stencil: s}}, ""
		}
		return lookup()

	case expr.OpCaseTestval:
		if step.CaseTest().Value == 0 {
			return lookup()
		}
		s, ok := c.table.Fragment(stencil.FragCaseTestvalExt)
		if !ok {
			return nil, "no stencil for external case values"
		}
		return []piece{{stencil: s}}, ""

	case expr.OpFuncexprStrict, expr.OpFuncexprStrictFusage:
		d := step.Func()
		if op == expr.OpFuncexprStrict && d.Nargs == 2 {
			if name, ok := c.symbols.FuncName(d.FnAddr); ok {
				if s, ok := c.table.Strict(name); ok {
					return []piece{{stencil: s}}, ""
				}
			}
		}
		call, ok := c.table.Lookup(expr.OpFuncexpr)
		if !ok {
			return nil, "no call stencil"
		}
		checker, ok := c.table.Fragment(stencil.FragStrictChecker)
		if !ok {
			return nil, "no strict checker"
		}
		out := make([]piece, 0, d.Nargs+2)
		for i := 0; i < int(d.Nargs); i++ {
			out = append(out, piece{stencil: checker, argno: i})
		}
		if op == expr.OpFuncexprStrictFusage {
			usage, ok := c.table.Fragment(stencil.FragFuncUsage)
			if !ok {
				return nil, "no usage counter stencil"
			}
			out = append(out, piece{stencil: usage})
		}
		return append(out, piece{stencil: call}), ""

	case expr.OpFuncexprFusage:
		call, ok := c.table.Lookup(expr.OpFuncexpr)
		if !ok {
			return nil, "no call stencil"
		}
		usage, ok := c.table.Fragment(stencil.FragFuncUsage)
		if !ok {
			return nil, "no usage counter stencil"
		}
		return []piece{{stencil: usage}, {stencil: call}}, ""

	case expr.OpAggPlainTransInitStrictByval, expr.OpAggPlainTransStrictByval, expr.OpAggPlainTransByval:
		pertrans := step.AggTrans().Pertrans
		if pertrans == 0 {
			return nil, "no transition state"
		}
		fcinfo := expr.Ptr[expr.AggStatePerTrans](pertrans).Fcinfo
		if fcinfo == 0 || expr.Ptr[expr.FunctionCallInfo](fcinfo).FnAddr == 0 {
			return nil, "transition function has no native address"
		}
	}
	return lookup()
}

// Layout runs the sizing pass. Scanning continues past unsupported steps
// so that every one of them is reported.
func (c *Compiler) Layout(steps []expr.Step) *Layout {
	l := &Layout{
		Buildable: true,
		Offsets:   make([]int, len(steps)),
		pieces:    make([][]piece, len(steps)),
	}
	for i := range steps {
		l.Offsets[i] = l.Size
		pieces, reason := c.effective(&steps[i])
		if pieces == nil {
			l.Buildable = false
			l.Unsupported = append(l.Unsupported, Unsupported{Step: i, Opcode: steps[i].Opcode, Reason: reason})
			continue
		}
		l.pieces[i] = pieces
		for _, p := range pieces {
			l.Size += p.stencil.Size()
			if c.reloc.TrampolineSize() > 0 {
				l.Trampolines += p.stencil.Trampolines()
			}
		}
	}
	return l
}

// Compile sizes, emits and seals the code for e. A program with an
// unsupported step yields a non-buildable result and no mapping; that is
// not an error.
func (c *Compiler) Compile(e *expr.Expression) (*Result, error) {
	steps := e.Steps()
	if len(steps) == 0 {
		return nil, errors.New("empty expression program")
	}
	l := c.Layout(steps)
	res := &Result{Layout: l}
	if !l.Buildable {
		return res, nil
	}

	stub := c.reloc.TrampolineSize()
	buf, err := execmem.Map(l.Size + l.Trampolines*stub)
	if err != nil {
		return nil, err
	}
	tramps := newTrampolines(l.Size, l.Trampolines, stub, c.reloc.Trampoline)
	if err := c.emit(e, l, buf, tramps); err != nil {
		return nil, errors.CombineErrors(err, buf.Free())
	}
	if err := buf.Seal(); err != nil {
		return nil, errors.CombineErrors(err, buf.Free())
	}
	res.Code = buf
	res.Entry = buf.Base()
	res.TrampolineTargets = tramps.targets()
	return res, nil
}

func (c *Compiler) emit(e *expr.Expression, l *Layout, buf *execmem.Buffer, tramps *trampolines) error {
	base := buf.Base()
	steps := e.Steps()
	for i := range steps {
		step := &steps[i]
		at := l.Offsets[i]
		for _, p := range l.pieces[i] {
			if err := buf.WriteAt(p.stencil.Code, at); err != nil {
				return jiterrors.WrapStepError(err, i, step.Opcode, "copy stencil")
			}
			loc := site{
				e:         e,
				index:     i,
				step:      step,
				argno:     p.argno,
				next:      base + uintptr(at+p.stencil.Size()),
				forceNext: base + uintptr(l.offset(i+1)),
			}
			for _, patch := range p.stencil.Patches {
				v, err := c.resolve(&loc, l, base, patch.Target)
				if err != nil {
					return jiterrors.WrapStepError(err, i, step.Opcode, "resolve "+patch.Target.String())
				}
				v += uint64(patch.Addend)
				if err := c.reloc.Apply(buf, at+patch.Offset, patch.Kind, v, tramps); err != nil {
					return jiterrors.WrapStepError(err, i, step.Opcode, "patch "+p.stencil.Name)
				}
			}
			at += p.stencil.Size()
		}
	}
	return nil
}
