package expr

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"copyjit/pkg/types"
)

// NativeResolver maps catalog functions to the address of their native
// implementation. Fcinfos built without one carry a zero address.
type NativeResolver interface {
	FuncAddr(id types.FuncID) uintptr
}

// Target is where a step writes its result.
type Target struct {
	Resvalue uintptr
	Resnull  uintptr
}

type BuilderOption func(*Builder)

func WithCatalog(c *Catalog) BuilderOption {
	return func(b *Builder) { b.catalog = c }
}

func WithNatives(n NativeResolver) BuilderOption {
	return func(b *Builder) { b.natives = n }
}

// Builder assembles an expression program and the structures it refers to
// inside one arena. Errors are sticky and reported by Build.
type Builder struct {
	arena   *Arena
	catalog *Catalog
	natives NativeResolver
	state   *ExprState
	steps   []Step
	err     error
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{arena: NewArena(), catalog: DefaultCatalog}
	for _, opt := range opts {
		opt(b)
	}
	addr := b.alloc(int(unsafe.Sizeof(ExprState{})), 16)
	if addr != 0 {
		b.state = Ptr[ExprState](addr)
	}
	return b
}

func (b *Builder) alloc(size, align int) uintptr {
	if b.err != nil {
		return 0
	}
	addr, err := b.arena.Alloc(size, align)
	if err != nil {
		b.err = err
		return 0
	}
	return addr
}

func (b *Builder) Err() error {
	return b.err
}

// StateTarget is the expression state's own resvalue/resnull pair.
func (b *Builder) StateTarget() Target {
	if b.state == nil {
		return Target{}
	}
	return Target{
		Resvalue: Addr(b.state) + StateResvalueOffset,
		Resnull:  Addr(b.state) + StateResnullOffset,
	}
}

// ArgTarget targets argument i of fcinfo.
func ArgTarget(fcinfo *FunctionCallInfo, i int) Target {
	a := fcinfo.ArgAddr(i)
	return Target{Resvalue: a + NullableValueOffset, Resnull: a + NullableIsNullOffset}
}

// NewSlot allocates a tuple slot of natts attributes.
func (b *Builder) NewSlot(natts int) *TupleSlot {
	addr := b.alloc(int(unsafe.Sizeof(TupleSlot{})), 16)
	values := b.alloc(natts*8, 8)
	isnull := b.alloc(natts, 8)
	tuple := b.alloc(natts*int(NullableDatumSize), 16)
	if b.err != nil {
		return nil
	}
	s := Ptr[TupleSlot](addr)
	s.Natts = int64(natts)
	s.Values, s.IsNull, s.Tuple = values, isnull, tuple
	return s
}

// SetResultSlot sets the slot ASSIGN steps write into.
func (b *Builder) SetResultSlot(s *TupleSlot) {
	if b.state != nil && s != nil {
		b.state.ResultSlot = Addr(s)
	}
}

func (b *Builder) NewContext() *ExprContext {
	addr := b.alloc(int(unsafe.Sizeof(ExprContext{})), 16)
	if addr == 0 {
		return nil
	}
	return Ptr[ExprContext](addr)
}

// AllocAggResults gives econtext n aggregate result columns.
func (b *Builder) AllocAggResults(econtext *ExprContext, n int) {
	values := b.alloc(n*8, 8)
	nulls := b.alloc(n, 8)
	if b.err == nil {
		econtext.AggValues, econtext.AggNulls = values, nulls
	}
}

func (b *Builder) AllocParams(econtext *ExprContext, n int) {
	addr := b.alloc(n*int(NullableDatumSize), 16)
	if b.err == nil {
		econtext.Params, econtext.NParams = addr, int64(n)
	}
}

func (b *Builder) AllocExecParams(econtext *ExprContext, n int) {
	addr := b.alloc(n*int(NullableDatumSize), 16)
	if b.err == nil {
		econtext.ExecParams, econtext.NExecParams = addr, int64(n)
	}
}

// AllocBool returns the address of a fresh bool, used for BOOL step
// anynull flags and external case values.
func (b *Builder) AllocBool() uintptr {
	return b.alloc(1, 8)
}

func (b *Builder) AllocDatum() uintptr {
	return b.alloc(8, 8)
}

// NewCall allocates an fcinfo for the named catalog function.
func (b *Builder) NewCall(name string) *FunctionCallInfo {
	f, ok := b.catalog.LookupName(name)
	if !ok {
		if b.err == nil {
			b.err = errors.Newf("function %q not in catalog", name)
		}
		return nil
	}
	addr := b.alloc(int(FcinfoArgsOffset)+f.Nargs*int(NullableDatumSize), 16)
	if addr == 0 {
		return nil
	}
	fcinfo := Ptr[FunctionCallInfo](addr)
	fcinfo.FnID = f.ID
	fcinfo.Nargs = int64(f.Nargs)
	if b.natives != nil {
		fcinfo.FnAddr = b.natives.FuncAddr(f.ID)
	}
	return fcinfo
}

// NewAggState allocates aggregate state with nsets grouping sets of ntrans
// transitions each, every pergroup starting with no transition value.
func (b *Builder) NewAggState(nsets, ntrans int) *AggState {
	addr := b.alloc(int(unsafe.Sizeof(AggState{})), 16)
	sets := b.alloc(nsets*8, 8)
	if b.err != nil {
		return nil
	}
	agg := Ptr[AggState](addr)
	agg.AllPergroups = sets
	for s := 0; s < nsets; s++ {
		groups := b.alloc(ntrans*int(PerGroupSize), 16)
		if b.err != nil {
			return nil
		}
		*(*uintptr)(unsafe.Add(unsafe.Pointer(sets), s*8)) = groups
		for t := 0; t < ntrans; t++ {
			pg := agg.Pergroup(s, t)
			pg.TransValueIsNull = true
			pg.NoTransValue = true
		}
	}
	if b.state != nil {
		b.state.Parent = addr
	}
	return agg
}

// DropPergroupSet clears the pointer for one grouping set, as the host does
// for sets that are not being computed.
func (agg *AggState) DropPergroupSet(setoff int) {
	*(*uintptr)(unsafe.Add(unsafe.Pointer(agg.AllPergroups), setoff*8)) = 0
}

func (b *Builder) NewPertrans(fcinfo *FunctionCallInfo) *AggStatePerTrans {
	addr := b.alloc(int(unsafe.Sizeof(AggStatePerTrans{})), 8)
	if addr == 0 {
		return nil
	}
	p := Ptr[AggStatePerTrans](addr)
	p.Fcinfo = Addr(fcinfo)
	return p
}

// Len is the index the next emitted step will get.
func (b *Builder) Len() int {
	return len(b.steps)
}

// Emit appends a raw step.
func (b *Builder) Emit(op Opcode, t Target, d ...uint64) int {
	s := Step{Opcode: op, Resvalue: t.Resvalue, Resnull: t.Resnull}
	copy(s.D[:], d)
	b.steps = append(b.steps, s)
	return len(b.steps) - 1
}

func (b *Builder) Fetch(op Opcode, lastVar int) int {
	return b.Emit(op, b.StateTarget(), uint64(lastVar))
}

func (b *Builder) Var(op Opcode, attnum int, t Target) int {
	return b.Emit(op, t, uint64(attnum))
}

func (b *Builder) AssignVar(op Opcode, attnum, resultnum int) int {
	return b.Emit(op, b.StateTarget(), uint64(resultnum), uint64(attnum))
}

func (b *Builder) AssignTmp(resultnum int, makeReadOnly bool) int {
	op := OpAssignTmp
	if makeReadOnly {
		op = OpAssignTmpMakeRo
	}
	return b.Emit(op, b.StateTarget(), uint64(resultnum))
}

func (b *Builder) Const(value types.Datum, isnull bool, t Target) int {
	return b.Emit(OpConst, t, uint64(value), uint64(types.BoolByte(isnull)))
}

// Func emits a call step for any FuncData opcode.
func (b *Builder) Func(op Opcode, fcinfo *FunctionCallInfo, t Target) int {
	if fcinfo == nil {
		return b.Emit(op, t)
	}
	return b.Emit(op, t, uint64(Addr(fcinfo)), uint64(fcinfo.FnAddr), uint64(fcinfo.Nargs))
}

// Jump emits a control-flow step whose target is set later with SetJump.
func (b *Builder) Jump(op Opcode, t Target) int {
	return b.Emit(op, t, 0)
}

func (b *Builder) BoolStep(op Opcode, anynull uintptr, t Target) int {
	return b.Emit(op, t, uint64(anynull), 0)
}

func (b *Builder) SetJump(step, target int) {
	if step < 0 || step >= len(b.steps) || !b.steps[step].setJumpTarget(target) {
		if b.err == nil {
			b.err = errors.Newf("step %d cannot take a jump target", step)
		}
	}
}

func (b *Builder) Param(op Opcode, paramid int, t Target) int {
	return b.Emit(op, t, uint64(paramid))
}

// CaseTestval reads the case value from the context when value is zero and
// from the given locations otherwise.
func (b *Builder) CaseTestval(value, isnull uintptr, t Target) int {
	return b.Emit(OpCaseTestval, t, uint64(value), uint64(isnull))
}

func (b *Builder) Aggref(aggno int, t Target) int {
	return b.Emit(OpAggref, t, uint64(aggno))
}

func (b *Builder) AggPergroupNullcheck(setoff int) int {
	return b.Emit(OpAggPlainPergroupNullcheck, b.StateTarget(), uint64(setoff), 0)
}

func (b *Builder) AggStrictInputCheck(fcinfo *FunctionCallInfo, firstArg, nargs int) int {
	var args uintptr
	if fcinfo != nil {
		args = fcinfo.ArgAddr(firstArg)
	}
	return b.Emit(OpAggStrictInputCheckArgs, b.StateTarget(), uint64(args), uint64(nargs), 0)
}

func (b *Builder) AggTrans(op Opcode, pertrans *AggStatePerTrans, setoff, transno, setno int) int {
	return b.Emit(op, b.StateTarget(), uint64(Addr(pertrans)), uint64(setoff), uint64(transno), uint64(setno))
}

func (b *Builder) Done() int {
	return b.Emit(OpDone, b.StateTarget())
}

// Build copies the steps into the arena and returns the expression. The
// program must end in DONE and every jump must land inside it.
func (b *Builder) Build() (*Expression, error) {
	if b.err != nil {
		b.arena.Free()
		return nil, b.err
	}
	n := len(b.steps)
	if n == 0 || b.steps[n-1].Opcode != OpDone {
		b.arena.Free()
		return nil, errors.New("expression program must end with EEOP_DONE")
	}
	for i := range b.steps {
		if t, ok := b.steps[i].JumpTarget(); ok && (t < 0 || t >= n) {
			b.arena.Free()
			return nil, errors.Newf("step %d (%s): jump target %d out of range", i, b.steps[i].Opcode, t)
		}
	}
	addr := b.alloc(n*int(StepSize), 16)
	if b.err != nil {
		b.arena.Free()
		return nil, b.err
	}
	copy(unsafe.Slice((*Step)(unsafe.Pointer(addr)), n), b.steps)
	b.state.Steps = addr
	b.state.StepsLen = int64(n)
	return newExpression(b.state, b.arena, b.catalog), nil
}
