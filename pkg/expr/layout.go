package expr

import (
	"unsafe"

	"copyjit/pkg/types"
)

// Every structure in this file lives in an Arena, never on the Go heap.
// Generated code addresses their fields by the offsets exported below, so
// they hold plain words and uintptr links only.

type NullableDatum struct {
	Value  types.Datum
	IsNull bool
	_      [7]byte
}

// TupleSlot holds a stored tuple and its deformed prefix. Values and IsNull
// are valid for attributes [0, Nvalid).
type TupleSlot struct {
	Nvalid     int64
	Natts      int64
	Values     uintptr // *[Natts]types.Datum
	IsNull     uintptr // *[Natts]bool
	Tuple      uintptr // *[TupleNatts]NullableDatum
	TupleNatts int64
}

type ExprContext struct {
	ScanTuple   uintptr // *TupleSlot
	InnerTuple  uintptr
	OuterTuple  uintptr
	AggValues   uintptr // *[]types.Datum
	AggNulls    uintptr // *[]bool
	CaseValue   types.Datum
	CaseIsNull  bool
	_           [7]byte
	Params      uintptr // *[NParams]NullableDatum, addressed by 1-based paramid
	NParams     int64
	ExecParams  uintptr // *[NExecParams]NullableDatum
	NExecParams int64
}

type ExprState struct {
	Flags      uint8
	Resnull    bool
	_          [6]byte
	Resvalue   types.Datum
	ResultSlot uintptr // *TupleSlot
	Steps      uintptr // *[StepsLen]Step
	StepsLen   int64
	Parent     uintptr // *AggState
}

// Step is one evaluation step. Resvalue and Resnull point at the location
// the step writes its result to; D is the opcode specific payload.
type Step struct {
	Opcode   Opcode
	Resvalue uintptr
	Resnull  uintptr
	D        [6]uint64
}

// FunctionCallInfo is followed in memory by Nargs NullableDatum arguments.
type FunctionCallInfo struct {
	FnAddr uintptr
	FnID   types.FuncID
	_      [4]byte
	Nargs  int64
	IsNull bool
	_      [7]byte
}

type AggState struct {
	AllPergroups uintptr // *[nsets]*[ntrans]AggStatePerGroup
	CurPertrans  uintptr
	CurrentSet   int64
}

type AggStatePerGroup struct {
	TransValue       types.Datum
	TransValueIsNull bool
	NoTransValue     bool
	_                [6]byte
}

type AggStatePerTrans struct {
	Fcinfo uintptr
}

// Step payload views. Each overlays Step.D.
type (
	FetchData struct {
		LastVar int64
	}
	VarData struct {
		Attnum int64
	}
	AssignVarData struct {
		Resultnum int64
		Attnum    int64
	}
	AssignTmpData struct {
		Resultnum int64
	}
	ConstData struct {
		Value  types.Datum
		IsNull uint64
	}
	FuncData struct {
		Fcinfo uintptr
		FnAddr uintptr
		Nargs  int64
	}
	BoolExprData struct {
		AnyNull  uintptr
		JumpDone int64
	}
	JumpData struct {
		JumpDone int64
	}
	ParamData struct {
		ParamID int64
	}
	CaseTestData struct {
		Value  uintptr
		IsNull uintptr
	}
	AggrefData struct {
		Aggno int64
	}
	PergroupNullcheckData struct {
		Setoff   int64
		JumpNull int64
	}
	StrictInputCheckData struct {
		Args     uintptr
		Nargs    int64
		JumpNull int64
	}
	AggTransData struct {
		Pertrans uintptr
		Setoff   int64
		Transno  int64
		Setno    int64
	}
)

const (
	NullableDatumSize = unsafe.Sizeof(NullableDatum{})
	StepSize          = unsafe.Sizeof(Step{})
	PerGroupSize      = unsafe.Sizeof(AggStatePerGroup{})

	NullableValueOffset  = unsafe.Offsetof(NullableDatum{}.Value)
	NullableIsNullOffset = unsafe.Offsetof(NullableDatum{}.IsNull)

	SlotNvalidOffset     = unsafe.Offsetof(TupleSlot{}.Nvalid)
	SlotNattsOffset      = unsafe.Offsetof(TupleSlot{}.Natts)
	SlotValuesOffset     = unsafe.Offsetof(TupleSlot{}.Values)
	SlotIsNullOffset     = unsafe.Offsetof(TupleSlot{}.IsNull)
	SlotTupleOffset      = unsafe.Offsetof(TupleSlot{}.Tuple)
	SlotTupleNattsOffset = unsafe.Offsetof(TupleSlot{}.TupleNatts)

	EcxtScanTupleOffset   = unsafe.Offsetof(ExprContext{}.ScanTuple)
	EcxtInnerTupleOffset  = unsafe.Offsetof(ExprContext{}.InnerTuple)
	EcxtOuterTupleOffset  = unsafe.Offsetof(ExprContext{}.OuterTuple)
	EcxtAggValuesOffset   = unsafe.Offsetof(ExprContext{}.AggValues)
	EcxtAggNullsOffset    = unsafe.Offsetof(ExprContext{}.AggNulls)
	EcxtCaseValueOffset   = unsafe.Offsetof(ExprContext{}.CaseValue)
	EcxtCaseIsNullOffset  = unsafe.Offsetof(ExprContext{}.CaseIsNull)
	EcxtParamsOffset      = unsafe.Offsetof(ExprContext{}.Params)
	EcxtExecParamsOffset  = unsafe.Offsetof(ExprContext{}.ExecParams)
	EcxtNParamsOffset     = unsafe.Offsetof(ExprContext{}.NParams)
	EcxtNExecParamsOffset = unsafe.Offsetof(ExprContext{}.NExecParams)

	StateResnullOffset    = unsafe.Offsetof(ExprState{}.Resnull)
	StateResvalueOffset   = unsafe.Offsetof(ExprState{}.Resvalue)
	StateResultSlotOffset = unsafe.Offsetof(ExprState{}.ResultSlot)
	StateParentOffset     = unsafe.Offsetof(ExprState{}.Parent)

	StepResvalueOffset = unsafe.Offsetof(Step{}.Resvalue)
	StepResnullOffset  = unsafe.Offsetof(Step{}.Resnull)
	StepDataOffset     = unsafe.Offsetof(Step{}.D)

	FcinfoFnAddrOffset = unsafe.Offsetof(FunctionCallInfo{}.FnAddr)
	FcinfoIsNullOffset = unsafe.Offsetof(FunctionCallInfo{}.IsNull)
	FcinfoArgsOffset   = unsafe.Sizeof(FunctionCallInfo{})

	AggAllPergroupsOffset = unsafe.Offsetof(AggState{}.AllPergroups)
	AggCurPertransOffset  = unsafe.Offsetof(AggState{}.CurPertrans)
	AggCurrentSetOffset   = unsafe.Offsetof(AggState{}.CurrentSet)

	PerGroupTransValueOffset   = unsafe.Offsetof(AggStatePerGroup{}.TransValue)
	PerGroupTransIsNullOffset  = unsafe.Offsetof(AggStatePerGroup{}.TransValueIsNull)
	PerGroupNoTransValueOffset = unsafe.Offsetof(AggStatePerGroup{}.NoTransValue)

	PertransFcinfoOffset = unsafe.Offsetof(AggStatePerTrans{}.Fcinfo)

	CaseTestValueOffset  = StepDataOffset + unsafe.Offsetof(CaseTestData{}.Value)
	CaseTestIsNullOffset = StepDataOffset + unsafe.Offsetof(CaseTestData{}.IsNull)
)

// Ptr views off-heap memory at addr as a *T.
func Ptr[T any](addr uintptr) *T {
	return (*T)(unsafe.Pointer(addr))
}

// Addr returns the address of an off-heap structure.
func Addr[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func (s *Step) Fetch() *FetchData                 { return (*FetchData)(unsafe.Pointer(&s.D)) }
func (s *Step) Var() *VarData                     { return (*VarData)(unsafe.Pointer(&s.D)) }
func (s *Step) AssignVar() *AssignVarData         { return (*AssignVarData)(unsafe.Pointer(&s.D)) }
func (s *Step) AssignTmp() *AssignTmpData         { return (*AssignTmpData)(unsafe.Pointer(&s.D)) }
func (s *Step) Const() *ConstData                 { return (*ConstData)(unsafe.Pointer(&s.D)) }
func (s *Step) Func() *FuncData                   { return (*FuncData)(unsafe.Pointer(&s.D)) }
func (s *Step) BoolExpr() *BoolExprData           { return (*BoolExprData)(unsafe.Pointer(&s.D)) }
func (s *Step) Jump() *JumpData                   { return (*JumpData)(unsafe.Pointer(&s.D)) }
func (s *Step) Param() *ParamData                 { return (*ParamData)(unsafe.Pointer(&s.D)) }
func (s *Step) CaseTest() *CaseTestData           { return (*CaseTestData)(unsafe.Pointer(&s.D)) }
func (s *Step) Aggref() *AggrefData               { return (*AggrefData)(unsafe.Pointer(&s.D)) }
func (s *Step) PergroupNullcheck() *PergroupNullcheckData {
	return (*PergroupNullcheckData)(unsafe.Pointer(&s.D))
}
func (s *Step) StrictInputCheck() *StrictInputCheckData {
	return (*StrictInputCheckData)(unsafe.Pointer(&s.D))
}
func (s *Step) AggTrans() *AggTransData { return (*AggTransData)(unsafe.Pointer(&s.D)) }

func (s *Step) ResultValue() types.Datum { return *Ptr[types.Datum](s.Resvalue) }
func (s *Step) ResultNull() bool         { return *Ptr[bool](s.Resnull) }

func (s *Step) SetResult(value types.Datum, isnull bool) {
	*Ptr[types.Datum](s.Resvalue) = value
	*Ptr[bool](s.Resnull) = isnull
}

func (s *Step) SetNull(isnull bool) {
	*Ptr[bool](s.Resnull) = isnull
}

// JumpTarget returns the step index a control-flow opcode may transfer to.
func (s *Step) JumpTarget() (int, bool) {
	switch s.Opcode {
	case OpQual, OpJump, OpJumpIfNull, OpJumpIfNotNull, OpJumpIfNotTrue:
		return int(s.Jump().JumpDone), true
	case OpBoolAndStepFirst, OpBoolAndStep, OpBoolAndStepLast,
		OpBoolOrStepFirst, OpBoolOrStep, OpBoolOrStepLast:
		return int(s.BoolExpr().JumpDone), true
	case OpAggPlainPergroupNullcheck:
		return int(s.PergroupNullcheck().JumpNull), true
	case OpAggStrictInputCheckArgs:
		return int(s.StrictInputCheck().JumpNull), true
	}
	return 0, false
}

func (s *Step) setJumpTarget(target int) bool {
	switch s.Opcode {
	case OpQual, OpJump, OpJumpIfNull, OpJumpIfNotNull, OpJumpIfNotTrue:
		s.Jump().JumpDone = int64(target)
	case OpBoolAndStepFirst, OpBoolAndStep, OpBoolAndStepLast,
		OpBoolOrStepFirst, OpBoolOrStep, OpBoolOrStepLast:
		s.BoolExpr().JumpDone = int64(target)
	case OpAggPlainPergroupNullcheck:
		s.PergroupNullcheck().JumpNull = int64(target)
	case OpAggStrictInputCheckArgs:
		s.StrictInputCheck().JumpNull = int64(target)
	default:
		return false
	}
	return true
}

// IsFuncCall reports whether the payload is FuncData.
func (o Opcode) IsFuncCall() bool {
	switch o {
	case OpFuncexpr, OpFuncexprStrict, OpFuncexprFusage, OpFuncexprStrictFusage,
		OpDistinct, OpNotDistinct, OpNullif:
		return true
	}
	return false
}

func (f *FunctionCallInfo) Arg(i int) *NullableDatum {
	return (*NullableDatum)(unsafe.Add(unsafe.Pointer(f), FcinfoArgsOffset+uintptr(i)*NullableDatumSize))
}

// ArgAddr is the address of argument i, the location argument steps write to.
func (f *FunctionCallInfo) ArgAddr(i int) uintptr {
	return Addr(f) + FcinfoArgsOffset + uintptr(i)*NullableDatumSize
}

func (s *TupleSlot) Value(i int) types.Datum {
	return *(*types.Datum)(unsafe.Add(unsafe.Pointer(s.Values), i*8))
}

func (s *TupleSlot) Null(i int) bool {
	return *(*bool)(unsafe.Add(unsafe.Pointer(s.IsNull), i))
}

func (s *TupleSlot) ValueAddr(i int) uintptr {
	return s.Values + uintptr(i)*8
}

func (s *TupleSlot) NullAddr(i int) uintptr {
	return s.IsNull + uintptr(i)
}

func (s *TupleSlot) set(i int, value types.Datum, isnull bool) {
	*(*types.Datum)(unsafe.Add(unsafe.Pointer(s.Values), i*8)) = value
	*(*bool)(unsafe.Add(unsafe.Pointer(s.IsNull), i)) = isnull
}

func (s *TupleSlot) stored(i int) *NullableDatum {
	return (*NullableDatum)(unsafe.Add(unsafe.Pointer(s.Tuple), uintptr(i)*NullableDatumSize))
}

// StoreTuple replaces the slot's stored tuple and invalidates the deformed
// prefix. Values beyond the slot's width are dropped.
func (s *TupleSlot) StoreTuple(values []NullableDatum) {
	n := int64(len(values))
	if n > s.Natts {
		n = s.Natts
	}
	for i := int64(0); i < n; i++ {
		*s.stored(int(i)) = values[i]
	}
	s.TupleNatts = n
	s.Nvalid = 0
}

// Clear marks every attribute of a result slot as null.
func (s *TupleSlot) Clear() {
	for i := 0; i < int(s.Natts); i++ {
		s.set(i, 0, true)
	}
	s.Nvalid = 0
}

func (e *ExprContext) Slot(addr uintptr) *TupleSlot {
	if addr == 0 {
		return nil
	}
	return Ptr[TupleSlot](addr)
}

func (e *ExprContext) AggValue(i int) (types.Datum, bool) {
	v := *(*types.Datum)(unsafe.Add(unsafe.Pointer(e.AggValues), i*8))
	n := *(*bool)(unsafe.Add(unsafe.Pointer(e.AggNulls), i))
	return v, n
}

func (e *ExprContext) SetAggValue(i int, value types.Datum, isnull bool) {
	*(*types.Datum)(unsafe.Add(unsafe.Pointer(e.AggValues), i*8)) = value
	*(*bool)(unsafe.Add(unsafe.Pointer(e.AggNulls), i)) = isnull
}

func nullableAt(base uintptr, i int) *NullableDatum {
	return (*NullableDatum)(unsafe.Add(unsafe.Pointer(base), uintptr(i)*NullableDatumSize))
}

// Param returns extern parameter paramid (1-based).
func (e *ExprContext) Param(paramid int) *NullableDatum {
	return nullableAt(e.Params, paramid-1)
}

func (e *ExprContext) ExecParam(paramid int) *NullableDatum {
	return nullableAt(e.ExecParams, paramid)
}

// StepSlice views the state's step array.
func (s *ExprState) StepSlice() []Step {
	if s.Steps == 0 || s.StepsLen == 0 {
		return nil
	}
	return unsafe.Slice((*Step)(unsafe.Pointer(s.Steps)), s.StepsLen)
}

func (a *AggState) Pergroup(setoff, transno int) *AggStatePerGroup {
	sets := *(*uintptr)(unsafe.Add(unsafe.Pointer(a.AllPergroups), setoff*8))
	if sets == 0 {
		return nil
	}
	return (*AggStatePerGroup)(unsafe.Add(unsafe.Pointer(sets), uintptr(transno)*PerGroupSize))
}

func (a *AggState) pergroupSet(setoff int) uintptr {
	return *(*uintptr)(unsafe.Add(unsafe.Pointer(a.AllPergroups), setoff*8))
}
