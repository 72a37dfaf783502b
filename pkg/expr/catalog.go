package expr

import (
	"sort"

	"copyjit/pkg/types"
)

// PGFunction is the Go body of a catalog function. It reads its arguments
// from fcinfo and may set fcinfo.IsNull.
type PGFunction func(fcinfo *FunctionCallInfo) types.Datum

type FuncInfo struct {
	ID     types.FuncID
	Name   string
	Nargs  int
	Strict bool
	Fn     PGFunction
}

type Catalog struct {
	byID   map[types.FuncID]*FuncInfo
	byName map[string]*FuncInfo
}

func NewCatalog(funcs ...FuncInfo) *Catalog {
	c := &Catalog{
		byID:   make(map[types.FuncID]*FuncInfo, len(funcs)),
		byName: make(map[string]*FuncInfo, len(funcs)),
	}
	for i := range funcs {
		f := funcs[i]
		c.byID[f.ID] = &f
		c.byName[f.Name] = &f
	}
	return c
}

func (c *Catalog) Lookup(id types.FuncID) (*FuncInfo, bool) {
	f, ok := c.byID[id]
	return f, ok
}

func (c *Catalog) LookupName(name string) (*FuncInfo, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// Funcs returns every function ordered by id.
func (c *Catalog) Funcs() []*FuncInfo {
	out := make([]*FuncInfo, 0, len(c.byID))
	for _, f := range c.byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func arg32(fcinfo *FunctionCallInfo, i int) int32 {
	return types.DatumGetInt32(fcinfo.Arg(i).Value)
}

func arg64(fcinfo *FunctionCallInfo, i int) int64 {
	return types.DatumGetInt64(fcinfo.Arg(i).Value)
}

func int4cmp(cmp func(a, b int32) bool) PGFunction {
	return func(fcinfo *FunctionCallInfo) types.Datum {
		return types.BoolGetDatum(cmp(arg32(fcinfo, 0), arg32(fcinfo, 1)))
	}
}

func int8cmp(cmp func(a, b int64) bool) PGFunction {
	return func(fcinfo *FunctionCallInfo) types.Datum {
		return types.BoolGetDatum(cmp(arg64(fcinfo, 0), arg64(fcinfo, 1)))
	}
}

func int4arith(op func(a, b int32) int32) PGFunction {
	return func(fcinfo *FunctionCallInfo) types.Datum {
		return types.Int32GetDatum(op(arg32(fcinfo, 0), arg32(fcinfo, 1)))
	}
}

func int8arith(op func(a, b int64) int64) PGFunction {
	return func(fcinfo *FunctionCallInfo) types.Datum {
		return types.Int64GetDatum(op(arg64(fcinfo, 0), arg64(fcinfo, 1)))
	}
}

// Builtin function ids follow the host catalog's oids.
const (
	FnInt4Eq      types.FuncID = 65
	FnInt4Lt      types.FuncID = 66
	FnInt4Mul     types.FuncID = 141
	FnInt4Ne      types.FuncID = 144
	FnInt4Gt      types.FuncID = 147
	FnInt4Le      types.FuncID = 149
	FnInt4Ge      types.FuncID = 150
	FnInt4Pl      types.FuncID = 177
	FnInt4Mi      types.FuncID = 181
	FnInt8Pl      types.FuncID = 463
	FnInt8Mi      types.FuncID = 464
	FnInt8Eq      types.FuncID = 467
	FnInt8Lt      types.FuncID = 469
	FnInt4Larger  types.FuncID = 768
	FnInt4Smaller types.FuncID = 769
	FnInt8Inc     types.FuncID = 1219
	FnInt84Pl     types.FuncID = 1274
)

// Integer arithmetic wraps; overflow is not reported.
var builtins = []FuncInfo{
	{FnInt4Eq, "int4eq", 2, true, int4cmp(func(a, b int32) bool { return a == b })},
	{FnInt4Lt, "int4lt", 2, true, int4cmp(func(a, b int32) bool { return a < b })},
	{FnInt4Mul, "int4mul", 2, true, int4arith(func(a, b int32) int32 { return a * b })},
	{FnInt4Ne, "int4ne", 2, true, int4cmp(func(a, b int32) bool { return a != b })},
	{FnInt4Gt, "int4gt", 2, true, int4cmp(func(a, b int32) bool { return a > b })},
	{FnInt4Le, "int4le", 2, true, int4cmp(func(a, b int32) bool { return a <= b })},
	{FnInt4Ge, "int4ge", 2, true, int4cmp(func(a, b int32) bool { return a >= b })},
	{FnInt4Pl, "int4pl", 2, true, int4arith(func(a, b int32) int32 { return a + b })},
	{FnInt4Mi, "int4mi", 2, true, int4arith(func(a, b int32) int32 { return a - b })},
	{FnInt8Pl, "int8pl", 2, true, int8arith(func(a, b int64) int64 { return a + b })},
	{FnInt8Mi, "int8mi", 2, true, int8arith(func(a, b int64) int64 { return a - b })},
	{FnInt8Eq, "int8eq", 2, true, int8cmp(func(a, b int64) bool { return a == b })},
	{FnInt8Lt, "int8lt", 2, true, int8cmp(func(a, b int64) bool { return a < b })},
	{FnInt4Larger, "int4larger", 2, true, int4arith(func(a, b int32) int32 { return max(a, b) })},
	{FnInt4Smaller, "int4smaller", 2, true, int4arith(func(a, b int32) int32 { return min(a, b) })},
	{FnInt8Inc, "int8inc", 1, true, func(fcinfo *FunctionCallInfo) types.Datum {
		return types.Int64GetDatum(arg64(fcinfo, 0) + 1)
	}},
	{FnInt84Pl, "int84pl", 2, true, func(fcinfo *FunctionCallInfo) types.Datum {
		return types.Int64GetDatum(arg64(fcinfo, 0) + int64(arg32(fcinfo, 1)))
	}},
}

// DefaultCatalog holds the builtin scalar functions.
var DefaultCatalog = NewCatalog(builtins...)
