package expr

import (
	"sync"

	"copyjit/pkg/types"
)

// Expression is a built program together with the evaluator currently
// bound to it. The interpreter is bound until a JIT provider rebinds it.
type Expression struct {
	State   *ExprState
	Catalog *Catalog

	arena  *Arena
	interp *Interpreter

	mu      sync.RWMutex
	eval    EvalFunc
	rebound bool
}

func newExpression(state *ExprState, arena *Arena, catalog *Catalog) *Expression {
	in := NewInterpreter(catalog)
	return &Expression{
		State:   state,
		Catalog: catalog,
		arena:   arena,
		interp:  in,
		eval:    in.Eval,
	}
}

// Eval evaluates the expression with the bound evaluator.
func (e *Expression) Eval(econtext *ExprContext) (types.Datum, bool, error) {
	e.mu.RLock()
	f := e.eval
	e.mu.RUnlock()
	return f(e.State, econtext)
}

// Interpret evaluates with the reference interpreter regardless of binding.
func (e *Expression) Interpret(econtext *ExprContext) (types.Datum, bool, error) {
	return e.interp.Eval(e.State, econtext)
}

// Bind replaces the evaluator.
func (e *Expression) Bind(f EvalFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eval = f
	e.rebound = true
}

// Unbind restores the reference interpreter.
func (e *Expression) Unbind() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eval = e.interp.Eval
	e.rebound = false
}

// Interpreted reports whether the reference interpreter is bound.
func (e *Expression) Interpreted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.rebound
}

func (e *Expression) Steps() []Step {
	return e.State.StepSlice()
}

func (e *Expression) Step(i int) *Step {
	return &e.State.StepSlice()[i]
}

func (e *Expression) StepAddr(i int) uintptr {
	return e.State.Steps + uintptr(i)*StepSize
}

func (e *Expression) Arena() *Arena {
	return e.arena
}

// Free releases the arena backing the program and every structure built
// alongside it.
func (e *Expression) Free() error {
	return e.arena.Free()
}
