package jit

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"copyjit/pkg/execmem"
	"copyjit/pkg/expr"
	"copyjit/pkg/jit/asm"
	"copyjit/pkg/types"
)

type ContextState int

const (
	ContextCreated ContextState = iota + 1
	ContextPopulated
	ContextReleased
)

func (s ContextState) String() string {
	switch s {
	case ContextCreated:
		return "created"
	case ContextPopulated:
		return "populated"
	case ContextReleased:
		return "released"
	}
	return "absent"
}

// Instrumentation accumulates what a context spent on code generation.
type Instrumentation struct {
	CreatedFunctions int
	GenerationTime   time.Duration
	CodeBytes        int
}

// Context owns the generated code of one evaluation session. It is
// registered with the session's resource owner so the code is unmapped
// exactly once, on release or on owner cleanup.
type Context struct {
	ID uuid.UUID

	provider *Provider
	owner    *expr.ResourceOwner

	mu     sync.RWMutex
	state  ContextState
	code   *execmem.Buffer
	bound  []*expr.Expression
	failed bool
	instr  Instrumentation
}

func (c *Context) ResourceName() string {
	return fmt.Sprintf("jit context %s", c.ID)
}

// ReleaseResource is called by the owner on session teardown.
func (c *Context) ReleaseResource() error {
	return c.release()
}

func (c *Context) State() ContextState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Context) Instrumentation() Instrumentation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instr
}

// Code returns the context's code buffer, nil unless populated.
func (c *Context) Code() *execmem.Buffer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code
}

func (c *Context) accumulate(d time.Duration) {
	c.mu.Lock()
	c.instr.GenerationTime += d
	c.mu.Unlock()
}

func (c *Context) markFailed() {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
}

// populate hands res's code to the context and rebinds e to it.
func (c *Context) populate(e *expr.Expression, res *Result, wrap func()) error {
	isnull, err := e.Arena().Alloc(1, 8)
	if err != nil {
		return errors.Wrap(err, "allocate result null flag")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case ContextPopulated:
		return ErrContextPopulated
	case ContextReleased:
		return ErrContextReleased
	}
	c.state = ContextPopulated
	c.code = res.Code
	c.bound = append(c.bound, e)
	c.instr.CreatedFunctions++
	c.instr.CodeBytes += res.Code.Len()

	e.Bind(c.evaluator(res.Entry, isnull, wrap))
	return nil
}

func (c *Context) evaluator(entry, isnull uintptr, wrap func()) expr.EvalFunc {
	return func(state *expr.ExprState, econtext *expr.ExprContext) (types.Datum, bool, error) {
		if econtext == nil {
			return 0, false, errors.New("nil expression context")
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.state != ContextPopulated {
			return 0, false, ErrContextReleased
		}
		if wrap != nil {
			wrap()
		}
		v := asm.CallExpr(entry, expr.Addr(state), expr.Addr(econtext), isnull)
		return types.Datum(v), *expr.Ptr[bool](isnull), nil
	}
}

// release unbinds every expression, unmaps the code and forgets the
// context. Later calls do nothing.
func (c *Context) release() error {
	c.mu.Lock()
	if c.state == ContextReleased {
		c.mu.Unlock()
		return nil
	}
	c.state = ContextReleased
	for _, e := range c.bound {
		e.Unbind()
	}
	c.bound = nil
	code := c.code
	c.code = nil
	c.mu.Unlock()

	var err error
	if code != nil {
		n := code.Len()
		err = code.Free()
		if c.provider != nil {
			c.provider.metrics.codeBytes.Sub(float64(n))
		}
	}
	if c.provider != nil {
		c.provider.forget(c)
	}
	return err
}
