package jit

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"copyjit/pkg/expr"
	"copyjit/pkg/hostlib"
	"copyjit/pkg/jit/asm"
	"copyjit/pkg/stencil"
	"copyjit/pkg/stencil/a64"
	"copyjit/pkg/stencil/x86"
	"copyjit/pkg/stencilstore"
)

// Provider is the entry point the host engine calls: it builds the
// stencil table once, compiles expressions into per-session contexts and
// releases them.
type Provider struct {
	cfg      Config
	table    *stencil.Table
	symbols  *stencil.Symbols
	natives  *hostlib.Library
	compiler *Compiler
	metrics  *Metrics

	mu       sync.Mutex
	contexts map[uuid.UUID]*Context
	sessions map[*expr.ResourceOwner]*Context
}

type Option func(*Provider)

// WithTable injects a stencil table instead of building or loading one.
func WithTable(t *stencil.Table) Option {
	return func(p *Provider) { p.table = t }
}

// WithSymbols injects the addresses stencils are linked against.
func WithSymbols(s *stencil.Symbols) Option {
	return func(p *Provider) { p.symbols = s }
}

// TableFor returns the built-in stencil table of arch.
func TableFor(arch stencil.Arch) (*stencil.Table, error) {
	switch arch {
	case stencil.ArchAMD64:
		return x86.Table(), nil
	case stencil.ArchARM64:
		return a64.Table(), nil
	}
	return nil, errors.Wrapf(ErrUnknownArch, "%q", arch)
}

// Init builds a provider. It must run before any compilation.
func Init(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Arch == "" {
		cfg.Arch = runtime.GOARCH
	}
	p := &Provider{
		cfg:      cfg,
		metrics:  newMetrics(),
		contexts: make(map[uuid.UUID]*Context),
		sessions: make(map[*expr.ResourceOwner]*Context),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.table == nil {
		t, err := p.loadTable()
		if err != nil {
			return nil, err
		}
		p.table = t
	}
	if p.symbols == nil && p.table.Arch == stencil.ArchAMD64 {
		lib, err := hostlib.Native()
		if err != nil {
			log.Printf("jit: native host library unavailable: %v", err)
		} else {
			p.natives = lib
			p.symbols = lib.Symbols()
		}
	}

	c, err := NewCompiler(p.table, p.symbols)
	if err != nil {
		return nil, err
	}
	p.compiler = c
	return p, nil
}

func (p *Provider) loadTable() (*stencil.Table, error) {
	arch := stencil.Arch(p.cfg.Arch)
	if p.cfg.StencilDB == "" {
		return TableFor(arch)
	}
	store, err := stencilstore.Open(p.cfg.StencilDB)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	t, err := store.Latest(arch)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s stencils from %s", arch, p.cfg.StencilDB)
	}
	log.Printf("jit: loaded %s stencil table from %s", arch, p.cfg.StencilDB)
	return t, nil
}

func (p *Provider) Config() Config { return p.cfg }
func (p *Provider) Table() *stencil.Table { return p.table }
func (p *Provider) Compiler() *Compiler { return p.compiler }
func (p *Provider) Metrics() *Metrics { return p.metrics }

// Natives resolves catalog functions to native code for expression
// builders. It is nil when the host library is not loaded.
func (p *Provider) Natives() expr.NativeResolver {
	if p.natives == nil {
		return nil
	}
	return p.natives
}

// CanRun reports whether code from this provider can execute here.
func (p *Provider) CanRun() bool {
	return asm.Supported && p.table.Arch == stencil.ArchAMD64 &&
		p.natives != nil && p.natives.Available()
}

// NewContext creates a context for one session and registers it with
// owner.
func (p *Provider) NewContext(owner *expr.ResourceOwner) (*Context, error) {
	c := &Context{
		ID:       uuid.New(),
		provider: p,
		owner:    owner,
		state:    ContextCreated,
	}
	if owner != nil {
		if err := owner.Remember(c); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	p.contexts[c.ID] = c
	p.mu.Unlock()
	return c, nil
}

// SessionContext returns the live context of owner's session, creating
// and registering one on first use. A nil owner is a session of its own
// whose context the caller releases with ReleaseContext.
func (p *Provider) SessionContext(owner *expr.ResourceOwner) (*Context, error) {
	p.mu.Lock()
	c, ok := p.sessions[owner]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := p.NewContext(owner)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	if prev, ok := p.sessions[owner]; ok {
		p.mu.Unlock()
		return prev, p.ReleaseContext(c)
	}
	p.sessions[owner] = c
	p.mu.Unlock()
	return c, nil
}

// CompileSession compiles e into the context of owner's session, creating
// that context on the first attempt.
func (p *Provider) CompileSession(owner *expr.ResourceOwner, e *expr.Expression) (*Context, bool) {
	if !p.cfg.Enabled {
		return nil, false
	}
	ctx, err := p.SessionContext(owner)
	if err != nil {
		log.Printf("jit: session context: %v", err)
		return nil, false
	}
	return ctx, p.CompileExpr(ctx, e)
}

// CompileExpr compiles e into ctx and rebinds e's evaluator. A nil ctx
// means the unowned session's context. It reports false, leaving e with
// the interpreter, when the program has unsupported steps or anything
// goes wrong.
func (p *Provider) CompileExpr(ctx *Context, e *expr.Expression) bool {
	if !p.cfg.Enabled {
		return false
	}
	if ctx == nil {
		_, ok := p.CompileSession(nil, e)
		return ok
	}
	if !p.CanRun() {
		log.Printf("jit: %v", ErrNoNativeHost)
		return false
	}
	if s := ctx.State(); s != ContextCreated {
		if s == ContextPopulated {
			log.Printf("jit: context %s: %v", ctx.ID, ErrContextPopulated)
		} else {
			log.Printf("jit: context %s: %v", ctx.ID, ErrContextReleased)
		}
		return false
	}

	start := time.Now()
	res, err := p.compiler.Compile(e)
	elapsed := time.Since(start)
	ctx.accumulate(elapsed)
	p.metrics.generation.Observe(elapsed.Seconds())
	if err != nil {
		ctx.markFailed()
		p.metrics.failed.Inc()
		log.Printf("jit: compile failed: %v", err)
		return false
	}
	if !res.Buildable {
		for _, u := range res.Unsupported {
			log.Printf("jit: step %d: cannot build %s: %s", u.Step, u.Opcode, u.Reason)
		}
		p.metrics.notBuildable.WithLabelValues(res.Unsupported[0].Opcode.String()).Inc()
		return false
	}

	var wrap func()
	if p.cfg.WrapEntry {
		wrap = p.metrics.evaluations.Inc
	}
	if err := ctx.populate(e, res, wrap); err != nil {
		log.Printf("jit: context %s: %v", ctx.ID, errors.CombineErrors(err, res.Code.Free()))
		return false
	}
	p.metrics.compiled.Inc()
	p.metrics.codeBytes.Add(float64(res.Code.Len()))
	if p.cfg.LogCompiles {
		log.Printf("jit: compiled %d steps into %d bytes (%d trampolines) in %s",
			len(res.Offsets), res.Size, len(res.TrampolineTargets), elapsed)
	}
	return true
}

// ReleaseContext unmaps ctx's code and drops it from its owner.
func (p *Provider) ReleaseContext(ctx *Context) error {
	if ctx.owner != nil {
		ctx.owner.Forget(ctx)
	}
	return ctx.release()
}

// ResetAfterError releases the contexts of owner's session whose
// compilation failed or that never received code, as the host does when
// it aborts that session. Other sessions are left alone.
func (p *Provider) ResetAfterError(owner *expr.ResourceOwner) error {
	p.mu.Lock()
	var stale []*Context
	for _, c := range p.contexts {
		if c.owner != owner {
			continue
		}
		c.mu.RLock()
		if c.failed || c.state == ContextCreated {
			stale = append(stale, c)
		}
		c.mu.RUnlock()
	}
	p.mu.Unlock()

	var err error
	for _, c := range stale {
		err = errors.CombineErrors(err, p.ReleaseContext(c))
	}
	return err
}

// Contexts is the number of live contexts.
func (p *Provider) Contexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

func (p *Provider) forget(c *Context) {
	p.mu.Lock()
	delete(p.contexts, c.ID)
	if p.sessions[c.owner] == c {
		delete(p.sessions, c.owner)
	}
	p.mu.Unlock()
}
