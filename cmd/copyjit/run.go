package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/common/expfmt"

	"copyjit/pkg/expr"
	"copyjit/pkg/jit"
	"copyjit/pkg/types"
)

type sample struct {
	name  string
	build func(b *expr.Builder, ec *expr.ExprContext) *expr.TupleSlot
	rows  [][]expr.NullableDatum
}

func int4(x int32) expr.NullableDatum {
	return expr.NullableDatum{Value: types.Int32GetDatum(x)}
}

// binaryCall is FETCHSOME, two VARs and a call of fn over a two column slot.
func binaryCall(op expr.Opcode, fn string) func(b *expr.Builder, ec *expr.ExprContext) *expr.TupleSlot {
	return func(b *expr.Builder, ec *expr.ExprContext) *expr.TupleSlot {
		scan := b.NewSlot(2)
		ec.ScanTuple = expr.Addr(scan)
		fc := b.NewCall(fn)
		b.Fetch(expr.OpScanFetchsome, 2)
		b.Var(expr.OpScanVar, 0, expr.ArgTarget(fc, 0))
		b.Var(expr.OpScanVar, 1, expr.ArgTarget(fc, 1))
		b.Func(op, fc, b.StateTarget())
		b.Done()
		return scan
	}
}

var samples = []sample{
	{
		name: "scan assign",
		build: func(b *expr.Builder, ec *expr.ExprContext) *expr.TupleSlot {
			scan := b.NewSlot(2)
			b.SetResultSlot(b.NewSlot(1))
			ec.ScanTuple = expr.Addr(scan)
			b.Fetch(expr.OpScanFetchsome, 1)
			b.Var(expr.OpScanVar, 0, b.StateTarget())
			b.AssignVar(expr.OpAssignScanVar, 0, 0)
			b.Done()
			return scan
		},
		rows: [][]expr.NullableDatum{{int4(42), int4(0)}},
	},
	{
		name:  "int4eq",
		build: binaryCall(expr.OpFuncexprStrict, "int4eq"),
		rows:  [][]expr.NullableDatum{{int4(3), int4(3)}, {int4(3), int4(4)}, {int4(3), {IsNull: true}}},
	},
	{
		name:  "int4pl",
		build: binaryCall(expr.OpFuncexprStrictFusage, "int4pl"),
		rows:  [][]expr.NullableDatum{{int4(40), int4(2)}, {{IsNull: true}, int4(2)}},
	},
	{
		name: "row",
		build: func(b *expr.Builder, ec *expr.ExprContext) *expr.TupleSlot {
			b.Emit(expr.OpRow, b.StateTarget())
			b.Done()
			return nil
		},
		rows: [][]expr.NullableDatum{nil},
	},
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML or JSON jit configuration")
	metrics := fs.Bool("metrics", false, "Print the provider metrics afterwards")
	fs.Parse(args)

	cfg := jit.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = jit.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	p, err := jit.Init(cfg)
	if err != nil {
		log.Fatalf("Failed to initialise jit: %v", err)
	}
	if !p.CanRun() {
		log.Printf("Generated code cannot run on this host; every sample stays interpreted")
	}

	owner := expr.NewResourceOwner("copyjit run")
	defer func() {
		if err := owner.Release(false); err != nil {
			log.Printf("Failed to release session resources: %v", err)
		}
	}()

	for _, s := range samples {
		b := expr.NewBuilder(expr.WithNatives(p.Natives()))
		ec := b.NewContext()
		scan := s.build(b, ec)
		e, err := b.Build()
		if err != nil {
			log.Fatalf("%s: %v", s.name, err)
		}

		ctx, err := p.NewContext(owner)
		if err != nil {
			log.Fatalf("%s: %v", s.name, err)
		}
		native := p.CompileExpr(ctx, e)
		fmt.Printf("%s: native=%v\n", s.name, native)

		for _, row := range s.rows {
			if scan != nil {
				scan.Clear()
				scan.StoreTuple(row)
			}
			want, wantNull, ierr := e.Interpret(ec)
			if scan != nil {
				scan.Clear()
				scan.StoreTuple(row)
			}
			got, gotNull, eerr := e.Eval(ec)
			fmt.Printf("  %v -> eval (%d, null=%v, err=%v) interp (%d, null=%v, err=%v)\n",
				row, got, gotNull, eerr, want, wantNull, ierr)
		}
		if err := p.ReleaseContext(ctx); err != nil {
			log.Printf("%s: release: %v", s.name, err)
		}
		if err := e.Free(); err != nil {
			log.Printf("%s: free: %v", s.name, err)
		}
	}

	if *metrics {
		mfs, err := p.Metrics().Registry.Gather()
		if err != nil {
			log.Fatalf("Failed to gather metrics: %v", err)
		}
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
				log.Fatalf("Failed to write metrics: %v", err)
			}
		}
	}
}
