package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"copyjit/pkg/jit"
	"copyjit/pkg/stencil"
	"copyjit/pkg/stencilstore"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: copyjit <command> [flags]

commands:
  dump       list the stencils of a table
  export     store the built-in table of an architecture
  tables     list the tables in a stencil store
  run        compile and run sample expressions against the interpreter
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "dump":
		dumpCmd(args)
	case "export":
		exportCmd(args)
	case "tables":
		tablesCmd(args)
	case "run":
		runCmd(args)
	default:
		usage()
	}
}

// loadTable reads the latest table of arch from db, or the built-in one
// when db is empty.
func loadTable(arch, db string) *stencil.Table {
	if db == "" {
		t, err := jit.TableFor(stencil.Arch(arch))
		if err != nil {
			log.Fatalf("Failed to build stencil table: %v", err)
		}
		return t
	}
	store, err := stencilstore.Open(db)
	if err != nil {
		log.Fatalf("Failed to open stencil store: %v", err)
	}
	defer store.Close()
	t, err := store.Latest(stencil.Arch(arch))
	if err != nil {
		log.Fatalf("Failed to load %s table: %v", arch, err)
	}
	return t
}

func dumpCmd(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	arch := fs.String("arch", runtime.GOARCH, "Target architecture (amd64 or arm64)")
	db := fs.String("db", "", "Stencil store to read instead of the built-in table")
	disasm := fs.Bool("disasm", false, "Disassemble every stencil")
	fs.Parse(args)

	t := loadTable(*arch, *db)
	fp := t.Fingerprint()
	fmt.Printf("%s table %x\n", t.Arch, fp[:8])

	show := func(kind string, s *stencil.Stencil) {
		fmt.Printf("%-10s %-36s %4d bytes %2d patches %d trampolines\n",
			kind, s.Name, s.Size(), len(s.Patches), s.Trampolines())
		if *disasm {
			printDisasm(t.Arch, s)
		}
	}
	for _, op := range t.Opcodes() {
		s, _ := t.Lookup(op)
		show("op", s)
	}
	for _, name := range t.Fragments() {
		s, _ := t.Fragment(name)
		show("fragment", s)
	}
	for _, name := range t.StrictFuncs() {
		s, _ := t.Strict(name)
		show("strict", s)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	arch := fs.String("arch", runtime.GOARCH, "Target architecture (amd64 or arm64)")
	db := fs.String("db", "./stencils", "Stencil store directory")
	fs.Parse(args)

	t, err := jit.TableFor(stencil.Arch(*arch))
	if err != nil {
		log.Fatalf("Failed to build stencil table: %v", err)
	}
	store, err := stencilstore.Open(*db)
	if err != nil {
		log.Fatalf("Failed to open stencil store: %v", err)
	}
	defer store.Close()

	fp, err := store.Put(t)
	if err != nil {
		log.Fatalf("Failed to store %s table: %v", *arch, err)
	}
	log.Printf("Stored %s table %x in %s", *arch, fp, *db)
}

func tablesCmd(args []string) {
	fs := flag.NewFlagSet("tables", flag.ExitOnError)
	db := fs.String("db", "./stencils", "Stencil store directory")
	fs.Parse(args)

	store, err := stencilstore.Open(*db)
	if err != nil {
		log.Fatalf("Failed to open stencil store: %v", err)
	}
	defer store.Close()

	for _, arch := range []stencil.Arch{stencil.ArchAMD64, stencil.ArchARM64} {
		fps, err := store.Fingerprints(arch)
		if err != nil {
			log.Fatalf("Failed to list %s tables: %v", arch, err)
		}
		latest, _ := store.LatestFingerprint(arch)
		for _, fp := range fps {
			mark := ""
			if fp == latest {
				mark = " (latest)"
			}
			fmt.Printf("%s %x%s\n", arch, fp, mark)
		}
	}
}
