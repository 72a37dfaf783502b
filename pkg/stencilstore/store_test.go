package stencilstore

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"copyjit/pkg/stencil"
	"copyjit/pkg/stencil/a64"
	"copyjit/pkg/stencil/x86"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := OpenFS("stencils", vfs.NewMem())
	if err != nil {
		t.Fatalf("OpenFS: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutLatest(t *testing.T) {
	s := openMem(t)

	for _, want := range []*stencil.Table{x86.Table(), a64.Table()} {
		fp, err := s.Put(want)
		if err != nil {
			t.Fatalf("Put %s: %v", want.Arch, err)
		}
		if fp != want.Fingerprint() {
			t.Errorf("Put %s returned fingerprint %x, want %x", want.Arch, fp[:8], want.Fingerprint())
		}
	}

	for _, want := range []*stencil.Table{x86.Table(), a64.Table()} {
		got, err := s.Latest(want.Arch)
		if err != nil {
			t.Fatalf("Latest %s: %v", want.Arch, err)
		}
		if got.Fingerprint() != want.Fingerprint() {
			t.Errorf("Latest %s fingerprint mismatch", want.Arch)
		}
		if diff := cmp.Diff(want.Image(), got.Image(), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("Latest %s image mismatch (-want +got):\n%s", want.Arch, diff)
		}
	}
}

func TestLatestMovesWithPut(t *testing.T) {
	s := openMem(t)

	base := x86.Table()
	if _, err := s.Put(base); err != nil {
		t.Fatal(err)
	}

	// A table with one extra fragment gets a new fingerprint.
	img := base.Image()
	img.Fragments = append(img.Fragments, stencil.NamedEntry{
		Name:    "pad",
		Stencil: stencil.Stencil{Name: "pad", Code: []byte{0x90}},
	})
	next, err := stencil.FromImage(img)
	if err != nil {
		t.Fatal(err)
	}
	fp, err := s.Put(next)
	if err != nil {
		t.Fatal(err)
	}
	if fp == base.Fingerprint() {
		t.Fatal("changed table kept its fingerprint")
	}

	latest, err := s.LatestFingerprint(stencil.ArchAMD64)
	if err != nil {
		t.Fatal(err)
	}
	if latest != fp {
		t.Errorf("latest = %x, want %x", latest[:8], fp[:8])
	}

	fps, err := s.Fingerprints(stencil.ArchAMD64)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 2 {
		t.Errorf("stored %d amd64 tables, want 2", len(fps))
	}

	old, err := s.Get(stencil.ArchAMD64, base.Fingerprint())
	if err != nil {
		t.Fatalf("Get old table: %v", err)
	}
	if old.Fingerprint() != base.Fingerprint() {
		t.Error("old table changed")
	}
}

func TestNotFound(t *testing.T) {
	s := openMem(t)

	if _, err := s.Latest(stencil.ArchARM64); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest on empty store: got %v, want ErrNotFound", err)
	}
	if _, err := s.Get(stencil.ArchAMD64, [32]byte{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown: got %v, want ErrNotFound", err)
	}
}
