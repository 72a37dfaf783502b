// Package stencilstore persists stencil tables in a pebble database so a
// host can pin the exact code its compiler copies. Tables are stored as
// zstd-compressed images keyed by architecture and fingerprint, with one
// "latest" pointer per architecture.
package stencilstore

import (
	"encoding/hex"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/klauspost/compress/zstd"

	"copyjit/pkg/serializer"
	"copyjit/pkg/stencil"
)

var ErrNotFound = errors.New("stencil table not found")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Store is a pebble-backed stencil table store.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	return open(path, &pebble.Options{})
}

// OpenFS opens the store at path on fs, e.g. vfs.NewMem() in tests.
func OpenFS(path string, fs vfs.FS) (*Store, error) {
	return open(path, &pebble.Options{FS: fs})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open stencil store %s", path)
	}
	return &Store{db: db}, nil
}

func tableKey(arch stencil.Arch, fp [32]byte) []byte {
	return []byte("stencils/" + string(arch) + "/" + hex.EncodeToString(fp[:]))
}

func latestKey(arch stencil.Arch) []byte {
	return []byte("latest/" + string(arch))
}

// Put stores t and makes it the latest table of its architecture. Storing
// an identical table again only moves the pointer.
func (s *Store) Put(t *stencil.Table) ([32]byte, error) {
	fp := t.Fingerprint()
	data := encoder.EncodeAll(serializer.Serialize(t.Image()), nil)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(tableKey(t.Arch, fp), data, nil); err != nil {
		return fp, err
	}
	if err := b.Set(latestKey(t.Arch), fp[:], nil); err != nil {
		return fp, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fp, errors.Wrap(err, "commit stencil table")
	}
	return fp, nil
}

// Get loads the table of arch with fingerprint fp.
func (s *Store) Get(arch stencil.Arch, fp [32]byte) (*stencil.Table, error) {
	raw, closer, err := s.get(tableKey(arch, fp))
	if err != nil {
		return nil, errors.Wrapf(err, "%s table %x", arch, fp[:8])
	}
	defer closer.Close()

	data, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompress stencil table")
	}
	var img stencil.Image
	if err := serializer.Deserialize(data, &img); err != nil {
		return nil, errors.Wrap(err, "decode stencil table")
	}
	if stencil.Arch(img.Arch) != arch {
		return nil, errors.Newf("stored table is for %s, not %s", img.Arch, arch)
	}
	t, err := stencil.FromImage(&img)
	if err != nil {
		return nil, err
	}
	if got := t.Fingerprint(); got != fp {
		return nil, errors.Newf("stencil table fingerprint %x, stored under %x", got[:8], fp[:8])
	}
	return t, nil
}

// Latest loads the most recently stored table of arch.
func (s *Store) Latest(arch stencil.Arch) (*stencil.Table, error) {
	fp, err := s.LatestFingerprint(arch)
	if err != nil {
		return nil, err
	}
	return s.Get(arch, fp)
}

func (s *Store) LatestFingerprint(arch stencil.Arch) ([32]byte, error) {
	var fp [32]byte
	raw, closer, err := s.get(latestKey(arch))
	if err != nil {
		return fp, errors.Wrapf(err, "latest %s table", arch)
	}
	defer closer.Close()
	if len(raw) != len(fp) {
		return fp, errors.Newf("latest %s pointer has %d bytes", arch, len(raw))
	}
	copy(fp[:], raw)
	return fp, nil
}

// Fingerprints lists the stored tables of arch in key order.
func (s *Store) Fingerprints(arch stencil.Arch) ([][32]byte, error) {
	prefix := []byte("stencils/" + string(arch) + "/")
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out [][32]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var fp [32]byte
		b, err := hex.DecodeString(string(iter.Key()[len(prefix):]))
		if err != nil || len(b) != len(fp) {
			return nil, errors.Newf("malformed stencil key %q", iter.Key())
		}
		copy(fp[:], b)
		out = append(out, fp)
	}
	return out, iter.Error()
}

func (s *Store) get(key []byte) ([]byte, io.Closer, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	return v, closer, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
