package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/erigontech/fragmentdb/csr"
	"github.com/erigontech/fragmentdb/fragment"
	"github.com/erigontech/fragmentdb/internal/indexer"
	"github.com/erigontech/fragmentdb/proptype"
)

// snapshotMagic tags the start of every dumped indexer/CSR file.
const snapshotMagic = 0x53_4E_41_50 // "SNAP"

// DirLock advisory-locks a Fragment's snapshot directory against a
// second process opening it for writing, per spec §5 (single writer).
// Readers do not need it; only Dump/Load (cold start, shutdown) do.
type DirLock struct {
	fl *flock.Flock
}

// LockDir acquires an exclusive, non-blocking lock on dir/.lock.
func LockDir(dir string) (*DirLock, error) {
	fl := flock.New(filepath.Join(dir, ".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrIO, dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: snapshot directory %s is locked by another process", ErrIO, dir)
	}
	return &DirLock{fl: fl}, nil
}

// Unlock releases the directory lock.
func (d *DirLock) Unlock() error { return d.fl.Unlock() }

// createSnapshotFile creates a snapshot file, writes its magic header,
// and returns a zstd encoder for the compressed body.
func createSnapshotFile(path string) (*os.File, *zstd.Encoder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], snapshotMagic)
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: write header %s: %v", ErrIO, path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: zstd writer %s: %v", ErrIO, path, err)
	}
	return f, enc, nil
}

func openSnapshotFile(path string) (*os.File, *zstd.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	var hdr [4]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: read header %s: %v", ErrIO, path, err)
	}
	if binary.LittleEndian.Uint32(hdr[:]) != snapshotMagic {
		f.Close()
		return nil, nil, fmt.Errorf("%w: bad snapshot magic in %s", ErrCorruptLog, path)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: zstd reader %s: %v", ErrIO, path, err)
	}
	return f, dec, nil
}

// DumpIndexer writes label's LF-Indexer entries to dir/label.indexer,
// zstd-compressed, preceded by a roaring bitmap of the occupied vid
// range (used only as a compact summary for the dump log line; load
// reconstructs state from the entry list, not the bitmap).
func DumpIndexer(dir, label string, ix *indexer.Indexer, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	entries := ix.SnapshotIter()

	present := roaring.New()
	for _, e := range entries {
		present.Add(e.Vid)
	}

	path := filepath.Join(dir, label+".indexer")
	f, enc, err := createSnapshotFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	defer enc.Close()

	bitmapBytes, err := present.ToBytes()
	if err != nil {
		return fmt.Errorf("%w: serialize presence bitmap for %s: %v", ErrIO, label, err)
	}
	if err := writeLenPrefixed(enc, bitmapBytes); err != nil {
		return err
	}

	var countBytes [4]byte
	binary.LittleEndian.PutUint32(countBytes[:], uint32(len(entries)))
	if _, err := enc.Write(countBytes[:]); err != nil {
		return fmt.Errorf("%w: write entry count for %s: %v", ErrIO, label, err)
	}
	for _, e := range entries {
		var rec [12]byte
		binary.LittleEndian.PutUint64(rec[0:8], uint64(e.Key))
		binary.LittleEndian.PutUint32(rec[8:12], e.Vid)
		if _, err := enc.Write(rec[:]); err != nil {
			return fmt.Errorf("%w: write entry for %s: %v", ErrIO, label, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: close zstd encoder for %s: %v", ErrIO, label, err)
	}

	log.Info("dumped indexer", zap.String("label", label), zap.Int("entries", len(entries)), zap.Uint64("presence_cardinality", present.GetCardinality()))
	return nil
}

// LoadIndexer reads dir/label.indexer (if present) back into ix.
func LoadIndexer(dir, label string, ix *indexer.Indexer) error {
	path := filepath.Join(dir, label+".indexer")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	f, dec, err := openSnapshotFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	defer dec.Close()

	if _, err := readLenPrefixed(dec); err != nil { // presence bitmap, unused on load
		return err
	}

	var countBytes [4]byte
	if _, err := io.ReadFull(dec, countBytes[:]); err != nil {
		return fmt.Errorf("%w: read entry count for %s: %v", ErrIO, label, err)
	}
	n := int(binary.LittleEndian.Uint32(countBytes[:]))
	entries := make([]indexer.Entry, n)
	for i := 0; i < n; i++ {
		var rec [12]byte
		if _, err := io.ReadFull(dec, rec[:]); err != nil {
			return fmt.Errorf("%w: read entry %d for %s: %v", ErrCorruptLog, i, label, err)
		}
		entries[i] = indexer.Entry{
			Key: int64(binary.LittleEndian.Uint64(rec[0:8])),
			Vid: binary.LittleEndian.Uint32(rec[8:12]),
		}
	}
	return ix.LoadEntries(entries)
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(b)))
	if _, err := w.Write(lenBytes[:]); err != nil {
		return fmt.Errorf("%w: write length prefix: %v", ErrIO, err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: write bytes: %v", ErrIO, err)
	}
	return nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: read length prefix: %v", ErrIO, err)
	}
	n := binary.LittleEndian.Uint32(lenBytes[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: read bytes: %v", ErrIO, err)
	}
	return b, nil
}

// csrFilePrefix names the triplet's three dump files per spec §6:
// T.degree, T.offsets, T.nbrs. T is this synthetic, filesystem-safe
// name, not the edge type name alone (the same edge type may cover
// several vertex-pair relations).
func csrFilePrefix(edgeLabel, srcLabel, dstLabel string, outgoing bool) string {
	dir := "out"
	if !outgoing {
		dir = "in"
	}
	return fmt.Sprintf("%s.%s-%s.%s", edgeLabel, srcLabel, dstLabel, dir)
}

// DumpCSR writes c's current adjacency lists as degree/offsets/nbrs
// files under dir, using prefix csrFilePrefix(...).
func DumpCSR(dir, edgeLabel, srcLabel, dstLabel string, outgoing bool, c *csr.CSR, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	prefix := csrFilePrefix(edgeLabel, srcLabel, dstLabel, outgoing)

	degreeF, degreeEnc, err := createSnapshotFile(filepath.Join(dir, prefix+".degree"))
	if err != nil {
		return err
	}
	defer degreeF.Close()
	defer degreeEnc.Close()

	offsetsF, offsetsEnc, err := createSnapshotFile(filepath.Join(dir, prefix+".offsets"))
	if err != nil {
		return err
	}
	defer offsetsF.Close()
	defer offsetsEnc.Close()

	nbrsF, nbrsEnc, err := createSnapshotFile(filepath.Join(dir, prefix+".nbrs"))
	if err != nil {
		return err
	}
	defer nbrsF.Close()
	defer nbrsEnc.Close()

	maxSources := c.MaxSources()
	var offset uint64
	var totalRecords uint64
	for src := 0; src < maxSources; src++ {
		degree := c.Degree(uint32(src))
		var degBytes [4]byte
		binary.LittleEndian.PutUint32(degBytes[:], degree)
		if _, err := degreeEnc.Write(degBytes[:]); err != nil {
			return fmt.Errorf("%w: write degree for src %d: %v", ErrIO, src, err)
		}

		var offBytes [8]byte
		binary.LittleEndian.PutUint64(offBytes[:], offset)
		if _, err := offsetsEnc.Write(offBytes[:]); err != nil {
			return fmt.Errorf("%w: write offset for src %d: %v", ErrIO, src, err)
		}

		var writeErr error
		_ = c.EdgesOf(uint32(src), ^uint64(0), func(e csr.Edge) bool {
			var rec [20]byte // dst u32, ts u64, prop tag + up to 8 bytes, see below
			binary.LittleEndian.PutUint32(rec[0:4], e.Dst)
			binary.LittleEndian.PutUint64(rec[4:12], e.Ts)
			n := appendValue(nil, e.Prop)
			buf := append(rec[:12], n...)
			if _, werr := nbrsEnc.Write(buf); werr != nil {
				writeErr = werr
				return false
			}
			return true
		})
		if writeErr != nil {
			return fmt.Errorf("%w: write nbrs for src %d: %v", ErrIO, src, writeErr)
		}

		offset += uint64(degree)
		totalRecords += uint64(degree)
	}

	for _, enc := range []*zstd.Encoder{degreeEnc, offsetsEnc, nbrsEnc} {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("%w: close zstd encoder for %s: %v", ErrIO, prefix, err)
		}
	}

	log.Info("dumped csr", zap.String("triplet", prefix), zap.Int("sources", maxSources), zap.Uint64("records", totalRecords))
	return nil
}

// LoadCSR replays dir's degree/offsets/nbrs files for this triplet
// back into c via ordinary Insert calls, preserving insertion order
// (I3's append-only prefix) and each record's original timestamp.
func LoadCSR(dir, edgeLabel, srcLabel, dstLabel string, outgoing bool, c *csr.CSR) error {
	prefix := csrFilePrefix(edgeLabel, srcLabel, dstLabel, outgoing)
	degreePath := filepath.Join(dir, prefix+".degree")
	if _, err := os.Stat(degreePath); os.IsNotExist(err) {
		return nil
	}

	degreeF, degreeDec, err := openSnapshotFile(degreePath)
	if err != nil {
		return err
	}
	defer degreeF.Close()
	defer degreeDec.Close()

	nbrsF, nbrsDec, err := openSnapshotFile(filepath.Join(dir, prefix+".nbrs"))
	if err != nil {
		return err
	}
	defer nbrsF.Close()
	defer nbrsDec.Close()

	for src := 0; src < c.MaxSources(); src++ {
		var degBytes [4]byte
		if _, err := io.ReadFull(degreeDec, degBytes[:]); err != nil {
			return fmt.Errorf("%w: read degree for src %d: %v", ErrCorruptLog, src, err)
		}
		degree := binary.LittleEndian.Uint32(degBytes[:])

		for i := uint32(0); i < degree; i++ {
			var head [12]byte
			if _, err := io.ReadFull(nbrsDec, head[:]); err != nil {
				return fmt.Errorf("%w: read nbr header for src %d: %v", ErrCorruptLog, src, err)
			}
			dst := binary.LittleEndian.Uint32(head[0:4])
			ts := binary.LittleEndian.Uint64(head[4:12])

			prop, err := readValueFromReader(nbrsDec)
			if err != nil {
				return fmt.Errorf("%w: read nbr prop for src %d: %v", ErrCorruptLog, src, err)
			}
			if err := c.Insert(uint32(src), dst, ts, prop); err != nil {
				return fmt.Errorf("persistence: replay csr %s src %d: %w", prefix, src, err)
			}
		}
	}
	return nil
}

// readValueFromReader is readValue adapted to a streaming reader: it
// reads the one-byte type tag, then the type's fixed or
// length-prefixed payload, without knowing the surrounding slice.
func readValueFromReader(r io.Reader) (proptype.Value, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return proptype.Value{}, err
	}
	t := proptype.Type(tagByte[0])
	switch t {
	case proptype.Int32, proptype.Uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return proptype.Value{}, err
		}
		return proptype.DecodeFixedU32(t, binary.LittleEndian.Uint32(b[:])), nil
	case proptype.Int64, proptype.Uint64, proptype.Double, proptype.DateTime:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return proptype.Value{}, err
		}
		return proptype.DecodeFixedU64(t, binary.LittleEndian.Uint64(b[:])), nil
	case proptype.Bool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return proptype.Value{}, err
		}
		return proptype.BoolValue(b[0] != 0), nil
	case proptype.String:
		var lenBytes [4]byte
		if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
			return proptype.Value{}, err
		}
		n := binary.LittleEndian.Uint32(lenBytes[:])
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return proptype.Value{}, err
		}
		return proptype.StringValue(string(b)), nil
	default:
		return proptype.Value{}, fmt.Errorf("unknown value type tag %d", t)
	}
}

// DumpFragment dumps every vertex label's indexer and every triplet's
// CSR for f into dir (the Table columns are already durable: they are
// mmap-backed extents under the same directory, flushed by
// fragment.Fragment.Sync).
func DumpFragment(dir string, f *fragment.Fragment, log *zap.Logger) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("persistence: sync tables: %w", err)
	}
	for _, label := range f.VertexLabels() {
		ix, err := f.IndexerOf(label)
		if err != nil {
			return err
		}
		if err := DumpIndexer(dir, label, ix, log); err != nil {
			return err
		}
	}
	for _, tr := range f.Triplets() {
		for _, outgoing := range []bool{true, false} {
			c, err := f.CSROf(tr.EdgeLabel, tr.SrcLabel, tr.DstLabel, outgoing)
			if err != nil {
				return err
			}
			if err := DumpCSR(dir, tr.EdgeLabel, tr.SrcLabel, tr.DstLabel, outgoing, c, log); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadFragment replays every dumped indexer and CSR in dir into f
// (the Table columns load themselves, since column.Open reopens their
// mmap extents directly). Call before replaying the WAL tail.
func LoadFragment(dir string, f *fragment.Fragment) error {
	for _, label := range f.VertexLabels() {
		ix, err := f.IndexerOf(label)
		if err != nil {
			return err
		}
		if err := LoadIndexer(dir, label, ix); err != nil {
			return err
		}
	}
	for _, tr := range f.Triplets() {
		for _, outgoing := range []bool{true, false} {
			c, err := f.CSROf(tr.EdgeLabel, tr.SrcLabel, tr.DstLabel, outgoing)
			if err != nil {
				return err
			}
			if err := LoadCSR(dir, tr.EdgeLabel, tr.SrcLabel, tr.DstLabel, outgoing, c); err != nil {
				return err
			}
		}
	}
	return nil
}
