// Package persistence implements the durable half of the store: the
// write-ahead log described in spec §6 and the snapshot dump/load used
// at cold start and shutdown (§4.1 lifecycle, §6 on-disk layout).
package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/erigontech/fragmentdb/proptype"
)

// Opcode identifies a WAL record's payload shape.
type Opcode uint8

const (
	OpAddVertex Opcode = iota
	OpAddEdge
	OpUpdateVertexProp
)

var (
	// ErrIO is the sentinel every WAL or snapshot I/O failure wraps.
	// Per spec §7 this is fatal: the writer must abort the process
	// rather than risk diverging in-memory and durable state.
	ErrIO = errors.New("persistence: io error")
	// ErrCorruptLog is returned by Replay when a record is truncated
	// or fails its length check.
	ErrCorruptLog = errors.New("persistence: corrupt wal record")
)

// walMagic tags the start of every record, as a cheap guard against
// reading a stray non-WAL file as a log.
const walMagic = 0xF7A6

// WALFileName is the WAL's fixed name within a Fragment directory.
const WALFileName = "wal.log"

// WAL is an append-only, fsync-on-commit log of (timestamp, opcode,
// payload) records. One WAL per Fragment directory.
type WAL struct {
	f   *os.File
	w   *bufio.Writer
	log *zap.Logger
}

// OpenWAL opens (creating if absent) the WAL file at path for
// appending, and returns it positioned at EOF.
func OpenWAL(path string, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal %s: %v", ErrIO, path, err)
	}
	return &WAL{f: f, w: bufio.NewWriter(f), log: log}, nil
}

// record layout: magic(u16) opcode(u8) ts(u64) payloadLen(u32) payload.
func (w *WAL) writeRecord(ts uint64, op Opcode, payload []byte) error {
	var hdr [15]byte
	binary.LittleEndian.PutUint16(hdr[0:2], walMagic)
	hdr[2] = byte(op)
	binary.LittleEndian.PutUint64(hdr[3:11], ts)
	binary.LittleEndian.PutUint32(hdr[11:15], uint32(len(payload)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: wal header write: %v", ErrIO, err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("%w: wal payload write: %v", ErrIO, err)
	}
	return nil
}

// AppendAddVertex stages an ADD_VERTEX record.
func (w *WAL) AppendAddVertex(ts uint64, label string, props []proptype.Value) error {
	payload := encodeAddVertex(label, props)
	return w.writeRecord(ts, OpAddVertex, payload)
}

// AppendAddEdge stages an ADD_EDGE record.
func (w *WAL) AppendAddEdge(ts uint64, edgeLabel, srcLabel string, srcKey int64, dstLabel string, dstKey int64, prop proptype.Value) error {
	payload := encodeAddEdge(edgeLabel, srcLabel, srcKey, dstLabel, dstKey, prop)
	return w.writeRecord(ts, OpAddEdge, payload)
}

// AppendUpdateVertexProp stages an UPDATE_VERTEX_PROP record.
func (w *WAL) AppendUpdateVertexProp(ts uint64, label string, vid uint32, col int, v proptype.Value) error {
	payload := encodeUpdateVertexProp(label, vid, col, v)
	return w.writeRecord(ts, OpUpdateVertexProp, payload)
}

// Sync flushes the buffered writer and fsyncs the underlying file.
// Called once per transaction commit, per spec §6.
func (w *WAL) Sync() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("%w: wal flush: %v", ErrIO, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: wal fsync: %v", ErrIO, err)
	}
	w.log.Debug("wal synced")
	return nil
}

// Close flushes and closes the WAL file.
func (w *WAL) Close() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("%w: wal flush on close: %v", ErrIO, err)
	}
	return w.f.Close()
}

// Record is one decoded WAL entry, as produced by Replay.
type Record struct {
	Ts     uint64
	Opcode Opcode
	AddVertex        *AddVertexRecord
	AddEdge          *AddEdgeRecord
	UpdateVertexProp *UpdateVertexPropRecord
}

type AddVertexRecord struct {
	Label string
	Props []proptype.Value
}

type AddEdgeRecord struct {
	EdgeLabel, SrcLabel string
	SrcKey              int64
	DstLabel            string
	DstKey              int64
	Prop                proptype.Value
}

type UpdateVertexPropRecord struct {
	Label string
	Vid   uint32
	Col   int
	Value proptype.Value
}

// Replay reads every WAL record at path in order, calling fn for each.
// Replay stops and returns ErrCorruptLog on the first malformed
// record, matching spec §7's "recovery aborts" handling of CorruptLog.
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // fresh store: no WAL yet
	}
	if err != nil {
		return fmt.Errorf("%w: open wal %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func readRecord(r *bufio.Reader) (Record, error) {
	var hdr [15]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: truncated header: %v", ErrCorruptLog, err)
	}
	magic := binary.LittleEndian.Uint16(hdr[0:2])
	if magic != walMagic {
		return Record{}, fmt.Errorf("%w: bad magic %x", ErrCorruptLog, magic)
	}
	op := Opcode(hdr[2])
	ts := binary.LittleEndian.Uint64(hdr[3:11])
	payloadLen := binary.LittleEndian.Uint32(hdr[11:15])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, fmt.Errorf("%w: truncated payload: %v", ErrCorruptLog, err)
	}

	rec := Record{Ts: ts, Opcode: op}
	var err error
	switch op {
	case OpAddVertex:
		rec.AddVertex, err = decodeAddVertex(payload)
	case OpAddEdge:
		rec.AddEdge, err = decodeAddEdge(payload)
	case OpUpdateVertexProp:
		rec.UpdateVertexProp, err = decodeUpdateVertexProp(payload)
	default:
		err = fmt.Errorf("unknown opcode %d", op)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}
	return rec, nil
}
