package persistence

import (
	"fmt"
	"path/filepath"

	"github.com/erigontech/fragmentdb/fragment"
)

// Recover loads dir's snapshot into f (already Open'd against the same
// schema) and replays dir's WAL tail on top of it, returning the
// highest timestamp observed. Callers construct a txn.Manager with
// that timestamp as the recovered horizon.
func Recover(dir string, f *fragment.Fragment) (uint64, error) {
	if err := LoadFragment(dir, f); err != nil {
		return 0, fmt.Errorf("persistence: load snapshot: %w", err)
	}

	var maxTs uint64
	err := Replay(filepath.Join(dir, WALFileName), func(rec Record) error {
		if err := applyRecord(f, rec); err != nil {
			return err
		}
		if rec.Ts > maxTs {
			maxTs = rec.Ts
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("persistence: replay wal: %w", err)
	}
	return maxTs, nil
}

func applyRecord(f *fragment.Fragment, rec Record) error {
	switch rec.Opcode {
	case OpAddVertex:
		r := rec.AddVertex
		_, err := f.AddVertex(r.Label, r.Props)
		return err
	case OpAddEdge:
		r := rec.AddEdge
		return f.AddEdge(r.EdgeLabel, r.SrcLabel, r.SrcKey, r.DstLabel, r.DstKey, r.Prop, rec.Ts, fragment.Upsert)
	case OpUpdateVertexProp:
		r := rec.UpdateVertexProp
		return f.SetProperty(r.Label, r.Vid, r.Col, r.Value)
	default:
		return fmt.Errorf("persistence: replay: unknown opcode %d", rec.Opcode)
	}
}
