package store

import (
	"context"
	"fmt"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/merge"
)

// MergeRun is one ledger row describing a completed merge.
type MergeRun struct {
	ID           string
	Seq          int64
	Mode         merge.Mode
	Left         string
	Right        string
	Output       string
	LiveTrace    bool
	Stats        merge.Stats
	StaticCount  int
	DynamicCount int
	EdgeCount    int
}

// RecordRun atomically writes a merge run and its lowering events.
// The run's Seq is assigned here as one past the highest recorded seq.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency: recording a run ID that
// already exists leaves the ledger unchanged and returns the stored seq with
// inserted=false.
func (s *Store) RecordRun(ctx context.Context, run MergeRun, events []merge.LoweringEvent) (seq int64, inserted bool, err error) {
	statsJSON, err := marshalStats(run.Stats)
	if err != nil {
		return 0, false, fmt.Errorf("record run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM merge_runs`).Scan(&seq)
	if err != nil {
		return 0, false, fmt.Errorf("record run: next seq: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO merge_runs
		(id, seq, mode, left_input, right_input, output, live_trace, stats, static_count, dynamic_count, edge_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		seq,
		string(run.Mode),
		run.Left,
		run.Right,
		run.Output,
		run.LiveTrace,
		statsJSON,
		run.StaticCount,
		run.DynamicCount,
		run.EdgeCount,
	)
	if err != nil {
		return 0, false, fmt.Errorf("record run: insert run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("record run: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Conflict - run already recorded, report its seq
		err = tx.QueryRowContext(ctx, `SELECT seq FROM merge_runs WHERE id = ?`, run.ID).Scan(&seq)
		if err != nil {
			return 0, false, fmt.Errorf("record run: select existing: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("record run: commit (existing): %w", err)
		}
		return seq, false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lowering_events
		(run_id, seq, kind, from_dynamic, from_id, from_index, to_dynamic, to_id, to_index, old_level, new_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, false, fmt.Errorf("record run: prepare events: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		fromDynamic, fromID := keyColumns(ev.From.Routine)
		toDynamic, toID := keyColumns(ev.To)
		_, err := stmt.ExecContext(ctx,
			run.ID,
			i,
			ev.Kind.String(),
			fromDynamic,
			fromID,
			ev.From.Index,
			toDynamic,
			toID,
			ev.ToIndex,
			int(ev.Old),
			int(ev.New),
		)
		if err != nil {
			return 0, false, fmt.Errorf("record run: write event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("record run: commit: %w", err)
	}
	return seq, true, nil
}

// ImportCatalog upserts every routine of c. Returns the number of routines
// written.
func (s *Store) ImportCatalog(ctx context.Context, c *catalog.Catalog) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import catalog: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO routines (hash, path, scope, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET path = excluded.path, scope = excluded.scope, name = excluded.name
	`)
	if err != nil {
		return 0, fmt.Errorf("import catalog: prepare: %w", err)
	}
	defer stmt.Close()

	ids := c.IDs()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id.Hash, id.Path, id.Scope, id.Name); err != nil {
			return 0, fmt.Errorf("import catalog: write 0x%08x: %w", id.Hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import catalog: commit: %w", err)
	}
	return len(ids), nil
}
