package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
)

// LoweringRecord is a stored lowering event with the run that produced it.
type LoweringRecord struct {
	RunID  string
	RunSeq int64
	Event  merge.LoweringEvent
}

// ReadRun retrieves a single merge run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (MergeRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, mode, left_input, right_input, output, live_trace, stats, static_count, dynamic_count, edge_count
		FROM merge_runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ReadRuns returns every merge run ordered by seq ASC, id ASC.
// Returns an empty slice (not nil) when the ledger is empty.
func (s *Store) ReadRuns(ctx context.Context) ([]MergeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, mode, left_input, right_input, output, live_trace, stats, static_count, dynamic_count, edge_count
		FROM merge_runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []MergeRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadLoweringEvents returns the events of one run in recording order.
func (s *Store) ReadLoweringEvents(ctx context.Context, runID string) ([]merge.LoweringEvent, error) {
	records, err := s.queryEvents(ctx, `WHERE e.run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	events := make([]merge.LoweringEvent, len(records))
	for i, r := range records {
		events[i] = r.Event
	}
	return events, nil
}

// LoweringHistory returns every recorded lowering of an edge into the given
// routine across all runs, oldest run first.
func (s *Store) LoweringHistory(ctx context.Context, to cfg.RoutineKey) ([]LoweringRecord, error) {
	dynamic, id := keyColumns(to)
	return s.queryEvents(ctx, `WHERE e.to_dynamic = ? AND e.to_id = ?`, dynamic, id)
}

func (s *Store) queryEvents(ctx context.Context, where string, args ...any) ([]LoweringRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, r.seq, e.kind, e.from_dynamic, e.from_id, e.from_index,
		       e.to_dynamic, e.to_id, e.to_index, e.old_level, e.new_level
		FROM lowering_events e
		JOIN merge_runs r ON e.run_id = r.id
		`+where+`
		ORDER BY r.seq ASC, e.seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query lowering events: %w", err)
	}
	defer rows.Close()

	records := []LoweringRecord{}
	for rows.Next() {
		var (
			rec                    LoweringRecord
			kind                   string
			fromDynamic, toDynamic bool
			fromID, toID           int64
			oldLevel, newLevel     int
		)
		if err := rows.Scan(
			&rec.RunID, &rec.RunSeq, &kind, &fromDynamic, &fromID, &rec.Event.From.Index,
			&toDynamic, &toID, &rec.Event.ToIndex, &oldLevel, &newLevel,
		); err != nil {
			return nil, fmt.Errorf("scan lowering event: %w", err)
		}
		if rec.Event.Kind, err = edgeKindFromText(kind); err != nil {
			return nil, err
		}
		rec.Event.From.Routine = keyFromColumns(fromDynamic, fromID)
		rec.Event.To = keyFromColumns(toDynamic, toID)
		rec.Event.Old = cfg.UserLevel(oldLevel)
		rec.Event.New = cfg.UserLevel(newLevel)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lowering events: %w", err)
	}
	return records, nil
}

// ReadCatalog loads the imported routine catalog.
func (s *Store) ReadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, path, scope, name FROM routines ORDER BY hash ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query routines: %w", err)
	}
	defer rows.Close()

	c := catalog.New()
	for rows.Next() {
		var (
			id   catalog.RoutineID
			hash int64
		)
		if err := rows.Scan(&hash, &id.Path, &id.Scope, &id.Name); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		id.Hash = uint32(hash)
		if err := c.Add(id); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routines: %w", err)
	}
	return c, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun scans a merge_runs row. A *sql.Row miss surfaces as
// sql.ErrNoRows unwrapped.
func scanRun(row rowScanner) (MergeRun, error) {
	var (
		run       MergeRun
		mode      string
		statsJSON string
	)
	if err := row.Scan(
		&run.ID, &run.Seq, &mode, &run.Left, &run.Right, &run.Output, &run.LiveTrace,
		&statsJSON, &run.StaticCount, &run.DynamicCount, &run.EdgeCount,
	); err != nil {
		return MergeRun{}, err
	}
	run.Mode = merge.Mode(mode)

	stats, err := unmarshalStats(statsJSON)
	if err != nil {
		return MergeRun{}, err
	}
	run.Stats = stats
	return run, nil
}

var _ rowScanner = (*sql.Row)(nil)
