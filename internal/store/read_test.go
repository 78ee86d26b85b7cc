package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
)

func TestReadRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestRun("run-1")
	seq, _, err := s.RecordRun(ctx, want, nil)
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	want.Seq = seq

	got, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadRun() = %+v, want %+v", got, want)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadRun(missing) error = %v, want sql.ErrNoRows", err)
	}
}

func TestReadRuns_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ReadRuns(ctx)
	if err != nil {
		t.Fatalf("ReadRuns on empty ledger failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("ReadRuns() = %v, want empty non-nil slice", runs)
	}

	// IDs deliberately sort opposite to insertion order.
	for _, id := range []string{"zz", "mm", "aa"} {
		if _, _, err := s.RecordRun(ctx, createTestRun(id), nil); err != nil {
			t.Fatalf("RecordRun(%s) failed: %v", id, err)
		}
	}

	runs, err = s.ReadRuns(ctx)
	if err != nil {
		t.Fatalf("ReadRuns failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"zz", "mm", "aa"}) {
		t.Errorf("ReadRuns() ids = %v, want insertion order", ids)
	}
}

func TestReadLoweringEvents_PreservesOrderAndKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	throw := merge.LoweringEvent{
		Kind:    cfg.EdgeThrow,
		From:    cfg.NodeKey{Routine: cfg.DynamicKey(3), Index: 7},
		To:      cfg.StaticKey(0xdeadbeef),
		ToIndex: 4,
		Old:     cfg.UserLevelUnreached,
		New:     0,
	}
	events := []merge.LoweringEvent{
		createTestEvent(cfg.StaticKey(0x20), 5, 2),
		throw,
		createTestEvent(cfg.DynamicKey(1), 9, 8),
	}
	if _, _, err := s.RecordRun(ctx, createTestRun("run-1"), events); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := s.ReadLoweringEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadLoweringEvents failed: %v", err)
	}
	if !reflect.DeepEqual(got, events) {
		t.Errorf("ReadLoweringEvents() = %+v, want %+v", got, events)
	}

	none, err := s.ReadLoweringEvents(ctx, "missing")
	if err != nil {
		t.Fatalf("ReadLoweringEvents(missing) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ReadLoweringEvents(missing) = %v, want empty", none)
	}
}

func TestLoweringHistory_AcrossRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	target := cfg.StaticKey(0x20)

	runs := []struct {
		id     string
		events []merge.LoweringEvent
	}{
		{"run-1", []merge.LoweringEvent{createTestEvent(target, 9, 5), createTestEvent(cfg.StaticKey(0x30), 3, 1)}},
		{"run-2", nil},
		{"run-3", []merge.LoweringEvent{createTestEvent(target, 5, 2)}},
	}
	for _, r := range runs {
		if _, _, err := s.RecordRun(ctx, createTestRun(r.id), r.events); err != nil {
			t.Fatalf("RecordRun(%s) failed: %v", r.id, err)
		}
	}

	history, err := s.LoweringHistory(ctx, target)
	if err != nil {
		t.Fatalf("LoweringHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("LoweringHistory() returned %d records, want 2", len(history))
	}
	if history[0].RunID != "run-1" || history[0].RunSeq != 1 || history[0].Event.New != 5 {
		t.Errorf("history[0] = %+v, want run-1 lowering to 5", history[0])
	}
	if history[1].RunID != "run-3" || history[1].RunSeq != 3 || history[1].Event.New != 2 {
		t.Errorf("history[1] = %+v, want run-3 lowering to 2", history[1])
	}

	dynamic, err := s.LoweringHistory(ctx, cfg.DynamicKey(0x20))
	if err != nil {
		t.Fatalf("LoweringHistory(dynamic) failed: %v", err)
	}
	if len(dynamic) != 0 {
		t.Errorf("dynamic key with the same id matched static history: %v", dynamic)
	}
}

func TestStats_MarshalStable(t *testing.T) {
	stats := merge.Stats{StaticAdded: 1, EdgesDropped: 4}
	got, err := marshalStats(stats)
	if err != nil {
		t.Fatalf("marshalStats failed: %v", err)
	}
	want := `{"static_added":1,"static_merged":0,"fall_through_patched":0,"dynamic_matched":0,` +
		`"dynamic_appended":0,"edges_new":0,"edges_lowered":0,"edges_ignored":0,"edges_dropped":4}`
	if got != want {
		t.Errorf("marshalStats() = %s, want %s", got, want)
	}

	back, err := unmarshalStats(got)
	if err != nil {
		t.Fatalf("unmarshalStats failed: %v", err)
	}
	if back != stats {
		t.Errorf("unmarshalStats() = %+v, want %+v", back, stats)
	}
}
