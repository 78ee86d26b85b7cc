package store

import (
	"context"
	"testing"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
	"github.com/roach88/cfgset/internal/testutil"
)

func TestRecordRun_AssignsSequentialSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		seq, inserted, err := s.RecordRun(ctx, createTestRun(id), nil)
		if err != nil {
			t.Fatalf("RecordRun(%s) failed: %v", id, err)
		}
		if !inserted {
			t.Errorf("RecordRun(%s) inserted = false, want true", id)
		}
		if seq != int64(i+1) {
			t.Errorf("RecordRun(%s) seq = %d, want %d", id, seq, i+1)
		}
	}
}

func TestRecordRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	events := []merge.LoweringEvent{createTestEvent(cfg.StaticKey(0x20), 5, 2)}

	seq1, _, err := s.RecordRun(ctx, createTestRun("run-1"), events)
	if err != nil {
		t.Fatalf("first RecordRun failed: %v", err)
	}
	seq2, inserted, err := s.RecordRun(ctx, createTestRun("run-1"), events)
	if err != nil {
		t.Fatalf("second RecordRun failed: %v", err)
	}
	if inserted {
		t.Error("second RecordRun inserted = true, want false")
	}
	if seq2 != seq1 {
		t.Errorf("second RecordRun seq = %d, want existing %d", seq2, seq1)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM lowering_events").Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("lowering_events count = %d, want 1", count)
	}
}

func TestRecordRun_WithGeneratedID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var gen RunIDGenerator = testutil.NewFixedRunIDGenerator("")
	run := createTestRun(gen.Generate())
	if _, _, err := s.RecordRun(ctx, run, nil); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if _, err := s.ReadRun(ctx, "test-run-default"); err != nil {
		t.Errorf("ReadRun(test-run-default) failed: %v", err)
	}
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	var gen RunIDGenerator = UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()
	if len(a) != 36 {
		t.Errorf("Generate() = %q, want 36 characters", a)
	}
	if a == b {
		t.Errorf("Generate() returned %q twice", a)
	}
}

func TestImportCatalog_Upserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := catalog.New()
	mustAdd(t, c, catalog.RoutineID{Hash: 0x10, Path: "index.php", Name: "{main}"})
	mustAdd(t, c, catalog.RoutineID{Hash: 0x20, Path: "lib/auth.php", Scope: "User", Name: "login"})

	n, err := s.ImportCatalog(ctx, c)
	if err != nil {
		t.Fatalf("ImportCatalog failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ImportCatalog wrote %d, want 2", n)
	}

	renamed := catalog.New()
	mustAdd(t, renamed, catalog.RoutineID{Hash: 0x20, Path: "lib/auth.php", Scope: "Account", Name: "login"})
	if _, err := s.ImportCatalog(ctx, renamed); err != nil {
		t.Fatalf("second ImportCatalog failed: %v", err)
	}

	got, err := s.ReadCatalog(ctx)
	if err != nil {
		t.Fatalf("ReadCatalog failed: %v", err)
	}
	if got.Len() != 2 {
		t.Errorf("catalog has %d routines, want 2", got.Len())
	}
	name, ok := got.RoutineName(0x20)
	if !ok || name != "lib/auth.php|Account:login" {
		t.Errorf("RoutineName(0x20) = %q, %v; want upserted name", name, ok)
	}
}

func mustAdd(t *testing.T, c *catalog.Catalog, id catalog.RoutineID) {
	t.Helper()
	if err := c.Add(id); err != nil {
		t.Fatalf("Add(%v) failed: %v", id, err)
	}
}
