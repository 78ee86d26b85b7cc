package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a merge run with minimal required fields.
func createTestRun(id string) MergeRun {
	return MergeRun{
		ID:           id,
		Mode:         merge.ModeIncremental,
		Left:         "traces/run-1",
		Right:        "cfg.set",
		Output:       "cfg.set",
		LiveTrace:    true,
		Stats:        merge.Stats{StaticMerged: 2, EdgesLowered: 1},
		StaticCount:  2,
		DynamicCount: 0,
		EdgeCount:    1,
	}
}

// createTestEvent creates a call-edge lowering from 0x10:1 into to.
func createTestEvent(to cfg.RoutineKey, oldLevel, newLevel cfg.UserLevel) merge.LoweringEvent {
	return merge.LoweringEvent{
		Kind: cfg.EdgeCall,
		From: cfg.NodeKey{Routine: cfg.StaticKey(0x10), Index: 1},
		To:   to,
		Old:  oldLevel,
		New:  newLevel,
	}
}
