package merge

import (
	"github.com/roach88/cfgset/internal/cfg"
)

// Side identifies which input of a merge a routine or edge came from.
type Side uint8

const (
	// SideLeft is the new trace or dataset being folded in.
	SideLeft Side = iota
	// SideRight is the accumulated dataset.
	SideRight
)

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// Match reports where a dynamic routine landed in the merged sequence.
type Match struct {
	// Index is the final dynamic index.
	Index uint32
	// Matched is true if an equivalent routine already existed.
	Matched bool
	// Routine is the merged routine stored at Index.
	Routine *cfg.Routine
}

// DynamicMatcher gives hash-less eval routines a stable identity across a
// merge by content matching.
//
// Remap tables are scoped to one merge and one side: the same transient
// index on the left and right sides may resolve to different final indices.
type DynamicMatcher interface {
	// Seed installs an already-deduplicated routine from the authoritative
	// side at the next index with an identity remap.
	Seed(transient uint32, r *cfg.Routine) (Match, error)

	// Add matches r against the merged routines, appending it on no match.
	Add(side Side, transient uint32, r *cfg.Routine) (Match, error)

	// Resolve maps a side's transient index to its final index.
	Resolve(side Side, transient uint32) (uint32, bool)

	// Routines returns the merged routines in final index order.
	Routines() []*cfg.Routine
}

// matchTable is the state shared by both matcher variants.
type matchTable struct {
	routines []*cfg.Routine
	remap    [2]map[uint32]uint32
}

func newMatchTable() matchTable {
	return matchTable{
		remap: [2]map[uint32]uint32{
			SideLeft:  make(map[uint32]uint32),
			SideRight: make(map[uint32]uint32),
		},
	}
}

// find scans linearly for a structurally equivalent routine. O(D) per call,
// O(D^2) per merge; D is small per trace.
func (t *matchTable) find(r *cfg.Routine) (uint32, bool) {
	for i, existing := range t.routines {
		if existing.Equivalent(r) {
			return uint32(i), true
		}
	}
	return 0, false
}

func (t *matchTable) appendRoutine(side Side, transient uint32, r *cfg.Routine) Match {
	idx := uint32(len(t.routines))
	stored := r.Clone(cfg.DynamicKey(idx))
	t.routines = append(t.routines, stored)
	t.remap[side][transient] = idx
	return Match{Index: idx, Routine: stored}
}

func (t *matchTable) add(side Side, transient uint32, r *cfg.Routine) Match {
	if idx, ok := t.find(r); ok {
		t.remap[side][transient] = idx
		return Match{Index: idx, Matched: true, Routine: t.routines[idx]}
	}
	return t.appendRoutine(side, transient, r)
}

// Resolve implements DynamicMatcher.
func (t *matchTable) Resolve(side Side, transient uint32) (uint32, bool) {
	idx, ok := t.remap[side][transient]
	return idx, ok
}

// Routines implements DynamicMatcher.
func (t *matchTable) Routines() []*cfg.Routine {
	return t.routines
}

// BaseMatcher is the symmetric variant: both sides may contribute new
// dynamic routines.
type BaseMatcher struct {
	matchTable
}

// NewBaseMatcher creates a symmetric matcher.
func NewBaseMatcher() *BaseMatcher {
	return &BaseMatcher{matchTable: newMatchTable()}
}

// Seed is not supported: a base merge has no authoritative side.
func (m *BaseMatcher) Seed(transient uint32, r *cfg.Routine) (Match, error) {
	return Match{}, cfg.NewConfigurationError("seeding dynamic routine %d requires incremental mode", transient)
}

// Add implements DynamicMatcher.
func (m *BaseMatcher) Add(side Side, transient uint32, r *cfg.Routine) (Match, error) {
	return m.add(side, transient, r), nil
}

// IncrementalMatcher is the asymmetric variant: the right side is
// authoritative and only seeds; new routines come from the left.
type IncrementalMatcher struct {
	matchTable
}

// NewIncrementalMatcher creates an asymmetric matcher.
func NewIncrementalMatcher() *IncrementalMatcher {
	return &IncrementalMatcher{matchTable: newMatchTable()}
}

// Seed implements DynamicMatcher. Seeded routines are not matched against
// each other: the authoritative side is already deduplicated.
func (m *IncrementalMatcher) Seed(transient uint32, r *cfg.Routine) (Match, error) {
	return m.appendRoutine(SideRight, transient, r), nil
}

// Add implements DynamicMatcher. Adding from the authoritative side is a
// ConfigurationError.
func (m *IncrementalMatcher) Add(side Side, transient uint32, r *cfg.Routine) (Match, error) {
	if side == SideRight {
		return Match{}, cfg.NewConfigurationError(
			"cannot add dynamic routine %d from the authoritative side in incremental mode", transient)
	}
	return m.add(side, transient, r), nil
}
