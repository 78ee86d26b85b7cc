package cfg

import "fmt"

// EdgeKind distinguishes call edges from exception edges.
type EdgeKind uint8

const (
	// EdgeCall enters the target routine at its first node.
	EdgeCall EdgeKind = iota
	// EdgeThrow enters the target routine at a catch site.
	EdgeThrow
)

func (k EdgeKind) String() string {
	if k == EdgeThrow {
		return "throw"
	}
	return "call"
}

// Edge is a directed control transfer from a node to a routine.
// The level is private: only the owning EdgeSet may lower it.
type Edge struct {
	Kind    EdgeKind
	From    NodeKey
	To      RoutineKey
	ToIndex uint32 // catch site for EdgeThrow, 0 for EdgeCall

	level UserLevel
}

// Level returns the least user level observed on this edge.
func (e *Edge) Level() UserLevel {
	return e.level
}

// Target returns the node the edge enters.
func (e *Edge) Target() NodeKey {
	return NodeKey{Routine: e.To, Index: e.ToIndex}
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s %s -> %s (level %d)", e.Kind, e.From, e.Target(), e.level)
}

// Outcome classifies what adding an edge did (or would do).
type Outcome uint8

const (
	// Ignored means the edge exists at the same or a lower level.
	Ignored Outcome = iota
	// NewEdge means the edge was not present.
	NewEdge
	// LoweredUserLevel means the edge existed at a higher level.
	LoweredUserLevel
)

func (o Outcome) String() string {
	switch o {
	case NewEdge:
		return "new"
	case LoweredUserLevel:
		return "lowered"
	default:
		return "ignored"
	}
}

// AddResult reports the outcome of an add or evaluate call.
// Old and New are the stored level before and after; for NewEdge, Old is
// UserLevelUnreached.
type AddResult struct {
	Outcome Outcome
	Old     UserLevel
	New     UserLevel
}

type edgeKey struct {
	from    NodeKey
	to      RoutineKey
	kind    EdgeKind
	toIndex uint32
}

// EdgeSet stores edges indexed by source node and by destination routine.
//
// Dedup rule: an edge is identified by (source node, target routine) for
// calls and additionally by the catch index for throws. Re-observing an edge
// at a strictly lower level lowers the stored level; it is never raised.
type EdgeSet struct {
	byKey    map[edgeKey]*Edge
	outgoing map[NodeKey][]*Edge
	incoming map[RoutineKey][]*Edge
	order    []*Edge
}

// NewEdgeSet creates an empty EdgeSet.
func NewEdgeSet() *EdgeSet {
	return &EdgeSet{
		byKey:    make(map[edgeKey]*Edge),
		outgoing: make(map[NodeKey][]*Edge),
		incoming: make(map[RoutineKey][]*Edge),
	}
}

// AddCallEdge records a call from a node into a routine.
func (s *EdgeSet) AddCallEdge(from NodeKey, to RoutineKey, level UserLevel) AddResult {
	return s.add(edgeKey{from: from, to: to, kind: EdgeCall}, level, true)
}

// AddExceptionEdge records an exception raised at a node and caught at
// catchIndex within routine to.
func (s *EdgeSet) AddExceptionEdge(from NodeKey, to RoutineKey, catchIndex uint32, level UserLevel) AddResult {
	return s.add(edgeKey{from: from, to: to, kind: EdgeThrow, toIndex: catchIndex}, level, true)
}

// EvaluateCallEdge classifies a candidate call edge without committing it.
func (s *EdgeSet) EvaluateCallEdge(from NodeKey, to RoutineKey, level UserLevel) AddResult {
	return s.add(edgeKey{from: from, to: to, kind: EdgeCall}, level, false)
}

// EvaluateExceptionEdge classifies a candidate exception edge without
// committing it.
func (s *EdgeSet) EvaluateExceptionEdge(from NodeKey, to RoutineKey, catchIndex uint32, level UserLevel) AddResult {
	return s.add(edgeKey{from: from, to: to, kind: EdgeThrow, toIndex: catchIndex}, level, false)
}

// add is the single implementation of the dedup and lowering rule. With
// commit=false it only classifies.
func (s *EdgeSet) add(key edgeKey, level UserLevel, commit bool) AddResult {
	if existing, ok := s.byKey[key]; ok {
		if level < existing.level {
			old := existing.level
			if commit {
				existing.level = level
			}
			return AddResult{Outcome: LoweredUserLevel, Old: old, New: level}
		}
		return AddResult{Outcome: Ignored, Old: existing.level, New: existing.level}
	}

	if commit {
		e := &Edge{Kind: key.kind, From: key.from, To: key.to, ToIndex: key.toIndex, level: level}
		s.byKey[key] = e
		s.outgoing[key.from] = append(s.outgoing[key.from], e)
		s.incoming[key.to] = append(s.incoming[key.to], e)
		s.order = append(s.order, e)
	}
	return AddResult{Outcome: NewEdge, Old: UserLevelUnreached, New: level}
}

// Lookup returns the stored edge for the given identity, if present.
func (s *EdgeSet) Lookup(kind EdgeKind, from NodeKey, to RoutineKey, toIndex uint32) (*Edge, bool) {
	if kind == EdgeCall {
		toIndex = 0
	}
	e, ok := s.byKey[edgeKey{from: from, to: to, kind: kind, toIndex: toIndex}]
	return e, ok
}

// OutgoingEdges returns the edges leaving a node in insertion order.
// The returned slice must not be modified.
func (s *EdgeSet) OutgoingEdges(from NodeKey) []*Edge {
	return s.outgoing[from]
}

// IncomingEdges returns the edges entering a routine in insertion order.
// The returned slice must not be modified.
func (s *EdgeSet) IncomingEdges(to RoutineKey) []*Edge {
	return s.incoming[to]
}

// MinUserLevel returns the lowest level over a routine's incoming edges, or
// UserLevelUnreached if nothing calls into it.
func (s *EdgeSet) MinUserLevel(to RoutineKey) UserLevel {
	lowest := UserLevelUnreached
	for _, e := range s.incoming[to] {
		lowest = lowest.Min(e.level)
	}
	return lowest
}

// Edges returns all edges in insertion order.
func (s *EdgeSet) Edges() []*Edge {
	out := make([]*Edge, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of distinct edges.
func (s *EdgeSet) Len() int {
	return len(s.order)
}

// Clone returns a deep copy preserving insertion order and levels.
func (s *EdgeSet) Clone() *EdgeSet {
	c := NewEdgeSet()
	for _, e := range s.order {
		key := edgeKey{from: e.From, to: e.To, kind: e.Kind, toIndex: e.ToIndex}
		c.add(key, e.level, true)
	}
	return c
}
