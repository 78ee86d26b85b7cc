package cfg

import "sort"

// Graph aggregates static routines (by hash), dynamic routines (by index)
// and the edges between them.
//
// A Graph is owned by whoever built it (a decoder, a trace loader or a
// merge) until it is handed to the encoder or discarded. It is not safe for
// concurrent mutation.
type Graph struct {
	static  map[uint32]*Routine
	dynamic []*Routine

	Edges *EdgeSet
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		static: make(map[uint32]*Routine),
		Edges:  NewEdgeSet(),
	}
}

// AddStatic inserts or replaces the static routine with r.Key.ID as hash.
func (g *Graph) AddStatic(r *Routine) {
	r.Key = StaticKey(r.Key.ID)
	g.static[r.Key.ID] = r
}

// AddDynamic appends r at the next dynamic index and returns that index.
func (g *Graph) AddDynamic(r *Routine) uint32 {
	idx := uint32(len(g.dynamic))
	r.Key = DynamicKey(idx)
	g.dynamic = append(g.dynamic, r)
	return idx
}

// Static returns the static routine with the given hash.
func (g *Graph) Static(hash uint32) (*Routine, bool) {
	r, ok := g.static[hash]
	return r, ok
}

// Dynamic returns the dynamic routine at index.
func (g *Graph) Dynamic(index uint32) (*Routine, bool) {
	if int(index) >= len(g.dynamic) {
		return nil, false
	}
	return g.dynamic[index], true
}

// Routine resolves a key of either kind.
func (g *Graph) Routine(key RoutineKey) (*Routine, bool) {
	if key.IsDynamic() {
		return g.Dynamic(key.ID)
	}
	return g.Static(key.ID)
}

// HasNode reports whether the node addressed by key exists.
func (g *Graph) HasNode(key NodeKey) bool {
	r, ok := g.Routine(key.Routine)
	return ok && int(key.Index) < len(r.Nodes)
}

// StaticRoutines returns the static routines sorted by hash.
func (g *Graph) StaticRoutines() []*Routine {
	out := make([]*Routine, 0, len(g.static))
	for _, r := range g.static {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	return out
}

// DynamicRoutines returns the dynamic routines in index order.
// The returned slice must not be modified.
func (g *Graph) DynamicRoutines() []*Routine {
	return g.dynamic
}

// StaticCount returns the number of static routines.
func (g *Graph) StaticCount() int {
	return len(g.static)
}

// DynamicCount returns the number of dynamic routines.
func (g *Graph) DynamicCount() int {
	return len(g.dynamic)
}

// Validate runs Routine.Validate over every routine and checks that each
// edge endpoint exists.
func (g *Graph) Validate() error {
	for _, r := range g.StaticRoutines() {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, r := range g.dynamic {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, e := range g.Edges.order {
		if !g.HasNode(e.From) {
			return NewUnknownReferenceError("edge source %s does not exist", e.From)
		}
		if !g.HasNode(e.Target()) {
			return NewUnknownReferenceError("edge target %s does not exist", e.Target())
		}
	}
	return nil
}

// Clone returns a structure-preserving deep copy. Routines, nodes, branch
// payloads and edges are all copied; keys are positional so references
// relink automatically.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		static:  make(map[uint32]*Routine, len(g.static)),
		dynamic: make([]*Routine, len(g.dynamic)),
		Edges:   g.Edges.Clone(),
	}
	for hash, r := range g.static {
		c.static[hash] = r.Clone(r.Key)
	}
	for i, r := range g.dynamic {
		c.dynamic[i] = r.Clone(r.Key)
	}
	return c
}
