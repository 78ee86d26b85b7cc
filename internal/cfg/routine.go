package cfg

import "fmt"

// RoutineKind separates hash-addressed routines from eval routines.
type RoutineKind uint8

const (
	// KindStatic routines are addressed by the hash of their compiled entry
	// signature.
	KindStatic RoutineKind = iota
	// KindDynamic routines come from eval and are addressed by an index
	// assigned at merge time.
	KindDynamic
)

// RoutineKey identifies a routine within one graph.
type RoutineKey struct {
	Kind RoutineKind
	ID   uint32
}

// StaticKey returns the key of the static routine with the given hash.
func StaticKey(hash uint32) RoutineKey {
	return RoutineKey{Kind: KindStatic, ID: hash}
}

// DynamicKey returns the key of the dynamic routine with the given index.
func DynamicKey(index uint32) RoutineKey {
	return RoutineKey{Kind: KindDynamic, ID: index}
}

// IsDynamic reports whether the key addresses an eval routine.
func (k RoutineKey) IsDynamic() bool {
	return k.Kind == KindDynamic
}

func (k RoutineKey) String() string {
	if k.Kind == KindDynamic {
		return fmt.Sprintf("eval#%d", k.ID)
	}
	return fmt.Sprintf("0x%08x", k.ID)
}

// NodeKey is the positional identity of a node: owning routine plus index.
type NodeKey struct {
	Routine RoutineKey
	Index   uint32
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s:%d", k.Routine, k.Index)
}

// Routine is one PHP function, method or script body.
// Nodes is append-only while loading and immutable afterward, except for
// user levels and branch targets lowered or patched by a merge.
type Routine struct {
	Key   RoutineKey
	Nodes []Node
}

// NewRoutine creates an empty routine.
func NewRoutine(key RoutineKey) *Routine {
	return &Routine{Key: key}
}

// Append adds a node at the next index and returns that index. The node's
// Index is overwritten so indices stay contiguous.
func (r *Routine) Append(n Node) uint32 {
	n.Index = uint32(len(r.Nodes))
	r.Nodes = append(r.Nodes, n)
	return n.Index
}

// Node returns the node at index i, or nil if out of range.
func (r *Routine) Node(i uint32) *Node {
	if int(i) >= len(r.Nodes) {
		return nil
	}
	return &r.Nodes[i]
}

// Len returns the node count.
func (r *Routine) Len() int {
	return len(r.Nodes)
}

// NodeKey returns the positional key of node i.
func (r *Routine) NodeKey(i uint32) NodeKey {
	return NodeKey{Routine: r.Key, Index: i}
}

// Validate checks the end-of-load invariants: contiguous indices, branch
// payload present exactly on branch nodes, targets in range, and a target on
// every branch whose opcode policy is TargetRequired.
func (r *Routine) Validate() error {
	for i := range r.Nodes {
		n := &r.Nodes[i]
		if n.Index != uint32(i) {
			return NewFormatError("node index %d stored at position %d", n.Index, i).At(r.Key, i)
		}
		if !n.Opcode.Known() {
			return NewFormatError("unrecognized opcode %d", uint8(n.Opcode)).At(r.Key, i)
		}
		if n.Role > RoleEval {
			return NewFormatError("unrecognized role %d", uint8(n.Role)).At(r.Key, i)
		}
		if n.Role != RoleBranch {
			if n.Branch != nil {
				return NewFormatError("%s node carries a branch payload", n.Role).At(r.Key, i)
			}
			continue
		}
		if n.Branch == nil {
			return NewFormatError("branch node without branch payload").At(r.Key, i)
		}
		if n.Branch.HasTarget() {
			if n.Branch.Target < 0 || int(n.Branch.Target) >= len(r.Nodes) {
				return NewFormatError("branch target %d out of range (%d nodes)",
					n.Branch.Target, len(r.Nodes)).At(r.Key, i)
			}
			continue
		}
		if n.Opcode.TargetPolicy() == TargetRequired {
			return NewFormatError("%s requires a branch target", n.Opcode).At(r.Key, i)
		}
	}
	return nil
}

// Equivalent reports whether two routines are structurally identical:
// equal node count and pairwise equal opcode, role and branch target.
// This is the content identity used for eval routines.
func (r *Routine) Equivalent(other *Routine) bool {
	if len(r.Nodes) != len(other.Nodes) {
		return false
	}
	for i := range r.Nodes {
		if !r.Nodes[i].sameShape(&other.Nodes[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the routine under the given key.
func (r *Routine) Clone(key RoutineKey) *Routine {
	c := &Routine{Key: key, Nodes: make([]Node, len(r.Nodes))}
	for i := range r.Nodes {
		c.Nodes[i] = r.Nodes[i].clone()
	}
	return c
}
