package cfg

import "fmt"

// UserLevel is the privilege tier a caller held when reaching a node or edge.
// Lower values are less privileged. Levels occupy 6 bits on disk.
type UserLevel uint8

const (
	// UserLevelAnonymous is the least privileged level.
	UserLevelAnonymous UserLevel = 0

	// UserLevelUnreached is the top of the lattice: no caller was observed.
	UserLevelUnreached UserLevel = 0x3f
)

// Min returns the lower of two levels.
func (l UserLevel) Min(other UserLevel) UserLevel {
	if other < l {
		return other
	}
	return l
}

// Valid reports whether the level fits the on-disk encoding.
func (l UserLevel) Valid() bool {
	return l <= UserLevelUnreached
}

// Role is the node role tag. Role-specific data hangs off the Node:
// only branch nodes carry a Branch payload; call and eval targets live
// in the EdgeSet.
type Role uint8

const (
	RoleNormal Role = iota
	RoleBranch
	RoleCall
	RoleEval
)

func (r Role) String() string {
	switch r {
	case RoleNormal:
		return "normal"
	case RoleBranch:
		return "branch"
	case RoleCall:
		return "call"
	case RoleEval:
		return "eval"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// NoTarget marks a branch without a resolved target.
const NoTarget int32 = -1

// Branch is the payload of a RoleBranch node.
type Branch struct {
	// Target is the index of the branch target within the owning routine,
	// or NoTarget.
	Target int32

	// UserLevel is the lowest level observed taking this branch.
	UserLevel UserLevel
}

// HasTarget reports whether the branch target is resolved.
func (b *Branch) HasTarget() bool {
	return b != nil && b.Target != NoTarget
}

// Node is one instruction-level position within a routine.
type Node struct {
	Index     uint32
	Opcode    Opcode
	Role      Role
	Line      uint16
	UserLevel UserLevel

	// Branch is non-nil exactly when Role == RoleBranch.
	Branch *Branch
}

// NewNode creates a non-branch node.
func NewNode(index uint32, op Opcode, role Role, line uint16, level UserLevel) Node {
	return Node{Index: index, Opcode: op, Role: role, Line: line, UserLevel: level}
}

// NewBranchNode creates a branch node with the given target (or NoTarget).
func NewBranchNode(index uint32, op Opcode, line uint16, level UserLevel, target int32, branchLevel UserLevel) Node {
	return Node{
		Index:     index,
		Opcode:    op,
		Role:      RoleBranch,
		Line:      line,
		UserLevel: level,
		Branch:    &Branch{Target: target, UserLevel: branchLevel},
	}
}

// Next returns the index of the sequential successor.
func (n *Node) Next() uint32 {
	return n.Index + 1
}

// OwnsTargetList reports whether edges may leave this node and the dataset
// therefore stores a target list for it.
func (n *Node) OwnsTargetList() bool {
	return n.Role == RoleCall || n.Role == RoleEval || n.Opcode == OpThrow
}

// sameShape compares the structural identity used for dynamic routine
// matching: opcode, role and branch target.
func (n *Node) sameShape(other *Node) bool {
	if n.Opcode != other.Opcode || n.Role != other.Role {
		return false
	}
	if n.Role != RoleBranch {
		return true
	}
	return branchTarget(n) == branchTarget(other)
}

func branchTarget(n *Node) int32 {
	if n.Branch == nil {
		return NoTarget
	}
	return n.Branch.Target
}

func (n Node) clone() Node {
	if n.Branch != nil {
		b := *n.Branch
		n.Branch = &b
	}
	return n
}
