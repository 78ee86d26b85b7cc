package testutil

import (
	"github.com/roach88/cfgset/internal/cfg"
)

// GraphBuilder assembles small graphs for tests.
//
// Example:
//
//	g := testutil.NewGraph().
//		Static(0x10, testutil.Op(cfg.OpNop), testutil.Call(5)).
//		Static(0x20, testutil.Op(cfg.OpReturn)).
//		CallEdge(cfg.StaticKey(0x10), 1, cfg.StaticKey(0x20), 5).
//		Build()
type GraphBuilder struct {
	g *cfg.Graph
}

// NewGraph starts an empty graph.
func NewGraph() *GraphBuilder {
	return &GraphBuilder{g: cfg.NewGraph()}
}

// Static adds a static routine with the given hash and nodes.
func (b *GraphBuilder) Static(hash uint32, nodes ...cfg.Node) *GraphBuilder {
	b.g.AddStatic(Routine(cfg.StaticKey(hash), nodes...))
	return b
}

// Dynamic appends a dynamic routine at the next index.
func (b *GraphBuilder) Dynamic(nodes ...cfg.Node) *GraphBuilder {
	b.g.AddDynamic(Routine(cfg.DynamicKey(0), nodes...))
	return b
}

// CallEdge adds a call edge from node fromIndex of from into to.
func (b *GraphBuilder) CallEdge(from cfg.RoutineKey, fromIndex uint32, to cfg.RoutineKey, level cfg.UserLevel) *GraphBuilder {
	b.g.Edges.AddCallEdge(cfg.NodeKey{Routine: from, Index: fromIndex}, to, level)
	return b
}

// ThrowEdge adds an exception edge from node fromIndex of from to the catch
// site catchIndex of to.
func (b *GraphBuilder) ThrowEdge(from cfg.RoutineKey, fromIndex uint32, to cfg.RoutineKey, catchIndex uint32, level cfg.UserLevel) *GraphBuilder {
	b.g.Edges.AddExceptionEdge(cfg.NodeKey{Routine: from, Index: fromIndex}, to, catchIndex, level)
	return b
}

// Build returns the assembled graph.
func (b *GraphBuilder) Build() *cfg.Graph {
	return b.g
}

// Routine creates a routine from nodes, renumbering them from 0.
func Routine(key cfg.RoutineKey, nodes ...cfg.Node) *cfg.Routine {
	r := cfg.NewRoutine(key)
	for _, n := range nodes {
		r.Append(n)
	}
	return r
}

// Op creates a normal node reached at the anonymous level.
func Op(op cfg.Opcode) cfg.Node {
	return cfg.NewNode(0, op, cfg.RoleNormal, 1, cfg.UserLevelAnonymous)
}

// Call creates a DO_FCALL node reached at level.
func Call(level cfg.UserLevel) cfg.Node {
	return cfg.NewNode(0, cfg.OpDoFcall, cfg.RoleCall, 1, level)
}

// Eval creates an INCLUDE_OR_EVAL node reached at level.
func Eval(level cfg.UserLevel) cfg.Node {
	return cfg.NewNode(0, cfg.OpIncludeOrEval, cfg.RoleEval, 1, level)
}

// Jump creates a branch node with the given opcode and target.
func Jump(op cfg.Opcode, target int32) cfg.Node {
	return cfg.NewBranchNode(0, op, 1, cfg.UserLevelAnonymous, target, cfg.UserLevelAnonymous)
}

// Leveled returns n with its node user level replaced.
func Leveled(n cfg.Node, level cfg.UserLevel) cfg.Node {
	n.UserLevel = level
	return n
}
