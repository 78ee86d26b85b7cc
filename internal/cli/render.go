package cli

import (
	"fmt"
	"io"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
)

// RoutineView is the printable form of one routine and the edges leaving it.
type RoutineView struct {
	Key     string     `json:"key"`
	Name    string     `json:"name,omitempty"`
	Reached *uint8     `json:"reached,omitempty"`
	Nodes   []NodeView `json:"nodes"`
}

// NodeView is one node of a RoutineView.
type NodeView struct {
	Index       uint32     `json:"index"`
	Opcode      string     `json:"opcode"`
	Role        string     `json:"role"`
	Line        uint16     `json:"line"`
	Level       uint8      `json:"level"`
	Target      *int32     `json:"target,omitempty"`
	BranchLevel *uint8     `json:"branch_level,omitempty"`
	Edges       []EdgeView `json:"edges,omitempty"`
}

// EdgeView is one outgoing edge of a node.
type EdgeView struct {
	Kind  string `json:"kind"`
	To    string `json:"to"`
	Level uint8  `json:"level"`
}

// newRoutineView builds the view of r. outgoing returns the edges leaving
// node i; cat may be nil.
func newRoutineView(r *cfg.Routine, outgoing func(i uint32) []*cfg.Edge, cat *catalog.Catalog) RoutineView {
	v := RoutineView{Key: r.Key.String(), Nodes: make([]NodeView, 0, r.Len())}
	if cat != nil && !r.Key.IsDynamic() {
		if name, ok := cat.RoutineName(r.Key.ID); ok {
			v.Name = name
		}
	}

	for i := range r.Nodes {
		n := &r.Nodes[i]
		nv := NodeView{
			Index:  n.Index,
			Opcode: n.Opcode.String(),
			Role:   n.Role.String(),
			Line:   n.Line,
			Level:  uint8(n.UserLevel),
		}
		if n.Branch != nil {
			target := n.Branch.Target
			level := uint8(n.Branch.UserLevel)
			nv.Target, nv.BranchLevel = &target, &level
		}
		for _, e := range outgoing(n.Index) {
			to := e.To.String()
			if e.Kind == cfg.EdgeThrow {
				to = e.Target().String()
			}
			nv.Edges = append(nv.Edges, EdgeView{Kind: e.Kind.String(), To: to, Level: uint8(e.Level())})
		}
		v.Nodes = append(v.Nodes, nv)
	}
	return v
}

// graphOutgoing adapts a graph's edge set to newRoutineView.
func graphOutgoing(g *cfg.Graph, key cfg.RoutineKey) func(uint32) []*cfg.Edge {
	return func(i uint32) []*cfg.Edge {
		return g.Edges.OutgoingEdges(cfg.NodeKey{Routine: key, Index: i})
	}
}

// entryOutgoing groups a point-lookup entry's edges by source node.
func entryOutgoing(edges []*cfg.Edge) func(uint32) []*cfg.Edge {
	bySource := make(map[uint32][]*cfg.Edge)
	for _, e := range edges {
		bySource[e.From.Index] = append(bySource[e.From.Index], e)
	}
	return func(i uint32) []*cfg.Edge {
		return bySource[i]
	}
}

func (v RoutineView) writeText(w io.Writer) {
	fmt.Fprintf(w, "routine %s", v.Key)
	if v.Name != "" {
		fmt.Fprintf(w, " %s", v.Name)
	}
	if v.Reached != nil {
		fmt.Fprintf(w, " reached=%s", levelText(*v.Reached))
	}
	fmt.Fprintln(w)

	for _, n := range v.Nodes {
		fmt.Fprintf(w, "  %4d %-16s %-6s line=%d level=%s", n.Index, n.Opcode, n.Role, n.Line, levelText(n.Level))
		if n.Target != nil {
			if *n.Target == cfg.NoTarget {
				fmt.Fprint(w, " target=none")
			} else {
				fmt.Fprintf(w, " target=%d", *n.Target)
			}
			fmt.Fprintf(w, " branch_level=%s", levelText(*n.BranchLevel))
		}
		fmt.Fprintln(w)
		for _, e := range n.Edges {
			fmt.Fprintf(w, "         %s -> %s level=%s\n", e.Kind, e.To, levelText(e.Level))
		}
	}
}

func levelText(l uint8) string {
	if cfg.UserLevel(l) == cfg.UserLevelUnreached {
		return "unreached"
	}
	return fmt.Sprintf("%d", l)
}
