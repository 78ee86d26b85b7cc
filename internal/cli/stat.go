package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
)

// DatasetStats is the payload of the stat command.
type DatasetStats struct {
	Path               string        `json:"path"`
	Static             int           `json:"static"`
	Dynamic            int           `json:"dynamic"`
	Nodes              int           `json:"nodes"`
	CallEdges          int           `json:"call_edges"`
	ThrowEdges         int           `json:"throw_edges"`
	UnresolvedBranches int           `json:"unresolved_branches"`
	UnreachedRoutines  int           `json:"unreached_routines"`
	RoutinesByMinLevel map[uint8]int `json:"routines_by_min_level"`
}

// NewStatCommand creates the stat command.
func NewStatCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <dataset.set>",
		Short: "Summarize a dataset",
		Long: `Decode a dataset and report routine, node and edge counts, branches
without a resolved target, and how many routines each user level is the
lowest caller of.`,
		Example:       `  cfgset stat app.set --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runStat(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	g, err := codec.ReadFile(path)
	if err != nil {
		return fail(formatter, "failed to read dataset", err)
	}
	stats := computeStats(path, g)
	return formatter.Render(stats, stats.writeText)
}

func computeStats(path string, g *cfg.Graph) DatasetStats {
	s := DatasetStats{
		Path:               path,
		Static:             g.StaticCount(),
		Dynamic:            g.DynamicCount(),
		RoutinesByMinLevel: make(map[uint8]int),
	}

	routines := append(g.StaticRoutines(), g.DynamicRoutines()...)
	for _, r := range routines {
		s.Nodes += r.Len()
		for i := range r.Nodes {
			if b := r.Nodes[i].Branch; b != nil && !b.HasTarget() {
				s.UnresolvedBranches++
			}
		}
		level := g.Edges.MinUserLevel(r.Key)
		if level == cfg.UserLevelUnreached {
			s.UnreachedRoutines++
			continue
		}
		s.RoutinesByMinLevel[uint8(level)]++
	}

	for _, e := range g.Edges.Edges() {
		if e.Kind == cfg.EdgeThrow {
			s.ThrowEdges++
		} else {
			s.CallEdges++
		}
	}
	return s
}

func (s DatasetStats) writeText(w io.Writer) error {
	fmt.Fprintf(w, "dataset %s\n", s.Path)
	fmt.Fprintf(w, "  static routines:     %d\n", s.Static)
	fmt.Fprintf(w, "  eval routines:       %d\n", s.Dynamic)
	fmt.Fprintf(w, "  nodes:               %d\n", s.Nodes)
	fmt.Fprintf(w, "  call edges:          %d\n", s.CallEdges)
	fmt.Fprintf(w, "  throw edges:         %d\n", s.ThrowEdges)
	fmt.Fprintf(w, "  unresolved branches: %d\n", s.UnresolvedBranches)
	fmt.Fprintf(w, "  unreached routines:  %d\n", s.UnreachedRoutines)

	levels := make([]int, 0, len(s.RoutinesByMinLevel))
	for l := range s.RoutinesByMinLevel {
		levels = append(levels, int(l))
	}
	sort.Ints(levels)
	for _, l := range levels {
		fmt.Fprintf(w, "  reached at level %d:  %d\n", l, s.RoutinesByMinLevel[uint8(l)])
	}
	return nil
}
