package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
	"github.com/roach88/cfgset/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DBPath  string
	RunID   string
	Routine string
}

// RunView is one ledger row as printed by history.
type RunView struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	Mode      string      `json:"mode"`
	Left      string      `json:"left"`
	Right     string      `json:"right"`
	Output    string      `json:"output"`
	LiveTrace bool        `json:"live_trace"`
	Static    int         `json:"static"`
	Dynamic   int         `json:"dynamic"`
	Edges     int         `json:"edges"`
	Stats     merge.Stats `json:"stats"`
}

// LoweringView is one recorded lowering event.
type LoweringView struct {
	RunID string `json:"run_id,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
	Kind  string `json:"kind"`
	From  string `json:"from"`
	To    string `json:"to"`
	Old   uint8  `json:"old_level"`
	New   uint8  `json:"new_level"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history --db <ledger.db>",
		Short: "Show recorded merge runs and lowering events",
		Long: `Without filters, list every merge run in the ledger in sequence order.
With --run, list the edges that run lowered. With --routine, list every
recorded lowering of an edge into that routine across all runs.`,
		Example: `  cfgset history --db runs.db
  cfgset history --db runs.db --run 0190f3c2-...
  cfgset history --db runs.db --routine 0x1a2b3c4d`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to ledger database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the lowering events of one run")
	cmd.Flags().StringVar(&opts.Routine, "routine", "", "show lowerings into one static routine hash")
	cmd.MarkFlagsMutuallyExclusive("run", "routine")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var key cfg.RoutineKey
	if opts.Routine != "" {
		hash, err := catalog.ParseHash(opts.Routine)
		if err != nil {
			return fail(formatter, "invalid routine", err)
		}
		key = cfg.StaticKey(hash)
	}

	st, err := openStore(opts.DBPath)
	if err != nil {
		return failCode(formatter, ErrCodeStoreFailed, "failed to open ledger", err)
	}
	defer st.Close()

	switch {
	case opts.RunID != "":
		return runHistoryEvents(ctx, formatter, st, opts.RunID)
	case opts.Routine != "":
		records, err := st.LoweringHistory(ctx, key)
		if err != nil {
			return failCode(formatter, ErrCodeStoreFailed, "failed to read history", err)
		}
		views := make([]LoweringView, len(records))
		for i, r := range records {
			views[i] = newLoweringView(r.Event)
			views[i].RunID, views[i].Seq = r.RunID, r.RunSeq
		}
		return formatter.Render(views, func(w io.Writer) error {
			return writeLowerings(w, views)
		})
	default:
		runs, err := st.ReadRuns(ctx)
		if err != nil {
			return failCode(formatter, ErrCodeStoreFailed, "failed to read runs", err)
		}
		views := make([]RunView, len(runs))
		for i, r := range runs {
			views[i] = newRunView(r)
		}
		return formatter.Render(views, func(w io.Writer) error {
			if len(views) == 0 {
				fmt.Fprintln(w, "No runs recorded")
			}
			for _, v := range views {
				fmt.Fprintf(w, "%4d %s %s %s -> %s (%d static, %d dynamic, %d edges, %d lowered)\n",
					v.Seq, v.ID, v.Mode, v.Left, v.Output, v.Static, v.Dynamic, v.Edges, v.Stats.EdgesLowered)
			}
			return nil
		})
	}
}

func runHistoryEvents(ctx context.Context, formatter *OutputFormatter, st *store.Store, runID string) error {
	if _, err := st.ReadRun(ctx, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %q not found", runID), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("run %q not found", runID))
		}
		return failCode(formatter, ErrCodeStoreFailed, "failed to read run", err)
	}

	events, err := st.ReadLoweringEvents(ctx, runID)
	if err != nil {
		return failCode(formatter, ErrCodeStoreFailed, "failed to read events", err)
	}
	views := make([]LoweringView, len(events))
	for i, e := range events {
		views[i] = newLoweringView(e)
	}
	formatter.RunID = runID
	return formatter.Render(views, func(w io.Writer) error {
		return writeLowerings(w, views)
	})
}

func newRunView(r store.MergeRun) RunView {
	return RunView{
		ID:        r.ID,
		Seq:       r.Seq,
		Mode:      string(r.Mode),
		Left:      r.Left,
		Right:     r.Right,
		Output:    r.Output,
		LiveTrace: r.LiveTrace,
		Static:    r.StaticCount,
		Dynamic:   r.DynamicCount,
		Edges:     r.EdgeCount,
		Stats:     r.Stats,
	}
}

func newLoweringView(e merge.LoweringEvent) LoweringView {
	to := e.To.String()
	if e.Kind == cfg.EdgeThrow {
		to = cfg.NodeKey{Routine: e.To, Index: e.ToIndex}.String()
	}
	return LoweringView{
		Kind: e.Kind.String(),
		From: e.From.String(),
		To:   to,
		Old:  uint8(e.Old),
		New:  uint8(e.New),
	}
}

func writeLowerings(w io.Writer, views []LoweringView) error {
	if len(views) == 0 {
		fmt.Fprintln(w, "No lowering events")
	}
	for _, v := range views {
		if v.RunID != "" {
			fmt.Fprintf(w, "%4d %s ", v.Seq, v.RunID)
		}
		fmt.Fprintf(w, "%s %s -> %s level %s -> %d\n", v.Kind, v.From, v.To, levelText(v.Old), v.New)
	}
	return nil
}
