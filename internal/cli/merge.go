package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
	"github.com/roach88/cfgset/internal/config"
	"github.com/roach88/cfgset/internal/merge"
	"github.com/roach88/cfgset/internal/metrics"
	"github.com/roach88/cfgset/internal/store"
	"github.com/roach88/cfgset/internal/trace"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Into        string
	Output      string
	Create      bool
	Mode        string
	Isolate     bool
	LiveTrace   bool
	Watch       []string
	Catalog     string
	Store       string
	MetricsFile string

	idGen store.RunIDGenerator
}

// MergeSummary is the result payload of a merge.
type MergeSummary struct {
	RunID     string      `json:"run_id,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Output    string      `json:"output"`
	Mode      string      `json:"mode"`
	Inputs    []string    `json:"inputs"`
	LiveTrace bool        `json:"live_trace"`
	Static    int         `json:"static"`
	Dynamic   int         `json:"dynamic"`
	Edges     int         `json:"edges"`
	Stats     merge.Stats `json:"stats"`
	Lowered   int         `json:"lowered"`
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return newMergeCommand(rootOpts, store.UUIDv7Generator{})
}

func newMergeCommand(rootOpts *RootOptions, idGen store.RunIDGenerator) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts, idGen: idGen}

	cmd := &cobra.Command{
		Use:   "merge <left>... --into <dataset.set>",
		Short: "Fold traces or datasets into an accumulated dataset",
		Long: `Merge each left input into the accumulated dataset, in argument order.

A left input is either a trace directory holding .node.run and .edge.run
files, or an encoded .set dataset. When every left input is a trace, the
merge runs as a live trace and records every edge whose user level it
lowered.

Settings are read from cfgset.yaml next to the dataset (or --config).
Flags override the file.

A structural mismatch between inputs aborts the merge with exit code 1 and
leaves the output untouched.`,
		Example: `  # Fold one request trace into the dataset in place
  cfgset merge traces/req-0042 --into app.set

  # Merge two partial datasets as peers into a new file
  cfgset merge left.set --into right.set --mode base -o combined.set

  # Record the run and its lowering events in the ledger
  cfgset merge traces/req-0042 --into app.set --db runs.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Into, "into", "", "accumulated dataset (.set) to merge into")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output dataset (default: overwrite --into)")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "start from an empty dataset if --into does not exist")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "matcher variant (base|incremental)")
	cmd.Flags().BoolVar(&opts.Isolate, "isolate", false, "merge into a copy of the dataset")
	cmd.Flags().BoolVar(&opts.LiveTrace, "live", false, "treat left inputs as live traces (default: only when all are traces)")
	cmd.Flags().StringSliceVar(&opts.Watch, "watch", nil, "routine hash whose edges are logged (repeatable)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "routine catalog file")
	cmd.Flags().StringVar(&opts.Store, "db", "", "run ledger database")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	_ = cmd.MarkFlagRequired("into")

	return cmd
}

func runMerge(opts *MergeOptions, lefts []string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	conf, err := loadConfig(opts.RootOptions, opts.Into)
	if err != nil {
		return fail(formatter, "failed to load config", err)
	}
	if err := applyMergeFlags(cmd, opts, conf); err != nil {
		return fail(formatter, "invalid flags", err)
	}
	mode, err := conf.MergeMode()
	if err != nil {
		return fail(formatter, "invalid flags", err)
	}
	mergeOpts, err := conf.MergeOptions()
	if err != nil {
		return fail(formatter, "invalid flags", err)
	}

	logger := newLogger(formatter.GetErrWriter(), conf.SlogLevel(), opts.Verbose)
	mergeOpts = append(mergeOpts, merge.WithLogger(logger))

	var st *store.Store
	if conf.Store != "" {
		st, err = openStore(conf.Store)
		if err != nil {
			return failCode(formatter, ErrCodeStoreFailed, "failed to open ledger", err)
		}
		defer st.Close()
	}

	cat, err := loadCatalog(ctx, conf, st)
	if err != nil {
		return fail(formatter, "failed to load catalog", err)
	}
	if cat != nil {
		mergeOpts = append(mergeOpts, merge.WithRoutineNamer(cat))
		formatter.VerboseLog("Loaded catalog with %d routines", cat.Len())
	}

	inputs, right, err := readMergeInputs(ctx, logger, lefts, opts.Into, opts.Create)
	if err != nil {
		return fail(formatter, "failed to read inputs", err)
	}
	live := conf.Live(allTraces(inputs))
	if live && conf.LiveTrace == nil {
		// an explicit live_trace: true is already in mergeOpts
		mergeOpts = append(mergeOpts, merge.WithLiveTrace())
	}

	reg := prometheus.NewRegistry()
	var rec *metrics.Recorder
	if conf.MetricsFile != "" {
		rec = metrics.New(reg)
	}

	graphs := make([]*cfg.Graph, len(inputs))
	for i, in := range inputs {
		graphs[i] = in.Graph
	}

	start := time.Now()
	res, err := merge.New(mergeOpts...).MergeAll(right.Graph, graphs...)
	if err != nil {
		if rec != nil {
			rec.ObserveFailure(mode, err)
			if werr := metrics.WriteTextfile(conf.MetricsFile, reg); werr != nil {
				logger.Warn("metrics not written", "error", werr)
			}
		}
		return fail(formatter, "merge failed", err)
	}
	if rec != nil {
		rec.ObserveMerge(mode, res, time.Since(start))
	}

	output := opts.Output
	if output == "" {
		output = opts.Into
	}
	if err := codec.WriteFile(output, res.Graph); err != nil {
		if cfg.KindOf(err) != "" {
			return fail(formatter, "failed to write dataset", err)
		}
		return failCode(formatter, ErrCodeWriteFailed, "failed to write dataset", err)
	}

	summary := MergeSummary{
		Output:    output,
		Mode:      string(mode),
		Inputs:    lefts,
		LiveTrace: live,
		Static:    res.Graph.StaticCount(),
		Dynamic:   res.Graph.DynamicCount(),
		Edges:     res.Graph.Edges.Len(),
		Stats:     res.Stats,
		Lowered:   len(res.Lowered),
	}

	if st != nil {
		run := store.MergeRun{
			ID:           opts.idGen.Generate(),
			Mode:         mode,
			Left:         strings.Join(lefts, ","),
			Right:        opts.Into,
			Output:       output,
			LiveTrace:    live,
			Stats:        res.Stats,
			StaticCount:  summary.Static,
			DynamicCount: summary.Dynamic,
			EdgeCount:    summary.Edges,
		}
		seq, _, err := st.RecordRun(ctx, run, res.Lowered)
		if err != nil {
			return failCode(formatter, ErrCodeStoreFailed, "failed to record run", err)
		}
		summary.RunID, summary.Seq = run.ID, seq
		formatter.RunID = run.ID
	}

	if rec != nil {
		if err := metrics.WriteTextfile(conf.MetricsFile, reg); err != nil {
			return failCode(formatter, ErrCodeWriteFailed, "failed to write metrics", err)
		}
	}

	return formatter.Render(summary, summary.writeText)
}

// applyMergeFlags overlays explicitly set flags onto conf and revalidates.
func applyMergeFlags(cmd *cobra.Command, opts *MergeOptions, conf *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		conf.Mode = opts.Mode
	}
	if flags.Changed("isolate") {
		conf.Isolate = opts.Isolate
	}
	if flags.Changed("live") {
		live := opts.LiveTrace
		conf.LiveTrace = &live
	}
	if flags.Changed("watch") {
		conf.Watch = append(conf.Watch, opts.Watch...)
	}
	if flags.Changed("catalog") {
		conf.Catalog = opts.Catalog
	}
	if flags.Changed("db") {
		conf.Store = opts.Store
	}
	if flags.Changed("metrics-file") {
		conf.MetricsFile = opts.MetricsFile
	}
	return conf.Validate()
}

// readMergeInputs decodes the left inputs and the accumulated dataset
// concurrently. The first failure cancels the rest.
func readMergeInputs(ctx context.Context, logger *slog.Logger, lefts []string, into string, create bool) ([]*Input, *Input, error) {
	g, gctx := errgroup.WithContext(ctx)
	loader := trace.NewLoader(logger)

	inputs := make([]*Input, len(lefts))
	for i, path := range lefts {
		g.Go(func() error {
			in, err := loadInput(gctx, loader, path)
			if err != nil {
				return err
			}
			inputs[i] = in
			return nil
		})
	}

	var right *Input
	g.Go(func() error {
		in, err := loadDataset(into, create)
		if err != nil {
			return err
		}
		right = in
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return inputs, right, nil
}

func allTraces(inputs []*Input) bool {
	for _, in := range inputs {
		if !in.Trace {
			return false
		}
	}
	return len(inputs) > 0
}

func (s MergeSummary) writeText(w io.Writer) error {
	st := s.Stats
	fmt.Fprintf(w, "Merged %d input(s) into %s (%s)\n", len(s.Inputs), s.Output, s.Mode)
	fmt.Fprintf(w, "  static:  %d (%d added, %d merged, %d fall-through patched)\n",
		s.Static, st.StaticAdded, st.StaticMerged, st.FallThroughPatched)
	fmt.Fprintf(w, "  dynamic: %d (%d matched, %d appended)\n",
		s.Dynamic, st.DynamicMatched, st.DynamicAppended)
	fmt.Fprintf(w, "  edges:   %d (%d new, %d lowered, %d ignored, %d dropped)\n",
		s.Edges, st.EdgesNew, st.EdgesLowered, st.EdgesIgnored, st.EdgesDropped)
	if s.LiveTrace {
		fmt.Fprintf(w, "  lowered by live trace: %d\n", s.Lowered)
	}
	if s.RunID != "" {
		fmt.Fprintf(w, "  run: %s (seq %d)\n", s.RunID, s.Seq)
	}
	return nil
}
