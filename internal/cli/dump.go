package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/codec"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Catalog string
}

// DatasetDump is the payload of the dump command.
type DatasetDump struct {
	Path     string        `json:"path"`
	Static   int           `json:"static"`
	Dynamic  int           `json:"dynamic"`
	Edges    int           `json:"edges"`
	Routines []RoutineView `json:"routines"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <dataset.set>",
		Short: "Print every routine, node and edge of a dataset",
		Long: `Decode a dataset and print it: static routines in hash order, then eval
routines by index. Each routine shows the lowest level over its incoming
edges, each node its opcode, role, line and level, followed by the edges
leaving it.`,
		Example: `  cfgset dump app.set
  cfgset dump app.set --catalog routines.txt --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "routine catalog file used to name routines")

	return cmd
}

func runDump(opts *DumpOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	cat, err := catalogForRead(cmd.Context(), opts.RootOptions, opts.Catalog, path)
	if err != nil {
		return fail(formatter, "failed to load catalog", err)
	}

	g, err := codec.ReadFile(path)
	if err != nil {
		return fail(formatter, "failed to read dataset", err)
	}

	dump := DatasetDump{
		Path:    path,
		Static:  g.StaticCount(),
		Dynamic: g.DynamicCount(),
		Edges:   g.Edges.Len(),
	}
	routines := append(g.StaticRoutines(), g.DynamicRoutines()...)
	for _, r := range routines {
		v := newRoutineView(r, graphOutgoing(g, r.Key), cat)
		reached := uint8(g.Edges.MinUserLevel(r.Key))
		v.Reached = &reached
		dump.Routines = append(dump.Routines, v)
	}

	return formatter.Render(dump, dump.writeText)
}

func (d DatasetDump) writeText(w io.Writer) error {
	fmt.Fprintf(w, "dataset %s: %d static, %d dynamic, %d edges\n", filepath.Base(d.Path), d.Static, d.Dynamic, d.Edges)
	for _, v := range d.Routines {
		fmt.Fprintln(w)
		v.writeText(w)
	}
	return nil
}

// catalogForRead resolves the catalog for read-only commands: the flag wins,
// then the config next to the dataset. A missing config means no catalog.
func catalogForRead(ctx context.Context, opts *RootOptions, flag, dataset string) (*catalog.Catalog, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if flag != "" {
		return catalog.LoadFile(flag)
	}
	conf, err := loadConfig(opts, dataset)
	if err != nil {
		return nil, err
	}
	if conf.Catalog == "" {
		return nil, nil
	}
	return loadCatalog(ctx, conf, nil)
}
