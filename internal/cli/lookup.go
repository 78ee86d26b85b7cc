package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
)

// LookupOptions holds flags for the lookup command.
type LookupOptions struct {
	*RootOptions
	Eval    bool
	Catalog string
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LookupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lookup <dataset.set> <hash>",
		Short: "Read one routine through the dataset hashtable",
		Long: `Find a single routine by hash without decoding the whole dataset, the
way the monitor does at request time. With --eval the second argument is
an eval routine index instead of a hash.`,
		Example: `  cfgset lookup app.set 0x1a2b3c4d
  cfgset lookup app.set 3 --eval`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Eval, "eval", false, "look up an eval routine by index")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "routine catalog file used to name routines")

	return cmd
}

func runLookup(opts *LookupOptions, path, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	var (
		id  uint32
		err error
	)
	if opts.Eval {
		var n uint64
		n, err = strconv.ParseUint(arg, 10, 32)
		if err != nil {
			err = cfg.NewConfigurationError("invalid eval index %q", arg)
		}
		id = uint32(n)
	} else {
		id, err = catalog.ParseHash(arg)
	}
	if err != nil {
		return fail(formatter, "invalid routine", err)
	}

	cat, err := catalogForRead(cmd.Context(), opts.RootOptions, opts.Catalog, path)
	if err != nil {
		return fail(formatter, "failed to load catalog", err)
	}

	idx, err := codec.Open(path)
	if err != nil {
		return fail(formatter, "failed to open dataset", err)
	}
	defer idx.Close()

	var (
		entry *codec.Entry
		found bool
	)
	if opts.Eval {
		entry, found, err = idx.Dynamic(id)
	} else {
		entry, found, err = idx.Lookup(id)
	}
	if err != nil {
		return fail(formatter, "lookup failed", err)
	}
	if !found {
		key := cfg.StaticKey(id)
		if opts.Eval {
			key = cfg.DynamicKey(id)
		}
		_ = formatter.Error(ErrCodeNotFound, "routine "+key.String()+" not in dataset", nil)
		return NewExitError(ExitFailure, "routine "+key.String()+" not in dataset")
	}

	v := newRoutineView(entry.Routine, entryOutgoing(entry.Edges), cat)
	return formatter.Render(v, func(w io.Writer) error {
		v.writeText(w)
		return nil
	})
}
