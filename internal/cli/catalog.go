package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cfgset/internal/catalog"
)

// CatalogOptions holds flags for the catalog subcommands.
type CatalogOptions struct {
	*RootOptions
	DBPath string
}

// CatalogImport is the payload of catalog import.
type CatalogImport struct {
	File     string `json:"file"`
	Routines int    `json:"routines"`
	Written  int    `json:"written"`
}

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the routine catalog stored in the run ledger",
		Long: `The routine catalog maps hashes to "<path>|<scope>:<name>" so logs and
dumps can name routines. A catalog file holds one "<hex-hash> path|scope:name"
entry per line; import copies it into the ledger, where merge picks it up
when no catalog file is configured.`,
	}
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to ledger database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newCatalogImportCommand(opts))
	cmd.AddCommand(newCatalogListCommand(opts))
	return cmd
}

func newCatalogImportCommand(opts *CatalogOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "import <catalog-file>",
		Short:         "Load a catalog file into the ledger",
		Example:       `  cfgset catalog import routines.txt --db runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogImport(opts, args[0], cmd)
		},
	}
}

func newCatalogListCommand(opts *CatalogOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "Print the catalog stored in the ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogList(opts, cmd)
		},
	}
}

func runCatalogImport(opts *CatalogOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cat, err := catalog.LoadFile(file)
	if err != nil {
		return fail(formatter, "failed to load catalog", err)
	}

	st, err := openStore(opts.DBPath)
	if err != nil {
		return failCode(formatter, ErrCodeStoreFailed, "failed to open ledger", err)
	}
	defer st.Close()

	n, err := st.ImportCatalog(ctx, cat)
	if err != nil {
		return failCode(formatter, ErrCodeStoreFailed, "failed to import catalog", err)
	}
	formatter.VerboseLog("Imported %d of %d routines from %s", n, cat.Len(), file)

	result := CatalogImport{File: file, Routines: cat.Len(), Written: n}
	return formatter.Render(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Imported %d routines from %s\n", result.Routines, result.File)
		return nil
	})
}

func runCatalogList(opts *CatalogOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(opts.DBPath)
	if err != nil {
		return failCode(formatter, ErrCodeStoreFailed, "failed to open ledger", err)
	}
	defer st.Close()

	cat, err := st.ReadCatalog(ctx)
	if err != nil {
		return failCode(formatter, ErrCodeStoreFailed, "failed to read catalog", err)
	}

	ids := cat.IDs()
	return formatter.Render(ids, func(w io.Writer) error {
		for _, id := range ids {
			fmt.Fprintf(w, "%08x %s\n", id.Hash, id)
		}
		return nil
	})
}
