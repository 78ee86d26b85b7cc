package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
	"github.com/roach88/cfgset/internal/config"
	"github.com/roach88/cfgset/internal/store"
	"github.com/roach88/cfgset/internal/trace"
)

// Input is a graph read from the command line, with where it came from.
type Input struct {
	Path  string
	Graph *cfg.Graph
	Trace bool // read from a directory of run files
}

// newLogger builds the text logger used for diagnostics. Logs always go to
// the error stream so JSON output on stdout stays parseable.
func newLogger(w io.Writer, level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the --config file, or cfgset.yaml next to the dataset
// when the flag is unset. A missing default file yields config.Default.
func loadConfig(opts *RootOptions, dataset string) (*config.Config, error) {
	if opts.Config != "" {
		return config.Load(opts.Config)
	}
	return config.LoadOptional(filepath.Join(filepath.Dir(dataset), config.DefaultFile))
}

// loadInput reads path as a trace directory or an encoded dataset.
func loadInput(ctx context.Context, loader *trace.Loader, path string) (*Input, error) {
	if trace.IsTraceDir(path) {
		g, err := loader.LoadDir(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("load trace %s: %w", path, err)
		}
		return &Input{Path: path, Graph: g, Trace: true}, nil
	}
	g, err := codec.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Input{Path: path, Graph: g}, nil
}

// loadDataset reads the accumulated dataset. When create is set, a missing
// file starts an empty graph.
func loadDataset(path string, create bool) (*Input, error) {
	g, err := codec.ReadFile(path)
	if err == nil {
		return &Input{Path: path, Graph: g}, nil
	}
	if create && errors.Is(err, fs.ErrNotExist) {
		return &Input{Path: path, Graph: cfg.NewGraph()}, nil
	}
	return nil, err
}

// loadCatalog reads the routine catalog from the configured file, falling
// back to the run ledger. Both absent means no catalog.
func loadCatalog(ctx context.Context, c *config.Config, st *store.Store) (*catalog.Catalog, error) {
	if c.Catalog != "" {
		return catalog.LoadFile(c.Catalog)
	}
	if st != nil {
		return st.ReadCatalog(ctx)
	}
	return nil, nil
}

// openStore opens the ledger at path. The parent directory must exist.
func openStore(path string) (*store.Store, error) {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("ledger directory: %w", err)
	}
	return store.Open(path)
}
