package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cfgset/internal/catalog"
)

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "routines.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCatalog_ImportThenList(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	catPath := writeCatalog(t, dir, "# routines\n00000020 src/lib.php|:helper\n00000010 src/cart.php|Cart:checkout\n")

	out, _, err := execute(NewCatalogCommand(&RootOptions{Format: "json"}), "import", catPath, "--db", dbPath)
	require.NoError(t, err)
	imported := decodeResponse[CatalogImport](t, out).Data
	assert.Equal(t, 2, imported.Routines)
	assert.Equal(t, 2, imported.Written)

	out, _, err = execute(NewCatalogCommand(&RootOptions{Format: "text"}), "list", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "00000010 src/cart.php|Cart:checkout\n00000020 src/lib.php|:helper\n", out)

	out, _, err = execute(NewCatalogCommand(&RootOptions{Format: "json"}), "list", "--db", dbPath)
	require.NoError(t, err)
	ids := decodeResponse[[]catalog.RoutineID](t, out).Data
	require.Len(t, ids, 2)
	assert.Equal(t, catalog.RoutineID{Hash: 0x10, Path: "src/cart.php", Scope: "Cart", Name: "checkout"}, ids[0])
}

func TestCatalog_ImportedCatalogNamesWatchedRoutines(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	catPath := writeCatalog(t, dir, "00000020 src/lib.php|:helper\n")

	_, _, err := execute(NewCatalogCommand(&RootOptions{Format: "text"}), "import", catPath, "--db", dbPath)
	require.NoError(t, err)

	into := writeDataset(t, dir, "app.set", callGraph(5))
	left := writeDataset(t, dir, "left.set", callGraph(1))
	_, errOut, err := execute(newTestMergeCommand("text"), left, "--into", into, "--db", dbPath, "--watch", "20")
	require.NoError(t, err)
	assert.Contains(t, errOut, "src/lib.php|:helper")
}

func TestCatalog_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	catPath := writeCatalog(t, dir, "00000010 no-separator\n")

	out, _, err := execute(NewCatalogCommand(&RootOptions{Format: "json"}), "import", catPath, "--db", filepath.Join(dir, "runs.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse[any](t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfiguration, resp.Error.Code)
}

func TestCatalog_RequiresDB(t *testing.T) {
	_, _, err := execute(NewCatalogCommand(&RootOptions{Format: "text"}), "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
