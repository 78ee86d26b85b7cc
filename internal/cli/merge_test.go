package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
	"github.com/roach88/cfgset/internal/store"
	"github.com/roach88/cfgset/internal/testutil"
)

const (
	caller = uint32(0x10)
	callee = uint32(0x20)
)

// callGraph is a caller whose first node calls callee at level.
func callGraph(level cfg.UserLevel) *cfg.Graph {
	return testutil.NewGraph().
		Static(caller, testutil.Call(level), testutil.Op(cfg.OpReturn)).
		Static(callee, testutil.Op(cfg.OpNop), testutil.Op(cfg.OpReturn)).
		CallEdge(cfg.StaticKey(caller), 0, cfg.StaticKey(callee), level).
		Build()
}

func newTestMergeCommand(format string) *cobra.Command {
	return newMergeCommand(&RootOptions{Format: format}, testutil.NewFixedRunIDGenerator("run-1"))
}

func TestMerge_LiveTraceLowersEdgeAndRecordsRun(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	tr := writeTrace(t, dir, "req-1", callGraph(2))
	dbPath := filepath.Join(dir, "runs.db")

	out, _, err := execute(newTestMergeCommand("json"), tr, "--into", into, "--db", dbPath)
	require.NoError(t, err)

	resp := decodeResponse[MergeSummary](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "run-1", resp.Data.RunID)
	assert.Equal(t, int64(1), resp.Data.Seq)
	assert.True(t, resp.Data.LiveTrace)
	assert.Equal(t, "incremental", resp.Data.Mode)
	assert.Equal(t, 2, resp.Data.Stats.StaticMerged)
	assert.Equal(t, 1, resp.Data.Stats.EdgesLowered)
	assert.Equal(t, 1, resp.Data.Lowered)

	g, err := codec.ReadFile(into)
	require.NoError(t, err)
	e, ok := g.Edges.Lookup(cfg.EdgeCall, cfg.NodeKey{Routine: cfg.StaticKey(caller)}, cfg.StaticKey(callee), 0)
	require.True(t, ok)
	assert.Equal(t, cfg.UserLevel(2), e.Level())

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, tr, run.Left)
	assert.Equal(t, into, run.Output)
	assert.True(t, run.LiveTrace)

	events, err := st.ReadLoweringEvents(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, cfg.UserLevel(5), events[0].Old)
	assert.Equal(t, cfg.UserLevel(2), events[0].New)
}

func TestMerge_DatasetInputIsNotLive(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	left := writeDataset(t, dir, "left.set", callGraph(1))
	output := filepath.Join(dir, "out.set")

	out, _, err := execute(newTestMergeCommand("json"), left, "--into", into, "-o", output)
	require.NoError(t, err)

	resp := decodeResponse[MergeSummary](t, out)
	assert.False(t, resp.Data.LiveTrace)
	assert.Equal(t, 0, resp.Data.Lowered)
	assert.Equal(t, 1, resp.Data.Stats.EdgesLowered)
	assert.Empty(t, resp.RunID)

	g, err := codec.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, 2, g.StaticCount())

	// --into is untouched when -o names another file.
	orig, err := codec.ReadFile(into)
	require.NoError(t, err)
	e, _ := orig.Edges.Lookup(cfg.EdgeCall, cfg.NodeKey{Routine: cfg.StaticKey(caller)}, cfg.StaticKey(callee), 0)
	assert.Equal(t, cfg.UserLevel(5), e.Level())
}

func TestMerge_StructuralMismatchExitsWithFailure(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", testutil.NewGraph().
		Static(caller, testutil.Op(cfg.OpNop), testutil.Op(cfg.OpReturn)).Build())
	left := writeDataset(t, dir, "left.set", testutil.NewGraph().
		Static(caller, testutil.Op(cfg.OpExit), testutil.Op(cfg.OpReturn)).Build())
	output := filepath.Join(dir, "out.set")

	out, _, err := execute(newTestMergeCommand("json"), left, "--into", into, "-o", output)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, cfg.IsStructuralMismatch(err))

	resp := decodeResponse[any](t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMismatch, resp.Error.Code)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no output is written after a mismatch")
}

func TestMerge_MissingDataset(t *testing.T) {
	dir := t.TempDir()
	left := writeDataset(t, dir, "left.set", callGraph(1))
	into := filepath.Join(dir, "absent.set")

	t.Run("without create", func(t *testing.T) {
		out, _, err := execute(newTestMergeCommand("json"), left, "--into", into)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))

		resp := decodeResponse[any](t, out)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	})

	t.Run("with create", func(t *testing.T) {
		_, _, err := execute(newTestMergeCommand("json"), left, "--into", into, "--create")
		require.NoError(t, err)

		g, err := codec.ReadFile(into)
		require.NoError(t, err)
		assert.Equal(t, 2, g.StaticCount())
		assert.Equal(t, 1, g.Edges.Len())
	})
}

func TestMerge_ConfigFileAndFlagOverride(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	left := writeDataset(t, dir, "left.set", callGraph(1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfgset.yaml"), []byte("mode: base\n"), 0o644))

	out, _, err := execute(newTestMergeCommand("json"), left, "--into", into, "-o", filepath.Join(dir, "a.set"))
	require.NoError(t, err)
	assert.Equal(t, "base", decodeResponse[MergeSummary](t, out).Data.Mode)

	out, _, err = execute(newTestMergeCommand("json"), left, "--into", into, "-o", filepath.Join(dir, "b.set"), "--mode", "incremental")
	require.NoError(t, err)
	assert.Equal(t, "incremental", decodeResponse[MergeSummary](t, out).Data.Mode)
}

func TestMerge_InvalidFlags(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	left := writeDataset(t, dir, "left.set", callGraph(1))

	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"--mode", "sideways"}},
		{"malformed watch hash", []string{"--watch", "not-hex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{left, "--into", into}, tt.args...)
			out, _, err := execute(newTestMergeCommand("json"), args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decodeResponse[any](t, out)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeConfiguration, resp.Error.Code)
		})
	}
}

func TestMerge_MetricsTextfile(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	tr := writeTrace(t, dir, "req-1", callGraph(2))
	metricsPath := filepath.Join(dir, "cfgset.prom")

	_, _, err := execute(newTestMergeCommand("json"), tr, "--into", into, "--metrics-file", metricsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `cfgset_merge_runs_total{mode="incremental",result="ok"} 1`)
	assert.Contains(t, string(data), "cfgset_merge_lowering_events_total 1")
}

func TestMerge_WatchedEdgeIsLogged(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	tr := writeTrace(t, dir, "req-1", callGraph(2))

	_, errOut, err := execute(newTestMergeCommand("text"), tr, "--into", into, "--watch", "0x20")
	require.NoError(t, err)
	assert.Contains(t, errOut, "watched edge")
	assert.Contains(t, errOut, "outcome=lowered")
}

func TestMerge_TextOutput(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	tr := writeTrace(t, dir, "req-1", callGraph(2))

	out, _, err := execute(newTestMergeCommand("text"), tr, "--into", into)
	require.NoError(t, err)
	assert.Contains(t, out, "Merged 1 input(s) into "+into+" (incremental)")
	assert.Contains(t, out, "edges:   1 (1 new, 1 lowered, 0 ignored, 0 dropped)")
	assert.Contains(t, out, "lowered by live trace: 1")
}

func TestMerge_TraceEdgeFromPlainNodeIsDropped(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	g := callGraph(2)
	g.Edges.AddCallEdge(cfg.NodeKey{Routine: cfg.StaticKey(caller), Index: 1}, cfg.StaticKey(callee), 2)
	tr := writeTrace(t, dir, "req-1", g)

	out, _, err := execute(newTestMergeCommand("json"), tr, "--into", into)
	require.NoError(t, err)
	assert.Equal(t, 1, decodeResponse[MergeSummary](t, out).Data.Stats.EdgesDropped)

	merged, err := codec.ReadFile(into)
	require.NoError(t, err)
	assert.Equal(t, 1, merged.Edges.Len())
	e, ok := merged.Edges.Lookup(cfg.EdgeCall, cfg.NodeKey{Routine: cfg.StaticKey(caller)}, cfg.StaticKey(callee), 0)
	require.True(t, ok)
	assert.Equal(t, cfg.UserLevel(2), e.Level())
}

func TestMerge_WriteFailureKeepsDataset(t *testing.T) {
	dir := t.TempDir()
	into := writeDataset(t, dir, "app.set", callGraph(5))
	tr := writeTrace(t, dir, "req-1", callGraph(2))
	before, err := os.ReadFile(into)
	require.NoError(t, err)

	blocked := filepath.Join(dir, "blocked.set")
	require.NoError(t, os.Mkdir(blocked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "keep"), nil, 0o644))

	out, _, err := execute(newTestMergeCommand("json"), tr, "--into", into, "-o", blocked)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := decodeResponse[any](t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeWriteFailed, resp.Error.Code)

	after, err := os.ReadFile(into)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMerge_LiveOverride(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		args     []string
		useTrace bool
		wantLive bool
	}{
		{"traces are live by default", "", nil, true, true},
		{"flag turns traces off", "", []string{"--live=false"}, true, false},
		{"config turns traces off", "live_trace: false\n", nil, true, false},
		{"flag beats config", "live_trace: false\n", []string{"--live"}, true, true},
		{"datasets are not live by default", "", nil, false, false},
		{"flag turns datasets on", "", []string{"--live"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			into := writeDataset(t, dir, "app.set", callGraph(5))
			if tt.config != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "cfgset.yaml"), []byte(tt.config), 0o644))
			}
			var left string
			if tt.useTrace {
				left = writeTrace(t, dir, "req-1", callGraph(2))
			} else {
				left = writeDataset(t, dir, "left.set", callGraph(2))
			}

			args := append([]string{left, "--into", into}, tt.args...)
			out, _, err := execute(newTestMergeCommand("json"), args...)
			require.NoError(t, err)

			summary := decodeResponse[MergeSummary](t, out).Data
			assert.Equal(t, tt.wantLive, summary.LiveTrace)
			if tt.wantLive {
				assert.Equal(t, 1, summary.Lowered)
			} else {
				assert.Equal(t, 0, summary.Lowered)
			}
		})
	}
}

func TestMerge_RequiresInto(t *testing.T) {
	_, _, err := execute(newTestMergeCommand("text"), "left.set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
