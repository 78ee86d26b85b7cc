package trace

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
)

type runWriter struct {
	buf bytes.Buffer
}

func (w *runWriter) words(vs ...uint32) *runWriter {
	_ = binary.Write(&w.buf, binary.LittleEndian, vs)
	return w
}

func (w *runWriter) routine(kind, id uint32, nodes ...cfg.Node) *runWriter {
	w.words(kind, id, uint32(len(nodes)))
	for _, n := range nodes {
		second := uint32(noTarget)
		if n.Branch != nil && n.Branch.HasTarget() {
			second = uint32(n.Branch.Target)
		}
		w.words(uint32(n.Opcode)|codec.RoleFlag(n.Role)<<8|uint32(n.Line)<<16, second|uint32(n.UserLevel)<<levelShift)
	}
	return w
}

func (w *runWriter) edge(flags, fromID, fromIndex, toID, toIndex, level uint32) *runWriter {
	return w.words(flags, fromID, fromIndex, toID, toIndex, level)
}

func (w *runWriter) write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, w.buf.Bytes(), 0o644))
}

func quietLoader() *Loader {
	return NewLoader(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReadNodes(t *testing.T) {
	w := (&runWriter{}).
		routine(kindStatic, 0x10,
			cfg.NewNode(0, cfg.OpDoFcall, cfg.RoleCall, 4, 2),
			cfg.NewBranchNode(0, cfg.OpJmpz, 5, 3, 0, 0),
			cfg.NewBranchNode(0, cfg.OpCatch, 6, 3, cfg.NoTarget, 0),
		).
		routine(kindDynamic, 0, cfg.NewNode(0, cfg.OpReturn, cfg.RoleNormal, 1, 0))

	g, err := ReadNodes(&w.buf)
	require.NoError(t, err)

	r, ok := g.Static(0x10)
	require.True(t, ok)
	require.Equal(t, 3, r.Len())
	assert.Equal(t, cfg.RoleCall, r.Nodes[0].Role)
	assert.Equal(t, uint16(4), r.Nodes[0].Line)
	assert.Equal(t, cfg.UserLevel(2), r.Nodes[0].UserLevel)
	assert.Equal(t, int32(0), r.Nodes[1].Branch.Target)
	assert.Equal(t, cfg.UserLevel(3), r.Nodes[1].Branch.UserLevel)
	assert.False(t, r.Nodes[2].Branch.HasTarget())

	require.Equal(t, 1, g.DynamicCount())
}

func TestReadNodes_Errors(t *testing.T) {
	tests := []struct {
		name string
		run  *runWriter
	}{
		{"unknown kind", (&runWriter{}).words(7, 0, 0)},
		{"truncated header", (&runWriter{}).words(0, 0x10)},
		{"truncated nodes", (&runWriter{}).words(0, 0x10, 2, 0, 0)},
		{"huge node count", (&runWriter{}).words(0, 0x10, noTarget, 0, 0)},
		{"unknown opcode", (&runWriter{}).words(0, 0x10, 1, 250, 0)},
		{"unknown role", (&runWriter{}).words(0, 0x10, 1, 3<<8, 0)},
		{"missing required target", (&runWriter{}).routine(kindStatic, 0x10,
			cfg.NewBranchNode(0, cfg.OpJmp, 1, 0, cfg.NoTarget, 0))},
		{"duplicate routine", (&runWriter{}).
			routine(kindStatic, 0x10, cfg.NewNode(0, cfg.OpNop, cfg.RoleNormal, 1, 0)).
			routine(kindStatic, 0x10, cfg.NewNode(0, cfg.OpNop, cfg.RoleNormal, 1, 0))},
		{"sparse dynamic ids", (&runWriter{}).
			routine(kindDynamic, 1, cfg.NewNode(0, cfg.OpNop, cfg.RoleNormal, 1, 0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadNodes(&tt.run.buf)
			require.Error(t, err)
			assert.True(t, cfg.IsFormatError(err), "got %v", err)
		})
	}
}

func TestReadEdges(t *testing.T) {
	w := (&runWriter{}).
		edge(0, 0x10, 1, 0x20, 0, 5).
		edge(0, 0x10, 1, 0x20, 0, 3).
		edge(flagFromDynamic|flagToDynamic, 0, 2, 1, 0, 4).
		edge(flagThrow, 0x10, 3, 0x20, 7, 1)

	edges := cfg.NewEdgeSet()
	require.NoError(t, ReadEdges(&w.buf, edges))

	require.Equal(t, 3, edges.Len())
	e, ok := edges.Lookup(cfg.EdgeCall, cfg.NodeKey{Routine: cfg.StaticKey(0x10), Index: 1}, cfg.StaticKey(0x20), 0)
	require.True(t, ok)
	assert.Equal(t, cfg.UserLevel(3), e.Level(), "repeated edges keep the lowest level")

	_, ok = edges.Lookup(cfg.EdgeCall, cfg.NodeKey{Routine: cfg.DynamicKey(0), Index: 2}, cfg.DynamicKey(1), 0)
	assert.True(t, ok)
	_, ok = edges.Lookup(cfg.EdgeThrow, cfg.NodeKey{Routine: cfg.StaticKey(0x10), Index: 3}, cfg.StaticKey(0x20), 7)
	assert.True(t, ok)
}

func TestReadEdges_Errors(t *testing.T) {
	err := ReadEdges(&(&runWriter{}).words(0, 0x10, 1).buf, cfg.NewEdgeSet())
	assert.True(t, cfg.IsFormatError(err))

	err = ReadEdges(&(&runWriter{}).edge(0, 0x10, 1, 0x20, 0, 64).buf, cfg.NewEdgeSet())
	assert.True(t, cfg.IsFormatError(err))
}

func TestLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	(&runWriter{}).
		routine(kindStatic, 0x10, cfg.NewNode(0, cfg.OpDoFcall, cfg.RoleCall, 1, 2)).
		write(t, filepath.Join(dir, "a.node.run"))
	(&runWriter{}).
		routine(kindStatic, 0x20, cfg.NewNode(0, cfg.OpReturn, cfg.RoleNormal, 1, 2)).
		write(t, filepath.Join(dir, "b.node.run"))
	(&runWriter{}).
		edge(0, 0x10, 0, 0x20, 0, 2).
		write(t, filepath.Join(dir, "a.edge.run"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o644))

	assert.True(t, IsTraceDir(dir))

	g, err := quietLoader().LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, g.StaticCount())
	assert.Equal(t, 1, g.Edges.Len())
	require.NoError(t, g.Validate())
}

func TestLoader_LoadDirErrors(t *testing.T) {
	empty := t.TempDir()
	assert.False(t, IsTraceDir(empty))
	_, err := quietLoader().LoadDir(context.Background(), empty)
	assert.True(t, cfg.IsConfigurationError(err))

	dir := t.TempDir()
	(&runWriter{}).words(0, 0x10).write(t, filepath.Join(dir, "bad.node.run"))
	_, err = quietLoader().LoadDir(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, cfg.IsFormatError(err))
	assert.Contains(t, err.Error(), "bad.node.run")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = quietLoader().LoadDir(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
