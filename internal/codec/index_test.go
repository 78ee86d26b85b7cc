package codec

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/testutil"
)

func openBytes(t *testing.T, b []byte) *Index {
	t.Helper()
	idx, err := NewIndex(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	return idx
}

func TestIndex_LookupStatic(t *testing.T) {
	g := sampleGraph()
	idx := openBytes(t, encode(t, g))

	assert.Equal(t, 2, idx.StaticCount())
	assert.Equal(t, 1, idx.DynamicCount())

	entry, ok, err := idx.Lookup(0x10)
	require.NoError(t, err)
	require.True(t, ok)

	want, _ := g.Static(0x10)
	assert.Equal(t, want, entry.Routine)
	require.Len(t, entry.Edges, 3)
	assert.Equal(t, cfg.EdgeThrow, entry.Edges[1].Kind)
	assert.Equal(t, uint32(1), entry.Edges[1].ToIndex)
	assert.Equal(t, cfg.UserLevel(9), entry.Edges[1].Level())
	assert.Equal(t, cfg.DynamicKey(0), entry.Edges[2].To)
}

func TestIndex_LookupMissing(t *testing.T) {
	idx := openBytes(t, encode(t, sampleGraph()))

	_, ok, err := idx.Lookup(0xdeadbeef)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = idx.Dynamic(5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_LookupCollidingBucket(t *testing.T) {
	// Three statics give mask 7; all of these land in bucket 0.
	hashes := []uint32{0x08, 0x10, 0x18}
	b := testutil.NewGraph()
	for i, h := range hashes {
		b.Static(h, testutil.Leveled(testutil.Op(cfg.OpNop), cfg.UserLevel(i+1)))
	}
	idx := openBytes(t, encode(t, b.Build()))

	for i, h := range hashes {
		entry, ok, err := idx.Lookup(h)
		require.NoError(t, err)
		require.True(t, ok, "hash 0x%x", h)
		assert.Equal(t, cfg.StaticKey(h), entry.Routine.Key)
		assert.Equal(t, cfg.UserLevel(i+1), entry.Routine.Nodes[0].UserLevel)
	}

	_, ok, err := idx.Lookup(0x20)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_Dynamic(t *testing.T) {
	g := sampleGraph()
	idx := openBytes(t, encode(t, g))

	entry, ok, err := idx.Dynamic(0)
	require.NoError(t, err)
	require.True(t, ok)

	want, _ := g.Dynamic(0)
	assert.Equal(t, want, entry.Routine)
	require.Len(t, entry.Edges, 2)
	assert.Equal(t, caller, entry.Edges[0].To)
	assert.Equal(t, callee, entry.Edges[1].To)
}

func TestIndex_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.set")
	require.NoError(t, WriteFile(path, sampleGraph()))

	idx, err := Open(path)
	require.NoError(t, err)
	defer idx.Close()

	entry, ok, err := idx.Lookup(0x20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, entry.Routine.Len())
}

func TestIndex_TruncatedHeader(t *testing.T) {
	_, err := NewIndex(bytes.NewReader([]byte{1, 2, 3}), 3)
	require.Error(t, err)
	assert.True(t, cfg.IsFormatError(err))
}
