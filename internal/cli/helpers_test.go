package cli

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
)

// writeDataset encodes g to dir/name and returns the path.
func writeDataset(t *testing.T, dir, name string, g *cfg.Graph) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, codec.WriteFile(path, g))
	return path
}

// writeTrace writes g as one node run and one edge run under dir/name.
func writeTrace(t *testing.T, dir, name string, g *cfg.Graph) string {
	t.Helper()
	traceDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(traceDir, 0o755))

	var nodes bytes.Buffer
	put := func(buf *bytes.Buffer, vs ...uint32) {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, vs))
	}
	writeRoutine := func(kind uint32, r *cfg.Routine) {
		put(&nodes, kind, r.Key.ID, uint32(r.Len()))
		for _, n := range r.Nodes {
			second := uint32(0x3ffffff)
			if n.Branch.HasTarget() {
				second = uint32(n.Branch.Target)
			}
			put(&nodes,
				uint32(n.Opcode)|codec.RoleFlag(n.Role)<<8|uint32(n.Line)<<16,
				second|uint32(n.UserLevel)<<26)
		}
	}
	for _, r := range g.StaticRoutines() {
		writeRoutine(0, r)
	}
	for _, r := range g.DynamicRoutines() {
		writeRoutine(1, r)
	}

	var edges bytes.Buffer
	for _, e := range g.Edges.Edges() {
		var flags uint32
		if e.From.Routine.IsDynamic() {
			flags |= 1
		}
		if e.To.IsDynamic() {
			flags |= 2
		}
		if e.Kind == cfg.EdgeThrow {
			flags |= 4
		}
		put(&edges, flags, e.From.Routine.ID, e.From.Index, e.To.ID, e.ToIndex, uint32(e.Level()))
	}

	require.NoError(t, os.WriteFile(filepath.Join(traceDir, "0001.node.run"), nodes.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(traceDir, "0001.edge.run"), edges.Bytes(), 0o644))
	return traceDir
}

// execute runs cmd with args and returns what it wrote to stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// response is a CLIResponse with a typed payload.
type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
	RunID  string    `json:"run_id"`
}

func decodeResponse[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}
