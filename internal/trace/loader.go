package trace

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/codec"
)

const (
	NodeRunSuffix = ".node.run"
	EdgeRunSuffix = ".edge.run"
)

const (
	kindStatic  = 0
	kindDynamic = 1

	flagFromDynamic = 1 << 0
	flagToDynamic   = 1 << 1
	flagThrow       = 1 << 2

	noTarget   = 0x3ffffff
	levelShift = 26
)

// Loader reads trace directories into graphs.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger uses slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// IsTraceDir reports whether path is a directory containing at least one run
// file.
func IsTraceDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	nodes, edges, err := runFiles(path)
	return err == nil && len(nodes)+len(edges) > 0
}

// LoadDir reads every run file in dir. Node runs are read before edge runs.
// Edges may reference routines the trace never recorded; the merge drops
// those.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*cfg.Graph, error) {
	nodes, edges, err := runFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(nodes)+len(edges) == 0 {
		return nil, cfg.NewConfigurationError("no run files in %s", dir)
	}

	b := newBuilder()
	for _, path := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readFile(path, b.readNodes); err != nil {
			return nil, err
		}
	}

	g, err := b.graph()
	if err != nil {
		return nil, err
	}

	for _, path := range edges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readFile(path, func(r io.Reader) error { return ReadEdges(r, g.Edges) }); err != nil {
			return nil, err
		}
	}

	l.logger.Info("loaded trace",
		"dir", dir,
		"node_runs", len(nodes),
		"edge_runs", len(edges),
		"static", g.StaticCount(),
		"dynamic", g.DynamicCount(),
		"edges", g.Edges.Len(),
	)
	return g, nil
}

// ReadNodes decodes one node run into a graph. Dynamic ids must be dense
// from 0.
func ReadNodes(r io.Reader) (*cfg.Graph, error) {
	b := newBuilder()
	if err := b.readNodes(r); err != nil {
		return nil, err
	}
	return b.graph()
}

// ReadEdges decodes one edge run into edges. Repeated edges keep their
// lowest level.
func ReadEdges(r io.Reader, edges *cfg.EdgeSet) error {
	rd := bufio.NewReader(r)
	for {
		var rec [6]uint32
		if err := binary.Read(rd, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return runError(err)
		}
		flags := rec[0]
		from := cfg.NodeKey{Routine: key(flags&flagFromDynamic != 0, rec[1]), Index: rec[2]}
		to := key(flags&flagToDynamic != 0, rec[3])
		level := cfg.UserLevel(rec[5])
		if !level.Valid() {
			return cfg.NewFormatError("edge %s -> %s has user level %d", from, to, rec[5])
		}
		if flags&flagThrow != 0 {
			edges.AddExceptionEdge(from, to, rec[4], level)
		} else {
			edges.AddCallEdge(from, to, level)
		}
	}
}

func key(dynamic bool, id uint32) cfg.RoutineKey {
	if dynamic {
		return cfg.DynamicKey(id)
	}
	return cfg.StaticKey(id)
}

type builder struct {
	static  map[uint32]*cfg.Routine
	dynamic map[uint32]*cfg.Routine
}

func newBuilder() *builder {
	return &builder{
		static:  make(map[uint32]*cfg.Routine),
		dynamic: make(map[uint32]*cfg.Routine),
	}
}

// maxPrealloc bounds capacity reserved from an unverified node count.
const maxPrealloc = 1024

func (b *builder) readNodes(r io.Reader) error {
	rd := bufio.NewReader(r)
	for {
		var head [3]uint32
		if err := binary.Read(rd, binary.LittleEndian, &head); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return runError(err)
		}
		kind, id, count := head[0], head[1], head[2]

		var (
			k    cfg.RoutineKey
			seen map[uint32]*cfg.Routine
		)
		switch kind {
		case kindStatic:
			k, seen = cfg.StaticKey(id), b.static
		case kindDynamic:
			k, seen = cfg.DynamicKey(id), b.dynamic
		default:
			return cfg.NewFormatError("unrecognized routine kind %d", kind)
		}
		if _, dup := seen[id]; dup {
			return cfg.NewFormatError("routine recorded twice").At(k, -1)
		}

		if count > noTarget {
			return cfg.NewFormatError("node count %d out of range", count).At(k, -1)
		}
		words := make([]uint32, 0, 2*min(count, maxPrealloc))
		for i := uint32(0); i < count; i++ {
			var pair [2]uint32
			if err := binary.Read(rd, binary.LittleEndian, &pair); err != nil {
				return runError(err)
			}
			words = append(words, pair[0], pair[1])
		}
		routine, err := decodeRoutine(k, words)
		if err != nil {
			return err
		}
		seen[id] = routine
	}
}

func decodeRoutine(k cfg.RoutineKey, words []uint32) (*cfg.Routine, error) {
	r := cfg.NewRoutine(k)
	for i := 0; i < len(words); i += 2 {
		first, second := words[i], words[i+1]
		op := cfg.Opcode(first & 0xff)
		role, ok := codec.RoleFromFlag((first >> 8) & 0xff)
		if !ok {
			return nil, cfg.NewFormatError("unrecognized role flags 0x%x", (first>>8)&0xff).At(k, i/2)
		}
		line := uint16(first >> 16)
		level := cfg.UserLevel(second >> levelShift)

		if role != cfg.RoleBranch {
			r.Append(cfg.NewNode(0, op, role, line, level))
			continue
		}
		target := cfg.NoTarget
		if t := second & noTarget; t != noTarget {
			target = int32(t)
		}
		// A trace observes one level per branch node.
		r.Append(cfg.NewBranchNode(0, op, line, level, target, level))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *builder) graph() (*cfg.Graph, error) {
	g := cfg.NewGraph()
	for _, r := range b.static {
		g.AddStatic(r)
	}
	for i := uint32(0); i < uint32(len(b.dynamic)); i++ {
		r, ok := b.dynamic[i]
		if !ok {
			return nil, cfg.NewFormatError("dynamic routine ids are not dense: %d missing", i)
		}
		g.AddDynamic(r)
	}
	return g, nil
}

func runFiles(dir string) (nodes, edges []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read trace dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch name := e.Name(); {
		case strings.HasSuffix(name, NodeRunSuffix):
			nodes = append(nodes, filepath.Join(dir, name))
		case strings.HasSuffix(name, EdgeRunSuffix):
			edges = append(edges, filepath.Join(dir, name))
		}
	}
	sort.Strings(nodes)
	sort.Strings(edges)
	return nodes, edges, nil
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open run file: %w", err)
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func runError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return cfg.NewFormatError("truncated run record")
	}
	return fmt.Errorf("read run file: %w", err)
}
