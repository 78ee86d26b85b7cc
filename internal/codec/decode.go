package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/cfgset/internal/cfg"
)

// ReadFile loads the dataset at path with a full sequential decode.
func ReadFile(path string) (*cfg.Graph, error) {
	if err := checkExtension(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	g, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return g, nil
}

// Decode reads a complete dataset from r. Truncated streams, unrecognized
// opcodes or roles, inconsistent offsets and missing required branch
// targets are reported as FormatErrors.
func Decode(r io.Reader) (*cfg.Graph, error) {
	rd := &wordReader{r: bufio.NewReader(r)}

	var header [3]uint32
	for i := range header {
		w, err := rd.word()
		if err != nil {
			return nil, err
		}
		header[i] = w
	}
	tableOffset, staticCount, dynamicCount := header[0], header[1], header[2]

	g := cfg.NewGraph()
	var pending []pendingEdge

	var prev uint32
	for i := uint32(0); i < staticCount; i++ {
		hash, err := rd.word()
		if err != nil {
			return nil, err
		}
		if i > 0 && hash <= prev {
			return nil, cfg.NewFormatError("static routine 0x%08x out of order after 0x%08x", hash, prev)
		}
		prev = hash
		r, edges, err := readRoutine(rd, cfg.StaticKey(hash))
		if err != nil {
			return nil, err
		}
		g.AddStatic(r)
		pending = append(pending, edges...)
	}

	for i := uint32(0); i < dynamicCount; i++ {
		index, err := rd.word()
		if err != nil {
			return nil, err
		}
		if index != i {
			return nil, cfg.NewFormatError("dynamic routine %d stored at position %d", index, i)
		}
		r, edges, err := readRoutine(rd, cfg.DynamicKey(i))
		if err != nil {
			return nil, err
		}
		g.AddDynamic(r)
		pending = append(pending, edges...)
	}

	for _, p := range pending {
		if !g.HasNode(p.target()) {
			return nil, cfg.NewFormatError("edge %s -> %s has no target", p.from, p.target())
		}
		p.addTo(g.Edges)
	}

	if err := readTrailer(rd, tableOffset, dynamicCount); err != nil {
		return nil, err
	}
	return g, nil
}

// readTrailer walks the chains, hashtable and dynamic offset list so a
// truncated or inconsistent tail is caught at load time.
func readTrailer(rd *wordReader, tableOffset, dynamicCount uint32) error {
	if tableOffset < rd.off {
		return cfg.NewFormatError("hashtable offset %d precedes end of routines at %d", tableOffset, rd.off)
	}
	if err := rd.skip(tableOffset - rd.off); err != nil {
		return err
	}
	mask, err := rd.word()
	if err != nil {
		return err
	}
	if mask&(mask+1) != 0 {
		return cfg.NewFormatError("hashtable mask 0x%x is not a power of two minus one", mask)
	}
	if err := rd.skip((mask + 1) * wordSize); err != nil {
		return err
	}
	count, err := rd.word()
	if err != nil {
		return err
	}
	if count != dynamicCount {
		return cfg.NewFormatError("dynamic offset count %d != header count %d", count, dynamicCount)
	}
	return rd.skip(count * wordSize)
}

// pendingEdge is a target list entry held until every routine is loaded.
type pendingEdge struct {
	kind    cfg.EdgeKind
	from    cfg.NodeKey
	to      cfg.RoutineKey
	toIndex uint32
	level   cfg.UserLevel
}

func (p pendingEdge) target() cfg.NodeKey {
	return cfg.NodeKey{Routine: p.to, Index: p.toIndex}
}

func (p pendingEdge) addTo(s *cfg.EdgeSet) {
	if p.kind == cfg.EdgeThrow {
		s.AddExceptionEdge(p.from, p.to, p.toIndex, p.level)
		return
	}
	s.AddCallEdge(p.from, p.to, p.level)
}

// maxPrealloc bounds capacity reserved from an unverified count word.
const maxPrealloc = 1024

// readRoutine decodes the node words and target lists of one routine record
// whose leading id word has already been consumed.
func readRoutine(rd *wordReader, key cfg.RoutineKey) (*cfg.Routine, []pendingEdge, error) {
	count, err := rd.word()
	if err != nil {
		return nil, nil, err
	}
	if count > indexMask {
		return nil, nil, cfg.NewFormatError("node count %d out of range", count).At(key, -1)
	}

	r := cfg.NewRoutine(key)
	r.Nodes = make([]cfg.Node, 0, min(count, maxPrealloc))
	lists := make(map[uint32]uint32)

	for i := uint32(0); i < count; i++ {
		var w [nodeWords]uint32
		for j := range w {
			if w[j], err = rd.word(); err != nil {
				return nil, nil, err
			}
		}
		n, err := unpackNode(i, w)
		if err != nil {
			return nil, nil, err.At(key, int(i))
		}
		r.Append(n)
		if n.OwnsTargetList() {
			lists[i] = w[2]
		}
	}

	var edges []pendingEdge
	for i := range r.Nodes {
		n := &r.Nodes[i]
		want, ok := lists[n.Index]
		if !ok {
			continue
		}
		if rd.off != want {
			return nil, nil, cfg.NewFormatError("target list at offset %d, node points to %d", rd.off, want).At(key, i)
		}
		from := r.NodeKey(n.Index)
		entries, err := rd.word()
		if err != nil {
			return nil, nil, err
		}
		for j := uint32(0); j < entries; j++ {
			to, err := rd.word()
			if err != nil {
				return nil, nil, err
			}
			packed, err := rd.word()
			if err != nil {
				return nil, nil, err
			}
			e, ferr := unpackEntry(from, to, packed)
			if ferr != nil {
				return nil, nil, ferr.At(key, i)
			}
			edges = append(edges, e)
		}
	}

	if err := r.Validate(); err != nil {
		return nil, nil, err
	}
	return r, edges, nil
}

func unpackNode(index uint32, w [nodeWords]uint32) (cfg.Node, *cfg.Error) {
	op := cfg.Opcode(w[0] & 0xff)
	if !op.Known() {
		return cfg.Node{}, cfg.NewFormatError("unrecognized opcode %d", uint8(op))
	}
	role, ok := RoleFromFlag((w[0] >> 8) & 0xff)
	if !ok {
		return cfg.Node{}, cfg.NewFormatError("unrecognized role flags 0x%x", (w[0]>>8)&0xff)
	}
	line := uint16(w[0] >> 16)
	level := cfg.UserLevel(w[1] >> levelShift)
	field := w[1] & indexMask

	if role == cfg.RoleBranch {
		target := cfg.NoTarget
		if field != noTarget {
			target = int32(field)
		}
		return cfg.NewBranchNode(index, op, line, level, target, cfg.UserLevel(w[2]&levelMask)), nil
	}
	if field != index {
		return cfg.Node{}, cfg.NewFormatError("node index field %d at position %d", field, index)
	}
	return cfg.NewNode(index, op, role, line, level), nil
}

func unpackEntry(from cfg.NodeKey, to, packed uint32) (pendingEdge, *cfg.Error) {
	e := pendingEdge{
		kind:    cfg.EdgeCall,
		from:    from,
		to:      cfg.StaticKey(to),
		toIndex: packed & entryIndexMask,
		level:   cfg.UserLevel(packed >> levelShift),
	}
	if packed&entryDynamic != 0 {
		e.to = cfg.DynamicKey(to)
	}
	if packed&entryThrow != 0 {
		e.kind = cfg.EdgeThrow
	} else if e.toIndex != 0 {
		return pendingEdge{}, cfg.NewFormatError("call edge to %s enters at node %d", e.to, e.toIndex)
	}
	return e, nil
}

// wordReader tracks the absolute offset of a sequential read.
type wordReader struct {
	r   io.Reader
	off uint32
	buf [wordSize]byte
}

func (rd *wordReader) word() (uint32, error) {
	if _, err := io.ReadFull(rd.r, rd.buf[:]); err != nil {
		return 0, truncated(rd.off, err)
	}
	rd.off += wordSize
	return order.Uint32(rd.buf[:]), nil
}

func (rd *wordReader) skip(n uint32) error {
	copied, err := io.CopyN(io.Discard, rd.r, int64(n))
	rd.off += uint32(copied)
	if err != nil {
		return truncated(rd.off, err)
	}
	return nil
}

func truncated(off uint32, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return cfg.NewFormatError("truncated dataset at offset %d", off)
	}
	return fmt.Errorf("read dataset at offset %d: %w", off, err)
}
