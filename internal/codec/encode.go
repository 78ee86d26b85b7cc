package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/cfgset/internal/cfg"
)

// WriteFile encodes g to path. The dataset is streamed into a temporary
// file in the same directory with a placeholder header, the hashtable
// offset is patched in place, and the file is renamed over path. A failed
// write leaves any existing file at path untouched.
func WriteFile(path string, g *cfg.Graph) error {
	if err := checkExtension(path); err != nil {
		return err
	}
	if err := checkEncodable(g); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	tmp := f.Name()
	if err := writeTemp(f, g); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}

func writeTemp(f *os.File, g *cfg.Graph) error {
	tableOffset, err := encodeBody(f, g)
	if err != nil {
		return err
	}
	var word [wordSize]byte
	order.PutUint32(word[:], tableOffset)
	if _, err := f.WriteAt(word[:], 0); err != nil {
		return fmt.Errorf("patch dataset header: %w", err)
	}
	if err := f.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod dataset: %w", err)
	}
	return f.Sync()
}

// Encode writes the complete dataset for g to w. It produces the same bytes
// as WriteFile without requiring a seekable sink.
func Encode(w io.Writer, g *cfg.Graph) error {
	var buf bytes.Buffer
	tableOffset, err := encodeBody(&buf, g)
	if err != nil {
		return err
	}
	order.PutUint32(buf.Bytes()[0:wordSize], tableOffset)
	_, err = w.Write(buf.Bytes())
	return err
}

func checkExtension(path string) error {
	if filepath.Ext(path) != Extension {
		return cfg.NewFormatError("dataset path %q must end in %s", path, Extension)
	}
	return nil
}

type encoder struct {
	w     *bufio.Writer
	edges *cfg.EdgeSet
	off   uint32
	word  [wordSize]byte
}

func (e *encoder) put(v uint32) error {
	order.PutUint32(e.word[:], v)
	if _, err := e.w.Write(e.word[:]); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	e.off += wordSize
	return nil
}

func (e *encoder) putAll(vs ...uint32) error {
	for _, v := range vs {
		if err := e.put(v); err != nil {
			return err
		}
	}
	return nil
}

// encodeBody streams the dataset with a zero hashtable offset and returns
// the offset the header should hold.
func encodeBody(w io.Writer, g *cfg.Graph) (uint32, error) {
	if err := checkEncodable(g); err != nil {
		return 0, err
	}

	enc := &encoder{w: bufio.NewWriter(w), edges: g.Edges}
	statics := g.StaticRoutines()
	dynamics := g.DynamicRoutines()

	if err := enc.putAll(0, uint32(len(statics)), uint32(len(dynamics))); err != nil {
		return 0, err
	}

	staticOffsets := make([]uint32, len(statics))
	for i, r := range statics {
		staticOffsets[i] = enc.off
		if err := enc.routine(r, r.Key.ID); err != nil {
			return 0, err
		}
	}
	dynamicOffsets := make([]uint32, len(dynamics))
	for i, r := range dynamics {
		dynamicOffsets[i] = enc.off
		if err := enc.routine(r, uint32(i)); err != nil {
			return 0, err
		}
	}

	mask := tableMask(len(statics))
	buckets := make([][]uint32, mask+1)
	for i, r := range statics {
		b := r.Key.ID & mask
		buckets[b] = append(buckets[b], staticOffsets[i])
	}

	chains := make([]uint32, mask+1)
	for b, offsets := range buckets {
		if len(offsets) == 0 {
			continue
		}
		chains[b] = enc.off
		if err := enc.putAll(offsets...); err != nil {
			return 0, err
		}
		if err := enc.put(0); err != nil {
			return 0, err
		}
	}

	tableOffset := enc.off
	if err := enc.put(mask); err != nil {
		return 0, err
	}
	if err := enc.putAll(chains...); err != nil {
		return 0, err
	}

	if err := enc.put(uint32(len(dynamicOffsets))); err != nil {
		return 0, err
	}
	if err := enc.putAll(dynamicOffsets...); err != nil {
		return 0, err
	}

	if err := enc.w.Flush(); err != nil {
		return 0, fmt.Errorf("flush dataset: %w", err)
	}
	return tableOffset, nil
}

func (e *encoder) routine(r *cfg.Routine, id uint32) error {
	if err := e.putAll(id, uint32(r.Len())); err != nil {
		return err
	}

	listOffset := e.off + uint32(nodeWords*wordSize*r.Len())
	for i := range r.Nodes {
		n := &r.Nodes[i]
		var third uint32
		switch {
		case n.OwnsTargetList():
			third = listOffset
			listOffset += listSize(len(e.edges.OutgoingEdges(r.NodeKey(n.Index))))
		case n.Role == cfg.RoleBranch:
			third = uint32(n.Branch.UserLevel & levelMask)
		}
		if err := e.putAll(packFirst(n), packSecond(n), third); err != nil {
			return err
		}
	}

	for i := range r.Nodes {
		n := &r.Nodes[i]
		if !n.OwnsTargetList() {
			continue
		}
		out := e.edges.OutgoingEdges(r.NodeKey(n.Index))
		if err := e.put(uint32(len(out))); err != nil {
			return err
		}
		for _, edge := range out {
			to, packed := packEntry(edge)
			if err := e.putAll(to, packed); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEncodable rejects graphs the layout cannot represent.
func checkEncodable(g *cfg.Graph) error {
	if g == nil {
		return cfg.NewConfigurationError("cannot encode a nil graph")
	}
	for _, r := range append(g.StaticRoutines(), g.DynamicRoutines()...) {
		if r.Len() > indexMask {
			return cfg.NewFormatError("routine has %d nodes", r.Len()).At(r.Key, -1)
		}
		for i := range r.Nodes {
			n := &r.Nodes[i]
			if !n.UserLevel.Valid() {
				return cfg.NewFormatError("user level %d does not fit 6 bits", n.UserLevel).At(r.Key, i)
			}
			if n.Role == cfg.RoleBranch && n.Branch == nil {
				return cfg.NewFormatError("branch node without branch payload").At(r.Key, i)
			}
			if n.Role == cfg.RoleBranch && !n.Branch.UserLevel.Valid() {
				return cfg.NewFormatError("branch level %d does not fit 6 bits", n.Branch.UserLevel).At(r.Key, i)
			}
		}
	}
	for _, e := range g.Edges.Edges() {
		r, ok := g.Routine(e.From.Routine)
		if !ok || r.Node(e.From.Index) == nil {
			return cfg.NewUnknownReferenceError("edge source %s does not exist", e.From)
		}
		if n := r.Node(e.From.Index); !n.OwnsTargetList() {
			return cfg.NewFormatError("%s node %s cannot own a target list", n.Role, e.From)
		}
		if e.ToIndex > entryIndexMask {
			return cfg.NewFormatError("catch site %d does not fit 24 bits", e.ToIndex)
		}
		if !e.Level().Valid() {
			return cfg.NewFormatError("edge level %d does not fit 6 bits", e.Level())
		}
	}
	return nil
}
