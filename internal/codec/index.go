package codec

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/roach88/cfgset/internal/cfg"
)

// Entry is one routine read by point lookup, with the edges leaving it.
type Entry struct {
	Routine *cfg.Routine
	Edges   []*cfg.Edge
}

// Index answers point lookups against an encoded dataset through the
// hashtable, without a sequential scan.
type Index struct {
	ra     io.ReaderAt
	size   int64
	closer io.Closer

	tableOffset  uint32
	staticCount  uint32
	dynamicCount uint32
	mask         uint32
}

// Open opens the dataset at path for point lookups. Close releases the file.
func Open(path string) (*Index, error) {
	if err := checkExtension(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	idx, err := NewIndex(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	idx.closer = f
	return idx, nil
}

// NewIndex reads the header and hashtable mask of the size-byte dataset
// behind ra.
func NewIndex(ra io.ReaderAt, size int64) (*Index, error) {
	idx := &Index{ra: ra, size: size}

	var err error
	if idx.tableOffset, err = idx.wordAt(0); err != nil {
		return nil, err
	}
	if idx.staticCount, err = idx.wordAt(wordSize); err != nil {
		return nil, err
	}
	if idx.dynamicCount, err = idx.wordAt(2 * wordSize); err != nil {
		return nil, err
	}
	if idx.tableOffset < headerSize {
		return nil, cfg.NewFormatError("hashtable offset %d inside header", idx.tableOffset)
	}
	if idx.mask, err = idx.wordAt(idx.tableOffset); err != nil {
		return nil, err
	}
	if idx.mask&(idx.mask+1) != 0 {
		return nil, cfg.NewFormatError("hashtable mask 0x%x is not a power of two minus one", idx.mask)
	}
	return idx, nil
}

// Close releases the underlying file when the index was opened by path.
func (idx *Index) Close() error {
	if idx.closer == nil {
		return nil
	}
	return idx.closer.Close()
}

// StaticCount returns the number of hash-addressed routines.
func (idx *Index) StaticCount() int { return int(idx.staticCount) }

// DynamicCount returns the number of eval routines.
func (idx *Index) DynamicCount() int { return int(idx.dynamicCount) }

// Lookup finds the static routine with the given hash.
func (idx *Index) Lookup(hash uint32) (*Entry, bool, error) {
	chain, err := idx.wordAt(idx.tableOffset + wordSize*(1+(hash&idx.mask)))
	if err != nil {
		return nil, false, err
	}
	if chain == 0 {
		return nil, false, nil
	}

	for off := chain; ; off += wordSize {
		record, err := idx.wordAt(off)
		if err != nil {
			return nil, false, err
		}
		if record == 0 {
			return nil, false, nil
		}
		id, err := idx.wordAt(record)
		if err != nil {
			return nil, false, err
		}
		if id != hash {
			continue
		}
		entry, err := idx.readEntry(record, cfg.StaticKey(hash))
		if err != nil {
			return nil, false, err
		}
		return entry, true, nil
	}
}

// Dynamic returns the eval routine at index i.
func (idx *Index) Dynamic(i uint32) (*Entry, bool, error) {
	if i >= idx.dynamicCount {
		return nil, false, nil
	}
	trailer := idx.tableOffset + wordSize*(idx.mask+2)
	count, err := idx.wordAt(trailer)
	if err != nil {
		return nil, false, err
	}
	if count != idx.dynamicCount {
		return nil, false, cfg.NewFormatError("dynamic offset count %d != header count %d", count, idx.dynamicCount)
	}
	record, err := idx.wordAt(trailer + wordSize*(1+i))
	if err != nil {
		return nil, false, err
	}
	entry, err := idx.readEntry(record, cfg.DynamicKey(i))
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (idx *Index) readEntry(record uint32, key cfg.RoutineKey) (*Entry, error) {
	section := io.NewSectionReader(idx.ra, int64(record)+wordSize, idx.size-int64(record)-wordSize)
	rd := &wordReader{r: bufio.NewReader(section), off: record + wordSize}

	r, pending, err := readRoutine(rd, key)
	if err != nil {
		return nil, err
	}
	edges := cfg.NewEdgeSet()
	for _, p := range pending {
		p.addTo(edges)
	}
	return &Entry{Routine: r, Edges: edges.Edges()}, nil
}

func (idx *Index) wordAt(off uint32) (uint32, error) {
	if int64(off)+wordSize > idx.size {
		return 0, cfg.NewFormatError("truncated dataset at offset %d", off)
	}
	var buf [wordSize]byte
	if _, err := idx.ra.ReadAt(buf[:], int64(off)); err != nil {
		return 0, truncated(off, err)
	}
	return order.Uint32(buf[:]), nil
}
