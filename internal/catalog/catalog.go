// Package catalog maps static routine hashes to the human-readable routine
// identity (source path, scope and name) recorded at instrumentation time.
//
// A catalog file holds one routine per line:
//
//	<hex-hash> <relative-path>|<scope>:<name>
//
// Blank lines and lines starting with '#' are ignored. The scope may be
// empty for free functions and script bodies. Names are NFC normalized on
// load so lookups do not depend on how the instrumenter encoded them.
package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/cfgset/internal/cfg"
)

// RoutineID is the identity of one routine.
type RoutineID struct {
	Hash  uint32 `json:"hash"`
	Path  string `json:"path"`
	Scope string `json:"scope,omitempty"`
	Name  string `json:"name"`
}

// String renders the id in catalog notation: path|scope:name.
func (id RoutineID) String() string {
	return id.Path + "|" + id.Scope + ":" + id.Name
}

// Catalog is an in-memory routine catalog.
type Catalog struct {
	byHash map[uint32]RoutineID
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{byHash: make(map[uint32]RoutineID)}
}

// Add registers id. A second entry for the same hash must be identical.
func (c *Catalog) Add(id RoutineID) error {
	id.Path = norm.NFC.String(id.Path)
	id.Scope = norm.NFC.String(id.Scope)
	id.Name = norm.NFC.String(id.Name)

	if existing, ok := c.byHash[id.Hash]; ok && existing != id {
		return cfg.NewConfigurationError("hash 0x%08x names both %s and %s", id.Hash, existing, id)
	}
	c.byHash[id.Hash] = id
	return nil
}

// Lookup returns the id registered for hash.
func (c *Catalog) Lookup(hash uint32) (RoutineID, bool) {
	id, ok := c.byHash[hash]
	return id, ok
}

// RoutineName returns the catalog notation for hash.
func (c *Catalog) RoutineName(hash uint32) (string, bool) {
	id, ok := c.byHash[hash]
	if !ok {
		return "", false
	}
	return id.String(), true
}

// Len returns the number of routines.
func (c *Catalog) Len() int {
	return len(c.byHash)
}

// IDs returns every routine ordered by hash.
func (c *Catalog) IDs() []RoutineID {
	out := make([]RoutineID, 0, len(c.byHash))
	for _, id := range c.byHash {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// LoadFile reads a catalog file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Read parses catalog lines from r.
func Read(r io.Reader) (*Catalog, error) {
	c := New()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := c.Add(id); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return c, nil
}

// ParseLine parses one "<hex-hash> <path>|<scope>:<name>" entry.
func ParseLine(line string) (RoutineID, error) {
	hashText, rest, ok := strings.Cut(line, " ")
	if !ok {
		return RoutineID{}, cfg.NewConfigurationError("catalog entry %q has no routine id", line)
	}
	hash, err := ParseHash(hashText)
	if err != nil {
		return RoutineID{}, err
	}

	rest = strings.TrimSpace(rest)
	path, qualified, ok := strings.Cut(rest, "|")
	if !ok || path == "" {
		return RoutineID{}, cfg.NewConfigurationError("catalog entry %q is not path|scope:name", rest)
	}
	scope, name, ok := strings.Cut(qualified, ":")
	if !ok || name == "" {
		return RoutineID{}, cfg.NewConfigurationError("catalog entry %q is not path|scope:name", rest)
	}
	return RoutineID{Hash: hash, Path: path, Scope: scope, Name: name}, nil
}

// ParseHash parses a 32-bit routine hash written in hex, with or without a
// 0x prefix.
func ParseHash(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, cfg.NewConfigurationError("invalid routine hash %q", s)
	}
	return uint32(v), nil
}
