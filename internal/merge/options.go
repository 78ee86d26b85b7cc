package merge

import (
	"fmt"
	"log/slog"

	"github.com/roach88/cfgset/internal/cfg"
)

// Mode selects the dynamic routine matcher variant.
type Mode string

const (
	// ModeBase merges two peers: both sides may contribute eval routines.
	ModeBase Mode = "base"
	// ModeIncremental folds traces into an authoritative dataset.
	ModeIncremental Mode = "incremental"
)

// ParseMode converts a config or flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBase, ModeIncremental:
		return Mode(s), nil
	default:
		return "", cfg.NewConfigurationError("unknown merge mode %q", s)
	}
}

// RoutineNamer resolves routine hashes to "<path>|<scope>:<name>" strings
// for log output. Implemented by catalog.Catalog.
type RoutineNamer interface {
	RoutineName(hash uint32) (string, bool)
}

// WatchList names routines whose edge replay is logged at info level.
type WatchList struct {
	hashes map[uint32]struct{}
}

// NewWatchList creates a watch list over static routine hashes.
func NewWatchList(hashes ...uint32) WatchList {
	w := WatchList{hashes: make(map[uint32]struct{}, len(hashes))}
	for _, h := range hashes {
		w.hashes[h] = struct{}{}
	}
	return w
}

// Contains reports whether the routine is watched. Dynamic routines are
// never watched.
func (w WatchList) Contains(key cfg.RoutineKey) bool {
	if key.IsDynamic() || w.hashes == nil {
		return false
	}
	_, ok := w.hashes[key.ID]
	return ok
}

// Len returns the number of watched hashes.
func (w WatchList) Len() int {
	return len(w.hashes)
}

// Option configures a Merger.
type Option func(*Merger)

// WithMode sets the matcher variant. Default: ModeIncremental.
func WithMode(mode Mode) Option {
	return func(m *Merger) {
		m.mode = mode
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) {
		m.logger = logger
	}
}

// WithRoutineNamer sets the catalog used to name routines in log lines.
func WithRoutineNamer(namer RoutineNamer) Option {
	return func(m *Merger) {
		m.namer = namer
	}
}

// WithWatchList sets the routines whose edges are logged at info level.
func WithWatchList(w WatchList) Option {
	return func(m *Merger) {
		m.watch = w
	}
}

// WithIsolation makes the merge work on a deep copy of the right graph so the
// caller's graph is untouched if the merge fails.
func WithIsolation() Option {
	return func(m *Merger) {
		m.isolate = true
	}
}

// WithLiveTrace marks the left input as a live request trace. Lowered edge
// levels from the left replay are then recorded in Result.Lowered.
func WithLiveTrace() Option {
	return func(m *Merger) {
		m.liveTrace = true
	}
}

func (m *Merger) routineLabel(key cfg.RoutineKey) string {
	if key.IsDynamic() || m.namer == nil {
		return key.String()
	}
	if name, ok := m.namer.RoutineName(key.ID); ok {
		return fmt.Sprintf("%s (%s)", key, name)
	}
	return key.String()
}
