package merge

import (
	"log/slog"

	"github.com/roach88/cfgset/internal/cfg"
)

// Merger folds a left graph (a new trace or dataset) into a right graph
// (the accumulated dataset).
//
// A Merger carries only configuration and injected collaborators; all
// merge state lives in local variables, so independent merges in one
// process never share state.
type Merger struct {
	mode      Mode
	logger    *slog.Logger
	namer     RoutineNamer
	watch     WatchList
	isolate   bool
	liveTrace bool
}

// New creates a Merger. Defaults: incremental mode, slog.Default() logger,
// no catalog, empty watch list, no isolation, dataset (not live) input.
func New(opts ...Option) *Merger {
	m := &Merger{
		mode:   ModeIncremental,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the configured matcher variant.
func (m *Merger) Mode() Mode {
	return m.mode
}

// Stats counts what a merge did.
type Stats struct {
	StaticAdded        int `json:"static_added"`
	StaticMerged       int `json:"static_merged"`
	FallThroughPatched int `json:"fall_through_patched"`
	DynamicMatched     int `json:"dynamic_matched"`
	DynamicAppended    int `json:"dynamic_appended"`
	EdgesNew           int `json:"edges_new"`
	EdgesLowered       int `json:"edges_lowered"`
	EdgesIgnored       int `json:"edges_ignored"`
	EdgesDropped       int `json:"edges_dropped"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.StaticAdded += other.StaticAdded
	s.StaticMerged += other.StaticMerged
	s.FallThroughPatched += other.FallThroughPatched
	s.DynamicMatched += other.DynamicMatched
	s.DynamicAppended += other.DynamicAppended
	s.EdgesNew += other.EdgesNew
	s.EdgesLowered += other.EdgesLowered
	s.EdgesIgnored += other.EdgesIgnored
	s.EdgesDropped += other.EdgesDropped
}

func (s *Stats) countOutcome(o cfg.Outcome) {
	switch o {
	case cfg.NewEdge:
		s.EdgesNew++
	case cfg.LoweredUserLevel:
		s.EdgesLowered++
	default:
		s.EdgesIgnored++
	}
}

// LoweringEvent records an edge whose level a live trace lowered.
// Observational only: it never changes control flow.
type LoweringEvent struct {
	Kind    cfg.EdgeKind
	From    cfg.NodeKey
	To      cfg.RoutineKey
	ToIndex uint32
	Old     cfg.UserLevel
	New     cfg.UserLevel
}

// Result is the unified data source produced by a merge.
type Result struct {
	Graph   *cfg.Graph
	Stats   Stats
	Lowered []LoweringEvent
}

// Merge folds left into right.
//
// A StructuralMismatch aborts the whole merge and no result is returned.
// Edges referencing unknown routines or nodes are logged and skipped.
//
// Without WithIsolation, the right graph's routines are adopted by the
// result and may be modified in place.
func (m *Merger) Merge(left, right *cfg.Graph) (*Result, error) {
	return m.merge(left, right, m.isolate)
}

// MergeAll folds each left graph into right in order. Stats and lowering
// events accumulate across the batch. Isolation, if configured, copies right
// once before the first fold.
func (m *Merger) MergeAll(right *cfg.Graph, lefts ...*cfg.Graph) (*Result, error) {
	acc := &Result{Graph: right}
	isolate := m.isolate
	for i, left := range lefts {
		res, err := m.merge(left, acc.Graph, isolate)
		if err != nil {
			m.logger.Error("batch merge aborted", "input", i, "error", err)
			return nil, err
		}
		isolate = false
		acc.Graph = res.Graph
		acc.Stats.Add(res.Stats)
		acc.Lowered = append(acc.Lowered, res.Lowered...)
	}
	return acc, nil
}

func (m *Merger) merge(left, right *cfg.Graph, isolate bool) (*Result, error) {
	if left == nil || right == nil {
		return nil, cfg.NewConfigurationError("merge requires both a left and a right graph")
	}

	matcher, err := m.newMatcher()
	if err != nil {
		return nil, err
	}

	base := right
	if isolate {
		base = right.Clone()
	}

	out := cfg.NewGraph()
	res := &Result{Graph: out}

	// Step 1: seed static routines from the right graph.
	for _, r := range base.StaticRoutines() {
		out.AddStatic(r)
	}

	// Step 2: fold in the left graph's static routines.
	for _, r := range left.StaticRoutines() {
		existing, ok := out.Static(r.Key.ID)
		if !ok {
			out.AddStatic(r.Clone(r.Key))
			res.Stats.StaticAdded++
			continue
		}
		if err := m.mergeRoutine(existing, r, &res.Stats); err != nil {
			m.logger.Error("routine merge failed", "routine", m.routineLabel(r.Key), "error", err)
			return nil, err
		}
		res.Stats.StaticMerged++
	}

	// Step 3: route dynamic routines through the matcher.
	if err := m.mergeDynamic(matcher, left, base, res); err != nil {
		return nil, err
	}
	for _, r := range matcher.Routines() {
		out.AddDynamic(r)
	}

	// Step 4: replay right edges, then left edges.
	m.replay(out, base.Edges, SideRight, matcher, res, false)
	m.replay(out, left.Edges, SideLeft, matcher, res, m.liveTrace)

	m.logger.Info("merge complete",
		"mode", string(m.mode),
		"static", out.StaticCount(),
		"dynamic", out.DynamicCount(),
		"edges", out.Edges.Len(),
		"edges_new", res.Stats.EdgesNew,
		"edges_lowered", res.Stats.EdgesLowered,
		"edges_dropped", res.Stats.EdgesDropped,
	)

	return res, nil
}

func (m *Merger) newMatcher() (DynamicMatcher, error) {
	switch m.mode {
	case ModeBase:
		return NewBaseMatcher(), nil
	case ModeIncremental:
		return NewIncrementalMatcher(), nil
	default:
		return nil, cfg.NewConfigurationError("unknown merge mode %q", m.mode)
	}
}

func (m *Merger) mergeDynamic(matcher DynamicMatcher, left, right *cfg.Graph, res *Result) error {
	for i, r := range right.DynamicRoutines() {
		var (
			match Match
			err   error
		)
		if m.mode == ModeIncremental {
			match, err = matcher.Seed(uint32(i), r)
		} else {
			match, err = matcher.Add(SideRight, uint32(i), r)
		}
		if err != nil {
			return err
		}
		if match.Matched {
			if err := m.mergeRoutine(match.Routine, r, &res.Stats); err != nil {
				return err
			}
			res.Stats.DynamicMatched++
		}
	}

	for i, r := range left.DynamicRoutines() {
		match, err := matcher.Add(SideLeft, uint32(i), r)
		if err != nil {
			return err
		}
		if match.Matched {
			if err := m.mergeRoutine(match.Routine, r, &res.Stats); err != nil {
				return err
			}
			res.Stats.DynamicMatched++
			continue
		}
		res.Stats.DynamicAppended++
		m.logger.Debug("appended dynamic routine",
			"transient", i, "index", match.Index, "nodes", r.Len())
	}
	return nil
}

// replay adds every edge of edges to out, resolving dynamic endpoints
// through the side's remap table.
func (m *Merger) replay(out *cfg.Graph, edges *cfg.EdgeSet, side Side, matcher DynamicMatcher, res *Result, record bool) {
	for _, e := range edges.Edges() {
		from, to, err := m.resolveEdge(out, e, side, matcher)
		if err != nil {
			m.logger.Warn("dropping edge",
				"side", side.String(),
				"edge", e.String(),
				"error", err,
			)
			res.Stats.EdgesDropped++
			continue
		}

		var ar cfg.AddResult
		switch e.Kind {
		case cfg.EdgeThrow:
			ar = out.Edges.AddExceptionEdge(from, to, e.ToIndex, e.Level())
		default:
			ar = out.Edges.AddCallEdge(from, to, e.Level())
		}
		res.Stats.countOutcome(ar.Outcome)

		if record && ar.Outcome == cfg.LoweredUserLevel {
			res.Lowered = append(res.Lowered, LoweringEvent{
				Kind:    e.Kind,
				From:    from,
				To:      to,
				ToIndex: e.ToIndex,
				Old:     ar.Old,
				New:     ar.New,
			})
		}

		if m.watch.Contains(from.Routine) || m.watch.Contains(to) {
			m.logger.Info("watched edge",
				"side", side.String(),
				"kind", e.Kind.String(),
				"from", m.routineLabel(from.Routine),
				"from_node", from.Index,
				"to", m.routineLabel(to),
				"outcome", ar.Outcome.String(),
				"old_level", int(ar.Old),
				"new_level", int(ar.New),
			)
		}
	}
}

func (m *Merger) resolveEdge(out *cfg.Graph, e *cfg.Edge, side Side, matcher DynamicMatcher) (cfg.NodeKey, cfg.RoutineKey, error) {
	fromRoutine, err := resolveKey(out, e.From.Routine, side, matcher)
	if err != nil {
		return cfg.NodeKey{}, cfg.RoutineKey{}, err
	}
	to, err := resolveKey(out, e.To, side, matcher)
	if err != nil {
		return cfg.NodeKey{}, cfg.RoutineKey{}, err
	}

	from := cfg.NodeKey{Routine: fromRoutine, Index: e.From.Index}
	var n *cfg.Node
	if r, ok := out.Routine(fromRoutine); ok {
		n = r.Node(e.From.Index)
	}
	if n == nil {
		return cfg.NodeKey{}, cfg.RoutineKey{}, cfg.NewUnknownReferenceError("source node %s does not exist", from)
	}
	if !n.OwnsTargetList() {
		return cfg.NodeKey{}, cfg.RoutineKey{}, cfg.NewUnknownReferenceError("%s node %s has no outgoing edges", n.Role, from)
	}
	if e.Kind == cfg.EdgeThrow && !out.HasNode(cfg.NodeKey{Routine: to, Index: e.ToIndex}) {
		return cfg.NodeKey{}, cfg.RoutineKey{}, cfg.NewUnknownReferenceError("catch site %s:%d does not exist", to, e.ToIndex)
	}
	return from, to, nil
}

func resolveKey(out *cfg.Graph, key cfg.RoutineKey, side Side, matcher DynamicMatcher) (cfg.RoutineKey, error) {
	if key.IsDynamic() {
		idx, ok := matcher.Resolve(side, key.ID)
		if !ok {
			return cfg.RoutineKey{}, cfg.NewUnknownReferenceError("no %s remap for dynamic routine %d", side, key.ID)
		}
		return cfg.DynamicKey(idx), nil
	}
	if _, ok := out.Static(key.ID); !ok {
		return cfg.RoutineKey{}, cfg.NewUnknownReferenceError("routine %s is absent from both graphs", key)
	}
	return key, nil
}
