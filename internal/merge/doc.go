// Package merge folds a new trace or dataset ("left") into an accumulated
// dataset ("right"), producing one unified graph ready for the codec.
//
// ALGORITHM:
//
//  1. Seed static routines from the right graph.
//  2. Fold in left static routines: new hashes are inserted, colliding hashes
//     are merged node by node (see mergeRoutine).
//  3. Route every dynamic (eval) routine through a DynamicMatcher, which
//     collapses structurally identical routines and assigns dense indices.
//  4. Replay right edges, then left edges, through the EdgeSet add
//     operations, remapping dynamic endpoints per side.
//  5. For live traces, record every edge whose level the replay lowered.
//
// FAILURE SEMANTICS:
//
// A StructuralMismatch aborts the whole merge: a corrupted policy graph is
// worse than none. An UnknownReference on a single edge only weakens
// sensitivity, so the edge is logged and skipped.
//
// The merge is single-threaded and synchronous.
package merge
