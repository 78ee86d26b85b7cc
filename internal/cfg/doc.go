// Package cfg provides the in-memory control-flow graph model for cfgset.
//
// A Graph holds routines recovered from instrumented PHP execution traces and
// one EdgeSet with the call and exception edges observed between them. Every
// edge carries the least caller privilege ("user level") ever seen
// traversing it.
//
// This package imports nothing internal. The merge, codec and trace packages
// build on it.
//
// Key invariants:
//   - Node indices are contiguous from 0 within a routine
//   - A branch node whose opcode requires a target has one after load
//   - Edge dedup keys are unique within an EdgeSet
//   - Edge user levels only ever move down
//
// Node identity is positional: the EdgeSet keys adjacency by NodeKey
// (routine key plus node index), never by pointer.
package cfg
