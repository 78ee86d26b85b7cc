// Package trace loads the run files an instrumented interpreter writes while
// serving requests.
//
// A trace directory holds any number of node runs (*.node.run) and edge runs
// (*.edge.run). Files are read in name order. Dynamic routine ids in a trace
// are transient: they index the eval bodies of this trace only and are
// remapped when the trace is merged into a dataset.
//
// Node run, repeated per routine (little-endian uint32 words):
//
//	[kind][id][nodeCount]
//	nodeCount x [opcode | role<<8 | line<<16][target | userLevel<<26]
//
// kind is 0 for a static routine (id is the hash) and 1 for a dynamic one.
// target is 0x3ffffff when a branch has none; it is ignored for other roles.
//
// Edge run, repeated:
//
//	[flags][fromID][fromIndex][toID][toIndex][userLevel]
//
// flags bit 0 marks a dynamic source, bit 1 a dynamic target, bit 2 an
// exception edge.
package trace
