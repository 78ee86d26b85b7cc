// Package codec reads and writes the binary dataset file consumed by the CFI
// monitor.
//
// # Layout
//
// All words are little-endian uint32. Offsets are absolute byte offsets from
// the start of the file.
//
//	header   [hashtableOffset][staticCount][dynamicCount]
//	routine  [hash-or-index][nodeCount]
//	node     [opcode | role<<8 | line<<16]
//	         [targetOrIndex | userLevel<<26]
//	         [targetListOffset | branchUserLevel | 0]
//	list     [count] count x ([toID][toIndex | dynamic<<24 | throw<<25 | level<<26])
//	chains   per non-empty bucket: record offsets..., 0
//	table    [mask] (mask+1) x [chainOffset]
//	dynamic  [dynamicOffsetCount] offsets...
//
// Static routines are written sorted by hash, then dynamic routines by index.
// The target lists of a routine follow its nodes, one list per node that owns
// one (call, eval and THROW nodes), in node order.
//
// The header's hashtable offset is unknown until the routines and chains have
// been streamed, so WriteFile writes a placeholder and patches it with a
// single random-access write once the file is complete.
package codec
