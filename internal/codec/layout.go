package codec

import (
	"encoding/binary"

	"github.com/roach88/cfgset/internal/cfg"
)

// Extension is the required dataset file extension.
const Extension = ".set"

const (
	wordSize   = 4
	headerSize = 3 * wordSize
	nodeWords  = 3
	entryWords = 2

	// noTarget is the 26-bit encoding of cfg.NoTarget.
	noTarget = 0x3ffffff

	levelShift = 26
	indexMask  = 0x3ffffff
	levelMask  = 0x3f

	entryIndexMask = 0xffffff
	entryDynamic   = 1 << 24
	entryThrow     = 1 << 25

	maxLoadFactor = 0.7
)

var order = binary.LittleEndian

// Role flags stored in bits 8..15 of the first node word.
const (
	roleFlagNormal = 0
	roleFlagBranch = 1
	roleFlagCall   = 2
	roleFlagEval   = 4
)

// RoleFlag returns the on-disk role flag for r. Run traces share the
// encoding.
func RoleFlag(r cfg.Role) uint32 {
	switch r {
	case cfg.RoleBranch:
		return roleFlagBranch
	case cfg.RoleCall:
		return roleFlagCall
	case cfg.RoleEval:
		return roleFlagEval
	default:
		return roleFlagNormal
	}
}

// RoleFromFlag is the inverse of RoleFlag.
func RoleFromFlag(f uint32) (cfg.Role, bool) {
	switch f {
	case roleFlagNormal:
		return cfg.RoleNormal, true
	case roleFlagBranch:
		return cfg.RoleBranch, true
	case roleFlagCall:
		return cfg.RoleCall, true
	case roleFlagEval:
		return cfg.RoleEval, true
	default:
		return 0, false
	}
}

// tableMask returns the hashtable mask for n static routines: the smallest
// power of two keeping the load factor at or below 0.7, minus one.
func tableMask(n int) uint32 {
	size := uint32(1)
	for float64(n) > maxLoadFactor*float64(size) {
		size <<= 1
	}
	return size - 1
}

func listSize(count int) uint32 {
	return uint32(wordSize + entryWords*wordSize*count)
}

func packFirst(n *cfg.Node) uint32 {
	return uint32(n.Opcode) | RoleFlag(n.Role)<<8 | uint32(n.Line)<<16
}

func packSecond(n *cfg.Node) uint32 {
	field := n.Index
	if n.Role == cfg.RoleBranch {
		field = noTarget
		if n.Branch.HasTarget() {
			field = uint32(n.Branch.Target)
		}
	}
	return field&indexMask | uint32(n.UserLevel&levelMask)<<levelShift
}

func packEntry(e *cfg.Edge) (uint32, uint32) {
	w := e.ToIndex & entryIndexMask
	if e.To.IsDynamic() {
		w |= entryDynamic
	}
	if e.Kind == cfg.EdgeThrow {
		w |= entryThrow
	}
	return e.To.ID, w | uint32(e.Level()&levelMask)<<levelShift
}
