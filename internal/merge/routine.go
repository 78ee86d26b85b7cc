package merge

import (
	"github.com/roach88/cfgset/internal/cfg"
)

// mergeRoutine folds src into dst node by node. Node and branch user levels
// take the minimum. Any difference in node count, opcode or role is a
// StructuralMismatch; branch target differences are handled by mergeBranch.
func (m *Merger) mergeRoutine(dst, src *cfg.Routine, stats *Stats) error {
	if dst.Len() != src.Len() {
		return cfg.NewMismatchError(dst.Key, -1, "node count %d != %d", dst.Len(), src.Len())
	}

	for i := range dst.Nodes {
		d, s := &dst.Nodes[i], &src.Nodes[i]
		if d.Opcode != s.Opcode {
			return cfg.NewMismatchError(dst.Key, i, "opcode %s != %s", d.Opcode, s.Opcode)
		}
		if d.Role != s.Role {
			return cfg.NewMismatchError(dst.Key, i, "role %s != %s", d.Role, s.Role)
		}
		d.UserLevel = d.UserLevel.Min(s.UserLevel)

		if d.Role != cfg.RoleBranch {
			continue
		}
		patched, err := mergeBranch(dst.Key, d, s)
		if err != nil {
			return err
		}
		if patched {
			stats.FallThroughPatched++
			m.logger.Debug("tolerated fall-through branch target",
				"routine", m.routineLabel(dst.Key),
				"node", i,
				"opcode", d.Opcode.String(),
				"target", d.Branch.Target,
			)
		}
	}
	return nil
}

// mergeBranch reconciles the branch payloads of two nodes at the same
// position. It reports whether dst's target was replaced under the
// fall-through heuristic.
//
// The heuristic: a compiler may elide a jump to the next instruction, so one
// trace records the fall-through successor (index+1) where another records
// the real target. When exactly that happens the real target wins. It is an
// approximation, not a correctness guarantee, and it never applies when
// neither target is the fall-through successor.
func mergeBranch(key cfg.RoutineKey, d, s *cfg.Node) (bool, error) {
	if d.Branch == nil || s.Branch == nil {
		return false, cfg.NewMismatchError(key, int(d.Index), "branch node without branch payload")
	}
	db, sb := d.Branch, s.Branch
	db.UserLevel = db.UserLevel.Min(sb.UserLevel)

	switch {
	case db.Target == sb.Target:
		return false, nil
	case !sb.HasTarget():
		return false, nil
	case !db.HasTarget():
		db.Target = sb.Target
		return false, nil
	case isFallThrough(d, db.Target):
		db.Target = sb.Target
		return true, nil
	case isFallThrough(d, sb.Target):
		return true, nil
	default:
		return false, cfg.NewMismatchError(key, int(d.Index),
			"%s branch target %d != %d", d.Opcode, db.Target, sb.Target)
	}
}

func isFallThrough(n *cfg.Node, target int32) bool {
	return target == int32(n.Next())
}
