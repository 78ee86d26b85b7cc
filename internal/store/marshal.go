package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
)

// marshalStats converts merge stats to JSON TEXT for storage.
// Struct fields encode in declaration order, so the text is stable.
func marshalStats(stats merge.Stats) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stats); err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalStats parses JSON TEXT to merge stats.
func unmarshalStats(data string) (merge.Stats, error) {
	var stats merge.Stats
	if data == "" || data == "{}" {
		return stats, nil
	}
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return merge.Stats{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	return stats, nil
}

// Routine keys are stored as (dynamic flag, id) column pairs.
func keyColumns(k cfg.RoutineKey) (bool, uint32) {
	return k.IsDynamic(), k.ID
}

func keyFromColumns(dynamic bool, id int64) cfg.RoutineKey {
	if dynamic {
		return cfg.DynamicKey(uint32(id))
	}
	return cfg.StaticKey(uint32(id))
}

func edgeKindFromText(s string) (cfg.EdgeKind, error) {
	switch s {
	case cfg.EdgeCall.String():
		return cfg.EdgeCall, nil
	case cfg.EdgeThrow.String():
		return cfg.EdgeThrow, nil
	default:
		return 0, fmt.Errorf("unknown edge kind %q", s)
	}
}
