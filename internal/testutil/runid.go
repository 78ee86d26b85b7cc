package testutil

// FixedRunIDGenerator returns the same merge run ID every time.
//
// This keeps store rows and CLI output deterministic so tests can compare
// them against golden files.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator that always returns id.
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID.
//
// Implements store.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
