// Package id generates the identifiers attached to experiments and workers.
//
// Identifiers are prefixed ULIDs: lexicographically sortable by creation
// time, so checkpoint directories and log lines of successive experiments
// order naturally.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ExperimentID identifies one launch of the experiment space. It survives
// resume: a resumed run keeps the identifier stored in its checkpoint.
type ExperimentID string

// ExperimentPrefix tags experiment identifiers.
const ExperimentPrefix = "exp"

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand. Identifiers
// generated within the same millisecond are still strictly increasing.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewExperimentID generates a new experiment identifier.
func NewExperimentID() ExperimentID {
	return ExperimentID(Default().GenerateWithPrefix(ExperimentPrefix))
}

func (id ExperimentID) String() string { return string(id) }

// Started returns the creation time encoded in the identifier.
func (id ExperimentID) Started() (time.Time, error) {
	raw, ok := strings.CutPrefix(string(id), ExperimentPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("experiment id %q: missing %s_ prefix", id, ExperimentPrefix)
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("experiment id %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}
