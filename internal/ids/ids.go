// Package ids generates short session identifiers for log correlation.
package ids

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Length is the number of characters in a generated identifier.
const Length = 8

// Generator produces session identifiers.
type Generator interface {
	Generate() string
}

// RandomGenerator produces short random identifiers.
//
// An identifier is the first Length hex digits of a random (version 4) UUID.
// Collisions are possible and harmless: identifiers only correlate log lines.
//
// Thread-safety: RandomGenerator is stateless and safe for concurrent use.
type RandomGenerator struct{}

// Generate returns a new identifier such as "9f1c02ab".
func (RandomGenerator) Generate() string {
	return New()
}

// New returns a new short random identifier.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:Length]
}

// FixedGenerator returns predetermined identifiers, for tests.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined identifier.
//
// Panics if all identifiers have been consumed, to catch a test that opens
// more sessions than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
