package pattern

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces the tokens rendered for ${uuid} placeholders.
// Implemented by UUIDGenerator (production) and FixedGenerator (tests).
type TokenGenerator interface {
	Token() string
}

// UUIDGenerator generates random RFC 4122 UUIDs.
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Token returns a fresh hyphenated UUID string.
func (UUIDGenerator) Token() string {
	return uuid.NewString()
}

// FixedGenerator returns predetermined tokens for testing.
//
// This enables deterministic rendering and golden-file comparison.
// Tests provide a known sequence of tokens and verify exact output.
//
// Thread-safety: FixedGenerator is safe for concurrent use via an
// internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
//
// Example:
//
//	gen := NewFixedGenerator("tok-1", "tok-2")
//	gen.Token() // "tok-1"
//	gen.Token() // "tok-2"
//	gen.Token() // panic: all tokens exhausted
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Token returns the next predetermined token.
//
// Panics if all tokens have been consumed. This is a fail-fast approach
// to catch test misconfiguration (template rendered more ${uuid}
// placeholders than the test expected).
func (g *FixedGenerator) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	tok := g.tokens[g.idx]
	g.idx++
	return tok
}
