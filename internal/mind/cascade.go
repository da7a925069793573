package mind

import (
	"errors"
	"fmt"
)

// DefaultMaxCascadeDepth bounds how many chained "then" rules a single
// reaction may trigger. A cyclic then-chain would otherwise recurse
// without limit; exceeding the bound terminates the chain with a
// DepthExceededError instead.
const DefaultMaxCascadeDepth = 32

// DepthExceededError is returned when a cascade chain exceeds the
// configured maximum depth. The chain terminates; reactions persisted
// by earlier links remain.
type DepthExceededError struct {
	Rule  string // the "then" reference that would have exceeded the bound
	Depth int    // depth the chain reached
	Limit int    // configured maximum
}

// Error implements the error interface.
func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("cascade to %q exceeded max depth: %d > %d limit",
		e.Rule, e.Depth, e.Limit)
}

// IsDepthExceededError reports whether err is a DepthExceededError.
// Uses errors.As to handle wrapped errors.
func IsDepthExceededError(err error) bool {
	var de *DepthExceededError
	return errors.As(err, &de)
}
