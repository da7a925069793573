package doc

import "strings"

// Reserved path conventions. Pattern definitions live under
// PatternsPrefix; a key ending in ReservedSuffix is never loaded or
// matched. External actions live under ExternalPrefix and their
// outcomes are written to <action-path> + ResultSuffix.
const (
	PatternsPrefix = "/sys/mind/patterns"
	ExternalPrefix = "/external"
	ReservedSuffix = "/_init"
	ResultSuffix   = "/result"
)

// EffectResultType is the type tag stamped on effect result documents.
const EffectResultType = "effect/result@v1"

// Origin markers for loop prevention.
const (
	OriginMind    = "mind"
	OriginEffects = "effects"
)

// IsReserved reports whether a key ends in the reserved suffix.
// Reserved keys are never loaded as pattern definitions and never
// matched by the Mind.
func IsReserved(key string) bool {
	return strings.HasSuffix(key, ReservedSuffix)
}
