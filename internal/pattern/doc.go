// Package pattern implements sigil's compiled rewrite rules.
//
// A Pattern maps document shape to a derived document: a path glob
// selects which keys the rule watches, optional guard/veto/extraction
// regexes run against the canonical serialization of the document
// data, and the emit path plus template are rendered through
// placeholder substitution.
//
// Patterns are pure and perform no I/O. Loop prevention is policy and
// lives in the Mind runtime, not here: applying a pattern directly to
// a document it produced still matches if glob/guard/veto pass.
//
// All regexes and the glob are compiled exactly once, at Compile time,
// never per match.
package pattern
