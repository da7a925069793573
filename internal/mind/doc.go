// Package mind implements sigil's reactive rule runtime.
//
// The Mind owns one store-wide watch subscription and processes
// deliveries strictly sequentially - no concurrent evaluation of two
// documents inside one instance.
//
// Delivery handling, in order:
//  1. writes under the pattern-definitions prefix (and reserved-suffix
//     keys) never match rules; a newer-versioned definition triggers a
//     full reload of the rule table
//  2. documents the Mind produced itself (produced_by == origin) are
//     skipped - the self-trigger loop guard
//  3. everything else is evaluated against every compiled pattern in
//     registration order; each reaction is persisted and may cascade
//     through a bounded chain of follow-up rules
//
// The rule table is rebuilt into a fresh slice and swapped atomically
// on reload, never mutated in place, so a reader can never observe a
// half-reloaded set. All Mind state is owned by the Run goroutine and
// mutated only there.
//
// Loop prevention is policy and lives here, not in the pattern
// package: Pattern.Apply is origin-unaware by design.
package mind
