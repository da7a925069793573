// Package effect runs side-effecting handlers against documents under
// the external-effects prefix and persists their outcomes.
//
// The Worker mirrors the mind's consumption model: one watch
// subscription, strictly sequential processing. Each delivery is
// routed to the first registered handler whose path prefix contains
// the document key; registration order is the routing order.
//
// Handler executions are fenced: each runs under a deadline and a
// panic recovery, and its outcome, success or failure, is written back
// next to the triggering document at key + "/result". Result documents
// carry the worker's own origin and are skipped on re-delivery, so a
// result can never trigger another effect.
package effect
