package mind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sigil-dev/sigil/internal/doc"
	"github.com/sigil-dev/sigil/internal/pattern"
	"github.com/sigil-dev/sigil/internal/store"
)

// Mind is the reactive rule runtime.
//
// Thread-safety model:
//   - Run() must be called from exactly one goroutine
//   - patterns and versions are owned by the Run goroutine; reloads
//     build a fresh slice and swap it, never mutate in place
type Mind struct {
	store *store.Store

	origin          string
	processExisting bool
	maxDepth        int
	compileOpts     []pattern.Option

	patterns []*pattern.Pattern
	versions map[string]int64
}

// Option configures a Mind.
type Option func(*Mind)

// WithOrigin sets the origin marker stamped on every reaction and used
// for the self-trigger loop guard. Defaults to doc.OriginMind.
func WithOrigin(origin string) Option {
	return func(m *Mind) { m.origin = origin }
}

// WithProcessExisting makes Run apply the rule set to every document
// already present in the store before consuming new deliveries.
func WithProcessExisting(enabled bool) Option {
	return func(m *Mind) { m.processExisting = enabled }
}

// WithMaxCascadeDepth sets the maximum chained-rule depth.
// Defaults to DefaultMaxCascadeDepth.
func WithMaxCascadeDepth(depth int) Option {
	return func(m *Mind) { m.maxDepth = depth }
}

// WithCompileOptions forwards options to every pattern compilation,
// e.g. a fixed token generator in tests.
func WithCompileOptions(opts ...pattern.Option) Option {
	return func(m *Mind) { m.compileOpts = opts }
}

// New creates a Mind reading rule definitions from the store's
// reserved pattern prefix.
func New(s *store.Store, opts ...Option) *Mind {
	m := &Mind{
		store:    s,
		origin:   doc.OriginMind,
		maxDepth: DefaultMaxCascadeDepth,
		versions: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Patterns returns the currently loaded rule table in registration
// order. Used for testing and introspection.
func (m *Mind) Patterns() []*pattern.Pattern {
	return m.patterns
}

// Run loads the rule set, subscribes to every store write, and
// processes deliveries until the context is cancelled or the store
// closes the subscription.
//
// ERROR HANDLING: evaluation or store failures on one delivery are
// logged with the document key and processing continues - a single
// offending document must not stall the loop.
func (m *Mind) Run(ctx context.Context) error {
	if err := m.ReloadPatterns(ctx); err != nil {
		return fmt.Errorf("initial pattern load: %w", err)
	}
	slog.Info("mind started", "origin", m.origin, "patterns", len(m.patterns))

	sub, err := m.store.Watch("/**")
	if err != nil {
		return err
	}
	defer sub.Close()

	if m.processExisting {
		if err := m.catchUp(ctx); err != nil {
			return fmt.Errorf("catch-up pass: %w", err)
		}
	}

	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionClosed) {
				slog.Info("mind stopping: subscription closed")
				return nil
			}
			slog.Info("mind stopping", "reason", err)
			return err
		}
		m.handle(ctx, d)
	}
}

// handle processes one delivery. Called only from the Run goroutine
// (and from synchronous tests).
func (m *Mind) handle(ctx context.Context, d doc.Document) {
	// Definition writes and reserved keys never match rules. A
	// newer-versioned definition triggers a reload; a rewrite with an
	// unchanged version is suppressed by the per-path version cache.
	if strings.HasPrefix(d.Key, doc.PatternsPrefix) || doc.IsReserved(d.Key) {
		if m.isNewerDefinition(d) {
			if err := m.ReloadPatterns(ctx); err != nil {
				slog.Error("pattern reload failed", "trigger", d.Key, "error", err)
			}
		}
		return
	}

	// Self-trigger loop guard: never re-apply the rule set to a
	// document this instance produced.
	if d.Meta.ProducedBy == m.origin {
		return
	}

	if err := m.applyPatterns(ctx, d); err != nil {
		slog.Error("document evaluation failed", "key", d.Key, "error", err)
	}
}

// isNewerDefinition reports whether d is a pattern definition with a
// version strictly greater than the last one seen for its exact path,
// updating the cache when it is.
func (m *Mind) isNewerDefinition(d doc.Document) bool {
	if !strings.HasPrefix(d.Key, doc.PatternsPrefix) || doc.IsReserved(d.Key) {
		return false
	}
	if d.Meta.Version <= m.versions[d.Key] {
		return false
	}
	m.versions[d.Key] = d.Meta.Version
	return true
}

// ReloadPatterns rebuilds the rule table from the store.
//
// Definitions that fail to compile are skipped with a structured
// diagnostic - a broken rule must not block the rest of the set. The
// fresh table replaces the old one in a single assignment.
func (m *Mind) ReloadPatterns(ctx context.Context) error {
	keys, err := m.store.List(ctx, doc.PatternsPrefix)
	if err != nil {
		return err
	}

	next := make([]*pattern.Pattern, 0, len(keys))
	for _, key := range keys {
		if doc.IsReserved(key) {
			continue
		}
		d, err := m.store.Read(ctx, key)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		m.versions[key] = d.Meta.Version

		p, err := pattern.FromDocument(*d, m.compileOpts...)
		if err != nil {
			slog.Warn("skipping pattern definition",
				"path", key,
				"version", d.Meta.Version,
				"error", err,
			)
			continue
		}
		next = append(next, p)
	}

	// Atomic swap - readers never observe a half-reloaded set.
	m.patterns = next
	slog.Debug("patterns reloaded", "count", len(next))
	return nil
}

// catchUp applies the rule set to every document already present,
// excluding definitions and reserved keys.
func (m *Mind) catchUp(ctx context.Context) error {
	keys, err := m.store.List(ctx, "/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasPrefix(key, doc.PatternsPrefix) || doc.IsReserved(key) {
			continue
		}
		d, err := m.store.Read(ctx, key)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		if err := m.applyPatterns(ctx, *d); err != nil {
			slog.Error("catch-up evaluation failed", "key", key, "error", err)
		}
	}
	return nil
}

// applyPatterns evaluates every compiled pattern against the document
// in registration order. Each matching pattern independently produces
// a reaction, which is persisted and may start a cascade chain.
//
// A failure in one pattern is logged and evaluation continues with the
// next - individual rule failures must not stop the sweep.
func (m *Mind) applyPatterns(ctx context.Context, d doc.Document) error {
	for _, p := range m.patterns {
		reaction, err := p.Apply(d, m.origin)
		if err != nil {
			slog.Error("pattern apply failed", "pattern", p.Name(), "key", d.Key, "error", err)
			continue
		}
		if reaction == nil {
			continue
		}

		persisted, err := m.store.Write(ctx, *reaction)
		if err != nil {
			slog.Error("reaction write failed", "pattern", p.Name(), "key", reaction.Key, "error", err)
			continue
		}
		slog.Info("pattern fired",
			"pattern", p.Name(),
			"source", d.Key,
			"emitted", persisted.Key,
		)

		if p.Then() != "" {
			if err := m.cascade(ctx, p.Then(), persisted, 1); err != nil {
				slog.Error("cascade terminated",
					"pattern", p.Name(),
					"then", p.Then(),
					"error", err,
				)
			}
		}
	}
	return nil
}

// cascade resolves a follow-up rule reference, applies it to the
// reaction, and recurses into that rule's own "then".
//
// A reference is absolute when it starts with '/'; otherwise it is
// resolved under the pattern-definitions prefix. A missing target
// silently terminates the chain. Exceeding the depth bound returns a
// DepthExceededError.
func (m *Mind) cascade(ctx context.Context, ref string, d doc.Document, depth int) error {
	if depth > m.maxDepth {
		return &DepthExceededError{Rule: ref, Depth: depth, Limit: m.maxDepth}
	}

	path := ref
	if !strings.HasPrefix(ref, "/") {
		path = doc.PatternsPrefix + "/" + ref
	}

	defDoc, err := m.store.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("read cascade target %s: %w", path, err)
	}
	if defDoc == nil {
		slog.Debug("cascade target missing", "path", path)
		return nil
	}

	p, err := pattern.FromDocument(*defDoc, m.compileOpts...)
	if err != nil {
		return fmt.Errorf("compile cascade target %s: %w", path, err)
	}

	reaction, err := p.Apply(d, m.origin)
	if err != nil {
		return fmt.Errorf("apply cascade target %s: %w", path, err)
	}
	if reaction == nil {
		return nil
	}

	persisted, err := m.store.Write(ctx, *reaction)
	if err != nil {
		return fmt.Errorf("write cascade reaction %s: %w", reaction.Key, err)
	}
	slog.Info("cascade fired",
		"pattern", p.Name(),
		"source", d.Key,
		"emitted", persisted.Key,
		"depth", depth,
	)

	if p.Then() != "" {
		return m.cascade(ctx, p.Then(), persisted, depth+1)
	}
	return nil
}
