package effect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sigil-dev/sigil/internal/doc"
	"github.com/sigil-dev/sigil/internal/store"
)

// DefaultHandlerTimeout bounds a single handler execution. A stuck
// handler must not stall the worker loop indefinitely.
const DefaultHandlerTimeout = 30 * time.Second

// Handler executes the side effect for documents under one path prefix.
//
// Execute receives a context carrying the handler deadline and must
// respect cancellation. The returned value is persisted in the result
// document and must be JSON-serializable.
type Handler interface {
	// Watches returns the path prefix this handler claims,
	// e.g. "/external/apns".
	Watches() string

	Execute(ctx context.Context, d doc.Document) (any, error)
}

// Worker consumes documents under the external-effects prefix and
// dispatches them to registered handlers.
type Worker struct {
	store *store.Store

	origin          string
	processExisting bool
	timeout         time.Duration

	handlers []Handler
}

// Option configures a Worker.
type Option func(*Worker)

// WithOrigin sets the origin stamped on result documents and used to
// skip the worker's own writes. Defaults to doc.OriginEffects.
func WithOrigin(origin string) Option {
	return func(w *Worker) { w.origin = origin }
}

// WithProcessExisting makes Run dispatch documents already present
// under the external prefix before consuming new deliveries.
func WithProcessExisting(enabled bool) Option {
	return func(w *Worker) { w.processExisting = enabled }
}

// WithHandlerTimeout overrides the per-execution deadline.
// Defaults to DefaultHandlerTimeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(w *Worker) { w.timeout = d }
}

// NewWorker creates a Worker with no handlers registered.
func NewWorker(s *store.Store, opts ...Option) *Worker {
	w := &Worker{
		store:   s,
		origin:  doc.OriginEffects,
		timeout: DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddHandler registers a handler. Routing is first match in
// registration order, so register more specific prefixes first.
// Not safe to call once Run has started.
func (w *Worker) AddHandler(h Handler) {
	w.handlers = append(w.handlers, h)
}

// Run subscribes to the external-effects prefix and dispatches
// deliveries until the context is cancelled or the store closes the
// subscription.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.store.Watch(doc.ExternalPrefix + "/**")
	if err != nil {
		return err
	}
	defer sub.Close()

	slog.Info("effect worker started", "origin", w.origin, "handlers", len(w.handlers))

	if w.processExisting {
		if err := w.catchUp(ctx); err != nil {
			return fmt.Errorf("catch-up pass: %w", err)
		}
	}

	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionClosed) {
				slog.Info("effect worker stopping: subscription closed")
				return nil
			}
			slog.Info("effect worker stopping", "reason", err)
			return err
		}
		w.process(ctx, d)
	}
}

// catchUp dispatches every document already present under the external
// prefix, excluding results and the worker's own writes.
func (w *Worker) catchUp(ctx context.Context) error {
	keys, err := w.store.List(ctx, doc.ExternalPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		d, err := w.store.Read(ctx, key)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		w.process(ctx, *d)
	}
	return nil
}

// process routes one delivery to its handler and persists the outcome.
// Called only from the Run goroutine (and from synchronous tests).
func (w *Worker) process(ctx context.Context, d doc.Document) {
	// Result documents and the worker's own writes never trigger
	// effects - that would loop.
	if strings.HasSuffix(d.Key, doc.ResultSuffix) || d.Meta.ProducedBy == w.origin {
		return
	}

	h := w.route(d.Key)
	if h == nil {
		slog.Debug("no handler for effect", "key", d.Key, "type", d.Type)
		return
	}

	result, err := w.execute(ctx, h, d)

	outcome := map[string]any{"success": err == nil}
	if err != nil {
		slog.Error("effect failed", "key", d.Key, "handler", h.Watches(), "error", err)
		outcome["error"] = err.Error()
	} else {
		normalized, nerr := normalizeResult(result)
		if nerr != nil {
			slog.Error("effect result not serializable", "key", d.Key, "error", nerr)
			outcome["success"] = false
			outcome["error"] = nerr.Error()
		} else {
			slog.Info("effect succeeded", "key", d.Key, "handler", h.Watches())
			outcome["result"] = normalized
		}
	}

	if _, err := w.store.Write(ctx, doc.Document{
		Key:  d.Key + doc.ResultSuffix,
		Type: doc.EffectResultType,
		Meta: doc.Metadata{ProducedBy: w.origin},
		Data: outcome,
	}); err != nil {
		slog.Error("effect result write failed", "key", d.Key, "error", err)
	}
}

// route returns the first handler whose prefix contains the key,
// or nil when none claims it.
func (w *Worker) route(key string) Handler {
	for _, h := range w.handlers {
		prefix := h.Watches()
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			return h
		}
	}
	return nil
}

// execute runs the handler under the configured deadline and converts
// panics into errors. The outcome travels over a buffered channel so a
// timed-out handler goroutine can still complete without blocking.
func (w *Worker) execute(ctx context.Context, h Handler, d doc.Document) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	hctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := h.Execute(hctx, d)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-hctx.Done():
		return nil, fmt.Errorf("handler for %s: %w", h.Watches(), hctx.Err())
	}
}

// normalizeResult forces a handler's return value through a JSON
// round trip so arbitrary Go types become the store's document shape,
// with number literals preserved.
func normalizeResult(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return doc.DecodeData(raw)
}
