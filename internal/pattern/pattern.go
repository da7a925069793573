package pattern

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/sigil-dev/sigil/internal/doc"
)

// Definition is the raw, serializable form of a rule as authored under
// the pattern-definitions prefix. Names need not be unique.
//
// The single-letter JSON keys x/g/v are the wire format: extraction,
// guard, and veto regexes respectively.
type Definition struct {
	Name     string `json:"name" yaml:"name"`
	Watch    string `json:"watch" yaml:"watch"`
	Extract  string `json:"x,omitempty" yaml:"x,omitempty"`
	Guard    string `json:"g,omitempty" yaml:"g,omitempty"`
	Veto     string `json:"v,omitempty" yaml:"v,omitempty"`
	Emit     string `json:"emit" yaml:"emit"`
	EmitPath string `json:"emit_path" yaml:"emit_path"`
	Template any    `json:"template" yaml:"template"`
	Then     string `json:"then,omitempty" yaml:"then,omitempty"`
}

// CompileError reports a malformed glob or regex in a definition.
// Compilation failures are never fatal to a rule set: the Mind skips
// the broken definition and keeps loading the rest.
type CompileError struct {
	Name  string // definition name, may be empty
	Field string // "watch", "x", "g", or "v"
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("pattern %q: field %s: %v", e.Name, e.Field, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Pattern is a compiled rule. The glob and up to three regexes are
// compiled exactly once here, never per match.
type Pattern struct {
	def    Definition
	watch  doc.Glob
	x      *regexp.Regexp
	g      *regexp.Regexp
	v      *regexp.Regexp
	tokens TokenGenerator
}

// Option configures a compiled pattern.
type Option func(*Pattern)

// WithTokenGenerator overrides the ${uuid} token source.
// Defaults to UUIDGenerator; tests use FixedGenerator for
// deterministic rendering.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(p *Pattern) {
		p.tokens = g
	}
}

// Compile parses the definition's glob and regexes.
// Returns a *CompileError if any of them is malformed.
func Compile(def Definition, opts ...Option) (*Pattern, error) {
	watch, err := doc.ParseGlob(def.Watch)
	if err != nil {
		return nil, &CompileError{Name: def.Name, Field: "watch", Err: err}
	}

	p := &Pattern{def: def, watch: watch, tokens: UUIDGenerator{}}

	compile := func(field, expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &CompileError{Name: def.Name, Field: field, Err: err}
		}
		return re, nil
	}

	if p.x, err = compile("x", def.Extract); err != nil {
		return nil, err
	}
	if p.g, err = compile("g", def.Guard); err != nil {
		return nil, err
	}
	if p.v, err = compile("v", def.Veto); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FromDocument decodes a stored definition document and compiles it.
// The document's data must be a JSON object in Definition shape.
func FromDocument(d doc.Document, opts ...Option) (*Pattern, error) {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", d.Key, err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("definition %s: %w", d.Key, err)
	}
	return Compile(def, opts...)
}

// Name returns the definition name.
func (p *Pattern) Name() string { return p.def.Name }

// Then returns the follow-up rule reference, empty if none.
func (p *Pattern) Then() string { return p.def.Then }

// Watch returns the watch glob text.
func (p *Pattern) Watch() string { return p.def.Watch }

// Definition returns the raw definition the pattern was compiled from.
func (p *Pattern) Definition() Definition { return p.def }

// MatchesPath reports whether the key matches the watch glob.
func (p *Pattern) MatchesPath(key string) bool {
	return p.watch.Matches(key)
}

// Apply evaluates the pattern against a document and renders the
// reaction, or returns (nil, nil) when the pattern does not fire.
//
// Evaluation order:
//  1. the watch glob must match the document key
//  2. the guard, if present, must match the canonical data
//  3. the veto, if present, must NOT match the canonical data
//     (checked after the guard - both gates must pass)
//  4. extraction captures feed placeholder substitution
//
// origin, if non-empty, is stamped as the reaction's ProducedBy.
// Apply itself carries no loop prevention; that is the Mind's job.
func (p *Pattern) Apply(d doc.Document, origin string) (*doc.Document, error) {
	if !p.MatchesPath(d.Key) {
		return nil, nil
	}

	data, err := doc.CanonicalString(d.Data)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: serialize %s: %w", p.def.Name, d.Key, err)
	}

	if p.g != nil && !p.g.MatchString(data) {
		return nil, nil
	}
	if p.v != nil && p.v.MatchString(data) {
		return nil, nil
	}

	var caps []string
	if p.x != nil {
		if m := p.x.FindStringSubmatch(data); m != nil {
			caps = m[1:] // non-participating groups are already ""
		}
	}
	segs := doc.Segments(d.Key)

	return &doc.Document{
		Key:  substitute(p.def.EmitPath, caps, segs, d.Data, p.tokens),
		Type: p.def.Emit,
		Meta: doc.Metadata{ProducedBy: origin},
		Data: substituteValue(p.def.Template, caps, segs, d.Data, p.tokens),
	}, nil
}
