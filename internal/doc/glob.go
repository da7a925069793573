package doc

import (
	"fmt"
	"strings"
)

// Glob is a compiled path glob.
//
// The glob language is segment-based:
//   - `*` matches exactly one path segment
//   - `**` matches zero or more segments ("/sys/**" matches "/sys"
//     itself and anything below it)
//   - any other segment matches literally
//
// Globs are compiled once and reused; Matches performs no allocation
// beyond splitting the candidate path.
type Glob struct {
	raw  string
	segs []string
}

// ParseGlob compiles a glob string. The glob must be an absolute path
// and every wildcard segment must be exactly "*" or "**" - wildcards
// mixed into a literal segment ("a*b") are rejected.
func ParseGlob(pattern string) (Glob, error) {
	if !strings.HasPrefix(pattern, "/") {
		return Glob{}, fmt.Errorf("glob %q: must start with '/'", pattern)
	}
	segs := Segments(pattern)
	for _, s := range segs {
		if strings.Contains(s, "*") && s != "*" && s != "**" {
			return Glob{}, fmt.Errorf("glob %q: segment %q mixes wildcard and literal", pattern, s)
		}
	}
	return Glob{raw: pattern, segs: segs}, nil
}

// MustParseGlob is ParseGlob that panics on error. For constants known
// to be valid at compile time.
func MustParseGlob(pattern string) Glob {
	g, err := ParseGlob(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Matches reports whether the key matches the glob.
func (g Glob) Matches(key string) bool {
	return matchSegs(g.segs, Segments(key))
}

// String returns the original glob text.
func (g Glob) String() string {
	return g.raw
}

// matchSegs matches glob segments against path segments recursively.
// "**" tries the empty match first, then consumes one segment at a
// time; the recursion depth is bounded by the path length.
func matchSegs(globs, parts []string) bool {
	if len(globs) == 0 {
		return len(parts) == 0
	}
	if globs[0] == "**" {
		if matchSegs(globs[1:], parts) {
			return true
		}
		return len(parts) > 0 && matchSegs(globs, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	if globs[0] == "*" || globs[0] == parts[0] {
		return matchSegs(globs[1:], parts[1:])
	}
	return false
}
