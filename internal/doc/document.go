package doc

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Metadata carries the store-assigned bookkeeping for a document.
//
// Version and the timestamps are assigned on write and must not be set
// by callers. ProducedBy is an optional origin marker identifying the
// runtime instance that produced the document; it is used to suppress
// self-triggering in the watch loops.
type Metadata struct {
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ProducedBy string    `json:"produced_by,omitempty"`
}

// Document is a versioned, path-keyed unit of state with a type tag
// and an arbitrary JSON payload.
//
// Documents are immutable once read. Data holds the decoded JSON value
// (map[string]any, []any, string, bool, json.Number, or nil); numbers
// are kept as json.Number so their literal form survives round trips.
type Document struct {
	Key  string   `json:"key"`
	Type string   `json:"type"`
	Meta Metadata `json:"meta"`
	Data any      `json:"data"`
}

// DecodeData parses a JSON payload preserving number literals.
// Used by the store when reading documents back and by the CLI when
// accepting payloads from the command line.
func DecodeData(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Segments splits a key into its non-empty path segments.
// "/events/user/click" yields ["events", "user", "click"].
func Segments(key string) []string {
	parts := strings.Split(key, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}
