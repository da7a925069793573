// Package doc provides the foundational document model for sigil.
//
// This package contains the path-keyed Document type, canonical JSON
// serialization, the path glob language, and the reserved path
// conventions. All other internal packages import doc; doc imports
// nothing internal. This keeps the document model the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Document keys are absolute, slash-delimited paths
//   - Versions are assigned by the store, start at 1, and increase
//     monotonically per key
//   - Canonical serialization sorts object keys by UTF-16 code units
//     and NFC-normalizes strings, so the same data always produces the
//     same bytes regardless of insertion order
package doc
