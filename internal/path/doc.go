// Package path implements the structural identifiers used throughout the
// engine: repo paths, ref names, and metadata-tree locations are all
// ordered sequences of non-empty segments.
//
// A Path is immutable once constructed. Parsing rejects the empty, "."
// and ".." components and anything containing a literal "/" within a
// single segment, since those would make a segment ambiguous with a
// path separator.
package path
