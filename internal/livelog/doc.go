// Package livelog manages in-memory, append-only log streams keyed by
// Store branch name. Each stream fans out to any number of subscribers
// with bounded per-subscriber backpressure, and carries a one-shot
// rebuild trigger borrowed from whatever scheduled the underlying work.
package livelog
