// Package cache implements the content-addressed build cache: each
// fingerprint owns a Store branch holding its result, log, and a
// rebuild-needed flag. Coincident demand for the same fingerprint
// collapses to a single in-flight build via singleflight; late joiners
// attach to its live log instead of re-running it.
package cache
