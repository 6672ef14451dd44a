// Package engine owns the target/job lifecycle, drives recomputation
// from metadata mirror snapshots under a single global evaluation lock,
// and publishes results back onto the metadata branch. It is the
// single-writer loop the rest of the system (a future web layer, the
// CLI) observes and steers through its public API.
package engine
