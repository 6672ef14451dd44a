// Package store implements the 9P-like transactional tree API the rest of
// the engine is built on: named branches, each with a content-addressed,
// Git-like commit history, read via snapshot Trees and mutated through
// serializable Transactions.
//
// Objects (blobs, trees, commits) are persisted in SQLite, content-addressed
// by a domain-separated SHA-256 digest so that identical subtrees are
// stored once regardless of how many commits reference them. Branch heads
// advance by compare-and-swap; WithTransaction retries automatically on a
// concurrent head move. WaitForHead is implemented with an in-process
// broadcast layered over the persisted head — change notification does not
// survive a restart, only the commits themselves do.
package store
