// Package term implements the declarative pipeline DAG and its
// evaluator. A term describes a computation over a metadata snapshot
// and the build cache without itself performing I/O; Run walks a term
// exactly once per invocation, collapsing duplicate sub-terms that share
// structural identity, and resolves to a final status/description/log
// triple.
package term
