// Package model holds the plain data types that make up the forge's
// PR/ref/commit/status view; the engine's in-memory Target/Job
// bookkeeping lives in internal/engine. Types here carry no behavior beyond small validating
// constructors; all computation lives in the packages that consume them.
package model
