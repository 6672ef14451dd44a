// Package mirror projects the forge's pull-request/ref/commit-status
// model onto the metadata Store branch and back, exposing read-only
// Snapshots and a change stream to the engine loop.
package mirror
