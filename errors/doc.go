// Package errors classifies the failures of the variable network engine.
//
// Four kinds of failure exist and each travels a different path:
//
//   - Configuration errors (illegal network shape, duplicate feeder, type or unit
//     mismatch, malformed virtual path) are fatal. They are raised while the application
//     is assembled, before any module goroutine starts, and are never retried. Use
//     WrapFatal or Fatalf with one of the network sentinels.
//   - Backend faults are transient. They are absorbed by the device layer and turned into
//     validity flags, and the recovery loop retries them. Use WrapTransient.
//   - The stall condition is reported by the testable-mode scheduler. Its type lives in
//     package testable and implements Stalled() bool. Classify reports it as ErrorStall
//     and every Is* helper returns false for it, so generic retry or fatal handling never
//     absorbs it.
//   - Data loss is not an error at all. Queues count it.
//
// Wrapping follows the "component.method: action failed: %w" convention:
//
//	return errors.WrapFatal(err, "Graph", "Validate", "network legality check")
//
// All wrappers keep errors.Is and errors.As working on the sentinel values.
package errors
