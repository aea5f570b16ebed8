// Package retry provides exponential backoff for transient failures.
//
// Do runs an operation a bounded number of times. Until keeps going until the operation
// succeeds or the context ends, which is what backend recovery loops need. Backoff exposes
// the delay sequence directly for loops that interleave their own work between attempts.
//
//	err := retry.Until(ctx, retry.Recovery(time.Second), backend.Reopen, nil)
//
// Errors marked with NonRetryable stop every loop immediately.
package retry
