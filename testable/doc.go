// Package testable implements the deterministic stepping mode used by application tests.
//
// In deterministic mode every module goroutine runs only while holding the single
// scheduler lock. A module releases it right before each blocking receive and takes it
// back right after, so at most one module is active at a time. The test driver holds the
// lock between steps.
//
// Pushed values are counted from the moment they are written until their reader has
// taken them and relocked. Step releases the lock until that counter and the device
// initialisation counter are zero and every module is parked, then takes it back. A step
// with nothing to do, or one where nothing moves for StallAttempts poll intervals,
// returns a *StallError instead of hanging.
//
// Without Enable all methods are cheap no-ops.
package testable
