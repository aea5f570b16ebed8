// Package device adapts hardware backends to variable networks.
//
// A Device owns one Backend. Register decorators translate backend failures into
// validity: a failed read yields the last value flagged faulty, a failed write leaves
// validity alone. Either failure faults the whole device, and the recovery loop in
// Device.Run reopens it at a fixed interval (pkg/retry). Once the backend is functional
// again, writes skipped in the meantime are replayed and all registers read ok again.
//
// Modules reading a register before the device was first opened wait for it. In
// deterministic mode the pending initialisation keeps testable.Scheduler.Step running.
package device
