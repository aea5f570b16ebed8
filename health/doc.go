// Package health provides thread-safe health tracking with three levels: healthy,
// degraded and unhealthy.
//
// In the engine, device backends report degraded while faulted and healthy after
// recovery, the watchdog reports stalled modules as degraded, and directory bridges
// report their connection state. Application.Health aggregates everything:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateDegraded("device/oven", "read failed: timeout")
//	status := monitor.AggregateHealth("varnet")
//
// OnChange listeners fire on level transitions only, which keeps log output proportional
// to state changes rather than to update frequency.
package health
