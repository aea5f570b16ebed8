// Package network provides the graph primitive of the engine: a Node per endpoint and a
// Network per producer with its consumers and optional external trigger.
//
// Building a network enforces a single feeder and type/unit agreement immediately.
// Timing legality is checked by Graph.Validate in a separate pass once every network is
// known:
//
//   - a feeder exists and there is at least one consumer or triggered network
//   - application feeders push
//   - a push feeder has no external trigger
//   - a poll feeder without trigger has exactly one consumer, and it polls
package network
