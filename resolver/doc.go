// Package resolver turns a validated network graph into runtime plans.
//
// Resolve first conflates networks that share a feeder, then runs the legality pass and
// finally selects one Shape per network:
//
//	feeder  trigger  consumers              shape
//	push    -        1                      DirectPipe
//	poll    -        1 poll                 DirectPipe (poll-through)
//	push    -        >=2, all poll          FeedingFanOut
//	push    -        >=2, some push         ThreadedFanOut
//	poll    yes      >=1                    ConsumingFanOut
//	push    -        triggers other nets    TriggerFanOut
//
// Every other combination fails with a fatal configuration error before anything runs.
package resolver
