// Package natskv exposes a varnet directory through a NATS JetStream key-value bucket.
//
// Every variable maps to one key: the name without its leading slash, slashes replaced
// by dots, under an optional prefix. "/Pump/speed" with prefix "plant" becomes
// "plant.Pump.speed". Values are JSON records carrying the value, its version, its
// validity and the origin that wrote it.
//
// On Start the bridge creates keys for read-write variables that do not exist yet,
// restores the values already stored and then follows the bucket. Remote puts on
// read-write variables are delivered to the application; puts of its own origin and
// puts on read-only variables are ignored.
package natskv
