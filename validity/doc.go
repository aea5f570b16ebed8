// Package validity carries data-quality and causality metadata through a variable network.
//
// Every value travels with a Version and a Validity. Each module owns an OwnerState with a
// fault counter: an input whose validity changes from OK to Faulty increments it, the
// reverse transition decrements it. Outputs written by the module inherit Faulty while the
// counter is non-zero.
//
// Modules whose inputs feed each other form a circular network (see DetectCycles). Inside
// a cycle only faults entering from outside are counted, on the shared Cycle invalidity
// counter, so a cycle recovers once its external inputs do instead of keeping itself
// faulty forever.
//
// The Watchdog reports modules that never complete their first blocking receive.
package validity
