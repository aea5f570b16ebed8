// Package directory is the operator-facing variable directory of a varnet application.
//
// The engine registers one Variable per control-system endpoint while it assembles the
// application. Variables the application feeds are ReadOnly; variables the operator
// feeds are ReadWrite. After Start every ReadWrite variable has delivered its initial
// value to its subscribers and Ready is closed.
//
// Memory keeps everything in process and is what the test facility drives. The natskv
// subpackage mirrors a Memory directory into a NATS JetStream key-value bucket so a
// remote operator can read and write the variables.
package directory
