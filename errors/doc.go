// Package errors provides the structured error type used throughout the
// swarm-ir compiler.
//
// Every error carries the pipeline phase it originated in and a kind that
// identifies the exact failure. Errors from the verifiers additionally point
// at the offending function, block and instruction index and carry the
// expected/actual type sequences, so a failing module can be diagnosed
// without re-running anything.
package errors
