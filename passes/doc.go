// Package passes implements the compiler's pass pipeline stages: the
// correction pass, the control-flow verifier, the stack/type verifier, the
// peephole rewriter and the instruction splice pass.
//
// The canonical order is correction, control-flow verification, type
// verification, then (optionally) peephole + splice. The emitter relies on
// all verifications having run: it consumes the metadata they attach.
package passes
