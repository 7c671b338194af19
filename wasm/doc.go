// Package wasm models the subset of the WebAssembly binary format that the
// swarm-ir emitter targets: module version 1 with the saturating-truncation
// extension. A Module is a plain struct of section slices; Encode produces
// the final byte image with correct section framing and LEB128 encoding.
//
// A small decoder is also provided so that callers (mostly tests) can take
// an emitted module apart again and inspect individual sections and
// function bodies.
package wasm
