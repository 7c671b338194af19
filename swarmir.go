// Package swarmir compiles the swarm intermediate representation to
// WebAssembly.
//
// A client builds an ir.Module (types, functions, globals, static memory)
// and hands it to CompileToWasm, which runs the canonical pass pipeline:
// correction, control-flow verification, stack/type verification, the
// optional peephole rewrite, and finally emission. Each pass either rejects
// the module with a structured error or enriches it with the metadata later
// stages consume; nothing is emitted for a module that fails verification.
package swarmir

import (
	"time"

	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/abi"
	"github.com/IQBigBang/swarm-ir/emit"
	"github.com/IQBigBang/swarm-ir/ir"
	"github.com/IQBigBang/swarm-ir/passes"
)

// CompileToWasm runs the canonical pipeline over the module and returns the
// encoded WebAssembly image. When opt is true the peephole rewriter runs
// between verification and emission.
//
// The module is enriched in place (dead tails removed, metadata attached);
// compiling the same module twice is fine, sharing it across goroutines
// during compilation is not.
func CompileToWasm(m *ir.Module, opt bool) ([]byte, error) {
	start := time.Now()

	if err := ir.DoMutPass(m, passes.NewCorrection()); err != nil {
		return nil, err
	}
	if err := ir.DoMutPass(m, passes.NewControlFlowVerifier()); err != nil {
		return nil, err
	}
	if err := ir.DoMutPass(m, passes.NewVerifier()); err != nil {
		return nil, err
	}

	if opt {
		for _, fd := range m.Functions() {
			f, ok := fd.(*ir.Function)
			if !ok {
				continue
			}
			plan := passes.PeepholeScan(m, f)
			if len(plan) == 0 {
				continue
			}
			sp, err := passes.NewSplice(f.Index(), plan)
			if err != nil {
				return nil, err
			}
			if err := ir.DoMutPass(m, sp); err != nil {
				return nil, err
			}
		}
	}

	e := emit.NewEmitter(abi.Wasm32{})
	if err := ir.DoPass(m, e); err != nil {
		return nil, err
	}
	out, err := e.Finish()
	if err != nil {
		return nil, err
	}

	passes.Logger().Info("pipeline finished",
		zap.Int("functions", m.FunctionCount()),
		zap.Bool("opt", opt),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
