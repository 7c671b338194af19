package passes

import (
	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/ir"
)

// Correction removes instructions that can never execute: everything after
// the earliest diverging instruction (return, fail, break) of a block.
// Running it twice is the same as running it once.
type Correction struct{}

// NewCorrection returns the correction pass.
func NewCorrection() *Correction { return &Correction{} }

// Name implements the pass interface.
func (*Correction) Name() string { return "correct" }

// VisitFunction locates, per block, the length the body should be truncated
// to. Blocks without a diverging instruction are left alone.
func (*Correction) VisitFunction(m *ir.Module, f *ir.Function) (map[ir.BlockID]int, error) {
	cuts := make(map[ir.BlockID]int)
	f.ForEachBlock(func(b *ir.Block) {
		for i := range b.Body {
			if b.Body[i].Diverges() {
				if i+1 < len(b.Body) {
					cuts[b.ID] = i + 1
				}
				break
			}
		}
	})
	return cuts, nil
}

// MutateFunction truncates the recorded blocks.
func (*Correction) MutateFunction(f *ir.Function, cuts map[ir.BlockID]int) error {
	for id, n := range cuts {
		b, ok := f.Block(id)
		if !ok {
			continue
		}
		removed := len(b.Body) - n
		b.Body = b.Body[:n]
		Logger().Debug("removed dead tail",
			zap.String("func", f.Name()),
			zap.Uint32("block", uint32(id)),
			zap.Int("instrs", removed))
	}
	return nil
}
