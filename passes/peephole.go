package passes

import (
	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/ir"
)

// Rewrite replaces the half-open instruction range [Start, End) with the
// given instructions. An empty range (Start == End) is an insertion.
type Rewrite struct {
	With  []ir.Instr
	Start int
	End   int
}

// PeepholeScan runs the local window rules over one function and returns a
// splice plan. It must run after the type verifier: the rules propagate
// metadata the verifier attached.
//
// Rules over a 2-instruction window:
//
//   - a function value loaded and immediately called collapses into a
//     direct call, keeping the resolved callee signature.
func PeepholeScan(m *ir.Module, f *ir.Function) map[ir.BlockID][]Rewrite {
	plan := make(map[ir.BlockID][]Rewrite)

	f.ForEachBlock(func(b *ir.Block) {
		var rewrites []Rewrite
		for i := 0; i < len(b.Body); i++ {
			if i+1 < len(b.Body) {
				if with, ok := replace2(&b.Body[i], &b.Body[i+1]); ok {
					rewrites = append(rewrites, Rewrite{Start: i, End: i + 2, With: with})
					i++ // the window is consumed
					continue
				}
			}
			if i+2 < len(b.Body) {
				if with, ok := replace3(&b.Body[i], &b.Body[i+1], &b.Body[i+2]); ok {
					rewrites = append(rewrites, Rewrite{Start: i, End: i + 3, With: with})
					i += 2
					continue
				}
			}
		}
		if len(rewrites) > 0 {
			plan[b.ID] = rewrites
		}
	})

	if len(plan) > 0 {
		Logger().Debug("peephole plan",
			zap.String("func", f.Name()),
			zap.Int("blocks", len(plan)))
	}
	return plan
}

func replace2(i1, i2 *ir.Instr) ([]ir.Instr, bool) {
	// [ld_glob_func NAME, call indirect] -> [call NAME]
	if i1.Op == ir.OpLdGlobalFunc && i2.Op == ir.OpCallIndirect {
		name := i1.Imm.(ir.CallImm).Name
		call := ir.NewInstr(ir.OpCallDirect, ir.CallImm{Name: name})
		// the call indirect carries the resolved signature
		call.Meta = i2.Meta.Clone()
		return []ir.Instr{call}, true
	}
	return nil, false
}

func replace3(i1, i2, i3 *ir.Instr) ([]ir.Instr, bool) {
	return nil, false
}
