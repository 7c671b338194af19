package passes

import (
	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
)

// ControlFlowVerifier checks that the block graph of every function is a
// tree of structured regions: each block is referenced from exactly one
// place, referenced blocks carry the tag matching their use, and the entry
// block is tagged main and never referenced. It then computes, for every
// block nested inside a loop, the distance out to the nearest enclosing
// loop block, which lowering uses to compute branch depths for break.
//
// It writes the parent block id and the innermost-loop distance into block
// metadata.
type ControlFlowVerifier struct{}

// NewControlFlowVerifier returns the control-flow verifier pass.
func NewControlFlowVerifier() *ControlFlowVerifier { return &ControlFlowVerifier{} }

// Name implements the pass interface.
func (*ControlFlowVerifier) Name() string { return "cfverify" }

type cfInfo struct {
	parents    map[ir.BlockID]ir.BlockID
	loopDepths map[ir.BlockID]int
}

func (v *ControlFlowVerifier) VisitFunction(m *ir.Module, f *ir.Function) (cfInfo, error) {
	entry := f.EntryBlock()
	if entry.Tag != ir.TagMain {
		return cfInfo{}, errors.New(errors.PhaseCFVerify, errors.KindInvalidBlockTag).
			Func(f.Name()).Block(int(entry.ID)).
			Expected(ir.TagMain.String()).Actual(entry.Tag.String()).
			Detail("entry block").
			Build()
	}

	// Phase A: build the parent map, validating single-parent and tags.
	parents := make(map[ir.BlockID]ir.BlockID)

	var walkErr error
	f.ForEachBlock(func(b *ir.Block) {
		if walkErr != nil {
			return
		}
		for i := range b.Body {
			instr := &b.Body[i]
			switch instr.Op {
			case ir.OpIfElse:
				imm := instr.Imm.(ir.IfElseImm)
				if walkErr = v.assertChild(f, parents, imm.Then, b.ID, ir.TagIfElse); walkErr != nil {
					return
				}
				if imm.HasElse {
					if walkErr = v.assertChild(f, parents, imm.Else, b.ID, ir.TagIfElse); walkErr != nil {
						return
					}
				}
			case ir.OpLoop:
				imm := instr.Imm.(ir.LoopImm)
				if walkErr = v.assertChild(f, parents, imm.Body, b.ID, ir.TagLoop); walkErr != nil {
					return
				}
			}
		}
	})
	if walkErr != nil {
		return cfInfo{}, walkErr
	}

	// The entry block can't have a parent.
	if p, ok := parents[entry.ID]; ok {
		return cfInfo{}, errors.New(errors.PhaseCFVerify, errors.KindMultipleParents).
			Func(f.Name()).Block(int(entry.ID)).
			Detail("entry block referenced from b%d", p).
			Build()
	}

	// Phase B: innermost loop distances. Loop blocks are at distance zero
	// from themselves; if/else blocks count the branch levels up to the
	// nearest loop ancestor. Blocks with no loop ancestor get no entry.
	loopDepths := make(map[ir.BlockID]int)
	f.ForEachBlock(func(b *ir.Block) {
		switch b.Tag {
		case ir.TagLoop:
			loopDepths[b.ID] = 0
		case ir.TagIfElse:
			depth := 1
			current := b.ID
			for {
				parent, ok := parents[current]
				if !ok {
					// detached if/else block; phase A accepts it only when
					// it is unreferenced, so it is simply not inside a loop
					depth = -1
					break
				}
				pb, _ := f.Block(parent)
				if pb.Tag == ir.TagLoop {
					break
				}
				if pb.Tag == ir.TagIfElse {
					depth++
					current = parent
					continue
				}
				// main or undefined: not inside any loop
				depth = -1
				break
			}
			if depth > 0 {
				loopDepths[b.ID] = depth
			}
		}
	})

	return cfInfo{parents: parents, loopDepths: loopDepths}, nil
}

func (v *ControlFlowVerifier) assertChild(f *ir.Function, parents map[ir.BlockID]ir.BlockID, child, parent ir.BlockID, wantTag ir.BlockTag) error {
	cb, ok := f.Block(child)
	if !ok {
		return errors.New(errors.PhaseCFVerify, errors.KindInvalidBlockID).
			Func(f.Name()).Block(int(parent)).
			Detail("reference to unknown block b%d", child).
			Build()
	}
	if prev, seen := parents[child]; seen {
		return errors.New(errors.PhaseCFVerify, errors.KindMultipleParents).
			Func(f.Name()).Block(int(child)).
			Detail("referenced from both b%d and b%d", prev, parent).
			Build()
	}
	if cb.Tag != wantTag {
		return errors.New(errors.PhaseCFVerify, errors.KindInvalidBlockTag).
			Func(f.Name()).Block(int(child)).
			Expected(wantTag.String()).Actual(cb.Tag.String()).
			Build()
	}
	parents[child] = parent
	return nil
}

// MutateFunction writes the parent and loop-distance metadata onto blocks.
func (*ControlFlowVerifier) MutateFunction(f *ir.Function, info cfInfo) error {
	f.ForEachBlock(func(b *ir.Block) {
		if parent, ok := info.parents[b.ID]; ok {
			b.Meta.SetBlock(ir.KeyParent, parent)
		}
		if depth, ok := info.loopDepths[b.ID]; ok {
			b.Meta.SetInt(ir.KeyLoopDepth, depth)
		}
	})
	Logger().Debug("control flow verified",
		zap.String("func", f.Name()),
		zap.Int("blocks", f.BlockCount()))
	return nil
}
