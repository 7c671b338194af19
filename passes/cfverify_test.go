package passes

import (
	stderrors "errors"
	"testing"

	swarmerr "github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
)

func TestCFVerifyParentsAndDepths(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	// b0 (main) contains loop(b1); b1 (loop) contains if then b2 else b3;
	// b2 (if_else) contains if then b4.
	fb := ir.NewFunctionBuilder("f", nil, nil)
	b1 := fb.NewBlock(nil, ir.TagLoop)
	b2 := fb.NewBlock(nil, ir.TagIfElse)
	b3 := fb.NewBlock(nil, ir.TagIfElse)
	b4 := fb.NewBlock(nil, ir.TagIfElse)

	fb.Loop(b1)
	fb.Return()
	fb.SwitchBlock(b1)
	fb.LdInt(1, m.Int32T())
	fb.IfThenElse(b2, b3)
	fb.SwitchBlock(b2)
	fb.LdInt(0, m.Int32T())
	fb.IfThen(b4)
	fb.SwitchBlock(b4)
	fb.Break()

	f, err := fb.Finish(m)
	if err != nil {
		t.Fatal(err)
	}

	if err := ir.DoMutPass(m, NewControlFlowVerifier()); err != nil {
		t.Fatal(err)
	}

	wantParents := map[ir.BlockID]ir.BlockID{b1: 0, b2: b1, b3: b1, b4: b2}
	for child, parent := range wantParents {
		b, _ := f.Block(child)
		got, ok := b.Meta.Block(ir.KeyParent)
		if !ok || got != parent {
			t.Errorf("parent(b%d) = %v, %v; want b%d", child, got, ok, parent)
		}
	}
	if _, ok := f.EntryBlock().Meta.Block(ir.KeyParent); ok {
		t.Error("entry block must have no parent")
	}

	wantDepths := map[ir.BlockID]int{b1: 0, b2: 1, b3: 1, b4: 2}
	for id, depth := range wantDepths {
		b, _ := f.Block(id)
		got, ok := b.Meta.Int(ir.KeyLoopDepth)
		if !ok || got != depth {
			t.Errorf("loop depth(b%d) = %v, %v; want %d", id, got, ok, depth)
		}
	}
}

func TestCFVerifyNoLoopNoDepth(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	fb := ir.NewFunctionBuilder("f", nil, nil)
	then := fb.NewBlock(nil, ir.TagIfElse)
	fb.LdInt(1, m.Int32T())
	fb.IfThen(then)
	fb.Return()
	fb.SwitchBlock(then)

	f, err := fb.Finish(m)
	if err != nil {
		t.Fatal(err)
	}

	if err := ir.DoMutPass(m, NewControlFlowVerifier()); err != nil {
		t.Fatal(err)
	}
	b, _ := f.Block(then)
	if _, ok := b.Meta.Int(ir.KeyLoopDepth); ok {
		t.Error("if/else outside any loop must not get a loop distance")
	}
}

func TestCFVerifyMultipleParents(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	fb := ir.NewFunctionBuilder("f", nil, nil)
	then := fb.NewBlock(nil, ir.TagIfElse)
	fb.LdInt(1, m.Int32T())
	fb.IfThen(then)
	fb.LdInt(1, m.Int32T())
	fb.IfThen(then) // second reference to the same block
	fb.Return()

	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	err := ir.DoMutPass(m, NewControlFlowVerifier())
	if !stderrors.Is(err, swarmerr.Match(swarmerr.PhaseCFVerify, swarmerr.KindMultipleParents)) {
		t.Errorf("expected multiple_parents, got %v", err)
	}
}

func TestCFVerifyWrongTag(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	fb := ir.NewFunctionBuilder("f", nil, nil)
	body := fb.NewBlock(nil, ir.TagIfElse) // wrong: loop body must be tagged loop
	fb.Loop(body)
	fb.Return()

	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	err := ir.DoMutPass(m, NewControlFlowVerifier())
	if !stderrors.Is(err, swarmerr.Match(swarmerr.PhaseCFVerify, swarmerr.KindInvalidBlockTag)) {
		t.Errorf("expected invalid_block_tag, got %v", err)
	}
}

func TestCFVerifyEntryReferenced(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	fb := ir.NewFunctionBuilder("f", nil, nil)
	fb.LdInt(1, m.Int32T())
	fb.IfThen(0) // referencing the entry block
	fb.Return()

	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	err := ir.DoMutPass(m, NewControlFlowVerifier())
	// rejected either as a tag violation (entry is tagged main, not
	// if_else) before anything else
	if !stderrors.Is(err, swarmerr.Match(swarmerr.PhaseCFVerify, swarmerr.KindInvalidBlockTag)) {
		t.Errorf("expected invalid_block_tag, got %v", err)
	}
}
