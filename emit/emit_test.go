package emit

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/IQBigBang/swarm-ir/abi"
	"github.com/IQBigBang/swarm-ir/ir"
	"github.com/IQBigBang/swarm-ir/passes"
	"github.com/IQBigBang/swarm-ir/wasm"
)

// verifyAndEmit runs the canonical pipeline without the optimizer.
func verifyAndEmit(t *testing.T, m *ir.Module) []byte {
	t.Helper()
	if err := ir.DoMutPass(m, passes.NewCorrection()); err != nil {
		t.Fatal(err)
	}
	if err := ir.DoMutPass(m, passes.NewControlFlowVerifier()); err != nil {
		t.Fatal(err)
	}
	if err := ir.DoMutPass(m, passes.NewVerifier()); err != nil {
		t.Fatal(err)
	}
	e := NewEmitter(abi.Wasm32{})
	if err := ir.DoPass(m, e); err != nil {
		t.Fatal(err)
	}
	out, err := e.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func buildAddOne(t *testing.T, m *ir.Module) {
	t.Helper()
	fb := ir.NewFunctionBuilder("add_one", []*ir.Type{m.Int32T()}, []*ir.Type{m.Int32T()})
	fb.LdLocal(fb.GetArg(0))
	fb.LdInt(1, m.Int32T())
	fb.IAdd()
	fb.Return()
	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}
}

func TestEmitAddOneRuns(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())
	buildAddOne(t, m)

	out := verifyAndEmit(t, m)

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := inst.ExportedFunction("add_one").Call(ctx, 41)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if int32(res[0]) != 42 {
		t.Errorf("add_one(41) = %d, want 42", int32(res[0]))
	}
}

func TestEmitSections(t *testing.T) {
	m := ir.NewModule(ir.ModuleConf{InitialMemoryPages: 2})
	buildAddOne(t, m)
	if err := m.NewIntGlobal("counter", 7); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)
	mod, err := wasm.Decode(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(mod.Memories) != 1 || mod.Memories[0].Min != 2 {
		t.Errorf("memories = %+v, want one with min 2", mod.Memories)
	}
	if len(mod.Exports) != 1 || mod.Exports[0].Name != "add_one" || mod.Exports[0].Kind != wasm.KindFunc {
		t.Errorf("exports = %+v", mod.Exports)
	}
	if len(mod.Globals) != 1 || mod.Globals[0].Type != wasm.ValI32 ||
		mod.Globals[0].Init[0].Imm.(wasm.I32Imm).Value != 7 {
		t.Errorf("globals = %+v", mod.Globals)
	}
	// the GFT has function count + 1 entries, initialized from offset 1
	if len(mod.Tables) != 1 || mod.Tables[0].Min != 2 || mod.Tables[0].Elem != wasm.ValFuncRef {
		t.Errorf("tables = %+v", mod.Tables)
	}
	if len(mod.Elements) != 1 || mod.Elements[0].Offset != 1 ||
		len(mod.Elements[0].FuncIdxs) != 1 || mod.Elements[0].FuncIdxs[0] != 0 {
		t.Errorf("elements = %+v", mod.Elements)
	}
}

func TestEmitExternImports(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())
	ext := ir.NewExternFunction("host_log", m.FuncT([]*ir.Type{m.Int32T()}, nil))
	if err := m.AddExternFunction(ext); err != nil {
		t.Fatal(err)
	}

	fb := ir.NewFunctionBuilder("f", nil, nil)
	fb.LdInt(5, m.Int32T())
	fb.CallDirect("host_log")
	fb.Return()
	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)
	mod, err := wasm.Decode(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(mod.Imports) != 1 || mod.Imports[0].Module != ImportNamespace || mod.Imports[0].Name != "host_log" {
		t.Errorf("imports = %+v", mod.Imports)
	}
	// the local function calls function index 0 (the import)
	body := mod.Code[0].Body
	foundCall := false
	for _, in := range body {
		if in.Opcode == wasm.OpCall && in.Imm.(wasm.CallImm).FuncIdx == 0 {
			foundCall = true
		}
	}
	if !foundCall {
		t.Errorf("expected call to import index 0 in % X", opcodes(body))
	}
}

func opcodes(instrs []wasm.Instruction) []byte {
	out := make([]byte, len(instrs))
	for i, in := range instrs {
		out[i] = in.Opcode
	}
	return out
}

func TestEmitIndirectCallUsesTable(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())
	buildAddOne(t, m)

	fb := ir.NewFunctionBuilder("caller", nil, []*ir.Type{m.Int32T()})
	fb.LdInt(41, m.Int32T())
	fb.LdGlobalFunc("add_one")
	fb.CallIndirect()
	fb.Return()
	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)
	mod, err := wasm.Decode(out)
	if err != nil {
		t.Fatal(err)
	}

	// without the peephole the caller body holds the table index
	// (function index + 1) and a call_indirect
	// add_one has module index 0, so the pushed table index is 1
	body := mod.Code[1].Body
	sawTableIdx := false
	sawCallIndirect := false
	for _, in := range body {
		if in.Opcode == wasm.OpI32Const && in.Imm.(wasm.I32Imm).Value == 1 {
			sawTableIdx = true
		}
		if in.Opcode == wasm.OpCallIndirect {
			sawCallIndirect = true
		}
	}
	if !sawTableIdx || !sawCallIndirect {
		t.Errorf("caller body = % X, expected table index push and call_indirect", opcodes(body))
	}

	// and it must actually run through the table
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := inst.ExportedFunction("caller").Call(ctx)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if int32(res[0]) != 42 {
		t.Errorf("caller() = %d, want 42", int32(res[0]))
	}
}

func TestEmitLoopBreakDepth(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	// count up to 5: loop body increments a local and breaks inside an
	// if/else once the limit is reached
	fb := ir.NewFunctionBuilder("count", nil, []*ir.Type{m.Int32T()})
	n := fb.NewLocal(m.Int32T())
	body := fb.NewBlock(nil, ir.TagLoop)
	then := fb.NewBlock(nil, ir.TagIfElse)

	fb.Loop(body)
	fb.LdLocal(n)
	fb.Return()

	fb.SwitchBlock(body)
	fb.LdLocal(n)
	fb.LdInt(1, m.Int32T())
	fb.IAdd()
	fb.StLocal(n)
	fb.LdLocal(n)
	fb.LdInt(5, m.Int32T())
	fb.ICmp(ir.CmpGe)
	fb.IfThen(then)

	fb.SwitchBlock(then)
	fb.Break()

	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)

	// the break inside the if inside the loop lowers to a depth-2 branch
	mod, err := wasm.Decode(out)
	if err != nil {
		t.Fatal(err)
	}
	sawBr2 := false
	for _, in := range mod.Code[0].Body {
		if in.Opcode == wasm.OpBr && in.Imm.(wasm.BranchImm).Label == 2 {
			sawBr2 = true
		}
	}
	if !sawBr2 {
		t.Errorf("expected br 2 in % X", opcodes(mod.Code[0].Body))
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := inst.ExportedFunction("count").Call(ctx)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if int32(res[0]) != 5 {
		t.Errorf("count() = %d, want 5", int32(res[0]))
	}
}

func TestEmitStaticMemoryData(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	h := m.AddStaticMemItem(ir.SMInt32Val(0xDEADBEEF, true), ir.Const, true)

	// a function returning the int32 read from the item's address
	fb := ir.NewFunctionBuilder("load", nil, []*ir.Type{m.UInt32T()})
	fb.LdStaticMemPtr(h)
	fb.Read(m.UInt32T())
	fb.Return()
	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)

	mod, err := wasm.Decode(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(mod.Data) != 1 || mod.Data[0].Offset != 0 {
		t.Fatalf("data = %+v, want one segment at 0", mod.Data)
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := inst.ExportedFunction("load").Call(ctx)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if uint32(res[0]) != 0xDEADBEEF {
		t.Errorf("load() = %#x, want 0xDEADBEEF", uint32(res[0]))
	}
}

func TestEmitFailTraps(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	fb := ir.NewFunctionBuilder("boom", nil, nil)
	fb.Fail()
	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if _, err := inst.ExportedFunction("boom").Call(ctx); err == nil {
		t.Error("fail must trap at runtime")
	}
}

func TestEmitNarrowArithmeticRuns(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	// uint8 addition wraps at 256
	fb := ir.NewFunctionBuilder("wrap8", nil, []*ir.Type{m.UInt8T()})
	fb.LdInt(200, m.UInt8T())
	fb.LdInt(100, m.UInt8T())
	fb.IAdd()
	fb.Return()
	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	// int8 division keeps the sign: -128 / 2 = -64
	fb2 := ir.NewFunctionBuilder("div8", nil, []*ir.Type{m.Int8T()})
	fb2.LdInt(-128, m.Int8T())
	fb2.LdInt(2, m.Int8T())
	fb2.IDiv()
	fb2.Return()
	if _, err := fb2.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	res, err := inst.ExportedFunction("wrap8").Call(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if uint32(res[0]) != 44 { // (200+100) mod 256
		t.Errorf("wrap8() = %d, want 44", uint32(res[0]))
	}

	res, err = inst.ExportedFunction("div8").Call(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if int32(res[0]) != -64 {
		t.Errorf("div8() = %d, want -64", int32(res[0]))
	}
}

func TestEmitIfElseValue(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	// abs-ish: returns x when x >= 0 else 0 - x
	fb := ir.NewFunctionBuilder("abs", []*ir.Type{m.Int32T()}, []*ir.Type{m.Int32T()})
	then := fb.NewBlock([]*ir.Type{m.Int32T()}, ir.TagIfElse)
	els := fb.NewBlock([]*ir.Type{m.Int32T()}, ir.TagIfElse)

	fb.LdLocal(fb.GetArg(0))
	fb.LdInt(0, m.Int32T())
	fb.ICmp(ir.CmpGe)
	fb.IfThenElse(then, els)
	fb.Return()

	fb.SwitchBlock(then)
	fb.LdLocal(fb.GetArg(0))

	fb.SwitchBlock(els)
	fb.LdInt(0, m.Int32T())
	fb.LdLocal(fb.GetArg(0))
	fb.ISub()

	if _, err := fb.Finish(m); err != nil {
		t.Fatal(err)
	}

	out := verifyAndEmit(t, m)

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	inst, err := r.Instantiate(ctx, out)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	for _, tc := range []struct{ in, want int32 }{{5, 5}, {-7, 7}, {0, 0}} {
		res, err := inst.ExportedFunction("abs").Call(ctx, uint64(uint32(tc.in)))
		if err != nil {
			t.Fatal(err)
		}
		if int32(res[0]) != tc.want {
			t.Errorf("abs(%d) = %d, want %d", tc.in, int32(res[0]), tc.want)
		}
	}
}
