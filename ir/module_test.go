package ir

import (
	stderrors "errors"
	"testing"

	swarmerr "github.com/IQBigBang/swarm-ir/errors"
)

func buildEmptyFunc(t *testing.T, m *Module, name string) *Function {
	t.Helper()
	fb := NewFunctionBuilder(name, nil, nil)
	fb.Return()
	f, err := fb.Finish(m)
	if err != nil {
		t.Fatalf("Finish(%s): %v", name, err)
	}
	return f
}

func TestFunctionIndices(t *testing.T) {
	m := NewModule(DefaultModuleConf())

	ext := NewExternFunction("host_log", m.FuncT([]*Type{m.Int32T()}, nil))
	if err := m.AddExternFunction(ext); err != nil {
		t.Fatal(err)
	}
	f1 := buildEmptyFunc(t, m, "first")
	f2 := buildEmptyFunc(t, m, "second")

	if ext.Index() != 0 || f1.Index() != 1 || f2.Index() != 2 {
		t.Errorf("indices = %d, %d, %d; want 0, 1, 2", ext.Index(), f1.Index(), f2.Index())
	}
	if m.FunctionCount() != 3 {
		t.Errorf("FunctionCount = %d, want 3", m.FunctionCount())
	}
	if got, ok := m.GetFunction("first"); !ok || got != FuncDef(f1) {
		t.Error("GetFunction lookup failed")
	}
}

func TestExternAfterLocalRejected(t *testing.T) {
	m := NewModule(DefaultModuleConf())
	buildEmptyFunc(t, m, "local")

	err := m.AddExternFunction(NewExternFunction("late", m.FuncT(nil, nil)))
	if !stderrors.Is(err, swarmerr.Match(swarmerr.PhaseBuild, swarmerr.KindExternAfterLocal)) {
		t.Errorf("expected extern_after_local, got %v", err)
	}
}

func TestDuplicateFunctionName(t *testing.T) {
	m := NewModule(DefaultModuleConf())
	buildEmptyFunc(t, m, "dup")

	fb := NewFunctionBuilder("dup", nil, nil)
	fb.Return()
	_, err := fb.Finish(m)
	if !stderrors.Is(err, swarmerr.Match(swarmerr.PhaseBuild, swarmerr.KindDuplicateName)) {
		t.Errorf("expected duplicate_name, got %v", err)
	}
}

func TestGlobals(t *testing.T) {
	m := NewModule(DefaultModuleConf())

	if err := m.NewIntGlobal("counter", 7); err != nil {
		t.Fatal(err)
	}
	if err := m.NewFloatGlobal("scale", 1.5); err != nil {
		t.Fatal(err)
	}

	g, ok := m.GetGlobal("counter")
	if !ok || !g.IsInt() || g.IntValue() != 7 || g.Index() != 0 {
		t.Errorf("counter global wrong: %+v", g)
	}
	g2, ok := m.GetGlobal("scale")
	if !ok || !g2.IsFloat() || g2.FloatValue() != 1.5 || g2.Index() != 1 {
		t.Errorf("scale global wrong: %+v", g2)
	}

	err := m.NewIntGlobal("counter", 0)
	if !stderrors.Is(err, swarmerr.Match(swarmerr.PhaseBuild, swarmerr.KindDuplicateName)) {
		t.Errorf("expected duplicate_name, got %v", err)
	}
}

func TestStaticMemoryHandles(t *testing.T) {
	m := NewModule(DefaultModuleConf())

	h1 := m.AddStaticMemItem(SMInt32Val(42, false), Const, true)
	h2 := m.AddStaticMemItem(SMPtrVal(h1), Const, true)

	if h1 == h2 {
		t.Error("handles must be distinct")
	}
	if m.StaticMem().Len() != 2 {
		t.Errorf("Len = %d, want 2", m.StaticMem().Len())
	}
	if item := m.StaticMem().Item(h2); item.Value.Kind != SMPtrTo || item.Value.Ptr != h1 {
		t.Errorf("item lookup wrong: %+v", item)
	}
}
