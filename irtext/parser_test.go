package irtext

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	swarmerr "github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
)

const addOneSrc = `
func "add_one" (int32) -> int32 {
  locals: #0 int32
  b0: () -> int32 tag=main
    ld.loc #0
    ld.int32 1
    iadd
    return
}
`

func TestParseAddOne(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, addOneSrc))

	fd, ok := m.GetFunction("add_one")
	require.True(t, ok)
	f := fd.(*ir.Function)

	require.Equal(t, m.FuncT([]*ir.Type{m.Int32T()}, []*ir.Type{m.Int32T()}), f.Type())

	entry := f.EntryBlock()
	require.NotNil(t, entry)
	require.Equal(t, ir.TagMain, entry.Tag)

	wantOps := []ir.Op{ir.OpLdLocal, ir.OpLdInt, ir.OpIAdd, ir.OpReturn}
	require.Len(t, entry.Body, len(wantOps))
	for i, op := range wantOps {
		require.Equal(t, op, entry.Body[i].Op, "instr %d", i)
	}
	require.Equal(t, int64(1), entry.Body[1].Imm.(ir.IntImm).Value)
	require.Equal(t, m.Int32T(), entry.Body[1].Imm.(ir.IntImm).Ty)
}

func TestParseControlFlow(t *testing.T) {
	src := `
func "count" () -> int32 {
  locals: #0 int32
  b0: () -> int32 tag=main
    loop b1
    ld.loc #0
    return
  b1: () -> () tag=loop
    ld.loc #0
    ld.int32 1
    iadd
    st.loc #0
    ld.loc #0
    ld.int32 5
    icmp.ge
    if then b2
  b2: () -> () tag=if_else
    break
}
`
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, src))

	f := mustFunc(t, m, "count")
	require.Equal(t, 3, f.BlockCount())

	loopInstr := f.EntryBlock().Body[0]
	require.Equal(t, ir.OpLoop, loopInstr.Op)
	require.Equal(t, ir.BlockID(1), loopInstr.Imm.(ir.LoopImm).Body)

	b1, ok := f.Block(1)
	require.True(t, ok)
	require.Equal(t, ir.TagLoop, b1.Tag)
	ifInstr := b1.Body[len(b1.Body)-1]
	require.Equal(t, ir.OpIfElse, ifInstr.Op)
	require.False(t, ifInstr.Imm.(ir.IfElseImm).HasElse)

	b2, ok := f.Block(2)
	require.True(t, ok)
	require.Equal(t, ir.TagIfElse, b2.Tag)
	require.Equal(t, ir.OpBreak, b2.Body[0].Op)
}

func TestParseMemoryAndTypes(t *testing.T) {
	src := `
func "poke" (ptr) -> () {
  locals: #0 ptr
  b0: () -> () tag=main
    ld.loc #0
    get_field_ptr 1 struct{int16, int32}
    ld.int32 -7
    write int32
    ld.loc #0
    ld.int16 3
    iconv to int32
    offset int16
    read int16
    discard
    return
}
`
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, src))

	f := mustFunc(t, m, "poke")
	body := f.EntryBlock().Body

	gfp := body[1]
	require.Equal(t, ir.OpGetFieldPtr, gfp.Op)
	require.Equal(t, 1, gfp.Imm.(ir.FieldImm).Field)
	require.Equal(t, m.StructT([]*ir.Type{m.Int16T(), m.Int32T()}), gfp.Imm.(ir.FieldImm).Struct)

	require.Equal(t, int64(-7), body[2].Imm.(ir.IntImm).Value)
	require.Equal(t, ir.OpWrite, body[3].Op)
	require.Equal(t, ir.OpIConv, body[6].Op)
	require.Equal(t, m.Int32T(), body[6].Imm.(ir.TypeImm).Ty)
	require.Equal(t, ir.OpOffset, body[7].Op)
}

func TestParseCallForms(t *testing.T) {
	src := `
func "caller" () -> int32 {
  locals:
  b0: () -> int32 tag=main
    ld.int32 41
    ld_glob_func "add_one"
    call indirect
    return
}
`
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, src))

	body := mustFunc(t, m, "caller").EntryBlock().Body
	require.Equal(t, ir.OpLdGlobalFunc, body[1].Op)
	require.Equal(t, "add_one", body[1].Imm.(ir.CallImm).Name)
	require.Equal(t, ir.OpCallIndirect, body[2].Op)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind swarmerr.Kind
	}{
		{
			name: "unknown instruction",
			src:  `func "f" () -> () { locals: b0: () -> () tag=main  frobnicate }`,
			kind: swarmerr.KindMalformedInput,
		},
		{
			name: "missing entry block",
			src:  `func "f" () -> () { locals: b1: () -> () tag=loop  return }`,
			kind: swarmerr.KindMalformedInput,
		},
		{
			name: "bad tag",
			src:  `func "f" () -> () { locals: b0: () -> () tag=banana  return }`,
			kind: swarmerr.KindMalformedInput,
		},
		{
			name: "truncated input",
			src:  `func "f" (int32) ->`,
			kind: swarmerr.KindUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ir.NewModule(ir.DefaultModuleConf())
			err := ParseModule(m, tt.src)
			require.Error(t, err)
			require.True(t,
				stderrors.Is(err, swarmerr.Match(swarmerr.PhaseParse, tt.kind)),
				"got %v", err)
		})
	}
}

func TestParseGlobals(t *testing.T) {
	src := `
global "counter" int32 = -2
global "scale" float32 = 1.5
`
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, src))

	g, ok := m.GetGlobal("counter")
	require.True(t, ok)
	require.True(t, g.IsInt())
	require.Equal(t, int32(-2), g.IntValue())

	g2, ok := m.GetGlobal("scale")
	require.True(t, ok)
	require.True(t, g2.IsFloat())
	require.Equal(t, float32(1.5), g2.FloatValue())

	// only scalar global types exist
	err := ParseModule(m, `global "bad" ptr = 0`)
	require.Error(t, err)
	require.True(t, stderrors.Is(err, swarmerr.Match(swarmerr.PhaseParse, swarmerr.KindMalformedInput)))
}

func TestParseExternFunc(t *testing.T) {
	src := `
extern func "host_log" (int32) -> ()
func "f" () -> () {
  locals:
  b0: () -> () tag=main
    ld.int32 5
    call "host_log"
    return
}
`
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, src))

	fd, ok := m.GetFunction("host_log")
	require.True(t, ok)
	ext, isExt := fd.(*ir.ExternFunction)
	require.True(t, isExt)
	require.Equal(t, m.FuncT([]*ir.Type{m.Int32T()}, nil), ext.Type())
	require.Equal(t, 0, ext.Index())
}

func TestParseStaticMemPtr(t *testing.T) {
	src := `
func "load" () -> ptr {
  locals:
  b0: () -> ptr tag=main
    ld_static_mem_ptr 1
    return
}
`
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m, src))

	body := mustFunc(t, m, "load").EntryBlock().Body
	require.Equal(t, ir.OpLdStaticMemPtr, body[0].Op)
	require.Equal(t, ir.SMHandle(1), body[0].Imm.(ir.StaticMemImm).Handle)
}

func TestRoundtrip(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, m.AddExternFunction(ir.NewExternFunction("host_log", m.FuncT([]*ir.Type{m.Int32T()}, nil))))
	require.NoError(t, m.NewIntGlobal("counter", 3))
	require.NoError(t, m.NewFloatGlobal("scale", 0.5))
	require.NoError(t, ParseModule(m, addOneSrc))
	h := m.AddStaticMemItem(ir.SMInt32Val(9, false), ir.Const, true)

	fb := ir.NewFunctionBuilder("load", nil, []*ir.Type{m.PtrT()})
	fb.LdStaticMemPtr(h)
	fb.Return()
	_, err := fb.Finish(m)
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, PrintModule(&out, m))

	// the printed form parses back to the same structure
	m2 := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, ParseModule(m2, out.String()))

	g, ok := m2.GetGlobal("counter")
	require.True(t, ok)
	require.Equal(t, int32(3), g.IntValue())
	g2, ok := m2.GetGlobal("scale")
	require.True(t, ok)
	require.Equal(t, float32(0.5), g2.FloatValue())

	ext, ok := m2.GetFunction("host_log")
	require.True(t, ok)
	_, isExt := ext.(*ir.ExternFunction)
	require.True(t, isExt)
	require.Equal(t, 0, ext.Index())

	f1 := mustFunc(t, m, "add_one")
	f2 := mustFunc(t, m2, "add_one")
	require.Equal(t, f1.BlockCount(), f2.BlockCount())
	require.Len(t, f2.EntryBlock().Body, len(f1.EntryBlock().Body))
	for i := range f1.EntryBlock().Body {
		require.Equal(t, f1.EntryBlock().Body[i].Op, f2.EntryBlock().Body[i].Op)
	}

	l1 := mustFunc(t, m, "load").EntryBlock().Body
	l2 := mustFunc(t, m2, "load").EntryBlock().Body
	require.Equal(t, l1[0].Imm.(ir.StaticMemImm).Handle, l2[0].Imm.(ir.StaticMemImm).Handle)
}

func mustFunc(t *testing.T, m *ir.Module, name string) *ir.Function {
	t.Helper()
	fd, ok := m.GetFunction(name)
	require.True(t, ok, "function %q not found", name)
	return fd.(*ir.Function)
}
