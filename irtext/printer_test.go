package irtext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IQBigBang/swarm-ir/ir"
)

func TestInstrString(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())

	tests := []struct {
		instr ir.Instr
		want  string
	}{
		{ir.NewInstr(ir.OpLdInt, ir.IntImm{Value: 12, Ty: m.Int32T()}), "ld.int32 12"},
		{ir.NewInstr(ir.OpLdInt, ir.IntImm{Value: -3, Ty: m.Int8T()}), "ld.int8 -3"},
		{ir.NewInstr(ir.OpLdFloat, ir.FloatImm{Value: 2.5}), "ld.float 2.5"},
		{ir.NewInstr(ir.OpLdFloat, ir.FloatImm{Value: 1}), "ld.float 1.0"},
		{ir.NewInstr(ir.OpIAdd, nil), "iadd"},
		{ir.NewInstr(ir.OpICmp, ir.CmpImm{Cmp: ir.CmpLe}), "icmp.le"},
		{ir.NewInstr(ir.OpFtoi, ir.TypeImm{Ty: m.UInt16T()}), "ftoi to uint16"},
		{ir.NewInstr(ir.OpCallDirect, ir.CallImm{Name: "foo"}), `call "foo"`},
		{ir.NewInstr(ir.OpCallIndirect, nil), "call indirect"},
		{ir.NewInstr(ir.OpIfElse, ir.IfElseImm{Then: 2, Else: 3, HasElse: true}), "if then b2 else b3"},
		{ir.NewInstr(ir.OpIfElse, ir.IfElseImm{Then: 2}), "if then b2"},
		{ir.NewInstr(ir.OpLoop, ir.LoopImm{Body: 4}), "loop b4"},
		{ir.NewInstr(ir.OpRead, ir.TypeImm{Ty: m.Int16T()}), "read int16"},
		{
			ir.NewInstr(ir.OpGetFieldPtr, ir.FieldImm{Struct: m.StructT([]*ir.Type{m.Int32T(), m.Int32T()}), Field: 2}),
			"get_field_ptr 2 struct{int32, int32}",
		},
		{ir.NewInstr(ir.OpFail, nil), "fail"},
		{ir.NewInstr(ir.OpMemorySize, nil), "memory.size"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, InstrString(&tt.instr))
	}
}

func TestPrintModuleIncludesGlobalsAndExterns(t *testing.T) {
	m := ir.NewModule(ir.DefaultModuleConf())
	require.NoError(t, m.AddExternFunction(ir.NewExternFunction("host_log", m.FuncT([]*ir.Type{m.Int32T()}, nil))))
	require.NoError(t, m.NewIntGlobal("counter", 3))
	require.NoError(t, ParseModule(m, addOneSrc))

	var out strings.Builder
	require.NoError(t, PrintModule(&out, m))
	text := out.String()

	require.Contains(t, text, `global "counter" int32 = 3`)
	require.Contains(t, text, `extern func "host_log" (int32) -> ()`)
	require.Contains(t, text, `func "add_one" (int32) -> int32 {`)
	require.Contains(t, text, "ld.loc #0")
}
