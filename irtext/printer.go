package irtext

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/IQBigBang/swarm-ir/ir"
)

// PrintModule renders a module's globals, extern functions and functions
// in textual IR form. Every form printed here is accepted by ParseModule,
// so a printed module parses back.
func PrintModule(w io.Writer, m *ir.Module) error {
	for _, g := range m.Globals() {
		var v string
		if g.IsInt() {
			v = strconv.FormatInt(int64(g.IntValue()), 10)
		} else {
			v = formatFloat(g.FloatValue())
		}
		if _, err := fmt.Fprintf(w, "global %q %s = %s\n", g.Name(), g.Type(), v); err != nil {
			return err
		}
	}
	for _, fd := range m.Functions() {
		switch f := fd.(type) {
		case *ir.ExternFunction:
			if _, err := fmt.Fprintf(w, "extern func %q %s\n", f.Name(), f.Type()); err != nil {
				return err
			}
		case *ir.Function:
			if err := PrintFunction(w, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintFunction renders one function with its locals and blocks.
func PrintFunction(w io.Writer, f *ir.Function) error {
	if _, err := fmt.Fprintf(w, "func %q %s {\n", f.Name(), f.Type()); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "  locals:"); err != nil {
		return err
	}
	for i, l := range f.Locals() {
		if _, err := fmt.Fprintf(w, " #%d %s", i, l); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	var blockErr error
	f.ForEachBlock(func(b *ir.Block) {
		if blockErr != nil {
			return
		}
		blockErr = printBlock(w, b)
	})
	if blockErr != nil {
		return blockErr
	}
	_, err := io.WriteString(w, "}\n")
	return err
}

func printBlock(w io.Writer, b *ir.Block) error {
	rets := "()"
	switch len(b.Returns) {
	case 0:
	case 1:
		rets = b.Returns[0].String()
	default:
		parts := make([]string, len(b.Returns))
		for i, r := range b.Returns {
			parts[i] = r.String()
		}
		rets = "(" + strings.Join(parts, ", ") + ")"
	}
	if _, err := fmt.Fprintf(w, "  b%d: () -> %s tag=%s\n", b.ID, rets, b.Tag); err != nil {
		return err
	}
	for i := range b.Body {
		if _, err := fmt.Fprintf(w, "    %s\n", InstrString(&b.Body[i])); err != nil {
			return err
		}
	}
	return nil
}

// formatFloat renders a float so that the scanner reads it back as a float
// token (it always has a fractional part).
func formatFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// InstrString renders one instruction in its surface syntax.
func InstrString(instr *ir.Instr) string {
	switch instr.Op {
	case ir.OpLdInt:
		imm := instr.Imm.(ir.IntImm)
		return fmt.Sprintf("ld.%s %d", imm.Ty, imm.Value)
	case ir.OpLdFloat:
		return "ld.float " + formatFloat(instr.Imm.(ir.FloatImm).Value)
	case ir.OpICmp:
		return "icmp." + instr.Imm.(ir.CmpImm).Cmp.String()
	case ir.OpFCmp:
		return "fcmp." + instr.Imm.(ir.CmpImm).Cmp.String()
	case ir.OpFtoi:
		return "ftoi to " + instr.Imm.(ir.TypeImm).Ty.String()
	case ir.OpIConv:
		return "iconv to " + instr.Imm.(ir.TypeImm).Ty.String()
	case ir.OpBitcast:
		return "bitcast to " + instr.Imm.(ir.TypeImm).Ty.String()
	case ir.OpCallDirect:
		return fmt.Sprintf("call %q", instr.Imm.(ir.CallImm).Name)
	case ir.OpLdGlobalFunc:
		return fmt.Sprintf("ld_glob_func %q", instr.Imm.(ir.CallImm).Name)
	case ir.OpLdLocal:
		return fmt.Sprintf("ld.loc #%d", instr.Imm.(ir.LocalImm).Idx)
	case ir.OpStLocal:
		return fmt.Sprintf("st.loc #%d", instr.Imm.(ir.LocalImm).Idx)
	case ir.OpLdGlobal:
		return fmt.Sprintf("ld.global %q", instr.Imm.(ir.GlobalImm).Name)
	case ir.OpStGlobal:
		return fmt.Sprintf("st.global %q", instr.Imm.(ir.GlobalImm).Name)
	case ir.OpIfElse:
		imm := instr.Imm.(ir.IfElseImm)
		if imm.HasElse {
			return fmt.Sprintf("if then b%d else b%d", imm.Then, imm.Else)
		}
		return fmt.Sprintf("if then b%d", imm.Then)
	case ir.OpLoop:
		return fmt.Sprintf("loop b%d", instr.Imm.(ir.LoopImm).Body)
	case ir.OpRead:
		return "read " + instr.Imm.(ir.TypeImm).Ty.String()
	case ir.OpWrite:
		return "write " + instr.Imm.(ir.TypeImm).Ty.String()
	case ir.OpOffset:
		return "offset " + instr.Imm.(ir.TypeImm).Ty.String()
	case ir.OpGetFieldPtr:
		imm := instr.Imm.(ir.FieldImm)
		return fmt.Sprintf("get_field_ptr %d %s", imm.Field, imm.Struct)
	case ir.OpLdStaticMemPtr:
		return fmt.Sprintf("ld_static_mem_ptr %d", instr.Imm.(ir.StaticMemImm).Handle)
	default:
		// the remaining instructions have no immediates and print as
		// their mnemonic
		return instr.Op.String()
	}
}
