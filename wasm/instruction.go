package wasm

import (
	"fmt"

	"github.com/IQBigBang/swarm-ir/wasm/internal/binary"
)

// Instruction represents a single WebAssembly instruction: an opcode plus
// its typed immediate (nil for instructions without immediates).
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop and if instructions.
// Negative values are the singleton block types (BlockTypeVoid etc.),
// non-negative values are type-section indices.
type BlockImm struct {
	Type int64
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	Label uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemImm holds memory access parameters for loads and stores. Align is the
// base-2 exponent of the natural alignment.
type MemImm struct {
	Align  uint32
	Offset uint32
}

// MemoryIdxImm holds the memory index for memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const.
type I32Imm struct {
	Value int32
}

// F32Imm holds the constant value for f32.const.
type F32Imm struct {
	Value float32
}

// MiscImm holds the sub-opcode for the 0xFC prefixed opcode space.
type MiscImm struct {
	Op uint32
}

// encodeTo writes the binary encoding of the instruction.
func (i Instruction) encodeTo(w *binary.Writer) error {
	w.Byte(i.Opcode)
	switch imm := i.Imm.(type) {
	case nil:
	case BlockImm:
		w.WriteS33(imm.Type)
	case BranchImm:
		w.WriteU32(imm.Label)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case MemImm:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case MemoryIdxImm:
		w.WriteU32(imm.MemIdx)
	case I32Imm:
		w.WriteS32(imm.Value)
	case F32Imm:
		w.WriteF32(imm.Value)
	case MiscImm:
		w.WriteU32(imm.Op)
	default:
		return fmt.Errorf("wasm: unknown immediate type %T for opcode 0x%02X", i.Imm, i.Opcode)
	}
	return nil
}

// EncodeExpr encodes an instruction sequence followed by the End opcode,
// which is the "expr" production used by init expressions and bodies.
func EncodeExpr(instrs []Instruction) ([]byte, error) {
	w := binary.NewWriter()
	for _, i := range instrs {
		if err := i.encodeTo(w); err != nil {
			return nil, err
		}
	}
	w.Byte(OpEnd)
	return w.Bytes(), nil
}

// DecodeExpr decodes instructions until the matching top-level End opcode.
// It understands exactly the opcodes the encoder can produce.
func DecodeExpr(data []byte) ([]Instruction, error) {
	r := binary.NewReader(data)
	instrs, err := decodeInstrs(r, 0)
	if err != nil {
		return nil, err
	}
	return instrs, nil
}

func decodeInstrs(r *binary.Reader, depth int) ([]Instruction, error) {
	var out []Instruction
	for {
		op, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if op == OpEnd {
			if depth == 0 {
				return out, nil
			}
			out = append(out, Instruction{Opcode: OpEnd})
			depth--
			continue
		}

		instr := Instruction{Opcode: op}
		switch op {
		case OpUnreachable, OpNop, OpElse, OpReturn, OpDrop,
			OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
			OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
			OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge,
			OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU,
			OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU,
			OpF32Add, OpF32Sub, OpF32Mul, OpF32Div,
			OpI32TruncF32S, OpI32TruncF32U, OpF32ConvertI32S, OpF32ConvertI32U,
			OpI32ReinterpretF32, OpF32ReinterpretI32:
			// no immediate
		case OpBlock, OpLoop, OpIf:
			bt, err := r.ReadS33()
			if err != nil {
				return nil, err
			}
			instr.Imm = BlockImm{Type: bt}
			depth++
		case OpBr, OpBrIf:
			l, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = BranchImm{Label: l}
		case OpCall:
			f, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = CallImm{FuncIdx: f}
		case OpCallIndirect:
			ti, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			tbl, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = CallIndirectImm{TypeIdx: ti, TableIdx: tbl}
		case OpLocalGet, OpLocalSet, OpLocalTee:
			l, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = LocalImm{LocalIdx: l}
		case OpGlobalGet, OpGlobalSet:
			g, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = GlobalImm{GlobalIdx: g}
		case OpI32Load, OpF32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
			OpI32Store, OpF32Store, OpI32Store8, OpI32Store16:
			align, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			off, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = MemImm{Align: align, Offset: off}
		case OpMemorySize, OpMemoryGrow:
			m, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = MemoryIdxImm{MemIdx: m}
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return nil, err
			}
			instr.Imm = I32Imm{Value: v}
		case OpF32Const:
			v, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			instr.Imm = F32Imm{Value: v}
		case OpMiscPrefix:
			sub, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			instr.Imm = MiscImm{Op: sub}
		default:
			return nil, fmt.Errorf("wasm: unknown opcode 0x%02X", op)
		}
		out = append(out, instr)
	}
}
