package emit

import (
	"github.com/IQBigBang/swarm-ir/abi"
	"github.com/IQBigBang/swarm-ir/ir"
	"github.com/IQBigBang/swarm-ir/wasm"
)

// Numeric lowering: every integer value lives in a 32-bit cell, so
// operations on the narrow widths keep the cell canonical after each
// wrapping operation. Unsigned widths re-mask with 2^width-1 (the "and"
// idiom); signed widths re-extend with shift-left then arithmetic
// shift-right by 32-width (the "shift" idiom).

// and appends the mask idiom after the core instruction.
func and(core wasm.Instruction, mask int32) []wasm.Instruction {
	return []wasm.Instruction{
		core,
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: mask}},
		{Opcode: wasm.OpI32And},
	}
}

// shift appends the sign-extension idiom after the core instruction.
func shift(core wasm.Instruction, by int32) []wasm.Instruction {
	return []wasm.Instruction{
		core,
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: by}},
		{Opcode: wasm.OpI32Shl},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: by}},
		{Opcode: wasm.OpI32ShrS},
	}
}

// widthFixup re-canonicalizes a 32-bit cell after a wrapping core op.
func widthFixup(core wasm.Instruction, bws ir.BitWidthSign) []wasm.Instruction {
	switch bws {
	case ir.S32, ir.U32:
		return []wasm.Instruction{core}
	case ir.U16:
		return and(core, 0xFFFF)
	case ir.S16:
		return shift(core, 16)
	case ir.U8:
		return and(core, 0xFF)
	default: // S8
		return shift(core, 24)
	}
}

// lowerNumeric expands one numeric IR instruction into the target
// instruction sequence. The bws descriptor comes from verifier metadata for
// instructions without an explicit integer type, and from the explicit type
// otherwise.
func lowerNumeric(instr *ir.Instr, bws ir.BitWidthSign, saturatingFtoi bool) []wasm.Instruction {
	switch instr.Op {
	case ir.OpIAdd:
		return widthFixup(wasm.Instruction{Opcode: wasm.OpI32Add}, bws)
	case ir.OpISub:
		return widthFixup(wasm.Instruction{Opcode: wasm.OpI32Sub}, bws)
	case ir.OpIMul:
		return widthFixup(wasm.Instruction{Opcode: wasm.OpI32Mul}, bws)

	case ir.OpIDiv:
		switch bws {
		case ir.U32, ir.U16, ir.U8:
			return []wasm.Instruction{{Opcode: wasm.OpI32DivU}}
		case ir.S32:
			return []wasm.Instruction{{Opcode: wasm.OpI32DivS}}
		case ir.S16:
			return shift(wasm.Instruction{Opcode: wasm.OpI32DivS}, 16)
		default: // S8
			return shift(wasm.Instruction{Opcode: wasm.OpI32DivS}, 24)
		}

	case ir.OpItof:
		if bws.IsUnsigned() {
			return []wasm.Instruction{{Opcode: wasm.OpF32ConvertI32U}}
		}
		return []wasm.Instruction{{Opcode: wasm.OpF32ConvertI32S}}

	case ir.OpFtoi:
		if saturatingFtoi {
			sub := wasm.MiscI32TruncSatF32S
			if bws.IsUnsigned() {
				sub = wasm.MiscI32TruncSatF32U
			}
			return []wasm.Instruction{{Opcode: wasm.OpMiscPrefix, Imm: wasm.MiscImm{Op: sub}}}
		}
		if bws.IsUnsigned() {
			return []wasm.Instruction{{Opcode: wasm.OpI32TruncF32U}}
		}
		return []wasm.Instruction{{Opcode: wasm.OpI32TruncF32S}}

	case ir.OpICmp:
		cmp := instr.Imm.(ir.CmpImm).Cmp
		var op byte
		switch cmp {
		case ir.CmpEq:
			op = wasm.OpI32Eq // width-agnostic: cells are canonical
		case ir.CmpNe:
			op = wasm.OpI32Ne
		case ir.CmpLt:
			op = pick(bws, wasm.OpI32LtS, wasm.OpI32LtU)
		case ir.CmpLe:
			op = pick(bws, wasm.OpI32LeS, wasm.OpI32LeU)
		case ir.CmpGt:
			op = pick(bws, wasm.OpI32GtS, wasm.OpI32GtU)
		case ir.CmpGe:
			op = pick(bws, wasm.OpI32GeS, wasm.OpI32GeU)
		}
		return []wasm.Instruction{{Opcode: op}}

	case ir.OpIConv:
		target, _ := ir.TypeBWS(instr.Imm.(ir.TypeImm).Ty)
		return lowerIConv(bws, target)
	}

	panic("emit: not a numeric instruction: " + instr.Op.String())
}

func pick(bws ir.BitWidthSign, signed, unsigned byte) byte {
	if bws.IsUnsigned() {
		return unsigned
	}
	return signed
}

// lowerIConv converts between integer widths: widening to 32 bits is a
// no-op (the cell already holds the canonical value), narrowing applies the
// target's idiom unless the value already fits.
func lowerIConv(source, target ir.BitWidthSign) []wasm.Instruction {
	nop := []wasm.Instruction{}
	maskTo := func(mask int32) []wasm.Instruction {
		return []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: mask}},
			{Opcode: wasm.OpI32And},
		}
	}
	extendTo := func(by int32) []wasm.Instruction {
		return []wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: by}},
			{Opcode: wasm.OpI32Shl},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: by}},
			{Opcode: wasm.OpI32ShrS},
		}
	}

	switch target {
	case ir.S32, ir.U32:
		return nop
	case ir.S16:
		switch source {
		case ir.S16, ir.S8, ir.U8:
			return nop
		default: // U16, S32, U32
			return extendTo(16)
		}
	case ir.U16:
		switch source {
		case ir.U16, ir.U8:
			return nop
		default: // S16, S8, S32, U32
			return maskTo(0xFFFF)
		}
	case ir.S8:
		if source == ir.S8 {
			return nop
		}
		return extendTo(24)
	default: // U8
		if source == ir.U8 {
			return nop
		}
		return maskTo(0xFF)
	}
}

// lowerRead expands a memory load of the given type. Narrow integers use
// the width-specific load with sign or zero extension; everything else is
// a plain 32-bit load.
func lowerRead(a abi.ABI, ty *ir.Type) []wasm.Instruction {
	memarg := wasm.MemImm{Align: a.AlignmentExp(ty)}
	if ty.IsFloat() {
		return []wasm.Instruction{{Opcode: wasm.OpF32Load, Imm: memarg}}
	}
	if bws, ok := ir.TypeBWS(ty); ok {
		switch bws {
		case ir.U16:
			return []wasm.Instruction{{Opcode: wasm.OpI32Load16U, Imm: memarg}}
		case ir.S16:
			return []wasm.Instruction{{Opcode: wasm.OpI32Load16S, Imm: memarg}}
		case ir.U8:
			return []wasm.Instruction{{Opcode: wasm.OpI32Load8U, Imm: memarg}}
		case ir.S8:
			return []wasm.Instruction{{Opcode: wasm.OpI32Load8S, Imm: memarg}}
		}
	}
	// int32, uint32, ptr, func
	return []wasm.Instruction{{Opcode: wasm.OpI32Load, Imm: memarg}}
}

// lowerWrite expands a memory store of the given type.
func lowerWrite(a abi.ABI, ty *ir.Type) []wasm.Instruction {
	memarg := wasm.MemImm{Align: a.AlignmentExp(ty)}
	if ty.IsFloat() {
		return []wasm.Instruction{{Opcode: wasm.OpF32Store, Imm: memarg}}
	}
	if bws, ok := ir.TypeBWS(ty); ok {
		switch bws {
		case ir.U16, ir.S16:
			return []wasm.Instruction{{Opcode: wasm.OpI32Store16, Imm: memarg}}
		case ir.U8, ir.S8:
			return []wasm.Instruction{{Opcode: wasm.OpI32Store8, Imm: memarg}}
		}
	}
	return []wasm.Instruction{{Opcode: wasm.OpI32Store, Imm: memarg}}
}
