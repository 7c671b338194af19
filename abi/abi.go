// Package abi parameterises the emitter on the target's value
// representation: how IR types map to backend types, their sizes,
// alignments and struct field offsets.
package abi

import (
	"github.com/IQBigBang/swarm-ir/ir"
	"github.com/IQBigBang/swarm-ir/wasm"
)

// ABI describes the target's data layout. Alignments are expressed as
// base-2 exponents, so 0 means byte-aligned and 2 means 4-byte alignment.
type ABI interface {
	// CompileType maps an IR value type to a backend value type. Struct
	// types are not representable as values; the verifier rejects them
	// before the emitter can see one.
	CompileType(t *ir.Type) wasm.ValType

	// SizeOf returns the byte size of a type in memory.
	SizeOf(t *ir.Type) uint32

	// AlignmentExp returns the base-2 exponent of the type's natural
	// alignment.
	AlignmentExp(t *ir.Type) uint32

	// StructFieldOffset returns the byte offset of field n within a
	// struct with the given field types.
	StructFieldOffset(fields []*ir.Type, n int) uint32

	// LittleEndian reports the target's byte order.
	LittleEndian() bool
}

// Wasm32 is the layout of the 32-bit WebAssembly target: ints and floats
// occupy i32/f32 cells, pointers and function values are i32, memory is
// little-endian.
type Wasm32 struct{}

// CompileType implements ABI.
func (Wasm32) CompileType(t *ir.Type) wasm.ValType {
	switch {
	case t.IsFloat():
		return wasm.ValF32
	case t.IsStruct():
		panic("abi: struct types have no backend value representation")
	default:
		// integers of all widths, ptr, and function values (table
		// indices) are i32
		return wasm.ValI32
	}
}

// SizeOf implements ABI.
func (a Wasm32) SizeOf(t *ir.Type) uint32 {
	switch t.Kind() {
	case ir.KindInt8, ir.KindUInt8:
		return 1
	case ir.KindInt16, ir.KindUInt16:
		return 2
	case ir.KindStruct:
		_, size, _ := a.StructLayout(t.Fields())
		return size
	default:
		// int32, uint32, float32, ptr, func
		return 4
	}
}

// AlignmentExp implements ABI.
func (a Wasm32) AlignmentExp(t *ir.Type) uint32 {
	switch t.Kind() {
	case ir.KindInt8, ir.KindUInt8:
		return 0
	case ir.KindInt16, ir.KindUInt16:
		return 1
	case ir.KindStruct:
		_, _, maxAlign := a.StructLayout(t.Fields())
		return maxAlign
	default:
		return 2
	}
}

// StructFieldOffset implements ABI.
func (a Wasm32) StructFieldOffset(fields []*ir.Type, n int) uint32 {
	offsets, _, _ := a.StructLayout(fields)
	return offsets[n]
}

// LittleEndian implements ABI.
func (Wasm32) LittleEndian() bool { return true }

// StructLayout runs the padding algorithm over the field sequence and
// returns every field's offset, the end offset, and the struct's alignment
// exponent (the maximum of its fields', 0 for an empty struct). No trailing
// padding is added.
func (a Wasm32) StructLayout(fields []*ir.Type) (offsets []uint32, size uint32, maxAlignExp uint32) {
	offsets = make([]uint32, len(fields))
	for i, f := range fields {
		alignExp := a.AlignmentExp(f)
		align := uint32(1) << alignExp
		if size%align != 0 {
			size += align - size%align
		}
		offsets[i] = size
		size += a.SizeOf(f)
		if alignExp > maxAlignExp {
			maxAlignExp = alignExp
		}
	}
	return offsets, size, maxAlignExp
}
