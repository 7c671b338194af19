package emit

import (
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/abi"
	"github.com/IQBigBang/swarm-ir/ir"
)

// CompiledStaticMemory is the byte image of a module's static memory plus
// the linear address assigned to every item.
type CompiledStaticMemory struct {
	Addresses map[ir.SMHandle]uint32
	Buf       []byte
}

// CompileStaticMemory assigns addresses and builds the byte image. The
// first eight bytes stay zero so that address 0 never points at an item.
// Symbolic pointers are resolved to the pointee's assigned address, which
// is possible because all addresses are assigned before any value is
// written.
func CompileStaticMemory(m *ir.Module, a abi.ABI) *CompiledStaticMemory {
	mem := m.StaticMem()
	addresses := make(map[ir.SMHandle]uint32, mem.Len())

	cursor := uint32(8)
	mem.ForEach(func(h ir.SMHandle, item *ir.SMItem) {
		ty := itemType(m, &item.Value)
		align := uint32(1) << a.AlignmentExp(ty)
		if cursor%align != 0 {
			cursor += align - cursor%align
		}
		addresses[h] = cursor
		cursor += a.SizeOf(ty)
	})

	buf := make([]byte, cursor)
	mem.ForEach(func(h ir.SMHandle, item *ir.SMItem) {
		writeValue(buf, addresses[h], &item.Value, m, a, addresses)
	})

	Logger().Debug("static memory compiled",
		zap.Int("items", mem.Len()),
		zap.Uint32("bytes", cursor))

	return &CompiledStaticMemory{Buf: buf, Addresses: addresses}
}

// itemType computes the IR type a static-memory value occupies. A blob of
// n bytes has no first-class type, so it is typed as a struct of n uint8
// fields.
func itemType(m *ir.Module, v *ir.SMValue) *ir.Type {
	switch v.Kind {
	case ir.SMInt8:
		if v.Unsigned {
			return m.UInt8T()
		}
		return m.Int8T()
	case ir.SMInt16:
		if v.Unsigned {
			return m.UInt16T()
		}
		return m.Int16T()
	case ir.SMInt32:
		if v.Unsigned {
			return m.UInt32T()
		}
		return m.Int32T()
	case ir.SMFloat:
		return m.Float32T()
	case ir.SMStruct:
		fields := make([]*ir.Type, len(v.Fields))
		for i := range v.Fields {
			fields[i] = itemType(m, &v.Fields[i])
		}
		return m.StructT(fields)
	case ir.SMBlob:
		fields := make([]*ir.Type, len(v.Blob))
		for i := range fields {
			fields[i] = m.UInt8T()
		}
		return m.StructT(fields)
	default: // SMPtrTo
		return m.PtrT()
	}
}

// writeValue places a value at pos. Struct fields are written at the
// offsets the layout algorithm assigns them; padding stays zero.
func writeValue(buf []byte, pos uint32, v *ir.SMValue, m *ir.Module, a abi.ABI, addresses map[ir.SMHandle]uint32) {
	put16 := binary.LittleEndian.PutUint16
	put32 := binary.LittleEndian.PutUint32
	if !a.LittleEndian() {
		put16 = binary.BigEndian.PutUint16
		put32 = binary.BigEndian.PutUint32
	}

	switch v.Kind {
	case ir.SMInt8:
		buf[pos] = byte(v.Bits)
	case ir.SMInt16:
		put16(buf[pos:], uint16(v.Bits))
	case ir.SMInt32:
		put32(buf[pos:], v.Bits)
	case ir.SMFloat:
		put32(buf[pos:], math.Float32bits(v.Float))
	case ir.SMStruct:
		fields := make([]*ir.Type, len(v.Fields))
		for i := range v.Fields {
			fields[i] = itemType(m, &v.Fields[i])
		}
		for i := range v.Fields {
			writeValue(buf, pos+a.StructFieldOffset(fields, i), &v.Fields[i], m, a, addresses)
		}
	case ir.SMBlob:
		copy(buf[pos:], v.Blob)
	case ir.SMPtrTo:
		put32(buf[pos:], addresses[v.Ptr])
	}
}
