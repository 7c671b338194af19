package wasm

import (
	"fmt"

	"github.com/IQBigBang/swarm-ir/wasm/internal/binary"
)

// Decode parses a binary module produced by Encode back into a Module.
// Function bodies are decoded into instruction slices; custom sections are
// skipped. It is intentionally limited to the encoder's output subset.
func Decode(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, fmt.Errorf("wasm: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("wasm: bad magic 0x%08X", magic)
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, fmt.Errorf("wasm: reading version: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("wasm: unsupported version %d", version)
	}

	m := &Module{}
	for r.Len() > 0 {
		id, err := r.Byte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		contents, err := r.ReadBytes(size)
		if err != nil {
			return nil, err
		}
		if err := m.decodeSection(id, contents); err != nil {
			return nil, fmt.Errorf("wasm: section %d: %w", id, err)
		}
	}
	return m, nil
}

func (m *Module) decodeSection(id byte, contents []byte) error {
	r := binary.NewReader(contents)
	switch id {
	case SectionCustom:
		// skipped
	case SectionType:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			tag, err := r.Byte()
			if err != nil {
				return err
			}
			if tag != FuncTypeByte {
				return fmt.Errorf("unexpected type tag 0x%02X", tag)
			}
			params, err := readValTypes(r)
			if err != nil {
				return err
			}
			results, err := readValTypes(r)
			if err != nil {
				return err
			}
			m.Types = append(m.Types, FuncType{Params: params, Results: results})
		}
	case SectionImport:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			mod, err := r.ReadName()
			if err != nil {
				return err
			}
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			kind, err := r.Byte()
			if err != nil {
				return err
			}
			if kind != KindFunc {
				return fmt.Errorf("unsupported import kind %d", kind)
			}
			tyIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			m.Imports = append(m.Imports, Import{Module: mod, Name: name, TypeIdx: tyIdx})
		}
	case SectionFunction:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			tyIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			m.Funcs = append(m.Funcs, tyIdx)
		}
	case SectionTable:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			elem, err := r.Byte()
			if err != nil {
				return err
			}
			min, max, err := readLimits(r)
			if err != nil {
				return err
			}
			m.Tables = append(m.Tables, TableType{Elem: ValType(elem), Min: min, Max: max})
		}
	case SectionMemory:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			min, max, err := readLimits(r)
			if err != nil {
				return err
			}
			m.Memories = append(m.Memories, MemoryType{Min: min, Max: max})
		}
	case SectionGlobal:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			ty, err := r.Byte()
			if err != nil {
				return err
			}
			mut, err := r.Byte()
			if err != nil {
				return err
			}
			init, err := readExpr(r)
			if err != nil {
				return err
			}
			m.Globals = append(m.Globals, Global{Type: ValType(ty), Mutable: mut == 1, Init: init})
		}
	case SectionExport:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			name, err := r.ReadName()
			if err != nil {
				return err
			}
			kind, err := r.Byte()
			if err != nil {
				return err
			}
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
		}
	case SectionElement:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			flags, err := r.ReadU32()
			if err != nil {
				return err
			}
			if flags != 0 {
				return fmt.Errorf("unsupported element flags %d", flags)
			}
			offset, err := readExpr(r)
			if err != nil {
				return err
			}
			if len(offset) != 1 || offset[0].Opcode != OpI32Const {
				return fmt.Errorf("unsupported element offset expression")
			}
			cnt, err := r.ReadU32()
			if err != nil {
				return err
			}
			elem := Element{Offset: offset[0].Imm.(I32Imm).Value}
			for j := uint32(0); j < cnt; j++ {
				idx, err := r.ReadU32()
				if err != nil {
					return err
				}
				elem.FuncIdxs = append(elem.FuncIdxs, idx)
			}
			m.Elements = append(m.Elements, elem)
		}
	case SectionCode:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			size, err := r.ReadU32()
			if err != nil {
				return err
			}
			raw, err := r.ReadBytes(size)
			if err != nil {
				return err
			}
			body, err := decodeFuncBody(raw)
			if err != nil {
				return err
			}
			m.Code = append(m.Code, body)
		}
	case SectionData:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			flags, err := r.ReadU32()
			if err != nil {
				return err
			}
			if flags != 0 {
				return fmt.Errorf("unsupported data flags %d", flags)
			}
			offset, err := readExpr(r)
			if err != nil {
				return err
			}
			if len(offset) != 1 || offset[0].Opcode != OpI32Const {
				return fmt.Errorf("unsupported data offset expression")
			}
			size, err := r.ReadU32()
			if err != nil {
				return err
			}
			init, err := r.ReadBytes(size)
			if err != nil {
				return err
			}
			m.Data = append(m.Data, DataSegment{Offset: offset[0].Imm.(I32Imm).Value, Init: init})
		}
	default:
		return fmt.Errorf("unknown section id %d", id)
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err := r.Byte()
		if err != nil {
			return nil, err
		}
		out = append(out, ValType(b))
	}
	return out, nil
}

func readLimits(r *binary.Reader) (uint32, *uint32, error) {
	flag, err := r.Byte()
	if err != nil {
		return 0, nil, err
	}
	min, err := r.ReadU32()
	if err != nil {
		return 0, nil, err
	}
	if flag == 0 {
		return min, nil, nil
	}
	max, err := r.ReadU32()
	if err != nil {
		return 0, nil, err
	}
	return min, &max, nil
}

func readExpr(r *binary.Reader) ([]Instruction, error) {
	return decodeInstrs(r, 0)
}

func decodeFuncBody(raw []byte) (FuncBody, error) {
	r := binary.NewReader(raw)
	runs, err := r.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	var locals []ValType
	for i := uint32(0); i < runs; i++ {
		count, err := r.ReadU32()
		if err != nil {
			return FuncBody{}, err
		}
		ty, err := r.Byte()
		if err != nil {
			return FuncBody{}, err
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, ValType(ty))
		}
	}
	body, err := decodeInstrs(r, 0)
	if err != nil {
		return FuncBody{}, err
	}
	return FuncBody{Locals: locals, Body: body}, nil
}
