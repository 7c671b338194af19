package wasm

import (
	"github.com/IQBigBang/swarm-ir/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format.
func (m *Module) Encode() ([]byte, error) {
	w := binary.NewWriter()

	// Magic number and version
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	// Type section
	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	// Import section
	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(KindFunc)
			sec.WriteU32(imp.TypeIdx)
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	// Function section
	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	// Table section
	if len(m.Tables) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			sec.Byte(byte(t.Elem))
			writeLimits(sec, t.Min, t.Max)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	// Memory section
	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Min, mem.Max)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	// Global section
	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.Byte(byte(g.Type))
			if g.Mutable {
				sec.Byte(1)
			} else {
				sec.Byte(0)
			}
			expr, err := EncodeExpr(g.Init)
			if err != nil {
				return nil, err
			}
			sec.WriteBytes(expr)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	// Export section
	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	// Element section
	if len(m.Elements) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for _, elem := range m.Elements {
			sec.WriteU32(0) // flags: active, table 0, funcidx vector
			expr, err := EncodeExpr([]Instruction{{Opcode: OpI32Const, Imm: I32Imm{Value: elem.Offset}}})
			if err != nil {
				return nil, err
			}
			sec.WriteBytes(expr)
			sec.WriteU32(uint32(len(elem.FuncIdxs)))
			for _, idx := range elem.FuncIdxs {
				sec.WriteU32(idx)
			}
		}
		writeSection(w, SectionElement, sec.Bytes())
	}

	// Code section
	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			enc, err := encodeFuncBody(body)
			if err != nil {
				return nil, err
			}
			sec.WriteU32(uint32(len(enc)))
			sec.WriteBytes(enc)
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	// Data section
	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteU32(0) // flags: active, memory 0
			expr, err := EncodeExpr([]Instruction{{Opcode: OpI32Const, Imm: I32Imm{Value: d.Offset}}})
			if err != nil {
				return nil, err
			}
			sec.WriteBytes(expr)
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	// "name" custom section (function names subsection only)
	if len(m.FuncNames) > 0 {
		inner := binary.NewWriter()
		inner.WriteU32(uint32(len(m.FuncNames)))
		for _, fn := range m.FuncNames {
			inner.WriteU32(fn.Idx)
			inner.WriteName(fn.Name)
		}
		sec := binary.NewWriter()
		sec.WriteName("name")
		sec.Byte(1) // function names subsection id
		sec.WriteU32(uint32(inner.Len()))
		sec.WriteBytes(inner.Bytes())
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes(), nil
}

func writeSection(w *binary.Writer, id byte, contents []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(contents)))
	w.WriteBytes(contents)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, min uint32, max *uint32) {
	if max != nil {
		w.Byte(1)
		w.WriteU32(min)
		w.WriteU32(*max)
	} else {
		w.Byte(0)
		w.WriteU32(min)
	}
}

// encodeFuncBody encodes a code-section entry: run-length compressed locals
// followed by the body expression.
func encodeFuncBody(body FuncBody) ([]byte, error) {
	w := binary.NewWriter()

	// Compress consecutive locals of the same type into runs.
	type run struct {
		ty    ValType
		count uint32
	}
	var runs []run
	for _, l := range body.Locals {
		if len(runs) > 0 && runs[len(runs)-1].ty == l {
			runs[len(runs)-1].count++
		} else {
			runs = append(runs, run{ty: l, count: 1})
		}
	}
	w.WriteU32(uint32(len(runs)))
	for _, r := range runs {
		w.WriteU32(r.count)
		w.Byte(byte(r.ty))
	}

	expr, err := EncodeExpr(body.Body)
	if err != nil {
		return nil, err
	}
	w.WriteBytes(expr)
	return w.Bytes(), nil
}
