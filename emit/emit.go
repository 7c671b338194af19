// Package emit lowers a verified IR module to the WebAssembly binary
// format: it builds the target sections in the order the format mandates,
// expands numeric instructions by width and signedness, lowers structured
// control flow to labelled branches, constructs the global function table
// and places the compiled static memory as a data segment.
//
// The emitter assumes the correction pass and both verifiers have run: it
// consumes the metadata they attach without re-checking anything.
package emit

import (
	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/abi"
	"github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
	"github.com/IQBigBang/swarm-ir/wasm"
)

// ImportNamespace is the module field of every emitted function import.
const ImportNamespace = "env"

// Emitter compiles a verified module into a wasm.Module and finally into
// bytes. It implements the read-only pass interface; run it with ir.DoPass
// and call Finish afterwards.
type Emitter struct {
	abi       abi.ABI
	out       *wasm.Module
	typeIdx   map[*ir.Type]uint32
	staticMem *CompiledStaticMemory
	conf      ir.ModuleConf
	funcCount int
}

// NewEmitter creates an emitter for the given target ABI.
func NewEmitter(a abi.ABI) *Emitter {
	return &Emitter{
		abi:     a,
		out:     &wasm.Module{},
		typeIdx: make(map[*ir.Type]uint32),
	}
}

// Name implements the pass interface.
func (*Emitter) Name() string { return "emit" }

// typeIndex returns the type-section index of a func type, registering it
// on first use.
func (e *Emitter) typeIndex(t *ir.Type) uint32 {
	if idx, ok := e.typeIdx[t]; ok {
		return idx
	}
	ft := wasm.FuncType{}
	for _, a := range t.Args() {
		ft.Params = append(ft.Params, e.abi.CompileType(a))
	}
	for _, r := range t.Rets() {
		ft.Results = append(ft.Results, e.abi.CompileType(r))
	}
	idx := uint32(len(e.out.Types))
	e.out.Types = append(e.out.Types, ft)
	e.typeIdx[t] = idx
	return idx
}

// VisitModule compiles the static memory, registers all interned function
// types and emits the imports for extern functions.
func (e *Emitter) VisitModule(m *ir.Module) error {
	e.conf = m.Conf
	e.funcCount = m.FunctionCount()
	e.staticMem = CompileStaticMemory(m, e.abi)

	m.ForEachType(func(t *ir.Type) {
		if t.IsFunc() {
			e.typeIndex(t)
		}
	})

	for _, fd := range m.Functions() {
		if _, ok := fd.(*ir.ExternFunction); ok {
			e.out.Imports = append(e.out.Imports, wasm.Import{
				Module:  ImportNamespace,
				Name:    fd.Name(),
				TypeIdx: e.typeIndex(fd.Type()),
			})
		}
	}
	return nil
}

// VisitFunction compiles one local function body and its export entry.
func (e *Emitter) VisitFunction(m *ir.Module, f *ir.Function) error {
	body, err := e.compileFunc(m, f)
	if err != nil {
		return err
	}
	e.out.Funcs = append(e.out.Funcs, e.typeIndex(f.Type()))
	e.out.Exports = append(e.out.Exports, wasm.Export{
		Name: f.Name(),
		Kind: wasm.KindFunc,
		Idx:  uint32(f.Index()),
	})
	e.out.Code = append(e.out.Code, body)
	return nil
}

// EndModule emits the memory, the globals, the global function table and
// the static-memory data segment.
func (e *Emitter) EndModule(m *ir.Module) error {
	e.out.Memories = append(e.out.Memories, wasm.MemoryType{Min: e.conf.InitialMemoryPages})

	for _, g := range m.Globals() {
		var init wasm.Instruction
		if g.IsInt() {
			init = wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: g.IntValue()}}
		} else {
			init = wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Value: g.FloatValue()}}
		}
		e.out.Globals = append(e.out.Globals, wasm.Global{
			Type:    e.abi.CompileType(g.Type()),
			Mutable: true,
			Init:    []wasm.Instruction{init},
		})
	}

	e.emitGlobalFunctionTable()

	if m.StaticMem().Len() > 0 {
		e.out.Data = append(e.out.Data, wasm.DataSegment{Offset: 0, Init: e.staticMem.Buf})
	}

	for _, fd := range m.Functions() {
		e.out.FuncNames = append(e.out.FuncNames, wasm.FuncName{
			Idx:  uint32(fd.Index()),
			Name: fd.Name(),
		})
	}
	return nil
}

// emitGlobalFunctionTable builds the funcref table realizing functions as
// values. It has funcCount+1 entries: entry 0 stays null so that a function
// value of 0 is never valid, and entry i+1 refers to function i. The active
// element segment therefore starts at offset 1.
func (e *Emitter) emitGlobalFunctionTable() {
	size := uint32(e.funcCount) + 1
	e.out.Tables = append(e.out.Tables, wasm.TableType{
		Elem: wasm.ValFuncRef,
		Min:  size,
		Max:  &size,
	})

	idxs := make([]uint32, e.funcCount)
	for i := range idxs {
		idxs[i] = uint32(i)
	}
	e.out.Elements = append(e.out.Elements, wasm.Element{
		TableIdx: 0,
		Offset:   1,
		FuncIdxs: idxs,
	})
}

// Finish assembles the final byte image.
func (e *Emitter) Finish() ([]byte, error) {
	bytes, err := e.out.Encode()
	if err != nil {
		return nil, errors.New(errors.PhaseEmit, errors.KindMalformedInput).
			Cause(err).
			Detail("encoding target module").
			Build()
	}
	Logger().Info("module emitted",
		zap.Int("functions", e.funcCount),
		zap.Int("bytes", len(bytes)))
	return bytes, nil
}

func (e *Emitter) compileFunc(m *ir.Module, f *ir.Function) (wasm.FuncBody, error) {
	var body []wasm.Instruction
	if err := e.compileBlock(m, f, f.EntryBlock(), &body); err != nil {
		return wasm.FuncBody{}, err
	}

	var locals []wasm.ValType
	for _, l := range f.Locals()[f.ArgCount():] {
		locals = append(locals, e.abi.CompileType(l))
	}
	return wasm.FuncBody{Locals: locals, Body: body}, nil
}

// blockType returns the target block type for a block-return sequence:
// void, a single value type, or a type-section index for multi-value.
func (e *Emitter) blockType(m *ir.Module, rets []*ir.Type) int64 {
	switch len(rets) {
	case 0:
		return wasm.BlockTypeVoid
	case 1:
		if e.abi.CompileType(rets[0]) == wasm.ValF32 {
			return wasm.BlockTypeF32
		}
		return wasm.BlockTypeI32
	default:
		return int64(e.typeIndex(m.FuncT(nil, rets)))
	}
}

func (e *Emitter) compileBlock(m *ir.Module, f *ir.Function, b *ir.Block, out *[]wasm.Instruction) error {
	emit := func(instrs ...wasm.Instruction) {
		*out = append(*out, instrs...)
	}

	for i := range b.Body {
		instr := &b.Body[i]
		switch instr.Op {
		case ir.OpLdInt:
			imm := instr.Imm.(ir.IntImm)
			emit(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(uint32(imm.Value))}})

		case ir.OpLdFloat:
			emit(wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Value: instr.Imm.(ir.FloatImm).Value}})

		case ir.OpIAdd, ir.OpISub, ir.OpIMul, ir.OpIDiv, ir.OpItof, ir.OpICmp, ir.OpIConv:
			bws, ok := instr.Meta.BWS(ir.KeyBWS)
			if !ok {
				return e.missingMeta(f, b, i, "bws")
			}
			emit(lowerNumeric(instr, bws, e.conf.SaturatingFtoi)...)

		case ir.OpFtoi:
			// the descriptor comes from the explicit target type
			bws, _ := ir.TypeBWS(instr.Imm.(ir.TypeImm).Ty)
			emit(lowerNumeric(instr, bws, e.conf.SaturatingFtoi)...)

		case ir.OpFAdd:
			emit(wasm.Instruction{Opcode: wasm.OpF32Add})
		case ir.OpFSub:
			emit(wasm.Instruction{Opcode: wasm.OpF32Sub})
		case ir.OpFMul:
			emit(wasm.Instruction{Opcode: wasm.OpF32Mul})
		case ir.OpFDiv:
			emit(wasm.Instruction{Opcode: wasm.OpF32Div})

		case ir.OpFCmp:
			var op byte
			switch instr.Imm.(ir.CmpImm).Cmp {
			case ir.CmpEq:
				op = wasm.OpF32Eq
			case ir.CmpNe:
				op = wasm.OpF32Ne
			case ir.CmpLt:
				op = wasm.OpF32Lt
			case ir.CmpLe:
				op = wasm.OpF32Le
			case ir.CmpGt:
				op = wasm.OpF32Gt
			case ir.CmpGe:
				op = wasm.OpF32Ge
			}
			emit(wasm.Instruction{Opcode: op})

		case ir.OpNot:
			emit(wasm.Instruction{Opcode: wasm.OpI32Eqz})
		case ir.OpBitAnd:
			emit(wasm.Instruction{Opcode: wasm.OpI32And})
		case ir.OpBitOr:
			emit(wasm.Instruction{Opcode: wasm.OpI32Or})

		case ir.OpCallDirect:
			name := instr.Imm.(ir.CallImm).Name
			callee, ok := m.GetFunction(name)
			if !ok {
				return errors.New(errors.PhaseEmit, errors.KindUndefinedFunction).
					Func(f.Name()).Block(int(b.ID)).Instr(i).
					Detail("call to %q", name).
					Build()
			}
			emit(wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: uint32(callee.Index())}})

		case ir.OpCallIndirect:
			fnTy, ok := instr.Meta.Type(ir.KeyTy)
			if !ok {
				return e.missingMeta(f, b, i, "ty")
			}
			emit(wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{
				TypeIdx:  e.typeIndex(fnTy),
				TableIdx: 0, // the GFT is the only table
			}})

		case ir.OpLdGlobalFunc:
			name := instr.Imm.(ir.CallImm).Name
			callee, ok := m.GetFunction(name)
			if !ok {
				return errors.New(errors.PhaseEmit, errors.KindUndefinedFunction).
					Func(f.Name()).Block(int(b.ID)).Instr(i).
					Detail("ld_glob_func %q", name).
					Build()
			}
			// GFT entries are shifted by one; zero stays a null sentinel
			emit(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(callee.Index() + 1)}})

		case ir.OpIfElse:
			imm := instr.Imm.(ir.IfElseImm)
			then, _ := f.Block(imm.Then)
			emit(wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: e.blockType(m, then.Returns)}})
			if err := e.compileBlock(m, f, then, out); err != nil {
				return err
			}
			if imm.HasElse {
				els, _ := f.Block(imm.Else)
				emit(wasm.Instruction{Opcode: wasm.OpElse})
				if err := e.compileBlock(m, f, els, out); err != nil {
					return err
				}
			}
			emit(wasm.Instruction{Opcode: wasm.OpEnd})

		case ir.OpLoop:
			// loop bodies never yield values; the surrounding block is the
			// break target, the inner br 0 restarts the iteration
			imm := instr.Imm.(ir.LoopImm)
			bodyBlock, _ := f.Block(imm.Body)
			emit(
				wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
				wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
			)
			if err := e.compileBlock(m, f, bodyBlock, out); err != nil {
				return err
			}
			emit(
				wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{Label: 0}},
				wasm.Instruction{Opcode: wasm.OpEnd},
				wasm.Instruction{Opcode: wasm.OpEnd},
			)

		case ir.OpBreak:
			depth, ok := b.Meta.Int(ir.KeyLoopDepth)
			if !ok {
				return e.missingMeta(f, b, i, "innermost_loop_distance")
			}
			emit(wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{Label: uint32(depth) + 1}})

		case ir.OpReturn:
			emit(wasm.Instruction{Opcode: wasm.OpReturn})

		case ir.OpFail:
			emit(wasm.Instruction{Opcode: wasm.OpUnreachable})

		case ir.OpLdLocal:
			emit(wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: uint32(instr.Imm.(ir.LocalImm).Idx)}})
		case ir.OpStLocal:
			emit(wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: uint32(instr.Imm.(ir.LocalImm).Idx)}})

		case ir.OpLdGlobal, ir.OpStGlobal:
			name := instr.Imm.(ir.GlobalImm).Name
			g, ok := m.GetGlobal(name)
			if !ok {
				return errors.New(errors.PhaseEmit, errors.KindUndefinedGlobal).
					Func(f.Name()).Block(int(b.ID)).Instr(i).
					Detail("global %q", name).
					Build()
			}
			op := byte(wasm.OpGlobalGet)
			if instr.Op == ir.OpStGlobal {
				op = wasm.OpGlobalSet
			}
			emit(wasm.Instruction{Opcode: op, Imm: wasm.GlobalImm{GlobalIdx: uint32(g.Index())}})

		case ir.OpRead:
			emit(lowerRead(e.abi, instr.Imm.(ir.TypeImm).Ty)...)
		case ir.OpWrite:
			emit(lowerWrite(e.abi, instr.Imm.(ir.TypeImm).Ty)...)

		case ir.OpOffset:
			size := e.abi.SizeOf(instr.Imm.(ir.TypeImm).Ty)
			switch {
			case size == 1:
				// n * 1 is n
			case size&(size-1) == 0:
				// scale by a shift instead of a multiply
				shiftBy := int32(0)
				for s := size; s > 1; s >>= 1 {
					shiftBy++
				}
				emit(
					wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: shiftBy}},
					wasm.Instruction{Opcode: wasm.OpI32Shl},
				)
			default:
				emit(
					wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(size)}},
					wasm.Instruction{Opcode: wasm.OpI32Mul},
				)
			}
			emit(wasm.Instruction{Opcode: wasm.OpI32Add})

		case ir.OpGetFieldPtr:
			imm := instr.Imm.(ir.FieldImm)
			offset := e.abi.StructFieldOffset(imm.Struct.Fields(), imm.Field)
			// a zero offset leaves the pointer untouched
			if offset != 0 {
				emit(
					wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(offset)}},
					wasm.Instruction{Opcode: wasm.OpI32Add},
				)
			}

		case ir.OpMemorySize:
			emit(wasm.Instruction{Opcode: wasm.OpMemorySize, Imm: wasm.MemoryIdxImm{}})
		case ir.OpMemoryGrow:
			emit(wasm.Instruction{Opcode: wasm.OpMemoryGrow, Imm: wasm.MemoryIdxImm{}})

		case ir.OpDiscard:
			emit(wasm.Instruction{Opcode: wasm.OpDrop})

		case ir.OpBitcast:
			from, ok := instr.Meta.Type(ir.KeyFrom)
			if !ok {
				return e.missingMeta(f, b, i, "from")
			}
			src := e.abi.CompileType(from)
			dst := e.abi.CompileType(instr.Imm.(ir.TypeImm).Ty)
			switch {
			case src == wasm.ValI32 && dst == wasm.ValF32:
				emit(wasm.Instruction{Opcode: wasm.OpF32ReinterpretI32})
			case src == wasm.ValF32 && dst == wasm.ValI32:
				emit(wasm.Instruction{Opcode: wasm.OpI32ReinterpretF32})
			default:
				// same backend representation, nothing to do
			}

		case ir.OpLdStaticMemPtr:
			h := instr.Imm.(ir.StaticMemImm).Handle
			addr := e.staticMem.Addresses[h]
			emit(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(addr)}})
		}
	}
	return nil
}

func (e *Emitter) missingMeta(f *ir.Function, b *ir.Block, i int, key string) error {
	return errors.New(errors.PhaseEmit, errors.KindMalformedInput).
		Func(f.Name()).Block(int(b.ID)).Instr(i).
		Detail("missing %q metadata; did verification run?", key).
		Build()
}
