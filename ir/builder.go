package ir

import "fmt"

// LocalRef is a reference to a function local handed out by the builder.
type LocalRef int

// FunctionBuilder constructs a well-formed function imperatively. It seeds
// the locals vector with the argument types, creates the entry block (id 0,
// tag main, returning the function's returns) and tracks the currently
// selected block that Emit appends to.
type FunctionBuilder struct {
	name    string
	blocks  map[BlockID]*Block
	locals  []*Type
	rets    []*Type
	next    BlockID
	current BlockID
	argc    int
}

// NewFunctionBuilder starts building a function with the given name,
// argument types and return types.
func NewFunctionBuilder(name string, args, rets []*Type) *FunctionBuilder {
	locals := make([]*Type, len(args))
	copy(locals, args)
	retsCopy := make([]*Type, len(rets))
	copy(retsCopy, rets)

	entry := &Block{ID: 0, Tag: TagMain, Returns: retsCopy}
	return &FunctionBuilder{
		name:   name,
		blocks: map[BlockID]*Block{0: entry},
		locals: locals,
		rets:   retsCopy,
		next:   1,
		argc:   len(args),
	}
}

// GetArg returns a reference to the n-th argument.
func (fb *FunctionBuilder) GetArg(n int) LocalRef {
	if n < 0 || n >= fb.argc {
		panic(fmt.Sprintf("ir: argument index %d out of range (%d args)", n, fb.argc))
	}
	return LocalRef(n)
}

// NewLocal appends a local of the given type and returns its reference.
func (fb *FunctionBuilder) NewLocal(ty *Type) LocalRef {
	fb.locals = append(fb.locals, ty)
	return LocalRef(len(fb.locals) - 1)
}

// NewBlock creates a new block with the given return sequence and tag and
// returns its id. It does not select the block.
func (fb *FunctionBuilder) NewBlock(returns []*Type, tag BlockTag) BlockID {
	rets := make([]*Type, len(returns))
	copy(rets, returns)
	id := fb.next
	fb.next++
	fb.blocks[id] = &Block{ID: id, Tag: tag, Returns: rets}
	return id
}

// SwitchBlock selects the block subsequent Emit calls append to.
func (fb *FunctionBuilder) SwitchBlock(id BlockID) {
	if _, ok := fb.blocks[id]; !ok {
		panic(fmt.Sprintf("ir: switch to unknown block b%d", id))
	}
	fb.current = id
}

// CurrentBlock returns the id of the selected block.
func (fb *FunctionBuilder) CurrentBlock() BlockID { return fb.current }

// Emit appends an instruction to the selected block.
func (fb *FunctionBuilder) Emit(i Instr) {
	fb.blocks[fb.current].Add(i)
}

// Finish interns the function type, assembles the function and adds it to
// the module.
func (fb *FunctionBuilder) Finish(m *Module) (*Function, error) {
	ty := m.FuncT(fb.locals[:fb.argc:fb.argc], fb.rets)
	f := NewFunction(fb.name, ty, fb.blocks, fb.locals)
	if err := m.AddFunction(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Per-kind emit helpers.

// LdInt pushes an integer constant of the given integer type.
func (fb *FunctionBuilder) LdInt(v int64, ty *Type) { fb.Emit(NewInstr(OpLdInt, IntImm{Value: v, Ty: ty})) }

// LdFloat pushes a float constant.
func (fb *FunctionBuilder) LdFloat(v float32) { fb.Emit(NewInstr(OpLdFloat, FloatImm{Value: v})) }

func (fb *FunctionBuilder) IAdd() { fb.Emit(NewInstr(OpIAdd, nil)) }
func (fb *FunctionBuilder) ISub() { fb.Emit(NewInstr(OpISub, nil)) }
func (fb *FunctionBuilder) IMul() { fb.Emit(NewInstr(OpIMul, nil)) }
func (fb *FunctionBuilder) IDiv() { fb.Emit(NewInstr(OpIDiv, nil)) }
func (fb *FunctionBuilder) FAdd() { fb.Emit(NewInstr(OpFAdd, nil)) }
func (fb *FunctionBuilder) FSub() { fb.Emit(NewInstr(OpFSub, nil)) }
func (fb *FunctionBuilder) FMul() { fb.Emit(NewInstr(OpFMul, nil)) }
func (fb *FunctionBuilder) FDiv() { fb.Emit(NewInstr(OpFDiv, nil)) }

// Itof converts an integer to float32.
func (fb *FunctionBuilder) Itof() { fb.Emit(NewInstr(OpItof, nil)) }

// Ftoi converts a float32 to the given integer type.
func (fb *FunctionBuilder) Ftoi(intTy *Type) { fb.Emit(NewInstr(OpFtoi, TypeImm{Ty: intTy})) }

// IConv converts between integer widths.
func (fb *FunctionBuilder) IConv(target *Type) { fb.Emit(NewInstr(OpIConv, TypeImm{Ty: target})) }

func (fb *FunctionBuilder) ICmp(c Cmp) { fb.Emit(NewInstr(OpICmp, CmpImm{Cmp: c})) }
func (fb *FunctionBuilder) FCmp(c Cmp) { fb.Emit(NewInstr(OpFCmp, CmpImm{Cmp: c})) }
func (fb *FunctionBuilder) Not()       { fb.Emit(NewInstr(OpNot, nil)) }
func (fb *FunctionBuilder) BitAnd()    { fb.Emit(NewInstr(OpBitAnd, nil)) }
func (fb *FunctionBuilder) BitOr()     { fb.Emit(NewInstr(OpBitOr, nil)) }

// CallDirect calls a function by name.
func (fb *FunctionBuilder) CallDirect(name string) {
	fb.Emit(NewInstr(OpCallDirect, CallImm{Name: name}))
}

// CallIndirect calls the function value on top of the stack.
func (fb *FunctionBuilder) CallIndirect() { fb.Emit(NewInstr(OpCallIndirect, nil)) }

// IfThen branches to then when the popped condition is non-zero.
func (fb *FunctionBuilder) IfThen(then BlockID) {
	fb.Emit(NewInstr(OpIfElse, IfElseImm{Then: then}))
}

// IfThenElse branches to then or els on the popped condition.
func (fb *FunctionBuilder) IfThenElse(then, els BlockID) {
	fb.Emit(NewInstr(OpIfElse, IfElseImm{Then: then, Else: els, HasElse: true}))
}

// Loop executes body repeatedly until a Break exits it.
func (fb *FunctionBuilder) Loop(body BlockID) { fb.Emit(NewInstr(OpLoop, LoopImm{Body: body})) }

// Break exits the innermost enclosing loop.
func (fb *FunctionBuilder) Break() { fb.Emit(NewInstr(OpBreak, nil)) }

// Return exits the function.
func (fb *FunctionBuilder) Return() { fb.Emit(NewInstr(OpReturn, nil)) }

// Fail traps.
func (fb *FunctionBuilder) Fail() { fb.Emit(NewInstr(OpFail, nil)) }

func (fb *FunctionBuilder) LdLocal(l LocalRef) { fb.Emit(NewInstr(OpLdLocal, LocalImm{Idx: int(l)})) }
func (fb *FunctionBuilder) StLocal(l LocalRef) { fb.Emit(NewInstr(OpStLocal, LocalImm{Idx: int(l)})) }

func (fb *FunctionBuilder) LdGlobal(name string) {
	fb.Emit(NewInstr(OpLdGlobal, GlobalImm{Name: name}))
}

func (fb *FunctionBuilder) StGlobal(name string) {
	fb.Emit(NewInstr(OpStGlobal, GlobalImm{Name: name}))
}

// LdGlobalFunc pushes a function as a value.
func (fb *FunctionBuilder) LdGlobalFunc(name string) {
	fb.Emit(NewInstr(OpLdGlobalFunc, CallImm{Name: name}))
}

// Read loads a value of the given type from the popped address.
func (fb *FunctionBuilder) Read(ty *Type) { fb.Emit(NewInstr(OpRead, TypeImm{Ty: ty})) }

// Write stores the popped value at the popped address.
func (fb *FunctionBuilder) Write(ty *Type) { fb.Emit(NewInstr(OpWrite, TypeImm{Ty: ty})) }

// Offset advances the popped pointer by n elements of the given type.
func (fb *FunctionBuilder) Offset(ty *Type) { fb.Emit(NewInstr(OpOffset, TypeImm{Ty: ty})) }

// GetFieldPtr offsets the popped pointer to the given struct field.
func (fb *FunctionBuilder) GetFieldPtr(structTy *Type, field int) {
	fb.Emit(NewInstr(OpGetFieldPtr, FieldImm{Struct: structTy, Field: field}))
}

func (fb *FunctionBuilder) MemorySize() { fb.Emit(NewInstr(OpMemorySize, nil)) }
func (fb *FunctionBuilder) MemoryGrow() { fb.Emit(NewInstr(OpMemoryGrow, nil)) }
func (fb *FunctionBuilder) Discard()    { fb.Emit(NewInstr(OpDiscard, nil)) }

// Bitcast reinterprets the top value's bit pattern as the target type.
func (fb *FunctionBuilder) Bitcast(target *Type) { fb.Emit(NewInstr(OpBitcast, TypeImm{Ty: target})) }

// LdStaticMemPtr pushes the linear address of a static-memory item.
func (fb *FunctionBuilder) LdStaticMemPtr(h SMHandle) {
	fb.Emit(NewInstr(OpLdStaticMemPtr, StaticMemImm{Handle: h}))
}
