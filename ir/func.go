package ir

import "sort"

// FuncDef is a function definition inside a module: either a *Function with
// a body or an *ExternFunction with a signature only.
type FuncDef interface {
	Name() string
	Type() *Type
	Index() int

	setIndex(int)
}

// Function is a local function: a set of blocks keyed by id, with block 0
// as the entry, plus the contiguous locals vector whose first ArgCount
// entries are the argument types.
type Function struct {
	name   string
	ty     *Type
	blocks map[BlockID]*Block
	locals []*Type
	idx    int
}

// NewFunction assembles a function from pre-built blocks. The function type
// must be a func type and the leading locals must match its argument types;
// most callers go through FunctionBuilder instead.
func NewFunction(name string, ty *Type, blocks map[BlockID]*Block, locals []*Type) *Function {
	if !ty.IsFunc() {
		panic("ir: function type must be a func type")
	}
	for i, at := range ty.Args() {
		if i >= len(locals) || locals[i] != at {
			panic("ir: locals must start with the argument types")
		}
	}
	return &Function{name: name, ty: ty, blocks: blocks, locals: locals, idx: -1}
}

// Name returns the function's module-unique name.
func (f *Function) Name() string { return f.name }

// Type returns the function's signature.
func (f *Function) Type() *Type { return f.ty }

// Index returns the function's index inside its module (-1 before the
// function is added to one).
func (f *Function) Index() int { return f.idx }

func (f *Function) setIndex(i int) { f.idx = i }

// EntryBlock returns the block with id 0.
func (f *Function) EntryBlock() *Block {
	return f.blocks[0]
}

// Block returns the block with the given id.
func (f *Function) Block(id BlockID) (*Block, bool) {
	b, ok := f.blocks[id]
	return b, ok
}

// BlockIDs returns all block ids in ascending order.
func (f *Function) BlockIDs() []BlockID {
	ids := make([]BlockID, 0, len(f.blocks))
	for id := range f.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ForEachBlock visits all blocks in ascending id order.
func (f *Function) ForEachBlock(fn func(*Block)) {
	for _, id := range f.BlockIDs() {
		fn(f.blocks[id])
	}
}

// BlockCount returns the number of blocks.
func (f *Function) BlockCount() int { return len(f.blocks) }

// ArgTypes returns the function's argument types.
func (f *Function) ArgTypes() []*Type { return f.ty.Args() }

// RetTypes returns the function's return types.
func (f *Function) RetTypes() []*Type { return f.ty.Rets() }

// ArgCount returns the number of arguments.
func (f *Function) ArgCount() int { return len(f.ty.Args()) }

// Locals returns the full locals vector, arguments included.
func (f *Function) Locals() []*Type { return f.locals }

// LocalType returns the type of the local at idx.
func (f *Function) LocalType(idx int) (*Type, bool) {
	if idx < 0 || idx >= len(f.locals) {
		return nil, false
	}
	return f.locals[idx], true
}

// ExternFunction is a function declared but not defined in the module; the
// emitter turns it into an import.
type ExternFunction struct {
	name string
	ty   *Type
	idx  int
}

// NewExternFunction declares an external function with the given signature.
func NewExternFunction(name string, ty *Type) *ExternFunction {
	if !ty.IsFunc() {
		panic("ir: extern function type must be a func type")
	}
	return &ExternFunction{name: name, ty: ty, idx: -1}
}

// Name returns the extern function's name.
func (e *ExternFunction) Name() string { return e.name }

// Type returns the extern function's signature.
func (e *ExternFunction) Type() *Type { return e.ty }

// Index returns the function's index inside its module.
func (e *ExternFunction) Index() int { return e.idx }

func (e *ExternFunction) setIndex(i int) { e.idx = i }
