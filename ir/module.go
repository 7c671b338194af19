package ir

import (
	"github.com/IQBigBang/swarm-ir/errors"
)

// ModuleConf is the target configuration of a module.
type ModuleConf struct {
	// InitialMemoryPages is the initial linear memory size in 64KiB pages.
	InitialMemoryPages uint32
	// SaturatingFtoi selects saturating instead of trapping float-to-int
	// conversion lowering.
	SaturatingFtoi bool
}

// DefaultModuleConf returns the default target configuration.
func DefaultModuleConf() ModuleConf {
	return ModuleConf{InitialMemoryPages: 1}
}

// Module owns the type interner, the functions, the globals and the static
// memory. Functions and globals keep their insertion order; all externs
// must be added before any local function.
type Module struct {
	Conf ModuleConf

	types     *interner
	prims     [KindPtr + 1]*Type
	funcs     []FuncDef
	funcIdx   map[string]int
	locals    int
	globals   []*Global
	globalIdx map[string]int
	staticMem StaticMemory
}

// NewModule creates an empty module with the given target configuration.
// All primitive types are pre-interned.
func NewModule(conf ModuleConf) *Module {
	m := &Module{
		Conf:      conf,
		types:     newInterner(),
		funcIdx:   make(map[string]int),
		globalIdx: make(map[string]int),
	}
	for k := KindInt8; k <= KindPtr; k++ {
		m.prims[k] = m.types.intern(Type{kind: k})
	}
	return m
}

// Int8T returns the interned int8 type.
func (m *Module) Int8T() *Type { return m.prims[KindInt8] }

// UInt8T returns the interned uint8 type.
func (m *Module) UInt8T() *Type { return m.prims[KindUInt8] }

// Int16T returns the interned int16 type.
func (m *Module) Int16T() *Type { return m.prims[KindInt16] }

// UInt16T returns the interned uint16 type.
func (m *Module) UInt16T() *Type { return m.prims[KindUInt16] }

// Int32T returns the interned int32 type.
func (m *Module) Int32T() *Type { return m.prims[KindInt32] }

// UInt32T returns the interned uint32 type.
func (m *Module) UInt32T() *Type { return m.prims[KindUInt32] }

// Float32T returns the interned float32 type.
func (m *Module) Float32T() *Type { return m.prims[KindFloat32] }

// PtrT returns the interned pointer type.
func (m *Module) PtrT() *Type { return m.prims[KindPtr] }

// FuncT interns a function type with the given argument and return
// sequences.
func (m *Module) FuncT(args, rets []*Type) *Type {
	return m.types.intern(Type{kind: KindFunc, args: args, rets: rets})
}

// StructT interns a struct type with the given ordered field types.
func (m *Module) StructT(fields []*Type) *Type {
	return m.types.intern(Type{kind: KindStruct, fields: fields})
}

// ForEachType visits every interned type in insertion order.
func (m *Module) ForEachType(fn func(*Type)) {
	m.types.forEach(fn)
}

// AddFunction adds a local function; its index becomes the insertion
// ordinal.
func (m *Module) AddFunction(f *Function) error {
	if _, exists := m.funcIdx[f.Name()]; exists {
		return errors.New(errors.PhaseBuild, errors.KindDuplicateName).
			Detail("function %q already defined", f.Name()).
			Build()
	}
	f.setIndex(len(m.funcs))
	m.funcIdx[f.Name()] = len(m.funcs)
	m.funcs = append(m.funcs, f)
	m.locals++
	return nil
}

// AddExternFunction declares an external function. All externs must precede
// all local functions; adding one after a local is rejected.
func (m *Module) AddExternFunction(e *ExternFunction) error {
	if m.locals > 0 {
		return errors.New(errors.PhaseBuild, errors.KindExternAfterLocal).
			Detail("extern function %q added after a local function", e.Name()).
			Build()
	}
	if _, exists := m.funcIdx[e.Name()]; exists {
		return errors.New(errors.PhaseBuild, errors.KindDuplicateName).
			Detail("function %q already defined", e.Name()).
			Build()
	}
	e.setIndex(len(m.funcs))
	m.funcIdx[e.Name()] = len(m.funcs)
	m.funcs = append(m.funcs, e)
	return nil
}

// GetFunction looks a function up by name.
func (m *Module) GetFunction(name string) (FuncDef, bool) {
	i, ok := m.funcIdx[name]
	if !ok {
		return nil, false
	}
	return m.funcs[i], true
}

// FunctionByIndex returns the function with the given module index.
func (m *Module) FunctionByIndex(i int) FuncDef {
	return m.funcs[i]
}

// FunctionCount returns the number of functions, externs included.
func (m *Module) FunctionCount() int { return len(m.funcs) }

// Functions returns the functions in insertion order (externs first).
func (m *Module) Functions() []FuncDef { return m.funcs }

// NewIntGlobal creates an int32 global with the given initial value.
func (m *Module) NewIntGlobal(name string, value int32) error {
	return m.addGlobal(&Global{name: name, ty: m.Int32T(), intVal: value})
}

// NewFloatGlobal creates a float32 global with the given initial value.
func (m *Module) NewFloatGlobal(name string, value float32) error {
	return m.addGlobal(&Global{name: name, ty: m.Float32T(), floatVal: value})
}

func (m *Module) addGlobal(g *Global) error {
	if _, exists := m.globalIdx[g.name]; exists {
		return errors.New(errors.PhaseBuild, errors.KindDuplicateName).
			Detail("global %q already defined", g.name).
			Build()
	}
	g.idx = len(m.globals)
	m.globalIdx[g.name] = g.idx
	m.globals = append(m.globals, g)
	return nil
}

// GetGlobal looks a global up by name.
func (m *Module) GetGlobal(name string) (*Global, bool) {
	i, ok := m.globalIdx[name]
	if !ok {
		return nil, false
	}
	return m.globals[i], true
}

// Globals returns the globals in insertion order.
func (m *Module) Globals() []*Global { return m.globals }

// AddStaticMemItem appends an item to the module's static memory and
// returns its handle.
func (m *Module) AddStaticMemItem(v SMValue, mut Mutability, unique bool) SMHandle {
	return m.staticMem.AddItem(SMItem{Value: v, Mut: mut, Unique: unique})
}

// StaticMem returns the module's static-memory region.
func (m *Module) StaticMem() *StaticMemory {
	return &m.staticMem
}
