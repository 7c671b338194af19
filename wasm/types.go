package wasm

// Module represents a WebAssembly module as a plain collection of sections.
// Empty sections are skipped during encoding.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// FuncNames populates the function-names subsection of the "name"
	// custom section, emitted after all standard sections.
	FuncNames []FuncName
}

// FuncName associates a function index with its debug name.
type FuncName struct {
	Name string
	Idx  uint32
}

// FuncType represents a function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two function types have identical signatures.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i, p := range ft.Params {
		if other.Params[i] != p {
			return false
		}
	}
	for i, r := range ft.Results {
		if other.Results[i] != r {
			return false
		}
	}
	return true
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValF32, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	default:
		return "unknown"
	}
}

// Import represents a function import. Only function imports are modelled;
// the emitter never imports tables, memories or globals.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// TableType describes a table's element type and limits.
type TableType struct {
	Elem ValType
	Min  uint32
	Max  *uint32
}

// MemoryType describes a linear memory's limits in 64KiB pages.
type MemoryType struct {
	Min uint32
	Max *uint32
}

// Global pairs a global's type with its init expression (constant
// instructions without the trailing End).
type Global struct {
	Type    ValType
	Mutable bool
	Init    []Instruction
}

// Export represents an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an active element segment initializing a funcref table with
// function indices starting at a constant offset.
type Element struct {
	TableIdx uint32
	Offset   int32 // i32.const operand of the offset expression
	FuncIdxs []uint32
}

// FuncBody is a code-section entry: the function's additional locals
// (argument locals are implicit) and its instruction sequence. The encoder
// compresses locals into runs and appends the terminating End.
type FuncBody struct {
	Locals []ValType
	Body   []Instruction
}

// DataSegment is an active data segment placed at a constant offset in
// memory 0.
type DataSegment struct {
	Offset int32 // i32.const operand of the offset expression
	Init   []byte
}
