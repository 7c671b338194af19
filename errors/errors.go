package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the pipeline the error occurred
type Phase string

const (
	PhaseBuild    Phase = "build"    // module construction
	PhaseCFVerify Phase = "cfverify" // control-flow verification
	PhaseVerify   Phase = "verify"   // stack/type verification
	PhaseRewrite  Phase = "rewrite"  // instruction rewriting
	PhaseEmit     Phase = "emit"     // bytecode emission
	PhaseParse    Phase = "parse"    // textual IR parsing
)

// Kind categorizes the error
type Kind string

const (
	KindStackUnderflow          Kind = "stack_underflow"
	KindInvalidType             Kind = "invalid_type"
	KindUndefinedFunction       Kind = "undefined_function"
	KindOutOfBoundsLocal        Kind = "out_of_bounds_local"
	KindInvalidTypeCallIndirect Kind = "invalid_type_call_indirect"
	KindInvalidBlockType        Kind = "invalid_block_type"
	KindInvalidBlockID          Kind = "invalid_block_id"
	KindUnexpectedStructType    Kind = "unexpected_struct_type"
	KindGetFieldPtrNonStruct    Kind = "get_field_ptr_expected_struct"
	KindOutOfBoundsStructIndex  Kind = "out_of_bounds_struct_index"
	KindUndefinedGlobal         Kind = "undefined_global"
	KindIntegerSizeMismatch     Kind = "integer_size_mismatch"
	KindConstIntOverflow        Kind = "const_int_overflow"
	KindArgumentStore           Kind = "argument_store"
	KindBreakOutsideLoop        Kind = "break_outside_loop"

	KindMultipleParents Kind = "multiple_parents"
	KindInvalidBlockTag Kind = "invalid_block_tag"

	KindOverlappingRanges Kind = "overlapping_ranges"

	KindDuplicateName    Kind = "duplicate_name"
	KindExternAfterLocal Kind = "extern_after_local"

	KindUnexpectedToken Kind = "unexpected_token"
	KindUnexpectedEOF   Kind = "unexpected_eof"
	KindMalformedInput  Kind = "malformed_input"
)

// Error is the structured error type used by every pass and the emitter.
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Func     string
	Expected string
	Actual   string
	Detail   string
	Block    int // -1 when not attached to a block
	Instr    int // -1 when not attached to an instruction
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Func != "" {
		fmt.Fprintf(&b, " in %q", e.Func)
	}
	if e.Block >= 0 {
		fmt.Fprintf(&b, " b%d", e.Block)
	}
	if e.Instr >= 0 {
		fmt.Fprintf(&b, " #%d", e.Instr)
	}

	if e.Expected != "" || e.Actual != "" {
		b.WriteString(": expected ")
		b.WriteString(e.Expected)
		b.WriteString(", got ")
		b.WriteString(e.Actual)
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two errors match when their
// phase and kind are equal, which is what tests and callers key on.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
			Block: -1,
			Instr: -1,
		},
	}
}

// Func sets the function name the error points at
func (b *Builder) Func(name string) *Builder {
	b.err.Func = name
	return b
}

// Block sets the block id the error points at
func (b *Builder) Block(id int) *Builder {
	b.err.Block = id
	return b
}

// Instr sets the instruction index the error points at
func (b *Builder) Instr(i int) *Builder {
	b.err.Instr = i
	return b
}

// Expected sets the expected type (or type sequence) rendering
func (b *Builder) Expected(s string) *Builder {
	b.err.Expected = s
	return b
}

// Actual sets the actual type (or type sequence) rendering
func (b *Builder) Actual(s string) *Builder {
	b.err.Actual = s
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Match returns a probe error for use with the standard errors.Is: it matches
// any *Error with the given phase and kind.
func Match(phase Phase, kind Kind) *Error {
	return &Error{Phase: phase, Kind: kind, Block: -1, Instr: -1}
}
