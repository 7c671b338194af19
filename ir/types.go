package ir

import (
	"strings"
	"sync"

	"github.com/dolthub/swiss"
)

// TypeKind discriminates the variants of Type.
type TypeKind uint8

const (
	KindInt8 TypeKind = iota
	KindUInt8
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindFloat32
	KindPtr
	KindFunc
	KindStruct
)

// Type is a structural type. Types are interned per module: two structurally
// equal types are the same pointer, so equality is pointer comparison.
// A Type is immutable for the lifetime of its module.
type Type struct {
	args   []*Type
	rets   []*Type
	fields []*Type
	kind   TypeKind
}

// Kind returns the type's variant.
func (t *Type) Kind() TypeKind { return t.kind }

// IsInt reports whether the type is one of the six integer scalars.
func (t *Type) IsInt() bool {
	return t.kind <= KindUInt32
}

// IsFloat reports whether the type is the float scalar.
func (t *Type) IsFloat() bool { return t.kind == KindFloat32 }

// IsPtr reports whether the type is the opaque pointer type.
func (t *Type) IsPtr() bool { return t.kind == KindPtr }

// IsFunc reports whether the type is a function type.
func (t *Type) IsFunc() bool { return t.kind == KindFunc }

// IsStruct reports whether the type is a struct type.
func (t *Type) IsStruct() bool { return t.kind == KindStruct }

// Args returns a function type's parameter sequence.
func (t *Type) Args() []*Type { return t.args }

// Rets returns a function type's return sequence.
func (t *Type) Rets() []*Type { return t.rets }

// Fields returns a struct type's field sequence.
func (t *Type) Fields() []*Type { return t.fields }

func (t *Type) String() string {
	var b strings.Builder
	t.print(&b)
	return b.String()
}

func (t *Type) print(b *strings.Builder) {
	switch t.kind {
	case KindInt8:
		b.WriteString("int8")
	case KindUInt8:
		b.WriteString("uint8")
	case KindInt16:
		b.WriteString("int16")
	case KindUInt16:
		b.WriteString("uint16")
	case KindInt32:
		b.WriteString("int32")
	case KindUInt32:
		b.WriteString("uint32")
	case KindFloat32:
		b.WriteString("float32")
	case KindPtr:
		b.WriteString("ptr")
	case KindFunc:
		b.WriteByte('(')
		for i, a := range t.args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.print(b)
		}
		b.WriteString(") -> ")
		switch len(t.rets) {
		case 0:
			b.WriteString("()")
		case 1:
			t.rets[0].print(b)
		default:
			b.WriteByte('(')
			for i, r := range t.rets {
				if i > 0 {
					b.WriteString(", ")
				}
				r.print(b)
			}
			b.WriteByte(')')
		}
	case KindStruct:
		b.WriteString("struct{")
		for i, f := range t.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			f.print(b)
		}
		b.WriteByte('}')
	}
}

// key returns the canonical structural key used for interning. Child types
// are already interned, so recursion terminates on primitives.
func (t *Type) key() string {
	var b strings.Builder
	t.writeKey(&b)
	return b.String()
}

func (t *Type) writeKey(b *strings.Builder) {
	switch t.kind {
	case KindFunc:
		b.WriteByte('f')
		b.WriteByte('(')
		for _, a := range t.args {
			a.writeKey(b)
		}
		b.WriteByte(';')
		for _, r := range t.rets {
			r.writeKey(b)
		}
		b.WriteByte(')')
	case KindStruct:
		b.WriteByte('s')
		b.WriteByte('(')
		for _, f := range t.fields {
			f.writeKey(b)
		}
		b.WriteByte(')')
	default:
		b.WriteByte('0' + byte(t.kind))
	}
}

// interner hash-conses types. It is safe to intern while other references
// into the same module are held; a write-lock guards insertion so the module
// can hand out *Type values freely.
type interner struct {
	m       *swiss.Map[string, *Type]
	ordered []*Type
	mu      sync.Mutex
}

func newInterner() *interner {
	return &interner{m: swiss.NewMap[string, *Type](16)}
}

func (in *interner) intern(t Type) *Type {
	key := t.key()

	in.mu.Lock()
	defer in.mu.Unlock()

	if existing, ok := in.m.Get(key); ok {
		return existing
	}
	stored := new(Type)
	*stored = t
	in.m.Put(key, stored)
	in.ordered = append(in.ordered, stored)
	return stored
}

// forEach visits all interned types in insertion order.
func (in *interner) forEach(fn func(*Type)) {
	in.mu.Lock()
	snapshot := in.ordered
	in.mu.Unlock()
	for _, t := range snapshot {
		fn(t)
	}
}
