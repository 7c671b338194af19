package irtext

import (
	"math"
	"strconv"
	"strings"

	"github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
)

// Parser reads textual IR into an ir.Module. Types mentioned in the source
// are interned into the module as they are parsed.
type Parser struct {
	m   *ir.Module
	sc  *scanner
	tok token
}

// NewParser creates a parser over the given source, targeting the module.
func NewParser(m *ir.Module, src string) (*Parser, error) {
	p := &Parser{m: m, sc: newScanner(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseModule parses source containing any number of global, extern
// function and function declarations into the module. The forms accepted
// here are exactly the ones PrintModule renders, so the two round-trip.
func ParseModule(m *ir.Module, src string) error {
	p, err := NewParser(m, src)
	if err != nil {
		return err
	}
	for p.tok.kind != tokEOF {
		switch {
		case p.peekIdent("global"):
			if err := p.parseGlobal(); err != nil {
				return err
			}
		case p.peekIdent("extern"):
			if err := p.parseExtern(); err != nil {
				return err
			}
		default:
			f, err := p.ParseFunction()
			if err != nil {
				return err
			}
			if err := m.AddFunction(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseGlobal reads a global declaration:
//
//	global "<name>" int32 = <int>
//	global "<name>" float32 = <float>
func (p *Parser) parseGlobal() error {
	if err := p.expectWord("global"); err != nil {
		return err
	}
	name, err := p.expect(tokString)
	if err != nil {
		return err
	}
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	if _, err := p.expect(tokEquals); err != nil {
		return err
	}
	switch ty {
	case p.m.Int32T():
		v, err := p.parseIntImm()
		if err != nil {
			return err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return errors.New(errors.PhaseParse, errors.KindMalformedInput).
				Detail("global %q initializer %d does not fit in int32", name, v).
				Build()
		}
		return p.m.NewIntGlobal(name, int32(v))
	case p.m.Float32T():
		v, err := p.parseFloatImm()
		if err != nil {
			return err
		}
		return p.m.NewFloatGlobal(name, v)
	default:
		return errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("global %q must be int32 or float32, got %s", name, ty).
			Build()
	}
}

// parseExtern reads an extern function declaration:
//
//	extern func "<name>" (<argTypes>) -> <retTypes>
func (p *Parser) parseExtern() error {
	if err := p.expectWord("extern"); err != nil {
		return err
	}
	if err := p.expectWord("func"); err != nil {
		return err
	}
	name, err := p.expect(tokString)
	if err != nil {
		return err
	}
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	if !ty.IsFunc() {
		return errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("extern function %q must declare a function type, got %s", name, ty).
			Build()
	}
	return p.m.AddExternFunction(ir.NewExternFunction(name, ty))
}

func (p *Parser) advance() error {
	t, err := p.sc.next()
	if err != nil {
		return errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Cause(err).
			Build()
	}
	p.tok = t
	return nil
}

func (p *Parser) errUnexpected(expected string) error {
	kind := errors.KindUnexpectedToken
	if p.tok.kind == tokEOF {
		kind = errors.KindUnexpectedEOF
	}
	return errors.New(errors.PhaseParse, kind).
		Detail("line %d: expected %s, got %s %q", p.tok.line, expected, p.tok.kind, p.tok.text).
		Build()
}

// expect consumes a token of the given kind and returns its text.
func (p *Parser) expect(kind tokenKind) (string, error) {
	if p.tok.kind == tokEOF && kind != tokEOF {
		return "", errors.New(errors.PhaseParse, errors.KindUnexpectedEOF).
			Detail("line %d: expected %s", p.tok.line, kind).
			Build()
	}
	if p.tok.kind != kind {
		return "", p.errUnexpected(kind.String())
	}
	text := p.tok.text
	return text, p.advance()
}

// expectWord consumes an identifier with the exact given text.
func (p *Parser) expectWord(word string) error {
	got, err := p.expect(tokIdent)
	if err != nil {
		return err
	}
	if got != word {
		return errors.New(errors.PhaseParse, errors.KindUnexpectedToken).
			Detail("line %d: expected %q, got %q", p.tok.line, word, got).
			Build()
	}
	return nil
}

func (p *Parser) peekIdent(word string) bool {
	return p.tok.kind == tokIdent && p.tok.text == word
}

// ParseFunction parses one function declaration:
//
//	func "<name>" (<argTypes>) -> <retTypes> { locals: #0 <ty> ... <blocks> }
func (p *Parser) ParseFunction() (*ir.Function, error) {
	if err := p.expectWord("func"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokString)
	if err != nil {
		return nil, err
	}
	fnTy, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if !fnTy.IsFunc() {
		return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("function %q must declare a function type, got %s", name, fnTy).
			Build()
	}

	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	if err := p.expectWord("locals"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return nil, err
	}

	var locals []*ir.Type
	for p.tok.kind == tokHash {
		if err := p.advance(); err != nil {
			return nil, err
		}
		idxText, err := p.expect(tokInt)
		if err != nil {
			return nil, err
		}
		idx, _ := strconv.Atoi(idxText)
		ty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if idx != len(locals) {
			return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
				Detail("local #%d declared out of order in %q", idx, name).
				Build()
		}
		locals = append(locals, ty)
	}

	args := fnTy.Args()
	if len(locals) < len(args) {
		return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("function %q declares %d locals but has %d arguments", name, len(locals), len(args)).
			Build()
	}
	for i, at := range args {
		if locals[i] != at {
			return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
				Detail("local #%d of %q must have the argument type %s, got %s", i, name, at, locals[i]).
				Build()
		}
	}

	blocks := make(map[ir.BlockID]*ir.Block)
	for p.tok.kind != tokRBrace {
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		if _, dup := blocks[b.ID]; dup {
			return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
				Detail("block b%d declared twice in %q", b.ID, name).
				Build()
		}
		blocks[b.ID] = b
	}
	if err := p.advance(); err != nil { // consume '}'
		return nil, err
	}

	if _, ok := blocks[0]; !ok {
		return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("function %q has no entry block b0", name).
			Build()
	}

	return ir.NewFunction(name, fnTy, blocks, locals), nil
}

// parseBlockID reads an identifier of the form b<N>.
func (p *Parser) parseBlockID() (ir.BlockID, error) {
	text, err := p.expect(tokIdent)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(text, "b") {
		return 0, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("expected a block id like b0, got %q", text).
			Build()
	}
	n, err := strconv.Atoi(text[1:])
	if err != nil || n < 0 {
		return 0, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("expected a block id like b0, got %q", text).
			Build()
	}
	return ir.BlockID(n), nil
}

func isBlockHeader(text string) bool {
	if len(text) < 2 || text[0] != 'b' {
		return false
	}
	for _, r := range text[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseBlock reads a block header and its instructions. A block extends to
// the next block header, the closing brace, or end of input.
func (p *Parser) parseBlock() (*ir.Block, error) {
	id, err := p.parseBlockID()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return nil, err
	}
	blockTy, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if !blockTy.IsFunc() || len(blockTy.Args()) != 0 {
		return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("block b%d must have a function type with no arguments, got %s", id, blockTy).
			Build()
	}

	if err := p.expectWord("tag"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEquals); err != nil {
		return nil, err
	}
	tagText, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	var tag ir.BlockTag
	switch tagText {
	case "undefined":
		tag = ir.TagUndefined
	case "main":
		tag = ir.TagMain
	case "if_else":
		tag = ir.TagIfElse
	case "loop":
		tag = ir.TagLoop
	default:
		return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Detail("unknown block tag %q", tagText).
			Build()
	}

	b := &ir.Block{ID: id, Tag: tag, Returns: blockTy.Rets()}
	for {
		if p.tok.kind == tokRBrace || p.tok.kind == tokEOF {
			break
		}
		if p.tok.kind == tokIdent && isBlockHeader(p.tok.text) {
			break
		}
		instr, err := p.parseInstr()
		if err != nil {
			return nil, err
		}
		b.Add(instr)
	}
	return b, nil
}

func (p *Parser) parseIntImm() (int64, error) {
	text, err := p.expect(tokInt)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Cause(err).
			Detail("integer literal %q", text).
			Build()
	}
	return v, nil
}

func (p *Parser) parseFloatImm() (float32, error) {
	text, err := p.expect(tokFloat)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Cause(err).
			Detail("float literal %q", text).
			Build()
	}
	return float32(f), nil
}

func (p *Parser) parseLocalIdx() (int, error) {
	if _, err := p.expect(tokHash); err != nil {
		return 0, err
	}
	text, err := p.expect(tokInt)
	if err != nil {
		return 0, err
	}
	idx, _ := strconv.Atoi(text)
	return idx, nil
}

var cmpByName = map[string]ir.Cmp{
	"eq": ir.CmpEq, "ne": ir.CmpNe,
	"lt": ir.CmpLt, "le": ir.CmpLe,
	"gt": ir.CmpGt, "ge": ir.CmpGe,
}

func (p *Parser) parseInstr() (ir.Instr, error) {
	var none ir.Instr
	mnemonic, err := p.expect(tokIdent)
	if err != nil {
		return none, err
	}

	// constant loads: ld.<int type> N, ld.float F
	if ty, ok := p.intTypeByName(strings.TrimPrefix(mnemonic, "ld.")); ok && strings.HasPrefix(mnemonic, "ld.") {
		v, err := p.parseIntImm()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpLdInt, ir.IntImm{Value: v, Ty: ty}), nil
	}

	if cmp, ok := cmpByName[strings.TrimPrefix(mnemonic, "icmp.")]; ok && strings.HasPrefix(mnemonic, "icmp.") {
		return ir.NewInstr(ir.OpICmp, ir.CmpImm{Cmp: cmp}), nil
	}
	if cmp, ok := cmpByName[strings.TrimPrefix(mnemonic, "fcmp.")]; ok && strings.HasPrefix(mnemonic, "fcmp.") {
		return ir.NewInstr(ir.OpFCmp, ir.CmpImm{Cmp: cmp}), nil
	}

	switch mnemonic {
	case "ld.float":
		f, err := p.parseFloatImm()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpLdFloat, ir.FloatImm{Value: f}), nil

	case "iadd":
		return ir.NewInstr(ir.OpIAdd, nil), nil
	case "isub":
		return ir.NewInstr(ir.OpISub, nil), nil
	case "imul":
		return ir.NewInstr(ir.OpIMul, nil), nil
	case "idiv":
		return ir.NewInstr(ir.OpIDiv, nil), nil
	case "fadd":
		return ir.NewInstr(ir.OpFAdd, nil), nil
	case "fsub":
		return ir.NewInstr(ir.OpFSub, nil), nil
	case "fmul":
		return ir.NewInstr(ir.OpFMul, nil), nil
	case "fdiv":
		return ir.NewInstr(ir.OpFDiv, nil), nil
	case "itof":
		return ir.NewInstr(ir.OpItof, nil), nil
	case "not":
		return ir.NewInstr(ir.OpNot, nil), nil
	case "bitand":
		return ir.NewInstr(ir.OpBitAnd, nil), nil
	case "bitor":
		return ir.NewInstr(ir.OpBitOr, nil), nil

	case "ftoi":
		ty, err := p.parseToType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpFtoi, ir.TypeImm{Ty: ty}), nil
	case "iconv":
		ty, err := p.parseToType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpIConv, ir.TypeImm{Ty: ty}), nil
	case "bitcast":
		ty, err := p.parseToType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpBitcast, ir.TypeImm{Ty: ty}), nil

	case "call":
		if p.peekIdent("indirect") {
			if err := p.advance(); err != nil {
				return none, err
			}
			return ir.NewInstr(ir.OpCallIndirect, nil), nil
		}
		name, err := p.expect(tokString)
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpCallDirect, ir.CallImm{Name: name}), nil

	case "ld_glob_func":
		name, err := p.expect(tokString)
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpLdGlobalFunc, ir.CallImm{Name: name}), nil

	case "ld.loc":
		idx, err := p.parseLocalIdx()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpLdLocal, ir.LocalImm{Idx: idx}), nil
	case "st.loc":
		idx, err := p.parseLocalIdx()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpStLocal, ir.LocalImm{Idx: idx}), nil

	case "ld.global":
		name, err := p.expect(tokString)
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpLdGlobal, ir.GlobalImm{Name: name}), nil
	case "st.global":
		name, err := p.expect(tokString)
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpStGlobal, ir.GlobalImm{Name: name}), nil

	case "if":
		if err := p.expectWord("then"); err != nil {
			return none, err
		}
		then, err := p.parseBlockID()
		if err != nil {
			return none, err
		}
		if p.peekIdent("else") {
			if err := p.advance(); err != nil {
				return none, err
			}
			els, err := p.parseBlockID()
			if err != nil {
				return none, err
			}
			return ir.NewInstr(ir.OpIfElse, ir.IfElseImm{Then: then, Else: els, HasElse: true}), nil
		}
		return ir.NewInstr(ir.OpIfElse, ir.IfElseImm{Then: then}), nil

	case "loop":
		body, err := p.parseBlockID()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpLoop, ir.LoopImm{Body: body}), nil

	case "break":
		return ir.NewInstr(ir.OpBreak, nil), nil
	case "return":
		return ir.NewInstr(ir.OpReturn, nil), nil
	case "fail":
		return ir.NewInstr(ir.OpFail, nil), nil

	case "read":
		ty, err := p.parseType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpRead, ir.TypeImm{Ty: ty}), nil
	case "write":
		ty, err := p.parseType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpWrite, ir.TypeImm{Ty: ty}), nil
	case "offset":
		ty, err := p.parseType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpOffset, ir.TypeImm{Ty: ty}), nil

	case "get_field_ptr":
		idx, err := p.parseIntImm()
		if err != nil {
			return none, err
		}
		ty, err := p.parseType()
		if err != nil {
			return none, err
		}
		return ir.NewInstr(ir.OpGetFieldPtr, ir.FieldImm{Struct: ty, Field: int(idx)}), nil

	case "ld_static_mem_ptr":
		n, err := p.parseIntImm()
		if err != nil {
			return none, err
		}
		if n < 0 {
			return none, errors.New(errors.PhaseParse, errors.KindMalformedInput).
				Detail("static memory handle %d must not be negative", n).
				Build()
		}
		return ir.NewInstr(ir.OpLdStaticMemPtr, ir.StaticMemImm{Handle: ir.SMHandle(n)}), nil

	case "memory.size":
		return ir.NewInstr(ir.OpMemorySize, nil), nil
	case "memory.grow":
		return ir.NewInstr(ir.OpMemoryGrow, nil), nil
	case "discard":
		return ir.NewInstr(ir.OpDiscard, nil), nil
	}

	return none, errors.New(errors.PhaseParse, errors.KindMalformedInput).
		Detail("unknown instruction %q", mnemonic).
		Build()
}

// parseToType reads the "to <type>" suffix of conversion instructions.
func (p *Parser) parseToType() (*ir.Type, error) {
	if err := p.expectWord("to"); err != nil {
		return nil, err
	}
	return p.parseType()
}

func (p *Parser) intTypeByName(name string) (*ir.Type, bool) {
	switch name {
	case "int8":
		return p.m.Int8T(), true
	case "uint8":
		return p.m.UInt8T(), true
	case "int16":
		return p.m.Int16T(), true
	case "uint16":
		return p.m.UInt16T(), true
	case "int32":
		return p.m.Int32T(), true
	case "uint32":
		return p.m.UInt32T(), true
	default:
		return nil, false
	}
}

// parseType reads a type: a primitive name, a struct{...}, or a function
// type (args) -> ret | (rets).
func (p *Parser) parseType() (*ir.Type, error) {
	switch p.tok.kind {
	case tokIdent:
		name := p.tok.text
		if ty, ok := p.intTypeByName(name); ok {
			return ty, p.advance()
		}
		switch name {
		case "float32":
			return p.m.Float32T(), p.advance()
		case "ptr":
			return p.m.PtrT(), p.advance()
		case "struct":
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(tokLBrace); err != nil {
				return nil, err
			}
			var fields []*ir.Type
			for p.tok.kind != tokRBrace {
				f, err := p.parseType()
				if err != nil {
					return nil, err
				}
				fields = append(fields, f)
				if p.tok.kind == tokComma {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
			}
			if err := p.advance(); err != nil { // '}'
				return nil, err
			}
			return p.m.StructT(fields), nil
		}
		return nil, p.errUnexpected("a type")

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []*ir.Type
		for p.tok.kind != tokRParen {
			a, err := p.parseType()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.tok.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if err := p.advance(); err != nil { // ')'
			return nil, err
		}
		if _, err := p.expect(tokArrow); err != nil {
			return nil, err
		}

		// either a parenthesized return list (possibly empty) or one
		// bare return type
		var rets []*ir.Type
		if p.tok.kind == tokLParen {
			if err := p.advance(); err != nil {
				return nil, err
			}
			for p.tok.kind != tokRParen {
				r, err := p.parseType()
				if err != nil {
					return nil, err
				}
				rets = append(rets, r)
				if p.tok.kind == tokComma {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
			}
			if err := p.advance(); err != nil { // ')'
				return nil, err
			}
		} else {
			r, err := p.parseType()
			if err != nil {
				return nil, err
			}
			rets = append(rets, r)
		}
		return p.m.FuncT(args, rets), nil
	}

	return nil, p.errUnexpected("a type")
}
