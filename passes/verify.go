package passes

import (
	"strings"

	"go.uber.org/zap"

	"github.com/IQBigBang/swarm-ir/errors"
	"github.com/IQBigBang/swarm-ir/ir"
)

// Verifier symbolically executes every block's instruction sequence from an
// empty operand stack, enforcing the per-instruction type constraints and
// the block's declared return sequence at block exit.
//
// Along the way it resolves information later stages need and stages it
// for attachment: the callee signature of indirect calls, the source type
// of bitcasts, and the width/sign descriptor of numeric instructions that
// don't carry an explicit integer type.
type Verifier struct{}

// NewVerifier returns the stack/type verifier pass.
func NewVerifier() *Verifier { return &Verifier{} }

// Name implements the pass interface.
func (*Verifier) Name() string { return "verify" }

// attachment is the metadata staged for one instruction.
type attachment struct {
	ty     *ir.Type
	from   *ir.Type
	bws    ir.BitWidthSign
	hasBWS bool
}

type verifyInfo struct {
	attachments map[ir.BlockID]map[int]attachment
}

func typesString(types []*ir.Type) string {
	if len(types) == 0 {
		return "()"
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (v *Verifier) VisitFunction(m *ir.Module, f *ir.Function) (verifyInfo, error) {
	// Struct-typed values never flow: not as arguments, returns or locals.
	for _, t := range f.ArgTypes() {
		if t.IsStruct() {
			return verifyInfo{}, structErr(f, -1, -1, "function argument")
		}
	}
	for _, t := range f.RetTypes() {
		if t.IsStruct() {
			return verifyInfo{}, structErr(f, -1, -1, "function return")
		}
	}
	for _, t := range f.Locals() {
		if t.IsStruct() {
			return verifyInfo{}, structErr(f, -1, -1, "local variable")
		}
	}

	info := verifyInfo{attachments: make(map[ir.BlockID]map[int]attachment)}

	var blockErr error
	f.ForEachBlock(func(b *ir.Block) {
		if blockErr != nil {
			return
		}
		blockErr = v.verifyBlock(m, f, b, &info)
	})
	if blockErr != nil {
		return verifyInfo{}, blockErr
	}
	return info, nil
}

func (v *Verifier) verifyBlock(m *ir.Module, f *ir.Function, b *ir.Block, info *verifyInfo) error {
	for _, t := range b.Returns {
		if t.IsStruct() {
			return structErr(f, int(b.ID), -1, "block return")
		}
	}

	bv := &blockVerifier{m: m, f: f, b: b}
	for i := range b.Body {
		terminated, err := bv.step(i, &b.Body[i])
		if err != nil {
			return err
		}
		if terminated {
			// anything after a diverging instruction is dead; the
			// correction pass removed it, but stay defensive
			if len(bv.attach) > 0 {
				info.attachments[b.ID] = bv.attach
			}
			return nil
		}
	}

	// At block exit the stack must hold exactly the declared returns.
	if !typesEqual(bv.stack, b.Returns) {
		return errors.New(errors.PhaseVerify, errors.KindInvalidBlockType).
			Func(f.Name()).Block(int(b.ID)).
			Expected(typesString(b.Returns)).Actual(typesString(bv.stack)).
			Detail("operand stack at block exit").
			Build()
	}
	if len(bv.attach) > 0 {
		info.attachments[b.ID] = bv.attach
	}
	return nil
}

func typesEqual(a, b []*ir.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func structErr(f *ir.Function, block, instr int, where string) error {
	return errors.New(errors.PhaseVerify, errors.KindUnexpectedStructType).
		Func(f.Name()).Block(block).Instr(instr).
		Detail(where).
		Build()
}

// blockVerifier holds the symbolic stack for one block.
type blockVerifier struct {
	m      *ir.Module
	f      *ir.Function
	b      *ir.Block
	stack  []*ir.Type
	attach map[int]attachment
}

func (bv *blockVerifier) push(t *ir.Type) {
	bv.stack = append(bv.stack, t)
}

func (bv *blockVerifier) pop(i int) (*ir.Type, error) {
	if len(bv.stack) == 0 {
		return nil, errors.New(errors.PhaseVerify, errors.KindStackUnderflow).
			Func(bv.f.Name()).Block(int(bv.b.ID)).Instr(i).
			Build()
	}
	t := bv.stack[len(bv.stack)-1]
	bv.stack = bv.stack[:len(bv.stack)-1]
	return t, nil
}

func (bv *blockVerifier) invalidType(i int, expected, actual *ir.Type, reason string) error {
	return errors.New(errors.PhaseVerify, errors.KindInvalidType).
		Func(bv.f.Name()).Block(int(bv.b.ID)).Instr(i).
		Expected(expected.String()).Actual(actual.String()).
		Detail(reason).
		Build()
}

func (bv *blockVerifier) note(i int, a attachment) {
	if bv.attach == nil {
		bv.attach = make(map[int]attachment)
	}
	existing := bv.attach[i]
	if a.ty != nil {
		existing.ty = a.ty
	}
	if a.from != nil {
		existing.from = a.from
	}
	if a.hasBWS {
		existing.bws = a.bws
		existing.hasBWS = true
	}
	bv.attach[i] = existing
}

// popInt pops a value that must be an integer of some width.
func (bv *blockVerifier) popInt(i int, reason string) (*ir.Type, error) {
	t, err := bv.pop(i)
	if err != nil {
		return nil, err
	}
	if !t.IsInt() {
		return nil, bv.invalidType(i, bv.m.Int32T(), t, reason)
	}
	return t, nil
}

// popIntPair pops two integer operands that must share one type.
func (bv *blockVerifier) popIntPair(i int, reason string) (*ir.Type, error) {
	rhs, err := bv.popInt(i, reason)
	if err != nil {
		return nil, err
	}
	lhs, err := bv.popInt(i, reason)
	if err != nil {
		return nil, err
	}
	if lhs != rhs {
		return nil, errors.New(errors.PhaseVerify, errors.KindIntegerSizeMismatch).
			Func(bv.f.Name()).Block(int(bv.b.ID)).Instr(i).
			Expected(lhs.String()).Actual(rhs.String()).
			Detail(reason).
			Build()
	}
	return lhs, nil
}

// popFloatPair pops two float32 operands.
func (bv *blockVerifier) popFloatPair(i int, reason string) error {
	for k := 0; k < 2; k++ {
		t, err := bv.pop(i)
		if err != nil {
			return err
		}
		if !t.IsFloat() {
			return bv.invalidType(i, bv.m.Float32T(), t, reason)
		}
	}
	return nil
}

// popArgs pops a call's arguments, comparing against the signature. The
// last argument is pushed last, so it is popped first.
func (bv *blockVerifier) popArgs(i int, args []*ir.Type, reason string) error {
	for k := len(args) - 1; k >= 0; k-- {
		val, err := bv.pop(i)
		if err != nil {
			return err
		}
		if val != args[k] {
			return bv.invalidType(i, args[k], val, reason)
		}
	}
	return nil
}

func (bv *blockVerifier) noteBWS(i int, t *ir.Type) {
	if bws, ok := ir.TypeBWS(t); ok {
		bv.note(i, attachment{bws: bws, hasBWS: true})
	}
}

// step applies one instruction's transfer function. It returns true when
// the instruction diverges and the rest of the block is dead.
func (bv *blockVerifier) step(i int, instr *ir.Instr) (bool, error) {
	m, f := bv.m, bv.f
	switch instr.Op {
	case ir.OpLdInt:
		imm := instr.Imm.(ir.IntImm)
		min, max, ok := ir.IntTypeRange(imm.Ty)
		if !ok {
			return false, bv.invalidType(i, m.Int32T(), imm.Ty, "ld.int type")
		}
		if imm.Value < min || imm.Value > max {
			return false, errors.New(errors.PhaseVerify, errors.KindConstIntOverflow).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Detail("%d does not fit in %s", imm.Value, imm.Ty).
				Build()
		}
		bv.push(imm.Ty)

	case ir.OpLdFloat:
		bv.push(m.Float32T())

	case ir.OpIAdd, ir.OpISub, ir.OpIMul, ir.OpIDiv:
		t, err := bv.popIntPair(i, "integer arithmetic operand")
		if err != nil {
			return false, err
		}
		bv.noteBWS(i, t)
		bv.push(t)

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		if err := bv.popFloatPair(i, "float arithmetic operand"); err != nil {
			return false, err
		}
		bv.push(m.Float32T())

	case ir.OpItof:
		t, err := bv.popInt(i, "itof operand")
		if err != nil {
			return false, err
		}
		bv.noteBWS(i, t)
		bv.push(m.Float32T())

	case ir.OpFtoi:
		imm := instr.Imm.(ir.TypeImm)
		if !imm.Ty.IsInt() {
			return false, bv.invalidType(i, m.Int32T(), imm.Ty, "ftoi target type")
		}
		t, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !t.IsFloat() {
			return false, bv.invalidType(i, m.Float32T(), t, "ftoi operand")
		}
		bv.push(imm.Ty)

	case ir.OpIConv:
		imm := instr.Imm.(ir.TypeImm)
		if !imm.Ty.IsInt() {
			return false, bv.invalidType(i, m.Int32T(), imm.Ty, "iconv target type")
		}
		t, err := bv.popInt(i, "iconv operand")
		if err != nil {
			return false, err
		}
		bv.noteBWS(i, t)
		bv.push(imm.Ty)

	case ir.OpICmp:
		t, err := bv.popIntPair(i, "integer comparison operand")
		if err != nil {
			return false, err
		}
		bv.noteBWS(i, t)
		bv.push(m.Int32T())

	case ir.OpFCmp:
		if err := bv.popFloatPair(i, "float comparison operand"); err != nil {
			return false, err
		}
		bv.push(m.Int32T())

	case ir.OpNot:
		if _, err := bv.popInt(i, "not operand"); err != nil {
			return false, err
		}
		bv.push(m.Int32T())

	case ir.OpBitAnd, ir.OpBitOr:
		t, err := bv.popIntPair(i, "bitwise operand")
		if err != nil {
			return false, err
		}
		bv.push(t)

	case ir.OpCallDirect:
		imm := instr.Imm.(ir.CallImm)
		callee, ok := m.GetFunction(imm.Name)
		if !ok {
			return false, errors.New(errors.PhaseVerify, errors.KindUndefinedFunction).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Detail("call to %q", imm.Name).
				Build()
		}
		if err := bv.popArgs(i, callee.Type().Args(), "call argument"); err != nil {
			return false, err
		}
		for _, r := range callee.Type().Rets() {
			bv.push(r)
		}

	case ir.OpCallIndirect:
		fnTy, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !fnTy.IsFunc() {
			return false, errors.New(errors.PhaseVerify, errors.KindInvalidTypeCallIndirect).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Actual(fnTy.String()).Expected("a function type").
				Build()
		}
		if err := bv.popArgs(i, fnTy.Args(), "indirect call argument"); err != nil {
			return false, err
		}
		for _, r := range fnTy.Rets() {
			bv.push(r)
		}
		bv.note(i, attachment{ty: fnTy})

	case ir.OpLdGlobalFunc:
		imm := instr.Imm.(ir.CallImm)
		callee, ok := m.GetFunction(imm.Name)
		if !ok {
			return false, errors.New(errors.PhaseVerify, errors.KindUndefinedFunction).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Detail("ld_glob_func %q", imm.Name).
				Build()
		}
		bv.push(callee.Type())

	case ir.OpIfElse:
		imm := instr.Imm.(ir.IfElseImm)
		cond, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !cond.IsInt() {
			return false, bv.invalidType(i, m.Int32T(), cond, "if condition")
		}
		then, ok := f.Block(imm.Then)
		if !ok {
			return false, bv.invalidBlockID(i, imm.Then)
		}
		if imm.HasElse {
			els, ok := f.Block(imm.Else)
			if !ok {
				return false, bv.invalidBlockID(i, imm.Else)
			}
			if !typesEqual(then.Returns, els.Returns) {
				return false, errors.New(errors.PhaseVerify, errors.KindInvalidBlockType).
					Func(f.Name()).Block(int(imm.Else)).Instr(i).
					Expected(typesString(then.Returns)).Actual(typesString(els.Returns)).
					Detail("if and else branches must return the same sequence").
					Build()
			}
		} else if len(then.Returns) != 0 {
			return false, errors.New(errors.PhaseVerify, errors.KindInvalidBlockType).
				Func(f.Name()).Block(int(imm.Then)).Instr(i).
				Expected("()").Actual(typesString(then.Returns)).
				Detail("if without else must return nothing").
				Build()
		}
		for _, r := range then.Returns {
			bv.push(r)
		}

	case ir.OpLoop:
		imm := instr.Imm.(ir.LoopImm)
		body, ok := f.Block(imm.Body)
		if !ok {
			return false, bv.invalidBlockID(i, imm.Body)
		}
		if len(body.Returns) != 0 {
			return false, errors.New(errors.PhaseVerify, errors.KindInvalidBlockType).
				Func(f.Name()).Block(int(imm.Body)).Instr(i).
				Expected("()").Actual(typesString(body.Returns)).
				Detail("loop body must return nothing").
				Build()
		}

	case ir.OpBreak:
		if _, ok := bv.b.Meta.Int(ir.KeyLoopDepth); !ok {
			return false, errors.New(errors.PhaseVerify, errors.KindBreakOutsideLoop).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Build()
		}
		return true, nil

	case ir.OpReturn:
		rets := f.RetTypes()
		for k := len(rets) - 1; k >= 0; k-- {
			val, err := bv.pop(i)
			if err != nil {
				return false, err
			}
			if val != rets[k] {
				return false, bv.invalidType(i, rets[k], val, "function return")
			}
		}
		if len(bv.stack) != 0 {
			return false, errors.New(errors.PhaseVerify, errors.KindInvalidType).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Expected("()").Actual(typesString(bv.stack)).
				Detail("extra values beneath the return values").
				Build()
		}
		return true, nil

	case ir.OpFail:
		return true, nil

	case ir.OpLdLocal:
		imm := instr.Imm.(ir.LocalImm)
		ty, ok := f.LocalType(imm.Idx)
		if !ok {
			return false, bv.outOfBoundsLocal(i, imm.Idx)
		}
		bv.push(ty)

	case ir.OpStLocal:
		imm := instr.Imm.(ir.LocalImm)
		ty, ok := f.LocalType(imm.Idx)
		if !ok {
			return false, bv.outOfBoundsLocal(i, imm.Idx)
		}
		if imm.Idx < f.ArgCount() {
			return false, errors.New(errors.PhaseVerify, errors.KindArgumentStore).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Detail("store to argument local #%d", imm.Idx).
				Build()
		}
		val, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if val != ty {
			return false, bv.invalidType(i, ty, val, "local store")
		}

	case ir.OpLdGlobal:
		g, err := bv.lookupGlobal(i, instr)
		if err != nil {
			return false, err
		}
		bv.push(g.Type())

	case ir.OpStGlobal:
		g, err := bv.lookupGlobal(i, instr)
		if err != nil {
			return false, err
		}
		val, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if val != g.Type() {
			return false, bv.invalidType(i, g.Type(), val, "global store")
		}

	case ir.OpRead:
		imm := instr.Imm.(ir.TypeImm)
		if imm.Ty.IsStruct() {
			return false, structErr(f, int(bv.b.ID), i, "read of a struct value")
		}
		ptr, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !ptr.IsPtr() {
			return false, bv.invalidType(i, m.PtrT(), ptr, "read address")
		}
		bv.push(imm.Ty)

	case ir.OpWrite:
		imm := instr.Imm.(ir.TypeImm)
		if imm.Ty.IsStruct() {
			return false, structErr(f, int(bv.b.ID), i, "write of a struct value")
		}
		val, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if val != imm.Ty {
			return false, bv.invalidType(i, imm.Ty, val, "write value")
		}
		ptr, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !ptr.IsPtr() {
			return false, bv.invalidType(i, m.PtrT(), ptr, "write address")
		}

	case ir.OpOffset:
		if _, err := bv.popInt(i, "offset element count"); err != nil {
			return false, err
		}
		ptr, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !ptr.IsPtr() {
			return false, bv.invalidType(i, m.PtrT(), ptr, "offset base address")
		}
		bv.push(m.PtrT())

	case ir.OpGetFieldPtr:
		imm := instr.Imm.(ir.FieldImm)
		if !imm.Struct.IsStruct() {
			return false, errors.New(errors.PhaseVerify, errors.KindGetFieldPtrNonStruct).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Actual(imm.Struct.String()).Expected("a struct type").
				Build()
		}
		if imm.Field < 0 || imm.Field >= len(imm.Struct.Fields()) {
			return false, errors.New(errors.PhaseVerify, errors.KindOutOfBoundsStructIndex).
				Func(f.Name()).Block(int(bv.b.ID)).Instr(i).
				Detail("field %d of %s", imm.Field, imm.Struct).
				Build()
		}
		ptr, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if !ptr.IsPtr() {
			return false, bv.invalidType(i, m.PtrT(), ptr, "get_field_ptr address")
		}
		bv.push(m.PtrT())

	case ir.OpMemorySize:
		bv.push(m.Int32T())

	case ir.OpMemoryGrow:
		t, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if t != m.Int32T() {
			return false, bv.invalidType(i, m.Int32T(), t, "memory.grow page count")
		}
		bv.push(m.Int32T())

	case ir.OpDiscard:
		if _, err := bv.pop(i); err != nil {
			return false, err
		}

	case ir.OpBitcast:
		imm := instr.Imm.(ir.TypeImm)
		if imm.Ty.IsStruct() {
			return false, structErr(f, int(bv.b.ID), i, "bitcast target")
		}
		val, err := bv.pop(i)
		if err != nil {
			return false, err
		}
		if val.IsStruct() {
			return false, structErr(f, int(bv.b.ID), i, "bitcast operand")
		}
		bv.note(i, attachment{from: val})
		bv.push(imm.Ty)

	case ir.OpLdStaticMemPtr:
		bv.push(m.PtrT())
	}

	return false, nil
}

func (bv *blockVerifier) invalidBlockID(i int, id ir.BlockID) error {
	return errors.New(errors.PhaseVerify, errors.KindInvalidBlockID).
		Func(bv.f.Name()).Block(int(bv.b.ID)).Instr(i).
		Detail("reference to unknown block b%d", id).
		Build()
}

func (bv *blockVerifier) outOfBoundsLocal(i, idx int) error {
	return errors.New(errors.PhaseVerify, errors.KindOutOfBoundsLocal).
		Func(bv.f.Name()).Block(int(bv.b.ID)).Instr(i).
		Detail("local #%d of %d", idx, len(bv.f.Locals())).
		Build()
}

func (bv *blockVerifier) lookupGlobal(i int, instr *ir.Instr) (*ir.Global, error) {
	imm := instr.Imm.(ir.GlobalImm)
	g, ok := bv.m.GetGlobal(imm.Name)
	if !ok {
		return nil, errors.New(errors.PhaseVerify, errors.KindUndefinedGlobal).
			Func(bv.f.Name()).Block(int(bv.b.ID)).Instr(i).
			Detail("global %q", imm.Name).
			Build()
	}
	return g, nil
}

// MutateFunction attaches the staged metadata to instructions.
func (*Verifier) MutateFunction(f *ir.Function, info verifyInfo) error {
	for blockID, attachments := range info.attachments {
		b, ok := f.Block(blockID)
		if !ok {
			continue
		}
		for idx, a := range attachments {
			instr := &b.Body[idx]
			if a.ty != nil {
				instr.Meta.SetType(ir.KeyTy, a.ty)
			}
			if a.from != nil {
				instr.Meta.SetType(ir.KeyFrom, a.from)
			}
			if a.hasBWS {
				instr.Meta.SetBWS(ir.KeyBWS, a.bws)
			}
		}
	}
	Logger().Debug("types verified", zap.String("func", f.Name()))
	return nil
}
