package backend

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/albanread/fasterbasic/internal/ir"
)

// scratch registers used to stage every operand/result through memory.
// The baseline allocator never keeps a value live across instructions in
// a register, so four integer and three float scratch registers are all
// any single instruction ever needs: the widest instructions this
// package lowers (madd/msub, select) read three operands and produce one
// result.
const (
	r0, r1, r2, rAddr = "x9", "x10", "x11", "x12"
	f0, f1, f2        = "d9", "d10", "d11"
)

// EmitAsm lowers every function in mod to AArch64 assembly text in GNU
// `as` syntax, one routine at a time, using the frame BuildFrame laid
// out for it. target is accepted for forward compatibility with a
// cross-compiling driver that wants the triple in a comment header; this
// package only ever emits AArch64.
func EmitAsm(mod *ir.Module, target string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "// generated by internal/backend for %s\n", target)
	b.WriteString(".text\n")

	for _, fn := range mod.Funcs {
		if err := emitFunction(&b, fn); err != nil {
			return "", fmt.Errorf("function %s: %w", fn.Name, err)
		}
	}
	if len(mod.Data) > 0 {
		b.WriteString(".data\n")
		for _, d := range mod.Data {
			emitData(&b, d)
		}
	}
	return b.String(), nil
}

func emitFunction(b *strings.Builder, fn *ir.Function) error {
	fr := BuildFrame(fn)

	fmt.Fprintf(b, "\n.globl %s\n%s:\n", fn.Name, fn.Name)
	fmt.Fprintf(b, "\tsub\tsp, sp, #%d\n", fr.Size)
	fmt.Fprintf(b, "\tstp\tx29, x30, [sp, #%d]\n", fr.Size-savedRegsSize)
	fmt.Fprintf(b, "\tadd\tx29, sp, #%d\n", fr.Size-savedRegsSize)

	intReg, fltReg := 0, 0
	for _, p := range fn.Params {
		off, _ := fr.Offset(p.Name)
		if isFloat(p.Type) {
			fmt.Fprintf(b, "\tstr\td%d, [x29, #-%d]\n", fltReg, off)
			fltReg++
		} else {
			fmt.Fprintf(b, "\tstr\tx%d, [x29, #-%d]\n", intReg, off)
			intReg++
		}
	}

	predCopies := collectPhiCopies(fn, fr)

	epilogueLabel := fn.Name + "_epilogue"
	for _, blk := range fn.Blocks {
		fmt.Fprintf(b, "%s:\n", localLabel(fn.Name, blk.Label))
		for _, in := range blk.Instrs {
			if in.Op == "phi" {
				continue
			}
			if err := emitInstr(b, fr, in); err != nil {
				return err
			}
		}
		for _, cp := range predCopies[blk.Label] {
			emitPhiCopy(b, fr, cp)
		}
		if err := emitTerm(b, fr, fn.Name, epilogueLabel, blk.Term); err != nil {
			return err
		}
	}

	fmt.Fprintf(b, "%s:\n", epilogueLabel)
	fmt.Fprintf(b, "\tldp\tx29, x30, [sp, #%d]\n", fr.Size-savedRegsSize)
	fmt.Fprintf(b, "\tadd\tsp, sp, #%d\n", fr.Size)
	b.WriteString("\tret\n")
	return nil
}

func localLabel(fn, label string) string { return fmt.Sprintf(".L%s_%s", fn, label) }

func isFloat(t ir.Type) bool { return t == ir.TySingle || t == ir.TyDouble }

// phiCopy is one incoming-value assignment a predecessor block must
// perform, on its own exit edge, before jumping into the block whose phi
// names that edge.
type phiCopy struct {
	destOff int
	val     ir.Value
	isFloat bool
}

// collectPhiCopies turns every phi instruction in fn into the set of
// copies its predecessors must perform. codegen's own lowering builds
// control flow entirely through explicit load/store against named
// locals rather than phi nodes (every IF/loop merge reloads a local
// instead of joining two SSA values), so this only fires for IR that
// reached the backend some other way - hand-written IR text, or a future
// SSA-promoting codegen pass - but the text grammar defines phi, so the
// lowering here is real, not a stub.
func collectPhiCopies(fn *ir.Function, fr *FrameLayout) map[string][]phiCopy {
	out := make(map[string][]phiCopy)
	for _, blk := range fn.Blocks {
		for _, in := range blk.Instrs {
			if in.Op != "phi" {
				continue
			}
			off, ok := fr.Offset(in.Result)
			if !ok {
				continue
			}
			for i, v := range in.Args {
				pred := in.PhiPreds[i]
				out[pred] = append(out[pred], phiCopy{destOff: off, val: v, isFloat: isFloat(in.Type)})
			}
		}
	}
	return out
}

func emitPhiCopy(b *strings.Builder, fr *FrameLayout, cp phiCopy) {
	if cp.isFloat {
		loadValue(b, fr, cp.val, f0)
		fmt.Fprintf(b, "\tstr\t%s, [x29, #-%d]\n", f0, cp.destOff)
	} else {
		loadValue(b, fr, cp.val, r0)
		fmt.Fprintf(b, "\tstr\t%s, [x29, #-%d]\n", r0, cp.destOff)
	}
}

// loadValue emits the instruction(s) that leave v's value in reg
// (an integer Xn or float Dn register, matched to v's kind).
func loadValue(b *strings.Builder, fr *FrameLayout, v ir.Value, reg string) {
	switch vv := v.(type) {
	case ir.ConstInt:
		fmt.Fprintf(b, "\tmov\t%s, #%d\n", reg, vv.Val)
	case ir.ConstFloat:
		bits := strconv.FormatUint(float64Bits(vv.Val), 10)
		fmt.Fprintf(b, "\tmov\t%s, #%s\n", rAddr, bits)
		fmt.Fprintf(b, "\tfmov\t%s, %s\n", reg, rAddr)
	case ir.Local:
		off, _ := fr.Offset(vv.Name)
		fmt.Fprintf(b, "\tldr\t%s, [x29, #-%d]\n", reg, off)
	case ir.Temp:
		off, _ := fr.Offset(vv.Name)
		fmt.Fprintf(b, "\tldr\t%s, [x29, #-%d]\n", reg, off)
	case ir.Sym:
		fmt.Fprintf(b, "\tadrp\t%s, %s\n", reg, vv.Name)
		fmt.Fprintf(b, "\tadd\t%s, %s, :lo12:%s\n", reg, reg, vv.Name)
	default:
		fmt.Fprintf(b, "\t// unsupported operand %v\n", v)
	}
}

// storeResult writes reg back to the named result's frame slot.
func storeResult(b *strings.Builder, fr *FrameLayout, name string, reg string) {
	off, ok := fr.Offset(name)
	if !ok {
		return
	}
	fmt.Fprintf(b, "\tstr\t%s, [x29, #-%d]\n", reg, off)
}

// effectiveAddress loads into rAddr the real memory address a load/store
// instruction's first operand denotes: a Local's own frame slot (its
// "address" is structurally its SP-relative offset, so this is a `sub`
// against the frame pointer), or a Temp/Sym's slot content, which the
// code generator only ever populates with a genuine runtime pointer (via
// an `addr` instruction or a symbol reference), so it must be loaded out
// of its slot rather than addressed directly.
func effectiveAddress(b *strings.Builder, fr *FrameLayout, v ir.Value) error {
	switch vv := v.(type) {
	case ir.Local:
		off, ok := fr.Offset(vv.Name)
		if !ok {
			return fmt.Errorf("unknown local %q", vv.Name)
		}
		fmt.Fprintf(b, "\tsub\t%s, x29, #%d\n", rAddr, off)
		return nil
	case ir.Temp:
		off, ok := fr.Offset(vv.Name)
		if !ok {
			return fmt.Errorf("unknown temp %q", vv.Name)
		}
		fmt.Fprintf(b, "\tldr\t%s, [x29, #-%d]\n", rAddr, off)
		return nil
	case ir.Sym:
		fmt.Fprintf(b, "\tadrp\t%s, %s\n", rAddr, vv.Name)
		fmt.Fprintf(b, "\tadd\t%s, %s, :lo12:%s\n", rAddr, rAddr, vv.Name)
		return nil
	}
	return fmt.Errorf("value %v cannot be used as a load/store address", v)
}

func emitInstr(b *strings.Builder, fr *FrameLayout, in ir.Instr) error {
	switch in.Op {
	case "load":
		if err := effectiveAddress(b, fr, in.Args[0]); err != nil {
			return err
		}
		dst := r0
		if isFloat(in.Type) {
			dst = f0
		}
		fmt.Fprintf(b, "\tldr\t%s, [%s]\n", dst, rAddr)
		storeResult(b, fr, in.Result, dst)
		return nil

	case "store":
		if err := effectiveAddress(b, fr, in.Args[0]); err != nil {
			return err
		}
		fltVal := isConstFloat(in.Args[1]) || (frameTypeIsFloat(fr, in.Args[1]))
		src := r1
		if fltVal {
			src = f1
		}
		loadValue(b, fr, in.Args[1], src)
		fmt.Fprintf(b, "\tstr\t%s, [%s]\n", src, rAddr)
		return nil

	case "addr":
		loadValue(b, fr, in.Args[0], r0)
		loadValue(b, fr, in.Args[1], r1)
		fmt.Fprintf(b, "\tadd\t%s, %s, %s\n", r0, r0, r1)
		storeResult(b, fr, in.Result, r0)
		return nil

	case "call":
		return emitCall(b, fr, in)

	case "select":
		loadValue(b, fr, in.Args[0], r0)
		loadValue(b, fr, in.Args[1], r1)
		loadValue(b, fr, in.Args[2], r2)
		fmt.Fprintf(b, "\tcmp\t%s, #0\n", r0)
		fmt.Fprintf(b, "\tcsel\t%s, %s, %s, ne\n", r0, r1, r2)
		storeResult(b, fr, in.Result, r0)
		return nil

	case "madd", "msub":
		loadValue(b, fr, in.Args[0], r0) // acc
		loadValue(b, fr, in.Args[1], r1) // a
		loadValue(b, fr, in.Args[2], r2) // b
		fmt.Fprintf(b, "\t%s\t%s, %s, %s, %s\n", in.Op, r0, r1, r2, r0)
		storeResult(b, fr, in.Result, r0)
		return nil

	case "sext", "zext", "trunc", "sitof", "ftosi", "fext":
		return emitConvert(b, fr, in)

	case "neg", "not":
		loadValue(b, fr, in.Args[0], r0)
		if in.Op == "neg" {
			fmt.Fprintf(b, "\tneg\t%s, %s\n", r0, r0)
		} else {
			fmt.Fprintf(b, "\tmvn\t%s, %s\n", r0, r0)
		}
		storeResult(b, fr, in.Result, r0)
		return nil

	default:
		return emitBinary(b, fr, in)
	}
}

func isConstFloat(v ir.Value) bool { _, ok := v.(ir.ConstFloat); return ok }

func frameTypeIsFloat(fr *FrameLayout, v ir.Value) bool {
	var name string
	switch vv := v.(type) {
	case ir.Local:
		name = vv.Name
	case ir.Temp:
		name = vv.Name
	default:
		return false
	}
	ty, ok := fr.TypeOf(name)
	return ok && isFloat(ty)
}

var intBinOps = map[string]string{
	"add": "add", "sub": "sub", "mul": "mul", "div": "sdiv", "and": "and",
	"or": "orr", "xor": "eor", "shl": "lsl", "shr": "lsr", "sar": "asr",
	"rem": "sdiv", // rem is lowered to sdiv+msub below; the table entry only
	// keeps the "is this op supported" lookup below from rejecting it.
}

// emitBinary lowers the generic two-operand arithmetic/logical/compare
// ops. Floating-point arithmetic and integer arithmetic share the same
// op names in the IR (the type on the instruction disambiguates), so
// this dispatches on in.Type rather than carrying separate f-prefixed
// opcodes.
func emitBinary(b *strings.Builder, fr *FrameLayout, in ir.Instr) error {
	if strings.HasPrefix(in.Op, "cmp_") {
		return emitCompare(b, fr, in)
	}
	if len(in.Args) != 2 {
		return fmt.Errorf("op %q: expected 2 operands, got %d", in.Op, len(in.Args))
	}

	if isFloat(in.Type) {
		loadValue(b, fr, in.Args[0], f0)
		loadValue(b, fr, in.Args[1], f1)
		var mnem string
		switch in.Op {
		case "add":
			mnem = "fadd"
		case "sub":
			mnem = "fsub"
		case "mul":
			mnem = "fmul"
		case "div":
			mnem = "fdiv"
		default:
			return fmt.Errorf("unsupported float op %q", in.Op)
		}
		fmt.Fprintf(b, "\t%s\t%s, %s, %s\n", mnem, f0, f0, f1)
		storeResult(b, fr, in.Result, f0)
		return nil
	}

	mnem, ok := intBinOps[in.Op]
	if !ok {
		return fmt.Errorf("unsupported integer op %q", in.Op)
	}
	loadValue(b, fr, in.Args[0], r0)
	loadValue(b, fr, in.Args[1], r1)
	if in.Op == "rem" {
		fmt.Fprintf(b, "\tsdiv\t%s, %s, %s\n", r2, r0, r1)
		fmt.Fprintf(b, "\tmsub\t%s, %s, %s, %s\n", r0, r2, r1, r0)
	} else {
		fmt.Fprintf(b, "\t%s\t%s, %s, %s\n", mnem, r0, r0, r1)
	}
	storeResult(b, fr, in.Result, r0)
	return nil
}

var condSuffix = map[string]string{
	"cmp_eq": "eq", "cmp_ne": "ne",
	"cmp_lt_s": "lt", "cmp_le_s": "le", "cmp_gt_s": "gt", "cmp_ge_s": "ge",
	"cmp_lt_u": "lo", "cmp_le_u": "ls", "cmp_gt_u": "hi", "cmp_ge_u": "hs",
}

func emitCompare(b *strings.Builder, fr *FrameLayout, in ir.Instr) error {
	cond, ok := condSuffix[in.Op]
	if !ok {
		return fmt.Errorf("unsupported comparison %q", in.Op)
	}
	if isConstFloat(in.Args[0]) || frameTypeIsFloat(fr, in.Args[0]) {
		loadValue(b, fr, in.Args[0], f0)
		loadValue(b, fr, in.Args[1], f1)
		fmt.Fprintf(b, "\tfcmp\t%s, %s\n", f0, f1)
	} else {
		loadValue(b, fr, in.Args[0], r0)
		loadValue(b, fr, in.Args[1], r1)
		fmt.Fprintf(b, "\tcmp\t%s, %s\n", r0, r1)
	}
	fmt.Fprintf(b, "\tcset\t%s, %s\n", r0, cond)
	storeResult(b, fr, in.Result, r0)
	return nil
}

func emitConvert(b *strings.Builder, fr *FrameLayout, in ir.Instr) error {
	switch in.Op {
	case "sitof":
		loadValue(b, fr, in.Args[0], r0)
		fmt.Fprintf(b, "\tscvtf\t%s, %s\n", f0, r0)
		storeResult(b, fr, in.Result, f0)
	case "ftosi":
		loadValue(b, fr, in.Args[0], f0)
		fmt.Fprintf(b, "\tfcvtzs\t%s, %s\n", r0, f0)
		storeResult(b, fr, in.Result, r0)
	case "fext":
		loadValue(b, fr, in.Args[0], f0)
		fmt.Fprintf(b, "\tfcvt\t%s, %s\n", f0, f0)
		storeResult(b, fr, in.Result, f0)
	case "sext", "zext", "trunc":
		// Every slot is a uniform 8-byte word in the baseline allocator, so
		// these widen/narrow no actual bits; the move keeps the assembly
		// honest about where a conversion was requested.
		loadValue(b, fr, in.Args[0], r0)
		fmt.Fprintf(b, "\tmov\t%s, %s\n", r0, r0)
		storeResult(b, fr, in.Result, r0)
	default:
		return fmt.Errorf("unsupported conversion %q", in.Op)
	}
	return nil
}

var intArgRegs = []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}
var fltArgRegs = []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7"}

func emitCall(b *strings.Builder, fr *FrameLayout, in ir.Instr) error {
	if len(in.Args) > len(intArgRegs) {
		return fmt.Errorf("call: %d arguments exceeds the %d-register argument convention this backend supports", len(in.Args), len(intArgRegs))
	}
	intN, fltN := 0, 0
	for _, a := range in.Args {
		if isConstFloat(a) || frameTypeIsFloat(fr, a) {
			loadValue(b, fr, a, fltArgRegs[fltN])
			fltN++
		} else {
			loadValue(b, fr, a, intArgRegs[intN])
			intN++
		}
	}
	switch callee := in.Callee.(type) {
	case ir.Sym:
		fmt.Fprintf(b, "\tbl\t%s\n", callee.Name)
	default:
		if err := effectiveAddress(b, fr, in.Callee); err != nil {
			return fmt.Errorf("indirect call target: %w", err)
		}
		fmt.Fprintf(b, "\tblr\t%s\n", rAddr)
	}
	if in.Result != "" {
		dst := "x0"
		if isFloat(in.Type) {
			dst = "d0"
		}
		storeResult(b, fr, in.Result, dst)
	}
	return nil
}

func emitTerm(b *strings.Builder, fr *FrameLayout, fn, epilogueLabel string, t ir.Terminator) error {
	switch t.Kind {
	case ir.TermJmp:
		fmt.Fprintf(b, "\tb\t%s\n", localLabel(fn, t.Then))
		return nil
	case ir.TermJnz:
		loadValue(b, fr, t.Cond, r0)
		fmt.Fprintf(b, "\tcbnz\t%s, %s\n", r0, localLabel(fn, t.Then))
		fmt.Fprintf(b, "\tb\t%s\n", localLabel(fn, t.Else))
		return nil
	case ir.TermRet:
		if t.RetVal != nil {
			dst := r0
			if isConstFloat(t.RetVal) || frameTypeIsFloat(fr, t.RetVal) {
				dst = f0
			}
			loadValue(b, fr, t.RetVal, dst)
			if dst == r0 {
				fmt.Fprintf(b, "\tmov\tx0, %s\n", r0)
			} else {
				fmt.Fprintf(b, "\tfmov\td0, %s\n", f0)
			}
		}
		fmt.Fprintf(b, "\tb\t%s\n", epilogueLabel)
		return nil
	}
	return fmt.Errorf("unknown terminator kind %d", t.Kind)
}

func emitData(b *strings.Builder, d *ir.Data) {
	fmt.Fprintf(b, "%s:\n", d.Name)
	for _, item := range d.Items {
		if item.IsString {
			fmt.Fprintf(b, "\t.ascii\t%q\n", item.Bytes)
			continue
		}
		switch item.Type {
		case ir.TySingle:
			fmt.Fprintf(b, "\t.float\t%s\n", strconv.FormatFloat(item.Float, 'g', -1, 32))
		case ir.TyDouble:
			fmt.Fprintf(b, "\t.double\t%s\n", strconv.FormatFloat(item.Float, 'g', -1, 64))
		case ir.TyByte:
			fmt.Fprintf(b, "\t.byte\t%d\n", item.Int)
		case ir.TyHalf:
			fmt.Fprintf(b, "\t.hword\t%d\n", item.Int)
		case ir.TyWord:
			fmt.Fprintf(b, "\t.word\t%d\n", item.Int)
		default:
			fmt.Fprintf(b, "\t.xword\t%d\n", item.Int)
		}
	}
}

func float64Bits(f float64) uint64 { return math.Float64bits(f) }
