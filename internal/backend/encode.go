package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/albanread/fasterbasic/internal/ir"
)

// Encode lowers fn directly to raw little-endian AArch64 machine code,
// the same instruction selection asm.go uses for the text path, skipping
// the assembler/linker round trip so internal/jit can mmap the result
// immediately. This is the path the profiler-triggered recompilation in
// internal/jit drives: a routine that crossed the hot-call threshold
// gets a standalone compiled copy without shelling out to `as`/`ld`.
//
// Only the integer subset of the instruction set this package lowers is
// supported here; a routine using floating-point values is compiled
// through EmitAsm and an external assembler instead; Encode returns an
// error for those so the driver can fall back rather than silently
// miscompile.
func Encode(fn *ir.Function) ([]byte, error) {
	fr := BuildFrame(fn)
	if functionUsesFloat(fn) {
		return nil, fmt.Errorf("backend: Encode does not support floating-point routine %q; use EmitAsm", fn.Name)
	}

	var words []uint32
	labelPos := make(map[string]int) // block label -> word index of its first instruction
	type fixup struct {
		wordIdx int
		target  string
		kind    string // "b", "cbnz", "cbz"
	}
	var fixups []fixup

	emit := func(w uint32) { words = append(words, w) }

	words = append(words,
		encodeSubImm(31, 31, uint16(fr.Size)), // sub sp, sp, #Size
		encodeStp(29, 30, 31, fr.Size-savedRegsSize),
		encodeAddImm(29, 31, uint16(fr.Size-savedRegsSize)),
	)

	intReg := 0
	for _, p := range fn.Params {
		off, _ := fr.Offset(p.Name)
		words = append(words, encodeStrImm(uint32(intReg), 29, off))
		intReg++
	}

	predCopies := collectIntPhiCopies(fn, fr)

	for _, blk := range fn.Blocks {
		labelPos[blk.Label] = len(words)
		for _, in := range blk.Instrs {
			if in.Op == "phi" {
				continue
			}
			ws, err := encodeInstr(fr, in)
			if err != nil {
				return nil, fmt.Errorf("function %s: %w", fn.Name, err)
			}
			words = append(words, ws...)
		}
		for _, cp := range predCopies[blk.Label] {
			ws, err := loadIntoReg(fr, cp.val, 9)
			if err != nil {
				return nil, fmt.Errorf("function %s: phi copy: %w", fn.Name, err)
			}
			words = append(words, ws...)
			words = append(words, encodeStrImm(9, 29, cp.destOff))
		}
		switch blk.Term.Kind {
		case ir.TermJmp:
			fixups = append(fixups, fixup{len(words), blk.Term.Then, "b"})
			emit(0)
		case ir.TermJnz:
			ws, err := loadIntoReg(fr, blk.Term.Cond, 9)
			if err != nil {
				return nil, err
			}
			words = append(words, ws...)
			fixups = append(fixups, fixup{len(words), blk.Term.Then, "cbnz"})
			emit(0)
			fixups = append(fixups, fixup{len(words), blk.Term.Else, "b"})
			emit(0)
		case ir.TermRet:
			if blk.Term.RetVal != nil {
				ws, err := loadIntoReg(fr, blk.Term.RetVal, 9)
				if err != nil {
					return nil, err
				}
				words = append(words, ws...)
				words = append(words, encodeMovReg(0, 9))
			}
			fixups = append(fixups, fixup{len(words), epilogueSentinel, "b"})
			emit(0)
		}
	}

	epiloguePos := len(words)
	labelPos[epilogueSentinel] = epiloguePos
	words = append(words,
		encodeLdp(29, 30, 31, fr.Size-savedRegsSize),
		encodeAddImm(31, 31, uint16(fr.Size)),
		encodeRet(),
	)

	for _, fx := range fixups {
		target, ok := labelPos[fx.target]
		if !ok {
			return nil, fmt.Errorf("function %s: branch to undefined label %q", fn.Name, fx.target)
		}
		delta := int32(target-fx.wordIdx) * 4
		switch fx.kind {
		case "b":
			words[fx.wordIdx] = encodeB(delta)
		case "cbnz":
			words[fx.wordIdx] = encodeCbnz(9, delta)
		}
	}

	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf, nil
}

// epilogueSentinel is not a real IR block label; it is how every
// `ret`-terminated block's unconditional jump to the shared epilogue is
// represented before fixup, mirroring the `b fn_epilogue` EmitAsm emits.
const epilogueSentinel = "\x00epilogue"

func functionUsesFloat(fn *ir.Function) bool {
	for _, p := range fn.Params {
		if isFloat(p.Type) {
			return true
		}
	}
	for _, l := range fn.Locals {
		if isFloat(l.Type) {
			return true
		}
	}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if isFloat(in.Type) {
				return true
			}
		}
	}
	return false
}

// loadIntoReg returns the words that leave v's integer value in Xn (n),
// the raw-encoding equivalent of asm.go's loadValue for the integer
// subset Encode supports.
func loadIntoReg(fr *FrameLayout, v ir.Value, n uint32) ([]uint32, error) {
	switch vv := v.(type) {
	case ir.ConstInt:
		return encodeMovImm(n, vv.Val), nil
	case ir.Local:
		off, ok := fr.Offset(vv.Name)
		if !ok {
			return nil, fmt.Errorf("unknown local %q", vv.Name)
		}
		return []uint32{encodeLdrImm(n, 29, off)}, nil
	case ir.Temp:
		off, ok := fr.Offset(vv.Name)
		if !ok {
			return nil, fmt.Errorf("unknown temp %q", vv.Name)
		}
		return []uint32{encodeLdrImm(n, 29, off)}, nil
	}
	return nil, fmt.Errorf("value %v not supported by the raw encoder", v)
}

func encodeInstr(fr *FrameLayout, in ir.Instr) ([]uint32, error) {
	switch in.Op {
	case "load":
		addr, err := effectiveAddressReg(fr, in.Args[0], 12)
		if err != nil {
			return nil, err
		}
		out := append(addr, encodeLdrImm(9, 12, 0))
		return append(out, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil

	case "store":
		addr, err := effectiveAddressReg(fr, in.Args[0], 12)
		if err != nil {
			return nil, err
		}
		val, err := loadIntoReg(fr, in.Args[1], 10)
		if err != nil {
			return nil, err
		}
		out := append(addr, val...)
		return append(out, encodeStrImm(10, 12, 0)), nil

	case "addr":
		a, err := loadIntoReg(fr, in.Args[0], 9)
		if err != nil {
			return nil, err
		}
		b, err := loadIntoReg(fr, in.Args[1], 10)
		if err != nil {
			return nil, err
		}
		out := append(a, b...)
		out = append(out, encodeAddReg(9, 9, 10))
		return append(out, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil

	case "neg", "not":
		a, err := loadIntoReg(fr, in.Args[0], 9)
		if err != nil {
			return nil, err
		}
		if in.Op == "neg" {
			a = append(a, encodeSubReg(9, 31, 9))
		} else {
			a = append(a, encodeOrnReg(9, 31, 9))
		}
		return append(a, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil

	case "sext", "zext", "trunc":
		a, err := loadIntoReg(fr, in.Args[0], 9)
		if err != nil {
			return nil, err
		}
		return append(a, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil

	case "select":
		cond, err := loadIntoReg(fr, in.Args[0], 9)
		if err != nil {
			return nil, err
		}
		tv, err := loadIntoReg(fr, in.Args[1], 10)
		if err != nil {
			return nil, err
		}
		fv, err := loadIntoReg(fr, in.Args[2], 11)
		if err != nil {
			return nil, err
		}
		out := append(cond, tv...)
		out = append(out, fv...)
		out = append(out, encodeCmpImm(9, 0), encodeCsel(9, 10, 11, condNE))
		return append(out, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil

	case "madd", "msub":
		acc, err := loadIntoReg(fr, in.Args[0], 9)
		if err != nil {
			return nil, err
		}
		a, err := loadIntoReg(fr, in.Args[1], 10)
		if err != nil {
			return nil, err
		}
		bArg, err := loadIntoReg(fr, in.Args[2], 11)
		if err != nil {
			return nil, err
		}
		out := append(acc, a...)
		out = append(out, bArg...)
		if in.Op == "madd" {
			out = append(out, encodeMadd(9, 10, 11, 9))
		} else {
			out = append(out, encodeMsub(9, 10, 11, 9))
		}
		return append(out, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil

	case "call":
		return encodeCall(fr, in)

	default:
		return encodeIntBinary(fr, in)
	}
}

func mustOffset(fr *FrameLayout, name string) int {
	off, _ := fr.Offset(name)
	return off
}

func effectiveAddressReg(fr *FrameLayout, v ir.Value, n uint32) ([]uint32, error) {
	switch vv := v.(type) {
	case ir.Local:
		off, ok := fr.Offset(vv.Name)
		if !ok {
			return nil, fmt.Errorf("unknown local %q", vv.Name)
		}
		return []uint32{encodeSubImm(n, 29, uint16(off))}, nil
	case ir.Temp:
		off, ok := fr.Offset(vv.Name)
		if !ok {
			return nil, fmt.Errorf("unknown temp %q", vv.Name)
		}
		return []uint32{encodeLdrImm(n, 29, off)}, nil
	}
	return nil, fmt.Errorf("value %v cannot be used as a load/store address", v)
}

var intBinOpcode = map[string]func(rd, rn, rm uint32) uint32{
	"add": func(rd, rn, rm uint32) uint32 { return encodeAddReg(rd, rn, rm) },
	"sub": func(rd, rn, rm uint32) uint32 { return encodeSubReg(rd, rn, rm) },
	"mul": func(rd, rn, rm uint32) uint32 { return encodeMadd(rd, rn, rm, 31) },
	"and": func(rd, rn, rm uint32) uint32 { return encodeLogicalReg(rd, rn, rm, 0b00, 0) },
	"or":  func(rd, rn, rm uint32) uint32 { return encodeLogicalReg(rd, rn, rm, 0b01, 0) },
	"xor": func(rd, rn, rm uint32) uint32 { return encodeLogicalReg(rd, rn, rm, 0b10, 0) },
}

func encodeIntBinary(fr *FrameLayout, in ir.Instr) ([]uint32, error) {
	if len(in.Args) != 2 {
		return nil, fmt.Errorf("op %q: expected 2 operands, got %d", in.Op, len(in.Args))
	}
	if cond, ok := condCode[in.Op]; ok {
		a, err := loadIntoReg(fr, in.Args[0], 9)
		if err != nil {
			return nil, err
		}
		b, err := loadIntoReg(fr, in.Args[1], 10)
		if err != nil {
			return nil, err
		}
		out := append(a, b...)
		out = append(out, encodeSubsReg(9, 9, 10), encodeCset(9, cond))
		return append(out, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil
	}

	a, err := loadIntoReg(fr, in.Args[0], 9)
	if err != nil {
		return nil, err
	}
	b, err := loadIntoReg(fr, in.Args[1], 10)
	if err != nil {
		return nil, err
	}
	out := append(a, b...)

	switch in.Op {
	case "div":
		out = append(out, encodeSdiv(9, 9, 10))
	case "rem":
		out = append(out, encodeSdiv(11, 9, 10), encodeMsub(9, 11, 10, 9))
	case "shl":
		out = append(out, encodeShiftReg(9, 9, 10, 0b00))
	case "shr":
		out = append(out, encodeShiftReg(9, 9, 10, 0b01))
	case "sar":
		out = append(out, encodeShiftReg(9, 9, 10, 0b10))
	default:
		fn, ok := intBinOpcode[in.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported integer op %q", in.Op)
		}
		out = append(out, fn(9, 9, 10))
	}
	return append(out, encodeStrImm(9, 29, mustOffset(fr, in.Result))), nil
}

var condCode = map[string]uint32{
	"cmp_eq": condEQ, "cmp_ne": condNE,
	"cmp_lt_s": condLT, "cmp_le_s": condLE, "cmp_gt_s": condGT, "cmp_ge_s": condGE,
	"cmp_lt_u": condLO, "cmp_le_u": condLS, "cmp_gt_u": condHI, "cmp_ge_u": condHS,
}

var intArgRegsEnc = [...]uint32{0, 1, 2, 3, 4, 5, 6, 7}

func encodeCall(fr *FrameLayout, in ir.Instr) ([]uint32, error) {
	if len(in.Args) > len(intArgRegsEnc) {
		return nil, fmt.Errorf("call: %d arguments exceeds the %d-register convention this encoder supports", len(in.Args), len(intArgRegsEnc))
	}
	var out []uint32
	for i, a := range in.Args {
		ws, err := loadIntoReg(fr, a, intArgRegsEnc[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ws...)
	}
	switch callee := in.Callee.(type) {
	case ir.Sym:
		return nil, fmt.Errorf("call to symbol %q requires link-time relocation, which the raw JIT encoder does not perform; route this routine through EmitAsm or pre-resolve the target address", callee.Name)
	default:
		addr, err := loadIntoReg(fr, in.Callee, 12)
		if err != nil {
			return nil, fmt.Errorf("indirect call target: %w", err)
		}
		out = append(out, addr...)
		out = append(out, encodeBlr(12))
	}
	if in.Result != "" {
		out = append(out, encodeStrImm(0, 29, mustOffset(fr, in.Result)))
	}
	return out, nil
}

// intPhiCopy mirrors asm.go's phiCopy for the raw-bytes path; Encode
// already rejects any function using a float value, so a phi reaching
// here is always integer-typed.
type intPhiCopy struct {
	destOff int
	val     ir.Value
}

// collectIntPhiCopies is asm.go's collectPhiCopies ported to the raw
// encoder: without it, a phi-containing function fed through Encode
// would have its phi's merge silently dropped instead of lowered,
// since the main instruction loop above skips "phi" entirely.
func collectIntPhiCopies(fn *ir.Function, fr *FrameLayout) map[string][]intPhiCopy {
	out := make(map[string][]intPhiCopy)
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
				out[pred] = append(out[pred], intPhiCopy{destOff: off, val: v})
			}
		}
	}
	return out
}
