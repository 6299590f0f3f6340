package backend

// Raw AArch64 instruction word encoders backing encode.go. Each function
// name mirrors the mnemonic it emits; bit layouts follow the standard
// A64 instruction set encoding (data-processing register/immediate,
// loads/stores, branches). Only the 64-bit (X register) forms are
// implemented, matching the uniform 8-byte slot width FrameLayout hands
// out.

// AArch64 condition codes (the 4-bit field CSET/B.cond/CSEL take).
const (
	condEQ uint32 = 0x0
	condNE uint32 = 0x1
	condLO uint32 = 0x3 // unsigned <
	condLS uint32 = 0x9 // unsigned <=
	condHS uint32 = 0x2 // unsigned >=
	condHI uint32 = 0x8 // unsigned >
	condLT uint32 = 0xB
	condLE uint32 = 0xD
	condGT uint32 = 0xC
	condGE uint32 = 0xA
)

func bits(v uint32, n int) uint32 { return v & ((1 << uint(n)) - 1) }

// encodeAddImm / encodeSubImm: ADD/SUB (immediate), 64-bit, no shift.
// sf 0 0 10001 shift(2)=0 imm12 Rn Rd / sf 1 0 10001 ...
func encodeAddImm(rd, rn uint32, imm12 uint16) uint32 {
	return (1 << 31) | (0 << 30) | (0 << 29) | (0b10001 << 24) | (0 << 22) | (bits(uint32(imm12), 12) << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

func encodeSubImm(rd, rn uint32, imm12 uint16) uint32 {
	return (1 << 31) | (1 << 30) | (0 << 29) | (0b10001 << 24) | (0 << 22) | (bits(uint32(imm12), 12) << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeCmpImm: CMP (immediate) = SUBS XZR, Rn, #imm.
func encodeCmpImm(rn uint32, imm12 uint16) uint32 {
	return (1 << 31) | (1 << 30) | (1 << 29) | (0b10001 << 24) | (0 << 22) | (bits(uint32(imm12), 12) << 10) | (bits(rn, 5) << 5) | 31
}

// encodeAddReg / encodeSubReg: ADD/SUB (shifted register), 64-bit, shift 0.
// sf op S 01011 shift(2) 0 Rm imm6(0) Rn Rd
func encodeAddReg(rd, rn, rm uint32) uint32 {
	return (1 << 31) | (0 << 30) | (0 << 29) | (0b01011 << 24) | (bits(rm, 5) << 16) | (bits(rn, 5) << 5) | bits(rd, 5)
}

func encodeSubReg(rd, rn, rm uint32) uint32 {
	return (1 << 31) | (1 << 30) | (0 << 29) | (0b01011 << 24) | (bits(rm, 5) << 16) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeSubsReg: SUBS (shifted register) - used for CMP Rn, Rm.
func encodeSubsReg(rd, rn, rm uint32) uint32 {
	return (1 << 31) | (1 << 30) | (1 << 29) | (0b01011 << 24) | (bits(rm, 5) << 16) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeLogicalReg handles AND/ORR/EOR/ORN (shifted register, no shift).
// opc: 00=AND, 01=ORR, 10=EOR. n=1 selects the NOT-ed-Rm variant (ORN,
// used for MVN).
func encodeLogicalReg(rd, rn, rm, opc, n uint32) uint32 {
	return (1 << 31) | (bits(opc, 2) << 29) | (0b01010 << 24) | (bits(n, 1) << 21) | (bits(rm, 5) << 16) | (bits(rn, 5) << 5) | bits(rd, 5)
}

func encodeOrnReg(rd, rn, rm uint32) uint32 { return encodeLogicalReg(rd, rn, rm, 0b01, 1) }

// encodeMovReg: MOV (register) = ORR Rd, XZR, Rm.
func encodeMovReg(rd, rm uint32) uint32 { return encodeLogicalReg(rd, 31, rm, 0b01, 0) }

// encodeShiftReg: LSLV/LSRV/ASRV (data-processing, 2 source). op2:
// 00=LSL, 01=LSR, 10=ASR.
func encodeShiftReg(rd, rn, rm, op2 uint32) uint32 {
	opcode := map[uint32]uint32{0: 0b001000, 1: 0b001001, 2: 0b001010}[op2]
	return (1 << 31) | (0 << 30) | (0 << 29) | (0b11010110 << 21) | (bits(rm, 5) << 16) | (bits(opcode, 6) << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeSdiv: SDIV (data-processing, 2 source), opcode 0b000011.
func encodeSdiv(rd, rn, rm uint32) uint32 {
	return (1 << 31) | (0 << 30) | (0 << 29) | (0b11010110 << 21) | (bits(rm, 5) << 16) | (0b000011 << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeMadd / encodeMsub: MADD/MSUB Rd, Rn, Rm, Ra. MUL is MADD with
// Ra=XZR(31).
func encodeMadd(rd, rn, rm, ra uint32) uint32 {
	return (1 << 31) | (0b0011011000 << 21) | (bits(rm, 5) << 16) | (0 << 15) | (bits(ra, 5) << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

func encodeMsub(rd, rn, rm, ra uint32) uint32 {
	return (1 << 31) | (0b0011011000 << 21) | (bits(rm, 5) << 16) | (1 << 15) | (bits(ra, 5) << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeCsel: CSEL Rd, Rn, Rm, cond (opcode 00 in bits[11:10]).
func encodeCsel(rd, rn, rm, cond uint32) uint32 {
	return (1 << 31) | (0b011010100 << 21) | (bits(rm, 5) << 16) | (bits(cond, 4) << 12) | (0b00 << 10) | (bits(rn, 5) << 5) | bits(rd, 5)
}

// encodeCset: CSET Rd, cond = CSINC Rd, XZR, XZR, invert(cond).
// Inverting a condition flips bit 0 except for AL/NV, neither of which
// this package's condCode table ever produces.
func encodeCset(rd, cond uint32) uint32 {
	inv := cond ^ 1
	return (1 << 31) | (0b011010100 << 21) | (31 << 16) | (bits(inv, 4) << 12) | (0b01 << 10) | (31 << 5) | bits(rd, 5)
}

// encodeMovImm builds a register constant out of up to four MOVZ/MOVK
// 16-bit chunks, matching what a real assembler expands `mov xN, #imm`
// into for values wider than one 16-bit field.
func encodeMovImm(rd uint32, val int64) []uint32 {
	u := uint64(val)
	chunk := uint16(u)
	out := []uint32{encodeMovz(rd, chunk, 0)}
	for shift := uint32(1); shift < 4; shift++ {
		c := uint16(u >> (shift * 16))
		if c != 0 {
			out = append(out, encodeMovk(rd, c, shift))
		}
	}
	return out
}

// encodeMovz: MOVZ Xd, #imm16, LSL #(hw*16).
func encodeMovz(rd uint32, imm16 uint16, hw uint32) uint32 {
	return (1 << 31) | (0b10 << 29) | (0b100101 << 23) | (bits(hw, 2) << 21) | (bits(uint32(imm16), 16) << 5) | bits(rd, 5)
}

// encodeMovk: MOVK Xd, #imm16, LSL #(hw*16) - merges into the existing
// register instead of zeroing it.
func encodeMovk(rd uint32, imm16 uint16, hw uint32) uint32 {
	return (1 << 31) | (0b11 << 29) | (0b100101 << 23) | (bits(hw, 2) << 21) | (bits(uint32(imm16), 16) << 5) | bits(rd, 5)
}

// encodeStrImm / encodeLdrImm: STR/LDR (immediate, unsigned offset),
// 64-bit. off must be a non-negative multiple of 8 within the 12-bit
// scaled immediate's range; FrameLayout's slots and offsets always are.
func encodeStrImm(rt, rn uint32, off int) uint32 {
	imm12 := uint32(off) / 8
	return (0b11 << 30) | (0b111001 << 24) | (0b00 << 22) | (bits(imm12, 12) << 10) | (bits(rn, 5) << 5) | bits(rt, 5)
}

func encodeLdrImm(rt, rn uint32, off int) uint32 {
	imm12 := uint32(off) / 8
	return (0b11 << 30) | (0b111001 << 24) | (0b01 << 22) | (bits(imm12, 12) << 10) | (bits(rn, 5) << 5) | bits(rt, 5)
}

// encodeStp / encodeLdp: STP/LDP (signed offset), 64-bit - used only for
// the x29/x30 frame-pointer pair in the prologue/epilogue.
func encodeStp(rt, rt2, rn uint32, off int) uint32 {
	imm7 := uint32(off/8) & 0x7F
	return (0b10 << 30) | (0b101 << 27) | (0b0 << 26) | (0b010 << 23) | (0 << 22) | (imm7 << 15) | (bits(rt2, 5) << 10) | (bits(rn, 5) << 5) | bits(rt, 5)
}

func encodeLdp(rt, rt2, rn uint32, off int) uint32 {
	imm7 := uint32(off/8) & 0x7F
	return (0b10 << 30) | (0b101 << 27) | (0b0 << 26) | (0b010 << 23) | (1 << 22) | (imm7 << 15) | (bits(rt2, 5) << 10) | (bits(rn, 5) << 5) | bits(rt, 5)
}

// encodeB: unconditional branch, PC-relative, imm26 in units of 4 bytes.
func encodeB(byteOffset int32) uint32 {
	imm26 := uint32(byteOffset/4) & 0x3FFFFFF
	return (0b000101 << 26) | imm26
}

// encodeCbnz: CBNZ Xt, label - 64-bit, imm19 in units of 4 bytes.
func encodeCbnz(rt uint32, byteOffset int32) uint32 {
	imm19 := uint32(byteOffset/4) & 0x7FFFF
	return (1 << 31) | (0b011010 << 25) | (1 << 24) | (imm19 << 5) | bits(rt, 5)
}

// encodeBlr: BLR Xn - indirect call.
func encodeBlr(rn uint32) uint32 {
	return (0b1101011000111111000000 << 10) | (bits(rn, 5) << 5)
}

// encodeRet: RET (X30 implied).
func encodeRet() uint32 {
	return (0b1101011001011111000000 << 10) | (30 << 5)
}
