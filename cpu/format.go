package cpu

import "b32/bits"

// Opcode identifies one of the architecture's instructions. It occupies the
// top 6 bits of every 32-bit instruction word.
type Opcode byte

const (
	OpADD Opcode = iota
	OpADC
	OpSUB
	OpSBC
	OpRSB
	OpRSC

	OpAND
	OpORR
	OpEOR
	OpBIC
	OpTST
	OpTEQ

	OpLSL
	OpLSR
	OpASR
	OpROR

	OpMUL
	OpUMULL
	OpSMULL

	OpCMP
	OpCMN

	OpLDR
	OpSTR
	OpLDRB
	OpSTRB
	OpLDRH
	OpSTRH

	OpB
	OpBL
	OpRET
	OpHALT
)

var opcodeNames = map[Opcode]string{
	OpADD: "ADD", OpADC: "ADC", OpSUB: "SUB", OpSBC: "SBC", OpRSB: "RSB", OpRSC: "RSC",
	OpAND: "AND", OpORR: "ORR", OpEOR: "EOR", OpBIC: "BIC", OpTST: "TST", OpTEQ: "TEQ",
	OpLSL: "LSL", OpLSR: "LSR", OpASR: "ASR", OpROR: "ROR",
	OpMUL: "MUL", OpUMULL: "UMULL", OpSMULL: "SMULL",
	OpCMP: "CMP", OpCMN: "CMN",
	OpLDR: "LDR", OpSTR: "STR", OpLDRB: "LDRB", OpSTRB: "STRB", OpLDRH: "LDRH", OpSTRH: "STRH",
	OpB: "B", OpBL: "BL", OpRET: "RET", OpHALT: "HALT",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "UNKNOWN"
}

// ShiftType selects a barrel-shifter operation applied to a register
// operand before it enters the ALU or is used as a memory offset.
type ShiftType byte

const (
	ShiftLSL ShiftType = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)

// DecodeOpcode extracts the top 6-bit opcode common to every format.
func DecodeOpcode(w bits.Word) Opcode {
	return Opcode(bits.Range(w, bits.I1, bits.I6))
}

// place positions a value occupying the inclusive 1-indexed (MSB-first) bit
// range [start,end] of a 32-bit word.
func place(v uint32, start, end int) bits.Word {
	n := uint(end - start + 1)
	shift := uint(32 - end)
	mask := uint32(1)<<n - 1
	return (v & mask) << shift
}

// ---- format_o: two-operand ALU (ADD/ADC/SUB/SBC/RSB/RSC, AND/ORR/EOR/BIC/
// TST/TEQ, CMP/CMN). opcode(6) S(1) Rd(4) Rn(4) I(1) operand2(16).

// Operand2 is the shared second-operand shape for format_o: either a 16-bit
// immediate, or a register optionally passed through the barrel shifter.
type Operand2 struct {
	Imm      bool
	Imm16    uint16
	Rm       int
	ShiftOp  ShiftType
	ShiftAmt uint8 // 0..31
}

func FormatO(op Opcode, s bool, rd, rn int, o2 Operand2) bits.Word {
	w := place(uint32(op), 1, 6) | place(b2u(s), 7, 7) | place(uint32(rd), 8, 11) | place(uint32(rn), 12, 15)
	if o2.Imm {
		w |= place(1, 16, 16) | place(uint32(o2.Imm16), 17, 32)
	} else {
		w |= place(uint32(o2.Rm), 17, 20) | place(uint32(o2.ShiftOp), 21, 22) | place(uint32(o2.ShiftAmt), 23, 27)
	}
	return w
}

func DecodeO(w bits.Word) (op Opcode, s bool, rd, rn int, o2 Operand2) {
	op = DecodeOpcode(w)
	s = bits.IsSet(w, bits.I7)
	rd = int(bits.Range(w, bits.I8, bits.I11))
	rn = int(bits.Range(w, bits.I12, bits.I15))
	if bits.IsSet(w, bits.I16) {
		o2.Imm = true
		o2.Imm16 = uint16(bits.Range(w, bits.I17, bits.I32))
	} else {
		o2.Rm = int(bits.Range(w, bits.I17, bits.I20))
		o2.ShiftOp = ShiftType(bits.Range(w, bits.I21, bits.I22))
		o2.ShiftAmt = uint8(bits.Range(w, bits.I23, bits.I27))
	}
	return
}

// ---- format_o1: single-register shift family (LSL/LSR/ASR/ROR).
// opcode(6) S(1) Rd(4) Rm(4) I(1) operand2(16).

// ShiftOperand is the shift-amount source for format_o1: an immediate-5 or
// a register whose low byte supplies the amount.
type ShiftOperand struct {
	Imm bool
	Amt uint8 // 0..31, immediate form
	Rs  int   // register form
}

func FormatO1(op Opcode, s bool, rd, rm int, sh ShiftOperand) bits.Word {
	w := place(uint32(op), 1, 6) | place(b2u(s), 7, 7) | place(uint32(rd), 8, 11) | place(uint32(rm), 12, 15)
	if sh.Imm {
		w |= place(1, 16, 16) | place(uint32(sh.Amt), 17, 21)
	} else {
		w |= place(uint32(sh.Rs), 17, 20)
	}
	return w
}

func DecodeO1(w bits.Word) (op Opcode, s bool, rd, rm int, sh ShiftOperand) {
	op = DecodeOpcode(w)
	s = bits.IsSet(w, bits.I7)
	rd = int(bits.Range(w, bits.I8, bits.I11))
	rm = int(bits.Range(w, bits.I12, bits.I15))
	if bits.IsSet(w, bits.I16) {
		sh.Imm = true
		sh.Amt = uint8(bits.Range(w, bits.I17, bits.I21))
	} else {
		sh.Rs = int(bits.Range(w, bits.I17, bits.I20))
	}
	return
}

// ---- format_o2: multiply family (MUL/UMULL/SMULL).
// opcode(6) S(1) RdHi(4) RdLo(4) Rn(4) Rm(4) unused(9).

func FormatO2(op Opcode, s bool, rdHi, rdLo, rn, rm int) bits.Word {
	return place(uint32(op), 1, 6) | place(b2u(s), 7, 7) |
		place(uint32(rdHi), 8, 11) | place(uint32(rdLo), 12, 15) |
		place(uint32(rn), 16, 19) | place(uint32(rm), 20, 23)
}

func DecodeO2(w bits.Word) (op Opcode, s bool, rdHi, rdLo, rn, rm int) {
	op = DecodeOpcode(w)
	s = bits.IsSet(w, bits.I7)
	rdHi = int(bits.Range(w, bits.I8, bits.I11))
	rdLo = int(bits.Range(w, bits.I12, bits.I15))
	rn = int(bits.Range(w, bits.I16, bits.I19))
	rm = int(bits.Range(w, bits.I20, bits.I23))
	return
}

// ---- format_m: memory access (LDR/STR family). opcode(6) Rd(4) Rn(4) P(1)
// W(1) U(1) I(1) offset(14).

// AddrMode selects among the three addressing shapes memory instructions
// support: a plain offset, pre-indexed with writeback, or post-indexed with
// writeback.
type AddrMode int

const (
	OffsetAddr AddrMode = iota // [Rn, x]
	PreIndexed                 // [Rn, x]!
	PostIndexed                // [Rn], x
)

// MemOperand is the addressing offset: either a 14-bit unsigned immediate or
// a shifted register.
type MemOperand struct {
	Imm      bool
	Imm14    uint16
	Rm       int
	ShiftOp  ShiftType
	ShiftAmt uint8
}

func FormatM(op Opcode, rd, rn int, mode AddrMode, up bool, m MemOperand) bits.Word {
	p, wb := addrModeBits(mode)
	w := place(uint32(op), 1, 6) | place(uint32(rd), 7, 10) | place(uint32(rn), 11, 14) |
		place(b2u(p), 15, 15) | place(b2u(wb), 16, 16) | place(b2u(up), 17, 17)
	if m.Imm {
		w |= place(1, 18, 18) | place(uint32(m.Imm14), 19, 32)
	} else {
		w |= place(uint32(m.Rm), 19, 22) | place(uint32(m.ShiftOp), 23, 24) | place(uint32(m.ShiftAmt), 25, 29)
	}
	return w
}

func DecodeM(w bits.Word) (op Opcode, rd, rn int, mode AddrMode, up bool, m MemOperand) {
	op = DecodeOpcode(w)
	rd = int(bits.Range(w, bits.I7, bits.I10))
	rn = int(bits.Range(w, bits.I11, bits.I14))
	p := bits.IsSet(w, bits.I15)
	wb := bits.IsSet(w, bits.I16)
	up = bits.IsSet(w, bits.I17)
	mode = decodeAddrMode(p, wb)
	if bits.IsSet(w, bits.I18) {
		m.Imm = true
		m.Imm14 = uint16(bits.Range(w, bits.I19, bits.I32))
	} else {
		m.Rm = int(bits.Range(w, bits.I19, bits.I22))
		m.ShiftOp = ShiftType(bits.Range(w, bits.I23, bits.I24))
		m.ShiftAmt = uint8(bits.Range(w, bits.I25, bits.I29))
	}
	return
}

func addrModeBits(mode AddrMode) (p, w bool) {
	switch mode {
	case PreIndexed:
		return true, true
	case PostIndexed:
		return false, true
	default:
		return true, false
	}
}

func decodeAddrMode(p, w bool) AddrMode {
	switch {
	case p && w:
		return PreIndexed
	case !p && w:
		return PostIndexed
	default:
		return OffsetAddr
	}
}

// ---- format_b / format_r: control flow. opcode(6) reserved(2) offset(24),
// the offset interpreted as a signed word-granular branch displacement
// (B/BL), matching the 24-bit field the PCREL24 relocation kind patches.
// format_r instead holds a single register operand (RET). HALT ignores the
// remaining bits entirely.

func FormatB(op Opcode, offsetWords int32) bits.Word {
	return place(uint32(op), 1, 6) | place(uint32(offsetWords)&(1<<24-1), 9, 32)
}

func DecodeB(w bits.Word) (op Opcode, offsetWords int32) {
	op = DecodeOpcode(w)
	raw := bits.Range(w, bits.I9, bits.I32)
	offsetWords = int32(bits.SignExtend(raw, 24))
	return
}

func FormatR(op Opcode, rn int) bits.Word {
	return place(uint32(op), 1, 6) | place(uint32(rn), 7, 10)
}

func DecodeR(w bits.Word) (op Opcode, rn int) {
	op = DecodeOpcode(w)
	rn = int(bits.Range(w, bits.I7, bits.I10))
	return
}

func FormatHalt() bits.Word {
	return place(uint32(OpHALT), 1, 6)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
