package cpu

import "b32/bits"

// execFunc executes one already-decoded instruction word. instrPC is the
// address the word was fetched from (PC has already been pre-incremented
// past it), used for branch targets and fault reporting.
type execFunc func(c *Cpu, word bits.Word, instrPC bits.Word)

var dispatch = map[Opcode]execFunc{
	OpADD: execAdd, OpADC: execAdd, OpSUB: execAdd, OpSBC: execAdd, OpRSB: execAdd, OpRSC: execAdd,
	OpAND: execBitwise, OpORR: execBitwise, OpEOR: execBitwise, OpBIC: execBitwise,
	OpTST: execBitwise, OpTEQ: execBitwise,
	OpLSL: execShift, OpLSR: execShift, OpASR: execShift, OpROR: execShift,
	OpMUL: execMul, OpUMULL: execMul, OpSMULL: execMul,
	OpCMP: execAdd, OpCMN: execAdd,
	OpLDR: execMem, OpSTR: execMem, OpLDRB: execMem, OpSTRB: execMem, OpLDRH: execMem, OpSTRH: execMem,
	OpB: execBranch, OpBL: execBranch,
	OpRET:  execRet,
	OpHALT: execHalt,
}

// execAdd handles the full add/sub family, including the flags-only CMP/CMN
// forms, which share format_o with the rest of the family.
func execAdd(c *Cpu, word bits.Word, instrPC bits.Word) {
	op, s, rd, rn, o2 := DecodeO(word)
	rhs, _, _ := c.resolveOperand2(o2)
	lhs := c.ReadReg(rn)

	var result bits.Word
	var flags Flags
	switch op {
	case OpADD:
		result, flags = addWithCarry(lhs, rhs, false)
	case OpADC:
		result, flags = addWithCarry(lhs, rhs, c.Flags.C)
	case OpSUB:
		result, flags = subWithBorrow(lhs, rhs, true)
	case OpSBC:
		result, flags = subWithBorrow(lhs, rhs, c.Flags.C)
	case OpRSB:
		result, flags = subWithBorrow(rhs, lhs, true)
	case OpRSC:
		result, flags = subWithBorrow(rhs, lhs, c.Flags.C)
	case OpCMP:
		result, flags = subWithBorrow(lhs, rhs, true)
	case OpCMN:
		result, flags = addWithCarry(lhs, rhs, false)
	}

	if op != OpCMP && op != OpCMN {
		c.WriteReg(rd, result)
	}
	if s || op == OpCMP || op == OpCMN {
		c.Flags = flags
	}
}

// execBitwise handles AND/ORR/EOR/BIC and their flags-only TST/TEQ forms.
func execBitwise(c *Cpu, word bits.Word, instrPC bits.Word) {
	op, s, rd, rn, o2 := DecodeO(word)
	rhs, carryOut, carryChanged := c.resolveOperand2(o2)
	lhs := c.ReadReg(rn)

	var result bits.Word
	switch op {
	case OpAND, OpTST:
		result = lhs & rhs
	case OpORR:
		result = lhs | rhs
	case OpEOR, OpTEQ:
		result = lhs ^ rhs
	case OpBIC:
		result = lhs &^ rhs
	}

	if op != OpTST && op != OpTEQ {
		c.WriteReg(rd, result)
	}
	if s || op == OpTST || op == OpTEQ {
		c.Flags.N = result&0x80000000 != 0
		c.Flags.Z = result == 0
		if carryChanged {
			c.Flags.C = carryOut
		}
	}
}

// execShift handles LSL/LSR/ASR/ROR, format_o1.
func execShift(c *Cpu, word bits.Word, instrPC bits.Word) {
	op, s, rd, rm, sh := DecodeO1(word)
	amt := resolveShiftAmount(op, sh, c)
	st := map[Opcode]ShiftType{OpLSL: ShiftLSL, OpLSR: ShiftLSR, OpASR: ShiftASR, OpROR: ShiftROR}[op]

	result, carryOut, carryChanged := applyShift(c.ReadReg(rm), st, amt)
	c.WriteReg(rd, result)
	if s {
		c.Flags.N = result&0x80000000 != 0
		c.Flags.Z = result == 0
		if carryChanged {
			c.Flags.C = carryOut
		}
	}
}

// execMul handles MUL (32x32->32), UMULL and SMULL (32x32->64), format_o2.
func execMul(c *Cpu, word bits.Word, instrPC bits.Word) {
	op, s, rdHi, rdLo, rn, rm := DecodeO2(word)
	a, b := c.ReadReg(rn), c.ReadReg(rm)

	switch op {
	case OpMUL:
		result := a * b
		c.WriteReg(rdLo, result)
		if s {
			c.Flags.N = result&0x80000000 != 0
			c.Flags.Z = result == 0
		}
	case OpUMULL:
		product := uint64(a) * uint64(b)
		lo, hi := bits.Word(product), bits.Word(product>>32)
		c.WriteReg(rdLo, lo)
		c.WriteReg(rdHi, hi)
		if s {
			c.Flags.N = hi&0x80000000 != 0
			c.Flags.Z = product == 0
		}
	case OpSMULL:
		product := int64(int32(a)) * int64(int32(b))
		lo, hi := bits.Word(uint64(product)), bits.Word(uint64(product)>>32)
		c.WriteReg(rdLo, lo)
		c.WriteReg(rdHi, hi)
		if s {
			c.Flags.N = hi&0x80000000 != 0
			c.Flags.Z = product == 0
		}
	}
}

// execMem handles LDR/STR/LDRB/STRB/LDRH/STRH and their three addressing
// shapes, format_m. Writeback to Rn (pre- or post-indexed) always happens
// after the data access itself, so a faulting access leaves Rn untouched.
func execMem(c *Cpu, word bits.Word, instrPC bits.Word) {
	op, rd, rn, mode, up, m := DecodeM(word)

	var offset bits.Word
	if m.Imm {
		offset = bits.Word(m.Imm14)
	} else {
		offset, _, _ = applyShift(c.ReadReg(m.Rm), m.ShiftOp, int(m.ShiftAmt))
	}

	base := c.ReadReg(rn)
	var effective bits.Word
	if up {
		effective = base + offset
	} else {
		effective = base - offset
	}

	var accessAddr bits.Word
	switch mode {
	case OffsetAddr, PreIndexed:
		accessAddr = effective
	case PostIndexed:
		accessAddr = base
	}

	var err error
	switch op {
	case OpLDR:
		var v bits.Word
		v, err = c.Bus.ReadWord(accessAddr, true)
		if err == nil {
			c.WriteReg(rd, v)
		}
	case OpSTR:
		err = c.Bus.WriteWord(accessAddr, c.ReadReg(rd), true)
	case OpLDRB:
		var v bits.Byte
		v, err = c.Bus.ReadByte(accessAddr, true)
		if err == nil {
			c.WriteReg(rd, bits.Word(v))
		}
	case OpSTRB:
		err = c.Bus.WriteByte(accessAddr, bits.Byte(c.ReadReg(rd)), true)
	case OpLDRH:
		var v bits.Hword
		v, err = c.Bus.ReadHword(accessAddr, true)
		if err == nil {
			c.WriteReg(rd, bits.Word(v))
		}
	case OpSTRH:
		err = c.Bus.WriteHword(accessAddr, bits.Hword(c.ReadReg(rd)), true)
	}

	if err != nil {
		c.raise(busExceptionKind(err), instrPC, err.Error())
		return
	}

	switch mode {
	case PreIndexed:
		c.WriteReg(rn, effective)
	case PostIndexed:
		c.WriteReg(rn, effective)
	}
}

// execBranch handles B and BL, format_b. The offset is relative to the
// already-pre-incremented PC (the address of the instruction following the
// branch).
func execBranch(c *Cpu, word bits.Word, instrPC bits.Word) {
	op, offsetWords := DecodeB(word)
	if op == OpBL {
		c.WriteReg(RegLR, c.PC)
	}
	c.PC = bits.Word(int64(c.PC) + int64(offsetWords)*4)
}

// execRet handles RET, format_r: jump to the address held in Rn.
func execRet(c *Cpu, word bits.Word, instrPC bits.Word) {
	_, rn := DecodeR(word)
	c.PC = c.ReadReg(rn)
}

// execHalt terminates the run loop cleanly.
func execHalt(c *Cpu, word bits.Word, instrPC bits.Word) {
	c.raise(HALT, instrPC, "halt")
}
