package cpu

import "b32/bits"

// addWithCarry computes a+b+carryIn over 32 bits and the NZCV flags that
// result.
func addWithCarry(a, b bits.Word, carryIn bool) (result bits.Word, flags Flags) {
	sum := uint64(a) + uint64(b)
	if carryIn {
		sum++
	}
	result = bits.Word(sum)
	flags.C = sum > 0xFFFFFFFF
	flags.N = result&0x80000000 != 0
	flags.Z = result == 0

	signA := a&0x80000000 != 0
	signB := b&0x80000000 != 0
	signR := result&0x80000000 != 0
	flags.V = signA == signB && signR != signA
	return
}

// subWithBorrow computes a-b, with noBorrowIn indicating the incoming carry
// (ARM convention: a set carry/no-borrow means a plain subtract; a clear
// carry means an extra 1 is subtracted, chaining a borrow from a previous
// limb). Used directly for SUB/CMP (noBorrowIn=true) and for SBC's
// carry-chained form.
func subWithBorrow(a, b bits.Word, noBorrowIn bool) (result bits.Word, flags Flags) {
	bb := uint64(b)
	if !noBorrowIn {
		bb++
	}
	result = bits.Word(uint64(a) - bb)
	flags.N = result&0x80000000 != 0
	flags.Z = result == 0
	flags.C = uint64(a) >= bb // no unsigned borrow occurred

	signA := a&0x80000000 != 0
	signB := b&0x80000000 != 0
	signR := result&0x80000000 != 0
	flags.V = signA != signB && signR != signA
	return
}

// applyShift runs the barrel shifter, returning the shifted value and the
// carry bit it produces. carryChanged is false when the shift must leave C
// untouched: a shift amount of zero passes the value through unmodified and
// carries no new carry-out.
func applyShift(val bits.Word, st ShiftType, amt int) (result bits.Word, carryOut bool, carryChanged bool) {
	switch st {
	case ShiftLSL:
		switch {
		case amt == 0:
			return val, false, false
		case amt < 32:
			return val << uint(amt), (val>>(32-uint(amt)))&1 != 0, true
		case amt == 32:
			return 0, val&1 != 0, true
		default:
			return 0, false, true
		}

	case ShiftLSR:
		switch {
		case amt == 0:
			return val, false, false
		case amt < 32:
			return val >> uint(amt), (val>>(uint(amt)-1))&1 != 0, true
		case amt == 32:
			return 0, val&0x80000000 != 0, true
		default:
			return 0, false, true
		}

	case ShiftASR:
		signed := int32(val)
		switch {
		case amt == 0:
			return val, false, false
		case amt < 32:
			return bits.Word(signed >> uint(amt)), (val>>(uint(amt)-1))&1 != 0, true
		default:
			if signed < 0 {
				return 0xFFFFFFFF, true, true
			}
			return 0, false, true
		}

	case ShiftROR:
		if amt == 0 {
			return val, false, false
		}
		eff := uint(amt) % 32
		if eff == 0 {
			return val, val&0x80000000 != 0, true
		}
		result = (val >> eff) | (val << (32 - eff))
		return result, (val>>(eff-1))&1 != 0, true
	}
	return val, false, false
}

// resolveOperand2 evaluates a format_o Operand2 against the current
// register file, returning the 32-bit value it contributes to the ALU and,
// for a shifted register, the carry it produces.
func (c *Cpu) resolveOperand2(o2 Operand2) (val bits.Word, carryOut bool, carryChanged bool) {
	if o2.Imm {
		return bits.SignExtend(bits.Word(o2.Imm16), 16), false, false
	}
	rm := c.ReadReg(o2.Rm)
	return applyShift(rm, o2.ShiftOp, int(o2.ShiftAmt))
}

// resolveShiftAmount evaluates a format_o1 ShiftOperand into an effective
// shift amount, expanding the "0 means 32" immediate encoding for the
// LSR/ASR/ROR family (LSL's immediate 0 means a literal shift of 0).
func resolveShiftAmount(op Opcode, sh ShiftOperand, c *Cpu) int {
	if sh.Imm {
		amt := int(sh.Amt)
		if amt == 0 && op != OpLSL {
			return 32
		}
		return amt
	}
	return int(c.ReadReg(sh.Rs) & 0xFF)
}
