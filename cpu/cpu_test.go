package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b32/bits"
	"b32/mem"
)

func newTestCpu(t *testing.T, numFrames int) *Cpu {
	t.Helper()
	bus := mem.NewBus()
	phys := mem.NewRAM(0, bits.Word(numFrames-1), nil)
	require.NoError(t, bus.Attach(phys))
	bus.AttachVM(mem.NewVM(phys))
	return NewCpu(bus)
}

func TestZeroRegisterAlwaysReadsZero(t *testing.T) {
	c := newTestCpu(t, 1)
	for r := 0; r < NumRegisters; r++ {
		c.WriteReg(r, 0xDEADBEEF)
		got := c.ReadReg(r)
		if r == RegZero {
			assert.Equal(t, bits.Word(0), got)
		} else {
			assert.Equal(t, bits.Word(0xDEADBEEF), got)
		}
	}
}

func TestFormatORoundTripImmediate(t *testing.T) {
	w := FormatO(OpADD, true, 3, 4, Operand2{Imm: true, Imm16: 9})
	op, s, rd, rn, o2 := DecodeO(w)
	assert.Equal(t, OpADD, op)
	assert.True(t, s)
	assert.Equal(t, 3, rd)
	assert.Equal(t, 4, rn)
	assert.True(t, o2.Imm)
	assert.Equal(t, uint16(9), o2.Imm16)
}

func TestFormatORoundTripShiftedRegister(t *testing.T) {
	w := FormatO(OpSUB, false, 1, 2, Operand2{Rm: 5, ShiftOp: ShiftLSR, ShiftAmt: 7})
	op, s, rd, rn, o2 := DecodeO(w)
	assert.Equal(t, OpSUB, op)
	assert.False(t, s)
	assert.Equal(t, 1, rd)
	assert.Equal(t, 2, rn)
	assert.False(t, o2.Imm)
	assert.Equal(t, 5, o2.Rm)
	assert.Equal(t, ShiftLSR, o2.ShiftOp)
	assert.Equal(t, uint8(7), o2.ShiftAmt)
}

func TestFormatO1RoundTrip(t *testing.T) {
	w := FormatO1(OpLSL, true, 6, 7, ShiftOperand{Imm: true, Amt: 15})
	op, s, rd, rm, sh := DecodeO1(w)
	assert.Equal(t, OpLSL, op)
	assert.True(t, s)
	assert.Equal(t, 6, rd)
	assert.Equal(t, 7, rm)
	assert.True(t, sh.Imm)
	assert.Equal(t, uint8(15), sh.Amt)

	w2 := FormatO1(OpROR, false, 1, 2, ShiftOperand{Rs: 9})
	op2, _, _, _, sh2 := DecodeO1(w2)
	assert.Equal(t, OpROR, op2)
	assert.False(t, sh2.Imm)
	assert.Equal(t, 9, sh2.Rs)
}

func TestFormatO2RoundTrip(t *testing.T) {
	w := FormatO2(OpUMULL, true, 1, 2, 3, 4)
	op, s, rdHi, rdLo, rn, rm := DecodeO2(w)
	assert.Equal(t, OpUMULL, op)
	assert.True(t, s)
	assert.Equal(t, 1, rdHi)
	assert.Equal(t, 2, rdLo)
	assert.Equal(t, 3, rn)
	assert.Equal(t, 4, rm)
}

func TestFormatMRoundTrip(t *testing.T) {
	w := FormatM(OpLDR, 2, 3, PreIndexed, true, MemOperand{Imm: true, Imm14: 100})
	op, rd, rn, mode, up, m := DecodeM(w)
	assert.Equal(t, OpLDR, op)
	assert.Equal(t, 2, rd)
	assert.Equal(t, 3, rn)
	assert.Equal(t, PreIndexed, mode)
	assert.True(t, up)
	assert.True(t, m.Imm)
	assert.Equal(t, uint16(100), m.Imm14)

	w2 := FormatM(OpSTR, 5, 6, PostIndexed, false, MemOperand{Rm: 7, ShiftOp: ShiftASR, ShiftAmt: 3})
	op2, _, _, mode2, up2, m2 := DecodeM(w2)
	assert.Equal(t, OpSTR, op2)
	assert.Equal(t, PostIndexed, mode2)
	assert.False(t, up2)
	assert.False(t, m2.Imm)
	assert.Equal(t, 7, m2.Rm)
	assert.Equal(t, ShiftASR, m2.ShiftOp)
}

func TestFormatBRoundTrip(t *testing.T) {
	w := FormatB(OpBL, -100)
	op, offset := DecodeB(w)
	assert.Equal(t, OpBL, op)
	assert.Equal(t, int32(-100), offset)
}

// Scenario 1: ADC immediate, no flags set initially. The encoded
// instruction carries no S suffix, so NZCV simply survive untouched from
// their initial state (N=Z=V=0, C=1).
func TestADCImmediateNoInitialFlags(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(1, 1)
	c.Flags.C = true

	require.NoError(t, c.LoadWord(0, FormatO(OpADC, false, 0, 1, Operand2{Imm: true, Imm16: 9})))
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(11), c.ReadReg(0))
	assert.Equal(t, bits.Word(1), c.ReadReg(1))
	assert.False(t, c.Flags.N)
	assert.False(t, c.Flags.Z)
	assert.False(t, c.Flags.V)
	assert.True(t, c.Flags.C)
}

// Scenario 2: ADC register, max-positive plus max-negative plus carry-in
// wraps exactly to zero. Operands carry opposite signs, so this cannot be a
// signed overflow; V stays clear even though C is set by the unsigned wrap.
func TestADCRegisterOverflow(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(1, (1<<31)-1)
	c.WriteReg(2, 1<<31)
	c.Flags.C = true

	require.NoError(t, c.LoadWord(0, FormatO(OpADC, true, 0, 1, Operand2{Rm: 2})))
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(0), c.ReadReg(0))
	assert.False(t, c.Flags.N)
	assert.True(t, c.Flags.Z)
	assert.True(t, c.Flags.C)
	assert.False(t, c.Flags.V)
}

// Scenario 3: LDR with a positive constant offset, no writeback.
func TestLDRPositiveOffset(t *testing.T) {
	c := newTestCpu(t, 2)
	base := bits.Word(bits.PageSize - 3)
	require.NoError(t, c.Bus.WriteByte(base+3, 0x09, true))
	c.WriteReg(1, base)

	require.NoError(t, c.LoadWord(0, FormatM(OpLDR, 0, 1, OffsetAddr, true, MemOperand{Imm: true, Imm14: 3})))
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(9), c.ReadReg(0))
	assert.Equal(t, base, c.ReadReg(1))
}

// Scenario 4: LDR pre-indexed writes back the computed address to Rn.
func TestLDRPreIndexedWriteback(t *testing.T) {
	c := newTestCpu(t, 2)
	base := bits.Word(bits.PageSize - 3)
	require.NoError(t, c.Bus.WriteByte(base+3, 0x09, true))
	c.WriteReg(1, base)

	require.NoError(t, c.LoadWord(0, FormatM(OpLDR, 0, 1, PreIndexed, true, MemOperand{Imm: true, Imm14: 3})))
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(9), c.ReadReg(0))
	assert.Equal(t, bits.Word(bits.PageSize), c.ReadReg(1))
}

// Scenario 5: STR post-indexed stores at the original address, then
// writes back the advanced address.
func TestSTRPostIndexed(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(0, 9)
	c.WriteReg(1, 8)

	require.NoError(t, c.LoadWord(0, FormatM(OpSTR, 0, 1, PostIndexed, true, MemOperand{Imm: true, Imm14: 3})))
	c.Run(1)

	require.Nil(t, c.Exception)
	v, err := c.Bus.ReadWord(8, true)
	require.NoError(t, err)
	assert.Equal(t, bits.Word(9), v)
	assert.Equal(t, bits.Word(11), c.ReadReg(1))
}

// Scenario 6: a halt opcode terminates the run loop cleanly.
func TestHaltTerminatesRun(t *testing.T) {
	c := newTestCpu(t, 1)
	require.NoError(t, c.LoadWord(0, FormatHalt()))
	c.Run(10)

	require.NotNil(t, c.Exception)
	assert.Equal(t, HALT, c.Exception.Kind)
	assert.Equal(t, bits.Word(0), c.Exception.PC)
}

func TestShiftByZeroLeavesCarryUnchanged(t *testing.T) {
	c := newTestCpu(t, 1)
	c.Flags.C = true
	c.WriteReg(1, 0x1234)

	require.NoError(t, c.LoadWord(0, FormatO1(OpLSL, true, 0, 1, ShiftOperand{Imm: true, Amt: 0})))
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(0x1234), c.ReadReg(0))
	assert.True(t, c.Flags.C)
}

func TestLSRImmediateZeroMeansThirtyTwo(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(1, 0x80000000)

	require.NoError(t, c.LoadWord(0, FormatO1(OpLSR, true, 0, 1, ShiftOperand{Imm: true, Amt: 0})))
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(0), c.ReadReg(0))
	assert.True(t, c.Flags.C) // bit 31 shifted out on the 32nd position
}

func TestASRSignExtendsBeyondThirtyTwo(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(1, 0x80000000)

	require.NoError(t, c.LoadWord(0, FormatO1(OpASR, false, 0, 1, ShiftOperand{Rs: 2})))
	c.WriteReg(2, 40)
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(0xFFFFFFFF), c.ReadReg(0))
}

func TestRORWrapsModuloThirtyTwo(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(1, 0x1)

	require.NoError(t, c.LoadWord(0, FormatO1(OpROR, false, 0, 1, ShiftOperand{Rs: 2})))
	c.WriteReg(2, 33) // ROR 33 === ROR 1
	c.Run(1)

	require.Nil(t, c.Exception)
	assert.Equal(t, bits.Word(0x80000000), c.ReadReg(0))
}

func TestBranchAndLinkSetsLRToNextInstruction(t *testing.T) {
	c := newTestCpu(t, 1)
	require.NoError(t, c.LoadWord(0, FormatB(OpBL, 2))) // skip one word past the next
	require.NoError(t, c.LoadWord(4, FormatHalt()))
	require.NoError(t, c.LoadWord(12, FormatHalt()))
	c.Run(2)

	require.NotNil(t, c.Exception)
	assert.Equal(t, HALT, c.Exception.Kind)
	assert.Equal(t, bits.Word(4), c.ReadReg(RegLR))
	assert.Equal(t, bits.Word(12), c.Exception.PC)
}

func TestRetJumpsToRegister(t *testing.T) {
	c := newTestCpu(t, 1)
	c.WriteReg(1, 8)
	require.NoError(t, c.LoadWord(0, FormatR(OpRET, 1)))
	require.NoError(t, c.LoadWord(8, FormatHalt()))
	c.Run(2)

	require.NotNil(t, c.Exception)
	assert.Equal(t, HALT, c.Exception.Kind)
	assert.Equal(t, bits.Word(8), c.Exception.PC)
}

func TestBusFaultOnUnmappedFetchIsReported(t *testing.T) {
	bus := mem.NewBus() // no cells attached at all
	c := NewCpu(bus)
	c.Run(1)

	require.NotNil(t, c.Exception)
	assert.Equal(t, BUS, c.Exception.Kind)
	assert.Equal(t, bits.Word(0), c.Exception.PC)
}

func TestDecodeFailureRaisesDecodeException(t *testing.T) {
	c := newTestCpu(t, 1)
	// opcode 63 is outside the 31 defined opcodes.
	require.NoError(t, c.LoadWord(0, place(63, 1, 6)))
	c.Run(1)

	require.NotNil(t, c.Exception)
	assert.Equal(t, DECODE, c.Exception.Kind)
}
