package asm

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b32/cpu"
	"b32/objfile"
)

func assemble(t *testing.T, src string) *objfile.Object {
	t.Helper()
	obj, diags := Assemble([]byte(src))
	if len(diags) > 0 {
		t.Logf("diagnostics:\n%s", spew.Sdump(diags))
	}
	require.Empty(t, diags)
	require.NotNil(t, obj)
	return obj
}

func assembleFails(t *testing.T, src string) []*Diagnostic {
	t.Helper()
	obj, diags := Assemble([]byte(src))
	require.Nil(t, obj)
	require.NotEmpty(t, diags)
	return diags
}

func TestAssembleADCImmediate(t *testing.T) {
	obj := assemble(t, `
.text
main:
	ADC r0, r1, #42
`)
	require.Len(t, obj.Text, 4)
	op, s, rd, rn, o2 := cpu.DecodeO(word(obj.Text))
	assert.Equal(t, cpu.OpADC, op)
	assert.False(t, s)
	assert.Equal(t, 0, rd)
	assert.Equal(t, 1, rn)
	assert.True(t, o2.Imm)
	assert.Equal(t, uint16(42), o2.Imm16)
}

func TestAssembleADCRegisterOverflowShiftAmount(t *testing.T) {
	assembleFails(t, `
.text
main:
	ADC r0, r1, r2 LSL #32
`)
}

func TestAssembleLDRPositiveOffset(t *testing.T) {
	obj := assemble(t, `
.text
main:
	LDR r0, [r1, #16]
`)
	op, rd, rn, mode, up, m := cpu.DecodeM(word(obj.Text))
	assert.Equal(t, cpu.OpLDR, op)
	assert.Equal(t, 0, rd)
	assert.Equal(t, 1, rn)
	assert.Equal(t, cpu.OffsetAddr, mode)
	assert.True(t, up)
	assert.True(t, m.Imm)
	assert.Equal(t, uint16(16), m.Imm14)
}

func TestAssembleLDRPreIndexedWriteback(t *testing.T) {
	obj := assemble(t, `
.text
main:
	LDR r0, [r1, #-4]!
`)
	op, rd, rn, mode, up, m := cpu.DecodeM(word(obj.Text))
	assert.Equal(t, cpu.OpLDR, op)
	assert.Equal(t, 0, rd)
	assert.Equal(t, 1, rn)
	assert.Equal(t, cpu.PreIndexed, mode)
	assert.False(t, up)
	assert.Equal(t, uint16(4), m.Imm14)
}

func TestAssembleSTRPostIndexed(t *testing.T) {
	obj := assemble(t, `
.text
main:
	STR r0, [r1], #8
`)
	op, rd, rn, mode, up, m := cpu.DecodeM(word(obj.Text))
	assert.Equal(t, cpu.OpSTR, op)
	assert.Equal(t, 0, rd)
	assert.Equal(t, 1, rn)
	assert.Equal(t, cpu.PostIndexed, mode)
	assert.True(t, up)
	assert.Equal(t, uint16(8), m.Imm14)
}

func TestAssembleBranchToLabelEmitsPCREL24Relocation(t *testing.T) {
	obj := assemble(t, `
.text
loop:
	ADD r0, r0, #1
	B loop
`)
	require.Len(t, obj.Text, 8)
	require.Len(t, obj.TextRelocs, 1)
	reloc := obj.TextRelocs[0]
	assert.Equal(t, uint32(4), reloc.Offset)
	assert.Equal(t, objfile.RelocPCREL24, reloc.Kind)
	assert.Equal(t, int32(-4), reloc.Addend)

	sym := obj.Symbols[reloc.SymbolIdx]
	assert.Equal(t, "loop", sym.Name)
	assert.Equal(t, uint32(0), sym.Value)
}

func TestAssembleGlobalLabelBindsGlobal(t *testing.T) {
	obj := assemble(t, `
.global main
.text
main:
	HALT
`)
	require.Len(t, obj.Symbols, 1)
	assert.Equal(t, "main", obj.Symbols[0].Name)
	assert.Equal(t, objfile.BindGlobal, obj.Symbols[0].Binding)
	assert.Equal(t, int16(0), obj.Symbols[0].SectionIdx)
}

func TestAssembleGlobalUndefinedIsError(t *testing.T) {
	assembleFails(t, `
.global missing
.text
main:
	HALT
`)
}

func TestAssembleExternProducesWeakSymbol(t *testing.T) {
	obj := assemble(t, `
.extern helper
.text
	BL helper
`)
	require.Len(t, obj.Symbols, 1)
	assert.Equal(t, "helper", obj.Symbols[0].Name)
	assert.Equal(t, objfile.BindWeak, obj.Symbols[0].Binding)
	assert.True(t, obj.Symbols[0].Undefined())
}

func TestAssembleDuplicateLabelInSameScope(t *testing.T) {
	diags := assembleFails(t, `
.text
again:
	HALT
again:
	HALT
`)
	assertHasKind(t, diags, DuplicateLabel)
}

func TestAssembleScopedLabelsDoNotCollide(t *testing.T) {
	obj := assemble(t, `
.text
outer:
	.scope
inner:
	ADD r0, r0, #1
	.scend
	.scope
inner:
	ADD r1, r1, #1
	.scend
	HALT
`)
	var count int
	for _, s := range obj.Symbols {
		if s.Name == "inner" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestAssembleScendWithoutScope(t *testing.T) {
	diags := assembleFails(t, `
.text
main:
	.scend
	HALT
`)
	assertHasKind(t, diags, UnmatchedScend)
}

func TestAssembleInstructionOutsideTextIsWrongSection(t *testing.T) {
	diags := assembleFails(t, `
.data
main:
	HALT
`)
	assertHasKind(t, diags, WrongSection)
}

func TestAssembleDataDirectiveOutsideDataIsWrongSection(t *testing.T) {
	diags := assembleFails(t, `
.text
main:
	.word 1
`)
	assertHasKind(t, diags, WrongSection)
}

func TestAssembleOrgMustNotMoveBackward(t *testing.T) {
	diags := assembleFails(t, `
.data
	.word 1, 2, 3
	.org 4
`)
	assertHasKind(t, diags, BadAlign)
}

func TestAssembleOrgInTextRequires4ByteAlignment(t *testing.T) {
	diags := assembleFails(t, `
.text
main:
	.org 2
`)
	assertHasKind(t, diags, BadAlign)
}

func TestAssembleAdvancePadsDataWithZeros(t *testing.T) {
	obj := assemble(t, `
.data
buf:
	.byte 1, 2
	.advance 6
tail:
	.byte 9
`)
	assert.Equal(t, []byte{1, 2, 0, 0, 0, 0, 0, 0, 9}, obj.Data)
}

func TestAssembleAlignInTextRejectsNonPowerOfTwo(t *testing.T) {
	diags := assembleFails(t, `
.text
main:
	HALT
	.align 3
`)
	assertHasKind(t, diags, BadAlign)
}

func TestAssembleWordDirectiveWithSymbolEmitsABS32Reloc(t *testing.T) {
	obj := assemble(t, `
.data
ptr:
	.word target
.text
target:
	HALT
`)
	require.Len(t, obj.DataRelocs, 1)
	reloc := obj.DataRelocs[0]
	assert.Equal(t, objfile.RelocABS32, reloc.Kind)
	assert.Equal(t, "target", obj.Symbols[reloc.SymbolIdx].Name)
}

func TestAssembleDwordRejectsSymbolReference(t *testing.T) {
	diags := assembleFails(t, `
.data
ptr:
	.dword target
.text
target:
	HALT
`)
	assertHasKind(t, diags, Syntax)
}

func TestAssembleSbyteIsSynonymForByte(t *testing.T) {
	a := assemble(t, `
.data
	.byte 1
`)
	b := assemble(t, `
.data
	.sbyte 1
`)
	assert.Equal(t, a.Data, b.Data)
}

func TestAssembleAsciiAndAsciz(t *testing.T) {
	obj := assemble(t, `
.data
	.ascii "hi"
	.asciz "ok"
`)
	assert.Equal(t, []byte("hi" + "ok\x00"), obj.Data)
}

func TestAssembleBssReservesSizeWithoutBytes(t *testing.T) {
	obj := assemble(t, `
.bss
buf:
	.advance 16
`)
	assert.Equal(t, uint32(16), obj.BSSSize)
	assert.Empty(t, obj.Data)
}

func TestAssembleUnknownDirective(t *testing.T) {
	diags := assembleFails(t, `
.text
main:
	.bogus 1
`)
	assertHasKind(t, diags, UndefDirective)
}

func TestAssembleMultiplyFamily(t *testing.T) {
	obj := assemble(t, `
.text
main:
	MUL r0, r1, r2
	UMULL r3, r4, r5, r6
`)
	require.Len(t, obj.Text, 8)

	op, _, rdHi, rdLo, rn, rm := cpu.DecodeO2(word(obj.Text[0:4]))
	assert.Equal(t, cpu.OpMUL, op)
	assert.Equal(t, 0, rdHi)
	assert.Equal(t, 0, rdLo)
	assert.Equal(t, 1, rn)
	assert.Equal(t, 2, rm)

	op, _, rdHi, rdLo, rn, rm = cpu.DecodeO2(word(obj.Text[4:8]))
	assert.Equal(t, cpu.OpUMULL, op)
	assert.Equal(t, 4, rdHi)
	assert.Equal(t, 3, rdLo)
	assert.Equal(t, 5, rn)
	assert.Equal(t, 6, rm)
}

func TestAssembleShiftFamilyThirtyTwoEncodesAsZero(t *testing.T) {
	obj := assemble(t, `
.text
main:
	LSR r0, r1, #32
`)
	_, _, _, _, sh := cpu.DecodeO1(word(obj.Text))
	assert.True(t, sh.Imm)
	assert.Equal(t, uint8(0), sh.Amt)
}

func TestAssembleRoundTripThroughObjectBytes(t *testing.T) {
	obj := assemble(t, `
.global main
.text
main:
	ADD r0, r0, #1
	ADD r0, r0, #1
	HALT
`)
	raw, err := obj.Bytes()
	require.NoError(t, err)

	back, err := objfile.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, obj.Text, back.Text)
	assert.Equal(t, obj.Symbols, back.Symbols)
}

func assertHasKind(t *testing.T, diags []*Diagnostic, k Kind) {
	t.Helper()
	for _, d := range diags {
		if d.Kind == k {
			return
		}
	}
	t.Fatalf("expected a diagnostic of kind %s, got %s", k, spew.Sdump(diags))
}

func word(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
