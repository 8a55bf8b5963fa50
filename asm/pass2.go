package asm

import (
	"strings"

	"b32/bits"
	"b32/cpu"
	"b32/objfile"
	"b32/token"
)

// pass2 re-walks the statements pass1 already validated, this time
// emitting encoded instructions, data bytes, and relocation entries into a
// fresh objfile.Object. Section-pointer arithmetic is recomputed from
// scratch rather than reused from pass1, but follows the identical rules,
// so the two walks agree exactly on every label's address.
func (a *Assembler) pass2() *objfile.Object {
	a.section = NoSection
	a.pointers = map[Section]uint32{Text: 0, Data: 0, BSS: 0}
	a.scopeStack = []int32{0}
	a.nextScope = 0

	obj := objfile.New(objfile.FileRelocatable)

	for _, stmt := range a.stmts {
		switch {
		case stmt.Directive != "":
			if a.pass2Directive(obj, stmt) {
				goto done
			}
		case stmt.Mnemonic != "":
			a.emitInstruction(obj, stmt)
		}
	}
done:

	obj.BSSSize = a.pointers[BSS]
	a.finalizeSymbols(obj)
	return obj
}

// pass2Directive mirrors pass1Directive's layout effects and additionally
// emits section content for data-defining directives. Returns true for
// '.stop'.
func (a *Assembler) pass2Directive(obj *objfile.Object, stmt Statement) bool {
	dir := strings.ToLower(stmt.Directive)
	switch dir {
	case ".global", ".extern":
		return false // symbol-table effects already applied in pass 1

	case ".text":
		a.section = Text
		return false
	case ".data":
		a.section = Data
		return false
	case ".bss":
		a.section = BSS
		return false

	case ".org":
		a.applyOrgOrAdvance(stmt, false)
		a.padTo(obj)
		return false
	case ".advance":
		a.applyOrgOrAdvance(stmt, true)
		a.padTo(obj)
		return false
	case ".align":
		a.applyAlign(stmt)
		a.padTo(obj)
		return false

	case ".scope":
		a.nextScope++
		a.scopeStack = append(a.scopeStack, a.nextScope)
		return false
	case ".scend":
		a.scopeStack = a.scopeStack[:len(a.scopeStack)-1]
		return false

	case ".byte", ".sbyte", ".dbyte", ".sdbyte", ".word", ".sword", ".dword", ".sdword":
		a.emitDataDirective(obj, dir, stmt)
		return false

	case ".ascii", ".asciz":
		a.emitStringDirective(obj, dir, stmt)
		return false

	case ".stop":
		return true

	default:
		return false // already reported as UndefDirective in pass 1
	}
}

// padTo extends the current section's backing buffer with zero bytes up to
// the section pointer recorded by .org/.advance/.align, since those
// directives reserve space without supplying content. Text and Data both
// need real backing bytes: the buffer's length is what offset and
// relocation-site calculations key off of once the actual instruction bytes
// resume, so a gap left unpadded would desynchronize every subsequent
// offset from the pointer pass1 already committed to. .bss carries no
// bytes at all; only BSSSize, finalized at the end of pass 2, matters.
func (a *Assembler) padTo(obj *objfile.Object) {
	switch a.section {
	case Text:
		for uint32(len(obj.Text)) < a.pointers[Text] {
			obj.Text = append(obj.Text, 0)
		}
	case Data:
		for uint32(len(obj.Data)) < a.pointers[Data] {
			obj.Data = append(obj.Data, 0)
		}
	}
}

func (a *Assembler) emitDataDirective(obj *objfile.Object, dir string, stmt Statement) {
	width := dataDirectiveWidth[dir]
	for _, argToks := range stmt.Args {
		e, err := evalExpr(argToks, stmt.Line)
		if err != nil {
			a.fail(err.(*Error))
			continue
		}
		offset := uint32(len(obj.Data))
		w := bits.NewWriter(obj.Data)
		w.WriteN(bits.Dword(uint64(e.Value)), width, bits.LittleEndian)
		obj.Data = w.Bytes()

		if e.Symbol == "" {
			continue
		}
		kind, ok := relocKindForWidth(width)
		if !ok {
			a.fail(newErr(Syntax, stmt.Line, "%s cannot hold a relocatable symbol reference (width %d)", stmt.Directive, width))
			continue
		}
		sym := a.declareOrGet(e.Symbol)
		obj.DataRelocs = append(obj.DataRelocs, objfile.Relocation{
			Offset: offset, SymbolIdx: 0, Kind: kind, Addend: int32(e.Value),
		})
		a.pendingSymbolRelocs = append(a.pendingSymbolRelocs, pendingReloc{sym: sym, inText: false, index: len(obj.DataRelocs) - 1})
	}
}

func relocKindForWidth(width int) (objfile.RelocKind, bool) {
	switch width {
	case 4:
		return objfile.RelocABS32, true
	case 2:
		return objfile.RelocABS16, true
	case 1:
		return objfile.RelocABS8, true
	default:
		return 0, false
	}
}

func (a *Assembler) emitStringDirective(obj *objfile.Object, dir string, stmt Statement) {
	if len(stmt.Args) != 1 || len(stmt.Args[0]) != 1 || stmt.Args[0][0].Kind != token.StringLit {
		return // already reported in pass 1
	}
	decoded, err := decodeStringLit(stmt.Args[0][0].Lexeme)
	if err != nil {
		a.fail(newErr(Syntax, stmt.Line, "%s", err))
		return
	}
	obj.Data = append(obj.Data, decoded...)
	if dir == ".asciz" {
		obj.Data = append(obj.Data, 0)
	}
}

// emitInstruction encodes one instruction statement into obj.Text,
// appending a PCREL24 relocation when the operand is a branch target.
func (a *Assembler) emitInstruction(obj *objfile.Object, stmt Statement) {
	instrOffset := a.pointers[Text]
	a.pointers[Text] += 4

	word, relocSym, relocAddend, err := a.encodeInstruction(stmt)
	if err != nil {
		a.fail(err)
		return
	}
	w := bits.NewWriter(obj.Text)
	w.WriteWord(word, bits.LittleEndian)
	obj.Text = w.Bytes()

	if relocSym != "" {
		sym := a.declareOrGet(relocSym)
		obj.TextRelocs = append(obj.TextRelocs, objfile.Relocation{
			Offset: instrOffset, SymbolIdx: 0, Kind: objfile.RelocPCREL24, Addend: relocAddend,
		})
		a.pendingSymbolRelocs = append(a.pendingSymbolRelocs, pendingReloc{sym: sym, inText: true, index: len(obj.TextRelocs) - 1})
	}
}

// encodeInstruction dispatches by mnemonic to the matching format_*
// constructor. relocSym is non-empty only for B/BL with a label operand.
func (a *Assembler) encodeInstruction(stmt Statement) (word bits.Word, relocSym string, relocAddend int32, err *Error) {
	op, isFamily := mnemonicOpcode[stmt.Mnemonic]
	if !isFamily {
		return 0, "", 0, newErr(Syntax, stmt.Line, "unknown mnemonic %q", stmt.Mnemonic)
	}

	switch stmt.Mnemonic {
	case "ADD", "ADC", "SUB", "SBC", "RSB", "RSC", "AND", "ORR", "EOR", "BIC":
		if len(stmt.Args) != 3 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "%s expects 3 operands", stmt.Mnemonic)
		}
		rd, e1 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		if e1 != nil {
			return 0, "", 0, e1.(*Error)
		}
		rn, e2 := parseRegister(firstTok(stmt.Args[1]), stmt.Line)
		if e2 != nil {
			return 0, "", 0, e2.(*Error)
		}
		o2, e3 := parseShiftedOperand2(stmt.Args[2], stmt.Line)
		if e3 != nil {
			return 0, "", 0, e3.(*Error)
		}
		return cpu.FormatO(op, stmt.SuffixS, rd, rn, o2), "", 0, nil

	case "TST", "TEQ", "CMP", "CMN":
		if len(stmt.Args) != 2 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "%s expects 2 operands", stmt.Mnemonic)
		}
		rn, e1 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		if e1 != nil {
			return 0, "", 0, e1.(*Error)
		}
		o2, e2 := parseShiftedOperand2(stmt.Args[1], stmt.Line)
		if e2 != nil {
			return 0, "", 0, e2.(*Error)
		}
		return cpu.FormatO(op, false, 0, rn, o2), "", 0, nil

	case "LSL", "LSR", "ASR", "ROR":
		if len(stmt.Args) != 3 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "%s expects 3 operands", stmt.Mnemonic)
		}
		rd, e1 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		if e1 != nil {
			return 0, "", 0, e1.(*Error)
		}
		rm, e2 := parseRegister(firstTok(stmt.Args[1]), stmt.Line)
		if e2 != nil {
			return 0, "", 0, e2.(*Error)
		}
		sh, e3 := parseShiftOperand(op, stmt.Args[2], stmt.Line)
		if e3 != nil {
			return 0, "", 0, e3.(*Error)
		}
		return cpu.FormatO1(op, stmt.SuffixS, rd, rm, sh), "", 0, nil

	case "MUL":
		if len(stmt.Args) != 3 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "MUL expects 3 operands")
		}
		rd, e1 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		rn, e2 := parseRegister(firstTok(stmt.Args[1]), stmt.Line)
		rm, e3 := parseRegister(firstTok(stmt.Args[2]), stmt.Line)
		if err := firstErr(e1, e2, e3); err != nil {
			return 0, "", 0, err
		}
		return cpu.FormatO2(op, stmt.SuffixS, 0, rd, rn, rm), "", 0, nil

	case "UMULL", "SMULL":
		if len(stmt.Args) != 4 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "%s expects 4 operands", stmt.Mnemonic)
		}
		rdLo, e1 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		rdHi, e2 := parseRegister(firstTok(stmt.Args[1]), stmt.Line)
		rn, e3 := parseRegister(firstTok(stmt.Args[2]), stmt.Line)
		rm, e4 := parseRegister(firstTok(stmt.Args[3]), stmt.Line)
		if err := firstErr(e1, e2, e3, e4); err != nil {
			return 0, "", 0, err
		}
		return cpu.FormatO2(op, stmt.SuffixS, rdHi, rdLo, rn, rm), "", 0, nil

	case "LDR", "STR", "LDRB", "STRB", "LDRH", "STRH":
		addr, e1 := a.parseMemInstruction(stmt)
		if e1 != nil {
			return 0, "", 0, e1
		}
		rd, e2 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		if e2 != nil {
			return 0, "", 0, e2.(*Error)
		}
		return cpu.FormatM(op, rd, addr.rn, addr.mode, addr.up, addr.m), "", 0, nil

	case "B", "BL":
		if len(stmt.Args) != 1 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "%s expects a single label operand", stmt.Mnemonic)
		}
		e, eerr := evalExpr(stmt.Args[0], stmt.Line)
		if eerr != nil {
			return 0, "", 0, eerr.(*Error)
		}
		if e.Symbol == "" {
			return 0, "", 0, newErr(Syntax, stmt.Line, "%s operand must reference a label", stmt.Mnemonic)
		}
		// Placeholder offset of 0; the real value is patched at link time.
		// Addend -4 compensates for the CPU's pre-incremented-PC branch
		// convention (execBranch adds the offset to PC *after* it has
		// already advanced past this instruction).
		return cpu.FormatB(op, 0), e.Symbol, int32(e.Value) - 4, nil

	case "RET":
		if len(stmt.Args) != 1 {
			return 0, "", 0, newErr(Syntax, stmt.Line, "RET expects a single register operand")
		}
		rn, e1 := parseRegister(firstTok(stmt.Args[0]), stmt.Line)
		if e1 != nil {
			return 0, "", 0, e1.(*Error)
		}
		return cpu.FormatR(op, rn), "", 0, nil

	case "HALT":
		return cpu.FormatHalt(), "", 0, nil

	default:
		return 0, "", 0, newErr(Syntax, stmt.Line, "unsupported mnemonic %q", stmt.Mnemonic)
	}
}

func (a *Assembler) parseMemInstruction(stmt Statement) (memAddr, *Error) {
	if len(stmt.Args) < 2 {
		return memAddr{}, newErr(Syntax, stmt.Line, "%s expects a register and a memory operand", stmt.Mnemonic)
	}
	addr, err := parseMemOperand(stmt.Args[1:], stmt.Line)
	if err != nil {
		return memAddr{}, err.(*Error)
	}
	return addr, nil
}

func firstTok(toks []token.Token) token.Token {
	s := significant(toks)
	if len(s) == 0 {
		return token.Token{}
	}
	return s[0]
}

func firstErr(errs ...error) *Error {
	for _, e := range errs {
		if e != nil {
			return e.(*Error)
		}
	}
	return nil
}

// mnemonicOpcode maps every recognized mnemonic to its Opcode, used purely
// to validate stmt.Mnemonic before the per-family switch in
// encodeInstruction picks its operand shape.
var mnemonicOpcode = map[string]cpu.Opcode{
	"ADD": cpu.OpADD, "ADC": cpu.OpADC, "SUB": cpu.OpSUB, "SBC": cpu.OpSBC, "RSB": cpu.OpRSB, "RSC": cpu.OpRSC,
	"AND": cpu.OpAND, "ORR": cpu.OpORR, "EOR": cpu.OpEOR, "BIC": cpu.OpBIC, "TST": cpu.OpTST, "TEQ": cpu.OpTEQ,
	"LSL": cpu.OpLSL, "LSR": cpu.OpLSR, "ASR": cpu.OpASR, "ROR": cpu.OpROR,
	"MUL": cpu.OpMUL, "UMULL": cpu.OpUMULL, "SMULL": cpu.OpSMULL,
	"CMP": cpu.OpCMP, "CMN": cpu.OpCMN,
	"LDR": cpu.OpLDR, "STR": cpu.OpSTR, "LDRB": cpu.OpLDRB, "STRB": cpu.OpSTRB, "LDRH": cpu.OpLDRH, "STRH": cpu.OpSTRH,
	"B": cpu.OpB, "BL": cpu.OpBL, "RET": cpu.OpRET, "HALT": cpu.OpHALT,
}

// pendingReloc defers filling in a relocation's final SymbolIdx until
// finalizeSymbols has assigned every symbolInfo its place in obj.Symbols.
// It records a slice+index rather than a *Relocation: obj.TextRelocs and
// obj.DataRelocs keep growing via append after earlier entries are queued
// here, and append is free to reallocate the backing array, which would
// strand a pointer taken before the final append.
type pendingReloc struct {
	sym    *symbolInfo
	inText bool
	index  int
}

// finalizeSymbols builds obj.Symbols from every symbolInfo seen across both
// passes (in first-appearance order) and backfills every pending
// relocation's SymbolIdx now that indices are stable.
func (a *Assembler) finalizeSymbols(obj *objfile.Object) {
	obj.Symbols = make([]objfile.Symbol, len(a.symbolOrder))
	for i, s := range a.symbolOrder {
		s.symIndex = i
		binding := objfile.BindLocal
		switch {
		case s.section == NoSection:
			binding = objfile.BindWeak
		case s.global:
			binding = objfile.BindGlobal
		}
		obj.Symbols[i] = objfile.Symbol{
			Name:       s.name,
			Binding:    binding,
			SectionIdx: sectionIdx(s.section),
			Value:      s.offset,
			ScopeID:    s.scopeID,
		}
		if s.section == Text && binding == objfile.BindGlobal {
			obj.DebugHints = append(obj.DebugHints, objfile.DebugHint{Name: s.name, Start: s.offset, End: s.offset})
		}
	}
	for _, p := range a.pendingSymbolRelocs {
		if p.inText {
			obj.TextRelocs[p.index].SymbolIdx = uint32(p.sym.symIndex)
		} else {
			obj.DataRelocs[p.index].SymbolIdx = uint32(p.sym.symIndex)
		}
	}
}
