package asm

import (
	"strconv"
	"strings"

	"b32/cpu"
	"b32/token"
)

var registerNumbers = func() map[string]int {
	m := map[string]int{"sp": cpu.RegSP, "lr": cpu.RegLR, "fp": cpu.RegFP}
	for i := 0; i < cpu.NumRegisters; i++ {
		m["r"+strconv.Itoa(i)] = i
	}
	return m
}()

func parseRegister(tok token.Token, line int) (int, error) {
	if tok.Kind != token.Register {
		return 0, newErr(Syntax, line, "expected a register, got %s %q", tok.Kind, tok.Lexeme)
	}
	name := strings.ToLower(tok.Lexeme)
	if r, ok := registerNumbers[name]; ok {
		return r, nil
	}
	// "pc" lexes as a Register but has no general-purpose-register slot;
	// this architecture's PC is a dedicated, non-indexable field of Cpu.
	return 0, newErr(Syntax, line, "register %q cannot be used as an instruction operand", tok.Lexeme)
}

func shiftOpFromIdent(lexeme string) (cpu.ShiftType, bool) {
	switch strings.ToUpper(lexeme) {
	case "LSL":
		return cpu.ShiftLSL, true
	case "LSR":
		return cpu.ShiftLSR, true
	case "ASR":
		return cpu.ShiftASR, true
	case "ROR":
		return cpu.ShiftROR, true
	default:
		return 0, false
	}
}

// constExpr requires toks to evaluate to a pure constant (no symbol
// reference); used for shift amounts and ALU/memory immediates, none of
// which this architecture's encoding can express as a relocatable field.
func constExpr(toks []token.Token, line int, what string) (int64, error) {
	e, err := evalExpr(toks, line)
	if err != nil {
		return 0, err
	}
	if e.Symbol != "" {
		return 0, newErr(Syntax, line, "%s must be a constant, not a symbol reference", what)
	}
	return e.Value, nil
}

// parseShiftedOperand2 parses an ALU/bitwise third operand: "#expr", a bare
// register, or "Rm SHIFTOP #expr".
func parseShiftedOperand2(toks []token.Token, line int) (cpu.Operand2, error) {
	toks = significant(toks)
	if len(toks) == 0 {
		return cpu.Operand2{}, newErr(Syntax, line, "expected an operand")
	}
	if toks[0].Kind == token.Punct && toks[0].Lexeme == "#" {
		v, err := constExpr(toks[1:], line, "immediate operand")
		if err != nil {
			return cpu.Operand2{}, err
		}
		return cpu.Operand2{Imm: true, Imm16: uint16(v)}, nil
	}
	rm, err := parseRegister(toks[0], line)
	if err != nil {
		return cpu.Operand2{}, err
	}
	if len(toks) == 1 {
		return cpu.Operand2{Rm: rm}, nil
	}
	if len(toks) < 3 || toks[1].Kind != token.Ident {
		return cpu.Operand2{}, newErr(Syntax, line, "expected \"Rm SHIFTOP #imm\"")
	}
	st, ok := shiftOpFromIdent(toks[1].Lexeme)
	if !ok {
		return cpu.Operand2{}, newErr(Syntax, line, "unknown shift mnemonic %q", toks[1].Lexeme)
	}
	if toks[2].Kind != token.Punct || toks[2].Lexeme != "#" {
		return cpu.Operand2{}, newErr(Syntax, line, "expected \"#imm\" after shift mnemonic")
	}
	amt, err := constExpr(toks[3:], line, "shift amount")
	if err != nil {
		return cpu.Operand2{}, err
	}
	if amt < 0 || amt > 31 {
		return cpu.Operand2{}, newErr(ExprOverflow, line, "shift amount %d out of range 0..31", amt)
	}
	return cpu.Operand2{Rm: rm, ShiftOp: st, ShiftAmt: uint8(amt)}, nil
}

// parseShiftOperand parses the amount operand of a dedicated shift
// instruction (LSL/LSR/ASR/ROR): "#expr" or a bare register.
func parseShiftOperand(op cpu.Opcode, toks []token.Token, line int) (cpu.ShiftOperand, error) {
	toks = significant(toks)
	if len(toks) == 0 {
		return cpu.ShiftOperand{}, newErr(Syntax, line, "expected a shift amount")
	}
	if toks[0].Kind == token.Punct && toks[0].Lexeme == "#" {
		v, err := constExpr(toks[1:], line, "shift amount")
		if err != nil {
			return cpu.ShiftOperand{}, err
		}
		lo, hi := int64(0), int64(31)
		if op != cpu.OpLSL {
			lo, hi = 1, 32
		}
		if v < lo || v > hi {
			return cpu.ShiftOperand{}, newErr(ExprOverflow, line, "shift amount %d out of range %d..%d", v, lo, hi)
		}
		amt := v
		if amt == 32 {
			amt = 0 // "0 means 32" encoding, per spec.md §4.5
		}
		return cpu.ShiftOperand{Imm: true, Amt: uint8(amt)}, nil
	}
	rs, err := parseRegister(toks[0], line)
	if err != nil {
		return cpu.ShiftOperand{}, err
	}
	return cpu.ShiftOperand{Rs: rs}, nil
}

// memAddr is the parsed shape of a format_m addressing operand, independent
// of symbol resolution (which this architecture's memory instructions never
// need: the base is always a register).
type memAddr struct {
	rn   int
	mode cpu.AddrMode
	up   bool
	m    cpu.MemOperand
}

// parseMemOperand parses the bracketed addressing group (and, for
// post-indexed forms, the trailing offset argument that splitArgs already
// separated out into args[1]).
func parseMemOperand(args [][]token.Token, line int) (memAddr, error) {
	if len(args) == 0 {
		return memAddr{}, newErr(Syntax, line, "expected a memory operand")
	}
	first := significant(args[0])
	if len(first) < 2 || first[0].Kind != token.Punct || first[0].Lexeme != "[" {
		return memAddr{}, newErr(Syntax, line, "expected \"[Rn, ...]\"")
	}
	closeIdx := -1
	for i, t := range first {
		if t.Kind == token.Punct && t.Lexeme == "]" {
			closeIdx = i
			break
		}
	}
	if closeIdx < 0 {
		return memAddr{}, newErr(Syntax, line, "unterminated memory operand")
	}
	inner := first[1:closeIdx]
	trailer := first[closeIdx+1:] // "!" for pre-indexed, or nothing

	preWriteback := len(trailer) == 1 && trailer[0].Kind == token.Punct && trailer[0].Lexeme == "!"
	if len(trailer) > 0 && !preWriteback {
		return memAddr{}, newErr(Syntax, line, "unexpected tokens after memory operand")
	}

	inner = significant(inner)
	if len(inner) == 0 {
		return memAddr{}, newErr(Syntax, line, "expected a base register")
	}
	rn, err := parseRegister(inner[0], line)
	if err != nil {
		return memAddr{}, err
	}

	// Post-indexed: "[Rn], offset" — splitArgs has already separated the
	// bracket group from the trailing offset expression into args[1].
	if len(inner) == 1 {
		if preWriteback {
			return memAddr{}, newErr(Syntax, line, "\"!\" has no effect on a bare [Rn]")
		}
		if len(args) == 1 {
			return memAddr{rn: rn, mode: cpu.OffsetAddr, up: true, m: cpu.MemOperand{Imm: true, Imm14: 0}}, nil
		}
		if len(args) != 2 {
			return memAddr{}, newErr(Syntax, line, "expected exactly one offset after \"[Rn]\"")
		}
		m, up, err := parseMemOffsetExpr(args[1], line)
		if err != nil {
			return memAddr{}, err
		}
		return memAddr{rn: rn, mode: cpu.PostIndexed, up: up, m: m}, nil
	}

	if len(args) != 1 {
		return memAddr{}, newErr(Syntax, line, "unexpected tokens after \"[Rn, ...]\"")
	}
	if len(inner) < 2 || inner[1].Kind != token.Punct || inner[1].Lexeme != "," {
		return memAddr{}, newErr(Syntax, line, "expected \",\" after base register")
	}
	m, up, err := parseMemOffsetExpr(inner[2:], line)
	if err != nil {
		return memAddr{}, err
	}
	mode := cpu.OffsetAddr
	if preWriteback {
		mode = cpu.PreIndexed
	}
	return memAddr{rn: rn, mode: mode, up: up, m: m}, nil
}

// parseMemOffsetExpr parses either "#expr" (possibly negative, folded into
// the up/down bit) or "Rm" optionally followed by "SHIFTOP #imm".
func parseMemOffsetExpr(toks []token.Token, line int) (cpu.MemOperand, bool, error) {
	toks = significant(toks)
	if len(toks) == 0 {
		return cpu.MemOperand{}, true, newErr(Syntax, line, "expected an offset")
	}
	if toks[0].Kind == token.Punct && toks[0].Lexeme == "#" {
		v, err := constExpr(toks[1:], line, "memory offset")
		if err != nil {
			return cpu.MemOperand{}, true, err
		}
		up := v >= 0
		mag := v
		if !up {
			mag = -mag
		}
		if mag > 0x3FFF {
			return cpu.MemOperand{}, true, newErr(ExprOverflow, line, "memory offset %d exceeds 14-bit field", v)
		}
		return cpu.MemOperand{Imm: true, Imm14: uint16(mag)}, up, nil
	}
	rm, err := parseRegister(toks[0], line)
	if err != nil {
		return cpu.MemOperand{}, true, err
	}
	if len(toks) == 1 {
		return cpu.MemOperand{Rm: rm}, true, nil
	}
	if len(toks) < 3 || toks[1].Kind != token.Ident || toks[2].Kind != token.Punct || toks[2].Lexeme != "#" {
		return cpu.MemOperand{}, true, newErr(Syntax, line, "expected \"Rm SHIFTOP #imm\"")
	}
	st, ok := shiftOpFromIdent(toks[1].Lexeme)
	if !ok {
		return cpu.MemOperand{}, true, newErr(Syntax, line, "unknown shift mnemonic %q", toks[1].Lexeme)
	}
	amt, err := constExpr(toks[3:], line, "shift amount")
	if err != nil {
		return cpu.MemOperand{}, true, err
	}
	if amt < 0 || amt > 31 {
		return cpu.MemOperand{}, true, newErr(ExprOverflow, line, "shift amount %d out of range 0..31", amt)
	}
	return cpu.MemOperand{Rm: rm, ShiftOp: st, ShiftAmt: uint8(amt)}, true, nil
}
