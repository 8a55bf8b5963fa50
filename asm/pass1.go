package asm

import (
	"strings"

	"b32/token"
)

// dataDirectiveWidth maps a data-defining directive (including its
// "pointless, same as" synonyms per spec.md §9) to the byte width of each
// of its arguments.
var dataDirectiveWidth = map[string]int{
	".byte": 1, ".sbyte": 1,
	".dbyte": 2, ".sdbyte": 2,
	".word": 4, ".sword": 4,
	".dword": 8, ".sdword": 8,
}

// pass1 walks the parsed statements once, computing every label's
// section-relative address and validating directive placement/alignment.
// It never emits bytes; pass2 recomputes the same pointer walk in lockstep
// while actually encoding instructions and data.
func (a *Assembler) pass1() {
	for _, stmt := range a.stmts {
		if stmt.Label != "" {
			a.defineLabel(stmt.Label, stmt.Line)
		}
		switch {
		case stmt.Directive != "":
			if a.pass1Directive(stmt) {
				return // .stop
			}
		case stmt.Mnemonic != "":
			if a.section != Text {
				a.fail(newErr(WrongSection, stmt.Line, "instruction %s outside .text", stmt.Mnemonic))
				continue
			}
			a.pointers[Text] += 4
		}
	}
	a.finalizeGlobals()
}

func (a *Assembler) defineLabel(name string, line int) {
	scope := a.curScope()
	if existing := a.lookupInScope(name, scope); existing != nil {
		a.fail(newErr(DuplicateLabel, line, "label %q already defined in this scope", name))
		return
	}
	info := &symbolInfo{name: name, scopeID: scope}
	if a.section == NoSection {
		info.section = NoSection // address-less placeholder, per spec.md §4.8
	} else {
		info.section = a.section
		info.offset = a.pointers[a.section]
	}
	a.symbols[name] = append(a.symbols[name], info)
	a.symbolOrder = append(a.symbolOrder, info)
}

// pass1Directive applies one directive's layout effect. It returns true
// only for '.stop', signalling the caller to end assembly immediately.
func (a *Assembler) pass1Directive(stmt Statement) bool {
	dir := strings.ToLower(stmt.Directive)
	switch dir {
	case ".global":
		if a.section != NoSection {
			a.fail(newErr(WrongSection, stmt.Line, ".global must appear outside any section"))
			return false
		}
		name, ok := a.singleIdentArg(stmt, ".global")
		if ok {
			a.globalDecls = append(a.globalDecls, globalDecl{name: name, line: stmt.Line})
		}
		return false

	case ".extern":
		if a.section != NoSection {
			a.fail(newErr(WrongSection, stmt.Line, ".extern must appear outside any section"))
			return false
		}
		name, ok := a.singleIdentArg(stmt, ".extern")
		if !ok {
			return false
		}
		if existing := a.lookupInScope(name, a.curScope()); existing != nil {
			a.fail(newErr(DuplicateLabel, stmt.Line, "%q already declared", name))
			return false
		}
		info := &symbolInfo{name: name, scopeID: a.curScope(), section: NoSection, weak: true}
		a.symbols[name] = append(a.symbols[name], info)
		a.symbolOrder = append(a.symbolOrder, info)
		return false

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
		return false
	case ".advance":
		a.applyOrgOrAdvance(stmt, true)
		return false

	case ".align":
		a.applyAlign(stmt)
		return false

	case ".scope":
		a.nextScope++
		a.scopeStack = append(a.scopeStack, a.nextScope)
		return false
	case ".scend":
		if len(a.scopeStack) <= 1 {
			a.fail(newErr(UnmatchedScend, stmt.Line, ".scend without matching .scope"))
			return false
		}
		a.scopeStack = a.scopeStack[:len(a.scopeStack)-1]
		return false

	case ".byte", ".sbyte", ".dbyte", ".sdbyte", ".word", ".sword", ".dword", ".sdword":
		if a.section != Data {
			a.fail(newErr(WrongSection, stmt.Line, "%s only valid in .data", stmt.Directive))
			return false
		}
		width := dataDirectiveWidth[dir]
		a.pointers[Data] += uint32(width * len(stmt.Args))
		return false

	case ".ascii", ".asciz":
		if a.section != Data {
			a.fail(newErr(WrongSection, stmt.Line, "%s only valid in .data", stmt.Directive))
			return false
		}
		n := a.stringArgLen(stmt)
		if dir == ".asciz" {
			n++
		}
		a.pointers[Data] += uint32(n)
		return false

	case ".stop":
		return true

	default:
		a.fail(newErr(UndefDirective, stmt.Line, "unknown directive %s", stmt.Directive))
		return false
	}
}

func (a *Assembler) singleIdentArg(stmt Statement, dirName string) (string, bool) {
	if len(stmt.Args) != 1 || len(stmt.Args[0]) != 1 || stmt.Args[0][0].Kind != token.Ident {
		a.fail(newErr(Syntax, stmt.Line, "%s expects a single symbol name", dirName))
		return "", false
	}
	return stmt.Args[0][0].Lexeme, true
}

// stringArgLen computes the byte length .ascii/.asciz will emit, decoding
// escapes the same way pass2's emitter will.
func (a *Assembler) stringArgLen(stmt Statement) int {
	if len(stmt.Args) != 1 || len(stmt.Args[0]) != 1 || stmt.Args[0][0].Kind != token.StringLit {
		a.fail(newErr(Syntax, stmt.Line, "%s expects a single string literal", stmt.Directive))
		return 0
	}
	decoded, err := decodeStringLit(stmt.Args[0][0].Lexeme)
	if err != nil {
		a.fail(newErr(Syntax, stmt.Line, "%s", err))
		return 0
	}
	return len(decoded)
}

func (a *Assembler) applyOrgOrAdvance(stmt Statement, relative bool) {
	if a.section == NoSection {
		a.fail(newErr(WrongSection, stmt.Line, "%s requires a current section", stmt.Directive))
		return
	}
	if len(stmt.Args) != 1 {
		a.fail(newErr(Syntax, stmt.Line, "%s expects one expression", stmt.Directive))
		return
	}
	e, err := evalExpr(stmt.Args[0], stmt.Line)
	if err != nil {
		a.fail(err.(*Error))
		return
	}
	if e.Symbol != "" {
		a.fail(newErr(Syntax, stmt.Line, "%s target must be a constant expression", stmt.Directive))
		return
	}

	cur := a.pointers[a.section]
	var target uint32
	if relative {
		target = cur + uint32(e.Value)
	} else {
		target = uint32(e.Value)
	}
	if target < cur {
		// Both directives raise BadAlign here, as for the misaligned-.text
		// case below; this message names the directive that was used, while
		// the misalignment message is shared text.
		a.fail(newErr(BadAlign, stmt.Line, "%s: section pointer must not decrease", stmt.Directive))
		return
	}
	if a.section == Text && target%4 != 0 {
		a.fail(newErr(BadAlign, stmt.Line, ".org/.advance: .text must remain 4-byte aligned"))
		return
	}
	a.pointers[a.section] = target
}

func (a *Assembler) applyAlign(stmt Statement) {
	if a.section == NoSection {
		a.fail(newErr(WrongSection, stmt.Line, ".align requires a current section"))
		return
	}
	if len(stmt.Args) != 1 {
		a.fail(newErr(Syntax, stmt.Line, ".align expects one expression"))
		return
	}
	e, err := evalExpr(stmt.Args[0], stmt.Line)
	if err != nil {
		a.fail(err.(*Error))
		return
	}
	if e.Symbol != "" {
		a.fail(newErr(Syntax, stmt.Line, ".align target must be a constant expression"))
		return
	}
	if a.section == Text && !isPowerOfTwo(e.Value) {
		a.fail(newErr(BadAlign, stmt.Line, ".align in .text requires a power-of-two alignment, got %d", e.Value))
		return
	}
	a.pointers[a.section] = alignUp32(a.pointers[a.section], e.Value)
}

// finalizeGlobals promotes every '.global'-declared name to Global binding,
// matching it against the outermost (file) scope where top-level labels
// live.
func (a *Assembler) finalizeGlobals() {
	for _, g := range a.globalDecls {
		sym := a.lookupInScope(g.name, 0)
		if sym == nil {
			a.fail(newErr(Syntax, g.line, ".global declares undefined symbol %q", g.name))
			continue
		}
		sym.global = true
	}
}
