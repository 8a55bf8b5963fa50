package asm

import (
	"b32/objfile"
	"b32/token"
)

// Section identifies which of the three writable sections a statement
// belongs to. NoSection is used for directives that must appear outside
// any section ('.global', '.extern') and for address-less labels.
type Section int

const (
	NoSection Section = iota
	Text
	Data
	BSS
)

func (s Section) String() string {
	switch s {
	case Text:
		return ".text"
	case Data:
		return ".data"
	case BSS:
		return ".bss"
	default:
		return "<none>"
	}
}

// Section-table indices assigned by objfile's canonical on-disk layout
// (serialize.go's sectionOrder): .text, .data, .bss always occupy slots
// 0, 1, 2 regardless of whether the optional debug-hints section is
// present, since it's always last.
const (
	textSectionIdx = 0
	dataSectionIdx = 1
	bssSectionIdx  = 2
)

func sectionIdx(s Section) int16 {
	switch s {
	case Text:
		return textSectionIdx
	case Data:
		return dataSectionIdx
	case BSS:
		return bssSectionIdx
	default:
		return objfile.UndefinedSection
	}
}

// symbolInfo tracks one label's pass-1-computed address plus the binding
// state later written into the object's symbol table.
type symbolInfo struct {
	name     string
	scopeID  int32
	section  Section // NoSection for an address-less or undefined symbol
	offset   uint32
	global   bool
	weak     bool // declared via .extern, or referenced but never defined
	symIndex int   // index into the eventual objfile.Symbol slice, assigned at finalize
}

// Diagnostic is the assembler's accumulated, fail-soft error report: one
// entry per problem found across a pass, per spec.md §7's "accumulated,
// fail-soft" propagation policy.
type Diagnostic = Error

// Assembler holds the state threaded through both passes over one
// translation unit's statements.
type Assembler struct {
	stmts []Statement

	section  Section
	pointers map[Section]uint32

	scopeStack []int32
	nextScope  int32

	// symbols indexes every known label/extern by (name, scopeID); several
	// entries can share a name as long as their scopeID differs.
	symbols map[string][]*symbolInfo
	// symbolOrder preserves first-appearance order so the emitted symbol
	// table (and therefore relocation symbol indices) is deterministic.
	symbolOrder []*symbolInfo

	globalDecls []globalDecl
	diags       []*Diagnostic

	// pendingSymbolRelocs records, for every relocation emitted during
	// pass 2, which symbolInfo it targets, so finalizeSymbols can backfill
	// each relocation's SymbolIdx once every symbol's final table position
	// is known.
	pendingSymbolRelocs []pendingReloc
}

type globalDecl struct {
	name string
	line int
}

// Assemble runs the tokenizer, statement parser, and the two-pass lowering
// over src, returning the resulting object plus any accumulated
// diagnostics. obj is nil only when diagnostics include a fatal error.
func Assemble(src []byte) (*objfile.Object, []*Diagnostic) {
	toks, err := token.New(src).Tokenize()
	if err != nil {
		return nil, []*Diagnostic{lexToAsmError(err)}
	}
	stmts, err := Parse(toks)
	if err != nil {
		ae, _ := err.(*Error)
		if ae == nil {
			ae = newErr(Syntax, 0, "%s", err)
		}
		return nil, []*Diagnostic{ae}
	}

	a := &Assembler{
		stmts:    stmts,
		pointers: map[Section]uint32{Text: 0, Data: 0, BSS: 0},
		symbols:  make(map[string][]*symbolInfo),
	}
	a.scopeStack = []int32{0}

	a.pass1()
	if len(a.diags) > 0 {
		return nil, a.diags
	}

	obj := a.pass2()
	if len(a.diags) > 0 {
		return nil, a.diags
	}
	return obj, nil
}

func lexToAsmError(err error) *Diagnostic {
	if le, ok := err.(*token.Error); ok {
		return newErr(Syntax, le.Line, "%s", le.Message)
	}
	return newErr(Syntax, 0, "%s", err)
}

func (a *Assembler) fail(err *Error) {
	a.diags = append(a.diags, err)
}

func (a *Assembler) curScope() int32 {
	return a.scopeStack[len(a.scopeStack)-1]
}

// lookup searches the active scope chain, innermost first, for a symbol
// named name, matching Go's usual lexical-scoping convention.
func (a *Assembler) lookup(name string) *symbolInfo {
	entries := a.symbols[name]
	for i := len(a.scopeStack) - 1; i >= 0; i-- {
		scope := a.scopeStack[i]
		for _, e := range entries {
			if e.scopeID == scope {
				return e
			}
		}
	}
	return nil
}

// lookupInScope finds a symbol named name defined in exactly scope (no
// chain walk), used for duplicate-definition checks.
func (a *Assembler) lookupInScope(name string, scope int32) *symbolInfo {
	for _, e := range a.symbols[name] {
		if e.scopeID == scope {
			return e
		}
	}
	return nil
}

// declareOrGet returns the existing symbol for name visible from the
// current scope chain, or creates a fresh undefined/weak placeholder for it
// at file scope. Used by pass 2 when
// an operand references a name that was never given a label or '.extern'.
func (a *Assembler) declareOrGet(name string) *symbolInfo {
	if s := a.lookup(name); s != nil {
		return s
	}
	s := &symbolInfo{name: name, scopeID: 0, section: NoSection, weak: true}
	a.symbols[name] = append(a.symbols[name], s)
	a.symbolOrder = append(a.symbolOrder, s)
	return s
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

func alignUp32(v uint32, n int64) uint32 {
	if n <= 1 {
		return v
	}
	rem := int64(v) % n
	if rem == 0 {
		return v
	}
	return v + uint32(n-rem)
}

