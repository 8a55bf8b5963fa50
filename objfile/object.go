// Package objfile implements the in-memory object model shared by the
// assembler and linker: sections, the symbol table, the relocation table,
// and the optional disassembly-hint table, plus their canonical on-disk
// serialization.
package objfile

import "b32/bits"

// CurrentABIVersion identifies the on-disk schema this package reads and
// writes. Bumped whenever the section/symbol/relocation layout changes.
const CurrentABIVersion = 1

// ArchID identifies the target instruction set. There is only one
// architecture in this toolchain, but the field exists so a reader can
// reject an object built for something else.
const ArchID = 1

// FileType distinguishes the three object-file roles the linker and loader
// care about.
type FileType byte

const (
	FileRelocatable FileType = iota
	FileStaticLibrary
	FileExecutable
)

func (t FileType) String() string {
	switch t {
	case FileRelocatable:
		return "relocatable"
	case FileStaticLibrary:
		return "static-library"
	case FileExecutable:
		return "executable"
	default:
		return "unknown"
	}
}

// SectionType identifies what a section table entry's contents mean.
type SectionType byte

const (
	SectionText SectionType = iota
	SectionData
	SectionBSS
	SectionSymtab
	SectionStrtab
	SectionRelText
	SectionRelData
	SectionDebugHints
)

func (t SectionType) String() string {
	switch t {
	case SectionText:
		return ".text"
	case SectionData:
		return ".data"
	case SectionBSS:
		return ".bss"
	case SectionSymtab:
		return ".symtab"
	case SectionStrtab:
		return ".strtab"
	case SectionRelText:
		return ".rel.text"
	case SectionRelData:
		return ".rel.data"
	case SectionDebugHints:
		return ".debug.hints"
	default:
		return "unknown"
	}
}

// SectionFlags are bit flags describing a section's access intent. Neither
// the assembler nor the linker enforces these at runtime; they exist for a
// loader or dumper to report.
type SectionFlags uint32

const (
	SectionWrite SectionFlags = 1 << iota
	SectionExec
	SectionAlloc
)

// Section is one entry of the ordered section table. Name is resolved at
// parse time (looked up in .strtab); NameOfs is recomputed when the object
// is serialized.
type Section struct {
	Name   string
	Type   SectionType
	Flags  SectionFlags
	Offset uint32
	Size   uint32
	Align  uint32
}

// Binding is a symbol's visibility class.
type Binding byte

const (
	BindLocal Binding = iota
	BindWeak
	BindGlobal
)

func (b Binding) String() string {
	switch b {
	case BindLocal:
		return "LOCAL"
	case BindWeak:
		return "WEAK"
	case BindGlobal:
		return "GLOBAL"
	default:
		return "UNKNOWN"
	}
}

// UndefinedSection is the section index recorded for an undefined
// (external) symbol.
const UndefinedSection = -1

// Symbol is one entry of the symbol table.
type Symbol struct {
	Name       string
	Binding    Binding
	SectionIdx int16 // UndefinedSection if external
	Value      uint32
	ScopeID    int32 // meaningful only for BindLocal
}

// Undefined reports whether sym has no definition in this object.
func (sym Symbol) Undefined() bool {
	return sym.SectionIdx == UndefinedSection
}

// RelocKind identifies how a relocation's target field is computed and
// written.
type RelocKind byte

const (
	// RelocABS32 writes S+A as a little-endian word at the patch site.
	RelocABS32 RelocKind = iota
	// RelocPCREL24 writes (S+A-P)>>2 as a 24-bit signed field.
	RelocPCREL24
	// RelocABS16 writes S+A as a 16-bit field; the link fails with
	// RelocOverflow if S+A does not fit in 16 bits.
	RelocABS16
	// RelocABS8 writes S+A as an 8-bit field; the link fails with
	// RelocOverflow if S+A does not fit in 8 bits.
	RelocABS8
)

func (k RelocKind) String() string {
	switch k {
	case RelocABS32:
		return "ABS32"
	case RelocPCREL24:
		return "PCREL24"
	case RelocABS16:
		return "ABS16"
	case RelocABS8:
		return "ABS8"
	default:
		return "UNKNOWN"
	}
}

// Relocation is one entry of a relocatable section's relocation table.
type Relocation struct {
	Offset    uint32
	SymbolIdx uint32
	Kind      RelocKind
	Addend    int32
}

// DebugHint labels an address range with a human-readable name, for a
// disassembler that has no full symbolic debug info to work with. Optional:
// an object with no hints simply omits the .debug.hints section.
type DebugHint struct {
	Name  string
	Start uint32
	End   uint32
}

// Header is the object file's fixed-size preamble. EntryPoint is only
// meaningful for FileExecutable: the address the loader seeds PC with
// before the first fetch.
type Header struct {
	Endian     bits.Endian
	ABIVersion uint16
	Arch       uint16
	FileType   FileType
	EntryPoint uint32
}

// Object is the complete in-memory model of one object file: everything the
// assembler produces for one translation unit, or everything the linker
// produces as an executable.
type Object struct {
	Header     Header
	Sections   []Section
	Symbols    []Symbol
	TextRelocs []Relocation
	DataRelocs []Relocation
	Text       []byte
	Data       []byte
	BSSSize    uint32
	DebugHints []DebugHint
}

// New returns an empty Object of the given file type, with the header
// fields this package's own reader/writer round-trip stamped in.
func New(fileType FileType) *Object {
	return &Object{
		Header: Header{
			Endian:     bits.LittleEndian,
			ABIVersion: CurrentABIVersion,
			Arch:       ArchID,
			FileType:   fileType,
		},
	}
}
