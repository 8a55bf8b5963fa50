package link

import (
	"b32/bits"
	"b32/cpu"
	"b32/objfile"
)

// DefaultTextBase is where the first merged object's .text section lands.
// Page 0 is deliberately left unmapped so a null-pointer-style bug faults
// instead of executing garbage.
const DefaultTextBase = 0x00001000

const sectionAlign = 4

// Linker collects relocatable objects — already expanded from any static
// libraries by the caller — and merges them into one executable.
type Linker struct {
	objects []*objfile.Object
}

// New returns an empty Linker.
func New() *Linker {
	return &Linker{}
}

// AddObject queues obj for the next Link call, in the order added.
func (l *Linker) AddObject(obj *objfile.Object) {
	l.objects = append(l.objects, obj)
}

// placement records the absolute base address one object's .text/.data/.bss
// contents start at in the merged image.
type placement struct {
	textBase uint32
	dataBase uint32
	bssBase  uint32
}

// globalSym is one entry of the cross-object symbol table built to resolve
// GLOBAL definitions and the externals that reference them.
type globalSym struct {
	name    string
	address uint32
}

// Link merges every queued object into one executable whose entry point is
// entryName's resolved address. Any failure is fatal: it returns a nil
// object and the diagnostics explaining why, with no partial output.
func (l *Linker) Link(entryName string) (*objfile.Object, []*Error) {
	if len(l.objects) == 0 {
		return nil, []*Error{newErr(Unresolved, "no input objects to link")}
	}

	placements := l.place()

	globals, diags := l.buildGlobalTable(placements)
	if len(diags) > 0 {
		return nil, diags
	}

	out := objfile.New(objfile.FileExecutable)
	out.Text = l.mergeBytes(placements, func(p placement) uint32 { return p.textBase }, func(o *objfile.Object) []byte { return o.Text })
	out.Data = l.mergeBytes(placements, func(p placement) uint32 { return p.dataBase }, func(o *objfile.Object) []byte { return o.Data })
	out.BSSSize = l.totalBSS(placements)
	out.Symbols = l.mergeSymbols(placements)

	if diags := l.applyRelocations(out, placements, globals); len(diags) > 0 {
		return nil, diags
	}

	entry, ok := globals[entryName]
	if !ok {
		return nil, []*Error{newErr(Unresolved, "entry symbol %q not defined in any input object", entryName)}
	}
	out.Header.EntryPoint = entry.address

	return out, nil
}

// place assigns every queued object a base address per section: .text
// starts at DefaultTextBase, .data follows all merged .text, .bss follows
// all merged .data, each aligned to sectionAlign across the boundary.
func (l *Linker) place() []placement {
	placements := make([]placement, len(l.objects))

	cursor := uint32(DefaultTextBase)
	for i, obj := range l.objects {
		placements[i].textBase = cursor
		cursor = alignUp(cursor+uint32(len(obj.Text)), sectionAlign)
	}
	for i, obj := range l.objects {
		placements[i].dataBase = cursor
		cursor = alignUp(cursor+uint32(len(obj.Data)), sectionAlign)
	}
	for i, obj := range l.objects {
		placements[i].bssBase = cursor
		cursor = alignUp(cursor+obj.BSSSize, sectionAlign)
	}
	return placements
}

func alignUp(v, n uint32) uint32 {
	if n <= 1 {
		return v
	}
	if rem := v % n; rem != 0 {
		return v + (n - rem)
	}
	return v
}

// sectionBase returns the base address a symbol's SectionIdx resolves
// against, matching objfile's canonical section ordering (text, data, bss).
func sectionBase(p placement, sectionIdx int16) uint32 {
	switch sectionIdx {
	case int16(objfile.SectionText):
		return p.textBase
	case int16(objfile.SectionData):
		return p.dataBase
	case int16(objfile.SectionBSS):
		return p.bssBase
	default:
		return 0
	}
}

// buildGlobalTable collects every GLOBAL-bound symbol's resolved address
// across all queued objects, failing DuplicateSymbol on a name defined more
// than once.
func (l *Linker) buildGlobalTable(placements []placement) (map[string]globalSym, []*Error) {
	table := make(map[string]globalSym)
	var diags []*Error

	for i, obj := range l.objects {
		p := placements[i]
		for _, s := range obj.Symbols {
			if s.Binding != objfile.BindGlobal {
				continue
			}
			addr := s.Value + sectionBase(p, s.SectionIdx)
			if existing, dup := table[s.Name]; dup {
				diags = append(diags, newErr(DuplicateSymbol,
					"%q defined more than once (0x%08x and 0x%08x)", s.Name, existing.address, addr))
				continue
			}
			table[s.Name] = globalSym{name: s.Name, address: addr}
		}
	}
	return table, diags
}

// resolveSymbol returns the final absolute address obj's idx'th symbol
// refers to: locally for a symbol defined in obj itself, or via globals for
// one left undefined (a '.extern' declaration or an implicit reference).
func resolveSymbol(obj *objfile.Object, idx uint32, p placement, globals map[string]globalSym) (uint32, *Error) {
	sym := obj.Symbols[idx]
	if sym.Undefined() {
		g, ok := globals[sym.Name]
		if !ok {
			return 0, newErr(Unresolved, "undefined reference to %q", sym.Name)
		}
		return g.address, nil
	}
	return sym.Value + sectionBase(p, sym.SectionIdx), nil
}

// mergeBytes concatenates each object's section bytes at its placed offset,
// zero-padding any gap an alignment boundary introduced between objects.
func (l *Linker) mergeBytes(placements []placement, base func(placement) uint32, raw func(*objfile.Object) []byte) []byte {
	if len(l.objects) == 0 {
		return nil
	}
	origin := base(placements[0])
	var merged []byte
	for i, obj := range l.objects {
		target := base(placements[i]) - origin
		for uint32(len(merged)) < target {
			merged = append(merged, 0)
		}
		merged = append(merged, raw(obj)...)
	}
	return merged
}

func (l *Linker) totalBSS(placements []placement) uint32 {
	if len(l.objects) == 0 {
		return 0
	}
	last := len(l.objects) - 1
	return placements[last].bssBase + l.objects[last].BSSSize - placements[0].bssBase
}

// mergeSymbols carries every defined symbol into the executable's symbol
// table, rewritten to its final absolute address, for a disassembler or
// debugger to label addresses with. Symbols left undefined by their object
// are dropped: they resolved into the address of some other object's
// definition, which already has its own entry.
func (l *Linker) mergeSymbols(placements []placement) []objfile.Symbol {
	var merged []objfile.Symbol
	for i, obj := range l.objects {
		p := placements[i]
		for _, s := range obj.Symbols {
			if s.Undefined() {
				continue
			}
			merged = append(merged, objfile.Symbol{
				Name:       s.Name,
				Binding:    s.Binding,
				SectionIdx: s.SectionIdx,
				Value:      s.Value + sectionBase(p, s.SectionIdx),
				ScopeID:    s.ScopeID,
			})
		}
	}
	return merged
}

// applyRelocations patches every object's TextRelocs/DataRelocs into the
// already-merged out.Text/out.Data, resolving each relocation's symbol and
// computing S (resolved address), A (addend), and P (the patch site's own
// final address).
func (l *Linker) applyRelocations(out *objfile.Object, placements []placement, globals map[string]globalSym) []*Error {
	var diags []*Error
	textOrigin := placements[0].textBase
	dataOrigin := placements[0].dataBase

	for i, obj := range l.objects {
		p := placements[i]
		for _, reloc := range obj.TextRelocs {
			patchOffset := p.textBase - textOrigin + reloc.Offset
			if err := applyOneRelocation(out.Text, patchOffset, obj, reloc, p, textOrigin, globals); err != nil {
				diags = append(diags, err)
			}
		}
		for _, reloc := range obj.DataRelocs {
			patchOffset := p.dataBase - dataOrigin + reloc.Offset
			if err := applyOneRelocation(out.Data, patchOffset, obj, reloc, p, textOrigin, globals); err != nil {
				diags = append(diags, err)
			}
		}
	}
	return diags
}

// applyOneRelocation resolves a single relocation against buf[patchOffset:]
// and writes the bit pattern its Kind prescribes. patchSiteAbs is the
// relocation's own final address (P), needed only for RelocPCREL24.
func applyOneRelocation(buf []byte, patchOffset uint32, obj *objfile.Object, reloc objfile.Relocation, p placement, textOrigin uint32, globals map[string]globalSym) *Error {
	s, err := resolveSymbol(obj, reloc.SymbolIdx, p, globals)
	if err != nil {
		return err
	}
	sum := int64(s) + int64(reloc.Addend)

	switch reloc.Kind {
	case objfile.RelocABS32:
		putWord(buf, patchOffset, uint32(sum))
		return nil

	case objfile.RelocABS16:
		if sum < 0 || sum > 0xFFFF {
			return newErr(RelocOverflow, "ABS16 relocation value 0x%x does not fit in 16 bits", sum)
		}
		putHword(buf, patchOffset, uint16(sum))
		return nil

	case objfile.RelocABS8:
		if sum < 0 || sum > 0xFF {
			return newErr(RelocOverflow, "ABS8 relocation value 0x%x does not fit in 8 bits", sum)
		}
		buf[patchOffset] = byte(sum)
		return nil

	case objfile.RelocPCREL24:
		patchSiteAbs := textOrigin + patchOffset
		offsetWords := (sum - int64(patchSiteAbs)) >> 2
		const lo, hi = -(1 << 23), 1<<23 - 1
		if offsetWords < lo || offsetWords > hi {
			return newErr(RelocOverflow, "branch offset %d words does not fit the instruction's field", offsetWords)
		}
		op := cpu.DecodeOpcode(getWord(buf, patchOffset))
		putWord(buf, patchOffset, cpu.FormatB(op, int32(offsetWords)))
		return nil

	default:
		return newErr(RelocOverflow, "unknown relocation kind %v", reloc.Kind)
	}
}

func getWord(buf []byte, offset uint32) bits.Word {
	return uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
}

func putWord(buf []byte, offset uint32, v uint32) {
	buf[offset] = byte(v)
	buf[offset+1] = byte(v >> 8)
	buf[offset+2] = byte(v >> 16)
	buf[offset+3] = byte(v >> 24)
}

func putHword(buf []byte, offset uint32, v uint16) {
	buf[offset] = byte(v)
	buf[offset+1] = byte(v >> 8)
}
