package objfile

import (
	"fmt"

	"b32/bits"
)

// Magic identifies this package's on-disk format, independent of the
// header's endianness flag.
var Magic = [4]byte{'B', '3', '2', 0}

const (
	headerSize      = 16
	sectionEntrySize = 20
	symEntrySize     = 15
	relocEntrySize   = 13
)

// sectionOrder is the canonical order section table entries are written
// and expected to appear in.
var sectionOrder = []SectionType{
	SectionText, SectionData, SectionBSS, SectionSymtab, SectionStrtab,
	SectionRelText, SectionRelData, SectionDebugHints,
}

// strtabBuilder interns strings into a NUL-terminated table, first byte
// always the empty string at offset 0.
type strtabBuilder struct {
	buf     []byte
	offsets map[string]uint32
}

func newStrtabBuilder() *strtabBuilder {
	return &strtabBuilder{buf: []byte{0}, offsets: map[string]uint32{"": 0}}
}

func (s *strtabBuilder) intern(name string) uint32 {
	if off, ok := s.offsets[name]; ok {
		return off
	}
	off := uint32(len(s.buf))
	s.offsets[name] = off
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, 0)
	return off
}

// Bytes serializes obj into its canonical on-disk form: header, section
// header table, then section contents in section-header order, each
// aligned to its declared alignment.
func (obj *Object) Bytes() ([]byte, error) {
	if len(obj.Text)%4 != 0 {
		return nil, fmt.Errorf("objfile: .text size %d is not a multiple of 4", len(obj.Text))
	}

	strtab := newStrtabBuilder()
	for _, sec := range sectionOrder {
		strtab.intern(sec.String())
	}
	symNameOfs := make([]uint32, len(obj.Symbols))
	for i, sym := range obj.Symbols {
		symNameOfs[i] = strtab.intern(sym.Name)
	}
	hintNameOfs := make([]uint32, len(obj.DebugHints))
	for i, h := range obj.DebugHints {
		hintNameOfs[i] = strtab.intern(h.Name)
	}

	symtabContent := encodeSymbols(obj.Symbols, symNameOfs)
	relTextContent := encodeRelocs(obj.TextRelocs)
	relDataContent := encodeRelocs(obj.DataRelocs)
	hintsContent := encodeHints(obj.DebugHints, hintNameOfs)

	type planned struct {
		typ     SectionType
		content []byte
		size    uint32
		align   uint32
	}
	var plan []planned
	plan = append(plan, planned{SectionText, obj.Text, uint32(len(obj.Text)), 4})
	plan = append(plan, planned{SectionData, obj.Data, uint32(len(obj.Data)), 4})
	plan = append(plan, planned{SectionBSS, nil, obj.BSSSize, 4})
	plan = append(plan, planned{SectionSymtab, symtabContent, uint32(len(symtabContent)), 1})
	plan = append(plan, planned{SectionStrtab, strtab.buf, uint32(len(strtab.buf)), 1})
	plan = append(plan, planned{SectionRelText, relTextContent, uint32(len(relTextContent)), 1})
	plan = append(plan, planned{SectionRelData, relDataContent, uint32(len(relDataContent)), 1})
	if len(obj.DebugHints) > 0 {
		plan = append(plan, planned{SectionDebugHints, hintsContent, uint32(len(hintsContent)), 1})
	}

	pos := uint32(headerSize + len(plan)*sectionEntrySize)
	sections := make([]Section, len(plan))
	for i, p := range plan {
		pos = alignUp(pos, p.align)
		sections[i] = Section{
			Name:   p.typ.String(),
			Type:   p.typ,
			Flags:  defaultFlags(p.typ),
			Offset: pos,
			Size:   p.size,
			Align:  p.align,
		}
		pos += p.size
	}

	w := bits.NewWriter(nil)
	writeHeader(w, obj.Header, len(plan))
	for _, sec := range sections {
		w.WriteWord(bits.Word(strtab.intern(sec.Name)), bits.LittleEndian)
		w.WriteByte(bits.Byte(sec.Type))
		w.WriteByte(bits.Byte(sec.Flags))
		w.WriteWord(sec.Offset, bits.LittleEndian)
		w.WriteWord(sec.Size, bits.LittleEndian)
		w.WriteWord(sec.Align, bits.LittleEndian)
		w.WriteHword(0, bits.LittleEndian) // reserved
	}
	for i, p := range plan {
		for uint32(w.Len()) < sections[i].Offset {
			w.WriteByte(0)
		}
		w.WriteBytes(p.content)
	}

	return w.Bytes(), nil
}

func writeHeader(w *bits.Writer, h Header, sectionCount int) {
	w.WriteBytes(Magic[:])
	endianByte := bits.Byte(0)
	if h.Endian == bits.BigEndian {
		endianByte = 1
	}
	w.WriteByte(endianByte)
	w.WriteHword(h.ABIVersion, bits.LittleEndian)
	w.WriteHword(h.Arch, bits.LittleEndian)
	w.WriteByte(bits.Byte(h.FileType))
	w.WriteHword(uint16(sectionCount), bits.LittleEndian)
	w.WriteWord(h.EntryPoint, bits.LittleEndian)
}

func encodeSymbols(syms []Symbol, nameOfs []uint32) []byte {
	w := bits.NewWriter(nil)
	for i, sym := range syms {
		w.WriteWord(nameOfs[i], bits.LittleEndian)
		w.WriteWord(sym.Value, bits.LittleEndian)
		w.WriteHword(uint16(sym.SectionIdx), bits.LittleEndian)
		w.WriteByte(bits.Byte(sym.Binding))
		w.WriteWord(uint32(sym.ScopeID), bits.LittleEndian)
	}
	return w.Bytes()
}

func encodeRelocs(relocs []Relocation) []byte {
	w := bits.NewWriter(nil)
	for _, r := range relocs {
		w.WriteWord(r.Offset, bits.LittleEndian)
		w.WriteWord(r.SymbolIdx, bits.LittleEndian)
		w.WriteByte(bits.Byte(r.Kind))
		w.WriteWord(uint32(r.Addend), bits.LittleEndian)
	}
	return w.Bytes()
}

func encodeHints(hints []DebugHint, nameOfs []uint32) []byte {
	w := bits.NewWriter(nil)
	for i, h := range hints {
		w.WriteWord(nameOfs[i], bits.LittleEndian)
		w.WriteWord(h.Start, bits.LittleEndian)
		w.WriteWord(h.End, bits.LittleEndian)
	}
	return w.Bytes()
}

func defaultFlags(t SectionType) SectionFlags {
	switch t {
	case SectionText:
		return SectionAlloc | SectionExec
	case SectionData, SectionBSS:
		return SectionAlloc | SectionWrite
	default:
		return 0
	}
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// Parse decodes an Object from its canonical on-disk form, the inverse of
// Bytes.
func Parse(raw []byte) (*Object, error) {
	if len(raw) < headerSize {
		return nil, newErr(Truncated, "file shorter than header")
	}
	if [4]byte(raw[0:4]) != Magic {
		return nil, newErr(BadMagic, fmt.Sprintf("got % x", raw[0:4]))
	}

	r := bits.NewReader(raw)
	r.Skip(4) // magic, already checked
	endianByte, _ := r.ReadByte()
	endian := bits.LittleEndian
	if endianByte == 1 {
		endian = bits.BigEndian
	}
	abiVersion, _ := r.ReadHword(bits.LittleEndian)
	arch, _ := r.ReadHword(bits.LittleEndian)
	fileType, _ := r.ReadByte()
	sectionCount, _ := r.ReadHword(bits.LittleEndian)
	entryPoint, _ := r.ReadWord(bits.LittleEndian)

	if abiVersion != CurrentABIVersion {
		return nil, newErr(VersionMismatch, fmt.Sprintf("got %d, want %d", abiVersion, CurrentABIVersion))
	}

	if len(raw) < headerSize+int(sectionCount)*sectionEntrySize {
		return nil, newErr(Truncated, "file shorter than section table")
	}

	type rawSection struct {
		nameOfs uint32
		typ     SectionType
		flags   SectionFlags
		offset  uint32
		size    uint32
		align   uint32
	}
	raws := make([]rawSection, sectionCount)
	for i := range raws {
		nameOfs, err := r.ReadWord(bits.LittleEndian)
		if err != nil {
			return nil, newErr(Truncated, "section table entry")
		}
		typByte, _ := r.ReadByte()
		flagsByte, _ := r.ReadByte()
		offset, _ := r.ReadWord(bits.LittleEndian)
		size, _ := r.ReadWord(bits.LittleEndian)
		align, _ := r.ReadWord(bits.LittleEndian)
		r.Skip(2) // reserved
		raws[i] = rawSection{nameOfs, SectionType(typByte), SectionFlags(flagsByte), offset, size, align}
	}

	slice := func(offset, size uint32) ([]byte, error) {
		if uint64(offset)+uint64(size) > uint64(len(raw)) {
			return nil, newErr(Truncated, "section content out of bounds")
		}
		return raw[offset : offset+size], nil
	}

	var strtabBytes []byte
	for _, rs := range raws {
		if rs.typ == SectionStrtab {
			b, err := slice(rs.offset, rs.size)
			if err != nil {
				return nil, err
			}
			strtabBytes = b
			break
		}
	}
	strReader := func(ofs uint32) string {
		if int(ofs) >= len(strtabBytes) {
			return ""
		}
		sr := bits.NewReader(strtabBytes)
		sr.Seek(int(ofs))
		s, _ := sr.ReadCString()
		return s
	}

	obj := &Object{
		Header: Header{Endian: endian, ABIVersion: abiVersion, Arch: arch, FileType: FileType(fileType), EntryPoint: entryPoint},
	}
	obj.Sections = make([]Section, len(raws))
	for i, rs := range raws {
		obj.Sections[i] = Section{
			Name:   strReader(rs.nameOfs),
			Type:   rs.typ,
			Flags:  rs.flags,
			Offset: rs.offset,
			Size:   rs.size,
			Align:  rs.align,
		}
		content, err := slice(rs.offset, rs.size)
		if err != nil {
			return nil, err
		}
		switch rs.typ {
		case SectionText:
			obj.Text = append([]byte(nil), content...)
		case SectionData:
			obj.Data = append([]byte(nil), content...)
		case SectionBSS:
			obj.BSSSize = rs.size
		case SectionSymtab:
			syms, err := decodeSymbols(content, strReader)
			if err != nil {
				return nil, err
			}
			obj.Symbols = syms
		case SectionRelText:
			relocs, err := decodeRelocs(content)
			if err != nil {
				return nil, err
			}
			obj.TextRelocs = relocs
		case SectionRelData:
			relocs, err := decodeRelocs(content)
			if err != nil {
				return nil, err
			}
			obj.DataRelocs = relocs
		case SectionDebugHints:
			hints, err := decodeHints(content, strReader)
			if err != nil {
				return nil, err
			}
			obj.DebugHints = hints
		}
	}
	return obj, nil
}

func decodeSymbols(content []byte, name func(uint32) string) ([]Symbol, error) {
	if len(content)%symEntrySize != 0 {
		return nil, newErr(Truncated, "symbol table size not a multiple of entry size")
	}
	n := len(content) / symEntrySize
	syms := make([]Symbol, n)
	r := bits.NewReader(content)
	for i := range syms {
		nameOfs, _ := r.ReadWord(bits.LittleEndian)
		value, _ := r.ReadWord(bits.LittleEndian)
		sectionIdx, _ := r.ReadHword(bits.LittleEndian)
		binding, _ := r.ReadByte()
		scopeID, _ := r.ReadWord(bits.LittleEndian)
		syms[i] = Symbol{
			Name:       name(nameOfs),
			Binding:    Binding(binding),
			SectionIdx: int16(sectionIdx),
			Value:      value,
			ScopeID:    int32(scopeID),
		}
	}
	return syms, nil
}

func decodeRelocs(content []byte) ([]Relocation, error) {
	if len(content)%relocEntrySize != 0 {
		return nil, newErr(Truncated, "relocation table size not a multiple of entry size")
	}
	n := len(content) / relocEntrySize
	relocs := make([]Relocation, n)
	r := bits.NewReader(content)
	for i := range relocs {
		offset, _ := r.ReadWord(bits.LittleEndian)
		symbolIdx, _ := r.ReadWord(bits.LittleEndian)
		kind, _ := r.ReadByte()
		addend, _ := r.ReadWord(bits.LittleEndian)
		relocs[i] = Relocation{Offset: offset, SymbolIdx: symbolIdx, Kind: RelocKind(kind), Addend: int32(addend)}
	}
	return relocs, nil
}

func decodeHints(content []byte, name func(uint32) string) ([]DebugHint, error) {
	const hintEntrySize = 12
	if len(content)%hintEntrySize != 0 {
		return nil, newErr(Truncated, "debug hint table size not a multiple of entry size")
	}
	n := len(content) / hintEntrySize
	hints := make([]DebugHint, n)
	r := bits.NewReader(content)
	for i := range hints {
		nameOfs, _ := r.ReadWord(bits.LittleEndian)
		start, _ := r.ReadWord(bits.LittleEndian)
		end, _ := r.ReadWord(bits.LittleEndian)
		hints[i] = DebugHint{Name: name(nameOfs), Start: start, End: end}
	}
	return hints, nil
}
