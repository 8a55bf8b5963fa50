package objfile

import (
	"fmt"

	"b32/bits"
)

// ArchiveMagic identifies a static library (`.ba`): a count followed by
// that many length-prefixed relocatable objects, each independently
// decodable with Parse.
var ArchiveMagic = [4]byte{'B', '3', '2', 'A'}

// WriteArchive serializes members into one static-library image. Every
// member must itself serialize as FileRelocatable.
func WriteArchive(members []*Object) ([]byte, error) {
	w := bits.NewWriter(nil)
	w.WriteBytes(ArchiveMagic[:])
	w.WriteWord(bits.Word(len(members)), bits.LittleEndian)

	for _, m := range members {
		raw, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		w.WriteWord(bits.Word(len(raw)), bits.LittleEndian)
		w.WriteBytes(raw)
	}
	return w.Bytes(), nil
}

// ReadArchive parses a static-library image back into its member objects,
// in archival order.
func ReadArchive(data []byte) ([]*Object, error) {
	r := bits.NewReader(data)
	var magic [4]byte
	for i := range magic {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("objfile: truncated archive magic: %w", err)
		}
		magic[i] = b
	}
	if magic != ArchiveMagic {
		return nil, fmt.Errorf("objfile: bad archive magic %v", magic)
	}

	count, err := r.ReadWord(bits.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("objfile: truncated archive member count: %w", err)
	}

	members := make([]*Object, 0, count)
	for i := bits.Word(0); i < count; i++ {
		size, err := r.ReadWord(bits.LittleEndian)
		if err != nil {
			return nil, fmt.Errorf("objfile: truncated archive member %d length: %w", i, err)
		}
		if bits.Word(r.Remaining()) < size {
			return nil, fmt.Errorf("objfile: truncated archive member %d body", i)
		}
		raw := data[r.Pos() : r.Pos()+int(size)]
		r.Skip(int(size))

		member, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("objfile: archive member %d: %w", i, err)
		}
		members = append(members, member)
	}
	return members, nil
}
