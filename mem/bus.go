// Package mem implements the memory subsystem: RAM/ROM cells, the system
// bus that routes physical addresses to them, and the virtual memory unit
// that translates paged virtual addresses before the bus routes them.
package mem

import "b32/bits"

// Bus is the central address router. It owns an ordered list of attached
// memory cells and, optionally, the virtual memory unit used for
// memory-mapped accesses. The VM is a field of the Bus (not the reverse),
// and Cells never reference the Bus or the VM, so there is no reference
// cycle.
type Bus struct {
	cells []*Cell
	vm    *VM
}

// NewBus returns an empty bus with no attached cells and no VM.
func NewBus() *Bus {
	return &Bus{}
}

// Attach adds a memory cell to the bus. The caller is responsible for the
// invariant that attached cells have pairwise-disjoint page ranges;
// Attach returns ConflictAddresses if the new cell overlaps an existing one.
func (b *Bus) Attach(c *Cell) error {
	for _, existing := range b.cells {
		if rangesOverlap(existing, c) {
			return newErr(ConflictAddresses, bits.PageAddr(c.LoPage(), 0), "overlapping cell page ranges")
		}
	}
	b.cells = append(b.cells, c)
	return nil
}

func rangesOverlap(a, b *Cell) bool {
	return a.LoPage() <= b.HiPage() && b.LoPage() <= a.HiPage()
}

// AttachVM installs the virtual memory unit used for memory_mapped
// accesses. The VM's backing physical cell should already be Attach-ed.
func (b *Bus) AttachVM(vm *VM) {
	b.vm = vm
}

// route scans attached cells and returns the unique one claiming addr.
func (b *Bus) route(addr bits.Word) (*Cell, error) {
	var target *Cell
	for _, c := range b.cells {
		if !c.InBounds(addr) {
			continue
		}
		if target != nil {
			return nil, newErr(ConflictAddresses, addr, "more than one cell claims this address")
		}
		target = c
	}
	if target == nil {
		return nil, newErr(InvalidAddress, addr, "no cell claims this address")
	}
	return target, nil
}

func (b *Bus) translate(addr bits.Word, write, memoryMapped bool) (bits.Word, error) {
	if !memoryMapped {
		return addr, nil
	}
	if b.vm == nil {
		return 0, newErr(InvalidAddress, addr, "memory-mapped access with no virtual memory unit attached")
	}
	return b.vm.Translate(addr, write)
}

// ReadVal returns the little-endian composition of n bytes starting at
// addr. If memoryMapped is set, each byte address is translated through
// the VM before routing. On any sub-operation error, the call
// short-circuits and returns (0, err).
func (b *Bus) ReadVal(addr bits.Word, n int, memoryMapped bool) (bits.Dword, error) {
	var val bits.Dword
	for i := 0; i < n; i++ {
		real, err := b.translate(addr+bits.Word(i), false, memoryMapped)
		if err != nil {
			return 0, err
		}
		cell, err := b.route(real)
		if err != nil {
			return 0, err
		}
		byteVal, err := cell.ReadByte(real)
		if err != nil {
			return 0, err
		}
		val |= bits.Dword(byteVal) << uint(8*i)
	}
	return val, nil
}

// WriteVal writes the low n bytes of val, little-endian, starting at addr.
// If memoryMapped is set, each byte address is translated through the VM
// (for write) before routing.
func (b *Bus) WriteVal(addr bits.Word, val bits.Dword, n int, memoryMapped bool) error {
	for i := 0; i < n; i++ {
		real, err := b.translate(addr+bits.Word(i), true, memoryMapped)
		if err != nil {
			return err
		}
		cell, err := b.route(real)
		if err != nil {
			return err
		}
		byteVal := bits.Byte(val >> uint(8*i))
		if err := cell.WriteByte(real, byteVal); err != nil {
			return err
		}
	}
	return nil
}

// ReadByte, ReadHword, ReadWord are convenience wrappers around ReadVal.
func (b *Bus) ReadByte(addr bits.Word, memoryMapped bool) (bits.Byte, error) {
	v, err := b.ReadVal(addr, 1, memoryMapped)
	return bits.Byte(v), err
}

func (b *Bus) ReadHword(addr bits.Word, memoryMapped bool) (bits.Hword, error) {
	v, err := b.ReadVal(addr, 2, memoryMapped)
	return bits.Hword(v), err
}

func (b *Bus) ReadWord(addr bits.Word, memoryMapped bool) (bits.Word, error) {
	v, err := b.ReadVal(addr, 4, memoryMapped)
	return bits.Word(v), err
}

// WriteByte, WriteHword, WriteWord are convenience wrappers around WriteVal.
func (b *Bus) WriteByte(addr bits.Word, v bits.Byte, memoryMapped bool) error {
	return b.WriteVal(addr, bits.Dword(v), 1, memoryMapped)
}

func (b *Bus) WriteHword(addr bits.Word, v bits.Hword, memoryMapped bool) error {
	return b.WriteVal(addr, bits.Dword(v), 2, memoryMapped)
}

func (b *Bus) WriteWord(addr bits.Word, v bits.Word, memoryMapped bool) error {
	return b.WriteVal(addr, bits.Dword(v), 4, memoryMapped)
}

// Reset resets every attached cell to its initial contents.
func (b *Bus) Reset() {
	for _, c := range b.cells {
		c.Reset()
	}
}
