package mem

import "b32/bits"

// Cell is a contiguous byte region tagged with an inclusive page range. RAM
// and ROM are both Cells; the only difference is whether runtime writes are
// permitted.
//
// A Cell's byte buffer is acquired once, at construction, and never
// resized; Reset restores it to its initial contents.
type Cell struct {
	loPage, hiPage bits.Word
	buf            []byte
	initial        []byte // snapshot restored by Reset
	readOnly       bool
}

// cellSize returns the byte length of a cell spanning [lo,hi] inclusive
// pages.
func cellSize(lo, hi bits.Word) int {
	return int(hi-lo+1) * bits.PageSize
}

// NewRAM constructs a zero-initialized (or seeded) read/write memory cell
// spanning pages [lo,hi] inclusive. If init is non-nil its bytes seed the
// start of the buffer, and Reset restores them; the rest of the buffer is
// zero, both at construction and after Reset.
func NewRAM(lo, hi bits.Word, init []byte) *Cell {
	size := cellSize(lo, hi)
	buf := make([]byte, size)
	copy(buf, init)
	initial := make([]byte, size)
	copy(initial, init)
	return &Cell{loPage: lo, hiPage: hi, buf: buf, initial: initial, readOnly: false}
}

// NewROM constructs a read-only memory cell spanning pages [lo,hi]
// inclusive, seeded with image. Runtime writes fail with WriteProtected;
// Reset restores the original image.
func NewROM(lo, hi bits.Word, image []byte) *Cell {
	size := cellSize(lo, hi)
	buf := make([]byte, size)
	copy(buf, image)
	initial := make([]byte, size)
	copy(initial, image)
	return &Cell{loPage: lo, hiPage: hi, buf: buf, initial: initial, readOnly: true}
}

// LoPage returns the cell's lowest attached page number.
func (c *Cell) LoPage() bits.Word { return c.loPage }

// HiPage returns the cell's highest attached page number (inclusive).
func (c *Cell) HiPage() bits.Word { return c.hiPage }

// ReadOnly reports whether this cell rejects runtime writes (a ROM).
func (c *Cell) ReadOnly() bool { return c.readOnly }

// InBounds reports whether addr's page falls within this cell's declared
// range.
func (c *Cell) InBounds(addr bits.Word) bool {
	page := bits.PageOf(addr)
	return page >= c.loPage && page <= c.hiPage
}

func (c *Cell) offset(addr bits.Word) int {
	return int(addr - bits.PageAddr(c.loPage, 0))
}

// ReadByte reads one byte at the physical address addr.
func (c *Cell) ReadByte(addr bits.Word) (bits.Byte, error) {
	if !c.InBounds(addr) {
		return 0, newErr(OutOfBounds, addr, "address not attached to this cell")
	}
	return c.buf[c.offset(addr)], nil
}

// WriteByte writes one byte at the physical address addr. ROM cells reject
// this with WriteProtected.
func (c *Cell) WriteByte(addr bits.Word, val bits.Byte) error {
	if !c.InBounds(addr) {
		return newErr(OutOfBounds, addr, "address not attached to this cell")
	}
	if c.readOnly {
		return newErr(WriteProtected, addr, "cell is read-only")
	}
	c.buf[c.offset(addr)] = val
	return nil
}

// Reset restores the cell to its initial contents: zero for RAM (apart
// from any seed bytes passed to NewRAM), the original image for ROM.
func (c *Cell) Reset() {
	copy(c.buf, c.initial)
	for i := len(c.initial); i < len(c.buf); i++ {
		c.buf[i] = 0
	}
}
