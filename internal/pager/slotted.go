package pager

import (
	"encoding/binary"
	"fmt"
)

// SlotEntrySize is the on-disk size of one SlotEntry: a 2-byte offset
// and a 2-byte length.
const SlotEntrySize = 4

// SlotEntry locates one record within a page. Length == 0 denotes a
// tombstone: a deleted record whose slot stays allocated.
type SlotEntry struct {
	Offset uint16
	Length uint16
}

// SlottedPage is a typed view over a page buffer: a slot directory
// growing downward from the page tail, record bytes growing upward from
// the header.
//
// Slot i lives at PAGE_SIZE - (i+1)*SlotEntrySize.
type SlottedPage struct {
	buf []byte
}

// WrapSlottedPage views an already-initialized page buffer as a slotted
// page (no header is written).
func WrapSlottedPage(buf []byte) *SlottedPage { return &SlottedPage{buf: buf} }

func (sp *SlottedPage) pageSize() int { return len(sp.buf) }

func (sp *SlottedPage) header() PageHeader { return UnmarshalHeader(sp.buf) }

// SlotCount returns the number of slots, including tombstones.
func (sp *SlottedPage) SlotCount() int { return int(sp.header().SlotCount) }

// FreeSpaceOffset is where the next record's bytes begin.
func (sp *SlottedPage) FreeSpaceOffset() int { return int(sp.header().FreeSpaceOffset) }

func (sp *SlottedPage) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(sp.buf[hdrSlotCountOff:], uint16(n))
}

func (sp *SlottedPage) setFreeSpaceOffset(off int) {
	binary.LittleEndian.PutUint16(sp.buf[hdrFreeSpaceOff:], uint16(off))
}

func (sp *SlottedPage) slotOffset(i int) int {
	return sp.pageSize() - (i+1)*SlotEntrySize
}

// GetSlot returns the slot entry at index i.
func (sp *SlottedPage) GetSlot(i int) SlotEntry {
	off := sp.slotOffset(i)
	return SlotEntry{
		Offset: binary.LittleEndian.Uint16(sp.buf[off:]),
		Length: binary.LittleEndian.Uint16(sp.buf[off+2:]),
	}
}

func (sp *SlottedPage) setSlot(i int, e SlotEntry) {
	off := sp.slotOffset(i)
	binary.LittleEndian.PutUint16(sp.buf[off:], e.Offset)
	binary.LittleEndian.PutUint16(sp.buf[off+2:], e.Length)
}

// IsTombstone reports whether slot i has been deleted.
func (sp *SlottedPage) IsTombstone(i int) bool {
	e := sp.GetSlot(i)
	return e.Length == 0
}

// FreeSpace computes free_space: the bytes available for a
// new record plus its slot entry.
//
//	free_space(page) = PAGE_SIZE - free_space_offset - slot_count*SLOT_SIZE
//
// AppendRow accounts for the would-be new record's own directory entry
// by requiring free_space(page) >= len + SLOT_SIZE before writing it.
func (sp *SlottedPage) FreeSpace() int {
	return sp.pageSize() - sp.FreeSpaceOffset() - sp.SlotCount()*SlotEntrySize
}

// AppendRow copies data into the record area, writes a new slot, marks
// the page dirty (left to the caller/buffer pool), and returns the new
// slot index.
func (sp *SlottedPage) AppendRow(data []byte) (int, error) {
	need := len(data) + SlotEntrySize
	if sp.FreeSpace() < need {
		return -1, fmt.Errorf("pager: page full: need %d bytes, have %d", need, sp.FreeSpace())
	}
	off := sp.FreeSpaceOffset()
	copy(sp.buf[off:off+len(data)], data)
	sp.setFreeSpaceOffset(off + len(data))

	idx := sp.SlotCount()
	sp.setSlot(idx, SlotEntry{Offset: uint16(off), Length: uint16(len(data))})
	sp.setSlotCount(idx + 1)
	SetChecksum(sp.buf)
	return idx, nil
}

// DeleteRow tombstones slot i. Space reclamation is out of scope here.
func (sp *SlottedPage) DeleteRow(i int) error {
	if i < 0 || i >= sp.SlotCount() {
		return fmt.Errorf("pager: slot %d out of range [0,%d)", i, sp.SlotCount())
	}
	sp.setSlot(i, SlotEntry{Offset: 0, Length: 0})
	SetChecksum(sp.buf)
	return nil
}

// GetRow returns the raw bytes for slot i, or nil if it is a tombstone.
func (sp *SlottedPage) GetRow(i int) []byte {
	e := sp.GetSlot(i)
	if e.Length == 0 {
		return nil
	}
	return sp.buf[e.Offset : e.Offset+e.Length]
}

// ForEachRow iterates slot indices in order, skipping tombstones.
func (sp *SlottedPage) ForEachRow(fn func(slot int, data []byte)) {
	sc := sp.SlotCount()
	for i := 0; i < sc; i++ {
		if sp.IsTombstone(i) {
			continue
		}
		fn(i, sp.GetRow(i))
	}
}

// Bytes returns the underlying page buffer.
func (sp *SlottedPage) Bytes() []byte { return sp.buf }
