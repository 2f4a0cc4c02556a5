// Package pager implements the paged disk manager, buffer pool, slotted
// record pages, and B+Tree index that make up coredb's storage layer.
// It is the leaf layer of coredb: nothing in this package depends on
// storageengine, catalog, or engine.
//
// Built around a page header + CRC, slotted record pages, a
// write-ahead log, and a buffer pool, generalized to the full set of page
// types (data, index, meta, catalog) this engine needs.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// PageSize is the fixed page size used by a given database file: one
// size for the lifetime of a file (4096 bytes by default), negotiated
// once at creation rather than varying per open.
const (
	DefaultPageSize = 4096
	MinPageSize     = 512
	MaxPageSize     = 65536
)

// PageID is an unsigned 32-bit page identifier. Page 0 is the meta page.
type PageID uint32

// InvalidPageID is the reserved all-ones sentinel.
const InvalidPageID PageID = 0xFFFFFFFF

// FrameID indexes into the buffer pool's frame array.
type FrameID int32

// InvalidFrameID marks an empty slot.
const InvalidFrameID FrameID = -1

// PageType identifies what a non-meta page's payload holds.
type PageType uint32

const (
	PageTypeInvalid PageType = 0
	PageTypeData    PageType = 1
	PageTypeIndex   PageType = 2
	PageTypeMeta    PageType = 3
	PageTypeCatalog PageType = 4
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeData:
		return "DATA"
	case PageTypeIndex:
		return "INDEX"
	case PageTypeMeta:
		return "META"
	case PageTypeCatalog:
		return "CATALOG"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(pt))
	}
}

// PageHeaderSize is the size, in bytes, of the common PageHeader written
// at offset 0 of every non-meta page:
//
//	[0:2]   slot_count         uint16 LE
//	[2:4]   free_space_offset  uint16 LE
//	[4:8]   next_page_id       uint32 LE
//	[8:12]  page_type          uint32 LE
//	[12:16] checksum           uint32 LE (CRC32-C; computed with this
//	                                      field zeroed, remaining bytes
//	                                      reserved for alignment)
const PageHeaderSize = 16

const (
	hdrSlotCountOff    = 0
	hdrFreeSpaceOff    = 2
	hdrNextPageIDOff   = 4
	hdrPageTypeOff     = 8
	hdrChecksumOff     = 12
)

// PageHeader is the typed view of the first PageHeaderSize bytes of a page.
type PageHeader struct {
	SlotCount        uint16
	FreeSpaceOffset  uint16
	NextPageID       PageID
	PageType         PageType
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("pager: buffer too small for PageHeader")
	}
	binary.LittleEndian.PutUint16(buf[hdrSlotCountOff:], h.SlotCount)
	binary.LittleEndian.PutUint16(buf[hdrFreeSpaceOff:], h.FreeSpaceOffset)
	binary.LittleEndian.PutUint32(buf[hdrNextPageIDOff:], uint32(h.NextPageID))
	binary.LittleEndian.PutUint32(buf[hdrPageTypeOff:], uint32(h.PageType))
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes.
func UnmarshalHeader(buf []byte) PageHeader {
	return PageHeader{
		SlotCount:       binary.LittleEndian.Uint16(buf[hdrSlotCountOff:]),
		FreeSpaceOffset: binary.LittleEndian.Uint16(buf[hdrFreeSpaceOff:]),
		NextPageID:      PageID(binary.LittleEndian.Uint32(buf[hdrNextPageIDOff:])),
		PageType:        PageType(binary.LittleEndian.Uint32(buf[hdrPageTypeOff:])),
	}
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes the CRC32-C of a full page with the checksum
// field (bytes 12..16) treated as zero.
func ComputeChecksum(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:hdrChecksumOff])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[hdrChecksumOff+4:])
	return h.Sum32()
}

// SetChecksum computes and stores the checksum in the page header.
func SetChecksum(page []byte) {
	binary.LittleEndian.PutUint32(page[hdrChecksumOff:], ComputeChecksum(page))
}

// VerifyChecksum reports a mismatch between the stored and computed CRC.
func VerifyChecksum(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[hdrChecksumOff:])
	computed := ComputeChecksum(page)
	if stored != computed {
		return fmt.Errorf("pager: checksum mismatch: stored=%08x computed=%08x", stored, computed)
	}
	return nil
}

// InitPage writes a fresh PageHeader: slot_count=0,
// free_space_offset=PageHeaderSize, next_page_id=INVALID, page_type=pt.
func InitPage(buf []byte, pt PageType) {
	h := PageHeader{
		SlotCount:       0,
		FreeSpaceOffset: PageHeaderSize,
		NextPageID:      InvalidPageID,
		PageType:        pt,
	}
	MarshalHeader(h, buf)
	SetChecksum(buf)
}

// NewZeroPage allocates a zeroed buffer of the given size and initializes
// it as a fresh page of type pt.
func NewZeroPage(pageSize int, pt PageType) []byte {
	buf := make([]byte, pageSize)
	InitPage(buf, pt)
	return buf
}

// HeaderPageType reads just the page_type field without unmarshaling the
// rest of the header, used by storageengine's type-checked accessors.
func HeaderPageType(buf []byte) PageType {
	return PageType(binary.LittleEndian.Uint32(buf[hdrPageTypeOff:]))
}

// HeaderNextPageID reads the next_page_id field (page-chain link).
func HeaderNextPageID(buf []byte) PageID {
	return PageID(binary.LittleEndian.Uint32(buf[hdrNextPageIDOff:]))
}

// SetHeaderNextPageID updates the next_page_id field in place and
// recomputes the checksum.
func SetHeaderNextPageID(buf []byte, next PageID) {
	binary.LittleEndian.PutUint32(buf[hdrNextPageIDOff:], uint32(next))
	SetChecksum(buf)
}
