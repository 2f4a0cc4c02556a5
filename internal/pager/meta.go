package pager

import (
	"encoding/binary"
	"fmt"
)

// MetaMagic identifies a coredb database file. Stored at byte 0 of page 0.
const MetaMagic uint32 = 0xC0DEDB01

// MetaFormatVersion is bumped whenever MetaInfo's on-disk layout changes.
const MetaFormatVersion uint32 = 1

// MetaInfo is the fixed-layout payload of the meta page (page 0). Unlike
// every other page, the meta page carries no common PageHeader — that
// header only prefixes the other, non-meta pages — so page 0's payload
// begins directly at offset 0 with MetaInfo, a small superblock-style
// record trimmed to the fields this engine actually needs.
type MetaInfo struct {
	Magic         uint32
	Version       uint32
	PageSize      uint32
	NextPageID    PageID // high-water mark written when the meta page is created; not updated afterwards
	CatalogRoot   PageID // first page of the catalog's page chain
	FreePageCount uint32 // informational only; freed ids are not persisted
}

const metaInfoSize = 4 + 4 + 4 + 4 + 4 + 4 // 24 bytes

// MarshalMetaInfo writes m into the first bytes of buf.
func MarshalMetaInfo(m MetaInfo, buf []byte) {
	if len(buf) < metaInfoSize {
		panic("pager: buffer too small for MetaInfo")
	}
	binary.LittleEndian.PutUint32(buf[0:], m.Magic)
	binary.LittleEndian.PutUint32(buf[4:], m.Version)
	binary.LittleEndian.PutUint32(buf[8:], m.PageSize)
	binary.LittleEndian.PutUint32(buf[12:], uint32(m.NextPageID))
	binary.LittleEndian.PutUint32(buf[16:], uint32(m.CatalogRoot))
	binary.LittleEndian.PutUint32(buf[20:], m.FreePageCount)
}

// UnmarshalMetaInfo reads a MetaInfo from buf and validates its magic.
func UnmarshalMetaInfo(buf []byte) (MetaInfo, error) {
	if len(buf) < metaInfoSize {
		return MetaInfo{}, fmt.Errorf("pager: meta page truncated: have %d bytes, need %d", len(buf), metaInfoSize)
	}
	m := MetaInfo{
		Magic:         binary.LittleEndian.Uint32(buf[0:]),
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		PageSize:      binary.LittleEndian.Uint32(buf[8:]),
		NextPageID:    PageID(binary.LittleEndian.Uint32(buf[12:])),
		CatalogRoot:   PageID(binary.LittleEndian.Uint32(buf[16:])),
		FreePageCount: binary.LittleEndian.Uint32(buf[20:]),
	}
	if m.Magic != MetaMagic {
		return MetaInfo{}, fmt.Errorf("pager: not a coredb database file (bad meta magic %08x)", m.Magic)
	}
	return m, nil
}

// NewMetaPage builds a fresh, zeroed meta page for a brand new database.
func NewMetaPage(pageSize int) []byte {
	buf := make([]byte, pageSize)
	MarshalMetaInfo(MetaInfo{
		Magic:       MetaMagic,
		Version:     MetaFormatVersion,
		PageSize:    uint32(pageSize),
		NextPageID:  1, // page 0 is the meta page itself
		CatalogRoot: InvalidPageID,
	}, buf)
	return buf
}
