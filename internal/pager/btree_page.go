package pager

import "encoding/binary"

// NodeHeaderSize is the size of the B+Tree node header written
// immediately after the common PageHeader in every index page:
//
//	[0:1]   is_leaf  uint8
//	[1:2]   reserved
//	[2:4]   key_count uint16 LE
//	[4:8]   parent    PageId LE
//	[8:12]  prev      PageId LE (leaves only; INVALID for internal nodes)
//	[12:16] next      PageId LE (leaves only; INVALID for internal nodes)
const NodeHeaderSize = 16

const (
	nhIsLeafOff  = 0
	nhKeyCntOff  = 2
	nhParentOff  = 4
	nhPrevOff    = 8
	nhNextOff    = 12
)

// nodeBodyOffset is where a node's keys/entries begin: right after the
// common PageHeader and the NodeHeader.
const nodeBodyOffset = PageHeaderSize + NodeHeaderSize

// NodeHeader is the typed view of a B+Tree node's own header fields.
type NodeHeader struct {
	IsLeaf   bool
	KeyCount uint16
	Parent   PageID
	Prev     PageID // leaves only
	Next     PageID // leaves only
}

// LeafEntrySize is the on-disk size of one LeafEntry: a 4-byte signed
// key, a 4-byte RID page id, and a 2-byte RID slot.
const LeafEntrySize = 10

// LeafEntry locates one indexed record.
type LeafEntry struct {
	Key     int32
	RIDPage PageID
	RIDSlot uint16
}

// internalEntrySize is the per-key cost of an internal node: one int32 key
// plus one PageId child pointer; the node additionally stores one extra
// child pointer beyond the last key (children.len() == keys.len()+1).
const internalEntrySize = 4 + 4

// BTreeNode is a typed view over an index page's payload, used by both
// leaf and internal accessors. B+Tree pages are never slotted, so this
// layout carries no "next free slot"/compaction bookkeeping the way a
// heap page's slot directory does.
type BTreeNode struct {
	buf []byte
}

// WrapBTreeNode views an already-initialized index page as a B+Tree node.
func WrapBTreeNode(buf []byte) *BTreeNode { return &BTreeNode{buf: buf} }

// InitBTreeNode initializes buf as a fresh index page and writes a node
// header for a new leaf or internal node with zero entries.
func InitBTreeNode(buf []byte, isLeaf bool, parent PageID) *BTreeNode {
	InitPage(buf, PageTypeIndex)
	n := &BTreeNode{buf: buf}
	n.SetHeader(NodeHeader{IsLeaf: isLeaf, KeyCount: 0, Parent: parent, Prev: InvalidPageID, Next: InvalidPageID})
	return n
}

func (n *BTreeNode) Header() NodeHeader {
	b := n.buf
	return NodeHeader{
		IsLeaf:   b[PageHeaderSize+nhIsLeafOff] != 0,
		KeyCount: binary.LittleEndian.Uint16(b[PageHeaderSize+nhKeyCntOff:]),
		Parent:   PageID(binary.LittleEndian.Uint32(b[PageHeaderSize+nhParentOff:])),
		Prev:     PageID(binary.LittleEndian.Uint32(b[PageHeaderSize+nhPrevOff:])),
		Next:     PageID(binary.LittleEndian.Uint32(b[PageHeaderSize+nhNextOff:])),
	}
}

func (n *BTreeNode) SetHeader(h NodeHeader) {
	b := n.buf
	if h.IsLeaf {
		b[PageHeaderSize+nhIsLeafOff] = 1
	} else {
		b[PageHeaderSize+nhIsLeafOff] = 0
	}
	binary.LittleEndian.PutUint16(b[PageHeaderSize+nhKeyCntOff:], h.KeyCount)
	binary.LittleEndian.PutUint32(b[PageHeaderSize+nhParentOff:], uint32(h.Parent))
	binary.LittleEndian.PutUint32(b[PageHeaderSize+nhPrevOff:], uint32(h.Prev))
	binary.LittleEndian.PutUint32(b[PageHeaderSize+nhNextOff:], uint32(h.Next))
	SetChecksum(b)
}

func (n *BTreeNode) IsLeaf() bool     { return n.Header().IsLeaf }
func (n *BTreeNode) KeyCount() int    { return int(n.Header().KeyCount) }
func (n *BTreeNode) Parent() PageID   { return n.Header().Parent }
func (n *BTreeNode) Prev() PageID     { return n.Header().Prev }
func (n *BTreeNode) Next() PageID     { return n.Header().Next }

func (n *BTreeNode) setKeyCount(c int) {
	binary.LittleEndian.PutUint16(n.buf[PageHeaderSize+nhKeyCntOff:], uint16(c))
	SetChecksum(n.buf)
}

func (n *BTreeNode) SetParent(p PageID) {
	binary.LittleEndian.PutUint32(n.buf[PageHeaderSize+nhParentOff:], uint32(p))
	SetChecksum(n.buf)
}

func (n *BTreeNode) SetSiblings(prev, next PageID) {
	binary.LittleEndian.PutUint32(n.buf[PageHeaderSize+nhPrevOff:], uint32(prev))
	binary.LittleEndian.PutUint32(n.buf[PageHeaderSize+nhNextOff:], uint32(next))
	SetChecksum(n.buf)
}

// --- leaf body ---

func leafEntryOffset(i int) int { return nodeBodyOffset + i*LeafEntrySize }

// MaxLeafEntries returns how many LeafEntry records fit in a page of this
// size.
func MaxLeafEntries(pageSize int) int {
	return (pageSize - nodeBodyOffset) / LeafEntrySize
}

func (n *BTreeNode) LeafEntry(i int) LeafEntry {
	off := leafEntryOffset(i)
	return LeafEntry{
		Key:     int32(binary.LittleEndian.Uint32(n.buf[off:])),
		RIDPage: PageID(binary.LittleEndian.Uint32(n.buf[off+4:])),
		RIDSlot: binary.LittleEndian.Uint16(n.buf[off+8:]),
	}
}

func (n *BTreeNode) setLeafEntry(i int, e LeafEntry) {
	off := leafEntryOffset(i)
	binary.LittleEndian.PutUint32(n.buf[off:], uint32(e.Key))
	binary.LittleEndian.PutUint32(n.buf[off+4:], uint32(e.RIDPage))
	binary.LittleEndian.PutUint16(n.buf[off+8:], e.RIDSlot)
}

// LeafEntries returns every entry in slot order (already key-sorted per
// invariant 8).
func (n *BTreeNode) LeafEntries() []LeafEntry {
	kc := n.KeyCount()
	out := make([]LeafEntry, kc)
	for i := 0; i < kc; i++ {
		out[i] = n.LeafEntry(i)
	}
	return out
}

// SetLeafEntries overwrites the full entry array and key count. Caller
// must ensure entries are sorted and len(entries) <= MaxLeafEntries.
func (n *BTreeNode) SetLeafEntries(entries []LeafEntry) {
	for i, e := range entries {
		n.setLeafEntry(i, e)
	}
	n.setKeyCount(len(entries))
	SetChecksum(n.buf)
}

// --- internal body ---

// MaxInternalKeys returns how many separator keys fit in an internal node
// of this page size, accounting for the extra trailing child pointer.
func MaxInternalKeys(pageSize int) int {
	avail := pageSize - nodeBodyOffset
	return (avail - 4) / internalEntrySize
}

func internalKeyOffset(i int) int { return nodeBodyOffset + i*4 }

func (n *BTreeNode) internalChildOffset(maxKeys, i int) int {
	return nodeBodyOffset + maxKeys*4 + i*4
}

// InternalKeys returns the key_count separator keys.
func (n *BTreeNode) InternalKeys(pageSize int) []int32 {
	kc := n.KeyCount()
	out := make([]int32, kc)
	for i := 0; i < kc; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(n.buf[internalKeyOffset(i):]))
	}
	return out
}

// InternalChildren returns the key_count+1 child page ids.
func (n *BTreeNode) InternalChildren(pageSize int) []PageID {
	kc := n.KeyCount()
	maxKeys := MaxInternalKeys(pageSize)
	out := make([]PageID, kc+1)
	for i := 0; i <= kc; i++ {
		out[i] = PageID(binary.LittleEndian.Uint32(n.buf[n.internalChildOffset(maxKeys, i):]))
	}
	return out
}

// SetInternalEntries overwrites the full keys/children arrays and key
// count. len(children) must equal len(keys)+1.
func (n *BTreeNode) SetInternalEntries(pageSize int, keys []int32, children []PageID) {
	maxKeys := MaxInternalKeys(pageSize)
	for i, k := range keys {
		binary.LittleEndian.PutUint32(n.buf[internalKeyOffset(i):], uint32(k))
	}
	for i, c := range children {
		binary.LittleEndian.PutUint32(n.buf[n.internalChildOffset(maxKeys, i):], uint32(c))
	}
	n.setKeyCount(len(keys))
	SetChecksum(n.buf)
}

// Bytes returns the underlying page buffer.
func (n *BTreeNode) Bytes() []byte { return n.buf }
