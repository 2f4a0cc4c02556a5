package pager

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/coredb/coredb/internal/dberr"
)

// RID identifies a row by the page it lives on and its slot index.
type RID struct {
	Page PageID
	Slot uint16
}

// PagePool is the subset of BufferPool the B+Tree needs. Defined as an
// interface so index code can be exercised against a fake pool in tests
// without a real disk file.
type PagePool interface {
	FetchPage(id PageID) (*PageGuard, error)
	NewPage() (*PageGuard, error)
	UnpinPage(id PageID, isDirty bool) error
	DeletePage(id PageID) error
	Disk() *DiskManager
}

// BTree implements a disk-backed B+Tree secondary index over a PagePool:
// node descent for search/insert, split-and-propagate on overflow, and a
// full borrow/merge path on delete so underflowing nodes stay within the
// tree's minimum occupancy.
type BTree struct {
	pool         PagePool
	pageSize     int
	root         PageID
	onRootChange func(PageID)
}

// NewBTree wraps an existing root page id. onRootChange is invoked
// whenever a split or merge replaces the root, so the caller (Catalog's
// IndexSchema) can persist the new root_page_id.
func NewBTree(pool PagePool, root PageID, onRootChange func(PageID)) *BTree {
	return &BTree{pool: pool, pageSize: pool.Disk().PageSize(), root: root, onRootChange: onRootChange}
}

// CreateBTree allocates a fresh, empty leaf as the initial root.
func CreateBTree(pool PagePool, onRootChange func(PageID)) (*BTree, error) {
	g, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	InitBTreeNode(g.Bytes(), true, InvalidPageID)
	id := g.PageID()
	if err := pool.UnpinPage(id, true); err != nil {
		return nil, err
	}
	if onRootChange != nil {
		onRootChange(id)
	}
	return &BTree{pool: pool, pageSize: pool.Disk().PageSize(), root: id, onRootChange: onRootChange}, nil
}

// RootPageID returns the current root page id.
func (bt *BTree) RootPageID() PageID { return bt.root }

func (bt *BTree) maxLeaf() int     { return MaxLeafEntries(bt.pageSize) }
func (bt *BTree) maxInternal() int { return MaxInternalKeys(bt.pageSize) }

// --- descent ---

// findLeaf descends from the root to the leaf that would contain key,
// returning the pinned leaf guard and the stack of ancestor internal page
// ids (root-to-parent, exclusive of the leaf). Caller must unpin the leaf.
func (bt *BTree) findLeaf(key int32) (*PageGuard, []PageID, error) {
	var ancestors []PageID
	cur := bt.root
	for {
		g, err := bt.pool.FetchPage(cur)
		if err != nil {
			return nil, nil, err
		}
		node := WrapBTreeNode(g.Bytes())
		if node.IsLeaf() {
			return g, ancestors, nil
		}
		keys := node.InternalKeys(bt.pageSize)
		children := node.InternalChildren(bt.pageSize)
		i := sort.Search(len(keys), func(i int) bool { return key < keys[i] })
		next := children[i]
		ancestors = append(ancestors, cur)
		bt.pool.UnpinPage(cur, false)
		cur = next
	}
}

// --- search / range ---

// Search returns the RID for key, or ok=false if absent.
func (bt *BTree) Search(key int32) (RID, bool, error) {
	g, _, err := bt.findLeaf(key)
	if err != nil {
		return RID{}, false, err
	}
	defer bt.pool.UnpinPage(g.PageID(), false)
	node := WrapBTreeNode(g.Bytes())
	entries := node.LeafEntries()
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	if idx < len(entries) && entries[idx].Key == key {
		return RID{Page: entries[idx].RIDPage, Slot: entries[idx].RIDSlot}, true, nil
	}
	return RID{}, false, nil
}

// SearchAll returns every entry with the given key, for generic-key
// lookups where hash collisions may have produced duplicates.
func (bt *BTree) SearchAll(key int32) ([]LeafEntry, error) {
	g, _, err := bt.findLeaf(key)
	if err != nil {
		return nil, err
	}
	defer bt.pool.UnpinPage(g.PageID(), false)
	node := WrapBTreeNode(g.Bytes())
	entries := node.LeafEntries()
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	var out []LeafEntry
	for ; idx < len(entries) && entries[idx].Key == key; idx++ {
		out = append(out, entries[idx])
	}
	return out, nil
}

// Range descends to low, then scans forward via sibling links collecting
// entries in [low, high].
func (bt *BTree) Range(low, high int32) ([]LeafEntry, error) {
	g, _, err := bt.findLeaf(low)
	if err != nil {
		return nil, err
	}
	var out []LeafEntry
	cur := g
	for {
		node := WrapBTreeNode(cur.Bytes())
		entries := node.LeafEntries()
		for _, e := range entries {
			if e.Key >= low && e.Key <= high {
				out = append(out, e)
			}
			if e.Key > high {
				bt.pool.UnpinPage(cur.PageID(), false)
				return out, nil
			}
		}
		next := node.Next()
		bt.pool.UnpinPage(cur.PageID(), false)
		if next == InvalidPageID {
			return out, nil
		}
		cur, err = bt.pool.FetchPage(next)
		if err != nil {
			return nil, err
		}
	}
}

// --- insert ---

// Insert locates key in its leaf: if present, the RID is updated in
// place; otherwise a new entry is inserted in sorted order, splitting
// nodes up to the root as needed.
func (bt *BTree) Insert(key int32, rid RID) error {
	return bt.insert(key, rid, false)
}

// InsertDuplicate always adds a new entry even if key already exists,
// instead of updating in place. Used by generic-key index maintenance,
// where equal canonical keys may denote distinct original values (hash
// collision) or a legitimately non-unique index column — either way the
// caller, not the tree, owns uniqueness enforcement.
func (bt *BTree) InsertDuplicate(key int32, rid RID) error {
	return bt.insert(key, rid, true)
}

func (bt *BTree) insert(key int32, rid RID, allowDuplicate bool) error {
	leafGuard, ancestors, err := bt.findLeaf(key)
	if err != nil {
		return err
	}
	leafID := leafGuard.PageID()
	node := WrapBTreeNode(leafGuard.Bytes())
	entries := node.LeafEntries()

	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	if !allowDuplicate && idx < len(entries) && entries[idx].Key == key {
		entries[idx].RIDPage = rid.Page
		entries[idx].RIDSlot = rid.Slot
		node.SetLeafEntries(entries)
		return bt.pool.UnpinPage(leafID, true)
	}

	newEntry := LeafEntry{Key: key, RIDPage: rid.Page, RIDSlot: rid.Slot}
	merged := make([]LeafEntry, 0, len(entries)+1)
	merged = append(merged, entries[:idx]...)
	merged = append(merged, newEntry)
	merged = append(merged, entries[idx:]...)

	if len(merged) <= bt.maxLeaf() {
		node.SetLeafEntries(merged)
		return bt.pool.UnpinPage(leafID, true)
	}
	return bt.splitLeaf(leafGuard, node, merged, ancestors)
}

// splitLeaf handles leaf overflow, installing the new pages in a fixed
// order: right sibling first, then left, then the parent entry linking
// them.
func (bt *BTree) splitLeaf(leftGuard *PageGuard, leftNode *BTreeNode, merged []LeafEntry, ancestors []PageID) error {
	leftID := leftGuard.PageID()
	oldNext := leftNode.Next()
	oldPrev := leftNode.Prev()
	parent := leftNode.Parent()

	leftSize := len(merged) / 2
	leftEntries := merged[:leftSize]
	rightEntries := merged[leftSize:]
	separator := rightEntries[0].Key

	rightGuard, err := bt.pool.NewPage()
	if err != nil {
		return err
	}
	rightID := rightGuard.PageID()
	rightNode := InitBTreeNode(rightGuard.Bytes(), true, parent)
	rightNode.SetLeafEntries(rightEntries)
	rightNode.SetSiblings(leftID, oldNext)
	if err := bt.pool.UnpinPage(rightID, true); err != nil {
		return err
	}

	leftNode.SetLeafEntries(leftEntries)
	leftNode.SetSiblings(oldPrev, rightID)
	if err := bt.pool.UnpinPage(leftID, true); err != nil {
		return err
	}

	if oldNext != InvalidPageID {
		nextGuard, err := bt.pool.FetchPage(oldNext)
		if err != nil {
			return err
		}
		WrapBTreeNode(nextGuard.Bytes()).SetSiblings(rightID, WrapBTreeNode(nextGuard.Bytes()).Next())
		if err := bt.pool.UnpinPage(oldNext, true); err != nil {
			return err
		}
	}

	return bt.attachToParent(leftID, rightID, separator, ancestors)
}

// attachToParent installs separator between leftID and rightID in their
// parent (creating a new root if leftID was the root), splitting the
// parent in turn if it overflows.
func (bt *BTree) attachToParent(leftID, rightID PageID, separator int32, ancestors []PageID) error {
	if len(ancestors) == 0 {
		return bt.newRoot(leftID, rightID, separator)
	}
	parentID := ancestors[len(ancestors)-1]
	grandparents := ancestors[:len(ancestors)-1]

	pg, err := bt.pool.FetchPage(parentID)
	if err != nil {
		return err
	}
	parentNode := WrapBTreeNode(pg.Bytes())
	keys := parentNode.InternalKeys(bt.pageSize)
	children := parentNode.InternalChildren(bt.pageSize)

	pos := indexOfChild(children, leftID)
	newKeys := make([]int32, 0, len(keys)+1)
	newKeys = append(newKeys, keys[:pos]...)
	newKeys = append(newKeys, separator)
	newKeys = append(newKeys, keys[pos:]...)

	newChildren := make([]PageID, 0, len(children)+1)
	newChildren = append(newChildren, children[:pos+1]...)
	newChildren = append(newChildren, rightID)
	newChildren = append(newChildren, children[pos+1:]...)

	if err := bt.reparent(rightID, parentID); err != nil {
		return err
	}

	if len(newKeys) <= bt.maxInternal() {
		parentNode.SetInternalEntries(bt.pageSize, newKeys, newChildren)
		return bt.pool.UnpinPage(parentID, true)
	}
	return bt.splitInternal(pg, parentNode, newKeys, newChildren, grandparents)
}

// splitInternal handles internal-node overflow: the middle key is pushed
// up rather than duplicated, unlike a leaf split.
func (bt *BTree) splitInternal(leftGuard *PageGuard, leftNode *BTreeNode, keys []int32, children []PageID, ancestors []PageID) error {
	leftID := leftGuard.PageID()
	parent := leftNode.Parent()

	mid := len(keys) / 2
	pushUp := keys[mid]
	leftKeys := keys[:mid]
	leftChildren := children[:mid+1]
	rightKeys := keys[mid+1:]
	rightChildren := children[mid+1:]

	rightGuard, err := bt.pool.NewPage()
	if err != nil {
		return err
	}
	rightID := rightGuard.PageID()
	rightNode := InitBTreeNode(rightGuard.Bytes(), false, parent)
	rightNode.SetInternalEntries(bt.pageSize, rightKeys, rightChildren)
	if err := bt.pool.UnpinPage(rightID, true); err != nil {
		return err
	}
	for _, c := range rightChildren {
		if err := bt.reparent(c, rightID); err != nil {
			return err
		}
	}

	leftNode.SetInternalEntries(bt.pageSize, leftKeys, leftChildren)
	if err := bt.pool.UnpinPage(leftID, true); err != nil {
		return err
	}

	return bt.attachToParent(leftID, rightID, pushUp, ancestors)
}

// newRoot allocates a fresh internal root with two children when the
// previous root (leaf or internal) splits.
func (bt *BTree) newRoot(leftID, rightID PageID, separator int32) error {
	g, err := bt.pool.NewPage()
	if err != nil {
		return err
	}
	rootID := g.PageID()
	node := InitBTreeNode(g.Bytes(), false, InvalidPageID)
	node.SetInternalEntries(bt.pageSize, []int32{separator}, []PageID{leftID, rightID})
	if err := bt.pool.UnpinPage(rootID, true); err != nil {
		return err
	}
	if err := bt.reparent(leftID, rootID); err != nil {
		return err
	}
	if err := bt.reparent(rightID, rootID); err != nil {
		return err
	}
	bt.root = rootID
	if bt.onRootChange != nil {
		bt.onRootChange(rootID)
	}
	return nil
}

func (bt *BTree) reparent(childID, parentID PageID) error {
	g, err := bt.pool.FetchPage(childID)
	if err != nil {
		return err
	}
	WrapBTreeNode(g.Bytes()).SetParent(parentID)
	return bt.pool.UnpinPage(childID, true)
}

func indexOfChild(children []PageID, id PageID) int {
	for i, c := range children {
		if c == id {
			return i
		}
	}
	return len(children) - 1
}

// --- update / delete ---

// Update overwrites the RID for an existing key, failing with NotFound if
// absent.
func (bt *BTree) Update(key int32, rid RID) error {
	g, _, err := bt.findLeaf(key)
	if err != nil {
		return err
	}
	node := WrapBTreeNode(g.Bytes())
	entries := node.LeafEntries()
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	if idx >= len(entries) || entries[idx].Key != key {
		bt.pool.UnpinPage(g.PageID(), false)
		return dberr.New(dberr.NotFound, "btree: update: key %d not found", key)
	}
	entries[idx].RIDPage = rid.Page
	entries[idx].RIDSlot = rid.Slot
	node.SetLeafEntries(entries)
	return bt.pool.UnpinPage(g.PageID(), true)
}

// Delete removes key's entry, rebalancing via sibling borrow or merge
// when the leaf underflows.
func (bt *BTree) Delete(key int32) error {
	leafGuard, ancestors, err := bt.findLeaf(key)
	if err != nil {
		return err
	}
	leafID := leafGuard.PageID()
	node := WrapBTreeNode(leafGuard.Bytes())
	entries := node.LeafEntries()
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	if idx >= len(entries) || entries[idx].Key != key {
		bt.pool.UnpinPage(leafID, false)
		return dberr.New(dberr.NotFound, "btree: delete: key %d not found", key)
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	node.SetLeafEntries(entries)

	if len(ancestors) == 0 {
		// Leaf is the root; no minimum occupancy applies.
		return bt.pool.UnpinPage(leafID, true)
	}
	minLeaf := bt.maxLeaf() / 2
	if len(entries) >= minLeaf {
		return bt.pool.UnpinPage(leafID, true)
	}
	return bt.fixLeafUnderflow(leafID, node, ancestors)
}

// fixLeafUnderflow applies borrow-then-merge rebalancing to an
// underflowing leaf that is not the root.
func (bt *BTree) fixLeafUnderflow(leafID PageID, leaf *BTreeNode, ancestors []PageID) error {
	parentID := ancestors[len(ancestors)-1]
	grandparents := ancestors[:len(ancestors)-1]
	minLeaf := bt.maxLeaf() / 2

	pg, err := bt.pool.FetchPage(parentID)
	if err != nil {
		bt.pool.UnpinPage(leafID, true)
		return err
	}
	parentNode := WrapBTreeNode(pg.Bytes())
	keys := parentNode.InternalKeys(bt.pageSize)
	children := parentNode.InternalChildren(bt.pageSize)
	pos := indexOfChild(children, leafID)

	// Try borrowing from the left sibling.
	if pos > 0 {
		leftID := children[pos-1]
		lg, err := bt.pool.FetchPage(leftID)
		if err != nil {
			bt.pool.UnpinPage(leafID, true)
			bt.pool.UnpinPage(parentID, false)
			return err
		}
		leftNode := WrapBTreeNode(lg.Bytes())
		leftEntries := leftNode.LeafEntries()
		if len(leftEntries) > minLeaf {
			borrowed := leftEntries[len(leftEntries)-1]
			leftNode.SetLeafEntries(leftEntries[:len(leftEntries)-1])
			entries := leaf.LeafEntries()
			entries = append([]LeafEntry{borrowed}, entries...)
			leaf.SetLeafEntries(entries)
			keys[pos-1] = entries[0].Key
			parentNode.SetInternalEntries(bt.pageSize, keys, children)
			bt.pool.UnpinPage(leftID, true)
			bt.pool.UnpinPage(leafID, true)
			return bt.pool.UnpinPage(parentID, true)
		}
		bt.pool.UnpinPage(leftID, false)
	}

	// Try borrowing from the right sibling.
	if pos < len(children)-1 {
		rightID := children[pos+1]
		rg, err := bt.pool.FetchPage(rightID)
		if err != nil {
			bt.pool.UnpinPage(leafID, true)
			bt.pool.UnpinPage(parentID, false)
			return err
		}
		rightNode := WrapBTreeNode(rg.Bytes())
		rightEntries := rightNode.LeafEntries()
		if len(rightEntries) > minLeaf {
			borrowed := rightEntries[0]
			rightNode.SetLeafEntries(rightEntries[1:])
			entries := append(leaf.LeafEntries(), borrowed)
			leaf.SetLeafEntries(entries)
			keys[pos] = rightNode.LeafEntries()[0].Key
			parentNode.SetInternalEntries(bt.pageSize, keys, children)
			bt.pool.UnpinPage(rightID, true)
			bt.pool.UnpinPage(leafID, true)
			return bt.pool.UnpinPage(parentID, true)
		}
		bt.pool.UnpinPage(rightID, false)
	}

	// Merge with a sibling: prefer merging into the left sibling so the
	// surviving page id is stable; otherwise merge the right sibling into
	// this leaf.
	if pos > 0 {
		leftID := children[pos-1]
		lg, err := bt.pool.FetchPage(leftID)
		if err != nil {
			bt.pool.UnpinPage(leafID, true)
			bt.pool.UnpinPage(parentID, false)
			return err
		}
		leftNode := WrapBTreeNode(lg.Bytes())
		merged := append(leftNode.LeafEntries(), leaf.LeafEntries()...)
		leftNode.SetLeafEntries(merged)
		leftNode.SetSiblings(leftNode.Prev(), leaf.Next())
		if leaf.Next() != InvalidPageID {
			ng, err := bt.pool.FetchPage(leaf.Next())
			if err == nil {
				WrapBTreeNode(ng.Bytes()).SetSiblings(leftID, WrapBTreeNode(ng.Bytes()).Next())
				bt.pool.UnpinPage(leaf.Next(), true)
			}
		}
		bt.pool.UnpinPage(leftID, true)
		bt.pool.UnpinPage(leafID, false)
		if err := bt.pool.DeletePage(leafID); err != nil {
			bt.pool.UnpinPage(parentID, false)
			return err
		}
		return bt.removeFromParent(parentID, parentNode, pos, grandparents)
	}

	// pos == 0: merge the right sibling into this leaf.
	rightID := children[pos+1]
	rg, err := bt.pool.FetchPage(rightID)
	if err != nil {
		bt.pool.UnpinPage(leafID, true)
		bt.pool.UnpinPage(parentID, false)
		return err
	}
	rightNode := WrapBTreeNode(rg.Bytes())
	merged := append(leaf.LeafEntries(), rightNode.LeafEntries()...)
	leaf.SetLeafEntries(merged)
	leaf.SetSiblings(leaf.Prev(), rightNode.Next())
	if rightNode.Next() != InvalidPageID {
		ng, err := bt.pool.FetchPage(rightNode.Next())
		if err == nil {
			WrapBTreeNode(ng.Bytes()).SetSiblings(leafID, WrapBTreeNode(ng.Bytes()).Next())
			bt.pool.UnpinPage(rightNode.Next(), true)
		}
	}
	bt.pool.UnpinPage(leafID, true)
	bt.pool.UnpinPage(rightID, false)
	if err := bt.pool.DeletePage(rightID); err != nil {
		bt.pool.UnpinPage(parentID, false)
		return err
	}
	return bt.removeFromParent(parentID, parentNode, pos+1, grandparents)
}

// removeFromParent drops keys[childIdx-1]/children[childIdx] (the
// separator and child pointer belonging to the page that was just merged
// away at position childIdx), then rebalances the parent if it underflows,
// recursing up the tree as needed.
func (bt *BTree) removeFromParent(parentID PageID, parentNode *BTreeNode, childIdx int, grandparents []PageID) error {
	keys := parentNode.InternalKeys(bt.pageSize)
	children := parentNode.InternalChildren(bt.pageSize)

	keyIdx := childIdx - 1
	if keyIdx < 0 {
		keyIdx = 0
	}
	newKeys := append(append([]int32{}, keys[:keyIdx]...), keys[keyIdx+1:]...)
	newChildren := append(append([]PageID{}, children[:childIdx]...), children[childIdx+1:]...)
	parentNode.SetInternalEntries(bt.pageSize, newKeys, newChildren)

	if len(grandparents) == 0 {
		// Parent is the root. If it has dropped to a single child, that
		// child becomes the new root.
		if len(newChildren) == 1 {
			onlyChild := newChildren[0]
			if err := bt.reparent(onlyChild, InvalidPageID); err != nil {
				bt.pool.UnpinPage(parentID, false)
				return err
			}
			bt.pool.UnpinPage(parentID, true)
			if err := bt.pool.DeletePage(parentID); err != nil {
				return err
			}
			bt.root = onlyChild
			if bt.onRootChange != nil {
				bt.onRootChange(onlyChild)
			}
			return nil
		}
		return bt.pool.UnpinPage(parentID, true)
	}

	minInternal := bt.maxInternal() / 2
	if len(newKeys) >= minInternal {
		return bt.pool.UnpinPage(parentID, true)
	}
	return bt.fixInternalUnderflow(parentID, parentNode, grandparents)
}

// fixInternalUnderflow mirrors fixLeafUnderflow for internal nodes:
// borrow a key from a sibling through the grandparent, or merge.
func (bt *BTree) fixInternalUnderflow(nodeID PageID, node *BTreeNode, ancestors []PageID) error {
	parentID := ancestors[len(ancestors)-1]
	grandparents := ancestors[:len(ancestors)-1]
	minInternal := bt.maxInternal() / 2

	pg, err := bt.pool.FetchPage(parentID)
	if err != nil {
		bt.pool.UnpinPage(nodeID, true)
		return err
	}
	parentNode := WrapBTreeNode(pg.Bytes())
	pKeys := parentNode.InternalKeys(bt.pageSize)
	pChildren := parentNode.InternalChildren(bt.pageSize)
	pos := indexOfChild(pChildren, nodeID)

	if pos > 0 {
		leftID := pChildren[pos-1]
		lg, err := bt.pool.FetchPage(leftID)
		if err == nil {
			leftNode := WrapBTreeNode(lg.Bytes())
			lKeys := leftNode.InternalKeys(bt.pageSize)
			lChildren := leftNode.InternalChildren(bt.pageSize)
			if len(lKeys) > minInternal {
				borrowedChild := lChildren[len(lChildren)-1]
				rotatedKey := pKeys[pos-1]
				newLKeys := lKeys[:len(lKeys)-1]
				newLChildren := lChildren[:len(lChildren)-1]
				leftNode.SetInternalEntries(bt.pageSize, newLKeys, newLChildren)

				nKeys := node.InternalKeys(bt.pageSize)
				nChildren := node.InternalChildren(bt.pageSize)
				newNKeys := append([]int32{rotatedKey}, nKeys...)
				newNChildren := append([]PageID{borrowedChild}, nChildren...)
				node.SetInternalEntries(bt.pageSize, newNKeys, newNChildren)
				bt.reparent(borrowedChild, nodeID)

				pKeys[pos-1] = lKeys[len(lKeys)-1]
				parentNode.SetInternalEntries(bt.pageSize, pKeys, pChildren)
				bt.pool.UnpinPage(leftID, true)
				bt.pool.UnpinPage(nodeID, true)
				return bt.pool.UnpinPage(parentID, true)
			}
			bt.pool.UnpinPage(leftID, false)
		}
	}

	if pos < len(pChildren)-1 {
		rightID := pChildren[pos+1]
		rg, err := bt.pool.FetchPage(rightID)
		if err == nil {
			rightNode := WrapBTreeNode(rg.Bytes())
			rKeys := rightNode.InternalKeys(bt.pageSize)
			rChildren := rightNode.InternalChildren(bt.pageSize)
			if len(rKeys) > minInternal {
				borrowedChild := rChildren[0]
				rotatedKey := pKeys[pos]
				newRKeys := rKeys[1:]
				newRChildren := rChildren[1:]
				rightNode.SetInternalEntries(bt.pageSize, newRKeys, newRChildren)

				nKeys := append(node.InternalKeys(bt.pageSize), rotatedKey)
				nChildren := append(node.InternalChildren(bt.pageSize), borrowedChild)
				node.SetInternalEntries(bt.pageSize, nKeys, nChildren)
				bt.reparent(borrowedChild, nodeID)

				pKeys[pos] = rKeys[0]
				parentNode.SetInternalEntries(bt.pageSize, pKeys, pChildren)
				bt.pool.UnpinPage(rightID, true)
				bt.pool.UnpinPage(nodeID, true)
				return bt.pool.UnpinPage(parentID, true)
			}
			bt.pool.UnpinPage(rightID, false)
		}
	}

	// Merge with a sibling through the parent's separator key.
	if pos > 0 {
		leftID := pChildren[pos-1]
		lg, err := bt.pool.FetchPage(leftID)
		if err != nil {
			bt.pool.UnpinPage(nodeID, true)
			bt.pool.UnpinPage(parentID, false)
			return err
		}
		leftNode := WrapBTreeNode(lg.Bytes())
		sep := pKeys[pos-1]
		mergedKeys := append(append(leftNode.InternalKeys(bt.pageSize), sep), node.InternalKeys(bt.pageSize)...)
		mergedChildren := append(append([]PageID{}, leftNode.InternalChildren(bt.pageSize)...), node.InternalChildren(bt.pageSize)...)
		leftNode.SetInternalEntries(bt.pageSize, mergedKeys, mergedChildren)
		for _, c := range node.InternalChildren(bt.pageSize) {
			bt.reparent(c, leftID)
		}
		bt.pool.UnpinPage(leftID, true)
		bt.pool.UnpinPage(nodeID, false)
		if err := bt.pool.DeletePage(nodeID); err != nil {
			bt.pool.UnpinPage(parentID, false)
			return err
		}
		return bt.removeFromParent(parentID, parentNode, pos, grandparents)
	}

	rightID := pChildren[pos+1]
	rg, err := bt.pool.FetchPage(rightID)
	if err != nil {
		bt.pool.UnpinPage(nodeID, true)
		bt.pool.UnpinPage(parentID, false)
		return err
	}
	rightNode := WrapBTreeNode(rg.Bytes())
	sep := pKeys[pos]
	mergedKeys := append(append(node.InternalKeys(bt.pageSize), sep), rightNode.InternalKeys(bt.pageSize)...)
	mergedChildren := append(append([]PageID{}, node.InternalChildren(bt.pageSize)...), rightNode.InternalChildren(bt.pageSize)...)
	node.SetInternalEntries(bt.pageSize, mergedKeys, mergedChildren)
	for _, c := range rightNode.InternalChildren(bt.pageSize) {
		bt.reparent(c, nodeID)
	}
	bt.pool.UnpinPage(nodeID, true)
	bt.pool.UnpinPage(rightID, false)
	if err := bt.pool.DeletePage(rightID); err != nil {
		bt.pool.UnpinPage(parentID, false)
		return err
	}
	return bt.removeFromParent(parentID, parentNode, pos+1, grandparents)
}

// --- generic keys ---

// CanonicalKey converts an arbitrary indexed value to the tree's 32-bit
// key space: integers are range-checked and cast; every other value is
// formatted and hashed with FNV-1a. Hash collisions between distinct
// string values are an accepted, documented limitation — see SearchAll.
func CanonicalKey(v interface{}) (int32, error) {
	switch t := v.(type) {
	case int32:
		return t, nil
	case int:
		if int64(t) > int64(1<<31-1) || int64(t) < int64(-1<<31) {
			return 0, dberr.New(dberr.InvalidParam, "btree: int key %d out of int32 range", t)
		}
		return int32(t), nil
	case int64:
		if t > int64(1<<31-1) || t < int64(-1<<31) {
			return 0, dberr.New(dberr.InvalidParam, "btree: int64 key %d out of int32 range", t)
		}
		return int32(t), nil
	case string:
		h := fnv.New32a()
		_, _ = h.Write([]byte(t))
		return int32(h.Sum32()), nil
	default:
		h := fnv.New32a()
		_, _ = h.Write([]byte(fmt.Sprint(t)))
		return int32(h.Sum32()), nil
	}
}
