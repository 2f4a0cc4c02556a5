package pager

import "testing"

func openTestBTree(t *testing.T) *BTree {
	t.Helper()
	bp := openTestPool(t, 64)
	var root PageID
	bt, err := CreateBTree(bp, func(id PageID) { root = id })
	if err != nil {
		t.Fatal(err)
	}
	if root != bt.RootPageID() {
		t.Fatalf("onRootChange root = %d, want %d", root, bt.RootPageID())
	}
	return bt
}

func TestBTreeInsertAndSearch(t *testing.T) {
	bt := openTestBTree(t)
	want := map[int32]RID{
		1: {Page: 10, Slot: 0},
		2: {Page: 10, Slot: 1},
		3: {Page: 11, Slot: 0},
	}
	for k, rid := range want {
		if err := bt.Insert(k, rid); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k, rid := range want {
		got, ok, err := bt.Search(k)
		if err != nil {
			t.Fatalf("Search(%d): %v", k, err)
		}
		if !ok || got != rid {
			t.Fatalf("Search(%d) = (%v,%v), want (%v,true)", k, got, ok, rid)
		}
	}
	if _, ok, err := bt.Search(999); err != nil || ok {
		t.Fatalf("Search(999) should miss, got (ok=%v, err=%v)", ok, err)
	}
}

func TestBTreeSplitsAcrossManyInserts(t *testing.T) {
	bt := openTestBTree(t)
	const n = 500
	for i := int32(0); i < n; i++ {
		if err := bt.Insert(i, RID{Page: PageID(i), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n; i++ {
		rid, ok, err := bt.Search(i)
		if err != nil || !ok {
			t.Fatalf("Search(%d) missing after split-heavy insert run: ok=%v err=%v", i, ok, err)
		}
		if rid.Page != PageID(i) {
			t.Fatalf("Search(%d) returned page %d, want %d", i, rid.Page, i)
		}
	}
}

func TestBTreeRangeScan(t *testing.T) {
	bt := openTestBTree(t)
	for i := int32(0); i < 50; i++ {
		if err := bt.Insert(i, RID{Page: PageID(i), Slot: 0}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := bt.Range(10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 11 {
		t.Fatalf("Range(10,20) returned %d entries, want 11", len(entries))
	}
	for i, e := range entries {
		if e.Key != int32(10+i) {
			t.Fatalf("Range result out of order at %d: got key %d", i, e.Key)
		}
	}
}

func TestBTreeDeleteWithUnderflowMerge(t *testing.T) {
	bt := openTestBTree(t)
	// Enough keys for several leaves (a leaf holds MaxLeafEntries = 406 with
	// 4 KiB pages), so the deletes below underflow non-root leaves.
	const n = 1000
	for i := int32(0); i < n; i++ {
		if err := bt.Insert(i, RID{Page: PageID(i), Slot: 0}); err != nil {
			t.Fatal(err)
		}
	}
	// Delete most keys to force repeated borrow/merge underflow handling.
	for i := int32(0); i < n-5; i++ {
		if err := bt.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n-5; i++ {
		if _, ok, err := bt.Search(i); err != nil || ok {
			t.Fatalf("Search(%d) should miss after delete, ok=%v err=%v", i, ok, err)
		}
	}
	for i := int32(n - 5); i < n; i++ {
		if _, ok, err := bt.Search(i); err != nil || !ok {
			t.Fatalf("Search(%d) should still hit, ok=%v err=%v", i, ok, err)
		}
	}
}

func TestBTreeInsertDuplicateKeepsAllEntries(t *testing.T) {
	bt := openTestBTree(t)
	key := int32(42)
	rids := []RID{{Page: 1, Slot: 0}, {Page: 2, Slot: 0}, {Page: 3, Slot: 0}}
	for _, rid := range rids {
		if err := bt.InsertDuplicate(key, rid); err != nil {
			t.Fatal(err)
		}
	}
	got, err := bt.SearchAll(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(rids) {
		t.Fatalf("SearchAll returned %d entries, want %d", len(got), len(rids))
	}
}

func TestCanonicalKeyIntAndStringHashing(t *testing.T) {
	k1, err := CanonicalKey(int32(7))
	if err != nil {
		t.Fatal(err)
	}
	if k1 != 7 {
		t.Fatalf("CanonicalKey(int32(7)) = %d, want 7", k1)
	}
	ka, err := CanonicalKey("hello")
	if err != nil {
		t.Fatal(err)
	}
	kb, err := CanonicalKey("hello")
	if err != nil {
		t.Fatal(err)
	}
	if ka != kb {
		t.Fatalf("CanonicalKey should be deterministic: %d != %d", ka, kb)
	}
	kc, err := CanonicalKey("world")
	if err != nil {
		t.Fatal(err)
	}
	if ka == kc {
		t.Fatal("distinct strings should not usually collide in this test's fixture")
	}
}
