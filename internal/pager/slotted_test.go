package pager

import "testing"

func TestSlottedPageAppendGetOrder(t *testing.T) {
	buf := NewZeroPage(DefaultPageSize, PageTypeData)
	sp := WrapSlottedPage(buf)

	want := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for i, rec := range want {
		idx, err := sp.AppendRow(rec)
		if err != nil {
			t.Fatalf("AppendRow(%d): %v", i, err)
		}
		if idx != i {
			t.Fatalf("AppendRow(%d) returned slot %d", i, idx)
		}
	}
	if sp.SlotCount() != len(want) {
		t.Fatalf("SlotCount() = %d, want %d", sp.SlotCount(), len(want))
	}
	for i, rec := range want {
		got := sp.GetRow(i)
		if string(got) != string(rec) {
			t.Fatalf("GetRow(%d) = %q, want %q", i, got, rec)
		}
	}
	if err := VerifyChecksum(buf); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
}

func TestSlottedPageDeleteIsTombstone(t *testing.T) {
	buf := NewZeroPage(DefaultPageSize, PageTypeData)
	sp := WrapSlottedPage(buf)
	idx, err := sp.AppendRow([]byte("row"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sp.DeleteRow(idx); err != nil {
		t.Fatal(err)
	}
	if !sp.IsTombstone(idx) {
		t.Fatal("expected tombstone after DeleteRow")
	}
	if sp.GetRow(idx) != nil {
		t.Fatal("GetRow should return nil for a tombstone")
	}
	var seen int
	sp.ForEachRow(func(slot int, data []byte) { seen++ })
	if seen != 0 {
		t.Fatalf("ForEachRow should skip tombstones, saw %d", seen)
	}
}

func TestSlottedPageFreeSpaceExhaustion(t *testing.T) {
	buf := NewZeroPage(128, PageTypeData)
	sp := WrapSlottedPage(buf)
	big := make([]byte, 200)
	if _, err := sp.AppendRow(big); err == nil {
		t.Fatal("expected error appending a record larger than the page")
	}
}

func TestHeaderChecksumDetectsCorruption(t *testing.T) {
	buf := NewZeroPage(DefaultPageSize, PageTypeData)
	sp := WrapSlottedPage(buf)
	if _, err := sp.AppendRow([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	buf[PageHeaderSize] ^= 0xFF
	if err := VerifyChecksum(buf); err == nil {
		t.Fatal("expected checksum mismatch after corrupting a byte")
	}
}
