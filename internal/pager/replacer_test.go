package pager

import "testing"

func TestLRUReplVictimOrder(t *testing.T) {
	r := NewLRU()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	r.Pin(2) // removes 2 from eligibility entirely

	id, ok := r.Victim()
	if !ok || id != 1 {
		t.Fatalf("first victim = (%d,%v), want (1,true)", id, ok)
	}
	id, ok = r.Victim()
	if !ok || id != 3 {
		t.Fatalf("second victim = (%d,%v), want (3,true)", id, ok)
	}
	if _, ok := r.Victim(); ok {
		t.Fatal("expected no victim once the replacer is empty")
	}
}

func TestFIFOReplVictimOrder(t *testing.T) {
	r := NewFIFO()
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	id, ok := r.Victim()
	if !ok || id != 1 {
		t.Fatalf("first victim = (%d,%v), want (1,true)", id, ok)
	}
	r.Pin(2)
	id, ok = r.Victim()
	if !ok || id != 3 {
		t.Fatalf("expected pinned frame 2 skipped, got (%d,%v)", id, ok)
	}
}
