package pager

import "container/list"

// Replacer implements the victim-selection contract. It tracks only
// unpinned frames; pin/unpin move a frame in and out of eligibility.
// Pulled out as its own interface so the buffer pool can swap policies
// (LRU, FIFO, ...) without touching its pinning logic.
type Replacer interface {
	// Victim selects and removes an evictable frame, or returns
	// (InvalidFrameID, false) if none is currently evictable.
	Victim() (FrameID, bool)
	// Pin marks a frame as not evictable, removing it from the replacer's
	// tracking if present.
	Pin(id FrameID)
	// Unpin marks a frame as evictable, adding it to the replacer's
	// tracking if not already pinned-out.
	Unpin(id FrameID)
	// Size reports how many frames are currently evictable.
	Size() int
}

// LRURepl evicts the least-recently-unpinned frame first, built on
// container/list the same way a query cache's LRU eviction list is.
type LRURepl struct {
	list *list.List
	pos  map[FrameID]*list.Element
}

// NewLRU constructs an empty LRU replacer.
func NewLRU() *LRURepl {
	return &LRURepl{
		list: list.New(),
		pos:  make(map[FrameID]*list.Element),
	}
}

func (r *LRURepl) Victim() (FrameID, bool) {
	back := r.list.Back()
	if back == nil {
		return InvalidFrameID, false
	}
	id := back.Value.(FrameID)
	r.list.Remove(back)
	delete(r.pos, id)
	return id, true
}

func (r *LRURepl) Pin(id FrameID) {
	if e, ok := r.pos[id]; ok {
		r.list.Remove(e)
		delete(r.pos, id)
	}
}

func (r *LRURepl) Unpin(id FrameID) {
	if _, ok := r.pos[id]; ok {
		return
	}
	e := r.list.PushFront(id)
	r.pos[id] = e
}

func (r *LRURepl) Size() int { return r.list.Len() }

// FIFORepl evicts the oldest unpinned frame first, regardless of access
// recency.
type FIFORepl struct {
	queue []FrameID
	inQ   map[FrameID]bool
}

// NewFIFO constructs an empty FIFO replacer.
func NewFIFO() *FIFORepl {
	return &FIFORepl{inQ: make(map[FrameID]bool)}
}

func (r *FIFORepl) Victim() (FrameID, bool) {
	for len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]
		if r.inQ[id] {
			delete(r.inQ, id)
			return id, true
		}
	}
	return InvalidFrameID, false
}

func (r *FIFORepl) Pin(id FrameID) {
	delete(r.inQ, id)
}

func (r *FIFORepl) Unpin(id FrameID) {
	if r.inQ[id] {
		return
	}
	r.inQ[id] = true
	r.queue = append(r.queue, id)
}

func (r *FIFORepl) Size() int { return len(r.inQ) }
