package pager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredb/coredb/internal/config"
	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/logx"
	cron "github.com/robfig/cron/v3"
)

// shardCount is the fixed number of locks the page table is sharded
// across ("e.g. 8").
const shardCount = 8

// frame is one buffer-pool slot: a page's bytes plus pin/dirty metadata
// and its own reader/writer lock, matching Page type.
type frame struct {
	mu    sync.RWMutex // per-page content lock
	id    PageID
	buf   []byte
	dirty atomic.Bool
	pins  atomic.Int32
}

// PageGuard is a pinned handle to a page's bytes: a typed, non-aliased
// handle that owns the pin for its lifetime. It does not hold the page's
// lock; callers that need it take it through Lock/RLock. Go has no
// destructors, so callers must call Unpin explicitly, mirroring a classic
// ReadPage/UnpinPage pairing.
type PageGuard struct {
	pool  *BufferPool
	frame *frame
}

// Bytes returns the page's raw buffer. Callers must hold the guard for as
// long as they read or write these bytes.
func (g *PageGuard) Bytes() []byte { return g.frame.buf }

// PageID returns the id of the guarded page.
func (g *PageGuard) PageID() PageID { return g.frame.id }

// Lock/Unlock/RLock/RUnlock expose the page's own reader/writer lock,
// acquired only after the frame is pinned. Lock order is always shard
// lock -> page lock; the buffer pool never holds a shard lock across I/O.
func (g *PageGuard) Lock()    { g.frame.mu.Lock() }
func (g *PageGuard) Unlock()  { g.frame.mu.Unlock() }
func (g *PageGuard) RLock()   { g.frame.mu.RLock() }
func (g *PageGuard) RUnlock() { g.frame.mu.RUnlock() }

// Unpin releases the guard's pin, marking the page dirty if isDirty.
func (g *PageGuard) Unpin(isDirty bool) {
	g.pool.unpinFrame(g.frame, isDirty)
}

// BufferPool implements pinning, replacement, dirty tracking, background
// flush, and optional read-ahead over a DiskManager, split out as its own
// component with a pluggable Replacer and sharded locking.
type BufferPool struct {
	disk *DiskManager
	cfg  config.RuntimeConfig
	log  *logx.ComponentLogger

	poolSize int
	shards   [shardCount]sync.Mutex
	pageTbl  map[PageID]FrameID // page_id -> frame_id, the core pin-table invariant
	frames   []*frame
	freeList []FrameID
	repl     Replacer

	hits     atomic.Int64
	accesses atomic.Int64

	lastFetched atomic.Int64 // last fetched page id, for read-ahead (as int64; -1 = none)

	flushStop chan struct{}
	flushWG   sync.WaitGroup
	cronJob   *cron.Cron
}

// NewBufferPool constructs a pool of cfg.BufferPoolPages frames over disk.
func NewBufferPool(disk *DiskManager, cfg config.RuntimeConfig, log *logx.Logger) *BufferPool {
	if log == nil {
		log = logx.Default()
	}
	n := cfg.BufferPoolPages
	if n <= 0 {
		n = 16
	}
	bp := &BufferPool{
		disk:     disk,
		cfg:      cfg,
		log:      log.Component("bufferpool"),
		poolSize: n,
		pageTbl:  make(map[PageID]FrameID, n),
		frames:   make([]*frame, n),
		freeList: make([]FrameID, n),
	}
	for i := 0; i < n; i++ {
		bp.freeList[i] = FrameID(i)
	}
	if cfg.ReplacementPolicy == config.PolicyFIFO {
		bp.repl = NewFIFO()
	} else {
		bp.repl = NewLRU()
	}
	bp.lastFetched.Store(-1)
	return bp
}

func shardFor(id PageID) int { return int(id) % shardCount }

// FetchPage returns a pinned PageGuard for id, loading it from disk on a
// miss and evicting a victim frame if the pool is full. Callers MUST
// call guard.Unpin when done.
func (bp *BufferPool) FetchPage(id PageID) (*PageGuard, error) {
	bp.accesses.Add(1)

	shard := &bp.shards[shardFor(id)]
	shard.Lock()
	if fid, ok := bp.pageTbl[id]; ok {
		f := bp.frames[fid]
		f.pins.Add(1)
		bp.repl.Pin(fid)
		shard.Unlock()
		bp.hits.Add(1)
		bp.maybeReadAhead(id)
		return &PageGuard{pool: bp, frame: f}, nil
	}
	shard.Unlock()

	g, err := bp.loadPage(id)
	if err == nil {
		bp.maybeReadAhead(id)
	}
	return g, err
}

// loadPage handles the cache-miss path shared by FetchPage and NewPage:
// pick a victim frame, write it back if dirty, read the requested page
// (or zero it, for new pages), and install the mapping with pin count 1.
func (bp *BufferPool) loadPage(id PageID) (*PageGuard, error) {
	fid, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	buf, err := bp.disk.ReadPage(id)
	if err != nil {
		bp.releaseFrameToFreeList(fid)
		return nil, err
	}
	return bp.installFrame(id, fid, buf), nil
}

// acquireFrame returns a frame ready for reuse: a free frame if one
// exists, otherwise a replacer-chosen victim (written back first if
// dirty). Returns dberr.BufferFull if nothing is evictable.
func (bp *BufferPool) acquireFrame() (FrameID, error) {
	shard0 := &bp.shards[0] // free-list and replacer are pool-global; shard0 arbitrates them
	shard0.Lock()
	if n := len(bp.freeList); n > 0 {
		fid := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		shard0.Unlock()
		return fid, nil
	}
	fid, ok := bp.repl.Victim()
	shard0.Unlock()
	if !ok {
		return InvalidFrameID, dberr.New(dberr.BufferFull, "buffer pool exhausted: no evictable frame")
	}

	f := bp.frames[fid]
	oldShard := &bp.shards[shardFor(f.id)]
	oldShard.Lock()
	delete(bp.pageTbl, f.id)
	oldShard.Unlock()

	if f.dirty.Load() {
		f.mu.RLock()
		writeErr := bp.disk.WritePage(f.id, f.buf)
		f.mu.RUnlock()
		if writeErr != nil {
			return InvalidFrameID, writeErr
		}
		f.dirty.Store(false)
	}
	return fid, nil
}

func (bp *BufferPool) releaseFrameToFreeList(fid FrameID) {
	shard0 := &bp.shards[0]
	shard0.Lock()
	bp.freeList = append(bp.freeList, fid)
	shard0.Unlock()
}

func (bp *BufferPool) installFrame(id PageID, fid FrameID, buf []byte) *PageGuard {
	f := bp.frames[fid]
	if f == nil {
		f = &frame{}
		bp.frames[fid] = f
	}
	f.id = id
	f.buf = buf
	f.pins.Store(1)
	f.dirty.Store(false)

	shard := &bp.shards[shardFor(id)]
	shard.Lock()
	bp.pageTbl[id] = fid
	shard.Unlock()
	bp.repl.Pin(fid)

	bp.lastFetched.Store(int64(id))
	return &PageGuard{pool: bp, frame: f}
}

// NewPage allocates a fresh page id from the DiskManager and installs a
// zeroed, pinned frame for it.
func (bp *BufferPool) NewPage() (*PageGuard, error) {
	id := bp.disk.AllocatePage()
	fid, err := bp.acquireFrame()
	if err != nil {
		bp.disk.DeallocatePage(id)
		return nil, err
	}
	buf := make([]byte, bp.disk.PageSize())
	return bp.installFrame(id, fid, buf), nil
}

// unpinFrame decrements the pin count, ORing in the dirty flag, and tells
// the replacer the frame is evictable once the count reaches zero.
func (bp *BufferPool) unpinFrame(f *frame, isDirty bool) {
	if isDirty {
		f.dirty.Store(true)
	}
	n := f.pins.Add(-1)
	if n < 0 {
		f.pins.Store(0)
		return
	}
	if n == 0 {
		bp.repl.Unpin(bp.frameIDOf(f))
	}
}

func (bp *BufferPool) frameIDOf(f *frame) FrameID {
	for i, fr := range bp.frames {
		if fr == f {
			return FrameID(i)
		}
	}
	return InvalidFrameID
}

// UnpinPage is the id-addressed equivalent of PageGuard.Unpin, used by
// callers (e.g. storageengine's page-chain walk) that kept only the id.
func (bp *BufferPool) UnpinPage(id PageID, isDirty bool) error {
	shard := &bp.shards[shardFor(id)]
	shard.Lock()
	fid, ok := bp.pageTbl[id]
	shard.Unlock()
	if !ok {
		return dberr.New(dberr.NotFound, "unpin: page %d not resident", id)
	}
	bp.unpinFrame(bp.frames[fid], isDirty)
	return nil
}

// FlushPage writes a page through to disk if it is mapped and dirty, then
// clears the dirty flag.
func (bp *BufferPool) FlushPage(id PageID) error {
	shard := &bp.shards[shardFor(id)]
	shard.Lock()
	fid, ok := bp.pageTbl[id]
	shard.Unlock()
	if !ok {
		return nil
	}
	f := bp.frames[fid]
	if !f.dirty.Load() {
		return nil
	}
	f.mu.RLock()
	err := bp.disk.WritePage(id, f.buf)
	f.mu.RUnlock()
	if err != nil {
		return err
	}
	f.dirty.Store(false)
	return nil
}

// DeletePage is only valid when pin_count == 0; it writes back if dirty,
// drops the mapping, frees the frame, and asks the DiskManager to
// deallocate the page id.
func (bp *BufferPool) DeletePage(id PageID) error {
	shard := &bp.shards[shardFor(id)]
	shard.Lock()
	fid, ok := bp.pageTbl[id]
	if !ok {
		shard.Unlock()
		bp.disk.DeallocatePage(id)
		return nil
	}
	f := bp.frames[fid]
	if f.pins.Load() != 0 {
		shard.Unlock()
		return dberr.New(dberr.InvalidParam, "delete_page: page %d is pinned", id)
	}
	delete(bp.pageTbl, id)
	shard.Unlock()

	if f.dirty.Load() {
		if err := bp.disk.WritePage(id, f.buf); err != nil {
			return err
		}
		f.dirty.Store(false)
	}
	bp.repl.Pin(fid) // remove from replacer tracking if present
	bp.releaseFrameToFreeList(fid)
	bp.disk.DeallocatePage(id)
	return nil
}

// FlushAllPages writes every dirty page through to disk, then asks the
// DiskManager for a durable flush.
func (bp *BufferPool) FlushAllPages() error {
	for i := 0; i < shardCount; i++ {
		bp.shards[i].Lock()
	}
	ids := make([]PageID, 0, len(bp.pageTbl))
	for id := range bp.pageTbl {
		ids = append(ids, id)
	}
	for i := shardCount - 1; i >= 0; i-- {
		bp.shards[i].Unlock()
	}
	for _, id := range ids {
		if err := bp.FlushPage(id); err != nil {
			return err
		}
	}
	return bp.disk.FlushAll()
}

// HitRate returns the running hit rate: always 0 <= rate <= 1, since
// num_hits never exceeds num_accesses.
func (bp *BufferPool) HitRate() float64 {
	accesses := bp.accesses.Load()
	if accesses == 0 {
		return 0
	}
	return float64(bp.hits.Load()) / float64(accesses)
}

// maybeReadAhead implements best-effort prefetch: when the
// fetched id immediately follows the previous one, up to ReadaheadWindow
// subsequent pages are pre-fetched in the background, failures ignored.
func (bp *BufferPool) maybeReadAhead(id PageID) {
	if !bp.cfg.ReadaheadEnabled || bp.cfg.ReadaheadWindow <= 0 {
		bp.lastFetched.Store(int64(id))
		return
	}
	prev := bp.lastFetched.Swap(int64(id))
	if prev < 0 || PageID(prev)+1 != id {
		return
	}
	window := bp.cfg.ReadaheadWindow
	go func() {
		for i := 1; i <= window; i++ {
			next := id + PageID(i)
			g, err := bp.FetchPage(next)
			if err != nil {
				return // best-effort: stop silently
			}
			g.Unpin(false)
		}
	}()
}

// StartBackgroundFlusher launches a single worker that wakes every
// FlushIntervalMS (or on the cron schedule named by cfg.FlushCronSpec,
// when set) and flushes at most MaxFlushPerCycle dirty, unpinned pages,
// never one currently pinned by a mutator. Call StopBackgroundFlusher to
// join it during Shutdown.
func (bp *BufferPool) StartBackgroundFlusher() {
	bp.flushStop = make(chan struct{})
	if bp.cfg.FlushCronSpec != "" {
		bp.startCronFlusher()
		return
	}
	bp.flushWG.Add(1)
	go func() {
		defer bp.flushWG.Done()
		interval := time.Duration(bp.cfg.FlushIntervalMS) * time.Millisecond
		if interval <= 0 {
			interval = 500 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-bp.flushStop:
				return
			case <-ticker.C:
				bp.flushCycle()
			}
		}
	}()
}

// startCronFlusher schedules the flush cycle via robfig/cron instead of a
// plain ticker, for operators who want flushes pinned to wall-clock times
// (e.g. quiet hours) rather than a fixed interval.
func (bp *BufferPool) startCronFlusher() {
	bp.cronJob = cron.New()
	_, err := bp.cronJob.AddFunc(bp.cfg.FlushCronSpec, bp.flushCycle)
	if err != nil {
		bp.log.Errorf("invalid flush_cron_spec %q: %v (falling back to disabled flusher)", bp.cfg.FlushCronSpec, err)
		bp.cronJob = nil
		return
	}
	bp.cronJob.Start()
}

// flushCycle flushes at most MaxFlushPerCycle dirty, unpinned pages,
// holding each page's read lock across the write so a concurrent
// mutator can't tear the bytes being written out mid-flush.
func (bp *BufferPool) flushCycle() {
	max := bp.cfg.MaxFlushPerCycle
	if max <= 0 {
		max = 32
	}
	flushed := 0
	for i := 0; i < len(bp.frames) && flushed < max; i++ {
		f := bp.frames[i]
		if f == nil || !f.dirty.Load() || f.pins.Load() != 0 {
			continue
		}
		f.mu.RLock()
		err := bp.disk.WritePage(f.id, f.buf)
		f.mu.RUnlock()
		if err != nil {
			bp.log.Warnf("background flush of page %d failed: %v", f.id, err)
			continue
		}
		f.dirty.Store(false)
		flushed++
	}
	if flushed > 0 {
		bp.log.Debugf("background flusher wrote back %d page(s)", flushed)
	}
}

// StopBackgroundFlusher flips the running flag and joins the worker.
func (bp *BufferPool) StopBackgroundFlusher() {
	if bp.cronJob != nil {
		ctx := bp.cronJob.Stop()
		<-ctx.Done()
		bp.cronJob = nil
		return
	}
	if bp.flushStop == nil {
		return
	}
	close(bp.flushStop)
	bp.flushWG.Wait()
}

// Disk exposes the underlying DiskManager for components (storageengine)
// that need direct page-type-aware allocation alongside pooled access.
func (bp *BufferPool) Disk() *DiskManager { return bp.disk }
