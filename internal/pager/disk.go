package pager

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/logx"
)

// DiskManager is the exclusive owner of the database file. It translates
// page_id <-> file offset = page_id * PageSize, owns the WAL submodule,
// and serializes all callers behind a single mutex. Buffering and
// pinning live one layer up in BufferPool rather than being fused into
// this type.
type DiskManager struct {
	mu   sync.Mutex
	file *os.File
	path string
	wal  *WAL

	pageSize   int
	nextPageID PageID   // high-water mark
	freeIDs    []PageID // freed-id queue, reused before growing nextPageID

	reads  int64 // atomic
	writes int64 // atomic

	closed bool
	log    *logx.ComponentLogger
}

// DiskManagerConfig configures a new DiskManager.
type DiskManagerConfig struct {
	DBPath   string
	WALPath  string
	PageSize int
	Logger   *logx.Logger
}

// OpenDiskManager opens (or creates) the database file and its WAL,
// replaying any committed-but-unflushed after-images before returning so
// no torn page is ever observable after a crash.
func OpenDiskManager(cfg DiskManagerConfig) (*DiskManager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize {
		return nil, dberr.New(dberr.InvalidParam, "page size %d out of range [%d,%d]", ps, MinPageSize, MaxPageSize)
	}
	log := cfg.Logger
	if log == nil {
		log = logx.Default()
	}

	f, err := os.OpenFile(cfg.DBPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, err, "open database file %s", cfg.DBPath)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberr.Wrap(dberr.IoError, err, "stat database file %s", cfg.DBPath)
	}
	// The file length must always be a multiple of PAGE_SIZE.
	pageCount := info.Size() / int64(ps)
	if info.Size()%int64(ps) != 0 {
		f.Close()
		return nil, dberr.New(dberr.IoError, "database file %s length %d is not a multiple of page size %d", cfg.DBPath, info.Size(), ps)
	}

	dm := &DiskManager{
		file:       f,
		path:       cfg.DBPath,
		pageSize:   ps,
		nextPageID: PageID(pageCount),
		log:        log.Component("disk"),
	}

	walPath := cfg.WALPath
	if walPath == "" {
		walPath = cfg.DBPath + ".wal"
	}
	wal, err := OpenWAL(walPath, ps)
	if err != nil {
		f.Close()
		return nil, err
	}
	dm.wal = wal

	if err := wal.Recover(dm); err != nil {
		wal.Close()
		f.Close()
		return nil, err
	}
	if err := wal.Truncate(); err != nil {
		wal.Close()
		f.Close()
		return nil, err
	}
	dm.log.Infof("opened database %s (%d pages, page size %d)", cfg.DBPath, dm.nextPageID, ps)
	return dm, nil
}

// PageSize returns the fixed page size for this file.
func (dm *DiskManager) PageSize() int { return dm.pageSize }

// ReadPage seeks and reads PAGE_SIZE bytes. If the offset is beyond
// end-of-file, a zero-filled page is returned: a page id that has been
// allocated but never written reads back as all-zero rather than erroring.
func (dm *DiskManager) ReadPage(id PageID) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.readPageRawLocked(id)
}

func (dm *DiskManager) readPageRawLocked(id PageID) ([]byte, error) {
	buf := make([]byte, dm.pageSize)
	off := int64(id) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(buf, off)
	if err != nil && n == 0 {
		// Beyond EOF: first-touch, return zero page.
		atomic.AddInt64(&dm.reads, 1)
		return buf, nil
	}
	if err != nil && n < dm.pageSize {
		return nil, dberr.Wrap(dberr.IoError, err, "read page %d", id)
	}
	atomic.AddInt64(&dm.reads, 1)
	return buf, nil
}

// writePageRaw is used by WAL.Recover, which must bypass the public mutex
// (it is called from within OpenDiskManager before dm is published).
func (dm *DiskManager) writePageRaw(id PageID, buf []byte) error {
	off := int64(id) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(buf, off); err != nil {
		return dberr.Wrap(dberr.IoError, err, "write page %d", id)
	}
	return nil
}

// WritePage seeks and writes exactly PAGE_SIZE bytes, then flushes the
// file to disk. The high-water mark advances if a page at or beyond it is
// written directly (storageengine writes the meta page of a new file this
// way). WAL recovery writes through writePageRaw and does not move it.
func (dm *DiskManager) WritePage(id PageID, buf []byte) error {
	if len(buf) != dm.pageSize {
		return dberr.New(dberr.InvalidParam, "write page %d: buffer is %d bytes, want %d", id, len(buf), dm.pageSize)
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.writePageRaw(id, buf); err != nil {
		return err
	}
	if err := dm.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IoError, err, "flush page %d", id)
	}
	atomic.AddInt64(&dm.writes, 1)
	if id >= dm.nextPageID && id != InvalidPageID {
		dm.nextPageID = id + 1
	}
	return nil
}

// AllocatePage returns a reused id from the freed-id queue, or the current
// high-water mark (incrementing it) otherwise.
func (dm *DiskManager) AllocatePage() PageID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if n := len(dm.freeIDs); n > 0 {
		id := dm.freeIDs[n-1]
		dm.freeIDs = dm.freeIDs[:n-1]
		return id
	}
	id := dm.nextPageID
	dm.nextPageID++
	return id
}

// DeallocatePage pushes id onto the freed queue. No on-disk change occurs
// until the id is reused by a later AllocatePage and written.
func (dm *DiskManager) DeallocatePage(id PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.freeIDs = append(dm.freeIDs, id)
}

// AppendWAL logs the after-image of a page before it is written, so a
// crash between the log append and the page write can still be replayed
// on recovery.
func (dm *DiskManager) AppendWAL(id PageID, buf []byte) error {
	return dm.wal.Append(id, buf)
}

// TruncateWAL truncates the WAL after a successful checkpoint.
func (dm *DiskManager) TruncateWAL() error {
	return dm.wal.Truncate()
}

// FlushAll performs a durable flush of the database file to the
// filesystem.
func (dm *DiskManager) FlushAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return dberr.Wrap(dberr.IoError, err, "flush_all")
	}
	return nil
}

// NextPageIDHint reports the current allocation high-water mark. Used at
// startup to detect a brand-new (zero-page) database file.
func (dm *DiskManager) NextPageIDHint() PageID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.nextPageID
}

// Stats returns the atomic read/write counters.
func (dm *DiskManager) Stats() (reads, writes int64) {
	return atomic.LoadInt64(&dm.reads), atomic.LoadInt64(&dm.writes)
}

// Shutdown idempotently closes the database and WAL files.
func (dm *DiskManager) Shutdown() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil
	}
	dm.closed = true
	if err := dm.wal.Close(); err != nil {
		dm.log.Errorf("close WAL: %v", err)
	}
	if err := dm.file.Close(); err != nil {
		return dberr.Wrap(dberr.IoError, err, "close database file")
	}
	return nil
}
