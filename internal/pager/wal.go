package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// WALMagic is the fixed magic value stamped on every WAL record:
// 0x4D444257414C5F31 ("MDBWAL_1" read as a big-endian u64).
const WALMagic uint64 = 0x4D444257414C5F31

// walRecordHeaderSize is the fixed portion of a WAL record preceding the
// page bytes: magic(8) + page_id(4) + length(4).
const walRecordHeaderSize = 16

// WAL is the write-ahead log owned by DiskManager. It logs full
// after-images (no physiological/diff logging) so that Recover can
// replay idempotently.
//
// Record framing is a fixed header plus the page's raw bytes — no
// begin/commit/abort markers, since recovery here only ever needs to
// replay "the after-image before the page write" for single-page
// mutations, not multi-statement transactions.
type WAL struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	writePos int64
}

// OpenWAL opens or creates the WAL file at path.
func OpenWAL(path string, pageSize int) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pager: open WAL %s: %w", path, err)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: seek WAL end: %w", err)
	}
	return &WAL{f: f, path: path, pageSize: pageSize, writePos: end}, nil
}

// Append writes a record for page_id with its full after-image before the
// corresponding page write reaches disk. The record is fsync'd before
// returning, so the log is always durable ahead of the page it
// describes.
func (w *WAL) Append(pageID PageID, bytes []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := make([]byte, walRecordHeaderSize+len(bytes))
	binary.LittleEndian.PutUint64(rec[0:8], WALMagic)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(pageID))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(bytes)))
	copy(rec[walRecordHeaderSize:], bytes)

	n, err := w.f.WriteAt(rec, w.writePos)
	if err != nil {
		return fmt.Errorf("pager: WAL append page %d: %w", pageID, err)
	}
	w.writePos += int64(n)
	return w.f.Sync()
}

// walRecord is one decoded record.
type walRecord struct {
	PageID PageID
	Data   []byte
}

// readAll reads records from the start, stopping at the first record
// whose magic or length is wrong ("torn tail").
func (w *WAL) readAll() ([]walRecord, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("pager: open WAL for read %s: %w", w.path, err)
	}
	defer f.Close()

	var out []walRecord
	hdr := make([]byte, walRecordHeaderSize)
	for {
		if _, err := io.ReadFull(f, hdr); err != nil {
			break // EOF or short read: end of recoverable prefix
		}
		magic := binary.LittleEndian.Uint64(hdr[0:8])
		if magic != WALMagic {
			break
		}
		pageID := PageID(binary.LittleEndian.Uint32(hdr[8:12]))
		length := binary.LittleEndian.Uint32(hdr[12:16])
		if int(length) != w.pageSize {
			break // mismatched length: torn/corrupt record
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			break
		}
		out = append(out, walRecord{PageID: pageID, Data: data})
	}
	return out, nil
}

// Recover replays the log against dm: for every valid record (scanned
// from the start, stopping at the first torn record), write its bytes to
// the corresponding page. Recovery is idempotent: replaying the same log
// twice yields the same file contents.
func (w *WAL) Recover(dm *DiskManager) error {
	records, err := w.readAll()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := dm.writePageRaw(rec.PageID, rec.Data); err != nil {
			return fmt.Errorf("pager: WAL recover page %d: %w", rec.PageID, err)
		}
	}
	if len(records) > 0 {
		if err := dm.file.Sync(); err != nil {
			return fmt.Errorf("pager: fsync after WAL recovery: %w", err)
		}
	}
	return nil
}

// Truncate resets the WAL to empty after a successful checkpoint.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("pager: WAL truncate: %w", err)
	}
	w.writePos = 0
	return w.f.Sync()
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
