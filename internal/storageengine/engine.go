// Package storageengine implements the single facade that Catalog,
// Executor, and the B+Tree index are built against, so none of them
// touch a DiskManager or BufferPool directly. It is a thin wrapper tying
// the buffer pool, disk manager, and page-type validation together.
package storageengine

import (
	"github.com/coredb/coredb/internal/config"
	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/logx"
	"github.com/coredb/coredb/internal/pager"
)

// Engine owns the buffer pool and exposes page-type-checked accessors.
type Engine struct {
	pool *pager.BufferPool
	log  *logx.ComponentLogger
}

// Open opens the database file at dbPath (creating it if absent),
// replays its WAL, and initializes the meta page for a brand new file.
func Open(dbPath string, cfg config.RuntimeConfig, log *logx.Logger) (*Engine, error) {
	if log == nil {
		log = logx.Default()
	}
	dm, err := pager.OpenDiskManager(pager.DiskManagerConfig{
		DBPath:   dbPath,
		PageSize: pager.DefaultPageSize,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	pool := pager.NewBufferPool(dm, cfg, log)
	eng := &Engine{pool: pool, log: log.Component("storageengine")}

	if dm.NextPageIDHint() == 0 {
		if err := eng.initializeMetaPage(); err != nil {
			return nil, err
		}
	}
	if cfg.FlushIntervalMS > 0 || cfg.FlushCronSpec != "" {
		pool.StartBackgroundFlusher()
	}
	return eng, nil
}

// Pool exposes the underlying buffer pool for components (B+Tree,
// Catalog) that need raw page access alongside the typed facade.
func (e *Engine) Pool() *pager.BufferPool { return e.pool }

// --- page-type-aware creation ---

func (e *Engine) newTypedPage(pt pager.PageType) (*pager.PageGuard, error) {
	g, err := e.pool.NewPage()
	if err != nil {
		return nil, err
	}
	pager.InitPage(g.Bytes(), pt)
	return g, nil
}

// CreateDataPage allocates and initializes a new data page.
func (e *Engine) CreateDataPage() (*pager.PageGuard, error) { return e.newTypedPage(pager.PageTypeData) }

// CreateIndexPage allocates and initializes a new (leaf) index page.
func (e *Engine) CreateIndexPage() (*pager.PageGuard, error) {
	g, err := e.pool.NewPage()
	if err != nil {
		return nil, err
	}
	pager.InitBTreeNode(g.Bytes(), true, pager.InvalidPageID)
	return g, nil
}

// CreateCatalogPage allocates and initializes a new catalog page.
func (e *Engine) CreateCatalogPage() (*pager.PageGuard, error) {
	return e.newTypedPage(pager.PageTypeCatalog)
}

// --- page-type-checked retrieval ---

// getTyped fetches id and validates its on-disk page_type: if a caller
// asks for an index page but the byte header says DATA_PAGE, the call
// fails with dberr.NotFound without further interpretation. This
// validation is applied uniformly by GetDataPage, GetIndexPage and
// GetCatalogPage; the meta page carries no PageHeader and is checked by
// its magic number in GetMetaInfo instead.
func (e *Engine) getTyped(id pager.PageID, want pager.PageType) (*pager.PageGuard, error) {
	g, err := e.pool.FetchPage(id)
	if err != nil {
		return nil, err
	}
	got := pager.HeaderPageType(g.Bytes())
	if got != want {
		e.pool.UnpinPage(id, false)
		return nil, dberr.New(dberr.NotFound, "page %d: expected page_type %s, found %s", id, want, got)
	}
	return g, nil
}

// GetDataPage fetches and validates a data page.
func (e *Engine) GetDataPage(id pager.PageID) (*pager.PageGuard, error) {
	return e.getTyped(id, pager.PageTypeData)
}

// GetIndexPage fetches and validates an index page.
func (e *Engine) GetIndexPage(id pager.PageID) (*pager.PageGuard, error) {
	return e.getTyped(id, pager.PageTypeIndex)
}

// GetCatalogPage fetches and validates a catalog page.
func (e *Engine) GetCatalogPage(id pager.PageID) (*pager.PageGuard, error) {
	return e.getTyped(id, pager.PageTypeCatalog)
}

// UnpinPage unpins id, marking it dirty if isDirty.
func (e *Engine) UnpinPage(id pager.PageID, isDirty bool) error {
	return e.pool.UnpinPage(id, isDirty)
}

// --- record operation wrappers ---

// AppendRow appends data to the slotted page id, returning its slot index.
func (e *Engine) AppendRow(id pager.PageID, data []byte) (int, error) {
	g, err := e.GetDataPage(id)
	if err != nil {
		return -1, err
	}
	defer e.pool.UnpinPage(id, true)
	sp := pager.WrapSlottedPage(g.Bytes())
	return sp.AppendRow(data)
}

// DeleteRow tombstones a slot on the given data page.
func (e *Engine) DeleteRow(id pager.PageID, slot int) error {
	g, err := e.GetDataPage(id)
	if err != nil {
		return err
	}
	defer e.pool.UnpinPage(id, true)
	sp := pager.WrapSlottedPage(g.Bytes())
	return sp.DeleteRow(slot)
}

// ForEachRow walks every live slot on the given data page.
func (e *Engine) ForEachRow(id pager.PageID, fn func(slot int, data []byte)) error {
	g, err := e.GetDataPage(id)
	if err != nil {
		return err
	}
	defer e.pool.UnpinPage(id, false)
	pager.WrapSlottedPage(g.Bytes()).ForEachRow(fn)
	return nil
}

// --- page chain ---

// LinkPages sets from.next_page_id = to and marks from dirty.
func (e *Engine) LinkPages(from, to pager.PageID) error {
	g, err := e.pool.FetchPage(from)
	if err != nil {
		return err
	}
	defer e.pool.UnpinPage(from, true)
	pager.SetHeaderNextPageID(g.Bytes(), to)
	return nil
}

// GetPageChain walks next_page_id starting at head until INVALID,
// returning pinned guards. Caller must unpin every returned guard.
func (e *Engine) GetPageChain(head pager.PageID) ([]*pager.PageGuard, error) {
	var chain []*pager.PageGuard
	cur := head
	for cur != pager.InvalidPageID {
		g, err := e.pool.FetchPage(cur)
		if err != nil {
			for _, prev := range chain {
				e.pool.UnpinPage(prev.PageID(), false)
			}
			return nil, err
		}
		chain = append(chain, g)
		cur = pager.HeaderNextPageID(g.Bytes())
	}
	return chain, nil
}

// --- meta operations ---

// initializeMetaPage writes page 0 directly through the disk manager
// (bypassing the buffer pool) so the allocation high-water mark advances
// to 1 immediately; otherwise the first AllocatePage call for a real
// table or index would also return id 0 and collide with the meta page.
func (e *Engine) initializeMetaPage() error {
	buf := pager.NewMetaPage(e.pool.Disk().PageSize())
	return e.pool.Disk().WritePage(0, buf)
}

// GetMetaInfo reads and validates the meta page.
func (e *Engine) GetMetaInfo() (pager.MetaInfo, error) {
	g, err := e.pool.FetchPage(0)
	if err != nil {
		return pager.MetaInfo{}, err
	}
	defer e.pool.UnpinPage(0, false)
	return pager.UnmarshalMetaInfo(g.Bytes())
}

// UpdateMetaInfo overwrites the meta page. The after-image is WAL-logged
// before the in-place overwrite, so a crash mid-update recovers to either
// the old or the new meta contents, never a torn mix ("it is
// updated transactionally with respect to WAL").
func (e *Engine) UpdateMetaInfo(m pager.MetaInfo) error {
	g, err := e.pool.FetchPage(0)
	if err != nil {
		return err
	}
	defer e.pool.UnpinPage(0, true)
	next := g.Bytes()
	buf := make([]byte, len(next))
	copy(buf, next)
	pager.MarshalMetaInfo(m, buf)
	if err := e.pool.Disk().AppendWAL(0, buf); err != nil {
		return err
	}
	copy(next, buf)
	return nil
}

// GetCatalogRoot returns the persisted catalog root page id.
func (e *Engine) GetCatalogRoot() (pager.PageID, error) {
	m, err := e.GetMetaInfo()
	if err != nil {
		return pager.InvalidPageID, err
	}
	return m.CatalogRoot, nil
}

// SetCatalogRoot persists a new catalog root page id.
func (e *Engine) SetCatalogRoot(root pager.PageID) error {
	m, err := e.GetMetaInfo()
	if err != nil {
		return err
	}
	m.CatalogRoot = root
	return e.UpdateMetaInfo(m)
}

// GetNextPageID reports the disk manager's current high-water mark.
func (e *Engine) GetNextPageID() pager.PageID {
	return e.pool.Disk().NextPageIDHint()
}

// Checkpoint flushes every dirty page to disk and truncates the WAL,
// establishing a new recovery point so replay on the next open starts
// from an empty log.
func (e *Engine) Checkpoint() error {
	if err := e.pool.FlushAllPages(); err != nil {
		return err
	}
	return e.pool.Disk().TruncateWAL()
}

// Shutdown checkpoints and closes the disk manager.
func (e *Engine) Shutdown() error {
	e.pool.StopBackgroundFlusher()
	if err := e.Checkpoint(); err != nil {
		return err
	}
	return e.pool.Disk().Shutdown()
}
