package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/pager"
	"github.com/coredb/coredb/internal/storageengine"
)

// identCaser folds table/index names to a canonical case so `CREATE TABLE
// Users` and `select * from users` resolve to the same entry regardless
// of how a client happens to capitalize identifiers in a given
// statement. Folding (rather than a fixed ToUpper/ToLower) keeps
// non-ASCII identifiers consistent too.
var identCaser = cases.Fold()

func normalizeIdent(name string) string {
	return identCaser.String(name)
}

// Catalog owns the textual catalog page chain and the in-memory table/
// index maps it serializes to and from, following a map-of-tables design
// guarded by a single lock. Transitions that need to allocate a page
// mid-operation (e.g. create-table) never re-acquire that lock from an
// internal method, since Go's sync.Mutex is not re-entrant; the avoidance
// is structural rather than a recursive lock.
type Catalog struct {
	mu      sync.Mutex
	engine  *storageengine.Engine
	root    pager.PageID
	tables  map[string]*TableSchema
	indexes map[string]*IndexSchema
}

// Open loads (or initializes) the catalog from the engine's persisted
// catalog_root.
func Open(engine *storageengine.Engine) (*Catalog, error) {
	c := &Catalog{
		engine:  engine,
		tables:  make(map[string]*TableSchema),
		indexes: make(map[string]*IndexSchema),
	}
	root, err := engine.GetCatalogRoot()
	if err != nil {
		return nil, err
	}
	if root == pager.InvalidPageID {
		g, err := engine.CreateCatalogPage()
		if err != nil {
			return nil, err
		}
		c.root = g.PageID()
		if err := engine.UnpinPage(c.root, true); err != nil {
			return nil, err
		}
		if err := engine.SetCatalogRoot(c.root); err != nil {
			return nil, err
		}
		return c, nil
	}
	c.root = root
	if err := c.loadFromStorageLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateTable rejects duplicate table names, allocates the table's first
// data page, and persists the updated catalog.
func (c *Catalog) CreateTable(name string, columns []Column, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalizeIdent(name)
	if _, exists := c.tables[key]; exists {
		return dberr.New(dberr.ConstraintViolation, "table %q already exists", name)
	}
	g, err := c.engine.CreateDataPage()
	if err != nil {
		return err
	}
	first := g.PageID()
	if err := c.engine.UnpinPage(first, true); err != nil {
		return err
	}
	c.tables[key] = &TableSchema{TableName: name, Columns: columns, FirstPageID: first, Owner: owner}
	return c.saveToStorageLocked()
}

// HasTable reports whether name is a known table.
func (c *Catalog) HasTable(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[normalizeIdent(name)]
	return ok
}

// GetTable returns a copy of the named table's schema.
func (c *Catalog) GetTable(name string) (TableSchema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[normalizeIdent(name)]
	if !ok {
		return TableSchema{}, false
	}
	return *t, true
}

// GetAllTables returns every known table's schema.
func (c *Catalog) GetAllTables() []TableSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TableSchema, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, *t)
	}
	return out
}

// GetTableColumns returns the named table's columns.
func (c *Catalog) GetTableColumns(name string) ([]Column, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[normalizeIdent(name)]
	if !ok {
		return nil, false
	}
	return t.Columns, true
}

// SetTableFirstPage relocates a table's heap head, supporting the case
// where the original first page is freed and a new one takes its place.
func (c *Catalog) SetTableFirstPage(name string, first pager.PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[normalizeIdent(name)]
	if !ok {
		return dberr.New(dberr.NotFound, "table %q not found", name)
	}
	t.FirstPageID = first
	return c.saveToStorageLocked()
}

// CreateIndex creates an empty B+Tree (for type BPLUS) over the named
// table's columns and records its root page id.
func (c *Catalog) CreateIndex(indexName, tableName string, columns []string, newBTree func(onRootChange func(pager.PageID)) (*pager.BTree, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idxKey := normalizeIdent(indexName)
	if _, exists := c.indexes[idxKey]; exists {
		return dberr.New(dberr.ConstraintViolation, "index %q already exists", indexName)
	}
	if _, ok := c.tables[normalizeIdent(tableName)]; !ok {
		return dberr.New(dberr.NotFound, "table %q not found", tableName)
	}
	idx := &IndexSchema{IndexName: indexName, TableName: tableName, Columns: columns, Type: IndexBPlus}
	bt, err := newBTree(func(root pager.PageID) { idx.RootPage = root })
	if err != nil {
		return err
	}
	idx.RootPage = bt.RootPageID()
	c.indexes[idxKey] = idx
	return c.saveToStorageLocked()
}

// GetIndex returns the named index's schema.
func (c *Catalog) GetIndex(name string) (IndexSchema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[normalizeIdent(name)]
	if !ok {
		return IndexSchema{}, false
	}
	return *idx, true
}

// IndexesOnTable returns every index defined over table.
func (c *Catalog) IndexesOnTable(table string) []IndexSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalizeIdent(table)
	var out []IndexSchema
	for _, idx := range c.indexes {
		if normalizeIdent(idx.TableName) == key {
			out = append(out, *idx)
		}
	}
	return out
}

// PersistIndexRoot updates an index's root page id after a split/merge
// changes it, then re-saves the catalog.
func (c *Catalog) PersistIndexRoot(indexName string, root pager.PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[normalizeIdent(indexName)]
	if !ok {
		return dberr.New(dberr.NotFound, "index %q not found", indexName)
	}
	idx.RootPage = root
	return c.saveToStorageLocked()
}

// --- ownership ---

// GetTableOwner returns the owner recorded for a table.
func (c *Catalog) GetTableOwner(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[normalizeIdent(name)]
	if !ok {
		return "", false
	}
	return t.Owner, true
}

// IsTableOwner reports whether user owns table name.
func (c *Catalog) IsTableOwner(name, user string) bool {
	owner, ok := c.GetTableOwner(name)
	return ok && owner == user
}

// GetTablesByOwner returns every table owned by user.
func (c *Catalog) GetTablesByOwner(user string) []TableSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []TableSchema
	for _, t := range c.tables {
		if t.Owner == user {
			out = append(out, *t)
		}
	}
	return out
}

// DropTable removes a table (and any indexes over it) from the catalog.
// The underlying heap/index pages are not reclaimed.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalizeIdent(name)
	if _, ok := c.tables[key]; !ok {
		return dberr.New(dberr.NotFound, "table %q not found", name)
	}
	delete(c.tables, key)
	for k, idx := range c.indexes {
		if normalizeIdent(idx.TableName) == key {
			delete(c.indexes, k)
		}
	}
	return c.saveToStorageLocked()
}

// --- serialization (textual catalog grammar) ---
//
//	#TABLE <name> <first_page_id> <owner> <col_name>:<type>:<length>:<flags> ...
//	#INDEX <name> <table> <type> <root_page_id> <col> ...
//
// flags is a comma-joined list drawn from {PK, UNIQUE, NOTNULL,
// DEFAULT=<value>}; an empty flag set is written as the literal "-".

func (c *Catalog) saveToStorageLocked() error {
	var sb strings.Builder
	for _, t := range c.tables {
		sb.WriteString("#TABLE ")
		sb.WriteString(t.TableName)
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(int(t.FirstPageID)))
		sb.WriteByte(' ')
		sb.WriteString(t.Owner)
		for _, col := range t.Columns {
			sb.WriteByte(' ')
			sb.WriteString(encodeColumn(col))
		}
		sb.WriteByte('\n')
	}
	for _, idx := range c.indexes {
		sb.WriteString("#INDEX ")
		sb.WriteString(idx.IndexName)
		sb.WriteByte(' ')
		sb.WriteString(idx.TableName)
		sb.WriteByte(' ')
		sb.WriteString(idx.Type.String())
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(int(idx.RootPage)))
		for _, col := range idx.Columns {
			sb.WriteByte(' ')
			sb.WriteString(col)
		}
		sb.WriteByte('\n')
	}
	data := []byte(sb.String())
	return c.writeChainLocked(data)
}

func (c *Catalog) writeChainLocked(data []byte) error {
	pages, err := c.engine.GetPageChain(c.root)
	if err != nil {
		return err
	}

	// Re-initialize every existing page as an empty catalog page and
	// re-append fresh slot records; the catalog is small and rewritten
	// wholesale on every mutation rather than diffed in place.
	for _, g := range pages {
		pager.InitPage(g.Bytes(), pager.PageTypeCatalog)
	}

	cur := 0
	sp := pager.WrapSlottedPage(pages[cur].Bytes())
	for len(data) > 0 {
		chunk := data
		if len(chunk) > sp.FreeSpace()-pager.SlotEntrySize {
			max := sp.FreeSpace() - pager.SlotEntrySize
			if max <= 0 {
				cur++
				if cur >= len(pages) {
					g, err := c.engine.CreateDataPage()
					if err != nil {
						for _, p := range pages {
							c.engine.UnpinPage(p.PageID(), true)
						}
						return err
					}
					pager.InitPage(g.Bytes(), pager.PageTypeCatalog)
					if err := c.engine.LinkPages(pages[len(pages)-1].PageID(), g.PageID()); err != nil {
						for _, p := range pages {
							c.engine.UnpinPage(p.PageID(), true)
						}
						return err
					}
					pages = append(pages, g)
				}
				sp = pager.WrapSlottedPage(pages[cur].Bytes())
				continue
			}
			chunk = data[:max]
		}
		if _, err := sp.AppendRow(chunk); err != nil {
			for _, p := range pages {
				c.engine.UnpinPage(p.PageID(), true)
			}
			return err
		}
		data = data[len(chunk):]
	}
	for _, g := range pages {
		c.engine.UnpinPage(g.PageID(), true)
	}
	return nil
}

func (c *Catalog) loadFromStorageLocked() error {
	chain, err := c.engine.GetPageChain(c.root)
	if err != nil {
		return err
	}
	defer func() {
		for _, g := range chain {
			c.engine.UnpinPage(g.PageID(), false)
		}
	}()

	var sb strings.Builder
	for _, g := range chain {
		pager.WrapSlottedPage(g.Bytes()).ForEachRow(func(_ int, data []byte) {
			sb.Write(data)
		})
	}
	return c.parseLocked(sb.String())
}

func (c *Catalog) parseLocked(text string) error {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "#TABLE":
			t, err := decodeTableLine(fields)
			if err != nil {
				return err
			}
			c.tables[normalizeIdent(t.TableName)] = t
		case "#INDEX":
			idx, err := decodeIndexLine(fields)
			if err != nil {
				return err
			}
			c.indexes[normalizeIdent(idx.IndexName)] = idx
		default:
			return dberr.New(dberr.SemanticError, "catalog: unrecognized line %q", line)
		}
	}
	return nil
}

func encodeColumn(c Column) string {
	flags := []string{}
	if c.PrimaryKey {
		flags = append(flags, "PK")
	}
	if c.Unique {
		flags = append(flags, "UNIQUE")
	}
	if c.NotNull {
		flags = append(flags, "NOTNULL")
	}
	if c.HasDefault {
		flags = append(flags, "DEFAULT="+c.DefaultValue)
	}
	flagStr := "-"
	if len(flags) > 0 {
		flagStr = strings.Join(flags, ",")
	}
	return fmt.Sprintf("%s:%s:%d:%s", c.Name, c.Type, c.Length, flagStr)
}

func decodeColumn(tok string) (Column, error) {
	parts := strings.SplitN(tok, ":", 4)
	if len(parts) != 4 {
		return Column{}, dberr.New(dberr.SemanticError, "catalog: malformed column spec %q", tok)
	}
	ct, ok := ParseColumnType(parts[1])
	if !ok {
		return Column{}, dberr.New(dberr.SemanticError, "catalog: unknown column type %q", parts[1])
	}
	length, err := strconv.Atoi(parts[2])
	if err != nil {
		return Column{}, dberr.Wrap(dberr.SemanticError, err, "catalog: bad column length %q", parts[2])
	}
	col := Column{Name: parts[0], Type: ct, Length: length}
	if parts[3] != "-" {
		for _, flag := range strings.Split(parts[3], ",") {
			switch {
			case flag == "PK":
				col.PrimaryKey = true
			case flag == "UNIQUE":
				col.Unique = true
			case flag == "NOTNULL":
				col.NotNull = true
			case strings.HasPrefix(flag, "DEFAULT="):
				col.HasDefault = true
				col.DefaultValue = strings.TrimPrefix(flag, "DEFAULT=")
			}
		}
	}
	return col, nil
}

func decodeTableLine(fields []string) (*TableSchema, error) {
	if len(fields) < 4 {
		return nil, dberr.New(dberr.SemanticError, "catalog: malformed #TABLE line")
	}
	first, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, dberr.Wrap(dberr.SemanticError, err, "catalog: bad first_page_id")
	}
	t := &TableSchema{TableName: fields[1], FirstPageID: pager.PageID(first), Owner: fields[3]}
	for _, tok := range fields[4:] {
		col, err := decodeColumn(tok)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, col)
	}
	return t, nil
}

func decodeIndexLine(fields []string) (*IndexSchema, error) {
	if len(fields) < 6 {
		return nil, dberr.New(dberr.SemanticError, "catalog: malformed #INDEX line (need at least one indexed column)")
	}
	root, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, dberr.Wrap(dberr.SemanticError, err, "catalog: bad root_page_id")
	}
	idx := &IndexSchema{IndexName: fields[1], TableName: fields[2], Type: IndexBPlus, RootPage: pager.PageID(root)}
	idx.Columns = append(idx.Columns, fields[5:]...)
	return idx, nil
}
