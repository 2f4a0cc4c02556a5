package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coredb/coredb/internal/authz"
	"github.com/coredb/coredb/internal/catalog"
	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/logx"
	"github.com/coredb/coredb/internal/pager"
	"github.com/coredb/coredb/internal/storageengine"
)

// Executor walks Plan trees against a Catalog and Storage Engine,
// maintaining every B+Tree index a table carries.
type Executor struct {
	eng   *storageengine.Engine
	cat   *catalog.Catalog
	authz *authz.Checker
	log   *logx.ComponentLogger

	mu      sync.Mutex
	btrees  map[string]*pager.BTree // index name -> live handle
}

// New builds an Executor over an open storage engine, catalog, and
// authorization checker.
func New(eng *storageengine.Engine, cat *catalog.Catalog, checker *authz.Checker, log *logx.Logger) *Executor {
	if log == nil {
		log = logx.Default()
	}
	return &Executor{eng: eng, cat: cat, authz: checker, log: log.Component("engine"), btrees: make(map[string]*pager.BTree)}
}

// Result is what Execute returns for a top-level plan: either a row
// stream (caller must Close it) or a mutation summary.
type Result struct {
	Rows    RowIter
	Summary string
}

// Execute runs a plan tree for the given user, enforcing the
// authorization hook before touching any named table.
func (ex *Executor) Execute(user string, plan *Plan) (Result, error) {
	if plan == nil {
		return Result{}, dberr.New(dberr.InvalidParam, "nil plan")
	}
	if op, table, ok := authzFor(plan); ok {
		if !ex.authz.Allow(user, op, table) {
			return Result{}, dberr.New(dberr.PermissionDenied, "user %q may not %s on %q", user, op, table)
		}
	}
	switch plan.Kind {
	case KindCreateTable:
		return ex.execCreateTable(user, plan)
	case KindDropTable:
		return ex.execDropTable(plan)
	case KindCreateIndex:
		return ex.execCreateIndex(plan)
	case KindInsert:
		return ex.execInsert(plan)
	case KindUpdate:
		return ex.execUpdate(plan)
	case KindDelete:
		return ex.execDelete(plan)
	case KindShowTables:
		return ex.execShowTables()
	case KindSeqScan, KindFilter, KindProject:
		it, err := ex.buildRowIter(plan)
		if err != nil {
			return Result{}, err
		}
		return Result{Rows: it}, nil
	default:
		return Result{}, dberr.New(dberr.UnsupportedFeature, "unknown plan kind %d", plan.Kind)
	}
}

func authzFor(plan *Plan) (authz.Operation, string, bool) {
	switch plan.Kind {
	case KindSeqScan, KindFilter, KindProject:
		return authz.OpSelect, tableOf(plan), true
	case KindInsert:
		return authz.OpInsert, plan.Table, true
	case KindUpdate:
		return authz.OpUpdate, plan.Table, true
	case KindDelete:
		return authz.OpDelete, plan.Table, true
	case KindCreateTable:
		return authz.OpCreateTable, plan.Table, true
	case KindDropTable:
		return authz.OpDropTable, plan.Table, true
	case KindCreateIndex:
		return authz.OpCreateIndex, plan.Table, true
	default:
		return "", "", false
	}
}

// tableOf finds the table name a read-side plan ultimately scans.
func tableOf(plan *Plan) string {
	for p := plan; p != nil; p = p.Child {
		if p.Table != "" {
			return p.Table
		}
	}
	return ""
}

func (ex *Executor) buildRowIter(plan *Plan) (RowIter, error) {
	switch plan.Kind {
	case KindSeqScan:
		schema, ok := ex.cat.GetTable(plan.Table)
		if !ok {
			return nil, dberr.New(dberr.NotFound, "table %q not found", plan.Table)
		}
		return newSeqScanIter(ex.eng, schema)
	case KindFilter:
		child, err := ex.buildRowIter(plan.Child)
		if err != nil {
			return nil, err
		}
		return newFilterIter(child, plan.Predicates), nil
	case KindProject:
		child, err := ex.buildRowIter(plan.Child)
		if err != nil {
			return nil, err
		}
		return newProjectIter(child, plan.Columns), nil
	default:
		return nil, dberr.New(dberr.UnsupportedFeature, "plan kind %d is not a row-producing node", plan.Kind)
	}
}

// --- DDL ---

func (ex *Executor) execCreateTable(user string, plan *Plan) (Result, error) {
	if err := ex.cat.CreateTable(plan.Table, plan.TableColumns, user); err != nil {
		return Result{}, err
	}
	return Result{Summary: fmt.Sprintf("table %s created", plan.Table)}, nil
}

func (ex *Executor) execDropTable(plan *Plan) (Result, error) {
	// Snapshot this table's indexes before DropTable removes them from the
	// catalog, or their names would already be unreachable afterward.
	dropped := ex.cat.IndexesOnTable(plan.Table)
	if err := ex.cat.DropTable(plan.Table); err != nil {
		return Result{}, err
	}
	ex.mu.Lock()
	for _, idx := range dropped {
		delete(ex.btrees, idx.IndexName)
	}
	ex.mu.Unlock()
	return Result{Summary: fmt.Sprintf("table %s dropped", plan.Table)}, nil
}

// execCreateIndex implements  CreateIndex: creates a new
// B+Tree and backfills it by scanning the table.
func (ex *Executor) execCreateIndex(plan *Plan) (Result, error) {
	schema, ok := ex.cat.GetTable(plan.Table)
	if !ok {
		return Result{}, dberr.New(dberr.NotFound, "table %q not found", plan.Table)
	}
	if len(plan.IndexCols) != 1 {
		return Result{}, dberr.New(dberr.UnsupportedFeature, "composite-column indexes are not supported")
	}
	col := plan.IndexCols[0]
	if _, ok := schema.ColumnByName(col); !ok {
		return Result{}, dberr.New(dberr.SemanticError, "column %q not found on table %q", col, plan.Table)
	}

	var bt *pager.BTree
	err := ex.cat.CreateIndex(plan.IndexName, plan.Table, plan.IndexCols, func(onRootChange func(pager.PageID)) (*pager.BTree, error) {
		var err error
		bt, err = pager.CreateBTree(ex.eng.Pool(), onRootChange)
		return bt, err
	})
	if err != nil {
		return Result{}, err
	}

	ex.mu.Lock()
	ex.btrees[plan.IndexName] = bt
	ex.mu.Unlock()

	return ex.backfillIndex(schema, col, plan.IndexName, bt)
}

// backfillIndex walks the table's page chain slot-by-slot (rather than
// through seqScanIter, which does not expose physical slot positions) so
// every entry can be inserted with its real RID.
func (ex *Executor) backfillIndex(schema catalog.TableSchema, col, indexName string, bt *pager.BTree) (Result, error) {
	n := 0
	id := schema.FirstPageID
	for id != pager.InvalidPageID {
		g, err := ex.eng.GetDataPage(id)
		if err != nil {
			return Result{}, err
		}
		sp := pager.WrapSlottedPage(g.Bytes())
		var innerErr error
		sp.ForEachRow(func(slot int, data []byte) {
			if innerErr != nil {
				return
			}
			row, err := catalog.Decode(schema, data)
			if err != nil {
				innerErr = err
				return
			}
			v, _ := row.Get(col)
			key, err := pager.CanonicalKey(v)
			if err != nil {
				innerErr = err
				return
			}
			if err := bt.InsertDuplicate(key, pager.RID{Page: id, Slot: uint16(slot)}); err != nil {
				innerErr = err
				return
			}
			n++
		})
		next := pager.HeaderNextPageID(g.Bytes())
		if err := ex.eng.UnpinPage(id, false); err != nil {
			return Result{}, err
		}
		if innerErr != nil {
			return Result{}, innerErr
		}
		id = next
	}
	return Result{Summary: fmt.Sprintf("index %s created on %d row(s)", indexName, n)}, nil
}

// --- DML ---

// execInsert implements  Insert: defaults, NOT NULL, UNIQUE/
// PRIMARY KEY enforcement, heap append with page-chain growth, and index
// maintenance.
func (ex *Executor) execInsert(plan *Plan) (Result, error) {
	schema, ok := ex.cat.GetTable(plan.Table)
	if !ok {
		return Result{}, dberr.New(dberr.NotFound, "table %q not found", plan.Table)
	}

	inserted := 0
	for _, values := range plan.Rows {
		rowValues, err := ex.resolveRowValues(schema, plan.Columns, values)
		if err != nil {
			return Result{}, err
		}
		if err := ex.enforceConstraints(schema, rowValues); err != nil {
			return Result{}, err
		}
		data, err := catalog.Encode(schema, rowValues)
		if err != nil {
			return Result{}, err
		}
		rid, err := ex.appendToHeap(&schema, data)
		if err != nil {
			return Result{}, err
		}
		if err := ex.maintainIndexesOnInsert(schema, rowValues, rid); err != nil {
			return Result{}, err
		}
		inserted++
	}
	return Result{Summary: fmt.Sprintf("%d row(s) inserted", inserted)}, nil
}

// resolveRowValues maps (column_names, values) positionally onto the
// full schema, applying default_value for omitted columns.
func (ex *Executor) resolveRowValues(schema catalog.TableSchema, columns, values []string) ([]string, error) {
	if len(columns) != len(values) {
		return nil, dberr.New(dberr.InvalidParam, "column/value count mismatch: %d columns, %d values", len(columns), len(values))
	}
	given := make(map[string]string, len(columns))
	for i, c := range columns {
		given[c] = values[i]
	}
	out := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		if v, ok := given[col.Name]; ok {
			out[i] = v
			continue
		}
		if col.HasDefault {
			out[i] = col.DefaultValue
			continue
		}
		if col.NotNull {
			return nil, dberr.New(dberr.ConstraintViolation, "column %q has no value and no default", col.Name)
		}
		out[i] = ""
	}
	return out, nil
}

// enforceConstraints checks NOT NULL, UNIQUE, and PRIMARY KEY by scanning
// existing rows, or by consulting an index if one covers the column.
func (ex *Executor) enforceConstraints(schema catalog.TableSchema, values []string) error {
	for i, col := range schema.Columns {
		if col.NotNull && values[i] == "" {
			return dberr.New(dberr.ConstraintViolation, "column %q must not be null", col.Name)
		}
		if col.Unique || col.PrimaryKey {
			if err := ex.checkUnique(schema, col.Name, values[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ex *Executor) checkUnique(schema catalog.TableSchema, col, value string) error {
	for _, idx := range ex.cat.IndexesOnTable(schema.TableName) {
		if len(idx.Columns) == 1 && idx.Columns[0] == col {
			bt, err := ex.getBTree(idx)
			if err != nil {
				return err
			}
			key, err := pager.CanonicalKey(value)
			if err != nil {
				return err
			}
			entries, err := bt.SearchAll(key)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if actual, err := ex.rowColumnAt(schema, e, col); err == nil && actual == value {
					return dberr.New(dberr.ConstraintViolation, "column %q already has value %q", col, value)
				}
			}
			return nil
		}
	}
	scan, err := newSeqScanIter(ex.eng, schema)
	if err != nil {
		return err
	}
	defer scan.Close()
	for {
		row, ok, err := scan.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if v, _ := row.Get(col); v == value {
			return dberr.New(dberr.ConstraintViolation, "column %q already has value %q", col, value)
		}
	}
}

func (ex *Executor) rowColumnAt(schema catalog.TableSchema, rid pager.LeafEntry, col string) (string, error) {
	g, err := ex.eng.GetDataPage(rid.RIDPage)
	if err != nil {
		return "", err
	}
	defer ex.eng.UnpinPage(rid.RIDPage, false)
	data := pager.WrapSlottedPage(g.Bytes()).GetRow(int(rid.RIDSlot))
	if data == nil {
		return "", dberr.New(dberr.NotFound, "rid %v is a tombstone", rid)
	}
	row, err := catalog.Decode(schema, data)
	if err != nil {
		return "", err
	}
	v, _ := row.Get(col)
	return v, nil
}

// appendToHeap appends data to the table's last chain page, allocating
// and linking a new page when the tail lacks room.
func (ex *Executor) appendToHeap(schema *catalog.TableSchema, data []byte) (pager.RID, error) {
	id := schema.FirstPageID
	var tail pager.PageID = id
	for {
		g, err := ex.eng.GetDataPage(id)
		if err != nil {
			return pager.RID{}, err
		}
		next := pager.HeaderNextPageID(g.Bytes())
		sp := pager.WrapSlottedPage(g.Bytes())
		if sp.FreeSpace() >= len(data)+pager.SlotEntrySize {
			slot, err := sp.AppendRow(data)
			ex.eng.UnpinPage(id, true)
			if err != nil {
				return pager.RID{}, err
			}
			return pager.RID{Page: id, Slot: uint16(slot)}, nil
		}
		ex.eng.UnpinPage(id, false)
		if next == pager.InvalidPageID {
			tail = id
			break
		}
		id = next
	}

	newGuard, err := ex.eng.CreateDataPage()
	if err != nil {
		return pager.RID{}, err
	}
	newID := newGuard.PageID()
	sp := pager.WrapSlottedPage(newGuard.Bytes())
	slot, err := sp.AppendRow(data)
	ex.eng.UnpinPage(newID, true)
	if err != nil {
		return pager.RID{}, err
	}
	if err := ex.eng.LinkPages(tail, newID); err != nil {
		return pager.RID{}, err
	}
	return pager.RID{Page: newID, Slot: uint16(slot)}, nil
}

func (ex *Executor) maintainIndexesOnInsert(schema catalog.TableSchema, values []string, rid pager.RID) error {
	for _, idx := range ex.cat.IndexesOnTable(schema.TableName) {
		if len(idx.Columns) != 1 {
			continue
		}
		col, ok := schema.ColumnByName(idx.Columns[0])
		if !ok {
			continue
		}
		i := columnIndex(schema, col.Name)
		key, err := pager.CanonicalKey(values[i])
		if err != nil {
			return err
		}
		bt, err := ex.getBTree(idx)
		if err != nil {
			return err
		}
		if err := bt.InsertDuplicate(key, rid); err != nil {
			return err
		}
	}
	return nil
}

func columnIndex(schema catalog.TableSchema, name string) int {
	for i, c := range schema.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (ex *Executor) getBTree(idx catalog.IndexSchema) (*pager.BTree, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if bt, ok := ex.btrees[idx.IndexName]; ok {
		return bt, nil
	}
	bt := pager.NewBTree(ex.eng.Pool(), idx.RootPage, func(root pager.PageID) {
		ex.cat.PersistIndexRoot(idx.IndexName, root)
	})
	ex.btrees[idx.IndexName] = bt
	return bt, nil
}

// execUpdate implements  Update: in-place rewrite when the
// new serialized length matches, else delete-and-reinsert (which may
// migrate the row to another page). Every changed indexed column is
// updated.
func (ex *Executor) execUpdate(plan *Plan) (Result, error) {
	schema, ok := ex.cat.GetTable(plan.Table)
	if !ok {
		return Result{}, dberr.New(dberr.NotFound, "table %q not found", plan.Table)
	}
	updated := 0
	id := schema.FirstPageID
	for id != pager.InvalidPageID {
		g, err := ex.eng.GetDataPage(id)
		if err != nil {
			return Result{}, err
		}
		next := pager.HeaderNextPageID(g.Bytes())
		sp := pager.WrapSlottedPage(g.Bytes())

		var matches []int
		var innerErr error
		sp.ForEachRow(func(slot int, data []byte) {
			if innerErr != nil {
				return
			}
			row, err := catalog.Decode(schema, data)
			if err != nil {
				innerErr = err
				return
			}
			match, err := evalPredicates(row, plan.Predicates)
			if err != nil {
				innerErr = err
				return
			}
			if match {
				matches = append(matches, slot)
			}
		})
		if innerErr != nil {
			ex.eng.UnpinPage(id, false)
			return Result{}, innerErr
		}

		dirty := false
		for _, slot := range matches {
			old := sp.GetRow(slot)
			oldRow, err := catalog.Decode(schema, old)
			if err != nil {
				ex.eng.UnpinPage(id, dirty)
				return Result{}, err
			}
			newValues := append([]string{}, oldRow.Values...)
			for col, lit := range plan.Assignments {
				i := columnIndex(schema, col)
				if i >= 0 {
					newValues[i] = lit
				}
			}
			newData, err := catalog.Encode(schema, newValues)
			if err != nil {
				ex.eng.UnpinPage(id, dirty)
				return Result{}, err
			}
			var rid pager.RID
			if len(newData) == len(old) {
				copy(old, newData)
				rid = pager.RID{Page: id, Slot: uint16(slot)}
			} else {
				if err := sp.DeleteRow(slot); err != nil {
					ex.eng.UnpinPage(id, dirty)
					return Result{}, err
				}
				dirty = true
				newRid, err := ex.appendToHeap(&schema, newData)
				if err != nil {
					ex.eng.UnpinPage(id, dirty)
					return Result{}, err
				}
				rid = newRid
			}
			dirty = true
			if err := ex.reindexRow(schema, oldRow.Values, newValues, pager.RID{Page: id, Slot: uint16(slot)}, rid); err != nil {
				ex.eng.UnpinPage(id, dirty)
				return Result{}, err
			}
			updated++
		}
		ex.eng.UnpinPage(id, dirty)
		id = next
	}
	return Result{Summary: fmt.Sprintf("%d row(s) updated", updated)}, nil
}

// reindexRow removes every changed indexed column's old entry and
// inserts the new one. Per the resolution of whether relocation should
// invalidate every index or only those over changed columns: when the
// row's RID changes (it moved to a new page), every index on the table is
// refreshed, not only those whose column value changed, since any index
// entry still pointing at the old RID would now be dangling.
func (ex *Executor) reindexRow(schema catalog.TableSchema, oldValues, newValues []string, oldRID, newRID pager.RID) error {
	moved := oldRID != newRID
	for _, idx := range ex.cat.IndexesOnTable(schema.TableName) {
		if len(idx.Columns) != 1 {
			continue
		}
		i := columnIndex(schema, idx.Columns[0])
		if i < 0 {
			continue
		}
		changed := oldValues[i] != newValues[i]
		if !changed && !moved {
			continue
		}
		bt, err := ex.getBTree(idx)
		if err != nil {
			return err
		}
		oldKey, err := pager.CanonicalKey(oldValues[i])
		if err != nil {
			return err
		}
		if err := removeIndexEntry(bt, oldKey, oldRID); err != nil && !errors.Is(err, dberr.ErrNotFound) {
			return err
		}
		newKey, err := pager.CanonicalKey(newValues[i])
		if err != nil {
			return err
		}
		if err := bt.InsertDuplicate(newKey, newRID); err != nil {
			return err
		}
	}
	return nil
}

// removeIndexEntry deletes the specific (key, rid) leaf entry. Because
// hash collisions or non-unique indexes can leave several RIDs under one
// key, a blind Delete(key) is not safe; this re-inserts every surviving
// entry under the key after dropping the matching one.
func removeIndexEntry(bt *pager.BTree, key int32, rid pager.RID) error {
	entries, err := bt.SearchAll(key)
	if err != nil {
		return err
	}
	if err := bt.Delete(key); err != nil {
		return err
	}
	for i := 1; i < len(entries); i++ {
		if err := bt.Delete(key); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if e.RIDPage == rid.Page && e.RIDSlot == rid.Slot {
			continue
		}
		if err := bt.InsertDuplicate(key, pager.RID{Page: e.RIDPage, Slot: e.RIDSlot}); err != nil {
			return err
		}
	}
	return nil
}

// execDelete implements  Delete: tombstones matching slots
// and removes their entries from every index on the table.
func (ex *Executor) execDelete(plan *Plan) (Result, error) {
	schema, ok := ex.cat.GetTable(plan.Table)
	if !ok {
		return Result{}, dberr.New(dberr.NotFound, "table %q not found", plan.Table)
	}
	deleted := 0
	id := schema.FirstPageID
	for id != pager.InvalidPageID {
		g, err := ex.eng.GetDataPage(id)
		if err != nil {
			return Result{}, err
		}
		next := pager.HeaderNextPageID(g.Bytes())
		sp := pager.WrapSlottedPage(g.Bytes())

		var toDelete []int
		var rows []catalog.Row
		var innerErr error
		sp.ForEachRow(func(slot int, data []byte) {
			if innerErr != nil {
				return
			}
			row, err := catalog.Decode(schema, data)
			if err != nil {
				innerErr = err
				return
			}
			match, err := evalPredicates(row, plan.Predicates)
			if err != nil {
				innerErr = err
				return
			}
			if match {
				toDelete = append(toDelete, slot)
				rows = append(rows, row)
			}
		})
		if innerErr != nil {
			ex.eng.UnpinPage(id, false)
			return Result{}, innerErr
		}

		dirty := false
		for i, slot := range toDelete {
			if err := sp.DeleteRow(slot); err != nil {
				ex.eng.UnpinPage(id, dirty)
				return Result{}, err
			}
			dirty = true
			if err := ex.removeFromIndexes(schema, rows[i], pager.RID{Page: id, Slot: uint16(slot)}); err != nil {
				ex.eng.UnpinPage(id, dirty)
				return Result{}, err
			}
			deleted++
		}
		ex.eng.UnpinPage(id, dirty)
		id = next
	}
	return Result{Summary: fmt.Sprintf("%d row(s) deleted", deleted)}, nil
}

func (ex *Executor) removeFromIndexes(schema catalog.TableSchema, row catalog.Row, rid pager.RID) error {
	for _, idx := range ex.cat.IndexesOnTable(schema.TableName) {
		if len(idx.Columns) != 1 {
			continue
		}
		v, ok := row.Get(idx.Columns[0])
		if !ok {
			continue
		}
		key, err := pager.CanonicalKey(v)
		if err != nil {
			return err
		}
		bt, err := ex.getBTree(idx)
		if err != nil {
			return err
		}
		if err := removeIndexEntry(bt, key, rid); err != nil && !errors.Is(err, dberr.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (ex *Executor) execShowTables() (Result, error) {
	tables := ex.cat.GetAllTables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.TableName
	}
	return Result{Summary: fmt.Sprintf("%d table(s): %v", len(names), names)}, nil
}
