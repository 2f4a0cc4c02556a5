package engine

import (
	"strconv"

	"github.com/coredb/coredb/internal/catalog"
	"github.com/coredb/coredb/internal/dberr"
	"github.com/coredb/coredb/internal/pager"
	"github.com/coredb/coredb/internal/storageengine"
)

// RowIter is a lazy row sequence: each plan node yields its own lazy
// sequence of rows rather than materializing a full result set. Next
// returns (row, true, nil) while rows remain, (zero, false, nil) at end
// of stream, or a non-nil error that terminates iteration. Close releases
// any pinned pages the iterator still holds; callers must always call
// Close, including after an error or early break.
type RowIter interface {
	Next() (catalog.Row, bool, error)
	Close() error
}

// seqScanIter walks a table's heap page chain one page at a time,
// emitting non-tombstone rows in slot order within a page and page-chain
// order across pages.
type seqScanIter struct {
	eng    *storageengine.Engine
	schema catalog.TableSchema
	guard  *pager.PageGuard
	slots  []catalog.Row
	pos    int
}

func newSeqScanIter(eng *storageengine.Engine, schema catalog.TableSchema) (*seqScanIter, error) {
	it := &seqScanIter{eng: eng, schema: schema}
	if err := it.loadPage(schema.FirstPageID); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *seqScanIter) loadPage(id pager.PageID) error {
	if it.guard != nil {
		it.eng.UnpinPage(it.guard.PageID(), false)
		it.guard = nil
	}
	if id == pager.InvalidPageID {
		it.slots = nil
		it.pos = 0
		return nil
	}
	g, err := it.eng.GetDataPage(id)
	if err != nil {
		return err
	}
	it.guard = g
	it.slots = it.slots[:0]
	it.pos = 0
	var rows []catalog.Row
	var firstErr error
	pager.WrapSlottedPage(g.Bytes()).ForEachRow(func(_ int, data []byte) {
		if firstErr != nil {
			return
		}
		row, err := catalog.Decode(it.schema, data)
		if err != nil {
			firstErr = err
			return
		}
		rows = append(rows, row)
	})
	if firstErr != nil {
		return firstErr
	}
	it.slots = rows
	return nil
}

func (it *seqScanIter) Next() (catalog.Row, bool, error) {
	for {
		if it.pos < len(it.slots) {
			row := it.slots[it.pos]
			it.pos++
			return row, true, nil
		}
		if it.guard == nil {
			return catalog.Row{}, false, nil
		}
		next := pager.HeaderNextPageID(it.guard.Bytes())
		if err := it.loadPage(next); err != nil {
			return catalog.Row{}, false, err
		}
		if it.guard == nil {
			return catalog.Row{}, false, nil
		}
	}
}

func (it *seqScanIter) Close() error {
	if it.guard != nil {
		err := it.eng.UnpinPage(it.guard.PageID(), false)
		it.guard = nil
		return err
	}
	return nil
}

// filterIter emits child rows matching every predicate (logical AND).
type filterIter struct {
	child      RowIter
	predicates []Predicate
}

func newFilterIter(child RowIter, predicates []Predicate) *filterIter {
	return &filterIter{child: child, predicates: predicates}
}

func (it *filterIter) Next() (catalog.Row, bool, error) {
	for {
		row, ok, err := it.child.Next()
		if err != nil || !ok {
			return row, ok, err
		}
		match, err := evalPredicates(row, it.predicates)
		if err != nil {
			return catalog.Row{}, false, err
		}
		if match {
			return row, true, nil
		}
	}
}

func (it *filterIter) Close() error { return it.child.Close() }

// evalPredicates implements predicate grammar: type-driven
// comparison (numeric when both sides parse as numbers, byte-wise string
// comparison otherwise); an unknown column is an ExpressionError.
func evalPredicates(row catalog.Row, predicates []Predicate) (bool, error) {
	for _, p := range predicates {
		v, ok := row.Get(p.Column)
		if !ok {
			return false, dberr.New(dberr.ExpressionError, "unknown column %q", p.Column)
		}
		ok, err := compareValues(v, p.Op, p.Literal)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compareValues(lhs string, op CompareOp, rhs string) (bool, error) {
	lf, lok := parseNumber(lhs)
	rf, rok := parseNumber(rhs)
	var cmp int
	if lok && rok {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		default:
			cmp = 0
		}
	} else {
		switch {
		case lhs < rhs:
			cmp = -1
		case lhs > rhs:
			cmp = 1
		default:
			cmp = 0
		}
	}
	switch op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGe:
		return cmp >= 0, nil
	default:
		return false, dberr.New(dberr.ExpressionError, "unknown comparison operator %q", op)
	}
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// projectIter emits only the requested columns, in order; "*" passes each
// child row through unchanged, so it carries the child's full schema.
type projectIter struct {
	child   RowIter
	columns []string
}

func newProjectIter(child RowIter, columns []string) *projectIter {
	return &projectIter{child: child, columns: columns}
}

func (it *projectIter) Next() (catalog.Row, bool, error) {
	row, ok, err := it.child.Next()
	if err != nil || !ok {
		return row, ok, err
	}
	if len(it.columns) == 1 && it.columns[0] == "*" {
		return row, true, nil
	}
	out := catalog.Row{Columns: make([]string, 0, len(it.columns)), Values: make([]string, 0, len(it.columns))}
	for _, col := range it.columns {
		v, ok := row.Get(col)
		if !ok {
			return catalog.Row{}, false, dberr.New(dberr.ExpressionError, "unknown column %q", col)
		}
		out.Columns = append(out.Columns, col)
		out.Values = append(out.Values, v)
	}
	return out, true, nil
}

func (it *projectIter) Close() error { return it.child.Close() }
