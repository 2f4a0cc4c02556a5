// Package catalog implements table/column/index schema
// persisted into the catalog page chain, plus table ownership.
//
// The catalog keeps an in-memory table map that is loaded from a
// line-oriented textual grammar when the catalog is opened and written
// back in full after every schema change.
package catalog

import "github.com/coredb/coredb/internal/pager"

// ColumnType is the closed set of column types names.
type ColumnType int

const (
	TypeInt ColumnType = iota
	TypeDouble
	TypeVarchar
	TypeChar
	TypeBigInt
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeDouble:
		return "DOUBLE"
	case TypeVarchar:
		return "VARCHAR"
	case TypeChar:
		return "CHAR"
	case TypeBigInt:
		return "BIGINT"
	default:
		return "UNKNOWN"
	}
}

// ParseColumnType maps a grammar token back to a ColumnType.
func ParseColumnType(s string) (ColumnType, bool) {
	switch s {
	case "INT":
		return TypeInt, true
	case "DOUBLE":
		return TypeDouble, true
	case "VARCHAR":
		return TypeVarchar, true
	case "CHAR":
		return TypeChar, true
	case "BIGINT":
		return TypeBigInt, true
	default:
		return 0, false
	}
}

// FixedWidth returns the on-disk width of one value of this column, given
// its declared length (VARCHAR/CHAR use length; others ignore it).
func (t ColumnType) FixedWidth(length int) int {
	switch t {
	case TypeInt:
		return 4
	case TypeDouble, TypeBigInt:
		return 8
	case TypeVarchar, TypeChar:
		return length
	default:
		return 0
	}
}

// Column describes one table column.
type Column struct {
	Name         string
	Type         ColumnType
	Length       int // meaningful for VARCHAR(n)/CHAR(n)
	PrimaryKey   bool
	Unique       bool
	NotNull      bool
	HasDefault   bool
	DefaultValue string
}

// TableSchema is a table's full schema plus its storage location and
// owner.
type TableSchema struct {
	TableName   string
	Columns     []Column
	FirstPageID pager.PageID
	Owner       string
}

// ColumnByName returns the column named name, or ok=false.
func (t TableSchema) ColumnByName(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// RowWidth is the fixed total byte width of one serialized row under this
// schema (column-major fixed-width fields).
func (t TableSchema) RowWidth() int {
	w := 0
	for _, c := range t.Columns {
		w += c.Type.FixedWidth(c.Length)
	}
	return w
}

// IndexType is the closed set of index implementations. Only BPLUS is
// implemented.
type IndexType int

const (
	IndexBPlus IndexType = iota
)

func (t IndexType) String() string { return "BPLUS" }

// IndexSchema describes one secondary index.
type IndexSchema struct {
	IndexName string
	TableName string
	Columns   []string
	Type      IndexType
	RootPage  pager.PageID
}
