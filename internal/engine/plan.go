// Package engine implements the plan-tree executor sitting atop Catalog
// and the Storage Engine Facade, built around coredb's page-backed heaps
// and B+Tree indexes rather than an in-memory table representation.
package engine

import "github.com/coredb/coredb/internal/catalog"

// Kind enumerates the plan node kinds the front-end can produce.
type Kind int

const (
	KindCreateTable Kind = iota
	KindInsert
	KindSeqScan
	KindFilter
	KindProject
	KindUpdate
	KindDelete
	KindCreateIndex
	KindDropTable
	KindShowTables
)

// CompareOp is the closed set of comparison operators the predicate
// grammar supports.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpLt CompareOp = "<"
	OpGt CompareOp = ">"
	OpLe CompareOp = "<="
	OpGe CompareOp = ">="
	OpNe CompareOp = "!="
)

// Predicate is one `col OP literal` clause; a Filter node's Predicates are
// conjoined ("conjunctions of col OP literal").
type Predicate struct {
	Column  string
	Op      CompareOp
	Literal string
}

// Plan is a node in the plan tree the front-end hands to the executor.
// Construction of the tree (parsing/planning) is out of scope here; the
// front-end (internal/sqlfront) builds Plan values directly.
type Plan struct {
	Kind  Kind
	Table string
	Child *Plan

	// Filter
	Predicates []Predicate

	// Project / Insert column lists
	Columns []string

	// Insert: one []string per row, positional against Columns
	Rows [][]string

	// Update: column -> new literal value
	Assignments map[string]string

	// CreateTable
	TableColumns []catalog.Column

	// CreateIndex
	IndexName   string
	IndexCols   []string
}
