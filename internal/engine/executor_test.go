package engine

import (
	"path/filepath"
	"testing"

	"github.com/coredb/coredb/internal/authz"
	"github.com/coredb/coredb/internal/catalog"
	"github.com/coredb/coredb/internal/config"
	"github.com/coredb/coredb/internal/pager"
	"github.com/coredb/coredb/internal/storageengine"
)

type testFixture struct {
	ex       *Executor
	cat      *catalog.Catalog
	registry *authz.Registry
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.FlushIntervalMS = 0
	eng, err := storageengine.Open(filepath.Join(dir, "exec.db"), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Shutdown() })
	cat, err := catalog.Open(eng)
	if err != nil {
		t.Fatal(err)
	}
	registry := authz.NewRegistry()
	checker := authz.NewChecker(registry, cat)
	return &testFixture{ex: New(eng, cat, checker, nil), cat: cat, registry: registry}
}

func usersTablePlan() *Plan {
	return &Plan{
		Kind:  KindCreateTable,
		Table: "users",
		TableColumns: []catalog.Column{
			{Name: "id", Type: catalog.TypeInt, PrimaryKey: true, NotNull: true},
			{Name: "name", Type: catalog.TypeVarchar, Length: 16},
		},
	}
}

func drainRows(t *testing.T, it RowIter) []catalog.Row {
	t.Helper()
	defer it.Close()
	var rows []catalog.Row
	for {
		row, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestExecutorDDLAndDML(t *testing.T) {
	f := newTestFixture(t)

	if _, err := f.ex.Execute("admin", usersTablePlan()); err != nil {
		t.Fatalf("create table: %v", err)
	}

	insert := &Plan{
		Kind:    KindInsert,
		Table:   "users",
		Columns: []string{"id", "name"},
		Rows:    [][]string{{"1", "alice"}, {"2", "bob"}},
	}
	if _, err := f.ex.Execute("admin", insert); err != nil {
		t.Fatalf("insert: %v", err)
	}

	scan := &Plan{Kind: KindProject, Columns: []string{"*"}, Child: &Plan{Kind: KindSeqScan, Table: "users"}}
	res, err := f.ex.Execute("admin", scan)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	rows := drainRows(t, res.Rows)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	update := &Plan{
		Kind:        KindUpdate,
		Table:       "users",
		Assignments: map[string]string{"name": "carol"},
		Predicates:  []Predicate{{Column: "id", Op: OpEq, Literal: "2"}},
	}
	if _, err := f.ex.Execute("admin", update); err != nil {
		t.Fatalf("update: %v", err)
	}

	scan2 := &Plan{Kind: KindProject, Columns: []string{"*"}, Child: &Plan{Kind: KindFilter,
		Predicates: []Predicate{{Column: "id", Op: OpEq, Literal: "2"}},
		Child:      &Plan{Kind: KindSeqScan, Table: "users"},
	}}
	res2, err := f.ex.Execute("admin", scan2)
	if err != nil {
		t.Fatalf("post-update scan: %v", err)
	}
	updated := drainRows(t, res2.Rows)
	if len(updated) != 1 {
		t.Fatalf("got %d rows, want 1", len(updated))
	}
	if v, _ := updated[0].Get("name"); v != "carol" {
		t.Fatalf("name = %q, want carol", v)
	}

	del := &Plan{Kind: KindDelete, Table: "users", Predicates: []Predicate{{Column: "id", Op: OpEq, Literal: "1"}}}
	if _, err := f.ex.Execute("admin", del); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res3, err := f.ex.Execute("admin", scan)
	if err != nil {
		t.Fatalf("post-delete scan: %v", err)
	}
	remaining := drainRows(t, res3.Rows)
	if len(remaining) != 1 {
		t.Fatalf("got %d rows after delete, want 1", len(remaining))
	}
}

func TestExecutorIndexMaintenanceAcrossInsertUpdateDelete(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.ex.Execute("admin", usersTablePlan()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ex.Execute("admin", &Plan{Kind: KindCreateIndex, Table: "users", IndexName: "idx_name", IndexCols: []string{"name"}}); err != nil {
		t.Fatalf("create index: %v", err)
	}

	insert := &Plan{Kind: KindInsert, Table: "users", Columns: []string{"id", "name"}, Rows: [][]string{{"1", "alice"}}}
	if _, err := f.ex.Execute("admin", insert); err != nil {
		t.Fatal(err)
	}

	idx, ok := f.cat.GetIndex("idx_name")
	if !ok {
		t.Fatal("expected idx_name to exist")
	}
	bt, err := f.ex.getBTree(idx)
	if err != nil {
		t.Fatal(err)
	}
	key, err := pager.CanonicalKey("alice")
	if err != nil {
		t.Fatal(err)
	}
	if entries, err := bt.SearchAll(key); err != nil || len(entries) != 1 {
		t.Fatalf("expected one index entry for alice after insert, got %v (err=%v)", entries, err)
	}

	update := &Plan{
		Kind:        KindUpdate,
		Table:       "users",
		Assignments: map[string]string{"name": "alicia"},
		Predicates:  []Predicate{{Column: "id", Op: OpEq, Literal: "1"}},
	}
	if _, err := f.ex.Execute("admin", update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if entries, err := bt.SearchAll(key); err != nil || len(entries) != 0 {
		t.Fatalf("expected the old 'alice' index entry gone after rename, got %v (err=%v)", entries, err)
	}
	newKey, err := pager.CanonicalKey("alicia")
	if err != nil {
		t.Fatal(err)
	}
	if entries, err := bt.SearchAll(newKey); err != nil || len(entries) != 1 {
		t.Fatalf("expected one index entry for alicia after rename, got %v (err=%v)", entries, err)
	}

	del := &Plan{Kind: KindDelete, Table: "users", Predicates: []Predicate{{Column: "id", Op: OpEq, Literal: "1"}}}
	if _, err := f.ex.Execute("admin", del); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if entries, err := bt.SearchAll(newKey); err != nil || len(entries) != 0 {
		t.Fatalf("expected index entry removed after delete, got %v (err=%v)", entries, err)
	}
}

func TestExecutorDropTablePurgesIndexCache(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.ex.Execute("admin", usersTablePlan()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ex.Execute("admin", &Plan{Kind: KindCreateIndex, Table: "users", IndexName: "idx_name", IndexCols: []string{"name"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ex.Execute("admin", &Plan{Kind: KindDropTable, Table: "users"}); err != nil {
		t.Fatal(err)
	}
	f.ex.mu.Lock()
	_, cached := f.ex.btrees["idx_name"]
	f.ex.mu.Unlock()
	if cached {
		t.Fatal("dropped table's index should be purged from the executor's btree cache")
	}
	if _, ok := f.cat.GetIndex("idx_name"); ok {
		t.Fatal("idx_name should no longer be registered in the catalog")
	}
}

func TestExecutorAuthorizationByRole(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.ex.Execute("admin", usersTablePlan()); err != nil {
		t.Fatal(err)
	}
	if err := f.registry.CreateUser("alice", "pw", authz.RoleWriter); err != nil {
		t.Fatal(err)
	}
	if err := f.registry.CreateUser("bob", "pw", authz.RoleWriter); err != nil {
		t.Fatal(err)
	}
	if err := f.registry.CreateUser("eve", "pw", authz.RoleReader); err != nil {
		t.Fatal(err)
	}

	ownTable := &Plan{
		Kind:  KindCreateTable,
		Table: "alice_stuff",
		TableColumns: []catalog.Column{
			{Name: "id", Type: catalog.TypeInt, PrimaryKey: true, NotNull: true},
		},
	}
	if _, err := f.ex.Execute("alice", ownTable); err != nil {
		t.Fatalf("writer should be able to create their own table: %v", err)
	}

	insertIntoOwn := &Plan{Kind: KindInsert, Table: "alice_stuff", Columns: []string{"id"}, Rows: [][]string{{"1"}}}
	if _, err := f.ex.Execute("alice", insertIntoOwn); err != nil {
		t.Fatalf("owner should be able to insert into their own table: %v", err)
	}

	if _, err := f.ex.Execute("bob", insertIntoOwn); err == nil {
		t.Fatal("a writer who doesn't own the table should be denied INSERT")
	}

	scanOwn := &Plan{Kind: KindSeqScan, Table: "alice_stuff"}
	if _, err := f.ex.Execute("bob", scanOwn); err != nil {
		t.Fatalf("any writer should be able to SELECT any table: %v", err)
	}
	if _, err := f.ex.Execute("eve", scanOwn); err != nil {
		t.Fatalf("a reader should be able to SELECT: %v", err)
	}
	if _, err := f.ex.Execute("eve", insertIntoOwn); err == nil {
		t.Fatal("a reader should be denied INSERT")
	}
}

func TestExecutorCreateIndexBackfillsExistingRows(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.ex.Execute("admin", usersTablePlan()); err != nil {
		t.Fatal(err)
	}
	insert := &Plan{Kind: KindInsert, Table: "users", Columns: []string{"id", "name"}, Rows: [][]string{
		{"1", "alice"}, {"2", "bob"}, {"3", "carol"},
	}}
	if _, err := f.ex.Execute("admin", insert); err != nil {
		t.Fatal(err)
	}
	res, err := f.ex.Execute("admin", &Plan{Kind: KindCreateIndex, Table: "users", IndexName: "idx_id", IndexCols: []string{"id"}})
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	if res.Summary == "" {
		t.Fatal("expected a summary describing the backfill")
	}
	idx, ok := f.cat.GetIndex("idx_id")
	if !ok {
		t.Fatal("expected idx_id to exist")
	}
	bt, err := f.ex.getBTree(idx)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"1", "2", "3"} {
		key, err := pager.CanonicalKey(id)
		if err != nil {
			t.Fatal(err)
		}
		entries, err := bt.SearchAll(key)
		if err != nil || len(entries) != 1 {
			t.Fatalf("expected one backfilled entry for id=%s, got %v (err=%v)", id, entries, err)
		}
	}
}
