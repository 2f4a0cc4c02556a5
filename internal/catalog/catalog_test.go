package catalog

import (
	"path/filepath"
	"testing"

	"github.com/coredb/coredb/internal/config"
	"github.com/coredb/coredb/internal/pager"
	"github.com/coredb/coredb/internal/storageengine"
)

func openTestCatalog(t *testing.T) (*Catalog, *storageengine.Engine) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.FlushIntervalMS = 0
	eng, err := storageengine.Open(filepath.Join(dir, "cat.db"), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Shutdown() })
	cat, err := Open(eng)
	if err != nil {
		t.Fatal(err)
	}
	return cat, eng
}

func usersSchema() []Column {
	return []Column{
		{Name: "id", Type: TypeInt, PrimaryKey: true, NotNull: true},
		{Name: "name", Type: TypeVarchar, Length: 32},
	}
}

func TestCreateTableRejectsDuplicate(t *testing.T) {
	cat, _ := openTestCatalog(t)
	if err := cat.CreateTable("users", usersSchema(), "admin"); err != nil {
		t.Fatal(err)
	}
	if err := cat.CreateTable("users", usersSchema(), "admin"); err == nil {
		t.Fatal("expected an error creating a duplicate table")
	}
}

func TestCatalogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "persist.db")
	cfg := config.Default()
	cfg.FlushIntervalMS = 0

	eng1, err := storageengine.Open(dbPath, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	cat1, err := Open(eng1)
	if err != nil {
		t.Fatal(err)
	}
	if err := cat1.CreateTable("users", usersSchema(), "admin"); err != nil {
		t.Fatal(err)
	}
	if err := eng1.Shutdown(); err != nil {
		t.Fatal(err)
	}

	eng2, err := storageengine.Open(dbPath, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer eng2.Shutdown()
	cat2, err := Open(eng2)
	if err != nil {
		t.Fatal(err)
	}
	schema, ok := cat2.GetTable("users")
	if !ok {
		t.Fatal("expected table 'users' to survive reopen")
	}
	if len(schema.Columns) != 2 || schema.Columns[0].Name != "id" {
		t.Fatalf("reloaded schema mismatch: %+v", schema)
	}
	if schema.Owner != "admin" {
		t.Fatalf("reloaded owner mismatch: %q", schema.Owner)
	}
}

func TestCreateIndexAndPersistRoot(t *testing.T) {
	cat, eng := openTestCatalog(t)
	if err := cat.CreateTable("users", usersSchema(), "admin"); err != nil {
		t.Fatal(err)
	}
	err := cat.CreateIndex("idx_id", "users", []string{"id"}, func(onRootChange func(pager.PageID)) (*pager.BTree, error) {
		return pager.CreateBTree(eng.Pool(), onRootChange)
	})
	if err != nil {
		t.Fatal(err)
	}
	idx, ok := cat.GetIndex("idx_id")
	if !ok {
		t.Fatal("expected idx_id to be registered")
	}
	if idx.RootPage == pager.InvalidPageID {
		t.Fatal("expected a real root page id")
	}
	if err := cat.PersistIndexRoot("idx_id", idx.RootPage+1); err != nil {
		t.Fatal(err)
	}
	idx2, _ := cat.GetIndex("idx_id")
	if idx2.RootPage != idx.RootPage+1 {
		t.Fatalf("PersistIndexRoot did not stick: got %d", idx2.RootPage)
	}
}

func TestDropTableRemovesItsIndexes(t *testing.T) {
	cat, eng := openTestCatalog(t)
	if err := cat.CreateTable("users", usersSchema(), "admin"); err != nil {
		t.Fatal(err)
	}
	if err := cat.CreateIndex("idx_id", "users", []string{"id"}, func(onRootChange func(pager.PageID)) (*pager.BTree, error) {
		return pager.CreateBTree(eng.Pool(), onRootChange)
	}); err != nil {
		t.Fatal(err)
	}
	if err := cat.DropTable("users"); err != nil {
		t.Fatal(err)
	}
	if cat.HasTable("users") {
		t.Fatal("table should be gone after DropTable")
	}
	if _, ok := cat.GetIndex("idx_id"); ok {
		t.Fatal("index over a dropped table should also be gone")
	}
}

func TestTableNamesAreCaseInsensitive(t *testing.T) {
	cat, _ := openTestCatalog(t)
	if err := cat.CreateTable("Users", usersSchema(), "admin"); err != nil {
		t.Fatal(err)
	}
	if err := cat.CreateTable("USERS", usersSchema(), "admin"); err == nil {
		t.Fatal("expected creating 'USERS' to collide with existing 'Users'")
	}
	if !cat.HasTable("users") {
		t.Fatal("expected 'users' to resolve to the table created as 'Users'")
	}
	schema, ok := cat.GetTable("uSeRs")
	if !ok || schema.TableName != "Users" {
		t.Fatalf("GetTable with mixed case = %+v, %v", schema, ok)
	}
	if err := cat.DropTable("USERS"); err != nil {
		t.Fatal(err)
	}
	if cat.HasTable("Users") {
		t.Fatal("expected drop under a different case to remove the table")
	}
}

func TestOwnershipLookup(t *testing.T) {
	cat, _ := openTestCatalog(t)
	if err := cat.CreateTable("users", usersSchema(), "alice"); err != nil {
		t.Fatal(err)
	}
	if !cat.IsTableOwner("users", "alice") {
		t.Fatal("alice should own 'users'")
	}
	if cat.IsTableOwner("users", "bob") {
		t.Fatal("bob should not own 'users'")
	}
	owned := cat.GetTablesByOwner("alice")
	if len(owned) != 1 || owned[0].TableName != "users" {
		t.Fatalf("GetTablesByOwner(alice) = %+v", owned)
	}
}
