package storageengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coredb/coredb/internal/config"
	"github.com/coredb/coredb/internal/pager"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.FlushIntervalMS = 0 // no background flusher during tests
	eng, err := Open(filepath.Join(dir, "engine.db"), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Shutdown() })
	return eng
}

func TestOpenInitializesMetaPageWithoutCollision(t *testing.T) {
	eng := openTestEngine(t)
	root, err := eng.GetCatalogRoot()
	if err != nil {
		t.Fatal(err)
	}
	if root != pager.InvalidPageID {
		t.Fatalf("fresh database should start with no catalog root, got %d", root)
	}

	g, err := eng.CreateDataPage()
	if err != nil {
		t.Fatal(err)
	}
	// The first real page allocation must not collide with the meta page.
	if g.PageID() == 0 {
		t.Fatal("first allocated data page collided with the meta page (id 0)")
	}
	eng.UnpinPage(g.PageID(), true)
}

func TestPageTypeValidationRejectsMismatch(t *testing.T) {
	eng := openTestEngine(t)
	g, err := eng.CreateDataPage()
	if err != nil {
		t.Fatal(err)
	}
	id := g.PageID()
	eng.UnpinPage(id, true)

	if _, err := eng.GetIndexPage(id); err == nil {
		t.Fatal("expected an error fetching a data page through GetIndexPage")
	}
	g2, err := eng.GetDataPage(id)
	if err != nil {
		t.Fatal(err)
	}
	eng.UnpinPage(id, false)
	_ = g2
}

func TestPageChainAppendAndWalk(t *testing.T) {
	eng := openTestEngine(t)
	g1, err := eng.CreateDataPage()
	if err != nil {
		t.Fatal(err)
	}
	id1 := g1.PageID()
	eng.UnpinPage(id1, true)

	g2, err := eng.CreateDataPage()
	if err != nil {
		t.Fatal(err)
	}
	id2 := g2.PageID()
	eng.UnpinPage(id2, true)

	if err := eng.LinkPages(id1, id2); err != nil {
		t.Fatal(err)
	}
	chain, err := eng.GetPageChain(id1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, g := range chain {
			eng.UnpinPage(g.PageID(), false)
		}
	}()
	if len(chain) != 2 || chain[0].PageID() != id1 || chain[1].PageID() != id2 {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	cfg := config.Default()
	cfg.FlushIntervalMS = 0 // no background flusher during tests
	eng, err := Open(dbPath, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Shutdown() })
	g, err := eng.CreateDataPage()
	if err != nil {
		t.Fatal(err)
	}
	eng.UnpinPage(g.PageID(), true)
	// SetCatalogRoot logs the meta page's after-image to the WAL.
	if err := eng.SetCatalogRoot(g.PageID()); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dbPath + ".wal"); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty WAL before checkpoint (err=%v)", err)
	}
	if err := eng.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dbPath + ".wal")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("WAL size after checkpoint = %d, want 0", info.Size())
	}
}
