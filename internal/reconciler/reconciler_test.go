package reconciler

import (
	"context"
	"testing"

	"github.com/objectfs/objectfs/internal/transport/fake"
	"github.com/objectfs/objectfs/internal/tree"
)

// S1 -- listing a fresh root.
func TestFullRebuildListsFreshRoot(t *testing.T) {
	tr := fake.New()
	tr.SeedFolder("abcdefghijklm", "docs", "")
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", make([]byte, 11))

	dt := tree.New()
	r := New(dt, tr, nil)

	if err := r.FullRebuild(context.Background()); err != nil {
		t.Fatalf("FullRebuild: %v", err)
	}

	root := dt.Root()
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children at root, got %d", len(root.Children))
	}

	readme, err := dt.LookupPath("/readme.txt")
	if err != nil {
		t.Fatalf("lookup /readme.txt: %v", err)
	}
	if readme.Size != 11 {
		t.Fatalf("expected size 11, got %d", readme.Size)
	}
}

// S2 -- incremental change: an update and a delete land in one batch.
func TestRefreshAppliesOrderedBatch(t *testing.T) {
	tr := fake.New()
	tr.SeedFolder("abcdefghijklm", "docs", "")
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", make([]byte, 11))

	dt := tree.New()
	r := New(dt, tr, nil)
	if err := r.FullRebuild(context.Background()); err != nil {
		t.Fatalf("FullRebuild: %v", err)
	}
	revBefore := dt.Revision()

	tr.PushFileUpdate("AAAAAAAAAAAAAAA", []byte("hello world!"))
	tr.DeleteFolder("abcdefghijklm")

	if err := r.Refresh(context.Background(), true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if dt.Revision() <= revBefore {
		t.Fatalf("expected tree revision to advance past %d, got %d", revBefore, dt.Revision())
	}
	if dt.PathExists("/docs") {
		t.Fatalf("expected /docs to be gone after DeletedFolder change")
	}
	readme, err := dt.LookupPath("/readme.txt")
	if err != nil {
		t.Fatalf("lookup /readme.txt: %v", err)
	}
	if readme.Size != 12 {
		t.Fatalf("expected updated size 12, got %d", readme.Size)
	}
}

func TestRefreshNoopWhenRevisionsEqual(t *testing.T) {
	tr := fake.New()
	tr.SeedFile("AAAAAAAAAAAAAAA", "readme.txt", "", make([]byte, 11))

	dt := tree.New()
	r := New(dt, tr, nil)
	if err := r.FullRebuild(context.Background()); err != nil {
		t.Fatalf("FullRebuild: %v", err)
	}
	rev := dt.Revision()

	if err := r.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if dt.Revision() != rev {
		t.Fatalf("expected no-op refresh to leave revision at %d, got %d", rev, dt.Revision())
	}
}

// S6 -- GC exception during a move: an entry at the tree's current
// revision, unreferenced by any folder, must survive Housekeep.
func TestHousekeepProtectsInFlightMove(t *testing.T) {
	dt := tree.New()
	dt.SetRevision(7)
	dt.AddOrUpdateFolder(tree.FolderRecord{Key: "movedfolder111", Name: "moved", Revision: 7})

	tr := fake.New()
	r := New(dt, tr, nil)
	r.Housekeep()

	if _, err := dt.LookupKey("movedfolder111"); err != nil {
		t.Fatalf("expected mid-move entry to survive housekeep: %v", err)
	}
}
