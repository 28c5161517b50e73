package tree

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"
)

// equalEntry compares the fields Snapshot/Load round-trip, skipping the
// monotonic clock reading on Created (UnixNano already strips it on the
// reload side, so comparing wall time directly avoids a false mismatch).
func equalEntry(t *testing.T, a, b *Entry) {
	t.Helper()
	if a.Key != b.Key || a.Kind != b.Kind || a.Name != b.Name || a.Revision != b.Revision {
		t.Fatalf("entry mismatch: %+v vs %+v", a, b)
	}
	if !a.Created.Equal(b.Created) {
		t.Fatalf("created mismatch for %q: %v vs %v", a.Key, a.Created, b.Created)
	}
	if a.Hash != b.Hash || a.Size != b.Size {
		t.Fatalf("hash/size mismatch for %q: %+v vs %+v", a.Key, a, b)
	}
	if len(a.Children) != len(b.Children) {
		t.Fatalf("children length mismatch for %q: %v vs %v", a.Key, a.Children, b.Children)
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			t.Fatalf("children mismatch for %q at %d: %v vs %v", a.Key, i, a.Children, b.Children)
		}
	}
}

func buildTestTree() *Tree {
	tr := New()
	tr.AddOrUpdateFolder(FolderRecord{Key: "", Name: "", Revision: 7, Created: time.Unix(1000, 0).UTC()})
	tr.AddOrUpdateFolder(FolderRecord{Key: "abcdefghijklm", Name: "docs", Revision: 5, Created: time.Unix(1001, 0).UTC()})
	hash := sha256.Sum256([]byte("hello world"))
	tr.AddOrUpdateFile(FileRecord{
		Key: "AAAAAAAAAAAAAAA", Name: "readme.txt", Revision: 7,
		Created: time.Unix(1002, 0).UTC(), Hash: hash, Size: 11,
	})
	tr.AddOrUpdateFile(FileRecord{
		Key: "BBBBBBBBBBBBBBB", Name: "notes.txt", Revision: 6,
		Created: time.Unix(1003, 0).UTC(), Size: 4,
	})
	_ = tr.SetChildren("", []Key{"abcdefghijklm"})
	_ = tr.SetChildren("abcdefghijklm", []Key{"AAAAAAAAAAAAAAA", "BBBBBBBBBBBBBBB"})
	tr.SetRevision(7)
	return tr
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	tr := buildTestTree()

	var buf bytes.Buffer
	if err := tr.Snapshot(&buf); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Revision() != tr.Revision() {
		t.Fatalf("revision mismatch: got %d want %d", loaded.Revision(), tr.Revision())
	}

	equalEntry(t, tr.root, loaded.root)

	if len(loaded.byKey) != len(tr.byKey) {
		t.Fatalf("byKey size mismatch: got %d want %d", len(loaded.byKey), len(tr.byKey))
	}
	for k, want := range tr.byKey {
		got, ok := loaded.byKey[k]
		if !ok {
			t.Fatalf("missing key %q after reload", k)
		}
		equalEntry(t, want, got)
	}

	docs, err := loaded.LookupPath("/docs/readme.txt")
	if err != nil {
		t.Fatalf("lookup path after reload: %v", err)
	}
	if docs.Size != 11 {
		t.Fatalf("expected size 11 after reload, got %d", docs.Size)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("XXX\x00")))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.WriteByte(42)
	_, err := Load(&buf)
	if err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestSnapshotEmptyTree(t *testing.T) {
	tr := New()

	var buf bytes.Buffer
	if err := tr.Snapshot(&buf); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Revision() != 0 {
		t.Fatalf("expected revision 0, got %d", loaded.Revision())
	}
	if len(loaded.byKey) != 0 {
		t.Fatalf("expected empty byKey, got %d entries", len(loaded.byKey))
	}
}
