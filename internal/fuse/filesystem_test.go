package fuse

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/objectfs/internal/contentcache"
	"github.com/objectfs/objectfs/internal/reconciler"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/transport/fake"
	"github.com/objectfs/objectfs/internal/tree"
)

func newTestFileSystem(t *testing.T) (*FileSystem, *fake.Client) {
	t.Helper()
	tr := fake.New()
	tr.SeedFolder("AAAAAAAAAAAAA", "docs", "")
	tr.SeedFile("BBBBBBBBBBBBBBB", "readme.txt", "", []byte("hello world"))

	dt := tree.New()
	rec := reconciler.New(dt, tr, nil)
	if err := rec.FullRebuild(context.Background()); err != nil {
		t.Fatalf("FullRebuild: %v", err)
	}

	cache, err := contentcache.New(contentcache.Config{Directory: t.TempDir()}, tr)
	if err != nil {
		t.Fatalf("contentcache.New: %v", err)
	}
	reg, err := registry.New(dt, rec, cache, tr, registry.Config{StagingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	return NewFileSystem(dt, rec, reg, tr, nil), tr
}

func TestGetattrResolvesFileAndFolder(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	var out fuse.EntryOut
	docsInode, errno := root.Lookup(context.Background(), "docs", &out)
	if errno != 0 {
		t.Fatalf("Lookup docs: errno %v", errno)
	}
	if _, ok := docsInode.Operations().(*DirectoryNode); !ok {
		t.Fatalf("expected docs to resolve to a DirectoryNode")
	}

	fileInode, errno := root.Lookup(context.Background(), "readme.txt", &out)
	if errno != 0 {
		t.Fatalf("Lookup readme.txt: errno %v", errno)
	}
	fn, ok := fileInode.Operations().(*FileNode)
	if !ok {
		t.Fatalf("expected readme.txt to resolve to a FileNode")
	}

	var attrOut fuse.AttrOut
	if errno := fn.Getattr(context.Background(), nil, &attrOut); errno != 0 {
		t.Fatalf("Getattr: errno %v", errno)
	}
	if attrOut.Size != 11 {
		t.Fatalf("expected size 11, got %d", attrOut.Size)
	}
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	var out fuse.EntryOut
	_, errno := root.Lookup(context.Background(), "nope.txt", &out)
	if errno != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %v", errno)
	}
}

func TestReaddirListsSeededEntries(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	stream, errno := root.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir: errno %v", errno)
	}
	names := map[string]bool{}
	for stream.HasNext() {
		e, errno := stream.Next()
		if errno != 0 {
			t.Fatalf("stream.Next: errno %v", errno)
		}
		names[e.Name] = true
	}
	if !names["docs"] || !names["readme.txt"] {
		t.Fatalf("expected docs and readme.txt in %v", names)
	}
}

func TestOpenReadWriteReleaseRoundTrip(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	var out fuse.EntryOut
	fileInode, errno := root.Lookup(context.Background(), "readme.txt", &out)
	if errno != 0 {
		t.Fatalf("Lookup: errno %v", errno)
	}
	fn := fileInode.Operations().(*FileNode)

	fh, _, errno := fn.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	handle := fh.(*FileHandle)

	buf := make([]byte, 32)
	res, errno := handle.Read(context.Background(), buf, 0)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	data, status := res.Bytes(buf)
	if status != fuse.OK {
		t.Fatalf("Read status: %v", status)
	}
	if string(data) != "hello world" {
		t.Fatalf("expected 'hello world', got %q", data)
	}

	if errno := handle.Release(context.Background()); errno != 0 {
		t.Fatalf("Release: errno %v", errno)
	}
}

func TestCreateWriteReleaseUploadsNewFile(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	_, fh, _, errno := root.Create(context.Background(), "new.txt", syscall.O_WRONLY, 0644, &fuse.EntryOut{})
	if errno != 0 {
		t.Fatalf("Create: errno %v", errno)
	}
	handle := fh.(*FileHandle)

	content := []byte("brand new")
	n, errno := handle.Write(context.Background(), content, 0)
	if errno != 0 {
		t.Fatalf("Write: errno %v", errno)
	}
	if int(n) != len(content) {
		t.Fatalf("expected %d bytes written, got %d", len(content), n)
	}
	if errno := handle.Release(context.Background()); errno != 0 {
		t.Fatalf("Release: errno %v", errno)
	}

	entry, err := fsys.tree.LookupPath("/new.txt")
	if err != nil {
		t.Fatalf("expected /new.txt to exist after release: %v", err)
	}
	if entry.Size != uint64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), entry.Size)
	}
}

func TestMkdirIssuesTransportCallAndRefreshes(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	var out fuse.EntryOut
	_, errno := root.Mkdir(context.Background(), "archive", 0755, &out)
	if errno != 0 {
		t.Fatalf("Mkdir: errno %v", errno)
	}
	if !fsys.tree.PathIsDirectory("/archive") {
		t.Fatalf("expected /archive to be visible in the tree after mkdir")
	}
}

func TestUnlinkRemovesFileAfterRefresh(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	if errno := root.Unlink(context.Background(), "readme.txt"); errno != 0 {
		t.Fatalf("Unlink: errno %v", errno)
	}
	if fsys.tree.PathExists("/readme.txt") {
		t.Fatalf("expected /readme.txt to be gone after unlink+refresh")
	}
}

func TestUnsupportedOperationsReturnENOSYS(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	var out fuse.EntryOut
	fileInode, errno := root.Lookup(context.Background(), "readme.txt", &out)
	if errno != 0 {
		t.Fatalf("Lookup: errno %v", errno)
	}
	fn := fileInode.Operations().(*FileNode)

	if errno := fn.Setattr(context.Background(), nil, &fuse.SetAttrIn{}, &fuse.AttrOut{}); errno != syscall.ENOSYS {
		t.Fatalf("expected Setattr ENOSYS, got %v", errno)
	}
	if _, errno := fn.Readlink(context.Background()); errno != syscall.ENOSYS {
		t.Fatalf("expected Readlink ENOSYS, got %v", errno)
	}
}

func TestNoopOperationsSucceed(t *testing.T) {
	fsys, _ := newTestFileSystem(t)
	root := fsys.Root().(*DirectoryNode)

	if errno := root.Access(context.Background(), 0); errno != 0 {
		t.Fatalf("Access: errno %v", errno)
	}

	var out fuse.EntryOut
	fileInode, errno := root.Lookup(context.Background(), "readme.txt", &out)
	if errno != 0 {
		t.Fatalf("Lookup: errno %v", errno)
	}
	fn := fileInode.Operations().(*FileNode)
	if errno := fn.Access(context.Background(), 0); errno != 0 {
		t.Fatalf("Access: errno %v", errno)
	}

	fh, _, errno := fn.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open: errno %v", errno)
	}
	handle := fh.(*FileHandle)
	if errno := handle.Flush(context.Background()); errno != 0 {
		t.Fatalf("Flush: errno %v", errno)
	}
	handle.Release(context.Background())
}
