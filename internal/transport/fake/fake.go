// Package fake provides an in-memory transport.Client double for tests,
// grounded in the object store model spec.md §2 describes a real transport
// adapter as implementing, without any network I/O.
package fake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/kr/binarydist"

	"github.com/objectfs/objectfs/internal/transport"
)

type file struct {
	name     string
	folder   string
	revision uint64
	bodies   map[uint64][]byte // revision -> content, so GetUpdates/get_patch can serve history
}

type folder struct {
	name     string
	parent   string
	revision uint64
}

// Client is an in-memory fake remote, addressable by folder/file key.
type Client struct {
	mu sync.Mutex

	revision uint64
	changes  []transport.Change

	folders map[string]*folder
	files   map[string]*file

	// folderChildren maps folder key ("" for root) to ordered child keys.
	folderChildren map[string][]string

	// patches holds binary patch blobs keyed by "key/sourceRev/targetRev",
	// populated on demand by GetUpdates from the bodies a file has
	// accumulated via SeedFile/PushFileUpdate.
	patches map[string][]byte
}

// New creates an empty fake remote with just a root folder at revision 0.
func New() *Client {
	return &Client{
		folders:        map[string]*folder{},
		files:          map[string]*file{},
		folderChildren: map[string][]string{"": {}},
		patches:        map[string][]byte{},
	}
}

func hashOf(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// --- test-setup helpers (not part of transport.Client) ---

// SeedFolder registers a folder directly, bumping the remote revision.
func (c *Client) SeedFolder(key, name, parent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	c.folders[key] = &folder{name: name, parent: parent, revision: c.revision}
	c.folderChildren[parent] = append(c.folderChildren[parent], key)
	if _, ok := c.folderChildren[key]; !ok {
		c.folderChildren[key] = nil
	}
}

// SeedFile registers a file body at the current remote revision bump.
func (c *Client) SeedFile(key, name, parent string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	f := &file{name: name, folder: parent, revision: c.revision, bodies: map[uint64][]byte{c.revision: content}}
	c.files[key] = f
	c.folderChildren[parent] = append(c.folderChildren[parent], key)
}

// PushFileUpdate appends a new revision/body for an existing file and
// records an UpdatedFile change.
func (c *Client) PushFileUpdate(key string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	f := c.files[key]
	f.revision = c.revision
	f.bodies[c.revision] = content
	c.changes = append(c.changes, transport.Change{Kind: transport.UpdatedFile, Key: key, Revision: c.revision})
}

// DeleteFolder records a DeletedFolder change.
func (c *Client) DeleteFolder(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	delete(c.folders, key)
	c.changes = append(c.changes, transport.Change{Kind: transport.DeletedFolder, Key: key, Revision: c.revision})
}

// --- transport.Client implementation ---

func (c *Client) GetStatus(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision, nil
}

func (c *Client) GetChanges(ctx context.Context, since uint64) ([]transport.Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []transport.Change
	for _, ch := range c.changes {
		if ch.Revision > since {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *Client) GetFolderInfo(ctx context.Context, key string) (transport.FolderInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		return transport.FolderInfo{Key: "", Name: "", Revision: c.revision}, nil
	}
	f, ok := c.folders[key]
	if !ok {
		return transport.FolderInfo{}, fmt.Errorf("no such folder %s", key)
	}
	return transport.FolderInfo{Key: key, Name: f.name, Parent: f.parent, Revision: f.revision}, nil
}

func (c *Client) GetFolderContent(ctx context.Context, key string, kind transport.ContentKind) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, childKey := range c.folderChildren[key] {
		if kind == transport.ContentFolders {
			if _, ok := c.folders[childKey]; ok {
				out = append(out, childKey)
			}
		} else {
			if _, ok := c.files[childKey]; ok {
				out = append(out, childKey)
			}
		}
	}
	return out, nil
}

func (c *Client) GetFileInfo(ctx context.Context, key string) (transport.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[key]
	if !ok {
		return transport.FileInfo{}, fmt.Errorf("no such file %s", key)
	}
	body := f.bodies[f.revision]
	return transport.FileInfo{Key: key, Name: f.name, Hash: hashOf(body), Size: uint64(len(body)), Revision: f.revision}, nil
}

func (c *Client) GetFileLinks(ctx context.Context, key string) (transport.FileLinks, error) {
	return transport.FileLinks{DirectDownloadURL: "fake://" + key}, nil
}

// GetUpdates builds a real kr/binarydist patch chain across the revisions a
// file has accumulated via SeedFile/PushFileUpdate, the same codec the
// registry and s3transport use against a live remote. It falls back to
// (nil, nil), signaling "use a full download instead", whenever sourceRev
// isn't one of this file's stored bodies or no hop reaches targetRev.
func (c *Client) GetUpdates(ctx context.Context, key string, sourceRev, targetRev uint64) ([]transport.Patch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[key]
	if !ok {
		return nil, fmt.Errorf("no such file %s", key)
	}
	if _, ok := f.bodies[sourceRev]; !ok {
		return nil, nil
	}

	revs := make([]uint64, 0, len(f.bodies))
	for rev := range f.bodies {
		revs = append(revs, rev)
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i] < revs[j] })

	var chain []transport.Patch
	cur := sourceRev
	for _, rev := range revs {
		if rev <= cur || rev > targetRev {
			continue
		}
		blob, err := buildFakePatch(f.bodies[cur], f.bodies[rev])
		if err != nil {
			return nil, err
		}
		c.patches[patchBlobKey(key, cur, rev)] = blob
		chain = append(chain, transport.Patch{
			SourceRevision: cur,
			TargetRevision: rev,
			SourceHash:     hashOf(f.bodies[cur]),
			TargetHash:     hashOf(f.bodies[rev]),
			PatchHash:      hashOf(blob),
		})
		cur = rev
	}
	if cur != targetRev {
		return nil, nil
	}
	return chain, nil
}

func (c *Client) GetPatch(ctx context.Context, key string, sourceRev, targetRev uint64) (transport.PatchLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blobKey := patchBlobKey(key, sourceRev, targetRev)
	blob, ok := c.patches[blobKey]
	if !ok {
		return transport.PatchLink{}, fmt.Errorf("no patch available for %s %d->%d", key, sourceRev, targetRev)
	}
	return transport.PatchLink{PatchURL: "fake-patch://" + blobKey, PatchHash: hashOf(blob)}, nil
}

func buildFakePatch(source, target []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := binarydist.Diff(bytes.NewReader(source), bytes.NewReader(target), &buf); err != nil {
		return nil, fmt.Errorf("fake transport: computing binary diff: %w", err)
	}
	return buf.Bytes(), nil
}

func patchBlobKey(key string, sourceRev, targetRev uint64) string {
	return fmt.Sprintf("%s/%d/%d", key, sourceRev, targetRev)
}

func (c *Client) Download(ctx context.Context, url string, w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blobKey, ok := strings.CutPrefix(url, "fake-patch://"); ok {
		blob, ok := c.patches[blobKey]
		if !ok {
			return fmt.Errorf("no such patch for url %s", url)
		}
		_, err := w.Write(blob)
		return err
	}

	key := url[len("fake://"):]
	f, ok := c.files[key]
	if !ok {
		return fmt.Errorf("no such file for url %s", url)
	}
	_, err := w.Write(f.bodies[f.revision])
	return err
}

func (c *Client) UploadFile(ctx context.Context, folderKey, filename string, body io.Reader) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	c.revision++
	key := fmt.Sprintf("upload%014d", len(c.files)+1)
	c.files[key] = &file{name: filename, folder: folderKey, revision: c.revision, bodies: map[uint64][]byte{c.revision: data}}
	c.folderChildren[folderKey] = append(c.folderChildren[folderKey], key)
	c.changes = append(c.changes, transport.Change{Kind: transport.UpdatedFile, Key: key, Parent: folderKey, Revision: c.revision})
	return "uploadkey-" + key, nil
}

// UploadPatch applies the given binary patch to the file's current body using
// the same kr/binarydist codec the real registry diffs with, so tests can
// exercise a full Writable release without a real remote's patch support.
func (c *Client) UploadPatch(ctx context.Context, key string, sourceHash, targetHash [32]byte, targetSize uint64, patch io.Reader) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[key]
	if !ok {
		return "", fmt.Errorf("no such file %s", key)
	}
	current := f.bodies[f.revision]
	if hashOf(current) != sourceHash {
		return "", fmt.Errorf("upload_patch: source hash mismatch for %s", key)
	}

	patchData, err := io.ReadAll(patch)
	if err != nil {
		return "", err
	}
	var newBody bytes.Buffer
	if err := binarydist.Patch(bytes.NewReader(current), &newBody, bytes.NewReader(patchData)); err != nil {
		return "", fmt.Errorf("upload_patch: applying patch for %s: %w", key, err)
	}
	if hashOf(newBody.Bytes()) != targetHash {
		return "", fmt.Errorf("upload_patch: target hash mismatch for %s", key)
	}

	c.revision++
	f.revision = c.revision
	f.bodies[c.revision] = newBody.Bytes()
	c.changes = append(c.changes, transport.Change{Kind: transport.UpdatedFile, Key: key, Revision: c.revision})
	return "uploadkey-" + key, nil
}

func (c *Client) PollUpload(ctx context.Context, uploadKey string) (transport.UploadStatus, error) {
	return transport.UploadStatus{Status: 99}, nil
}

func (c *Client) FileDelete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, key)
	return nil
}

func (c *Client) FolderDelete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.folders, key)
	return nil
}

func (c *Client) FileMove(ctx context.Context, key, newParent string) error   { return nil }
func (c *Client) FolderMove(ctx context.Context, key, newParent string) error { return nil }
func (c *Client) FileRename(ctx context.Context, key, newName string) error   { return nil }
func (c *Client) FolderRename(ctx context.Context, key, newName string) error { return nil }

func (c *Client) FolderCreate(ctx context.Context, parentKey, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	key := fmt.Sprintf("newfolder%04d", len(c.folders)+1)
	c.folders[key] = &folder{name: name, parent: parentKey, revision: c.revision}
	c.folderChildren[parentKey] = append(c.folderChildren[parentKey], key)
	c.folderChildren[key] = nil
	return key, nil
}

func (c *Client) CheckHash(ctx context.Context, folderKey, filename string, hash [32]byte, size uint64) (transport.HashCheck, error) {
	return transport.HashCheck{}, nil
}

func (c *Client) RefreshToken(ctx context.Context) error { return nil }
