// Package s3transport implements transport.Client against an S3 bucket, so a
// mirror can run against a real object store instead of the in-memory fake.
// It reuses the teacher's CargoShip-optimized internal/storage/s3.Backend for
// the raw object operations and layers the remote's folder tree, revision
// log and patch history on top as JSON records and marker objects.
package s3transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kr/binarydist"

	"github.com/objectfs/objectfs/internal/storage/s3"
	"github.com/objectfs/objectfs/internal/transport"
	objerrors "github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/types"
)

const (
	rootMarker = "_root"

	keyRevision   = "meta/revision.json"
	prefixChanges = "meta/changelog/"
	prefixFolders = "meta/folders/"
	prefixFiles   = "meta/files/"
	prefixHistory = "meta/history/"
	prefixIndexF  = "meta/index/folders/"
	prefixIndexD  = "meta/index/files/"
	prefixChildF  = "meta/children/"
	prefixBodies  = "bodies/"
	prefixPatches = "patches/"

	urlScheme = "s3key://"
)

// objectStore is the slice of internal/storage/s3.Backend this package
// actually calls. Keeping it as an interface (rather than storing *s3.Backend
// directly) lets tests exercise the JSON-record and patch-chain logic above
// against an in-memory double instead of a live bucket.
type objectStore interface {
	GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string, limit int) ([]types.ObjectInfo, error)
}

// Client implements transport.Client against an S3 bucket.
type Client struct {
	backend objectStore

	// serializes the read-modify-write revision bump every mutating call
	// performs; the bucket has no compare-and-swap primitive this package
	// uses, so a single client process must own the write path.
	mu sync.Mutex
}

// New wraps an existing S3 backend (built with s3.NewBackend, carrying the
// CargoShip transporter and connection pool) as a transport.Client, and
// seeds the root folder record the first time it sees an empty bucket.
func New(ctx context.Context, backend *s3.Backend) (*Client, error) {
	c := &Client{backend: backend}
	if err := c.ensureRoot(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureRoot(ctx context.Context) error {
	if _, err := c.readRevision(ctx); err == nil {
		return nil
	}
	if err := c.writeRevision(ctx, 0); err != nil {
		return err
	}
	rec := folderRecord{Name: "", Parent: "", Revision: 0, Created: time.Now()}
	return c.putJSON(ctx, folderKey(""), rec)
}

// --- on-disk record shapes ---

type folderRecord struct {
	Name     string
	Parent   string
	Revision uint64
	Created  time.Time
}

type fileRecord struct {
	Name     string
	Parent   string
	Hash     [32]byte
	Size     uint64
	Revision uint64
	Created  time.Time
}

type historyRecord struct {
	Hash [32]byte
	Size uint64
}

// --- key helpers ---

func folderKey(key string) string {
	if key == "" {
		return prefixFolders + rootMarker + ".json"
	}
	return prefixFolders + key + ".json"
}

func fileKey(key string) string { return prefixFiles + key + ".json" }

func historyKey(key string, rev uint64) string {
	return fmt.Sprintf("%s%s/%d.json", prefixHistory, key, rev)
}

func bodyKey(key string, rev uint64) string {
	return fmt.Sprintf("%s%s/%d", prefixBodies, key, rev)
}

func patchKey(key string, sourceRev, targetRev uint64) string {
	return fmt.Sprintf("%s%s/%d-%d", prefixPatches, key, sourceRev, targetRev)
}

func childMarker(parent, kind, key string) string {
	p := parent
	if p == "" {
		p = rootMarker
	}
	return fmt.Sprintf("%s%s/%s/%s", prefixChildF, p, kind, key)
}

func indexKey(isFolder bool, parent, name string) string {
	p := parent
	if p == "" {
		p = rootMarker
	}
	prefix := prefixIndexD
	if isFolder {
		prefix = prefixIndexF
	}
	return fmt.Sprintf("%s%s/%s", prefix, p, name)
}

// --- generic JSON object helpers ---

func (c *Client) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return objerrors.IOError("s3transport", "marshal "+key).WithDetail("cause", err.Error())
	}
	if err := c.backend.PutObject(ctx, key, data); err != nil {
		return objerrors.Remote("s3transport", "put "+key, 0).WithDetail("cause", err.Error())
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := c.backend.GetObject(ctx, key, 0, 0)
	if err != nil {
		if isNotFound(err) {
			return objerrors.NotFound("s3transport", "no such object "+key)
		}
		return objerrors.Remote("s3transport", "get "+key, 0).WithDetail("cause", err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return objerrors.Corrupt("s3transport", "decode "+key).WithDetail("cause", err.Error())
	}
	return nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "object not found") || strings.Contains(err.Error(), "NoSuchKey")
}

func newKey() string {
	var b [10]byte
	_, _ = rand.Read(b[:])
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// --- revision log ---

func (c *Client) readRevision(ctx context.Context) (uint64, error) {
	data, err := c.backend.GetObject(ctx, keyRevision, 0, 0)
	if err != nil {
		return 0, err
	}
	rev, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, objerrors.Corrupt("s3transport", "decode revision counter")
	}
	return rev, nil
}

func (c *Client) writeRevision(ctx context.Context, rev uint64) error {
	return c.backend.PutObject(ctx, keyRevision, []byte(strconv.FormatUint(rev, 10)))
}

// bumpRevision advances the global revision counter by one and records ch
// (with its Revision field overwritten) in the changelog.
func (c *Client) bumpRevision(ctx context.Context, ch transport.Change) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.readRevision(ctx)
	if err != nil {
		return 0, objerrors.Remote("s3transport", "read revision counter", 0).WithDetail("cause", err.Error())
	}
	next := cur + 1
	ch.Revision = next
	if err := c.putJSON(ctx, fmt.Sprintf("%s%020d.json", prefixChanges, next), ch); err != nil {
		return 0, err
	}
	if err := c.writeRevision(ctx, next); err != nil {
		return 0, objerrors.Remote("s3transport", "write revision counter", 0).WithDetail("cause", err.Error())
	}
	return next, nil
}

// --- transport.Client ---

func (c *Client) GetStatus(ctx context.Context) (uint64, error) {
	rev, err := c.readRevision(ctx)
	if err != nil {
		return 0, objerrors.Remote("s3transport", "get_status", 0).WithDetail("cause", err.Error())
	}
	return rev, nil
}

func (c *Client) GetChanges(ctx context.Context, since uint64) ([]transport.Change, error) {
	objs, err := c.backend.ListObjects(ctx, prefixChanges, 0)
	if err != nil {
		return nil, objerrors.Remote("s3transport", "get_changes", 0).WithDetail("cause", err.Error())
	}
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	sort.Strings(keys)

	var out []transport.Change
	for _, k := range keys {
		var ch transport.Change
		if err := c.getJSON(ctx, k, &ch); err != nil {
			return nil, err
		}
		if ch.Revision > since {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *Client) GetFolderInfo(ctx context.Context, folderKeyArg string) (transport.FolderInfo, error) {
	var rec folderRecord
	if err := c.getJSON(ctx, folderKey(folderKeyArg), &rec); err != nil {
		return transport.FolderInfo{}, err
	}
	return transport.FolderInfo{Key: folderKeyArg, Name: rec.Name, Parent: rec.Parent, Revision: rec.Revision, Created: rec.Created}, nil
}

func (c *Client) GetFolderContent(ctx context.Context, folderKeyArg string, kind transport.ContentKind) ([]string, error) {
	kindName := "files"
	if kind == transport.ContentFolders {
		kindName = "folders"
	}
	parent := folderKeyArg
	if parent == "" {
		parent = rootMarker
	}
	prefix := fmt.Sprintf("%s%s/%s/", prefixChildF, parent, kindName)
	objs, err := c.backend.ListObjects(ctx, prefix, 0)
	if err != nil {
		return nil, objerrors.Remote("s3transport", "get_folder_content", 0).WithDetail("cause", err.Error())
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Key[len(prefix):])
	}
	return out, nil
}

func (c *Client) GetFileInfo(ctx context.Context, quickKey string) (transport.FileInfo, error) {
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(quickKey), &rec); err != nil {
		return transport.FileInfo{}, err
	}
	return transport.FileInfo{Key: quickKey, Name: rec.Name, Hash: rec.Hash, Size: rec.Size, Revision: rec.Revision, Created: rec.Created}, nil
}

func (c *Client) GetFileLinks(ctx context.Context, quickKey string) (transport.FileLinks, error) {
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(quickKey), &rec); err != nil {
		return transport.FileLinks{}, err
	}
	url := urlScheme + bodyKey(quickKey, rec.Revision)
	return transport.FileLinks{DirectDownloadURL: url, ShareURL: url, OnetimeURL: url}, nil
}

func (c *Client) GetUpdates(ctx context.Context, quickKey string, sourceRev, targetRev uint64) ([]transport.Patch, error) {
	var source, target historyRecord
	if err := c.getJSON(ctx, historyKey(quickKey, sourceRev), &source); err != nil {
		return nil, err
	}
	if err := c.getJSON(ctx, historyKey(quickKey, targetRev), &target); err != nil {
		return nil, err
	}
	patchBytes, patchHash, err := c.buildPatch(ctx, quickKey, sourceRev, targetRev)
	if err != nil {
		return nil, err
	}
	_ = patchBytes
	return []transport.Patch{{
		SourceRevision: sourceRev,
		TargetRevision: targetRev,
		SourceHash:     source.Hash,
		TargetHash:     target.Hash,
		PatchHash:      patchHash,
	}}, nil
}

func (c *Client) GetPatch(ctx context.Context, quickKey string, sourceRev, targetRev uint64) (transport.PatchLink, error) {
	_, patchHash, err := c.buildPatch(ctx, quickKey, sourceRev, targetRev)
	if err != nil {
		return transport.PatchLink{}, err
	}
	return transport.PatchLink{PatchURL: urlScheme + patchKey(quickKey, sourceRev, targetRev), PatchHash: patchHash}, nil
}

// buildPatch computes (and caches in the bucket) the binary diff between two
// revisions of a file's body using the same kr/binarydist codec the registry
// uses client-side.
func (c *Client) buildPatch(ctx context.Context, quickKey string, sourceRev, targetRev uint64) ([]byte, [32]byte, error) {
	pk := patchKey(quickKey, sourceRev, targetRev)
	if existing, err := c.backend.GetObject(ctx, pk, 0, 0); err == nil {
		return existing, sha256.Sum256(existing), nil
	}

	source, err := c.backend.GetObject(ctx, bodyKey(quickKey, sourceRev), 0, 0)
	if err != nil {
		return nil, [32]byte{}, objerrors.NotFound("s3transport", "no body at source revision for "+quickKey)
	}
	target, err := c.backend.GetObject(ctx, bodyKey(quickKey, targetRev), 0, 0)
	if err != nil {
		return nil, [32]byte{}, objerrors.NotFound("s3transport", "no body at target revision for "+quickKey)
	}

	var buf bytes.Buffer
	if err := binarydist.Diff(bytes.NewReader(source), bytes.NewReader(target), &buf); err != nil {
		return nil, [32]byte{}, objerrors.IOError("s3transport", "diff revisions of "+quickKey).WithDetail("cause", err.Error())
	}
	patch := buf.Bytes()
	if err := c.backend.PutObject(ctx, pk, patch); err != nil {
		return nil, [32]byte{}, objerrors.Remote("s3transport", "cache patch for "+quickKey, 0).WithDetail("cause", err.Error())
	}
	return patch, sha256.Sum256(patch), nil
}

func (c *Client) Download(ctx context.Context, url string, w io.Writer) error {
	if !strings.HasPrefix(url, urlScheme) {
		return objerrors.Unsupported("s3transport", "unrecognized download url scheme: "+url)
	}
	key := strings.TrimPrefix(url, urlScheme)
	data, err := c.backend.GetObject(ctx, key, 0, 0)
	if err != nil {
		if isNotFound(err) {
			return objerrors.NotFound("s3transport", "no such object "+key)
		}
		return objerrors.Remote("s3transport", "download "+key, 0).WithDetail("cause", err.Error())
	}
	if _, err := w.Write(data); err != nil {
		return objerrors.IOError("s3transport", "write downloaded body for "+key).WithDetail("cause", err.Error())
	}
	return nil
}

func (c *Client) UploadFile(ctx context.Context, folderKeyArg string, filename string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", objerrors.IOError("s3transport", "read upload body for "+filename).WithDetail("cause", err.Error())
	}
	hash := sha256.Sum256(data)

	ik := indexKey(false, folderKeyArg, filename)
	var existing struct{ Key string }
	quickKey := ""
	if err := c.getJSON(ctx, ik, &existing); err == nil {
		quickKey = existing.Key
	} else {
		quickKey = newKey()
	}

	var rec fileRecord
	created := time.Now()
	if quickKey != "" {
		if err := c.getJSON(ctx, fileKey(quickKey), &rec); err == nil {
			created = rec.Created
		}
	}

	rev, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFile, Key: quickKey, Parent: folderKeyArg})
	if err != nil {
		return "", err
	}

	if err := c.backend.PutObject(ctx, bodyKey(quickKey, rev), data); err != nil {
		return "", objerrors.Remote("s3transport", "upload_file store body for "+filename, 0).WithDetail("cause", err.Error())
	}
	if err := c.putJSON(ctx, historyKey(quickKey, rev), historyRecord{Hash: hash, Size: uint64(len(data))}); err != nil {
		return "", err
	}
	rec = fileRecord{Name: filename, Parent: folderKeyArg, Hash: hash, Size: uint64(len(data)), Revision: rev, Created: created}
	if err := c.putJSON(ctx, fileKey(quickKey), rec); err != nil {
		return "", err
	}
	if err := c.putJSON(ctx, ik, struct{ Key string }{Key: quickKey}); err != nil {
		return "", err
	}
	if err := c.backend.PutObject(ctx, childMarker(folderKeyArg, "files", quickKey), []byte{}); err != nil {
		return "", objerrors.Remote("s3transport", "upload_file index for "+filename, 0).WithDetail("cause", err.Error())
	}
	return quickKey, nil
}

func (c *Client) UploadPatch(ctx context.Context, quickKey string, sourceHash, targetHash [32]byte, targetSize uint64, patch io.Reader) (string, error) {
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(quickKey), &rec); err != nil {
		return "", err
	}
	if rec.Hash != sourceHash {
		return "", objerrors.Transient("s3transport", "upload_patch source hash mismatch for "+quickKey)
	}

	current, err := c.backend.GetObject(ctx, bodyKey(quickKey, rec.Revision), 0, 0)
	if err != nil {
		return "", objerrors.NotFound("s3transport", "no current body for "+quickKey)
	}
	patchData, err := io.ReadAll(patch)
	if err != nil {
		return "", objerrors.IOError("s3transport", "read patch body for "+quickKey).WithDetail("cause", err.Error())
	}

	var target bytes.Buffer
	if err := binarydist.Patch(bytes.NewReader(current), &target, bytes.NewReader(patchData)); err != nil {
		return "", objerrors.Corrupt("s3transport", "apply patch for "+quickKey).WithDetail("cause", err.Error())
	}
	newBody := target.Bytes()
	if sha256.Sum256(newBody) != targetHash || uint64(len(newBody)) != targetSize {
		return "", objerrors.Corrupt("s3transport", "patched body hash/size mismatch for "+quickKey)
	}

	rev, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFile, Key: quickKey, Parent: rec.Parent})
	if err != nil {
		return "", err
	}
	if err := c.backend.PutObject(ctx, bodyKey(quickKey, rev), newBody); err != nil {
		return "", objerrors.Remote("s3transport", "upload_patch store body for "+quickKey, 0).WithDetail("cause", err.Error())
	}
	if err := c.putJSON(ctx, historyKey(quickKey, rev), historyRecord{Hash: targetHash, Size: targetSize}); err != nil {
		return "", err
	}
	rec.Hash, rec.Size, rec.Revision = targetHash, targetSize, rev
	if err := c.putJSON(ctx, fileKey(quickKey), rec); err != nil {
		return "", err
	}
	return quickKey, nil
}

// PollUpload always reports completion: every write above this method is
// synchronous, so by the time a caller polls, the upload has either already
// succeeded or UploadFile/UploadPatch already returned its error.
func (c *Client) PollUpload(ctx context.Context, uploadKey string) (transport.UploadStatus, error) {
	return transport.UploadStatus{Status: 99}, nil
}

func (c *Client) FileDelete(ctx context.Context, quickKey string) error {
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(quickKey), &rec); err != nil {
		return err
	}
	if _, err := c.bumpRevision(ctx, transport.Change{Kind: transport.DeletedFile, Key: quickKey, Parent: rec.Parent}); err != nil {
		return err
	}
	_ = c.backend.DeleteObject(ctx, fileKey(quickKey))
	_ = c.backend.DeleteObject(ctx, indexKey(false, rec.Parent, rec.Name))
	_ = c.backend.DeleteObject(ctx, childMarker(rec.Parent, "files", quickKey))
	return nil
}

func (c *Client) FolderDelete(ctx context.Context, folderKeyArg string) error {
	var rec folderRecord
	if err := c.getJSON(ctx, folderKey(folderKeyArg), &rec); err != nil {
		return err
	}
	if _, err := c.bumpRevision(ctx, transport.Change{Kind: transport.DeletedFolder, Key: folderKeyArg, Parent: rec.Parent}); err != nil {
		return err
	}
	_ = c.backend.DeleteObject(ctx, folderKey(folderKeyArg))
	_ = c.backend.DeleteObject(ctx, indexKey(true, rec.Parent, rec.Name))
	_ = c.backend.DeleteObject(ctx, childMarker(rec.Parent, "folders", folderKeyArg))
	return nil
}

func (c *Client) FileMove(ctx context.Context, quickKey string, newParent string) error {
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(quickKey), &rec); err != nil {
		return err
	}
	oldParent := rec.Parent
	rec.Parent = newParent
	if _, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFile, Key: quickKey, Parent: newParent}); err != nil {
		return err
	}
	if err := c.putJSON(ctx, fileKey(quickKey), rec); err != nil {
		return err
	}
	_ = c.backend.DeleteObject(ctx, indexKey(false, oldParent, rec.Name))
	_ = c.backend.DeleteObject(ctx, childMarker(oldParent, "files", quickKey))
	if err := c.putJSON(ctx, indexKey(false, newParent, rec.Name), struct{ Key string }{Key: quickKey}); err != nil {
		return err
	}
	return c.backend.PutObject(ctx, childMarker(newParent, "files", quickKey), []byte{})
}

func (c *Client) FolderMove(ctx context.Context, folderKeyArg string, newParent string) error {
	var rec folderRecord
	if err := c.getJSON(ctx, folderKey(folderKeyArg), &rec); err != nil {
		return err
	}
	oldParent := rec.Parent
	rec.Parent = newParent
	if _, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFolder, Key: folderKeyArg, Parent: newParent}); err != nil {
		return err
	}
	if err := c.putJSON(ctx, folderKey(folderKeyArg), rec); err != nil {
		return err
	}
	_ = c.backend.DeleteObject(ctx, indexKey(true, oldParent, rec.Name))
	_ = c.backend.DeleteObject(ctx, childMarker(oldParent, "folders", folderKeyArg))
	if err := c.putJSON(ctx, indexKey(true, newParent, rec.Name), struct{ Key string }{Key: folderKeyArg}); err != nil {
		return err
	}
	return c.backend.PutObject(ctx, childMarker(newParent, "folders", folderKeyArg), []byte{})
}

func (c *Client) FileRename(ctx context.Context, quickKey string, newName string) error {
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(quickKey), &rec); err != nil {
		return err
	}
	oldName := rec.Name
	rec.Name = newName
	if _, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFile, Key: quickKey, Parent: rec.Parent}); err != nil {
		return err
	}
	if err := c.putJSON(ctx, fileKey(quickKey), rec); err != nil {
		return err
	}
	_ = c.backend.DeleteObject(ctx, indexKey(false, rec.Parent, oldName))
	return c.putJSON(ctx, indexKey(false, rec.Parent, newName), struct{ Key string }{Key: quickKey})
}

func (c *Client) FolderRename(ctx context.Context, folderKeyArg string, newName string) error {
	var rec folderRecord
	if err := c.getJSON(ctx, folderKey(folderKeyArg), &rec); err != nil {
		return err
	}
	oldName := rec.Name
	rec.Name = newName
	if _, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFolder, Key: folderKeyArg, Parent: rec.Parent}); err != nil {
		return err
	}
	if err := c.putJSON(ctx, folderKey(folderKeyArg), rec); err != nil {
		return err
	}
	_ = c.backend.DeleteObject(ctx, indexKey(true, rec.Parent, oldName))
	return c.putJSON(ctx, indexKey(true, rec.Parent, newName), struct{ Key string }{Key: folderKeyArg})
}

func (c *Client) FolderCreate(ctx context.Context, parentKey string, name string) (string, error) {
	key := newKey()
	rev, err := c.bumpRevision(ctx, transport.Change{Kind: transport.UpdatedFolder, Key: key, Parent: parentKey})
	if err != nil {
		return "", err
	}
	rec := folderRecord{Name: name, Parent: parentKey, Revision: rev, Created: time.Now()}
	if err := c.putJSON(ctx, folderKey(key), rec); err != nil {
		return "", err
	}
	if err := c.putJSON(ctx, indexKey(true, parentKey, name), struct{ Key string }{Key: key}); err != nil {
		return "", err
	}
	if err := c.backend.PutObject(ctx, childMarker(parentKey, "folders", key), []byte{}); err != nil {
		return "", objerrors.Remote("s3transport", "folder_create index for "+name, 0).WithDetail("cause", err.Error())
	}
	return key, nil
}

// CheckHash reports what this bucket knows about filename within folderKey.
// Unlike a real account-wide dedup index, this mock only ever recognizes a
// hash match at the exact path being checked: it keeps no global
// content-hash table, so HashExists is always false for content stored under
// a different name or folder.
func (c *Client) CheckHash(ctx context.Context, folderKeyArg, filename string, hash [32]byte, size uint64) (transport.HashCheck, error) {
	var existing struct{ Key string }
	if err := c.getJSON(ctx, indexKey(false, folderKeyArg, filename), &existing); err != nil {
		return transport.HashCheck{}, nil
	}
	var rec fileRecord
	if err := c.getJSON(ctx, fileKey(existing.Key), &rec); err != nil {
		return transport.HashCheck{}, nil
	}
	same := rec.Hash == hash && rec.Size == size
	return transport.HashCheck{
		HashExists:    same,
		InAccount:     true,
		FileExists:    true,
		DifferentHash: !same,
	}, nil
}

// RefreshToken is a no-op: the AWS SDK v2 credential chain underneath
// internal/storage/s3.Backend refreshes its own session credentials, and
// this transport carries no separate signature/session token of its own.
func (c *Client) RefreshToken(ctx context.Context) error { return nil }
