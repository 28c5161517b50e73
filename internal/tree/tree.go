// Package tree implements the in-memory directory tree mirror: a hashtable
// of Entry records keyed by opaque remote key, with parent/child links
// expressed as key references rather than live pointers, and a monotonic
// tree revision advanced exclusively by the reconciler.
package tree

import (
	"strings"
	"sync"
	"time"

	objerrors "github.com/objectfs/objectfs/pkg/errors"
)

// numBuckets is 36^3: folder and file keys are base-36 strings, and bucketing
// on the first three characters gives a near-uniform distribution without
// computing a general hash.
const numBuckets = 46656

// Kind discriminates a file Entry from a folder Entry. Carried explicitly
// instead of inferring it from a nonzero atime field, per design note: the
// source used atime!=0 as a type tag, which this implementation replaces
// with a proper sum-type discriminant.
type Kind int

const (
	KindFolder Kind = iota
	KindFile
)

// Key is the opaque remote identifier for an Entry: 13 characters for
// folders, 15 (or 11 for legacy files) for files. The empty key denotes the
// root.
type Key string

// Entry is the uniform record for both files and folders.
type Entry struct {
	Key      Key
	Kind     Kind
	Name     string
	Revision uint64
	Created  time.Time

	// Folder-only.
	Children []Key

	// File-only.
	Hash [32]byte
	Size uint64

	visited bool
}

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool { return e.Kind == KindFolder }

// clone returns a deep copy safe to hand to callers outside the tree's lock.
func (e *Entry) clone() *Entry {
	c := *e
	if e.Children != nil {
		c.Children = append([]Key(nil), e.Children...)
	}
	return &c
}

// FileRecord is the payload for add_or_update_file.
type FileRecord struct {
	Key      Key
	Name     string
	Revision uint64
	Created  time.Time
	Hash     [32]byte
	Size     uint64
}

// FolderRecord is the payload for add_or_update_folder.
type FolderRecord struct {
	Key      Key
	Name     string
	Revision uint64
	Created  time.Time
}

// Tree is a hashtable-backed mirror of the remote directory hierarchy.
// Safe for concurrent use: each method takes the tree's own lock, except
// ReplaceFrom, whose caller holds Lock/Unlock around it.
type Tree struct {
	mu       sync.RWMutex
	buckets  [numBuckets][]*Entry
	byKey    map[Key]*Entry // fast membership/lookup, shares pointers with buckets
	root     *Entry
	revision uint64
}

// New creates an empty tree with a bare root entry.
func New() *Tree {
	t := &Tree{
		byKey: make(map[Key]*Entry),
		root: &Entry{
			Kind: KindFolder,
		},
	}
	return t
}

// Lock/Unlock expose the tree's mutex for ReplaceFrom's caller (the
// reconciler loading a snapshot). The lock is not reentrant, so it must not
// be held across calls to the tree's other methods, which lock it themselves.
// The content cache and the open-file registry each guard their own state
// with a separate mutex.
func (t *Tree) Lock()   { t.mu.Lock() }
func (t *Tree) Unlock() { t.mu.Unlock() }

func bucketIndex(key Key) int {
	s := string(key)
	idx := 0
	for i := 0; i < 3 && i < len(s); i++ {
		idx = idx*36 + base36Value(s[i])
	}
	return idx % numBuckets
}

func base36Value(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 0
	}
}

// Root returns a copy of the root entry.
func (t *Tree) Root() *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.clone()
}

// LookupKey resolves an Entry by key; Key("") returns the root.
func (t *Tree) LookupKey(key Key) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookupKeyLocked(key)
}

func (t *Tree) lookupKeyLocked(key Key) (*Entry, error) {
	if key == "" {
		return t.root.clone(), nil
	}
	if e, ok := t.byKey[key]; ok {
		return e.clone(), nil
	}
	return nil, objerrors.NotFound("tree", "no entry for key "+string(key))
}

// ErrNotADirectoryInMiddle is returned by LookupPath when a non-terminal
// path component resolves to a file.
var ErrNotADirectoryInMiddle = objerrors.NotFound("tree", "path component is not a directory")

// LookupPath resolves a "/"-separated path starting at the root. Traversal
// stops with ErrNotADirectoryInMiddle if a non-terminal component names a file.
func (t *Tree) LookupPath(path string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !strings.HasPrefix(path, "/") {
		return nil, objerrors.NotFound("tree", "path must begin with /")
	}
	cur := t.root
	segments := splitPath(path)
	for i, seg := range segments {
		child, err := t.findChildLocked(cur, seg)
		if err != nil {
			return nil, err
		}
		if child.Kind == KindFile && i != len(segments)-1 {
			return nil, objerrors.NotFound("tree", "non-terminal component "+seg+" is a file").
				WithCause(ErrNotADirectoryInMiddle)
		}
		cur = child
	}
	return cur.clone(), nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (t *Tree) findChildLocked(parent *Entry, name string) (*Entry, error) {
	for _, ck := range parent.Children {
		child, ok := t.byKey[ck]
		if !ok {
			continue
		}
		if child.Name == name {
			return child, nil
		}
	}
	return nil, objerrors.NotFound("tree", "no child named "+name)
}

// AddOrUpdateFile inserts a new file Entry or updates an existing one
// in-place, preserving nothing file-specific beyond what's passed (atime is
// not tracked; see design notes).
func (t *Tree) AddOrUpdateFile(rec FileRecord) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byKey[rec.Key]; ok {
		e.Name = rec.Name
		e.Revision = rec.Revision
		e.Hash = rec.Hash
		e.Size = rec.Size
		e.Created = rec.Created
		return e.clone()
	}
	e := &Entry{
		Key:      rec.Key,
		Kind:     KindFile,
		Name:     rec.Name,
		Revision: rec.Revision,
		Created:  rec.Created,
		Hash:     rec.Hash,
		Size:     rec.Size,
	}
	t.insertLocked(e)
	return e.clone()
}

// AddOrUpdateFolder inserts a new folder Entry or updates an existing one
// in-place.
func (t *Tree) AddOrUpdateFolder(rec FolderRecord) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Key == "" {
		t.root.Name = rec.Name
		t.root.Revision = rec.Revision
		t.root.Created = rec.Created
		return t.root.clone()
	}

	if e, ok := t.byKey[rec.Key]; ok {
		e.Name = rec.Name
		e.Revision = rec.Revision
		e.Created = rec.Created
		return e.clone()
	}
	e := &Entry{
		Key:      rec.Key,
		Kind:     KindFolder,
		Name:     rec.Name,
		Revision: rec.Revision,
		Created:  rec.Created,
	}
	t.insertLocked(e)
	return e.clone()
}

func (t *Tree) insertLocked(e *Entry) {
	idx := bucketIndex(e.Key)
	t.buckets[idx] = append(t.buckets[idx], e)
	t.byKey[e.Key] = e
}

// SetChildren replaces a folder's children list with the keys given. It does
// not remove the referenced entries from the tree; they remain owned by the
// tree as a whole and may be children of more than one folder during a move.
func (t *Tree) SetChildren(folderKey Key, children []Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	folder := t.root
	if folderKey != "" {
		e, ok := t.byKey[folderKey]
		if !ok {
			return objerrors.NotFound("tree", "no folder for key "+string(folderKey))
		}
		folder = e
	}
	if folder.Kind != KindFolder {
		return objerrors.NotFound("tree", "key "+string(folderKey)+" is not a folder")
	}

	deduped := make([]Key, 0, len(children))
	seen := make(map[Key]struct{}, len(children))
	for _, c := range children {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}
	folder.Children = deduped
	return nil
}

// Remove deletes the Entry for key along with its own children slice. It
// does not touch any dangling references to it that remain in other
// folders' children lists; the reconciler's housekeep sweep cleans those.
func (t *Tree) Remove(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(key)
}

func (t *Tree) removeLocked(key Key) {
	e, ok := t.byKey[key]
	if !ok {
		return
	}
	idx := bucketIndex(key)
	bucket := t.buckets[idx]
	for i, cand := range bucket {
		if cand.Key == key {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	delete(t.byKey, key)
	_ = e
}

// Revision returns the tree's current device revision.
func (t *Tree) Revision() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revision
}

// SetRevision sets the tree's current device revision. Only the reconciler
// calls this, and only after a batch applies in full.
func (t *Tree) SetRevision(rev uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revision = rev
}

// Clear removes every entry and resets children, used by full_rebuild before
// the recursive remote walk repopulates the tree.
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buckets {
		t.buckets[i] = nil
	}
	t.byKey = make(map[Key]*Entry)
	t.root = &Entry{Kind: KindFolder}
}

// ReplaceFrom overwrites the tree's buckets, hashtable, root and revision
// with src's, for a reconciler warm-starting from Load'ed snapshot. Callers
// must already hold the tree's lock (see Lock/Unlock); src must not be
// accessed concurrently by anything else.
func (t *Tree) ReplaceFrom(src *Tree) {
	t.buckets = src.buckets
	t.byKey = src.byKey
	t.root = src.root
	t.revision = src.revision
}

// AllKeys returns every key currently present, used by the housekeeping
// sweep. The root is not included (it has no key).
func (t *Tree) AllKeys() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]Key, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	return keys
}

// markVisited recursively marks reachable entries, mirroring the source's
// mark_visited walk: folders recurse into their children, files are leaves.
func (t *Tree) markVisitedLocked(e *Entry, seen map[Key]bool) {
	if e.Kind != KindFolder {
		return
	}
	for _, ck := range e.Children {
		if seen[ck] {
			continue
		}
		child, ok := t.byKey[ck]
		if !ok {
			continue
		}
		seen[ck] = true
		child.visited = true
		t.markVisitedLocked(child, seen)
	}
}

// Housekeep performs a mark-and-sweep GC over the hashtable rooted at the
// tree root. An unmarked entry is removed only if its own revision differs
// from the tree's current revision -- entries at the current revision are
// presumed to be mid-move (the source parent's children list already
// dropped them, the destination parent's hasn't picked them up yet) and are
// protected from collection until the next sweep observes them unreferenced
// at an older revision.
func (t *Tree) Housekeep() (removed []Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, bucket := range t.buckets {
		for _, e := range bucket {
			e.visited = false
		}
	}

	seen := make(map[Key]bool)
	t.markVisitedLocked(t.root, seen)

	currentRev := t.revision
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			if e.visited {
				continue
			}
			if e.Revision == currentRev {
				continue
			}
			removed = append(removed, e.Key)
		}
	}
	for _, k := range removed {
		t.removeLocked(k)
	}
	return removed
}

// PathExists reports whether path resolves to an Entry.
func (t *Tree) PathExists(path string) bool {
	_, err := t.LookupPath(path)
	return err == nil
}

// PathIsDirectory reports whether path resolves to a folder. Returns false
// (not an error) if path does not resolve.
func (t *Tree) PathIsDirectory(path string) bool {
	e, err := t.LookupPath(path)
	if err != nil {
		return false
	}
	return e.Kind == KindFolder
}

// PathIsFile reports whether path resolves to a file.
func (t *Tree) PathIsFile(path string) bool {
	e, err := t.LookupPath(path)
	if err != nil {
		return false
	}
	return e.Kind == KindFile
}

// PathIsRoot reports whether path names the root ("/" or "").
func (t *Tree) PathIsRoot(path string) bool {
	return path == "/" || path == ""
}

// PathGetKey resolves path to its entry's key, or "" for the root.
func (t *Tree) PathGetKey(path string) (Key, error) {
	e, err := t.LookupPath(path)
	if err != nil {
		return "", err
	}
	return e.Key, nil
}

// ListChildren resolves path to a folder and returns its direct children as
// fully-resolved Entry copies, skipping any dangling keys a concurrent
// housekeep sweep has already removed.
func (t *Tree) ListChildren(path string) ([]*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !strings.HasPrefix(path, "/") {
		return nil, objerrors.NotFound("tree", "path must begin with /")
	}
	cur := t.root
	for _, seg := range splitPath(path) {
		child, err := t.findChildLocked(cur, seg)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	if cur.Kind != KindFolder {
		return nil, objerrors.NotFound("tree", "path is not a directory: "+path)
	}

	out := make([]*Entry, 0, len(cur.Children))
	for _, ck := range cur.Children {
		if e, ok := t.byKey[ck]; ok {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

// PathGetNumChildren returns the number of children for the folder at path.
func (t *Tree) PathGetNumChildren(path string) (int, error) {
	e, err := t.LookupPath(path)
	if err != nil {
		return 0, err
	}
	return len(e.Children), nil
}

// IsParentOf reports whether candidate already appears in parent's children,
// by key identity -- used while rebuilding to avoid duplicate child entries.
func (t *Tree) IsParentOf(parent *Entry, candidate Key) bool {
	for _, c := range parent.Children {
		if c == candidate {
			return true
		}
	}
	return false
}
