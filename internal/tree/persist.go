package tree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	objerrors "github.com/objectfs/objectfs/pkg/errors"
)

// On-disk tree snapshot layout, per spec.md §6: magic "MFS", a version byte,
// the device revision, an entry count N, N fixed-size entry records (with
// visited and the live Children slice elided, per the spec's "zeroed"
// note), then N child-index arrays, each prefixed by its owning entry's
// child count, each element an index into the entry array written above.
// Reload's tree.revision is the snapshotted value; the reconciler is
// expected to call Refresh immediately after to catch up on anything that
// changed remotely since the snapshot was taken.
const (
	snapshotMagic   = "MFS"
	snapshotVersion = 0

	maxKeyLen  = 15
	maxNameLen = 255
)

// entryRecord is the fixed-size on-disk shape of an Entry. Kind is an
// addition beyond the fields spec.md lists (key, name, revision, created,
// hash, size, atime, num_children): this implementation dropped the
// atime-sign type tag in favor of an explicit Kind field (see tree.go), and
// the snapshot format carries that same discriminant instead of atime,
// which this package never populates.
type entryRecord struct {
	Key         [maxKeyLen]byte
	Name        [maxNameLen]byte
	Revision    uint64
	Created     int64 // UnixNano
	Hash        [32]byte
	Size        uint64
	Kind        uint8
	NumChildren uint64
}

// Snapshot writes the tree to w in the binary layout above. Safe for
// concurrent use with other tree operations; it holds only a read lock.
func (t *Tree) Snapshot(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]*Entry, 0, len(t.byKey)+1)
	index := make(map[Key]uint64, len(t.byKey)+1)
	entries = append(entries, t.root)
	index[t.root.Key] = 0
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			index[e.Key] = uint64(len(entries))
			entries = append(entries, e)
		}
	}

	if _, err := io.WriteString(w, snapshotMagic); err != nil {
		return objerrors.IOError("tree", "write snapshot magic").WithCause(err)
	}
	if _, err := w.Write([]byte{snapshotVersion}); err != nil {
		return objerrors.IOError("tree", "write snapshot version").WithCause(err)
	}
	if err := binary.Write(w, binary.LittleEndian, t.revision); err != nil {
		return objerrors.IOError("tree", "write device revision").WithCause(err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(entries))); err != nil {
		return objerrors.IOError("tree", "write entry count").WithCause(err)
	}

	for _, e := range entries {
		rec, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return objerrors.IOError("tree", "write entry record").WithCause(err)
		}
	}

	for _, e := range entries {
		childIdx := make([]uint64, 0, len(e.Children))
		for _, ck := range e.Children {
			if idx, ok := index[ck]; ok {
				childIdx = append(childIdx, idx)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(childIdx))); err != nil {
			return objerrors.IOError("tree", "write child count").WithCause(err)
		}
		if len(childIdx) == 0 {
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, childIdx); err != nil {
			return objerrors.IOError("tree", "write child indices").WithCause(err)
		}
	}
	return nil
}

// Load reconstructs a tree from r, as written by Snapshot. It rejects
// mismatched magic or an unknown version, per spec.md §6.
func Load(r io.Reader) (*Tree, error) {
	var magic [len(snapshotMagic)]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, objerrors.IOError("tree", "read snapshot magic").WithCause(err)
	}
	if string(magic[:]) != snapshotMagic {
		return nil, objerrors.Corrupt("tree", fmt.Sprintf("bad snapshot magic %q", magic[:]))
	}

	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, objerrors.IOError("tree", "read snapshot version").WithCause(err)
	}
	if version[0] != snapshotVersion {
		return nil, objerrors.Corrupt("tree", fmt.Sprintf("unsupported snapshot version %d", version[0]))
	}

	var revision, count uint64
	if err := binary.Read(r, binary.LittleEndian, &revision); err != nil {
		return nil, objerrors.IOError("tree", "read device revision").WithCause(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, objerrors.IOError("tree", "read entry count").WithCause(err)
	}
	if count == 0 {
		return nil, objerrors.Corrupt("tree", "snapshot has no root entry")
	}

	records := make([]entryRecord, count)
	for i := range records {
		if err := binary.Read(r, binary.LittleEndian, &records[i]); err != nil {
			return nil, objerrors.IOError("tree", "read entry record").WithCause(err)
		}
	}

	entries := make([]*Entry, count)
	for i, rec := range records {
		entries[i] = decodeEntry(rec)
	}

	for i := range entries {
		var numChildren uint64
		if err := binary.Read(r, binary.LittleEndian, &numChildren); err != nil {
			return nil, objerrors.IOError("tree", "read child count").WithCause(err)
		}
		if numChildren == 0 {
			continue
		}
		idxs := make([]uint64, numChildren)
		if err := binary.Read(r, binary.LittleEndian, idxs); err != nil {
			return nil, objerrors.IOError("tree", "read child indices").WithCause(err)
		}
		children := make([]Key, 0, numChildren)
		for _, idx := range idxs {
			if idx >= uint64(len(entries)) {
				return nil, objerrors.Corrupt("tree", "child index out of range")
			}
			children = append(children, entries[idx].Key)
		}
		entries[i].Children = children
	}

	t := &Tree{
		byKey:    make(map[Key]*Entry, len(entries)-1),
		revision: revision,
		root:     entries[0],
	}
	for _, e := range entries[1:] {
		idx := bucketIndex(e.Key)
		t.buckets[idx] = append(t.buckets[idx], e)
		t.byKey[e.Key] = e
	}
	return t, nil
}

func encodeEntry(e *Entry) (entryRecord, error) {
	var rec entryRecord
	if len(e.Key) > maxKeyLen {
		return rec, objerrors.Corrupt("tree", fmt.Sprintf("key %q exceeds snapshot field width", e.Key))
	}
	if len(e.Name) > maxNameLen {
		return rec, objerrors.Corrupt("tree", fmt.Sprintf("name %q exceeds snapshot field width", e.Name))
	}
	copy(rec.Key[:], e.Key)
	copy(rec.Name[:], e.Name)
	rec.Revision = e.Revision
	rec.Created = e.Created.UnixNano()
	rec.Hash = e.Hash
	rec.Size = e.Size
	rec.Kind = uint8(e.Kind)
	rec.NumChildren = uint64(len(e.Children))
	return rec, nil
}

func decodeEntry(rec entryRecord) *Entry {
	return &Entry{
		Key:      Key(bytes.TrimRight(rec.Key[:], "\x00")),
		Name:     string(bytes.TrimRight(rec.Name[:], "\x00")),
		Kind:     Kind(rec.Kind),
		Revision: rec.Revision,
		Created:  time.Unix(0, rec.Created).UTC(),
		Hash:     rec.Hash,
		Size:     rec.Size,
	}
}
