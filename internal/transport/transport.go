// Package transport defines the remote API surface the mirror core consumes.
// Per spec scope, the wire-level protocol (signed requests, JSON decoding)
// is a collaborator's concern; this package specifies only the operations
// named by the core, at the behavioral level.
package transport

import (
	"context"
	"io"
	"time"
)

// ChangeKind discriminates an entry in a change-log batch.
type ChangeKind int

const (
	UpdatedFile ChangeKind = iota
	UpdatedFolder
	DeletedFile
	DeletedFolder
)

// Change is one entry in an ordered change-log batch.
type Change struct {
	Kind     ChangeKind
	Key      string
	Parent   string
	Revision uint64
}

// FolderInfo mirrors get_folder_info's result shape.
type FolderInfo struct {
	Key      string
	Name     string
	Parent   string
	Revision uint64
	Created  time.Time
}

// FileInfo mirrors get_file_info's result shape.
type FileInfo struct {
	Key      string
	Name     string
	Hash     [32]byte
	Size     uint64
	Revision uint64
	Created  time.Time
}

// ContentKind selects folders or files when listing a folder's content.
type ContentKind int

const (
	ContentFolders ContentKind = iota
	ContentFiles
)

// FileLinks mirrors get_file_links.
type FileLinks struct {
	DirectDownloadURL string
	ShareURL          string
	OnetimeURL        string
}

// Patch describes one entry of an get_updates patch chain.
type Patch struct {
	SourceRevision uint64
	TargetRevision uint64
	SourceHash     [32]byte
	TargetHash     [32]byte
	PatchHash      [32]byte
}

// PatchLink mirrors get_patch's result.
type PatchLink struct {
	PatchURL  string
	PatchHash [32]byte
}

// UploadStatus mirrors poll_upload's result; Done is true once Status == 99.
type UploadStatus struct {
	Status    int
	FileError string
}

func (s UploadStatus) Done() bool { return s.Status == 99 }

// HashCheck mirrors check_hash's result.
type HashCheck struct {
	HashExists  bool
	InAccount   bool
	FileExists  bool
	DifferentHash bool
}

// Client is the behavioral remote API the mirror core depends on. Every
// method corresponds 1:1 to an operation named in spec.md §6. Implementors
// are responsible for retry-with-backoff on Transient failures and for
// refreshing a desynced signature token between attempts; callers treat a
// returned error as final.
type Client interface {
	GetStatus(ctx context.Context) (revision uint64, err error)
	GetChanges(ctx context.Context, sinceRevision uint64) ([]Change, error)
	GetFolderInfo(ctx context.Context, folderKey string) (FolderInfo, error)
	GetFolderContent(ctx context.Context, folderKey string, kind ContentKind) ([]string, error)
	GetFileInfo(ctx context.Context, quickKey string) (FileInfo, error)
	GetFileLinks(ctx context.Context, quickKey string) (FileLinks, error)
	GetUpdates(ctx context.Context, quickKey string, sourceRev uint64, targetRev uint64) ([]Patch, error)
	GetPatch(ctx context.Context, quickKey string, sourceRev, targetRev uint64) (PatchLink, error)
	Download(ctx context.Context, url string, w io.Writer) error

	UploadFile(ctx context.Context, folderKey string, filename string, body io.Reader) (uploadKey string, err error)
	UploadPatch(ctx context.Context, quickKey string, sourceHash, targetHash [32]byte, targetSize uint64, patch io.Reader) (uploadKey string, err error)
	PollUpload(ctx context.Context, uploadKey string) (UploadStatus, error)

	FileDelete(ctx context.Context, quickKey string) error
	FolderDelete(ctx context.Context, folderKey string) error
	FileMove(ctx context.Context, quickKey string, newParent string) error
	FolderMove(ctx context.Context, folderKey string, newParent string) error
	FileRename(ctx context.Context, quickKey string, newName string) error
	FolderRename(ctx context.Context, folderKey string, newName string) error
	FolderCreate(ctx context.Context, parentKey string, name string) (folderKey string, err error)

	CheckHash(ctx context.Context, folderKey, filename string, hash [32]byte, size uint64) (HashCheck, error)

	// RefreshToken asks the adapter to refresh whatever signed-URL /
	// signature-counter state it maintains, used between retries of a
	// Transient signature-desync error.
	RefreshToken(ctx context.Context) error
}
