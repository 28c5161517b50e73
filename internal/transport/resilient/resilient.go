// Package resilient wraps a transport.Client with the bounded retry and
// circuit-breaker policy transport.Client's doc comment delegates to
// implementors: Transient failures get retried with backoff, and a remote
// that keeps failing trips a breaker so the mirror core stops hammering it.
package resilient

import (
	"context"
	stderr "errors"
	"io"
	"time"

	"github.com/objectfs/objectfs/internal/circuit"
	"github.com/objectfs/objectfs/internal/transport"
	"github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/retry"
)

// Client decorates a transport.Client with retry-with-backoff and a circuit
// breaker. RefreshToken is called automatically between retries of a
// signature-desync Transient error, mirroring the real remote's signature
// token scheme.
type Client struct {
	inner   transport.Client
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
}

// Config controls the retry and circuit-breaker policy applied to every call.
type Config struct {
	Retry   retry.Config
	Circuit circuit.Config
}

// DefaultConfig returns the retry/circuit-breaker policy used when the
// adapter doesn't override it: five attempts with jittered exponential
// backoff, and a breaker that opens once half of twenty calls fail.
func DefaultConfig() Config {
	return Config{
		Retry:   retry.DefaultConfig(),
		Circuit: circuit.Config{MaxRequests: 1, Interval: 30 * time.Second, Timeout: 15 * time.Second},
	}
}

// New wraps inner with the given policy, naming its circuit breaker after
// the remote it is protecting (used only for CircuitBreakerStats reporting).
func New(inner transport.Client, name string, cfg Config) *Client {
	return &Client{
		inner:   inner,
		retryer: retry.New(cfg.Retry),
		breaker: circuit.NewCircuitBreaker(name, cfg.Circuit),
	}
}

// call runs fn through the circuit breaker, retrying Transient failures and
// refreshing the signature token between attempts.
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	return c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			err := fn(ctx)
			if err == nil {
				return nil
			}
			var objErr *errors.ObjectFSError
			if stderr.As(err, &objErr) && objErr.Code == errors.ErrCodeMirrorTransient {
				_ = c.inner.RefreshToken(ctx)
			}
			return err
		})
	})
}

func (c *Client) GetStatus(ctx context.Context) (revision uint64, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		revision, err = c.inner.GetStatus(ctx)
		return err
	})
	return
}

func (c *Client) GetChanges(ctx context.Context, sinceRevision uint64) (out []transport.Change, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetChanges(ctx, sinceRevision)
		return err
	})
	return
}

func (c *Client) GetFolderInfo(ctx context.Context, folderKey string) (out transport.FolderInfo, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetFolderInfo(ctx, folderKey)
		return err
	})
	return
}

func (c *Client) GetFolderContent(ctx context.Context, folderKey string, kind transport.ContentKind) (out []string, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetFolderContent(ctx, folderKey, kind)
		return err
	})
	return
}

func (c *Client) GetFileInfo(ctx context.Context, quickKey string) (out transport.FileInfo, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetFileInfo(ctx, quickKey)
		return err
	})
	return
}

func (c *Client) GetFileLinks(ctx context.Context, quickKey string) (out transport.FileLinks, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetFileLinks(ctx, quickKey)
		return err
	})
	return
}

func (c *Client) GetUpdates(ctx context.Context, quickKey string, sourceRev, targetRev uint64) (out []transport.Patch, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetUpdates(ctx, quickKey, sourceRev, targetRev)
		return err
	})
	return
}

func (c *Client) GetPatch(ctx context.Context, quickKey string, sourceRev, targetRev uint64) (out transport.PatchLink, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.GetPatch(ctx, quickKey, sourceRev, targetRev)
		return err
	})
	return
}

// Download is not retried through the breaker: w may have already received
// partial bytes by the time an error surfaces, and replaying into it would
// duplicate output. Callers that need a clean retry should re-seek w first.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) error {
	return c.inner.Download(ctx, url, w)
}

func (c *Client) UploadFile(ctx context.Context, folderKey, filename string, body io.Reader) (uploadKey string, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		uploadKey, err = c.inner.UploadFile(ctx, folderKey, filename, body)
		return err
	})
	return
}

func (c *Client) UploadPatch(ctx context.Context, quickKey string, sourceHash, targetHash [32]byte, targetSize uint64, patch io.Reader) (uploadKey string, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		uploadKey, err = c.inner.UploadPatch(ctx, quickKey, sourceHash, targetHash, targetSize, patch)
		return err
	})
	return
}

func (c *Client) PollUpload(ctx context.Context, uploadKey string) (out transport.UploadStatus, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.PollUpload(ctx, uploadKey)
		return err
	})
	return
}

func (c *Client) FileDelete(ctx context.Context, quickKey string) error {
	return c.call(ctx, func(ctx context.Context) error { return c.inner.FileDelete(ctx, quickKey) })
}

func (c *Client) FolderDelete(ctx context.Context, folderKey string) error {
	return c.call(ctx, func(ctx context.Context) error { return c.inner.FolderDelete(ctx, folderKey) })
}

func (c *Client) FileMove(ctx context.Context, quickKey, newParent string) error {
	return c.call(ctx, func(ctx context.Context) error { return c.inner.FileMove(ctx, quickKey, newParent) })
}

func (c *Client) FolderMove(ctx context.Context, folderKey, newParent string) error {
	return c.call(ctx, func(ctx context.Context) error { return c.inner.FolderMove(ctx, folderKey, newParent) })
}

func (c *Client) FileRename(ctx context.Context, quickKey, newName string) error {
	return c.call(ctx, func(ctx context.Context) error { return c.inner.FileRename(ctx, quickKey, newName) })
}

func (c *Client) FolderRename(ctx context.Context, folderKey, newName string) error {
	return c.call(ctx, func(ctx context.Context) error { return c.inner.FolderRename(ctx, folderKey, newName) })
}

func (c *Client) FolderCreate(ctx context.Context, parentKey, name string) (folderKey string, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		folderKey, err = c.inner.FolderCreate(ctx, parentKey, name)
		return err
	})
	return
}

func (c *Client) CheckHash(ctx context.Context, folderKey, filename string, hash [32]byte, size uint64) (out transport.HashCheck, err error) {
	err = c.call(ctx, func(ctx context.Context) error {
		out, err = c.inner.CheckHash(ctx, folderKey, filename, hash, size)
		return err
	})
	return
}

func (c *Client) RefreshToken(ctx context.Context) error {
	return c.inner.RefreshToken(ctx)
}

// State reports the breaker's current state, surfaced by pkg/api's status
// endpoint.
func (c *Client) State() circuit.State {
	return c.breaker.GetState()
}

var _ transport.Client = (*Client)(nil)
