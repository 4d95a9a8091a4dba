package cache

import (
	"context"
	"fmt"
	"io"

	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/retrieval"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

const contentType = "application/octet-stream"

// Gateway keeps materialized objects in a blob bucket keyed "<vault>/<archive>".
type Gateway struct {
	bucket *blob.Bucket
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket) *Gateway {
	return &Gateway{bucket: bucket}
}

// OpenDir opens a directory-backed cache, creating root if needed.
func OpenDir(root string) (*Gateway, error) {
	bucket, err := fileblob.OpenBucket(root, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("open cache dir %s: %w", root, err)
	}
	return New(bucket), nil
}

// OpenURL opens a cache from a bucket URL such as "mem://" or "file:///var/cache/coldgate".
func OpenURL(ctx context.Context, url string) (*Gateway, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", url, err)
	}
	return New(bucket), nil
}

func (g *Gateway) Close() error {
	return g.bucket.Close()
}

func key(obj retrieval.ObjectID) string {
	return obj.String()
}

func (g *Gateway) Exists(ctx context.Context, obj retrieval.ObjectID) (bool, error) {
	ok, err := g.bucket.Exists(ctx, key(obj))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", obj, err)
	}
	return ok, nil
}

// Open returns a reader over the cached object or retrieval.ErrNotFound.
func (g *Gateway) Open(ctx context.Context, obj retrieval.ObjectID) (io.ReadCloser, error) {
	r, err := g.bucket.NewReader(ctx, key(obj), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, retrieval.ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", obj, err)
	}
	return r, nil
}

// Put streams r into the cache. The object only becomes visible once the copy
// completes; a failed or cancelled copy leaves nothing behind.
func (g *Gateway) Put(ctx context.Context, obj retrieval.ObjectID, r io.Reader) (int64, error) {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := g.bucket.NewWriter(writeCtx, key(obj), &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", obj, err)
	}
	n, copyErr := io.Copy(w, r)
	if copyErr == nil {
		copyErr = ctx.Err()
	}
	if copyErr != nil {
		// Cancelling before Close aborts the write.
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("write %s: %w", obj, copyErr)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("commit %s: %w", obj, err)
	}
	logging.Debug("cache", "object stored", "object", obj, "bytes", n)
	return n, nil
}

// Delete removes the cached object. Deleting an absent object is not an error.
func (g *Gateway) Delete(ctx context.Context, obj retrieval.ObjectID) error {
	err := g.bucket.Delete(ctx, key(obj))
	if err == nil || gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return fmt.Errorf("delete %s: %w", obj, err)
}
