package cache

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cordum/coldgate/core/retrieval"
)

var obj = retrieval.ObjectID{Vault: "photos", Archive: "arch-1"}

func openMem(t *testing.T) *Gateway {
	t.Helper()
	g, err := OpenURL(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open mem bucket: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	g := openMem(t)

	if ok, err := g.Exists(ctx, obj); err != nil || ok {
		t.Fatalf("expected empty cache, got %v %v", ok, err)
	}
	if _, err := g.Open(ctx, obj); !errors.Is(err, retrieval.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	n, err := g.Put(ctx, obj, strings.NewReader("archive bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n != int64(len("archive bytes")) {
		t.Fatalf("unexpected size %d", n)
	}
	if ok, _ := g.Exists(ctx, obj); !ok {
		t.Fatalf("expected object to exist")
	}
	rc, err := g.Open(ctx, obj)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "archive bytes" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := g.Delete(ctx, obj); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := g.Delete(ctx, obj); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if ok, _ := g.Exists(ctx, obj); ok {
		t.Fatalf("expected object gone")
	}
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestPutFailureLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	g := openMem(t)
	if _, err := g.Put(ctx, obj, &failingReader{}); err == nil {
		t.Fatalf("expected put error")
	}
	if ok, _ := g.Exists(ctx, obj); ok {
		t.Fatalf("failed put must not leave a partial object")
	}
}

type cancelReader struct {
	cancel context.CancelFunc
	sent   bool
}

func (r *cancelReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, io.EOF
	}
	r.sent = true
	r.cancel()
	return copy(p, "bytes after cancel"), nil
}

func TestPutCancelledLeavesNoEntry(t *testing.T) {
	g := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := g.Put(ctx, obj, &cancelReader{cancel: cancel}); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if ok, _ := g.Exists(context.Background(), obj); ok {
		t.Fatalf("cancelled put must not leave an object")
	}
}

func TestOpenDir(t *testing.T) {
	ctx := context.Background()
	g, err := OpenDir(t.TempDir() + "/cache")
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	defer g.Close()
	if _, err := g.Put(ctx, obj, strings.NewReader("on disk")); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := g.Open(ctx, obj)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "on disk" {
		t.Fatalf("unexpected content %q", data)
	}
}
