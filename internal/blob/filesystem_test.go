package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func newTempFS(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return fs
}

func TestFilesystem_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	fs := newTempFS(t)
	info, err := fs.Put(ctx, "tenant_t1/invoices_2c03/inv_001_585d29.pdf", bytes.NewReader([]byte("hello")), PutOptions{ContentType: "application/pdf", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "tenant_t1/invoices_2c03/inv_001_585d29.pdf" || info.Size != 5 {
		t.Fatalf("unexpected info %+v", info)
	}
	// create-only: a second put on the same key must fail
	if _, err := fs.Put(ctx, info.Key, bytes.NewReader([]byte("x")), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate failure")
	}
	h, err := fs.Head(ctx, info.Key)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if h.ETag == "" || h.ContentType != "application/pdf" || h.Metadata["k"] != "v" {
		t.Fatalf("head info %+v", h)
	}
	g, rc, err := fs.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts")
	}
	list, err := fs.List(ctx, "tenant_t1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != info.Key {
		t.Fatalf("list %+v", list)
	}
	// another tenant's prefix sees nothing
	if list, _ := fs.List(ctx, "tenant_t2/"); len(list) != 0 {
		t.Fatalf("cross-prefix leak: %+v", list)
	}
	ok, err := fs.Delete(ctx, info.Key)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	ok, err = fs.Delete(ctx, info.Key)
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v", ok, err)
	}
}

func TestFilesystem_PathTraversal(t *testing.T) {
	ctx := context.Background()
	fs := newTempFS(t)
	for _, key := range []string{"", "../escape", "/abs", "a/../../b"} {
		if _, err := fs.Put(ctx, key, bytes.NewReader(nil), PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}
