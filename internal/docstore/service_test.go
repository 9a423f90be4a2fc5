package docstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"docex/internal/blob"
	"docex/internal/infra/persistence/sqlite"
	"docex/internal/tenant"
)

// fixture wires a full sqlite stack with a memory object store and a service
// bound to tenant t1 as user u1.
type fixture struct {
	svc   *Service
	blobs *blob.Memory
	entry *tenant.EntryPoint
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	naming := tenant.Naming{DatabaseRoot: t.TempDir()}

	system := tenant.Record{
		TenantID:     tenant.SystemTenantID,
		DisplayName:  "System",
		Strategy:     tenant.StrategyDatabase,
		DatabasePath: naming.ResolveDatabasePath(tenant.SystemTenantID),
		IsSystem:     true,
	}
	backend, err := sqlite.New(system)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	registry := tenant.NewRegistry(backend)
	if err := tenant.NewBootstrapManager(backend, system).Initialize(ctx, "test"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	prov := tenant.NewProvisioner(backend, registry, naming, nil)
	if _, err := prov.Create(ctx, "t1", "Tenant One", "test", ""); err != nil {
		t.Fatalf("provision t1: %v", err)
	}

	router, err := tenant.NewRouter(backend, registry, nil, tenant.RouterOptions{Mode: tenant.ModeExplicit}, nil)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	t.Cleanup(func() { _ = router.CloseAll() })

	entry := tenant.NewEntryPoint(router, true)
	if err := entry.Bind(ctx, tenant.UserContext{UserID: "u1", TenantID: "t1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	blobs := blob.NewMemory()
	svc := NewService(entry, blobs, naming)
	if len(ids) > 0 {
		queue := append([]string(nil), ids...)
		svc.newID = func() string {
			id := queue[0]
			queue = queue[1:]
			return id
		}
	}
	return &fixture{svc: svc, blobs: blobs, entry: entry}
}

func TestResolvedPathsUseStableSuffixes(t *testing.T) {
	f := newFixture(t, "b-2c03", "d-585d29")
	ctx := context.Background()

	basket, err := f.svc.CreateBasket(ctx, "Invoices")
	if err != nil {
		t.Fatalf("CreateBasket: %v", err)
	}
	if basket.StoragePrefix != "tenant_t1/invoices_2c03/" {
		t.Fatalf("basket prefix = %q", basket.StoragePrefix)
	}

	doc, err := f.svc.AddDocument(ctx, basket.ID, "INV 001", "pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if doc.StoragePath != "tenant_t1/invoices_2c03/inv_001_585d29.pdf" {
		t.Fatalf("document path = %q", doc.StoragePath)
	}
	if doc.SizeBytes != int64(len("%PDF-1.4")) {
		t.Fatalf("size = %d", doc.SizeBytes)
	}
	if _, _, err := f.blobs.Get(ctx, doc.StoragePath); err != nil {
		t.Fatalf("payload missing at stored path: %v", err)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	basket, err := f.svc.CreateBasket(ctx, "Contracts")
	if err != nil {
		t.Fatalf("CreateBasket: %v", err)
	}
	got, err := f.svc.GetBasket(ctx, basket.ID)
	if err != nil {
		t.Fatalf("GetBasket: %v", err)
	}
	if got.StoragePrefix != basket.StoragePrefix || got.CreatedBy != "u1" {
		t.Fatalf("basket round trip = %+v", got)
	}

	doc, err := f.svc.AddDocument(ctx, basket.ID, "master agreement", "docx", "", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	fetched, rc, err := f.svc.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(body) != "payload" {
		t.Fatalf("payload = %q, err %v", body, err)
	}
	if fetched.StoragePath != doc.StoragePath {
		t.Fatalf("stored path changed on read: %q vs %q", fetched.StoragePath, doc.StoragePath)
	}

	docs, err := f.svc.ListDocuments(ctx, basket.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments = %v, err %v", docs, err)
	}
	baskets, err := f.svc.ListBaskets(ctx)
	if err != nil || len(baskets) != 1 {
		t.Fatalf("ListBaskets = %v, err %v", baskets, err)
	}

	if err := f.svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, _, err := f.svc.GetDocument(ctx, doc.ID); err == nil {
		t.Fatalf("deleted document still readable")
	}
	if _, _, err := f.blobs.Get(ctx, doc.StoragePath); err == nil {
		t.Fatalf("payload survived delete")
	}
}

func TestStoredPathSurvivesNamingChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	basket, err := f.svc.CreateBasket(ctx, "Reports")
	if err != nil {
		t.Fatalf("CreateBasket: %v", err)
	}
	doc, err := f.svc.AddDocument(ctx, basket.ID, "annual", "pdf", "application/pdf", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	// Later configuration changes must not move existing payloads.
	f.svc.naming.Namespace = "relocated"
	fetched, rc, err := f.svc.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument after naming change: %v", err)
	}
	_ = rc.Close()
	if fetched.StoragePath != doc.StoragePath {
		t.Fatalf("path recomputed: %q vs %q", fetched.StoragePath, doc.StoragePath)
	}
}

func TestAddDocumentRollsBackPayloadOnBadBasket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AddDocument(ctx, "missing", "doc", "txt", "", strings.NewReader("x")); err == nil {
		t.Fatalf("AddDocument accepted unknown basket")
	}
	infos, err := f.blobs.List(ctx, "")
	if err != nil {
		t.Fatalf("list payloads: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("orphaned payloads: %v", infos)
	}
}

func TestValidationAndBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateBasket(ctx, "  "); err == nil {
		t.Fatalf("blank basket name accepted")
	}
	basket, err := f.svc.CreateBasket(ctx, "b")
	if err != nil {
		t.Fatalf("CreateBasket: %v", err)
	}
	if _, err := f.svc.AddDocument(ctx, basket.ID, "", "txt", "", strings.NewReader("x")); err == nil {
		t.Fatalf("blank document name accepted")
	}

	if err := f.entry.Close(); err != nil {
		t.Fatalf("close entry: %v", err)
	}
	if _, err := f.svc.ListBaskets(ctx); err == nil {
		t.Fatalf("unbound service still serving")
	}
}

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect tenant.Dialect
		in, out string
	}{
		{tenant.DialectSQLite, "SELECT ? WHERE id = ?", "SELECT ? WHERE id = ?"},
		{tenant.DialectPostgres, "SELECT ? WHERE id = ?", "SELECT $1 WHERE id = $2"},
		{tenant.DialectPostgres, "no placeholders", "no placeholders"},
	}
	for _, tc := range cases {
		if got := rebind(tc.dialect, tc.in); got != tc.out {
			t.Fatalf("rebind(%s, %q) = %q, want %q", tc.dialect, tc.in, got, tc.out)
		}
	}
}
