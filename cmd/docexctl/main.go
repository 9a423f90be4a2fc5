// Command docexctl administers tenant state: one-time bootstrap, tenant
// provisioning and deployment health checks. Flag parsing and exit codes live
// here; all isolation logic is in the library packages.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"docex/internal/blob"
	"docex/internal/config"
	"docex/internal/docstore"
	"docex/internal/infra/persistence/postgres"
	"docex/internal/infra/persistence/sqlite"
	"docex/internal/tenant"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:], os.Stdout))
}

func run(args []string, out *os.File) int {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if len(args) == 0 {
		usage(out)
		return 2
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		return 1
	}
	backend, err := openBackend(cfg)
	if err != nil {
		slog.Error("open backend", "err", err)
		return 1
	}
	defer func() { _ = backend.Close() }()

	registry := tenant.NewRegistry(backend)
	bootstrap := tenant.NewBootstrapManager(backend, cfg.BootstrapRecord())
	provisioner := tenant.NewProvisioner(backend, registry, cfg.Naming(), nil)
	ctx := context.Background()

	switch args[0] {
	case "init":
		return cmdInit(ctx, args[1:], bootstrap)
	case "create-tenant":
		return cmdCreateTenant(ctx, args[1:], provisioner, out)
	case "list-tenants":
		return cmdListTenants(ctx, registry, out)
	case "status":
		return cmdStatus(ctx, bootstrap, registry, cfg, out)
	case "create-basket":
		return cmdCreateBasket(ctx, args[1:], backend, registry, cfg, out)
	case "add-document":
		return cmdAddDocument(ctx, args[1:], backend, registry, cfg, out)
	case "list-baskets":
		return cmdListBaskets(ctx, args[1:], backend, registry, cfg, out)
	default:
		fmt.Fprintf(out, "unknown command %q\n", args[0])
		usage(out)
		return 2
	}
}

func usage(out *os.File) {
	fmt.Fprintln(out, "usage: docexctl <init|create-tenant|list-tenants|status|create-basket|add-document|list-baskets> [flags]")
}

// openService binds a docstore service to the given tenant for one command
// invocation. The returned cleanup closes the router's pooled connections.
func openService(ctx context.Context, backend tenant.Backend, registry *tenant.Registry, cfg config.Config, tenantID, userID string) (*docstore.Service, func(), error) {
	router, err := tenant.NewRouter(backend, registry, nil, tenant.RouterOptions{
		Mode:           tenant.ModeExplicit,
		MaxOpenConns:   cfg.Router.MaxOpenConns,
		MaxIdleConns:   cfg.Router.MaxIdleConns,
		ConnIdleTime:   cfg.Router.ConnIdleTime,
		AcquireTimeout: cfg.Router.AcquireTimeout,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	entry := tenant.NewEntryPoint(router, cfg.MultiTenancy.Enabled)
	if err := entry.Bind(ctx, tenant.UserContext{UserID: userID, TenantID: tenantID}); err != nil {
		_ = router.CloseAll()
		return nil, nil, err
	}
	blobs, err := blob.Open(ctx)
	if err != nil {
		_ = router.CloseAll()
		return nil, nil, err
	}
	svc := docstore.NewService(entry, blobs, cfg.Naming())
	return svc, func() { _ = router.CloseAll() }, nil
}

func openBackend(cfg config.Config) (tenant.Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return postgres.New(cfg.PostgresDSN, cfg.BootstrapRecord())
	case config.BackendSQLite:
		return sqlite.New(cfg.BootstrapRecord())
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func cmdInit(ctx context.Context, args []string, bootstrap *tenant.BootstrapManager) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	createdBy := fs.String("created-by", "docexctl", "recorded creator of the system tenant")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	initialized, err := bootstrap.IsInitialized(ctx)
	if err != nil {
		slog.Error("check bootstrap state", "err", err)
		return 1
	}
	if err := bootstrap.Initialize(ctx, *createdBy); err != nil {
		slog.Error("bootstrap failed", "err", err)
		return 1
	}
	if initialized {
		slog.Info("bootstrap already initialized, no-op")
	} else {
		slog.Info("bootstrap complete", "system_tenant", bootstrap.SystemRecord().TenantID)
	}
	return 0
}

func cmdCreateTenant(ctx context.Context, args []string, provisioner *tenant.Provisioner, out *os.File) int {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	id := fs.String("id", "", "tenant id (required)")
	name := fs.String("name", "", "display name (defaults to id)")
	createdBy := fs.String("created-by", "docexctl", "recorded creator")
	strategy := fs.String("strategy", "", "isolation strategy (defaults to the backend's)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(out, "create-tenant: -id is required")
		return 2
	}
	rec, err := provisioner.Create(ctx, *id, *name, *createdBy, tenant.IsolationStrategy(*strategy))
	if err != nil {
		slog.Error("provisioning failed", "tenant", *id, "err", err)
		return 1
	}
	return writeJSON(out, rec)
}

func cmdListTenants(ctx context.Context, registry *tenant.Registry, out *os.File) int {
	records, err := registry.List(ctx)
	if err != nil {
		slog.Error("list tenants", "err", err)
		return 1
	}
	return writeJSON(out, records)
}

func cmdStatus(ctx context.Context, bootstrap *tenant.BootstrapManager, registry *tenant.Registry, cfg config.Config, out *os.File) int {
	checker := tenant.NewSetupChecker(bootstrap, registry, cfg.MultiTenancy.Enabled)
	errs := checker.SetupErrors(ctx)
	status := struct {
		ProperlySetup bool     `json:"properly_setup"`
		Errors        []string `json:"errors,omitempty"`
	}{ProperlySetup: len(errs) == 0}
	for _, err := range errs {
		status.Errors = append(status.Errors, err.Error())
	}
	rc := writeJSON(out, status)
	if rc != 0 {
		return rc
	}
	if !status.ProperlySetup {
		return 1
	}
	return 0
}

func cmdCreateBasket(ctx context.Context, args []string, backend tenant.Backend, registry *tenant.Registry, cfg config.Config, out *os.File) int {
	fs := flag.NewFlagSet("create-basket", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required with multi-tenancy)")
	userID := fs.String("user", "docexctl", "acting user id")
	name := fs.String("name", "", "basket name (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(out, "create-basket: -name is required")
		return 2
	}
	svc, cleanup, err := openService(ctx, backend, registry, cfg, *tenantID, *userID)
	if err != nil {
		slog.Error("open tenant session", "tenant", *tenantID, "err", err)
		return 1
	}
	defer cleanup()
	basket, err := svc.CreateBasket(ctx, *name)
	if err != nil {
		slog.Error("create basket", "tenant", *tenantID, "err", err)
		return 1
	}
	return writeJSON(out, basket)
}

func cmdAddDocument(ctx context.Context, args []string, backend tenant.Backend, registry *tenant.Registry, cfg config.Config, out *os.File) int {
	fs := flag.NewFlagSet("add-document", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required with multi-tenancy)")
	userID := fs.String("user", "docexctl", "acting user id")
	basketID := fs.String("basket", "", "basket id (required)")
	name := fs.String("name", "", "document name (required)")
	ext := fs.String("ext", "", "document extension")
	contentType := fs.String("content-type", "", "payload content type")
	file := fs.String("file", "", "payload file path (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *basketID == "" || *name == "" || *file == "" {
		fmt.Fprintln(out, "add-document: -basket, -name and -file are required")
		return 2
	}
	f, err := os.Open(*file)
	if err != nil {
		slog.Error("open payload", "file", *file, "err", err)
		return 1
	}
	defer func() { _ = f.Close() }()
	svc, cleanup, err := openService(ctx, backend, registry, cfg, *tenantID, *userID)
	if err != nil {
		slog.Error("open tenant session", "tenant", *tenantID, "err", err)
		return 1
	}
	defer cleanup()
	doc, err := svc.AddDocument(ctx, *basketID, *name, *ext, *contentType, f)
	if err != nil {
		slog.Error("add document", "tenant", *tenantID, "basket", *basketID, "err", err)
		return 1
	}
	return writeJSON(out, doc)
}

func cmdListBaskets(ctx context.Context, args []string, backend tenant.Backend, registry *tenant.Registry, cfg config.Config, out *os.File) int {
	fs := flag.NewFlagSet("list-baskets", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required with multi-tenancy)")
	userID := fs.String("user", "docexctl", "acting user id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	svc, cleanup, err := openService(ctx, backend, registry, cfg, *tenantID, *userID)
	if err != nil {
		slog.Error("open tenant session", "tenant", *tenantID, "err", err)
		return 1
	}
	defer cleanup()
	baskets, err := svc.ListBaskets(ctx)
	if err != nil {
		slog.Error("list baskets", "tenant", *tenantID, "err", err)
		return 1
	}
	return writeJSON(out, baskets)
}

func writeJSON(out *os.File, v any) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode output", "err", err)
		return 1
	}
	return 0
}
