package tenant

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTenantID(t *testing.T) {
	for _, id := range []string{"acme", "a", "tenant_42", "a_b_c"} {
		if err := ValidateTenantID(id); err != nil {
			t.Fatalf("ValidateTenantID(%q): %v", id, err)
		}
	}
	for _, id := range []string{"", "Acme", "1acme", "acme-corp", "acme.corp", "_acme", SystemTenantID, strings.Repeat("a", 64)} {
		err := ValidateTenantID(id)
		var invalid InvalidTenantIDError
		if !errors.As(err, &invalid) {
			t.Fatalf("ValidateTenantID(%q) = %v, want InvalidTenantIDError", id, err)
		}
	}
}

func TestResolveSchemaName(t *testing.T) {
	n := Naming{}
	got, err := n.ResolveSchemaName("acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "tenant_acme" {
		t.Fatalf("schema = %q, want tenant_acme", got)
	}
	// deterministic across repeated calls
	for i := 0; i < 5; i++ {
		again, err := n.ResolveSchemaName("acme")
		if err != nil || again != got {
			t.Fatalf("resolution not stable: %q vs %q (%v)", again, got, err)
		}
	}

	custom := Naming{SchemaTemplate: "ws_{tenant_id}_v2"}
	got, err = custom.ResolveSchemaName("acme")
	if err != nil || got != "ws_acme_v2" {
		t.Fatalf("custom template = %q (%v), want ws_acme_v2", got, err)
	}

	if _, err := (Naming{SchemaTemplate: "static"}).ResolveSchemaName("acme"); err == nil {
		t.Fatalf("template without placeholder should fail")
	}
	if _, err := (Naming{SchemaTemplate: "{tenant_id};drop"}).ResolveSchemaName("acme"); err == nil {
		t.Fatalf("template producing a non-identifier should fail")
	}
}

func TestResolveDatabasePath(t *testing.T) {
	n := Naming{DatabaseRoot: "/var/lib/docex"}
	got := n.ResolveDatabasePath("acme")
	if !strings.HasSuffix(got, "tenant_acme/docex.db") && !strings.HasSuffix(got, `tenant_acme\docex.db`) {
		t.Fatalf("path = %q, want tenant_acme/docex.db suffix", got)
	}
}

func TestResolveStoragePrefix(t *testing.T) {
	cases := []struct {
		naming Naming
		want   string
	}{
		{Naming{}, "tenant_t1/"},
		{Naming{Namespace: "docex"}, "docex/tenant_t1/"},
		{Naming{Namespace: "docex", Environment: "prod"}, "docex/prod/tenant_t1/"},
		{Naming{Environment: "Prod East"}, "prod_east/tenant_t1/"},
	}
	for _, tc := range cases {
		if got := tc.naming.ResolveStoragePrefix("t1"); got != tc.want {
			t.Fatalf("prefix = %q, want %q", got, tc.want)
		}
	}
}

func TestResolveBasketLocator(t *testing.T) {
	n := Naming{Namespace: "docex", Environment: "prod"}
	loc := n.ResolveBasketLocator("t1", "8b1d2c03", "Invoices")
	if loc.Prefix != "docex/prod/tenant_t1/" || loc.Basket != "invoices_2c03/" {
		t.Fatalf("locator = %+v", loc)
	}
	if loc.Path != loc.Prefix+loc.Basket {
		t.Fatalf("path %q is not prefix+basket", loc.Path)
	}
}

func TestResolveSegmentsCollisionResistance(t *testing.T) {
	a := ResolveBasketSegment("8b1d2c03", "Invoices")
	b := ResolveBasketSegment("77aa19ff", "Invoices")
	if a == b {
		t.Fatalf("identical names with distinct ids must not collide: %q", a)
	}
	if a != "invoices_2c03/" {
		t.Fatalf("segment = %q, want invoices_2c03/", a)
	}

	d1 := ResolveDocumentSegment("0f585d29", "inv_001", "pdf")
	d2 := ResolveDocumentSegment("11223344", "inv_001", "pdf")
	if d1 == d2 {
		t.Fatalf("identical document names with distinct ids must not collide: %q", d1)
	}
	if d1 != "inv_001_585d29.pdf" {
		t.Fatalf("segment = %q, want inv_001_585d29.pdf", d1)
	}
}

func TestResolveDocumentSegmentSanitization(t *testing.T) {
	got := ResolveDocumentSegment("abc123", "Q3 Report (final)", ".PDF")
	if got != "q3_report__final_abc123.pdf" {
		t.Fatalf("segment = %q", got)
	}
	// uuid dashes are ignored by the suffix
	got = ResolveDocumentSegment("a1b2-c3d4", "x", "txt")
	if !strings.HasSuffix(got, "b2c3d4.txt") {
		t.Fatalf("segment = %q, want b2c3d4.txt suffix", got)
	}
	// nothing usable in the name
	if got := ResolveBasketSegment("abcd", "///"); got != "item_abcd/" {
		t.Fatalf("segment = %q, want item_abcd/", got)
	}
}
