package tenant

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// SystemTenantID is the reserved id of the bootstrap tenant that holds the
// registry. Provisioning it as a business tenant is always rejected.
const SystemTenantID = "docex_sys"

// DefaultSchemaTemplate is the schema naming template applied when none is
// configured. The single placeholder is the validated tenant id.
const DefaultSchemaTemplate = "tenant_{tenant_id}"

const tenantDatabaseFile = "docex.db"

// tenantIDPattern is the allowed shape of a business tenant id: lower-case
// alphanumerics and underscores, starting with a letter, at most 63 bytes so
// derived schema identifiers stay within common identifier limits.
var tenantIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateTenantID checks id against the allowed pattern and the reserved
// system id. It returns an InvalidTenantIDError describing the violation.
func ValidateTenantID(id string) error {
	if id == "" {
		return InvalidTenantIDError{TenantID: id, Reason: "empty"}
	}
	if id == SystemTenantID {
		return InvalidTenantIDError{TenantID: id, Reason: "reserved system tenant id"}
	}
	if !tenantIDPattern.MatchString(id) {
		return InvalidTenantIDError{TenantID: id, Reason: "must match [a-z][a-z0-9_]{0,62}"}
	}
	return nil
}

// Naming resolves tenant identities to schema names, database paths and
// object-storage keys. All methods are pure and deterministic: no I/O, no
// randomness, no time dependence, so every resolution is stable across
// process restarts.
type Naming struct {
	// SchemaTemplate must contain the literal placeholder {tenant_id}.
	// Empty means DefaultSchemaTemplate.
	SchemaTemplate string
	// DatabaseRoot is the directory holding one sub-directory per tenant
	// for the database-file strategy.
	DatabaseRoot string
	// Namespace and Environment each contribute one leading key segment
	// when non-empty.
	Namespace   string
	Environment string
}

// ResolveSchemaName applies the schema template to a validated tenant id. The
// result is checked to be a safe SQL identifier rather than sanitized: a
// template that produces anything else is a configuration error.
func (n Naming) ResolveSchemaName(tenantID string) (string, error) {
	tpl := n.SchemaTemplate
	if tpl == "" {
		tpl = DefaultSchemaTemplate
	}
	if !strings.Contains(tpl, "{tenant_id}") {
		return "", fmt.Errorf("schema template %q lacks {tenant_id} placeholder", tpl)
	}
	name := strings.ReplaceAll(tpl, "{tenant_id}", tenantID)
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("resolved schema name %q is not a valid identifier", name)
	}
	return name, nil
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ResolveDatabasePath returns the per-tenant database file location for the
// database-file strategy: one directory per tenant under DatabaseRoot.
func (n Naming) ResolveDatabasePath(tenantID string) string {
	root := n.DatabaseRoot
	if root == "" {
		root = "./data"
	}
	return filepath.Join(root, "tenant_"+tenantID, tenantDatabaseFile)
}

// ResolveStoragePrefix returns the object-storage key prefix for a tenant:
// {namespace}/{environment}/tenant_{tenant_id}/ with the optional segments
// present only when configured. The prefix always ends in "/".
func (n Naming) ResolveStoragePrefix(tenantID string) string {
	segs := make([]string, 0, 3)
	if n.Namespace != "" {
		segs = append(segs, sanitizeSegment(n.Namespace))
	}
	if n.Environment != "" {
		segs = append(segs, sanitizeSegment(n.Environment))
	}
	segs = append(segs, "tenant_"+tenantID)
	return path.Join(segs...) + "/"
}

// ResolveBasketLocator resolves the storage location for a new basket. Path
// is the prefix the basket stores; document leaves are appended to it later.
func (n Naming) ResolveBasketLocator(tenantID, basketID, basketName string) StorageLocator {
	loc := StorageLocator{
		Prefix: n.ResolveStoragePrefix(tenantID),
		Basket: ResolveBasketSegment(basketID, basketName),
	}
	loc.Path = loc.Prefix + loc.Basket
	return loc
}

// ResolveBasketSegment returns the basket-level key segment:
// {sanitize(name)}_{last4(id)}/. The id-derived suffix makes two baskets with
// the same human-readable name resolve to distinct segments.
func ResolveBasketSegment(basketID, basketName string) string {
	return sanitizeSegment(basketName) + "_" + lastN(basketID, 4) + "/"
}

// ResolveDocumentSegment returns the document leaf segment:
// {sanitize(name)}_{last6(id)}.{ext}.
func ResolveDocumentSegment(documentID, documentName, ext string) string {
	seg := sanitizeSegment(documentName) + "_" + lastN(documentID, 6)
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return seg
	}
	return seg + "." + ext
}

// sanitizeSegment lower-cases s and replaces every character that is not an
// ASCII letter, digit, '-' or '_' with '_', trimming separators from the
// ends. An input with nothing usable resolves to "item".
func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "item"
	}
	return out
}

// lastN returns the trailing n alphanumeric characters of id, ignoring
// separators such as uuid dashes. Short ids are returned whole.
func lastN(id string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
