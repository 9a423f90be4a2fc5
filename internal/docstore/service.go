// Package docstore implements baskets and documents on top of a bound tenant
// entry point: rows go to the tenant's isolation boundary, payloads to the
// object store under the tenant's key prefix.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"docex/internal/blob"
	"docex/internal/tenant"
)

// Basket groups documents. StoragePrefix is resolved once at creation and
// stored verbatim; reads never recompute it.
type Basket struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	StoragePrefix string    `json:"storage_prefix"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Document is one stored payload. StoragePath is the full object key,
// resolved at creation and stored verbatim.
type Document struct {
	ID          string    `json:"id"`
	BasketID    string    `json:"basket_id"`
	Name        string    `json:"name"`
	Ext         string    `json:"ext,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	StoragePath string    `json:"storage_path"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service executes basket and document operations for one bound session.
// Every call requires the entry point to be bound; there is no fallback
// tenant.
type Service struct {
	entry  *tenant.EntryPoint
	blobs  blob.Store
	naming tenant.Naming
	now    func() time.Time
	newID  func() string
}

// NewService builds a docstore service over a bound entry point.
func NewService(entry *tenant.EntryPoint, blobs blob.Store, naming tenant.Naming) *Service {
	return &Service{
		entry:  entry,
		blobs:  blobs,
		naming: naming,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// CreateBasket creates a basket and stores its resolved storage prefix. Two
// baskets with the same name get distinct prefixes through the id suffix.
func (s *Service) CreateBasket(ctx context.Context, name string) (Basket, error) {
	if strings.TrimSpace(name) == "" {
		return Basket{}, fmt.Errorf("basket name required")
	}
	h, user, err := s.session()
	if err != nil {
		return Basket{}, err
	}
	b := Basket{
		ID:        s.newID(),
		Name:      name,
		CreatedBy: user.UserID,
		CreatedAt: s.now().UTC(),
	}
	b.StoragePrefix = s.naming.ResolveBasketLocator(user.TenantID, b.ID, name).Path

	conn, err := h.Acquire(ctx)
	if err != nil {
		return Basket{}, err
	}
	defer func() { _ = conn.Close() }()
	_, err = conn.ExecContext(ctx, rebind(h.Dialect,
		`INSERT INTO baskets (id, name, storage_prefix, created_by, created_at) VALUES (?, ?, ?, ?, ?)`),
		b.ID, b.Name, b.StoragePrefix, b.CreatedBy, b.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Basket{}, fmt.Errorf("insert basket: %w", err)
	}
	return b, nil
}

// GetBasket reads one basket row.
func (s *Service) GetBasket(ctx context.Context, basketID string) (Basket, error) {
	h, _, err := s.session()
	if err != nil {
		return Basket{}, err
	}
	conn, err := h.Acquire(ctx)
	if err != nil {
		return Basket{}, err
	}
	defer func() { _ = conn.Close() }()
	return scanBasket(conn.QueryRowContext(ctx, rebind(h.Dialect,
		`SELECT id, name, storage_prefix, created_by, created_at FROM baskets WHERE id = ?`), basketID))
}

// ListBaskets returns the tenant's baskets ordered by creation time.
func (s *Service) ListBaskets(ctx context.Context) ([]Basket, error) {
	h, _, err := s.session()
	if err != nil {
		return nil, err
	}
	conn, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	rows, err := conn.QueryContext(ctx,
		`SELECT id, name, storage_prefix, created_by, created_at FROM baskets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Basket
	for rows.Next() {
		b, err := scanBasket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddDocument stores content in the object store under the basket's prefix
// and records the document row with the resolved full path. The blob write
// is create-only; a failed row insert removes the orphaned object.
func (s *Service) AddDocument(ctx context.Context, basketID, name, ext, contentType string, content io.Reader) (Document, error) {
	if strings.TrimSpace(name) == "" {
		return Document{}, fmt.Errorf("document name required")
	}
	basket, err := s.GetBasket(ctx, basketID)
	if err != nil {
		return Document{}, err
	}
	h, user, err := s.session()
	if err != nil {
		return Document{}, err
	}
	d := Document{
		ID:          s.newID(),
		BasketID:    basket.ID,
		Name:        name,
		Ext:         strings.TrimPrefix(strings.ToLower(ext), "."),
		ContentType: contentType,
		CreatedBy:   user.UserID,
		CreatedAt:   s.now().UTC(),
	}
	d.StoragePath = basket.StoragePrefix + tenant.ResolveDocumentSegment(d.ID, name, d.Ext)

	info, err := s.blobs.Put(ctx, d.StoragePath, content, blob.PutOptions{ContentType: contentType})
	if err != nil {
		return Document{}, fmt.Errorf("store payload: %w", err)
	}
	d.SizeBytes = info.Size

	conn, err := h.Acquire(ctx)
	if err != nil {
		_, _ = s.blobs.Delete(ctx, d.StoragePath)
		return Document{}, err
	}
	defer func() { _ = conn.Close() }()
	_, err = conn.ExecContext(ctx, rebind(h.Dialect,
		`INSERT INTO documents (id, basket_id, name, ext, content_type, size_bytes, storage_path, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.BasketID, d.Name, d.Ext, d.ContentType, d.SizeBytes, d.StoragePath, d.CreatedBy,
		d.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		_, _ = s.blobs.Delete(ctx, d.StoragePath)
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

// GetDocument returns the document row and a reader over its payload, fetched
// at the stored path.
func (s *Service) GetDocument(ctx context.Context, documentID string) (Document, io.ReadCloser, error) {
	d, err := s.lookupDocument(ctx, documentID)
	if err != nil {
		return Document{}, nil, err
	}
	_, rc, err := s.blobs.Get(ctx, d.StoragePath)
	if err != nil {
		return Document{}, nil, fmt.Errorf("fetch payload: %w", err)
	}
	return d, rc, nil
}

// ListDocuments returns a basket's documents ordered by creation time.
func (s *Service) ListDocuments(ctx context.Context, basketID string) ([]Document, error) {
	h, _, err := s.session()
	if err != nil {
		return nil, err
	}
	conn, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	rows, err := conn.QueryContext(ctx, rebind(h.Dialect,
		`SELECT id, basket_id, name, ext, content_type, size_bytes, storage_path, created_by, created_at
		 FROM documents WHERE basket_id = ? ORDER BY created_at, id`), basketID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes the row and then the payload. A missing payload is
// not an error; the row is authoritative.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	d, err := s.lookupDocument(ctx, documentID)
	if err != nil {
		return err
	}
	h, _, err := s.session()
	if err != nil {
		return err
	}
	conn, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.ExecContext(ctx, rebind(h.Dialect, `DELETE FROM documents WHERE id = ?`), d.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	_, _ = s.blobs.Delete(ctx, d.StoragePath)
	return nil
}

func (s *Service) lookupDocument(ctx context.Context, documentID string) (Document, error) {
	h, _, err := s.session()
	if err != nil {
		return Document{}, err
	}
	conn, err := h.Acquire(ctx)
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = conn.Close() }()
	d, err := scanDocument(conn.QueryRowContext(ctx, rebind(h.Dialect,
		`SELECT id, basket_id, name, ext, content_type, size_bytes, storage_path, created_by, created_at
		 FROM documents WHERE id = ?`), documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s not found", documentID)
	}
	return d, err
}

// session returns the bound handle and user context or fails when unbound.
func (s *Service) session() (*tenant.Handle, tenant.UserContext, error) {
	h, err := s.entry.Handle()
	if err != nil {
		return nil, tenant.UserContext{}, err
	}
	user, _ := s.entry.User()
	return h, user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBasket(row rowScanner) (Basket, error) {
	var b Basket
	var createdBy sql.NullString
	var createdAt string
	if err := row.Scan(&b.ID, &b.Name, &b.StoragePrefix, &createdBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Basket{}, fmt.Errorf("basket not found")
		}
		return Basket{}, fmt.Errorf("scan basket: %w", err)
	}
	b.CreatedBy = createdBy.String
	b.CreatedAt = parseTime(createdAt)
	return b, nil
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var ext, contentType, createdBy sql.NullString
	var createdAt string
	if err := row.Scan(&d.ID, &d.BasketID, &d.Name, &ext, &contentType, &d.SizeBytes, &d.StoragePath, &createdBy, &createdAt); err != nil {
		return Document{}, err
	}
	d.Ext = ext.String
	d.ContentType = contentType.String
	d.CreatedBy = createdBy.String
	d.CreatedAt = parseTime(createdAt)
	return d, nil
}

func parseTime(s string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	return time.Time{}
}

// rebind rewrites "?" placeholders to "$n" for postgres handles. Query text
// is shared between dialects; neither dialect's literals contain '?'.
func rebind(d tenant.Dialect, query string) string {
	if d != tenant.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
