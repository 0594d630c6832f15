// Package postgres records stored documents in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

const defaultTable = "documents"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for catalog rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// DocumentStore upserts one row per stored object key.
type DocumentStore struct {
	pool  execCloser
	table string
	newID func() (uuid.UUID, error)
}

var _ pipeline.DocumentCatalog = (*DocumentStore)(nil)

// New creates a pooled DocumentStore.
func New(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DocumentStore{pool: pool, table: table, newID: uuid.NewV7}, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(pool execCloser, table string) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{pool: pool, table: name, newID: uuid.NewV7}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the catalog table when missing.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             UUID PRIMARY KEY,
	object_key     TEXT NOT NULL UNIQUE,
	object_uri     TEXT NOT NULL,
	resource_name  TEXT NOT NULL,
	record_offset  BIGINT NOT NULL,
	record_length  BIGINT NOT NULL,
	surt_url       TEXT NOT NULL,
	capture_ts     TEXT NOT NULL,
	target_uri     TEXT NOT NULL,
	warc_record_id TEXT NOT NULL,
	content_sha256 TEXT NOT NULL,
	content_bytes  INTEGER NOT NULL,
	stored_at      TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create catalog table: %w", err)
	}
	return nil
}

// RecordDocument inserts the row or refreshes it when the key already exists,
// so redelivered batches leave a single row per object.
func (s *DocumentStore) RecordDocument(ctx context.Context, doc pipeline.DocumentRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("document catalog is not configured")
	}
	if doc.Key == "" {
		return fmt.Errorf("document key is required")
	}
	id, err := s.newID()
	if err != nil {
		return fmt.Errorf("generate uuid7: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	object_key,
	object_uri,
	resource_name,
	record_offset,
	record_length,
	surt_url,
	capture_ts,
	target_uri,
	warc_record_id,
	content_sha256,
	content_bytes,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (object_key) DO UPDATE SET
	object_uri = EXCLUDED.object_uri,
	content_sha256 = EXCLUDED.content_sha256,
	content_bytes = EXCLUDED.content_bytes,
	stored_at = EXCLUDED.stored_at`, s.table)

	args := []any{
		id,
		doc.Key,
		doc.URI,
		doc.ResourceName,
		int64(doc.Offset),
		int64(doc.Length),
		doc.SURTURL,
		doc.Timestamp,
		doc.TargetURI,
		doc.RecordID,
		doc.SHA256,
		doc.Bytes,
		doc.StoredAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}
