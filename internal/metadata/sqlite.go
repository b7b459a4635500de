package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLiteStore implements the Store interface using SQLite as the backing
// database. It provides durable metadata storage suitable for single-node
// deployments and is the default engine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS images (
			owner      TEXT NOT NULL,
			image_id   TEXT NOT NULL,
			labels     TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,

			PRIMARY KEY (owner, image_id)
		);

		CREATE INDEX IF NOT EXISTS idx_images_owner ON images(owner);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutLabels upserts the record for an image, replacing the whole label set.
// CreatedAt is preserved on conflict so redelivery converges.
func (s *SQLiteStore) PutLabels(ctx context.Context, owner, imageID string, labels []Label) error {
	if labels == nil {
		labels = []Label{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO images (owner, image_id, labels, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner, image_id) DO UPDATE SET labels = excluded.labels
	`, owner, imageID, string(data), time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("putting labels for %s/%s: %w", owner, imageID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, owner, imageID string) (*ImageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT labels, created_at FROM images WHERE owner = ? AND image_id = ?
	`, owner, imageID)

	var labelsJSON, createdAt string
	if err := row.Scan(&labelsJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("getting image %s/%s: %w", owner, imageID, err)
	}
	return rowToRecord(owner, imageID, labelsJSON, createdAt)
}

func (s *SQLiteStore) Delete(ctx context.Context, owner, imageID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM images WHERE owner = ? AND image_id = ?
	`, owner, imageID)
	if err != nil {
		return fmt.Errorf("deleting image %s/%s: %w", owner, imageID, err)
	}
	return nil
}

// ListByOwner pages through an owner's records in primary-key order. The
// cursor is the last image ID of the previous page.
func (s *SQLiteStore) ListByOwner(ctx context.Context, owner string, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT image_id, labels, created_at FROM images
		WHERE owner = ? AND image_id > ?
		ORDER BY image_id
		LIMIT ?
	`, owner, opts.Cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("listing images for %s: %w", owner, err)
	}
	defer rows.Close()

	result := &ListResult{}
	for rows.Next() {
		var imageID, labelsJSON, createdAt string
		if err := rows.Scan(&imageID, &labelsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		rec, err := rowToRecord(owner, imageID, labelsJSON, createdAt)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating image rows: %w", err)
	}

	if len(result.Records) > limit {
		result.Records = result.Records[:limit]
		result.NextCursor = result.Records[limit-1].ImageID
	}
	return result, nil
}

func rowToRecord(owner, imageID, labelsJSON, createdAt string) (*ImageRecord, error) {
	rec := &ImageRecord{
		ImageID:        imageID,
		OwnerNamespace: owner,
		Labels:         []Label{},
	}
	if err := json.Unmarshal([]byte(labelsJSON), &rec.Labels); err != nil {
		return nil, fmt.Errorf("decoding labels for %s/%s: %w", owner, imageID, err)
	}
	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return rec, nil
}
