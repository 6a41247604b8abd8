package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a directory entry does not exist.
var ErrNotFound = errors.New("not found")

// DirectoryEntry is one row of the persistent extension directory: which
// extensions have ever registered on this node, from where, and when last.
type DirectoryEntry struct {
	Extension         string    `json:"extension"`
	SourceAddr        string    `json:"source_addr"`
	RegisterCount     int64     `json:"register_count"`
	FirstRegisteredAt time.Time `json:"first_registered_at"`
	LastRegisteredAt  time.Time `json:"last_registered_at"`
}

// ExtensionDirectory records endpoint registrations and serves the ops API.
type ExtensionDirectory interface {
	RecordRegistration(ctx context.Context, extension, sourceAddr string) error
	Get(ctx context.Context, extension string) (*DirectoryEntry, error)
	List(ctx context.Context) ([]DirectoryEntry, error)
	Count(ctx context.Context) (int64, error)
}

// directoryRepo implements ExtensionDirectory on SQLite.
type directoryRepo struct {
	db *DB
}

// NewExtensionDirectory creates the SQLite-backed directory.
func NewExtensionDirectory(db *DB) ExtensionDirectory {
	return &directoryRepo{db: db}
}

// RecordRegistration upserts the entry for extension, bumping the register
// count and the last-seen timestamp.
func (r *directoryRepo) RecordRegistration(ctx context.Context, extension, sourceAddr string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extension_directory (extension, source_addr, register_count)
		 VALUES (?, ?, 1)
		 ON CONFLICT(extension) DO UPDATE SET
		   source_addr = excluded.source_addr,
		   register_count = register_count + 1,
		   last_registered_at = datetime('now')`,
		extension, sourceAddr,
	)
	if err != nil {
		return fmt.Errorf("recording registration for %s: %w", extension, err)
	}
	return nil
}

// Get returns the entry for extension, or ErrNotFound.
func (r *directoryRepo) Get(ctx context.Context, extension string) (*DirectoryEntry, error) {
	var e DirectoryEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT extension, source_addr, register_count, first_registered_at, last_registered_at
		 FROM extension_directory WHERE extension = ?`, extension,
	).Scan(&e.Extension, &e.SourceAddr, &e.RegisterCount, &e.FirstRegisteredAt, &e.LastRegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying directory entry %s: %w", extension, err)
	}
	return &e, nil
}

// List returns all entries ordered by extension.
func (r *directoryRepo) List(ctx context.Context) ([]DirectoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT extension, source_addr, register_count, first_registered_at, last_registered_at
		 FROM extension_directory ORDER BY extension`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying directory: %w", err)
	}
	defer rows.Close()

	var entries []DirectoryEntry
	for rows.Next() {
		var e DirectoryEntry
		if err := rows.Scan(&e.Extension, &e.SourceAddr, &e.RegisterCount,
			&e.FirstRegisteredAt, &e.LastRegisteredAt); err != nil {
			return nil, fmt.Errorf("scanning directory row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating directory rows: %w", err)
	}
	return entries, nil
}

// Count returns the number of directory entries.
func (r *directoryRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM extension_directory",
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting directory entries: %w", err)
	}
	return n, nil
}
