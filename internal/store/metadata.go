package store

import (
	"context"
	"database/sql"
)

// SchemaVersion is written to app_metadata on every migration.
const SchemaVersion = "1"

// Metadata keys.
const (
	MetaSchemaVersion = "schema_version"
	MetaSeededAt      = "seeded_at"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (q *Queries) SetMetadata(ctx context.Context, key, value string) error {
	_, err := q.exec(ctx,
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (q *Queries) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := q.queryRow(ctx, `SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
