package postgres

import (
	"github.com/lib/pq"

	"github.com/kozaktomas/photo-dedup/internal/database/sqlstore"
)

const recordColumns = "id, path, hash, tags, signature, updated_at"

// Dialect is the PostgreSQL query set. Tags live in a TEXT[] column.
var Dialect = sqlstore.Dialect{
	Name:       "postgres",
	FindByPath: "SELECT " + recordColumns + " FROM images WHERE path = $1",
	FindByID:   "SELECT " + recordColumns + " FROM images WHERE id = $1",
	ListAfter:  "SELECT " + recordColumns + " FROM images WHERE id > $1 ORDER BY id LIMIT $2",
	Count:      "SELECT COUNT(*) FROM images",
	Upsert: `
		INSERT INTO images (path, hash, tags, signature, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path) DO UPDATE SET
			hash = EXCLUDED.hash,
			signature = EXCLUDED.signature,
			updated_at = EXCLUDED.updated_at
	`,

	FindPending: "SELECT path, enqueued_at FROM pending_images WHERE path = $1",
	InsertPending: `
		INSERT INTO pending_images (path, enqueued_at)
		VALUES ($1, $2)
		ON CONFLICT (path) DO NOTHING
	`,
	DeletePending: "DELETE FROM pending_images WHERE path = $1",
	ListPending:   "SELECT path, enqueued_at FROM pending_images WHERE enqueued_at < $1 ORDER BY enqueued_at",
	CountPending:  "SELECT COUNT(*) FROM pending_images",

	RecordMigration: "INSERT INTO schema_migrations (version) VALUES ($1)",

	EncodeTags: func(tags []string) (any, error) {
		if tags == nil {
			tags = []string{}
		}
		return pq.Array(tags), nil
	},
	ScanTags: func(dst *[]string) any {
		return pq.Array(dst)
	},
}
