// Package sqlstore implements database.Repository on top of database/sql.
// Backends supply a Dialect with their query text and tag encoding.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Dialect holds backend specific SQL. Queries take their arguments in the
// order documented on each field.
type Dialect struct {
	Name string

	// FindByPath(path), FindByID(id) select id, path, hash, tags, signature, updated_at.
	FindByPath string
	FindByID   string
	// ListAfter(lastID, limit) pages records ordered by id.
	ListAfter string
	Count     string
	// Upsert(path, hash, tags, signature, updated_at).
	Upsert string

	// FindPending(path) selects path, enqueued_at.
	FindPending string
	// InsertPending(path, enqueued_at) must not fail on conflict and must
	// affect zero rows when the path already exists.
	InsertPending string
	// DeletePending(path).
	DeletePending string
	// ListPending(olderThan) selects path, enqueued_at ordered by enqueued_at.
	ListPending  string
	CountPending string

	// RecordMigration(version) inserts into schema_migrations.
	RecordMigration string

	// EncodeTags converts tags into a driver value.
	EncodeTags func(tags []string) (any, error)
	// ScanTags returns a scan destination that fills dst.
	ScanTags func(dst *[]string) any
}

// EncodeJSONTags stores tags as a JSON array in a text column.
func EncodeJSONTags(tags []string) (any, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

// ScanJSONTags decodes a JSON array text column.
func ScanJSONTags(dst *[]string) any {
	return &jsonTags{dst: dst}
}

type jsonTags struct {
	dst *[]string
}

var _ sql.Scanner = (*jsonTags)(nil)

func (j *jsonTags) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*j.dst = []string{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan tags: unsupported type %T", src)
	}

	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("scan tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	*j.dst = tags
	return nil
}
