// Package store persists REST collections for the catalog service. Every
// resource is a list of JSON objects keyed by an integral "id".
package store

import (
	"context"
	"errors"
	"fmt"

	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record id already exists")
	ErrInvalid  = errors.New("invalid record")
)

// Store defines persistence operations over named collections.
type Store interface {
	// List returns all records of resource ordered by id. Unknown resources are empty.
	List(ctx context.Context, resource string) ([]domain.Record, error)
	Get(ctx context.Context, resource string, id int64) (domain.Record, error)
	// Create assigns max(id)+1 when rec carries no id.
	Create(ctx context.Context, resource string, rec domain.Record) (domain.Record, error)
	// Replace overwrites the whole record. The id is taken from the path.
	Replace(ctx context.Context, resource string, id int64, rec domain.Record) (domain.Record, error)
	// Patch merges fields into the record.
	Patch(ctx context.Context, resource string, id int64, fields domain.Record) (domain.Record, error)
	Delete(ctx context.Context, resource string, id int64) error
	Close() error
}

// recordID reads the id of an incoming record. ok is false when absent.
func recordID(rec domain.Record) (int64, bool, error) {
	raw, present := rec["id"]
	if !present || raw == nil {
		return 0, false, nil
	}
	id, ok := query.ID(rec)
	if !ok || id <= 0 {
		return 0, false, fmt.Errorf("%w: id must be a positive integer", ErrInvalid)
	}
	return id, true, nil
}

func clone(rec domain.Record) domain.Record {
	out := make(domain.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
