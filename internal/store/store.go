// Package store is the persistence gateway: it keeps semi-structured
// documents in named collections, normalizes write failures into a single
// persistence error, and centralizes the soft-delete, paging, and date-range
// query conventions.
package store

import (
	"devicetrack/internal/apperr"
)

// Collection names.
const (
	CollSites        = "sites"
	CollZones        = "zones"
	CollDevices      = "devices"
	CollAssignments  = "assignments"
	CollMeasurements = "measurements"
	CollLocations    = "locations"
	CollAlerts       = "alerts"
)

// Collections lists every collection the store creates on open.
var Collections = []string{
	CollSites, CollZones, CollDevices, CollAssignments,
	CollMeasurements, CollLocations, CollAlerts,
}

// Reserved document fields.
const (
	FieldID      = "_id"
	FieldDeleted = "deleted"
)

// ErrNotFound is returned when a key does not resolve in a collection.
var ErrNotFound = &apperr.Error{Kind: apperr.KindNotFound, Msg: "document not found"}

// Document is the generic field name -> value form of a record. Nested
// documents are map[string]any and lists are []any.
type Document map[string]any

// Key returns the document's primary key, or "" if unset.
func (d Document) Key() string {
	k, _ := d[FieldID].(string)
	return k
}

// Ops are the collection operations available both standalone and inside a
// batch transaction.
type Ops interface {
	// Insert stores a new document. A missing _id is generated and written
	// back into doc. Inserting an existing key is a conflict.
	Insert(coll string, doc Document) (string, error)

	// Get returns the document stored under key.
	Get(coll, key string) (Document, error)

	// Update replaces the document stored under key. Returns ErrNotFound if
	// the key does not exist.
	Update(coll, key string, doc Document) error

	// Delete physically removes the document identified by doc's _id.
	Delete(coll string, doc Document) error

	// Search returns one page of matching documents and the total match count.
	Search(coll string, filter Filter, sort Sort, page, pageSize int) ([]Document, int, error)
}

// Store is a document store.
type Store interface {
	Ops

	// Batch runs fn in a single write transaction. Every write made through
	// the supplied Ops commits together or not at all.
	Batch(fn func(tx Ops) error) error

	Close() error
}

// SetDeleted sets the soft-delete flag on doc.
func SetDeleted(doc Document, deleted bool) {
	doc[FieldDeleted] = deleted
}

// Offset returns how many matches a page skips.
func Offset(page, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return max(0, page-1) * pageSize
}
