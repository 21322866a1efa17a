// Package mapper converts domain records to and from store documents.
//
// Every document carries the common entity fields (createdDate, createdBy,
// updatedDate, updatedBy, deleted, metadata) next to its own fields, plus a
// schemaVersion. Dates are Unix milliseconds, enums are stored by name, and
// metadata is a list of {name, value} pairs.
package mapper

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"devicetrack/internal/apperr"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// SchemaVersion is written into every document.
const SchemaVersion = 1

// Document field names shared across collections.
const (
	FieldSchemaVersion = "schemaVersion"
	FieldCreatedDate   = "createdDate"
	FieldCreatedBy     = "createdBy"
	FieldUpdatedDate   = "updatedDate"
	FieldUpdatedBy     = "updatedBy"
	FieldDeleted       = store.FieldDeleted
	FieldMetadata      = "metadata"

	FieldToken                 = "token"
	FieldName                  = "name"
	FieldValue                 = "value"
	FieldSiteToken             = "siteToken"
	FieldHardwareID            = "hardwareId"
	FieldAssignmentToken       = "assignmentToken"
	FieldDeviceHardwareID      = "deviceHardwareId"
	FieldStatus                = "status"
	FieldActiveDate            = "activeDate"
	FieldReleasedDate          = "releasedDate"
	FieldDeviceAssignmentToken = "deviceAssignmentToken"
	FieldAssetName             = "assetName"
	FieldEventDate             = "eventDate"
	FieldReceivedDate          = "receivedDate"
	FieldLatLong               = "latLong"
	FieldLatitude              = "latitude"
	FieldLongitude             = "longitude"
	FieldElevation             = "elevation"
	FieldState                 = "state"
)

// FieldLastLatLong is the path of an assignment's last known coordinates.
const FieldLastLatLong = FieldState + ".lastLocation." + FieldLatLong

func putEntity(doc store.Document, e model.Entity) {
	doc[FieldSchemaVersion] = SchemaVersion
	doc[FieldCreatedDate] = millis(e.CreatedDate)
	doc[FieldCreatedBy] = e.CreatedBy
	doc[FieldUpdatedDate] = millisPtr(e.UpdatedDate)
	doc[FieldUpdatedBy] = e.UpdatedBy
	doc[FieldDeleted] = e.Deleted
	doc[FieldMetadata] = putMetadata(e.Metadata)
}

func (r *reader) entity() model.Entity {
	return model.Entity{
		CreatedDate: r.time(FieldCreatedDate),
		CreatedBy:   r.str(FieldCreatedBy),
		UpdatedDate: r.timePtr(FieldUpdatedDate),
		UpdatedBy:   r.str(FieldUpdatedBy),
		Deleted:     r.boolean(FieldDeleted),
		Metadata:    r.metadata(FieldMetadata),
	}
}

// putMetadata emits metadata sorted by name so equal maps encode equally.
func putMetadata(m model.Metadata) []any {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, k := range names {
		out = append(out, map[string]any{FieldName: k, FieldValue: m[k]})
	}
	return out
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatPtrOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// reader extracts typed fields from a document. The first type mismatch is
// kept in err and later reads return zero values.
type reader struct {
	kind string
	doc  map[string]any
	err  error
}

func newReader(kind string, doc map[string]any) *reader {
	return &reader{kind: kind, doc: doc}
}

func (r *reader) fail(field string, v any) {
	if r.err == nil {
		r.err = apperr.Validation(apperr.MalformedDocument, "%s: field %q has unexpected type %T", r.kind, field, v)
	}
}

func (r *reader) invalid(field string, err error) {
	if r.err == nil {
		r.err = apperr.Validation(apperr.MalformedDocument, "%s: field %q: %v", r.kind, field, err)
	}
}

func (r *reader) done() error { return r.err }

func (r *reader) str(field string) string {
	v := r.doc[field]
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, v)
	}
	return s
}

func (r *reader) strPtr(field string) *string {
	if r.doc[field] == nil {
		return nil
	}
	s := r.str(field)
	return &s
}

func (r *reader) boolean(field string) bool {
	v := r.doc[field]
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(field, v)
	}
	return b
}

func (r *reader) float(field string) float64 {
	v := r.doc[field]
	if v == nil {
		return 0
	}
	f, ok := toFloat(v)
	if !ok {
		r.fail(field, v)
	}
	return f
}

func (r *reader) floatPtr(field string) *float64 {
	if r.doc[field] == nil {
		return nil
	}
	f := r.float(field)
	return &f
}

func (r *reader) time(field string) time.Time {
	v := r.doc[field]
	if v == nil {
		return time.Time{}
	}
	f, ok := toFloat(v)
	if !ok {
		r.fail(field, v)
		return time.Time{}
	}
	return time.UnixMilli(int64(f)).UTC()
}

func (r *reader) timePtr(field string) *time.Time {
	if r.doc[field] == nil {
		return nil
	}
	t := r.time(field)
	return &t
}

func (r *reader) sub(field string) map[string]any {
	v := r.doc[field]
	if v == nil {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		r.fail(field, v)
	}
	return m
}

func (r *reader) list(field string) []any {
	v := r.doc[field]
	if v == nil {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		r.fail(field, v)
	}
	return l
}

// child reads a nested document. Its error is merged back with absorb.
func (r *reader) child(kind string, m map[string]any) *reader {
	return &reader{kind: r.kind + "." + kind, doc: m}
}

func (r *reader) absorb(c *reader) {
	if r.err == nil {
		r.err = c.err
	}
}

func (r *reader) metadata(field string) model.Metadata {
	out := model.Metadata{}
	for i, item := range r.list(field) {
		m, ok := asMap(item)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", field, i), item)
			continue
		}
		c := r.child(field, m)
		out[c.str(FieldName)] = c.str(FieldValue)
		r.absorb(c)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case store.Document:
		return m, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
