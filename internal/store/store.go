// Package store holds what the database-backed record and schedule stores
// share: record identity, merge and include resolution, and the schedule
// state kinds. The drivers live in the pgstore and sqlstore subpackages.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/bulkio/internal/core"
)

// KeySeparator joins the values of a composite unique key.
const KeySeparator = "|"

// Schedule state kinds stored in the schedule_state table.
const (
	KindConfig = "config"
	KindJob    = "job"
)

var (
	// ErrMissingKey is returned when a record lacks a unique key field.
	ErrMissingKey = errors.New("record is missing a unique key field")

	// ErrDuplicateKey is returned when a record already exists and the
	// write policy neither skips nor updates duplicates.
	ErrDuplicateKey = errors.New("duplicate key: record already exists")
)

// RecordKey returns the identity of r within its entity type: the unique key
// values joined by KeySeparator.
func RecordKey(def core.EntityDefinition, r core.Record) (string, error) {
	if len(def.UniqueKey) == 0 {
		return "", fmt.Errorf("%s has no unique key: %w", def.Type, ErrMissingKey)
	}
	parts := make([]string, len(def.UniqueKey))
	for i, field := range def.UniqueKey {
		v := r.Get(field)
		if v.IsEmpty() {
			return "", fmt.Errorf("%s: %w", field, ErrMissingKey)
		}
		parts[i] = strings.TrimSpace(v.String())
	}
	return strings.Join(parts, KeySeparator), nil
}

// Merge overlays incoming onto existing. Null incoming values keep the
// stored value.
func Merge(existing, incoming core.Record) core.Record {
	out := existing.Clone()
	for k, v := range incoming {
		if v.IsNull() {
			if _, ok := out[k]; ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Include resolves one related entity type for a page of records.
type Include struct {
	Def  core.EntityDefinition
	Keys []string
	// byRecord[i] is the related key for records[i], or "" when the record
	// does not carry every field of the related unique key.
	byRecord []string
}

// PlanInclude computes the related keys a page needs for entityType. It
// returns false when entityType is not registered.
func PlanInclude(entityType string, records []core.Record) (Include, bool) {
	def, ok := core.Get(entityType)
	if !ok {
		return Include{}, false
	}
	inc := Include{Def: def, byRecord: make([]string, len(records))}
	seen := make(map[string]bool)
	for i, r := range records {
		key, err := RecordKey(def, r)
		if err != nil {
			continue
		}
		inc.byRecord[i] = key
		if !seen[key] {
			seen[key] = true
			inc.Keys = append(inc.Keys, key)
		}
	}
	sort.Strings(inc.Keys)
	return inc, true
}

// Attach copies the related records into records, prefixing each related
// field with the entity type ("products.name").
func (inc Include) Attach(records []core.Record, related map[string]core.Record) {
	for i, r := range records {
		rel, ok := related[inc.byRecord[i]]
		if !ok {
			continue
		}
		for k, v := range rel {
			r[inc.Def.Type+"."+k] = v
		}
	}
}

// Project applies a field list to a page. Fields attached for an included
// entity type are kept alongside the listed ones.
func Project(records []core.Record, fields, include []string) []core.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]core.Record, len(records))
	for i, r := range records {
		out[i] = r.ProjectWith(fields, include)
	}
	return out
}

// InRange reports whether r's date field falls inside dr. Records whose
// field is not a date never match a bounded range.
func InRange(r core.Record, dr *core.DateRange) bool {
	if dr == nil || dr.Field == "" || (dr.From == nil && dr.To == nil) {
		return true
	}
	t, ok := r.Get(dr.Field).Instant()
	if !ok {
		return false
	}
	if dr.From != nil && t.Before(*dr.From) {
		return false
	}
	if dr.To != nil && t.After(*dr.To) {
		return false
	}
	return true
}
