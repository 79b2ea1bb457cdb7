// Package store is the generic persistent table layer the client keeps its
// offline state in. Every table holds JSON documents addressed by a key and
// ordered by an integer index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"

	"github.com/tidwall/gjson"
)

var ErrEmptyKey = errors.New("record key is empty")

// Record is a single stored document.
type Record struct {
	Key   string
	Index int64
	Data  json.RawMessage
}

// Condition matches records whose JSON field (gjson/SQLite path syntax,
// e.g. "status" or "session.id") equals Value.
type Condition struct {
	Field string
	Value any
}

// SortField selects the ordering of GetPage results.
type SortField string

const (
	SortByIndex SortField = "index"
	SortByKey   SortField = "key"
)

// Query selects a page of records. Page is 1-based; PageSize <= 0 returns
// every matching record.
type Query struct {
	Page     int
	PageSize int
	Filter   []Condition
	SortBy   SortField
	Desc     bool
}

func (q Query) bounds() (offset, limit int) {
	if q.PageSize <= 0 {
		return 0, -1
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * q.PageSize, q.PageSize
}

// Store is the table persistence collaborator.
//
// SaveAll replaces the whole table with records; UpsertAll inserts or
// overwrites records by key and leaves the rest of the table alone. Both are
// atomic per call and durable once they return.
type Store interface {
	GetPage(ctx context.Context, table string, q Query) ([]Record, error)
	SaveAll(ctx context.Context, table string, records []Record) error
	UpsertAll(ctx context.Context, table string, records []Record) error
	Delete(ctx context.Context, table string, keys ...string) error
	Clear(ctx context.Context, table string) error
	Close() error
}

func validate(records []Record) error {
	for _, r := range records {
		if r.Key == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

// matches evaluates filter against a JSON document.
func matches(data []byte, filter []Condition) bool {
	for _, c := range filter {
		got := gjson.GetBytes(data, c.Field)
		want, err := json.Marshal(c.Value)
		if err != nil {
			return false
		}
		if !reflect.DeepEqual(got.Value(), gjson.ParseBytes(want).Value()) {
			return false
		}
	}
	return true
}

// sortRecords orders records in place; ties fall back to key order.
func sortRecords(records []Record, by SortField, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if desc {
			a, b = b, a
		}
		if by != SortByKey && a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Key < b.Key
	})
}

func paginate(records []Record, q Query) []Record {
	offset, limit := q.bounds()
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit >= 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
