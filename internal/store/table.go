package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Table is a typed view over one table of a Store.
type Table[T any] struct {
	store Store
	name  string
	key   func(T) string
	index func(T) int64
}

// NewTable binds a table name to a Store. key extracts the primary key of an
// item; index (optional) extracts its ordering key.
func NewTable[T any](s Store, name string, key func(T) string, index func(T) int64) *Table[T] {
	return &Table[T]{store: s, name: name, key: key, index: index}
}

// GetPage returns the decoded items matching q.
func (t *Table[T]) GetPage(ctx context.Context, q Query) ([]T, error) {
	records, err := t.store.GetPage(ctx, t.name, q)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(records))
	for _, r := range records {
		var item T
		if err := json.Unmarshal(r.Data, &item); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", t.name, r.Key, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// All returns every item in index order.
func (t *Table[T]) All(ctx context.Context) ([]T, error) {
	return t.GetPage(ctx, Query{})
}

// SaveAll replaces the table contents with items.
func (t *Table[T]) SaveAll(ctx context.Context, items []T) error {
	records, err := t.encode(items)
	if err != nil {
		return err
	}
	return t.store.SaveAll(ctx, t.name, records)
}

// UpsertAll inserts or overwrites items by key.
func (t *Table[T]) UpsertAll(ctx context.Context, items ...T) error {
	if len(items) == 0 {
		return nil
	}
	records, err := t.encode(items)
	if err != nil {
		return err
	}
	return t.store.UpsertAll(ctx, t.name, records)
}

// Delete removes items by key.
func (t *Table[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return t.store.Delete(ctx, t.name, keys...)
}

// Clear drops every item of the table.
func (t *Table[T]) Clear(ctx context.Context) error {
	return t.store.Clear(ctx, t.name)
}

func (t *Table[T]) encode(items []T) ([]Record, error) {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t.name, err)
		}
		r := Record{Key: t.key(item), Data: data}
		if t.index != nil {
			r.Index = t.index(item)
		}
		records = append(records, r)
	}
	return records, nil
}
