package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every table in a single SQLite file on the device.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the store at dbPath. Use ":memory:" in tests.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; also keeps ":memory:" pinned to a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = FULL;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS records (
		tbl TEXT NOT NULL,
		key TEXT NOT NULL,
		idx INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tbl, key)
	);

	CREATE INDEX IF NOT EXISTS records_tbl_idx ON records (tbl, idx);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetPage pushes filtering, ordering and paging down to SQLite.
func (s *SQLiteStore) GetPage(ctx context.Context, table string, q Query) ([]Record, error) {
	query := `SELECT key, idx, data FROM records WHERE tbl = ?`
	args := []any{table}

	for _, c := range q.Filter {
		if c.Value == nil {
			query += ` AND json_extract(data, ?) IS NULL`
			args = append(args, "$."+c.Field)
			continue
		}
		want, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", c.Field, err)
		}
		query += ` AND json_extract(data, ?) = json_extract(?, '$')`
		args = append(args, "$."+c.Field, string(want))
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.SortBy == SortByKey {
		query += ` ORDER BY key ` + dir
	} else {
		query += ` ORDER BY idx ` + dir + `, key ` + dir
	}

	if offset, limit := q.bounds(); limit >= 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var data string
		if err := rows.Scan(&r.Key, &r.Index, &data); err != nil {
			return nil, err
		}
		r.Data = json.RawMessage(data)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveAll(ctx context.Context, table string, records []Record) error {
	if err := validate(records); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE tbl = ?`, table); err != nil {
			return err
		}
		return insertRecords(ctx, tx, table, records)
	})
}

func (s *SQLiteStore) UpsertAll(ctx context.Context, table string, records []Record) error {
	if err := validate(records); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertRecords(ctx, tx, table, records)
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, table string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, table)
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tbl = ? AND key IN (`+placeholders+`)`, args...)
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tbl = ?`, table)
	return err
}

func insertRecords(ctx context.Context, tx *sql.Tx, table string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (tbl, key, idx, data, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tbl, key) DO UPDATE
		 SET idx = excluded.idx, data = excluded.data, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, table, r.Key, r.Index, string(r.Data), now); err != nil {
			return fmt.Errorf("write %s/%s: %w", table, r.Key, err)
		}
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
