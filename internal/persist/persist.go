// Package persist keeps emulator tables in a single SQLite file.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	_ "modernc.org/sqlite"

	"github.com/jacentio/dynamock/attr"
)

// TableRecord is the stored schema of one table.
type TableRecord struct {
	Name     string
	HashKey  string
	RangeKey string
	Allowed  []string
}

// IndexRecord is the stored definition of one secondary index.
type IndexRecord struct {
	Name             string   `json:"name"`
	ProjectionType   string   `json:"projection_type"`
	HashKey          string   `json:"hash_key"`
	SortKey          string   `json:"sort_key,omitempty"`
	NonKeyAttributes []string `json:"non_key_attributes,omitempty"`
}

// DB is a SQLite-backed table file. Every call commits on return.
type DB struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	name      TEXT PRIMARY KEY,
	hash_key  TEXT NOT NULL,
	range_key TEXT NOT NULL DEFAULT '',
	allowed   TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS items (
	table_name TEXT NOT NULL,
	hash       TEXT NOT NULL,
	range_key  TEXT NOT NULL,
	body       BLOB NOT NULL,
	PRIMARY KEY (table_name, hash, range_key)
);
CREATE TABLE IF NOT EXISTS indexes (
	table_name TEXT NOT NULL,
	name       TEXT NOT NULL,
	spec       TEXT NOT NULL,
	PRIMARY KEY (table_name, name)
);`

// Open opens (or creates) the database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// SaveTable records a table schema and its reserved-word allow list.
func (d *DB) SaveTable(ctx context.Context, rec TableRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	allowed, err := json.Marshal(nonNil(rec.Allowed))
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO tables (name, hash_key, range_key, allowed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			hash_key = excluded.hash_key,
			range_key = excluded.range_key,
			allowed = excluded.allowed`,
		rec.Name, rec.HashKey, rec.RangeKey, string(allowed),
	)
	if err != nil {
		return fmt.Errorf("save table %q: %w", rec.Name, err)
	}
	return nil
}

// LoadTables returns every stored table in creation order.
func (d *DB) LoadTables(ctx context.Context) ([]TableRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx, "SELECT name, hash_key, range_key, allowed FROM tables ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	defer rows.Close()

	var out []TableRecord
	for rows.Next() {
		var rec TableRecord
		var allowed string
		if err := rows.Scan(&rec.Name, &rec.HashKey, &rec.RangeKey, &allowed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(allowed), &rec.Allowed); err != nil {
			return nil, fmt.Errorf("table %q allow list: %w", rec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveItem writes item at (table, hash, rng), replacing any previous body.
func (d *DB) SaveItem(ctx context.Context, table, hash, rng string, item map[string]types.AttributeValue) error {
	body, err := json.Marshal(attr.JSONItem(item))
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO items (table_name, hash, range_key, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(table_name, hash, range_key) DO UPDATE SET
			body = excluded.body`,
		table, hash, rng, body,
	)
	if err != nil {
		return fmt.Errorf("save item %s/%s/%s: %w", table, hash, rng, err)
	}
	return nil
}

// DeleteItem removes the item at (table, hash, rng). Missing rows are not an error.
func (d *DB) DeleteItem(ctx context.Context, table, hash, rng string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx,
		"DELETE FROM items WHERE table_name = ? AND hash = ? AND range_key = ?",
		table, hash, rng,
	)
	if err != nil {
		return fmt.Errorf("delete item %s/%s/%s: %w", table, hash, rng, err)
	}
	return nil
}

// LoadItems returns every item stored for table.
func (d *DB) LoadItems(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx,
		"SELECT body FROM items WHERE table_name = ? ORDER BY hash, range_key", table)
	if err != nil {
		return nil, fmt.Errorf("load items %q: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]types.AttributeValue
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var item attr.JSONItem
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("decode item in %q: %w", table, err)
		}
		out = append(out, map[string]types.AttributeValue(item))
	}
	return out, rows.Err()
}

// SaveIndex records an index definition. Redefining a name keeps its position.
func (d *DB) SaveIndex(ctx context.Context, table string, rec IndexRecord) error {
	spec, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO indexes (table_name, name, spec)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name, name) DO UPDATE SET
			spec = excluded.spec`,
		table, rec.Name, string(spec),
	)
	if err != nil {
		return fmt.Errorf("save index %s/%s: %w", table, rec.Name, err)
	}
	return nil
}

// LoadIndexes returns the index definitions of table in registration order.
func (d *DB) LoadIndexes(ctx context.Context, table string) ([]IndexRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx,
		"SELECT spec FROM indexes WHERE table_name = ? ORDER BY rowid", table)
	if err != nil {
		return nil, fmt.Errorf("load indexes %q: %w", table, err)
	}
	defer rows.Close()

	var out []IndexRecord
	for rows.Next() {
		var spec string
		if err := rows.Scan(&spec); err != nil {
			return nil, err
		}
		var rec IndexRecord
		if err := json.Unmarshal([]byte(spec), &rec); err != nil {
			return nil, fmt.Errorf("decode index in %q: %w", table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
