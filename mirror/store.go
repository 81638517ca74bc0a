// Package mirror serves a point-in-time copy of the tracker database over REST
// and announces every change on a WebSocket feed.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"reading-tracker/library"
)

var (
	ErrInvalidTable  = errors.New("invalid table")
	ErrInvalidColumn = errors.New("invalid column")
	ErrEmptyBody     = errors.New("empty body")
)

// TableInfo is one entry of ListTables.
type TableInfo struct {
	Name string `json:"name" db:"name"`
}

// Row is one table row keyed by column name.
type Row map[string]any

// Store runs generic table CRUD against the snapshot copy. Table and column names
// are checked against library.Tables before any statement is built.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens the copy at path. The file must already exist.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?mode=rw&_busy_timeout=5000&_foreign_keys=1", path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	logger.Info("connected to snapshot", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ListTables returns the known tables present in the file, by name.
func (s *Store) ListTables(ctx context.Context) ([]TableInfo, error) {
	var all []TableInfo
	if err := s.db.SelectContext(ctx, &all, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make([]TableInfo, 0, len(all))
	for _, t := range all {
		if _, ok := library.LookupTable(t.Name); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ReadTable returns every row of table.
func (s *Store) ReadTable(ctx context.Context, table string) ([]Row, error) {
	schema, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM "+quote(schema.Name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r := Row{}
		if err := rows.MapScan(r); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return out, nil
}

// CreateRow inserts fields into table and returns the new rowid.
func (s *Store) CreateRow(ctx context.Context, table string, fields Row) (int64, error) {
	schema, cols, args, err := prepare(table, fields)
	if err != nil {
		return 0, err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(schema.Name), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// UpdateRow sets fields on the row of table whose id is id and returns the number
// of rows changed.
func (s *Store) UpdateRow(ctx context.Context, table, id string, fields Row) (int64, error) {
	schema, cols, args, err := prepare(table, fields)
	if err != nil {
		return 0, err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quote(c) + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(schema.Name), strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// DeleteRow removes the row of table whose id is id.
func (s *Store) DeleteRow(ctx context.Context, table, id string) (int64, error) {
	schema, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+quote(schema.Name)+" WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func lookupTable(name string) (library.TableSchema, error) {
	t, ok := library.LookupTable(name)
	if !ok {
		return library.TableSchema{}, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return t, nil
}

// prepare validates the table and every key of fields, returning the columns in a
// stable order with their bound values.
func prepare(table string, fields Row) (library.TableSchema, []string, []any, error) {
	schema, err := lookupTable(table)
	if err != nil {
		return schema, nil, nil, err
	}
	if len(fields) == 0 {
		return schema, nil, nil, ErrEmptyBody
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !schema.HasColumn(c) {
			return schema, nil, nil, fmt.Errorf("%w: %s.%q", ErrInvalidColumn, table, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := bindValue(fields[c])
		if err != nil {
			return schema, nil, nil, fmt.Errorf("column %s: %w", c, err)
		}
		args[i] = v
	}
	return schema, cols, args, nil
}

// bindValue converts a decoded JSON value to something the driver stores:
// arrays and objects as JSON text, booleans as 0/1.
func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	default:
		return x, nil
	}
}

// decodeRow parses a request body, keeping numbers exact.
func decodeRow(body []byte) (Row, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var r Row
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if len(r) == 0 {
		return nil, ErrEmptyBody
	}
	return r, nil
}

// quote double-quotes an identifier already known to the schema.
func quote(ident string) string { return `"` + ident + `"` }
