package library

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// TableSchema lists the columns a table is known to have.
type TableSchema struct {
	Name    string
	Columns []string
}

// HasColumn reports whether col is one of the table's columns.
func (t TableSchema) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Tables is the static schema created by the migrations. Anything that builds SQL
// from externally supplied identifiers must check them against this list first.
var Tables = []TableSchema{
	{Name: "users", Columns: []string{"id", "username", "email", "password"}},
	{Name: "books", Columns: []string{
		"id", "title", "authors", "description", "thumbnail", "publishedDate",
		"pageCount", "categories", "averageRating", "status", "dateAdded",
	}},
	{Name: "reminders", Columns: []string{"id", "bookId", "bookTitle", "time", "daysOfWeek", "isEnabled"}},
}

// LookupTable returns the schema for name.
func LookupTable(name string) (TableSchema, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// EnsureSchema creates the users, books and reminders tables if they are missing.
// It is idempotent and never drops data; after the first success it returns immediately.
func (d *Database) EnsureSchema(ctx context.Context) error {
	if d.schemaReady.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()
	if d.schemaReady.Load() {
		return nil
	}

	if err := applyMigrations(d.path); err != nil {
		d.logger.Error("schema migration failed", "path", d.path, "error", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	d.schemaReady.Store(true)
	return nil
}

func applyMigrations(dbPath string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}
