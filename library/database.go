package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"reading-tracker/logger"
)

// Database provides the record store over one SQLite file.
type Database struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	schemaMu    sync.Mutex
	schemaReady atomic.Bool

	insertUserStmt *sql.Stmt
	upsertBookStmt *sql.Stmt
}

// Option customises a Database.
type Option func(*Database)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Database) { d.logger = l }
}

// WithClock overrides the clock used for dateAdded.
func WithClock(now func() time.Time) Option {
	return func(d *Database) { d.now = now }
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements. Every failure here is reported as
// ErrStorageUnavailable.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	d := &Database{
		path:   dbPath,
		logger: logger.Discard(),
		now:    time.Now,
		newID:  newReminderID,
	}
	for _, opt := range opts {
		opt(d)
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create db dir: %v", ErrStorageUnavailable, err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStorageUnavailable, err)
	}
	d.db = db

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %v", ErrStorageUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", ErrStorageUnavailable, err)
	}

	if err := d.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := d.prepareStatements(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	d.logger.Info("database opened", "path", dbPath)
	return d, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.insertUserStmt != nil {
		d.insertUserStmt.Close()
	}
	if d.upsertBookStmt != nil {
		d.upsertBookStmt.Close()
	}
	return d.db.Close()
}

// Path returns the file the database was opened from.
func (d *Database) Path() string { return d.path }

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements(ctx context.Context) error {
	var err error
	if d.insertUserStmt, err = d.db.PrepareContext(ctx,
		`INSERT INTO users(username,email,password) VALUES(?,?,?)`); err != nil {
		return err
	}
	// Re-adding a book refreshes its metadata and dateAdded; status keeps its value.
	if d.upsertBookStmt, err = d.db.PrepareContext(ctx, `
        INSERT INTO books(id,title,authors,description,thumbnail,publishedDate,pageCount,categories,averageRating,status,dateAdded)
        VALUES(?,?,?,?,?,?,?,?,?,'to-read',?)
        ON CONFLICT(id) DO UPDATE SET
            title=excluded.title,
            authors=excluded.authors,
            description=excluded.description,
            thumbnail=excluded.thumbnail,
            publishedDate=excluded.publishedDate,
            pageCount=excluded.pageCount,
            categories=excluded.categories,
            averageRating=excluded.averageRating,
            dateAdded=excluded.dateAdded`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// InsertUser registers a user. The password is stored as a bcrypt hash.
func (d *Database) InsertUser(ctx context.Context, username, email, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(email) == "" || password == "" {
		return fmt.Errorf("%w: username, email and password are required", ErrMissingRequiredField)
	}
	if err := d.EnsureSchema(ctx); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := d.insertUserStmt.ExecContext(ctx, username, email, string(hash)); err != nil {
		switch {
		case isUniqueViolation(err, "users.username"):
			return ErrDuplicateUsername
		case isUniqueViolation(err, "users.email"):
			return ErrDuplicateEmail
		}
		d.logger.Error("insert user failed", "username", username, "error", err)
		return storageErr("insert user", err)
	}
	d.logger.Info("user inserted", "username", username)
	return nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("reading-tracker"), bcrypt.DefaultCost)
	})
	return dummy
}

// GetUser returns the user whose username and password match, or nil when either
// the user does not exist or the password is wrong.
func (d *Database) GetUser(ctx context.Context, username, password string) (*User, error) {
	var u User
	var hash sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT id,username,email,password FROM users WHERE username=?`, username).
		Scan(&u.ID, &u.Username, &u.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown users pay for a comparison too.
		bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, nil
	}
	if err != nil {
		d.logger.Error("get user failed", "username", username, "error", err)
		return nil, storageErr("get user", err)
	}

	if !hash.Valid || bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)) != nil {
		return nil, nil
	}
	u.PasswordHash = hash.String
	return &u, nil
}

// ListAllUsers returns every user ordered by id. Intended for debugging.
func (d *Database) ListAllUsers(ctx context.Context) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,COALESCE(username,''),COALESCE(email,''),COALESCE(password,'') FROM users ORDER BY id`)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash); err != nil {
			return nil, storageErr("scan user", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func isUniqueViolation(err error, column string) bool {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return strings.Contains(se.Error(), column)
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
