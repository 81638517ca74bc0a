package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateAddedLayout = "2006-01-02 15:04:05.000"

// dateAdded values written by SQLite's CURRENT_TIMESTAMP have no fractional part.
var dateAddedLayouts = []string{dateAddedLayout, "2006-01-02 15:04:05", time.RFC3339Nano}

const bookColumns = `id,title,authors,description,thumbnail,publishedDate,pageCount,categories,averageRating,status,dateAdded`

// AddBookToLibrary upserts book by id. A new book starts as to-read; re-adding an
// existing one overwrites its metadata and refreshes dateAdded but keeps its status.
func (d *Database) AddBookToLibrary(ctx context.Context, book *Book) error {
	if book == nil || strings.TrimSpace(book.ID) == "" || strings.TrimSpace(book.Title) == "" {
		return fmt.Errorf("%w: book id and title are required", ErrMissingRequiredField)
	}
	if err := d.EnsureSchema(ctx); err != nil {
		return err
	}

	added := d.now().UTC()
	_, err := d.upsertBookStmt.ExecContext(ctx,
		book.ID,
		book.Title,
		encodeStrings(book.Authors),
		nullString(book.Description),
		nullString(book.ThumbnailURL),
		nullString(book.PublishedDate),
		sql.NullInt64{Int64: int64(book.PageCount), Valid: book.PageCount != 0},
		encodeStrings(book.Categories),
		sql.NullFloat64{Float64: book.AverageRating, Valid: book.AverageRating != 0},
		added.Format(dateAddedLayout),
	)
	if err != nil {
		d.logger.Error("add book failed", "book_id", book.ID, "error", err)
		return storageErr("add book", err)
	}
	d.logger.Info("book added to library", "book_id", book.ID, "title", book.Title)
	return nil
}

// bookRow is the raw shape of a books row before the JSON columns are decoded.
type bookRow struct {
	id            string
	title         string
	authors       sql.NullString
	description   sql.NullString
	thumbnail     sql.NullString
	publishedDate sql.NullString
	pageCount     sql.NullInt64
	categories    sql.NullString
	averageRating sql.NullFloat64
	status        sql.NullString
	dateAdded     sql.NullString
}

func (r *bookRow) scan(s interface{ Scan(...any) error }) error {
	return s.Scan(&r.id, &r.title, &r.authors, &r.description, &r.thumbnail, &r.publishedDate,
		&r.pageCount, &r.categories, &r.averageRating, &r.status, &r.dateAdded)
}

// decode turns the raw row into a Book. Rows written by other tools may hold
// malformed JSON or unknown statuses; those are reported as errors.
func (r *bookRow) decode() (*Book, error) {
	b := &Book{
		ID:            r.id,
		Title:         r.title,
		Description:   r.description.String,
		ThumbnailURL:  r.thumbnail.String,
		PublishedDate: r.publishedDate.String,
		PageCount:     int(r.pageCount.Int64),
		AverageRating: r.averageRating.Float64,
		Status:        StatusToRead,
	}

	var err error
	if b.Authors, err = decodeStrings(r.authors); err != nil {
		return nil, fmt.Errorf("authors: %w", err)
	}
	if b.Categories, err = decodeStrings(r.categories); err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	if r.status.Valid && r.status.String != "" {
		if b.Status, err = ParseStatus(r.status.String); err != nil {
			return nil, err
		}
	}
	if r.dateAdded.Valid && r.dateAdded.String != "" {
		if b.DateAdded, err = parseDateAdded(r.dateAdded.String); err != nil {
			return nil, fmt.Errorf("dateAdded: %w", err)
		}
	}
	return b, nil
}

// GetLibraryBooks lists the library, most recently added first. Rows that cannot
// be decoded are logged and skipped instead of failing the whole listing.
func (d *Database) GetLibraryBooks(ctx context.Context) ([]*Book, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY dateAdded DESC, rowid DESC`)
	if err != nil {
		d.logger.Error("list books failed", "error", err)
		return nil, storageErr("list books", err)
	}
	defer rows.Close()

	books := []*Book{}
	for rows.Next() {
		var r bookRow
		if err := r.scan(rows); err != nil {
			return nil, storageErr("scan book", err)
		}
		b, err := r.decode()
		if err != nil {
			d.logger.Warn("skipping corrupt book row", "book_id", r.id, "error", err)
			continue
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list books", err)
	}
	return books, nil
}

// GetBook fetches a single library entry.
func (d *Database) GetBook(ctx context.Context, id string) (*Book, error) {
	var r bookRow
	err := r.scan(d.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get book", err)
	}
	b, err := r.decode()
	if err != nil {
		return nil, storageErr("decode book", err)
	}
	return b, nil
}

// UpdateBookStatus moves a book to another reading state.
func (d *Database) UpdateBookStatus(ctx context.Context, bookID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := d.db.ExecContext(ctx, `UPDATE books SET status=? WHERE id=?`, string(status), bookID)
	if err != nil {
		d.logger.Error("update book status failed", "book_id", bookID, "error", err)
		return storageErr("update book status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update book status", err)
	}
	if n == 0 {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	d.logger.Info("book status updated", "book_id", bookID, "status", status)
	return nil
}

// RemoveBookFromLibrary deletes a book together with all of its reminders.
func (d *Database) RemoveBookFromLibrary(ctx context.Context, bookID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("remove book", err)
	}
	defer tx.Rollback()

	// Reminders first: the ON DELETE CASCADE only fires when PRAGMA foreign_keys is on.
	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE bookId=?`, bookID); err != nil {
		return storageErr("remove book reminders", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id=?`, bookID); err != nil {
		return storageErr("remove book", err)
	}
	if err := tx.Commit(); err != nil {
		d.logger.Error("remove book failed", "book_id", bookID, "error", err)
		return storageErr("remove book", err)
	}
	d.logger.Info("book removed from library", "book_id", bookID)
	return nil
}

func decodeStrings(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func parseDateAdded(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateAddedLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
