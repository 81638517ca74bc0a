package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"), WithClock(steppingClock()))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *Database, table string) int {
	t.Helper()
	var n int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lib.db")

	db, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AddBookToLibrary(ctx, &Book{ID: "B1", Title: "1984"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	db.Close()

	// Reopening runs the migrations a second time against the existing file.
	db, err = NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	books, err := db.GetLibraryBooks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 || books[0].ID != "B1" {
		t.Fatalf("existing data lost: %+v", books)
	}
}

func TestNewDatabaseUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewDatabase(filepath.Join(blocker, "sub", "test.db"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("want ErrStorageUnavailable, got %v", err)
	}
}

func TestUserLogin(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if err := db.InsertUser(ctx, "alice", "a@x.com", "Secret1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	u, err := db.GetUser(ctx, "alice", "Secret1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u == nil || u.Username != "alice" || u.Email != "a@x.com" {
		t.Fatalf("unexpected user %+v", u)
	}

	u, err = db.GetUser(ctx, "alice", "wrong")
	if err != nil || u != nil {
		t.Fatalf("wrong password: want nil,nil got %+v,%v", u, err)
	}
	u, err = db.GetUser(ctx, "bob", "Secret1")
	if err != nil || u != nil {
		t.Fatalf("unknown user: want nil,nil got %+v,%v", u, err)
	}
}

func TestUnknownUserCostsAComparison(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	if err := db.InsertUser(ctx, "alice", "a@x.com", "Secret1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if cost, err := bcrypt.Cost(dummyHash()); err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("dummy hash cost %d, %v", cost, err)
	}

	timed := func(username string) time.Duration {
		start := time.Now()
		if u, err := db.GetUser(ctx, username, "wrong"); u != nil || err != nil {
			t.Fatalf("GetUser(%q) = %+v, %v", username, u, err)
		}
		return time.Since(start)
	}
	wrong := timed("alice")
	unknown := timed("bob")
	if unknown < wrong/4 {
		t.Fatalf("unknown user answered in %v, wrong password in %v", unknown, wrong)
	}
}

func TestPasswordIsHashed(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	if err := db.InsertUser(ctx, "alice", "a@x.com", "Secret1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	users, err := db.ListAllUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("want 1 user, got %d", len(users))
	}
	if users[0].PasswordHash == "Secret1" || !strings.HasPrefix(users[0].PasswordHash, "$2") {
		t.Fatalf("password not stored as bcrypt hash: %q", users[0].PasswordHash)
	}
}

func TestDuplicateUsers(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	if err := db.InsertUser(ctx, "alice", "a@x.com", "Secret1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tests := []struct {
		name     string
		username string
		email    string
		want     error
	}{
		{"same username", "alice", "other@x.com", ErrDuplicateUsername},
		{"same email", "bob", "a@x.com", ErrDuplicateEmail},
		{"blank username", " ", "c@x.com", ErrMissingRequiredField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.InsertUser(ctx, tt.username, tt.email, "pw")
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
			if n := countRows(t, db, "users"); n != 1 {
				t.Fatalf("users table changed: %d rows", n)
			}
		})
	}
}

func TestAddBookRoundTrip(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	in := &Book{
		ID:            "zyTCAlFPjgYC",
		Title:         "The Google Story",
		Authors:       []string{"David A. Vise", "Mark Malseed"},
		Description:   "Here is the story behind one of the most remarkable Internet successes.",
		ThumbnailURL:  "http://books.google.com/books/content?id=zyTCAlFPjgYC",
		PublishedDate: "2005-11-15",
		PageCount:     207,
		Categories:    []string{"Browsers (Computer programs)"},
		AverageRating: 3.5,
	}
	if err := db.AddBookToLibrary(ctx, in); err != nil {
		t.Fatalf("add: %v", err)
	}

	books, err := db.GetLibraryBooks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("want 1 book, got %d", len(books))
	}
	got := books[0]
	if got.Status != StatusToRead {
		t.Fatalf("status = %q, want to-read", got.Status)
	}
	if got.DateAdded.IsZero() {
		t.Fatalf("dateAdded not set")
	}
	got.Status, got.DateAdded = "", time.Time{}
	if !equalBooks(got, in) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

func TestAddBookEmptyOptionals(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	if err := db.AddBookToLibrary(ctx, &Book{ID: "B1", Title: "1984"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := db.GetBook(ctx, "B1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(b.Authors) != 0 || len(b.Categories) != 0 || b.PageCount != 0 || b.Description != "" {
		t.Fatalf("unexpected optional values: %+v", b)
	}
}

func TestAddBookMissingFields(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for _, b := range []*Book{nil, {Title: "No id"}, {ID: "B1"}} {
		if err := db.AddBookToLibrary(ctx, b); !errors.Is(err, ErrMissingRequiredField) {
			t.Fatalf("book %+v: want ErrMissingRequiredField, got %v", b, err)
		}
	}
	if n := countRows(t, db, "books"); n != 0 {
		t.Fatalf("want empty books table, got %d rows", n)
	}
}

func TestReAddKeepsStatus(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if err := db.AddBookToLibrary(ctx, &Book{ID: "B1", Title: "1984", Authors: []string{"Orwell"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.UpdateBookStatus(ctx, "B1", StatusCompleted); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := db.AddBookToLibrary(ctx, &Book{ID: "B1", Title: "Nineteen Eighty-Four", Authors: []string{"George Orwell"}}); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	books, err := db.GetLibraryBooks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("want 1 book, got %d", len(books))
	}
	b := books[0]
	if b.Title != "Nineteen Eighty-Four" || b.Authors[0] != "George Orwell" {
		t.Fatalf("metadata not updated: %+v", b)
	}
	if b.Status != StatusCompleted {
		t.Fatalf("status reset to %q", b.Status)
	}
}

func TestUpdateStatusScenario(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	err := db.AddBookToLibrary(ctx, &Book{ID: "B1", Title: "1984", Authors: []string{"Orwell"}, Categories: []string{"Fiction"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.UpdateBookStatus(ctx, "B1", StatusReading); err != nil {
		t.Fatalf("status: %v", err)
	}
	books, _ := db.GetLibraryBooks(ctx)
	if len(books) != 1 || books[0].Status != StatusReading {
		t.Fatalf("want one reading book, got %+v", books)
	}

	if err := db.UpdateBookStatus(ctx, "missing", StatusReading); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := db.UpdateBookStatus(ctx, "B1", Status("paused")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("want ErrInvalidStatus, got %v", err)
	}
}

func TestLibraryOrderedByDateAdded(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		if err := db.AddBookToLibrary(ctx, &Book{ID: id, Title: "Book " + id}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	// Re-adding moves a book back to the top.
	if err := db.AddBookToLibrary(ctx, &Book{ID: "A", Title: "Book A"}); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	books, err := db.GetLibraryBooks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	if got := strings.Join(ids, ","); got != "A,C,B" {
		t.Fatalf("order = %s, want A,C,B", got)
	}
}

func TestCorruptRowsAreSkipped(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	if err := db.AddBookToLibrary(ctx, &Book{ID: "good", Title: "Good"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := db.db.Exec(`INSERT INTO books(id,title,authors,categories) VALUES('bad','Bad','not json','[]')`); err != nil {
		t.Fatalf("raw insert: %v", err)
	}
	if _, err := db.db.Exec(`INSERT INTO books(id,title,authors,categories,status) VALUES('odd','Odd','[]','[]','lost')`); err != nil {
		t.Fatalf("raw insert: %v", err)
	}

	books, err := db.GetLibraryBooks(ctx)
	if err != nil {
		t.Fatalf("list should tolerate corrupt rows: %v", err)
	}
	if len(books) != 1 || books[0].ID != "good" {
		t.Fatalf("want only the good row, got %+v", books)
	}
}

func TestRemoveBookCascades(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	if err := db.AddBookToLibrary(ctx, &Book{ID: "B1", Title: "1984"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.AddBookToLibrary(ctx, &Book{ID: "B2", Title: "Dune"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, id := range []string{"B1", "B1", "B2"} {
		if _, err := db.AddReminder(ctx, id, "title", "08:30", []int{1, 3}); err != nil {
			t.Fatalf("reminder: %v", err)
		}
	}

	if err := db.RemoveBookFromLibrary(ctx, "B1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	books, _ := db.GetLibraryBooks(ctx)
	for _, b := range books {
		if b.ID == "B1" {
			t.Fatalf("B1 still listed")
		}
	}
	rs, err := db.GetBookReminders(ctx, "B1")
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	if len(rs) != 0 {
		t.Fatalf("want no reminders after cascade, got %d", len(rs))
	}
	if rs, _ := db.GetBookReminders(ctx, "B2"); len(rs) != 1 {
		t.Fatalf("other book's reminders touched: %d", len(rs))
	}
}

func equalBooks(a, b *Book) bool {
	return a.ID == b.ID && a.Title == b.Title && a.Description == b.Description &&
		a.ThumbnailURL == b.ThumbnailURL && a.PublishedDate == b.PublishedDate &&
		a.PageCount == b.PageCount && a.AverageRating == b.AverageRating &&
		strings.Join(a.Authors, "\x00") == strings.Join(b.Authors, "\x00") &&
		strings.Join(a.Categories, "\x00") == strings.Join(b.Categories, "\x00")
}
