package library

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func seedBook(t *testing.T, db *Database, id string) {
	t.Helper()
	if err := db.AddBookToLibrary(context.Background(), &Book{ID: id, Title: "Title " + id}); err != nil {
		t.Fatalf("add book: %v", err)
	}
}

func TestAddReminderValidation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	seedBook(t, db, "B1")

	tests := []struct {
		name string
		book string
		at   string
		days []int
		want error
	}{
		{"empty days", "B1", "08:00", nil, ErrInvalidDays},
		{"day out of range", "B1", "08:00", []int{1, 7}, ErrInvalidDays},
		{"negative day", "B1", "08:00", []int{-1}, ErrInvalidDays},
		{"bad time", "B1", "8am", []int{1}, ErrInvalidTime},
		{"hour out of range", "B1", "25:00", []int{1}, ErrInvalidTime},
		{"unknown book", "nope", "08:00", []int{1}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.AddReminder(ctx, tt.book, "Title", tt.at, tt.days)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
	if n := countRows(t, db, "reminders"); n != 0 {
		t.Fatalf("rejected reminders were written: %d", n)
	}
}

func TestAddReminderStoresDays(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	seedBook(t, db, "B1")

	id, err := db.AddReminder(ctx, "B1", "Title B1", "21:15", []int{5, 0, 5, 3})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(id, "reminder_") {
		t.Fatalf("unexpected id %q", id)
	}

	rs, err := db.GetBookReminders(ctx, "B1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("want 1 reminder, got %d", len(rs))
	}
	r := rs[0]
	if r.ID != id || r.BookTitle != "Title B1" || r.Time != "21:15" || !r.IsEnabled {
		t.Fatalf("unexpected reminder %+v", r)
	}
	if !reflect.DeepEqual(r.DaysOfWeek, []int{0, 3, 5}) {
		t.Fatalf("days = %v, want [0 3 5]", r.DaysOfWeek)
	}
}

func TestReminderIDsAreUnique(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	seedBook(t, db, "B1")

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := db.AddReminder(ctx, "B1", "t", "07:00", []int{i % 7})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestUpdateAndDeleteReminder(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	seedBook(t, db, "B1")

	id, err := db.AddReminder(ctx, "B1", "Title", "08:00", []int{1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.UpdateReminder(ctx, id, "19:45", []int{6, 2}, false); err != nil {
		t.Fatalf("update: %v", err)
	}
	r, err := db.GetReminder(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Time != "19:45" || r.IsEnabled || !reflect.DeepEqual(r.DaysOfWeek, []int{2, 6}) {
		t.Fatalf("update not applied: %+v", r)
	}

	if err := db.UpdateReminder(ctx, "missing", "19:45", []int{1}, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := db.UpdateReminder(ctx, id, "19:45", []int{}, true); !errors.Is(err, ErrInvalidDays) {
		t.Fatalf("want ErrInvalidDays, got %v", err)
	}

	if err := db.DeleteReminder(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetReminder(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if err := db.DeleteReminder(ctx, id); err != nil {
		t.Fatalf("deleting twice should be a no-op: %v", err)
	}
}

func TestGetAllReminders(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	seedBook(t, db, "B1")
	seedBook(t, db, "B2")
	db.AddReminder(ctx, "B1", "t", "08:00", []int{1})
	db.AddReminder(ctx, "B2", "t", "09:00", []int{2})

	all, err := db.GetAllReminders(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("want 2, got %d", len(all))
	}
}
