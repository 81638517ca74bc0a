package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"reading-tracker/logger"
)

// ErrInvalidCredentials is returned by Login for an unknown user and for a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ReminderScheduler arms and disarms the notifications behind a reminder.
type ReminderScheduler interface {
	Schedule(ctx context.Context, reminderID, bookTitle, at string, daysOfWeek []int) error
	Cancel(ctx context.Context, reminderID string) error
}

// SearchResult is one page of catalog search results.
type SearchResult struct {
	Items      []*Book `json:"items"`
	TotalItems int     `json:"totalItems"`
}

// Catalog searches an external book catalog.
type Catalog interface {
	SearchBooks(ctx context.Context, query string, page int, language, orderBy string) (*SearchResult, error)
}

// LibraryManager is a thin façade over the Database, keeping CLI code simple. It
// also keeps scheduled notifications in step with reminder rows.
type LibraryManager struct {
	db        *Database
	scheduler ReminderScheduler
	catalog   Catalog
	logger    *slog.Logger
}

// NewLibraryManager wires the store to its collaborators. scheduler and catalog may be nil.
func NewLibraryManager(db *Database, scheduler ReminderScheduler, catalog Catalog, log *slog.Logger) *LibraryManager {
	if scheduler == nil {
		scheduler = noopScheduler{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &LibraryManager{db: db, scheduler: scheduler, catalog: catalog, logger: log}
}

// ------------------ Account helpers ------------------

// Register creates an account.
func (lm *LibraryManager) Register(ctx context.Context, username, email, password string) error {
	return lm.db.InsertUser(ctx, strings.TrimSpace(username), strings.TrimSpace(email), password)
}

// Login verifies credentials and returns the matching user.
func (lm *LibraryManager) Login(ctx context.Context, username, password string) (*User, error) {
	u, err := lm.db.GetUser(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return nil, err
	}
	if u == nil {
		lm.logger.Warn("login rejected", "username", username)
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (lm *LibraryManager) Users(ctx context.Context) ([]*User, error) { return lm.db.ListAllUsers(ctx) }

// ------------------ Catalog ------------------

// Search queries the external catalog.
func (lm *LibraryManager) Search(ctx context.Context, query string, page int, language, orderBy string) (*SearchResult, error) {
	if lm.catalog == nil {
		return nil, errors.New("no book catalog configured")
	}
	if strings.TrimSpace(query) == "" {
		return &SearchResult{Items: []*Book{}}, nil
	}
	return lm.catalog.SearchBooks(ctx, query, page, language, orderBy)
}

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, b *Book) error {
	return lm.db.AddBookToLibrary(ctx, b)
}

func (lm *LibraryManager) Books(ctx context.Context) ([]*Book, error) {
	return lm.db.GetLibraryBooks(ctx)
}

func (lm *LibraryManager) Book(ctx context.Context, id string) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) SetStatus(ctx context.Context, id string, status Status) error {
	return lm.db.UpdateBookStatus(ctx, id, status)
}

// RemoveBook deletes a book and cancels the notifications of every reminder the
// delete cascades to.
func (lm *LibraryManager) RemoveBook(ctx context.Context, id string) error {
	reminders, err := lm.db.GetBookReminders(ctx, id)
	if err != nil {
		return err
	}
	if err := lm.db.RemoveBookFromLibrary(ctx, id); err != nil {
		return err
	}
	for _, r := range reminders {
		lm.cancel(ctx, r.ID)
	}
	return nil
}

// ------------------ Reminder helpers ------------------

// AddReminder stores a reminder for a library book and schedules its notifications.
func (lm *LibraryManager) AddReminder(ctx context.Context, bookID, at string, days []int) (*Reminder, error) {
	book, err := lm.db.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	id, err := lm.db.AddReminder(ctx, book.ID, book.Title, at, days)
	if err != nil {
		return nil, err
	}
	r, err := lm.db.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	lm.schedule(ctx, r)
	return r, nil
}

func (lm *LibraryManager) Reminders(ctx context.Context, bookID string) ([]*Reminder, error) {
	return lm.db.GetBookReminders(ctx, bookID)
}

// UpdateReminder changes a reminder; disabling it cancels its notifications.
func (lm *LibraryManager) UpdateReminder(ctx context.Context, id, at string, days []int, enabled bool) error {
	if err := lm.db.UpdateReminder(ctx, id, at, days, enabled); err != nil {
		return err
	}
	r, err := lm.db.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if r.IsEnabled {
		lm.schedule(ctx, r)
	} else {
		lm.cancel(ctx, r.ID)
	}
	return nil
}

func (lm *LibraryManager) DeleteReminder(ctx context.Context, id string) error {
	if err := lm.db.DeleteReminder(ctx, id); err != nil {
		return err
	}
	lm.cancel(ctx, id)
	return nil
}

// RescheduleAll re-arms every enabled reminder, typically once at start-up.
// It returns how many reminders were scheduled.
func (lm *LibraryManager) RescheduleAll(ctx context.Context) (int, error) {
	reminders, err := lm.db.GetAllReminders(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range reminders {
		lm.cancel(ctx, r.ID)
		if r.IsEnabled && lm.schedule(ctx, r) {
			n++
		}
	}
	lm.logger.Info("reminders rescheduled", "total", len(reminders), "scheduled", n)
	return n, nil
}

// Notification failures never undo a stored change; they are logged only.
func (lm *LibraryManager) schedule(ctx context.Context, r *Reminder) bool {
	if err := lm.scheduler.Schedule(ctx, r.ID, r.BookTitle, r.Time, r.DaysOfWeek); err != nil {
		lm.logger.Error("schedule reminder failed", "reminder_id", r.ID, "error", err)
		return false
	}
	return true
}

func (lm *LibraryManager) cancel(ctx context.Context, id string) {
	if err := lm.scheduler.Cancel(ctx, id); err != nil {
		lm.logger.Error("cancel reminder failed", "reminder_id", id, "error", err)
	}
}

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, string, string, string, []int) error { return nil }
func (noopScheduler) Cancel(context.Context, string) error                          { return nil }

// ------------------ Utilities ------------------

// UserMessage turns an error from this package into text fit for an end user.
// Storage failures are reduced to a generic retry message; the caller logs err itself.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials."
	case errors.Is(err, ErrDuplicateUsername):
		return "That username is already taken."
	case errors.Is(err, ErrDuplicateEmail):
		return "That email is already registered."
	case errors.Is(err, ErrMissingRequiredField):
		return "Please fill in all required fields."
	case errors.Is(err, ErrInvalidDays):
		return "Pick at least one day of the week (0=Sunday … 6=Saturday)."
	case errors.Is(err, ErrInvalidTime):
		return "Time must be in HH:mm format."
	case errors.Is(err, ErrInvalidStatus):
		return "Status must be one of: to-read, reading, completed."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrStorageUnavailable):
		return "The library database is unavailable. Restart the app and try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-14s %-32s %-24s %-10s", b.ID, truncate(b.Title, 32), truncate(strings.Join(b.Authors, ", "), 24), b.Status)
}

// truncate shortens s to n characters, counting runes so accented titles stay valid UTF-8.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
