package library

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const reminderColumns = `id,bookId,bookTitle,time,daysOfWeek,COALESCE(isEnabled,1)`

func newReminderID() string {
	return "reminder_" + uuid.NewString()
}

// NormalizeDays validates a weekday set (0 = Sunday) and returns it sorted without duplicates.
func NormalizeDays(days []int) ([]int, error) {
	if len(days) == 0 {
		return nil, ErrInvalidDays
	}
	out := make([]int, 0, len(days))
	for _, day := range days {
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidDays, day)
		}
		if !slices.Contains(out, day) {
			out = append(out, day)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ValidateTime checks a 24h "HH:mm" clock time.
func ValidateTime(v string) error {
	if len(v) != 5 {
		return fmt.Errorf("%w: got %q", ErrInvalidTime, v)
	}
	if _, err := time.Parse("15:04", v); err != nil {
		return fmt.Errorf("%w: got %q", ErrInvalidTime, v)
	}
	return nil
}

// AddReminder creates an enabled reminder for bookID and returns its generated id.
func (d *Database) AddReminder(ctx context.Context, bookID, bookTitle, at string, daysOfWeek []int) (string, error) {
	days, err := NormalizeDays(daysOfWeek)
	if err != nil {
		return "", err
	}
	if err := ValidateTime(at); err != nil {
		return "", err
	}
	if strings.TrimSpace(bookID) == "" || strings.TrimSpace(bookTitle) == "" {
		return "", fmt.Errorf("%w: book id and title are required", ErrMissingRequiredField)
	}
	if err := d.EnsureSchema(ctx); err != nil {
		return "", err
	}

	id := d.newID()
	encoded, _ := json.Marshal(days)
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO reminders(id,bookId,bookTitle,time,daysOfWeek,isEnabled) VALUES(?,?,?,?,?,1)`,
		id, bookID, bookTitle, at, string(encoded))
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("book %s: %w", bookID, ErrNotFound)
		}
		d.logger.Error("add reminder failed", "book_id", bookID, "error", err)
		return "", storageErr("add reminder", err)
	}
	d.logger.Info("reminder added", "reminder_id", id, "book_id", bookID, "time", at, "days", days)
	return id, nil
}

// GetBookReminders lists the reminders attached to bookID.
func (d *Database) GetBookReminders(ctx context.Context, bookID string) ([]*Reminder, error) {
	return d.queryReminders(ctx, "get book reminders",
		`SELECT `+reminderColumns+` FROM reminders WHERE bookId=? ORDER BY time, id`, bookID)
}

// GetAllReminders lists every reminder in the store.
func (d *Database) GetAllReminders(ctx context.Context) ([]*Reminder, error) {
	return d.queryReminders(ctx, "get all reminders",
		`SELECT `+reminderColumns+` FROM reminders ORDER BY bookId, time, id`)
}

// GetReminder fetches one reminder by id.
func (d *Database) GetReminder(ctx context.Context, id string) (*Reminder, error) {
	list, err := d.queryReminders(ctx, "get reminder",
		`SELECT `+reminderColumns+` FROM reminders WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return list[0], nil
}

func (d *Database) queryReminders(ctx context.Context, op, query string, args ...any) ([]*Reminder, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		d.logger.Error(op+" failed", "error", err)
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	reminders := []*Reminder{}
	for rows.Next() {
		var (
			r       Reminder
			days    string
			enabled int64
		)
		if err := rows.Scan(&r.ID, &r.BookID, &r.BookTitle, &r.Time, &days, &enabled); err != nil {
			return nil, storageErr(op, err)
		}
		if err := json.Unmarshal([]byte(days), &r.DaysOfWeek); err != nil {
			d.logger.Warn("skipping corrupt reminder row", "reminder_id", r.ID, "error", err)
			continue
		}
		r.IsEnabled = enabled != 0
		reminders = append(reminders, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return reminders, nil
}

// UpdateReminder replaces the schedule and enabled flag of a reminder.
func (d *Database) UpdateReminder(ctx context.Context, id, at string, daysOfWeek []int, enabled bool) error {
	days, err := NormalizeDays(daysOfWeek)
	if err != nil {
		return err
	}
	if err := ValidateTime(at); err != nil {
		return err
	}

	encoded, _ := json.Marshal(days)
	res, err := d.db.ExecContext(ctx,
		`UPDATE reminders SET time=?, daysOfWeek=?, isEnabled=? WHERE id=?`,
		at, string(encoded), enabled, id)
	if err != nil {
		d.logger.Error("update reminder failed", "reminder_id", id, "error", err)
		return storageErr("update reminder", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update reminder", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	d.logger.Info("reminder updated", "reminder_id", id, "enabled", enabled)
	return nil
}

// DeleteReminder removes a reminder. Deleting an unknown id is not an error.
func (d *Database) DeleteReminder(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM reminders WHERE id=?`, id); err != nil {
		d.logger.Error("delete reminder failed", "reminder_id", id, "error", err)
		return storageErr("delete reminder", err)
	}
	d.logger.Info("reminder deleted", "reminder_id", id)
	return nil
}
