// Package notify arms the weekly reading prompts behind reminders.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const week = 7 * 24 * time.Hour

// Message is a reading prompt delivered to the user.
type Message struct {
	ReminderID string `json:"reminderId"`
	BookTitle  string `json:"bookTitle"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// NewMessage builds the prompt for a book.
func NewMessage(reminderID, bookTitle string) Message {
	return Message{
		ReminderID: reminderID,
		BookTitle:  bookTitle,
		Title:      "Hora de Ler! 📚",
		Body:       fmt.Sprintf("Não se esqueça de ler %q hoje!", bookTitle),
	}
}

// NextOccurrence returns the next instant after now falling on weekday (0=Sunday)
// at the clock time at ("HH:mm") in now's location. A time equal to now counts as passed.
func NextOccurrence(now time.Time, at string, weekday int) (time.Time, error) {
	h, m, err := parseClock(at)
	if err != nil {
		return time.Time{}, err
	}
	if weekday < 0 || weekday > 6 {
		return time.Time{}, fmt.Errorf("weekday %d out of range", weekday)
	}
	days := (weekday - int(now.Weekday()) + 7) % 7
	next := time.Date(now.Year(), now.Month(), now.Day()+days, h, m, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next, nil
}

func parseClock(at string) (int, int, error) {
	hs, ms, ok := strings.Cut(at, ":")
	if !ok || len(hs) != 2 || len(ms) != 2 {
		return 0, 0, fmt.Errorf("time %q is not HH:mm", at)
	}
	h, err1 := strconv.Atoi(hs)
	m, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || h > 23 || m > 59 || h < 0 || m < 0 {
		return 0, 0, fmt.Errorf("time %q is not HH:mm", at)
	}
	return h, m, nil
}
