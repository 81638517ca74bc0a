package library

import (
	"fmt"
	"time"
)

// Status is the reading state of a book in the library.
type Status string

const (
	StatusToRead    Status = "to-read"
	StatusReading   Status = "reading"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known reading states.
func (s Status) Valid() bool {
	switch s {
	case StatusToRead, StatusReading, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus accepts the stored spelling of a status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// User is a registered account. The password column only ever holds a bcrypt hash.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // Don't serialize password hash
}

// Book is a library entry keyed by its external catalog id.
// Authors and categories are persisted as JSON arrays in a single text column.
type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Authors       []string  `json:"authors"`
	Description   string    `json:"description,omitempty"`
	ThumbnailURL  string    `json:"thumbnail,omitempty"`
	PublishedDate string    `json:"publishedDate,omitempty"`
	PageCount     int       `json:"pageCount,omitempty"`
	Categories    []string  `json:"categories"`
	AverageRating float64   `json:"averageRating,omitempty"`
	Status        Status    `json:"status"`
	DateAdded     time.Time `json:"dateAdded"`
}

// Reminder is a weekly reading prompt attached to a book.
// BookTitle is copied at creation time and is allowed to drift from the book's title.
type Reminder struct {
	ID         string `json:"id"`
	BookID     string `json:"bookId"`
	BookTitle  string `json:"bookTitle"`
	Time       string `json:"time"`
	DaysOfWeek []int  `json:"daysOfWeek"`
	IsEnabled  bool   `json:"isEnabled"`
}
