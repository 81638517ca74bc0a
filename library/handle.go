package library

import (
	"context"
	"fmt"
	"sync"
)

// Handle lazily opens the process-wide database. It is built once at start-up and
// passed to whatever needs the store; the first Get opens the file and creates the
// schema, every later Get reuses the same Database. A failed open is remembered and
// returned to every caller until the process restarts.
type Handle struct {
	path string
	opts []Option

	once sync.Once
	db   *Database
	err  error
}

// NewHandle prepares a handle for the database at path without opening it.
func NewHandle(path string, opts ...Option) *Handle {
	return &Handle{path: path, opts: opts}
}

// Get returns the shared database, opening it on first use.
func (h *Handle) Get(ctx context.Context) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.once.Do(func() {
		h.db, h.err = NewDatabase(h.path, h.opts...)
		if h.err != nil {
			h.err = fmt.Errorf("open %s: %w", h.path, h.err)
		}
	})
	return h.db, h.err
}

// Close closes the database if it was ever opened.
func (h *Handle) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}
