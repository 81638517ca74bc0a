// Package snapshot copies the device database to the machine running the mirror.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrEmptySnapshot   = errors.New("snapshot is empty")
	ErrMissingSnapshot = errors.New("snapshot not found")
)

// Source fetches the database into a local file path.
type Source interface {
	Name() string
	Fetch(ctx context.Context, dst string) error
}

// Result describes a completed import.
type Result struct {
	Path     string
	Size     int64
	Source   string
	Duration time.Duration
}

// Import fetches src into destDir/name. The file only appears at its final path
// once the fetch succeeded and produced a non-empty file.
func Import(ctx context.Context, src Source, destDir, name string, logger *slog.Logger) (Result, error) {
	start := time.Now()
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, name)

	tmp, err := os.CreateTemp(destDir, name+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			os.Remove(tmpPath + suffix)
		}
	}()

	logger.Info("copying database", "source", src.Name(), "destination", dest)
	if err := src.Fetch(ctx, tmpPath); err != nil {
		return Result{}, fmt.Errorf("fetch from %s: %w", src.Name(), err)
	}

	size, err := Check(tmpPath)
	if err != nil {
		return Result{}, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return Result{}, fmt.Errorf("move snapshot into place: %w", err)
	}

	res := Result{Path: dest, Size: size, Source: src.Name(), Duration: time.Since(start)}
	logger.Info("database copied", "path", dest, "bytes", size, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Check returns the size of the snapshot at path, failing when it is missing or empty.
func Check(path string) (int64, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrMissingSnapshot, path)
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptySnapshot, path)
	}
	return fi.Size(), nil
}
