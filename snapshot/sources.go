package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDevicePath is where the app keeps its database on an Android device.
const DefaultDevicePath = "/data/user/0/host.exp.exponent/files/SQLite/habitosdeleitura.db"

// ADBSource pulls the file from a device with adb.
type ADBSource struct {
	Binary     string // defaults to "adb"
	Serial     string // optional device serial
	DevicePath string // defaults to DefaultDevicePath
}

func (s ADBSource) Name() string { return "adb:" + s.devicePath() }

func (s ADBSource) devicePath() string {
	if s.DevicePath == "" {
		return DefaultDevicePath
	}
	return s.DevicePath
}

// Fetch pulls the database and its write-ahead log, then folds the log into
// the copy so that rows committed by a running app are included.
func (s ADBSource) Fetch(ctx context.Context, dst string) error {
	if err := s.pull(ctx, s.devicePath(), dst); err != nil {
		return err
	}
	err := s.pull(ctx, s.devicePath()+"-wal", dst+"-wal")
	if err != nil && !errors.Is(err, errRemoteMissing) {
		return err
	}
	return checkpoint(ctx, dst)
}

var errRemoteMissing = errors.New("remote file does not exist")

func (s ADBSource) pull(ctx context.Context, remote, local string) error {
	bin := s.Binary
	if bin == "" {
		bin = "adb"
	}
	var args []string
	if s.Serial != "" {
		args = append(args, "-s", s.Serial)
	}
	args = append(args, "pull", remote, local)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "does not exist") || strings.Contains(msg, "No such file") {
			os.Remove(local)
			return fmt.Errorf("%w: %s", errRemoteMissing, remote)
		}
		return fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, msg)
	}
	return nil
}

// checkpoint merges path-wal into path and removes the log files. A copy
// without a log is left untouched.
func checkpoint(ctx context.Context, path string) error {
	if _, err := os.Stat(path + "-wal"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	defer os.Remove(path + "-shm")
	defer os.Remove(path + "-wal")

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open copy: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("checkpoint copy: %w", err)
	}
	return db.Close()
}

// FileSource snapshots a SQLite database reachable from this machine. The
// database may be open in another process; committed rows still in its
// write-ahead log are part of the snapshot.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file:" + s.Path }

func (s FileSource) Fetch(ctx context.Context, dst string) error {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySnapshot, s.Path)
	}

	db, err := sql.Open("sqlite3", "file:"+s.Path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	// VACUUM INTO needs a missing or empty target.
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("snapshot %s: %w", s.Path, err)
	}
	return nil
}
