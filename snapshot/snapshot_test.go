package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"reading-tracker/config"
	"reading-tracker/library"
	"reading-tracker/logger"
)

var content = []byte("SQLite format 3\x00 not really a database")

func discard() *slog.Logger { return logger.Discard() }

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// openLive opens a tracker database holding one book and keeps it open for
// the rest of the test, so the book sits in the write-ahead log.
func openLive(t *testing.T, dir string) *library.Database {
	t.Helper()
	db, err := library.NewDatabase(filepath.Join(dir, "live.db"), library.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.AddBookToLibrary(context.Background(), &library.Book{ID: "B1", Title: "Dom Casmurro"}); err != nil {
		t.Fatalf("AddBookToLibrary: %v", err)
	}
	if fi, err := os.Stat(db.Path() + "-wal"); err != nil || fi.Size() == 0 {
		t.Fatalf("expected a write-ahead log next to the live database: %v", err)
	}
	return db
}

func bookIDs(t *testing.T, path string) []string {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	rows, err := db.Query(`SELECT id FROM books ORDER BY id`)
	if err != nil {
		t.Fatalf("query copy: %v", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestImportFromFileIncludesUncheckpointedRows(t *testing.T) {
	live := openLive(t, t.TempDir())
	dest := filepath.Join(t.TempDir(), "nested", "data")

	res, err := Import(context.Background(), FileSource{Path: live.Path()}, dest, "habitosdeleitura.db", discard())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Path != filepath.Join(dest, "habitosdeleitura.db") || res.Size == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ids := bookIDs(t, res.Path); len(ids) != 1 || ids[0] != "B1" {
		t.Fatalf("books in copy = %v", ids)
	}
	assertNoTemps(t, dest)
}

func TestImportFromFileRejectsNonDatabase(t *testing.T) {
	src := writeFile(t, t.TempDir(), "notes.txt", []byte("not a database at all, just some text"))
	dest := t.TempDir()

	if _, err := Import(context.Background(), FileSource{Path: src}, dest, "copy.db", discard()); err == nil {
		t.Fatal("expected error for a non-database file")
	}
	assertNoTemps(t, dest)
}

func TestImportRejectsEmptySnapshot(t *testing.T) {
	src := writeFile(t, t.TempDir(), "device.db", nil)
	dest := t.TempDir()

	_, err := Import(context.Background(), FileSource{Path: src}, dest, "copy.db", discard())
	if !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("want ErrEmptySnapshot, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "copy.db")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty snapshot was moved into place")
	}
	assertNoTemps(t, dest)
}

func TestImportKeepsPreviousCopyOnFailure(t *testing.T) {
	dest := t.TempDir()
	previous := writeFile(t, dest, "copy.db", []byte("previous"))

	_, err := Import(context.Background(), FileSource{Path: filepath.Join(dest, "missing.db")}, dest, "copy.db", discard())
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	got, _ := os.ReadFile(previous)
	if string(got) != "previous" {
		t.Fatalf("previous copy overwritten: %q", got)
	}
	assertNoTemps(t, dest)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	if _, err := Check(filepath.Join(dir, "none.db")); !errors.Is(err, ErrMissingSnapshot) {
		t.Fatalf("missing: %v", err)
	}
	if _, err := Check(writeFile(t, dir, "empty.db", nil)); !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("empty: %v", err)
	}
	if n, err := Check(writeFile(t, dir, "ok.db", content)); err != nil || n != int64(len(content)) {
		t.Fatalf("ok: %d %v", n, err)
	}
}

// fakeADB writes a shell script standing in for adb. Pulls of path+"-wal"
// copy walFile, or fail like adb does for a missing remote when walFile is empty.
func fakeADB(t *testing.T, dir, device, walFile string) (bin, argsLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for adb")
	}
	argsLog = filepath.Join(dir, "args")
	missing := "echo \"adb: error: failed to stat remote object: No such file or directory\" >&2; exit 1"
	if walFile != "" {
		missing = fmt.Sprintf("cp %q \"$dst\"; exit 0", walFile)
	}
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\neval dst=\\${$#}\ncase \"$dst\" in *-wal) %s;; esac\ncp %q \"$dst\"\n",
		argsLog, missing, device)
	bin = writeFile(t, dir, "adb", []byte(script))
	os.Chmod(bin, 0o755)
	return bin, argsLog
}

func TestADBSourceArguments(t *testing.T) {
	dir := t.TempDir()
	device := writeFile(t, dir, "device.db", content)
	adb, argsLog := fakeADB(t, dir, device, "")

	src := ADBSource{Binary: adb, Serial: "emulator-5554"}
	res, err := Import(context.Background(), src, filepath.Join(dir, "data"), "habitosdeleitura.db", discard())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Size != int64(len(content)) || res.Source != "adb:"+DefaultDevicePath {
		t.Fatalf("unexpected result %+v", res)
	}
	args, _ := os.ReadFile(argsLog)
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	if len(lines) != 2 ||
		!strings.HasPrefix(lines[0], "-s emulator-5554 pull "+DefaultDevicePath+" ") ||
		!strings.HasPrefix(lines[1], "-s emulator-5554 pull "+DefaultDevicePath+"-wal ") {
		t.Fatalf("adb called with %q", args)
	}
}

func TestADBSourceMergesWriteAheadLog(t *testing.T) {
	dir := t.TempDir()
	live := openLive(t, dir)
	adb, _ := fakeADB(t, dir, live.Path(), live.Path()+"-wal")
	dest := filepath.Join(dir, "data")

	res, err := Import(context.Background(), ADBSource{Binary: adb}, dest, "habitosdeleitura.db", discard())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := os.Stat(res.Path + "-wal"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("write-ahead log left next to the copy: %v", err)
	}
	if ids := bookIDs(t, res.Path); len(ids) != 1 || ids[0] != "B1" {
		t.Fatalf("books in copy = %v", ids)
	}
}

func TestSourceFromConfigDefaultsDevicePath(t *testing.T) {
	cfg, err := config.FromMap(map[string]string{"SNAPSHOT_SOURCE": "adb"})
	if err != nil {
		t.Fatal(err)
	}
	src, err := SourceFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "adb:"+DefaultDevicePath {
		t.Fatalf("source %q", src.Name())
	}
}

func TestADBSourceFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for adb")
	}
	dir := t.TempDir()
	adb := writeFile(t, dir, "adb", []byte("#!/bin/sh\necho 'error: no devices/emulators found' >&2\nexit 1\n"))
	os.Chmod(adb, 0o755)

	_, err := Import(context.Background(), ADBSource{Binary: adb}, dir, "copy.db", discard())
	if err == nil || !strings.Contains(err.Error(), "no devices") {
		t.Fatalf("want adb stderr in error, got %v", err)
	}
}

// fakeS3 serves path-style GET and PUT for a single object.
type fakeS3 struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Path != "/backups/habitosdeleitura.db" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content)
	case http.MethodPut:
		io.Copy(io.Discard, r.Body)
		f.mu.Lock()
		f.puts = append(f.puts, r.URL.Path)
		f.mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T, key string) (*S3Source, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	src, err := NewS3Source(context.Background(), S3Config{
		Bucket: "backups", Key: key, Region: "us-east-1", Endpoint: srv.URL,
		AccessKeyID: "test", SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("NewS3Source: %v", err)
	}
	return src, fake
}

func TestS3SourceFetch(t *testing.T) {
	src, _ := newTestS3(t, "habitosdeleitura.db")
	res, err := Import(context.Background(), src, t.TempDir(), "habitosdeleitura.db", discard())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Size != int64(len(content)) || res.Source != "s3://backups/habitosdeleitura.db" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestS3SourceMissingObject(t *testing.T) {
	src, _ := newTestS3(t, "other.db")
	if _, err := Import(context.Background(), src, t.TempDir(), "copy.db", discard()); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestS3SourceUpload(t *testing.T) {
	src, fake := newTestS3(t, "habitosdeleitura.db")
	path := writeFile(t, t.TempDir(), "copy.db", content)

	if err := src.Upload(context.Background(), path); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(fake.puts) != 1 || fake.puts[0] != "/backups/habitosdeleitura.db" {
		t.Fatalf("puts = %v", fake.puts)
	}
	if err := src.Upload(context.Background(), writeFile(t, t.TempDir(), "empty.db", nil)); !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("empty upload: %v", err)
	}
}

func TestNewS3SourceRequiresLocation(t *testing.T) {
	if _, err := NewS3Source(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error")
	}
}

func assertNoTemps(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
