// Package lockread opens SQLite store files that a live browser process may
// hold locked. Reads fall back from a direct read-only open to an immutable
// open and finally to a private temporary copy; writes never bypass the lock.
package lockread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("lockread")
}

// AccessMethod records how a handle reached the store file
type AccessMethod string

const (
	// Direct is a plain read-only open; the owner was not running
	Direct AccessMethod = "direct"
	// Immutable is a read-only open that ignores the owner's locks
	Immutable AccessMethod = "immutable"
	// TempCopy reads a private copy of the file
	TempCopy AccessMethod = "temp_copy"
	// ReadWrite is an exclusive-intent write handle
	ReadWrite AccessMethod = "read_write"
)

// DefaultBusyTimeoutMs is used for write handles when no timeout is configured
const DefaultBusyTimeoutMs = 5000

// Options configures a Reader
type Options struct {
	// TempDir receives temporary copies; os.TempDir() when empty
	TempDir       string
	BusyTimeoutMs int
}

// Reader opens store files for reading or writing
type Reader struct {
	tempDir       string
	busyTimeoutMs int

	// open connects to dsn and proves the connection can read the schema
	open func(ctx context.Context, dsn string) (*sql.DB, error)
}

// NewReader creates a Reader
func NewReader(opts Options) *Reader {
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	timeout := opts.BusyTimeoutMs
	if timeout <= 0 {
		timeout = DefaultBusyTimeoutMs
	}
	return &Reader{
		tempDir:       tempDir,
		busyTimeoutMs: timeout,
		open:          openVerified,
	}
}

// Handle is an open store connection. Close releases the connection and
// removes the temporary copy, if one was made.
type Handle struct {
	db            *sql.DB
	Path          string
	AccessMethod  AccessMethod
	PossiblyStale bool

	tempPath  string
	closeOnce sync.Once
	closeErr  error
}

// DB returns the underlying connection pool
func (h *Handle) DB() *sql.DB {
	return h.db
}

// TempPath returns the temporary copy path, empty unless AccessMethod is TempCopy
func (h *Handle) TempPath() string {
	return h.tempPath
}

// Close closes the connection and removes any temporary copy. Removal
// failures are logged, never returned. Close is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.db != nil {
			h.closeErr = h.db.Close()
		}
		if h.tempPath != "" {
			removeTemp(h.tempPath)
		}
	})
	return h.closeErr
}

func removeTemp(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", p).Warn("Failed to remove temporary store copy")
		}
	}
}

// OpenForRead returns a read-only handle on path. When ownerRunning is false
// the file is opened directly. Otherwise an immutable open is tried first and
// a temporary copy second; if both fail the error is Locked.
func (r *Reader) OpenForRead(ctx context.Context, path string, ownerRunning bool) (*Handle, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}

	if !ownerRunning {
		db, err := r.open(ctx, fileDSN(path, "mode=ro"))
		if err != nil {
			return nil, classify(err, path)
		}
		return &Handle{db: db, Path: path, AccessMethod: Direct}, nil
	}

	entry := log.WithField("path", path)

	db, err := r.open(ctx, fileDSN(path, "mode=ro&immutable=1"))
	if err == nil {
		entry.Debug("Opened locked store with immutable read")
		return &Handle{db: db, Path: path, AccessMethod: Immutable, PossiblyStale: true}, nil
	}
	if classified := classify(err, path); storeerr.CodeOf(classified) == storeerr.CodeCorrupt {
		return nil, classified
	}
	entry.WithError(err).Debug("Immutable read failed, falling back to temporary copy")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, copyErr := r.openTempCopy(ctx, path)
	if copyErr == nil {
		entry.WithField("copy", h.tempPath).Debug("Opened temporary copy of locked store")
		return h, nil
	}
	entry.WithError(copyErr).Warn("Temporary copy of locked store failed")

	return nil, storeerr.Wrap(storeerr.CodeLocked, copyErr, "store %s is locked by its owning process", path)
}

func (r *Reader) openTempCopy(ctx context.Context, path string) (*Handle, error) {
	if err := os.MkdirAll(r.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tempPath := filepath.Join(r.tempDir, fmt.Sprintf("%s-%s.sqlite", stem, uuid.NewString()))

	if err := copyFile(path, tempPath); err != nil {
		removeTemp(tempPath)
		return nil, err
	}

	// The copy is private to this handle, so nothing else can change it
	db, err := r.open(ctx, fileDSN(tempPath, "mode=ro&immutable=1"))
	if err != nil {
		removeTemp(tempPath)
		return nil, err
	}

	return &Handle{
		db:            db,
		Path:          path,
		AccessMethod:  TempCopy,
		PossiblyStale: true,
		tempPath:      tempPath,
	}, nil
}

// OpenForWrite returns a read-write handle. It fails with Locked whenever
// the owner is running; changes made to a copy would be lost.
func (r *Reader) OpenForWrite(ctx context.Context, path string, ownerRunning bool) (*Handle, error) {
	if ownerRunning {
		return nil, storeerr.Locked("store %s is in use by its owning process; writes require it to be closed", path)
	}
	if err := checkReadable(path); err != nil {
		return nil, err
	}

	dsn := fileDSN(path, fmt.Sprintf("mode=rw&_busy_timeout=%d&_txlock=immediate", r.busyTimeoutMs))
	db, err := r.open(ctx, dsn)
	if err != nil {
		return nil, classify(err, path)
	}
	db.SetMaxOpenConns(1)

	return &Handle{db: db, Path: path, AccessMethod: ReadWrite}, nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return storeerr.FromFS(err, path)
	}
	if info.IsDir() {
		return storeerr.Validation("%s is a directory, not a store file", path)
	}
	return nil
}

func openVerified(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// fileDSN builds a SQLite URI filename for path with the given query
func fileDSN(path, query string) string {
	escaper := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
	return "file:" + escaper.Replace(filepath.ToSlash(path)) + "?" + query
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return storeerr.FromFS(err, src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary copy: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy store: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finish temporary copy: %w", err)
	}
	return nil
}

// Classify maps driver errors onto the store error taxonomy
func Classify(err error, path string) error {
	return classify(err, path)
}

func classify(err error, path string) error {
	if err == nil {
		return nil
	}
	var se *storeerr.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return storeerr.Wrap(storeerr.CodeLocked, err, "store %s is locked", path)
		case sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return storeerr.Wrap(storeerr.CodeCorrupt, err, "store %s is not a readable database", path)
		case sqlite3.ErrPerm, sqlite3.ErrReadonly, sqlite3.ErrAuth, sqlite3.ErrCantOpen:
			return storeerr.Wrap(storeerr.CodePermissionDenied, err, "access to store %s denied", path)
		}
	}
	return storeerr.FromFS(err, path)
}
