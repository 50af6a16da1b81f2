// Package gsqlite is a SQLite backend for the ledger.
// A single [*Store] holds blocks, authorized keys and the search index.
//
// The driver is chosen by build tags:
// mattn/go-sqlite3 when cgo is available,
// and modernc.org/sqlite with the purego tag or without cgo.
package gsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/trace"
	"sync/atomic"

	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gcrypto"
)

// Store satisfies [gchainstore.Store], [gauth.Store] and [gindex.TermStore].
type Store struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	// Separate pools for reads and writes, so that a long read
	// never holds the single write connection.
	// The in-memory store uses its write pool for both.
	ro, rw *sql.DB

	reg *gcrypto.Registry

	caps gchainstore.Capabilities
}

// NewOnDiskStore opens or creates the database at dbPath.
// On-disk stores use WAL mode, so scans read a consistent snapshot
// and the store reports cursor support.
func NewOnDiskStore(ctx context.Context, dbPath string, reg *gcrypto.Registry) (*Store, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}

		// The startup pragmas fail without an existing file.
		// O_EXCL so we never truncate a database created concurrently.
		f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close new empty database file: %w", err)
		}
	}

	// With a single open connection, competing writers block
	// on the connection pool instead of failing with "database is locked".
	uri := "file:" + dbPath + "?mode=rw"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}
	rw.SetMaxOpenConns(1)

	// Persistent, and only relevant to on-disk databases.
	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := pragmasRW(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	// mode=rw was the final query parameter.
	uri = uri[:len(uri)-1] + "o"
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}
	if err := pragmasRO(ctx, ro); err != nil {
		_ = rw.Close()
		_ = ro.Close()
		return nil, err
	}

	return &Store{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: ro,

		reg: reg,

		caps: gchainstore.Capabilities{Cursor: true},
	}, nil
}

var inMemNameCounter atomic.Uint32

// NewInMemStore returns a store backed by a private in-memory database.
// It does not support cursor scans.
func NewInMemStore(ctx context.Context, reg *gcrypto.Registry) (*Store, error) {
	dbName := fmt.Sprintf("gledger%d", inMemNameCounter.Add(1))

	// A unique shared-cache name so that the pool's connections see one database.
	// Both drivers support _txlock; immediate takes the write lock
	// at the start of every transaction.
	uri := "file:" + dbName + "?mode=memory&cache=shared&_txlock=immediate"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening in-memory database: %w", err)
	}

	// Shared-cache connections fail with "table is locked" rather than waiting,
	// so every query goes through the one connection.
	rw.SetMaxOpenConns(1)

	if err := pragmasRW(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	return &Store{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: rw,

		reg: reg,
	}, nil
}

func (s *Store) Close() error {
	var errRO error
	if s.ro != s.rw {
		if err := s.ro.Close(); err != nil {
			errRO = fmt.Errorf("error closing read-only database: %w", err)
		}
	}
	var errRW error
	if err := s.rw.Close(); err != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", err)
	}
	return errors.Join(errRO, errRW)
}

func (s *Store) Capabilities() gchainstore.Capabilities {
	return s.caps
}

func pragmasRW(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRW").End()

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}

	// https://www.sqlite.org/lang_analyze.html#periodically_run_pragma_optimize_
	if _, err := db.ExecContext(ctx, `PRAGMA optimize(0x10002);`); err != nil {
		return fmt.Errorf("failed to run startup PRAGMA optimize: %w", err)
	}

	return nil
}

func pragmasRO(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRO").End()

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}

	return nil
}
