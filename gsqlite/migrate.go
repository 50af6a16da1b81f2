package gsqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS migrations(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  version INTEGER
);`,
	); err != nil {
		return fmt.Errorf("error creating migrations table: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO migrations(id, version) VALUES (0, 0)`,
	); err != nil {
		return fmt.Errorf("error setting initial migration version: %w", err)
	}

	var version int
	if err := tx.QueryRowContext(
		ctx, `SELECT version FROM migrations WHERE id=0;`,
	).Scan(&version); err != nil {
		return fmt.Errorf("failed to scan migration version: %w", err)
	}

	if err := migrateFrom(ctx, tx, version); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

func migrateFrom(ctx context.Context, tx *sql.Tx, version int) error {
	switch version {
	case 0:
		if err := migrateInitial(ctx, tx); err != nil {
			return fmt.Errorf("initial migration: %w", err)
		}
		if err := setMigrationVersion(ctx, tx, 1); err != nil {
			return err
		}
	case 1:
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}

	// https://sqlite.org/pragma.html#pragma_optimize
	// recommends running optimize after any schema change.
	if _, err := tx.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to run PRAGMA optimize after migration: %w", err)
	}

	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(
		ctx,
		// One row per committed block.
		// The enc_* columns are all NULL for plaintext payloads.
		// The signer column is the output of [gcrypto.Registry.Marshal].
		`
CREATE TABLE blocks(
  seq INTEGER PRIMARY KEY NOT NULL CHECK (seq >= 0),
  prev_hash BLOB NOT NULL,
  ts INTEGER NOT NULL,
  data BLOB NOT NULL,
  enc_alg TEXT,
  enc_key_id TEXT,
  enc_nonce BLOB,
  off_chain_ref TEXT NOT NULL,
  signer BLOB NOT NULL,
  signature BLOB NOT NULL,
  hash BLOB NOT NULL
);`+

			// Signing keys and their authorization windows.
			// A NULL valid_until is an open-ended window.
			`
CREATE TABLE authorized_keys(
  key BLOB PRIMARY KEY NOT NULL,
  valid_from INTEGER NOT NULL,
  valid_until INTEGER,
  status TEXT NOT NULL,
  label TEXT NOT NULL
);`+

			// The search index, written only by indexing workers.
			// The hash lets readers discard entries for truncated blocks.
			`
CREATE TABLE search_terms(
  term TEXT NOT NULL,
  seq INTEGER NOT NULL,
  hash BLOB NOT NULL,
  PRIMARY KEY (term, seq)
) WITHOUT ROWID;
CREATE INDEX search_terms_seq ON search_terms(seq);
`,
	)
	return err
}

func setMigrationVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(
		ctx, `UPDATE migrations SET version = ? WHERE id = 0`, version,
	); err != nil {
		return fmt.Errorf("failed to set migration version to %d: %w", version, err)
	}
	return nil
}
