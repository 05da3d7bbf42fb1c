package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBackend stores documents in a single SQLite file
type SQLiteBackend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// one connection avoids "database is locked" under concurrent writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	b := &SQLiteBackend{db: db, logger: logger.With().Str("component", "sqlite_store").Logger()}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	b.logger.Info().Str("path", path).Msg("SQLite store initialized")
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	if _, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("migration %s: bad version prefix", name)
		}

		var applied int
		if err := b.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := b.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		b.logger.Debug().Int("version", version).Msg("migration applied")
	}
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, kind, id string, doc []byte) error {
	_, err := b.db.ExecContext(ctx, `INSERT INTO documents (kind, id, body) VALUES (?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP`,
		kind, id, doc)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (b *SQLiteBackend) Insert(ctx context.Context, kind, id string, doc []byte) error {
	res, err := b.db.ExecContext(ctx, `INSERT INTO documents (kind, id, body) VALUES (?, ?, ?)
		ON CONFLICT (kind, id) DO NOTHING`, kind, id, doc)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", kind, id, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, kind, id string) ([]byte, error) {
	var doc []byte
	err := b.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE kind = ? AND id = ?", kind, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	return doc, nil
}

func (b *SQLiteBackend) List(ctx context.Context, kind, prefix string) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT body FROM documents WHERE kind = ? AND substr(id, 1, ?) = ? ORDER BY id",
		kind, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, kind, id string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM documents WHERE kind = ? AND id = ?", kind, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}
	return nil
}

func (b *SQLiteBackend) Truncate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("truncate documents: %w", err)
	}
	b.logger.Info().Msg("documents truncated")
	return nil
}

// Close closes the database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
