// Package journal keeps a local history of completed transfers in an
// embedded SQLite database. The journal is purely informational — the sync
// algorithm never consults it — but it lets the user see what moved, when,
// and with which hash after the fact.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Action values recorded per transfer.
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
)

// Entry is one recorded transfer.
type Entry struct {
	TitleID   string // 16-char hex
	Action    string // ActionUpload or ActionDownload
	SaveHash  string
	Size      int64
	FileCount int
	At        time.Time
}

// Journal is the transfer history store. Use ":memory:" as the path in
// tests.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	insert *sql.Stmt
	recent *sql.Stmt
	byID   *sql.Stmt
}

// Open opens (creating if needed) the journal database at dbPath and
// applies pending schema migrations.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, logger: logger}
	if err := j.prepare(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied journal migration", "source", r.Source.Path)
	}

	return nil
}

func (j *Journal) prepare() error {
	var err error

	j.insert, err = j.db.Prepare(
		`INSERT INTO transfers (title_id, action, save_hash, size_bytes, file_count, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal: preparing insert: %w", err)
	}

	j.recent, err = j.db.Prepare(
		`SELECT title_id, action, save_hash, size_bytes, file_count, occurred_at
		 FROM transfers ORDER BY occurred_at DESC, id DESC LIMIT ?`)
	if err != nil {
		return fmt.Errorf("journal: preparing recent: %w", err)
	}

	j.byID, err = j.db.Prepare(
		`SELECT title_id, action, save_hash, size_bytes, file_count, occurred_at
		 FROM transfers WHERE title_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`)
	if err != nil {
		return fmt.Errorf("journal: preparing by-title: %w", err)
	}

	return nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one transfer entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.insert.ExecContext(ctx,
		e.TitleID, e.Action, e.SaveHash, e.Size, e.FileCount, at.Unix())
	if err != nil {
		return fmt.Errorf("journal: recording transfer: %w", err)
	}

	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.recent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: listing transfers: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ForTitle returns a title's newest entries, most recent first.
func (j *Journal) ForTitle(ctx context.Context, titleIDHex string, limit int) ([]Entry, error) {
	rows, err := j.byID.QueryContext(ctx, titleIDHex, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: listing transfers for %s: %w", titleIDHex, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry

	for rows.Next() {
		var (
			e  Entry
			at int64
		)

		if err := rows.Scan(&e.TitleID, &e.Action, &e.SaveHash, &e.Size, &e.FileCount, &at); err != nil {
			return nil, fmt.Errorf("journal: scanning transfer row: %w", err)
		}

		e.At = time.Unix(at, 0)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating transfers: %w", err)
	}

	return out, nil
}
