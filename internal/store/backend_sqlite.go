package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/resonance/internal/guard"
)

// SQLiteBackend stores records in a single partitioned table. Each
// upsert is one statement, so writes are atomic per record.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates a SQLite database at the given
// path, which is cleared through the guard first.
func NewSQLiteBackend(dbPath string, g *guard.Guard) (*SQLiteBackend, error) {
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	norm, err := g.CheckPath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(norm), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", norm+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		partition   TEXT NOT NULL,
		id          TEXT NOT NULL,
		data        BLOB NOT NULL,
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (partition, id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_partition ON records(partition);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Write(ctx context.Context, partition, id string, data []byte) error {
	if partition == "" || id == "" {
		return fmt.Errorf("invalid record address %q/%q", partition, id)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO records (partition, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(partition, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, partition, id, data, now)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Read(ctx context.Context, partition, id string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE partition = ? AND id = ?`,
		partition, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", partition, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return data, nil
}

func (b *SQLiteBackend) List(ctx context.Context, partition string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id FROM records WHERE partition = ? ORDER BY id`,
		partition,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, partition, id string) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM records WHERE partition = ? AND id = ?`,
		partition, id,
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", partition, id, ErrNotFound)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
