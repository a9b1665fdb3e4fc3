package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/data"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteDevice is a sector store backed by a single SQLite table, one
// blob row per written sector. The dbPath can be ":memory:" for an
// in-memory database or a file path for a persistent disk image.
type SQLiteDevice struct {
	mu sync.RWMutex
	db *sql.DB

	count data.Sector
}

func NewSQLiteDevice(dbPath string, count data.Sector) (*SQLiteDevice, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	device := &SQLiteDevice{
		db:    db,
		count: count,
	}

	if err := device.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return device, nil
}

// initSchema creates the database schema.
func (sd *SQLiteDevice) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kernos_sectors (
		sector INTEGER PRIMARY KEY,
		content BLOB NOT NULL,
		written_at INTEGER NOT NULL
	);
	`

	_, err := sd.db.Exec(schema)
	return err
}

// Returns the identifier name defined for this backend
func (*SQLiteDevice) Name() string {
	return "sqlite"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (sd *SQLiteDevice) Open(ctx context.Context) error {
	return sd.db.PingContext(ctx)
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sd *SQLiteDevice) Close(ctx context.Context) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	return sd.db.Close()
}

func (sd *SQLiteDevice) SectorCount() data.Sector {
	return sd.count
}

func (sd *SQLiteDevice) ReadSector(ctx context.Context, sec data.Sector, buf []byte) error {
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	if err := block.CheckBounds(sec, sd.count, buf); err != nil {
		return err
	}

	var content []byte
	err := sd.db.QueryRowContext(ctx,
		"SELECT content FROM kernos_sectors WHERE sector = ?",
		sec).Scan(&content)

	if err == sql.ErrNoRows {
		// Never written, reads as zeroes
		clear(buf)
		return nil
	}
	if err != nil {
		return err
	}

	copy(buf, content)
	return nil
}

func (sd *SQLiteDevice) WriteSector(ctx context.Context, sec data.Sector, buf []byte) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if err := block.CheckBounds(sec, sd.count, buf); err != nil {
		return err
	}

	_, err := sd.db.ExecContext(ctx, `
		INSERT INTO kernos_sectors (sector, content, written_at)
		VALUES (?, ?, unixepoch())
		ON CONFLICT(sector) DO UPDATE SET
			content = excluded.content,
			written_at = excluded.written_at`,
		sec, buf[:data.SectorSize])

	return err
}
