package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Config
	// Path is the database file. Parent directories are created.
	Path string
}

// SQLiteManager handles a SQLite target database.
type SQLiteManager struct {
	baseManager
	dbPath string
}

// NewSQLiteManager opens (creating if needed) the SQLite database at cfg.Path.
func NewSQLiteManager(cfg *SQLiteConfig) (*SQLiteManager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL lets the status command read while a migration writes. Immediate
	// transactions take the write lock up front so concurrent kind pipelines
	// queue on the busy timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Config))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteManager{
		baseManager: baseManager{db: db},
		dbPath:      cfg.Path,
	}, nil
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Dialect returns DialectSQLite.
func (m *SQLiteManager) Dialect() string {
	return DialectSQLite
}

// Delete closes the database and removes its files.
func (m *SQLiteManager) Delete() error {
	if err := m.Close(); err != nil {
		return fmt.Errorf("failed to close database before deletion: %w", err)
	}
	if err := os.Remove(m.dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete database file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(m.dbPath + suffix)
	}
	return nil
}

// DiskUsage describes the volume a SQLite target lives on.
type DiskUsage struct {
	Dir   string
	Free  uint64
	Total uint64
}

// UsedPercent is the share of the volume not available to the migration.
func (u DiskUsage) UsedPercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return 100 * float64(u.Total-min(u.Free, u.Total)) / float64(u.Total)
}

// DiskUsage samples the volume holding the database file.
func (m *SQLiteManager) DiskUsage() (DiskUsage, error) {
	return statVolume(filepath.Dir(m.dbPath))
}
