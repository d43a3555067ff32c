// Package datastore manages the relational target store: connections, schema,
// per-chunk transactions, driver error classification and persisted kind state.
package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dialect names accepted in target.type.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// Manager defines the operations every target backend supports.
type Manager interface {
	// Initialize creates or updates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Begin opens a chunk transaction.
	Begin(ctx context.Context) (*Tx, error)
	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error
	// Path returns the database location for display; never includes credentials.
	Path() string
	// Dialect returns one of the Dialect* constants.
	Dialect() string
	// Close closes the database connection.
	Close() error
}

// Config holds settings shared by all managers.
type Config struct {
	// Debug enables SQL logging.
	Debug bool
	// Logger receives SQL logging when set. Nil keeps GORM silent unless Debug is on.
	Logger logger.Logger
	// SlowThreshold marks queries logged at WARN. Zero uses 500ms.
	SlowThreshold time.Duration
}

const defaultSlowThreshold = 500 * time.Millisecond

// Models lists every table in creation order. Record tables come first so
// foreign keys resolve.
func Models() []any {
	return []any{
		&entities.KVStoreEntry{},
		&entities.KeywordSet{},
		&entities.Molecule{},
		&entities.Result{},
		&entities.IDMapping{},
		&entities.KindState{},
		&entities.MigrationFailure{},
	}
}

func gormConfig(cfg Config) *gorm.Config {
	gc := &gorm.Config{}

	switch {
	case cfg.Logger != nil:
		threshold := cfg.SlowThreshold
		if threshold <= 0 {
			threshold = defaultSlowThreshold
		}
		gc.Logger = logger.NewGormLoggerAdapter(cfg.Logger.Module("sql"), threshold)
	case cfg.Debug:
		gc.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	default:
		gc.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	return gc
}

// baseManager carries what every backend shares once the connection is open.
type baseManager struct {
	db *gorm.DB
}

// Initialize runs GORM auto-migrations for all tables.
func (m *baseManager) Initialize() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return dbError(err, "auto_migrate", "")
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *baseManager) DB() *gorm.DB {
	return m.db
}

// Begin opens a transaction bound to ctx.
func (m *baseManager) Begin(ctx context.Context) (*Tx, error) {
	return beginTx(ctx, m.db)
}

// Ping verifies the connection.
func (m *baseManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", "")
	}
	return nil
}

// Close closes the database connection.
func (m *baseManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// configurePool applies the pool settings used for networked servers.
func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}
