package datastore

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	Config
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// PostgresManager handles a PostgreSQL target database.
type PostgresManager struct {
	baseManager
	location string
}

// NewPostgresManager connects to the configured PostgreSQL server.
func NewPostgresManager(cfg *PostgresConfig) (*PostgresManager, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cfg.Config))
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	if err := configurePool(db); err != nil {
		return nil, err
	}

	return &PostgresManager{
		baseManager: baseManager{db: db},
		location:    fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database),
	}, nil
}

// Path returns the database location (host:port/database).
func (m *PostgresManager) Path() string {
	return m.location
}

// Dialect returns DialectPostgres.
func (m *PostgresManager) Dialect() string {
	return DialectPostgres
}
