package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLConfig holds MySQL-specific configuration.
type MySQLConfig struct {
	Config
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// MySQLManager handles a MySQL target database.
type MySQLManager struct {
	baseManager
	location string // host:port/database for display
}

// NewMySQLManager connects to the configured MySQL server.
func NewMySQLManager(cfg *MySQLConfig) (*MySQLManager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(cfg.Config))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	if err := configurePool(db); err != nil {
		return nil, err
	}

	return &MySQLManager{
		baseManager: baseManager{db: db},
		location:    fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database),
	}, nil
}

// Path returns the database location (host:port/database).
func (m *MySQLManager) Path() string {
	return m.location
}

// Dialect returns DialectMySQL.
func (m *MySQLManager) Dialect() string {
	return DialectMySQL
}
