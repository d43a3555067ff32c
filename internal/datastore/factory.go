package datastore

import (
	"fmt"

	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/logger"
)

// NewManager opens the target backend selected by settings. The schema is
// not touched; call Initialize before migrating.
func NewManager(settings *conf.TargetSettings, log logger.Logger) (Manager, error) {
	base := Config{Debug: settings.Debug, Logger: log}

	switch settings.Type {
	case conf.TargetSQLite:
		return NewSQLiteManager(&SQLiteConfig{Config: base, Path: settings.SQLite.Path})
	case conf.TargetMySQL:
		return NewMySQLManager(&MySQLConfig{
			Config:   base,
			Host:     settings.MySQL.Host,
			Port:     settings.MySQL.Port,
			Username: settings.MySQL.Username,
			Password: settings.MySQL.Password,
			Database: settings.MySQL.Database,
		})
	case conf.TargetPostgres:
		return NewPostgresManager(&PostgresConfig{
			Config:   base,
			Host:     settings.Postgres.Host,
			Port:     settings.Postgres.Port,
			Username: settings.Postgres.Username,
			Password: settings.Postgres.Password,
			Database: settings.Postgres.Database,
			SSLMode:  settings.Postgres.SSLMode,
		})
	default:
		return nil, fmt.Errorf("unsupported target type %q", settings.Type)
	}
}
