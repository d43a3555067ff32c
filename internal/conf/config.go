// config.go: settings struct of qcmigrate and the functions that load it.
package conf

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/tphakala/qcmigrate/internal/logger"
)

// Source store types.
const (
	SourceMongo   = "mongo"
	SourceFixture = "fixture"
)

// Target store types.
const (
	TargetSQLite   = "sqlite"
	TargetMySQL    = "mysql"
	TargetPostgres = "postgres"
)

// SourceSettings configures the document store records are read from.
type SourceSettings struct {
	Type     string // mongo or fixture
	URI      string // mongodb:// connection string; ${VAR} references are expanded
	URIFile  string // file holding the connection string, overrides URI
	Database string
	// Collections overrides the collection name per kind, e.g. "blob-values: kv_store".
	Collections map[string]string
	Fixture     string        // path of a YAML fixture file, for type fixture
	Timeout     time.Duration // connection setup timeout
}

// SQLiteSettings configures a SQLite target.
type SQLiteSettings struct {
	Path string
}

// MySQLSettings configures a MySQL target.
type MySQLSettings struct {
	Host         string
	Port         string
	Username     string
	Password     string
	PasswordFile string // overrides Password, e.g. /run/secrets/mysql_password
	Database     string
}

// PostgresSettings configures a PostgreSQL target.
type PostgresSettings struct {
	Host         string
	Port         string
	Username     string
	Password     string
	PasswordFile string // overrides Password
	Database     string
	SSLMode      string
}

// TargetSettings configures the relational store records are written to.
type TargetSettings struct {
	Type     string // sqlite, mysql or postgres
	Debug    bool   // log every SQL statement
	SQLite   SQLiteSettings
	MySQL    MySQLSettings
	Postgres PostgresSettings
}

// MigrationSettings tunes the chunk pipeline.
type MigrationSettings struct {
	PageSize     int64         // records per chunk
	Kinds        []string      // kinds to migrate; empty means all
	Verify       bool          // verify each committed chunk and every kind after it completes
	SampleSize   int           // records compared per kind by the verifier
	MaxRetries   int           // retries of a failed chunk transaction
	RetryBackoff time.Duration // first retry delay, doubled per attempt
	MaxBackoff   time.Duration // upper bound of the retry delay
	Concurrency  int           // kinds migrated in parallel; 0 is unlimited
	ChunkRate    float64       // chunks per second per kind; 0 is unlimited
	StrictResume bool          // check every record of a chunk before skipping it
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string // host:port
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// TelemetrySettings groups telemetry integrations.
type TelemetrySettings struct {
	Sentry SentrySettings
}

// S3Settings configures report upload to S3 or an S3-compatible store.
type S3Settings struct {
	Enabled             bool
	Bucket              string
	Region              string
	Endpoint            string
	Prefix              string
	PathStyle           bool
	AccessKeyID         string
	SecretAccessKey     string
	SecretAccessKeyFile string // overrides SecretAccessKey
}

// SFTPSettings configures report upload over SFTP.
type SFTPSettings struct {
	Enabled        bool
	Host           string
	Port           int
	Username       string
	Password       string
	PasswordFile   string // overrides Password
	KeyFile        string // private key; preferred over Password
	KnownHostsFile string // empty accepts any host key
	Path           string // remote directory
	Timeout        time.Duration
}

// FTPSettings configures report upload over FTP.
type FTPSettings struct {
	Enabled      bool
	Host         string
	Port         int
	Username     string
	Password     string
	PasswordFile string
	Path         string
	Timeout      time.Duration
}

// MQTTSettings configures publishing reports to an MQTT broker.
type MQTTSettings struct {
	Enabled      bool
	Broker       string // tcp://host:1883
	Topic        string
	Username     string
	Password     string
	PasswordFile string
	Retain       bool
	Timeout      time.Duration
}

// ReportSettings configures where run reports are written.
type ReportSettings struct {
	Path string // local directory; empty disables the file report
	S3   S3Settings
	SFTP SFTPSettings
	FTP  FTPSettings
	MQTT MQTTSettings
}

// NotifySettings configures push notifications sent when a command
// finishes. URLs use the shoutrrr service format, e.g. slack://token@channel.
type NotifySettings struct {
	Enabled   bool
	URLs      []string
	OnSuccess bool // notify completed runs too, not only failures
	Timeout   time.Duration
}

// Settings contains all configuration options for qcmigrate.
type Settings struct {
	Debug bool

	Source    SourceSettings
	Target    TargetSettings
	Migration MigrationSettings
	Logging   logger.LoggingConfig
	Metrics   MetricsSettings
	Telemetry TelemetrySettings
	Report    ReportSettings
	Notify    NotifySettings
}

var settingsMutex sync.Mutex

// Load reads defaults, the configuration file, environment variables and any
// bound command line flags into a validated Settings. An empty configFile
// searches the default config paths; a missing file there is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if settings.Debug {
		settings.Target.Debug = true
		if settings.Logging.DefaultLevel == "" || settings.Logging.DefaultLevel == logger.DefaultLogLevel {
			settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// initViper registers defaults and environment bindings and reads the configuration file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Defaults, environment and flags are enough to run.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// ConfigFileUsed returns the configuration file Load read, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
