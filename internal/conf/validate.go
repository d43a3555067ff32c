// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/tphakala/qcmigrate/internal/kind"
)

var (
	logLevels   = []string{"trace", "debug", "info", "warn", "error"}
	sslModes    = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	sourceTypes = []string{SourceMongo, SourceFixture}
	targetTypes = []string{TargetSQLite, TargetMySQL, TargetPostgres}
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateSourceSettings,
		validateTargetSettings,
		validateMigrationSettings,
		validateLoggingSettings,
		validateMetricsSettings,
		validateTelemetrySettings,
		validateReportSettings,
		validateRemoteReportSettings,
		validateNotifySettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSourceSettings(s *Settings) []string {
	src := &s.Source
	var errs []string

	switch src.Type {
	case SourceMongo:
		if err := validateEnvMongoURI(src.URI); err != nil {
			errs = append(errs, fmt.Sprintf("source.uri: %v", err))
		}
		if src.Database == "" {
			errs = append(errs, "source.database is required for a mongo source")
		}
	case SourceFixture:
		if src.Fixture == "" {
			errs = append(errs, "source.fixture is required for a fixture source")
		}
	default:
		errs = append(errs, fmt.Sprintf("source.type must be one of %s, got %q", strings.Join(sourceTypes, ", "), src.Type))
	}

	for name := range src.Collections {
		if _, err := kind.Parse(name); err != nil {
			errs = append(errs, fmt.Sprintf("source.collections: %v", err))
		}
	}
	if src.Timeout < 0 {
		errs = append(errs, "source.timeout must not be negative")
	}
	return errs
}

func validateTargetSettings(s *Settings) []string {
	t := &s.Target
	var errs []string

	switch t.Type {
	case TargetSQLite:
		if t.SQLite.Path == "" {
			errs = append(errs, "target.sqlite.path is required")
		}
	case TargetMySQL:
		errs = append(errs, validateServer("target.mysql", t.MySQL.Host, t.MySQL.Port, t.MySQL.Database)...)
	case TargetPostgres:
		errs = append(errs, validateServer("target.postgres", t.Postgres.Host, t.Postgres.Port, t.Postgres.Database)...)
		if t.Postgres.SSLMode != "" && !slices.Contains(sslModes, t.Postgres.SSLMode) {
			errs = append(errs, fmt.Sprintf("target.postgres.sslmode must be one of %s", strings.Join(sslModes, ", ")))
		}
	default:
		errs = append(errs, fmt.Sprintf("target.type must be one of %s, got %q", strings.Join(targetTypes, ", "), t.Type))
	}
	return errs
}

func validateServer(prefix, host, port, database string) []string {
	var errs []string
	if host == "" {
		errs = append(errs, prefix+".host is required")
	}
	if err := validateEnvPort(port); err != nil {
		errs = append(errs, fmt.Sprintf("%s.port: %v", prefix, err))
	}
	if database == "" {
		errs = append(errs, prefix+".database is required")
	}
	return errs
}

func validateMigrationSettings(s *Settings) []string {
	m := &s.Migration
	var errs []string

	if m.PageSize < 1 {
		errs = append(errs, fmt.Sprintf("migration.pagesize must be at least 1, got %d", m.PageSize))
	}
	if _, err := kind.ParseList(m.Kinds); err != nil {
		errs = append(errs, fmt.Sprintf("migration.kinds: %v", err))
	}
	if m.MaxRetries < 0 {
		errs = append(errs, "migration.maxretries must not be negative")
	}
	if m.RetryBackoff <= 0 {
		errs = append(errs, "migration.retrybackoff must be positive")
	}
	if m.MaxBackoff < m.RetryBackoff {
		errs = append(errs, "migration.maxbackoff must not be less than migration.retrybackoff")
	}
	if m.Concurrency < 0 {
		errs = append(errs, "migration.concurrency must not be negative")
	}
	if m.ChunkRate < 0 {
		errs = append(errs, "migration.chunkrate must not be negative")
	}
	return errs
}

func validateLoggingSettings(s *Settings) []string {
	var errs []string
	check := func(key, level string) {
		if level != "" && !slices.Contains(logLevels, strings.ToLower(level)) {
			errs = append(errs, fmt.Sprintf("%s must be one of %s, got %q", key, strings.Join(logLevels, ", "), level))
		}
	}

	check("logging.default_level", s.Logging.DefaultLevel)
	if s.Logging.Console != nil {
		check("logging.console.level", s.Logging.Console.Level)
	}
	if s.Logging.FileOutput != nil {
		check("logging.file_output.level", s.Logging.FileOutput.Level)
		if s.Logging.FileOutput.Enabled && s.Logging.FileOutput.Path == "" {
			errs = append(errs, "logging.file_output.path is required when file output is enabled")
		}
	}
	for module, level := range s.Logging.ModuleLevels {
		check("logging.module_levels."+module, level)
	}
	return errs
}

func validateMetricsSettings(s *Settings) []string {
	if !s.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
		return []string{fmt.Sprintf("metrics.listen must be host:port: %v", err)}
	}
	return nil
}

func validateTelemetrySettings(s *Settings) []string {
	if s.Telemetry.Sentry.Enabled && s.Telemetry.Sentry.DSN == "" {
		return []string{"telemetry.sentry.dsn is required when sentry is enabled"}
	}
	return nil
}

func validateReportSettings(s *Settings) []string {
	s3 := &s.Report.S3
	if !s3.Enabled {
		return nil
	}
	var errs []string
	if s3.Bucket == "" {
		errs = append(errs, "report.s3.bucket is required when S3 upload is enabled")
	}
	if (s3.AccessKeyID == "") != (s3.SecretAccessKey == "") {
		errs = append(errs, "report.s3.accesskeyid and report.s3.secretaccesskey must be set together")
	}
	return errs
}

func validateRemoteReportSettings(s *Settings) []string {
	var errs []string
	if sftp := &s.Report.SFTP; sftp.Enabled {
		if sftp.Host == "" {
			errs = append(errs, "report.sftp.host is required when SFTP upload is enabled")
		}
		if sftp.KeyFile == "" && sftp.Password == "" {
			errs = append(errs, "report.sftp requires keyfile or password")
		}
		if sftp.Port <= 0 || sftp.Port > 65535 {
			errs = append(errs, fmt.Sprintf("report.sftp.port %d is out of range", sftp.Port))
		}
	}
	if mqtt := &s.Report.MQTT; mqtt.Enabled {
		if err := validateBrokerURL(mqtt.Broker); err != nil {
			errs = append(errs, fmt.Sprintf("report.mqtt.broker: %v", err))
		}
		if strings.Trim(mqtt.Topic, "/") == "" {
			errs = append(errs, "report.mqtt.topic is required when MQTT publishing is enabled")
		}
	}
	if ftp := &s.Report.FTP; ftp.Enabled {
		if ftp.Host == "" {
			errs = append(errs, "report.ftp.host is required when FTP upload is enabled")
		}
		if ftp.Port <= 0 || ftp.Port > 65535 {
			errs = append(errs, fmt.Sprintf("report.ftp.port %d is out of range", ftp.Port))
		}
	}
	return errs
}

func validateNotifySettings(s *Settings) []string {
	if s.Notify.Enabled && len(s.Notify.URLs) == 0 {
		return []string{"notify.urls must list at least one URL when notifications are enabled"}
	}
	return nil
}

// validateBrokerURL accepts the schemes the MQTT client dials.
func validateBrokerURL(broker string) error {
	if broker == "" {
		return fmt.Errorf("broker URL is required")
	}
	u, err := url.Parse(broker)
	if err != nil {
		return err
	}
	if !slices.Contains([]string{"tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss"}, u.Scheme) {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is missing")
	}
	return nil
}
