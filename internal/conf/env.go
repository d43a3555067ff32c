// env.go - Environment variable configuration and validation for qcmigrate
package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Source
		{"source.type", "QCMIGRATE_SOURCE_TYPE", validateEnvSourceType},
		{"source.uri", "QCMIGRATE_SOURCE_URI", validateEnvMongoURI},
		{"source.database", "QCMIGRATE_SOURCE_DATABASE", nil},
		{"source.urifile", "QCMIGRATE_SOURCE_URI_FILE", nil},
		{"source.fixture", "QCMIGRATE_SOURCE_FIXTURE", nil},

		// Target
		{"target.type", "QCMIGRATE_TARGET_TYPE", validateEnvTargetType},
		{"target.sqlite.path", "QCMIGRATE_TARGET_SQLITE_PATH", nil},
		{"target.mysql.host", "QCMIGRATE_TARGET_HOST", nil},
		{"target.postgres.host", "QCMIGRATE_TARGET_HOST", nil},
		{"target.mysql.port", "QCMIGRATE_TARGET_PORT", validateEnvPort},
		{"target.postgres.port", "QCMIGRATE_TARGET_PORT", validateEnvPort},
		{"target.mysql.username", "QCMIGRATE_TARGET_USERNAME", nil},
		{"target.postgres.username", "QCMIGRATE_TARGET_USERNAME", nil},
		{"target.mysql.password", "QCMIGRATE_TARGET_PASSWORD", nil},
		{"target.postgres.password", "QCMIGRATE_TARGET_PASSWORD", nil},
		{"target.mysql.passwordfile", "QCMIGRATE_TARGET_PASSWORD_FILE", nil},
		{"target.postgres.passwordfile", "QCMIGRATE_TARGET_PASSWORD_FILE", nil},
		{"target.mysql.database", "QCMIGRATE_TARGET_DATABASE", nil},
		{"target.postgres.database", "QCMIGRATE_TARGET_DATABASE", nil},

		// Migration
		{"migration.pagesize", "QCMIGRATE_PAGE_SIZE", validateEnvPositiveInt},
		{"migration.concurrency", "QCMIGRATE_CONCURRENCY", validateEnvNonNegativeInt},
		{"migration.maxretries", "QCMIGRATE_MAX_RETRIES", validateEnvNonNegativeInt},
		{"migration.verify", "QCMIGRATE_VERIFY", validateEnvBool},

		// Observability
		{"logging.default_level", "QCMIGRATE_LOG_LEVEL", validateEnvLogLevel},
		{"metrics.listen", "QCMIGRATE_METRICS_LISTEN", nil},
		{"telemetry.sentry.dsn", "QCMIGRATE_SENTRY_DSN", nil},

		// Report
		{"report.path", "QCMIGRATE_REPORT_PATH", nil},
		{"report.s3.bucket", "QCMIGRATE_REPORT_S3_BUCKET", nil},
		{"report.s3.endpoint", "QCMIGRATE_REPORT_S3_ENDPOINT", nil},
		{"report.sftp.host", "QCMIGRATE_REPORT_SFTP_HOST", nil},
		{"report.sftp.passwordfile", "QCMIGRATE_REPORT_SFTP_PASSWORD_FILE", nil},
		{"report.ftp.host", "QCMIGRATE_REPORT_FTP_HOST", nil},
		{"report.ftp.passwordfile", "QCMIGRATE_REPORT_FTP_PASSWORD_FILE", nil},
		{"report.mqtt.broker", "QCMIGRATE_REPORT_MQTT_BROKER", validateEnvBrokerURL},
		{"report.mqtt.passwordfile", "QCMIGRATE_REPORT_MQTT_PASSWORD_FILE", nil},

		// Notifications
		{"notify.enabled", "QCMIGRATE_NOTIFY_ENABLED", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, redactEnvValue(binding.EnvVar, envValue), err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// redactEnvValue keeps connection strings out of error messages.
func redactEnvValue(envVar, value string) string {
	if strings.HasSuffix(envVar, "_URI") || strings.HasSuffix(envVar, "_PASSWORD") || strings.HasSuffix(envVar, "_DSN") {
		return "[redacted]"
	}
	return value
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvSourceType(value string) error {
	if !slices.Contains([]string{SourceMongo, SourceFixture}, strings.TrimSpace(value)) {
		return fmt.Errorf("must be %q or %q", SourceMongo, SourceFixture)
	}
	return nil
}

func validateEnvTargetType(value string) error {
	if !slices.Contains([]string{TargetSQLite, TargetMySQL, TargetPostgres}, strings.TrimSpace(value)) {
		return fmt.Errorf("must be one of %s, %s, %s", TargetSQLite, TargetMySQL, TargetPostgres)
	}
	return nil
}

// validateEnvMongoURI checks a connection string with the mongo driver's own
// parser, so replica set host lists and URI options are accepted as the
// driver would accept them. SRV records are resolved on connect, not here.
func validateEnvMongoURI(value string) error {
	uri := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(uri, connstring.SchemeMongoDBSRV+"://"); ok {
		host := rest
		if i := strings.IndexAny(host, "/?"); i >= 0 {
			host = host[:i]
		}
		if i := strings.LastIndex(host, "@"); i >= 0 {
			host = host[i+1:]
		}
		if host == "" || strings.ContainsAny(host, ",:") {
			return fmt.Errorf("mongodb+srv requires a single host name without a port")
		}
		uri = connstring.SchemeMongoDB + "://" + rest
	}
	if _, err := connstring.ParseAndValidate(uri); err != nil {
		return fmt.Errorf("invalid mongodb URI: %w", err)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid port: %s", value)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %s", value)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %s", value)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateEnvBrokerURL(value string) error {
	return validateBrokerURL(strings.TrimSpace(value))
}

func validateEnvLogLevel(value string) error {
	if !slices.Contains(logLevels, strings.ToLower(strings.TrimSpace(value))) {
		return fmt.Errorf("must be one of %s", strings.Join(logLevels, ", "))
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
