// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("source.type", SourceMongo)
	viper.SetDefault("source.uri", "mongodb://localhost:27017")
	viper.SetDefault("source.database", "qcfractal")
	viper.SetDefault("source.urifile", "")
	viper.SetDefault("source.fixture", "")
	viper.SetDefault("source.timeout", 10*time.Second)

	viper.SetDefault("target.type", TargetSQLite)
	viper.SetDefault("target.debug", false)
	viper.SetDefault("target.sqlite.path", "qcmigrate.db")
	viper.SetDefault("target.mysql.host", "localhost")
	viper.SetDefault("target.mysql.port", "3306")
	viper.SetDefault("target.mysql.username", "")
	viper.SetDefault("target.mysql.password", "")
	viper.SetDefault("target.mysql.passwordfile", "")
	viper.SetDefault("target.mysql.database", "qcarchive")
	viper.SetDefault("target.postgres.host", "localhost")
	viper.SetDefault("target.postgres.port", "5432")
	viper.SetDefault("target.postgres.username", "")
	viper.SetDefault("target.postgres.password", "")
	viper.SetDefault("target.postgres.passwordfile", "")
	viper.SetDefault("target.postgres.database", "qcarchive")
	viper.SetDefault("target.postgres.sslmode", "disable")

	viper.SetDefault("migration.pagesize", 100)
	viper.SetDefault("migration.kinds", []string{})
	viper.SetDefault("migration.verify", false)
	viper.SetDefault("migration.samplesize", 20)
	viper.SetDefault("migration.maxretries", 3)
	viper.SetDefault("migration.retrybackoff", 500*time.Millisecond)
	viper.SetDefault("migration.maxbackoff", 30*time.Second)
	viper.SetDefault("migration.concurrency", 0)
	viper.SetDefault("migration.chunkrate", 0.0)
	viper.SetDefault("migration.strictresume", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/qcmigrate.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9464")

	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.dsn", "")
	viper.SetDefault("telemetry.sentry.environment", "production")

	viper.SetDefault("report.path", "reports")
	viper.SetDefault("report.s3.enabled", false)
	viper.SetDefault("report.s3.bucket", "")
	viper.SetDefault("report.s3.region", "us-east-1")
	viper.SetDefault("report.s3.endpoint", "")
	viper.SetDefault("report.s3.prefix", "qcmigrate")
	viper.SetDefault("report.s3.pathstyle", false)

	viper.SetDefault("report.sftp.enabled", false)
	viper.SetDefault("report.sftp.port", 22)
	viper.SetDefault("report.sftp.path", "qcmigrate")
	viper.SetDefault("report.sftp.timeout", 30*time.Second)
	viper.SetDefault("report.ftp.enabled", false)
	viper.SetDefault("report.ftp.port", 21)
	viper.SetDefault("report.ftp.path", "qcmigrate")
	viper.SetDefault("report.ftp.timeout", 30*time.Second)

	viper.SetDefault("report.mqtt.enabled", false)
	viper.SetDefault("report.mqtt.topic", "qcmigrate/reports")
	viper.SetDefault("report.mqtt.retain", true)
	viper.SetDefault("report.mqtt.timeout", 30*time.Second)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.onsuccess", false)
	viper.SetDefault("notify.timeout", 10*time.Second)
}
