package conf

import (
	"fmt"

	"github.com/tphakala/qcmigrate/internal/secrets"
)

// resolveSecrets replaces credential settings with the values their secret
// files or ${VAR} references point to.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		key   string
		file  string
		value *string
	}{
		{"source.uri", s.Source.URIFile, &s.Source.URI},
		{"target.mysql.password", s.Target.MySQL.PasswordFile, &s.Target.MySQL.Password},
		{"target.postgres.password", s.Target.Postgres.PasswordFile, &s.Target.Postgres.Password},
		{"telemetry.sentry.dsn", "", &s.Telemetry.Sentry.DSN},
		{"report.s3.accesskeyid", "", &s.Report.S3.AccessKeyID},
		{"report.s3.secretaccesskey", s.Report.S3.SecretAccessKeyFile, &s.Report.S3.SecretAccessKey},
		{"report.sftp.password", s.Report.SFTP.PasswordFile, &s.Report.SFTP.Password},
		{"report.ftp.password", s.Report.FTP.PasswordFile, &s.Report.FTP.Password},
		{"report.mqtt.password", s.Report.MQTT.PasswordFile, &s.Report.MQTT.Password},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.value = resolved
	}

	for i, u := range s.Notify.URLs {
		resolved, err := secrets.Expand(u)
		if err != nil {
			return fmt.Errorf("notify.urls[%d]: %w", i, err)
		}
		s.Notify.URLs[i] = resolved
	}
	return nil
}
