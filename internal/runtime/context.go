// Package runtime holds the state shared by the qcmigrate commands once the
// settings are loaded: the logger, telemetry and the store connections.
package runtime

import (
	"context"
	"fmt"

	"github.com/tphakala/qcmigrate/internal/buildinfo"
	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/notify"
	"github.com/tphakala/qcmigrate/internal/report"
	"github.com/tphakala/qcmigrate/internal/source"
)

// Context is created by main and filled in by Initialize before a command runs.
type Context struct {
	Build    *buildinfo.Context
	Settings *conf.Settings
	Log      logger.Logger

	central     *logger.CentralLogger
	flushSentry func()
	notifier    *notify.Notifier
}

// NewContext creates an uninitialized context.
func NewContext(build *buildinfo.Context) *Context {
	if build == nil {
		build = buildinfo.NewContext("", "")
	}
	return &Context{Build: build}
}

// Initialize loads settings from configFile and sets up logging and
// error telemetry.
func (c *Context) Initialize(configFile string) error {
	settings, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	return c.Use(settings)
}

// Use sets up logging and error telemetry for already loaded settings.
func (c *Context) Use(settings *conf.Settings) error {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	c.Settings = settings
	c.central = central
	c.Log = central.Module("qcmigrate")

	errors.SetPrivacyScrubber(logger.RedactSensitiveData)

	if sentry := settings.Telemetry.Sentry; sentry.Enabled {
		flush, err := errors.InitSentry(errors.SentryConfig{
			DSN:         sentry.DSN,
			Environment: sentry.Environment,
			Release:     c.Build.Release(),
		})
		if err != nil {
			return err
		}
		c.flushSentry = flush
		c.Log.Info("error telemetry enabled", logger.String("environment", sentry.Environment))
	}

	if settings.Notify.Enabled {
		notifier, err := notify.New(notify.Config{
			URLs:      settings.Notify.URLs,
			OnSuccess: settings.Notify.OnSuccess,
			Timeout:   settings.Notify.Timeout,
		}, c.Logger("notify"))
		if err != nil {
			return err
		}
		c.notifier = notifier
	}

	if used := conf.ConfigFileUsed(); used != "" {
		c.Log.Debug("configuration loaded", logger.String("file", used))
	}
	return nil
}

// Logger returns a logger for module. Module levels of the logging
// configuration apply to it.
func (c *Context) Logger(module string) logger.Logger {
	if c.central == nil {
		return c.Log
	}
	return c.central.Module(module)
}

// OpenSource connects to the configured document store.
func (c *Context) OpenSource(ctx context.Context) (source.Store, error) {
	store, err := source.Open(ctx, &c.Settings.Source)
	if err != nil {
		return nil, err
	}
	c.Log.Debug("source store opened", logger.String("type", c.Settings.Source.Type))
	return store, nil
}

// OpenTarget connects to the configured relational store. With initialize
// the schema is created or updated.
func (c *Context) OpenTarget(initialize bool) (datastore.Manager, error) {
	manager, err := datastore.NewManager(&c.Settings.Target, c.Logger("datastore"))
	if err != nil {
		return nil, err
	}
	if initialize {
		if err := manager.Initialize(); err != nil {
			_ = manager.Close()
			return nil, err
		}
	}
	c.Log.Debug("target store opened",
		logger.String("dialect", manager.Dialect()),
		logger.String("path", manager.Path()))
	return manager, nil
}

// ReportSinks returns the configured report destinations.
func (c *Context) ReportSinks(ctx context.Context) ([]report.Sink, error) {
	var sinks []report.Sink
	cfg := c.Settings.Report
	if cfg.Path != "" {
		sinks = append(sinks, &report.FileSink{Dir: cfg.Path})
	}
	if cfg.S3.Enabled {
		s3Sink, err := report.NewS3Sink(ctx, report.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3Sink)
	}
	if cfg.SFTP.Enabled {
		sftpSink, err := report.NewSFTPSink(report.SFTPConfig{
			Host:           cfg.SFTP.Host,
			Port:           cfg.SFTP.Port,
			Username:       cfg.SFTP.Username,
			Password:       cfg.SFTP.Password,
			KeyFile:        cfg.SFTP.KeyFile,
			KnownHostsFile: cfg.SFTP.KnownHostsFile,
			Dir:            cfg.SFTP.Path,
			Timeout:        cfg.SFTP.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if cfg.SFTP.KnownHostsFile == "" {
			c.Log.Warn("sftp host key is not verified; set report.sftp.knownhostsfile",
				logger.String("host", cfg.SFTP.Host))
		}
		sinks = append(sinks, sftpSink)
	}
	if cfg.FTP.Enabled {
		ftpSink, err := report.NewFTPSink(report.FTPConfig{
			Host:     cfg.FTP.Host,
			Port:     cfg.FTP.Port,
			Username: cfg.FTP.Username,
			Password: cfg.FTP.Password,
			Dir:      cfg.FTP.Path,
			Timeout:  cfg.FTP.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ftpSink)
	}
	if cfg.MQTT.Enabled {
		mqttSink, err := report.NewMQTTSink(report.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Retain:   cfg.MQTT.Retain,
			Timeout:  cfg.MQTT.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mqttSink)
	}
	return sinks, nil
}

// PublishReport writes rep to every configured sink, logs where it went and
// sends the notification. Failures are logged; a report is never a reason
// to fail a command.
func (c *Context) PublishReport(ctx context.Context, rep *report.Report) []string {
	locations := c.writeReport(ctx, rep)
	if c.notifier != nil {
		if err := c.notifier.Send(ctx, rep, locations); err != nil {
			c.Log.Error("notification failed", logger.Error(err))
		}
	}
	return locations
}

func (c *Context) writeReport(ctx context.Context, rep *report.Report) []string {
	sinks, err := c.ReportSinks(ctx)
	if err != nil {
		c.Log.Error("report sinks unavailable", logger.Error(err))
		return nil
	}
	if len(sinks) == 0 {
		return nil
	}

	locations, err := report.Publish(ctx, rep, sinks...)
	for _, loc := range locations {
		c.Log.Info("report written", logger.String("location", loc))
	}
	if err != nil {
		c.Log.Error("report upload failed", logger.Error(err))
	}
	return locations
}

// Close flushes telemetry and the log file.
func (c *Context) Close() {
	if c.flushSentry != nil {
		c.flushSentry()
		c.flushSentry = nil
	}
	if c.central != nil {
		_ = c.central.Close()
	}
}
