package report

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tphakala/qcmigrate/internal/errors"
)

// FileSink writes reports into a local directory.
type FileSink struct {
	Dir string
}

// Put writes data to Dir/name through a temporary file so a crash never
// leaves a truncated report behind.
func (s *FileSink) Put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fileError(err, "create_report_dir", s.Dir)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return fileError(err, "create_report_file", s.Dir)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fileError(err, "write_report", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return fileError(err, "write_report", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, name)); err != nil {
		return fileError(err, "rename_report", s.Dir)
	}
	return nil
}

// Location returns the report's file path.
func (s *FileSink) Location(name string) string {
	return filepath.Join(s.Dir, name)
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component("report").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}
