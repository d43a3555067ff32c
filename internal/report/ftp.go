package report

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPConfig configures the FTP report sink.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Dir      string
	Timeout  time.Duration
}

// FTPSink uploads reports to an FTP server.
type FTPSink struct {
	cfg FTPConfig
}

// NewFTPSink validates cfg. No connection is made until Put.
func NewFTPSink(cfg FTPConfig) (*FTPSink, error) {
	if cfg.Host == "" {
		return nil, sinkConfigError("ftp", "host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	return &FTPSink{cfg: cfg}, nil
}

func (s *FTPSink) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *FTPSink) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.addr(), ftp.DialWithContext(ctx), ftp.DialWithTimeout(s.cfg.Timeout))
	if err != nil {
		return nil, err
	}
	if s.cfg.Username != "" {
		if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
			_ = conn.Quit()
			return nil, err
		}
	}
	return conn, nil
}

// Put stores data under Dir/name through a temporary file and a rename.
func (s *FTPSink) Put(ctx context.Context, name string, data []byte) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return sinkError(err, "ftp", "connect", s.addr())
	}
	defer func() { _ = conn.Quit() }()

	if err := s.makeDirs(conn); err != nil {
		return sinkError(err, "ftp", "create_dir", s.cfg.Dir)
	}

	final := path.Join(s.cfg.Dir, name)
	tmp := path.Join(s.cfg.Dir, "."+name+".part")
	if err := conn.Stor(tmp, bytes.NewReader(data)); err != nil {
		_ = conn.Delete(tmp)
		return sinkError(err, "ftp", "store_file", tmp)
	}
	if err := conn.Rename(tmp, final); err != nil {
		_ = conn.Delete(tmp)
		return sinkError(err, "ftp", "rename_file", final)
	}
	return nil
}

// makeDirs creates every component of Dir. FTP has no mkdir -p and servers
// disagree on the reply for an existing directory, so existence is probed
// with CWD first.
func (s *FTPSink) makeDirs(conn *ftp.ServerConn) error {
	if s.cfg.Dir == "" {
		return nil
	}
	start, err := conn.CurrentDir()
	if err != nil {
		return err
	}
	defer func() { _ = conn.ChangeDir(start) }()

	current := ""
	if strings.HasPrefix(s.cfg.Dir, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(s.cfg.Dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if conn.ChangeDir(current) == nil {
			if err := conn.ChangeDir(start); err != nil {
				return err
			}
			continue
		}
		if err := conn.MakeDir(current); err != nil {
			return fmt.Errorf("mkdir %s: %w", current, err)
		}
	}
	return nil
}

// Location returns the ftp:// URL of name.
func (s *FTPSink) Location(name string) string {
	return fmt.Sprintf("ftp://%s/%s", s.addr(), path.Join(s.cfg.Dir, name))
}
