package report

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/tphakala/qcmigrate/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultRemoteTimeout = 30 * time.Second

// SFTPConfig configures the SFTP report sink.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	Dir            string
	Timeout        time.Duration
}

// SFTPSink uploads reports to a directory on an SSH server.
type SFTPSink struct {
	cfg    SFTPConfig
	client *ssh.ClientConfig
}

// NewSFTPSink prepares the SSH client configuration. Keys and known hosts
// are read here so a bad path fails before the run starts.
func NewSFTPSink(cfg SFTPConfig) (*SFTPSink, error) {
	if cfg.Host == "" {
		return nil, sinkConfigError("sftp", "host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}

	client := &ssh.ClientConfig{
		User:    cfg.Username,
		Timeout: cfg.Timeout,
	}

	switch {
	case cfg.KeyFile != "":
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, sinkError(err, "sftp", "read_private_key", cfg.KeyFile)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, sinkError(err, "sftp", "parse_private_key", cfg.KeyFile)
		}
		client.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case cfg.Password != "":
		client.Auth = []ssh.AuthMethod{ssh.Password(cfg.Password)}
	default:
		return nil, sinkConfigError("sftp", "no authentication method provided")
	}

	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, sinkError(err, "sftp", "read_known_hosts", cfg.KnownHostsFile)
		}
		client.HostKeyCallback = callback
	} else {
		client.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // operator opted out of host key checking
	}

	return &SFTPSink{cfg: cfg, client: client}, nil
}

func (s *SFTPSink) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SFTPSink) connect(ctx context.Context) (*ssh.Client, *sftp.Client, error) {
	type result struct {
		conn   *ssh.Client
		client *sftp.Client
		err    error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := ssh.Dial("tcp", s.addr(), s.client)
		if err != nil {
			done <- result{err: err}
			return
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			_ = conn.Close()
			done <- result{err: err}
			return
		}
		done <- result{conn: conn, client: client}
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine owns the connection if it still succeeds.
		go func() {
			if r := <-done; r.err == nil {
				_ = r.client.Close()
				_ = r.conn.Close()
			}
		}()
		return nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.client, r.err
	}
}

// Put uploads data to Dir/name. The file is written under a temporary name
// and renamed so readers never see a partial report.
func (s *SFTPSink) Put(ctx context.Context, name string, data []byte) error {
	conn, client, err := s.connect(ctx)
	if err != nil {
		return sinkError(err, "sftp", "connect", s.addr())
	}
	defer func() {
		_ = client.Close()
		_ = conn.Close()
	}()

	if s.cfg.Dir != "" {
		if err := client.MkdirAll(s.cfg.Dir); err != nil {
			return sinkError(err, "sftp", "create_dir", s.cfg.Dir)
		}
	}

	final := path.Join(s.cfg.Dir, name)
	tmp := path.Join(s.cfg.Dir, "."+name+".part")

	f, err := client.Create(tmp)
	if err != nil {
		return sinkError(err, "sftp", "create_file", tmp)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = client.Remove(tmp)
		return sinkError(err, "sftp", "write_file", tmp)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return sinkError(err, "sftp", "write_file", tmp)
	}
	if err := client.PosixRename(tmp, final); err != nil {
		// Servers without the posix-rename extension fall back to plain rename.
		if err := client.Rename(tmp, final); err != nil {
			_ = client.Remove(tmp)
			return sinkError(err, "sftp", "rename_file", final)
		}
	}
	return nil
}

// Location returns the sftp:// URL of name.
func (s *SFTPSink) Location(name string) string {
	return fmt.Sprintf("sftp://%s/%s", s.addr(), path.Join(s.cfg.Dir, name))
}

func sinkConfigError(sink, msg string) error {
	return errors.Newf("%s report sink: %s", sink, msg).
		Component("report").
		Category(errors.CategoryConfiguration).
		Build()
}

func sinkError(err error, sink, operation, target string) error {
	return errors.New(err).
		Component("report").
		Category(errors.CategoryIntegration).
		Context("sink", sink).
		Context("operation", operation).
		Context("target", target).
		Build()
}
