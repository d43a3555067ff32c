package report

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type sftpServer struct {
	host    string
	port    int
	hostKey ssh.PublicKey
}

// startSFTPServer serves the local filesystem over SFTP to user qc.
func startSFTPServer(t *testing.T, password string) *sftpServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "qc" && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSFTP(nc, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &sftpServer{host: addr.IP.String(), port: addr.Port, hostKey: signer.PublicKey()}
}

func serveSFTP(nc net.Conn, cfg *ssh.ServerConfig) {
	defer func() { _ = nc.Close() }()

	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
			}
		}(requests)

		server, err := sftp.NewServer(ch)
		if err != nil {
			_ = ch.Close()
			return
		}
		_ = server.Serve()
		_ = server.Close()
	}
}

func TestSFTPSink_UploadsReport(t *testing.T) {
	t.Parallel()

	srv := startSFTPServer(t, "s3cret")
	dir := filepath.Join(t.TempDir(), "archive", "runs")

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{net.JoinHostPort(srv.host, fmt.Sprint(srv.port))}, srv.hostKey)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	sink, err := NewSFTPSink(SFTPConfig{
		Host:           srv.host,
		Port:           srv.port,
		Username:       "qc",
		Password:       "s3cret",
		KnownHostsFile: knownHosts,
		Dir:            dir,
		Timeout:        5 * time.Second,
	})
	require.NoError(t, err)

	rep := FromRun(sampleRun())
	locations, err := Publish(context.Background(), rep, sink)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Contains(t, locations[0], "sftp://")

	data, err := os.ReadFile(filepath.Join(dir, rep.Name()))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rep.RunID, decoded.RunID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary upload is renamed")
}

func TestSFTPSink_RejectsUnknownHostKey(t *testing.T) {
	t.Parallel()

	srv := startSFTPServer(t, "s3cret")

	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherKey, err := ssh.NewPublicKey(other)
	require.NoError(t, err)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{net.JoinHostPort(srv.host, fmt.Sprint(srv.port))}, otherKey)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	sink, err := NewSFTPSink(SFTPConfig{
		Host:           srv.host,
		Port:           srv.port,
		Username:       "qc",
		Password:       "s3cret",
		KnownHostsFile: knownHosts,
		Dir:            t.TempDir(),
		Timeout:        5 * time.Second,
	})
	require.NoError(t, err)

	err = sink.Put(context.Background(), "report.json", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegration))
}

func TestSFTPSink_WrongPassword(t *testing.T) {
	t.Parallel()

	srv := startSFTPServer(t, "s3cret")
	sink, err := NewSFTPSink(SFTPConfig{
		Host:     srv.host,
		Port:     srv.port,
		Username: "qc",
		Password: "guess",
		Dir:      t.TempDir(),
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.Error(t, sink.Put(context.Background(), "report.json", []byte("{}")))
}

func TestRemoteSinks_Configuration(t *testing.T) {
	t.Parallel()

	_, err := NewSFTPSink(SFTPConfig{Host: "archive"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewSFTPSink(SFTPConfig{Host: "archive", KeyFile: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)

	_, err = NewFTPSink(FTPConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	sftpSink, err := NewSFTPSink(SFTPConfig{Host: "archive", Password: "x", Dir: "qc/runs"})
	require.NoError(t, err)
	assert.Equal(t, "sftp://archive:22/qc/runs/r.json", sftpSink.Location("r.json"))

	ftpSink, err := NewFTPSink(FTPConfig{Host: "archive", Dir: "qc"})
	require.NoError(t, err)
	assert.Equal(t, "ftp://archive:21/qc/r.json", ftpSink.Location("r.json"))
}

func TestFTPSink_ConnectFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	sink, err := NewFTPSink(FTPConfig{Host: addr.IP.String(), Port: addr.Port, Timeout: time.Second})
	require.NoError(t, err)
	err = sink.Put(context.Background(), "report.json", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegration))
}

func TestMQTTSink_Configuration(t *testing.T) {
	t.Parallel()

	_, err := NewMQTTSink(MQTTConfig{Topic: "qcmigrate"})
	require.Error(t, err)
	_, err = NewMQTTSink(MQTTConfig{Broker: "tcp://broker:1883"})
	require.Error(t, err)
	_, err = NewMQTTSink(MQTTConfig{Broker: "tcp://broker:1883", Topic: "qcmigrate/#"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	sink, err := NewMQTTSink(MQTTConfig{Broker: "tcp://broker:1883", Topic: "/lab/qcmigrate/"})
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883/lab/qcmigrate/qcmigrate-migrate-r1", sink.Location("qcmigrate-migrate-r1.json"))
}

func TestMQTTSink_UnreachableBroker(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sink, err := NewMQTTSink(MQTTConfig{Broker: "tcp://" + addr, Topic: "qcmigrate", Timeout: 2 * time.Second})
	require.NoError(t, err)
	err = sink.Put(context.Background(), "report.json", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegration))
}
