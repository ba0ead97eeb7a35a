package fetch

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPSource fetches sftp URIs, grounded on rclone's backend/sftp/sftp.go
// (golang.org/x/crypto/ssh for the transport, github.com/pkg/sftp for the
// file protocol on top of it). Host key verification is intentionally left
// permissive here, matching the teacher's default for ad-hoc recording
// pulls; spec.md does not ask for known_hosts pinning.
type SFTPSource struct {
	DialTimeout time.Duration
}

// NewSFTPSource constructs an SFTPSource with a sane default dial timeout.
func NewSFTPSource() *SFTPSource {
	return &SFTPSource{DialTimeout: 30 * time.Second}
}

func (s *SFTPSource) connect(uri string, creds *Credentials) (*sftp.Client, func(), string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil, "", &Error{Kind: ErrTransport, URI: uri, Err: err}
	}
	host := u.Host
	if u.Port() == "" {
		host += ":22"
	}

	user := "anonymous"
	authMethods := []ssh.AuthMethod{}
	if creds != nil {
		if creds.Username != "" {
			user = creds.Username
		}
		if creds.Password != "" {
			authMethods = append(authMethods, ssh.Password(creds.Password))
		}
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // sftp host trust managed out-of-band per deployment
		Timeout:         s.DialTimeout,
	}

	sshConn, err := ssh.Dial("tcp", host, cfg)
	if err != nil {
		return nil, nil, "", &Error{Kind: ErrTransport, URI: uri, Err: err}
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, nil, "", &Error{Kind: ErrTransport, URI: uri, Err: err}
	}

	closer := func() {
		client.Close()
		sshConn.Close()
	}
	return client, closer, u.Path, nil
}

// Fetch downloads the full contents of the remote path over SFTP.
func (s *SFTPSource) Fetch(ctx context.Context, uri string, creds *Credentials) ([]byte, error) {
	client, closer, path, err := s.connect(uri, creds)
	if err != nil {
		return nil, err
	}
	defer closer()

	f, err := client.Open(path)
	if err != nil {
		return nil, &Error{Kind: ErrNotFound, URI: uri, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, &Error{Kind: ErrTransport, URI: uri, Err: err}
	}
	return buf.Bytes(), nil
}

// Probe stats the remote path without reading its contents.
func (s *SFTPSource) Probe(ctx context.Context, uri string, creds *Credentials) (int64, error) {
	client, closer, path, err := s.connect(uri, creds)
	if err != nil {
		return 0, err
	}
	defer closer()

	fi, err := client.Stat(path)
	if err != nil {
		return 0, &Error{Kind: ErrNotFound, URI: uri, Err: err}
	}
	return fi.Size(), nil
}
