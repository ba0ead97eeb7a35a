package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPSource fetches ftp/ftps URIs, grounded on rclone's backend/ftp/ftp.go
// (jlaffaye/ftp client, explicit TLS upgrade for ftps). Connections are
// opened per call rather than pooled: BrokerClient/Dispatcher concurrency is
// already bounded by AdmissionController's count ceiling, so a pool would
// duplicate that bound for no benefit.
type FTPSource struct {
	DialTimeout time.Duration
}

// NewFTPSource constructs an FTPSource with a sane default dial timeout.
func NewFTPSource() *FTPSource {
	return &FTPSource{DialTimeout: 30 * time.Second}
}

func (s *FTPSource) connect(ctx context.Context, uri string, creds *Credentials) (*ftp.ServerConn, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", &Error{Kind: ErrTransport, URI: uri, Err: err}
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(s.DialTimeout)}
	// ftp is upgraded to ftps when configuration asserts use_ftp_ssl
	// (spec.md §4.1), regardless of the literal URI scheme.
	useTLS := u.Scheme == "ftps" || (creds != nil && creds.UseFTPSSL)
	if useTLS {
		tlsCfg := &tls.Config{ServerName: u.Hostname()}
		if creds != nil && creds.SSLInsecure {
			tlsCfg.InsecureSkipVerify = true //nolint:gosec // configurable per spec.md §4.1
		}
		opts = append(opts, ftp.DialWithExplicitTLS(tlsCfg))
	}

	conn, err := ftp.Dial(host, opts...)
	if err != nil {
		return nil, "", &Error{Kind: ErrTransport, URI: uri, Err: err}
	}

	user, pass := "anonymous", "anonymous"
	if creds != nil && creds.Username != "" {
		user, pass = creds.Username, creds.Password
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, "", &Error{Kind: ErrAuthFailed, URI: uri, Err: err}
	}
	return conn, u.Path, nil
}

// Fetch downloads the full contents of the remote path.
func (s *FTPSource) Fetch(ctx context.Context, uri string, creds *Credentials) ([]byte, error) {
	conn, path, err := s.connect(ctx, uri, creds)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	r, err := conn.Retr(path)
	if err != nil {
		return nil, &Error{Kind: ErrNotFound, URI: uri, Err: err}
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, &Error{Kind: ErrTransport, URI: uri, Err: err}
	}
	return buf.Bytes(), nil
}

// Probe returns the remote file size via FTP SIZE, without downloading it.
func (s *FTPSource) Probe(ctx context.Context, uri string, creds *Credentials) (int64, error) {
	conn, path, err := s.connect(ctx, uri, creds)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	size, err := conn.FileSize(path)
	if err != nil {
		return 0, &Error{Kind: ErrNotFound, URI: uri, Err: err}
	}
	return size, nil
}
