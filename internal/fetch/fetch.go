// Package fetch implements the Fetcher contract (spec.md §4.1): resolving a
// URI to a byte stream across file, mount, http(s), ftp(s), and sftp origins.
// Each protocol lives in its own file, mirroring rclone's one-backend-per-file
// layout (backend/local/local.go, backend/http/http.go, backend/ftp/ftp.go,
// backend/sftp/sftp.go).
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/boolpae/vrstt-dispatch/internal/jobrecord"
)

// ErrorKind enumerates the failure modes from spec.md §4.1.
type ErrorKind string

// Recognized error kinds.
const (
	ErrUnsupportedProtocol ErrorKind = "unsupported_protocol"
	ErrNotFound            ErrorKind = "not_found"
	ErrAuthFailed          ErrorKind = "auth_failed"
	ErrTransport           ErrorKind = "transport_error"
	ErrTimeout             ErrorKind = "timeout"
)

// Error wraps a fetch/probe failure with its kind for the dispatcher's error
// handling design (spec.md §7).
type Error struct {
	Kind ErrorKind
	URI  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URI, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Credentials bundles the protocol-level auth options from spec.md §6.5
// (protocol.*).
type Credentials struct {
	Username    string
	Password    string
	UseFTPSSL   bool
	SSLInsecure bool
}

// Source is implemented by each protocol fetcher.
type Source interface {
	// Fetch retrieves the full contents addressed by uri.
	Fetch(ctx context.Context, uri string, creds *Credentials) ([]byte, error)
	// Probe returns the remote size of uri without downloading the body.
	// Probe must be idempotent (spec.md §4.1).
	Probe(ctx context.Context, uri string, creds *Credentials) (int64, error)
}

// Fetcher multiplexes by ProtocolKind to the registered Source.
type Fetcher struct {
	sources map[jobrecord.ProtocolKind]Source
}

// New constructs a Fetcher with the standard protocol set wired in.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{sources: make(map[jobrecord.ProtocolKind]Source)}
	local := &LocalSource{}
	f.sources[jobrecord.ProtocolFile] = local
	f.sources[jobrecord.ProtocolMount] = local
	f.sources[jobrecord.ProtocolHTTP] = NewHTTPSource()
	f.sources[jobrecord.ProtocolHTTPS] = NewHTTPSource()
	f.sources[jobrecord.ProtocolFTP] = NewFTPSource()
	f.sources[jobrecord.ProtocolFTPS] = NewFTPSource()
	f.sources[jobrecord.ProtocolSFTP] = NewSFTPSource()
	for _, o := range opts {
		o(f)
	}
	return f
}

// Option customizes a Fetcher, e.g. for test injection of fake sources.
type Option func(*Fetcher)

// WithSource overrides the Source registered for a protocol kind.
func WithSource(kind jobrecord.ProtocolKind, s Source) Option {
	return func(f *Fetcher) { f.sources[kind] = s }
}

// Source returns the registered Source for kind, or nil if none is
// registered. Used by the dispatcher's delete-on-success path, which needs
// the concrete LocalSource to remove a consumed file (spec.md §4.7, §8).
func (f *Fetcher) Source(kind jobrecord.ProtocolKind) Source {
	return f.sources[kind]
}

func (f *Fetcher) resolve(uri string) (jobrecord.ProtocolKind, Source, error) {
	r := &jobrecord.Record{URI: uri}
	kind := r.Protocol()
	src, ok := f.sources[kind]
	if !ok {
		return kind, nil, &Error{Kind: ErrUnsupportedProtocol, URI: uri, Err: errors.New("no source registered")}
	}
	return kind, src, nil
}

// Fetch resolves uri to its byte contents using the protocol-appropriate
// Source, upgrading ftp to ftps when creds.UseFTPSSL is set (spec.md §4.1).
func (f *Fetcher) Fetch(ctx context.Context, uri string, creds *Credentials) ([]byte, error) {
	_, src, err := f.resolve(uri)
	if err != nil {
		return nil, err
	}
	return src.Fetch(ctx, uri, creds)
}

// Probe returns the remote size of uri without downloading its body.
func (f *Fetcher) Probe(ctx context.Context, uri string, creds *Credentials) (int64, error) {
	_, src, err := f.resolve(uri)
	if err != nil {
		return 0, err
	}
	return src.Probe(ctx, uri, creds)
}
