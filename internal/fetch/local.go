package fetch

import (
	"context"
	"errors"
	"os"
	"strings"
)

// LocalSource serves file:// and mount:// URIs directly from the local
// filesystem, grounded on rclone's backend/local/local.go (direct os.*
// filesystem calls, no network round trip).
type LocalSource struct{}

func pathFromURI(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[i+3:]
	}
	return uri
}

// Fetch reads the full file contents addressed by uri.
func (LocalSource) Fetch(ctx context.Context, uri string, _ *Credentials) ([]byte, error) {
	p := pathFromURI(uri)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Kind: ErrNotFound, URI: uri, Err: err}
		}
		return nil, &Error{Kind: ErrTransport, URI: uri, Err: err}
	}
	return data, nil
}

// Probe stats the file without reading its contents.
func (LocalSource) Probe(ctx context.Context, uri string, _ *Credentials) (int64, error) {
	p := pathFromURI(uri)
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, &Error{Kind: ErrNotFound, URI: uri, Err: err}
		}
		return 0, &Error{Kind: ErrTransport, URI: uri, Err: err}
	}
	return fi.Size(), nil
}

// Delete removes the file at uri. Only ever called by the dispatcher for
// scheme "file" with delete_on_success set (spec.md §4.7, §8: "Delete-on-
// success applies only when uri scheme is file; never to remote schemes").
func (LocalSource) Delete(uri string) error {
	return os.Remove(pathFromURI(uri))
}
