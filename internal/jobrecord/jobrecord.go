// Package jobrecord holds the dispatcher's unit-of-work type and the
// in-flight index that tracks outstanding submissions.
package jobrecord

import (
	"fmt"
	"sync"
)

// SubmissionState is the lifecycle stage of a Record.
type SubmissionState string

// Submission states, per spec §3.
const (
	StatePending    SubmissionState = "pending"
	StateInFlight   SubmissionState = "in-flight"
	StateCompleted  SubmissionState = "completed"
	StateFailed     SubmissionState = "failed"
)

// ProtocolKind is the origin scheme of a Record's URI.
type ProtocolKind string

// Recognized protocol kinds.
const (
	ProtocolFile  ProtocolKind = "file"
	ProtocolMount ProtocolKind = "mount"
	ProtocolHTTP  ProtocolKind = "http"
	ProtocolHTTPS ProtocolKind = "https"
	ProtocolFTP   ProtocolKind = "ftp"
	ProtocolFTPS  ProtocolKind = "ftps"
	ProtocolSFTP  ProtocolKind = "sftp"
	ProtocolNone  ProtocolKind = "none"
)

// reservedMetadataKeys are never forwarded in the JSON body sent to the
// backend; they drive dispatcher behavior instead (spec §4.7 step 3).
var reservedMetadataKeys = map[string]bool{
	"uri":           true,
	"filename":      true,
	"download_path": true,
	"rec_time":      true,
	"output":        true,
	"silence":       true,
}

// Record is one unit of work discovered by the Watcher/IndexParser pipeline.
type Record struct {
	URI         string
	Metadata    map[string]string
	OutputPath  string
	FileSize    int64 // populated by Fetcher.Probe when byte ceiling is active
	State       SubmissionState
	AuthRetried bool // one 401 retry is allowed, see state machine in spec §4.7
}

// Protocol extracts the ProtocolKind from the Record's URI scheme.
func (r *Record) Protocol() ProtocolKind {
	for i := 0; i < len(r.URI); i++ {
		if r.URI[i] == ':' {
			switch ProtocolKind(r.URI[:i]) {
			case ProtocolFile, ProtocolMount, ProtocolHTTP, ProtocolHTTPS, ProtocolFTP, ProtocolFTPS, ProtocolSFTP:
				return ProtocolKind(r.URI[:i])
			}
			break
		}
	}
	return ProtocolNone
}

// PassthroughMetadata returns the metadata map minus the dispatcher-reserved
// keys, suitable as the JSON body forwarded to the backend.
func (r *Record) PassthroughMetadata() map[string]string {
	out := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		if !reservedMetadataKeys[k] {
			out[k] = v
		}
	}
	return out
}

// Index is the set of records currently outstanding from the dispatcher,
// keyed by URI and secondarily indexed by total byte footprint. A given URI
// is present at most once.
type Index struct {
	mu         sync.Mutex
	byURI      map[string]*Record
	totalBytes int64
}

// NewIndex constructs an empty in-flight index.
func NewIndex() *Index {
	return &Index{byURI: make(map[string]*Record)}
}

// Insert admits r into the index. It returns an error if r.URI is already
// present — callers must ensure admission and insertion happen atomically
// (see Dispatcher.admit in internal/dispatch).
func (idx *Index) Insert(r *Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.byURI[r.URI]; ok {
		return fmt.Errorf("jobrecord: %q already in-flight", r.URI)
	}
	r.State = StateInFlight
	idx.byURI[r.URI] = r
	idx.totalBytes += r.FileSize
	return nil
}

// Remove releases uri from the index, terminal = the final submission_state
// to record on the caller's copy (Completed or Failed).
func (idx *Index) Remove(uri string, terminal SubmissionState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	r, ok := idx.byURI[uri]
	if !ok {
		return
	}
	r.State = terminal
	idx.totalBytes -= r.FileSize
	delete(idx.byURI, uri)
}

// Len reports the current in-flight count.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.byURI)
}

// TotalBytes reports the current aggregate in-flight byte footprint.
func (idx *Index) TotalBytes() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.totalBytes
}

// Contains reports whether uri is currently in-flight.
func (idx *Index) Contains(uri string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.byURI[uri]
	return ok
}
